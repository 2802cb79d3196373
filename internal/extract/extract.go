// Package extract classifies emergency transcripts and pulls out the facts a
// dispatcher needs: the emergency category and problem, a street address,
// the victim's status and notable key details.
//
// Extraction is a deterministic rule engine. Every rule is an ordered RE2
// pattern from a declarative [Rules] table; categories and address candidates
// use first-match-wins, key details are tested independently. All functions
// are pure: identical text and tables always yield identical results.
//
// The package-level functions use [DefaultRules]. Build an [Engine] with
// [New] to run a custom table.
package extract

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Classification is the result of [Engine.Classify].
type Classification struct {
	Category Category `json:"category"`
	Problem  Problem  `json:"problem,omitempty"`
}

// Engine evaluates a compiled rule table. It is immutable and safe for
// concurrent use.
type Engine struct {
	rules      Rules
	categories []compiledCategory
	addresses  []*regexp.Regexp
	details    []*regexp.Regexp
	victim     *regexp.Regexp
	cityState  *regexp.Regexp
	units      map[Category]compiledUnits
}

type compiledCategory struct {
	category Category
	re       *regexp.Regexp
	problems []compiledProblem
}

type compiledProblem struct {
	problem Problem
	re      *regexp.Regexp
}

type compiledUnits struct {
	units      []string
	escalation *regexp.Regexp
	extra      []string
}

// compile adds case-insensitive matching to every pattern.
func compile(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile(`(?i)` + pattern)
}

// New compiles rules into an Engine. All pattern errors are reported together.
func New(rules Rules) (*Engine, error) {
	e := &Engine{rules: rules, units: make(map[Category]compiledUnits)}
	var errs []error
	must := func(what, pattern string) *regexp.Regexp {
		re, err := compile(pattern)
		if err != nil {
			errs = append(errs, fmt.Errorf("extract: %s: %w", what, err))
		}
		return re
	}

	for _, c := range rules.Categories {
		cc := compiledCategory{category: c.Category, re: must("category "+string(c.Category), c.Pattern)}
		for _, p := range c.Problems {
			cc.problems = append(cc.problems, compiledProblem{
				problem: p.Problem,
				re:      must("problem "+string(p.Problem), p.Pattern),
			})
		}
		e.categories = append(e.categories, cc)
	}
	for _, a := range rules.Addresses {
		re := must("address "+a.Name, a.Pattern)
		if re != nil && re.NumSubexp() < 1 {
			errs = append(errs, fmt.Errorf("extract: address %s: pattern has no capture group", a.Name))
		}
		e.addresses = append(e.addresses, re)
	}
	for i, d := range rules.KeyDetails {
		e.details = append(e.details, must(fmt.Sprintf("key detail %d", i), d))
	}
	if rules.VictimStatus != "" {
		e.victim = must("victim status", rules.VictimStatus)
	}
	if rules.CityState != "" {
		e.cityState = must("city/state", rules.CityState)
		if e.cityState != nil && e.cityState.NumSubexp() < 2 {
			errs = append(errs, errors.New("extract: city/state: pattern needs two capture groups"))
		}
	}
	for _, u := range rules.Units {
		cu := compiledUnits{units: u.Units, extra: u.EscalationUnits}
		if u.Escalation != "" {
			cu.escalation = must("units "+string(u.Category), u.Escalation)
		}
		e.units[u.Category] = cu
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return e, nil
}

var defaultEngine = func() *Engine {
	e, err := New(DefaultRules())
	if err != nil {
		panic(err)
	}
	return e
}()

// Default returns the engine built from [DefaultRules].
func Default() *Engine { return defaultEngine }

// Rules returns the table the engine was built from.
func (e *Engine) Rules() Rules { return e.rules }

// Classify returns the first matching category and, within it, the first
// matching problem. ok is false when no category matches.
func (e *Engine) Classify(text string) (c Classification, ok bool) {
	for _, cc := range e.categories {
		if !cc.re.MatchString(text) {
			continue
		}
		c.Category = cc.category
		c.Problem, _ = cc.problem(text)
		return c, true
	}
	return Classification{}, false
}

// ClassifyEmergency returns the first matching category.
func (e *Engine) ClassifyEmergency(text string) (Category, bool) {
	c, ok := e.Classify(text)
	return c.Category, ok
}

// ExtractProblem returns the first matching problem subtype of category.
// It does not require the category pattern itself to match.
func (e *Engine) ExtractProblem(text string, category Category) (Problem, bool) {
	for _, cc := range e.categories {
		if cc.category == category {
			return cc.problem(text)
		}
	}
	return ProblemNone, false
}

func (cc compiledCategory) problem(text string) (Problem, bool) {
	for _, p := range cc.problems {
		if p.re.MatchString(text) {
			return p.problem, true
		}
	}
	return ProblemNone, false
}

// ExtractAddress returns the first address candidate match, trimmed of
// surrounding whitespace.
func (e *Engine) ExtractAddress(text string) (string, bool) {
	for _, re := range e.addresses {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if addr := strings.TrimSpace(m[1]); addr != "" {
			return addr, true
		}
	}
	return "", false
}

// ExtractKeyDetails returns the matched text of every key-detail pattern that
// matches, in table order, without duplicates.
func (e *Engine) ExtractKeyDetails(text string) []string {
	var out []string
	for _, re := range e.details {
		m := re.FindString(text)
		if m == "" {
			continue
		}
		dup := false
		for _, seen := range out {
			if seen == m {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, m)
		}
	}
	return out
}

// ExtractVictimStatus returns the first victim-status word in text, as
// written.
func (e *Engine) ExtractVictimStatus(text string) (string, bool) {
	if e.victim == nil {
		return "", false
	}
	m := e.victim.FindString(text)
	return m, m != ""
}

// Units returns the units to dispatch for category given text, base units
// first.
func (e *Engine) Units(category Category, text string) []string {
	cu, ok := e.units[category]
	if !ok {
		return nil
	}
	out := append([]string(nil), cu.units...)
	if cu.escalation != nil && cu.escalation.MatchString(text) {
		out = append(out, cu.extra...)
	}
	return out
}

// ── Package-level helpers over the default engine ───────────────────────────

// Classify runs [Engine.Classify] with the default rules.
func Classify(text string) (Classification, bool) { return defaultEngine.Classify(text) }

// ClassifyEmergency runs [Engine.ClassifyEmergency] with the default rules.
func ClassifyEmergency(text string) (Category, bool) { return defaultEngine.ClassifyEmergency(text) }

// ExtractProblem runs [Engine.ExtractProblem] with the default rules.
func ExtractProblem(text string, category Category) (Problem, bool) {
	return defaultEngine.ExtractProblem(text, category)
}

// ExtractAddress runs [Engine.ExtractAddress] with the default rules.
func ExtractAddress(text string) (string, bool) { return defaultEngine.ExtractAddress(text) }

// ExtractKeyDetails runs [Engine.ExtractKeyDetails] with the default rules.
func ExtractKeyDetails(text string) []string { return defaultEngine.ExtractKeyDetails(text) }
