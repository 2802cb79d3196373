package extract

import "slices"

// Summary is the emergency summary accumulated over a call. Category is set
// once and never cleared; Problem, Address and VictimStatus are overwritten
// by the most recent match; KeyDetails and Units only grow.
//
// A Summary is not safe for concurrent use. Share snapshots via [Summary.Clone].
type Summary struct {
	Category       Category `json:"category,omitempty"`
	Problem        Problem  `json:"problem,omitempty"`
	Address        string   `json:"address,omitempty"`
	DisplayAddress string   `json:"display_address,omitempty"`
	VictimStatus   string   `json:"victim_status,omitempty"`
	KeyDetails     []string `json:"key_details,omitempty"`
	Units          []string `json:"units,omitempty"`
}

// Apply folds text into s using the default rules.
func (s *Summary) Apply(text string) bool { return defaultEngine.Apply(s, text) }

// Apply folds text into s and reports whether any field changed.
func (e *Engine) Apply(s *Summary, text string) bool {
	changed := false

	if s.Category == CategoryNone {
		if c, ok := e.Classify(text); ok {
			s.Category = c.Category
			changed = true
			if c.Problem != ProblemNone && c.Problem != s.Problem {
				s.Problem = c.Problem
			}
		}
	} else if p, ok := e.ExtractProblem(text, s.Category); ok && p != s.Problem {
		s.Problem = p
		changed = true
	}

	if addr, ok := e.ExtractAddress(text); ok {
		display := e.DisplayAddress(addr, text)
		if addr != s.Address || display != s.DisplayAddress {
			s.Address = addr
			s.DisplayAddress = display
			changed = true
		}
	}

	if v, ok := e.ExtractVictimStatus(text); ok && v != s.VictimStatus {
		s.VictimStatus = v
		changed = true
	}

	for _, d := range e.ExtractKeyDetails(text) {
		if !slices.Contains(s.KeyDetails, d) {
			s.KeyDetails = append(s.KeyDetails, d)
			changed = true
		}
	}

	if s.Category != CategoryNone {
		for _, u := range e.Units(s.Category, text) {
			if !slices.Contains(s.Units, u) {
				s.Units = append(s.Units, u)
				changed = true
			}
		}
	}
	return changed
}

// Clone returns a deep copy of s.
func (s Summary) Clone() Summary {
	s.KeyDetails = slices.Clone(s.KeyDetails)
	s.Units = slices.Clone(s.Units)
	return s
}

// Empty reports whether nothing has been extracted yet.
func (s Summary) Empty() bool {
	return s.Category == CategoryNone && s.Problem == ProblemNone && s.Address == "" &&
		s.VictimStatus == "" && len(s.KeyDetails) == 0 && len(s.Units) == 0
}
