package extract

import "strings"

// DisplayAddress returns addr augmented with a "City, ST" pair found
// elsewhere in text, for display. The canonical address is never modified:
// an address that already contains a comma, or a text without a city/state
// pair, yields addr unchanged.
func (e *Engine) DisplayAddress(addr, text string) string {
	if addr == "" || strings.Contains(addr, ",") || e.cityState == nil {
		return addr
	}
	m := e.cityState.FindStringSubmatch(text)
	if m == nil {
		return addr
	}
	city, state := m[1], m[2]
	if strings.Contains(strings.ToLower(addr), strings.ToLower(city)) {
		return addr
	}
	return addr + ", " + city + ", " + state
}

// DisplayAddress runs [Engine.DisplayAddress] with the default rules.
func DisplayAddress(addr, text string) string { return defaultEngine.DisplayAddress(addr, text) }

// ExtractVictimStatus runs [Engine.ExtractVictimStatus] with the default rules.
func ExtractVictimStatus(text string) (string, bool) { return defaultEngine.ExtractVictimStatus(text) }

// Units runs [Engine.Units] with the default rules.
func Units(category Category, text string) []string { return defaultEngine.Units(category, text) }

// Tables returns the default rule tables as data, for clients that mirror
// the classification.
func Tables() Rules { return DefaultRules() }
