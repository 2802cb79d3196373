package extract

// Category is an emergency category. The zero value means "not classified".
type Category string

// Categories in priority order.
const (
	CategoryNone    Category = ""
	CategoryMedical Category = "MEDICAL"
	CategoryFire    Category = "FIRE"
	CategoryPolice  Category = "POLICE"
)

// Problem is a category-specific subtype. The zero value means "unknown".
type Problem string

// Known problem subtypes.
const (
	ProblemNone          Problem = ""
	ProblemChoking       Problem = "CHOKING"
	ProblemHeartAttack   Problem = "HEART_ATTACK"
	ProblemBreathing     Problem = "BREATHING"
	ProblemUnconscious   Problem = "UNCONSCIOUS"
	ProblemBleeding      Problem = "BLEEDING"
	ProblemInjury        Problem = "INJURY"
	ProblemStructureFire Problem = "STRUCTURE_FIRE"
	ProblemGasLeak       Problem = "GAS_LEAK"
	ProblemExplosion     Problem = "EXPLOSION"
	ProblemBreakIn       Problem = "BREAK_IN"
	ProblemAssault       Problem = "ASSAULT"
	ProblemWeapon        Problem = "WEAPON"
)

// Rules is the complete, declarative rule set. Patterns use RE2 syntax and
// are matched case-insensitively unless they disable the flag locally. The
// same value is served to presentation clients so that every consumer
// classifies with identical tables.
type Rules struct {
	// Categories are tried in order; the first matching category wins.
	Categories []CategoryRule `json:"categories"`

	// Addresses are tried in order; the first match wins. Each pattern must
	// have exactly one capture group holding the address.
	Addresses []AddressRule `json:"addresses"`

	// KeyDetails are tested independently of each other.
	KeyDetails []string `json:"key_details"`

	// VictimStatus returns the first status word it finds.
	VictimStatus string `json:"victim_status"`

	// CityState captures a "City, ST" pair in its two groups. It is used for
	// display augmentation only.
	CityState string `json:"city_state"`

	// Units maps categories to the resources to dispatch.
	Units []UnitRule `json:"units"`
}

// CategoryRule detects one category and its ordered problem subtypes.
type CategoryRule struct {
	Category Category      `json:"category"`
	Pattern  string        `json:"pattern"`
	Problems []ProblemRule `json:"problems"`
}

// ProblemRule detects one problem subtype.
type ProblemRule struct {
	Problem Problem `json:"problem"`
	Pattern string  `json:"pattern"`
}

// AddressRule is one address candidate pattern.
type AddressRule struct {
	Name    string `json:"name"`
	Pattern string `json:"pattern"`
}

// UnitRule lists the units dispatched for a category, plus extra units added
// when Escalation matches.
type UnitRule struct {
	Category        Category `json:"category"`
	Units           []string `json:"units"`
	Escalation      string   `json:"escalation"`
	EscalationUnits []string `json:"escalation_units"`
}

const (
	streetSuffix = `(?:street|st|avenue|ave|road|rd|boulevard|blvd|lane|ln|drive|dr|circle|cir|court|ct|way|parkway|pkwy|terrace|terr)`

	// address: a house number, a short run of street-name words, a whole-word
	// suffix, then an optional ", City" and ", ST".
	address = `(\d+[\w\s.'-]*?\b` + streetSuffix + `\b\.?` +
		`(?:,\s*(?-i:[A-Z][a-z]+(?:\s[A-Z][a-z]+){0,2})(?:,\s*(?-i:[A-Z]{2})\b)?)?)`
)

// DefaultRules returns the built-in rule set. Each call returns a fresh copy.
func DefaultRules() Rules {
	return Rules{
		Categories: []CategoryRule{
			{
				Category: CategoryMedical,
				Pattern:  `\b(?:heart attack|breathing|unconscious|bleeding|injury|injured|fell|fallen|seizure|stroke|choking|allergic|accident|overdose|pain|medical)\b`,
				Problems: []ProblemRule{
					{ProblemChoking, `\bchoking\b`},
					{ProblemHeartAttack, `\bheart attack\b`},
					{ProblemBreathing, `\b(?:difficulty|trouble|can't|cannot|not|heavy) breathing\b`},
					{ProblemUnconscious, `\b(?:unconscious|passed out)\b`},
					{ProblemBleeding, `\bbleeding\b`},
					{ProblemInjury, `\b(?:injury|injured|fell|fallen)\b`},
				},
			},
			{
				Category: CategoryFire,
				Pattern:  `\b(?:fire|smoke|burning|flames|gas leak|explosion)\b`,
				Problems: []ProblemRule{
					{ProblemStructureFire, `\b(?:building|house|apartment|structure|room on fire)\b`},
					{ProblemGasLeak, `\bgas leak\b`},
					{ProblemExplosion, `\bexplosion\b`},
				},
			},
			{
				Category: CategoryPolice,
				Pattern:  `\b(?:break[- ]?in|robbery|theft|assault|weapon|gunshot|fight|domestic|violence|suspicious|burglary|stolen)\b`,
				Problems: []ProblemRule{
					{ProblemBreakIn, `\b(?:break[- ]?in|burglary)\b`},
					{ProblemAssault, `\b(?:assault|fight|violence)\b`},
					{ProblemWeapon, `\b(?:weapon|gunshot|gun|knife)\b`},
				},
			},
		},
		Addresses: []AddressRule{
			{Name: "preposition", Pattern: `\b(?:at|on|near)\s+` + address},
			{Name: "stated", Pattern: `\b(?:location|address|place)\s+(?:is|at)\s+` + address},
			{Name: "bare", Pattern: `\b` + address},
		},
		KeyDetails: []string{
			`multiple victims`,
			`weapon present`,
			`children involved`,
			`elderly person`,
			`heavy smoke`,
			`spreading quickly`,
		},
		VictimStatus: `\b(?:conscious|unconscious|not breathing|breathing|responsive|unresponsive|bleeding|stable|critical|awake|alert|confused|dizzy)\b`,
		CityState:    `\b(?:in|at)\s+((?-i:[A-Z][a-z]+(?:\s[A-Z][a-z]+)*)),\s*((?-i:[A-Z]{2}))\b`,
		Units: []UnitRule{
			{
				Category:        CategoryMedical,
				Units:           []string{"Ambulance"},
				Escalation:      `\b(?:critical|severe|unconscious|not breathing)\b`,
				EscalationUnits: []string{"Medical Helicopter"},
			},
			{
				Category:        CategoryFire,
				Units:           []string{"Fire Engine", "Ambulance (Standby)"},
				Escalation:      `\b(?:large|spreading|building|structure)\b`,
				EscalationUnits: []string{"Additional Fire Units"},
			},
			{
				Category:        CategoryPolice,
				Units:           []string{"Police Units"},
				Escalation:      `\b(?:weapon|gun|knife|violent|assault)\b`,
				EscalationUnits: []string{"SWAT Team"},
			},
		},
	}
}
