package model

// Polarity tags whether a Rule was extracted from a passing or failing case.
type Polarity string

const (
	PolaritySuccess   Polarity = "success"
	PolarityFailure   Polarity = "failure"
	PolarityAllPassed Polarity = "all_passed"
)

// RuleTags carries the well-known tag dimensions plus an open extras map for
// anything else (always including the required "polarity" key).
type RuleTags struct {
	OutputFormat    string            `json:"output_format,omitempty"`
	OutputStructure string            `json:"output_structure,omitempty"`
	OutputLength    string            `json:"output_length,omitempty"`
	SemanticFocus   string            `json:"semantic_focus,omitempty"`
	KeyConcepts     []string          `json:"key_concepts,omitempty"`
	MustInclude     []string          `json:"must_include,omitempty"`
	MustExclude     []string          `json:"must_exclude,omitempty"`
	Tone            string            `json:"tone,omitempty"`
	Extras          map[string]string `json:"extras,omitempty"`
}

// Polarity reads the required polarity tag out of Extras.
func (t RuleTags) Polarity() Polarity {
	return Polarity(t.Extras["polarity"])
}

// Rule is a single extracted pattern, either confirming what worked or
// calling out what failed.
type Rule struct {
	ID                string   `json:"id"`
	Description       string   `json:"description"`
	Tags              RuleTags `json:"tags"`
	SourceTestCases   []string `json:"source_test_cases"`
	AbstractionLevel  int      `json:"abstraction_level"`
	ParentRules       []string `json:"parent_rules"`
	Verified          bool     `json:"verified"`
	VerificationScore float64  `json:"verification_score"`
	IR                *string  `json:"ir,omitempty"`
}

// RuleSystem is the active rule set plus its conflict/merge history and a
// monotonically increasing version counter.
type RuleSystem struct {
	Rules       []Rule   `json:"rules"`
	ConflictLog []string `json:"conflict_log"`
	MergeLog    []string `json:"merge_log"`
	Version     int      `json:"version"`
}

// FailureRules returns the subset of rules tagged failure.
func (rs RuleSystem) FailureRules() []Rule {
	return rs.filterByPolarity(PolarityFailure)
}

// SuccessRules returns the subset of rules tagged success.
func (rs RuleSystem) SuccessRules() []Rule {
	return rs.filterByPolarity(PolaritySuccess)
}

// AllPassed reports whether every rule in the system is tagged all_passed.
func (rs RuleSystem) AllPassed() bool {
	if len(rs.Rules) == 0 {
		return false
	}
	for _, r := range rs.Rules {
		if r.Tags.Polarity() != PolarityAllPassed {
			return false
		}
	}
	return true
}

func (rs RuleSystem) filterByPolarity(p Polarity) []Rule {
	var out []Rule
	for _, r := range rs.Rules {
		if r.Tags.Polarity() == p {
			out = append(out, r)
		}
	}
	return out
}

// RuleByID builds an id->Rule index, used by traversal code that must treat
// rules as an arena keyed by id and must detect parent-id cycles (spec §9).
func RuleByID(rules []Rule) map[string]Rule {
	idx := make(map[string]Rule, len(rules))
	for _, r := range rules {
		idx[r.ID] = r
	}
	return idx
}

// AncestorsOf walks parent_rules from the given rule id, skipping any id that
// would re-enter the walk (a cycle), and returns the visited rule ids in
// traversal order (excluding the starting id).
func AncestorsOf(start string, byID map[string]Rule) []string {
	visited := map[string]bool{start: true}
	var order []string
	queue := []string{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		rule, ok := byID[id]
		if !ok {
			continue
		}
		for _, parent := range rule.ParentRules {
			if visited[parent] {
				continue // cycle, skip
			}
			visited[parent] = true
			order = append(order, parent)
			queue = append(queue, parent)
		}
	}
	return order
}
