package model

import "encoding/json"

// Split labels which statistical bucket a TestCase belongs to.
type Split string

const (
	SplitTrain      Split = "train"
	SplitValidation Split = "validation"
	SplitHoldout    Split = "holdout"
	SplitUnassigned Split = "unassigned"
)

// Reference is the sealed interface implemented by the three reference
// kinds a TestCase may carry.
type Reference interface {
	referenceKind() string
}

// ExactReference requires the output to match expected verbatim (after trim).
type ExactReference struct {
	Expected string `json:"expected"`
}

func (ExactReference) referenceKind() string { return "exact" }

// ConstrainedReference evaluates against a set of constraints and, optionally,
// a core request used for semantic-similarity scoring.
type ConstrainedReference struct {
	CoreRequest       *string      `json:"core_request,omitempty"`
	Constraints       []Constraint `json:"constraints"`
	QualityDimensions []string     `json:"quality_dimensions"`
}

func (ConstrainedReference) referenceKind() string { return "constrained" }

// HybridReference mixes exact sub-parts with constraints.
type HybridReference struct {
	ExactParts  map[string]string `json:"exact_parts"`
	Constraints []Constraint      `json:"constraints"`
}

func (HybridReference) referenceKind() string { return "hybrid" }

// ConstraintKind names a built-in constraint the constraint-check evaluator
// understands.
type ConstraintKind string

const (
	ConstraintLength      ConstraintKind = "length"
	ConstraintMustInclude ConstraintKind = "must_include"
	ConstraintMustExclude ConstraintKind = "must_exclude"
	ConstraintFormat      ConstraintKind = "format"
)

// OutputFormat is the set of formats the "format" constraint kind checks for.
type OutputFormat string

const (
	FormatJSON       OutputFormat = "json"
	FormatMarkdown   OutputFormat = "markdown"
	FormatPlainText  OutputFormat = "plain_text"
)

// Constraint is one entry of a Constrained/Hybrid reference's constraint list.
type Constraint struct {
	Kind     ConstraintKind `json:"kind"`
	MinChars *int           `json:"min_chars,omitempty"`
	MaxChars *int           `json:"max_chars,omitempty"`
	Keywords []string       `json:"keywords,omitempty"`
	Format   OutputFormat   `json:"format,omitempty"`
}

// TestCase is one input/reference pair the engine executes a Prompt against.
type TestCase struct {
	ID        string                     `json:"id"`
	Input     map[string]json.RawMessage `json:"input"`
	Reference Reference                  `json:"reference"`
	Split     Split                      `json:"split,omitempty"`
}

// referenceEnvelope is the wire shape for a polymorphic Reference.
type referenceEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalJSON renders the TestCase with its Reference tagged by kind.
func (t TestCase) MarshalJSON() ([]byte, error) {
	type alias struct {
		ID        string                     `json:"id"`
		Input     map[string]json.RawMessage `json:"input"`
		Reference referenceEnvelope          `json:"reference"`
		Split     Split                      `json:"split,omitempty"`
	}
	data, err := json.Marshal(t.Reference)
	if err != nil {
		return nil, err
	}
	return json.Marshal(alias{
		ID:        t.ID,
		Input:     t.Input,
		Reference: referenceEnvelope{Type: t.Reference.referenceKind(), Data: data},
		Split:     t.Split,
	})
}

// UnmarshalJSON parses a tagged Reference back into its concrete type.
func (t *TestCase) UnmarshalJSON(data []byte) error {
	var alias struct {
		ID        string                     `json:"id"`
		Input     map[string]json.RawMessage `json:"input"`
		Reference referenceEnvelope          `json:"reference"`
		Split     Split                      `json:"split,omitempty"`
	}
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	t.ID = alias.ID
	t.Input = alias.Input
	t.Split = alias.Split

	switch alias.Reference.Type {
	case "exact":
		var r ExactReference
		if err := json.Unmarshal(alias.Reference.Data, &r); err != nil {
			return err
		}
		t.Reference = r
	case "constrained":
		var r ConstrainedReference
		if err := json.Unmarshal(alias.Reference.Data, &r); err != nil {
			return err
		}
		t.Reference = r
	case "hybrid":
		var r HybridReference
		if err := json.Unmarshal(alias.Reference.Data, &r); err != nil {
			return err
		}
		t.Reference = r
	}
	return nil
}
