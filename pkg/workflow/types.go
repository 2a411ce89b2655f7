package workflow

import (
	"fmt"
	"regexp"
	"strings"
)

// stepTypePattern matches dot-segmented step types such as
// "IdLE.Step.EnsureAttribute". At least two segments are required.
var stepTypePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*(\.[A-Za-z][A-Za-z0-9]*)+$`)

// EventAny is the lifecycle event wildcard. A definition declaring it
// accepts requests for any lifecycle event.
const EventAny = "*"

// ValidStepType reports whether a step type is well-formed.
func ValidStepType(stepType string) bool {
	return stepTypePattern.MatchString(stepType)
}

// Definition is a declarative, data-only workflow document. It is the unit
// the loader produces and the plan builder consumes. Definitions carry no
// executable content; the loader rejects documents containing functions,
// channels, or unsafe pointers at any depth.
type Definition struct {
	// Name identifies the workflow.
	Name string `json:"Name" yaml:"Name" mapstructure:"Name" validate:"required"`

	// LifecycleEvent is the event this workflow serves (Joiner, Mover,
	// Leaver, a custom event name, or "*" for any).
	LifecycleEvent string `json:"LifecycleEvent" yaml:"LifecycleEvent" mapstructure:"LifecycleEvent" validate:"required"`

	// Description is optional free text for operators.
	Description string `json:"Description,omitempty" yaml:"Description,omitempty" mapstructure:"Description"`

	// Steps are the primary steps, executed strictly in order.
	Steps []Step `json:"Steps" yaml:"Steps" mapstructure:"Steps" validate:"required,min=1,unique=Name,dive"`

	// OnFailureSteps run best-effort after a primary step fails.
	OnFailureSteps []Step `json:"OnFailureSteps,omitempty" yaml:"OnFailureSteps,omitempty" mapstructure:"OnFailureSteps" validate:"omitempty,unique=Name,dive"`
}

// Step describes a single unit of work inside a workflow.
type Step struct {
	// Name identifies the step within its list. Names must be unique per list.
	Name string `json:"Name" yaml:"Name" mapstructure:"Name" validate:"required"`

	// Type selects the handler, e.g. "IdLE.Step.EnsureAttribute".
	Type string `json:"Type" yaml:"Type" mapstructure:"Type" validate:"required"`

	// With holds step options. Values may contain {{Root.Path}} templates
	// which the plan builder resolves once at build time.
	With map[string]interface{} `json:"With,omitempty" yaml:"With,omitempty" mapstructure:"With"`

	// Condition gates the step at run time. A nil condition always passes.
	Condition *Condition `json:"Condition,omitempty" yaml:"Condition,omitempty" mapstructure:"Condition"`

	// RequiresCapabilities overrides the capability catalog for this step.
	RequiresCapabilities []string `json:"RequiresCapabilities,omitempty" yaml:"RequiresCapabilities,omitempty" mapstructure:"RequiresCapabilities"`

	// RetryProfile names the retry profile to apply. Empty selects the
	// execution default.
	RetryProfile string `json:"RetryProfile,omitempty" yaml:"RetryProfile,omitempty" mapstructure:"RetryProfile"`

	// Output is the state namespace the step's result is written to.
	// Empty defaults to the step name.
	Output string `json:"Output,omitempty" yaml:"Output,omitempty" mapstructure:"Output"`
}

// Condition gates a step against the runtime document {Plan, Request, State}.
//
// Three clause forms exist: Equals compares the value at a path, Exists
// tests path presence, and All requires every child condition to hold
// (an empty All holds trivially). The legacy single-level form sets Path
// together with a literal Equals value:
//
//	Condition: {Path: "Plan.LifecycleEvent", Equals: "Leaver"}
//
// In the canonical form Equals carries a {Path, Value} clause instead.
type Condition struct {
	// Equals is either an equality clause ({Path, Value}) or, when the
	// legacy Path field is set, the literal expected value.
	Equals interface{} `json:"Equals,omitempty" yaml:"Equals,omitempty" mapstructure:"Equals"`

	// Exists tests that a path resolves to a value.
	Exists *ExistsClause `json:"Exists,omitempty" yaml:"Exists,omitempty" mapstructure:"Exists"`

	// All requires every child condition to hold. Empty means true.
	All []Condition `json:"All,omitempty" yaml:"All,omitempty" mapstructure:"All"`

	// Path enables the legacy single-level form together with Equals.
	Path string `json:"Path,omitempty" yaml:"Path,omitempty" mapstructure:"Path"`
}

// EqualsClause is the canonical form of an equality condition.
type EqualsClause struct {
	// Path is the dotted path into the runtime document.
	Path string `json:"Path" yaml:"Path" mapstructure:"Path"`

	// Value is the expected value at the path.
	Value interface{} `json:"Value" yaml:"Value" mapstructure:"Value"`
}

// ExistsClause tests that a path resolves to a value.
type ExistsClause struct {
	// Path is the dotted path into the runtime document.
	Path string `json:"Path" yaml:"Path" mapstructure:"Path"`
}

// Clone returns a deep copy of the condition.
func (c *Condition) Clone() *Condition {
	if c == nil {
		return nil
	}
	out := &Condition{
		Equals: cloneConditionValue(c.Equals),
		Path:   c.Path,
	}
	if c.Exists != nil {
		exists := *c.Exists
		out.Exists = &exists
	}
	if c.All != nil {
		out.All = make([]Condition, len(c.All))
		for i := range c.All {
			out.All[i] = *c.All[i].Clone()
		}
	}
	return out
}

func cloneConditionValue(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, item := range v {
			out[key] = cloneConditionValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = cloneConditionValue(item)
		}
		return out
	case *EqualsClause:
		if v == nil {
			return (*EqualsClause)(nil)
		}
		clause := *v
		return &clause
	default:
		return value
	}
}

// EqualsSpec returns the equality clause in canonical form, normalizing the
// legacy {Path, Equals} alias. The second return is false when the condition
// carries no equality clause.
func (c *Condition) EqualsSpec() (*EqualsClause, bool) {
	if c == nil || c.Equals == nil {
		return nil, false
	}
	if c.Path != "" {
		return &EqualsClause{Path: c.Path, Value: c.Equals}, true
	}
	switch v := c.Equals.(type) {
	case *EqualsClause:
		return v, true
	case EqualsClause:
		return &v, true
	case map[string]interface{}:
		path, _ := v["Path"].(string)
		return &EqualsClause{Path: path, Value: v["Value"]}, true
	default:
		return nil, false
	}
}

// Validate checks the structural correctness of a condition. Exactly one
// clause form must be present; the legacy form requires both Path and Equals
// and excludes everything else.
func (c *Condition) Validate() error {
	if c == nil {
		return nil
	}
	if c.Path != "" {
		if c.Equals == nil {
			return fmt.Errorf("condition with Path %q requires Equals", c.Path)
		}
		if c.Exists != nil || c.All != nil {
			return fmt.Errorf("legacy condition on %q cannot combine Exists or All", c.Path)
		}
		return nil
	}

	forms := 0
	if c.Equals != nil {
		forms++
	}
	if c.Exists != nil {
		forms++
	}
	if c.All != nil {
		forms++
	}
	if forms == 0 {
		return fmt.Errorf("condition must specify Equals, Exists, All, or the legacy Path form")
	}
	if forms > 1 {
		return fmt.Errorf("condition must specify exactly one of Equals, Exists, All")
	}

	if c.Equals != nil {
		clause, ok := c.EqualsSpec()
		if !ok || clause.Path == "" {
			return fmt.Errorf("Equals clause requires a non-empty Path")
		}
	}
	if c.Exists != nil && c.Exists.Path == "" {
		return fmt.Errorf("Exists clause requires a non-empty Path")
	}
	for i := range c.All {
		if err := c.All[i].Validate(); err != nil {
			return fmt.Errorf("All[%d]: %w", i, err)
		}
	}
	return nil
}

// Validate checks a step beyond what struct tags express: the type format
// and the condition structure.
func (s *Step) Validate() error {
	if !stepTypePattern.MatchString(s.Type) {
		return fmt.Errorf("step %q has invalid type %q: types are dot-segmented, e.g. IdLE.Step.EnsureAttribute", s.Name, s.Type)
	}
	if err := s.Condition.Validate(); err != nil {
		return fmt.Errorf("step %q: %w", s.Name, err)
	}
	return nil
}

// Validate checks the definition's steps. Struct-tag validation (required
// fields, unique names) runs separately in the loader.
func (d *Definition) Validate() error {
	for i := range d.Steps {
		if err := d.Steps[i].Validate(); err != nil {
			return fmt.Errorf("Steps[%d]: %w", i, err)
		}
	}
	for i := range d.OnFailureSteps {
		if err := d.OnFailureSteps[i].Validate(); err != nil {
			return fmt.Errorf("OnFailureSteps[%d]: %w", i, err)
		}
	}
	return nil
}

// Matches reports whether the definition serves the given lifecycle event.
func (d *Definition) Matches(lifecycleEvent string) bool {
	if d.LifecycleEvent == EventAny {
		return true
	}
	return strings.EqualFold(d.LifecycleEvent, lifecycleEvent)
}
