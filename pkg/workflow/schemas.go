package workflow

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for workflow document validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	sr.registerBuiltInSchemas()
	return sr
}

// registerBuiltInSchemas registers all built-in schemas.
func (sr *SchemaRegistry) registerBuiltInSchemas() {
	sr.RegisterSchema("workflow", builtinWorkflowSchema)
	sr.RegisterSchema("request", builtinRequestSchema)
}

// RegisterSchema registers a CUE schema with the given name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema. The schema's
// definition entry point is resolved by capitalized name (#Workflow for
// "workflow").
func (sr *SchemaRegistry) ValidateAgainstSchema(schemaName, defName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	def := schema.LookupPath(cue.ParsePath(defName))
	if !def.Exists() {
		return fmt.Errorf("schema %s has no definition %s", schemaName, defName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := def.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ValidateWorkflow validates a parsed workflow document against the
// workflow schema.
func (sr *SchemaRegistry) ValidateWorkflow(doc map[string]interface{}) error {
	return sr.ValidateAgainstSchema("workflow", "#Workflow", doc)
}

// ValidateRequest validates a parsed lifecycle request document against the
// request schema.
func (sr *SchemaRegistry) ValidateRequest(doc map[string]interface{}) error {
	return sr.ValidateAgainstSchema("request", "#Request", doc)
}

// Built-in schema definitions

const builtinWorkflowSchema = `
// Workflow schema for IdLE workflow definitions
#Workflow: {
	// Name identifies the workflow
	Name: string & =~"^[A-Za-z][A-Za-z0-9_-]*$"

	// LifecycleEvent is the event this workflow serves ("*" for any)
	LifecycleEvent: string & !=""

	// Description is optional free text
	Description?: string

	// Steps are the primary steps, at least one
	Steps: [_, ...] & [...#Step]

	// OnFailureSteps run best-effort after a primary failure
	OnFailureSteps?: [...#Step]
}

#Step: {
	// Name identifies the step within its list
	Name: string & !=""

	// Type is dot-segmented, e.g. "IdLE.Step.EnsureAttribute"
	Type: string & =~"^[A-Za-z][A-Za-z0-9]*(\\.[A-Za-z][A-Za-z0-9]*)+$"

	// With holds step options (data only, may contain templates)
	With?: {...}

	// Condition gates the step at run time
	Condition?: #Condition

	// RequiresCapabilities overrides the capability catalog
	RequiresCapabilities?: [...string & !=""]

	// RetryProfile names the retry profile to apply
	RetryProfile?: string

	// Output is the state namespace for the step's result
	Output?: string
}

#Condition: {
	// Equals is a {Path, Value} clause, or the expected literal in the
	// legacy form (Path set at this level)
	Equals?: _

	// Exists tests path presence
	Exists?: {Path: string & !=""}

	// All requires every child condition to hold
	All?: [...#Condition]

	// Path enables the legacy single-level form
	Path?: string
}
`

const builtinRequestSchema = `
// Request schema for IdLE lifecycle requests
#Request: {
	// LifecycleEvent drives workflow selection (Joiner, Mover, Leaver, custom)
	LifecycleEvent: string & !=""

	// CorrelationId is generated when absent
	CorrelationId?: string

	// Actor is the caller identity for auditing
	Actor?: string

	// IdentityKeys identify the subject (e.g. employeeId, upn)
	IdentityKeys?: {...}

	// Input carries event payload data
	Input?: {...}

	// DesiredState describes the target state
	DesiredState?: {...}

	// Changes lists attribute-level changes (Mover events)
	Changes?: [...{...}]
}
`
