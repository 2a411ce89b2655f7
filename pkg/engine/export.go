package engine

import (
	"bytes"
	"encoding/json"
)

// ExportPlan renders a plan as canonical JSON: two-space indentation, UTF-8,
// no BOM, step order preserved. The artifact is meant for review and diffing
// before execution and round-trips through ImportPlan.
func ExportPlan(plan *Plan) ([]byte, error) {
	if plan == nil {
		return nil, NewValidationError("plan is nil", nil)
	}
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return nil, NewValidationError("plan cannot be serialized", err)
	}
	return append(data, '\n'), nil
}

// ImportPlan parses a previously exported plan and validates it. Unknown
// fields are rejected so a mistyped artifact fails loudly instead of
// executing with silently dropped content.
func ImportPlan(data []byte) (*Plan, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()

	var plan Plan
	if err := decoder.Decode(&plan); err != nil {
		return nil, NewValidationError("plan artifact is not valid JSON", err)
	}
	if err := plan.Validate(); err != nil {
		return nil, NewValidationError("plan artifact is invalid", err)
	}
	return &plan, nil
}
