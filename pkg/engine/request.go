package engine

import (
	"github.com/mitchellh/mapstructure"
)

// LifecycleRequestFromMap converts a parsed request document into a typed
// request. The document is expected to have passed the workflow loader's
// guard and schema validation; unknown keys are rejected here as well so
// programmatically assembled documents get the same strictness.
func LifecycleRequestFromMap(doc map[string]interface{}) (*LifecycleRequest, error) {
	if doc == nil {
		return nil, NewValidationError("request document is nil", nil)
	}

	var request LifecycleRequest
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &request,
		ErrorUnused: true,
	})
	if err != nil {
		return nil, NewValidationError("failed to initialize request decoder", err)
	}
	if err := decoder.Decode(doc); err != nil {
		return nil, NewValidationError("request document does not match the expected shape", err)
	}
	if err := request.Validate(); err != nil {
		return nil, err
	}
	return &request, nil
}
