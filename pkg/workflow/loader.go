package workflow

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Loader parses and validates workflow documents. The pipeline is strict:
// parse to a generic map, assert the map is data-only, validate against the
// CUE schema, decode with unknown-key rejection, then run struct and
// condition validation. A document that survives all five stages is safe to
// hand to the plan builder.
type Loader struct {
	schemas  *SchemaRegistry
	validate *validator.Validate
}

// NewLoader creates a loader with the built-in schemas.
func NewLoader() *Loader {
	return &Loader{
		schemas:  NewSchemaRegistry(),
		validate: validator.New(),
	}
}

// Schemas returns the loader's schema registry.
func (l *Loader) Schemas() *SchemaRegistry {
	return l.schemas
}

// Load parses a YAML or JSON workflow document into a validated Definition.
func (l *Loader) Load(data []byte) (*Definition, error) {
	doc, err := l.ParseDocument(data)
	if err != nil {
		return nil, err
	}
	return l.LoadMap(doc)
}

// LoadFile loads a workflow definition from a file.
func (l *Loader) LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file %s: %w", path, err)
	}
	def, err := l.Load(data)
	if err != nil {
		return nil, fmt.Errorf("workflow file %s: %w", path, err)
	}
	return def, nil
}

// LoadMap validates and decodes an already-parsed workflow document.
func (l *Loader) LoadMap(doc map[string]interface{}) (*Definition, error) {
	if err := AssertNoExecutableContent(doc, "Workflow"); err != nil {
		return nil, err
	}

	if err := l.schemas.ValidateWorkflow(doc); err != nil {
		return nil, fmt.Errorf("workflow schema: %w", err)
	}

	def, err := decodeDefinition(doc)
	if err != nil {
		return nil, err
	}

	if err := l.validate.Struct(def); err != nil {
		return nil, fmt.Errorf("workflow validation: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("workflow validation: %w", err)
	}

	return def, nil
}

// LoadRequestDocument parses a YAML or JSON lifecycle request document into
// a generic map, asserting it is data-only and schema-valid. Decoding into
// the engine's request type happens in the engine package.
func (l *Loader) LoadRequestDocument(data []byte) (map[string]interface{}, error) {
	doc, err := l.ParseDocument(data)
	if err != nil {
		return nil, err
	}
	if err := AssertNoExecutableContent(doc, "Request"); err != nil {
		return nil, err
	}
	if err := l.schemas.ValidateRequest(doc); err != nil {
		return nil, fmt.Errorf("request schema: %w", err)
	}
	return doc, nil
}

// ParseDocument parses YAML or JSON bytes into a string-keyed map. JSON is
// a subset of YAML, so one parser covers both.
func (l *Loader) ParseDocument(data []byte) (map[string]interface{}, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}

	normalized, err := normalizeValue(raw)
	if err != nil {
		return nil, err
	}

	doc, ok := normalized.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("document root must be a mapping, got %T", normalized)
	}
	return doc, nil
}

// decodeDefinition decodes a document map into a Definition, rejecting
// unknown keys at every nesting level.
func decodeDefinition(doc map[string]interface{}) (*Definition, error) {
	var def Definition
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &def,
		ErrorUnused: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build decoder: %w", err)
	}

	if err := decoder.Decode(doc); err != nil {
		return nil, fmt.Errorf("workflow document has invalid structure: %w", err)
	}
	return &def, nil
}

// normalizeValue converts YAML parser output into JSON-compatible values:
// string-keyed maps all the way down. Non-string mapping keys are rejected.
func normalizeValue(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, val := range v {
			normalized, err := normalizeValue(val)
			if err != nil {
				return nil, err
			}
			out[key] = normalized
		}
		return out, nil

	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, val := range v {
			strKey, ok := key.(string)
			if !ok {
				return nil, fmt.Errorf("document keys must be strings, got %T (%v)", key, key)
			}
			normalized, err := normalizeValue(val)
			if err != nil {
				return nil, err
			}
			out[strKey] = normalized
		}
		return out, nil

	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			normalized, err := normalizeValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = normalized
		}
		return out, nil

	default:
		return value, nil
	}
}
