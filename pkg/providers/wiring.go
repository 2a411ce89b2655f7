package providers

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/idlecore/idle/pkg/engine"
)

// Wiring declares which provider instances a deployment runs and under which
// aliases workflows address them.
type Wiring struct {
	// Providers are the provider declarations, one per alias.
	Providers []ProviderDecl `yaml:"providers" validate:"required,min=1,dive"`
}

// ProviderDecl declares one provider instance.
type ProviderDecl struct {
	// Alias is the name workflows bind steps to, e.g. "directory".
	Alias string `yaml:"alias" validate:"required"`

	// Type selects the factory that constructs the provider, e.g. "memory".
	Type string `yaml:"type" validate:"required"`

	// Settings are passed verbatim to the factory.
	Settings map[string]interface{} `yaml:"settings"`
}

// Factory constructs a provider instance from its declared settings.
type Factory func(settings map[string]interface{}) (engine.Provider, error)

// WiringLoader parses wiring documents and builds registries from them.
// Factories are registered by provider type at the composition root, keeping
// this package free of concrete provider imports.
type WiringLoader struct {
	factories map[string]Factory
	validate  *validator.Validate
}

// NewWiringLoader creates a loader with no factories registered.
func NewWiringLoader() *WiringLoader {
	return &WiringLoader{
		factories: make(map[string]Factory),
		validate:  validator.New(),
	}
}

// RegisterFactory associates a provider type with its constructor.
// Registering the same type again replaces the factory.
func (l *WiringLoader) RegisterFactory(providerType string, factory Factory) {
	l.factories[providerType] = factory
}

// Types returns the registered provider types, for error messages and
// listings.
func (l *WiringLoader) Types() []string {
	types := make([]string, 0, len(l.factories))
	for t := range l.factories {
		types = append(types, t)
	}
	return types
}

// LoadFromFile reads and validates a wiring document.
func (l *WiringLoader) LoadFromFile(path string) (*Wiring, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read wiring file: %w", err)
	}
	return l.LoadFromBytes(data)
}

// LoadFromBytes parses and validates a wiring document.
func (l *WiringLoader) LoadFromBytes(data []byte) (*Wiring, error) {
	var wiring Wiring
	if err := yaml.Unmarshal(data, &wiring); err != nil {
		return nil, fmt.Errorf("failed to parse wiring YAML: %w", err)
	}

	if err := l.validate.Struct(&wiring); err != nil {
		return nil, fmt.Errorf("invalid wiring: %w", err)
	}

	seen := make(map[string]bool)
	for _, decl := range wiring.Providers {
		if seen[decl.Alias] {
			return nil, fmt.Errorf("invalid wiring: duplicate provider alias %s", decl.Alias)
		}
		seen[decl.Alias] = true
	}

	return &wiring, nil
}

// Build constructs every declared provider and registers it under its alias.
func (l *WiringLoader) Build(wiring *Wiring, registry *Registry) error {
	for _, decl := range wiring.Providers {
		factory, ok := l.factories[decl.Type]
		if !ok {
			return fmt.Errorf("unknown provider type %s for alias %s", decl.Type, decl.Alias)
		}

		provider, err := factory(decl.Settings)
		if err != nil {
			return fmt.Errorf("failed to construct provider %s: %w", decl.Alias, err)
		}

		if err := registry.Register(decl.Alias, provider); err != nil {
			return err
		}
	}
	return nil
}
