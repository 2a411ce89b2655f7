package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/idlecore/idle/pkg/engine"
	"github.com/idlecore/idle/pkg/providers"
	"github.com/idlecore/idle/pkg/providers/memory"
	"github.com/idlecore/idle/pkg/stores"
	"github.com/idlecore/idle/pkg/workflow"
)

// newWiringLoader returns the wiring loader with every provider type this
// binary can construct.
func newWiringLoader() *providers.WiringLoader {
	loader := providers.NewWiringLoader()
	loader.RegisterFactory("memory", func(settings map[string]interface{}) (engine.Provider, error) {
		if name, ok := settings["name"].(string); ok && name != "" {
			return memory.NewNamed(name), nil
		}
		return memory.New(), nil
	})
	return loader
}

// buildRegistry constructs the provider registry from the configured wiring
// file. Without one it wires a single in-memory provider under the default
// alias so plans stay runnable out of the box.
func buildRegistry(cfg *Config) (*providers.Registry, error) {
	registry := providers.NewRegistry()

	if cfg.Providers.Wiring == "" {
		if err := registry.Register(engine.DefaultProviderAlias, memory.New()); err != nil {
			return nil, err
		}
		return registry, nil
	}

	loader := newWiringLoader()
	wiring, err := loader.LoadFromFile(cfg.Providers.Wiring)
	if err != nil {
		return nil, err
	}
	if err := loader.Build(wiring, registry); err != nil {
		return nil, err
	}
	return registry, nil
}

// loadPlanInputs loads the workflow definition and the lifecycle request that
// plan and run both start from.
func loadPlanInputs(workflowPath, requestPath string) (*workflow.Definition, *engine.LifecycleRequest, error) {
	definition, err := workflow.NewLoader().LoadFile(workflowPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load workflow: %w", err)
	}

	request, err := loadRequestFile(requestPath)
	if err != nil {
		return nil, nil, err
	}
	return definition, request, nil
}

// loadRequestFile loads and validates a lifecycle request document.
func loadRequestFile(path string) (*engine.LifecycleRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read request file: %w", err)
	}
	doc, err := workflow.NewLoader().LoadRequestDocument(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load request: %w", err)
	}
	request, err := engine.LifecycleRequestFromMap(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}
	return request, nil
}

// openStore opens the run-history store, creating the data directory and
// applying migrations as needed.
func openStore(ctx context.Context, cfg *Config) (*stores.SQLiteStore, error) {
	path := cfg.DatabasePath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}
