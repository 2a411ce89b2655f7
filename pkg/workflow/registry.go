package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Registry holds named workflow definitions. It is safe for concurrent use;
// the watcher replaces definitions while runs read them.
type Registry struct {
	loader *Loader

	mu          sync.RWMutex
	definitions map[string]*Definition
	sources     map[string]string
}

// NewRegistry creates an empty registry backed by the given loader.
// A nil loader gets the defaults.
func NewRegistry(loader *Loader) *Registry {
	if loader == nil {
		loader = NewLoader()
	}
	return &Registry{
		loader:      loader,
		definitions: make(map[string]*Definition),
		sources:     make(map[string]string),
	}
}

// Register adds or replaces a definition under its Name.
func (r *Registry) Register(def *Definition) error {
	if def == nil || def.Name == "" {
		return fmt.Errorf("cannot register a definition without a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.definitions[def.Name] = def
	return nil
}

// Get returns the definition registered under name.
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.definitions[name]
	return def, ok
}

// FindByEvent returns every definition that serves the lifecycle event,
// sorted by name.
func (r *Registry) FindByEvent(lifecycleEvent string) []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []*Definition
	for _, def := range r.definitions {
		if def.Matches(lifecycleEvent) {
			matches = append(matches, def)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Name < matches[j].Name })
	return matches
}

// List returns all registered workflow names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.definitions))
	for name := range r.definitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadDir loads every workflow document (*.yaml, *.yml, *.json) in a
// directory into the registry. The first load error aborts; partially
// loaded definitions stay registered.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read workflow directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !isWorkflowFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := r.LoadPath(path); err != nil {
			return err
		}
	}
	return nil
}

// LoadPath loads a single workflow file into the registry and remembers its
// source path so the watcher can reload it.
func (r *Registry) LoadPath(path string) error {
	def, err := r.loader.LoadFile(path)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.definitions[def.Name] = def
	r.sources[path] = def.Name
	return nil
}

// Remove drops the definition that was loaded from path, if any.
func (r *Registry) Remove(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name, ok := r.sources[path]; ok {
		delete(r.definitions, name)
		delete(r.sources, path)
	}
}

// isWorkflowFile reports whether the filename looks like a workflow document.
func isWorkflowFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return true
	default:
		return false
	}
}
