// Package providers wires concrete provider implementations into the engine.
//
// A Registry holds the provider instances for a deployment keyed by alias,
// the name workflows refer to them by. Wiring documents declare which
// provider type backs each alias; factories registered with a WiringLoader
// construct the instances. The registry optionally enforces a capability
// allowlist so a deployment can be locked down to a subset of operations
// regardless of what the wired providers advertise.
package providers

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/idlecore/idle/pkg/engine"
)

// Closer is implemented by providers that hold external connections and need
// teardown. The registry calls Close on shutdown; providers without state
// simply don't implement it.
type Closer interface {
	Close(ctx context.Context) error
}

// ProviderInfo describes a registered provider for listings.
type ProviderInfo struct {
	// Alias is the name workflows bind steps to.
	Alias string `json:"Alias"`

	// Name is the provider implementation's own name.
	Name string `json:"Name"`

	// Capabilities are the capability names the provider advertises.
	Capabilities []string `json:"Capabilities"`
}

// Registry manages the wired provider instances, keyed by alias.
type Registry struct {
	mu                  sync.RWMutex
	providers           map[string]engine.Provider
	allowedCapabilities map[string]bool
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers:           make(map[string]engine.Provider),
		allowedCapabilities: make(map[string]bool),
	}
}

// SetAllowedCapabilities restricts which capabilities registered providers
// may advertise. An empty allowlist permits everything.
func (r *Registry) SetAllowedCapabilities(capabilities []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.allowedCapabilities = make(map[string]bool)
	for _, c := range capabilities {
		r.allowedCapabilities[c] = true
	}
}

// Register adds a provider under the given alias.
func (r *Registry) Register(alias string, provider engine.Provider) error {
	if alias == "" {
		return fmt.Errorf("provider alias must not be empty")
	}
	if provider == nil {
		return fmt.Errorf("provider for alias %s must not be nil", alias)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[alias]; exists {
		return fmt.Errorf("provider alias %s already registered", alias)
	}

	if err := r.validateCapabilities(provider.GetCapabilities()); err != nil {
		return fmt.Errorf("capability validation failed for alias %s: %w", alias, err)
	}

	r.providers[alias] = provider
	return nil
}

// Get retrieves the provider registered under the alias.
func (r *Registry) Get(alias string) (engine.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, ok := r.providers[alias]
	if !ok {
		return nil, fmt.Errorf("provider alias %s not found", alias)
	}
	return provider, nil
}

// Aliases returns the registered aliases, sorted.
func (r *Registry) Aliases() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	aliases := make([]string, 0, len(r.providers))
	for alias := range r.providers {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	return aliases
}

// List returns information about every registered provider, sorted by alias.
func (r *Registry) List() []ProviderInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ProviderInfo, 0, len(r.providers))
	for alias, provider := range r.providers {
		infos = append(infos, ProviderInfo{
			Alias:        alias,
			Name:         provider.Name(),
			Capabilities: provider.GetCapabilities(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Alias < infos[j].Alias })
	return infos
}

// Providers returns a snapshot of the alias-to-provider map for handing to
// the engine. Mutating the snapshot does not affect the registry.
func (r *Registry) Providers() map[string]engine.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make(map[string]engine.Provider, len(r.providers))
	for alias, provider := range r.providers {
		snapshot[alias] = provider
	}
	return snapshot
}

// Unregister removes the provider under the alias, closing it if it
// implements Closer.
func (r *Registry) Unregister(ctx context.Context, alias string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	provider, ok := r.providers[alias]
	if !ok {
		return fmt.Errorf("provider alias %s not found", alias)
	}

	if closer, ok := provider.(Closer); ok {
		if err := closer.Close(ctx); err != nil {
			return fmt.Errorf("failed to close provider %s: %w", alias, err)
		}
	}

	delete(r.providers, alias)
	return nil
}

// ValidateCapabilities checks a capability list against the allowlist.
func (r *Registry) ValidateCapabilities(capabilities []string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.validateCapabilities(capabilities)
}

// validateCapabilities assumes the caller holds the lock.
func (r *Registry) validateCapabilities(capabilities []string) error {
	if len(r.allowedCapabilities) == 0 {
		return nil
	}

	var denied []string
	for _, c := range capabilities {
		if !r.allowedCapabilities[c] {
			denied = append(denied, c)
		}
	}
	if len(denied) > 0 {
		return fmt.Errorf("capabilities not allowed: %v", denied)
	}
	return nil
}

// Close shuts down every provider that implements Closer and clears the
// registry.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for alias, provider := range r.providers {
		if closer, ok := provider.(Closer); ok {
			if err := closer.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("failed to close provider %s: %w", alias, err))
			}
		}
	}

	r.providers = make(map[string]engine.Provider)

	if len(errs) > 0 {
		return fmt.Errorf("errors closing providers: %v", errs)
	}
	return nil
}
