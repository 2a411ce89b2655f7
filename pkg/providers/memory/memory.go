package memory

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/idlecore/idle/pkg/engine"
)

// Provider is an in-memory identity system. It implements every engine
// operation interface over a table keyed by identity keys and is the
// reference provider for tests and the CLI demo path.
//
// All operations are idempotent in their Changed reporting: repeating an
// operation that already holds reports Changed=false. The zero failure state
// never errors; injected faults via FailTimes surface as transient errors so
// retry behavior can be exercised.
type Provider struct {
	mu         sync.Mutex
	name       string
	identities map[string]*identityRecord
	failures   map[string]int
}

// identityRecord is one stored identity. The disabled flag is authoritative
// for the Enabled attribute in returned documents.
type identityRecord struct {
	keys         map[string]interface{}
	attributes   map[string]interface{}
	entitlements map[string]bool
	disabled     bool
}

// New creates an empty provider named "memory".
func New() *Provider {
	return NewNamed("memory")
}

// NewNamed creates an empty provider with a custom instance name.
func NewNamed(name string) *Provider {
	return &Provider{
		name:       name,
		identities: make(map[string]*identityRecord),
		failures:   make(map[string]int),
	}
}

// Name identifies the provider instance.
func (p *Provider) Name() string {
	return p.name
}

// GetCapabilities returns every capability: the memory provider supports the
// full operation surface.
func (p *Provider) GetCapabilities() []string {
	return []string{
		engine.CapabilityIdentityRead,
		engine.CapabilityIdentityCreate,
		engine.CapabilityIdentityWrite,
		engine.CapabilityIdentityDisable,
		engine.CapabilityIdentityDelete,
		engine.CapabilityEntitlementRead,
		engine.CapabilityEntitlementGrant,
		engine.CapabilityEntitlementRevoke,
	}
}

// FailTimes makes the next n calls to the named operation return a transient
// error. Operation names match the interface methods, e.g. "CreateIdentity".
func (p *Provider) FailTimes(operation string, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[operation] = n
}

// GetIdentity looks up an identity by its keys.
func (p *Provider) GetIdentity(ctx context.Context, req *engine.GetIdentityRequest) (*engine.GetIdentityResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.injectedFault("GetIdentity"); err != nil {
		return nil, err
	}

	rec, ok := p.identities[identityKey(req.IdentityKeys)]
	if !ok {
		return &engine.GetIdentityResult{Found: false}, nil
	}

	return &engine.GetIdentityResult{
		Found:    true,
		Identity: rec.document(),
	}, nil
}

// CreateIdentity creates the identity if it does not already exist.
func (p *Provider) CreateIdentity(ctx context.Context, req *engine.CreateIdentityRequest) (*engine.CreateIdentityResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.injectedFault("CreateIdentity"); err != nil {
		return nil, err
	}

	key := identityKey(req.IdentityKeys)
	if rec, ok := p.identities[key]; ok {
		return &engine.CreateIdentityResult{
			Changed:  false,
			Identity: rec.document(),
		}, nil
	}

	rec := &identityRecord{
		keys:         copyMap(req.IdentityKeys),
		attributes:   copyMap(req.Attributes),
		entitlements: make(map[string]bool),
	}
	p.identities[key] = rec

	return &engine.CreateIdentityResult{
		Changed:  true,
		Identity: rec.document(),
	}, nil
}

// EnsureAttribute sets an attribute to a desired value. The Enabled attribute
// is owned by the lifecycle operations and cannot be set here.
func (p *Provider) EnsureAttribute(ctx context.Context, req *engine.EnsureAttributeRequest) (*engine.EnsureAttributeResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.injectedFault("EnsureAttribute"); err != nil {
		return nil, err
	}

	if req.Attribute == "Enabled" {
		return nil, engine.NewPermanentError(
			"attribute \"Enabled\" is managed by lifecycle operations", nil)
	}

	rec, err := p.lookup(req.IdentityKeys)
	if err != nil {
		return nil, err
	}

	prev, had := rec.attributes[req.Attribute]
	if had && reflect.DeepEqual(prev, req.Value) {
		return &engine.EnsureAttributeResult{
			Changed:       false,
			PreviousValue: prev,
		}, nil
	}

	rec.attributes[req.Attribute] = req.Value

	result := &engine.EnsureAttributeResult{Changed: true}
	if had {
		result.PreviousValue = prev
	}
	return result, nil
}

// DisableIdentity blocks the identity from signing in without removing it.
func (p *Provider) DisableIdentity(ctx context.Context, req *engine.DisableIdentityRequest) (*engine.DisableIdentityResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.injectedFault("DisableIdentity"); err != nil {
		return nil, err
	}

	rec, err := p.lookup(req.IdentityKeys)
	if err != nil {
		return nil, err
	}

	if rec.disabled {
		return &engine.DisableIdentityResult{Changed: false}, nil
	}

	rec.disabled = true
	return &engine.DisableIdentityResult{Changed: true}, nil
}

// DeleteIdentity removes the identity permanently. Deleting an identity that
// does not exist reports Changed=false.
func (p *Provider) DeleteIdentity(ctx context.Context, req *engine.DeleteIdentityRequest) (*engine.DeleteIdentityResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.injectedFault("DeleteIdentity"); err != nil {
		return nil, err
	}

	key := identityKey(req.IdentityKeys)
	if _, ok := p.identities[key]; !ok {
		return &engine.DeleteIdentityResult{Changed: false}, nil
	}

	delete(p.identities, key)
	return &engine.DeleteIdentityResult{Changed: true}, nil
}

// ListEntitlements returns the entitlements currently assigned, sorted.
func (p *Provider) ListEntitlements(ctx context.Context, req *engine.ListEntitlementsRequest) (*engine.ListEntitlementsResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.injectedFault("ListEntitlements"); err != nil {
		return nil, err
	}

	rec, err := p.lookup(req.IdentityKeys)
	if err != nil {
		return nil, err
	}

	entitlements := make([]string, 0, len(rec.entitlements))
	for e := range rec.entitlements {
		entitlements = append(entitlements, e)
	}
	sort.Strings(entitlements)

	return &engine.ListEntitlementsResult{Entitlements: entitlements}, nil
}

// GrantEntitlement assigns an entitlement.
func (p *Provider) GrantEntitlement(ctx context.Context, req *engine.GrantEntitlementRequest) (*engine.GrantEntitlementResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.injectedFault("GrantEntitlement"); err != nil {
		return nil, err
	}

	rec, err := p.lookup(req.IdentityKeys)
	if err != nil {
		return nil, err
	}

	if rec.entitlements[req.Entitlement] {
		return &engine.GrantEntitlementResult{Changed: false}, nil
	}

	rec.entitlements[req.Entitlement] = true
	return &engine.GrantEntitlementResult{Changed: true}, nil
}

// RevokeEntitlement removes an entitlement.
func (p *Provider) RevokeEntitlement(ctx context.Context, req *engine.RevokeEntitlementRequest) (*engine.RevokeEntitlementResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.injectedFault("RevokeEntitlement"); err != nil {
		return nil, err
	}

	rec, err := p.lookup(req.IdentityKeys)
	if err != nil {
		return nil, err
	}

	if !rec.entitlements[req.Entitlement] {
		return &engine.RevokeEntitlementResult{Changed: false}, nil
	}

	delete(rec.entitlements, req.Entitlement)
	return &engine.RevokeEntitlementResult{Changed: true}, nil
}

// lookup finds a record by identity keys. Callers hold the mutex.
func (p *Provider) lookup(keys map[string]interface{}) (*identityRecord, error) {
	rec, ok := p.identities[identityKey(keys)]
	if !ok {
		return nil, engine.NewPermanentError(
			fmt.Sprintf("identity not found: %s", identityKey(keys)), nil)
	}
	return rec, nil
}

// injectedFault consumes one injected failure for the operation, if any.
// Callers hold the mutex.
func (p *Provider) injectedFault(operation string) error {
	if remaining := p.failures[operation]; remaining > 0 {
		p.failures[operation] = remaining - 1
		return engine.NewTransientError(
			fmt.Sprintf("injected fault in %s", operation), nil)
	}
	return nil
}

// document builds the attribute document returned to callers: identity keys,
// then attributes, then the authoritative Enabled flag.
func (r *identityRecord) document() map[string]interface{} {
	doc := make(map[string]interface{}, len(r.keys)+len(r.attributes)+1)
	for k, v := range r.keys {
		doc[k] = v
	}
	for k, v := range r.attributes {
		doc[k] = v
	}
	doc["Enabled"] = !r.disabled
	return doc
}

// identityKey canonicalizes identity keys into a deterministic string:
// sorted key=value pairs joined with "&".
func identityKey(keys map[string]interface{}) string {
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, k := range names {
		parts = append(parts, fmt.Sprintf("%s=%v", k, keys[k]))
	}
	return strings.Join(parts, "&")
}

func copyMap(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

var (
	_ engine.Provider           = (*Provider)(nil)
	_ engine.IdentityReader     = (*Provider)(nil)
	_ engine.IdentityWriter     = (*Provider)(nil)
	_ engine.IdentityLifecycler = (*Provider)(nil)
	_ engine.EntitlementManager = (*Provider)(nil)
)
