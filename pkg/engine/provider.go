package engine

import (
	"context"
)

// Provider is the minimal contract every connected system implements. A
// provider advertises what it can do through GetCapabilities; the plan
// builder refuses any plan whose steps need more than the wired providers
// advertise. Operation support is expressed through the narrow interfaces
// below, which a provider implements selectively.
type Provider interface {
	// Name identifies the provider instance, e.g. "memory" or "ldap-corp".
	Name() string

	// GetCapabilities returns the capability names this provider supports.
	GetCapabilities() []string
}

// AuthSession is an opaque session handle produced by a session broker and
// threaded into provider operations. The engine never inspects, stores, or
// logs its contents.
type AuthSession interface{}

// IdentityReader reads identities from the connected system.
type IdentityReader interface {
	// GetIdentity looks up an identity by its keys.
	GetIdentity(ctx context.Context, req *GetIdentityRequest) (*GetIdentityResult, error)
}

// IdentityWriter creates identities and converges their attributes.
type IdentityWriter interface {
	// CreateIdentity creates the identity if it does not already exist.
	CreateIdentity(ctx context.Context, req *CreateIdentityRequest) (*CreateIdentityResult, error)

	// EnsureAttribute sets an attribute to a desired value. Implementations
	// must be idempotent: a second call with the same value reports
	// Changed=false.
	EnsureAttribute(ctx context.Context, req *EnsureAttributeRequest) (*EnsureAttributeResult, error)
}

// IdentityLifecycler disables and deletes identities.
type IdentityLifecycler interface {
	// DisableIdentity blocks the identity from signing in without removing it.
	DisableIdentity(ctx context.Context, req *DisableIdentityRequest) (*DisableIdentityResult, error)

	// DeleteIdentity removes the identity permanently.
	DeleteIdentity(ctx context.Context, req *DeleteIdentityRequest) (*DeleteIdentityResult, error)
}

// EntitlementManager reads and converges entitlement assignments.
type EntitlementManager interface {
	// ListEntitlements returns the entitlements currently assigned.
	ListEntitlements(ctx context.Context, req *ListEntitlementsRequest) (*ListEntitlementsResult, error)

	// GrantEntitlement assigns an entitlement. Granting an entitlement the
	// identity already holds reports Changed=false.
	GrantEntitlement(ctx context.Context, req *GrantEntitlementRequest) (*GrantEntitlementResult, error)

	// RevokeEntitlement removes an entitlement. Revoking an entitlement the
	// identity does not hold reports Changed=false.
	RevokeEntitlement(ctx context.Context, req *RevokeEntitlementRequest) (*RevokeEntitlementResult, error)
}

// GetIdentityRequest contains the parameters for a GetIdentity operation.
type GetIdentityRequest struct {
	// Session is the broker-issued session for the provider.
	Session AuthSession `json:"-"`

	// IdentityKeys identify the subject, e.g. employeeId or upn.
	IdentityKeys map[string]interface{} `json:"IdentityKeys"`
}

// GetIdentityResult contains the result of a GetIdentity operation.
type GetIdentityResult struct {
	// Found indicates whether the identity exists.
	Found bool `json:"Found"`

	// Identity is the attribute document, nil when not found.
	Identity map[string]interface{} `json:"Identity,omitempty"`

	// Changed is always false for reads.
	Changed bool `json:"Changed"`
}

// CreateIdentityRequest contains the parameters for a CreateIdentity operation.
type CreateIdentityRequest struct {
	// Session is the broker-issued session for the provider.
	Session AuthSession `json:"-"`

	// IdentityKeys identify the subject to create.
	IdentityKeys map[string]interface{} `json:"IdentityKeys"`

	// Attributes are the initial attribute values.
	Attributes map[string]interface{} `json:"Attributes,omitempty"`
}

// CreateIdentityResult contains the result of a CreateIdentity operation.
type CreateIdentityResult struct {
	// Changed is false when the identity already existed.
	Changed bool `json:"Changed"`

	// Identity is the attribute document after the operation.
	Identity map[string]interface{} `json:"Identity,omitempty"`
}

// EnsureAttributeRequest contains the parameters for an EnsureAttribute operation.
type EnsureAttributeRequest struct {
	// Session is the broker-issued session for the provider.
	Session AuthSession `json:"-"`

	// IdentityKeys identify the subject.
	IdentityKeys map[string]interface{} `json:"IdentityKeys"`

	// Attribute is the attribute name to converge.
	Attribute string `json:"Attribute"`

	// Value is the desired attribute value.
	Value interface{} `json:"Value"`
}

// EnsureAttributeResult contains the result of an EnsureAttribute operation.
type EnsureAttributeResult struct {
	// Changed is false when the attribute already held the desired value.
	Changed bool `json:"Changed"`

	// PreviousValue is the value before the operation, nil when unset.
	PreviousValue interface{} `json:"PreviousValue,omitempty"`
}

// DisableIdentityRequest contains the parameters for a DisableIdentity operation.
type DisableIdentityRequest struct {
	// Session is the broker-issued session for the provider.
	Session AuthSession `json:"-"`

	// IdentityKeys identify the subject.
	IdentityKeys map[string]interface{} `json:"IdentityKeys"`

	// Reason is recorded with the disablement, e.g. "leaver".
	Reason string `json:"Reason,omitempty"`
}

// DisableIdentityResult contains the result of a DisableIdentity operation.
type DisableIdentityResult struct {
	// Changed is false when the identity was already disabled.
	Changed bool `json:"Changed"`
}

// DeleteIdentityRequest contains the parameters for a DeleteIdentity operation.
type DeleteIdentityRequest struct {
	// Session is the broker-issued session for the provider.
	Session AuthSession `json:"-"`

	// IdentityKeys identify the subject.
	IdentityKeys map[string]interface{} `json:"IdentityKeys"`
}

// DeleteIdentityResult contains the result of a DeleteIdentity operation.
type DeleteIdentityResult struct {
	// Changed is false when the identity did not exist.
	Changed bool `json:"Changed"`
}

// ListEntitlementsRequest contains the parameters for a ListEntitlements operation.
type ListEntitlementsRequest struct {
	// Session is the broker-issued session for the provider.
	Session AuthSession `json:"-"`

	// IdentityKeys identify the subject.
	IdentityKeys map[string]interface{} `json:"IdentityKeys"`
}

// ListEntitlementsResult contains the result of a ListEntitlements operation.
type ListEntitlementsResult struct {
	// Entitlements are the assigned entitlement identifiers, sorted.
	Entitlements []string `json:"Entitlements"`

	// Changed is always false for reads.
	Changed bool `json:"Changed"`
}

// GrantEntitlementRequest contains the parameters for a GrantEntitlement operation.
type GrantEntitlementRequest struct {
	// Session is the broker-issued session for the provider.
	Session AuthSession `json:"-"`

	// IdentityKeys identify the subject.
	IdentityKeys map[string]interface{} `json:"IdentityKeys"`

	// Entitlement is the entitlement identifier to grant.
	Entitlement string `json:"Entitlement"`
}

// GrantEntitlementResult contains the result of a GrantEntitlement operation.
type GrantEntitlementResult struct {
	// Changed is false when the entitlement was already assigned.
	Changed bool `json:"Changed"`
}

// RevokeEntitlementRequest contains the parameters for a RevokeEntitlement operation.
type RevokeEntitlementRequest struct {
	// Session is the broker-issued session for the provider.
	Session AuthSession `json:"-"`

	// IdentityKeys identify the subject.
	IdentityKeys map[string]interface{} `json:"IdentityKeys"`

	// Entitlement is the entitlement identifier to revoke.
	Entitlement string `json:"Entitlement"`
}

// RevokeEntitlementResult contains the result of a RevokeEntitlement operation.
type RevokeEntitlementResult struct {
	// Changed is false when the entitlement was not assigned.
	Changed bool `json:"Changed"`
}

const (
	// CapabilityIdentityRead allows reading identities.
	CapabilityIdentityRead = "IdLE.Identity.Read"

	// CapabilityIdentityCreate allows creating identities.
	CapabilityIdentityCreate = "IdLE.Identity.Create"

	// CapabilityIdentityWrite allows converging identity attributes.
	CapabilityIdentityWrite = "IdLE.Identity.Write"

	// CapabilityIdentityDisable allows disabling identities.
	CapabilityIdentityDisable = "IdLE.Identity.Disable"

	// CapabilityIdentityDelete allows deleting identities.
	CapabilityIdentityDelete = "IdLE.Identity.Delete"

	// CapabilityEntitlementRead allows listing entitlement assignments.
	CapabilityEntitlementRead = "IdLE.Entitlement.Read"

	// CapabilityEntitlementGrant allows granting entitlements.
	CapabilityEntitlementGrant = "IdLE.Entitlement.Grant"

	// CapabilityEntitlementRevoke allows revoking entitlements.
	CapabilityEntitlementRevoke = "IdLE.Entitlement.Revoke"
)

// HasCapability reports whether the provider advertises the capability.
func HasCapability(p Provider, capability string) bool {
	for _, c := range p.GetCapabilities() {
		if c == capability {
			return true
		}
	}
	return false
}
