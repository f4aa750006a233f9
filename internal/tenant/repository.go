package tenant

import (
	"context"
	"errors"
)

var (
	ErrTenantNotFound   = errors.New("tenant not found")
	ErrResourceNotFound = errors.New("resource not found")
	ErrResourceExists   = errors.New("resource already exists for tenant")
	ErrRealmTaken       = errors.New("realm name already taken")
	ErrConfigKeyMissing = errors.New("required resource configuration key missing")
	ErrInvalidStatus    = errors.New("invalid status value")
	ErrStaleTransition  = errors.New("stale status transition")
)

// Repository defines read/create access to tenants.
type Repository interface {
	Create(ctx context.Context, t *Tenant) error
	GetByID(ctx context.Context, id string) (*Tenant, error)
	GetByRealm(ctx context.Context, realm string) (*Tenant, error)
	// List returns tenants ordered by creation time, with their resources
	// and contacts loaded. Used by the connection router's paginated
	// bootstrap.
	List(ctx context.Context, limit, offset int) ([]*Tenant, error)
}

// Progress is one status/config update reported for a resource.
type Progress struct {
	TenantID       string
	ResourceID     string
	Status         Status
	Config         map[string]string
	FailureMessage string
}

// Store is the state store owning all tenant/resource transitions. Both
// mutations commit the resource and the derived tenant status as a single
// atomic unit, and serialize concurrent updates per tenant row.
type Store interface {
	Repository

	// AddResource creates a resource of the given type for the tenant in
	// PROVISIONING_INITIATED with the given initial configuration, and
	// moves the tenant to PROVISIONING_IN_PROGRESS. Returns
	// ErrResourceExists when a non-failed resource of that type already
	// exists (the idempotency gate). A PROVISIONING_FAILED resource is
	// reset instead, which is what allows an operator to re-submit a
	// failed provisioning attempt.
	AddResource(ctx context.Context, tenantID string, typ ResourceType, config map[string]string) (*Resource, error)

	// ApplyProgress applies one progress update: sets the resource status,
	// merges the config map, records the failure message on
	// PROVISIONING_FAILED, and derives the tenant status. Returns the
	// updated tenant and resource.
	ApplyProgress(ctx context.Context, p Progress) (*Tenant, *Resource, error)
}
