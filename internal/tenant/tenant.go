package tenant

import (
	"encoding/json"
	"time"
)

// Status is the shared state vocabulary for tenants and resources.
type Status string

const (
	// StatusCreated is the initial tenant state, before any resource exists.
	StatusCreated Status = "CREATED"

	StatusProvisioningInitiated  Status = "PROVISIONING_INITIATED"
	StatusProvisioningInProgress Status = "PROVISIONING_IN_PROGRESS"
	StatusProvisioningCompleted  Status = "PROVISIONING_COMPLETED"
	StatusActive                 Status = "ACTIVE"
	StatusProvisioningFailed     Status = "PROVISIONING_FAILED"
)

// Terminal reports whether no further provisioning transitions are expected.
func (s Status) Terminal() bool {
	return s == StatusActive || s == StatusProvisioningFailed
}

// Valid reports whether s is part of the known vocabulary.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusProvisioningInitiated, StatusProvisioningInProgress,
		StatusProvisioningCompleted, StatusActive, StatusProvisioningFailed:
		return true
	}
	return false
}

// Category governs whether a tenant gets shared or dedicated infrastructure.
type Category string

const (
	CategorySmall      Category = "SMALL"
	CategoryMedium     Category = "MEDIUM"
	CategoryEnterprise Category = "ENTERPRISE"
)

// Dedicated reports whether the tenant gets an isolated database instance.
func (c Category) Dedicated() bool {
	return c == CategoryEnterprise
}

// ResourceType identifies one provisionable unit of tenant infrastructure.
type ResourceType string

const (
	ResourceTypeDatabase      ResourceType = "TENANT_DATABASE"
	ResourceTypeIdentityRealm ResourceType = "IDENTITY_REALM"
)

// Resource configuration keys persisted in the per-resource config map.
const (
	ConfigKeyJDBCURL        = "jdbcUrl"
	ConfigKeyUsername       = "username"
	ConfigKeyPassword       = "password" // always stored encrypted
	ConfigKeySchema         = "schema"
	ConfigKeyDBInstanceName = "dbInstanceName"
	ConfigKeyDBName         = "dbName"

	ConfigKeyIAMAccountConsoleURL = "iamAccountConsoleUrl"
	ConfigKeyIAMApplicationURL    = "iamApplicationUrl"
	ConfigKeyIAMAdminConsoleURL   = "iamAdminConsoleUrl"

	// OperationIDKeyPrefix prefixes one config key per logical external
	// sub-operation, e.g. "operationId.create-instance".
	OperationIDKeyPrefix = "operationId."
)

// Tenant is one customer account with its provisionable resources.
// Realm and ID are immutable once any Resource exists; there is no update
// path for either in this package.
type Tenant struct {
	ID          string   `json:"id"`
	Realm       string   `json:"realm"`
	DisplayName string   `json:"display_name"`
	Category    Category `json:"category"`
	Status      Status   `json:"status"`

	// Secret is per-tenant symmetric key material used to encrypt and
	// decrypt resource credentials. Never exposed over the API.
	Secret string `json:"-"`

	// Configuration is the opaque policy blob (password policy,
	// registration policy). Not interpreted by this service.
	Configuration json.RawMessage `json:"configuration,omitempty"`

	Resources []*Resource `json:"resources,omitempty"`
	Contacts  []Contact   `json:"contacts,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Resource is one provisionable unit belonging to exactly one tenant.
// At most one resource per (tenant, type) exists; the existence check in
// the store is the idempotency gate, the database uniqueness constraint is
// only defense in depth behind it.
type Resource struct {
	ID       string       `json:"id"`
	TenantID string       `json:"tenant_id"`
	Type     ResourceType `json:"type"`
	Status   Status       `json:"status"`

	Config         map[string]string `json:"config,omitempty"`
	FailureMessage string            `json:"failure_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Contact is a notification recipient attached to a tenant.
type Contact struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
}

// Resource returns the tenant's resource of the given type, or nil.
func (t *Tenant) Resource(typ ResourceType) *Resource {
	for _, r := range t.Resources {
		if r.Type == typ {
			return r
		}
	}
	return nil
}
