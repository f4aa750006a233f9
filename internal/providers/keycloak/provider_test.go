package keycloak

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rvcplatform/provisioner/internal/provision"
	"github.com/rvcplatform/provisioner/internal/tenant"
)

type recordingReporter struct {
	mu      sync.Mutex
	updates []provision.Context
}

func (r *recordingReporter) Update(ctx context.Context, pc provision.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, pc)
}

func TestKeycloak_ProvisionRealm_HappyPath(t *testing.T) {
	admin := NewMemoryAdmin()
	p := New(admin, "https://id.example.com/")
	reporter := &recordingReporter{}

	req := provision.RealmRequest{
		TenantID:    "tenant-1",
		Realm:       "acme",
		ResourceID:  "res-1",
		DisplayName: "Acme Corp",
	}
	require.NoError(t, p.ProvisionRealm(context.Background(), req, reporter))

	exists, err := admin.RealmExists(context.Background(), "acme")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, []string{"tenant-admin", "tenant-user"}, admin.Roles("acme"))

	require.NotEmpty(t, reporter.updates)
	first := reporter.updates[0]
	assert.Equal(t, tenant.StatusProvisioningInitiated, first.ResourceStatus)

	last := reporter.updates[len(reporter.updates)-1]
	assert.Equal(t, tenant.StatusActive, last.ResourceStatus)
	assert.Equal(t, "https://id.example.com/realms/acme/account", last.IAMAccountConsoleURL)
	assert.Equal(t, "https://id.example.com/realms/acme", last.IAMApplicationURL)
	assert.Equal(t, "https://id.example.com/admin/acme/console", last.IAMAdminConsoleURL)
}

func TestKeycloak_ProvisionRealm_DuplicateRealmFails(t *testing.T) {
	admin := NewMemoryAdmin()
	admin.Seed("acme")
	p := New(admin, "https://id.example.com")

	err := p.ProvisionRealm(context.Background(), provision.RealmRequest{
		TenantID:   "tenant-1",
		Realm:      "acme",
		ResourceID: "res-1",
	}, &recordingReporter{})

	assert.Error(t, err)
}

func TestKeycloak_RealmExists(t *testing.T) {
	admin := NewMemoryAdmin()
	p := New(admin, "https://id.example.com")

	exists, err := p.RealmExists(context.Background(), "acme")
	require.NoError(t, err)
	assert.False(t, exists)

	admin.Seed("acme")
	exists, err = p.RealmExists(context.Background(), "acme")
	require.NoError(t, err)
	assert.True(t, exists)
}
