package clouddb

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rvcplatform/provisioner/internal/provision"
	"github.com/rvcplatform/provisioner/internal/tenant"
)

// recordingReporter captures the reported contexts in order.
type recordingReporter struct {
	mu      sync.Mutex
	updates []provision.Context
}

func (r *recordingReporter) Update(ctx context.Context, pc provision.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, pc)
}

func (r *recordingReporter) statuses() []tenant.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]tenant.Status, 0, len(r.updates))
	for _, u := range r.updates {
		out = append(out, u.ResourceStatus)
	}
	return out
}

func fastConfig() Config {
	return Config{
		AccountID:         "acct-1",
		AuthorizedNetwork: "10.0.0.0/8",
		PollInterval:      time.Millisecond,
		PollTimeout:       time.Second,
	}
}

func dedicatedRequest() provision.DatabaseRequest {
	return provision.DatabaseRequest{
		TenantID:     "tenant-1",
		Realm:        "acme",
		ResourceID:   "res-1",
		Dedicated:    true,
		InstanceName: "test-acme-rvc-platform-db",
		DatabaseName: "test_acme_rvc_platform_db",
		Schema:       "public",
		Username:     "acme_svc",
		Password:     "plaintext",
	}
}

func TestCloudDB_Provision_DedicatedHappyPath(t *testing.T) {
	admin := NewMemoryAdmin()
	admin.PollsUntilDone = 2
	p := New(admin, fastConfig())
	reporter := &recordingReporter{}

	req := dedicatedRequest()
	require.NoError(t, p.Provision(context.Background(), req, reporter))
	require.NoError(t, p.Populate(context.Background(), req, reporter))

	assert.True(t, admin.HasInstance(req.InstanceName))
	assert.Equal(t, []string{req.DatabaseName}, admin.Databases(req.InstanceName))

	assert.Equal(t, []tenant.Status{
		tenant.StatusProvisioningInitiated,
		tenant.StatusProvisioningInProgress,
		tenant.StatusProvisioningInProgress,
		tenant.StatusProvisioningCompleted,
		tenant.StatusActive,
	}, reporter.statuses())

	// External operation ids are reported as soon as they exist.
	inProgress := reporter.updates[1]
	_, ok := inProgress.OperationID("create-instance")
	assert.True(t, ok)
	last := reporter.updates[len(reporter.updates)-1]
	assert.Equal(t, req.InstanceName, last.DBInstanceName)
	assert.Equal(t, "acct-1", last.AccountID)
}

func TestCloudDB_Provision_SharedSkipsInstanceCreation(t *testing.T) {
	admin := NewMemoryAdmin()
	p := New(admin, fastConfig())
	reporter := &recordingReporter{}

	req := dedicatedRequest()
	req.Dedicated = false
	req.InstanceName = "test-shared-rvc-platform-db"
	req.Schema = "acme"

	require.NoError(t, p.Provision(context.Background(), req, reporter))

	assert.False(t, admin.HasInstance(req.InstanceName))
	assert.Equal(t, []string{req.DatabaseName}, admin.Databases(req.InstanceName))

	statuses := reporter.statuses()
	assert.Equal(t, tenant.StatusProvisioningCompleted, statuses[len(statuses)-1])
}

func TestCloudDB_Provision_OperationTimeout(t *testing.T) {
	admin := NewMemoryAdmin()
	admin.PollsUntilDone = 1 << 30 // never completes
	cfg := fastConfig()
	cfg.PollTimeout = 10 * time.Millisecond
	p := New(admin, cfg)

	err := p.Provision(context.Background(), dedicatedRequest(), &recordingReporter{})

	require.Error(t, err)
	assert.ErrorIs(t, err, provision.ErrOperationTimeout)
}

func TestCloudDB_Provision_DuplicateInstanceFails(t *testing.T) {
	admin := NewMemoryAdmin()
	p := New(admin, fastConfig())

	req := dedicatedRequest()
	require.NoError(t, p.Provision(context.Background(), req, &recordingReporter{}))

	err := p.Provision(context.Background(), req, &recordingReporter{})
	assert.Error(t, err)
}
