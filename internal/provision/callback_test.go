package provision

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/rvcplatform/provisioner/internal/audit"
	"github.com/rvcplatform/provisioner/internal/events"
	"github.com/rvcplatform/provisioner/internal/store/memory"
	"github.com/rvcplatform/provisioner/internal/tenant"
)

// recordingPublisher captures published events for assertions.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) byType(t events.Type) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// recordingAudit captures audit events for assertions.
type recordingAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (a *recordingAudit) Log(ctx context.Context, e audit.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
}

func (a *recordingAudit) types() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.events))
	for _, e := range a.events {
		out = append(out, e.Type)
	}
	return out
}

func seedTenant(t *testing.T, store tenant.Store, category tenant.Category) *tenant.Tenant {
	t.Helper()
	tn := &tenant.Tenant{
		ID:          "tenant-1",
		Realm:       "acme",
		DisplayName: "Acme Corp",
		Category:    category,
		Status:      tenant.StatusCreated,
		Secret:      "dGVzdC1zZWNyZXQtbWF0ZXJpYWw",
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	require.NoError(t, store.Create(context.Background(), tn))
	return tn
}

func TestStoreReporter_IgnoresUpdateMissingMandatoryFields(t *testing.T) {
	store := memory.NewTenantStore()
	publisher := &recordingPublisher{}
	reporter := NewStoreReporter(store, publisher, &recordingAudit{})

	tn := seedTenant(t, store, tenant.CategorySmall)

	// No resource id, no status: absorbed with a warning, nothing applied.
	reporter.Update(context.Background(), NewContext().WithTenant(tn.ID))

	got, err := store.GetByID(context.Background(), tn.ID)
	require.NoError(t, err)
	assert.Equal(t, tenant.StatusCreated, got.Status)
	assert.Empty(t, publisher.events)
}

func TestStoreReporter_AppliesProgressAndConfig(t *testing.T) {
	store := memory.NewTenantStore()
	reporter := NewStoreReporter(store, &recordingPublisher{}, &recordingAudit{})

	tn := seedTenant(t, store, tenant.CategorySmall)
	res, err := store.AddResource(context.Background(), tn.ID, tenant.ResourceTypeDatabase, nil)
	require.NoError(t, err)

	reporter.Update(context.Background(), NewContext().
		WithTenant(tn.ID).
		WithResource(res.ID).
		WithStatus(tenant.StatusProvisioningInProgress).
		WithOperationID("create-database", "op-9"))

	got, err := store.GetByID(context.Background(), tn.ID)
	require.NoError(t, err)
	dbRes := got.Resource(tenant.ResourceTypeDatabase)
	assert.Equal(t, tenant.StatusProvisioningInProgress, dbRes.Status)
	assert.Equal(t, "op-9", dbRes.Config[tenant.OperationIDKeyPrefix+"create-database"])
}

func TestStoreReporter_FailureAuditsAndRecordsMessage(t *testing.T) {
	store := memory.NewTenantStore()
	publisher := &recordingPublisher{}
	auditLog := &recordingAudit{}
	reporter := NewStoreReporter(store, publisher, auditLog)

	tn := seedTenant(t, store, tenant.CategorySmall)
	res, err := store.AddResource(context.Background(), tn.ID, tenant.ResourceTypeDatabase, nil)
	require.NoError(t, err)

	reporter.Update(context.Background(), NewContext().
		WithTenant(tn.ID).
		WithResource(res.ID).
		WithStatus(tenant.StatusProvisioningFailed).
		WithError("instance quota exceeded"))

	got, err := store.GetByID(context.Background(), tn.ID)
	require.NoError(t, err)
	assert.Equal(t, tenant.StatusProvisioningFailed, got.Status)
	assert.Equal(t, "instance quota exceeded", got.Resource(tenant.ResourceTypeDatabase).FailureMessage)
	assert.Contains(t, auditLog.types(), audit.TypeProvisioningFailed)
	assert.Empty(t, publisher.events)
}

func TestStoreReporter_ActiveResourcePublishesActivatedEvent(t *testing.T) {
	store := memory.NewTenantStore()
	publisher := &recordingPublisher{}
	reporter := NewStoreReporter(store, publisher, &recordingAudit{})

	tn := seedTenant(t, store, tenant.CategorySmall)
	res, err := store.AddResource(context.Background(), tn.ID, tenant.ResourceTypeDatabase, nil)
	require.NoError(t, err)

	reporter.Update(context.Background(), NewContext().
		WithTenant(tn.ID).
		WithResource(res.ID).
		WithStatus(tenant.StatusActive))

	activated := publisher.byType(events.TypeDatabaseProvisioned)
	require.Len(t, activated, 1)
	assert.Equal(t, tn.ID, activated[0].TenantID)
	assert.Equal(t, "acme", activated[0].Realm)

	// Only the database is active: the tenant is not, so contacts are
	// not notified yet.
	got, err := store.GetByID(context.Background(), tn.ID)
	require.NoError(t, err)
	assert.Equal(t, tenant.StatusProvisioningInProgress, got.Status)
	assert.Empty(t, publisher.byType(events.TypeContactsNotify))
}

func TestStoreReporter_LateUpdateAfterActiveIsIgnored(t *testing.T) {
	store := memory.NewTenantStore()
	publisher := &recordingPublisher{}
	reporter := NewStoreReporter(store, publisher, &recordingAudit{})

	tn := seedTenant(t, store, tenant.CategorySmall)
	res, err := store.AddResource(context.Background(), tn.ID, tenant.ResourceTypeDatabase, nil)
	require.NoError(t, err)

	ctx := context.Background()
	reporter.Update(ctx, NewContext().WithTenant(tn.ID).WithResource(res.ID).WithStatus(tenant.StatusActive))

	// A delayed duplicate of an earlier callback arrives out of order.
	reporter.Update(ctx, NewContext().WithTenant(tn.ID).WithResource(res.ID).WithStatus(tenant.StatusProvisioningInProgress))

	got, err := store.GetByID(ctx, tn.ID)
	require.NoError(t, err)
	assert.Equal(t, tenant.StatusActive, got.Resource(tenant.ResourceTypeDatabase).Status)
	// The stale update fires no second round of events.
	assert.Len(t, publisher.byType(events.TypeDatabaseProvisioned), 1)
}

func TestStoreReporter_TenantActiveNotifiesContacts(t *testing.T) {
	store := memory.NewTenantStore()
	publisher := &recordingPublisher{}
	auditLog := &recordingAudit{}
	reporter := NewStoreReporter(store, publisher, auditLog)

	tn := seedTenant(t, store, tenant.CategorySmall)
	dbRes, err := store.AddResource(context.Background(), tn.ID, tenant.ResourceTypeDatabase, nil)
	require.NoError(t, err)
	realmRes, err := store.AddResource(context.Background(), tn.ID, tenant.ResourceTypeIdentityRealm, nil)
	require.NoError(t, err)

	ctx := context.Background()
	reporter.Update(ctx, NewContext().WithTenant(tn.ID).WithResource(dbRes.ID).WithStatus(tenant.StatusActive))
	reporter.Update(ctx, NewContext().WithTenant(tn.ID).WithResource(realmRes.ID).WithStatus(tenant.StatusActive))

	got, err := store.GetByID(ctx, tn.ID)
	require.NoError(t, err)
	assert.Equal(t, tenant.StatusActive, got.Status)

	assert.Len(t, publisher.byType(events.TypeRealmProvisioned), 1)
	assert.Len(t, publisher.byType(events.TypeContactsNotify), 1)
	assert.Contains(t, auditLog.types(), audit.TypeTenantActivated)
}

// collectCounter sums the data points of one int64 counter from the reader.
func collectCounter(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var total int64
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestStoreReporter_RecordsProvisioningOutcomeCounters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))

	store := memory.NewTenantStore()
	reporter := NewStoreReporter(store, &recordingPublisher{}, &recordingAudit{})

	tn := seedTenant(t, store, tenant.CategorySmall)
	dbRes, err := store.AddResource(context.Background(), tn.ID, tenant.ResourceTypeDatabase, nil)
	require.NoError(t, err)
	realmRes, err := store.AddResource(context.Background(), tn.ID, tenant.ResourceTypeIdentityRealm, nil)
	require.NoError(t, err)

	ctx := context.Background()
	reporter.Update(ctx, NewContext().WithTenant(tn.ID).WithResource(dbRes.ID).WithStatus(tenant.StatusActive))
	reporter.Update(ctx, NewContext().WithTenant(tn.ID).WithResource(realmRes.ID).WithStatus(tenant.StatusProvisioningFailed).WithError("boom"))

	assert.Equal(t, int64(1), collectCounter(t, reader, "provisioner.resources.activated"))
	assert.Equal(t, int64(1), collectCounter(t, reader, "provisioner.provisioning.failures"))
	assert.Equal(t, int64(0), collectCounter(t, reader, "provisioner.tenants.activated"))
}

func TestStoreReporter_DuplicateTerminalUpdateIsHarmless(t *testing.T) {
	store := memory.NewTenantStore()
	publisher := &recordingPublisher{}
	reporter := NewStoreReporter(store, publisher, &recordingAudit{})

	tn := seedTenant(t, store, tenant.CategorySmall)
	res, err := store.AddResource(context.Background(), tn.ID, tenant.ResourceTypeDatabase, nil)
	require.NoError(t, err)

	update := NewContext().WithTenant(tn.ID).WithResource(res.ID).WithStatus(tenant.StatusActive)
	reporter.Update(context.Background(), update)
	reporter.Update(context.Background(), update)

	got, err := store.GetByID(context.Background(), tn.ID)
	require.NoError(t, err)
	assert.Equal(t, tenant.StatusActive, got.Resource(tenant.ResourceTypeDatabase).Status)
}
