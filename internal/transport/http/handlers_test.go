package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rvcplatform/provisioner/internal/audit"
	"github.com/rvcplatform/provisioner/internal/events"
	"github.com/rvcplatform/provisioner/internal/providers/clouddb"
	"github.com/rvcplatform/provisioner/internal/providers/keycloak"
	"github.com/rvcplatform/provisioner/internal/provision"
	"github.com/rvcplatform/provisioner/internal/router"
	"github.com/rvcplatform/provisioner/internal/store/memory"
	"github.com/rvcplatform/provisioner/internal/tenant"
)

// syncRunner keeps handler tests deterministic: provisioning tasks run
// inline instead of on the worker pool.
type syncRunner struct{}

func (syncRunner) Submit(name string, fn func(ctx context.Context)) {
	fn(context.Background())
}

type fixture struct {
	store  *memory.TenantStore
	router *router.Router
	server *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewTenantStore()
	auditLogger := audit.NewSlogLogger()
	bus := events.NewBus()
	t.Cleanup(bus.Wait)

	tenantService := tenant.NewService(store, bus, auditLogger)
	reporter := provision.NewStoreReporter(store, bus, auditLogger)

	registry := provision.NewRegistry()
	registry.RegisterDatabase(provision.ProviderCloudSQL, clouddb.New(clouddb.NewMemoryAdmin(), clouddb.Config{}))
	registry.RegisterRealm(provision.ProviderKeycloak, keycloak.New(keycloak.NewMemoryAdmin(), "http://id.local"))

	generator := &provision.Generator{
		Environment:        "test",
		SharedInstanceName: "test-shared-rvc-platform-db",
		SharedDatabaseName: "test_shared_rvc_platform_db",
		DatabaseHost:       "localhost",
		DatabasePort:       "5432",
	}

	databases := provision.NewDatabaseOrchestrator(store, registry, generator, syncRunner{}, reporter, auditLogger)
	realms := provision.NewRealmOrchestrator(store, registry, syncRunner{}, reporter, auditLogger)

	connRouter := router.New(store, router.WithOpenFunc(
		func(ctx context.Context, connString string) (*pgxpool.Pool, error) {
			return nil, nil
		}))
	t.Cleanup(connRouter.Close)

	handler := NewHandler(
		tenantService,
		provision.ProviderCloudSQL,
		provision.ProviderKeycloak,
		databases,
		realms,
		reporter,
		connRouter,
		auditLogger,
	)

	server := httptest.NewServer(NewRouter(handler, NewRateLimiter(1000, 1000)))
	t.Cleanup(server.Close)

	return &fixture{store: store, router: connRouter, server: server}
}

func (f *fixture) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(f.server.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
}

func createTenant(t *testing.T, f *fixture, realm string) string {
	t.Helper()
	resp := f.post(t, "/api/v1/tenants", CreateTenantRequest{
		Realm:       realm,
		DisplayName: realm + " inc",
		Category:    string(tenant.CategorySmall),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created tenant.Tenant
	decode(t, resp, &created)
	return created.ID
}

func TestHandler_CreateTenant(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/api/v1/tenants", CreateTenantRequest{
		Realm:       "acme",
		DisplayName: "Acme Corp",
		Category:    "SMALL",
		Contacts:    []ContactInput{{Email: "ops@acme.example"}},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var body map[string]any
	decode(t, resp, &body)
	assert.Equal(t, "acme", body["realm"])
	assert.Equal(t, string(tenant.StatusCreated), body["status"])
	assert.NotEmpty(t, body["id"])
	// The tenant secret never serializes.
	assert.NotContains(t, body, "secret")
}

func TestHandler_CreateTenant_Invalid(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/api/v1/tenants", CreateTenantRequest{Realm: "acme"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestHandler_CreateTenant_RealmConflict(t *testing.T) {
	f := newFixture(t)
	createTenant(t, f, "acme")

	resp := f.post(t, "/api/v1/tenants", CreateTenantRequest{
		Realm:       "acme",
		DisplayName: "Other",
		Category:    "SMALL",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestHandler_GetTenant_NotFound(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/api/v1/tenants/nonexistent")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestHandler_ProvisionDatabase_RedactsStoredPassword(t *testing.T) {
	f := newFixture(t)
	id := createTenant(t, f, "acme")

	resp := f.post(t, fmt.Sprintf("/api/v1/tenants/%s/provision/database", id), nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	resp = f.get(t, "/api/v1/tenants/"+id)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got tenant.Tenant
	decode(t, resp, &got)

	res := got.Resource(tenant.ResourceTypeDatabase)
	require.NotNil(t, res)
	assert.Equal(t, tenant.StatusActive, res.Status)
	assert.Equal(t, audit.Redacted, res.Config[tenant.ConfigKeyPassword])

	// The store keeps the sealed credential untouched.
	stored, err := f.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.NotEqual(t, audit.Redacted, stored.Resource(tenant.ResourceTypeDatabase).Config[tenant.ConfigKeyPassword])
}

func TestHandler_ProvisionRealm(t *testing.T) {
	f := newFixture(t)
	id := createTenant(t, f, "acme")

	resp := f.post(t, fmt.Sprintf("/api/v1/tenants/%s/provision/realm", id), nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	stored, err := f.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	res := stored.Resource(tenant.ResourceTypeIdentityRealm)
	require.NotNil(t, res)
	assert.Equal(t, tenant.StatusActive, res.Status)
	assert.Contains(t, res.Config[tenant.ConfigKeyIAMApplicationURL], "/realms/acme")
}

func TestHandler_ProvisionDatabase_UnknownTenant(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/api/v1/tenants/missing/provision/database", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestHandler_ProvisioningUpdate(t *testing.T) {
	f := newFixture(t)
	id := createTenant(t, f, "acme")

	res, err := f.store.AddResource(context.Background(), id, tenant.ResourceTypeDatabase, nil)
	require.NoError(t, err)

	update := provision.NewContext().
		WithTenant(id).
		WithResource(res.ID).
		WithStatus(tenant.StatusProvisioningInProgress)
	payload, err := update.Encode()
	require.NoError(t, err)

	resp, err := http.Post(f.server.URL+"/api/v1/provisioning/updates", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	stored, err := f.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, tenant.StatusProvisioningInProgress, stored.Resource(tenant.ResourceTypeDatabase).Status)
}

func TestHandler_ProvisioningUpdate_Malformed(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Post(f.server.URL+"/api/v1/provisioning/updates", "application/json",
		bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestHandler_RealmAvailability(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/api/v1/router/realms/acme")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	decode(t, resp, &body)
	assert.Equal(t, "acme", body["realm"])
	assert.Equal(t, false, body["available"])
}

func TestHandler_Health(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	decode(t, resp, &body)
	assert.Equal(t, "healthy", body["status"])
}
