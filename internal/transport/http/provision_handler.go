package http

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rvcplatform/provisioner/internal/audit"
	"github.com/rvcplatform/provisioner/internal/observability/logger"
	"github.com/rvcplatform/provisioner/internal/provision"
	"github.com/rvcplatform/provisioner/internal/tenant"
)

// maxUpdateBody bounds the provisioning-update webhook payload.
const maxUpdateBody = 1 << 20

// ProvisionDatabase triggers database provisioning for a tenant.
// The work is dispatched fire-and-forget; the response only acknowledges
// that the trigger was accepted, progress arrives through the store.
func (h *Handler) ProvisionDatabase(w http.ResponseWriter, r *http.Request) {
	t, ok := h.resolveTenant(w, r)
	if !ok {
		return
	}

	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeProvisionTriggered,
		TenantID:  t.ID,
		Resource:  string(tenant.ResourceTypeDatabase),
		IPAddress: getIPAddress(r),
		Metadata:  map[string]any{"realm": t.Realm},
	})

	h.databases.Provision(r.Context(), h.databaseProvider, t.ID, t.Realm)

	respondJSON(w, http.StatusAccepted, map[string]string{
		"tenant_id":     t.ID,
		"realm":         t.Realm,
		"resource_type": string(tenant.ResourceTypeDatabase),
	})
}

// ProvisionRealm triggers identity realm provisioning for a tenant.
func (h *Handler) ProvisionRealm(w http.ResponseWriter, r *http.Request) {
	t, ok := h.resolveTenant(w, r)
	if !ok {
		return
	}

	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeProvisionTriggered,
		TenantID:  t.ID,
		Resource:  string(tenant.ResourceTypeIdentityRealm),
		IPAddress: getIPAddress(r),
		Metadata:  map[string]any{"realm": t.Realm},
	})

	h.realms.Provision(r.Context(), h.realmProvider, t.ID, t.Realm)

	respondJSON(w, http.StatusAccepted, map[string]string{
		"tenant_id":     t.ID,
		"realm":         t.Realm,
		"resource_type": string(tenant.ResourceTypeIdentityRealm),
	})
}

// ProvisioningUpdate accepts a serialized resource context from an
// out-of-process provider and applies it to the state store. Malformed
// payloads are rejected; updates missing mandatory fields are absorbed
// by the reporter, so this endpoint never asks a provider to retry.
func (h *Handler) ProvisioningUpdate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxUpdateBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	pc, err := provision.ParseContext(body)
	if err != nil {
		slog.WarnContext(r.Context(), "rejecting malformed provisioning update",
			logger.Error(err),
		)
		respondError(w, http.StatusBadRequest, "invalid resource context")
		return
	}

	h.reporter.Update(r.Context(), pc)

	respondJSON(w, http.StatusOK, map[string]string{
		"status": "accepted",
	})
}

// RealmAvailability reports whether the connection router holds a live
// data source for a realm.
func (h *Handler) RealmAvailability(w http.ResponseWriter, r *http.Request) {
	realm := chi.URLParam(r, "realm")
	if realm == "" {
		respondError(w, http.StatusBadRequest, "realm is required")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"realm":     realm,
		"available": h.connRouter.HasTenantDataSource(realm),
	})
}

// resolveTenant loads the tenant addressed by the URL, writing the error
// response itself when the tenant cannot be used.
func (h *Handler) resolveTenant(w http.ResponseWriter, r *http.Request) (*tenant.Tenant, bool) {
	tenantID := tenantIDParam(r)

	t, err := h.tenantService.GetTenant(r.Context(), tenantID)
	if err != nil {
		if errors.Is(err, tenant.ErrTenantNotFound) {
			respondError(w, http.StatusNotFound, "tenant not found")
			return nil, false
		}
		slog.ErrorContext(r.Context(), "failed to load tenant",
			logger.TenantID(tenantID),
			logger.Error(err),
		)
		respondError(w, http.StatusInternalServerError, "failed to load tenant")
		return nil, false
	}
	return t, true
}

func tenantIDParam(r *http.Request) string {
	return chi.URLParam(r, "tenantID")
}
