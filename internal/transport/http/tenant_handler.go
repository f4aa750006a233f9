package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/rvcplatform/provisioner/internal/audit"
	"github.com/rvcplatform/provisioner/internal/observability/logger"
	"github.com/rvcplatform/provisioner/internal/tenant"
)

// CreateTenantRequest represents tenant onboarding data
type CreateTenantRequest struct {
	Realm         string          `json:"realm"`
	DisplayName   string          `json:"display_name"`
	Category      string          `json:"category"`
	Configuration json.RawMessage `json:"configuration,omitempty"`
	Contacts      []ContactInput  `json:"contacts,omitempty"`
}

// ContactInput is a notification recipient in a create request
type ContactInput struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// CreateTenant registers a new tenant in CREATED state
func (h *Handler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var req CreateTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	contacts := make([]tenant.Contact, 0, len(req.Contacts))
	for _, c := range req.Contacts {
		contacts = append(contacts, tenant.Contact{Email: c.Email, Name: c.Name})
	}

	t, err := h.tenantService.CreateTenant(r.Context(), tenant.CreateTenantParams{
		Realm:         req.Realm,
		DisplayName:   req.DisplayName,
		Category:      tenant.Category(req.Category),
		Configuration: req.Configuration,
		Contacts:      contacts,
	})
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to create tenant",
			logger.Realm(req.Realm),
			logger.Error(err),
		)
		if errors.Is(err, tenant.ErrRealmTaken) {
			respondError(w, http.StatusConflict, "realm name already taken")
			return
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, redactTenant(t))
}

// GetTenant returns one tenant with its resources and contacts
func (h *Handler) GetTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantIDParam(r)

	t, err := h.tenantService.GetTenant(r.Context(), tenantID)
	if err != nil {
		if errors.Is(err, tenant.ErrTenantNotFound) {
			respondError(w, http.StatusNotFound, "tenant not found")
			return
		}
		slog.ErrorContext(r.Context(), "failed to load tenant",
			logger.TenantID(tenantID),
			logger.Error(err),
		)
		respondError(w, http.StatusInternalServerError, "failed to load tenant")
		return
	}

	respondJSON(w, http.StatusOK, redactTenant(t))
}

// ListTenants returns a page of tenants
func (h *Handler) ListTenants(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	tenants, err := h.tenantService.ListTenants(r.Context(), limit, offset)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list tenants", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list tenants")
		return
	}

	out := make([]*tenant.Tenant, 0, len(tenants))
	for _, t := range tenants {
		out = append(out, redactTenant(t))
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"tenants": out,
		"limit":   limit,
		"offset":  offset,
	})
}

// redactTenant strips stored credentials before a tenant leaves the API.
// The secret itself never serializes; the encrypted password config value
// is replaced rather than removed so callers can see the key exists.
func redactTenant(t *tenant.Tenant) *tenant.Tenant {
	out := *t
	out.Resources = make([]*tenant.Resource, 0, len(t.Resources))
	for _, res := range t.Resources {
		cp := *res
		if _, ok := cp.Config[tenant.ConfigKeyPassword]; ok {
			cfg := make(map[string]string, len(cp.Config))
			for k, v := range cp.Config {
				cfg[k] = v
			}
			cfg[tenant.ConfigKeyPassword] = audit.Redacted
			cp.Config = cfg
		}
		out.Resources = append(out.Resources, &cp)
	}
	return &out
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
