package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/rvcplatform/provisioner/internal/audit"
	"github.com/rvcplatform/provisioner/internal/provision"
	"github.com/rvcplatform/provisioner/internal/router"
	"github.com/rvcplatform/provisioner/internal/tenant"
)

// Handler holds HTTP handlers and dependencies
type Handler struct {
	tenantService    *tenant.Service
	databaseProvider provision.Provider
	realmProvider    provision.Provider
	databases        *provision.DatabaseOrchestrator
	realms           *provision.RealmOrchestrator
	reporter         provision.Reporter
	connRouter       *router.Router
	auditLogger      audit.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	tenantService *tenant.Service,
	databaseProvider provision.Provider,
	realmProvider provision.Provider,
	databases *provision.DatabaseOrchestrator,
	realms *provision.RealmOrchestrator,
	reporter provision.Reporter,
	connRouter *router.Router,
	auditLogger audit.Logger,
) *Handler {
	return &Handler{
		tenantService:    tenantService,
		databaseProvider: databaseProvider,
		realmProvider:    realmProvider,
		databases:        databases,
		realms:           realms,
		reporter:         reporter,
		connRouter:       connRouter,
		auditLogger:      auditLogger,
	}
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rateLimiter *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check
	r.Get("/health", h.HealthCheck)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/tenants", func(r chi.Router) {
			r.Post("/", h.CreateTenant)
			r.Get("/", h.ListTenants)

			r.Route("/{tenantID}", func(r chi.Router) {
				r.Get("/", h.GetTenant)
				r.Post("/provision/database", h.ProvisionDatabase)
				r.Post("/provision/realm", h.ProvisionRealm)
			})
		})

		// Asynchronous provider updates come back through this webhook
		// when providers call out-of-process instead of in-proc.
		r.Post("/provisioning/updates", h.ProvisioningUpdate)

		r.Route("/router", func(r chi.Router) {
			r.Get("/realms/{realm}", h.RealmAvailability)
		})
	})

	return r
}

// HealthCheck returns the health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "rvc-provisioner",
	})
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

func getIPAddress(r *http.Request) string {
	// Check X-Forwarded-For header first
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
