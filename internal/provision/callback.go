// Copyright 2026 The RVC Platform Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package provision

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/rvcplatform/provisioner/internal/audit"
	"github.com/rvcplatform/provisioner/internal/events"
	"github.com/rvcplatform/provisioner/internal/observability/logger"
	"github.com/rvcplatform/provisioner/internal/tenant"
)

// Provisioning outcome counters. Instruments on the global meter provider
// bind late, so these work whether or not an SDK is installed.
var (
	meter = otel.Meter("github.com/rvcplatform/provisioner/internal/provision")

	resourcesActivated   = int64Counter("provisioner.resources.activated", "Resources that reached ACTIVE.")
	provisioningFailures = int64Counter("provisioner.provisioning.failures", "Progress updates that reported PROVISIONING_FAILED.")
	tenantsActivated     = int64Counter("provisioner.tenants.activated", "Tenants whose full resource set came online.")
)

func int64Counter(name, description string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		otel.Handle(err)
	}
	return c
}

// Reporter is the progress callback protocol: the one interface through
// which any provisioning backend reports status and configuration back
// into the state store without knowing persistence details.
//
// Update is fire-and-forget by contract. Callers get no error because the
// backends invoking it (poll loops, webhook consumers) have nothing useful
// to do with one; problems are logged and, where they concern external
// state, surface as the resource's failure message instead.
type Reporter interface {
	Update(ctx context.Context, pc Context)
}

// StoreReporter applies progress updates to the tenant state store and
// fires the activated events on terminal success.
type StoreReporter struct {
	store       tenant.Store
	publisher   events.Publisher
	auditLogger audit.Logger
}

// NewStoreReporter creates the store-backed progress reporter.
func NewStoreReporter(store tenant.Store, publisher events.Publisher, auditLogger audit.Logger) *StoreReporter {
	return &StoreReporter{
		store:       store,
		publisher:   publisher,
		auditLogger: auditLogger,
	}
}

// Update validates the mandatory fields, applies the transition, and on
// terminal success publishes the per-resource activated event. Updates
// missing tenant id, resource id or status are intentionally tolerated
// with a warning: upstream delivery is at-least-once and partial contexts
// occur on duplicate or out-of-band messages.
func (r *StoreReporter) Update(ctx context.Context, pc Context) {
	if pc.TenantID == "" || pc.ResourceID == "" || pc.ResourceStatus == "" {
		slog.WarnContext(ctx, "ignoring progress update with missing mandatory fields",
			logger.TenantID(pc.TenantID),
			logger.ResourceID(pc.ResourceID),
			logger.ResourceStatus(string(pc.ResourceStatus)))
		return
	}

	t, res, err := r.store.ApplyProgress(ctx, tenant.Progress{
		TenantID:       pc.TenantID,
		ResourceID:     pc.ResourceID,
		Status:         pc.ResourceStatus,
		Config:         pc.ConfigUpdates(),
		FailureMessage: pc.ErrorMessage,
	})
	if err != nil {
		// Late duplicates of earlier callbacks are expected under
		// at-least-once delivery; the store refuses the regression and the
		// committed state stands.
		if errors.Is(err, tenant.ErrStaleTransition) {
			slog.InfoContext(ctx, "ignoring stale progress update",
				logger.TenantID(pc.TenantID),
				logger.ResourceID(pc.ResourceID),
				logger.ResourceStatus(string(pc.ResourceStatus)),
				logger.Error(err))
			return
		}
		slog.WarnContext(ctx, "failed to apply progress update",
			logger.TenantID(pc.TenantID),
			logger.ResourceID(pc.ResourceID),
			logger.ResourceStatus(string(pc.ResourceStatus)),
			logger.Error(err))
		return
	}

	slog.InfoContext(ctx, "progress update applied",
		logger.TenantID(t.ID),
		logger.Realm(t.Realm),
		logger.ResourceID(res.ID),
		logger.ResourceType(string(res.Type)),
		logger.ResourceStatus(string(res.Status)))

	switch res.Status {
	case tenant.StatusProvisioningFailed:
		provisioningFailures.Add(ctx, 1,
			metric.WithAttributes(attribute.String("resource_type", string(res.Type))))
		r.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeProvisioningFailed,
			TenantID: t.ID,
			Resource: string(res.Type),
			Metadata: map[string]any{"failure_message": res.FailureMessage},
		})
	case tenant.StatusActive:
		r.resourceActivated(ctx, t, res)
	}
}

func (r *StoreReporter) resourceActivated(ctx context.Context, t *tenant.Tenant, res *tenant.Resource) {
	resourcesActivated.Add(ctx, 1,
		metric.WithAttributes(attribute.String("resource_type", string(res.Type))))
	r.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeResourceActivated,
		TenantID: t.ID,
		Resource: string(res.Type),
	})

	var eventType events.Type
	switch res.Type {
	case tenant.ResourceTypeDatabase:
		eventType = events.TypeDatabaseProvisioned
	case tenant.ResourceTypeIdentityRealm:
		eventType = events.TypeRealmProvisioned
	default:
		return
	}

	if err := r.publisher.Publish(ctx, events.Event{
		Type:     eventType,
		TenantID: t.ID,
		Realm:    t.Realm,
	}); err != nil {
		slog.WarnContext(ctx, "failed to publish resource activated event",
			logger.TenantID(t.ID), logger.Error(err))
	}

	if t.Status == tenant.StatusActive {
		tenantsActivated.Add(ctx, 1)
		r.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeTenantActivated,
			TenantID: t.ID,
			Resource: t.Realm,
		})
		if err := r.publisher.Publish(ctx, events.Event{
			Type:     events.TypeContactsNotify,
			TenantID: t.ID,
			Realm:    t.Realm,
		}); err != nil {
			slog.WarnContext(ctx, "failed to publish contacts notify event",
				logger.TenantID(t.ID), logger.Error(err))
		}
	}
}
