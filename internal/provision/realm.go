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

	"github.com/rvcplatform/provisioner/internal/audit"
	"github.com/rvcplatform/provisioner/internal/observability/logger"
	"github.com/rvcplatform/provisioner/internal/tenant"
)

// RealmOrchestrator drives identity-realm provisioning. Same contract as
// the database orchestrator, with one addition: the identity provider is
// asked directly whether the realm exists before the local idempotency
// gate, because a realm created out-of-band must win over local state.
type RealmOrchestrator struct {
	store       tenant.Store
	registry    *Registry
	runner      TaskRunner
	reporter    Reporter
	auditLogger audit.Logger
}

// NewRealmOrchestrator wires the identity-realm orchestrator.
func NewRealmOrchestrator(
	store tenant.Store,
	registry *Registry,
	runner TaskRunner,
	reporter Reporter,
	auditLogger audit.Logger,
) *RealmOrchestrator {
	return &RealmOrchestrator{
		store:       store,
		registry:    registry,
		runner:      runner,
		reporter:    reporter,
		auditLogger: auditLogger,
	}
}

// Provision provisions the IDENTITY_REALM resource for the tenant
// identified by id or realm.
func (o *RealmOrchestrator) Provision(ctx context.Context, provider Provider, tenantID, realm string) {
	t := resolveTenant(ctx, o.store, tenantID, realm)
	if t == nil {
		return
	}

	rp, err := o.registry.Realm(provider)
	if err != nil {
		slog.ErrorContext(ctx, "cannot provision realm", logger.TenantID(t.ID),
			logger.Provider(string(provider)), logger.Error(err))
		return
	}

	exists, err := rp.RealmExists(ctx, t.Realm)
	if err != nil {
		slog.ErrorContext(ctx, "failed to check realm existence",
			logger.TenantID(t.ID), logger.Realm(t.Realm), logger.Error(err))
		return
	}
	if exists {
		slog.InfoContext(ctx, "realm already exists at identity provider, nothing to provision",
			logger.TenantID(t.ID), logger.Realm(t.Realm))
		return
	}

	if res := t.Resource(tenant.ResourceTypeIdentityRealm); res != nil && res.Status != tenant.StatusProvisioningFailed {
		slog.InfoContext(ctx, "realm resource already exists, ignoring duplicate trigger",
			logger.TenantID(t.ID), logger.Realm(t.Realm))
		return
	}

	res, err := o.store.AddResource(ctx, t.ID, tenant.ResourceTypeIdentityRealm, nil)
	if err != nil {
		if errors.Is(err, tenant.ErrResourceExists) {
			slog.InfoContext(ctx, "realm resource created concurrently, ignoring duplicate trigger",
				logger.TenantID(t.ID))
		} else {
			slog.ErrorContext(ctx, "failed to create realm resource",
				logger.TenantID(t.ID), logger.Error(err))
		}
		return
	}

	o.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeResourceCreated,
		TenantID: t.ID,
		Resource: string(tenant.ResourceTypeIdentityRealm),
		Metadata: map[string]any{"provider": string(provider)},
	})

	req := RealmRequest{
		TenantID:    t.ID,
		Realm:       t.Realm,
		ResourceID:  res.ID,
		DisplayName: t.DisplayName,
	}

	o.runner.Submit("provision-realm", func(taskCtx context.Context) {
		if err := rp.ProvisionRealm(taskCtx, req, o.reporter); err != nil {
			o.reporter.Update(taskCtx, NewContext().
				WithProvider(provider).
				WithTenant(req.TenantID).
				WithRealm(req.Realm).
				WithResource(req.ResourceID).
				WithStatus(tenant.StatusProvisioningFailed).
				WithError(err.Error()))

			slog.ErrorContext(taskCtx, "realm provisioning failed",
				logger.TenantID(req.TenantID),
				logger.Realm(req.Realm),
				logger.Provider(string(provider)),
				logger.Error(err))
		}
	})
}
