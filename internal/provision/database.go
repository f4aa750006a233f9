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
	"github.com/rvcplatform/provisioner/internal/secrets"
	"github.com/rvcplatform/provisioner/internal/tenant"
)

// DatabaseOrchestrator drives tenant database provisioning: idempotency
// gate, resource record creation, deterministic configuration, and
// delegation to the selected database lifecycle provider on the worker
// pool.
//
// Provision never returns an error. Triggers arrive at-least-once from
// messaging, so a stale or duplicate trigger is a logged no-op, and
// everything after the resource record exists runs asynchronously with no
// caller left to report to. Failures surface through the resource's
// failure message and the tenant's PROVISIONING_FAILED status.
type DatabaseOrchestrator struct {
	store       tenant.Store
	registry    *Registry
	generator   *Generator
	runner      TaskRunner
	reporter    Reporter
	auditLogger audit.Logger
}

// NewDatabaseOrchestrator wires the database orchestrator.
func NewDatabaseOrchestrator(
	store tenant.Store,
	registry *Registry,
	generator *Generator,
	runner TaskRunner,
	reporter Reporter,
	auditLogger audit.Logger,
) *DatabaseOrchestrator {
	return &DatabaseOrchestrator{
		store:       store,
		registry:    registry,
		generator:   generator,
		runner:      runner,
		reporter:    reporter,
		auditLogger: auditLogger,
	}
}

// Provision provisions the TENANT_DATABASE resource for the tenant
// identified by id or realm. Returns once the resource record is created
// and the provider work is queued.
func (o *DatabaseOrchestrator) Provision(ctx context.Context, provider Provider, tenantID, realm string) {
	t := resolveTenant(ctx, o.store, tenantID, realm)
	if t == nil {
		return
	}

	// Idempotency gate. AddResource re-checks under the row lock; this
	// early check just keeps the common duplicate trigger cheap.
	if res := t.Resource(tenant.ResourceTypeDatabase); res != nil && res.Status != tenant.StatusProvisioningFailed {
		slog.InfoContext(ctx, "database resource already exists, ignoring duplicate trigger",
			logger.TenantID(t.ID), logger.Realm(t.Realm))
		return
	}

	dp, err := o.registry.Database(provider)
	if err != nil {
		slog.ErrorContext(ctx, "cannot provision database", logger.TenantID(t.ID),
			logger.Provider(string(provider)), logger.Error(err))
		return
	}

	names := o.generator.DatabaseNames(t.Realm, t.Category)
	password, err := secrets.GeneratePassword(32)
	if err != nil {
		slog.ErrorContext(ctx, "failed to generate database credentials",
			logger.TenantID(t.ID), logger.Error(err))
		return
	}
	// Plaintext credential lives only in this call and the provider
	// payload; the stored copy is sealed with the tenant secret.
	encrypted, err := secrets.EncryptString(t.Secret, password)
	if err != nil {
		slog.ErrorContext(ctx, "failed to encrypt database credentials",
			logger.TenantID(t.ID), logger.Error(err))
		return
	}

	res, err := o.store.AddResource(ctx, t.ID, tenant.ResourceTypeDatabase, names.InitialConfig(encrypted))
	if err != nil {
		if errors.Is(err, tenant.ErrResourceExists) {
			slog.InfoContext(ctx, "database resource created concurrently, ignoring duplicate trigger",
				logger.TenantID(t.ID))
		} else {
			slog.ErrorContext(ctx, "failed to create database resource",
				logger.TenantID(t.ID), logger.Error(err))
		}
		return
	}

	o.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeResourceCreated,
		TenantID: t.ID,
		Resource: string(tenant.ResourceTypeDatabase),
		Metadata: map[string]any{
			"provider":       string(provider),
			"dbInstanceName": names.InstanceName,
		},
	})

	req := DatabaseRequest{
		TenantID:     t.ID,
		Realm:        t.Realm,
		ResourceID:   res.ID,
		Dedicated:    names.Dedicated,
		InstanceName: names.InstanceName,
		DatabaseName: names.DatabaseName,
		Schema:       names.Schema,
		Username:     names.Username,
		Password:     password,
	}

	o.runner.Submit("provision-database", func(taskCtx context.Context) {
		if err := dp.Provision(taskCtx, req, o.reporter); err != nil {
			o.fail(taskCtx, req, provider, err)
			return
		}
		if err := dp.Populate(taskCtx, req, o.reporter); err != nil {
			o.fail(taskCtx, req, provider, err)
		}
	})
}

// fail converts a provider error into the single terminal
// PROVISIONING_FAILED callback, then logs it. The task has no caller to
// propagate to.
func (o *DatabaseOrchestrator) fail(ctx context.Context, req DatabaseRequest, provider Provider, err error) {
	o.reporter.Update(ctx, NewContext().
		WithProvider(provider).
		WithTenant(req.TenantID).
		WithRealm(req.Realm).
		WithResource(req.ResourceID).
		WithStatus(tenant.StatusProvisioningFailed).
		WithError(err.Error()))

	slog.ErrorContext(ctx, "database provisioning failed",
		logger.TenantID(req.TenantID),
		logger.Realm(req.Realm),
		logger.Provider(string(provider)),
		logger.Error(err))
}

// resolveTenant resolves by id first, then realm. Unresolvable triggers
// are expected under at-least-once delivery and logged as warnings.
func resolveTenant(ctx context.Context, repo tenant.Repository, tenantID, realm string) *tenant.Tenant {
	if tenantID != "" {
		if t, err := repo.GetByID(ctx, tenantID); err == nil {
			return t
		}
	}
	if realm != "" {
		if t, err := repo.GetByRealm(ctx, realm); err == nil {
			return t
		}
	}
	slog.WarnContext(ctx, "provisioning trigger for unknown tenant",
		logger.TenantID(tenantID), logger.Realm(realm))
	return nil
}
