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

// Package clouddb implements the database lifecycle provider against a
// cloud SQL admin service. The concrete SDK stays behind the narrow
// AdminAPI interface; this package owns the sequencing, progress
// reporting, and bounded polling of long-running operations.
package clouddb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/rvcplatform/provisioner/internal/provision"
	"github.com/rvcplatform/provisioner/internal/tenant"
)

// OperationState is the coarse lifecycle of one long-running admin
// operation.
type OperationState int

const (
	OperationPending OperationState = iota
	OperationRunning
	OperationDone
	OperationFailed
)

// OperationStatus is one poll result for a long-running operation.
type OperationStatus struct {
	State   OperationState
	Message string
}

// InstanceSpec describes the dedicated instance to create.
type InstanceSpec struct {
	Name      string
	Dedicated bool
}

// AdminAPI is the narrow surface of the cloud database admin SDK used by
// this provider. Create calls return the id of a long-running operation
// polled via GetOperation.
type AdminAPI interface {
	CreateInstance(ctx context.Context, spec InstanceSpec) (operationID string, err error)
	CreateDatabase(ctx context.Context, instance, database string) (operationID string, err error)
	GetOperation(ctx context.Context, operationID string) (OperationStatus, error)
	AuthorizeNetwork(ctx context.Context, instance, cidr string) error
	CreateUser(ctx context.Context, instance, username, password string) error
	// EnsureSchema creates the schema and grants inside the tenant
	// database; used by Populate.
	EnsureSchema(ctx context.Context, instance, database, schema, owner string) error
}

// Config holds provider settings.
type Config struct {
	// AccountID is the cloud account/project the instances live in.
	AccountID string
	// AuthorizedNetwork is the CIDR granted access to new instances.
	AuthorizedNetwork string
	// PollInterval and PollTimeout bound the wait on each long-running
	// operation; exceeding PollTimeout is a provisioning failure, not an
	// infinite wait.
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// Provider drives database provisioning through an AdminAPI.
type Provider struct {
	api AdminAPI
	cfg Config
}

// sub-operation names used for the operationId.* config entries
const (
	opCreateInstance = "create-instance"
	opCreateDatabase = "create-database"
)

// errOperationPending signals the poll loop to keep waiting.
var errOperationPending = errors.New("operation still pending")

// New creates a provider. Zero poll settings get conservative defaults.
func New(api AdminAPI, cfg Config) *Provider {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Minute
	}
	return &Provider{api: api, cfg: cfg}
}

// Provision creates the database infrastructure: for a dedicated tenant a
// fresh instance, then the database, network authorization and the service
// user. Intermediate progress is reported whenever an external operation
// id exists; the terminal status comes from Populate or, on error, from
// the orchestrator.
func (p *Provider) Provision(ctx context.Context, req provision.DatabaseRequest, cb provision.Reporter) error {
	base := provision.NewContext().
		WithProvider(provision.ProviderCloudSQL).
		WithAccount(p.cfg.AccountID).
		WithTenant(req.TenantID).
		WithRealm(req.Realm).
		WithResource(req.ResourceID).
		WithInstance(req.InstanceName).
		WithDatabase(req.DatabaseName).
		WithSchema(req.Schema)

	cb.Update(ctx, base.WithStatus(tenant.StatusProvisioningInitiated))

	if req.Dedicated {
		opID, err := p.api.CreateInstance(ctx, InstanceSpec{Name: req.InstanceName, Dedicated: true})
		if err != nil {
			return fmt.Errorf("create instance %s: %w", req.InstanceName, err)
		}
		base = base.WithOperationID(opCreateInstance, opID)
		cb.Update(ctx, base.WithStatus(tenant.StatusProvisioningInProgress))

		if err := p.awaitOperation(ctx, opID); err != nil {
			return fmt.Errorf("create instance %s: %w", req.InstanceName, err)
		}
	}

	opID, err := p.api.CreateDatabase(ctx, req.InstanceName, req.DatabaseName)
	if err != nil {
		return fmt.Errorf("create database %s: %w", req.DatabaseName, err)
	}
	base = base.WithOperationID(opCreateDatabase, opID)
	cb.Update(ctx, base.WithStatus(tenant.StatusProvisioningInProgress))

	if err := p.awaitOperation(ctx, opID); err != nil {
		return fmt.Errorf("create database %s: %w", req.DatabaseName, err)
	}

	if err := p.api.AuthorizeNetwork(ctx, req.InstanceName, p.cfg.AuthorizedNetwork); err != nil {
		return fmt.Errorf("authorize network on %s: %w", req.InstanceName, err)
	}
	if err := p.api.CreateUser(ctx, req.InstanceName, req.Username, req.Password); err != nil {
		return fmt.Errorf("create user %s: %w", req.Username, err)
	}

	cb.Update(ctx, base.WithStatus(tenant.StatusProvisioningCompleted))
	return nil
}

// Populate prepares the database for use and reports the terminal ACTIVE
// status with the accumulated configuration.
func (p *Provider) Populate(ctx context.Context, req provision.DatabaseRequest, cb provision.Reporter) error {
	if err := p.api.EnsureSchema(ctx, req.InstanceName, req.DatabaseName, req.Schema, req.Username); err != nil {
		return fmt.Errorf("ensure schema %s: %w", req.Schema, err)
	}

	cb.Update(ctx, provision.NewContext().
		WithProvider(provision.ProviderCloudSQL).
		WithAccount(p.cfg.AccountID).
		WithTenant(req.TenantID).
		WithRealm(req.Realm).
		WithResource(req.ResourceID).
		WithInstance(req.InstanceName).
		WithDatabase(req.DatabaseName).
		WithSchema(req.Schema).
		WithStatus(tenant.StatusActive))
	return nil
}

// awaitOperation polls one long-running operation at the fixed interval
// until it completes, fails, or the bounded timeout elapses.
func (p *Provider) awaitOperation(ctx context.Context, operationID string) error {
	poll := func() (struct{}, error) {
		st, err := p.api.GetOperation(ctx, operationID)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		switch st.State {
		case OperationDone:
			return struct{}{}, nil
		case OperationFailed:
			return struct{}{}, backoff.Permanent(fmt.Errorf("operation %s failed: %s", operationID, st.Message))
		default:
			return struct{}{}, errOperationPending
		}
	}

	_, err := backoff.Retry(ctx, poll,
		backoff.WithBackOff(backoff.NewConstantBackOff(p.cfg.PollInterval)),
		backoff.WithMaxElapsedTime(p.cfg.PollTimeout),
	)
	if err != nil {
		if errors.Is(err, errOperationPending) {
			return fmt.Errorf("%w: operation %s not terminal after %s",
				provision.ErrOperationTimeout, operationID, p.cfg.PollTimeout)
		}
		return err
	}
	return nil
}
