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
	"fmt"
)

var (
	ErrProviderNotFound = errors.New("no lifecycle provider registered for key")

	// ErrOperationTimeout marks a long-running external operation that did
	// not reach a terminal state within the bounded poll window.
	ErrOperationTimeout = errors.New("external operation timed out")
)

// Provider is the runtime key selecting a lifecycle provider.
type Provider string

const (
	ProviderCloudSQL Provider = "cloudsql"
	ProviderKeycloak Provider = "keycloak"
)

// DatabaseRequest is the payload handed to a database lifecycle provider.
// Password is plaintext and must never be persisted by the provider; the
// encrypted copy is already on the resource record.
type DatabaseRequest struct {
	TenantID   string
	Realm      string
	ResourceID string
	Dedicated  bool

	InstanceName string
	DatabaseName string
	Schema       string
	Username     string
	Password     string
}

// RealmRequest is the payload handed to an identity-realm lifecycle
// provider.
type RealmRequest struct {
	TenantID    string
	Realm       string
	ResourceID  string
	DisplayName string
}

// DatabaseProvider provisions tenant databases against one external cloud
// system. Implementations report PROVISIONING_INITIATED before starting,
// intermediate progress wherever an external operation id exists, and the
// terminal ACTIVE themselves; failures are returned as errors and
// converted to PROVISIONING_FAILED by the orchestrator, so exactly one
// terminal status reaches the state store.
type DatabaseProvider interface {
	// Provision creates the database infrastructure (instance, database,
	// network access, credentials).
	Provision(ctx context.Context, req DatabaseRequest, cb Reporter) error
	// Populate prepares the provisioned database for use (schema setup)
	// and reports the terminal ACTIVE status.
	Populate(ctx context.Context, req DatabaseRequest, cb Reporter) error
}

// RealmProvider provisions identity realms against one external identity
// provider.
type RealmProvider interface {
	ProvisionRealm(ctx context.Context, req RealmRequest, cb Reporter) error
	// RealmExists asks the identity provider directly. The authoritative
	// external answer takes precedence over local idempotency state,
	// because a realm may exist out-of-band.
	RealmExists(ctx context.Context, realm string) (bool, error)
}

// Registry is the explicit dispatch table from provider key to constructed
// lifecycle provider, resolved once at startup.
type Registry struct {
	databases map[Provider]DatabaseProvider
	realms    map[Provider]RealmProvider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		databases: make(map[Provider]DatabaseProvider),
		realms:    make(map[Provider]RealmProvider),
	}
}

// RegisterDatabase registers a database lifecycle provider under key p.
func (r *Registry) RegisterDatabase(p Provider, dp DatabaseProvider) {
	r.databases[p] = dp
}

// RegisterRealm registers a realm lifecycle provider under key p.
func (r *Registry) RegisterRealm(p Provider, rp RealmProvider) {
	r.realms[p] = rp
}

// Database resolves the database provider for key p.
func (r *Registry) Database(p Provider) (DatabaseProvider, error) {
	dp, ok := r.databases[p]
	if !ok {
		return nil, fmt.Errorf("%w: database provider %q", ErrProviderNotFound, p)
	}
	return dp, nil
}

// Realm resolves the realm provider for key p.
func (r *Registry) Realm(p Provider) (RealmProvider, error) {
	rp, ok := r.realms[p]
	if !ok {
		return nil, fmt.Errorf("%w: realm provider %q", ErrProviderNotFound, p)
	}
	return rp, nil
}
