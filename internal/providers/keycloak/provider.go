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

// Package keycloak implements the identity-realm lifecycle provider. The
// admin SDK stays behind the narrow AdminAPI interface.
package keycloak

import (
	"context"
	"fmt"
	"strings"

	"github.com/rvcplatform/provisioner/internal/provision"
	"github.com/rvcplatform/provisioner/internal/tenant"
)

// RealmSpec describes the realm to create.
type RealmSpec struct {
	Name        string
	DisplayName string
}

// UserSpec describes the per-realm service user.
type UserSpec struct {
	Username string
	Roles    []string
}

// AdminAPI is the narrow surface of the identity-provider admin SDK used
// by this provider.
type AdminAPI interface {
	RealmExists(ctx context.Context, realm string) (bool, error)
	CreateRealm(ctx context.Context, spec RealmSpec) error
	CreateRole(ctx context.Context, realm, role string) error
	CreateUser(ctx context.Context, realm string, user UserSpec) error
}

// realm roles seeded on every new realm
var defaultRoles = []string{"tenant-admin", "tenant-user"}

// Provider drives realm provisioning through an AdminAPI.
type Provider struct {
	api AdminAPI
	// baseURL is the identity provider's public base URL used to derive
	// the console URLs stored on the resource.
	baseURL string
}

// New creates a provider for the identity provider at baseURL.
func New(api AdminAPI, baseURL string) *Provider {
	return &Provider{api: api, baseURL: strings.TrimRight(baseURL, "/")}
}

// RealmExists asks the identity provider directly.
func (p *Provider) RealmExists(ctx context.Context, realm string) (bool, error) {
	return p.api.RealmExists(ctx, realm)
}

// ProvisionRealm creates the realm, its default roles and the service
// user, then reports the terminal ACTIVE status with the realm console
// URLs attached.
func (p *Provider) ProvisionRealm(ctx context.Context, req provision.RealmRequest, cb provision.Reporter) error {
	base := provision.NewContext().
		WithProvider(provision.ProviderKeycloak).
		WithTenant(req.TenantID).
		WithRealm(req.Realm).
		WithResource(req.ResourceID)

	cb.Update(ctx, base.WithStatus(tenant.StatusProvisioningInitiated))

	if err := p.api.CreateRealm(ctx, RealmSpec{Name: req.Realm, DisplayName: req.DisplayName}); err != nil {
		return fmt.Errorf("create realm %s: %w", req.Realm, err)
	}
	cb.Update(ctx, base.WithStatus(tenant.StatusProvisioningInProgress))

	for _, role := range defaultRoles {
		if err := p.api.CreateRole(ctx, req.Realm, role); err != nil {
			return fmt.Errorf("create role %s in realm %s: %w", role, req.Realm, err)
		}
	}

	if err := p.api.CreateUser(ctx, req.Realm, UserSpec{
		Username: req.Realm + "-service",
		Roles:    defaultRoles[:1],
	}); err != nil {
		return fmt.Errorf("create service user in realm %s: %w", req.Realm, err)
	}

	cb.Update(ctx, base.
		WithConsoleURLs(
			fmt.Sprintf("%s/realms/%s/account", p.baseURL, req.Realm),
			fmt.Sprintf("%s/realms/%s", p.baseURL, req.Realm),
			fmt.Sprintf("%s/admin/%s/console", p.baseURL, req.Realm),
		).
		WithStatus(tenant.StatusActive))
	return nil
}
