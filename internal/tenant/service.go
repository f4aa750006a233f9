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

package tenant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rvcplatform/provisioner/internal/audit"
	"github.com/rvcplatform/provisioner/internal/events"
	"github.com/rvcplatform/provisioner/internal/observability/logger"
	"github.com/rvcplatform/provisioner/internal/secrets"
)

// Service provides tenant lifecycle business logic
type Service struct {
	repo        Repository
	publisher   events.Publisher
	auditLogger audit.Logger
}

// NewService creates a new tenant service
func NewService(repo Repository, publisher events.Publisher, auditLogger audit.Logger) *Service {
	return &Service{
		repo:        repo,
		publisher:   publisher,
		auditLogger: auditLogger,
	}
}

// CreateTenantParams carries tenant creation input.
type CreateTenantParams struct {
	Realm         string
	DisplayName   string
	Category      Category
	Configuration json.RawMessage
	Contacts      []Contact
}

// CreateTenant creates a tenant in CREATED state and publishes the tenant
// created event that triggers asynchronous provisioning.
func (s *Service) CreateTenant(ctx context.Context, params CreateTenantParams) (*Tenant, error) {
	if params.Realm == "" {
		return nil, fmt.Errorf("realm is required")
	}
	if params.DisplayName == "" {
		return nil, fmt.Errorf("display name is required")
	}
	switch params.Category {
	case CategorySmall, CategoryMedium, CategoryEnterprise:
	default:
		return nil, fmt.Errorf("invalid category: %q", params.Category)
	}

	if _, err := s.repo.GetByRealm(ctx, params.Realm); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrRealmTaken, params.Realm)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate tenant id: %w", err)
	}

	secret, err := secrets.GenerateSecret()
	if err != nil {
		return nil, fmt.Errorf("failed to generate tenant secret: %w", err)
	}

	now := time.Now()
	t := &Tenant{
		ID:            id.String(),
		Realm:         params.Realm,
		DisplayName:   params.DisplayName,
		Category:      params.Category,
		Status:        StatusCreated,
		Secret:        secret,
		Configuration: params.Configuration,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, c := range params.Contacts {
		c.ID = uuid.NewString()
		c.TenantID = t.ID
		t.Contacts = append(t.Contacts, c)
	}

	if err := s.repo.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTenantCreated,
		TenantID: t.ID,
		Resource: t.Realm,
		Metadata: map[string]any{"category": string(t.Category)},
	})

	if err := s.publisher.Publish(ctx, events.Event{
		Type:     events.TypeTenantCreated,
		TenantID: t.ID,
		Realm:    t.Realm,
	}); err != nil {
		// The tenant exists either way; provisioning can be re-triggered
		// by an operator.
		slog.WarnContext(ctx, "failed to publish tenant created event",
			logger.TenantID(t.ID), logger.Error(err))
	}

	return t, nil
}

// GetTenant retrieves a tenant by ID
func (s *Service) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	return s.repo.GetByID(ctx, id)
}

// GetTenantByRealm retrieves a tenant by realm name
func (s *Service) GetTenantByRealm(ctx context.Context, realm string) (*Tenant, error) {
	return s.repo.GetByRealm(ctx, realm)
}

// ListTenants lists tenants with pagination
func (s *Service) ListTenants(ctx context.Context, limit, offset int) ([]*Tenant, error) {
	return s.repo.List(ctx, limit, offset)
}
