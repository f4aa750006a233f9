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

// Package memory provides the in-memory tenant store used by unit tests
// and local development. Semantics mirror the postgres store: every
// mutation commits resource and derived tenant status together under one
// lock, and callers always receive deep copies.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/rvcplatform/provisioner/internal/observability/logger"
	"github.com/rvcplatform/provisioner/internal/tenant"
)

// TenantStore implements tenant.Store in memory.
type TenantStore struct {
	mu      sync.Mutex
	tenants map[string]*tenant.Tenant
	byRealm map[string]string
}

// NewTenantStore creates an empty store.
func NewTenantStore() *TenantStore {
	return &TenantStore{
		tenants: make(map[string]*tenant.Tenant),
		byRealm: make(map[string]string),
	}
}

func (s *TenantStore) Create(ctx context.Context, t *tenant.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tenants[t.ID]; ok {
		return fmt.Errorf("tenant %s already exists", t.ID)
	}
	if _, ok := s.byRealm[t.Realm]; ok {
		return fmt.Errorf("%w: %s", tenant.ErrRealmTaken, t.Realm)
	}
	s.tenants[t.ID] = clone(t)
	s.byRealm[t.Realm] = t.ID
	return nil
}

func (s *TenantStore) GetByID(ctx context.Context, id string) (*tenant.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", tenant.ErrTenantNotFound, id)
	}
	return clone(t), nil
}

func (s *TenantStore) GetByRealm(ctx context.Context, realm string) (*tenant.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byRealm[realm]
	if !ok {
		return nil, fmt.Errorf("%w: realm %s", tenant.ErrTenantNotFound, realm)
	}
	return clone(s.tenants[id]), nil
}

func (s *TenantStore) List(ctx context.Context, limit, offset int) ([]*tenant.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]*tenant.Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		all = append(all, t)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	out := make([]*tenant.Tenant, 0, end-offset)
	for _, t := range all[offset:end] {
		out = append(out, clone(t))
	}
	return out, nil
}

func (s *TenantStore) AddResource(ctx context.Context, tenantID string, typ tenant.ResourceType, config map[string]string) (*tenant.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tenants[tenantID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", tenant.ErrTenantNotFound, tenantID)
	}

	res, err := t.AttachResource(tenant.NewResource(uuid.NewString(), tenantID, typ, config))
	if err != nil {
		return nil, err
	}
	return cloneResource(res), nil
}

func (s *TenantStore) ApplyProgress(ctx context.Context, p tenant.Progress) (*tenant.Tenant, *tenant.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tenants[p.TenantID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", tenant.ErrTenantNotFound, p.TenantID)
	}

	res, conflicts, err := t.Apply(p)
	if err != nil {
		return nil, nil, err
	}
	for _, key := range conflicts {
		slog.WarnContext(ctx, "resource config conflict, overwriting",
			logger.TenantID(t.ID), logger.ResourceID(res.ID), logger.ConfigKey(key))
	}
	return clone(t), cloneResource(res), nil
}

func clone(t *tenant.Tenant) *tenant.Tenant {
	out := *t
	out.Resources = make([]*tenant.Resource, 0, len(t.Resources))
	for _, r := range t.Resources {
		out.Resources = append(out.Resources, cloneResource(r))
	}
	out.Contacts = append([]tenant.Contact(nil), t.Contacts...)
	if t.Configuration != nil {
		out.Configuration = append([]byte(nil), t.Configuration...)
	}
	return &out
}

func cloneResource(r *tenant.Resource) *tenant.Resource {
	out := *r
	out.Config = make(map[string]string, len(r.Config))
	for k, v := range r.Config {
		out.Config[k] = v
	}
	return &out
}
