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

package keycloak

import (
	"context"
	"fmt"
	"sync"
)

// MemoryAdmin is an in-memory AdminAPI used for local development and
// tests.
type MemoryAdmin struct {
	mu     sync.Mutex
	realms map[string]RealmSpec
	roles  map[string][]string
	users  map[string][]UserSpec
}

// NewMemoryAdmin creates an empty in-memory admin service.
func NewMemoryAdmin() *MemoryAdmin {
	return &MemoryAdmin{
		realms: make(map[string]RealmSpec),
		roles:  make(map[string][]string),
		users:  make(map[string][]UserSpec),
	}
}

func (m *MemoryAdmin) RealmExists(ctx context.Context, realm string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.realms[realm]
	return ok, nil
}

func (m *MemoryAdmin) CreateRealm(ctx context.Context, spec RealmSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.realms[spec.Name]; ok {
		return fmt.Errorf("realm %s already exists", spec.Name)
	}
	m.realms[spec.Name] = spec
	return nil
}

func (m *MemoryAdmin) CreateRole(ctx context.Context, realm, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[realm] = append(m.roles[realm], role)
	return nil
}

func (m *MemoryAdmin) CreateUser(ctx context.Context, realm string, user UserSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[realm] = append(m.users[realm], user)
	return nil
}

// Seed pre-creates a realm. Test helper for the out-of-band case.
func (m *MemoryAdmin) Seed(realm string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.realms[realm] = RealmSpec{Name: realm}
}

// Roles lists roles created in a realm. Test helper.
func (m *MemoryAdmin) Roles(realm string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.roles[realm]...)
}
