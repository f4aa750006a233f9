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

package clouddb

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryAdmin is an in-memory AdminAPI used for local development and
// tests. Operations complete after a configurable number of polls so the
// poll loop is exercised.
type MemoryAdmin struct {
	mu sync.Mutex

	// PollsUntilDone is how many GetOperation calls an operation stays
	// pending before completing. Zero means done on first poll.
	PollsUntilDone int

	instances  map[string]InstanceSpec
	databases  map[string][]string
	users      map[string][]string
	operations map[string]*memoryOperation
}

type memoryOperation struct {
	remaining int
}

// NewMemoryAdmin creates an empty in-memory admin service.
func NewMemoryAdmin() *MemoryAdmin {
	return &MemoryAdmin{
		instances:  make(map[string]InstanceSpec),
		databases:  make(map[string][]string),
		users:      make(map[string][]string),
		operations: make(map[string]*memoryOperation),
	}
}

func (m *MemoryAdmin) CreateInstance(ctx context.Context, spec InstanceSpec) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.instances[spec.Name]; ok {
		return "", fmt.Errorf("instance %s already exists", spec.Name)
	}
	m.instances[spec.Name] = spec
	return m.newOperation(), nil
}

func (m *MemoryAdmin) CreateDatabase(ctx context.Context, instance, database string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.databases[instance] = append(m.databases[instance], database)
	return m.newOperation(), nil
}

func (m *MemoryAdmin) GetOperation(ctx context.Context, operationID string) (OperationStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.operations[operationID]
	if !ok {
		return OperationStatus{}, fmt.Errorf("unknown operation %s", operationID)
	}
	if op.remaining > 0 {
		op.remaining--
		return OperationStatus{State: OperationRunning}, nil
	}
	return OperationStatus{State: OperationDone}, nil
}

func (m *MemoryAdmin) AuthorizeNetwork(ctx context.Context, instance, cidr string) error {
	return nil
}

func (m *MemoryAdmin) CreateUser(ctx context.Context, instance, username, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[instance] = append(m.users[instance], username)
	return nil
}

func (m *MemoryAdmin) EnsureSchema(ctx context.Context, instance, database, schema, owner string) error {
	return nil
}

// Databases lists databases created on an instance. Test helper.
func (m *MemoryAdmin) Databases(instance string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.databases[instance]...)
}

// HasInstance reports whether an instance was created. Test helper.
func (m *MemoryAdmin) HasInstance(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.instances[name]
	return ok
}

// newOperation must be called with the lock held.
func (m *MemoryAdmin) newOperation() string {
	id := uuid.NewString()
	m.operations[id] = &memoryOperation{remaining: m.PollsUntilDone}
	return id
}
