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
	"fmt"
	"time"
)

// Transition rules for the tenant/resource state machines. Both store
// implementations (postgres, memory) load the tenant aggregate, mutate it
// through these functions inside their own critical section, and write the
// result back in one atomic unit.

// Apply applies one progress update to the in-memory aggregate: sets the
// resource status, merges p.Config into the resource configuration, and
// derives the tenant status. On PROVISIONING_FAILED the failure message is
// recorded and the tenant is forced to PROVISIONING_FAILED regardless of
// its other resources.
//
// The returned slice names config keys that already held a different
// value and were overwritten; callers log these as conflicts. Merging an
// identical value is a no-op.
//
// Delivery upstream is at-least-once, so a delayed duplicate of an earlier
// callback can arrive after the resource has moved on. Apply returns
// ErrStaleTransition for any update that would move a resource backwards
// or out of a terminal state; only an idempotent repeat of the current
// status is accepted there.
func (t *Tenant) Apply(p Progress) (*Resource, []string, error) {
	if !p.Status.Valid() {
		return nil, nil, fmt.Errorf("%w: %q", ErrInvalidStatus, p.Status)
	}

	var res *Resource
	for _, r := range t.Resources {
		if r.ID == p.ResourceID {
			res = r
			break
		}
	}
	if res == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrResourceNotFound, p.ResourceID)
	}

	if !canTransition(res.Status, p.Status) {
		return nil, nil, fmt.Errorf("%w: %s cannot move to %s", ErrStaleTransition, res.Status, p.Status)
	}

	conflicts := res.mergeConfig(p.Config)
	res.Status = p.Status

	now := time.Now()
	res.UpdatedAt = now
	t.UpdatedAt = now

	if p.Status == StatusProvisioningFailed {
		res.FailureMessage = p.FailureMessage
		t.Status = StatusProvisioningFailed
		return res, conflicts, nil
	}

	t.Status = t.deriveStatus()
	return res, conflicts, nil
}

// mergeConfig merges updates into the resource configuration and returns
// the keys whose existing value differed and was overwritten.
func (r *Resource) mergeConfig(updates map[string]string) []string {
	if len(updates) == 0 {
		return nil
	}
	if r.Config == nil {
		r.Config = make(map[string]string, len(updates))
	}
	var conflicts []string
	for k, v := range updates {
		if old, ok := r.Config[k]; ok {
			if old == v {
				continue
			}
			conflicts = append(conflicts, k)
		}
		r.Config[k] = v
	}
	return conflicts
}

// statusRank orders the forward progression of the per-resource state
// machine. PROVISIONING_FAILED sits outside the order and is handled
// separately.
var statusRank = map[Status]int{
	StatusCreated:                0,
	StatusProvisioningInitiated:  1,
	StatusProvisioningInProgress: 2,
	StatusProvisioningCompleted:  3,
	StatusActive:                 4,
}

// canTransition reports whether a resource may move between the two
// statuses. Repeating the current status is always accepted so duplicate
// callbacks stay idempotent. ACTIVE and PROVISIONING_FAILED are terminal
// and accept nothing else; PROVISIONING_FAILED is reachable from every
// non-terminal state; everything else must move forward.
func canTransition(from, to Status) bool {
	if from == to {
		return true
	}
	if from == StatusActive || from == StatusProvisioningFailed {
		return false
	}
	if to == StatusProvisioningFailed {
		return true
	}
	return statusRank[to] > statusRank[from]
}

// gatingResourceTypes is the full resource set a tenant needs before it
// can come online. A tenant holding only part of the set stays
// PROVISIONING_IN_PROGRESS even when everything it has is ACTIVE.
var gatingResourceTypes = []ResourceType{ResourceTypeDatabase, ResourceTypeIdentityRealm}

// deriveStatus computes the tenant's aggregate status from its resources:
// any failure makes it PROVISIONING_FAILED, the complete gating set ACTIVE
// makes the tenant ACTIVE, anything missing or in flight keeps it
// PROVISIONING_IN_PROGRESS.
func (t *Tenant) deriveStatus() Status {
	if len(t.Resources) == 0 {
		return StatusCreated
	}
	for _, r := range t.Resources {
		if r.Status == StatusProvisioningFailed {
			return StatusProvisioningFailed
		}
		if r.Status != StatusActive {
			return StatusProvisioningInProgress
		}
	}
	for _, typ := range gatingResourceTypes {
		if t.Resource(typ) == nil {
			return StatusProvisioningInProgress
		}
	}
	return StatusActive
}

// NewResource builds a resource in PROVISIONING_INITIATED for attach via a
// store's AddResource.
func NewResource(id, tenantID string, typ ResourceType, config map[string]string) *Resource {
	now := time.Now()
	cfg := make(map[string]string, len(config))
	for k, v := range config {
		cfg[k] = v
	}
	return &Resource{
		ID:        id,
		TenantID:  tenantID,
		Type:      typ,
		Status:    StatusProvisioningInitiated,
		Config:    cfg,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AttachResource enforces the idempotency gate against the in-memory
// aggregate and attaches res, returning the effective resource: a live
// resource of the same type rejects the attach with ErrResourceExists,
// while a PROVISIONING_FAILED one is reset in place (keeping its id) so an
// operator re-submission can run again.
func (t *Tenant) AttachResource(res *Resource) (*Resource, error) {
	existing := t.Resource(res.Type)
	if existing != nil {
		if existing.Status != StatusProvisioningFailed {
			return nil, fmt.Errorf("%w: type %s", ErrResourceExists, res.Type)
		}
		existing.Status = StatusProvisioningInitiated
		existing.Config = res.Config
		existing.FailureMessage = ""
		existing.UpdatedAt = time.Now()
		res = existing
	} else {
		t.Resources = append(t.Resources, res)
	}
	t.Status = StatusProvisioningInProgress
	t.UpdatedAt = time.Now()
	return res, nil
}
