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

// Package events defines the provisioning events published to outside
// collaborators and the in-process bus that chains the provisioning flow
// (tenant created → database → realm → router refresh).
package events

import (
	"context"
	"time"
)

// Type identifies a published event.
type Type string

const (
	TypeTenantCreated       Type = "tenant.created"
	TypeDatabaseProvisioned Type = "database.provisioned"
	TypeRealmProvisioned    Type = "realm.provisioned"
	TypeContactsNotify      Type = "tenant.contacts.notify"
)

// Event carries the realm and tenant id an interested party needs to react.
// Delivery is at-least-once; consumers must be idempotent.
type Event struct {
	Type       Type      `json:"type"`
	TenantID   string    `json:"tenantId"`
	Realm      string    `json:"realm"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Publisher publishes events to interested parties.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Multi fans one publish out to several publishers (e.g. in-process bus
// plus Kafka). The first error is returned after all publishers ran.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
