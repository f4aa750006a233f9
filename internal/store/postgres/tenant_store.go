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

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rvcplatform/provisioner/internal/observability/logger"
	"github.com/rvcplatform/provisioner/internal/tenant"
)

// TenantStore implements tenant.Store on PostgreSQL. Both mutations lock
// the tenant row (SELECT ... FOR UPDATE) and commit resource and derived
// tenant status in the same transaction, which serializes concurrent
// progress callbacks per tenant and keeps readers from ever observing a
// resource update without the matching tenant status.
type TenantStore struct {
	db *DB
}

// NewTenantStore creates a new tenant store
func NewTenantStore(db *DB) *TenantStore {
	return &TenantStore{db: db}
}

func (s *TenantStore) Create(ctx context.Context, t *tenant.Tenant) error {
	tx, err := s.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	configuration := t.Configuration
	if len(configuration) == 0 {
		configuration = []byte("{}")
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO tenants (id, realm, display_name, secret, category, status, configuration, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, t.ID, t.Realm, t.DisplayName, t.Secret, t.Category, t.Status, configuration, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create tenant: %w", mapError(err))
	}

	for _, c := range t.Contacts {
		_, err = tx.Exec(ctx, `
			INSERT INTO tenant_contacts (id, tenant_id, email, name)
			VALUES ($1, $2, $3, $4)
		`, c.ID, t.ID, c.Email, nullable(c.Name))
		if err != nil {
			return fmt.Errorf("failed to create contact: %w", mapError(err))
		}
	}

	return tx.Commit(ctx)
}

func (s *TenantStore) GetByID(ctx context.Context, id string) (*tenant.Tenant, error) {
	return s.loadTenant(ctx, s.db.pool, "id = $1", id)
}

func (s *TenantStore) GetByRealm(ctx context.Context, realm string) (*tenant.Tenant, error) {
	return s.loadTenant(ctx, s.db.pool, "realm = $1", realm)
}

func (s *TenantStore) List(ctx context.Context, limit, offset int) ([]*tenant.Tenant, error) {
	rows, err := s.db.pool.Query(ctx, `
		SELECT id FROM tenants
		ORDER BY created_at, id
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan tenant ids: %w", err)
	}

	tenants := make([]*tenant.Tenant, 0, len(ids))
	for _, id := range ids {
		t, err := s.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, nil
}

func (s *TenantStore) AddResource(ctx context.Context, tenantID string, typ tenant.ResourceType, config map[string]string) (*tenant.Resource, error) {
	tx, err := s.db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	t, err := s.lockTenant(ctx, tx, tenantID)
	if err != nil {
		return nil, err
	}

	reset := t.Resource(typ) != nil // only a failed resource survives the gate below
	res, err := t.AttachResource(tenant.NewResource(uuid.NewString(), tenantID, typ, config))
	if err != nil {
		return nil, err
	}

	if reset {
		// Operator retry of a failed attempt: same row, same id.
		_, err = tx.Exec(ctx, `
			UPDATE tenant_resources
			SET status = $2, config = $3, failure_message = NULL, updated_at = $4
			WHERE id = $1
		`, res.ID, res.Status, res.Config, res.UpdatedAt)
	} else {
		// The tenant row lock makes a concurrent insert impossible; the
		// unique constraint is defense in depth and maps back to
		// ErrResourceExists either way.
		_, err = tx.Exec(ctx, `
			INSERT INTO tenant_resources (id, tenant_id, resource_type, status, config, failure_message, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, NULL, $6, $7)
		`, res.ID, tenantID, typ, res.Status, res.Config, res.CreatedAt, res.UpdatedAt)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to persist resource: %w", mapError(err))
	}

	if err := s.updateTenantStatus(ctx, tx, t); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return res, nil
}

func (s *TenantStore) ApplyProgress(ctx context.Context, p tenant.Progress) (*tenant.Tenant, *tenant.Resource, error) {
	tx, err := s.db.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	t, err := s.lockTenant(ctx, tx, p.TenantID)
	if err != nil {
		return nil, nil, err
	}

	res, conflicts, err := t.Apply(p)
	if err != nil {
		return nil, nil, err
	}
	for _, key := range conflicts {
		slog.WarnContext(ctx, "resource config conflict, overwriting",
			logger.TenantID(t.ID), logger.ResourceID(res.ID), logger.ConfigKey(key))
	}

	_, err = tx.Exec(ctx, `
		UPDATE tenant_resources
		SET status = $2, config = $3, failure_message = $4, updated_at = $5
		WHERE id = $1
	`, res.ID, res.Status, res.Config, nullable(res.FailureMessage), res.UpdatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to update resource: %w", mapError(err))
	}

	if err := s.updateTenantStatus(ctx, tx, t); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit: %w", err)
	}
	return t, res, nil
}

// lockTenant loads the tenant aggregate with the tenant row locked for the
// duration of the transaction.
func (s *TenantStore) lockTenant(ctx context.Context, tx pgx.Tx, id string) (*tenant.Tenant, error) {
	t, err := s.loadTenant(ctx, tx, "id = $1 FOR UPDATE OF tenants", id)
	if err != nil {
		return nil, err
	}
	return t, nil
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *TenantStore) loadTenant(ctx context.Context, q queryer, where string, arg any) (*tenant.Tenant, error) {
	var t tenant.Tenant
	var configuration []byte
	err := q.QueryRow(ctx, `
		SELECT id, realm, display_name, secret, category, status, configuration, created_at, updated_at
		FROM tenants
		WHERE `+where,
		arg,
	).Scan(&t.ID, &t.Realm, &t.DisplayName, &t.Secret, &t.Category, &t.Status,
		&configuration, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %v", tenant.ErrTenantNotFound, arg)
		}
		return nil, fmt.Errorf("failed to load tenant: %w", mapError(err))
	}
	t.Configuration = configuration

	rows, err := q.Query(ctx, `
		SELECT id, tenant_id, resource_type, status, config, failure_message, created_at, updated_at
		FROM tenant_resources
		WHERE tenant_id = $1
		ORDER BY created_at, id
	`, t.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load resources: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r tenant.Resource
		var failure sql.NullString
		if err := rows.Scan(&r.ID, &r.TenantID, &r.Type, &r.Status, &r.Config,
			&failure, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		if failure.Valid {
			r.FailureMessage = failure.String
		}
		t.Resources = append(t.Resources, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read resources: %w", err)
	}

	contactRows, err := q.Query(ctx, `
		SELECT id, tenant_id, email, COALESCE(name, '')
		FROM tenant_contacts
		WHERE tenant_id = $1
		ORDER BY created_at, id
	`, t.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load contacts: %w", err)
	}
	defer contactRows.Close()
	for contactRows.Next() {
		var c tenant.Contact
		if err := contactRows.Scan(&c.ID, &c.TenantID, &c.Email, &c.Name); err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		t.Contacts = append(t.Contacts, c)
	}
	if err := contactRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read contacts: %w", err)
	}

	return &t, nil
}

func (s *TenantStore) updateTenantStatus(ctx context.Context, tx pgx.Tx, t *tenant.Tenant) error {
	_, err := tx.Exec(ctx, `
		UPDATE tenants SET status = $2, updated_at = $3 WHERE id = $1
	`, t.ID, t.Status, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update tenant status: %w", mapError(err))
	}
	return nil
}

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
