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

// Package router maintains the live map from tenant realm to database
// connection pool. The map is an immutable snapshot behind an atomically
// swapped pointer: readers are lock-free and never observe a half-built
// entry, writers serialize among themselves and publish full copies.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rvcplatform/provisioner/internal/observability/logger"
	"github.com/rvcplatform/provisioner/internal/secrets"
	"github.com/rvcplatform/provisioner/internal/tenant"
)

// defaultPageSize bounds the bootstrap scan.
const defaultPageSize = 100

// Fixed per-tenant pool parameters. Not tenant-configurable today.
const (
	poolMaxConns        = 10
	poolMinConns        = 1
	poolMaxConnLifetime = time.Hour
	poolMaxConnIdleTime = 30 * time.Minute
	poolConnectTimeout  = 10 * time.Second
)

// OpenFunc opens a pool for a connection string. Swapped out in tests.
type OpenFunc func(ctx context.Context, connString string) (*pgxpool.Pool, error)

// DataSource is one routing table entry.
type DataSource struct {
	Realm    string
	TenantID string
	Pool     *pgxpool.Pool
}

// Router routes realms to live connection pools.
type Router struct {
	repo     tenant.Repository
	open     OpenFunc
	pageSize int

	// writers only; readers go through the snapshot
	mu      sync.Mutex
	entries atomic.Pointer[map[string]*DataSource]
}

// Option customizes a Router.
type Option func(*Router)

// WithOpenFunc overrides how pools are opened.
func WithOpenFunc(open OpenFunc) Option {
	return func(r *Router) { r.open = open }
}

// WithPageSize overrides the bootstrap page size.
func WithPageSize(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.pageSize = n
		}
	}
}

// New creates a router over the tenant repository.
func New(repo tenant.Repository, opts ...Option) *Router {
	r := &Router{
		repo:     repo,
		open:     openPool,
		pageSize: defaultPageSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	empty := map[string]*DataSource{}
	r.entries.Store(&empty)
	return r
}

// Bootstrap pages through all tenants and builds one pool per active
// tenant with a usable database resource, then publishes the whole table
// in one swap. Tenants that fail to connect are logged and skipped so one
// broken tenant cannot hold up startup.
func (r *Router) Bootstrap(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	table := make(map[string]*DataSource)
	for offset := 0; ; offset += r.pageSize {
		page, err := r.repo.List(ctx, r.pageSize, offset)
		if err != nil {
			return fmt.Errorf("failed to list tenants at offset %d: %w", offset, err)
		}
		if len(page) == 0 {
			break
		}
		for _, t := range page {
			if t.Status != tenant.StatusActive {
				continue
			}
			ds, err := r.buildDataSource(ctx, t)
			if err != nil {
				slog.WarnContext(ctx, "skipping tenant during router bootstrap",
					logger.TenantID(t.ID), logger.Realm(t.Realm), logger.Error(err))
				continue
			}
			table[t.Realm] = ds
		}
		if len(page) < r.pageSize {
			break
		}
	}

	r.entries.Store(&table)
	slog.InfoContext(ctx, "connection router bootstrapped",
		slog.Int("tenants", len(table)))
	return nil
}

// Refresh re-reads one tenant and atomically replaces only that routing
// entry. Lookups for other realms are never blocked: the new snapshot is
// fully built before the swap, and the old pool is closed only after it
// is unreachable from the table.
func (r *Router) Refresh(ctx context.Context, tenantID, realm string) error {
	t, err := r.repo.GetByID(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to load tenant %s: %w", tenantID, err)
	}

	ds, err := r.buildDataSource(ctx, t)
	if err != nil {
		return err
	}

	r.mu.Lock()
	old := *r.entries.Load()
	table := make(map[string]*DataSource, len(old)+1)
	for k, v := range old {
		table[k] = v
	}
	replaced := table[realm]
	table[realm] = ds
	r.entries.Store(&table)
	r.mu.Unlock()

	if replaced != nil && replaced.Pool != nil {
		replaced.Pool.Close()
	}

	slog.InfoContext(ctx, "routing entry refreshed",
		logger.TenantID(tenantID), logger.Realm(realm))
	return nil
}

// HasTenantDataSource reports whether a live pool exists for the realm.
func (r *Router) HasTenantDataSource(realm string) bool {
	_, ok := (*r.entries.Load())[realm]
	return ok
}

// Lookup returns the pool serving a realm.
func (r *Router) Lookup(realm string) (*pgxpool.Pool, bool) {
	ds, ok := (*r.entries.Load())[realm]
	if !ok {
		return nil, false
	}
	return ds.Pool, true
}

// Close closes every pool in the table.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	table := *r.entries.Load()
	empty := map[string]*DataSource{}
	r.entries.Store(&empty)
	for _, ds := range table {
		if ds.Pool != nil {
			ds.Pool.Close()
		}
	}
}

// buildDataSource decrypts the tenant's database credentials with its own
// secret and opens the pool.
func (r *Router) buildDataSource(ctx context.Context, t *tenant.Tenant) (*DataSource, error) {
	res := t.Resource(tenant.ResourceTypeDatabase)
	if res == nil {
		return nil, fmt.Errorf("%w: tenant %s has no database resource", tenant.ErrResourceNotFound, t.ID)
	}

	connString, err := connStringFor(t, res)
	if err != nil {
		return nil, err
	}

	pool, err := r.open(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open pool for realm %s: %w", t.Realm, err)
	}
	return &DataSource{Realm: t.Realm, TenantID: t.ID, Pool: pool}, nil
}

func connStringFor(t *tenant.Tenant, res *tenant.Resource) (string, error) {
	jdbcURL := res.Config[tenant.ConfigKeyJDBCURL]
	username := res.Config[tenant.ConfigKeyUsername]
	encrypted := res.Config[tenant.ConfigKeyPassword]
	schema := res.Config[tenant.ConfigKeySchema]
	for key, v := range map[string]string{
		tenant.ConfigKeyJDBCURL:  jdbcURL,
		tenant.ConfigKeyUsername: username,
		tenant.ConfigKeyPassword: encrypted,
	} {
		if v == "" {
			return "", fmt.Errorf("%w: %s (tenant %s)", tenant.ErrConfigKeyMissing, key, t.ID)
		}
	}

	password, err := secrets.DecryptString(t.Secret, encrypted)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt credentials for realm %s: %w", t.Realm, err)
	}

	// Stored URLs are jdbc-style; the pgx form is the same URL without
	// the jdbc: prefix plus inline credentials.
	endpoint := strings.TrimPrefix(jdbcURL, "jdbc:")
	endpoint = strings.TrimPrefix(endpoint, "postgresql://")
	conn := fmt.Sprintf("postgres://%s:%s@%s", username, password, endpoint)
	if schema != "" && schema != "public" {
		conn += "?search_path=" + schema
	}
	return conn, nil
}

// openPool is the default OpenFunc with the fixed pool parameters.
func openPool(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	cfg.MaxConns = poolMaxConns
	cfg.MinConns = poolMinConns
	cfg.MaxConnLifetime = poolMaxConnLifetime
	cfg.MaxConnIdleTime = poolMaxConnIdleTime
	cfg.ConnConfig.ConnectTimeout = poolConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	return pool, nil
}
