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
	"encoding/json"
	"fmt"

	"github.com/rvcplatform/provisioner/internal/tenant"
)

// ContextSchemaVersion is bumped when the serialized Context layout
// changes incompatibly.
const ContextSchemaVersion = 1

// Context carries partial, heterogeneous provisioning progress between a
// lifecycle provider and the state store, and across the async message
// boundary (webhook, Kafka). It is a closed schema: every field a provider
// may report is declared here, with one map for the open-ended set of
// external operation ids keyed by logical sub-operation
// (e.g. "create-instance").
//
// Contexts have value semantics; every With* accessor returns a copy, so
// a base context can be fanned out safely.
type Context struct {
	Version        int           `json:"version"`
	Provider       string        `json:"provider,omitempty"`
	AccountID      string        `json:"accountId,omitempty"`
	TenantID       string        `json:"tenantId,omitempty"`
	Realm          string        `json:"realm,omitempty"`
	ResourceID     string        `json:"resourceId,omitempty"`
	ResourceStatus tenant.Status `json:"resourceStatus,omitempty"`

	DBInstanceName string `json:"dbInstanceName,omitempty"`
	DBName         string `json:"dbName,omitempty"`
	JDBCURL        string `json:"jdbcUrl,omitempty"`
	Schema         string `json:"schema,omitempty"`

	IAMAccountConsoleURL string `json:"iamAccountConsoleUrl,omitempty"`
	IAMApplicationURL    string `json:"iamApplicationUrl,omitempty"`
	IAMAdminConsoleURL   string `json:"iamAdminConsoleUrl,omitempty"`

	OperationIDs map[string]string `json:"operationIds,omitempty"`

	ErrorMessage string `json:"errorMessage,omitempty"`
}

// NewContext returns an empty context at the current schema version.
func NewContext() Context {
	return Context{Version: ContextSchemaVersion}
}

// ParseContext decodes a serialized context received from an async
// boundary.
func ParseContext(data []byte) (Context, error) {
	var c Context
	if err := json.Unmarshal(data, &c); err != nil {
		return Context{}, fmt.Errorf("failed to decode provisioning context: %w", err)
	}
	if c.Version == 0 {
		c.Version = ContextSchemaVersion
	}
	return c, nil
}

// Encode serializes the context for transport.
func (c Context) Encode() ([]byte, error) {
	return json.Marshal(c)
}

func (c Context) WithProvider(p Provider) Context  { c.Provider = string(p); return c }
func (c Context) WithAccount(id string) Context    { c.AccountID = id; return c }
func (c Context) WithTenant(id string) Context     { c.TenantID = id; return c }
func (c Context) WithRealm(realm string) Context   { c.Realm = realm; return c }
func (c Context) WithResource(id string) Context   { c.ResourceID = id; return c }
func (c Context) WithError(msg string) Context     { c.ErrorMessage = msg; return c }
func (c Context) WithInstance(n string) Context    { c.DBInstanceName = n; return c }
func (c Context) WithDatabase(n string) Context    { c.DBName = n; return c }
func (c Context) WithJDBCURL(u string) Context     { c.JDBCURL = u; return c }
func (c Context) WithSchema(schema string) Context { c.Schema = schema; return c }

func (c Context) WithStatus(s tenant.Status) Context { c.ResourceStatus = s; return c }

// WithOperationID records the external operation id for one logical
// sub-operation. The map is copied, so the receiver stays untouched.
func (c Context) WithOperationID(op, id string) Context {
	ids := make(map[string]string, len(c.OperationIDs)+1)
	for k, v := range c.OperationIDs {
		ids[k] = v
	}
	ids[op] = id
	c.OperationIDs = ids
	return c
}

// WithConsoleURLs records the identity-provider console URLs.
func (c Context) WithConsoleURLs(account, application, admin string) Context {
	c.IAMAccountConsoleURL = account
	c.IAMApplicationURL = application
	c.IAMAdminConsoleURL = admin
	return c
}

// OperationID returns the id recorded for one sub-operation.
func (c Context) OperationID(op string) (string, bool) {
	id, ok := c.OperationIDs[op]
	return id, ok
}

// ConfigUpdates flattens every recognized configuration field present into
// the persisted resource config vocabulary, including one
// "operationId.<sub-operation>" entry per outstanding external operation.
func (c Context) ConfigUpdates() map[string]string {
	out := make(map[string]string)
	put := func(key, value string) {
		if value != "" {
			out[key] = value
		}
	}
	put(tenant.ConfigKeyDBInstanceName, c.DBInstanceName)
	put(tenant.ConfigKeyDBName, c.DBName)
	put(tenant.ConfigKeyJDBCURL, c.JDBCURL)
	put(tenant.ConfigKeySchema, c.Schema)
	put(tenant.ConfigKeyIAMAccountConsoleURL, c.IAMAccountConsoleURL)
	put(tenant.ConfigKeyIAMApplicationURL, c.IAMApplicationURL)
	put(tenant.ConfigKeyIAMAdminConsoleURL, c.IAMAdminConsoleURL)
	for op, id := range c.OperationIDs {
		put(tenant.OperationIDKeyPrefix+op, id)
	}
	return out
}
