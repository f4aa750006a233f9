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
	"fmt"
	"strings"

	"github.com/rvcplatform/provisioner/internal/tenant"
)

// Generator derives deterministic resource names and connection settings
// from realm, tenant category and deployment environment. Pure; no
// external calls.
type Generator struct {
	// Environment is the deployment environment prefix boiled into every
	// generated name, e.g. "prod" or "staging".
	Environment string

	// SharedInstanceName and SharedDatabaseName identify the master
	// instance reused by non-enterprise tenants.
	SharedInstanceName string
	SharedDatabaseName string

	// DatabaseHost and DatabasePort locate the serving endpoint used in
	// generated connection URLs.
	DatabaseHost string
	DatabasePort string
}

// DatabaseNames is one deterministic naming result.
type DatabaseNames struct {
	InstanceName string
	DatabaseName string
	Schema       string
	Username     string
	JDBCURL      string
	Dedicated    bool
}

// DatabaseNames derives the names for a tenant's database resource.
// Enterprise tenants get an isolated instance and database; everyone else
// shares the master instance with the realm as schema.
func (g *Generator) DatabaseNames(realm string, category tenant.Category) DatabaseNames {
	n := DatabaseNames{
		Username:  identifier(realm) + "_svc",
		Dedicated: category.Dedicated(),
	}
	if n.Dedicated {
		n.InstanceName = fmt.Sprintf("%s-%s-rvc-platform-db", g.Environment, realm)
		n.DatabaseName = fmt.Sprintf("%s_%s_rvc_platform_db", identifier(g.Environment), identifier(realm))
		n.Schema = "public"
	} else {
		n.InstanceName = g.SharedInstanceName
		n.DatabaseName = g.SharedDatabaseName
		n.Schema = realm
	}
	n.JDBCURL = fmt.Sprintf("jdbc:postgresql://%s:%s/%s", g.DatabaseHost, g.DatabasePort, n.DatabaseName)
	return n
}

// InitialConfig builds the resource configuration stored at creation time.
// encryptedPassword is the credential already sealed with the tenant
// secret.
func (n DatabaseNames) InitialConfig(encryptedPassword string) map[string]string {
	return map[string]string{
		tenant.ConfigKeyDBInstanceName: n.InstanceName,
		tenant.ConfigKeyDBName:         n.DatabaseName,
		tenant.ConfigKeySchema:         n.Schema,
		tenant.ConfigKeyUsername:       n.Username,
		tenant.ConfigKeyPassword:       encryptedPassword,
		tenant.ConfigKeyJDBCURL:        n.JDBCURL,
	}
}

// identifier lowers a name into a SQL-identifier-safe form.
func identifier(s string) string {
	s = strings.ToLower(s)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, s)
}
