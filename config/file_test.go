/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomoncle/dbwire/database"
)

const sampleFile = `
default_connection: readonly
connections:
  default:
    driver: pdo_pgsql
    host: primary.db
    port: 5432
    password: "@db_password"
    sslmode: ~
    replica:
      r1:
        host: replica.db
  readonly:
    driver: pdo_mysql
    host: ro.db
  scratch:
`

func TestParse(t *testing.T) {
	t.Run("it should decode connections and keep nulls", func(t *testing.T) {
		// WHEN
		f, err := Parse([]byte(sampleFile))

		// THEN
		require.NoError(t, err)
		assert.Equal(t, "readonly", f.DefaultConnection)
		require.Len(t, f.Connections, 3)
		def := f.Connections["default"]
		assert.Equal(t, "pdo_pgsql", def["driver"])
		assert.Equal(t, 5432, def["port"])
		v, ok := def["sslmode"]
		assert.True(t, ok)
		assert.Nil(t, v)
		assert.Equal(t, database.RawConnectionConfig{}, f.Connections["scratch"])
	})

	t.Run("it should produce input the validator accepts", func(t *testing.T) {
		f, err := Parse([]byte(sampleFile))
		require.NoError(t, err)
		delete(f.Connections, "scratch")

		out, err := database.ValidateAll(f.Connections)

		require.NoError(t, err)
		assert.Equal(t, database.ReferenceTo("db_password"), out["default"]["password"])
		assert.NotContains(t, out["default"], "sslmode")
		assert.Equal(t, map[string]interface{}{"r1": map[string]interface{}{"host": "replica.db"}}, out["default"]["replica"])
	})

	t.Run("it should reject documents without connections", func(t *testing.T) {
		_, err := Parse([]byte("default_connection: x\n"))
		require.Error(t, err)

		_, err = Parse([]byte("connections: [1, 2"))
		require.Error(t, err)
	})
}

func TestLoadFile(t *testing.T) {
	t.Run("it should read a file from disk", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "database.yaml")
		require.NoError(t, os.WriteFile(path, []byte(sampleFile), 0o600))

		f, err := LoadFile(path)

		require.NoError(t, err)
		assert.Len(t, f.Connections, 3)
	})

	t.Run("it should fail on a missing file", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config file")
	})
}

func TestApplyEnv(t *testing.T) {
	t.Run("it should override declared fields from the environment", func(t *testing.T) {
		// GIVEN
		t.Setenv("TEST_CONNECTIONS_DEFAULT_HOST", "env.db")
		t.Setenv("TEST_CONNECTIONS_DEFAULT_PORT", "6543")
		t.Setenv("TEST_CONNECTIONS_DEFAULT_DEFAULT_DBNAME", "tpl")
		t.Setenv("TEST_CONNECTIONS_DEFAULT_AUTO_COMMIT", "false")
		t.Setenv("TEST_CONNECTIONS_READONLY_SSLMODE", "require")
		f, err := Parse([]byte(sampleFile))
		require.NoError(t, err)
		delete(f.Connections, "scratch")

		// WHEN
		require.NoError(t, f.ApplyEnv("TEST"))

		// THEN
		def := f.Connections["default"]
		assert.Equal(t, "env.db", def["host"])
		assert.Equal(t, "6543", def["port"])
		assert.Equal(t, "tpl", def["default_dbname"])
		assert.Equal(t, "false", def["autoCommit"])
		assert.NotContains(t, f.Connections["readonly"], "sslmode", "pdo_mysql declares no sslmode")

		out, err := database.ValidateAll(f.Connections)
		require.NoError(t, err)
		assert.Equal(t, 6543, out["default"]["port"])
		assert.NotContains(t, out["default"], "autoCommit")
	})

	t.Run("it should override the driver first", func(t *testing.T) {
		t.Setenv("TEST_CONNECTIONS_READONLY_DRIVER", "pdo_pgsql")
		t.Setenv("TEST_CONNECTIONS_READONLY_SSLMODE", "require")
		f, err := Parse([]byte(sampleFile))
		require.NoError(t, err)

		require.NoError(t, f.ApplyEnv("TEST"))

		assert.Equal(t, "pdo_pgsql", f.Connections["readonly"]["driver"])
		assert.Equal(t, "require", f.Connections["readonly"]["sslmode"])
	})

	t.Run("it should read connections whose name contains a dot", func(t *testing.T) {
		t.Setenv("TEST_CONNECTIONS_APP_REPLICA_HOST", "replica.db")
		f := &File{Connections: map[string]database.RawConnectionConfig{
			"app.replica": {"driver": "pdo_pgsql", "host": "file.db"},
		}}

		require.NoError(t, f.ApplyEnv("TEST"))

		assert.Equal(t, "replica.db", f.Connections["app.replica"]["host"])
	})

	t.Run("it should reject names that map to the same variables", func(t *testing.T) {
		tests := [][2]string{{"App", "app"}, {"a.b", "a_b"}, {"readOnly", "read_only"}}
		for _, names := range tests {
			f := &File{Connections: map[string]database.RawConnectionConfig{
				names[0]: {"driver": "sqlite3"},
				names[1]: {"driver": "sqlite3"},
			}}

			err := f.ApplyEnv("TEST")

			require.Error(t, err, names)
			assert.Contains(t, err.Error(), "share the environment prefix TEST_CONNECTIONS_")
		}
	})

	t.Run("it should read the default connection", func(t *testing.T) {
		t.Setenv("TEST_DEFAULT_CONNECTION", "default")
		f := &File{Connections: map[string]database.RawConnectionConfig{"default": {"driver": "sqlite3"}}}

		require.NoError(t, f.ApplyEnv("TEST"))

		assert.Equal(t, "default", f.DefaultConnection)
	})
}

func TestToScreamingSnakeCase(t *testing.T) {
	tests := map[string]string{
		"host":                "HOST",
		"serverVersion":       "SERVER_VERSION",
		"defaultTableOptions": "DEFAULT_TABLE_OPTIONS",
		"unix_socket":         "UNIX_SOCKET",
		"ssl-key":             "SSL_KEY",
		"replica1":            "REPLICA1",
		"db2Host":             "DB2_HOST",
	}
	for in, want := range tests {
		assert.Equal(t, want, ToScreamingSnakeCase(in), in)
	}
}
