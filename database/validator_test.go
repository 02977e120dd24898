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

package database

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allowDeferred = cmp.AllowUnexported(Deferred{})

func requireViolation(t *testing.T, err error, path string) *SchemaViolationError {
	t.Helper()
	require.Error(t, err)
	require.ErrorIs(t, err, ErrSchemaViolation)
	for _, v := range Violations(err) {
		if v.Path == path {
			return v
		}
	}
	require.Failf(t, "violation not found", "no violation at %q in %v", path, err)
	return nil
}

func TestValidate(t *testing.T) {
	t.Run("it should accept a minimal configuration for every driver", func(t *testing.T) {
		for _, driver := range Drivers() {
			t.Run(driver.Name(), func(t *testing.T) {
				// GIVEN
				raw := RawConnectionConfig{"driver": driver.Name()}

				// WHEN
				params, err := Validate("default", raw)

				// THEN
				require.NoError(t, err)
				assert.Equal(t, Params{"driver": driver.Name()}, params)

				again, err := Validate("default", RawConnectionConfig(params))
				require.NoError(t, err)
				assert.Empty(t, cmp.Diff(params, again))
			})
		}
	})

	t.Run("it should reject an undeclared field with its path", func(t *testing.T) {
		// GIVEN
		raw := RawConnectionConfig{"driver": "sqlite3", "path": "/tmp/db", "host": "localhost"}

		// WHEN
		_, err := Validate("default", raw)

		// THEN
		v := requireViolation(t, err, "connections.default.host")
		assert.Contains(t, v.Reason, `unrecognized option "host"`)
		assert.Contains(t, v.Reason, "memory, path")
		assert.Contains(t, err.Error(), `invalid configuration for path "connections.default.host"`)
	})

	t.Run("it should reject an unknown driver", func(t *testing.T) {
		// GIVEN
		raw := RawConnectionConfig{"driver": "unknown_driver"}

		// WHEN
		_, err := Validate("default", raw)

		// THEN
		require.ErrorIs(t, err, ErrUnknownDriver)
		var unknown *UnknownDriverError
		require.True(t, errors.As(err, &unknown))
		assert.Equal(t, "default", unknown.Connection)
		assert.Equal(t, "unknown_driver", unknown.Driver)
		assert.Contains(t, err.Error(), "connections.default.driver")
	})

	t.Run("it should require the driver option", func(t *testing.T) {
		_, err := Validate("default", RawConnectionConfig{"path": "/tmp/db"})
		requireViolation(t, err, "connections.default.driver")

		_, err = Validate("default", RawConnectionConfig{"driver": 3})
		v := requireViolation(t, err, "connections.default.driver")
		assert.Contains(t, v.Reason, "expected a string")
	})

	t.Run("it should reject an empty connection name", func(t *testing.T) {
		_, err := Validate(" ", RawConnectionConfig{"driver": "sqlite3"})
		requireViolation(t, err, "connections")
	})

	t.Run("it should strip wiring keys for every driver", func(t *testing.T) {
		for _, driver := range Drivers() {
			t.Run(driver.Name(), func(t *testing.T) {
				// GIVEN
				raw := RawConnectionConfig{
					"driver":               driver.Name(),
					"middlewares":          map[string]interface{}{"audit": "@audit"},
					"resultCache":          "@cache",
					"schemaAssetsFilter":   "^app_",
					"schemaManagerFactory": "default",
					"autoCommit":           false,
					"url":                  "whatever://",
				}

				// WHEN
				params, err := Validate("default", raw)

				// THEN
				require.NoError(t, err)
				assert.Equal(t, Params{"driver": driver.Name()}, params)
			})
		}
	})

	t.Run("it should drop null values", func(t *testing.T) {
		// GIVEN
		raw := RawConnectionConfig{"driver": "sqlite3", "host": nil, "path": "/tmp/db"}

		// WHEN
		params, err := Validate("default", raw)

		// THEN
		require.NoError(t, err)
		assert.Equal(t, Params{"driver": "sqlite3", "path": "/tmp/db"}, params)
		assert.Contains(t, raw, "host", "input must not be mutated")
	})

	t.Run("it should check the port range for every driver declaring a port", func(t *testing.T) {
		for _, driver := range Drivers() {
			schema, err := SchemaFor(driver.Name())
			require.NoError(t, err)
			if _, ok := schema.Field("port"); !ok {
				continue
			}
			t.Run(driver.Name(), func(t *testing.T) {
				_, err := Validate("default", RawConnectionConfig{"driver": driver.Name(), "port": 99999})
				v := requireViolation(t, err, "connections.default.port")
				assert.Contains(t, v.Reason, "between 1 and 65535")

				params, err := Validate("default", RawConnectionConfig{"driver": driver.Name(), "port": 5432})
				require.NoError(t, err)
				assert.Equal(t, 5432, params["port"])

				params, err = Validate("default", RawConnectionConfig{"driver": driver.Name(), "port": "5432"})
				require.NoError(t, err)
				assert.Equal(t, 5432, params["port"])
			})
		}
	})

	t.Run("it should not accept a port for sqlite drivers", func(t *testing.T) {
		_, err := Validate("default", RawConnectionConfig{"driver": "pdo_sqlite", "port": 5432})
		requireViolation(t, err, "connections.default.port")
	})

	t.Run("it should accept replicas keyed by name", func(t *testing.T) {
		// GIVEN
		raw := RawConnectionConfig{
			"driver":  "pdo_pgsql",
			"replica": map[string]interface{}{"r1": map[string]interface{}{"host": "h"}},
		}

		// WHEN
		params, err := Validate("default", raw)

		// THEN
		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{"r1": map[string]interface{}{"host": "h"}}, params["replica"])

		again, err := Validate("default", RawConnectionConfig(params))
		require.NoError(t, err)
		assert.Empty(t, cmp.Diff(params, again))
	})

	t.Run("it should accept an empty replica map", func(t *testing.T) {
		params, err := Validate("default", RawConnectionConfig{"driver": "pdo_pgsql", "replica": map[string]interface{}{}})

		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{}, params["replica"])
	})

	t.Run("it should require a name on listed replicas", func(t *testing.T) {
		// GIVEN
		raw := RawConnectionConfig{
			"driver": "pdo_pgsql",
			"replica": []interface{}{
				map[string]interface{}{"name": "r1", "host": "h1"},
				map[string]interface{}{"host": "h2"},
			},
		}

		// WHEN
		_, err := Validate("default", raw)

		// THEN
		requireViolation(t, err, "connections.default.replica.1.name")
	})

	t.Run("it should turn listed replicas into named entries", func(t *testing.T) {
		raw := RawConnectionConfig{
			"driver": "pdo_mysql",
			"replica": []interface{}{
				map[string]interface{}{"name": "r1", "host": "h1", "port": "3307"},
				map[string]interface{}{"name": "r2", "host": "h2"},
			},
		}

		params, err := Validate("default", raw)

		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{
			"r1": map[string]interface{}{"host": "h1", "port": 3307},
			"r2": map[string]interface{}{"host": "h2"},
		}, params["replica"])
	})

	t.Run("it should reject duplicate replica names", func(t *testing.T) {
		raw := RawConnectionConfig{
			"driver": "pdo_mysql",
			"replica": []interface{}{
				map[string]interface{}{"name": "r1"},
				map[string]interface{}{"name": "r1"},
			},
		}

		_, err := Validate("default", raw)

		v := requireViolation(t, err, "connections.default.replica.1")
		assert.Contains(t, v.Reason, "duplicate replica")
	})

	t.Run("it should only accept connection fields in primary and replica entries", func(t *testing.T) {
		raw := RawConnectionConfig{
			"driver":  "pdo_pgsql",
			"primary": map[string]interface{}{"host": "p", "driver": "pdo_mysql"},
			"replica": map[string]interface{}{"r1": map[string]interface{}{"replica": map[string]interface{}{}}},
		}

		_, err := Validate("default", raw)

		requireViolation(t, err, "connections.default.primary.driver")
		requireViolation(t, err, "connections.default.replica.r1.replica")
	})

	t.Run("it should report every violation of a connection", func(t *testing.T) {
		raw := RawConnectionConfig{"driver": "pdo_sqlite", "memory": "sometimes", "user": []interface{}{"a"}, "nope": 1}

		_, err := Validate("default", raw)

		require.Error(t, err)
		assert.Len(t, Violations(err), 3)
		requireViolation(t, err, "connections.default.memory")
		requireViolation(t, err, "connections.default.user")
		requireViolation(t, err, "connections.default.nope")
	})

	t.Run("it should coerce scalar values", func(t *testing.T) {
		raw := RawConnectionConfig{
			"driver":        "pdo_oci",
			"dbname":        42,
			"pooled":        "true",
			"service":       false,
			"serverVersion": 19.3,
		}

		params, err := Validate("default", raw)

		require.NoError(t, err)
		assert.Equal(t, Params{
			"driver":        "pdo_oci",
			"dbname":        "42",
			"pooled":        true,
			"service":       false,
			"serverVersion": "19.3",
		}, params)
	})

	t.Run("it should keep password references deferred", func(t *testing.T) {
		// GIVEN
		raw := RawConnectionConfig{
			"driver":   "pdo_mysql",
			"password": "@db_password",
			"primary":  map[string]interface{}{"password": "@@not-a-reference"},
		}

		// WHEN
		params, err := Validate("default", raw)

		// THEN
		require.NoError(t, err)
		assert.Equal(t, ReferenceTo("db_password"), params["password"])
		assert.Equal(t, LiteralValue("@not-a-reference"), params.Map("primary")["password"])

		again, err := Validate("default", RawConnectionConfig(params))
		require.NoError(t, err)
		assert.Empty(t, cmp.Diff(params, again, allowDeferred))
	})

	t.Run("it should only allow scalars in defaultTableOptions", func(t *testing.T) {
		params, err := Validate("default", RawConnectionConfig{
			"driver":              "pdo_mysql",
			"defaultTableOptions": map[string]interface{}{"charset": "utf8mb4", "engine": "InnoDB", "collate": nil},
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{"charset": "utf8mb4", "engine": "InnoDB"}, params["defaultTableOptions"])

		_, err = Validate("default", RawConnectionConfig{
			"driver":              "pdo_mysql",
			"defaultTableOptions": map[string]interface{}{"charset": map[string]interface{}{}},
		})
		requireViolation(t, err, "connections.default.defaultTableOptions.charset")
	})

	t.Run("it should reject integers that do not fit an int", func(t *testing.T) {
		_, err := Validate("default", RawConnectionConfig{"driver": "pdo_pgsql", "port": uint64(math.MaxUint64)})
		requireViolation(t, err, "connections.default.port")

		_, err = Validate("default", RawConnectionConfig{"driver": "pdo_pgsql", "port": 1e300})
		requireViolation(t, err, "connections.default.port")

		params, err := Validate("default", RawConnectionConfig{
			"driver":              "pdo_mysql",
			"defaultTableOptions": map[string]interface{}{"big": uint64(math.MaxUint64), "small": uint8(7)},
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{"big": uint64(math.MaxUint64), "small": 7}, params["defaultTableOptions"])
	})

	t.Run("it should accept yaml style maps", func(t *testing.T) {
		params, err := Validate("default", RawConnectionConfig{
			"driver":        "pdo_pgsql",
			"driverOptions": map[interface{}]interface{}{"connect_timeout": 5, "options": nil},
		})

		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{"connect_timeout": 5}, params["driverOptions"])
	})
}

func TestValidateAll(t *testing.T) {
	t.Run("it should validate connections independently", func(t *testing.T) {
		// GIVEN
		raw := map[string]RawConnectionConfig{
			"default": {
				"driver":  "pdo_pgsql",
				"host":    "primary.db",
				"dbname":  "app",
				"replica": map[string]interface{}{"r1": map[string]interface{}{"host": "replica.db"}},
			},
			"readonly": {
				"driver": "pdo_mysql",
				"host":   "ro.db",
				"port":   3306,
			},
		}

		// WHEN
		out, err := ValidateAll(raw)

		// THEN
		require.NoError(t, err)
		require.Len(t, out, 2)
		assert.Empty(t, cmp.Diff(Params{
			"driver":  "pdo_pgsql",
			"host":    "primary.db",
			"dbname":  "app",
			"replica": map[string]interface{}{"r1": map[string]interface{}{"host": "replica.db"}},
		}, out["default"]))
		assert.Empty(t, cmp.Diff(Params{"driver": "pdo_mysql", "host": "ro.db", "port": 3306}, out["readonly"]))

		out["default"]["host"] = "changed"
		out["default"].Map("replica")["r1"].(map[string]interface{})["host"] = "changed"
		assert.Equal(t, "ro.db", out["readonly"]["host"])
		assert.Equal(t, "primary.db", raw["default"]["host"])
		assert.Equal(t, "replica.db", raw["default"]["replica"].(map[string]interface{})["r1"].(map[string]interface{})["host"])
	})

	t.Run("it should report errors of every connection", func(t *testing.T) {
		raw := map[string]RawConnectionConfig{
			"a": {"driver": "unknown_driver"},
			"b": {"driver": "sqlite3", "port": 1},
			"c": {"driver": "sqlite3", "memory": true},
		}

		out, err := ValidateAll(raw)

		assert.Nil(t, out)
		require.ErrorIs(t, err, ErrUnknownDriver)
		requireViolation(t, err, "connections.b.port")
	})
}

func TestToInt(t *testing.T) {
	tests := []struct {
		in     interface{}
		want   int
		wantOK bool
	}{
		{in: 42, want: 42, wantOK: true},
		{in: int64(-3), want: -3, wantOK: true},
		{in: uint16(8080), want: 8080, wantOK: true},
		{in: uint64(math.MaxUint64), wantOK: false},
		{in: 5432.0, want: 5432, wantOK: true},
		{in: 1.5, wantOK: false},
		{in: " 12 ", want: 12, wantOK: true},
		{in: "12a", wantOK: false},
		{in: true, wantOK: false},
	}
	for _, tt := range tests {
		got, ok := toInt(tt.in)

		assert.Equal(t, tt.wantOK, ok, "%#v", tt.in)
		assert.Equal(t, tt.want, got, "%#v", tt.in)
	}
}
