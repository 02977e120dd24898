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
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tomoncle/dbwire/database"
)

// File is the YAML layout of a connections file:
//
//	default_connection: default
//	connections:
//	  default:
//	    driver: pdo_pgsql
//	    host: 127.0.0.1
type File struct {
	DefaultConnection string                                  `yaml:"default_connection"`
	Connections       map[string]database.RawConnectionConfig `yaml:"connections"`
}

// LoadFile reads and parses a connections file. Explicit nulls are kept so
// the validator can drop them.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a connections document.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if len(f.Connections) == 0 {
		return nil, fmt.Errorf("no connections configured")
	}
	for name, raw := range f.Connections {
		if raw == nil {
			f.Connections[name] = database.RawConnectionConfig{}
		}
	}
	return &f, nil
}

// ApplyEnv overrides scalar connection options from the environment. The
// variable for option host of connection default is
// <PREFIX>_CONNECTIONS_DEFAULT_HOST; camelCase options are split, so
// serverVersion reads <PREFIX>_CONNECTIONS_DEFAULT_SERVER_VERSION.
// Connection names that map to the same variable prefix are rejected.
func (f *File) ApplyEnv(prefix string) error {
	if prefix == "" {
		prefix = EnvPrefix
	}

	segments := make(map[string]string, len(f.Connections))
	names := make([]string, 0, len(f.Connections))
	for name := range f.Connections {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		segment := ToScreamingSnakeCase(name)
		if other, dup := segments[segment]; dup {
			return fmt.Errorf("connections %q and %q share the environment prefix %s_CONNECTIONS_%s", other, name, prefix, segment)
		}
		segments[segment] = name
	}

	v := viper.New()
	for _, name := range names {
		raw := f.Connections[name]
		// keyed by variable name; connection names may contain dots
		lookup := func(option string) (string, bool) {
			env := strings.ToUpper(strings.Join([]string{prefix, "CONNECTIONS", ToScreamingSnakeCase(name), ToScreamingSnakeCase(option)}, "_"))
			_ = v.BindEnv(env, env)
			if !v.IsSet(env) {
				return "", false
			}
			return v.GetString(env), true
		}

		if driver, ok := lookup(database.KeyDriver); ok {
			raw[database.KeyDriver] = driver
		}

		options := []string{database.KeyURL, database.KeyAutoCommit}
		if driver, ok := raw[database.KeyDriver].(string); ok {
			if schema, err := database.SchemaFor(driver); err == nil {
				for _, field := range schema.Fields() {
					if field.Kind.Scalar() && field.Name != database.KeyDriver {
						options = append(options, field.Name)
					}
				}
			}
		}
		for _, option := range options {
			if value, ok := lookup(option); ok {
				raw[option] = value
			}
		}
	}
	if f.DefaultConnection == "" {
		_ = v.BindEnv("default_connection", prefix+"_DEFAULT_CONNECTION")
		f.DefaultConnection = v.GetString("default_connection")
	}
	return nil
}

// ToScreamingSnakeCase turns "serverVersion" into "SERVER_VERSION" and
// "ssl-key" into "SSL_KEY".
func ToScreamingSnakeCase(in string) string {
	in = strings.TrimSpace(in)
	var sb strings.Builder
	sb.Grow(len(in) + len(in)/3)

	prevLower := false
	for _, b := range []byte(in) {
		switch {
		case 'a' <= b && b <= 'z':
			sb.WriteByte(b - ('a' - 'A'))
			prevLower = true
		case 'A' <= b && b <= 'Z':
			if prevLower {
				sb.WriteByte('_')
			}
			sb.WriteByte(b)
			prevLower = false
		case b == '_' || b == '-' || b == '.':
			sb.WriteByte('_')
			prevLower = false
		default:
			sb.WriteByte(b)
			prevLower = '0' <= b && b <= '9'
		}
	}
	return sb.String()
}
