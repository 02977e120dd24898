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
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by this package.
const EnvPrefix = "DBWIRE"

// Settings are process-level options, read from the environment.
type Settings struct {
	ConfigFile        string        `mapstructure:"config_file"`
	DefaultConnection string        `mapstructure:"default_connection"`
	Debug             bool          `mapstructure:"debug"`
	DebugVerbose      bool          `mapstructure:"debug_verbose"`
	DebugStackLimit   int           `mapstructure:"debug_stack_limit"`
	LogLevel          string        `mapstructure:"log_level"`
	SlowQueryTime     time.Duration `mapstructure:"slow_query_time"`
}

func (s *Settings) ApplyDefault() {
	if s.ConfigFile == "" {
		s.ConfigFile = "configs/database.yaml"
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
	if s.DebugStackLimit == 0 {
		s.DebugStackLimit = 1000
	}
}

var settingKeys = []string{
	"config_file",
	"default_connection",
	"debug",
	"debug_verbose",
	"debug_stack_limit",
	"log_level",
	"slow_query_time",
}

// LoadSettings reads Settings from <PREFIX>_<KEY> environment variables,
// e.g. DBWIRE_CONFIG_FILE. An empty prefix uses EnvPrefix.
func LoadSettings(prefix string) (*Settings, error) {
	if prefix == "" {
		prefix = EnvPrefix
	}
	v := viper.New()
	v.SetEnvPrefix(prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range settingKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("unable to bind %s: %w", key, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unable to unmarshal settings: %w", err)
	}
	s.ApplyDefault()
	return &s, nil
}
