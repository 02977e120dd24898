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
	"time"
)

// Keys consumed by the wiring layer; they never reach the driver schema.
const (
	KeyMiddlewares          = "middlewares"
	KeyResultCache          = "resultCache"
	KeySchemaAssetsFilter   = "schemaAssetsFilter"
	KeySchemaManagerFactory = "schemaManagerFactory"
	KeyAutoCommit           = "autoCommit"
	KeyURL                  = "url"
	KeyDriver               = "driver"
)

var orchestrationKeys = []string{
	KeyMiddlewares,
	KeyResultCache,
	KeySchemaAssetsFilter,
	KeySchemaManagerFactory,
	KeyAutoCommit,
	KeyURL,
}

// RawConnectionConfig is the as-given configuration of one named connection.
type RawConnectionConfig map[string]interface{}

// Params is a validated, normalized connection parameter map.
type Params map[string]interface{}

// Driver returns the driver named by the params, if valid.
func (p Params) Driver() (Driver, bool) {
	name, _ := p[KeyDriver].(string)
	return ParseDriver(name)
}

// String returns the string value stored under key, or "".
func (p Params) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Int returns the integer value stored under key, or 0.
func (p Params) Int(key string) int {
	n, _ := p[key].(int)
	return n
}

// Bool returns the boolean value stored under key, or false.
func (p Params) Bool(key string) bool {
	b, _ := p[key].(bool)
	return b
}

// Map returns the nested map stored under key, or nil.
func (p Params) Map(key string) map[string]interface{} {
	m, _ := p[key].(map[string]interface{})
	return m
}

// Clone returns a deep copy of the params.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	return Params(cloneMap(p))
}

func cloneMap(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return cloneMap(t)
	case Params:
		return cloneMap(t)
	case RawConnectionConfig:
		return cloneMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// HealthStatus holds the result of a health check against a connection.
type HealthStatus struct {
	Connection    string        `json:"connection" yaml:"connection"`
	Healthy       bool          `json:"healthy" yaml:"healthy"`
	ResponseTime  time.Duration `json:"response_time" yaml:"response_time"`
	ActiveConns   int           `json:"active_conns" yaml:"active_conns"`
	IdleConns     int           `json:"idle_conns" yaml:"idle_conns"`
	MaxOpenConns  int           `json:"max_open_conns" yaml:"max_open_conns"`
	LastError     string        `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	LastCheckTime time.Time     `json:"last_check_time" yaml:"last_check_time"`
}

// DBStats mirrors database/sql stats of the primary handle.
type DBStats struct {
	MaxOpenConns      int           `json:"max_open_conns"`
	OpenConns         int           `json:"open_conns"`
	InUse             int           `json:"in_use"`
	Idle              int           `json:"idle"`
	WaitCount         int64         `json:"wait_count"`
	WaitDuration      time.Duration `json:"wait_duration"`
	MaxIdleClosed     int64         `json:"max_idle_closed"`
	MaxIdleTimeClosed int64         `json:"max_idle_time_closed"`
	MaxLifetimeClosed int64         `json:"max_lifetime_closed"`
}
