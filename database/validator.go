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
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

// Validate normalizes the raw configuration of one named connection against
// the schema of its driver. Wiring-only keys and nil values are removed
// first; the input map is left untouched.
func Validate(connectionName string, raw RawConnectionConfig) (Params, error) {
	path := connectionPath(connectionName)
	if strings.TrimSpace(connectionName) == "" {
		return nil, violation("connections", "connection name must not be empty")
	}

	filtered := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		if v == nil || isOrchestrationKey(k) {
			continue
		}
		filtered[k] = v
	}

	driverName, err := driverNameOf(path, filtered[KeyDriver])
	if err != nil {
		return nil, err
	}
	schema, err := SchemaFor(driverName)
	if err != nil {
		return nil, &UnknownDriverError{Connection: connectionName, Driver: driverName}
	}

	v := &schemaValidator{schema: schema}
	out, errs := v.validateFields(path, filtered)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return Params(out), nil
}

// ValidateAll validates every connection independently, in name order.
func ValidateAll(connections map[string]RawConnectionConfig) (map[string]Params, error) {
	out := make(map[string]Params, len(connections))
	var errs []error
	for _, name := range sortedKeys(connections) {
		params, err := Validate(name, connections[name])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[name] = params
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func isOrchestrationKey(key string) bool {
	for _, k := range orchestrationKeys {
		if k == key {
			return true
		}
	}
	return false
}

func driverNameOf(path string, v interface{}) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", violation(path+"."+KeyDriver, "the driver option is required")
	case string:
		return t, nil
	default:
		return "", violation(path+"."+KeyDriver, "expected a string, got %s", typeName(v))
	}
}

type schemaValidator struct {
	schema *DriverSchema
}

func (v *schemaValidator) validateFields(path string, in map[string]interface{}) (map[string]interface{}, []error) {
	out := make(map[string]interface{}, len(in))
	var errs []error
	for _, key := range sortedKeys(in) {
		field, ok := v.schema.Field(key)
		if !ok {
			errs = append(errs, v.unrecognized(path, key, v.schema.Fields()))
			continue
		}
		val, fieldErrs := v.validateField(path+"."+key, field, in[key])
		if len(fieldErrs) > 0 {
			errs = append(errs, fieldErrs...)
			continue
		}
		out[key] = val
	}
	for _, name := range v.schema.Required() {
		if _, ok := in[name]; !ok {
			errs = append(errs, violation(path+"."+name, "the %s option is required", name))
		}
	}
	return out, errs
}

func (v *schemaValidator) unrecognized(path, key string, allowed []Field) error {
	names := make([]string, 0, len(allowed))
	for _, f := range allowed {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return violation(path+"."+key, "unrecognized option %q under %q, available options are: %s",
		key, path, strings.Join(names, ", "))
}

func (v *schemaValidator) validateField(path string, field Field, value interface{}) (interface{}, []error) {
	switch field.Kind {
	case KindScalarMap:
		m, err := scalarMap(path, value)
		if err != nil {
			return nil, []error{err}
		}
		return m, nil
	case KindMap:
		m, err := toStringMap(path, value)
		if err != nil {
			return nil, []error{err}
		}
		return dropNils(m), nil
	case KindPrimary:
		return v.connectionEntry(path, value)
	case KindReplica:
		return v.replicas(path, value)
	}
	if field.Deferred {
		val, err := deferredScalar(path, field.Kind, value)
		if err != nil {
			return nil, []error{err}
		}
		return val, nil
	}
	val, err := coerceScalar(path, field.Kind, value)
	if err != nil {
		return nil, []error{err}
	}
	return val, nil
}

// connectionEntry validates one primary or replica parameter set.
func (v *schemaValidator) connectionEntry(path string, value interface{}) (map[string]interface{}, []error) {
	m, err := toStringMap(path, value)
	if err != nil {
		return nil, []error{err}
	}
	allowed := v.schema.ConnectionFields()
	out := make(map[string]interface{}, len(m))
	var errs []error
	for _, key := range sortedKeys(m) {
		if m[key] == nil {
			continue
		}
		field, ok := v.schema.Field(key)
		if !ok || !field.Kind.Scalar() || isBaseField(key) {
			errs = append(errs, v.unrecognized(path, key, allowed))
			continue
		}
		val, fieldErrs := v.validateField(path+"."+key, field, m[key])
		if len(fieldErrs) > 0 {
			errs = append(errs, fieldErrs...)
			continue
		}
		out[key] = val
	}
	return out, errs
}

// replicas accepts either a map keyed by replica name or a list of entries
// carrying a "name" key.
func (v *schemaValidator) replicas(path string, value interface{}) (map[string]interface{}, []error) {
	out := make(map[string]interface{})
	var errs []error

	add := func(entryPath, name string, entry interface{}) {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, violation(entryPath, "the replica name must not be empty"))
			return
		}
		if _, dup := out[name]; dup {
			errs = append(errs, violation(entryPath, "duplicate replica %q", name))
			return
		}
		params, entryErrs := v.connectionEntry(entryPath, entry)
		if len(entryErrs) > 0 {
			errs = append(errs, entryErrs...)
			return
		}
		out[name] = params
	}

	if list, ok := value.([]interface{}); ok {
		for i, item := range list {
			entryPath := path + "." + strconv.Itoa(i)
			m, err := toStringMap(entryPath, item)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			rawName, ok := m["name"]
			if !ok || rawName == nil {
				errs = append(errs, violation(entryPath+".name", "the name option is required for every replica"))
				continue
			}
			name, err := coerceScalar(entryPath+".name", KindString, rawName)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			entry := make(map[string]interface{}, len(m)-1)
			for k, val := range m {
				if k != "name" {
					entry[k] = val
				}
			}
			add(entryPath, name.(string), entry)
		}
		return out, errs
	}

	m, err := toStringMap(path, value)
	if err != nil {
		return nil, []error{err}
	}
	for _, name := range sortedKeys(m) {
		if m[name] == nil {
			continue
		}
		add(path+"."+name, name, m[name])
	}
	return out, errs
}

func deferredScalar(path string, kind FieldKind, value interface{}) (interface{}, error) {
	d, err := ParseDeferred(value)
	if err != nil {
		return nil, violation(path, "%s", err.Error())
	}
	if d.IsReference() {
		return d, nil
	}
	lit, err := coerceScalar(path, kind, d.Literal())
	if err != nil {
		return nil, err
	}
	if s, ok := lit.(string); ok && strings.HasPrefix(s, referencePrefix) {
		return LiteralValue(s), nil
	}
	return lit, nil
}

func coerceScalar(path string, kind FieldKind, value interface{}) (interface{}, error) {
	switch kind {
	case KindString:
		switch t := value.(type) {
		case string:
			return t, nil
		case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
			s, err := cast.ToStringE(t)
			if err != nil {
				return nil, violation(path, "expected %s, got %s", kind.Desc(), typeName(value))
			}
			return s, nil
		}
	case KindBool:
		switch t := value.(type) {
		case bool:
			return t, nil
		case string:
			b, err := cast.ToBoolE(strings.TrimSpace(t))
			if err == nil {
				return b, nil
			}
		}
	case KindInt, KindPort:
		n, ok := toInt(value)
		if !ok {
			break
		}
		if kind == KindPort && (n < 1 || n > 65535) {
			return nil, violation(path, "the port must be between 1 and 65535, got %d", n)
		}
		return n, nil
	}
	return nil, violation(path, "expected %s, got %s", kind.Desc(), describe(value))
}

func toInt(value interface{}) (int, bool) {
	switch t := value.(type) {
	case int, int8, int16, int32, int64:
		n, err := cast.ToInt64E(t)
		if err != nil || n < math.MinInt || n > math.MaxInt {
			return 0, false
		}
		return int(n), true
	case uint, uint8, uint16, uint32, uint64:
		n, err := cast.ToUint64E(t)
		if err != nil || n > math.MaxInt {
			return 0, false
		}
		return int(n), true
	case float32:
		return toInt(float64(t))
	case float64:
		if t < math.MinInt || t >= math.MaxInt || t != math.Trunc(t) {
			return 0, false
		}
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		return n, err == nil
	default:
		return 0, false
	}
}

func isScalar(v interface{}) bool {
	switch v.(type) {
	case string, bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	default:
		return false
	}
}

func scalarMap(path string, value interface{}) (map[string]interface{}, error) {
	m, err := toStringMap(path, value)
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{}, len(m))
	for _, k := range sortedKeys(m) {
		switch val := m[k]; {
		case val == nil:
		case isScalar(val):
			if n, ok := toInt(val); ok && isInteger(val) {
				out[k] = n
			} else {
				out[k] = val
			}
		default:
			return nil, violation(path+"."+k, "expected a scalar value, got %s", describe(val))
		}
	}
	return out, nil
}

func isInteger(v interface{}) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	default:
		return false
	}
}

func toStringMap(path string, value interface{}) (map[string]interface{}, error) {
	switch t := value.(type) {
	case map[string]interface{}:
		return t, nil
	case Params:
		return t, nil
	case RawConnectionConfig:
		return t, nil
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, v := range t {
			out[fmt.Sprint(k)] = v
		}
		return out, nil
	case map[string]string:
		out := make(map[string]interface{}, len(t))
		for k, v := range t {
			out[k] = v
		}
		return out, nil
	default:
		return nil, violation(path, "expected a map, got %s", describe(value))
	}
}

func dropNils(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		if v == nil {
			continue
		}
		if nested, err := toStringMap("", v); err == nil {
			out[k] = dropNils(nested)
			continue
		}
		out[k] = cloneValue(v)
	}
	return out
}

func describe(v interface{}) string {
	if isScalar(v) {
		return fmt.Sprintf("%s %q", typeName(v), fmt.Sprint(v))
	}
	return typeName(v)
}

func typeName(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]interface{}, map[interface{}]interface{}, Params, RawConnectionConfig, map[string]string:
		return "map"
	case []interface{}:
		return "list"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
