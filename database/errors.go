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
	"strings"
)

var (
	// ErrUnknownDriver matches every *UnknownDriverError.
	ErrUnknownDriver = errors.New("unknown database driver")
	// ErrSchemaViolation matches every *SchemaViolationError.
	ErrSchemaViolation = errors.New("invalid connection configuration")
	// ErrDriverUnavailable is returned when a validated driver has no Go
	// database/sql driver linked into the binary.
	ErrDriverUnavailable = errors.New("database driver not available")
	// ErrUnresolvedReference is returned when a deferred reference has no
	// matching service.
	ErrUnresolvedReference = errors.New("unresolved reference")
)

// UnknownDriverError reports a driver name that is absent from the schema registry.
type UnknownDriverError struct {
	Connection string
	Driver     string
}

func (e *UnknownDriverError) Error() string {
	names := make([]string, 0, len(driverNames))
	for _, n := range driverNames {
		names = append(names, n)
	}
	if e.Connection == "" {
		return fmt.Sprintf("unknown driver %q, supported drivers: %s", e.Driver, strings.Join(names, ", "))
	}
	return fmt.Sprintf("%s.driver: unknown driver %q, supported drivers: %s",
		connectionPath(e.Connection), e.Driver, strings.Join(names, ", "))
}

func (e *UnknownDriverError) Is(target error) bool { return target == ErrUnknownDriver }

// SchemaViolationError reports an undeclared field, a type mismatch or a
// missing required field at a dotted configuration path.
type SchemaViolationError struct {
	Path   string
	Reason string
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("invalid configuration for path %q: %s", e.Path, e.Reason)
}

func (e *SchemaViolationError) Is(target error) bool { return target == ErrSchemaViolation }

func connectionPath(name string) string {
	return "connections." + name
}

func violation(path, format string, args ...interface{}) *SchemaViolationError {
	return &SchemaViolationError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// Violations unwraps err into the schema violations it carries.
func Violations(err error) []*SchemaViolationError {
	switch e := err.(type) {
	case nil:
		return nil
	case *SchemaViolationError:
		return []*SchemaViolationError{e}
	case interface{ Unwrap() []error }:
		var out []*SchemaViolationError
		for _, inner := range e.Unwrap() {
			out = append(out, Violations(inner)...)
		}
		return out
	case interface{ Unwrap() error }:
		return Violations(e.Unwrap())
	default:
		return nil
	}
}
