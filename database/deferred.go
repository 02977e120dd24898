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
	"fmt"
	"strings"
)

const referencePrefix = "@"

// Reference names a service that the wiring layer resolves before the
// connection is constructed.
type Reference string

func (r Reference) String() string { return referencePrefix + string(r) }

// Resolver resolves references to already-constructed services.
type Resolver interface {
	Resolve(ref Reference) (interface{}, error)
}

// Services is a map-backed Resolver.
type Services map[Reference]interface{}

// Resolve returns the service registered under ref.
func (s Services) Resolve(ref Reference) (interface{}, error) {
	svc, ok := s[ref]
	if !ok || svc == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnresolvedReference, ref)
	}
	return svc, nil
}

// Deferred is either a literal value or a Reference.
type Deferred struct {
	literal interface{}
	ref     Reference
	isRef   bool
}

// LiteralValue wraps v as a literal deferred value.
func LiteralValue(v interface{}) Deferred { return Deferred{literal: v} }

// ReferenceTo returns a deferred value pointing at the named service.
func ReferenceTo(name string) Deferred { return Deferred{ref: Reference(name), isRef: true} }

// ParseDeferred reads a configuration value. Strings beginning with "@" are
// references; a leading "@@" escapes a literal "@".
func ParseDeferred(v interface{}) (Deferred, error) {
	switch t := v.(type) {
	case Deferred:
		return t, nil
	case Reference:
		if t == "" {
			return Deferred{}, fmt.Errorf("empty reference")
		}
		return Deferred{ref: t, isRef: true}, nil
	case string:
		if strings.HasPrefix(t, referencePrefix+referencePrefix) {
			return LiteralValue(t[1:]), nil
		}
		if strings.HasPrefix(t, referencePrefix) {
			name := strings.TrimSpace(t[1:])
			if name == "" {
				return Deferred{}, fmt.Errorf("empty reference")
			}
			return ReferenceTo(name), nil
		}
		return LiteralValue(t), nil
	default:
		return LiteralValue(v), nil
	}
}

func (d Deferred) IsReference() bool { return d.isRef }

func (d Deferred) Reference() Reference { return d.ref }

func (d Deferred) Literal() interface{} { return d.literal }

// Resolve returns the literal, or asks r for the referenced service.
func (d Deferred) Resolve(r Resolver) (interface{}, error) {
	if !d.isRef {
		return d.literal, nil
	}
	if r == nil {
		return nil, fmt.Errorf("%w: %s (no resolver configured)", ErrUnresolvedReference, d.ref)
	}
	return r.Resolve(d.ref)
}

func (d Deferred) String() string {
	if d.isRef {
		return d.ref.String()
	}
	return fmt.Sprintf("%v", d.literal)
}
