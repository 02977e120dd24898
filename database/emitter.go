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
	"io"
	"regexp"
	"time"
)

// DefaultConnectionName is the connection that becomes the default unless
// another one is configured.
const DefaultConnectionName = "default"

// Emitter turns raw connection configurations into wired connections. All
// collaborators are passed in explicitly through options.
type Emitter struct {
	resolver          Resolver
	tagged            []TaggedMiddleware
	panel             Panel
	debugLimit        int
	console           io.Writer
	consoleVerbose    bool
	slowQuery         time.Duration
	logger            Logger
	defaultConnection string
}

type EmitterOption func(*Emitter)

// WithResolver sets the resolver used for references in the configuration.
func WithResolver(r Resolver) EmitterOption {
	return func(e *Emitter) { e.resolver = r }
}

// WithMiddleware adds tagged middleware entries.
func WithMiddleware(entries ...TaggedMiddleware) EmitterOption {
	return func(e *Emitter) { e.tagged = append(e.tagged, entries...) }
}

// WithDebug enables query recording; every connection gets its own
// DebugStack registered with panel.
func WithDebug(panel Panel) EmitterOption {
	return func(e *Emitter) { e.panel = panel }
}

// WithDebugStackLimit bounds the number of records kept per connection.
func WithDebugStackLimit(limit int) EmitterOption {
	return func(e *Emitter) { e.debugLimit = limit }
}

// WithDebugConsole prints every query to w while debugging is enabled.
func WithDebugConsole(w io.Writer, verbose bool) EmitterOption {
	return func(e *Emitter) {
		e.console = w
		e.consoleVerbose = verbose
	}
}

func WithSlowQueryThreshold(d time.Duration) EmitterOption {
	return func(e *Emitter) { e.slowQuery = d }
}

func WithLogger(l Logger) EmitterOption {
	return func(e *Emitter) { e.logger = l }
}

// WithDefaultConnection names the default connection; the name must exist.
func WithDefaultConnection(name string) EmitterOption {
	return func(e *Emitter) { e.defaultConnection = name }
}

func NewEmitter(opts ...EmitterOption) *Emitter {
	e := &Emitter{}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = nopLogger{}
	}
	return e
}

// Emit wires every connection in name order. On any error the connections
// built so far are closed and nothing is returned.
func (e *Emitter) Emit(connections map[string]RawConnectionConfig) (*Registry, error) {
	defaultName, err := e.resolveDefault(connections)
	if err != nil {
		return nil, err
	}

	built := make(map[string]*Connection, len(connections))
	for _, name := range sortedKeys(connections) {
		conn, err := e.EmitConnection(name, connections[name])
		if err != nil {
			for _, c := range built {
				_ = c.Close()
			}
			return nil, err
		}
		built[name] = conn
	}
	return newRegistry(built, defaultName), nil
}

func (e *Emitter) resolveDefault(connections map[string]RawConnectionConfig) (string, error) {
	if e.defaultConnection != "" {
		if _, ok := connections[e.defaultConnection]; !ok {
			return "", violation("default_connection", "connection %q is not configured", e.defaultConnection)
		}
		return e.defaultConnection, nil
	}
	if _, ok := connections[DefaultConnectionName]; ok {
		return DefaultConnectionName, nil
	}
	if len(connections) == 1 {
		for name := range connections {
			return name, nil
		}
	}
	return "", nil
}

// EmitConnection validates and wires a single connection: configuration
// first, then middlewares, then the connection itself.
func (e *Emitter) EmitConnection(name string, raw RawConnectionConfig) (*Connection, error) {
	params, wiring, err := Normalize(name, raw)
	if err != nil {
		return nil, err
	}

	cfg, err := e.configuration(name, wiring)
	if err != nil {
		return nil, err
	}

	middlewares, stack, err := e.middlewares(name, wiring)
	if err != nil {
		return nil, err
	}
	cfg.SetMiddlewares(middlewares...)

	resolved, err := e.resolveParams(name, params)
	if err != nil {
		return nil, err
	}
	conn, err := NewConnection(name, resolved, cfg)
	if err != nil {
		return nil, err
	}
	conn.params = params

	if stack != nil {
		e.panel.AddConnection(name, conn, stack)
	}
	e.logger.Info("Database connection wired",
		"connection", name,
		"driver", conn.Driver().Name(),
		"middlewares", len(middlewares),
		"replicas", len(conn.Replicas()),
	)
	return conn, nil
}

func (e *Emitter) configuration(name string, wiring *WiringOptions) (*Configuration, error) {
	path := connectionPath(name)
	cfg := NewConfiguration().SetAutoCommit(wiring.AutoCommit)

	if d := wiring.SchemaAssetsFilter; d != nil {
		filter, err := e.assetFilter(*d)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", path, KeySchemaAssetsFilter, err)
		}
		cfg.SetSchemaAssetsFilter(filter)
	}

	if d := wiring.SchemaManagerFactory; d != nil {
		if d.IsReference() {
			svc, err := d.Resolve(e.resolver)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", path, KeySchemaManagerFactory, err)
			}
			factory, ok := svc.(SchemaManagerFactory)
			if !ok {
				return nil, fmt.Errorf("%s.%s: service %s is a %T, not a schema manager factory", path, KeySchemaManagerFactory, d.Reference(), svc)
			}
			cfg.SetSchemaManagerFactory(factory)
		} else {
			cfg.SetSchemaManagerFactory(DefaultSchemaManagerFactory{})
		}
	}

	if d := wiring.ResultCache; d != nil {
		if d.IsReference() {
			svc, err := d.Resolve(e.resolver)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", path, KeyResultCache, err)
			}
			cache, ok := svc.(ResultCache)
			if !ok {
				return nil, fmt.Errorf("%s.%s: service %s is a %T, not a result cache", path, KeyResultCache, d.Reference(), svc)
			}
			cfg.SetResultCache(cache)
		} else {
			cfg.SetResultCache(NewMemoryResultCache())
		}
	}
	return cfg, nil
}

func (e *Emitter) assetFilter(d Deferred) (AssetFilter, error) {
	if !d.IsReference() {
		return RegexpAssetFilter(d.Literal().(string))
	}
	svc, err := d.Resolve(e.resolver)
	if err != nil {
		return nil, err
	}
	switch f := svc.(type) {
	case AssetFilter:
		return f, nil
	case func(string) bool:
		return f, nil
	case *regexp.Regexp:
		return f.MatchString, nil
	default:
		return nil, fmt.Errorf("service %s is a %T, not an asset filter", d.Reference(), svc)
	}
}

// middlewares assembles the chain of one connection: configured references
// by name, tagged entries by priority, slow query logging, then debugging.
func (e *Emitter) middlewares(name string, wiring *WiringOptions) ([]Middleware, *DebugStack, error) {
	path := connectionPath(name) + "." + KeyMiddlewares
	var out []Middleware

	for _, local := range sortedKeys(wiring.Middlewares) {
		ref := wiring.Middlewares[local]
		svc, err := e.resolve(ref)
		if err != nil {
			return nil, nil, fmt.Errorf("%s.%s: %w", path, local, err)
		}
		m, ok := svc.(Middleware)
		if !ok {
			return nil, nil, fmt.Errorf("%s.%s: service %s is a %T, not a middleware", path, local, ref, svc)
		}
		e.logger.Debug("Middleware attached", "connection", name, "middleware", local)
		out = append(out, m)
	}

	for _, tagged := range sortTagged(e.tagged) {
		if !tagged.appliesTo(name) || tagged.Middleware == nil {
			continue
		}
		e.logger.Debug("Middleware attached", "connection", name, "middleware", tagged.Name, "priority", tagged.Priority)
		out = append(out, tagged.Middleware)
	}

	if e.slowQuery > 0 {
		out = append(out, &SlowQueryMiddleware{Connection: name, Threshold: e.slowQuery, Logger: e.logger})
	}

	var stack *DebugStack
	if e.panel != nil {
		stack = NewDebugStack(e.debugLimit)
		out = append(out, NewDebugMiddleware(name, stack))
		if e.console != nil {
			out = append(out, NewConsoleMiddleware(e.console, e.consoleVerbose))
		}
	}
	return out, stack, nil
}

func (e *Emitter) resolve(ref Reference) (interface{}, error) {
	if e.resolver == nil {
		return nil, fmt.Errorf("%w: %s (no resolver configured)", ErrUnresolvedReference, ref)
	}
	return e.resolver.Resolve(ref)
}

// resolveParams replaces deferred values with their literal or resolved
// string, including inside primary and replica entries.
func (e *Emitter) resolveParams(name string, params Params) (Params, error) {
	path := connectionPath(name)
	out := params.Clone()
	var errs []error

	resolveIn := func(prefix string, m map[string]interface{}) {
		for k, v := range m {
			d, ok := v.(Deferred)
			if !ok {
				continue
			}
			svc, err := d.Resolve(e.resolver)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s.%s: %w", prefix, k, err))
				continue
			}
			s, ok := svc.(string)
			if !ok {
				errs = append(errs, fmt.Errorf("%s.%s: %s resolved to %T, expected a string", prefix, k, d, svc))
				continue
			}
			m[k] = s
		}
	}

	resolveIn(path, out)
	if primary := out.Map("primary"); primary != nil {
		resolveIn(path+".primary", primary)
	}
	replicas := out.Map("replica")
	for _, replica := range sortedKeys(replicas) {
		if entry, ok := replicas[replica].(map[string]interface{}); ok {
			resolveIn(path+".replica."+replica, entry)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}
