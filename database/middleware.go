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
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"sort"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/extra/bundebug"
)

// Middleware wraps every query issued through a connection.
type Middleware = bun.QueryHook

// TaggedMiddleware is a middleware entry attached to one connection, or to
// every connection when Connection is empty. Higher priorities run first.
type TaggedMiddleware struct {
	Name       string
	Connection string
	Priority   int
	Middleware Middleware
}

// appliesTo reports whether the entry is tagged for the named connection.
func (t TaggedMiddleware) appliesTo(connection string) bool {
	return t.Connection == "" || t.Connection == connection
}

func sortTagged(entries []TaggedMiddleware) []TaggedMiddleware {
	out := append([]TaggedMiddleware(nil), entries...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// SlowQueryMiddleware logs queries slower than Threshold.
type SlowQueryMiddleware struct {
	Connection string
	Threshold  time.Duration
	Logger     Logger
}

var _ Middleware = (*SlowQueryMiddleware)(nil)

func (h *SlowQueryMiddleware) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

func (h *SlowQueryMiddleware) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	if event.Err != nil || h.Threshold <= 0 || h.Logger == nil {
		return
	}
	duration := time.Since(event.StartTime)
	if duration > h.Threshold {
		h.Logger.Warn("Slow query detected",
			"connection", h.Connection,
			"duration", duration,
			"slow_threshold", h.Threshold,
			"query", event.Query,
		)
	}
}

// DebugMiddleware records every query of one connection into a DebugStack.
type DebugMiddleware struct {
	connection string
	stack      *DebugStack
}

var _ Middleware = (*DebugMiddleware)(nil)

func NewDebugMiddleware(connection string, stack *DebugStack) *DebugMiddleware {
	return &DebugMiddleware{connection: connection, stack: stack}
}

func (h *DebugMiddleware) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

func (h *DebugMiddleware) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	record := QueryRecord{
		Connection: h.connection,
		Query:      event.Query,
		Operation:  event.Operation(),
		StartedAt:  event.StartTime,
		Duration:   time.Since(event.StartTime),
	}
	if event.Err != nil && !errors.Is(event.Err, sql.ErrNoRows) {
		record.Err = event.Err.Error()
	}
	h.stack.Push(record)
}

// NewConsoleMiddleware prints queries to w. BUNDEBUG in the environment
// overrides the verbosity the same way bundebug does.
func NewConsoleMiddleware(w io.Writer, verbose bool) Middleware {
	if w == nil {
		w = os.Stderr
	}
	return bundebug.NewQueryHook(
		bundebug.WithWriter(w),
		bundebug.WithVerbose(verbose),
		bundebug.FromEnv("BUNDEBUG"),
	)
}
