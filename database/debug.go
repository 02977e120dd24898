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
	"sync"
	"time"
)

// QueryRecord is one query captured by a DebugMiddleware.
type QueryRecord struct {
	Connection string
	Query      string
	Operation  string
	StartedAt  time.Time
	Duration   time.Duration
	Err        string
}

// DebugStack collects the queries of one connection.
type DebugStack struct {
	mu      sync.RWMutex
	limit   int
	records []QueryRecord
}

// NewDebugStack returns a stack keeping at most limit records; limit <= 0
// keeps everything.
func NewDebugStack(limit int) *DebugStack {
	return &DebugStack{limit: limit}
}

func (s *DebugStack) Push(r QueryRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	if s.limit > 0 && len(s.records) > s.limit {
		s.records = append([]QueryRecord(nil), s.records[len(s.records)-s.limit:]...)
	}
}

// Records returns a snapshot of the recorded queries, oldest first.
func (s *DebugStack) Records() []QueryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]QueryRecord(nil), s.records...)
}

func (s *DebugStack) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *DebugStack) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
}

// Panel receives every instrumented connection when debugging is enabled.
type Panel interface {
	AddConnection(name string, conn *Connection, stack *DebugStack)
}

// PanelEntry is a connection registered with a MemoryPanel.
type PanelEntry struct {
	Name       string
	Connection *Connection
	Stack      *DebugStack
}

// MemoryPanel keeps registered connections in registration order.
type MemoryPanel struct {
	mu      sync.RWMutex
	entries []PanelEntry
}

func NewMemoryPanel() *MemoryPanel { return &MemoryPanel{} }

func (p *MemoryPanel) AddConnection(name string, conn *Connection, stack *DebugStack) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, PanelEntry{Name: name, Connection: conn, Stack: stack})
}

func (p *MemoryPanel) Entries() []PanelEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]PanelEntry(nil), p.entries...)
}

// Stack returns the debug stack registered for the named connection.
func (p *MemoryPanel) Stack(name string) (*DebugStack, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, e := range p.entries {
		if e.Name == name {
			return e.Stack, true
		}
	}
	return nil, false
}
