// Copyright 2025 The Loom Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License"). You may
// not use this file except in compliance with the License. A copy of the
// License is located at
//
//	https://www.apache.org/licenses/LICENSE-2.0
//
// or in the "license" file accompanying this file. This file is distributed
// on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either
// express or implied. See the License for the specific language governing
// permissions and limitations under the License.

package crdt

import "sort"

// Map is a string-keyed, unordered shared container. Values may be
// primitives, other containers, or Text leaves.
type Map struct {
	base    containerState
	entries map[string]any
}

var _ Container = &Map{}

// NewMap creates a detached map. It becomes attached when inserted into
// another container or fetched as a document root.
func NewMap() *Map {
	return &Map{entries: make(map[string]any)}
}

func (m *Map) Doc() *Doc                        { return m.base.Doc() }
func (m *Map) Parent() Container                { return m.base.Parent() }
func (m *Map) Attached() bool                   { return m.base.Attached() }
func (m *Map) Observe(h Handler) func()         { return m.base.Observe(h) }
func (m *Map) ObserveDeep(h DeepHandler) func() { return m.base.ObserveDeep(h) }
func (m *Map) state() *containerState           { return &m.base }

func (m *Map) integrate(d *Doc, parent Container) {
	m.base.doc = d
	m.base.parent = parent
	for _, v := range m.entries {
		if c, ok := v.(Container); ok {
			c.integrate(d, m)
		}
	}
}

// Len returns the number of keys.
func (m *Map) Len() int { return len(m.entries) }

// Has reports whether key is present.
func (m *Map) Has(key string) bool {
	_, ok := m.entries[key]
	return ok
}

// Get returns the value stored under key, or nil when absent.
func (m *Map) Get(key string) any { return m.entries[key] }

// Keys returns the present keys in sorted order.
func (m *Map) Keys() []string {
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Entries returns a shallow copy of the key/value pairs.
func (m *Map) Entries() map[string]any {
	out := make(map[string]any, len(m.entries))
	for k, v := range m.entries {
		out[k] = v
	}
	return out
}

// Set stores value under key. Container values must be detached; they are
// integrated into this map's document. Panics on an attached container.
func (m *Map) Set(key string, value any) {
	adopt(m, value)
	if m.base.doc == nil {
		m.entries[key] = value
		return
	}
	m.base.doc.withTxn(func(t *Txn) {
		old, had := m.entries[key]
		m.entries[key] = value
		t.addMapChange(m, key, old, had, false)
	})
}

// Delete removes key if present.
func (m *Map) Delete(key string) {
	old, had := m.entries[key]
	if !had {
		return
	}
	if m.base.doc == nil {
		delete(m.entries, key)
		return
	}
	m.base.doc.withTxn(func(t *Txn) {
		delete(m.entries, key)
		t.addMapChange(m, key, old, true, true)
	})
}
