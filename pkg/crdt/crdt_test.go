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

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocRoots(t *testing.T) {
	doc := NewDoc()
	m := doc.GetMap("root")
	require.NotNil(t, m)
	assert.True(t, m.Attached())
	assert.Nil(t, m.Parent())
	assert.Same(t, doc, m.Doc())

	// Fetching the same name returns the same container.
	assert.Same(t, m, doc.GetMap("root"))

	l := doc.GetList("items")
	assert.Same(t, l, doc.GetList("items"))

	assert.Panics(t, func() { doc.GetList("root") })
}

func TestMapBasics(t *testing.T) {
	doc := NewDoc()
	m := doc.GetMap("root")

	m.Set("a", 1.0)
	m.Set("b", "two")
	assert.Equal(t, 2, m.Len())
	assert.True(t, m.Has("a"))
	assert.Equal(t, 1.0, m.Get("a"))
	assert.Equal(t, []string{"a", "b"}, m.Keys())

	m.Delete("a")
	assert.False(t, m.Has("a"))
	assert.Nil(t, m.Get("a"))
	// Deleting an absent key is a no-op.
	m.Delete("a")
	assert.Equal(t, 1, m.Len())
}

func TestListBasics(t *testing.T) {
	doc := NewDoc()
	l := doc.GetList("items")

	l.Insert(0, []any{"a", "b", "c"})
	assert.Equal(t, 3, l.Len())
	assert.Equal(t, "b", l.Get(1))
	assert.Nil(t, l.Get(7))
	assert.Equal(t, []any{"a", "b", "c"}, l.ToSlice())

	l.Delete(1, 1)
	assert.Equal(t, []any{"a", "c"}, l.ToSlice())

	// Delete clamps the count to the tail.
	l.Delete(1, 10)
	assert.Equal(t, []any{"a"}, l.ToSlice())

	assert.Panics(t, func() { l.Insert(5, []any{"x"}) })
	assert.Panics(t, func() { l.Delete(3, 1) })
}

func TestContainerIntegration(t *testing.T) {
	doc := NewDoc()
	root := doc.GetMap("root")

	child := NewMap()
	grand := NewList()
	child.Set("items", grand)
	assert.False(t, child.Attached())
	assert.Same(t, child, grand.Parent())

	root.Set("child", child)
	assert.True(t, child.Attached())
	assert.Same(t, root, child.Parent())
	assert.Same(t, doc, grand.Doc())
}

func TestReparentPanics(t *testing.T) {
	doc := NewDoc()
	root := doc.GetMap("root")

	child := NewMap()
	root.Set("a", child)

	assert.Panics(t, func() { root.Set("b", child) })

	l := doc.GetList("items")
	assert.Panics(t, func() { l.Insert(0, []any{child}) })
}

func TestMapEventCompose(t *testing.T) {
	cases := []struct {
		name     string
		mutate   func(m *Map)
		expected map[string]MapChange
	}{
		{
			name:     "add",
			mutate:   func(m *Map) { m.Set("k", 1.0) },
			expected: map[string]MapChange{"k": {Action: ActionAdd}},
		},
		{
			name: "update keeps original old value",
			mutate: func(m *Map) {
				m.Set("pre", 1.0)
			},
			expected: map[string]MapChange{"pre": {Action: ActionUpdate, OldValue: 0.0}},
		},
		{
			name: "add then delete nets out",
			mutate: func(m *Map) {
				m.Set("k", 1.0)
				m.Delete("k")
			},
			expected: nil,
		},
		{
			name: "delete then set is an update",
			mutate: func(m *Map) {
				m.Delete("pre")
				m.Set("pre", 9.0)
			},
			expected: map[string]MapChange{"pre": {Action: ActionUpdate, OldValue: 0.0}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc := NewDoc()
			m := doc.GetMap("root")
			m.Set("pre", 0.0)

			var got map[string]MapChange
			unobserve := m.Observe(func(ev Event, txn *Txn) {
				me, ok := ev.(*MapEvent)
				require.True(t, ok)
				got = me.Keys
			})
			defer unobserve()

			err := doc.Transact(func() error {
				tc.mutate(m)
				return nil
			}, nil)
			require.NoError(t, err)

			if tc.expected == nil {
				if got != nil {
					assert.Empty(t, got)
				}
				return
			}
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestListEventDelta(t *testing.T) {
	doc := NewDoc()
	l := doc.GetList("items")
	l.Insert(0, []any{"a", "b"})

	var deltas [][]DeltaOp
	unobserve := l.Observe(func(ev Event, txn *Txn) {
		le, ok := ev.(*ListEvent)
		require.True(t, ok)
		deltas = append(deltas, le.Delta)
	})
	defer unobserve()

	err := doc.Transact(func() error {
		l.Insert(1, []any{"x"})
		l.Delete(0, 1)
		return nil
	}, nil)
	require.NoError(t, err)

	require.Len(t, deltas, 2)
	assert.Equal(t, []DeltaOp{{Retain: 1}, {Insert: []any{"x"}}}, deltas[0])
	assert.Equal(t, []DeltaOp{{Delete: 1}}, deltas[1])
}

func TestTransactOriginAndNesting(t *testing.T) {
	doc := NewDoc()
	m := doc.GetMap("root")

	var origins []any
	unobserve := m.Observe(func(ev Event, txn *Txn) {
		origins = append(origins, txn.Origin)
	})
	defer unobserve()

	err := doc.Transact(func() error {
		m.Set("a", 1.0)
		// Nested transactions join the outer one; the outer origin wins.
		return doc.Transact(func() error {
			m.Set("b", 2.0)
			return nil
		}, "inner")
	}, "outer")
	require.NoError(t, err)

	require.Len(t, origins, 1)
	assert.Equal(t, "outer", origins[0])

	// Implicit transactions carry a nil origin.
	origins = nil
	m.Set("c", 3.0)
	require.Len(t, origins, 1)
	assert.Nil(t, origins[0])
}

func TestObserveDeep(t *testing.T) {
	doc := NewDoc()
	root := doc.GetMap("root")
	child := NewMap()
	root.Set("child", child)
	grand := NewList()
	child.Set("items", grand)

	var batches [][]Event
	unobserve := root.ObserveDeep(func(events []Event, txn *Txn) {
		batches = append(batches, events)
	})
	defer unobserve()

	err := doc.Transact(func() error {
		grand.Insert(0, []any{"x"})
		child.Set("n", 1.0)
		return nil
	}, nil)
	require.NoError(t, err)

	require.Len(t, batches, 1)
	require.Len(t, batches[0], 2)
	assert.Same(t, grand, batches[0][0].Target())
	assert.Same(t, child, batches[0][1].Target())

	// Events outside the observed subtree are not delivered.
	batches = nil
	other := doc.GetMap("other")
	other.Set("k", 1.0)
	assert.Empty(t, batches)

	// After unobserving, nothing is delivered.
	unobserve()
	child.Set("m", 2.0)
	assert.Empty(t, batches)
}

func TestEventsDispatchAfterFailedTransaction(t *testing.T) {
	doc := NewDoc()
	m := doc.GetMap("root")

	fired := 0
	unobserve := m.Observe(func(ev Event, txn *Txn) { fired++ })
	defer unobserve()

	err := doc.Transact(func() error {
		m.Set("a", 1.0)
		return assert.AnError
	}, nil)
	require.Error(t, err)
	// The mutation happened; observers must hear about it.
	assert.Equal(t, 1, fired)
	assert.Equal(t, 1.0, m.Get("a"))
}

func TestTextLeaf(t *testing.T) {
	doc := NewDoc()
	root := doc.GetMap("root")

	txt := NewText("hello")
	assert.False(t, txt.Attached())
	root.Set("note", txt)
	assert.True(t, txt.Attached())
	assert.Equal(t, "hello", txt.String())
	assert.Equal(t, 5, txt.Len())
}
