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

package applier

import (
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loom-run/loom/internal/syncstate"
	"github.com/loom-run/loom/pkg/crdt"
)

// recordingSink captures deferred work instead of running it.
type recordingSink struct {
	posts     []func()
	finalizes []crdt.Container
	cleanups  []crdt.Container
}

func (s *recordingSink) EnqueuePost(fn func())            { s.posts = append(s.posts, fn) }
func (s *recordingSink) RequestFinalize(c crdt.Container) { s.finalizes = append(s.finalizes, c) }
func (s *recordingSink) RequestCleanup(c crdt.Container)  { s.cleanups = append(s.cleanups, c) }

func newApplier() *Applier {
	return New(syncstate.New(logr.Discard()), logr.Discard())
}

func TestApplyMapSetsConvertsAndDefers(t *testing.T) {
	a := newApplier()
	sink := &recordingSink{}
	doc := crdt.NewDoc()
	m := doc.GetMap("root")

	var final any
	err := a.ApplyMapSets(sink, []MapSetBatch{{
		Target: m,
		Ops: []MapSetOp{
			{Key: "n", Value: 1.5},
			{Key: "obj", Value: map[string]any{"x": true}, Post: func(v any) { final = v }},
		},
	}})
	require.NoError(t, err)

	assert.Equal(t, 1.5, m.Get("n"))
	child, ok := m.Get("obj").(*crdt.Map)
	require.True(t, ok)
	assert.Equal(t, true, child.Get("x"))

	// The post callback is deferred to the sink and carries the final
	// shared value when run.
	require.Len(t, sink.posts, 1)
	assert.Nil(t, final)
	sink.posts[0]()
	assert.Same(t, child, final)

	assert.Equal(t, []crdt.Container{m}, sink.finalizes)
}

func TestApplyMapSetsRequestsCleanupOnOverwrite(t *testing.T) {
	a := newApplier()
	sink := &recordingSink{}
	doc := crdt.NewDoc()
	m := doc.GetMap("root")
	old := crdt.NewMap()
	m.Set("child", old)

	err := a.ApplyMapSets(sink, []MapSetBatch{{
		Target: m,
		Ops:    []MapSetOp{{Key: "child", Value: map[string]any{}}},
	}})
	require.NoError(t, err)
	assert.Equal(t, []crdt.Container{old}, sink.cleanups)
}

func TestApplyMapDeletes(t *testing.T) {
	a := newApplier()
	sink := &recordingSink{}
	doc := crdt.NewDoc()
	m := doc.GetMap("root")
	old := crdt.NewMap()
	m.Set("gone", old)
	m.Set("kept", 1.0)

	err := a.ApplyMapDeletes(sink, []MapDeleteBatch{{Target: m, Keys: []string{"gone", "absent"}}})
	require.NoError(t, err)
	assert.False(t, m.Has("gone"))
	assert.True(t, m.Has("kept"))
	assert.Equal(t, []crdt.Container{old}, sink.cleanups)
}

func TestApplyListReplacesDescending(t *testing.T) {
	a := newApplier()
	sink := &recordingSink{}
	doc := crdt.NewDoc()
	l := doc.GetList("items")
	l.Insert(0, []any{"a", "b", "c"})

	err := a.ApplyListOps(sink, []ListBatch{{
		Target: l,
		Replaces: []ListOp{
			{Index: 0, Value: "x"},
			{Index: 2, Value: "y"},
		},
	}})
	require.NoError(t, err)
	assert.Equal(t, []any{"x", "b", "y"}, l.ToSlice())
}

func TestApplyListSetsAfterDeleteAppend(t *testing.T) {
	a := newApplier()
	sink := &recordingSink{}
	doc := crdt.NewDoc()
	l := doc.GetList("items")
	l.Insert(0, []any{"a", "b", "c"})

	// A set at or past the first deleted index appends at the tail cursor.
	err := a.ApplyListOps(sink, []ListBatch{{
		Target:  l,
		Deletes: []int{1},
		Sets:    []ListOp{{Index: 1, Value: "z"}},
	}})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "c", "z"}, l.ToSlice())
}

func TestBulkInsertPosition(t *testing.T) {
	cases := []struct {
		name    string
		indices []int
		length  int
		wantAt  int
		wantOK  bool
	}{
		{name: "head run", indices: []int{0, 1, 2}, length: 0, wantAt: 0, wantOK: true},
		{name: "tail run", indices: []int{3, 4}, length: 3, wantAt: 3, wantOK: true},
		{name: "gap", indices: []int{2, 4}, length: 1, wantOK: false},
		{name: "interior run", indices: []int{2, 3}, length: 5, wantOK: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sets := make([]ListOp, 0, len(tc.indices))
			for _, i := range tc.indices {
				sets = append(sets, ListOp{Index: i})
			}
			at, ok := bulkInsertPosition(sets, tc.length)
			assert.Equal(t, tc.wantOK, ok)
			if tc.wantOK {
				assert.Equal(t, tc.wantAt, at)
			}
		})
	}
}
