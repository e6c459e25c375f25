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

package reactive

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectOps(c Container) *[][]Op {
	batches := &[][]Op{}
	SubscribeOps(c, func(ops []Op) error {
		cp := make([]Op, len(ops))
		copy(cp, ops)
		*batches = append(*batches, cp)
		return nil
	})
	return batches
}

func TestObjectSetDeleteOps(t *testing.T) {
	o := NewObject()
	batches := collectOps(o)

	require.NoError(t, o.Set("a", 1))
	require.NoError(t, o.Set("a", 2))
	require.NoError(t, o.Delete("a"))
	require.NoError(t, o.Delete("missing"))

	require.Len(t, *batches, 3)

	first := (*batches)[0][0]
	assert.Equal(t, OpSet, first.Kind)
	assert.Equal(t, "a", first.Path[0].Name)
	assert.Equal(t, 1.0, first.Value)
	assert.False(t, first.HadPrev)

	second := (*batches)[1][0]
	assert.True(t, second.HadPrev)
	assert.Equal(t, 1.0, second.Prev)
	assert.Equal(t, 2.0, second.Value)

	third := (*batches)[2][0]
	assert.Equal(t, OpDelete, third.Kind)
	assert.Equal(t, 2.0, third.Prev)
}

func TestWrapNormalization(t *testing.T) {
	o := NewObject()
	require.NoError(t, o.Set("n", int32(7)))
	assert.Equal(t, 7.0, o.Get("n"))

	require.NoError(t, o.Set("m", map[string]any{"x": 1}))
	child, ok := o.Get("m").(*Object)
	require.True(t, ok)
	assert.Equal(t, 1.0, child.Get("x"))

	require.NoError(t, o.Set("l", []any{1, "two"}))
	list, ok := o.Get("l").(*List)
	require.True(t, ok)
	assert.Equal(t, 1.0, list.Get(0))
	assert.Equal(t, "two", list.Get(1))

	// Typed maps and slices normalize through reflection.
	require.NoError(t, o.Set("t", map[string]int{"a": 1}))
	typed, ok := o.Get("t").(*Object)
	require.True(t, ok)
	assert.Equal(t, 1.0, typed.Get("a"))

	require.NoError(t, o.Set("s", []int{1, 2}))
	slice, ok := o.Get("s").(*List)
	require.True(t, ok)
	assert.Equal(t, 2, slice.Len())

	// Unsupported values are stored raw; judging them is the validator's
	// job so the mutation can be rolled back as a unit.
	require.NoError(t, o.Set("f", func() {}))
	assert.NotNil(t, o.Get("f"))
}

func TestOpBubbling(t *testing.T) {
	root := NewObject()
	require.NoError(t, root.Set("child", map[string]any{}))
	child := root.Get("child").(*Object)

	batches := collectOps(root)

	require.NoError(t, child.Set("x", 1))

	require.Len(t, *batches, 1)
	op := (*batches)[0][0]
	require.Len(t, op.Path, 2)
	assert.Equal(t, "child", op.Path[0].Name)
	assert.Equal(t, "x", op.Path[1].Name)
}

func TestListBubblingThroughIndex(t *testing.T) {
	root := NewList()
	require.NoError(t, root.Push(map[string]any{"x": 1.0}))
	child := root.Get(0).(*Object)

	batches := collectOps(root)
	require.NoError(t, child.Set("x", 2))

	require.Len(t, *batches, 1)
	op := (*batches)[0][0]
	require.Len(t, op.Path, 2)
	assert.Equal(t, 0, op.Path[0].Index)
	assert.Equal(t, "x", op.Path[1].Name)
}

func TestSubscriberErrorAbortsAndPropagates(t *testing.T) {
	o := NewObject()
	boom := errors.New("boom")
	SubscribeOps(o, func(ops []Op) error { return boom })

	err := o.Set("a", 1)
	assert.ErrorIs(t, err, boom)
	// The mutation itself stays applied; rollback is the subscriber's
	// responsibility.
	assert.Equal(t, 1.0, o.Get("a"))
}

func TestUnsubscribe(t *testing.T) {
	o := NewObject()
	calls := 0
	unsubscribe := Subscribe(o, func() { calls++ })

	require.NoError(t, o.Set("a", 1))
	unsubscribe()
	require.NoError(t, o.Set("b", 2))
	assert.Equal(t, 1, calls)
}

func TestSpliceOpPatterns(t *testing.T) {
	cases := []struct {
		name     string
		initial  []any
		start    int
		del      int
		items    []any
		expected []Op
		final    []any
	}{
		{
			name:    "push emits trailing sets",
			initial: nil,
			start:   0, del: 0,
			items: []any{"a", "b"},
			expected: []Op{
				{Kind: OpSet, Path: []Segment{NewIndexedSegment(0)}, Value: "a"},
				{Kind: OpSet, Path: []Segment{NewIndexedSegment(1)}, Value: "b"},
			},
			final: []any{"a", "b"},
		},
		{
			name:    "pop emits trailing delete",
			initial: []any{"a", "b"},
			start:   1, del: 1,
			expected: []Op{
				{Kind: OpDelete, Path: []Segment{NewIndexedSegment(1)}, Prev: "b", HadPrev: true},
			},
			final: []any{"a"},
		},
		{
			name:    "replace emits in-bounds set with prev",
			initial: []any{"a", "b", "c"},
			start:   1, del: 1,
			items: []any{"x"},
			expected: []Op{
				{Kind: OpSet, Path: []Segment{NewIndexedSegment(1)}, Value: "x", Prev: "b", HadPrev: true},
			},
			final: []any{"a", "x", "c"},
		},
		{
			name:    "insert in the middle shifts the tail",
			initial: []any{"a", "b"},
			start:   1, del: 0,
			items: []any{"x"},
			expected: []Op{
				{Kind: OpSet, Path: []Segment{NewIndexedSegment(1)}, Value: "x", Prev: "b", HadPrev: true},
				{Kind: OpSet, Path: []Segment{NewIndexedSegment(2)}, Value: "b"},
			},
			final: []any{"a", "x", "b"},
		},
		{
			name:    "negative start counts from the end",
			initial: []any{"a", "b", "c"},
			start:   -1, del: 1,
			expected: []Op{
				{Kind: OpDelete, Path: []Segment{NewIndexedSegment(2)}, Prev: "c", HadPrev: true},
			},
			final: []any{"a", "b"},
		},
		{
			name:    "shrink emits replace then trailing deletes",
			initial: []any{"a", "b", "c"},
			start:   0, del: 2,
			expected: []Op{
				{Kind: OpSet, Path: []Segment{NewIndexedSegment(0)}, Value: "c", Prev: "a", HadPrev: true},
				{Kind: OpDelete, Path: []Segment{NewIndexedSegment(1)}, Prev: "b", HadPrev: true},
				{Kind: OpDelete, Path: []Segment{NewIndexedSegment(2)}, Prev: "c", HadPrev: true},
			},
			final: []any{"c"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := NewList()
			if len(tc.initial) > 0 {
				require.NoError(t, l.Push(tc.initial...))
			}
			batches := collectOps(l)

			_, err := l.Splice(tc.start, tc.del, tc.items...)
			require.NoError(t, err)

			require.Len(t, *batches, 1)
			assert.Equal(t, tc.expected, (*batches)[0])
			assert.Equal(t, tc.final, l.ToSlice())
		})
	}
}

func TestListSetPastEndPadsLocally(t *testing.T) {
	l := NewList()
	require.NoError(t, l.Push("a"))
	batches := collectOps(l)

	require.NoError(t, l.Set(2, "v2"))
	require.Len(t, *batches, 1)
	op := (*batches)[0][0]
	assert.Equal(t, 2, op.Path[0].Index)
	assert.False(t, op.HadPrev)
	assert.Equal(t, []any{"a", nil, "v2"}, l.ToSlice())

	require.Error(t, l.Set(-1, "x"))
}

func TestPop(t *testing.T) {
	l := NewList()
	v, err := l.Pop()
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, l.Push("a", "b"))
	v, err = l.Pop()
	require.NoError(t, err)
	assert.Equal(t, "b", v)
	assert.Equal(t, []any{"a"}, l.ToSlice())
}
