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

package convert

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loom-run/loom/internal/syncerror"
	"github.com/loom-run/loom/internal/syncstate"
	"github.com/loom-run/loom/pkg/crdt"
	"github.com/loom-run/loom/pkg/reactive"
)

func newStore() *syncstate.Store {
	return syncstate.New(logr.Discard())
}

func TestValidateDeep(t *testing.T) {
	attached := crdt.NewMap()
	crdt.NewDoc().GetMap("root").Set("a", attached)

	cases := []struct {
		name  string
		value any
		kind  syncerror.ValidationKind
	}{
		{name: "nil ok", value: nil},
		{name: "bool ok", value: true},
		{name: "string ok", value: "s"},
		{name: "float ok", value: 1.5},
		{name: "int ok", value: 42},
		{name: "plain map ok", value: map[string]any{"a": 1, "b": []any{"x"}}},
		{name: "typed map ok", value: map[string]string{"a": "b"}},
		{name: "detached container ok", value: crdt.NewMap()},
		{name: "func rejected", value: func() {}, kind: syncerror.KindFunc},
		{name: "chan rejected", value: make(chan int), kind: syncerror.KindChan},
		{name: "complex rejected", value: complex(1, 2), kind: syncerror.KindComplex},
		{name: "nan rejected", value: math.NaN(), kind: syncerror.KindNonFinite},
		{name: "inf rejected", value: math.Inf(1), kind: syncerror.KindNonFinite},
		{name: "non-string-key map rejected", value: map[int]any{1: "a"}, kind: syncerror.KindNonStringKey},
		{name: "struct rejected", value: time.Now(), kind: syncerror.KindNonPlain},
		{name: "pointer rejected", value: &struct{}{}, kind: syncerror.KindNonPlain},
		{name: "attached container rejected", value: attached, kind: syncerror.KindReparenting},
		{
			name:  "nested func rejected",
			value: map[string]any{"a": []any{map[string]any{"f": func() {}}}},
			kind:  syncerror.KindFunc,
		},
		{
			name:  "nested nan rejected",
			value: []any{1.0, math.NaN()},
			kind:  syncerror.KindNonFinite,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateDeep(tc.value, newStore())
			if tc.kind == "" {
				assert.NoError(t, err)
				return
			}
			var ve *syncerror.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.kind, ve.Kind)
		})
	}
}

func TestValidateDeepReactive(t *testing.T) {
	st := newStore()

	fresh := reactive.NewObject()
	require.NoError(t, fresh.Set("ok", 1))
	require.NoError(t, fresh.Set("bad", func() {}))

	err := ValidateDeep(fresh, st)
	var ve *syncerror.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, syncerror.KindFunc, ve.Kind)
	assert.Contains(t, ve.Path, "bad")

	// A registered controller is accepted without recursion: its contents
	// mirror the document.
	ctrl := reactive.NewObject()
	st.Register(crdt.NewMap(), ctrl)
	assert.NoError(t, ValidateDeep(ctrl, st))
}

func TestPlainToSharedBuildsContainers(t *testing.T) {
	st := newStore()

	got, err := PlainToShared(map[string]any{
		"title": "list",
		"count": 2,
		"items": []any{"a", map[string]any{"done": false}},
	}, st)
	require.NoError(t, err)

	m, ok := got.(*crdt.Map)
	require.True(t, ok)
	assert.False(t, m.Attached())

	want := map[string]any{
		"title": "list",
		"count": 2.0,
		"items": []any{"a", map[string]any{"done": false}},
	}
	if diff := cmp.Diff(want, SharedToPlain(m)); diff != "" {
		t.Errorf("unexpected tree (-want +got):\n%s", diff)
	}
}

func TestPlainToSharedReactive(t *testing.T) {
	st := newStore()

	obj := reactive.NewObject()
	require.NoError(t, obj.Set("x", 1))
	require.NoError(t, obj.Set("nested", map[string]any{"y": "z"}))

	got, err := PlainToShared(obj, st)
	require.NoError(t, err)
	m, ok := got.(*crdt.Map)
	require.True(t, ok)
	assert.Equal(t, 1.0, m.Get("x"))
	nested, ok := m.Get("nested").(*crdt.Map)
	require.True(t, ok)
	assert.Equal(t, "z", nested.Get("y"))
}

func TestPlainToSharedControllerReuse(t *testing.T) {
	st := newStore()

	// Detached container behind a controller is reused as-is.
	detached := crdt.NewMap()
	detached.Set("a", 1.0)
	ctrl := reactive.NewObject()
	require.NoError(t, ctrl.Set("a", 1))
	st.Register(detached, ctrl)

	got, err := PlainToShared(ctrl, st)
	require.NoError(t, err)
	assert.Same(t, detached, got)

	// An attached container behind a controller is deep-cloned instead.
	doc := crdt.NewDoc()
	attached := crdt.NewMap()
	attached.Set("a", 1.0)
	doc.GetMap("root").Set("child", attached)
	ctrl2 := reactive.NewObject()
	require.NoError(t, ctrl2.Set("a", 1))
	st.Register(attached, ctrl2)

	got2, err := PlainToShared(ctrl2, st)
	require.NoError(t, err)
	clone, ok := got2.(*crdt.Map)
	require.True(t, ok)
	assert.NotSame(t, attached, clone)
	assert.False(t, clone.Attached())
	assert.Equal(t, 1.0, clone.Get("a"))
}

func TestPlainToSharedReparentFailsafe(t *testing.T) {
	st := newStore()
	doc := crdt.NewDoc()
	attached := crdt.NewMap()
	doc.GetMap("root").Set("child", attached)

	_, err := PlainToShared(attached, st)
	var ve *syncerror.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, syncerror.KindReparenting, ve.Kind)
}

func TestRoundTrip(t *testing.T) {
	st := newStore()
	tree := map[string]any{
		"s": "str",
		"n": 1.25,
		"b": true,
		"z": nil,
		"l": []any{1.0, "two", map[string]any{"deep": []any{false}}},
	}

	shared, err := PlainToShared(tree, st)
	require.NoError(t, err)
	if diff := cmp.Diff(tree, SharedToPlain(shared)); diff != "" {
		t.Errorf("round trip diverged (-want +got):\n%s", diff)
	}
}

func TestSharedToPlainText(t *testing.T) {
	m := crdt.NewMap()
	m.Set("note", crdt.NewText("hi"))
	got := SharedToPlain(m)
	assert.Equal(t, map[string]any{"note": "hi"}, got)
}

func TestValidationErrorUnwrap(t *testing.T) {
	cause := errors.New("cause")
	ve := &syncerror.ValidationError{Kind: syncerror.KindNonPlain, Cause: cause}
	assert.ErrorIs(t, ve, cause)
}
