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
	"reflect"

	"github.com/spf13/cast"

	"github.com/loom-run/loom/internal/leaf"
	"github.com/loom-run/loom/internal/syncerror"
	"github.com/loom-run/loom/internal/syncstate"
	"github.com/loom-run/loom/pkg/crdt"
	"github.com/loom-run/loom/pkg/reactive"
)

// PlainToShared converts a validated value into what the shared document
// stores: primitives pass through normalized, reactive containers become
// fresh detached shared containers, detached shared containers pass through
// as-is, and a controller whose container is already attached elsewhere is
// deep-cloned into a pure plain tree first. The caller must have run
// ValidateDeep; the checks here remain as fail-safes.
func PlainToShared(v any, st *syncstate.Store) (any, error) {
	switch t := v.(type) {
	case nil, bool, string, float64:
		return v, nil
	case *leaf.Handle:
		if t.Text().Attached() {
			return nil, syncerror.NewValidationError(syncerror.KindReparenting, t, "")
		}
		return t.Text(), nil
	case crdt.Container:
		if t.Attached() {
			return nil, syncerror.NewValidationError(syncerror.KindReparenting, t, "")
		}
		return t, nil
	case *reactive.Object:
		if container, ok := st.ContainerFor(t); ok {
			if !container.Attached() {
				return container, nil
			}
			return PlainToShared(cloneControllerObject(t), st)
		}
		m := crdt.NewMap()
		for _, k := range t.Keys() {
			item, err := PlainToShared(t.Get(k), st)
			if err != nil {
				return nil, err
			}
			m.Set(k, item)
		}
		return m, nil
	case *reactive.List:
		if container, ok := st.ContainerFor(t); ok {
			if !container.Attached() {
				return container, nil
			}
			return PlainToShared(cloneControllerList(t), st)
		}
		l := crdt.NewList()
		items := make([]any, 0, t.Len())
		for i := 0; i < t.Len(); i++ {
			item, err := PlainToShared(t.Get(i), st)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		l.Insert(0, items)
		return l, nil
	case map[string]any:
		m := crdt.NewMap()
		for k, item := range t {
			converted, err := PlainToShared(item, st)
			if err != nil {
				return nil, err
			}
			m.Set(k, converted)
		}
		return m, nil
	case []any:
		l := crdt.NewList()
		items := make([]any, 0, len(t))
		for _, item := range t {
			converted, err := PlainToShared(item, st)
			if err != nil {
				return nil, err
			}
			items = append(items, converted)
		}
		l.Insert(0, items)
		return l, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		if f, err := cast.ToFloat64E(v); err == nil {
			return f, nil
		}
		// Named numeric types are outside cast's exact-type switch.
		return rv.Convert(reflect.TypeOf(float64(0))).Float(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, syncerror.NewValidationError(syncerror.KindNonStringKey, v, "")
		}
		plain := make(map[string]any, rv.Len())
		for iter := rv.MapRange(); iter.Next(); {
			plain[iter.Key().String()] = iter.Value().Interface()
		}
		return PlainToShared(plain, st)
	case reflect.Slice, reflect.Array:
		plain := make([]any, rv.Len())
		for i := range plain {
			plain[i] = rv.Index(i).Interface()
		}
		return PlainToShared(plain, st)
	default:
		return nil, syncerror.NewValidationError(syncerror.KindNonPlain, v, "")
	}
}

// cloneControllerObject deep-copies a controller's current contents into a
// pure plain tree, so an attached subtree can be re-used under a new parent
// without violating the single-parent rule. Leaf wrappers clone to fresh
// detached leaves carrying the same content.
func cloneControllerObject(o *reactive.Object) map[string]any {
	out := make(map[string]any, o.Len())
	for _, k := range o.Keys() {
		out[k] = cloneValue(o.Get(k))
	}
	return out
}

func cloneControllerList(l *reactive.List) []any {
	out := make([]any, 0, l.Len())
	for i := 0; i < l.Len(); i++ {
		out = append(out, cloneValue(l.Get(i)))
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case *reactive.Object:
		return cloneControllerObject(t)
	case *reactive.List:
		return cloneControllerList(t)
	case *leaf.Handle:
		return crdt.NewText(t.String())
	case *crdt.Text:
		return crdt.NewText(t.String())
	default:
		return v
	}
}

// SharedToPlain recursively mirrors a shared value into plain Go values.
// Used for snapshots, diagnostics, and tests.
func SharedToPlain(v any) any {
	switch t := v.(type) {
	case *crdt.Map:
		out := make(map[string]any, t.Len())
		for _, k := range t.Keys() {
			out[k] = SharedToPlain(t.Get(k))
		}
		return out
	case *crdt.List:
		out := make([]any, 0, t.Len())
		for _, item := range t.ToSlice() {
			out = append(out, SharedToPlain(item))
		}
		return out
	case *crdt.Text:
		return t.String()
	default:
		return v
	}
}

// ReactiveToPlain recursively mirrors a reactive tree into plain Go values,
// the controller-side counterpart of SharedToPlain.
func ReactiveToPlain(v any) any {
	switch t := v.(type) {
	case *reactive.Object:
		out := make(map[string]any, t.Len())
		for _, k := range t.Keys() {
			if syncstate.IsReservedKey(k) {
				continue
			}
			out[k] = ReactiveToPlain(t.Get(k))
		}
		return out
	case *reactive.List:
		out := make([]any, 0, t.Len())
		for i := 0; i < t.Len(); i++ {
			out = append(out, ReactiveToPlain(t.Get(i)))
		}
		return out
	case *leaf.Handle:
		return t.String()
	default:
		return v
	}
}
