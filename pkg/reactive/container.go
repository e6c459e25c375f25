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
	"reflect"
	"sort"

	"github.com/spf13/cast"
)

// Container is a reactive container: an *Object or a *List.
type Container interface {
	state() *containerState
	// segmentsOf returns every slot the child currently occupies in this
	// container, as path segments.
	segmentsOf(child Container) []Segment
}

// OpsHandler receives one commit's raw operation records. A non-nil error
// aborts the commit's remaining delivery and is returned to the mutating
// caller.
type OpsHandler func(ops []Op) error

// Subscribe registers a coarse change callback on c. The returned function
// unregisters it.
func Subscribe(c Container, fn func()) func() {
	return c.state().subscribe(func([]Op) error {
		fn()
		return nil
	})
}

// SubscribeOps registers a raw-operation subscriber on c. This is the opt-in
// granular form the bridge consumes. The returned function unregisters it.
func SubscribeOps(c Container, fn OpsHandler) func() {
	return c.state().subscribe(fn)
}

type containerState struct {
	subscribers map[int]OpsHandler
	nextID      int
	// parents holds every container this one is currently a child of.
	parents map[Container]bool
}

func (s *containerState) state() *containerState { return s }

func (s *containerState) subscribe(fn OpsHandler) func() {
	if s.subscribers == nil {
		s.subscribers = make(map[int]OpsHandler)
	}
	id := s.nextID
	s.nextID++
	s.subscribers[id] = fn
	return func() { delete(s.subscribers, id) }
}

func (s *containerState) subscriberList() []OpsHandler {
	ids := make([]int, 0, len(s.subscribers))
	for id := range s.subscribers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]OpsHandler, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.subscribers[id])
	}
	return out
}

func (s *containerState) addParent(p Container) {
	if s.parents == nil {
		s.parents = make(map[Container]bool)
	}
	s.parents[p] = true
}

// notify delivers ops to c's own subscribers, then bubbles them to every
// parent with the child's current segment prefixed. visited guards against
// delivery loops when the application builds cyclic reactive graphs.
func notify(c Container, ops []Op, visited map[Container]bool) error {
	if visited[c] {
		return nil
	}
	visited[c] = true
	defer delete(visited, c)

	for _, fn := range c.state().subscriberList() {
		if err := fn(ops); err != nil {
			return err
		}
	}
	for parent := range c.state().parents {
		for _, seg := range parent.segmentsOf(c) {
			if err := notify(parent, prefixed(seg, ops), visited); err != nil {
				return err
			}
		}
	}
	return nil
}

// link records that child now lives under parent.
func link(parent Container, value any) {
	if c, ok := value.(Container); ok {
		c.state().addParent(parent)
	}
}

// unlink drops the parent edge when value no longer occupies any slot of
// parent.
func unlink(parent Container, value any) {
	c, ok := value.(Container)
	if !ok {
		return
	}
	if len(parent.segmentsOf(c)) == 0 {
		delete(c.state().parents, parent)
	}
}

// Wrap normalizes a value on its way into a reactive container: plain maps
// with string keys become Objects, slices become Lists, numeric values are
// normalized to float64 (the shared document's number model), and reactive
// containers pass through. Unsupported values are stored as-is — rejecting
// them is the bridge validator's job, so the offending mutation can be
// rolled back as a unit.
func Wrap(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case *Object, *List:
		return v
	case bool, string, float64:
		return v
	case map[string]any:
		o := NewObject()
		for k, item := range t {
			o.data[k] = Wrap(item)
			link(o, o.data[k])
		}
		return o
	case []any:
		l := NewList()
		for _, item := range t {
			w := Wrap(item)
			l.data = append(l.data, w)
			link(l, w)
		}
		return l
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		if f, err := cast.ToFloat64E(v); err == nil {
			return f
		}
		// Named numeric types are outside cast's exact-type switch.
		return rv.Convert(reflect.TypeOf(float64(0))).Float()
	case reflect.Bool:
		return rv.Bool()
	case reflect.String:
		return rv.String()
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		o := NewObject()
		iter := rv.MapRange()
		for iter.Next() {
			w := Wrap(iter.Value().Interface())
			o.data[iter.Key().String()] = w
			link(o, w)
		}
		return o
	case reflect.Slice, reflect.Array:
		l := NewList()
		for i := 0; i < rv.Len(); i++ {
			w := Wrap(rv.Index(i).Interface())
			l.data = append(l.data, w)
			link(l, w)
		}
		return l
	default:
		return v
	}
}

// same reports identity-style equality without panicking on uncomparable
// values.
func same(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if !reflect.TypeOf(a).Comparable() || !reflect.TypeOf(b).Comparable() {
		return false
	}
	return a == b
}
