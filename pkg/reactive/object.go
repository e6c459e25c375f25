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

import "sort"

// Object is the reactive mirror of a string-keyed container. Mutators apply
// the change, then synchronously deliver the derived operation batch to
// subscribers; a subscriber error aborts delivery and is returned to the
// caller, who is expected to have been rolled back by that subscriber.
type Object struct {
	base containerState
	data map[string]any
}

var _ Container = &Object{}

// NewObject creates an empty reactive object.
func NewObject() *Object {
	return &Object{data: make(map[string]any)}
}

func (o *Object) state() *containerState { return &o.base }

func (o *Object) segmentsOf(child Container) []Segment {
	var segs []Segment
	for _, k := range o.Keys() {
		if c, ok := o.data[k].(Container); ok && c == child {
			segs = append(segs, NewNamedSegment(k))
		}
	}
	return segs
}

// Len returns the number of keys.
func (o *Object) Len() int { return len(o.data) }

// Has reports whether key is present.
func (o *Object) Has(key string) bool {
	_, ok := o.data[key]
	return ok
}

// Get returns the value stored under key, or nil when absent.
func (o *Object) Get(key string) any { return o.data[key] }

// Keys returns the present keys in sorted order.
func (o *Object) Keys() []string {
	keys := make([]string, 0, len(o.data))
	for k := range o.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ToMap returns a shallow copy of the entries.
func (o *Object) ToMap() map[string]any {
	out := make(map[string]any, len(o.data))
	for k, v := range o.data {
		out[k] = v
	}
	return out
}

// Set stores value under key and commits a set op. The value is normalized
// via Wrap on the way in.
func (o *Object) Set(key string, value any) error {
	v := Wrap(value)
	old, had := o.data[key]
	o.data[key] = v
	link(o, v)
	if had {
		unlink(o, old)
	}
	op := Op{Kind: OpSet, Path: []Segment{NewNamedSegment(key)}, Value: v, Prev: old, HadPrev: had}
	return notify(o, []Op{op}, make(map[Container]bool))
}

// Delete removes key and commits a delete op. Deleting an absent key is a
// no-op.
func (o *Object) Delete(key string) error {
	old, had := o.data[key]
	if !had {
		return nil
	}
	delete(o.data, key)
	unlink(o, old)
	op := Op{Kind: OpDelete, Path: []Segment{NewNamedSegment(key)}, Prev: old, HadPrev: true}
	return notify(o, []Op{op}, make(map[Container]bool))
}
