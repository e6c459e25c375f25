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

import "fmt"

// List is an integer-indexed, ordered shared container.
type List struct {
	base  containerState
	items []any
}

var _ Container = &List{}

// NewList creates a detached list.
func NewList() *List {
	return &List{}
}

func (l *List) Doc() *Doc                        { return l.base.Doc() }
func (l *List) Parent() Container                { return l.base.Parent() }
func (l *List) Attached() bool                   { return l.base.Attached() }
func (l *List) Observe(h Handler) func()         { return l.base.Observe(h) }
func (l *List) ObserveDeep(h DeepHandler) func() { return l.base.ObserveDeep(h) }
func (l *List) state() *containerState           { return &l.base }

func (l *List) integrate(d *Doc, parent Container) {
	l.base.doc = d
	l.base.parent = parent
	for _, v := range l.items {
		if c, ok := v.(Container); ok {
			c.integrate(d, l)
		}
	}
}

// Len returns the number of items.
func (l *List) Len() int { return len(l.items) }

// Get returns the item at index i, or nil when i is out of range.
func (l *List) Get(i int) any {
	if i < 0 || i >= len(l.items) {
		return nil
	}
	return l.items[i]
}

// ToSlice returns a shallow copy of the items.
func (l *List) ToSlice() []any {
	out := make([]any, len(l.items))
	copy(out, l.items)
	return out
}

// Insert splices items in before index i. Container items must be detached;
// they are integrated into this list's document. Panics when i is out of
// range or an item is an attached container.
func (l *List) Insert(i int, items []any) {
	if i < 0 || i > len(l.items) {
		panic(fmt.Sprintf("crdt: insert index %d out of range [0,%d]", i, len(l.items)))
	}
	if len(items) == 0 {
		return
	}
	for _, v := range items {
		adopt(l, v)
	}
	splice := func() {
		l.items = append(l.items[:i:i], append(append([]any{}, items...), l.items[i:]...)...)
	}
	if l.base.doc == nil {
		splice()
		return
	}
	l.base.doc.withTxn(func(t *Txn) {
		splice()
		var delta []DeltaOp
		if i > 0 {
			delta = append(delta, DeltaOp{Retain: i})
		}
		delta = append(delta, DeltaOp{Insert: append([]any{}, items...)})
		t.addListDelta(l, delta)
	})
}

// Delete removes up to n items starting at index i. Deleting zero items is a
// no-op; n is clamped to the tail length. Panics when i is out of range.
func (l *List) Delete(i, n int) {
	if n <= 0 {
		return
	}
	if i < 0 || i >= len(l.items) {
		panic(fmt.Sprintf("crdt: delete index %d out of range [0,%d)", i, len(l.items)))
	}
	if i+n > len(l.items) {
		n = len(l.items) - i
	}
	splice := func() {
		l.items = append(l.items[:i:i], l.items[i+n:]...)
	}
	if l.base.doc == nil {
		splice()
		return
	}
	l.base.doc.withTxn(func(t *Txn) {
		splice()
		var delta []DeltaOp
		if i > 0 {
			delta = append(delta, DeltaOp{Retain: i})
		}
		delta = append(delta, DeltaOp{Delete: n})
		t.addListDelta(l, delta)
	})
}
