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

package bridge

import (
	"github.com/loom-run/loom/internal/syncstate"
	"github.com/loom-run/loom/pkg/crdt"
	"github.com/loom-run/loom/pkg/reactive"
)

// materializeContainer returns the controller for a shared container,
// creating it on first sight: one controller per container, cached for the
// container's lifetime. Creation fills every child — containers recursively
// become controllers, leaves become stable wrappers, primitives copy — and
// subscribes to the controller's raw operation stream.
func (b *Binding) materializeContainer(c crdt.Container) reactive.Container {
	if ctrl, ok := b.st.ControllerFor(c); ok {
		return ctrl
	}
	switch t := c.(type) {
	case *crdt.Map:
		obj := reactive.NewObject()
		b.st.Register(c, obj)
		b.st.WithReconcilingLock(func() {
			for _, k := range t.Keys() {
				if err := obj.Set(k, b.materializeValue(t.Get(k))); err != nil {
					b.log.Error(err, "materializing map child failed", "key", k)
				}
			}
		})
		b.subscribeMap(t, obj)
		return obj
	case *crdt.List:
		list := reactive.NewList()
		b.st.Register(c, list)
		b.st.WithReconcilingLock(func() {
			items := t.ToSlice()
			for i, v := range items {
				items[i] = b.materializeValue(v)
			}
			if err := list.Push(items...); err != nil {
				b.log.Error(err, "materializing list children failed")
			}
		})
		b.subscribeList(t, list)
		return list
	default:
		// Text leaves are not controllers; callers go through
		// materializeValue for them.
		return nil
	}
}

// materializeValue maps a shared value onto what a controller slot stores.
func (b *Binding) materializeValue(v any) any {
	switch t := v.(type) {
	case *crdt.Map, *crdt.List:
		return b.materializeContainer(t.(crdt.Container))
	case *crdt.Text:
		return b.leaves.Wrap(t)
	default:
		return v
	}
}

func (b *Binding) subscribeMap(m *crdt.Map, obj *reactive.Object) {
	unsubscribe := reactive.SubscribeOps(obj, b.mapOpsHandler(m, obj))
	b.st.RegisterSubscription(m, unsubscribe)
}

func (b *Binding) subscribeList(l *crdt.List, list *reactive.List) {
	unsubscribe := reactive.SubscribeOps(list, b.listOpsHandler(l, list))
	b.st.RegisterSubscription(l, unsubscribe)
}

// mapUpgradeCallback installs the child controller for a freshly integrated
// value at its map slot. It runs after the transaction under the
// reconciling lock; the install is skipped when the slot was already
// upgraded.
func (b *Binding) mapUpgradeCallback(obj *reactive.Object, key string) func(final any) {
	return func(final any) {
		mat := b.materializeValue(final)
		if sameValue(obj.Get(key), mat) {
			return
		}
		if err := obj.Set(key, mat); err != nil {
			b.log.Error(err, "upgrading map slot failed", "key", key)
		}
	}
}

// sameValue compares slot contents without panicking on uncomparable
// values.
func sameValue(a, b any) (eq bool) {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	defer func() {
		if recover() != nil {
			eq = false
		}
	}()
	return a == b
}

// isReservedKey mirrors the writer-side filter of internal bridge keys.
func isReservedKey(key string) bool {
	return syncstate.IsReservedKey(key)
}
