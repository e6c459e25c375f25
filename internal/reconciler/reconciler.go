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

// Package reconciler materializes shared-document state back into the
// reactive tree: structurally for maps and lists, granularly for lists that
// received a delta, and event-driven for foreign-origin transactions. It
// preserves controller identity for retained containers and releases
// subscriptions and cache entries for removed subtrees.
package reconciler

import (
	"fmt"
	"sort"

	"github.com/go-logr/logr"
	"golang.org/x/exp/maps"

	"github.com/loom-run/loom/internal/syncerror"
	"github.com/loom-run/loom/internal/syncstate"
	"github.com/loom-run/loom/pkg/crdt"
	"github.com/loom-run/loom/pkg/reactive"
)

// Hooks are the bridge-provided callbacks the reconciler needs: turning a
// shared value into what a controller slot stores (child controllers for
// containers, stable wrappers for leaves, primitives as-is) and releasing a
// leaf wrapper. They are injected to keep the materialization logic — which
// owns subscriptions — in one place, the bridge.
type Hooks struct {
	MaterializeValue func(v any) any
	ReleaseLeaf      func(t *crdt.Text)
}

// Reconciler applies shared state onto controllers.
type Reconciler struct {
	st     *syncstate.Store
	origin any
	hooks  Hooks
	log    logr.Logger
}

// New creates a reconciler for one binding. origin is the binding's own
// transaction marker; event batches carrying it are skipped entirely.
func New(st *syncstate.Store, origin any, hooks Hooks, log logr.Logger) *Reconciler {
	return &Reconciler{st: st, origin: origin, hooks: hooks, log: log}
}

// ReconcileContainer dispatches on the container variant. Containers without
// a materialized controller are skipped — they will be materialized lazily
// when first observed.
func (r *Reconciler) ReconcileContainer(c crdt.Container) error {
	switch t := c.(type) {
	case *crdt.Map:
		return r.ReconcileMap(t)
	case *crdt.List:
		return r.ReconcileList(t)
	default:
		return nil
	}
}

// ReconcileMap reconciles one map boundary: the union of shared keys and
// controller keys is walked, assigning materialized values for keys only in
// the document, cleaning up and deleting keys only in the controller, and
// fixing divergent slots for keys in both. Reserved internal keys are
// excluded from the union. Child containers are recursed into.
func (r *Reconciler) ReconcileMap(m *crdt.Map) error {
	ctrl, ok := r.st.ControllerFor(m)
	if !ok {
		return nil
	}
	obj, ok := ctrl.(*reactive.Object)
	if !ok {
		return syncerror.NewReconciliationError(syncerror.ReconcileMap, m,
			fmt.Errorf("controller for map is %T", ctrl))
	}
	reconcileTotal.WithLabelValues("map").Inc()

	var err error
	r.st.WithReconcilingLock(func() {
		err = r.reconcileMapLocked(m, obj)
	})
	return err
}

func (r *Reconciler) reconcileMapLocked(m *crdt.Map, obj *reactive.Object) error {
	for _, key := range keyUnion(m, obj) {
		inShared := m.Has(key)
		inCtrl := obj.Has(key)
		switch {
		case inShared && !inCtrl:
			mat := r.hooks.MaterializeValue(m.Get(key))
			if err := obj.Set(key, mat); err != nil {
				return syncerror.NewReconciliationError(syncerror.ReconcileMap, m, err)
			}
			if err := r.recurseChild(m.Get(key)); err != nil {
				return err
			}
		case !inShared && inCtrl:
			old := obj.Get(key)
			r.cleanupValue(old)
			if err := obj.Delete(key); err != nil {
				return syncerror.NewReconciliationError(syncerror.ReconcileMap, m, err)
			}
		default:
			shared := m.Get(key)
			mat := r.hooks.MaterializeValue(shared)
			current := obj.Get(key)
			if !sameValue(current, mat) {
				r.cleanupValue(current)
				if err := obj.Set(key, mat); err != nil {
					return syncerror.NewReconciliationError(syncerror.ReconcileMap, m, err)
				}
			}
			if err := r.recurseChild(shared); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReconcileList structurally reconciles one list boundary, unless the list
// already received a granular delta in the current pass. Controllers for
// retained containers keep their identity: removal is computed as a multiset
// difference, so a controller appearing twice in both old and new contents
// is retained, not cleaned.
func (r *Reconciler) ReconcileList(l *crdt.List) error {
	if r.st.HasDeltaApplied(l) {
		return nil
	}
	ctrl, ok := r.st.ControllerFor(l)
	if !ok {
		return nil
	}
	list, ok := ctrl.(*reactive.List)
	if !ok {
		return syncerror.NewReconciliationError(syncerror.ReconcileSequence, l,
			fmt.Errorf("controller for list is %T", ctrl))
	}
	reconcileTotal.WithLabelValues("sequence").Inc()

	var err error
	r.st.WithReconcilingLock(func() {
		err = r.reconcileListLocked(l, list)
	})
	return err
}

func (r *Reconciler) reconcileListLocked(l *crdt.List, list *reactive.List) error {
	shared := l.ToSlice()
	snapshot := make([]any, len(shared))
	for i, v := range shared {
		snapshot[i] = r.hooks.MaterializeValue(v)
	}

	// Controllers present before but absent from the snapshot are removed;
	// reference counting keeps a controller retained when it still occupies
	// some slot.
	retained := make(map[any]int)
	for _, v := range snapshot {
		if isManaged(v) {
			retained[v]++
		}
	}
	var removed []any
	for _, old := range list.ToSlice() {
		if !isManaged(old) {
			continue
		}
		if retained[old] > 0 {
			retained[old]--
			continue
		}
		removed = append(removed, old)
	}

	if _, err := list.Splice(0, list.Len(), snapshot...); err != nil {
		return syncerror.NewReconciliationError(syncerror.ReconcileSequence, l, err)
	}
	for _, old := range removed {
		r.cleanupValue(old)
	}
	for _, v := range shared {
		if err := r.recurseChild(v); err != nil {
			return err
		}
	}
	return nil
}

// ApplyListDelta applies a granular retain/delete/insert delta to the list's
// controller with a position cursor. Inserts are idempotent: when the slice
// at the cursor already references the materialized items, the delta was
// applied before and only the cursor advances.
func (r *Reconciler) ApplyListDelta(l *crdt.List, delta []crdt.DeltaOp) error {
	ctrl, ok := r.st.ControllerFor(l)
	if !ok {
		return nil
	}
	list, ok := ctrl.(*reactive.List)
	if !ok {
		return syncerror.NewReconciliationError(syncerror.ReconcileSequence, l,
			fmt.Errorf("controller for list is %T", ctrl))
	}
	deltasApplied.Inc()

	var err error
	r.st.WithReconcilingLock(func() {
		err = r.applyListDeltaLocked(l, list, delta)
	})
	return err
}

func (r *Reconciler) applyListDeltaLocked(l *crdt.List, list *reactive.List, delta []crdt.DeltaOp) error {
	cursor := 0
	for _, op := range delta {
		switch {
		case op.Retain > 0:
			cursor += op.Retain
		case op.Delete > 0:
			n := op.Delete
			if cursor+n > list.Len() {
				n = list.Len() - cursor
			}
			if n <= 0 {
				continue
			}
			removed, err := list.Splice(cursor, n)
			if err != nil {
				return syncerror.NewReconciliationError(syncerror.ReconcileSequence, l, err)
			}
			for _, old := range removed {
				r.cleanupValue(old)
			}
		case len(op.Insert) > 0:
			items := make([]any, len(op.Insert))
			for i, v := range op.Insert {
				items[i] = r.hooks.MaterializeValue(v)
			}
			if sliceMatches(list, cursor, items) {
				cursor += len(items)
				continue
			}
			if err := list.Insert(cursor, items...); err != nil {
				return syncerror.NewReconciliationError(syncerror.ReconcileSequence, l, err)
			}
			for _, v := range op.Insert {
				if err := r.recurseChild(v); err != nil {
					return err
				}
			}
			cursor += len(items)
		}
	}
	return nil
}

// HandleDeepEvents is the deep-observe entry point. Batches carrying the
// binding's own origin are skipped: those mutations originated from the
// reactive tree and are already reflected there. For foreign batches it
// routes each event to the nearest materialized ancestor boundary, marks
// direct list targets for granular treatment, reconciles boundaries parents
// first, then applies the deltas.
func (r *Reconciler) HandleDeepEvents(events []crdt.Event, txn *crdt.Txn) error {
	if txn.Origin == r.origin {
		return nil
	}
	remoteBatches.Inc()

	var err error
	r.st.WithReconcilingLock(func() {
		defer r.st.ClearDeltaApplied()

		// Phase 2 candidates first: direct list targets that already have a
		// controller take their changes as granular deltas, and marking
		// them up front keeps the structural phase from double-applying.
		type deltaTarget struct {
			list  *crdt.List
			delta []crdt.DeltaOp
		}
		var deltas []deltaTarget
		for _, ev := range events {
			le, ok := ev.(*crdt.ListEvent)
			if !ok {
				continue
			}
			if _, ok := r.st.ControllerFor(le.List()); !ok {
				continue
			}
			r.st.MarkDeltaApplied(le.List())
			deltas = append(deltas, deltaTarget{list: le.List(), delta: le.Delta})
		}

		// Phase 1: structural reconcile of each boundary, parents before
		// children so a parent's materialization happens before a child's
		// reconcile looks for its controller.
		boundaries := collectBoundaries(events, r.st)
		for _, b := range boundaries {
			if err = r.ReconcileContainer(b); err != nil {
				return
			}
		}

		for _, d := range deltas {
			if err = r.ApplyListDelta(d.list, d.delta); err != nil {
				return
			}
		}
	})
	return err
}

// collectBoundaries maps every event target to its nearest materialized
// ancestor, deduplicates, and orders parents before children.
func collectBoundaries(events []crdt.Event, st *syncstate.Store) []crdt.Container {
	seen := make(map[crdt.Container]bool)
	var out []crdt.Container
	for _, ev := range events {
		b := nearestMaterialized(ev.Target(), st)
		if b == nil || seen[b] {
			continue
		}
		seen[b] = true
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return depth(out[i]) < depth(out[j])
	})
	return out
}

// nearestMaterialized climbs from c to the closest container that already
// has a controller, defaulting to the root of c's tree.
func nearestMaterialized(c crdt.Container, st *syncstate.Store) crdt.Container {
	var root crdt.Container
	for x := c; x != nil; x = x.Parent() {
		if _, ok := st.ControllerFor(x); ok {
			return x
		}
		root = x
	}
	return root
}

func depth(c crdt.Container) int {
	d := 0
	for p := c.Parent(); p != nil; p = p.Parent() {
		d++
	}
	return d
}

// recurseChild descends into container children after their slot has been
// made canonical.
func (r *Reconciler) recurseChild(shared any) error {
	if c, ok := shared.(crdt.Container); ok {
		if _, isText := c.(*crdt.Text); isText {
			return nil
		}
		return r.ReconcileContainer(c)
	}
	return nil
}

// cleanupValue releases whatever a removed slot held: a controller's whole
// subtree is unsubscribed and evicted from both caches, a leaf wrapper is
// released, primitives need nothing.
func (r *Reconciler) cleanupValue(v any) {
	switch t := v.(type) {
	case *reactive.Object, *reactive.List:
		container, ok := r.st.ContainerFor(v.(reactive.Container))
		if !ok {
			return
		}
		r.cleanupShared(container)
	case interface{ Text() *crdt.Text }:
		r.hooks.ReleaseLeaf(t.Text())
	}
}

// CleanupSubtree releases the controllers of a container and everything
// below it: the write path calls this for subtrees its transaction
// detached.
func (r *Reconciler) CleanupSubtree(c crdt.Container) {
	r.st.WithReconcilingLock(func() {
		r.cleanupShared(c)
	})
}

// cleanupShared evicts the container and every descendant container from
// the caches, running their unsubscribes.
func (r *Reconciler) cleanupShared(c crdt.Container) {
	r.st.Evict(c)
	switch t := c.(type) {
	case *crdt.Map:
		for _, v := range t.Entries() {
			if child, ok := v.(crdt.Container); ok {
				r.cleanupShared(child)
			}
		}
	case *crdt.List:
		for _, v := range t.ToSlice() {
			if child, ok := v.(crdt.Container); ok {
				r.cleanupShared(child)
			}
		}
	case *crdt.Text:
		r.hooks.ReleaseLeaf(t)
	}
}

// isManaged reports whether a controller slot value owns resources that
// need cleanup on removal.
func isManaged(v any) bool {
	switch v.(type) {
	case *reactive.Object, *reactive.List:
		return true
	case interface{ Text() *crdt.Text }:
		return true
	default:
		return false
	}
}

// sliceMatches reports whether the controller already holds exactly items
// at the given position, by reference.
func sliceMatches(list *reactive.List, at int, items []any) bool {
	if at+len(items) > list.Len() {
		return false
	}
	for i, v := range items {
		if !sameValue(list.Get(at+i), v) {
			return false
		}
	}
	return true
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

// keyUnion returns the sorted union of shared and controller keys, excluding
// reserved internal keys.
func keyUnion(m *crdt.Map, obj *reactive.Object) []string {
	seen := make(map[string]bool)
	for _, k := range m.Keys() {
		if !syncstate.IsReservedKey(k) {
			seen[k] = true
		}
	}
	for _, k := range obj.Keys() {
		if !syncstate.IsReservedKey(k) {
			seen[k] = true
		}
	}
	out := maps.Keys(seen)
	sort.Strings(out)
	return out
}
