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

// Package scheduler batches planned writes, rewrites the batch via temporal
// merging and subtree purging, and flushes it in a single shared-document
// transaction tagged with the binding's origin marker.
package scheduler

import (
	"time"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/go-logr/logr"

	"github.com/loom-run/loom/internal/applier"
	"github.com/loom-run/loom/internal/syncerror"
	"github.com/loom-run/loom/internal/syncstate"
	"github.com/loom-run/loom/pkg/crdt"
)

// PostFunc aliases the applier's post-integration callback type.
type PostFunc = applier.PostFunc

// mapSetEntry is one pending map write.
type mapSetEntry struct {
	value any
	post  PostFunc
}

// listEntry is one pending list write. seq is the scheduler-wide monotonic
// stamp used exclusively for temporal merging.
type listEntry struct {
	value any
	post  PostFunc
	seq   uint64
}

type mapSetQueue = orderedmap.OrderedMap[string, mapSetEntry]
type mapDeleteQueue = orderedmap.OrderedMap[string, struct{}]
type listSetQueue = orderedmap.OrderedMap[int, listEntry]
type listDeleteQueue = orderedmap.OrderedMap[int, uint64]

// batch holds the five pending-operation queues, keyed by target container
// in first-enqueue order.
type batch struct {
	mapSets      *orderedmap.OrderedMap[*crdt.Map, *mapSetQueue]
	mapDeletes   *orderedmap.OrderedMap[*crdt.Map, *mapDeleteQueue]
	listSets     *orderedmap.OrderedMap[*crdt.List, *listSetQueue]
	listDeletes  *orderedmap.OrderedMap[*crdt.List, *listDeleteQueue]
	listReplaces *orderedmap.OrderedMap[*crdt.List, *listSetQueue]
}

func newBatch() *batch {
	return &batch{
		mapSets:      orderedmap.NewOrderedMap[*crdt.Map, *mapSetQueue](),
		mapDeletes:   orderedmap.NewOrderedMap[*crdt.Map, *mapDeleteQueue](),
		listSets:     orderedmap.NewOrderedMap[*crdt.List, *listSetQueue](),
		listDeletes:  orderedmap.NewOrderedMap[*crdt.List, *listDeleteQueue](),
		listReplaces: orderedmap.NewOrderedMap[*crdt.List, *listSetQueue](),
	}
}

func (b *batch) isEmpty() bool {
	for _, target := range b.mapSets.Keys() {
		if q, _ := b.mapSets.Get(target); q.Len() > 0 {
			return false
		}
	}
	for _, target := range b.mapDeletes.Keys() {
		if q, _ := b.mapDeletes.Get(target); q.Len() > 0 {
			return false
		}
	}
	for _, target := range b.listSets.Keys() {
		if q, _ := b.listSets.Get(target); q.Len() > 0 {
			return false
		}
	}
	for _, target := range b.listDeletes.Keys() {
		if q, _ := b.listDeletes.Get(target); q.Len() > 0 {
			return false
		}
	}
	for _, target := range b.listReplaces.Keys() {
		if q, _ := b.listReplaces.Get(target); q.Len() > 0 {
			return false
		}
	}
	return true
}

// Scheduler owns the pending queues and the flush pipeline.
type Scheduler struct {
	doc    *crdt.Doc
	origin any
	st     *syncstate.Store
	apply  *applier.Applier
	log    logr.Logger

	// finalize runs a structural reconcile on a container after the
	// transaction, and cleanup releases the controllers of a subtree the
	// transaction detached; both injected by the bridge to avoid a
	// dependency cycle with the reconciler.
	finalize func(c crdt.Container)
	cleanup  func(c crdt.Container)

	seq     uint64
	pending *batch
	queued  bool

	post         []func()
	finalizeSet  map[crdt.Container]bool
	finalizeList []crdt.Container
	cleanupSet   map[crdt.Container]bool
	cleanupList  []crdt.Container
}

// New creates a scheduler writing to doc under origin.
func New(doc *crdt.Doc, origin any, st *syncstate.Store, apply *applier.Applier, finalize, cleanup func(crdt.Container), log logr.Logger) *Scheduler {
	return &Scheduler{
		doc:      doc,
		origin:   origin,
		st:       st,
		apply:    apply,
		finalize: finalize,
		cleanup:  cleanup,
		log:      log,
		pending:  newBatch(),
	}
}

// nextSeq stamps list operations for temporal merging.
func (s *Scheduler) nextSeq() uint64 {
	s.seq++
	return s.seq
}

// HasPending reports whether a flush is outstanding.
func (s *Scheduler) HasPending() bool { return s.queued }

// Schedule marks the batch dirty. It is idempotent until the next flush; the
// actual commit point is driven by the binding.
func (s *Scheduler) Schedule() { s.queued = true }

// EnqueueMapSet queues a key write, cancelling any pending delete of the
// same key.
func (s *Scheduler) EnqueueMapSet(target *crdt.Map, key string, value any, post PostFunc) {
	opsEnqueued.WithLabelValues("map_set").Inc()
	getOrCreate(s.pending.mapSets, target, func() *mapSetQueue {
		return orderedmap.NewOrderedMap[string, mapSetEntry]()
	}).Set(key, mapSetEntry{value: value, post: post})
	if dels, ok := s.pending.mapDeletes.Get(target); ok {
		dels.Delete(key)
	}
	s.Schedule()
}

// EnqueueMapDelete queues a key removal, cancelling any pending set of the
// same key.
func (s *Scheduler) EnqueueMapDelete(target *crdt.Map, key string) {
	opsEnqueued.WithLabelValues("map_delete").Inc()
	getOrCreate(s.pending.mapDeletes, target, func() *mapDeleteQueue {
		return orderedmap.NewOrderedMap[string, struct{}]()
	}).Set(key, struct{}{})
	if sets, ok := s.pending.mapSets.Get(target); ok {
		sets.Delete(key)
	}
	s.Schedule()
}

// EnqueueListSet queues a pure insert. List operations do not cancel at
// enqueue time; the temporal merge resolves them by sequence number.
func (s *Scheduler) EnqueueListSet(target *crdt.List, index int, value any, post PostFunc) {
	opsEnqueued.WithLabelValues("list_set").Inc()
	getOrCreate(s.pending.listSets, target, func() *listSetQueue {
		return orderedmap.NewOrderedMap[int, listEntry]()
	}).Set(index, listEntry{value: value, post: post, seq: s.nextSeq()})
	s.Schedule()
}

// EnqueueListDelete queues an index removal.
func (s *Scheduler) EnqueueListDelete(target *crdt.List, index int) {
	opsEnqueued.WithLabelValues("list_delete").Inc()
	getOrCreate(s.pending.listDeletes, target, func() *listDeleteQueue {
		return orderedmap.NewOrderedMap[int, uint64]()
	}).Set(index, s.nextSeq())
	s.Schedule()
}

// EnqueueListReplace queues a delete-then-insert at an index.
func (s *Scheduler) EnqueueListReplace(target *crdt.List, index int, value any, post PostFunc) {
	opsEnqueued.WithLabelValues("list_replace").Inc()
	getOrCreate(s.pending.listReplaces, target, func() *listSetQueue {
		return orderedmap.NewOrderedMap[int, listEntry]()
	}).Set(index, listEntry{value: value, post: post, seq: s.nextSeq()})
	s.Schedule()
}

// EnqueuePost implements applier.Sink.
func (s *Scheduler) EnqueuePost(fn func()) { s.post = append(s.post, fn) }

// RequestFinalize implements applier.Sink. Requests are deduplicated and
// run in first-request order after the transaction.
func (s *Scheduler) RequestFinalize(c crdt.Container) {
	if s.finalizeSet == nil {
		s.finalizeSet = make(map[crdt.Container]bool)
	}
	if s.finalizeSet[c] {
		return
	}
	s.finalizeSet[c] = true
	s.finalizeList = append(s.finalizeList, c)
}

// RequestCleanup implements applier.Sink. Requests are deduplicated and run
// before the post callbacks, so stale subscriptions are gone by the time
// slots upgrade.
func (s *Scheduler) RequestCleanup(c crdt.Container) {
	if s.cleanupSet == nil {
		s.cleanupSet = make(map[crdt.Container]bool)
	}
	if s.cleanupSet[c] {
		return
	}
	s.cleanupSet[c] = true
	s.cleanupList = append(s.cleanupList, c)
}

// Flush runs the whole pipeline: temporal merge, demotion, subtree purge,
// redundancy removal, one tagged transaction, then post callbacks and
// structural finalizes under the reconciling lock. Flushing an empty batch
// is a no-op.
func (s *Scheduler) Flush() error {
	if !s.queued {
		return nil
	}
	s.queued = false
	start := time.Now()

	b := s.pending
	s.pending = newBatch()

	s.mergeTemporal(b)
	s.demoteOutOfBounds(b)
	s.purgeDoomedSubtrees(b)
	s.dropRedundantSets(b)

	if b.isEmpty() {
		flushTotal.WithLabelValues("empty").Inc()
		return nil
	}

	txErr := s.doc.Transact(func() error {
		if err := s.apply.ApplyMapDeletes(s, collectMapDeletes(b)); err != nil {
			return syncerror.NewTransactionError(syncerror.BucketMapDeletes, err)
		}
		if err := s.apply.ApplyMapSets(s, collectMapSets(b)); err != nil {
			return syncerror.NewTransactionError(syncerror.BucketMapSets, err)
		}
		if err := s.apply.ApplyListOps(s, collectListBatches(b)); err != nil {
			return syncerror.NewTransactionError(syncerror.BucketSequenceOps, err)
		}
		return nil
	}, s.origin)

	// Post-integration callbacks and structural finalizes run after the
	// transaction has closed, under the reconciling lock so nothing they do
	// is reflected back into the document. They run even when a bucket
	// failed: the finalize reconcile is what re-syncs the reactive side
	// with whatever state the document recovered to.
	post := s.post
	finalizes := s.finalizeList
	cleanups := s.cleanupList
	s.post = nil
	s.finalizeSet = nil
	s.finalizeList = nil
	s.cleanupSet = nil
	s.cleanupList = nil
	s.st.WithReconcilingLock(func() {
		for _, c := range cleanups {
			s.cleanup(c)
		}
		for _, fn := range post {
			fn()
		}
		for _, c := range finalizes {
			s.finalize(c)
		}
	})

	flushDuration.Observe(time.Since(start).Seconds())
	if txErr != nil {
		flushTotal.WithLabelValues("error").Inc()
		return txErr
	}
	flushTotal.WithLabelValues("ok").Inc()
	return nil
}

// mergeTemporal resolves list delete/set/replace collisions per target by
// sequence number: a set older than the delete at the same index is a
// push+pop pattern and both cancel; a set newer than the delete is a splice
// pattern and promotes to a replace; a delete at an index that already has a
// replace is redundant. A set and a replace colliding on one index keep
// whichever was enqueued later.
func (s *Scheduler) mergeTemporal(b *batch) {
	for _, target := range b.listDeletes.Keys() {
		deletes, _ := b.listDeletes.Get(target)
		sets, hasSets := b.listSets.Get(target)
		replaces, hasReplaces := b.listReplaces.Get(target)

		for _, index := range deletes.Keys() {
			deleteSeq, _ := deletes.Get(index)
			if hasSets {
				if set, ok := sets.Get(index); ok {
					if set.seq < deleteSeq {
						sets.Delete(index)
						deletes.Delete(index)
						mergeActions.WithLabelValues("cancel").Inc()
						continue
					}
					if !hasReplaces {
						replaces = orderedmap.NewOrderedMap[int, listEntry]()
						b.listReplaces.Set(target, replaces)
						hasReplaces = true
					}
					replaces.Set(index, set)
					sets.Delete(index)
					deletes.Delete(index)
					mergeActions.WithLabelValues("promote").Inc()
					continue
				}
			}
			if hasReplaces {
				if _, ok := replaces.Get(index); ok {
					deletes.Delete(index)
					mergeActions.WithLabelValues("redundant_delete").Inc()
				}
			}
		}
	}

	for _, target := range b.listReplaces.Keys() {
		replaces, _ := b.listReplaces.Get(target)
		sets, ok := b.listSets.Get(target)
		if !ok {
			continue
		}
		for _, index := range replaces.Keys() {
			set, ok := sets.Get(index)
			if !ok {
				continue
			}
			replace, _ := replaces.Get(index)
			if set.seq > replace.seq {
				replaces.Set(index, set)
			}
			sets.Delete(index)
		}
	}
}

// demoteOutOfBounds rewrites replaces whose index is at or past the current
// list length into pure sets: there is nothing there to delete-then-insert.
func (s *Scheduler) demoteOutOfBounds(b *batch) {
	for _, target := range b.listReplaces.Keys() {
		replaces, _ := b.listReplaces.Get(target)
		length := target.Len()
		for _, index := range replaces.Keys() {
			if index < length {
				continue
			}
			entry, _ := replaces.Get(index)
			getOrCreate(b.listSets, target, func() *listSetQueue {
				return orderedmap.NewOrderedMap[int, listEntry]()
			}).Set(index, entry)
			replaces.Delete(index)
			mergeActions.WithLabelValues("demote").Inc()
		}
	}
}

// purgeDoomedSubtrees removes every pending operation targeting a container
// inside a subtree that a scheduled replace or delete will detach in this
// same flush. Mutating a container that is about to be detached in the same
// transaction is the one way this pipeline can corrupt the document, so the
// purge sweeps the flush snapshot and the live queues alike.
func (s *Scheduler) purgeDoomedSubtrees(b *batch) {
	doomed := make(map[crdt.Container]bool)
	for _, target := range b.listReplaces.Keys() {
		replaces, _ := b.listReplaces.Get(target)
		for _, index := range replaces.Keys() {
			collectSubtree(target.Get(index), doomed)
		}
	}
	for _, target := range b.listDeletes.Keys() {
		deletes, _ := b.listDeletes.Get(target)
		for _, index := range deletes.Keys() {
			collectSubtree(target.Get(index), doomed)
		}
	}
	if len(doomed) == 0 {
		return
	}
	for _, q := range []*batch{b, s.pending} {
		sweepQueue(q.mapSets, doomed)
		sweepQueue(q.mapDeletes, doomed)
		sweepQueue(q.listSets, doomed)
		sweepQueue(q.listDeletes, doomed)
		sweepQueue(q.listReplaces, doomed)
	}
}

// dropRedundantSets removes any pure set at an index that also carries a
// replace; the replace already writes that slot.
func (s *Scheduler) dropRedundantSets(b *batch) {
	for _, target := range b.listReplaces.Keys() {
		replaces, _ := b.listReplaces.Get(target)
		sets, ok := b.listSets.Get(target)
		if !ok {
			continue
		}
		for _, index := range replaces.Keys() {
			if _, ok := sets.Get(index); ok {
				sets.Delete(index)
				mergeActions.WithLabelValues("redundant_set").Inc()
			}
		}
	}
}

// collectSubtree gathers v and every shared container below it.
func collectSubtree(v any, out map[crdt.Container]bool) {
	c, ok := v.(crdt.Container)
	if !ok || out[c] {
		return
	}
	out[c] = true
	switch t := c.(type) {
	case *crdt.Map:
		for _, item := range t.Entries() {
			collectSubtree(item, out)
		}
	case *crdt.List:
		for _, item := range t.ToSlice() {
			collectSubtree(item, out)
		}
	}
}

// sweepQueue drops every per-target queue whose target is doomed.
func sweepQueue[T interface {
	crdt.Container
	comparable
}, Q any](q *orderedmap.OrderedMap[T, Q], doomed map[crdt.Container]bool) {
	for _, target := range q.Keys() {
		if doomed[crdt.Container(target)] {
			q.Delete(target)
			mergeActions.WithLabelValues("purge").Inc()
		}
	}
}

func collectMapDeletes(b *batch) []applier.MapDeleteBatch {
	out := make([]applier.MapDeleteBatch, 0, b.mapDeletes.Len())
	for _, target := range b.mapDeletes.Keys() {
		q, _ := b.mapDeletes.Get(target)
		if q.Len() == 0 {
			continue
		}
		out = append(out, applier.MapDeleteBatch{Target: target, Keys: q.Keys()})
	}
	return out
}

func collectMapSets(b *batch) []applier.MapSetBatch {
	out := make([]applier.MapSetBatch, 0, b.mapSets.Len())
	for _, target := range b.mapSets.Keys() {
		q, _ := b.mapSets.Get(target)
		if q.Len() == 0 {
			continue
		}
		ops := make([]applier.MapSetOp, 0, q.Len())
		for _, key := range q.Keys() {
			entry, _ := q.Get(key)
			ops = append(ops, applier.MapSetOp{Key: key, Value: entry.value, Post: entry.post})
		}
		out = append(out, applier.MapSetBatch{Target: target, Ops: ops})
	}
	return out
}

func collectListBatches(b *batch) []applier.ListBatch {
	byTarget := orderedmap.NewOrderedMap[*crdt.List, *applier.ListBatch]()
	get := func(target *crdt.List) *applier.ListBatch {
		if lb, ok := byTarget.Get(target); ok {
			return lb
		}
		lb := &applier.ListBatch{Target: target}
		byTarget.Set(target, lb)
		return lb
	}
	for _, target := range b.listReplaces.Keys() {
		q, _ := b.listReplaces.Get(target)
		for _, index := range q.Keys() {
			entry, _ := q.Get(index)
			lb := get(target)
			lb.Replaces = append(lb.Replaces, applier.ListOp{Index: index, Value: entry.value, Post: entry.post})
		}
	}
	for _, target := range b.listDeletes.Keys() {
		q, _ := b.listDeletes.Get(target)
		lb := get(target)
		lb.Deletes = append(lb.Deletes, q.Keys()...)
	}
	for _, target := range b.listSets.Keys() {
		q, _ := b.listSets.Get(target)
		for _, index := range q.Keys() {
			entry, _ := q.Get(index)
			lb := get(target)
			lb.Sets = append(lb.Sets, applier.ListOp{Index: index, Value: entry.value, Post: entry.post})
		}
	}
	out := make([]applier.ListBatch, 0, byTarget.Len())
	for _, target := range byTarget.Keys() {
		lb, _ := byTarget.Get(target)
		if len(lb.Replaces) == 0 && len(lb.Deletes) == 0 && len(lb.Sets) == 0 {
			continue
		}
		out = append(out, *lb)
	}
	return out
}

// getOrCreate fetches the per-target queue, creating it on first use.
func getOrCreate[K comparable, V any](m *orderedmap.OrderedMap[K, V], key K, create func() V) V {
	if v, ok := m.Get(key); ok {
		return v
	}
	v := create()
	m.Set(key, v)
	return v
}
