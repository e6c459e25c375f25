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

// Package applier executes a merged write plan against shared containers.
// It runs inside the scheduler's transaction; everything that must happen
// after the transaction closes — child upgrades, structural finalizes — is
// handed to the Sink instead of executed inline.
package applier

import (
	"math"
	"sort"

	"github.com/go-logr/logr"

	"github.com/loom-run/loom/internal/convert"
	"github.com/loom-run/loom/internal/syncstate"
	"github.com/loom-run/loom/pkg/crdt"
)

// PostFunc is a post-integration callback. It receives the final shared
// value that landed in the document, after the transaction has closed and
// under the reconciling lock.
type PostFunc func(final any)

// Sink collects work to run after the transaction: cleanups of displaced
// subtrees, post-integration callbacks in FIFO order, then structural
// finalize reconciles.
type Sink interface {
	EnqueuePost(fn func())
	RequestFinalize(c crdt.Container)
	// RequestCleanup releases the controllers of a subtree this apply pass
	// detached from the document.
	RequestCleanup(c crdt.Container)
}

// requestCleanup reports a displaced value when it is a container.
func requestCleanup(sink Sink, old any) {
	if c, ok := old.(crdt.Container); ok {
		sink.RequestCleanup(c)
	}
}

// MapDeleteBatch removes keys from one map.
type MapDeleteBatch struct {
	Target *crdt.Map
	Keys   []string
}

// MapSetOp writes one key.
type MapSetOp struct {
	Key   string
	Value any
	Post  PostFunc
}

// MapSetBatch writes keys into one map.
type MapSetBatch struct {
	Target *crdt.Map
	Ops    []MapSetOp
}

// ListOp is one indexed write.
type ListOp struct {
	Index int
	Value any
	Post  PostFunc
}

// ListBatch carries one list's merged operations: replaces, pure deletes,
// and pure sets, already disjoint by index.
type ListBatch struct {
	Target   *crdt.List
	Replaces []ListOp
	Deletes  []int
	Sets     []ListOp
}

// Applier converts planned values and executes them on shared containers.
type Applier struct {
	st  *syncstate.Store
	log logr.Logger
}

// New creates an applier backed by the binding's store.
func New(st *syncstate.Store, log logr.Logger) *Applier {
	return &Applier{st: st, log: log}
}

// ApplyMapDeletes removes every still-present key.
func (a *Applier) ApplyMapDeletes(sink Sink, batches []MapDeleteBatch) error {
	for _, b := range batches {
		for _, key := range b.Keys {
			if b.Target.Has(key) {
				requestCleanup(sink, b.Target.Get(key))
				b.Target.Delete(key)
			}
		}
	}
	return nil
}

// ApplyMapSets converts and writes every pending key, queueing the post
// callback with the final shared value. A structural finalize is requested
// per map so freshly created child containers get materialized after the
// transaction.
func (a *Applier) ApplyMapSets(sink Sink, batches []MapSetBatch) error {
	for _, b := range batches {
		for _, op := range b.Ops {
			shared, err := convert.PlainToShared(op.Value, a.st)
			if err != nil {
				return err
			}
			if old := b.Target.Get(op.Key); old != nil && !isSame(old, shared) {
				requestCleanup(sink, old)
			}
			b.Target.Set(op.Key, shared)
			if op.Post != nil {
				post, final := op.Post, shared
				sink.EnqueuePost(func() { post(final) })
			}
		}
		sink.RequestFinalize(b.Target)
	}
	return nil
}

// ApplyListOps executes one list's merged plan: replaces in descending index
// order, then pure deletes in descending order, then pure sets — as a single
// bulk insert when the indices form an exact head or tail run, otherwise via
// the tail-cursor strategy. The length at the start of the batch stays
// frozen as the baseline for the cursor decision.
func (a *Applier) ApplyListOps(sink Sink, batches []ListBatch) error {
	for _, b := range batches {
		if err := a.applyListBatch(sink, b); err != nil {
			return err
		}
	}
	return nil
}

func (a *Applier) applyListBatch(sink Sink, b ListBatch) error {
	target := b.Target
	startLen := target.Len()

	firstDeleteIndex := math.MaxInt
	for _, i := range b.Deletes {
		if i < firstDeleteIndex {
			firstDeleteIndex = i
		}
	}

	// Replaces, descending so later deletions do not shift earlier indices.
	replaces := append([]ListOp{}, b.Replaces...)
	sort.Slice(replaces, func(i, j int) bool { return replaces[i].Index > replaces[j].Index })
	for _, op := range replaces {
		shared, err := convert.PlainToShared(op.Value, a.st)
		if err != nil {
			return err
		}
		at := clamp(op.Index, 0, target.Len())
		if op.Index < target.Len() {
			requestCleanup(sink, target.Get(at))
			target.Delete(at, 1)
			target.Insert(at, []any{shared})
		} else {
			// Out of bounds despite the scheduler's demotion pass; insert
			// at the clamped position as a fail-safe.
			target.Insert(clamp(op.Index, 0, target.Len()), []any{shared})
		}
		if op.Post != nil {
			post, final := op.Post, shared
			sink.EnqueuePost(func() { post(final) })
		}
	}
	if len(replaces) > 0 {
		sink.RequestFinalize(target)
	}

	// Pure deletes, descending.
	deletes := append([]int{}, b.Deletes...)
	sort.Sort(sort.Reverse(sort.IntSlice(deletes)))
	for _, i := range deletes {
		if i < target.Len() {
			requestCleanup(sink, target.Get(i))
			target.Delete(i, 1)
		}
	}
	if len(deletes) > 0 {
		sink.RequestFinalize(target)
	}

	if len(b.Sets) == 0 {
		return nil
	}

	sets := append([]ListOp{}, b.Sets...)
	sort.Slice(sets, func(i, j int) bool { return sets[i].Index < sets[j].Index })

	converted := make([]any, len(sets))
	for i, op := range sets {
		shared, err := convert.PlainToShared(op.Value, a.st)
		if err != nil {
			return err
		}
		converted[i] = shared
	}

	if at, ok := bulkInsertPosition(sets, target.Len()); ok {
		target.Insert(at, converted)
	} else {
		tailCursor := target.Len()
		for i, op := range sets {
			if op.Index >= startLen || op.Index >= firstDeleteIndex || op.Index >= target.Len() {
				target.Insert(clamp(tailCursor, 0, target.Len()), []any{converted[i]})
				tailCursor++
				continue
			}
			target.Insert(clamp(op.Index, 0, target.Len()), []any{converted[i]})
		}
	}
	for i, op := range sets {
		if op.Post != nil {
			post, final := op.Post, converted[i]
			sink.EnqueuePost(func() { post(final) })
		}
	}
	sink.RequestFinalize(target)
	return nil
}

// bulkInsertPosition reports whether the (ascending) set indices form an
// exact head run [0..m-1] or tail run [len..len+k-1], which a single insert
// call can satisfy.
func bulkInsertPosition(sets []ListOp, length int) (int, bool) {
	for i := 1; i < len(sets); i++ {
		if sets[i].Index != sets[i-1].Index+1 {
			return 0, false
		}
	}
	switch sets[0].Index {
	case 0:
		return 0, true
	case length:
		return length, true
	default:
		return 0, false
	}
}

// isSame reports identity equality without panicking on uncomparable
// values.
func isSame(a, b any) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = false
		}
	}()
	return a == b
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
