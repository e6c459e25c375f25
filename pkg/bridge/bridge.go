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

// Package bridge keeps a reactive state tree and a shared CRDT document in
// continuous, lossless synchronization. Applications mutate the reactive
// tree through its container methods; the bridge plans those mutations into
// minimal shared-document operations, batches them, and flushes them in one
// tagged transaction. In the opposite direction, foreign-origin document
// updates are reconciled back into the reactive tree, preserving controller
// identity for retained containers.
//
// A binding is confined to a single goroutine: the reactive tree, the
// document, and the flush pipeline all run on the caller, and observer
// callbacks fire synchronously when a document transaction closes. Wrap a binding
// in your own serialization if several goroutines need access.
package bridge

import (
	"fmt"
	"sort"

	"github.com/go-logr/logr"

	"github.com/loom-run/loom/internal/applier"
	"github.com/loom-run/loom/internal/convert"
	"github.com/loom-run/loom/internal/leaf"
	"github.com/loom-run/loom/internal/reconciler"
	"github.com/loom-run/loom/internal/scheduler"
	"github.com/loom-run/loom/internal/syncstate"
	"github.com/loom-run/loom/pkg/crdt"
	"github.com/loom-run/loom/pkg/reactive"
)

// Binding is the live bridge between one root container of a document and
// its reactive controller tree.
type Binding struct {
	doc    *crdt.Doc
	root   crdt.Container
	origin *originMarker
	opts   Options
	log    logr.Logger

	st     *syncstate.Store
	leaves *leaf.Registry
	sched  *scheduler.Scheduler
	rec    *reconciler.Reconciler

	rootCtrl   reactive.Container
	batchDepth int
	disposed   bool
}

// Bind attaches a binding to the document's root map named by selector and
// returns it with the root controller materialized.
func Bind(doc *crdt.Doc, selector string, opts ...Option) (*Binding, error) {
	return newBinding(doc, doc.GetMap(selector), opts)
}

// BindList attaches a binding to the document's root list named by selector.
func BindList(doc *crdt.Doc, selector string, opts ...Option) (*Binding, error) {
	return newBinding(doc, doc.GetList(selector), opts)
}

func newBinding(doc *crdt.Doc, root crdt.Container, opts []Option) (*Binding, error) {
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	b := &Binding{
		doc:    doc,
		root:   root,
		origin: newOriginMarker(o.OriginLabel),
		opts:   o,
		log:    o.Logger.WithName("loom"),
	}
	b.st = syncstate.New(b.log)
	b.leaves = leaf.NewRegistry()
	b.rec = reconciler.New(b.st, b.origin, reconciler.Hooks{
		MaterializeValue: b.materializeValue,
		ReleaseLeaf:      b.leaves.Release,
	}, b.log)
	b.sched = scheduler.New(doc, b.origin, b.st, applier.New(b.st, b.log), b.finalize, b.rec.CleanupSubtree, b.log)

	b.rootCtrl = b.materializeContainer(root)

	unobserve := root.ObserveDeep(func(events []crdt.Event, txn *crdt.Txn) {
		if err := b.rec.HandleDeepEvents(events, txn); err != nil {
			b.log.Error(err, "reconciliation of remote update failed")
		}
	})
	b.st.AddDisposable(unobserve)
	return b, nil
}

// Root returns the root controller of a map binding, or nil for a list
// binding.
func (b *Binding) Root() *reactive.Object {
	o, _ := b.rootCtrl.(*reactive.Object)
	return o
}

// RootList returns the root controller of a list binding, or nil for a map
// binding.
func (b *Binding) RootList() *reactive.List {
	l, _ := b.rootCtrl.(*reactive.List)
	return l
}

// Update runs fn as one write batch: every mutation issued inside coalesces
// into a single flush — and a single document transaction — at scope exit.
// Batches nest; only the outermost flushes.
func (b *Binding) Update(fn func()) error {
	b.batchDepth++
	defer func() { b.batchDepth-- }()
	fn()
	if b.batchDepth > 1 {
		return nil
	}
	return b.Flush()
}

// Flush commits every pending planned write in one tagged transaction. It
// is a no-op when nothing is pending.
func (b *Binding) Flush() error {
	if b.disposed {
		return fmt.Errorf("bridge: binding is disposed")
	}
	for b.sched.HasPending() {
		if err := b.sched.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// Bootstrap seeds an empty root inside one transaction. If the root turns
// out to be non-empty inside the transaction — someone else seeded it first
// — the planned writes are not executed and a diagnostic is logged; this is
// a refusal, not an error. Data is validated before conversion; the local
// tree is reconciled afterwards since the binding ignores its own events.
func (b *Binding) Bootstrap(data map[string]any) error {
	root, ok := b.root.(*crdt.Map)
	if !ok {
		return fmt.Errorf("bridge: bootstrap with map data on a list binding")
	}
	if len(data) == 0 {
		return nil
	}
	err := b.doc.Transact(func() error {
		if root.Len() > 0 {
			b.log.Info("bootstrap skipped: root is not empty", "keys", root.Len())
			return nil
		}
		keys := make([]string, 0, len(data))
		for k := range data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := convert.ValidateDeep(data[k], b.st); err != nil {
				return err
			}
		}
		for _, k := range keys {
			shared, err := convert.PlainToShared(data[k], b.st)
			if err != nil {
				return err
			}
			root.Set(k, shared)
		}
		return nil
	}, b.origin)
	if err != nil {
		return err
	}
	return b.rec.ReconcileContainer(b.root)
}

// BootstrapList seeds an empty root list, with the same refusal semantics
// as Bootstrap.
func (b *Binding) BootstrapList(items []any) error {
	root, ok := b.root.(*crdt.List)
	if !ok {
		return fmt.Errorf("bridge: bootstrap with list data on a map binding")
	}
	if len(items) == 0 {
		return nil
	}
	err := b.doc.Transact(func() error {
		if root.Len() > 0 {
			b.log.Info("bootstrap skipped: root is not empty", "items", root.Len())
			return nil
		}
		converted := make([]any, 0, len(items))
		for _, item := range items {
			if err := convert.ValidateDeep(item, b.st); err != nil {
				return err
			}
			shared, err := convert.PlainToShared(item, b.st)
			if err != nil {
				return err
			}
			converted = append(converted, shared)
		}
		root.Insert(0, converted)
		return nil
	}, b.origin)
	if err != nil {
		return err
	}
	return b.rec.ReconcileContainer(b.root)
}

// Snapshot mirrors the shared root into plain Go values, for diagnostics
// and tests.
func (b *Binding) Snapshot() any {
	return convert.SharedToPlain(b.root)
}

// Dispose tears down every subscription and observer and clears the caches.
// The controllers stay readable as plain reactive containers but no longer
// track the document.
func (b *Binding) Dispose() {
	if b.disposed {
		return
	}
	b.disposed = true
	b.st.DisposeAll()
}

// finalize is the scheduler's post-transaction hook: a structural reconcile
// of the touched container, running under the reconciling lock the
// scheduler already holds.
func (b *Binding) finalize(c crdt.Container) {
	if err := b.rec.ReconcileContainer(c); err != nil {
		b.log.Error(err, "post-transaction finalize reconcile failed")
	}
}

// afterCommit is called at the end of every local commit the bridge
// planned. Outside a batch scope in auto mode, it is the commit point.
func (b *Binding) afterCommit() error {
	if b.batchDepth > 0 || b.opts.FlushMode == FlushModeManual {
		return nil
	}
	return b.Flush()
}
