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

// Package crdt provides the shared-document container surface the bridge
// consumes: a document holding named root containers, string-keyed maps,
// ordered lists, leaf text values, transactions tagged with an origin, and
// shallow/deep observation with per-transaction events.
//
// The package implements single-writer semantics. The convergence algorithm
// of a full CRDT is intentionally out of scope; what matters to the bridge
// is the container API, the parent/attachment rules, and the event shapes,
// which follow the usual shared-type conventions (map key change sets, list
// retain/delete/insert deltas).
package crdt

// Doc is a shared document: a set of named root containers plus the
// transaction machinery. All mutations of integrated containers run inside
// a transaction; mutations issued outside one are wrapped in an implicit
// transaction with a nil origin.
type Doc struct {
	roots map[string]Container
	txn   *Txn
}

// NewDoc creates an empty document.
func NewDoc() *Doc {
	return &Doc{roots: make(map[string]Container)}
}

// GetMap returns the root map with the given name, creating it if absent.
// It panics if the name is already bound to a different container type.
func (d *Doc) GetMap(name string) *Map {
	if c, ok := d.roots[name]; ok {
		m, ok := c.(*Map)
		if !ok {
			panic("crdt: root " + name + " is not a map")
		}
		return m
	}
	m := NewMap()
	m.base.doc = d
	d.roots[name] = m
	return m
}

// GetList returns the root list with the given name, creating it if absent.
// It panics if the name is already bound to a different container type.
func (d *Doc) GetList(name string) *List {
	if c, ok := d.roots[name]; ok {
		l, ok := c.(*List)
		if !ok {
			panic("crdt: root " + name + " is not a list")
		}
		return l
	}
	l := NewList()
	l.base.doc = d
	d.roots[name] = l
	return l
}

// Transact runs fn inside a transaction tagged with origin. Transactions
// nest: an inner Transact joins the outer one and the outer origin wins.
// Events accumulated during the transaction are dispatched to observers
// after the outermost transaction closes, even when fn returns an error
// (mutations already performed are visible, so observers must hear about
// them; the caller decides how to recover).
func (d *Doc) Transact(fn func() error, origin any) error {
	if d.txn != nil {
		return fn()
	}
	t := &Txn{doc: d, Origin: origin}
	d.txn = t
	err := fn()
	d.txn = nil
	d.dispatch(t)
	return err
}

// withTxn runs fn inside the active transaction, opening an implicit one
// when none is active.
func (d *Doc) withTxn(fn func(t *Txn)) {
	if d.txn != nil {
		fn(d.txn)
		return
	}
	//nolint:errcheck // fn cannot fail here
	_ = d.Transact(func() error {
		fn(d.txn)
		return nil
	}, nil)
}

func (d *Doc) dispatch(t *Txn) {
	if len(t.events) == 0 {
		return
	}

	// Shallow observers fire per event, in event order.
	for _, ev := range t.events {
		for _, h := range ev.Target().state().observerList() {
			h(ev, t)
		}
	}

	// Deep observers fire once per observed subtree with every event under
	// it. Hosts are discovered by climbing from each event target to the
	// root; discovery order is kept stable so parents are notified in the
	// order their subtrees were first touched.
	var hosts []Container
	seen := make(map[*containerState]bool)
	for _, ev := range t.events {
		for c := ev.Target(); c != nil; c = c.Parent() {
			s := c.state()
			if len(s.deepObservers) == 0 || seen[s] {
				continue
			}
			seen[s] = true
			hosts = append(hosts, c)
		}
	}
	for _, host := range hosts {
		var under []Event
		for _, ev := range t.events {
			if isSelfOrDescendant(ev.Target(), host) {
				under = append(under, ev)
			}
		}
		if len(under) == 0 {
			continue
		}
		for _, h := range host.state().deepObserverList() {
			h(under, t)
		}
	}
}

// isSelfOrDescendant reports whether c lives in the subtree rooted at root.
func isSelfOrDescendant(c, root Container) bool {
	for ; c != nil; c = c.Parent() {
		if c == root {
			return true
		}
	}
	return false
}
