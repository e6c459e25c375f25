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

import "sort"

// Container is a shared container: a Map, a List, or a Text leaf. Containers
// are created detached and become attached when inserted into a parent
// container (or fetched as a document root). A container has at most one parent
// for its lifetime; inserting an attached container elsewhere panics — the
// bridge validates re-parenting before values ever reach this layer.
type Container interface {
	// Doc returns the document the container is integrated into, or nil.
	Doc() *Doc
	// Parent returns the parent container, or nil for roots and detached
	// containers.
	Parent() Container
	// Attached reports whether the container belongs to a parent or a doc.
	Attached() bool

	// Observe registers a shallow observer receiving this container's own
	// events. The returned function unregisters it.
	Observe(h Handler) func()
	// ObserveDeep registers an observer receiving every event in the
	// subtree rooted at this container. The returned function unregisters
	// it.
	ObserveDeep(h DeepHandler) func()

	state() *containerState
	integrate(d *Doc, parent Container)
}

// Handler receives a single event on the observed container.
type Handler func(ev Event, t *Txn)

// DeepHandler receives the transaction's events under the observed subtree.
type DeepHandler func(events []Event, t *Txn)

// containerState carries the bookkeeping shared by all container variants.
type containerState struct {
	doc           *Doc
	parent        Container
	observers     map[int]Handler
	deepObservers map[int]DeepHandler
	nextID        int
}

func (s *containerState) Doc() *Doc         { return s.doc }
func (s *containerState) Parent() Container { return s.parent }

func (s *containerState) Attached() bool {
	return s.doc != nil || s.parent != nil
}

func (s *containerState) Observe(h Handler) func() {
	if s.observers == nil {
		s.observers = make(map[int]Handler)
	}
	id := s.nextID
	s.nextID++
	s.observers[id] = h
	return func() { delete(s.observers, id) }
}

func (s *containerState) ObserveDeep(h DeepHandler) func() {
	if s.deepObservers == nil {
		s.deepObservers = make(map[int]DeepHandler)
	}
	id := s.nextID
	s.nextID++
	s.deepObservers[id] = h
	return func() { delete(s.deepObservers, id) }
}

func (s *containerState) state() *containerState { return s }

func (s *containerState) observerList() []Handler {
	ids := make([]int, 0, len(s.observers))
	for id := range s.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]Handler, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.observers[id])
	}
	return out
}

func (s *containerState) deepObserverList() []DeepHandler {
	ids := make([]int, 0, len(s.deepObservers))
	for id := range s.deepObservers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]DeepHandler, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.deepObservers[id])
	}
	return out
}

// adopt wires value under parent when value is a container. It panics on an
// attempt to re-parent an attached container and integrates detached
// subtrees into parent's document when the parent is itself attached.
func adopt(parent Container, value any) {
	c, ok := value.(Container)
	if !ok {
		return
	}
	if c.Attached() {
		panic("crdt: container is already attached to a parent")
	}
	if d := parent.Doc(); d != nil {
		c.integrate(d, parent)
		return
	}
	c.state().parent = parent
}
