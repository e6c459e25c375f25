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

// Package leaf keeps the identity table for leaf value containers. Leaf
// content synchronization is a collaborator concern; what the bridge needs
// from this package is only that repeated reads of the same leaf observe one
// stable wrapper value, so controller slots keep reference identity across
// reconcile passes.
package leaf

import "github.com/loom-run/loom/pkg/crdt"

// Handle is the stable wrapper an application sees in place of a raw text
// leaf.
type Handle struct {
	text *crdt.Text
}

// Text returns the wrapped leaf.
func (h *Handle) Text() *crdt.Text { return h.text }

// String returns the leaf's current content.
func (h *Handle) String() string { return h.text.String() }

// Registry maps each leaf to its one wrapper for the binding's lifetime.
type Registry struct {
	handles map[*crdt.Text]*Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[*crdt.Text]*Handle)}
}

// Wrap returns the stable handle for text, creating it on first use.
func (r *Registry) Wrap(text *crdt.Text) *Handle {
	if h, ok := r.handles[text]; ok {
		return h
	}
	h := &Handle{text: text}
	r.handles[text] = h
	return h
}

// Release evicts the handle for text, if any.
func (r *Registry) Release(text *crdt.Text) {
	delete(r.handles, text)
}
