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

// Text is a leaf value container. The bridge treats it as opaque: it is
// stored into maps and lists like any container, but its content is not part
// of the structural reconciliation — reads go through the leaf identity
// wrapper so applications observe a stable reference.
type Text struct {
	base    containerState
	content string
}

var _ Container = &Text{}

// NewText creates a detached text leaf with the given content.
func NewText(content string) *Text {
	return &Text{content: content}
}

func (t *Text) Doc() *Doc                        { return t.base.Doc() }
func (t *Text) Parent() Container                { return t.base.Parent() }
func (t *Text) Attached() bool                   { return t.base.Attached() }
func (t *Text) Observe(h Handler) func()         { return t.base.Observe(h) }
func (t *Text) ObserveDeep(h DeepHandler) func() { return t.base.ObserveDeep(h) }
func (t *Text) state() *containerState           { return &t.base }

func (t *Text) integrate(d *Doc, parent Container) {
	t.base.doc = d
	t.base.parent = parent
}

// Len returns the content length in bytes.
func (t *Text) Len() int { return len(t.content) }

// String returns the current content.
func (t *Text) String() string { return t.content }
