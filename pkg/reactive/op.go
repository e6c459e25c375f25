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

// Package reactive provides the mutable state tree the bridge mirrors into a
// shared document: string-keyed objects and ordered lists whose mutators
// synchronously deliver a batch of raw operation records to subscribers.
//
// There are no transparent proxies in Go, so mutation goes through explicit
// methods and the operation batch is derived directly from each call. Ops
// bubble to ancestor containers with prefixed paths, which lets a subscriber
// on a parent distinguish direct changes (path length 1) from changes inside
// nested containers.
package reactive

import "strconv"

// Segment is a single part of an op path: either a named map key or a list
// index. Index is -1 for named segments.
type Segment struct {
	Name  string
	Index int
}

// NewNamedSegment creates a named segment.
func NewNamedSegment(name string) Segment {
	return Segment{Name: name, Index: -1}
}

// NewIndexedSegment creates an indexed segment.
func NewIndexedSegment(index int) Segment {
	return Segment{Index: index}
}

// IsIndex reports whether the segment addresses a list slot.
func (s Segment) IsIndex() bool { return s.Index >= 0 }

func (s Segment) String() string {
	if s.IsIndex() {
		return "[" + strconv.Itoa(s.Index) + "]"
	}
	return s.Name
}

// OpKind classifies a raw operation record.
type OpKind string

const (
	// OpSet writes a value at the path's final segment. HadPrev is false
	// for a pure insert (list growth, new map key) and true for an
	// overwrite.
	OpSet OpKind = "set"
	// OpDelete removes the value at the path's final segment.
	OpDelete OpKind = "delete"
)

// Op is one raw operation record delivered to subscribers. Path is relative
// to the subscribed container and includes the final key or index; direct
// changes have a path of length 1.
type Op struct {
	Kind    OpKind
	Path    []Segment
	Value   any
	Prev    any
	HadPrev bool
}

// prefixed returns a copy of ops with seg prepended to every path.
func prefixed(seg Segment, ops []Op) []Op {
	out := make([]Op, len(ops))
	for i, op := range ops {
		path := make([]Segment, 0, len(op.Path)+1)
		path = append(path, seg)
		path = append(path, op.Path...)
		op.Path = path
		out[i] = op
	}
	return out
}
