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

// Package planner categorizes one commit's worth of raw reactive operations
// into the mutations the write scheduler understands. The caller has already
// filtered the batch down to direct (path length 1) operations on
// non-reserved keys.
package planner

import (
	"github.com/elliotchance/orderedmap/v2"

	"github.com/loom-run/loom/pkg/reactive"
)

// MapPlan is the net effect of one commit on a map controller: last write
// per key wins within the batch, and a set cancels an earlier delete of the
// same key (and vice versa).
type MapPlan struct {
	Sets    *orderedmap.OrderedMap[string, any]
	Deletes *orderedmap.OrderedMap[string, struct{}]
}

// PlanMap folds a commit's raw ops into a MapPlan.
func PlanMap(ops []reactive.Op) *MapPlan {
	plan := &MapPlan{
		Sets:    orderedmap.NewOrderedMap[string, any](),
		Deletes: orderedmap.NewOrderedMap[string, struct{}](),
	}
	for _, op := range ops {
		key := op.Path[0].Name
		switch op.Kind {
		case reactive.OpSet:
			plan.Sets.Set(key, op.Value)
			plan.Deletes.Delete(key)
		case reactive.OpDelete:
			plan.Deletes.Set(key, struct{}{})
			plan.Sets.Delete(key)
		}
	}
	return plan
}

// IsEmpty reports whether the plan carries no work.
func (p *MapPlan) IsEmpty() bool {
	return p.Sets.Len() == 0 && p.Deletes.Len() == 0
}

// ListOpKind classifies a planned list mutation.
type ListOpKind int

const (
	// ListSet is a pure insert at an index.
	ListSet ListOpKind = iota
	// ListDelete removes the item at an index.
	ListDelete
	// ListReplace is a delete-then-insert at an index.
	ListReplace
)

// ListOp is one planned list mutation, in commit order. The scheduler stamps
// each with a sequence number at enqueue time; merging happens there, not
// here.
type ListOp struct {
	Kind  ListOpKind
	Index int
	Value any
}

// PlanList maps a commit's raw list ops onto planned mutations. The shared
// sequence's current length is the baseline distinguishing an in-bounds
// overwrite — which the sequence can only express as delete-then-insert,
// hence a replace — from a pure insert: an op that overwrote a previous
// value inside the baseline is a replace, everything else written is an
// insert.
func PlanList(ops []reactive.Op, baselineLen int) []ListOp {
	planned := make([]ListOp, 0, len(ops))
	for _, op := range ops {
		index := op.Path[0].Index
		switch op.Kind {
		case reactive.OpSet:
			if op.HadPrev && index < baselineLen {
				planned = append(planned, ListOp{Kind: ListReplace, Index: index, Value: op.Value})
				continue
			}
			planned = append(planned, ListOp{Kind: ListSet, Index: index, Value: op.Value})
		case reactive.OpDelete:
			planned = append(planned, ListOp{Kind: ListDelete, Index: index})
		}
	}
	return planned
}
