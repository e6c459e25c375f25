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

package bridge

import (
	"github.com/loom-run/loom/internal/convert"
	"github.com/loom-run/loom/internal/planner"
	"github.com/loom-run/loom/pkg/crdt"
	"github.com/loom-run/loom/pkg/reactive"
)

// mapOpsHandler routes one map controller's local commits into the write
// scheduler. Commits observed while the reconciling lock is held are the
// bridge's own writes and are not reflected back.
func (b *Binding) mapOpsHandler(m *crdt.Map, obj *reactive.Object) reactive.OpsHandler {
	return func(ops []reactive.Op) error {
		if b.st.IsReconciling() {
			return nil
		}

		// Nested changes are handled by the nested controller's own
		// subscription; internal keys never leave the bridge.
		direct := make([]reactive.Op, 0, len(ops))
		for _, op := range ops {
			if len(op.Path) != 1 || isReservedKey(op.Path[0].Name) {
				continue
			}
			direct = append(direct, op)
		}
		if len(direct) == 0 {
			return nil
		}

		plan := planner.PlanMap(direct)
		for _, key := range plan.Sets.Keys() {
			value, _ := plan.Sets.Get(key)
			if err := convert.ValidateDeep(value, b.st); err != nil {
				b.rollbackMap(obj, direct)
				return err
			}
		}

		for _, key := range plan.Sets.Keys() {
			value, _ := plan.Sets.Get(key)
			b.sched.EnqueueMapSet(m, key, value, b.mapUpgradeCallback(obj, key))
		}
		for _, key := range plan.Deletes.Keys() {
			b.sched.EnqueueMapDelete(m, key)
		}
		return b.afterCommit()
	}
}

// rollbackMap restores the controller to its pre-commit state from the raw
// op records: previous values are reinstated, keys that had none are
// deleted. Runs under the reconciling lock so the restoration is not
// planned again.
func (b *Binding) rollbackMap(obj *reactive.Object, ops []reactive.Op) {
	b.st.WithReconcilingLock(func() {
		for i := len(ops) - 1; i >= 0; i-- {
			op := ops[i]
			key := op.Path[0].Name
			if op.HadPrev {
				if err := obj.Set(key, op.Prev); err != nil {
					b.log.Error(err, "rollback restore failed", "key", key)
				}
				continue
			}
			if err := obj.Delete(key); err != nil {
				b.log.Error(err, "rollback delete failed", "key", key)
			}
		}
	})
}

// listOpsHandler routes one list controller's local commits into the write
// scheduler. The shared list's current length is the planner's baseline for
// telling in-bounds replaces from pure inserts.
func (b *Binding) listOpsHandler(l *crdt.List, list *reactive.List) reactive.OpsHandler {
	return func(ops []reactive.Op) error {
		if b.st.IsReconciling() {
			return nil
		}

		direct := make([]reactive.Op, 0, len(ops))
		for _, op := range ops {
			if len(op.Path) != 1 || !op.Path[0].IsIndex() {
				continue
			}
			direct = append(direct, op)
		}
		if len(direct) == 0 {
			return nil
		}

		planned := planner.PlanList(direct, l.Len())
		for _, op := range planned {
			if op.Kind == planner.ListDelete {
				continue
			}
			if err := convert.ValidateDeep(op.Value, b.st); err != nil {
				b.rollbackList(l, list)
				return err
			}
		}

		for _, op := range planned {
			switch op.Kind {
			case planner.ListSet:
				b.sched.EnqueueListSet(l, op.Index, op.Value, nil)
			case planner.ListDelete:
				b.sched.EnqueueListDelete(l, op.Index)
			case planner.ListReplace:
				b.sched.EnqueueListReplace(l, op.Index, op.Value, nil)
			}
		}
		return b.afterCommit()
	}
}

// rollbackList resynchronizes the controller from the shared list, the
// source of truth: per-op restoration is fragile once indices have shifted,
// so the whole contents are splice-replaced with a materialized snapshot.
func (b *Binding) rollbackList(l *crdt.List, list *reactive.List) {
	b.st.WithReconcilingLock(func() {
		snapshot := l.ToSlice()
		for i, v := range snapshot {
			snapshot[i] = b.materializeValue(v)
		}
		if _, err := list.Splice(0, list.Len(), snapshot...); err != nil {
			b.log.Error(err, "rollback resync failed")
		}
	})
}
