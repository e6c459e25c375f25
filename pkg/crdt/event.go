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

// Event is a change notification for one container within a transaction.
type Event interface {
	Target() Container
}

// ChangeAction classifies a map key change.
type ChangeAction string

const (
	ActionAdd    ChangeAction = "add"
	ActionUpdate ChangeAction = "update"
	ActionDelete ChangeAction = "delete"
)

// MapChange describes what happened to one key during a transaction.
type MapChange struct {
	Action   ChangeAction
	OldValue any
}

// MapEvent carries the composed per-key change set of one map for one
// transaction. A key set and deleted in the same transaction nets out to no
// change; a key deleted and re-set nets out to an update with the original
// old value.
type MapEvent struct {
	target *Map
	// Keys maps each changed key to its net change.
	Keys map[string]MapChange
}

// Target implements Event.
func (e *MapEvent) Target() Container { return e.target }

// Map returns the typed event target.
func (e *MapEvent) Map() *Map { return e.target }

// DeltaOp is one record of a list delta. Exactly one of the three fields is
// meaningful: Retain advances the position cursor, Delete removes that many
// items at the cursor, Insert splices items in at the cursor.
type DeltaOp struct {
	Retain int
	Delete int
	Insert []any
}

// ListEvent carries the delta of a single list mutation. A transaction that
// touches one list several times produces several ListEvents for it, in
// mutation order.
type ListEvent struct {
	target *List
	Delta  []DeltaOp
}

// Target implements Event.
func (e *ListEvent) Target() Container { return e.target }

// List returns the typed event target.
func (e *ListEvent) List() *List { return e.target }

// Txn is the transaction context passed to observers. Origin carries the
// caller-supplied tag; the bridge uses it to recognize (and skip) events
// produced by its own writes.
type Txn struct {
	doc    *Doc
	Origin any

	events    []Event
	mapEvents map[*Map]*MapEvent
}

// addMapChange folds one key mutation into the map's composed event.
func (t *Txn) addMapChange(m *Map, key string, old any, had, deleted bool) {
	if t.mapEvents == nil {
		t.mapEvents = make(map[*Map]*MapEvent)
	}
	ev, ok := t.mapEvents[m]
	if !ok {
		ev = &MapEvent{target: m, Keys: make(map[string]MapChange)}
		t.mapEvents[m] = ev
		t.events = append(t.events, ev)
	}

	prior, seen := ev.Keys[key]
	if !seen {
		switch {
		case deleted:
			ev.Keys[key] = MapChange{Action: ActionDelete, OldValue: old}
		case had:
			ev.Keys[key] = MapChange{Action: ActionUpdate, OldValue: old}
		default:
			ev.Keys[key] = MapChange{Action: ActionAdd}
		}
		return
	}

	// Compose with the earlier change, keeping the original old value.
	if deleted {
		if prior.Action == ActionAdd {
			delete(ev.Keys, key)
			return
		}
		ev.Keys[key] = MapChange{Action: ActionDelete, OldValue: prior.OldValue}
		return
	}
	if prior.Action == ActionDelete {
		ev.Keys[key] = MapChange{Action: ActionUpdate, OldValue: prior.OldValue}
		return
	}
	ev.Keys[key] = prior
}

// addListDelta records one list mutation as its own event.
func (t *Txn) addListDelta(l *List, delta []DeltaOp) {
	t.events = append(t.events, &ListEvent{target: l, Delta: delta})
}
