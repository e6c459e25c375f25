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

// Package syncstate holds the shared bookkeeping of one binding: the
// bijection between shared containers and their reactive controllers, the
// subscription registry, the recursion-safe reconciling flag, and the
// per-pass delta-skip set.
package syncstate

import (
	"fmt"

	"github.com/go-logr/logr"
	"go.uber.org/multierr"

	"github.com/loom-run/loom/pkg/crdt"
	"github.com/loom-run/loom/pkg/reactive"
)

// ReservedKeyPrefix marks controller keys that belong to the bridge's
// internal machinery. The write path drops operations on such keys and the
// reconciler excludes them from the key union. The spelling is a
// compatibility token: writer and reconciler must agree on it.
const ReservedKeyPrefix = "__loom_"

// IsReservedKey reports whether key carries the internal prefix.
func IsReservedKey(key string) bool {
	return len(key) >= len(ReservedKeyPrefix) && key[:len(ReservedKeyPrefix)] == ReservedKeyPrefix
}

// Store is the synchronization state of one binding. Caches are keyed by
// identity; entries are evicted explicitly when the reconciler removes a
// subtree or the binding is disposed.
type Store struct {
	log logr.Logger

	containerToController map[crdt.Container]reactive.Container
	controllerToContainer map[reactive.Container]crdt.Container

	containerToUnsubscribe map[crdt.Container]func()
	disposables            map[*func()]bool

	reconciling bool

	deltaApplied map[*crdt.List]bool
}

// New creates an empty store logging through log.
func New(log logr.Logger) *Store {
	return &Store{
		log:                    log,
		containerToController:  make(map[crdt.Container]reactive.Container),
		controllerToContainer:  make(map[reactive.Container]crdt.Container),
		containerToUnsubscribe: make(map[crdt.Container]func()),
		disposables:            make(map[*func()]bool),
	}
}

// Register records the (container, controller) pair in both directions.
// Registering a container twice with different controllers is a programming
// error; the bijection keeps exactly one controller per container, so the
// prior pair is evicted first.
func (s *Store) Register(container crdt.Container, controller reactive.Container) {
	if prior, ok := s.containerToController[container]; ok && prior != controller {
		delete(s.controllerToContainer, prior)
	}
	s.containerToController[container] = controller
	s.controllerToContainer[controller] = container
}

// ControllerFor returns the controller cached for container.
func (s *Store) ControllerFor(container crdt.Container) (reactive.Container, bool) {
	c, ok := s.containerToController[container]
	return c, ok
}

// ContainerFor returns the container cached for controller.
func (s *Store) ContainerFor(controller reactive.Container) (crdt.Container, bool) {
	c, ok := s.controllerToContainer[controller]
	return c, ok
}

// Evict removes the pair for container from both caches and runs its
// registered unsubscribe.
func (s *Store) Evict(container crdt.Container) {
	if controller, ok := s.containerToController[container]; ok {
		delete(s.controllerToContainer, controller)
	}
	delete(s.containerToController, container)
	s.Unsubscribe(container)
}

// RegisterSubscription records the unsubscribe function for container's
// controller subscription, cleaning up any prior one first.
func (s *Store) RegisterSubscription(container crdt.Container, unsubscribe func()) {
	s.Unsubscribe(container)
	s.containerToUnsubscribe[container] = unsubscribe
}

// Unsubscribe runs and forgets container's subscription, if any.
func (s *Store) Unsubscribe(container crdt.Container) {
	u, ok := s.containerToUnsubscribe[container]
	if !ok {
		return
	}
	delete(s.containerToUnsubscribe, container)
	safeCall(u, &s.log)
}

// AddDisposable records a teardown callback to run at DisposeAll.
func (s *Store) AddDisposable(fn func()) {
	p := &fn
	s.disposables[p] = true
}

// DisposeAll tears everything down: every per-container subscription and
// every registered disposable. Teardown is best effort — one failing
// callback must not block the others, so panics are collected and logged
// rather than propagated.
func (s *Store) DisposeAll() {
	var errs error
	for container, u := range s.containerToUnsubscribe {
		if err := safeCall(u, nil); err != nil {
			errs = multierr.Append(errs, err)
		}
		delete(s.containerToUnsubscribe, container)
	}
	for p := range s.disposables {
		if err := safeCall(*p, nil); err != nil {
			errs = multierr.Append(errs, err)
		}
		delete(s.disposables, p)
	}
	s.containerToController = make(map[crdt.Container]reactive.Container)
	s.controllerToContainer = make(map[reactive.Container]crdt.Container)
	if errs != nil {
		s.log.Info("teardown completed with errors", "error", errs.Error())
	}
}

// IsReconciling reports whether a reconcile pass holds the lock.
func (s *Store) IsReconciling() bool { return s.reconciling }

// WithReconcilingLock runs fn with the reconciling flag set, restoring the
// previous value afterwards. Nested calls observe the flag already set and
// still restore to the prior value, not to false, so the guard is safe
// under recursion.
func (s *Store) WithReconcilingLock(fn func()) {
	prev := s.reconciling
	s.reconciling = true
	defer func() { s.reconciling = prev }()
	fn()
}

// MarkDeltaApplied records that list received a granular delta in the
// current remote pass, excluding it from structural reconciliation.
func (s *Store) MarkDeltaApplied(list *crdt.List) {
	if s.deltaApplied == nil {
		s.deltaApplied = make(map[*crdt.List]bool)
	}
	s.deltaApplied[list] = true
}

// HasDeltaApplied reports whether list is excluded from structural
// reconciliation in the current pass.
func (s *Store) HasDeltaApplied(list *crdt.List) bool {
	return s.deltaApplied[list]
}

// ClearDeltaApplied resets the per-pass delta-skip set.
func (s *Store) ClearDeltaApplied() {
	s.deltaApplied = nil
}

// safeCall invokes fn, converting a panic into an error. When log is
// non-nil the error is also logged immediately.
func safeCall(fn func(), log *logr.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recoveredError(r)
			if log != nil {
				log.Info("unsubscribe panicked", "error", err.Error())
			}
		}
	}()
	fn()
	return nil
}

func recoveredError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("%v", r)
}
