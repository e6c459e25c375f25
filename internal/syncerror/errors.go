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

// Package syncerror defines the error taxonomy surfaced across the bridge
// boundary. There are three top-level kinds: validation errors raised
// synchronously on the mutating call path, transaction errors wrapping a
// failed apply bucket, and reconciliation errors raised while materializing
// shared state back into the reactive tree.
package syncerror

import (
	"errors"
	"fmt"
)

// ValidationKind identifies which rule a value violated. The set is
// exhaustive over the value domain: a switch over all kinds with no default
// case should cover every rejection the validator can produce.
type ValidationKind string

const (
	// KindFunc rejects function values anywhere in the tree.
	KindFunc ValidationKind = "func"
	// KindChan rejects channel values anywhere in the tree.
	KindChan ValidationKind = "chan"
	// KindComplex rejects complex numbers anywhere in the tree.
	KindComplex ValidationKind = "complex"
	// KindNonFinite rejects NaN and ±Inf floats.
	KindNonFinite ValidationKind = "non-finite"
	// KindNonStringKey rejects maps whose key type is not string.
	KindNonStringKey ValidationKind = "non-string-key"
	// KindNonPlain rejects every other unsupported value: structs,
	// pointers, time.Time, and anything else that is neither a permitted
	// primitive nor a plain map/slice shape.
	KindNonPlain ValidationKind = "non-plain"
	// KindReparenting rejects a shared container that already has a parent.
	KindReparenting ValidationKind = "reparenting"
)

// ValidationError reports a value that may not enter the shared document.
// It is returned synchronously from the mutating call, after the reactive
// container has been rolled back to its previous state.
type ValidationError struct {
	Kind  ValidationKind
	Value any
	Path  string
	Cause error
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid value (%s): %v", e.Kind, e.Value)
	}
	return fmt.Sprintf("invalid value at %s (%s): %v", e.Path, e.Kind, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Cause }

// NewValidationError builds a ValidationError for the given kind and value.
func NewValidationError(kind ValidationKind, value any, path string) *ValidationError {
	return &ValidationError{Kind: kind, Value: value, Path: path}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// TransactionBucket names the apply bucket that failed inside the shared
// document transaction.
type TransactionBucket string

const (
	BucketMapDeletes   TransactionBucket = "map-deletes"
	BucketMapSets      TransactionBucket = "map-sets"
	BucketSequenceOps  TransactionBucket = "sequence-operations"
	BucketBootstrapSet TransactionBucket = "bootstrap"
)

// TransactionError wraps a failure from one of the apply buckets. The shared
// document unwinds its own transaction state; the reactive side is re-synced
// by the post-recovery finalize reconcile.
type TransactionError struct {
	Bucket TransactionBucket
	Cause  error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction failed in %s bucket: %v", e.Bucket, e.Cause)
}

func (e *TransactionError) Unwrap() error { return e.Cause }

// NewTransactionError wraps cause with the bucket it came from.
func NewTransactionError(bucket TransactionBucket, cause error) *TransactionError {
	return &TransactionError{Bucket: bucket, Cause: cause}
}

// ReconcileTarget names the container variant a reconcile pass failed on.
type ReconcileTarget string

const (
	ReconcileMap      ReconcileTarget = "map"
	ReconcileSequence ReconcileTarget = "sequence"
)

// ReconciliationError indicates the bridge could not materialize shared
// state into the reactive tree. No local recovery is attempted; this points
// at corruption or a container-layer bug.
type ReconciliationError struct {
	Target    ReconcileTarget
	Container any
	Cause     error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconciliation of %s failed: %v", e.Target, e.Cause)
}

func (e *ReconciliationError) Unwrap() error { return e.Cause }

// NewReconciliationError wraps cause with the container it occurred on.
func NewReconciliationError(target ReconcileTarget, container any, cause error) *ReconciliationError {
	return &ReconciliationError{Target: target, Container: container, Cause: cause}
}
