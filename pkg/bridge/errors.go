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

import "github.com/loom-run/loom/internal/syncerror"

// The bridge surfaces three error kinds. They are defined in an internal
// package so every subsystem can raise them; the aliases below make this
// package the only import a caller needs.

// ValidationError reports a value that may not enter the shared document.
// It is returned synchronously from the mutating call after the reactive
// container has been rolled back.
type ValidationError = syncerror.ValidationError

// ValidationKind identifies which rule a value violated.
type ValidationKind = syncerror.ValidationKind

const (
	KindFunc         = syncerror.KindFunc
	KindChan         = syncerror.KindChan
	KindComplex      = syncerror.KindComplex
	KindNonFinite    = syncerror.KindNonFinite
	KindNonStringKey = syncerror.KindNonStringKey
	KindNonPlain     = syncerror.KindNonPlain
	KindReparenting  = syncerror.KindReparenting
)

// TransactionError wraps a failure from an apply bucket inside the flush
// transaction.
type TransactionError = syncerror.TransactionError

// TransactionBucket names the apply bucket that failed.
type TransactionBucket = syncerror.TransactionBucket

const (
	BucketMapDeletes  = syncerror.BucketMapDeletes
	BucketMapSets     = syncerror.BucketMapSets
	BucketSequenceOps = syncerror.BucketSequenceOps
)

// ReconciliationError indicates shared state could not be materialized into
// the reactive tree.
type ReconciliationError = syncerror.ReconciliationError

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool { return syncerror.IsValidation(err) }
