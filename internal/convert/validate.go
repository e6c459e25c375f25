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

// Package convert validates values on their way into the shared document and
// converts between plain Go values, reactive containers, and shared
// containers.
package convert

import (
	"fmt"
	"math"
	"reflect"

	"github.com/loom-run/loom/internal/leaf"
	"github.com/loom-run/loom/internal/syncerror"
	"github.com/loom-run/loom/internal/syncstate"
	"github.com/loom-run/loom/pkg/crdt"
	"github.com/loom-run/loom/pkg/reactive"
)

// ValidateDeep checks that v (and everything nested inside it) may enter the
// shared document. It walks depth first, failing with a distinct error kind
// per violation; the path in the error locates the offending value. A
// reactive container that is already a registered controller is accepted
// without recursion — its contents mirror the shared document and were
// validated on the way in.
func ValidateDeep(v any, st *syncstate.Store) error {
	return validate(v, "", st)
}

func validate(v any, path string, st *syncstate.Store) error {
	switch t := v.(type) {
	case nil, bool, string:
		return nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return syncerror.NewValidationError(syncerror.KindNonFinite, t, path)
		}
		return nil
	case float32:
		return validate(float64(t), path, st)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return nil
	case complex64, complex128:
		return syncerror.NewValidationError(syncerror.KindComplex, t, path)
	case *reactive.Object:
		if _, ok := st.ContainerFor(t); ok {
			return nil
		}
		for _, k := range t.Keys() {
			if err := validate(t.Get(k), joinPathAndFieldName(path, k), st); err != nil {
				return err
			}
		}
		return nil
	case *reactive.List:
		if _, ok := st.ContainerFor(t); ok {
			return nil
		}
		for i := 0; i < t.Len(); i++ {
			if err := validate(t.Get(i), fmt.Sprintf("%s[%d]", path, i), st); err != nil {
				return err
			}
		}
		return nil
	case *leaf.Handle:
		if t.Text().Attached() {
			return syncerror.NewValidationError(syncerror.KindReparenting, t, path)
		}
		return nil
	case crdt.Container:
		if t.Attached() {
			return syncerror.NewValidationError(syncerror.KindReparenting, t, path)
		}
		return nil
	case map[string]any:
		for k, item := range t {
			if err := validate(item, joinPathAndFieldName(path, k), st); err != nil {
				return err
			}
		}
		return nil
	case []any:
		for i, item := range t {
			if err := validate(item, fmt.Sprintf("%s[%d]", path, i), st); err != nil {
				return err
			}
		}
		return nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Func:
		return syncerror.NewValidationError(syncerror.KindFunc, v, path)
	case reflect.Chan:
		return syncerror.NewValidationError(syncerror.KindChan, v, path)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return syncerror.NewValidationError(syncerror.KindNonStringKey, v, path)
		}
		iter := rv.MapRange()
		for iter.Next() {
			p := joinPathAndFieldName(path, iter.Key().String())
			if err := validate(iter.Value().Interface(), p, st); err != nil {
				return err
			}
		}
		return nil
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if err := validate(rv.Index(i).Interface(), fmt.Sprintf("%s[%d]", path, i), st); err != nil {
				return err
			}
		}
		return nil
	case reflect.Bool, reflect.String:
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return syncerror.NewValidationError(syncerror.KindNonFinite, v, path)
		}
		return nil
	default:
		return syncerror.NewValidationError(syncerror.KindNonPlain, v, path)
	}
}

// joinPathAndFieldName builds a dotted field path.
func joinPathAndFieldName(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}
