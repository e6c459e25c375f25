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

import "github.com/google/uuid"

// originMarker tags every transaction a binding writes, so the deep-observe
// handler can recognize its own events and skip them. Identity is pointer
// equality; the id exists for log correlation only.
type originMarker struct {
	id    string
	label string
}

func newOriginMarker(label string) *originMarker {
	return &originMarker{id: uuid.NewString(), label: label}
}

func (o *originMarker) String() string {
	if o.label != "" {
		return "loom:" + o.label + ":" + o.id
	}
	return "loom:" + o.id
}
