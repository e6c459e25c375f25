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
	"fmt"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const (
	// FlushModeAuto flushes at the end of every commit issued outside an
	// Update scope. Commits inside Update still coalesce into one flush.
	FlushModeAuto = "auto"
	// FlushModeManual flushes only from Update and Flush.
	FlushModeManual = "manual"
)

// Options configures a binding.
type Options struct {
	// Logger receives the binding's diagnostics. Defaults to a discard
	// logger; DefaultLogger returns a production zap-backed one.
	Logger logr.Logger `validate:"-"`
	// FlushMode selects when pending writes are committed.
	FlushMode string `validate:"oneof=auto manual"`
	// OriginLabel is an optional human-readable tag added to the origin
	// marker for log correlation. The marker itself stays process-unique.
	OriginLabel string `validate:"omitempty,max=64"`
}

// Option mutates Options.
type Option func(*Options)

// WithLogger directs the binding's diagnostics to log.
func WithLogger(log logr.Logger) Option {
	return func(o *Options) { o.Logger = log }
}

// WithManualFlush disables automatic flushing at commit boundaries.
func WithManualFlush() Option {
	return func(o *Options) { o.FlushMode = FlushModeManual }
}

// WithOriginLabel tags the binding's origin marker for log correlation.
func WithOriginLabel(label string) Option {
	return func(o *Options) { o.OriginLabel = label }
}

var validate = validator.New()

func buildOptions(opts []Option) (Options, error) {
	o := Options{
		Logger:    logr.Discard(),
		FlushMode: FlushModeAuto,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if err := validate.Struct(o); err != nil {
		return Options{}, fmt.Errorf("invalid binding options: %w", err)
	}
	return o, nil
}

// DefaultLogger returns a production-grade logger for bindings that want
// diagnostics without wiring their own sink.
func DefaultLogger() logr.Logger {
	z, err := zap.NewProduction()
	if err != nil {
		return logr.Discard()
	}
	return zapr.NewLogger(z)
}
