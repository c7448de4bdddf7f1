// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cor implements the chain-of-responsibility framework used by the
// ingestion workflows. A Chain runs Commands in order over a shared Context;
// the output of one command becomes the input of the next.
package cor

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	// CtxIn is the default key for a command's primary input. BaseChain fills
	// it with the previous command's output.
	CtxIn = "__IN__"
	// CtxOut is the default key for a command's primary output.
	CtxOut = "__OUT__"
)

// Context is the state shared by the commands of one chain execution.
type Context interface {
	// SetContext sets the Go context carrying cancellation and trace data.
	SetContext(context context.Context)
	// GetContext returns the Go context.
	GetContext() context.Context

	// Add stores a value and returns the Context for chaining.
	Add(key string, value any) Context
	// Get returns the value stored under key, or nil.
	Get(key string) any
	// Remove deletes the value stored under key.
	Remove(key string)

	// AddError records a failure, keyed by the command that produced it.
	AddError(key string, err error)
	// GetErrors returns every recorded failure.
	GetErrors() map[string]error
	// HasErrors reports whether any failure was recorded.
	HasErrors() bool

	// AddTempFile tracks a file or directory to delete on Close.
	AddTempFile(file string)
	// GetTempFiles returns the tracked paths.
	GetTempFiles() []string
	// Close removes every tracked temp path. Defer it right after creating
	// the context.
	Close()
}

// Executable is anything that runs against a Context.
type Executable interface {
	Execute(context Context)
}

// Command is a named, instrumented step of a chain.
type Command interface {
	Executable

	GetName() string
	GetInputParam() string
	GetOutputParam() string

	// IsExecutable is checked by the chain before Execute.
	IsExecutable(context Context) bool

	GetTracer() trace.Tracer
	GetMeter() metric.Meter
	GetSuccessCounter() metric.Int64Counter
	GetErrorCounter() metric.Int64Counter
}

// Chain is a Command made of other commands.
type Chain interface {
	Command

	// ContinueOnFailure lets later commands run after an earlier one failed.
	ContinueOnFailure(bool) Chain
	// AddCommand appends a command to the execution order.
	AddCommand(command Command) Chain
}

// Get returns the value under key as T. The boolean is false when the key is
// absent or holds another type.
func Get[T any](c Context, key string) (T, bool) {
	v, ok := c.Get(key).(T)
	return v, ok
}
