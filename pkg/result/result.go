// Copyright 2026 The Flowmason Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package result provides the success/failure value threaded through every
// fallible call in flowmason. Failures never cross a package boundary as a
// raw error or panic; they travel as a *Failure carrying a user-facing
// message, a machine-readable kind, structured diagnostic data, and a
// call-path trace appended bottom-up by each forwarding layer.
package result

import "fmt"

// Kind classifies a failure for programmatic handling.
type Kind string

const (
	// KindBadInput indicates malformed or missing request data.
	KindBadInput Kind = "bad_input"
	// KindNotFound indicates an unknown node, workflow, or trigger.
	KindNotFound Kind = "not_found"
	// KindConflict indicates a duplicate trigger registration.
	KindConflict Kind = "conflict"
	// KindUnauthorized indicates a missing or invalid credential.
	KindUnauthorized Kind = "unauthorized"
	// KindBadRequest indicates the upstream rejected the call in a way the
	// user can act on (e.g. an expired token), as opposed to KindInternal.
	KindBadRequest Kind = "bad_request"
	// KindInternal indicates an unexpected failure: network errors,
	// unhandled provider response shapes, bugs.
	KindInternal Kind = "internal"
)

// Failure describes why an operation did not succeed.
type Failure struct {
	// UserMessage is shown to the user. It stays stable as the failure
	// propagates outward.
	UserMessage string

	// Err is the diagnostic error string, for logs only.
	Err string

	// Kind classifies the failure.
	Kind Kind

	// Data carries structured context (e.g. the offending payload).
	// Never shown to the user.
	Data map[string]any

	// Trace is the ordered list of call-site identifiers the failure has
	// passed through, innermost first. Append-only.
	Trace []string
}

// Error implements the error interface so a Failure can be logged with
// standard tooling. It is not meant to be returned as a plain error.
func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Err)
}

// At appends a call-site identifier to the trace and returns the failure
// for chaining. Callers that forward a failure must record their own
// location exactly once.
func (f *Failure) At(site string) *Failure {
	f.Trace = append(f.Trace, site)
	return f
}

// With attaches a diagnostic key/value pair and returns the failure.
func (f *Failure) With(key string, value any) *Failure {
	if f.Data == nil {
		f.Data = make(map[string]any)
	}
	f.Data[key] = value
	return f
}

// Result is a tagged union: either a value or a *Failure, never both.
type Result[T any] struct {
	value   T
	failure *Failure
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] {
	return Result[T]{value: v}
}

// Err wraps an existing failure.
func Err[T any](f *Failure) Result[T] {
	return Result[T]{failure: f}
}

// Fail constructs a new failure at its point of detection.
func Fail[T any](kind Kind, userMessage, err string) Result[T] {
	return Result[T]{failure: &Failure{
		UserMessage: userMessage,
		Err:         err,
		Kind:        kind,
	}}
}

// Failf constructs a new failure with a formatted diagnostic string. The
// user message and the diagnostic string are deliberately separate.
func Failf[T any](kind Kind, userMessage, format string, args ...any) Result[T] {
	return Result[T]{failure: &Failure{
		UserMessage: userMessage,
		Err:         fmt.Sprintf(format, args...),
		Kind:        kind,
	}}
}

// IsErr reports whether the result holds a failure.
func (r Result[T]) IsErr() bool {
	return r.failure != nil
}

// Value returns the success value. Only meaningful when IsErr is false.
func (r Result[T]) Value() T {
	return r.value
}

// Failure returns the failure, or nil on success.
func (r Result[T]) Failure() *Failure {
	return r.failure
}

// Unpack returns both halves for callers that prefer tuple style.
func (r Result[T]) Unpack() (T, *Failure) {
	return r.value, r.failure
}

// Forward converts a failed Result[U] into a failed Result[T], appending
// the caller's site to the trace. It must only be called when r.IsErr().
func Forward[T, U any](r Result[U], site string) Result[T] {
	return Result[T]{failure: r.failure.At(site)}
}
