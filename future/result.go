// Copyright (c) 2022 The rcproxy Authors
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

// Package future is the future/promise combinator library: shared state
// with then/timeout/when-all/when-any/when-N, modeled on lrpc's
// future/result.h and future/future.h.
//
// Go methods cannot introduce type parameters beyond their receiver's,
// so the C++ original's single overloaded Future<T>::then (resolved by
// SFINAE on whether the callback returns U or Future<U>) becomes two
// package-level generic functions here: Then and ThenCompose.
package future

import "fmt"

// resultState tags which of {empty, value, exception} a Result holds.
type resultState uint8

const (
	stateNone resultState = iota
	stateValue
	stateException
)

// Result is a tagged union of {empty, value, exception}, the payload a
// Future's shared state carries.
type Result[T any] struct {
	state resultState
	value T
	err   error
}

// Value wraps v as a ready Result.
func Value[T any](v T) Result[T] { return Result[T]{state: stateValue, value: v} }

// Exception wraps err as a failed Result.
func Exception[T any](err error) Result[T] {
	if err == nil {
		panic("future: Exception called with nil error")
	}
	return Result[T]{state: stateException, err: err}
}

// HasValue reports whether the Result holds a value.
func (r Result[T]) HasValue() bool { return r.state == stateValue }

// HasException reports whether the Result holds an exception.
func (r Result[T]) HasException() bool { return r.state == stateException }

// ErrUninitializedResult is returned by Get when the Result is still
// empty — the None tag from spec.md §3.
var ErrUninitializedResult = fmt.Errorf("future: uninitialized result")

// Get unwraps the Result: returns the value, or the zero value and the
// stored exception (ErrUninitializedResult if still empty).
func (r Result[T]) Get() (T, error) {
	switch r.state {
	case stateValue:
		return r.value, nil
	case stateException:
		var zero T
		return zero, r.err
	default:
		var zero T
		return zero, ErrUninitializedResult
	}
}

// MustGet is Get but panics on error; useful in tests and in callbacks
// that have already checked HasException.
func (r Result[T]) MustGet() T {
	v, err := r.Get()
	if err != nil {
		panic(err)
	}
	return v
}

// Exception returns the stored error, or nil if the Result isn't in the
// exception state.
func (r Result[T]) Exception() error {
	if r.state == stateException {
		return r.err
	}
	return nil
}
