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

package future

import (
	"sync"

	"github.com/hashicorp/go-multierror"
)

// IndexedResult pairs a Result with the index of the input future it
// came from, the payload WhenAny/WhenN/WhenIfAny/WhenIfN resolve with.
type IndexedResult[T any] struct {
	Index  int
	Result Result[T]
}

// WhenAll waits for every future in fs and resolves with their results
// in the same order (spec.md's "vector" flavor of whenAll; fixed-arity
// tuples aren't expressible as a single generic Go function, so callers
// needing heterogeneous types use WhenAll2/WhenAll3 instead).
func WhenAll[T any](fs ...*Future[T]) *Future[[]Result[T]] {
	p := NewPromise[[]Result[T]]()
	if len(fs) == 0 {
		p.SetValue(nil)
		return p.Future()
	}

	results := make([]Result[T], len(fs))
	var mu sync.Mutex
	remaining := len(fs)

	for i, f := range fs {
		i := i
		f.state.setContinuation(func(r Result[T]) {
			mu.Lock()
			results[i] = r
			remaining--
			done := remaining == 0
			mu.Unlock()
			if done {
				p.SetValue(results)
			}
		})
	}
	return p.Future()
}

// WhenAllErr is WhenAll's strict flavor: it resolves with the plain
// value slice only if every future in fs succeeded, and otherwise
// fails with a single *multierror.Error aggregating every exception
// (not just the first), the shape callers collapsing several
// independent sub-calls into one failure usually want instead of
// WhenAll's per-slot Result.
func WhenAllErr[T any](fs ...*Future[T]) *Future[[]T] {
	return Then(WhenAll(fs...), Inline, func(r Result[[]Result[T]]) []T {
		results := r.MustGet()
		out := make([]T, len(results))
		var errs *multierror.Error
		for i, res := range results {
			if res.HasException() {
				errs = multierror.Append(errs, res.Exception())
				continue
			}
			out[i] = res.MustGet()
		}
		if err := errs.ErrorOrNil(); err != nil {
			panic(err)
		}
		return out
	})
}

// Pair is the tuple payload for WhenAll2.
type Pair[A, B any] struct {
	First  Result[A]
	Second Result[B]
}

// WhenAll2 is the heterogeneous two-future flavor of WhenAll.
func WhenAll2[A, B any](fa *Future[A], fb *Future[B]) *Future[Pair[A, B]] {
	p := NewPromise[Pair[A, B]]()
	var mu sync.Mutex
	var pair Pair[A, B]
	remaining := 2

	complete := func() {
		mu.Lock()
		remaining--
		done := remaining == 0
		mu.Unlock()
		if done {
			p.SetValue(pair)
		}
	}
	fa.state.setContinuation(func(r Result[A]) { mu.Lock(); pair.First = r; mu.Unlock(); complete() })
	fb.state.setContinuation(func(r Result[B]) { mu.Lock(); pair.Second = r; mu.Unlock(); complete() })
	return p.Future()
}

// Triple is the tuple payload for WhenAll3.
type Triple[A, B, C any] struct {
	First  Result[A]
	Second Result[B]
	Third  Result[C]
}

// WhenAll3 is the heterogeneous three-future flavor of WhenAll.
func WhenAll3[A, B, C any](fa *Future[A], fb *Future[B], fc *Future[C]) *Future[Triple[A, B, C]] {
	p := NewPromise[Triple[A, B, C]]()
	var mu sync.Mutex
	var t Triple[A, B, C]
	remaining := 3

	complete := func() {
		mu.Lock()
		remaining--
		done := remaining == 0
		mu.Unlock()
		if done {
			p.SetValue(t)
		}
	}
	fa.state.setContinuation(func(r Result[A]) { mu.Lock(); t.First = r; mu.Unlock(); complete() })
	fb.state.setContinuation(func(r Result[B]) { mu.Lock(); t.Second = r; mu.Unlock(); complete() })
	fc.state.setContinuation(func(r Result[C]) { mu.Lock(); t.Third = r; mu.Unlock(); complete() })
	return p.Future()
}

// WhenAny resolves as soon as any one of fs resolves, carrying that
// future's index and Result. The remaining futures are left to resolve
// on their own (there is no cancellation in this model).
func WhenAny[T any](fs []*Future[T]) *Future[IndexedResult[T]] {
	p := NewPromise[IndexedResult[T]]()
	var once sync.Once
	for i, f := range fs {
		i := i
		f.state.setContinuation(func(r Result[T]) {
			once.Do(func() {
				p.SetValue(IndexedResult[T]{Index: i, Result: r})
			})
		})
	}
	return p.Future()
}

// WhenN resolves once any n of fs have resolved, carrying their
// IndexedResults in completion order.
func WhenN[T any](n int, fs []*Future[T]) *Future[[]IndexedResult[T]] {
	p := NewPromise[[]IndexedResult[T]]()
	if n <= 0 {
		p.SetValue(nil)
		return p.Future()
	}
	var mu sync.Mutex
	var collected []IndexedResult[T]
	satisfied := false

	for i, f := range fs {
		i := i
		f.state.setContinuation(func(r Result[T]) {
			mu.Lock()
			if satisfied {
				mu.Unlock()
				return
			}
			collected = append(collected, IndexedResult[T]{Index: i, Result: r})
			fire := len(collected) == n
			if fire {
				satisfied = true
			}
			out := collected
			mu.Unlock()
			if fire {
				p.SetValue(out)
			}
		})
	}
	return p.Future()
}

// WhenIfAny resolves with the first future in fs whose Result satisfies
// pred. If every future resolves without satisfying pred, the returned
// future never resolves — callers should pair this with OnTimeout.
func WhenIfAny[T any](fs []*Future[T], pred func(Result[T]) bool) *Future[IndexedResult[T]] {
	p := NewPromise[IndexedResult[T]]()
	var once sync.Once
	for i, f := range fs {
		i := i
		f.state.setContinuation(func(r Result[T]) {
			if !pred(r) {
				return
			}
			once.Do(func() {
				p.SetValue(IndexedResult[T]{Index: i, Result: r})
			})
		})
	}
	return p.Future()
}

// WhenIfN resolves once n futures in fs have resolved with a Result
// satisfying pred.
func WhenIfN[T any](n int, fs []*Future[T], pred func(Result[T]) bool) *Future[[]IndexedResult[T]] {
	p := NewPromise[[]IndexedResult[T]]()
	if n <= 0 {
		p.SetValue(nil)
		return p.Future()
	}
	var mu sync.Mutex
	var collected []IndexedResult[T]
	satisfied := false

	for i, f := range fs {
		i := i
		f.state.setContinuation(func(r Result[T]) {
			if !pred(r) {
				return
			}
			mu.Lock()
			if satisfied {
				mu.Unlock()
				return
			}
			collected = append(collected, IndexedResult[T]{Index: i, Result: r})
			fire := len(collected) == n
			if fire {
				satisfied = true
			}
			out := collected
			mu.Unlock()
			if fire {
				p.SetValue(out)
			}
		})
	}
	return p.Future()
}
