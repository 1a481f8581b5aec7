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
	"time"

	lerrors "github.com/jiaweihh/lrpc/pkg/errors"
)

// Executor hands a callback off to run somewhere else — normally an
// *reactor.EventLoop, so a future's continuation resumes on the loop
// that created the promise rather than on whichever thread satisfies it.
type Executor interface {
	Schedule(fn func())
	ScheduleLater(d time.Duration, fn func())
}

// inlineExecutor runs Schedule's fn synchronously, matching a bare
// callback registered directly on the shared state; ScheduleLater runs
// fn on a timer goroutine once d has elapsed.
type inlineExecutor struct{}

func (inlineExecutor) Schedule(fn func())                       { fn() }
func (inlineExecutor) ScheduleLater(d time.Duration, fn func()) { time.AfterFunc(d, fn) }

// Inline is the zero-hop Executor: continuations run wherever
// SetValue/SetException happened to be called from.
var Inline Executor = inlineExecutor{}

// sharedState is the promise/future pair's common cell.
type sharedState[T any] struct {
	mu        sync.Mutex
	cond      *sync.Cond
	done      bool
	result    Result[T]
	retrieved bool

	continuation func(Result[T])
	timeoutFired bool
	timeoutCB    func()
}

func newSharedState[T any]() *sharedState[T] {
	s := &sharedState[T]{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *sharedState[T]) setResult(r Result[T]) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		panic(lerrors.ErrPromiseAlreadySatisfied)
	}
	s.result = r
	s.done = true
	cont := s.continuation
	s.continuation = nil
	s.cond.Broadcast()
	s.mu.Unlock()

	if cont != nil {
		cont(r)
	}
}

// Promise is the write end of a future/promise pair. Exactly one of
// SetValue/SetException must be called exactly once.
type Promise[T any] struct {
	state *sharedState[T]
}

// NewPromise creates an unsatisfied Promise.
func NewPromise[T any]() *Promise[T] {
	return &Promise[T]{state: newSharedState[T]()}
}

// Future returns the read end bound to this promise.
func (p *Promise[T]) Future() *Future[T] {
	return &Future[T]{state: p.state}
}

// SetValue satisfies the promise with a value.
func (p *Promise[T]) SetValue(v T) { p.state.setResult(Value(v)) }

// SetException satisfies the promise with an error.
func (p *Promise[T]) SetException(err error) { p.state.setResult(Exception[T](err)) }

// Future is the read end of a future/promise pair.
type Future[T any] struct {
	state *sharedState[T]
}

// Ready returns a Future already satisfied with v.
func Ready[T any](v T) *Future[T] {
	p := NewPromise[T]()
	p.SetValue(v)
	return p.Future()
}

// Failed returns a Future already satisfied with err.
func Failed[T any](err error) *Future[T] {
	p := NewPromise[T]()
	p.SetException(err)
	return p.Future()
}

// IsReady reports whether the future already has a result.
func (f *Future[T]) IsReady() bool {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	return f.state.done
}

// Wait blocks the calling goroutine until the future is satisfied or
// timeout elapses (<=0 means wait forever), returning the Result and
// lerrors.ErrFutureTimeout on timeout.
func (f *Future[T]) Wait(timeout time.Duration) (Result[T], error) {
	s := f.state
	s.mu.Lock()
	defer s.mu.Unlock()

	if timeout <= 0 {
		for !s.done {
			s.cond.Wait()
		}
		return s.result, nil
	}

	deadline := time.Now().Add(timeout)
	for !s.done {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Result[T]{}, lerrors.ErrFutureTimeout
		}
		// sync.Cond has no timed wait; a timer nudges the broadcast so
		// Wait still returns promptly on timeout.
		timer := time.AfterFunc(remaining, func() {
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
		})
		s.cond.Wait()
		timer.Stop()
	}
	return s.result, nil
}

// OnTimeout arms a one-shot timer on exec: if the future is not yet
// satisfied when it fires, cb runs (via exec) exactly once. Harmless
// (cb never runs) if the future resolves first.
func (f *Future[T]) OnTimeout(d time.Duration, cb func(), exec Executor) {
	s := f.state
	exec.ScheduleLater(d, func() {
		s.mu.Lock()
		fire := !s.done && !s.timeoutFired
		if fire {
			s.timeoutFired = true
		}
		s.mu.Unlock()
		if fire {
			cb()
		}
	})
}

// setContinuation registers fn to run (inline, from whichever goroutine
// calls setResult) once the future resolves, or runs it immediately if
// already resolved. Only one continuation may be registered.
func (s *sharedState[T]) setContinuation(fn func(Result[T])) {
	s.mu.Lock()
	if s.done {
		r := s.result
		s.mu.Unlock()
		fn(r)
		return
	}
	s.continuation = fn
	s.mu.Unlock()
}

// Then registers fn to run once f resolves, on exec, producing a new
// Future[U] satisfied with fn's return value. Panics inside fn are
// caught and turned into the resulting future's exception.
func Then[T, U any](f *Future[T], exec Executor, fn func(Result[T]) U) *Future[U] {
	p := NewPromise[U]()
	f.state.setContinuation(func(r Result[T]) {
		exec.Schedule(func() {
			satisfyFromCall(p, func() U { return fn(r) })
		})
	})
	return p.Future()
}

// ThenCompose is Then's flattening counterpart: fn itself returns a
// Future[U], and the result future adopts whatever that inner future
// resolves to (the Future<Future<U>> collapse spec.md's combinator
// section calls for).
func ThenCompose[T, U any](f *Future[T], exec Executor, fn func(Result[T]) *Future[U]) *Future[U] {
	p := NewPromise[U]()
	f.state.setContinuation(func(r Result[T]) {
		exec.Schedule(func() {
			inner, err := callCompose(fn, r)
			if err != nil {
				p.SetException(err)
				return
			}
			inner.state.setContinuation(func(ir Result[U]) {
				if ir.HasException() {
					p.SetException(ir.Exception())
				} else {
					v, _ := ir.Get()
					p.SetValue(v)
				}
			})
		})
	})
	return p.Future()
}

func satisfyFromCall[U any](p *Promise[U], call func() U) {
	defer func() {
		if r := recover(); r != nil {
			p.SetException(panicToError(r))
		}
	}()
	p.SetValue(call())
}

func callCompose[T, U any](fn func(Result[T]) *Future[U], r Result[T]) (fut *Future[U], err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = panicToError(rec)
		}
	}()
	return fn(r), nil
}

func panicToError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return &panicError{r}
}

type panicError struct{ v any }

func (p *panicError) Error() string { return "future: callback panicked: " + formatPanic(p.v) }

func formatPanic(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return "unknown panic value"
}
