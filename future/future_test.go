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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPromiseFutureRoundTrip(t *testing.T) {
	p := NewPromise[int]()
	f := p.Future()
	require.False(t, f.IsReady())

	p.SetValue(42)
	require.True(t, f.IsReady())

	r, err := f.Wait(0)
	require.NoError(t, err)
	require.True(t, r.HasValue())
	require.Equal(t, 42, r.MustGet())
}

func TestPromiseSetTwiceCancelsPanics(t *testing.T) {
	p := NewPromise[int]()
	p.SetValue(1)
	require.Panics(t, func() { p.SetValue(2) })
}

func TestFutureWaitTimeout(t *testing.T) {
	p := NewPromise[int]()
	f := p.Future()

	_, err := f.Wait(20 * time.Millisecond)
	require.Error(t, err)
}

func TestFutureWaitBlocksUntilSatisfied(t *testing.T) {
	p := NewPromise[string]()
	f := p.Future()

	go func() {
		time.Sleep(10 * time.Millisecond)
		p.SetValue("done")
	}()

	r, err := f.Wait(time.Second)
	require.NoError(t, err)
	require.Equal(t, "done", r.MustGet())
}

func TestThenChainsValue(t *testing.T) {
	p := NewPromise[int]()
	f := p.Future()

	doubled := Then(f, Inline, func(r Result[int]) int {
		return r.MustGet() * 2
	})
	p.SetValue(21)

	r, err := doubled.Wait(0)
	require.NoError(t, err)
	require.Equal(t, 42, r.MustGet())
}

func TestThenCatchesPanic(t *testing.T) {
	p := NewPromise[int]()
	f := p.Future()

	next := Then(f, Inline, func(r Result[int]) int {
		panic("boom")
	})
	p.SetValue(1)

	r, err := next.Wait(0)
	require.NoError(t, err)
	require.True(t, r.HasException())
}

func TestThenComposeFlattens(t *testing.T) {
	p := NewPromise[int]()
	f := p.Future()

	chained := ThenCompose(f, Inline, func(r Result[int]) *Future[string] {
		return Ready(formatCount(r.MustGet()))
	})
	p.SetValue(7)

	r, err := chained.Wait(0)
	require.NoError(t, err)
	require.Equal(t, "n=7", r.MustGet())
}

func formatCount(n int) string {
	if n == 7 {
		return "n=7"
	}
	return "n=?"
}

func TestOnTimeoutFiresWhenUnresolved(t *testing.T) {
	p := NewPromise[int]()
	f := p.Future()

	fired := make(chan struct{})
	f.OnTimeout(10*time.Millisecond, func() { close(fired) }, Inline)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timeout callback never fired")
	}
}

func TestOnTimeoutSkippedWhenResolvedFirst(t *testing.T) {
	p := NewPromise[int]()
	f := p.Future()
	p.SetValue(1)

	fired := false
	f.OnTimeout(5*time.Millisecond, func() { fired = true }, Inline)
	time.Sleep(20 * time.Millisecond)
	require.False(t, fired)
}

func TestWhenAllCollectsAllResults(t *testing.T) {
	p1, p2, p3 := NewPromise[int](), NewPromise[int](), NewPromise[int]()
	all := WhenAll(p1.Future(), p2.Future(), p3.Future())

	p1.SetValue(1)
	p2.SetValue(2)
	p3.SetValue(3)

	r, err := all.Wait(time.Second)
	require.NoError(t, err)
	results := r.MustGet()
	require.Len(t, results, 3)
	require.Equal(t, 1, results[0].MustGet())
	require.Equal(t, 2, results[1].MustGet())
	require.Equal(t, 3, results[2].MustGet())
}

func TestWhenAllEmpty(t *testing.T) {
	all := WhenAll[int]()
	r, err := all.Wait(0)
	require.NoError(t, err)
	require.Nil(t, r.MustGet())
}

func TestWhenAny(t *testing.T) {
	p1, p2 := NewPromise[int](), NewPromise[int]()
	any := WhenAny([]*Future[int]{p1.Future(), p2.Future()})

	p2.SetValue(99)

	r, err := any.Wait(time.Second)
	require.NoError(t, err)
	ir := r.MustGet()
	require.Equal(t, 1, ir.Index)
	require.Equal(t, 99, ir.Result.MustGet())
}

func TestWhenN(t *testing.T) {
	ps := []*Promise[int]{NewPromise[int](), NewPromise[int](), NewPromise[int]()}
	fs := make([]*Future[int], len(ps))
	for i, p := range ps {
		fs[i] = p.Future()
	}
	w := WhenN(2, fs)

	ps[0].SetValue(10)
	ps[2].SetValue(30)

	r, err := w.Wait(time.Second)
	require.NoError(t, err)
	require.Len(t, r.MustGet(), 2)
}

func TestWhenIfAnyFiltersByPredicate(t *testing.T) {
	p1, p2 := NewPromise[int](), NewPromise[int]()
	pred := func(r Result[int]) bool { return r.HasValue() && r.MustGet() > 5 }
	w := WhenIfAny([]*Future[int]{p1.Future(), p2.Future()}, pred)

	p1.SetValue(1) // doesn't satisfy pred
	p2.SetValue(6) // satisfies

	r, err := w.Wait(time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, r.MustGet().Index)
}

func TestResultException(t *testing.T) {
	r := Exception[int](errors.New("boom"))
	require.True(t, r.HasException())
	_, err := r.Get()
	require.EqualError(t, err, "boom")
}

func TestResultUninitialized(t *testing.T) {
	var r Result[int]
	_, err := r.Get()
	require.ErrorIs(t, err, ErrUninitializedResult)
}
