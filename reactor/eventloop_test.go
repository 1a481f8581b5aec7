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

package reactor

import (
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newRunningLoop starts a loop on its own locked OS thread and returns
// it already inside Loop(), mirroring how EventLoopThreadPool.Start
// creates a worker.
func newRunningLoop(t *testing.T) (*EventLoop, func()) {
	t.Helper()
	ready := make(chan *EventLoop, 1)
	errs := make(chan error, 1)
	done := make(chan struct{})
	var closeErr error

	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		loop, err := NewEventLoop()
		if err != nil {
			errs <- err
			ready <- nil
			return
		}
		errs <- nil
		ready <- loop
		loop.Loop()
		closeErr = loop.Close()
		close(done)
	}()

	require.NoError(t, <-errs)
	loop := <-ready
	require.NotNil(t, loop)

	return loop, func() {
		loop.Quit()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("loop did not stop after Quit")
		}
		require.NoError(t, closeErr)
	}
}

func TestEventLoopRunInLoopFromOtherGoroutine(t *testing.T) {
	loop, stop := newRunningLoop(t)
	defer stop()

	done := make(chan int64, 1)
	loop.RunInLoop(func() {
		done <- gettid()
	})

	select {
	case tid := <-done:
		require.Equal(t, loop.threadID, tid)
	case <-time.After(time.Second):
		t.Fatal("RunInLoop callback never ran")
	}
}

func TestEventLoopQueueInLoopRunsLater(t *testing.T) {
	loop, stop := newRunningLoop(t)
	defer stop()

	var ran int32
	loop.QueueInLoop(func() { atomic.StoreInt32(&ran, 1) })

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&ran) == 1
	}, time.Second, time.Millisecond)
}

func TestEventLoopRunAfterFires(t *testing.T) {
	loop, stop := newRunningLoop(t)
	defer stop()

	fired := make(chan struct{})
	loop.RunAfter(10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestEventLoopRunEveryAndCancel(t *testing.T) {
	loop, stop := newRunningLoop(t)
	defer stop()

	var count int32
	var id TimerID
	loop.RunInLoop(func() {
		id = loop.RunEvery(10*time.Millisecond, func() {
			atomic.AddInt32(&count, 1)
		})
	})

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&count) >= 2
	}, time.Second, time.Millisecond)

	loop.RunInLoop(func() { loop.Cancel(id) })
	time.Sleep(20 * time.Millisecond)
	snapshot := atomic.LoadInt32(&count)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, snapshot, atomic.LoadInt32(&count))
}

func TestEventLoopAssertInLoopThreadPanicsOffThread(t *testing.T) {
	loop, stop := newRunningLoop(t)
	defer stop()

	require.Panics(t, func() {
		loop.assertInLoopThread()
	})
}
