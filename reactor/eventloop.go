// Copyright (c) 2022 The rcproxy Authors
// Copyright (c) 2019 Andy Pan
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

//go:build linux || freebsd || dragonfly || darwin
// +build linux freebsd dragonfly darwin

package reactor

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	lerrors "github.com/jiaweihh/lrpc/pkg/errors"
	"github.com/jiaweihh/lrpc/pkg/logging"
)

// connIDSeq hands out process-wide unique connection ids, mirroring
// EventLoop::s_numCreatedConnection in the original.
var connIDSeq int64

// NextConnID returns the next process-wide connection id.
func NextConnID() int64 { return atomic.AddInt64(&connIDSeq, 1) }

// loopSeq assigns each EventLoop a small sequence number, returned by
// ID() and used in log lines.
var loopSeq int64

// EventLoop is a single-threaded event loop: exactly one per OS thread
// for its entire life. All Channels, Timers and TcpConnections it owns
// must only be touched from that thread; cross-thread requests come in
// through RunInLoop/QueueInLoop and the wakeup eventfd.
type EventLoop struct {
	id int64

	threadID int64 // set once, in NewEventLoop, by the creating goroutine

	poller      Poller
	timerQueue  *TimerQueue
	activeChannels []*Channel

	wakeupFd      int
	wakeupChannel *Channel

	mu                     sync.Mutex
	pendingFunctors        []func()
	callingPendingFunctors bool

	looping int32 // atomic bool
	quit    int32 // atomic bool

	iteration int64
}

// NewEventLoop constructs an EventLoop bound to the calling goroutine's
// OS thread. Callers must arrange (via runtime.LockOSThread, typically
// from an EventLoopThreadPool worker) that the goroutine that calls
// NewEventLoop is the same one that later calls Loop.
func NewEventLoop() (*EventLoop, error) {
	poller, err := newPoller()
	if err != nil {
		return nil, err
	}
	wakeupFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = poller.Close()
		return nil, os.NewSyscallError("eventfd", err)
	}

	loop := &EventLoop{
		id:       atomic.AddInt64(&loopSeq, 1),
		threadID: gettid(),
		poller:   poller,
	}
	loop.wakeupChannel = NewChannel(loop, wakeupFd)
	loop.wakeupFd = wakeupFd
	loop.wakeupChannel.SetReadHandler(func(time.Time) error {
		loop.handleWakeup()
		return nil
	})
	loop.wakeupChannel.EnableReading()

	tq, err := NewTimerQueue(loop)
	if err != nil {
		_ = poller.Close()
		_ = unix.Close(wakeupFd)
		return nil, err
	}
	loop.timerQueue = tq
	tq.Start()

	return loop, nil
}

// ID returns this loop's small process-wide sequence number.
func (l *EventLoop) ID() int64 { return l.id }

func (l *EventLoop) handleWakeup() {
	var buf [8]byte
	_, _ = unix.Read(l.wakeupFd, buf[:])
}

func (l *EventLoop) wakeup() {
	var one [8]byte
	one[0] = 1
	if _, err := unix.Write(l.wakeupFd, one[:]); err != nil {
		logging.Warnf("eventloop(%d): wakeup write failed: %v", l.id, err)
	}
}

// isInLoopThread reports whether the calling goroutine is pinned to
// this loop's owning OS thread.
func (l *EventLoop) isInLoopThread() bool { return gettid() == l.threadID }

func (l *EventLoop) assertInLoopThread() {
	if !l.isInLoopThread() {
		panic(lerrors.ErrNotInLoopThread)
	}
}

// RunInLoop runs fn on this loop's thread: immediately if already
// called from it, otherwise queued and the loop is woken.
func (l *EventLoop) RunInLoop(fn func()) {
	if l.isInLoopThread() {
		fn()
	} else {
		l.QueueInLoop(fn)
	}
}

// QueueInLoop always defers fn to the next pass of the loop, even when
// called from the loop thread itself — used when fn must not run
// re-entrantly from inside the functor-draining loop.
func (l *EventLoop) QueueInLoop(fn func()) {
	l.mu.Lock()
	l.pendingFunctors = append(l.pendingFunctors, fn)
	calling := l.callingPendingFunctors
	l.mu.Unlock()

	if !l.isInLoopThread() || calling {
		l.wakeup()
	}
}

func (l *EventLoop) doPendingFunctors() {
	l.mu.Lock()
	functors := l.pendingFunctors
	l.pendingFunctors = nil
	l.callingPendingFunctors = true
	l.mu.Unlock()

	for _, fn := range functors {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logging.Errorf("eventloop(%d): pending functor panicked: %v", l.id, r)
				}
			}()
			fn()
		}()
	}

	l.mu.Lock()
	l.callingPendingFunctors = false
	l.mu.Unlock()
}

// Loop runs the reactor's central poll/dispatch cycle until Quit is
// called. It must run on the thread that created the EventLoop.
func (l *EventLoop) Loop() {
	if !atomic.CompareAndSwapInt32(&l.looping, 0, 1) {
		logging.Warnf("eventloop(%d): Loop called while already looping", l.id)
		return
	}
	l.assertInLoopThread()
	logging.Infof("eventloop(%d): started", l.id)

	for atomic.LoadInt32(&l.quit) == 0 {
		l.activeChannels = l.activeChannels[:0]
		pollTS, err := l.poller.Poll(10*time.Second, &l.activeChannels)
		if err != nil {
			logging.Warnf("eventloop(%d): poll error: %v", l.id, err)
			continue
		}
		l.iteration++
		for _, ch := range l.activeChannels {
			ch.HandleEvent(pollTS)
		}
		l.doPendingFunctors()
	}

	logging.Infof("eventloop(%d): stopped", l.id)
	atomic.StoreInt32(&l.looping, 0)
}

// Quit asks the loop to stop after its current (or next) iteration.
// Safe to call from any thread.
func (l *EventLoop) Quit() {
	atomic.StoreInt32(&l.quit, 1)
	if !l.isInLoopThread() {
		l.wakeup()
	}
}

// Close releases the loop's own file descriptors (wakeup eventfd,
// timerfd, poller fd). Must be called on the loop's own thread after
// Loop has returned, since disabling the wakeup channel asserts it.
func (l *EventLoop) Close() error {
	_ = l.timerQueue.Close()
	l.wakeupChannel.DisableAll()
	_ = unix.Close(l.wakeupFd)
	return l.poller.Close()
}

func (l *EventLoop) updateChannel(c *Channel) {
	l.assertInLoopThread()
	if err := l.poller.UpdateChannel(c); err != nil {
		logging.Warnf("eventloop(%d): updateChannel(fd=%d): %v", l.id, c.Fd(), err)
	}
}

func (l *EventLoop) removeChannel(c *Channel) {
	l.assertInLoopThread()
	if err := l.poller.RemoveChannel(c); err != nil {
		logging.Warnf("eventloop(%d): removeChannel(fd=%d): %v", l.id, c.Fd(), err)
	}
}

// RunAt schedules cb to run once at when.
func (l *EventLoop) RunAt(when time.Time, cb TimerCallback) TimerID {
	return l.timerQueue.AddTimer(cb, when, 0)
}

// RunAfter schedules cb to run once after d elapses.
func (l *EventLoop) RunAfter(d time.Duration, cb TimerCallback) TimerID {
	return l.RunAt(time.Now().Add(d), cb)
}

// RunEvery schedules cb to run every interval, first firing after
// interval elapses.
func (l *EventLoop) RunEvery(interval time.Duration, cb TimerCallback) TimerID {
	return l.timerQueue.AddTimer(cb, time.Now().Add(interval), interval)
}

// Cancel cancels a previously scheduled timer.
func (l *EventLoop) Cancel(id TimerID) {
	l.timerQueue.Cancel(id)
}

// Schedule satisfies future.Executor: it posts fn to run on this loop's
// thread as soon as possible, implementing the "resume .then callbacks
// on the originating loop" rule from spec.md §4.6.
func (l *EventLoop) Schedule(fn func()) {
	l.RunInLoop(fn)
}

// ScheduleLater satisfies future.Executor: it arms a one-shot timer on
// this loop to invoke fn after d, backing Future.OnTimeout.
func (l *EventLoop) ScheduleLater(d time.Duration, fn func()) {
	l.RunAfter(d, fn)
}
