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

//go:build linux || freebsd || dragonfly || darwin
// +build linux freebsd dragonfly darwin

package reactor

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petar/GoLLRB/llrb"
	"golang.org/x/sys/unix"

	"github.com/jiaweihh/lrpc/pkg/logging"
)

// TimerCallback is a zero-argument function invoked when a timer fires.
type TimerCallback func()

// TimerID is the handle returned by AddTimer; Cancel needs both the
// pointer and the id because a freed Timer's memory can be reused by a
// later allocation.
type TimerID struct {
	timer *Timer
	id    uint64
}

// Timer is one scheduled (or repeating) callback.
type Timer struct {
	id         uint64
	expiration time.Time
	interval   time.Duration // 0 means one-shot
	cb         TimerCallback
}

func (t *Timer) repeats() bool { return t.interval > 0 }

func (t *Timer) restart(now time.Time) {
	if t.repeats() {
		t.expiration = now.Add(t.interval)
	} else {
		t.expiration = time.Time{}
	}
}

// byExpiration orders the "due-timer" index by (expiration, id).
type byExpiration struct {
	when time.Time
	id   uint64
	t    *Timer
}

func (a byExpiration) Less(than llrb.Item) bool {
	b := than.(byExpiration)
	if a.when.Equal(b.when) {
		return a.id < b.id
	}
	return a.when.Before(b.when)
}

// byHandle orders the "active timer" index by (pointer-identity, id);
// since Go has no stable pointer arithmetic a monotonic sequence number
// assigned at insertion stands in for "address".
type byHandle struct {
	seq uint64
	id  uint64
	t   *Timer
}

func (a byHandle) Less(than llrb.Item) bool {
	b := than.(byHandle)
	if a.seq == b.seq {
		return a.id < b.id
	}
	return a.seq < b.seq
}

var timerIDSeq uint64
var timerHandleSeq uint64

// TimerQueue is a priority queue of Timer backed by a single monotonic
// timerfd armed to the earliest pending expiration. Every exported
// method is thread-safe; off-loop callers are hopped onto the owning
// EventLoop via its pending-functor queue, matching the rest of the
// reactor's concurrency contract.
type TimerQueue struct {
	loop    *EventLoop
	timerFd int
	channel *Channel

	mu      sync.Mutex
	timers  *llrb.LLRB // byExpiration
	active  *llrb.LLRB // byHandle, keyed by handle seq
	handles map[uint64]uint64 // timer id -> handle seq, for cancel lookup

	callingExpiredTimers bool
	cancelingTimers      map[uint64]bool // timer id -> true while its callback runs
}

// NewTimerQueue creates a timerfd-backed queue owned by loop. The caller
// must register the returned queue's Channel with the loop's Poller
// (EventLoop does this during construction).
func NewTimerQueue(loop *EventLoop) (*TimerQueue, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("timerfd_create", err)
	}
	tq := &TimerQueue{
		loop:            loop,
		timerFd:         fd,
		timers:          llrb.New(),
		active:          llrb.New(),
		handles:         make(map[uint64]uint64),
		cancelingTimers: make(map[uint64]bool),
	}
	tq.channel = NewChannel(loop, fd)
	tq.channel.SetReadHandler(func(time.Time) error {
		tq.handleRead()
		return nil
	})
	return tq, nil
}

func (tq *TimerQueue) Start() {
	tq.channel.EnableReading()
}

func (tq *TimerQueue) Close() error {
	tq.channel.DisableAll()
	tq.channel.Remove()
	return unix.Close(tq.timerFd)
}

// AddTimer schedules cb to run at when, optionally repeating every
// interval thereafter. Safe to call from any thread.
func (tq *TimerQueue) AddTimer(cb TimerCallback, when time.Time, interval time.Duration) TimerID {
	t := &Timer{id: atomic.AddUint64(&timerIDSeq, 1), expiration: when, interval: interval, cb: cb}
	handle := TimerID{timer: t, id: t.id}
	tq.loop.RunInLoop(func() {
		tq.addTimerInLoop(t)
	})
	return handle
}

func (tq *TimerQueue) addTimerInLoop(t *Timer) {
	tq.loop.assertInLoopThread()
	earliestChanged := tq.insert(t)
	if earliestChanged {
		tq.resetTimerFd(t.expiration)
	}
}

// insert adds t to both ordered sets. Must run on the loop thread; the
// public surface is append-only from the queue's point of view, so no
// extra locking is needed here beyond what guards the maps used by
// Cancel (which can race from another thread).
func (tq *TimerQueue) insert(t *Timer) (earliestChanged bool) {
	if min := tq.timers.Min(); min == nil || t.expiration.Before(min.(byExpiration).when) {
		earliestChanged = true
	}
	tq.timers.ReplaceOrInsert(byExpiration{when: t.expiration, id: t.id, t: t})

	seq := atomic.AddUint64(&timerHandleSeq, 1)
	tq.mu.Lock()
	tq.handles[t.id] = seq
	tq.mu.Unlock()
	tq.active.ReplaceOrInsert(byHandle{seq: seq, id: t.id, t: t})
	return earliestChanged
}

// Cancel removes a pending timer, or — if its callback is currently
// executing — records it so a repeating timer is not re-armed once the
// callback returns. Safe to call from any thread: like AddTimer, the
// actual tree surgery is hopped onto the owning loop via RunInLoop since
// the LLRB trees are not safe for concurrent access.
func (tq *TimerQueue) Cancel(id TimerID) {
	tq.loop.RunInLoop(func() {
		tq.cancelInLoop(id)
	})
}

func (tq *TimerQueue) cancelInLoop(id TimerID) {
	tq.loop.assertInLoopThread()

	tq.mu.Lock()
	seq, ok := tq.handles[id.id]
	delete(tq.handles, id.id)
	if !ok && tq.callingExpiredTimers {
		// not pending, so its callback may be running right now: keep a
		// repeating timer from being re-armed once it returns
		tq.cancelingTimers[id.id] = true
	}
	tq.mu.Unlock()
	if !ok {
		return
	}
	tq.active.Delete(byHandle{seq: seq, id: id.id})
	tq.timers.Delete(byExpiration{when: id.timer.expiration, id: id.id})
}

// handleRead drains the timerfd counter, extracts every due timer,
// invokes their callbacks in expiration order, and re-arms repeaters.
func (tq *TimerQueue) handleRead() {
	tq.loop.assertInLoopThread()

	var buf [8]byte
	_, _ = unix.Read(tq.timerFd, buf[:])

	now := time.Now()
	expired := tq.getExpired(now)

	tq.callingExpiredTimers = true
	for _, t := range expired {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logging.Errorf("timer callback panicked: %v", r)
				}
			}()
			t.cb()
		}()
	}
	tq.callingExpiredTimers = false

	tq.reset(expired, now)

	if min := tq.timers.Min(); min != nil {
		tq.resetTimerFd(min.(byExpiration).when)
	}
}

func (tq *TimerQueue) getExpired(now time.Time) []*Timer {
	var out []*Timer
	sentinel := byExpiration{when: now, id: ^uint64(0)}
	for {
		item := tq.timers.Min()
		if item == nil {
			break
		}
		e := item.(byExpiration)
		if sentinel.Less(e) {
			break
		}
		tq.timers.DeleteMin()
		out = append(out, e.t)

		tq.mu.Lock()
		seq, ok := tq.handles[e.id]
		delete(tq.handles, e.id)
		tq.mu.Unlock()
		if ok {
			tq.active.Delete(byHandle{seq: seq, id: e.id})
		}
	}
	return out
}

func (tq *TimerQueue) reset(expired []*Timer, now time.Time) {
	for _, t := range expired {
		tq.mu.Lock()
		canceled := tq.cancelingTimers[t.id]
		delete(tq.cancelingTimers, t.id)
		tq.mu.Unlock()

		if t.repeats() && !canceled {
			t.restart(now)
			tq.insert(t)
		}
	}
}

// minArm is the smallest arming delay passed to timerfd_settime, so a
// timer whose expiration is already in the past doesn't produce a
// "disarmed" (zero) itimerspec and storm the poller with immediate
// wakeups.
const minArm = 100 * time.Microsecond

func (tq *TimerQueue) resetTimerFd(expiration time.Time) {
	d := time.Until(expiration)
	if d < minArm {
		d = minArm
	}
	spec := unix.ItimerSpec{
		Value: unix.NsecToTimespec(d.Nanoseconds()),
	}
	if err := unix.TimerfdSettime(tq.timerFd, 0, &spec, nil); err != nil {
		logging.Errorf("timerfd_settime failed: %v", err)
	}
}

// Len reports the number of pending timers.
func (tq *TimerQueue) Len() int { return tq.timers.Len() }
