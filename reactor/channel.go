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
	"time"

	"golang.org/x/sys/unix"

	lerrors "github.com/jiaweihh/lrpc/pkg/errors"
	"github.com/jiaweihh/lrpc/pkg/logging"
)

// event masks, matching epoll's bit layout so the epoll poller can use
// them directly; the poll poller translates to/from POLLIN/POLLOUT.
type Events uint32

const (
	EventNone  Events = 0
	EventRead  Events = unix.EPOLLIN | unix.EPOLLPRI
	EventWrite Events = unix.EPOLLOUT
	eventErr   Events = unix.EPOLLERR
	eventHup   Events = unix.EPOLLHUP
	eventRdHup Events = unix.EPOLLRDHUP
)

// ReadHandler is invoked when the fd is readable, with the poll-return
// timestamp; reading the fd is left to the handler.
type ReadHandler func(ts time.Time) error
type WriteHandler func() error
type CloseHandler func() error
type ErrorHandler func() error

// Channel binds one fd to a set of interest events and four optional
// handlers. It does not own the fd: closing it is the Socket/conn's job.
// A Channel belongs to exactly one EventLoop for its entire lifetime.
type Channel struct {
	loop   *EventLoop
	fd     int
	events Events // events we're interested in
	revent Events // events the poller last delivered

	// index is opaque storage for the Poller implementation: an offset
	// into the poll-variant's descriptor array, or a tri-state for epoll.
	index int

	onRead  ReadHandler
	onWrite WriteHandler
	onClose CloseHandler
	onError ErrorHandler

	inHandler bool // guards against destruction while handleEvent runs
	addedToLoop bool
}

// PollerIndex states used by the epoll Poller variant (spec.md §4.3).
const (
	PollerIndexNew = -1
	PollerIndexAdded = iota
	PollerIndexDeleted
)

// NewChannel creates a Channel for fd, owned by loop.
func NewChannel(loop *EventLoop, fd int) *Channel {
	return &Channel{loop: loop, fd: fd, index: PollerIndexNew}
}

func (c *Channel) Fd() int       { return c.fd }
func (c *Channel) Events() Events { return c.events }
func (c *Channel) Index() int     { return c.index }
func (c *Channel) SetIndex(i int) { c.index = i }

func (c *Channel) SetReadHandler(h ReadHandler)   { c.onRead = h }
func (c *Channel) SetWriteHandler(h WriteHandler) { c.onWrite = h }
func (c *Channel) SetCloseHandler(h CloseHandler) { c.onClose = h }
func (c *Channel) SetErrorHandler(h ErrorHandler) { c.onError = h }

func (c *Channel) IsWriting() bool { return c.events&EventWrite != 0 }
func (c *Channel) IsReading() bool { return c.events&EventRead != 0 }
func (c *Channel) IsNoneEvent() bool { return c.events == EventNone }

// SetRevents stores the events the Poller observed; only the Poller
// should call this, right before handing the Channel back as "active".
func (c *Channel) SetRevents(ev Events) { c.revent = ev }

func (c *Channel) EnableReading() {
	c.events |= EventRead
	c.update()
}

func (c *Channel) EnableWriting() {
	c.events |= EventWrite
	c.update()
}

func (c *Channel) DisableWriting() {
	c.events &^= EventWrite
	c.update()
}

func (c *Channel) DisableAll() {
	c.events = EventNone
	c.update()
}

func (c *Channel) update() {
	c.loop.updateChannel(c)
}

// Remove asks the owning loop's Poller to forget this Channel entirely.
// Must be called after DisableAll.
func (c *Channel) Remove() {
	if c.inHandler {
		panic(lerrors.ErrChannelInHandler)
	}
	c.loop.removeChannel(c)
}

// HandleEvent dispatches revent to the installed handlers in a fixed
// order: a hang-up without readable data runs only the close handler;
// otherwise error, then read, then write. in-handler is set for the
// duration, so a Remove called from within a handler panics with
// ErrChannelInHandler.
func (c *Channel) HandleEvent(ts time.Time) {
	c.inHandler = true
	defer func() { c.inHandler = false }()

	if c.revent&eventHup != 0 && c.revent&EventRead == 0 {
		if c.onClose != nil {
			if err := c.onClose(); err != nil {
				logging.Warnf("channel(fd=%d): close handler error: %v", c.fd, err)
			}
		}
		return
	}
	if c.revent&(eventErr) != 0 {
		if c.onError != nil {
			if err := c.onError(); err != nil {
				logging.Warnf("channel(fd=%d): error handler error: %v", c.fd, err)
			}
		}
	}
	if c.revent&(EventRead|eventRdHup) != 0 {
		if c.onRead != nil {
			if err := c.onRead(ts); err != nil {
				logging.Debugf("channel(fd=%d): read handler returned: %v", c.fd, err)
			}
		}
	}
	if c.revent&EventWrite != 0 {
		if c.onWrite != nil {
			if err := c.onWrite(); err != nil {
				logging.Debugf("channel(fd=%d): write handler returned: %v", c.fd, err)
			}
		}
	}
}
