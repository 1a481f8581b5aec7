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

//go:build linux
// +build linux

package reactor

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller is the Linux epoll(7) backend, level-triggered. Each
// Channel tracks its own membership state (PollerIndexNew/Added/Deleted)
// in its index field so UpdateChannel/RemoveChannel can tell EPOLL_CTL_ADD
// from EPOLL_CTL_MOD from EPOLL_CTL_DEL without a membership lookup.
type epollPoller struct {
	epfd    int
	events  []unix.EpollEvent
	channels map[int]*Channel // fd -> channel, for translating ready events
}

const initEventListSize = 16

func newEpollPoller() (*epollPoller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	return &epollPoller{
		epfd:     fd,
		events:   make([]unix.EpollEvent, initEventListSize),
		channels: make(map[int]*Channel),
	}, nil
}

func (p *epollPoller) Poll(timeout time.Duration, active *[]*Channel) (time.Time, error) {
	n, err := unix.EpollWait(p.epfd, p.events, int(timeout/time.Millisecond))
	ts := time.Now()
	if err != nil {
		if err == unix.EINTR {
			return ts, nil
		}
		return ts, os.NewSyscallError("epoll_wait", err)
	}
	for i := 0; i < n; i++ {
		ev := p.events[i]
		ch, ok := p.channels[int(ev.Fd)]
		if !ok {
			continue
		}
		ch.SetRevents(Events(ev.Events))
		*active = append(*active, ch)
	}
	if n == len(p.events) {
		// grow for the next round, mirroring muduo's fill-the-array heuristic
		p.events = make([]unix.EpollEvent, len(p.events)*2)
	}
	return ts, nil
}

func (p *epollPoller) UpdateChannel(c *Channel) error {
	switch c.Index() {
	case PollerIndexNew:
		if c.IsNoneEvent() {
			return nil
		}
		c.SetIndex(PollerIndexAdded)
		p.channels[c.Fd()] = c
		return p.ctl(unix.EPOLL_CTL_ADD, c)
	case PollerIndexDeleted:
		c.SetIndex(PollerIndexAdded)
		p.channels[c.Fd()] = c
		return p.ctl(unix.EPOLL_CTL_ADD, c)
	default: // PollerIndexAdded
		if c.IsNoneEvent() {
			c.SetIndex(PollerIndexDeleted)
			return p.ctl(unix.EPOLL_CTL_DEL, c)
		}
		return p.ctl(unix.EPOLL_CTL_MOD, c)
	}
}

func (p *epollPoller) RemoveChannel(c *Channel) error {
	delete(p.channels, c.Fd())
	if c.Index() == PollerIndexAdded {
		if err := p.ctl(unix.EPOLL_CTL_DEL, c); err != nil {
			return err
		}
	}
	c.SetIndex(PollerIndexNew)
	return nil
}

func (p *epollPoller) HasChannel(c *Channel) bool {
	_, ok := p.channels[c.Fd()]
	return ok
}

func (p *epollPoller) Close() error {
	return unix.Close(p.epfd)
}

func (p *epollPoller) ctl(op int, c *Channel) error {
	ev := unix.EpollEvent{Events: uint32(c.Events()), Fd: int32(c.Fd())}
	if err := unix.EpollCtl(p.epfd, op, c.Fd(), &ev); err != nil {
		return os.NewSyscallError("epoll_ctl", err)
	}
	return nil
}
