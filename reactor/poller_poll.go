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
	"time"

	"golang.org/x/sys/unix"
)

// pollPoller is the portable poll(2)-array backend: O(n) per call but
// dependency-free and useful on platforms without epoll, and as a
// reference implementation for tests. A deleted fd is marked by negating
// it (fd -1 encoded as -fd-1, so fd 0 can still be distinguished from
// "unused") rather than compacting the array immediately; removal swaps
// the entry with the last live one and truncates.
type pollPoller struct {
	fds      []unix.PollFd
	channels map[int]*Channel
}

func newPollPoller() (*pollPoller, error) {
	return &pollPoller{channels: make(map[int]*Channel)}, nil
}

func (p *pollPoller) Poll(timeout time.Duration, active *[]*Channel) (time.Time, error) {
	n, err := unix.Poll(p.fds, int(timeout/time.Millisecond))
	ts := time.Now()
	if err != nil {
		if err == unix.EINTR {
			return ts, nil
		}
		return ts, os.NewSyscallError("poll", err)
	}
	if n == 0 {
		return ts, nil
	}
	for i := range p.fds {
		if p.fds[i].Fd < 0 || p.fds[i].Revents == 0 {
			continue
		}
		ch, ok := p.channels[int(p.fds[i].Fd)]
		if !ok {
			continue
		}
		ch.SetRevents(Events(p.fds[i].Revents))
		*active = append(*active, ch)
	}
	return ts, nil
}

func (p *pollPoller) UpdateChannel(c *Channel) error {
	if c.Index() < 0 {
		if c.IsNoneEvent() {
			return nil
		}
		idx := len(p.fds)
		p.fds = append(p.fds, unix.PollFd{Fd: int32(c.Fd()), Events: int16(c.Events())})
		c.SetIndex(idx)
		p.channels[c.Fd()] = c
		return nil
	}
	idx := c.Index()
	p.fds[idx].Events = int16(c.Events())
	p.fds[idx].Fd = int32(c.Fd())
	if c.IsNoneEvent() {
		// poll(2) has no "remove" op short of dropping the entry; mark it
		// inert by negating the fd so it's skipped but the slot stays put
		// (index stability matters while other channels reference their
		// own index into this same slice).
		p.fds[idx].Fd = int32(-c.Fd() - 1)
	}
	return nil
}

func (p *pollPoller) RemoveChannel(c *Channel) error {
	idx := c.Index()
	if idx < 0 {
		delete(p.channels, c.Fd())
		return nil
	}
	last := len(p.fds) - 1
	if idx != last {
		p.fds[idx] = p.fds[last]
		// whichever channel now occupies idx must learn its new index
		var movedFd int
		if p.fds[idx].Fd >= 0 {
			movedFd = int(p.fds[idx].Fd)
		} else {
			movedFd = int(-p.fds[idx].Fd - 1)
		}
		if moved, ok := p.channels[movedFd]; ok {
			moved.SetIndex(idx)
		}
	}
	p.fds = p.fds[:last]
	delete(p.channels, c.Fd())
	c.SetIndex(PollerIndexNew)
	return nil
}

func (p *pollPoller) HasChannel(c *Channel) bool {
	_, ok := p.channels[c.Fd()]
	return ok
}

func (p *pollPoller) Close() error { return nil }
