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

import "time"

// Poller is the multiplexer an EventLoop drives once per iteration. It
// has exactly two implementations in this package: pollPoller (the
// portable poll(2)-array backend) and epollPoller (Linux-only,
// level-triggered epoll(7)). EventLoop selects one at construction via
// newPoller; callers never choose directly.
type Poller interface {
	// Poll blocks for up to timeout waiting for I/O readiness, appends
	// every ready Channel to *active (with its revents already set via
	// SetRevents) and returns the timestamp at which Poll woke up.
	Poll(timeout time.Duration, active *[]*Channel) (time.Time, error)

	// UpdateChannel registers c if new, or updates its interest mask if
	// already known, or removes it from the poll set if it now has no
	// events of interest (IsNoneEvent). Must run on the owning loop.
	UpdateChannel(c *Channel) error

	// RemoveChannel forgets c entirely. c must have no events of
	// interest (caller calls DisableAll first). Must run on the owning
	// loop.
	RemoveChannel(c *Channel) error

	// HasChannel reports whether c is currently registered.
	HasChannel(c *Channel) bool

	// Close releases the poller's own resources (e.g. the epoll fd).
	Close() error
}
