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
	"time"

	"golang.org/x/sys/unix"

	"github.com/jiaweihh/lrpc/pkg/logging"
)

type connectorState int

const (
	connectorDisconnected connectorState = iota
	connectorConnecting
	connectorConnected
)

const (
	initRetryDelay = 500 * time.Millisecond
	maxRetryDelay  = 30 * time.Second
)

// Connector drives a single non-blocking TCP connect, with exponential
// backoff retry (500ms, doubling, capped at 30s) on transient failure.
type Connector struct {
	loop *EventLoop
	addr Endpoint

	state      connectorState
	connecting bool
	retryDelay time.Duration

	channel *Channel
	timerID TimerID
	hasTimer bool

	onNewConnection func(sockFd int)
}

// NewConnector creates a connector targeting addr; it does nothing
// until Start is called.
func NewConnector(loop *EventLoop, addr Endpoint) *Connector {
	return &Connector{loop: loop, addr: addr, retryDelay: initRetryDelay}
}

func (c *Connector) SetNewConnectionCallback(cb func(sockFd int)) {
	c.onNewConnection = cb
}

// Start kicks off the first connect attempt. Must run on the owning loop.
func (c *Connector) Start() {
	c.connecting = true
	c.connect()
}

// Stop cancels any pending retry timer and gives up further attempts.
func (c *Connector) Stop() {
	c.connecting = false
	if c.hasTimer {
		c.loop.Cancel(c.timerID)
		c.hasTimer = false
	}
}

func (c *Connector) connect() {
	fd, inProgress, err := connectNonblocking(c.addr)
	if err != nil {
		c.handleConnectError(err)
		return
	}
	if inProgress {
		c.state = connectorConnecting
		c.channel = NewChannel(c.loop, fd)
		c.channel.SetWriteHandler(c.handleWrite)
		c.channel.SetErrorHandler(c.handleError)
		c.channel.EnableWriting()
		return
	}
	// connected synchronously (loopback, already-listening peer)
	c.state = connectorConnected
	c.finishConnect(fd)
}

// handleConnectError classifies the connect(2) errno into the three
// buckets spec.md §4.11 names. Bucket (a) (in-progress/already/
// interrupted) never reaches here: connectNonblocking already treats
// those as success-with-inProgress. Remaining errors split into
// transient (schedule a retry) and structural (give up).
func (c *Connector) handleConnectError(err error) {
	errno, ok := underlyingErrno(err)
	if !ok {
		logging.Warnf("connector(%s): connect failed: %v", c.addr, err)
		c.retry()
		return
	}
	switch errno {
	case unix.ECONNREFUSED, unix.ENETUNREACH, unix.EHOSTUNREACH, unix.EADDRINUSE, unix.EADDRNOTAVAIL, unix.ETIMEDOUT:
		logging.Debugf("connector(%s): transient connect error %v, retrying", c.addr, errno)
		c.retry()
	case unix.EBADF, unix.EACCES, unix.EPERM, unix.EAFNOSUPPORT, unix.EALREADY, unix.EFAULT, unix.ENOTSOCK:
		logging.Errorf("connector(%s): structural connect error %v, giving up", c.addr, errno)
	default:
		logging.Warnf("connector(%s): unclassified connect error %v, retrying", c.addr, errno)
		c.retry()
	}
}

func (c *Connector) handleWrite() error {
	if c.state != connectorConnecting {
		return nil
	}
	fd := c.removeAndResetChannel()
	if err := socketError(fd); err != nil {
		logging.Debugf("connector(%s): SO_ERROR after writable: %v, retrying", c.addr, err)
		_ = unix.Close(fd)
		c.retry()
		return nil
	}
	if isSelfConnect(fd) {
		logging.Warnf("connector(%s): self-connect detected, retrying", c.addr)
		_ = unix.Close(fd)
		c.retry()
		return nil
	}
	c.state = connectorConnected
	c.finishConnect(fd)
	return nil
}

func (c *Connector) handleError() error {
	fd := c.removeAndResetChannel()
	err := socketError(fd)
	logging.Warnf("connector(%s): error event: %v", c.addr, err)
	_ = unix.Close(fd)
	c.retry()
	return nil
}

func (c *Connector) removeAndResetChannel() int {
	fd := c.channel.Fd()
	c.channel.DisableAll()
	c.channel.Remove()
	c.channel = nil
	return fd
}

func (c *Connector) finishConnect(fd int) {
	c.retryDelay = initRetryDelay
	if c.onNewConnection != nil {
		c.onNewConnection(fd)
	} else {
		_ = unix.Close(fd)
	}
}

func (c *Connector) retry() {
	c.state = connectorDisconnected
	if !c.connecting {
		return
	}
	logging.Infof("connector(%s): retrying in %s", c.addr, c.retryDelay)
	c.timerID = c.loop.RunAfter(c.retryDelay, func() {
		c.hasTimer = false
		if c.connecting {
			c.connect()
		}
	})
	c.hasTimer = true
	c.retryDelay *= 2
	if c.retryDelay > maxRetryDelay {
		c.retryDelay = maxRetryDelay
	}
}

// underlyingErrno unwraps the unix.Errno a os.SyscallError carries, if any.
func underlyingErrno(err error) (unix.Errno, bool) {
	type errnoer interface{ Unwrap() error }
	for err != nil {
		if errno, ok := err.(unix.Errno); ok {
			return errno, true
		}
		u, ok := err.(errnoer)
		if !ok {
			return 0, false
		}
		err = u.Unwrap()
	}
	return 0, false
}
