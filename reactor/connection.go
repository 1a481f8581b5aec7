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
	"fmt"
	"time"

	uuid "github.com/hashicorp/go-uuid"
	"golang.org/x/sys/unix"

	"github.com/jiaweihh/lrpc/pkg/logging"
)

// ConnState is TcpConnection's lifecycle state.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateConnected
	StateDisconnecting
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

type (
	ConnectionCallback func(c *TcpConnection)
	MessageCallback    func(c *TcpConnection, buf *Buffer, ts time.Time)
	CloseCallback      func(c *TcpConnection)
	WriteCompleteCallback func(c *TcpConnection)
)

// TcpConnection is one established TCP connection: its Channel, socket,
// read/write buffers and lifecycle state are all owned by exactly one
// worker EventLoop for the connection's entire life — see spec.md §5's
// thread-affinity invariants. Methods documented as thread-safe hop to
// that loop if called off-thread; ConnectEstablished and
// ConnectDestroyed assert that they run on it.
type TcpConnection struct {
	loop     *EventLoop
	name     string
	id       int64
	uniqueID string
	state    ConnState
	fd       int
	channel  *Channel
	local    Endpoint
	peer     Endpoint

	inputBuffer  *Buffer
	outputBuffer *Buffer

	onConnection    ConnectionCallback
	onMessage       MessageCallback
	onClose         CloseCallback
	onWriteComplete WriteCompleteCallback

	highWaterMark     int
	highWaterCallback func(c *TcpConnection, bufferedBytes int)

	// Context is free-form per-connection state a layer above reactor
	// (e.g. the ServerChannel or ClientChannel bound to this socket) can
	// attach without this package knowing about RPC concerns.
	Context any
}

// NewTcpConnection wraps an already-accepted or already-connected fd.
// name is a human-readable identifier for logs; local/peer are the
// resolved socket addresses.
func NewTcpConnection(loop *EventLoop, name string, fd int, local, peer Endpoint) *TcpConnection {
	uid, err := uuid.GenerateUUID()
	if err != nil {
		// GenerateUUID only fails if the system's random source is
		// broken; fall back to the process-wide counter rather than
		// leaving the connection unidentifiable.
		uid = fmt.Sprintf("conn-%d", NextConnID())
	}
	c := &TcpConnection{
		loop:          loop,
		name:          name,
		id:            NextConnID(),
		uniqueID:      uid,
		state:         StateConnecting,
		fd:            fd,
		local:         local,
		peer:          peer,
		inputBuffer:   NewBuffer(),
		outputBuffer:  NewBuffer(),
		highWaterMark: 64 * 1024 * 1024,
	}
	c.channel = NewChannel(loop, fd)
	c.channel.SetReadHandler(c.handleRead)
	c.channel.SetWriteHandler(c.handleWrite)
	c.channel.SetCloseHandler(c.handleClose)
	c.channel.SetErrorHandler(c.handleError)
	_ = setKeepAlive(fd, 60)
	return c
}

func (c *TcpConnection) Name() string     { return c.name }
func (c *TcpConnection) ID() int64        { return c.id }
func (c *TcpConnection) UniqueID() string { return c.uniqueID }
func (c *TcpConnection) Loop() *EventLoop { return c.loop }
func (c *TcpConnection) LocalAddr() Endpoint { return c.local }
func (c *TcpConnection) PeerAddr() Endpoint  { return c.peer }
func (c *TcpConnection) State() ConnState    { return c.state }
func (c *TcpConnection) Connected() bool     { return c.state == StateConnected }
func (c *TcpConnection) Fd() int             { return c.fd }

func (c *TcpConnection) SetConnectionCallback(cb ConnectionCallback)       { c.onConnection = cb }
func (c *TcpConnection) SetMessageCallback(cb MessageCallback)             { c.onMessage = cb }
func (c *TcpConnection) SetCloseCallback(cb CloseCallback)                 { c.onClose = cb }
func (c *TcpConnection) SetWriteCompleteCallback(cb WriteCompleteCallback) { c.onWriteComplete = cb }
func (c *TcpConnection) SetHighWaterMarkCallback(n int, cb func(c *TcpConnection, bufferedBytes int)) {
	c.highWaterMark = n
	c.highWaterCallback = cb
}

// ConnectEstablished transitions Connecting -> Connected, enables read
// interest, and invokes the connection callback. Must run on the owning loop.
func (c *TcpConnection) ConnectEstablished() {
	c.loop.assertInLoopThread()
	if c.state != StateConnecting {
		panic(fmt.Sprintf("reactor: ConnectEstablished called in state %s", c.state))
	}
	c.state = StateConnected
	c.channel.EnableReading()
	if c.onConnection != nil {
		c.onConnection(c)
	}
}

// ConnectDestroyed transitions to Disconnected and unregisters the
// Channel from the Poller. Must run on the owning loop.
func (c *TcpConnection) ConnectDestroyed() {
	c.loop.assertInLoopThread()
	if c.state == StateConnected || c.state == StateDisconnecting {
		c.state = StateDisconnected
		c.channel.DisableAll()
	}
	c.channel.Remove()
}

func (c *TcpConnection) handleRead(ts time.Time) error {
	n, err := c.inputBuffer.ReadFd(c.fd)
	switch {
	case err != nil:
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil
		}
		return c.handleErrorWith(err)
	case n > 0:
		if c.onMessage != nil {
			c.onMessage(c, c.inputBuffer, ts)
		}
		return nil
	default:
		c.handleClose()
		return nil
	}
}

func (c *TcpConnection) handleWrite() error {
	if !c.channel.IsWriting() {
		return nil
	}
	n, err := unix.Write(c.fd, c.outputBuffer.Peek())
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil
		}
		logging.Warnf("connection(%s): write error: %v", c.name, err)
		return nil
	}
	c.outputBuffer.Retrieve(n)
	if c.outputBuffer.Readable() == 0 {
		c.channel.DisableWriting()
		if c.onWriteComplete != nil {
			c.onWriteComplete(c)
		}
		if c.state == StateDisconnecting {
			c.shutdownWrite()
		}
	}
	return nil
}

func (c *TcpConnection) handleClose() error {
	c.loop.assertInLoopThread()
	if c.state == StateDisconnected {
		return nil
	}
	c.channel.DisableAll()
	c.state = StateDisconnecting
	if c.onClose != nil {
		c.onClose(c)
	}
	return nil
}

func (c *TcpConnection) handleError() error {
	err := socketError(c.fd)
	return c.handleErrorWith(err)
}

func (c *TcpConnection) handleErrorWith(err error) error {
	logging.Warnf("connection(%s): socket error: %v", c.name, err)
	return nil
}

// Send queues bytes for write. Safe to call from any thread; hops to
// the owning loop if called off-thread.
func (c *TcpConnection) Send(data []byte) {
	if c.loop.isInLoopThread() {
		c.sendInLoop(data)
		return
	}
	cp := append([]byte(nil), data...)
	c.loop.RunInLoop(func() { c.sendInLoop(cp) })
}

func (c *TcpConnection) sendInLoop(data []byte) {
	if c.state == StateDisconnected {
		logging.Warnf("connection(%s): Send called after disconnect, dropped", c.name)
		return
	}

	var wrote int
	if !c.channel.IsWriting() && c.outputBuffer.Readable() == 0 {
		n, err := unix.Write(c.fd, data)
		if err != nil {
			if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
				logging.Warnf("connection(%s): direct write failed: %v", c.name, err)
			}
			n = 0
		}
		wrote = n
		if wrote == len(data) && c.onWriteComplete != nil {
			c.onWriteComplete(c)
		}
	}

	if wrote < len(data) {
		c.outputBuffer.Append(data[wrote:])
		if c.highWaterCallback != nil && c.outputBuffer.Readable() >= c.highWaterMark {
			c.highWaterCallback(c, c.outputBuffer.Readable())
		}
		if !c.channel.IsWriting() {
			c.channel.EnableWriting()
		}
	}
}

// Shutdown half-closes the write side once the output buffer drains.
// Safe to call from any thread.
func (c *TcpConnection) Shutdown() {
	c.loop.RunInLoop(func() {
		if c.state != StateConnected {
			return
		}
		c.state = StateDisconnecting
		if !c.channel.IsWriting() {
			c.shutdownWrite()
		}
	})
}

func (c *TcpConnection) shutdownWrite() {
	if err := unix.Shutdown(c.fd, unix.SHUT_WR); err != nil {
		logging.Warnf("connection(%s): shutdown(SHUT_WR) failed: %v", c.name, err)
	}
}

// ForceClose tears the connection down immediately rather than waiting
// for the output buffer to drain. Safe to call from any thread.
func (c *TcpConnection) ForceClose() {
	c.loop.RunInLoop(func() {
		if c.state == StateConnected || c.state == StateDisconnecting {
			c.handleClose()
		}
	})
}
