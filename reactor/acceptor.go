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

	"github.com/jiaweihh/lrpc/pkg/logging"
)

// NewConnectionCallback receives an accepted connection's fd and its
// already-resolved peer address.
type NewConnectionCallback func(connFd int, peerAddr Endpoint)

// Acceptor owns a listening socket on the base loop. On read-readiness
// it drains every pending connection in a loop (edge-aware: a single
// epoll notification can represent several completed handshakes) and
// hands each accepted fd to the caller via NewConnectionCallback.
type Acceptor struct {
	loop     *EventLoop
	listenFd int
	channel  *Channel
	idleFd   int
	listening bool

	onNewConnection NewConnectionCallback
}

// NewAcceptor binds and listens on addr with SO_REUSEADDR set (see
// bindAndListen); SO_REUSEPORT is not set.
func NewAcceptor(loop *EventLoop, addr Endpoint, backlog int) (*Acceptor, error) {
	fd, err := bindAndListen(addr, backlog)
	if err != nil {
		return nil, err
	}
	// idleFd is a spare fd held open purely so that, on EMFILE, the
	// Acceptor can close it, accept-and-immediately-close the offending
	// connection to drain it off the listen backlog, then reopen the
	// spare — otherwise a full fd table starves every other connection
	// because the listen socket is perpetually readable.
	idleFd, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		idleFd = -1
	}

	a := &Acceptor{loop: loop, listenFd: fd, idleFd: idleFd}
	a.channel = NewChannel(loop, fd)
	a.channel.SetReadHandler(a.handleRead)
	return a, nil
}

func (a *Acceptor) SetNewConnectionCallback(cb NewConnectionCallback) {
	a.onNewConnection = cb
}

// Listen enables the Channel's read interest; must run on the owning loop.
func (a *Acceptor) Listen() {
	a.listening = true
	a.channel.EnableReading()
}

func (a *Acceptor) handleRead(_ time.Time) error {
	for {
		connFd, sa, err := unix.Accept4(a.listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			switch err {
			case unix.EAGAIN:
				return nil
			case unix.EMFILE, unix.ENFILE:
				a.handleFdExhaustion()
				return nil
			case unix.EINTR, unix.ECONNABORTED:
				continue
			default:
				logging.Warnf("acceptor: accept4 failed: %v", err)
				return nil
			}
		}
		peer := endpointOf(sa)
		if a.onNewConnection != nil {
			a.onNewConnection(connFd, peer)
		} else {
			_ = unix.Close(connFd)
		}
	}
}

func (a *Acceptor) handleFdExhaustion() {
	logging.Warnf("acceptor: fd table exhausted (EMFILE/ENFILE)")
	if a.idleFd < 0 {
		return
	}
	_ = unix.Close(a.idleFd)
	fd, _, err := unix.Accept(a.listenFd)
	if err == nil {
		_ = unix.Close(fd)
	}
	a.idleFd, _ = unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
}

func (a *Acceptor) Close() error {
	a.channel.DisableAll()
	a.channel.Remove()
	if a.idleFd >= 0 {
		_ = unix.Close(a.idleFd)
	}
	return unix.Close(a.listenFd)
}
