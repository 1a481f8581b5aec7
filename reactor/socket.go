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

// Package reactor implements the I/O reactor: Buffer, Endpoint, Channel,
// Poller, TimerQueue, EventLoop, EventLoopThreadPool, Acceptor,
// Connector and TcpConnection.
package reactor

import (
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// sockaddrOf converts an Endpoint into the unix.Sockaddr the syscalls need.
func sockaddrOf(e Endpoint) (unix.Sockaddr, error) {
	ip := e.TCPAddr().IP.To4()
	if ip == nil {
		// fall back to 0.0.0.0 so binding to an empty IP (listeners) works
		var sa unix.SockaddrInet4
		sa.Port = int(e.Port)
		return &sa, nil
	}
	var sa unix.SockaddrInet4
	copy(sa.Addr[:], ip)
	sa.Port = int(e.Port)
	return &sa, nil
}

// endpointOf is the inverse of sockaddrOf, used to report local/peer
// addresses after accept/connect.
func endpointOf(sa unix.Sockaddr) Endpoint {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, 4)
		copy(ip, a.Addr[:])
		return Endpoint{IP: ip.String(), Port: uint16(a.Port)}
	default:
		return Endpoint{}
	}
}

// createNonblockingSocket mirrors SocketsOps::createNonblockingOrDie: a
// TCP socket with O_NONBLOCK and O_CLOEXEC set at creation time.
func createNonblockingSocket() (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, os.NewSyscallError("socket", err)
	}
	return fd, nil
}

// bindAndListen binds a listening socket to ep and starts listening with
// the given backlog. SO_REUSEADDR is set so a restarted process can
// rebind immediately.
func bindAndListen(ep Endpoint, backlog int) (int, error) {
	fd, err := createNonblockingSocket()
	if err != nil {
		return -1, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return -1, os.NewSyscallError("setsockopt", err)
	}
	sa, err := sockaddrOf(ep)
	if err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return -1, os.NewSyscallError("bind", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return -1, os.NewSyscallError("listen", err)
	}
	return fd, nil
}

// connectNonblocking starts a non-blocking connect. Returns (fd, inProgress, err):
// inProgress is true when the connect is asynchronous (EINPROGRESS) and
// the caller must wait for the fd to become writable.
func connectNonblocking(ep Endpoint) (fd int, inProgress bool, err error) {
	fd, err = createNonblockingSocket()
	if err != nil {
		return -1, false, err
	}
	sa, err := sockaddrOf(ep)
	if err != nil {
		_ = unix.Close(fd)
		return -1, false, err
	}
	err = unix.Connect(fd, sa)
	switch err {
	case nil:
		return fd, false, nil
	case unix.EINPROGRESS, unix.EINTR, unix.EISCONN, unix.EALREADY:
		return fd, true, nil
	default:
		_ = unix.Close(fd)
		return -1, false, os.NewSyscallError("connect", err)
	}
}

// socketError reads SO_ERROR, the idiomatic way to learn whether a
// non-blocking connect that became writable actually succeeded.
func socketError(fd int) error {
	v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if v != 0 {
		return unix.Errno(v)
	}
	return nil
}

func localAddr(fd int) Endpoint {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return Endpoint{}
	}
	return endpointOf(sa)
}

func peerAddr(fd int) Endpoint {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return Endpoint{}
	}
	return endpointOf(sa)
}

// isSelfConnect detects the pathological case of a non-blocking connect
// looping back onto itself when connecting to a loopback address whose
// ephemeral source port collides with the destination port.
func isSelfConnect(fd int) bool {
	local := localAddr(fd)
	peer := peerAddr(fd)
	return local.IP == peer.IP && local.Port == peer.Port
}

func setKeepAlive(fd int, seconds int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
		return err
	}
	return nil
}
