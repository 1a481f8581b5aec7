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

package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestTcpConnectionReceivesData(t *testing.T) {
	loop, stop := newRunningLoop(t)
	defer stop()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.NoError(t, err)
	peerFd := fds[1]
	defer unix.Close(peerFd)

	received := make(chan string, 1)
	var conn *TcpConnection
	loop.RunInLoop(func() {
		conn = NewTcpConnection(loop, "test", fds[0], Endpoint{}, Endpoint{})
		require.NotEmpty(t, conn.UniqueID())
		conn.SetMessageCallback(func(c *TcpConnection, buf *Buffer, ts time.Time) {
			received <- buf.RetrieveAsString()
		})
		conn.ConnectEstablished()
		require.True(t, conn.Connected())
	})

	_, err = unix.Write(peerFd, []byte("hello from peer"))
	require.NoError(t, err)

	select {
	case msg := <-received:
		require.Equal(t, "hello from peer", msg)
	case <-time.After(time.Second):
		t.Fatal("message callback never fired")
	}

	closed := make(chan struct{})
	loop.RunInLoop(func() {
		conn.SetCloseCallback(func(c *TcpConnection) {
			loop.QueueInLoop(func() {
				c.ConnectDestroyed()
				close(closed)
			})
		})
	})
	require.NoError(t, unix.Close(peerFd))

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("close callback never fired")
	}
}

func TestTcpConnectionSendWritesToPeer(t *testing.T) {
	loop, stop := newRunningLoop(t)
	defer stop()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.NoError(t, err)
	peerFd := fds[1]
	defer unix.Close(peerFd)

	loop.RunInLoop(func() {
		conn := NewTcpConnection(loop, "test", fds[0], Endpoint{}, Endpoint{})
		conn.ConnectEstablished()
		conn.Send([]byte("ping"))
	})

	buf := make([]byte, 16)
	require.Eventually(t, func() bool {
		n, err := unix.Read(peerFd, buf)
		return err == nil && n == 4 && string(buf[:n]) == "ping"
	}, time.Second, 10*time.Millisecond)
}

func TestTcpConnectionConnectEstablishedPanicsWhenNotConnecting(t *testing.T) {
	loop, stop := newRunningLoop(t)
	defer stop()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.NoError(t, err)
	defer unix.Close(fds[1])

	loop.RunInLoop(func() {
		conn := NewTcpConnection(loop, "test", fds[0], Endpoint{}, Endpoint{})
		conn.ConnectEstablished()
		require.Panics(t, func() { conn.ConnectEstablished() })
	})
}
