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

package rpc

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/jiaweihh/lrpc/reactor"
)

// newRunningLoop starts an EventLoop on its own locked OS thread and
// blocks until it's ready to accept RunInLoop work, the same shape
// RpcServer's worker pool uses.
func newRunningLoop(t *testing.T) (*reactor.EventLoop, func()) {
	t.Helper()
	ready := make(chan *reactor.EventLoop, 1)
	errs := make(chan error, 1)
	done := make(chan struct{})

	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		loop, err := reactor.NewEventLoop()
		if err != nil {
			errs <- err
			ready <- nil
			return
		}
		errs <- nil
		ready <- loop
		loop.Loop()
		close(done)
	}()

	require.NoError(t, <-errs)
	loop := <-ready
	require.NotNil(t, loop)

	return loop, func() {
		loop.Quit()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("loop did not stop after Quit")
		}
	}
}

func TestServerClientChannelRoundTrip(t *testing.T) {
	serverLoop, stopServer := newRunningLoop(t)
	defer stopServer()
	clientLoop, stopClient := newRunningLoop(t)
	defer stopClient()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.NoError(t, err)

	desc, err := NewServiceDescriptor("Echo", echoService{})
	require.NoError(t, err)
	registry := map[string]ServiceDescriptor{"Echo": desc}

	serverLoop.RunInLoop(func() {
		conn := reactor.NewTcpConnection(serverLoop, "server", fds[0], reactor.Endpoint{}, reactor.Endpoint{})
		NewServerChannel(conn, registry)
		conn.ConnectEstablished()
	})

	var cc *ClientChannel
	clientReady := make(chan struct{})
	clientLoop.RunInLoop(func() {
		conn := reactor.NewTcpConnection(clientLoop, "client", fds[1], reactor.Endpoint{}, reactor.Endpoint{})
		cc = NewClientChannel(clientLoop, conn)
		conn.ConnectEstablished()
		close(clientReady)
	})
	<-clientReady

	req := &echoRequest{Text: "ping"}
	fut := cc.CallRaw("Echo", "Say", req)

	r, err := fut.Wait(2 * time.Second)
	require.NoError(t, err)
	require.False(t, r.HasException(), "call failed: %v", r.Exception())

	resp := r.MustGet()
	require.False(t, resp.IsError())

	var decoded echoResponse
	require.NoError(t, decoded.Unmarshal(resp.SerializedResponse))
	require.Equal(t, "echo:ping", decoded.Text)
}

func TestServerChannelRespondsNoSuchService(t *testing.T) {
	serverLoop, stopServer := newRunningLoop(t)
	defer stopServer()
	clientLoop, stopClient := newRunningLoop(t)
	defer stopClient()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.NoError(t, err)

	serverLoop.RunInLoop(func() {
		conn := reactor.NewTcpConnection(serverLoop, "server", fds[0], reactor.Endpoint{}, reactor.Endpoint{})
		NewServerChannel(conn, map[string]ServiceDescriptor{})
		conn.ConnectEstablished()
	})

	var cc *ClientChannel
	clientReady := make(chan struct{})
	clientLoop.RunInLoop(func() {
		conn := reactor.NewTcpConnection(clientLoop, "client", fds[1], reactor.Endpoint{}, reactor.Endpoint{})
		cc = NewClientChannel(clientLoop, conn)
		conn.ConnectEstablished()
		close(clientReady)
	})
	<-clientReady

	fut := cc.CallRaw("NoSuchSvc", "Whatever", &echoRequest{Text: "x"})
	r, err := fut.Wait(2 * time.Second)
	require.NoError(t, err)
	require.True(t, r.HasException())

	var callErr *CallError
	require.ErrorAs(t, r.Exception(), &callErr)
	require.Equal(t, CodeNoSuchService, callErr.Code)
}
