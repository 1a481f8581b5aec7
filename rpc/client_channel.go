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
	"sync"
	"sync/atomic"
	"time"

	"github.com/jiaweihh/lrpc/future"
	"github.com/jiaweihh/lrpc/pkg/logging"
	"github.com/jiaweihh/lrpc/reactor"
)

// pendingCallTimeout is how long an unanswered call waits before the
// sweep in checkPendingTimeout drops it (spec.md §4.9: 60s, checked
// every 1s).
const pendingCallTimeout = 60 * time.Second

type pendingCall struct {
	promise     *future.Promise[*Response]
	created     time.Time
	serviceName string
	methodName  string
}

// ClientChannel is the per-connection client-side dispatcher: assigns
// request ids, tracks in-flight calls, matches responses, and sweeps
// calls that timed out without a response — spec.md §4.9.
type ClientChannel struct {
	loop  *reactor.EventLoop
	conn  *reactor.TcpConnection
	coder *Coder

	nextID int32 // atomic; substitutes for the original's thread-local counter

	mu      sync.Mutex
	pending map[int32]*pendingCall

	sweepTimer   reactor.TimerID
	hasSweepTimer bool
}

// NewClientChannel binds conn as a client-side dispatcher and installs
// itself as conn's message callback.
func NewClientChannel(loop *reactor.EventLoop, conn *reactor.TcpConnection) *ClientChannel {
	cc := &ClientChannel{
		loop:    loop,
		conn:    conn,
		coder:   DefaultCoder(),
		pending: make(map[int32]*pendingCall),
	}
	conn.SetMessageCallback(cc.onData)
	cc.sweepTimer = loop.RunEvery(time.Second, cc.checkPendingTimeout)
	cc.hasSweepTimer = true
	return cc
}

func (cc *ClientChannel) SetCoder(c *Coder) { cc.coder = c }

// Close cancels the periodic sweep timer; call once the connection is
// torn down (spec.md §4.9: "cancel the periodic timer if the connection
// still exists").
func (cc *ClientChannel) Close() {
	if cc.hasSweepTimer {
		cc.loop.Cancel(cc.sweepTimer)
		cc.hasSweepTimer = false
	}
	cc.mu.Lock()
	pending := cc.pending
	cc.pending = make(map[int32]*pendingCall)
	cc.mu.Unlock()
	for _, pc := range pending {
		pc.promise.SetException(NewCallError(CodeConnectionLost, "connection closed"))
	}
}

// call sends req for the named method and returns a future over the
// raw Response envelope; Call[Resp] (in client_stub.go's generic
// wrapper) decodes that envelope into the caller's response type. If
// the caller isn't on conn's loop, RunInLoop hops there first — the
// returned future is valid to wait/then on immediately either way.
func (cc *ClientChannel) call(serviceName, methodName string, req Message) *future.Future[*Response] {
	if !cc.conn.Connected() {
		return future.Failed[*Response](NewCallError(CodeConnectionLost, "connection not established"))
	}
	p := future.NewPromise[*Response]()
	cc.loop.RunInLoop(func() {
		cc.callInLoop(p, serviceName, methodName, req)
	})
	return p.Future()
}

// CallRaw is call's exported form, for callers outside this package
// that already hold a raw Message and don't go through a ClientStub's
// descriptor-checked Call[Resp] wrapper (e.g. cmd/lrpc-client).
func (cc *ClientChannel) CallRaw(serviceName, methodName string, req Message) *future.Future[*Response] {
	return cc.call(serviceName, methodName, req)
}

func (cc *ClientChannel) callInLoop(p *future.Promise[*Response], serviceName, methodName string, req Message) {
	body, err := req.Marshal()
	if err != nil {
		p.SetException(NewCallError(CodeEncodeFail, err.Error()))
		return
	}

	id := atomic.AddInt32(&cc.nextID, 1)
	wire := &Request{ID: id, ServiceName: serviceName, MethodName: methodName, SerializedRequest: body}
	payload, err := wire.Marshal()
	if err != nil {
		p.SetException(NewCallError(CodeEncodeFail, err.Error()))
		return
	}

	out := reactor.NewBuffer()
	cc.coder.EncodeFrame(out, KindRequest, payload)

	cc.mu.Lock()
	cc.pending[id] = &pendingCall{promise: p, created: time.Now(), serviceName: serviceName, methodName: methodName}
	cc.mu.Unlock()

	cc.conn.Send(out.Peek())
}

func (cc *ClientChannel) onData(conn *reactor.TcpConnection, buf *reactor.Buffer, ts time.Time) {
	for {
		frame, ok, err := cc.coder.TryDecodeFrame(buf)
		if err != nil {
			logging.Warnf("client_channel(%s): %v, closing connection", conn.Name(), err)
			conn.ForceClose()
			return
		}
		if !ok {
			return
		}
		if frame.Kind != KindResponse {
			continue
		}
		var resp Response
		if err := resp.Unmarshal(frame.Payload); err != nil {
			logging.Warnf("client_channel(%s): malformed response: %v", conn.Name(), err)
			continue
		}
		cc.onMessage(&resp)
	}
}

func (cc *ClientChannel) onMessage(resp *Response) {
	cc.mu.Lock()
	pc, ok := cc.pending[resp.ID]
	if ok {
		delete(cc.pending, resp.ID)
	}
	cc.mu.Unlock()

	if !ok {
		logging.Debugf("client_channel: response for unknown id %d dropped (already timed out?)", resp.ID)
		return
	}
	if resp.IsError() {
		pc.promise.SetException(NewCallError(Code(resp.Error.Errnum), resp.Error.Msg))
		return
	}
	pc.promise.SetValue(resp)
}

func (cc *ClientChannel) checkPendingTimeout() {
	now := time.Now()
	var expired []*pendingCall

	cc.mu.Lock()
	for id, pc := range cc.pending {
		if now.Sub(pc.created) > pendingCallTimeout {
			expired = append(expired, pc)
			delete(cc.pending, id)
		}
	}
	cc.mu.Unlock()

	for _, pc := range expired {
		logging.WithFields(logging.Call(pc.serviceName, pc.methodName)).
			Warnf("client_channel: call timed out after %s", pendingCallTimeout)
		pc.promise.SetException(NewCallError(CodeTimeout, "call timed out"))
	}
}
