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
	"context"
	"time"

	"github.com/jiaweihh/lrpc/pkg/logging"
	"github.com/jiaweihh/lrpc/reactor"
)

// MethodSelector extracts a method name from a non-default-protocol
// frame's payload, for wire formats where Request.method_name isn't
// how the method is identified. ServerChannel stores one given to
// SetMethodSelector, but dispatch always takes the method from
// Request.MethodName and never calls the selector.
type MethodSelector func(payload []byte) (string, error)

// ServerChannel is the per-connection server-side dispatcher: decode a
// request frame, look up and invoke the registered service method,
// encode and send the response — spec.md §4.8.
type ServerChannel struct {
	conn     *reactor.TcpConnection
	coder    *Coder
	services map[string]ServiceDescriptor
	selector MethodSelector
}

// NewServerChannel binds conn to the given service registry (typically
// shared across every connection via RpcServer). It installs itself as
// conn's message callback.
func NewServerChannel(conn *reactor.TcpConnection, services map[string]ServiceDescriptor) *ServerChannel {
	sc := &ServerChannel{conn: conn, coder: DefaultCoder(), services: services}
	conn.SetMessageCallback(sc.onData)
	return sc
}

func (sc *ServerChannel) SetCoder(c *Coder)               { sc.coder = c }
func (sc *ServerChannel) SetMethodSelector(f MethodSelector) { sc.selector = f }

func (sc *ServerChannel) onData(conn *reactor.TcpConnection, buf *reactor.Buffer, ts time.Time) {
	for {
		frame, ok, err := sc.coder.TryDecodeFrame(buf)
		if err != nil {
			cerr := err.(*CallError)
			logging.Warnf("server_channel(%s): %v, closing connection", conn.Name(), cerr)
			conn.ForceClose()
			return
		}
		if !ok {
			return
		}
		sc.dispatch(frame)
	}
}

func (sc *ServerChannel) dispatch(frame *Frame) {
	if frame.Kind != KindRequest {
		logging.Warnf("server_channel(%s): unexpected frame kind %d, dropped", sc.conn.Name(), frame.Kind)
		return
	}
	var req Request
	if err := req.Unmarshal(frame.Payload); err != nil {
		sc.sendError(0, CodeDecodeFail, err.Error())
		sc.conn.ForceClose()
		return
	}
	if len(req.SerializedRequest) == 0 && req.MethodName == "" {
		sc.sendError(req.ID, CodeEmptyRequest, "empty request")
		return
	}

	svc, ok := sc.services[req.ServiceName]
	if !ok {
		logging.WithFields(logging.Call(req.ServiceName, req.MethodName).WithRequestID(uint64(req.ID))).
			Warnf("server_channel(%s): no such service", sc.conn.Name())
		sc.sendError(req.ID, CodeNoSuchService, req.ServiceName)
		return
	}
	method, ok := svc.Method(req.MethodName)
	if !ok {
		logging.WithFields(logging.Call(req.ServiceName, req.MethodName).WithRequestID(uint64(req.ID))).
			Warnf("server_channel(%s): no such method", sc.conn.Name())
		sc.sendError(req.ID, CodeNoSuchMethod, req.MethodName)
		return
	}

	reqMsg := method.NewRequest()
	if err := reqMsg.Unmarshal(req.SerializedRequest); err != nil {
		sc.sendError(req.ID, CodeDecodeFail, err.Error())
		sc.conn.ForceClose()
		return
	}

	sc.invoke(req.ServiceName, req.ID, method, reqMsg)
}

func (sc *ServerChannel) invoke(serviceName string, id int32, method MethodDescriptor, reqMsg Message) {
	defer func() {
		if r := recover(); r != nil {
			logging.WithFields(logging.Call(serviceName, method.Name()).WithRequestID(uint64(id))).
				Errorf("server_channel(%s): method panicked: %v", sc.conn.Name(), r)
			sc.sendError(id, CodeThrowInMethod, "method panicked")
		}
	}()

	respMsg, err := method.Invoke(context.Background(), reqMsg)
	if err != nil {
		sc.sendError(id, CodeThrowInMethod, err.Error())
		return
	}
	sc.sendResponse(id, respMsg)
}

func (sc *ServerChannel) sendResponse(id int32, respMsg Message) {
	body, err := respMsg.Marshal()
	if err != nil {
		sc.sendError(id, CodeEncodeFail, err.Error())
		return
	}
	resp := &Response{ID: id, SerializedResponse: body}
	sc.send(resp)
}

func (sc *ServerChannel) sendError(id int32, code Code, msg string) {
	resp := &Response{ID: id, Error: &ResponseError{Errnum: int32(code), Msg: msg}}
	sc.send(resp)
	if connectionFatal(code) {
		sc.conn.ForceClose()
	}
}

func (sc *ServerChannel) send(resp *Response) {
	if !sc.conn.Connected() {
		return
	}
	body, err := resp.Marshal()
	if err != nil {
		logging.Errorf("server_channel(%s): failed to marshal response: %v", sc.conn.Name(), err)
		return
	}
	out := reactor.NewBuffer()
	sc.coder.EncodeFrame(out, KindResponse, body)
	sc.conn.Send(out.Peek())
}
