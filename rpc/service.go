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
	"fmt"
	"reflect"

	"github.com/pkg/errors"
)

// ServiceDescriptor is the minimal stand-in for a generated protobuf
// service descriptor: enough for ServerChannel to look a method up by
// name and invoke it without this package knowing the concrete Go
// types involved.
type ServiceDescriptor interface {
	Name() string
	Method(name string) (MethodDescriptor, bool)
	MethodNames() []string
}

// MethodDescriptor describes one RPC method: its request/response
// prototypes and how to invoke the underlying Go implementation.
type MethodDescriptor interface {
	Name() string
	NewRequest() Message
	NewResponse() Message
	Invoke(ctx context.Context, req Message) (Message, error)
}

// reflectedService builds a ServiceDescriptor by reflecting over a
// plain Go struct whose methods have the shape
// func(context.Context, ReqT) (RespT, error) — mirroring how the
// teacher wraps a plain handler struct rather than a generated stub.
type reflectedService struct {
	name    string
	methods map[string]*reflectedMethod
}

type reflectedMethod struct {
	name     string
	reqType  reflect.Type // ReqT, not pointer
	respType reflect.Type // RespT, not pointer
	fn       reflect.Value
}

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	messageType = reflect.TypeOf((*Message)(nil)).Elem()
)

// NewServiceDescriptor reflects over impl and registers every exported
// method matching func(context.Context, ReqT) (RespT, error) where
// both ReqT and RespT implement Message (as pointers).
func NewServiceDescriptor(svcName string, impl interface{}) (ServiceDescriptor, error) {
	v := reflect.ValueOf(impl)
	t := v.Type()

	s := &reflectedService{name: svcName, methods: make(map[string]*reflectedMethod)}
	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		ft := m.Func.Type()
		// ft: (impl, ctx, req) -> (resp, error)
		if ft.NumIn() != 3 || ft.NumOut() != 2 {
			continue
		}
		if ft.In(1) != contextType {
			continue
		}
		if ft.Out(1) != errorType {
			continue
		}
		reqType := ft.In(2)
		respType := ft.Out(0)
		if !reflect.PtrTo(reqType).Implements(messageType) && !reqType.Implements(messageType) {
			continue
		}
		if !reflect.PtrTo(respType).Implements(messageType) && !respType.Implements(messageType) {
			continue
		}
		s.methods[m.Name] = &reflectedMethod{
			name:     m.Name,
			reqType:  reqType,
			respType: respType,
			fn:       v.Method(i),
		}
	}
	if len(s.methods) == 0 {
		return nil, errors.Errorf("rpc: %T exposes no methods matching func(context.Context, Req) (Resp, error)", impl)
	}
	return s, nil
}

func (s *reflectedService) Name() string { return s.name }

func (s *reflectedService) Method(name string) (MethodDescriptor, bool) {
	m, ok := s.methods[name]
	return m, ok
}

func (s *reflectedService) MethodNames() []string {
	out := make([]string, 0, len(s.methods))
	for name := range s.methods {
		out = append(out, name)
	}
	return out
}

func (m *reflectedMethod) Name() string { return m.name }

func (m *reflectedMethod) NewRequest() Message {
	return newMessageOf(m.reqType)
}

func (m *reflectedMethod) NewResponse() Message {
	return newMessageOf(m.respType)
}

func newMessageOf(t reflect.Type) Message {
	if t.Kind() == reflect.Ptr {
		return reflect.New(t.Elem()).Interface().(Message)
	}
	return reflect.New(t).Interface().(Message)
}

func (m *reflectedMethod) Invoke(ctx context.Context, req Message) (Message, error) {
	reqVal := reflect.ValueOf(req)
	if m.reqType.Kind() != reflect.Ptr {
		reqVal = reqVal.Elem()
	}
	out := m.fn.Call([]reflect.Value{reflect.ValueOf(ctx), reqVal})
	if errVal := out[1]; !errVal.IsNil() {
		return nil, errVal.Interface().(error)
	}
	resp := out[0]
	if resp.Type().Implements(messageType) {
		msg, ok := resp.Interface().(Message)
		if !ok {
			return nil, fmt.Errorf("rpc: method %s response does not implement Message", m.name)
		}
		return msg, nil
	}
	// resp came back by value (RespT, not *RespT): reflect.Call results
	// aren't addressable, so copy into a fresh addressable RespT before
	// taking its pointer.
	ptr := reflect.New(resp.Type())
	ptr.Elem().Set(resp)
	msg, ok := ptr.Interface().(Message)
	if !ok {
		return nil, fmt.Errorf("rpc: method %s response does not implement Message", m.name)
	}
	return msg, nil
}
