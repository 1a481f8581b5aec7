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

// Message is this repo's own minimal marshaling contract — deliberately
// not google.golang.org/protobuf's proto.Message, since no .proto
// exists to generate one from (see spec.md §1: descriptor machinery is
// an external, interface-only collaborator).
type Message interface {
	Marshal() ([]byte, error)
	Unmarshal([]byte) error
}

// MessageKind tags which alternative of the RpcMessage sum type a frame
// carries.
type MessageKind uint8

const (
	KindRequest MessageKind = iota + 1
	KindResponse
	KindNameServiceGetEndpoints
	KindNameServiceGetEndpointsReply
	KindNameServiceKeepalive
	KindNameServiceKeepaliveReply
)

// Request is the Request{id, service_name, method_name, serialized_request}
// alternative of RpcMessage.
type Request struct {
	ID                 int32
	ServiceName        string
	MethodName         string
	SerializedRequest []byte
}

// ResponseError is the error{errnum, msg} alternative embedded in Response.
type ResponseError struct {
	Errnum int32
	Msg    string
}

// Response is the Response{id, {serialized_response|error}} alternative.
type Response struct {
	ID                  int32
	SerializedResponse []byte
	Error              *ResponseError // nil on success
}

func (r *Response) IsError() bool { return r.Error != nil }

// WireEndpoint mirrors the wire Endpoint{ip, port} record used by the name
// service, kept distinct from reactor.Endpoint so this package doesn't
// need to import reactor just for wire structs.
type WireEndpoint struct {
	IP   string
	Port uint16
}

// GetEndpointsRequest is NameService.GetEndpoints's ServiceName{name} request.
type GetEndpointsRequest struct {
	Name string
}

// GetEndpointsResponse is NameService.GetEndpoints's EndpointList{endpoints} reply.
type GetEndpointsResponse struct {
	Endpoints []WireEndpoint
}

// KeepaliveRequest is NameService.Keepalive's KeepaliveInfo{service_name,
// endpoint} request.
type KeepaliveRequest struct {
	ServiceName string
	Endpoint    WireEndpoint
}

// KeepaliveResponse is NameService.Keepalive's Status{result} reply.
type KeepaliveResponse struct {
	Result bool
}

// RawMessage is a passthrough Message: Marshal/Unmarshal copy bytes
// verbatim rather than going through msgpack. Useful for generic
// tooling (cmd/lrpc-client) that calls a method without linking the
// service's concrete request/response types.
type RawMessage []byte

func (m RawMessage) Marshal() ([]byte, error) { return m, nil }

func (m *RawMessage) Unmarshal(b []byte) error {
	*m = append((*m)[:0], b...)
	return nil
}
