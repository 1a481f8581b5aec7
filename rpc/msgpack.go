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

import "github.com/hashicorp/go-msgpack/codec"

// msgpackHandle is shared across every Marshal/Unmarshal call in this
// package, the same codec.MsgpackHandle configuration boxcast-serf's
// RPC client uses for its request/response stream.
var msgpackHandle = &codec.MsgpackHandle{RawToString: true, WriteExt: true}

func msgpackMarshal(v interface{}) ([]byte, error) {
	var out []byte
	enc := codec.NewEncoderBytes(&out, msgpackHandle)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return out, nil
}

func msgpackUnmarshal(data []byte, v interface{}) error {
	dec := codec.NewDecoderBytes(data, msgpackHandle)
	return dec.Decode(v)
}

func (r *Request) Marshal() ([]byte, error)  { return msgpackMarshal(r) }
func (r *Request) Unmarshal(b []byte) error  { return msgpackUnmarshal(b, r) }
func (r *Response) Marshal() ([]byte, error) { return msgpackMarshal(r) }
func (r *Response) Unmarshal(b []byte) error { return msgpackUnmarshal(b, r) }

func (r *GetEndpointsRequest) Marshal() ([]byte, error)  { return msgpackMarshal(r) }
func (r *GetEndpointsRequest) Unmarshal(b []byte) error  { return msgpackUnmarshal(b, r) }
func (r *GetEndpointsResponse) Marshal() ([]byte, error) { return msgpackMarshal(r) }
func (r *GetEndpointsResponse) Unmarshal(b []byte) error { return msgpackUnmarshal(b, r) }

func (r *KeepaliveRequest) Marshal() ([]byte, error)  { return msgpackMarshal(r) }
func (r *KeepaliveRequest) Unmarshal(b []byte) error  { return msgpackUnmarshal(b, r) }
func (r *KeepaliveResponse) Marshal() ([]byte, error) { return msgpackMarshal(r) }
func (r *KeepaliveResponse) Unmarshal(b []byte) error { return msgpackUnmarshal(b, r) }
