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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRawMessageRoundTrip(t *testing.T) {
	var m RawMessage
	require.NoError(t, m.Unmarshal([]byte("hello")))

	out, err := m.Marshal()
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), out)
}

func TestRawMessageUnmarshalReusesBacking(t *testing.T) {
	m := RawMessage(make([]byte, 0, 16))
	require.NoError(t, m.Unmarshal([]byte("first")))
	require.NoError(t, m.Unmarshal([]byte("second-longer")))

	out, err := m.Marshal()
	require.NoError(t, err)
	require.Equal(t, []byte("second-longer"), out)
}

func TestResponseIsError(t *testing.T) {
	ok := &Response{ID: 1, SerializedResponse: []byte("ok")}
	require.False(t, ok.IsError())

	failed := &Response{ID: 1, Error: &ResponseError{Errnum: int32(CodeTimeout), Msg: "timed out"}}
	require.True(t, failed.IsError())
}

func TestRequestMsgpackRoundTrip(t *testing.T) {
	req := &Request{ID: 42, ServiceName: "Echo", MethodName: "Say", SerializedRequest: []byte("payload")}
	data, err := req.Marshal()
	require.NoError(t, err)

	var decoded Request
	require.NoError(t, decoded.Unmarshal(data))
	require.Equal(t, *req, decoded)
}
