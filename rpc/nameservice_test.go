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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jiaweihh/lrpc/reactor"
)

func TestInProcessNameServiceKeepaliveThenGetEndpoints(t *testing.T) {
	ns := NewInProcessNameService()
	ep := reactor.Endpoint{IP: "10.0.0.1", Port: 1234}

	ok, err := ns.Keepalive("Echo", ep).Wait(time.Second)
	require.NoError(t, err)
	require.True(t, ok.MustGet())

	eps, err := ns.GetEndpoints("Echo").Wait(time.Second)
	require.NoError(t, err)
	require.Equal(t, []reactor.Endpoint{ep}, eps.MustGet())
}

func TestInProcessNameServiceUnknownServiceIsEmpty(t *testing.T) {
	ns := NewInProcessNameService()
	eps, err := ns.GetEndpoints("Unknown").Wait(time.Second)
	require.NoError(t, err)
	require.Empty(t, eps.MustGet())
}

func TestNameServiceDescriptorGetEndpoints(t *testing.T) {
	ns := NewInProcessNameService()
	ep := reactor.Endpoint{IP: "10.0.0.2", Port: 5678}
	_, err := ns.Keepalive("Echo", ep).Wait(time.Second)
	require.NoError(t, err)

	desc, err := NameServiceDescriptor(ns)
	require.NoError(t, err)
	require.Equal(t, "lrpc.NameService", desc.Name())

	method, ok := desc.Method("GetEndpoints")
	require.True(t, ok)

	req := &GetEndpointsRequest{Name: "Echo"}
	out, err := method.Invoke(context.Background(), req)
	require.NoError(t, err)

	resp, ok := out.(*GetEndpointsResponse)
	require.True(t, ok)
	require.Equal(t, []WireEndpoint{{IP: "10.0.0.2", Port: 5678}}, resp.Endpoints)
}

func TestNameServiceDescriptorKeepalive(t *testing.T) {
	ns := NewInProcessNameService()
	desc, err := NameServiceDescriptor(ns)
	require.NoError(t, err)

	method, ok := desc.Method("Keepalive")
	require.True(t, ok)

	req := &KeepaliveRequest{ServiceName: "Echo", Endpoint: WireEndpoint{IP: "10.0.0.3", Port: 9999}}
	out, err := method.Invoke(context.Background(), req)
	require.NoError(t, err)

	resp, ok := out.(*KeepaliveResponse)
	require.True(t, ok)
	require.True(t, resp.Result)

	eps, err := ns.GetEndpoints("Echo").Wait(time.Second)
	require.NoError(t, err)
	require.Equal(t, []reactor.Endpoint{{IP: "10.0.0.3", Port: 9999}}, eps.MustGet())
}
