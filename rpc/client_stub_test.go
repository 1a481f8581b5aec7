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
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"

	"github.com/jiaweihh/lrpc/reactor"
)

func TestClientStubCachedEndpointsPrefersHardCoded(t *testing.T) {
	desc, err := NewServiceDescriptor("Echo", echoService{})
	require.NoError(t, err)
	s := NewClientStub("Echo", desc, nil, NewInProcessNameService())

	require.Nil(t, s.CachedEndpoints())

	hc := []reactor.Endpoint{{IP: "10.0.0.1", Port: 1}}
	s.SetHardCodedEndpoints(hc)
	require.Equal(t, hc, s.CachedEndpoints())

	s.SetHardCodedEndpoints(nil)
	require.Nil(t, s.CachedEndpoints())
}

func TestClientStubSelectEndpointRoundRobins(t *testing.T) {
	desc, _ := NewServiceDescriptor("Echo", echoService{})
	s := NewClientStub("Echo", desc, nil, NewInProcessNameService())

	eps := []reactor.Endpoint{{IP: "1.1.1.1", Port: 1}, {IP: "2.2.2.2", Port: 2}, {IP: "3.3.3.3", Port: 3}}
	var seen []reactor.Endpoint
	for i := 0; i < 6; i++ {
		seen = append(seen, s.selectEndpoint(eps))
	}
	require.Equal(t, []reactor.Endpoint{eps[0], eps[1], eps[2], eps[0], eps[1], eps[2]}, seen)
}

func TestClientStubBreakerForIsStableAndClosedInitially(t *testing.T) {
	desc, _ := NewServiceDescriptor("Echo", echoService{})
	s := NewClientStub("Echo", desc, nil, NewInProcessNameService())
	ep := reactor.Endpoint{IP: "10.0.0.5", Port: 5}

	b1 := s.breakerFor(ep)
	b2 := s.breakerFor(ep)
	require.Same(t, b1, b2)
	require.Equal(t, gobreaker.StateClosed, b1.State())

	states := s.BreakerStates()
	require.Len(t, states, 1)
	require.Equal(t, ep, states[0].Endpoint)
	require.Equal(t, "closed", states[0].State)
}

func TestCallRejectsUnknownMethod(t *testing.T) {
	desc, _ := NewServiceDescriptor("Echo", echoService{})
	s := NewClientStub("Echo", desc, nil, NewInProcessNameService())

	fut := Call[*echoResponse](s, "NoSuchMethod", &echoRequest{Text: "x"}, func() *echoResponse { return &echoResponse{} })
	r, err := fut.Wait(time.Second)
	require.NoError(t, err)
	require.True(t, r.HasException())

	var callErr *CallError
	require.ErrorAs(t, r.Exception(), &callErr)
	require.Equal(t, CodeNoSuchMethod, callErr.Code)
}
