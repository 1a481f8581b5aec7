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
	"sync"
	"time"

	"github.com/jiaweihh/lrpc/future"
	"github.com/jiaweihh/lrpc/reactor"
)

// NameServiceClient is the contract both the in-process registry and
// the Redis-text adapter satisfy: discover a service's endpoints, and
// let a service instance advertise itself (spec.md §6's lrpc.NameService).
type NameServiceClient interface {
	GetEndpoints(serviceName string) *future.Future[[]reactor.Endpoint]
	Keepalive(serviceName string, ep reactor.Endpoint) *future.Future[bool]
}

// inProcessNameService is a small in-memory implementation used for
// tests and single-process deployments — identical in shape to the
// wire service so it can also be mounted as an actual lrpc.NameService
// behind Registry (spec_full.md §4.13).
type inProcessNameService struct {
	mu        sync.Mutex
	endpoints map[string]map[reactor.Endpoint]time.Time // service -> endpoint -> last keepalive
}

// NewInProcessNameService creates a NameServiceClient backed by an
// in-memory registry. Entries older than staleAfter are excluded from
// GetEndpoints results, mirroring the Redis adapter's staleness rule.
func NewInProcessNameService() NameServiceClient {
	return &inProcessNameService{endpoints: make(map[string]map[reactor.Endpoint]time.Time)}
}

const inProcessStaleAfter = 30 * time.Second

func (n *inProcessNameService) GetEndpoints(serviceName string) *future.Future[[]reactor.Endpoint] {
	n.mu.Lock()
	defer n.mu.Unlock()

	byEp := n.endpoints[serviceName]
	now := time.Now()
	out := make([]reactor.Endpoint, 0, len(byEp))
	for ep, last := range byEp {
		if now.Sub(last) <= inProcessStaleAfter {
			out = append(out, ep)
		}
	}
	return future.Ready(out)
}

func (n *inProcessNameService) Keepalive(serviceName string, ep reactor.Endpoint) *future.Future[bool] {
	n.mu.Lock()
	defer n.mu.Unlock()

	byEp, ok := n.endpoints[serviceName]
	if !ok {
		byEp = make(map[reactor.Endpoint]time.Time)
		n.endpoints[serviceName] = byEp
	}
	byEp[ep] = time.Now()
	return future.Ready(true)
}

// NameServiceDescriptor builds the ServiceDescriptor for mounting an
// inProcessNameService as an actual lrpc.NameService under Registry,
// using the GetEndpoints/Keepalive message shapes from spec.md §6.
func NameServiceDescriptor(impl NameServiceClient) (ServiceDescriptor, error) {
	return NewServiceDescriptor("lrpc.NameService", &nameServiceAdapter{impl: impl})
}

// nameServiceAdapter reshapes NameServiceClient's (string, Endpoint)
// signature into the func(context.Context, ReqT) (RespT, error) shape
// NewServiceDescriptor's reflection expects.
type nameServiceAdapter struct{ impl NameServiceClient }

func (a *nameServiceAdapter) GetEndpoints(_ context.Context, req *GetEndpointsRequest) (*GetEndpointsResponse, error) {
	fut := a.impl.GetEndpoints(req.Name)
	r, err := fut.Wait(5 * time.Second)
	if err != nil {
		return nil, err
	}
	v, err := r.Get()
	if err != nil {
		return nil, err
	}
	resp := &GetEndpointsResponse{Endpoints: make([]WireEndpoint, 0, len(v))}
	for _, e := range v {
		resp.Endpoints = append(resp.Endpoints, WireEndpoint{IP: e.IP, Port: e.Port})
	}
	return resp, nil
}

func (a *nameServiceAdapter) Keepalive(_ context.Context, req *KeepaliveRequest) (*KeepaliveResponse, error) {
	ep := reactor.Endpoint{IP: req.Endpoint.IP, Port: req.Endpoint.Port}
	fut := a.impl.Keepalive(req.ServiceName, ep)
	r, err := fut.Wait(5 * time.Second)
	if err != nil {
		return nil, err
	}
	ok, err := r.Get()
	if err != nil {
		return nil, err
	}
	return &KeepaliveResponse{Result: ok}, nil
}
