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
	"time"

	"github.com/cornelk/hashmap"

	"github.com/jiaweihh/lrpc/future"
	"github.com/jiaweihh/lrpc/pkg/logging"
	"github.com/jiaweihh/lrpc/reactor"
)

// Registry is the process-wide, concurrency-safe map of service name
// to ServiceDescriptor. Lookups happen on every worker loop concurrent
// with registration on the base loop, so it's backed by
// cornelk/hashmap rather than a mutex-guarded Go map.
type Registry struct {
	services *hashmap.Map[string, ServiceDescriptor]
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{services: hashmap.New[string, ServiceDescriptor]()}
}

// Register adds svc under its own Name(). Registering the same name
// twice overwrites the previous descriptor.
func (r *Registry) Register(svc ServiceDescriptor) {
	r.services.Set(svc.Name(), svc)
}

// Lookup returns the descriptor registered under name, if any.
func (r *Registry) Lookup(name string) (ServiceDescriptor, bool) {
	return r.services.Get(name)
}

// snapshot copies the registry into a plain map, the shape
// ServerChannel's constructor wants and the admin surface's listing
// endpoint can serialize directly.
func (r *Registry) snapshot() map[string]ServiceDescriptor {
	out := make(map[string]ServiceDescriptor)
	r.services.Range(func(name string, svc ServiceDescriptor) bool {
		out[name] = svc
		return true
	})
	return out
}

// Names lists every registered service name, for admin introspection.
func (r *Registry) Names() []string {
	out := make([]string, 0)
	r.services.Range(func(name string, _ ServiceDescriptor) bool {
		out = append(out, name)
		return true
	})
	return out
}

// RpcServer owns the reactor side of serving: an Acceptor on the base
// loop, a worker EventLoopThreadPool, the service Registry every
// ServerChannel consults, and an optional keepalive loop against a
// name service (spec.md §4.13/ambient-stack heartbeat).
type RpcServer struct {
	base     *reactor.EventLoop
	pool     *reactor.EventLoopThreadPool
	acceptor *reactor.Acceptor
	registry *Registry

	nameService NameServiceClient
	selfAddr    reactor.Endpoint
	keepaliveID reactor.TimerID
}

// NewRpcServer binds a listener on addr with numWorkers worker loops.
func NewRpcServer(addr reactor.Endpoint, numWorkers int, backlog int) (*RpcServer, error) {
	base, err := reactor.NewEventLoop()
	if err != nil {
		return nil, err
	}
	pool := reactor.NewEventLoopThreadPool(base)
	if err := pool.Start(numWorkers); err != nil {
		return nil, err
	}

	acceptor, err := reactor.NewAcceptor(base, addr, backlog)
	if err != nil {
		return nil, err
	}

	s := &RpcServer{base: base, pool: pool, acceptor: acceptor, registry: NewRegistry(), selfAddr: addr}
	acceptor.SetNewConnectionCallback(s.onNewConnection)
	return s, nil
}

// Registry exposes the server's service registry for Register calls
// and admin introspection.
func (s *RpcServer) Registry() *Registry { return s.registry }

// EnableKeepalive arms a periodic heartbeat to ns advertising every
// currently-registered service name under selfAddr, the name-service
// registration half of spec.md §4.13 that complements ClientStub's
// discovery half.
func (s *RpcServer) EnableKeepalive(ns NameServiceClient, interval time.Duration) {
	s.nameService = ns
	s.keepaliveID = s.base.RunEvery(interval, func() {
		for _, name := range s.registry.Names() {
			call := s.nameService.Keepalive(name, s.selfAddr)
			call.OnTimeout(2*time.Second, func() {
				logging.Warnf("rpc_server: keepalive for %s timed out", name)
			}, future.Inline)
		}
	})
}

func (s *RpcServer) onNewConnection(connFd int, peer reactor.Endpoint) {
	loop := s.pool.GetNextLoop()
	loop.RunInLoop(func() {
		name := "conn#" + peer.String()
		conn := reactor.NewTcpConnection(loop, name, connFd, s.selfAddr, peer)
		NewServerChannel(conn, s.registry.snapshot())
		conn.SetCloseCallback(func(c *reactor.TcpConnection) {
			loop.QueueInLoop(c.ConnectDestroyed)
		})
		conn.ConnectEstablished()
	})
}

// Serve starts listening and runs the base loop's cycle on the calling
// goroutine (the worker loops already run since pool.Start in
// NewRpcServer); it returns once Stop is called.
func (s *RpcServer) Serve() {
	s.acceptor.Listen()
	s.base.Loop()
}

// Stop shuts down the base loop, every worker loop, and the listener.
func (s *RpcServer) Stop() {
	if s.nameService != nil {
		s.base.Cancel(s.keepaliveID)
	}
	if err := s.pool.QuitAll(); err != nil {
		logging.Warnf("rpc_server: worker shutdown errors: %v", err)
	}
	s.base.Quit()
	_ = s.acceptor.Close()
}
