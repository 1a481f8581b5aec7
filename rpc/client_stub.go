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
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/sony/gobreaker"

	"github.com/jiaweihh/lrpc/future"
	"github.com/jiaweihh/lrpc/pkg/logging"
	"github.com/jiaweihh/lrpc/reactor"
)

const endpointCacheTTL = 60 * time.Second

// ClientStub represents one client-callable remote service: endpoint
// discovery (hard-coded or name-service-backed, cached for 60s),
// round-robin load balancing, and a pooled ClientChannel per
// (worker loop, endpoint) — spec.md §4.10.
type ClientStub struct {
	serviceName string
	pool        *reactor.EventLoopThreadPool
	nameService NameServiceClient
	descriptor  ServiceDescriptor

	hardCodedMu sync.RWMutex
	hardCoded   []reactor.Endpoint

	endpointCache *cache.Cache

	mu                sync.Mutex
	pendingEndpoints  []*future.Promise[[]reactor.Endpoint]
	rrCounter         int

	chMu         sync.Mutex
	channels     map[*reactor.EventLoop]map[reactor.Endpoint]*ClientChannel
	pendingConn  map[*reactor.EventLoop]map[reactor.Endpoint][]*future.Promise[*ClientChannel]

	breakersMu sync.Mutex
	breakers   map[reactor.Endpoint]*gobreaker.CircuitBreaker
}

// NewClientStub creates a stub for serviceName, pulling worker loops
// from pool and (when hardCodedUrls is empty) endpoints from ns.
func NewClientStub(serviceName string, descriptor ServiceDescriptor, pool *reactor.EventLoopThreadPool, ns NameServiceClient) *ClientStub {
	return &ClientStub{
		serviceName:   serviceName,
		descriptor:    descriptor,
		pool:          pool,
		nameService:   ns,
		endpointCache: cache.New(endpointCacheTTL, 2*endpointCacheTTL),
		channels:      make(map[*reactor.EventLoop]map[reactor.Endpoint]*ClientChannel),
		pendingConn:   make(map[*reactor.EventLoop]map[reactor.Endpoint][]*future.Promise[*ClientChannel]),
		breakers:      make(map[reactor.Endpoint]*gobreaker.CircuitBreaker),
	}
}

// SetHardCodedEndpoints overrides name-service discovery with a fixed
// list; passing nil reverts to name-service lookups. Safe to call from
// any goroutine, including an fsnotify watcher reloading a config file
// at runtime (SPEC_FULL.md §4.10).
func (s *ClientStub) SetHardCodedEndpoints(eps []reactor.Endpoint) {
	s.hardCodedMu.Lock()
	s.hardCoded = eps
	s.hardCodedMu.Unlock()
}

func (s *ClientStub) hardCodedEndpoints() []reactor.Endpoint {
	s.hardCodedMu.RLock()
	defer s.hardCodedMu.RUnlock()
	return s.hardCoded
}

// Name returns the service name this stub calls, for admin listing.
func (s *ClientStub) Name() string { return s.serviceName }

// CachedEndpoints returns the stub's last-resolved endpoint set,
// whatever source it came from (hard-coded override or name-service
// cache), for the admin surface's /rpc/stubs endpoint.
func (s *ClientStub) CachedEndpoints() []reactor.Endpoint {
	if hc := s.hardCodedEndpoints(); len(hc) > 0 {
		return hc
	}
	if cached, ok := s.endpointCache.Get(s.serviceName); ok {
		return cached.([]reactor.Endpoint)
	}
	return nil
}

// BreakerState is one endpoint's circuit-breaker snapshot.
type BreakerState struct {
	Endpoint reactor.Endpoint
	State    string
}

// BreakerStates lists the current state of every endpoint breaker this
// stub has created, for the admin surface.
func (s *ClientStub) BreakerStates() []BreakerState {
	s.breakersMu.Lock()
	defer s.breakersMu.Unlock()
	out := make([]BreakerState, 0, len(s.breakers))
	for ep, b := range s.breakers {
		out = append(out, BreakerState{Endpoint: ep, State: b.State().String()})
	}
	return out
}

// GetChannel resolves an endpoint and returns (or establishes) a
// pooled ClientChannel for it on a worker loop, per spec.md §4.10.
func (s *ClientStub) GetChannel() *future.Future[*ClientChannel] {
	loop := s.pool.GetNextLoop()
	epsFut := s.getEndpoints()
	return future.ThenCompose(epsFut, loop, func(r future.Result[[]reactor.Endpoint]) *future.Future[*ClientChannel] {
		if r.HasException() {
			return future.Failed[*ClientChannel](r.Exception())
		}
		eps := r.MustGet()
		if len(eps) == 0 {
			return future.Failed[*ClientChannel](NewCallError(CodeNoAvailableEndpoint, s.serviceName))
		}
		ep := s.selectEndpoint(eps)
		if breaker := s.breakerFor(ep); breaker.State() == gobreaker.StateOpen {
			return future.Failed[*ClientChannel](NewCallError(CodeNoAvailableEndpoint, "circuit open for "+ep.String()))
		}
		return s.makeChannel(loop, ep)
	})
}

func (s *ClientStub) getEndpoints() *future.Future[[]reactor.Endpoint] {
	if hc := s.hardCodedEndpoints(); len(hc) > 0 {
		return future.Ready(hc)
	}
	if cached, ok := s.endpointCache.Get(s.serviceName); ok {
		return future.Ready(cached.([]reactor.Endpoint))
	}

	s.mu.Lock()
	p := future.NewPromise[[]reactor.Endpoint]()
	first := len(s.pendingEndpoints) == 0
	s.pendingEndpoints = append(s.pendingEndpoints, p)
	s.mu.Unlock()

	if first {
		s.issueGetEndpoints()
	}
	return p.Future()
}

func (s *ClientStub) issueGetEndpoints() {
	call := s.nameService.GetEndpoints(s.serviceName)
	call.OnTimeout(2*time.Second, func() {
		s.resolveWaiters(s.staleCacheFallback())
	}, future.Inline)

	future.Then(call, future.Inline, func(r future.Result[[]reactor.Endpoint]) struct{} {
		if r.HasException() {
			s.resolveWaiters(s.staleCacheFallback())
			return struct{}{}
		}
		eps := r.MustGet()
		s.endpointCache.Set(s.serviceName, eps, endpointCacheTTL)
		s.resolveWaiters(endpointResult{eps: eps})
		return struct{}{}
	})
}

type endpointResult struct {
	eps []reactor.Endpoint
	err error
}

func (s *ClientStub) staleCacheFallback() endpointResult {
	if cached, ok := s.endpointCache.Get(s.serviceName); ok {
		return endpointResult{eps: cached.([]reactor.Endpoint)}
	}
	return endpointResult{err: NewCallError(CodeNoAvailableEndpoint, "name service lookup timed out, no cache")}
}

func (s *ClientStub) resolveWaiters(res endpointResult) {
	s.mu.Lock()
	waiters := s.pendingEndpoints
	s.pendingEndpoints = nil
	s.mu.Unlock()

	for _, w := range waiters {
		if res.err != nil {
			w.SetException(res.err)
		} else {
			w.SetValue(res.eps)
		}
	}
}

// selectEndpoint round-robins over eps by a local counter, the only
// load-balancing policy spec.md §4.10 calls for.
func (s *ClientStub) selectEndpoint(eps []reactor.Endpoint) reactor.Endpoint {
	s.mu.Lock()
	idx := s.rrCounter % len(eps)
	s.rrCounter++
	s.mu.Unlock()
	return eps[idx]
}

func (s *ClientStub) breakerFor(ep reactor.Endpoint) *gobreaker.CircuitBreaker {
	s.breakersMu.Lock()
	defer s.breakersMu.Unlock()
	if b, ok := s.breakers[ep]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.serviceName + "->" + ep.String(),
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	s.breakers[ep] = b
	return b
}

func (s *ClientStub) makeChannel(loop *reactor.EventLoop, ep reactor.Endpoint) *future.Future[*ClientChannel] {
	s.chMu.Lock()
	if byEp, ok := s.channels[loop]; ok {
		if ch, ok := byEp[ep]; ok {
			s.chMu.Unlock()
			return future.Ready(ch)
		}
	}
	s.chMu.Unlock()
	return s.connect(loop, ep)
}

func (s *ClientStub) connect(loop *reactor.EventLoop, ep reactor.Endpoint) *future.Future[*ClientChannel] {
	s.chMu.Lock()
	byEp, ok := s.pendingConn[loop]
	if !ok {
		byEp = make(map[reactor.Endpoint][]*future.Promise[*ClientChannel])
		s.pendingConn[loop] = byEp
	}
	p := future.NewPromise[*ClientChannel]()
	waiters, inFlight := byEp[ep]
	byEp[ep] = append(waiters, p)
	s.chMu.Unlock()

	if inFlight {
		return p.Future()
	}

	loop.RunInLoop(func() {
		connector := reactor.NewConnector(loop, ep)
		connector.SetNewConnectionCallback(func(sockFd int) {
			name := s.serviceName + "@" + ep.String()
			conn := reactor.NewTcpConnection(loop, name, sockFd, reactor.Endpoint{}, ep)
			cc := NewClientChannel(loop, conn)
			conn.SetCloseCallback(func(c *reactor.TcpConnection) {
				s.onChannelClosed(loop, ep, cc)
			})
			conn.ConnectEstablished()
			s.breakerFor(ep).Execute(breakerNoop)
			s.installChannel(loop, ep, cc)
		})
		connector.Start()
		// Connector failures retry internally with exponential backoff
		// and are not reported here: the waiters' promises stay
		// unresolved until a connect succeeds, and no timeout is armed
		// on them. The breaker records only successful connects, so
		// connect failures do not trip it.
	})
	return p.Future()
}

func breakerNoop() (interface{}, error) { return nil, nil }

func (s *ClientStub) installChannel(loop *reactor.EventLoop, ep reactor.Endpoint, cc *ClientChannel) {
	s.chMu.Lock()
	byEp, ok := s.channels[loop]
	if !ok {
		byEp = make(map[reactor.Endpoint]*ClientChannel)
		s.channels[loop] = byEp
	}
	byEp[ep] = cc

	waiters := s.pendingConn[loop][ep]
	delete(s.pendingConn[loop], ep)
	s.chMu.Unlock()

	for _, w := range waiters {
		w.SetValue(cc)
	}
}

// onChannelClosed destroys the pooled ClientChannel for (loop, ep),
// queues the TcpConnection's ConnectDestroyed on loop (the connection's
// own loop, which ConnectDestroyed asserts), and logs the teardown on
// the base loop.
func (s *ClientStub) onChannelClosed(loop *reactor.EventLoop, ep reactor.Endpoint, cc *ClientChannel) {
	s.chMu.Lock()
	if byEp, ok := s.channels[loop]; ok {
		delete(byEp, ep)
	}
	s.chMu.Unlock()
	cc.Close()
	loop.QueueInLoop(cc.conn.ConnectDestroyed)
	s.pool.AllLoops()[0].RunInLoop(func() {
		logging.Debugf("client_stub(%s): channel to %s torn down", s.serviceName, ep)
	})
}

// Call resolves a channel, verifies methodName exists on the stub's
// service descriptor, issues the call, and decodes the raw response
// into a freshly allocated Resp via newResp. This is this repo's Go
// idiomatic substitute for the original's templated stub method: the
// descriptor lookup happens here (client-side) rather than inside
// ClientChannel, since only the stub knows the target service's shape.
func Call[Resp Message](s *ClientStub, methodName string, req Message, newResp func() Resp) *future.Future[Resp] {
	if _, ok := s.descriptor.Method(methodName); !ok {
		return future.Failed[Resp](NewCallError(CodeNoSuchMethod, methodName))
	}
	chFut := s.GetChannel()
	return future.ThenCompose(chFut, future.Inline, func(r future.Result[*ClientChannel]) *future.Future[Resp] {
		if r.HasException() {
			return future.Failed[Resp](r.Exception())
		}
		cc := r.MustGet()
		rawFut := cc.call(s.serviceName, methodName, req)
		return future.Then(rawFut, future.Inline, func(rr future.Result[*Response]) Resp {
			if rr.HasException() {
				panic(rr.Exception())
			}
			resp := rr.MustGet()
			out := newResp()
			if err := out.Unmarshal(resp.SerializedResponse); err != nil {
				panic(NewCallError(CodeDecodeFail, err.Error()))
			}
			return out
		})
	})
}
