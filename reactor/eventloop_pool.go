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

//go:build linux || freebsd || dragonfly || darwin
// +build linux freebsd dragonfly darwin

package reactor

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"

	"github.com/jiaweihh/lrpc/pkg/logging"
)

// EventLoopThreadPool owns N worker EventLoops, each pinned to its own
// locked OS thread, and hands new TcpConnections out to them
// round-robin so the base (accepting) loop never does connection I/O
// itself — the one-loop-per-thread / N-loop sub-reactor pattern.
type EventLoopThreadPool struct {
	base *EventLoop

	mu        sync.Mutex
	started   bool
	loops     []*EventLoop
	wg        sync.WaitGroup
	next      uint64
	closeErrs *multierror.Error // worker Close() failures, collected at shutdown
}

// NewEventLoopThreadPool creates a pool driven by base; base itself is
// included in the round-robin rotation when numThreads is 0.
func NewEventLoopThreadPool(base *EventLoop) *EventLoopThreadPool {
	return &EventLoopThreadPool{base: base}
}

// Start launches numThreads worker loops, each on its own locked OS
// thread, and blocks until every one has finished constructing its
// EventLoop (so GetNextLoop is safe to call immediately after Start
// returns).
func (p *EventLoopThreadPool) Start(numThreads int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}
	p.started = true

	if numThreads <= 0 {
		return nil
	}

	ready := make(chan *EventLoop, numThreads)
	errs := make(chan error, numThreads)

	for i := 0; i < numThreads; i++ {
		p.wg.Add(1)
		go func(idx int) {
			defer p.wg.Done()
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()

			loop, err := NewEventLoop()
			if err != nil {
				errs <- err
				ready <- nil
				return
			}
			errs <- nil
			ready <- loop
			loop.Loop()
			if cerr := loop.Close(); cerr != nil {
				p.mu.Lock()
				p.closeErrs = multierror.Append(p.closeErrs, cerr)
				p.mu.Unlock()
				logging.Warnf("eventloop pool worker %d: close error: %v", idx, cerr)
			}
		}(i)
	}

	// Every worker reports into errs/ready regardless of outcome, so
	// draining both fully here (rather than bailing on the first error)
	// avoids leaking the goroutines that are still blocked sending on
	// ready for a loop that never gets collected.
	var startErrs *multierror.Error
	for i := 0; i < numThreads; i++ {
		if err := <-errs; err != nil {
			startErrs = multierror.Append(startErrs, err)
		}
		if loop := <-ready; loop != nil {
			p.loops = append(p.loops, loop)
		}
	}
	return startErrs.ErrorOrNil()
}

// GetNextLoop returns the next loop in round-robin order: a pool
// worker if any were started, otherwise the base loop.
func (p *EventLoopThreadPool) GetNextLoop() *EventLoop {
	p.mu.Lock()
	loops := p.loops
	p.mu.Unlock()

	if len(loops) == 0 {
		return p.base
	}
	idx := atomic.AddUint64(&p.next, 1)
	return loops[idx%uint64(len(loops))]
}

// AllLoops returns the base loop followed by every pool worker, used
// for admin introspection and shutdown fan-out.
func (p *EventLoopThreadPool) AllLoops() []*EventLoop {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*EventLoop, 0, len(p.loops)+1)
	out = append(out, p.base)
	out = append(out, p.loops...)
	return out
}

// QuitAll asks every worker loop (but not the base loop) to stop, waits
// for their goroutines to exit, and returns any Close() failures
// collected along the way aggregated into one error.
func (p *EventLoopThreadPool) QuitAll() error {
	p.mu.Lock()
	loops := p.loops
	p.mu.Unlock()

	for _, l := range loops {
		l.Quit()
	}
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeErrs.ErrorOrNil()
}
