// Copyright (c) 2022 The rcproxy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License"): you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations
// under the License.

package redis

import "sync"

// Pool holds one lazily-dialed Conn to Addr, redialing on the next Get
// after a failed command has closed it. Unlike a connection-pool
// proper it never holds more than one live Conn, since the name
// service only ever has one request in flight at a time; the teacher's
// own redis pool amortizes N connections across many proxied clients,
// a concern this single-caller name-service client doesn't have.
type Pool struct {
	Addr    string
	Options []DialOption

	mu   sync.Mutex
	conn Conn
}

// NewPool builds a Pool that dials addr on first Get.
func NewPool(addr string, options ...DialOption) *Pool {
	return &Pool{Addr: addr, Options: options}
}

// Get returns the pool's live connection, dialing one if needed.
func (p *Pool) Get() (Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		return p.conn, nil
	}
	c, err := Dial(p.Addr, p.Options...)
	if err != nil {
		return nil, err
	}
	p.conn = c
	return c, nil
}

// Discard closes and forgets the pool's connection, forcing the next
// Get to redial; call after a command on it returns an error.
func (p *Pool) Discard() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}

// Do runs cmd against the pool's connection, dialing first if needed
// and discarding the connection on any error so the next call redials.
func (p *Pool) Do(cmd string, args ...interface{}) (interface{}, error) {
	c, err := p.Get()
	if err != nil {
		return nil, err
	}
	reply, err := c.Do(cmd, args...)
	if err != nil {
		p.Discard()
		return nil, err
	}
	return reply, nil
}

// Ping reports whether Addr is currently reachable, mirroring the
// teacher's pool-health probe (core/redis_pool.go's monitor/detect
// loop) in miniature: a single on-demand check rather than a
// background ticker, since nothing here needs to ban a node ahead of
// use — a failed Do already discards and redials on its own.
func (p *Pool) Ping() error {
	_, err := p.Do("PING")
	return err
}
