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
	"fmt"
	"strconv"
	"time"

	"github.com/jiaweihh/lrpc/future"
	"github.com/jiaweihh/lrpc/pkg/logging"
	"github.com/jiaweihh/lrpc/pkg/redis"
	"github.com/jiaweihh/lrpc/reactor"
)

// redisStaleAfter is how old a hash-field's last-seen timestamp may be
// before the client drops it (spec.md §6).
const redisStaleAfter = 30 * time.Second

// redisNameService is the Redis-text name-service adapter: it speaks
// RESP over a plain TCP connection rather than this package's own
// length-prefixed framing. It is built on pkg/redis, adapted from the
// teacher's vendored RESP client (core/pkg/redis/conn.go) and
// connection pool (core/redis_pool.go) rather than a hand-rolled
// parser, applying "redis as name-service backend" in place of
// "redis as the proxied store."
type redisNameService struct {
	pool *redis.Pool
}

// NewRedisNameService dials addr lazily on first use.
func NewRedisNameService(addr reactor.Endpoint) NameServiceClient {
	return &redisNameService{pool: redis.NewPool(addr.String(),
		redis.DialConnectTimeout(2*time.Second),
		redis.DialReadTimeout(2*time.Second),
		redis.DialWriteTimeout(2*time.Second),
	)}
}

// GetEndpoints issues HGETALL <service> and parses the reply as
// alternating (endpoint, last-seen-unix-seconds) field/value pairs,
// dropping entries older than redisStaleAfter.
func (r *redisNameService) GetEndpoints(serviceName string) *future.Future[[]reactor.Endpoint] {
	reply, err := r.pool.Do("HGETALL", serviceName)
	if err != nil {
		return future.Failed[[]reactor.Endpoint](err)
	}
	pairs, err := flatStrings(reply)
	if err != nil {
		return future.Failed[[]reactor.Endpoint](err)
	}

	now := time.Now().Unix()
	out := make([]reactor.Endpoint, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		ep, err := reactor.ParseEndpoint(pairs[i])
		if err != nil {
			logging.Warnf("redis_nameservice: malformed endpoint field %q: %v", pairs[i], err)
			continue
		}
		lastSeen, err := strconv.ParseInt(pairs[i+1], 10, 64)
		if err != nil {
			continue
		}
		if now-lastSeen > int64(redisStaleAfter/time.Second) {
			continue
		}
		out = append(out, ep)
	}
	return future.Ready(out)
}

// Keepalive issues HSET <service> <ip>:<port> <unix-seconds>.
func (r *redisNameService) Keepalive(serviceName string, ep reactor.Endpoint) *future.Future[bool] {
	_, err := r.pool.Do("HSET", serviceName, ep.String(), strconv.FormatInt(time.Now().Unix(), 10))
	if err != nil {
		return future.Failed[bool](err)
	}
	return future.Ready(true)
}

// flatStrings converts an HGETALL array reply ([]interface{} of
// string field/value pairs) into a flat []string, the shape
// GetEndpoints parses. A nil reply yields an empty slice; any other
// non-array reply is an error.
func flatStrings(reply interface{}) ([]string, error) {
	if reply == nil {
		return nil, nil
	}
	arr, ok := reply.([]interface{})
	if !ok {
		return nil, fmt.Errorf("rpc: unexpected HGETALL reply shape %T", reply)
	}
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("rpc: unexpected HGETALL element shape %T", v)
		}
		out = append(out, s)
	}
	return out, nil
}
