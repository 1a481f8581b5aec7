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
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jiaweihh/lrpc/reactor"
)

// fakeRespServer accepts a single connection and, for every command it
// receives, replies with replies[command name] (matched by command name
// only — arguments are read and discarded).
func fakeRespServer(t *testing.T, replies map[string]string) reactor.Endpoint {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		for {
			cmd, args, err := readCommand(r)
			if err != nil {
				return
			}
			reply, ok := replies[strings.ToUpper(cmd)]
			if !ok {
				return
			}
			_ = args
			if _, err := conn.Write([]byte(reply)); err != nil {
				return
			}
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	ep, err := reactor.ParseEndpoint("127.0.0.1:" + itoa(addr.Port))
	require.NoError(t, err)
	return ep
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// readCommand reads one RESP array-of-bulk-strings command as sent by
// pkg/redis's writeCommand, returning the command name and its args.
func readCommand(r *bufio.Reader) (string, []string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", nil, err
	}
	n := 0
	for _, c := range strings.TrimRight(line[1:], "\r\n") {
		n = n*10 + int(c-'0')
	}
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		if _, err := r.ReadString('\n'); err != nil { // $<len>
			return "", nil, err
		}
		s, err := r.ReadString('\n')
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, strings.TrimRight(s, "\r\n"))
	}
	if len(parts) == 0 {
		return "", nil, nil
	}
	return parts[0], parts[1:], nil
}

func TestRedisNameServiceGetEndpointsParsesHashReply(t *testing.T) {
	now := time.Now().Unix()
	reply := "*4\r\n" +
		"$13\r\n10.0.0.1:1000\r\n" +
		"$10\r\n" + itoa(int(now)) + "\r\n" +
		"$13\r\n10.0.0.2:2000\r\n" +
		"$10\r\n" + itoa(int(now)) + "\r\n"
	ep := fakeRespServer(t, map[string]string{"HGETALL": reply})

	ns := NewRedisNameService(ep)
	r, err := ns.GetEndpoints("svc").Wait(time.Second)
	require.NoError(t, err)
	endpoints := r.MustGet()
	require.Len(t, endpoints, 2)
	require.Equal(t, "10.0.0.1:1000", endpoints[0].String())
	require.Equal(t, "10.0.0.2:2000", endpoints[1].String())
}

func TestRedisNameServiceGetEndpointsDropsStaleEntries(t *testing.T) {
	stale := itoa(int(time.Now().Add(-time.Hour).Unix()))
	reply := "*2\r\n$13\r\n10.0.0.1:1000\r\n$10\r\n" + stale + "\r\n"
	ep := fakeRespServer(t, map[string]string{"HGETALL": reply})

	ns := NewRedisNameService(ep)
	r, err := ns.GetEndpoints("svc").Wait(time.Second)
	require.NoError(t, err)
	require.Empty(t, r.MustGet())
}

func TestRedisNameServiceGetEndpointsEmptyHash(t *testing.T) {
	ep := fakeRespServer(t, map[string]string{"HGETALL": "*0\r\n"})

	ns := NewRedisNameService(ep)
	r, err := ns.GetEndpoints("svc").Wait(time.Second)
	require.NoError(t, err)
	require.Empty(t, r.MustGet())
}

func TestRedisNameServiceKeepaliveIssuesHSet(t *testing.T) {
	ep := fakeRespServer(t, map[string]string{"HSET": ":1\r\n"})

	ns := NewRedisNameService(ep)
	local, err := reactor.ParseEndpoint("10.0.0.1:1000")
	require.NoError(t, err)
	r, err := ns.Keepalive("svc", local).Wait(time.Second)
	require.NoError(t, err)
	require.True(t, r.MustGet())
}

func TestRedisNameServiceErrorReplyPropagates(t *testing.T) {
	ep := fakeRespServer(t, map[string]string{"HGETALL": "-ERR no such key\r\n"})

	ns := NewRedisNameService(ep)
	r, err := ns.GetEndpoints("svc").Wait(time.Second)
	require.NoError(t, err)
	require.True(t, r.HasException())
	require.Contains(t, r.Exception().Error(), "no such key")
}
