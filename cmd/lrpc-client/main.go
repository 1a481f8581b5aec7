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

// Command lrpc-client is a thin, generic call tool: it dials one
// endpoint, issues a single RPC with a raw request body, and prints
// the raw response — useful for poking at a service without linking
// its concrete request/response Go types. Building a real client means
// calling rpc.Call[Resp] against an rpc.ClientStub directly, the way
// server code would; this binary exists only to exercise the wire path
// from the command line.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jiaweihh/lrpc/future"
	"github.com/jiaweihh/lrpc/reactor"
	"github.com/jiaweihh/lrpc/rpc"
)

var (
	endpointFlag = flag.String("endpoint", "127.0.0.1:7890", "server ip:port")
	serviceFlag  = flag.String("service", "", "service name")
	methodFlag   = flag.String("method", "", "method name")
	timeoutFlag  = flag.Duration("timeout", 5*time.Second, "call timeout")
)

func main() {
	flag.Parse()
	if *serviceFlag == "" || *methodFlag == "" {
		fmt.Fprintln(os.Stderr, "usage: lrpc-client -service=NAME -method=NAME [-endpoint=ip:port] < request_body")
		os.Exit(2)
	}

	body, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read request body from stdin: %v\n", err)
		os.Exit(1)
	}

	ep, err := reactor.ParseEndpoint(*endpointFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid endpoint %q: %v\n", *endpointFlag, err)
		os.Exit(1)
	}

	loop, err := reactor.NewEventLoop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create event loop: %v\n", err)
		os.Exit(1)
	}
	go loop.Loop()
	defer loop.Quit()

	respCh := make(chan *rpc.Response, 1)
	errCh := make(chan error, 1)

	loop.RunInLoop(func() {
		connector := reactor.NewConnector(loop, ep)
		connector.SetNewConnectionCallback(func(sockFd int) {
			conn := reactor.NewTcpConnection(loop, "lrpc-client", sockFd, reactor.Endpoint{}, ep)
			cc := rpc.NewClientChannel(loop, conn)
			conn.ConnectEstablished()

			req := rpc.RawMessage(body)
			fut := cc.CallRaw(*serviceFlag, *methodFlag, &req)
			fut.OnTimeout(*timeoutFlag, func() {
				errCh <- fmt.Errorf("call timed out after %s", *timeoutFlag)
			}, loop)
			future.Then(fut, loop, func(r future.Result[*rpc.Response]) struct{} {
				if r.HasException() {
					errCh <- r.Exception()
					return struct{}{}
				}
				respCh <- r.MustGet()
				return struct{}{}
			})
		})
		connector.Start()
	})

	select {
	case resp := <-respCh:
		if resp.IsError() {
			fmt.Fprintf(os.Stderr, "call failed: code=%d msg=%s\n", resp.Error.Errnum, resp.Error.Msg)
			os.Exit(1)
		}
		os.Stdout.Write(resp.SerializedResponse)
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "call failed: %v\n", err)
		os.Exit(1)
	case <-time.After(*timeoutFlag + time.Second):
		fmt.Fprintln(os.Stderr, "call failed: local timeout waiting on event loop")
		os.Exit(1)
	}
}
