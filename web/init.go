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

// Package web is the admin/introspection HTTP surface: prometheus
// metrics, pprof, version info, and read-only views of the registered
// services and client stub endpoint caches. It sits beside the RPC
// core rather than inside it, the same separation the teacher draws
// between core/ and web/.
package web

import (
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jiaweihh/lrpc/rpc"
)

// Mount installs every admin route onto ginSrv. registry may be nil on
// a client-only process; stubs may be empty.
func Mount(ginSrv *gin.Engine, registry *rpc.Registry, stubs []*rpc.ClientStub) {
	pprof.Register(ginSrv)
	ginSrv.GET("/version", HandleVersion)
	ginSrv.GET("/metrics", gin.WrapH(promhttp.Handler()))
	ginSrv.GET("/rpc/services", handleServices(registry))
	ginSrv.GET("/rpc/stubs", handleStubs(stubs))
}
