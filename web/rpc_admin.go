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

package web

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jiaweihh/lrpc/rpc"
)

// serviceView is one registered service's admin-facing shape: name
// plus the method names a ServerChannel will dispatch to.
type serviceView struct {
	Name    string   `json:"name"`
	Methods []string `json:"methods"`
}

func handleServices(registry *rpc.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		if registry == nil {
			c.JSON(http.StatusOK, []serviceView{})
			return
		}
		var out []serviceView
		for _, name := range registry.Names() {
			svc, ok := registry.Lookup(name)
			if !ok {
				continue
			}
			out = append(out, serviceView{Name: name, Methods: svc.MethodNames()})
		}
		c.JSON(http.StatusOK, out)
	}
}

// stubView is one client stub's admin-facing shape: the service it
// calls, its currently cached endpoint set, and per-endpoint breaker
// state.
type stubView struct {
	Service   string             `json:"service"`
	Endpoints []string           `json:"endpoints"`
	Breakers  []rpc.BreakerState `json:"breakers"`
}

func handleStubs(stubs []*rpc.ClientStub) gin.HandlerFunc {
	return func(c *gin.Context) {
		out := make([]stubView, 0, len(stubs))
		for _, s := range stubs {
			eps := s.CachedEndpoints()
			epStrs := make([]string, 0, len(eps))
			for _, ep := range eps {
				epStrs = append(epStrs, ep.String())
			}
			out = append(out, stubView{Service: s.Name(), Endpoints: epStrs, Breakers: s.BreakerStates()})
		}
		c.JSON(http.StatusOK, out)
	}
}
