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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/jiaweihh/lrpc/reactor"
	"github.com/jiaweihh/lrpc/rpc"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type pingRequest struct{ Text string }
type pingResponse struct{ Text string }

func (r *pingRequest) Marshal() ([]byte, error)  { return []byte(r.Text), nil }
func (r *pingRequest) Unmarshal(b []byte) error  { r.Text = string(b); return nil }
func (r *pingResponse) Marshal() ([]byte, error) { return []byte(r.Text), nil }
func (r *pingResponse) Unmarshal(b []byte) error { r.Text = string(b); return nil }

type pingService struct{}

func (pingService) Ping(ctx context.Context, req pingRequest) (pingResponse, error) {
	return pingResponse{Text: req.Text}, nil
}

func TestHandleServicesListsRegisteredMethods(t *testing.T) {
	registry := rpc.NewRegistry()
	desc, err := rpc.NewServiceDescriptor("Ping", pingService{})
	require.NoError(t, err)
	registry.Register(desc)

	engine := gin.New()
	engine.GET("/rpc/services", handleServices(registry))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/rpc/services", nil)
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var views []serviceView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &views))
	require.Len(t, views, 1)
	require.Equal(t, "Ping", views[0].Name)
	require.Equal(t, []string{"Ping"}, views[0].Methods)
}

func TestHandleServicesWithNilRegistryReturnsEmptyList(t *testing.T) {
	engine := gin.New()
	engine.GET("/rpc/services", handleServices(nil))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/rpc/services", nil)
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, "[]", w.Body.String())
}

func TestHandleStubsReportsCachedEndpointsAndBreakers(t *testing.T) {
	desc, err := rpc.NewServiceDescriptor("Ping", pingService{})
	require.NoError(t, err)
	stub := rpc.NewClientStub("Ping", desc, nil, rpc.NewInProcessNameService())
	stub.SetHardCodedEndpoints([]reactor.Endpoint{{IP: "10.0.0.1", Port: 1}})

	engine := gin.New()
	engine.GET("/rpc/stubs", handleStubs([]*rpc.ClientStub{stub}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/rpc/stubs", nil)
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var views []stubView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &views))
	require.Len(t, views, 1)
	require.Equal(t, "Ping", views[0].Service)
	require.Equal(t, []string{"10.0.0.1:1"}, views[0].Endpoints)
}

func TestHandleVersionReportsBuildIdentifiers(t *testing.T) {
	engine := gin.New()
	engine.GET("/version", HandleVersion)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, Tag, body["tag"])
	require.Equal(t, CommitSHA, body["commit"])
	require.Equal(t, BuildTime, body["build_time"])
}
