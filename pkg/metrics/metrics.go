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

// Package metrics collects the prometheus series the RPC runtime
// exposes on its admin surface: connection counts, call latency and
// error rates, and circuit-breaker state. One process-wide instance
// (Global) is registered on import, mirroring the rcproxy stats layout
// of a package-level ProxyStats plus NewProxyStats constructor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RpcStats is the RPC-layer analogue of rcproxy's ProxyStats: one
// HistogramVec for call latency, CounterVecs for connection and error
// tallies, and a GaugeVec for live circuit-breaker state.
type RpcStats struct {
	TotalConnections *prometheus.CounterVec
	CurrConnections  *prometheus.GaugeVec

	CallLatency    *prometheus.HistogramVec
	CallsTotal     *prometheus.CounterVec
	CallErrors     *prometheus.CounterVec

	NameServiceLookups *prometheus.CounterVec
	NameServiceErrors  *prometheus.CounterVec

	BreakerState *prometheus.GaugeVec
}

// Global is the process-wide metrics instance; web.Mount exposes it at
// /metrics via promhttp.
var Global RpcStats

func init() {
	Global = NewRpcStats("lrpc")
}

// NewRpcStats builds and registers a fresh RpcStats under namespace.
// Exported (rather than only the init-time Global) so tests can build
// further instances; each one registers with the default prometheus
// registry, so every instance needs its own namespace.
func NewRpcStats(namespace string) RpcStats {
	stats := RpcStats{
		TotalConnections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "total_connections",
			Help:      "total connections accepted or established",
		}, []string{"side"}),
		CurrConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "curr_connections",
			Help:      "current live connections",
		}, []string{"side"}),
		CallLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_latency_ms",
			Help:      "round-trip RPC call latency in milliseconds",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		}, []string{"service", "method"}),
		CallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "total RPC calls issued or served",
		}, []string{"service", "method", "role"}),
		CallErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_errors_total",
			Help:      "RPC calls that completed with a non-nil CallError",
		}, []string{"service", "method", "code"}),
		NameServiceLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nameservice_lookups_total",
			Help:      "GetEndpoints calls issued against the name service",
		}, []string{"service"}),
		NameServiceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nameservice_errors_total",
			Help:      "GetEndpoints calls that failed or timed out",
		}, []string{"service"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "circuit breaker state per endpoint: 0=closed 1=half-open 2=open",
		}, []string{"service", "endpoint"}),
	}
	prometheus.MustRegister(
		stats.TotalConnections, stats.CurrConnections,
		stats.CallLatency, stats.CallsTotal, stats.CallErrors,
		stats.NameServiceLookups, stats.NameServiceErrors, stats.BreakerState,
	)
	return stats
}

// ObserveCall records one completed call's latency and outcome.
func (s *RpcStats) ObserveCall(service, method, role string, latencyMs float64, errCode string) {
	s.CallLatency.WithLabelValues(service, method).Observe(latencyMs)
	s.CallsTotal.WithLabelValues(service, method, role).Inc()
	if errCode != "" {
		s.CallErrors.WithLabelValues(service, method, errCode).Inc()
	}
}
