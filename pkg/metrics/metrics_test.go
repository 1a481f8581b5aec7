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

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveCallUpdatesLatencyAndTotals(t *testing.T) {
	stats := NewRpcStats("lrpc_test_observe")

	stats.ObserveCall("Echo", "Say", "client", 12.5, "")
	require.Equal(t, float64(1), testutil.ToFloat64(stats.CallsTotal.WithLabelValues("Echo", "Say", "client")))
	require.Equal(t, 1, testutil.CollectAndCount(stats.CallLatency))
}

func TestObserveCallRecordsErrorCode(t *testing.T) {
	stats := NewRpcStats("lrpc_test_error")

	stats.ObserveCall("Echo", "Say", "server", 3.0, "NoSuchMethod")
	require.Equal(t, float64(1), testutil.ToFloat64(stats.CallErrors.WithLabelValues("Echo", "Say", "NoSuchMethod")))

	stats.ObserveCall("Echo", "Say", "server", 3.0, "")
	require.Equal(t, float64(1), testutil.ToFloat64(stats.CallErrors.WithLabelValues("Echo", "Say", "NoSuchMethod")))
}

func TestGlobalStatsAreRegisteredOnInit(t *testing.T) {
	require.NotNil(t, Global.CallsTotal)
	require.NotNil(t, Global.BreakerState)
}
