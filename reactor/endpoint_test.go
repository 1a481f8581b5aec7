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

package reactor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseEndpoint(t *testing.T) {
	ep, err := ParseEndpoint("127.0.0.1:7890")
	require.NoError(t, err)
	require.Equal(t, Endpoint{IP: "127.0.0.1", Port: 7890}, ep)
	require.Equal(t, "127.0.0.1:7890", ep.String())
}

func TestParseEndpointRejectsMissingPort(t *testing.T) {
	_, err := ParseEndpoint("127.0.0.1")
	require.Error(t, err)
}

func TestParseEndpointRejectsBadPort(t *testing.T) {
	_, err := ParseEndpoint("127.0.0.1:notaport")
	require.Error(t, err)
}

func TestParseEndpointsSplitsOnCommaAndSemicolon(t *testing.T) {
	eps, err := ParseEndpoints(" 10.0.0.1:1000, 10.0.0.2:2000 ;10.0.0.3:3000")
	require.NoError(t, err)
	require.Equal(t, []Endpoint{
		{IP: "10.0.0.1", Port: 1000},
		{IP: "10.0.0.2", Port: 2000},
		{IP: "10.0.0.3", Port: 3000},
	}, eps)
}

func TestParseEndpointsEmptyStringYieldsEmptySlice(t *testing.T) {
	eps, err := ParseEndpoints("")
	require.NoError(t, err)
	require.Empty(t, eps)
}

func TestParseEndpointsPropagatesBadEntry(t *testing.T) {
	_, err := ParseEndpoints("10.0.0.1:1000,garbage")
	require.Error(t, err)
}
