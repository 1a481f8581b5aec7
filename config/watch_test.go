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

package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jiaweihh/lrpc/reactor"
)

type fakeEndpointSetter struct {
	mu  sync.Mutex
	got []reactor.Endpoint
}

func (f *fakeEndpointSetter) SetHardCodedEndpoints(eps []reactor.Endpoint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = eps
}

func (f *fakeEndpointSetter) snapshot() []reactor.Endpoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.got
}

func TestWatchEndpointFileReadsInitialContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "endpoints.txt")
	require.NoError(t, os.WriteFile(path, []byte("10.0.0.1:1,10.0.0.2:2"), 0o644))

	target := &fakeEndpointSetter{}
	w, err := WatchEndpointFile(path, target)
	require.NoError(t, err)
	defer w.Close()

	require.Equal(t, []reactor.Endpoint{
		{IP: "10.0.0.1", Port: 1},
		{IP: "10.0.0.2", Port: 2},
	}, target.snapshot())
}

func TestWatchEndpointFileReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "endpoints.txt")
	require.NoError(t, os.WriteFile(path, []byte("10.0.0.1:1"), 0o644))

	target := &fakeEndpointSetter{}
	w, err := WatchEndpointFile(path, target)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("10.0.0.9:9"), 0o644))

	require.Eventually(t, func() bool {
		eps := target.snapshot()
		return len(eps) == 1 && eps[0] == reactor.Endpoint{IP: "10.0.0.9", Port: 9}
	}, 2*time.Second, 10*time.Millisecond)
}
