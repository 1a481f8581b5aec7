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

func TestEventLoopThreadPoolStartAndRoundRobin(t *testing.T) {
	base, err := NewEventLoop()
	require.NoError(t, err)
	defer base.Close()

	pool := NewEventLoopThreadPool(base)
	require.NoError(t, pool.Start(3))

	loops := map[int64]bool{}
	for i := 0; i < 6; i++ {
		loops[pool.GetNextLoop().ID()] = true
	}
	require.Len(t, loops, 3)

	all := pool.AllLoops()
	require.Len(t, all, 4) // base + 3 workers

	require.NoError(t, pool.QuitAll())
}

func TestEventLoopThreadPoolZeroWorkersUsesBase(t *testing.T) {
	base, err := NewEventLoop()
	require.NoError(t, err)
	defer base.Close()

	pool := NewEventLoopThreadPool(base)
	require.NoError(t, pool.Start(0))

	require.Equal(t, base, pool.GetNextLoop())
	require.NoError(t, pool.QuitAll())
}

func TestEventLoopThreadPoolStartIsIdempotent(t *testing.T) {
	base, err := NewEventLoop()
	require.NoError(t, err)
	defer base.Close()

	pool := NewEventLoopThreadPool(base)
	require.NoError(t, pool.Start(2))
	require.NoError(t, pool.Start(5)) // second call is a no-op
	require.Len(t, pool.AllLoops(), 3)

	require.NoError(t, pool.QuitAll())
}
