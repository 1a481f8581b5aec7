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

//go:build linux
// +build linux

package reactor

import "os"

// newPoller picks epoll by default; setting LRPC_POLLER=poll forces the
// portable poll(2)-array backend, mainly for testing the poll poller
// on a Linux dev box without needing a BSD to hand.
func newPoller() (Poller, error) {
	if os.Getenv("LRPC_POLLER") == "poll" {
		return newPollPoller()
	}
	return newEpollPoller()
}
