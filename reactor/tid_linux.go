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

import "golang.org/x/sys/unix"

// gettid returns the kernel thread id of the OS thread the calling
// goroutine is currently running on. EventLoop callers must have
// pinned their goroutine with runtime.LockOSThread before this value
// is meaningful as an identity (see EventLoopThreadPool).
func gettid() int64 { return int64(unix.Gettid()) }
