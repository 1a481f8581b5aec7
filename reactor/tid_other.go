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

//go:build freebsd || dragonfly || darwin
// +build freebsd dragonfly darwin

package reactor

import "syscall"

// gettid falls back to the process id on BSD-family platforms, which
// lack a portable x/sys/unix thread-id call. Every thread of the
// process shares that value, so on these platforms isInLoopThread
// reports true on any thread and the in-loop-thread assertions do not
// catch off-thread calls.
func gettid() int64 { return int64(syscall.Getpid()) }
