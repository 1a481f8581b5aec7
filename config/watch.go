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
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/jiaweihh/lrpc/pkg/logging"
	"github.com/jiaweihh/lrpc/reactor"
)

// EndpointSetter receives a freshly re-read endpoint list; satisfied by
// *rpc.ClientStub.SetHardCodedEndpoints without config importing rpc.
type EndpointSetter interface {
	SetHardCodedEndpoints(eps []reactor.Endpoint)
}

// EndpointFileWatcher watches a single file holding a comma-separated
// "ip:port" list and re-applies it to target on every write, letting
// an operator repoint a hard-coded service without a restart. Kept as
// its own fsnotify.Watcher rather than reusing viper's internal watch
// so the dependency is exercised directly against a file viper never
// touches.
type EndpointFileWatcher struct {
	path    string
	target  EndpointSetter
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// WatchEndpointFile reads path once synchronously, applies it to
// target, then starts a background watch for subsequent writes.
func WatchEndpointFile(path string, target EndpointSetter) (*EndpointFileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err != nil {
		_ = w.Close()
		return nil, err
	}

	efw := &EndpointFileWatcher{path: path, target: target, watcher: w, done: make(chan struct{})}
	efw.reload()
	go efw.loop()
	return efw, nil
}

func (w *EndpointFileWatcher) loop() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Warnf("config: watcher error on %s: %v", w.path, err)
		case <-w.done:
			return
		}
	}
}

func (w *EndpointFileWatcher) reload() {
	raw, err := os.ReadFile(w.path)
	if err != nil {
		logging.Warnf("config: failed to read %s: %v", w.path, err)
		return
	}
	eps, err := reactor.ParseEndpoints(strings.TrimSpace(string(raw)))
	if err != nil {
		logging.Warnf("config: failed to parse endpoints in %s: %v", w.path, err)
		return
	}
	w.target.SetHardCodedEndpoints(eps)
	logging.Infof("config: reloaded %d endpoint(s) from %s", len(eps), w.path)
}

// Close stops the watch goroutine and releases the underlying inotify
// handle.
func (w *EndpointFileWatcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
