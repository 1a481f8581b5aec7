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

package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jiaweihh/lrpc/config"
	"github.com/jiaweihh/lrpc/pkg/logging"
	"github.com/jiaweihh/lrpc/reactor"
	"github.com/jiaweihh/lrpc/rpc"
	"github.com/jiaweihh/lrpc/web"
)

var (
	configPath      = flag.String("p", "conf", "Config file path")
	basicConfigFile = flag.String("c", "lrpc.yaml", "Basic config filename")
	version         = flag.Bool("v", false, "Show version")
	help            = flag.Bool("h", false, "Show usage info")
)

const banner string = `
___________________________________________  ___  __
___  __ \_  ____/__  __ \__  __ \_  __ \_  |/ / \/ /
__  /_/ /  /    __  /_/ /_  /_/ /  / / /_    /__  /
_  _, _// /___  _  ____/_  _, _// /_/ /_    | _  /
/_/ |_| \____/  /_/     /_/ |_| \____/ /_/|_| /_/

`

func parseCli() {
	flag.Parse()
	if *version {
		fmt.Printf("version: %s\ncommit: %s\ntime: %s\n", web.Tag, web.CommitSHA, web.BuildTime)
		os.Exit(0)
	}
	if *help {
		flag.Usage()
		os.Exit(0)
	}
}

func main() {
	parseCli()

	cfg, err := config.Load(path.Join(*configPath, *basicConfigFile))
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse config file err: %v\n", err)
		os.Exit(1)
	}

	if err := logging.InitializeLogger(
		logging.WithPath(cfg.LogPath),
		logging.WithExpireDay(cfg.LogExpireDay),
		logging.WithLogLevel(cfg.LogLevel),
	); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	fmt.Print(banner)
	fmt.Printf("lrpc-server version: %s\n", web.Tag)
	logging.Infof("lrpc-server starting, pid: %d, version: %s", syscall.Getpid(), web.Tag)

	addr, err := reactor.ParseEndpoint(cfg.ListenAddr)
	if err != nil {
		logging.Errorf("invalid listen_addr %q: %v", cfg.ListenAddr, err)
		os.Exit(1)
	}

	srv, err := rpc.NewRpcServer(addr, cfg.ThreadNum, 1024)
	if err != nil {
		logging.Errorf("failed to create rpc server: %v", err)
		os.Exit(1)
	}

	var ns rpc.NameServiceClient
	if cfg.NameServerURL != "" {
		nsAddr, err := reactor.ParseEndpoint(cfg.NameServerURL)
		if err != nil {
			logging.Errorf("invalid name_server_url %q: %v", cfg.NameServerURL, err)
			os.Exit(1)
		}
		ns = rpc.NewRedisNameService(nsAddr)
	} else {
		ns = rpc.NewInProcessNameService()
		logging.Warnf("no name_server_url configured, using an in-process name service (single-process only)")
	}
	srv.EnableKeepalive(ns, 10*time.Second)

	if cfg.WebAddr != "" {
		gin.SetMode(gin.ReleaseMode)
		ginSrv := gin.New()
		web.Mount(ginSrv, srv.Registry(), nil)
		httpSrv := &http.Server{Handler: ginSrv, Addr: cfg.WebAddr}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Errorf("admin http server failed: %v", err)
			}
		}()
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logging.Infof("lrpc-server shutting down, pid: %d", syscall.Getpid())
		srv.Stop()
	}()

	srv.Serve()
	logging.Infof("lrpc-server shutdown complete, pid: %d", syscall.Getpid())
}
