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

package web

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Build identifiers, set at link time with -ldflags -X on these
// variables (cmd/lrpc-server prints them too); default to "unknown" when unset so a plain
// `go build` (no ldflags) still serves a sane /version response.
var (
	CommitSHA = "unknown"
	Tag       = "unknown"
	BuildTime = "unknown"
)

func HandleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"tag":        Tag,
		"commit":     CommitSHA,
		"build_time": BuildTime,
	})
}
