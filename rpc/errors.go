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

// Package rpc is the RPC channel layer: wire framing, request/response
// correlation, service registration, name-service discovery and
// client-side connection pooling, built on top of package reactor and
// package future.
package rpc

import "fmt"

// Code is the stable numeric error taxonomy carried on the wire in
// Response.Error.Errnum. Code itself implements error so it can be
// returned directly from API surfaces without a separate wrapper type.
type Code int32

const (
	CodeNone Code = iota
	CodeNoSuchService
	CodeNoSuchMethod
	CodeConnectionLost
	CodeConnectionReset
	CodeDecodeFail
	CodeEncodeFail
	CodeTimeout
	CodeTooLongFrame
	CodeEmptyRequest
	CodeMethodUndetermined
	CodeThrowInMethod
	CodeNoAvailableEndpoint
	CodeConnectRefused
)

var codeNames = map[Code]string{
	CodeNone:               "None",
	CodeNoSuchService:      "NoSuchService",
	CodeNoSuchMethod:       "NoSuchMethod",
	CodeConnectionLost:     "ConnectionLost",
	CodeConnectionReset:    "ConnectionReset",
	CodeDecodeFail:         "DecodeFail",
	CodeEncodeFail:         "EncodeFail",
	CodeTimeout:            "Timeout",
	CodeTooLongFrame:       "TooLongFrame",
	CodeEmptyRequest:       "EmptyRequest",
	CodeMethodUndetermined: "MethodUndetermined",
	CodeThrowInMethod:      "ThrowInMethod",
	CodeNoAvailableEndpoint: "NoAvailableEndpoint",
	CodeConnectRefused:     "ConnectRefused",
}

func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return fmt.Sprintf("Code(%d)", int32(c))
}

// Error lets a bare Code flow through future.Result's exception slot
// without a CallError wrapper when there's no extra message to carry.
func (c Code) Error() string { return c.String() }

// CallError is the error type carried by a failed call's future
// Result: a Code plus a human-readable message, matching the wire
// Response.error{errnum, msg} shape.
type CallError struct {
	Code Code
	Msg  string
}

func NewCallError(code Code, msg string) *CallError {
	return &CallError{Code: code, Msg: msg}
}

func (e *CallError) Error() string {
	if e.Msg == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// connectionFatal reports whether code must close the underlying
// socket rather than merely fail the one call — spec.md §7 band 1.
func connectionFatal(c Code) bool {
	switch c {
	case CodeDecodeFail, CodeTooLongFrame, CodeMethodUndetermined:
		return true
	default:
		return false
	}
}
