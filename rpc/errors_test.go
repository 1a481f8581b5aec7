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

package rpc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodeImplementsError(t *testing.T) {
	var err error = CodeNoSuchMethod
	require.EqualError(t, err, "NoSuchMethod")
}

func TestCodeStringFallsBackForUnknownCode(t *testing.T) {
	require.Equal(t, "Code(999)", Code(999).String())
}

func TestCallErrorMessage(t *testing.T) {
	withMsg := NewCallError(CodeDecodeFail, "bad varint")
	require.EqualError(t, withMsg, "DecodeFail: bad varint")

	withoutMsg := NewCallError(CodeTimeout, "")
	require.EqualError(t, withoutMsg, "Timeout")
}

func TestConnectionFatalClassification(t *testing.T) {
	require.True(t, connectionFatal(CodeDecodeFail))
	require.True(t, connectionFatal(CodeTooLongFrame))
	require.True(t, connectionFatal(CodeMethodUndetermined))
	require.False(t, connectionFatal(CodeTimeout))
	require.False(t, connectionFatal(CodeNoSuchService))
}
