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

package future

import (
	"errors"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/require"
)

func TestWhenAllErrAllSucceed(t *testing.T) {
	p1, p2 := NewPromise[int](), NewPromise[int]()
	all := WhenAllErr(p1.Future(), p2.Future())

	p1.SetValue(1)
	p2.SetValue(2)

	r, err := all.Wait(time.Second)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, r.MustGet())
}

func TestWhenAllErrAggregatesAllFailures(t *testing.T) {
	p1, p2, p3 := NewPromise[int](), NewPromise[int](), NewPromise[int]()
	all := WhenAllErr(p1.Future(), p2.Future(), p3.Future())

	p1.SetException(errors.New("first"))
	p2.SetValue(2)
	p3.SetException(errors.New("third"))

	r, err := all.Wait(time.Second)
	require.NoError(t, err)
	require.True(t, r.HasException())

	var merr *multierror.Error
	require.ErrorAs(t, r.Exception(), &merr)
	require.Len(t, merr.Errors, 2)
}
