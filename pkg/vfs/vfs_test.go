// Copyright 2018 The gVisor Authors.
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

package vfs

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/tdfischer/codius-sandbox/pkg/continuation"
	"github.com/tdfischer/codius-sandbox/pkg/sandbox/fake"
)

func TestWithWhitelistOption(t *testing.T) {
	v := New(fake.NewMemory(), continuation.NewLoop(), WithWhitelist("/opt/custom.so"))
	require.True(t, v.isWhitelisted("/opt/custom.so"))
	require.True(t, v.isWhitelisted("/etc/ld.so.cache"))
}

func TestBoundedCountClampsToMaxGuestBuffer(t *testing.T) {
	v := New(fake.NewMemory(), continuation.NewLoop(), WithRateLimiter(rate.NewLimiter(rate.Inf, maxGuestBuffer*4)))
	require.Equal(t, maxGuestBuffer, v.boundedCount(maxGuestBuffer*2))
	require.Equal(t, 0, v.boundedCount(-1))
	require.Equal(t, 10, v.boundedCount(10))
}

func TestBoundedCountClampsToLimiterBurst(t *testing.T) {
	v := New(fake.NewMemory(), continuation.NewLoop(), WithRateLimiter(rate.NewLimiter(rate.Limit(1), 16)))
	require.Equal(t, 16, v.boundedCount(1<<10))
}

func TestSetCWDFailsWhenNoMountMatches(t *testing.T) {
	loop := continuation.NewLoop()
	v := New(fake.NewMemory(), loop)

	head := v.SetCWD("/nowhere")
	var result int64
	head.Then(continuation.New(loop, func(rv int64, _ *continuation.Continuation[int64]) {
		result = rv
	}))
	loop.RunUntilIdle()

	require.Equal(t, errENOENT, result)
	require.Equal(t, "", v.GetCWD())
}

func TestSetCWDSucceedsAndUpdatesCWD(t *testing.T) {
	loop := continuation.NewLoop()
	v := New(fake.NewMemory(), loop)
	sfs := &scriptedFilesystem{loop: loop, opens: []int64{3}}
	v.MountFilesystem("/", sfs)

	head := v.SetCWD("/data/")
	var result int64
	head.Then(continuation.New(loop, func(rv int64, _ *continuation.Continuation[int64]) {
		result = rv
	}))
	loop.RunUntilIdle()

	require.Equal(t, int64(0), result)
	require.Equal(t, "/data", v.GetCWD())
}
