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

	"github.com/tdfischer/codius-sandbox/pkg/continuation"
)

func TestJoinPath(t *testing.T) {
	require.Equal(t, "/data/x", joinPath("/data", "x"))
	require.Equal(t, "/data/x", joinPath("/data/", "x"))
	require.Equal(t, "/data/x", joinPath("/data", "./x"))
	require.Equal(t, "/data", joinPath("/data", "."))
}

func TestResolveAtAbsoluteWins(t *testing.T) {
	loop := continuation.NewLoop()
	v := New(nil, loop)

	got, err := v.resolveAt(atFDCWD, "/absolute/path")
	require.NoError(t, err)
	require.Equal(t, "/absolute/path", got)
}

func TestResolveAtCWD(t *testing.T) {
	loop := continuation.NewLoop()
	v := New(nil, loop)
	v.cwd = newOpenFile(&stubFilesystem{}, 3, FirstVirtualFD, "/home/guest")

	got, err := v.resolveAt(atFDCWD, "file.txt")
	require.NoError(t, err)
	require.Equal(t, "/home/guest/file.txt", got)
}

func TestResolveAtVirtualDirFD(t *testing.T) {
	loop := continuation.NewLoop()
	v := New(nil, loop)
	dir := v.makeFile(&stubFilesystem{}, 3, "/data/sub")

	got, err := v.resolveAt(dir.virtualFD, "leaf")
	require.NoError(t, err)
	require.Equal(t, "/data/sub/leaf", got)
}

func TestResolveAtUnknownFD(t *testing.T) {
	loop := continuation.NewLoop()
	v := New(nil, loop)

	_, err := v.resolveAt(7, "leaf")
	require.Error(t, err)
}
