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

package native

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/tdfischer/codius-sandbox/pkg/continuation"
)

func drive(t *testing.T, loop *continuation.Loop, c *continuation.Continuation[int64]) int64 {
	t.Helper()
	var result int64
	c.Then(continuation.New(loop, func(rv int64, _ *continuation.Continuation[int64]) {
		result = rv
	}))
	loop.RunUntilIdle()
	return result
}

func TestOpenWriteReadClose(t *testing.T) {
	loop := continuation.NewLoop()
	root := t.TempDir()
	fs, err := New(loop, root)
	require.NoError(t, err)
	defer fs.Close()

	fd := drive(t, loop, fs.Open("greeting.txt", unix.O_CREAT|unix.O_RDWR, 0o644))
	require.GreaterOrEqual(t, fd, int64(0))

	n := drive(t, loop, fs.Write(int32(fd), []byte("hello")))
	require.Equal(t, int64(5), n)

	off := drive(t, loop, fs.Lseek(int32(fd), 0, 0))
	require.Equal(t, int64(0), off)

	buf := make([]byte, 5)
	rn := drive(t, loop, fs.Read(int32(fd), buf))
	require.Equal(t, int64(5), rn)
	require.Equal(t, "hello", string(buf))

	rv := drive(t, loop, fs.Close(int32(fd)))
	require.Equal(t, int64(0), rv)
}

func TestOpenMissingFileReturnsENOENT(t *testing.T) {
	loop := continuation.NewLoop()
	root := t.TempDir()
	fs, err := New(loop, root)
	require.NoError(t, err)
	defer fs.Close()

	fd := drive(t, loop, fs.Open("nope.txt", unix.O_RDONLY, 0))
	require.Equal(t, -int64(unix.ENOENT), fd)
}

func TestStatAndAccess(t *testing.T) {
	loop := continuation.NewLoop()
	root := t.TempDir()
	fs, err := New(loop, root)
	require.NoError(t, err)
	defer fs.Close()

	fd := drive(t, loop, fs.Open("f.txt", unix.O_CREAT|unix.O_RDWR, 0o644))
	require.GreaterOrEqual(t, fd, int64(0))
	drive(t, loop, fs.Write(int32(fd), []byte("xyz")))
	drive(t, loop, fs.Close(int32(fd)))

	var st unix.Stat_t
	rv := drive(t, loop, fs.Stat("f.txt", &st))
	require.Equal(t, int64(0), rv)
	require.Equal(t, int64(3), st.Size)

	rv = drive(t, loop, fs.Access("f.txt", unix.F_OK))
	require.Equal(t, int64(0), rv)

	rv = drive(t, loop, fs.Access("missing.txt", unix.F_OK))
	require.Equal(t, -int64(unix.ENOENT), rv)
}

func TestSecondOpenOnSameRootFailsWhileLocked(t *testing.T) {
	root := t.TempDir()
	loop := continuation.NewLoop()
	fs, err := New(loop, root)
	require.NoError(t, err)
	defer fs.Close()

	_, err = New(loop, root)
	require.Error(t, err)
}
