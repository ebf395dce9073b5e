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
	"github.com/tdfischer/codius-sandbox/pkg/continuation"
	"golang.org/x/sys/unix"
)

// Filesystem is the interface a concrete backend implements, one method
// per POSIX operation the VFS may dispatch to it. Every method returns a
// Continuation of the syscall's native return type: success is >= 0,
// failure is a negative errno, mirroring POSIX exactly. Backends must
// never panic on an operational failure (only on a genuine programmer
// error, consistent with the rest of this module); encode it in the
// result instead.
//
// buf/dirbuf/statbuf arguments are supervisor-side buffers the caller
// pre-sizes; it is the VFS's job, not the backend's, to copy between
// guest memory and these buffers.
type Filesystem interface {
	Open(name string, flags, mode int32) *continuation.Continuation[int64]
	Close(fd int32) *continuation.Continuation[int64]
	Read(fd int32, buf []byte) *continuation.Continuation[int64]
	Write(fd int32, buf []byte) *continuation.Continuation[int64]
	Lseek(fd int32, offset int64, whence int32) *continuation.Continuation[int64]
	Fstat(fd int32, buf *unix.Stat_t) *continuation.Continuation[int64]
	Stat(path string, buf *unix.Stat_t) *continuation.Continuation[int64]
	Lstat(path string, buf *unix.Stat_t) *continuation.Continuation[int64]
	Access(path string, mode int32) *continuation.Continuation[int64]
	Getdents(fd int32, dirbuf []byte) *continuation.Continuation[int64]
	Readlink(path string, buf []byte) *continuation.Continuation[int64]
}
