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

import "golang.org/x/sys/unix"

// FirstVirtualFD is the smallest value the virtual FD allocator ever
// hands out. Any descriptor below it belongs to the kernel, not the VFS.
const FirstVirtualFD = 4096

// errno turns a host errno into the negative returnVal POSIX convention
// the whole call chain uses.
func errno(e unix.Errno) int64 {
	return -int64(e)
}

// Well-known negative-errno results the VFS itself produces (as opposed
// to ones a backend reports verbatim).
var (
	errENOENT = errno(unix.ENOENT)
	errEBADF  = errno(unix.EBADF)
	errENOSYS = errno(unix.ENOSYS)
	errEIO    = errno(unix.EIO)
)
