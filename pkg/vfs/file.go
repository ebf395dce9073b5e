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

import "sync"

// openFile is the VFS's bookkeeping record for one virtual FD: which
// backend owns it, what local (backend-private) descriptor it maps to,
// and the path it was opened with, which openat reads back to resolve a
// name relative to this virtual FD and which is the CWD path while this
// record is the VFS's cwd (chdir, fchdir, getcwd).
type openFile struct {
	mu        sync.Mutex
	fs        Filesystem
	localFD   int32
	virtualFD int32
	path      string
	closed    bool
}

func newOpenFile(fs Filesystem, localFD, virtualFD int32, path string) *openFile {
	return &openFile{fs: fs, localFD: localFD, virtualFD: virtualFD, path: path}
}

// markClosed invalidates the record so a second close(2) on the same
// virtual FD reports EBADF instead of silently double-closing the
// backend descriptor. Returns false if it was already closed.
func (f *openFile) markClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.closed = true
	return true
}

func (f *openFile) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
