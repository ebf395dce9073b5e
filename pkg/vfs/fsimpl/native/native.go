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

// Package native implements vfs.Filesystem by forwarding every operation
// to the real host kernel under a chroot-style root prefix. It is the Go
// port of the source's NativeFilesystem/native-filesystem.cpp.
package native

import (
	"sync"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/tdfischer/codius-sandbox/pkg/continuation"
	"github.com/tdfischer/codius-sandbox/pkg/vfs"
)

var _ vfs.Filesystem = (*Filesystem)(nil)

// Filesystem is a backend whose paths are all of the form root + "/" + p
// (§4.3's translate rule, with no canonicalization -- the VFS is
// responsible for presenting an already-mount-relative path). It keeps a
// local-FD-to-path table for diagnostics, same as the source.
type Filesystem struct {
	root string
	loop *continuation.Loop
	lock *flock.Flock
	log  *logrus.Entry

	mu    sync.Mutex
	paths map[int32]string
}

// New opens an advisory lock on root for the lifetime of the backend, so
// two sandboxes never remap the same root concurrently, then returns a
// Filesystem rooted there.
func New(loop *continuation.Loop, root string) (*Filesystem, error) {
	l := flock.New(root + "/.codius-sandbox.lock")
	locked, err := l.TryLock()
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, unix.EBUSY
	}
	return &Filesystem{
		root:  root,
		loop:  loop,
		lock:  l,
		log:   logrus.WithField("component", "native-filesystem").WithField("root", root),
		paths: make(map[int32]string),
	}, nil
}

// Close releases the root lock. Not part of the Filesystem interface --
// it is the embedder's job to call this when tearing the backend down.
func (f *Filesystem) Close() error {
	return f.lock.Unlock()
}

func (f *Filesystem) translate(p string) string {
	return f.root + "/" + p
}

// run wraps fn, a synchronous host syscall, as a continuation chain head
// and starts it. Every NativeFilesystem operation resolves synchronously
// today; §4.3 notes a future rework may defer to a worker pool without
// changing this interface's continuation-valued return type.
func (f *Filesystem) run(fn func() int64) *continuation.Continuation[int64] {
	c := continuation.FromProducer(f.loop, fn)
	c.Start()
	return c
}

func errno(err error) int64 {
	if e, ok := err.(unix.Errno); ok {
		return -int64(e)
	}
	return -int64(unix.EIO)
}

func (f *Filesystem) Open(name string, flags, mode int32) *continuation.Continuation[int64] {
	path := f.translate(name)
	return f.run(func() int64 {
		fd, err := unix.Open(path, int(flags), uint32(mode))
		if err != nil {
			f.log.WithError(err).WithField("path", path).Warn("open failed")
			return errno(err)
		}
		f.mu.Lock()
		f.paths[int32(fd)] = path
		f.mu.Unlock()
		return int64(fd)
	})
}

func (f *Filesystem) Close(fd int32) *continuation.Continuation[int64] {
	return f.run(func() int64 {
		err := unix.Close(int(fd))
		f.mu.Lock()
		delete(f.paths, fd)
		f.mu.Unlock()
		if err != nil {
			return errno(err)
		}
		return 0
	})
}

func (f *Filesystem) Read(fd int32, buf []byte) *continuation.Continuation[int64] {
	return f.run(func() int64 {
		n, err := unix.Read(int(fd), buf)
		if err != nil {
			return errno(err)
		}
		return int64(n)
	})
}

func (f *Filesystem) Write(fd int32, buf []byte) *continuation.Continuation[int64] {
	return f.run(func() int64 {
		n, err := unix.Write(int(fd), buf)
		if err != nil {
			return errno(err)
		}
		return int64(n)
	})
}

func (f *Filesystem) Lseek(fd int32, offset int64, whence int32) *continuation.Continuation[int64] {
	return f.run(func() int64 {
		off, err := unix.Seek(int(fd), offset, int(whence))
		if err != nil {
			return errno(err)
		}
		return off
	})
}

func (f *Filesystem) Fstat(fd int32, buf *unix.Stat_t) *continuation.Continuation[int64] {
	return f.run(func() int64 {
		if err := unix.Fstat(int(fd), buf); err != nil {
			return errno(err)
		}
		return 0
	})
}

func (f *Filesystem) Stat(path string, buf *unix.Stat_t) *continuation.Continuation[int64] {
	p := f.translate(path)
	return f.run(func() int64 {
		if err := unix.Stat(p, buf); err != nil {
			return errno(err)
		}
		return 0
	})
}

func (f *Filesystem) Lstat(path string, buf *unix.Stat_t) *continuation.Continuation[int64] {
	p := f.translate(path)
	return f.run(func() int64 {
		if err := unix.Lstat(p, buf); err != nil {
			return errno(err)
		}
		return 0
	})
}

func (f *Filesystem) Access(path string, mode int32) *continuation.Continuation[int64] {
	p := f.translate(path)
	return f.run(func() int64 {
		if err := unix.Access(p, uint32(mode)); err != nil {
			return errno(err)
		}
		return 0
	})
}

func (f *Filesystem) Getdents(fd int32, dirbuf []byte) *continuation.Continuation[int64] {
	return f.run(func() int64 {
		n, err := unix.Getdents(int(fd), dirbuf)
		if err != nil {
			return errno(err)
		}
		return int64(n)
	})
}

func (f *Filesystem) Readlink(path string, buf []byte) *continuation.Continuation[int64] {
	p := f.translate(path)
	return f.run(func() int64 {
		n, err := unix.Readlink(p, buf)
		if err != nil {
			return errno(err)
		}
		return int64(n)
	})
}
