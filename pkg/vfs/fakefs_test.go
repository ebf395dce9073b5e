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
	"sync"

	"golang.org/x/sys/unix"

	"github.com/tdfischer/codius-sandbox/pkg/continuation"
)

// stubFilesystem is a minimal in-memory Filesystem double for tests that
// only care about mount-table routing, not backend behavior.
type stubFilesystem struct {
	name string
}

func (s *stubFilesystem) value(loop *continuation.Loop, v int64) *continuation.Continuation[int64] {
	c := continuation.FromValue(loop, v)
	c.Start()
	return c
}

func (s *stubFilesystem) Open(name string, flags, mode int32) *continuation.Continuation[int64] {
	return nil
}
func (s *stubFilesystem) Close(fd int32) *continuation.Continuation[int64]            { return nil }
func (s *stubFilesystem) Read(fd int32, buf []byte) *continuation.Continuation[int64] { return nil }
func (s *stubFilesystem) Write(fd int32, buf []byte) *continuation.Continuation[int64] {
	return nil
}
func (s *stubFilesystem) Lseek(fd int32, offset int64, whence int32) *continuation.Continuation[int64] {
	return nil
}
func (s *stubFilesystem) Fstat(fd int32, buf *unix.Stat_t) *continuation.Continuation[int64] {
	return nil
}
func (s *stubFilesystem) Stat(path string, buf *unix.Stat_t) *continuation.Continuation[int64] {
	return nil
}
func (s *stubFilesystem) Lstat(path string, buf *unix.Stat_t) *continuation.Continuation[int64] {
	return nil
}
func (s *stubFilesystem) Access(path string, mode int32) *continuation.Continuation[int64] {
	return nil
}
func (s *stubFilesystem) Getdents(fd int32, dirbuf []byte) *continuation.Continuation[int64] {
	return nil
}
func (s *stubFilesystem) Readlink(path string, buf []byte) *continuation.Continuation[int64] {
	return nil
}

// scriptedFilesystem is a programmable Filesystem double: each method
// call consults (and advances) a per-operation queue of canned
// int64 results, and records the arguments it was called with so tests
// can assert on what the VFS forwarded to the backend.
type scriptedFilesystem struct {
	loop *continuation.Loop

	mu      sync.Mutex
	opens   []int64
	closes  []int64
	reads   []int64
	readBuf []byte
	writes  []int64
	lseeks  []int64
	stats    []int64
	statSize int64
	access   []int64
	dents    []int64
	dentBuf  []byte
	links    []int64
	linkBuf  []byte

	lastOpenName  string
	lastOpenFlags int32
	lastCloseFD   int32
	lastReadFD    int32
	lastWriteFD   int32
	lastWriteBuf  []byte
}

func (s *scriptedFilesystem) pop(q *[]int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(*q) == 0 {
		return 0
	}
	v := (*q)[0]
	*q = (*q)[1:]
	return v
}

func (s *scriptedFilesystem) finish(v int64) *continuation.Continuation[int64] {
	c := continuation.FromValue(s.loop, v)
	c.Start()
	return c
}

func (s *scriptedFilesystem) Open(name string, flags, mode int32) *continuation.Continuation[int64] {
	s.lastOpenName = name
	s.lastOpenFlags = flags
	return s.finish(s.pop(&s.opens))
}

func (s *scriptedFilesystem) Close(fd int32) *continuation.Continuation[int64] {
	s.lastCloseFD = fd
	return s.finish(s.pop(&s.closes))
}

func (s *scriptedFilesystem) Read(fd int32, buf []byte) *continuation.Continuation[int64] {
	s.lastReadFD = fd
	n := s.pop(&s.reads)
	if n > 0 && len(s.readBuf) > 0 {
		copy(buf, s.readBuf)
	}
	return s.finish(n)
}

func (s *scriptedFilesystem) Write(fd int32, buf []byte) *continuation.Continuation[int64] {
	s.lastWriteFD = fd
	s.lastWriteBuf = append([]byte(nil), buf...)
	return s.finish(s.pop(&s.writes))
}

func (s *scriptedFilesystem) Lseek(fd int32, offset int64, whence int32) *continuation.Continuation[int64] {
	return s.finish(s.pop(&s.lseeks))
}

func (s *scriptedFilesystem) Fstat(fd int32, buf *unix.Stat_t) *continuation.Continuation[int64] {
	n := s.pop(&s.stats)
	if n >= 0 {
		buf.Size = s.statSize
	}
	return s.finish(n)
}

func (s *scriptedFilesystem) Stat(path string, buf *unix.Stat_t) *continuation.Continuation[int64] {
	n := s.pop(&s.stats)
	if n >= 0 {
		buf.Size = s.statSize
	}
	return s.finish(n)
}

func (s *scriptedFilesystem) Lstat(path string, buf *unix.Stat_t) *continuation.Continuation[int64] {
	n := s.pop(&s.stats)
	if n >= 0 {
		buf.Size = s.statSize
	}
	return s.finish(n)
}

func (s *scriptedFilesystem) Access(path string, mode int32) *continuation.Continuation[int64] {
	return s.finish(s.pop(&s.access))
}

func (s *scriptedFilesystem) Getdents(fd int32, dirbuf []byte) *continuation.Continuation[int64] {
	n := s.pop(&s.dents)
	if n > 0 && len(s.dentBuf) > 0 {
		copy(dirbuf, s.dentBuf)
	}
	return s.finish(n)
}

func (s *scriptedFilesystem) Readlink(path string, buf []byte) *continuation.Continuation[int64] {
	n := s.pop(&s.links)
	if n > 0 && len(s.linkBuf) > 0 {
		copy(buf, s.linkBuf)
	}
	return s.finish(n)
}
