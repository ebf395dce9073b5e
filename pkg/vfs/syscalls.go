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
	"unsafe"

	"github.com/mohae/deepcopy"
	"golang.org/x/sys/unix"

	"github.com/tdfischer/codius-sandbox/pkg/continuation"
	"github.com/tdfischer/codius-sandbox/pkg/sandbox"
)

// maxPathLen bounds how many bytes CopyString will read for a path
// argument; Linux's own PATH_MAX is 4096, but sandboxed guests have no
// business with paths anywhere near that, so this stays conservative.
const maxPathLen = 1024

type syscallHandler func(v *VFS, call sandbox.SyscallCall, out *continuation.Continuation[sandbox.SyscallCall])

// syscallHandlers is the dispatch table behind HandleSyscall, keyed by
// the host's own syscall numbers so the table is self-documenting
// against golang.org/x/sys/unix rather than a hand-maintained enum.
var syscallHandlers = map[int64]syscallHandler{
	int64(unix.SYS_OPEN):       (*VFS).doOpen,
	int64(unix.SYS_OPENAT):     (*VFS).doOpenat,
	int64(unix.SYS_CLOSE):      (*VFS).doClose,
	int64(unix.SYS_READ):       (*VFS).doRead,
	int64(unix.SYS_WRITE):      (*VFS).doWrite,
	int64(unix.SYS_LSEEK):      (*VFS).doLseek,
	int64(unix.SYS_FSTAT):      (*VFS).doFstat,
	int64(unix.SYS_STAT):       (*VFS).doStat,
	int64(unix.SYS_LSTAT):      (*VFS).doLstat,
	int64(unix.SYS_ACCESS):     (*VFS).doAccess,
	int64(unix.SYS_GETDENTS64): (*VFS).doGetdents,
	int64(unix.SYS_CHDIR):      (*VFS).doChdir,
	int64(unix.SYS_FCHDIR):     (*VFS).doFchdir,
	int64(unix.SYS_GETCWD):     (*VFS).doGetcwd,
	int64(unix.SYS_READLINK):   (*VFS).doReadlink,
}

// HandleSyscall dispatches call to the matching do* handler, or hands it
// back unchanged if this VFS has no handler registered for call.ID --
// per §4.6's state machine, an unrecognized syscall silently passes
// through to the kernel.
func (v *VFS) HandleSyscall(call sandbox.SyscallCall) *continuation.Continuation[sandbox.SyscallCall] {
	out := continuation.Pending[sandbox.SyscallCall](v.loop)
	h, ok := syscallHandlers[call.ID]
	if !ok {
		v.loop.Defer(func() { out.Finish(call) })
		return out
	}
	v.log.WithField("syscall", call.ID).Debug("dispatching")
	h(v, call, out)
	return out
}

func copyCall(call sandbox.SyscallCall) sandbox.SyscallCall {
	return deepcopy.Copy(call).(sandbox.SyscallCall)
}

func statBytes(st *unix.Stat_t) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(st)), unsafe.Sizeof(*st))
}

// passthrough hands call back to the tracer unchanged -- used for every
// "not whitelisted, not a virtual FD, not a match" skip.
func (v *VFS) passthrough(call sandbox.SyscallCall, out *continuation.Continuation[sandbox.SyscallCall]) {
	v.loop.Defer(func() { out.Finish(call) })
}

func (v *VFS) finishWith(out *continuation.Continuation[sandbox.SyscallCall], ret sandbox.SyscallCall) {
	v.loop.Defer(func() { out.Finish(ret) })
}

func (v *VFS) failENOENT(call sandbox.SyscallCall, out *continuation.Continuation[sandbox.SyscallCall]) {
	ret := copyCall(call)
	ret.ID = -1
	ret.ReturnVal = errENOENT
	v.finishWith(out, ret)
}

func (v *VFS) failEBADF(call sandbox.SyscallCall, out *continuation.Continuation[sandbox.SyscallCall]) {
	ret := copyCall(call)
	ret.ID = -1
	ret.ReturnVal = errEBADF
	v.finishWith(out, ret)
}

// openFileCall implements the shared tail of open/openat (§4.6): given an
// already-resolved absolute virtual path plus the flags/mode argument
// indices, resolve the mount, invoke the backend, and allocate a virtual
// FD on success.
func (v *VFS) openFileCall(call sandbox.SyscallCall, path string, flagsArg, modeArg int, out *continuation.Continuation[sandbox.SyscallCall]) {
	if v.isWhitelisted(path) {
		v.passthrough(call, out)
		return
	}
	ret := copyCall(call)
	ret.ID = -1
	tail, fs, ok := v.getFilesystem(path)
	if !ok {
		ret.ReturnVal = errENOENT
		v.finishWith(out, ret)
		return
	}
	flags := int32(call.Args[flagsArg])
	mode := int32(call.Args[modeArg])
	head := fs.Open(tail, flags, mode)
	head.Then(continuation.New(v.loop, func(fd int64, _ *continuation.Continuation[int64]) {
		if fd < 0 {
			ret.ReturnVal = fd
		} else {
			// Any fd >= 0 is success, including 0.
			f := v.makeFile(fs, int32(fd), path)
			ret.ReturnVal = int64(f.virtualFD)
		}
		out.Finish(ret)
	}))
	head.Start()
}

func (v *VFS) doOpen(call sandbox.SyscallCall, out *continuation.Continuation[sandbox.SyscallCall]) {
	path, err := v.sbx.CopyString(call.PID, call.Arg(0), maxPathLen)
	if err != nil {
		v.failENOENT(call, out)
		return
	}
	v.openFileCall(call, path, 1, 2, out)
}

func (v *VFS) doOpenat(call sandbox.SyscallCall, out *continuation.Continuation[sandbox.SyscallCall]) {
	name, err := v.sbx.CopyString(call.PID, call.Arg(1), maxPathLen)
	if err != nil {
		v.failENOENT(call, out)
		return
	}
	path, err := v.resolveAt(int32(call.Args[0]), name)
	if err != nil {
		v.failEBADF(call, out)
		return
	}
	v.openFileCall(call, path, 2, 3, out)
}

func (v *VFS) doClose(call sandbox.SyscallCall, out *continuation.Continuation[sandbox.SyscallCall]) {
	fd := int32(call.Args[0])
	if !v.isVirtualFD(fd) {
		v.passthrough(call, out)
		return
	}
	ret := copyCall(call)
	ret.ID = -1
	f, ok := v.getFile(fd)
	if !ok || !f.markClosed() {
		ret.ReturnVal = errEBADF
		v.finishWith(out, ret)
		return
	}
	delete(v.openFiles, fd)
	head := f.fs.Close(f.localFD)
	head.Then(continuation.New(v.loop, func(rv int64, _ *continuation.Continuation[int64]) {
		ret.ReturnVal = rv
		out.Finish(ret)
	}))
	head.Start()
}

func (v *VFS) doRead(call sandbox.SyscallCall, out *continuation.Continuation[sandbox.SyscallCall]) {
	fd := int32(call.Args[0])
	if !v.isVirtualFD(fd) {
		v.passthrough(call, out)
		return
	}
	ret := copyCall(call)
	ret.ID = -1
	f, ok := v.getFile(fd)
	if !ok {
		ret.ReturnVal = errEBADF
		v.finishWith(out, ret)
		return
	}
	buf := make([]byte, v.boundedCount(call.Args[2]))
	head := f.fs.Read(f.localFD, buf)
	head.Then(continuation.New(v.loop, func(n int64, _ *continuation.Continuation[int64]) {
		ret.ReturnVal = n
		if n > 0 {
			if err := v.sbx.WriteData(call.PID, call.Arg(1), buf[:n]); err != nil {
				v.log.WithError(err).Warn("read: writeData failed")
				ret.ReturnVal = errEIO
			}
		}
		out.Finish(ret)
	}))
	head.Start()
}

func (v *VFS) doWrite(call sandbox.SyscallCall, out *continuation.Continuation[sandbox.SyscallCall]) {
	fd := int32(call.Args[0])
	if !v.isVirtualFD(fd) {
		v.passthrough(call, out)
		return
	}
	ret := copyCall(call)
	ret.ID = -1
	f, ok := v.getFile(fd)
	if !ok {
		ret.ReturnVal = errEBADF
		v.finishWith(out, ret)
		return
	}
	buf := make([]byte, v.boundedCount(call.Args[2]))
	if err := v.sbx.CopyData(call.PID, call.Arg(1), buf); err != nil {
		ret.ReturnVal = errEIO
		v.finishWith(out, ret)
		return
	}
	head := f.fs.Write(f.localFD, buf)
	head.Then(continuation.New(v.loop, func(n int64, _ *continuation.Continuation[int64]) {
		ret.ReturnVal = n
		out.Finish(ret)
	}))
	head.Start()
}

func (v *VFS) doLseek(call sandbox.SyscallCall, out *continuation.Continuation[sandbox.SyscallCall]) {
	fd := int32(call.Args[0])
	if !v.isVirtualFD(fd) {
		v.passthrough(call, out)
		return
	}
	ret := copyCall(call)
	ret.ID = -1
	f, ok := v.getFile(fd)
	if !ok {
		ret.ReturnVal = errEBADF
		v.finishWith(out, ret)
		return
	}
	head := f.fs.Lseek(f.localFD, call.Args[1], int32(call.Args[2]))
	head.Then(continuation.New(v.loop, func(off int64, _ *continuation.Continuation[int64]) {
		ret.ReturnVal = off
		out.Finish(ret)
	}))
	head.Start()
}

func (v *VFS) doFstat(call sandbox.SyscallCall, out *continuation.Continuation[sandbox.SyscallCall]) {
	fd := int32(call.Args[0])
	if !v.isVirtualFD(fd) {
		v.passthrough(call, out)
		return
	}
	ret := copyCall(call)
	ret.ID = -1
	f, ok := v.getFile(fd)
	if !ok {
		ret.ReturnVal = errEBADF
		v.finishWith(out, ret)
		return
	}
	var st unix.Stat_t
	head := f.fs.Fstat(f.localFD, &st)
	head.Then(continuation.New(v.loop, func(rv int64, _ *continuation.Continuation[int64]) {
		ret.ReturnVal = rv
		if rv >= 0 {
			if err := v.sbx.WriteData(call.PID, call.Arg(1), statBytes(&st)); err != nil {
				ret.ReturnVal = errEIO
			}
		}
		out.Finish(ret)
	}))
	head.Start()
}

func (v *VFS) doStat(call sandbox.SyscallCall, out *continuation.Continuation[sandbox.SyscallCall]) {
	v.statPath(call, out, false)
}

func (v *VFS) doLstat(call sandbox.SyscallCall, out *continuation.Continuation[sandbox.SyscallCall]) {
	v.statPath(call, out, true)
}

func (v *VFS) statPath(call sandbox.SyscallCall, out *continuation.Continuation[sandbox.SyscallCall], link bool) {
	path, err := v.sbx.CopyString(call.PID, call.Arg(0), maxPathLen)
	if err != nil {
		v.failENOENT(call, out)
		return
	}
	if v.isWhitelisted(path) {
		v.passthrough(call, out)
		return
	}
	ret := copyCall(call)
	ret.ID = -1
	tail, fs, ok := v.getFilesystem(path)
	if !ok {
		ret.ReturnVal = errENOENT
		v.finishWith(out, ret)
		return
	}
	var st unix.Stat_t
	var head *continuation.Continuation[int64]
	if link {
		head = fs.Lstat(tail, &st)
	} else {
		head = fs.Stat(tail, &st)
	}
	head.Then(continuation.New(v.loop, func(rv int64, _ *continuation.Continuation[int64]) {
		ret.ReturnVal = rv
		if rv >= 0 {
			if err := v.sbx.WriteData(call.PID, call.Arg(1), statBytes(&st)); err != nil {
				ret.ReturnVal = errEIO
			}
		}
		out.Finish(ret)
	}))
	head.Start()
}

func (v *VFS) doAccess(call sandbox.SyscallCall, out *continuation.Continuation[sandbox.SyscallCall]) {
	path, err := v.sbx.CopyString(call.PID, call.Arg(0), maxPathLen)
	if err != nil {
		v.failENOENT(call, out)
		return
	}
	if v.isWhitelisted(path) {
		v.passthrough(call, out)
		return
	}
	ret := copyCall(call)
	ret.ID = -1
	tail, fs, ok := v.getFilesystem(path)
	if !ok {
		ret.ReturnVal = errENOENT
		v.finishWith(out, ret)
		return
	}
	head := fs.Access(tail, int32(call.Args[1]))
	head.Then(continuation.New(v.loop, func(rv int64, _ *continuation.Continuation[int64]) {
		ret.ReturnVal = rv
		out.Finish(ret)
	}))
	head.Start()
}

func (v *VFS) doGetdents(call sandbox.SyscallCall, out *continuation.Continuation[sandbox.SyscallCall]) {
	fd := int32(call.Args[0])
	if !v.isVirtualFD(fd) {
		v.passthrough(call, out)
		return
	}
	ret := copyCall(call)
	ret.ID = -1
	f, ok := v.getFile(fd)
	if !ok {
		ret.ReturnVal = errEBADF
		v.finishWith(out, ret)
		return
	}
	buf := make([]byte, v.boundedCount(call.Args[2]))
	head := f.fs.Getdents(f.localFD, buf)
	head.Then(continuation.New(v.loop, func(n int64, _ *continuation.Continuation[int64]) {
		ret.ReturnVal = n
		if n > 0 {
			if err := v.sbx.WriteData(call.PID, call.Arg(1), buf[:n]); err != nil {
				ret.ReturnVal = errEIO
			}
		}
		out.Finish(ret)
	}))
	head.Start()
}

func (v *VFS) doReadlink(call sandbox.SyscallCall, out *continuation.Continuation[sandbox.SyscallCall]) {
	path, err := v.sbx.CopyString(call.PID, call.Arg(0), maxPathLen)
	if err != nil {
		v.failENOENT(call, out)
		return
	}
	if v.isWhitelisted(path) {
		v.passthrough(call, out)
		return
	}
	ret := copyCall(call)
	ret.ID = -1
	tail, fs, ok := v.getFilesystem(path)
	if !ok {
		ret.ReturnVal = errENOENT
		v.finishWith(out, ret)
		return
	}
	bufsize := v.boundedCount(call.Args[2])
	buf := make([]byte, bufsize)
	head := fs.Readlink(tail, buf)
	head.Then(continuation.New(v.loop, func(n int64, _ *continuation.Continuation[int64]) {
		ret.ReturnVal = n
		if n > 0 {
			wn := int(n)
			if wn > bufsize {
				wn = bufsize
			}
			if err := v.sbx.WriteData(call.PID, call.Arg(1), buf[:wn]); err != nil {
				ret.ReturnVal = errEIO
			}
		}
		out.Finish(ret)
	}))
	head.Start()
}

func (v *VFS) doChdir(call sandbox.SyscallCall, out *continuation.Continuation[sandbox.SyscallCall]) {
	path, err := v.sbx.CopyString(call.PID, call.Arg(0), maxPathLen)
	if err != nil {
		v.failENOENT(call, out)
		return
	}
	ret := copyCall(call)
	ret.ID = -1
	head := v.SetCWD(path)
	head.Then(continuation.New(v.loop, func(rv int64, _ *continuation.Continuation[int64]) {
		ret.ReturnVal = rv
		out.Finish(ret)
	}))
}

func (v *VFS) doFchdir(call sandbox.SyscallCall, out *continuation.Continuation[sandbox.SyscallCall]) {
	fd := int32(call.Args[0])
	if !v.isVirtualFD(fd) {
		v.passthrough(call, out)
		return
	}
	ret := copyCall(call)
	ret.ID = -1
	f, ok := v.getFile(fd)
	if !ok {
		ret.ReturnVal = errEBADF
		v.finishWith(out, ret)
		return
	}
	v.cwd = f
	ret.ReturnVal = 0
	v.finishWith(out, ret)
}

func (v *VFS) doGetcwd(call sandbox.SyscallCall, out *continuation.Continuation[sandbox.SyscallCall]) {
	ret := copyCall(call)
	ret.ID = -1
	cwd := v.getCWD()
	if cwd == "" {
		ret.ReturnVal = errENOENT
		v.finishWith(out, ret)
		return
	}
	max := int(call.Args[1])
	if max <= 0 || max > maxGuestBuffer {
		max = maxGuestBuffer
	}
	b := []byte(cwd)
	if len(b) > max {
		b = b[:max]
	}
	if err := v.sbx.WriteData(call.PID, call.Arg(0), b); err != nil {
		ret.ReturnVal = errEIO
	} else {
		ret.ReturnVal = int64(len(b))
	}
	v.finishWith(out, ret)
}
