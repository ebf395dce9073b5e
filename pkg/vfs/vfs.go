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

// Package vfs is the mount-table path router, virtual file descriptor
// allocator, and per-syscall translator a traced guest's filesystem
// operations are serviced through. It depends on a sandbox.Sandbox for
// guest-memory access and on zero or more Filesystem backends, mounted
// at path prefixes, to actually service operations.
package vfs

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/tdfischer/codius-sandbox/pkg/continuation"
	"github.com/tdfischer/codius-sandbox/pkg/sandbox"
)

// nextVirtualFD is process-wide, per spec §3: "monotonically allocated
// by an atomic counter shared across all files in the process," so that
// multiple VFS instances (multiple guests) never hand out colliding
// virtual FDs.
var nextVirtualFD = int64(FirstVirtualFD - 1)

func allocVirtualFD() int32 {
	return int32(atomic.AddInt64(&nextVirtualFD, 1))
}

// maxGuestBuffer bounds how large a host-side copy of a guest buffer the
// VFS will allocate for any single read/write/getdents/readlink, per
// §9's warning against letting a hostile guest force giant allocations.
const maxGuestBuffer = 1 << 20 // 1 MiB

// VFS is the focus of the design (§4.6). All of its mutable state --
// mounts, openFiles, cwd -- is owned exclusively by the goroutine
// draining loop and must only be mutated from there, per §5's "Shared
// resource policy"; this package performs no locking of its own for
// that state.
type VFS struct {
	sbx       sandbox.Sandbox
	loop      *continuation.Loop
	mounts    *mountTable
	whitelist whitelist
	openFiles map[int32]*openFile
	cwd       *openFile
	limiter   *rate.Limiter
	log       *logrus.Entry
}

// Option configures a VFS at construction time.
type Option func(*VFS)

// WithWhitelist adds extra exact-match paths to the default whitelist
// (§6), on top of the fixed set every VFS carries.
func WithWhitelist(paths ...string) Option {
	return func(v *VFS) {
		for _, p := range paths {
			v.whitelist[p] = struct{}{}
		}
	}
}

// WithRateLimiter overrides the default guest-buffer-allocation limiter.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(v *VFS) { v.limiter = l }
}

// WithLogger overrides the default logrus logger.
func WithLogger(log *logrus.Entry) Option {
	return func(v *VFS) { v.log = log }
}

// New constructs a VFS bound to sbx and driven by loop. loop is not
// started by New; the caller owns that decision (see pkg/continuation).
func New(sbx sandbox.Sandbox, loop *continuation.Loop, opts ...Option) *VFS {
	v := &VFS{
		sbx:       sbx,
		loop:      loop,
		mounts:    newMountTable(),
		whitelist: newWhitelist(),
		openFiles: make(map[int32]*openFile),
		limiter:   rate.NewLimiter(rate.Limit(1<<20), 4<<20),
		log:       logrus.WithField("component", "vfs"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// MountFilesystem adds a mount. No overlap check is performed; a later
// call with the same prefix silently replaces the earlier mount.
func (v *VFS) MountFilesystem(path string, fs Filesystem) {
	v.mounts.insert(path, fs)
	v.log.WithField("path", path).Debug("mounted filesystem")
}

// getFilesystem resolves path to the backend that should service it,
// prefixing it with the CWD first if it is relative (§4.6 step 1: "If
// path[0] == '.', prefix with cwd.path()" -- generalized here to any
// path that doesn't already start with '/', since a relative path need
// not literally begin with a dot).
func (v *VFS) getFilesystem(path string) (tail string, fs Filesystem, ok bool) {
	search := path
	if !strings.HasPrefix(search, "/") {
		search = joinPath(v.getCWD(), search)
	}
	return v.mounts.lookup(search)
}

// getFile looks up an open file by virtual FD.
func (v *VFS) getFile(vfd int32) (*openFile, bool) {
	f, ok := v.openFiles[vfd]
	return f, ok
}

// isVirtualFD reports whether fd was allocated by this process's virtual
// FD counter rather than belonging to the guest's real descriptor table.
func (v *VFS) isVirtualFD(fd int32) bool {
	return fd >= FirstVirtualFD
}

// isWhitelisted reports exact membership in the fixed whitelist set.
func (v *VFS) isWhitelisted(path string) bool {
	return v.whitelist.contains(path)
}

// getCWD returns the current working directory's virtual path, or "" if
// setCWD/chdir has never succeeded.
func (v *VFS) getCWD() string {
	if v.cwd == nil {
		return ""
	}
	return v.cwd.path
}

// GetCWD is getCWD exposed as a public API per §6.
func (v *VFS) GetCWD() string {
	return v.getCWD()
}

// SetCWD trims one trailing '/', resolves path through the mount table,
// backend-opens it with O_DIRECTORY, and replaces cwd on success. It
// starts its own continuation chain -- callers may attach a Then before
// or simply discard the handle, mirroring any other directly-invoked
// (non-dispatch-table) VFS entry point.
func (v *VFS) SetCWD(path string) *continuation.Continuation[int64] {
	trimmed := strings.TrimSuffix(path, "/")
	result := continuation.Pending[int64](v.loop)

	tail, fs, ok := v.getFilesystem(trimmed)
	if !ok {
		v.log.WithField("path", trimmed).Warn("chdir: no mount matches")
		v.loop.Defer(func() { result.Finish(errENOENT) })
		return result
	}

	head := fs.Open(tail, unix.O_DIRECTORY, 0)
	head.Then(continuation.New(v.loop, func(fd int64, _ *continuation.Continuation[int64]) {
		if fd < 0 {
			result.Finish(fd)
			return
		}
		v.cwd = v.makeFile(fs, int32(fd), trimmed)
		result.Finish(0)
	}))
	head.Start()
	return result
}

// boundedCount clamps a guest-requested byte count to maxGuestBuffer and,
// if the per-VFS rate limiter judges the request too large for the
// current allowance, clamps further to the limiter's burst size. This is
// the §9-recommended defense against a hostile guest forcing giant
// host-side allocations.
func (v *VFS) boundedCount(requested int64) int {
	n := int(requested)
	if n < 0 {
		n = 0
	}
	if n > maxGuestBuffer {
		n = maxGuestBuffer
	}
	if !v.limiter.AllowN(time.Now(), n) && n > v.limiter.Burst() {
		n = v.limiter.Burst()
	}
	return n
}

// makeFile registers a freshly backend-opened descriptor under a new
// virtual FD and returns the resulting open-file record.
func (v *VFS) makeFile(fs Filesystem, localFD int32, path string) *openFile {
	vfd := allocVirtualFD()
	f := newOpenFile(fs, localFD, vfd, path)
	v.openFiles[vfd] = f
	return f
}
