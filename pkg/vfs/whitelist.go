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

// defaultWhitelist is the fixed set of host paths a sandbox may reach
// directly, bypassing the mount table entirely. These are the handful
// of shared objects and loader files the dynamic linker needs before any
// mount is set up; they never change at runtime and are matched by exact
// path, not prefix.
var defaultWhitelist = []string{
	"/lib64/tls/x86_64/libc.so.6",
	"/lib64/tls/x86_64/libdl.so.2",
	"/lib64/tls/x86_64/librt.so.1",
	"/lib64/tls/x86_64/libpthread.so.0",
	"/lib64/tls/libc.so.6",
	"/lib64/tls/libdl.so.2",
	"/lib64/tls/librt.so.1",
	"/lib64/tls/libpthread.so.0",
	"/lib64/x86_64/libc.so.6",
	"/lib64/x86_64/libdl.so.2",
	"/lib64/x86_64/librt.so.1",
	"/lib64/x86_64/libpthread.so.0",
	"/lib64/libc.so.6",
	"/lib64/libdl.so.2",
	"/lib64/librt.so.1",
	"/lib64/libpthread.so.0",
	"/lib64/libstdc++.so.6",
	"/lib64/libm.so.6",
	"/lib64/libgcc_s.so.1",
	"/etc/ld.so.cache",
	"/etc/ld.so.preload",
	"/proc/self/exe",
}

// whitelist is a set built once at VFS construction time; it never
// changes afterward, so lookups need no locking.
type whitelist map[string]struct{}

func newWhitelist(extra ...string) whitelist {
	w := make(whitelist, len(defaultWhitelist)+len(extra))
	for _, p := range defaultWhitelist {
		w[p] = struct{}{}
	}
	for _, p := range extra {
		w[p] = struct{}{}
	}
	return w
}

func (w whitelist) contains(path string) bool {
	_, ok := w[path]
	return ok
}
