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
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// MountFromSpec is a single resolved OCI mount entry, the input to
// MountsFromOCISpec's backend callback. It carries just enough of
// specs.Mount for a caller to decide which Filesystem to construct.
type MountFromSpec struct {
	Destination string
	Source      string
	Type        string
	Options     []string
}

// MountsFromOCISpec walks an OCI runtime spec's Mounts list and, for
// each entry, asks newBackend to build the Filesystem that should
// service it; entries newBackend declines (nil, nil) are skipped, and
// entries it errors on abort the whole call. This lets a caller seed a
// VFS's mount table directly from a container bundle's config.json
// instead of hand-listing MountFilesystem calls, the bridge between the
// sandbox's OCI-facing launcher and this package's mount table.
func MountsFromOCISpec(v *VFS, mounts []specs.Mount, newBackend func(MountFromSpec) (Filesystem, error)) error {
	for _, m := range mounts {
		spec := MountFromSpec{
			Destination: m.Destination,
			Source:      m.Source,
			Type:        m.Type,
			Options:     m.Options,
		}
		fs, err := newBackend(spec)
		if err != nil {
			return err
		}
		if fs == nil {
			continue
		}
		v.MountFilesystem(spec.Destination, fs)
	}
	return nil
}
