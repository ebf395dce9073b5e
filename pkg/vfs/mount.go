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
	"strings"

	"github.com/google/btree"
)

// mountTableDegree is the btree's branching factor. Our mount tables are
// tiny (a handful of entries per sandbox), so this only needs to be big
// enough to keep the tree shallow; it is not a tuning knob callers need
// to touch.
const mountTableDegree = 8

// mountTable maps absolute path prefixes to the Filesystem that services
// them, ordered so that the longest prefix matching a query path can be
// found directly instead of by scanning every mount in insertion order.
// This is the §9-recommended fix to the source's first-match-in-
// iteration-order lookup.
type mountTable struct {
	tree *btree.BTree
}

type mountEntry struct {
	prefix string
	fs     Filesystem
}

func (e *mountEntry) Less(than btree.Item) bool {
	return e.prefix < than.(*mountEntry).prefix
}

func newMountTable() *mountTable {
	return &mountTable{tree: btree.New(mountTableDegree)}
}

// insert adds or replaces the mount at path. No overlap check is
// performed: a later call with the same (post-normalization) path simply
// replaces the earlier one, matching the source's insertion-set
// semantics.
func (t *mountTable) insert(path string, fs Filesystem) {
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	t.tree.ReplaceOrInsert(&mountEntry{prefix: path, fs: fs})
}

// lookup returns the Filesystem whose mount prefix is the longest proper
// match of path, and the path tail to hand to that backend -- the
// query path with the matched prefix removed, except for one leading
// '/' which is preserved so the backend always sees an absolute-looking
// path relative to its own root. A path naming a mount point itself
// ("/data" for the mount "/data/") matches that mount with tail "/".
func (t *mountTable) lookup(path string) (tail string, fs Filesystem, ok bool) {
	query := path
	if !strings.HasSuffix(query, "/") {
		query += "/"
	}
	pivot := &mountEntry{prefix: query}
	var found *mountEntry
	t.tree.DescendLessOrEqual(pivot, func(i btree.Item) bool {
		e := i.(*mountEntry)
		if strings.HasPrefix(query, e.prefix) {
			found = e
			return false
		}
		return true
	})
	if found == nil {
		return "", nil, false
	}
	tail = path[len(found.prefix)-1:]
	if tail == "" {
		tail = "/"
	}
	return tail, found.fs, true
}
