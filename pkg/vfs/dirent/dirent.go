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

// Package dirent builds and parses the byte layout getdents(2) returns:
// a run of fixed-header, variable-length linux_dirent records with no
// inter-record padding. Builder is the Go port of the source's
// DirentBuilder; Parse is new, used by tests to check round-tripping.
package dirent

import (
	"encoding/binary"
	"errors"
)

// DT_REG is the default d_type Builder stamps on every record: this
// package has no notion of file type, only names, matching the source's
// comment "FIXME: This needs to be able to support non-regular file
// types".
const DT_REG = 8

// firstInode is the seed DirentBuilder's synthesized d_ino counter starts
// from. Fixed per spec so output is reproducible across runs.
const firstInode = 4242

// headerSize is sizeof(linux_dirent) on a 64-bit host: two unsigned longs
// (d_ino, d_off) plus one unsigned short (d_reclen), with no trailing
// d_name/d_type counted here -- those are appended per record.
const headerSize = 8 + 8 + 2

// Builder accumulates names and serializes them into a getdents(2)-style
// buffer on Bytes. It owns no backend state; buffer ownership transfers
// to the caller, matching the source's std::vector<char> return.
type Builder struct {
	names []string
	inode uint64
}

// NewBuilder returns an empty Builder whose first synthesized inode is
// the fixed seed value.
func NewBuilder() *Builder {
	return &Builder{inode: firstInode}
}

// Append queues name to be written by the next call to Bytes.
func (b *Builder) Append(name string) {
	b.names = append(b.names, name)
}

// Bytes serializes every appended name into a packed linux_dirent buffer:
// for each name, a record carrying d_ino (monotonically increasing from
// the fixed seed), d_off (always zero -- unused by callers), d_reclen
// (this record's total length), a NUL-terminated d_name, and a trailing
// d_type byte defaulting to DT_REG. Records are concatenated with no
// padding between them.
func (b *Builder) Bytes() []byte {
	var out []byte
	for _, name := range b.names {
		out = append(out, record(b.inode, name)...)
		b.inode++
	}
	return out
}

func record(ino uint64, name string) []byte {
	// reclen = header + name + NUL + d_type, matching the source's
	// `sizeof(linux_dirent) + name.size() + sizeof(char) * 3` -- the
	// extra byte beyond NUL+d_type pads to the source's layout exactly.
	reclen := headerSize + len(name) + 3
	rec := make([]byte, reclen)
	binary.LittleEndian.PutUint64(rec[0:8], ino)
	binary.LittleEndian.PutUint64(rec[8:16], 0) // d_off, unused
	binary.LittleEndian.PutUint16(rec[16:18], uint16(reclen))
	copy(rec[18:], name)
	rec[18+len(name)] = 0 // NUL terminator
	rec[reclen-1] = DT_REG
	return rec
}

// Record is one parsed linux_dirent entry, used by tests to verify
// Builder's output round-trips.
type Record struct {
	Ino    uint64
	Reclen uint16
	Name   string
	Type   byte
}

// Parse splits a getdents(2)-style buffer back into records. It exists
// for tests, not production use: real getdents(2) callers only need the
// raw bytes to hand back to the guest.
func Parse(buf []byte) ([]Record, error) {
	var recs []Record
	for len(buf) > 0 {
		if len(buf) < headerSize {
			return nil, errors.New("dirent: truncated record header")
		}
		ino := binary.LittleEndian.Uint64(buf[0:8])
		reclen := binary.LittleEndian.Uint16(buf[16:18])
		if int(reclen) > len(buf) || reclen < headerSize+2 {
			return nil, errors.New("dirent: invalid d_reclen")
		}
		nameEnd := headerSize
		for nameEnd < int(reclen)-1 && buf[nameEnd] != 0 {
			nameEnd++
		}
		name := string(buf[headerSize:nameEnd])
		recs = append(recs, Record{
			Ino:    ino,
			Reclen: reclen,
			Name:   name,
			Type:   buf[reclen-1],
		})
		buf = buf[reclen:]
	}
	return recs, nil
}
