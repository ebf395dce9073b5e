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

// Package fake provides an in-memory sandbox.Sandbox, standing in for the
// real ptrace tracer in tests.
package fake

import (
	"bytes"
	"fmt"

	"github.com/tdfischer/codius-sandbox/pkg/sandbox"
)

// Memory is a trivial guest memory emulation: each WriteData or Put stores
// one region keyed by its start address, and a read sees only a region
// that starts exactly at the address read (zeros otherwise). It is not
// safe for concurrent use.
type Memory struct {
	bytes map[sandbox.Address][]byte
}

// NewMemory returns an empty guest memory.
func NewMemory() *Memory {
	return &Memory{bytes: make(map[sandbox.Address][]byte)}
}

// CopyString implements sandbox.Sandbox.
func (m *Memory) CopyString(pid int32, addr sandbox.Address, maxLen int) (string, error) {
	buf := m.read(addr, maxLen)
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		return string(buf[:i]), nil
	}
	return string(buf), nil
}

// CopyData implements sandbox.Sandbox.
func (m *Memory) CopyData(pid int32, addr sandbox.Address, out []byte) error {
	copy(out, m.read(addr, len(out)))
	return nil
}

// WriteData implements sandbox.Sandbox.
func (m *Memory) WriteData(pid int32, addr sandbox.Address, data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)
	m.bytes[addr] = buf
	return nil
}

// Put preloads data at addr, for constructing test fixtures.
func (m *Memory) Put(addr sandbox.Address, data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)
	m.bytes[addr] = buf
}

// At returns the n bytes written at addr, for assertions in tests.
func (m *Memory) At(addr sandbox.Address, n int) []byte {
	return m.read(addr, n)
}

func (m *Memory) read(addr sandbox.Address, n int) []byte {
	src, ok := m.bytes[addr]
	if !ok {
		return make([]byte, n)
	}
	out := make([]byte, n)
	copy(out, src)
	return out
}

// String implements fmt.Stringer for debugging failures.
func (m *Memory) String() string {
	return fmt.Sprintf("fake.Memory{%d regions}", len(m.bytes))
}
