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

// Package bridge implements vfs.Filesystem by forwarding a handful of
// operations to an external delegate process over a pair of named
// pipes. It is the Go equivalent of the source's CodiusNodeFilesystem
// (node-filesystem.cpp), which forwarded to an embedding V8 runtime via
// a synchronous doVFS call; this generalizes that pattern to any
// delegate process speaking a line-delimited JSON protocol, and keeps
// the source's choice of implementing only open/getdents/read, leaving
// everything else -ENOSYS.
package bridge

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/containerd/fifo"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/tdfischer/codius-sandbox/pkg/continuation"
	"github.com/tdfischer/codius-sandbox/pkg/vfs"
	"github.com/tdfischer/codius-sandbox/pkg/vfs/dirent"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var _ vfs.Filesystem = (*Filesystem)(nil)

// callTimeout bounds how long a single call will retry a pipe hiccup
// before giving up and reporting EIO to the caller.
const callTimeout = 5 * time.Second

// request is one line of the wire protocol sent to the delegate.
type request struct {
	Op    string `json:"op"`
	Name  string `json:"name,omitempty"`
	Flags int32  `json:"flags,omitempty"`
	Mode  int32  `json:"mode,omitempty"`
	FD    int32  `json:"fd,omitempty"`
	Count int    `json:"count,omitempty"`
}

// response is one line of the wire protocol read back from the
// delegate, the Go equivalent of the source's VFSResult{errnum, result}.
type response struct {
	Errno int64    `json:"errno"`
	FD    int64    `json:"fd,omitempty"`
	Names []string `json:"names,omitempty"`
	Data  []byte   `json:"data,omitempty"`
}

// Filesystem forwards open/getdents/read to a delegate process reachable
// over reqPath (written to) and respPath (read from).
type Filesystem struct {
	loop *continuation.Loop
	log  *logrus.Entry

	mu     sync.Mutex
	in     io.WriteCloser
	outRaw io.Closer
	out    *bufio.Reader

	eg      *errgroup.Group
	closeCh chan struct{}
}

// Open connects to the delegate's request/response FIFOs. ctx bounds
// connection setup only; once connected the pipes are held open for the
// backend's lifetime, until Shutdown.
func Open(ctx context.Context, loop *continuation.Loop, reqPath, respPath string) (*Filesystem, error) {
	in, err := fifo.OpenFifo(ctx, reqPath, unix.O_WRONLY, 0)
	if err != nil {
		return nil, err
	}
	out, err := fifo.OpenFifo(ctx, respPath, unix.O_RDONLY, 0)
	if err != nil {
		in.Close()
		return nil, err
	}

	eg, _ := errgroup.WithContext(context.Background())
	f := &Filesystem{
		loop:    loop,
		log:     logrus.WithField("component", "bridge-filesystem"),
		in:      in,
		outRaw:  out,
		out:     bufio.NewReader(out),
		eg:      eg,
		closeCh: make(chan struct{}),
	}
	// eg supervises this backend's own shutdown: Shutdown signals closeCh
	// and waits for both pipes to actually finish closing instead of
	// racing a caller that calls Shutdown from one goroutine while a call
	// is in flight on another.
	f.eg.Go(func() error {
		<-f.closeCh
		f.mu.Lock()
		defer f.mu.Unlock()
		writeErr := f.in.Close()
		readErr := f.outRaw.Close()
		if writeErr != nil {
			return writeErr
		}
		return readErr
	})
	return f, nil
}

// Shutdown signals the shutdown goroutine to close both pipes and waits
// for it to finish; a call already in flight completes first. Shutdown
// does not itself reject later calls: they fail on the closed pipes and
// report EIO. Not part of the Filesystem
// interface -- it is the embedder's job to call this when tearing the
// backend down, same as native.Filesystem.Close.
func (f *Filesystem) Shutdown() error {
	close(f.closeCh)
	return f.eg.Wait()
}

// call sends req and blocks for the matching response line, retrying
// transient pipe errors (EINTR, EPIPE) with backoff up to callTimeout.
func (f *Filesystem) call(req request) (response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	// Only EINTR and EPIPE are retried; any other failure (EOF, a closed
	// pipe, an undecodable response line) ends the call at once.
	transient := func(err error) error {
		if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EPIPE) {
			return err
		}
		return backoff.Permanent(err)
	}

	var resp response
	op := func() error {
		line, err := json.Marshal(req)
		if err != nil {
			return backoff.Permanent(err)
		}
		line = append(line, '\n')
		if _, err := f.in.Write(line); err != nil {
			return transient(err)
		}
		respLine, err := f.out.ReadBytes('\n')
		if err != nil {
			return transient(err)
		}
		if err := json.Unmarshal(respLine, &resp); err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = callTimeout
	if err := backoff.Retry(op, b); err != nil {
		return response{}, err
	}
	return resp, nil
}

func (f *Filesystem) run(fn func() int64) *continuation.Continuation[int64] {
	c := continuation.FromProducer(f.loop, fn)
	c.Start()
	return c
}

func (f *Filesystem) Open(name string, flags, mode int32) *continuation.Continuation[int64] {
	return f.run(func() int64 {
		resp, err := f.call(request{Op: "open", Name: name, Flags: flags, Mode: mode})
		if err != nil {
			f.log.WithError(err).Warn("open: delegate call failed")
			return -int64(unix.EIO)
		}
		if resp.Errno != 0 {
			return -resp.Errno
		}
		return resp.FD
	})
}

func (f *Filesystem) Getdents(fd int32, dirbuf []byte) *continuation.Continuation[int64] {
	return f.run(func() int64 {
		resp, err := f.call(request{Op: "getdents", FD: fd})
		if err != nil {
			f.log.WithError(err).Warn("getdents: delegate call failed")
			return -int64(unix.EIO)
		}
		if resp.Errno != 0 {
			return -resp.Errno
		}
		b := dirent.NewBuilder()
		for _, name := range resp.Names {
			b.Append(name)
		}
		return int64(copy(dirbuf, b.Bytes()))
	})
}

func (f *Filesystem) Read(fd int32, buf []byte) *continuation.Continuation[int64] {
	return f.run(func() int64 {
		resp, err := f.call(request{Op: "read", FD: fd, Count: len(buf)})
		if err != nil {
			f.log.WithError(err).Warn("read: delegate call failed")
			return -int64(unix.EIO)
		}
		if resp.Errno != 0 {
			return -resp.Errno
		}
		return int64(copy(buf, resp.Data))
	})
}

// unimplemented reports ENOSYS, matching every operation the source's
// CodiusNodeFilesystem never bridged either.
func (f *Filesystem) unimplemented() *continuation.Continuation[int64] {
	return f.run(func() int64 { return -int64(unix.ENOSYS) })
}

func (f *Filesystem) Close(fd int32) *continuation.Continuation[int64] { return f.unimplemented() }
func (f *Filesystem) Write(fd int32, buf []byte) *continuation.Continuation[int64] {
	return f.unimplemented()
}
func (f *Filesystem) Lseek(fd int32, offset int64, whence int32) *continuation.Continuation[int64] {
	return f.unimplemented()
}
func (f *Filesystem) Fstat(fd int32, buf *unix.Stat_t) *continuation.Continuation[int64] {
	return f.unimplemented()
}
func (f *Filesystem) Stat(path string, buf *unix.Stat_t) *continuation.Continuation[int64] {
	return f.unimplemented()
}
func (f *Filesystem) Lstat(path string, buf *unix.Stat_t) *continuation.Continuation[int64] {
	return f.unimplemented()
}
func (f *Filesystem) Access(path string, mode int32) *continuation.Continuation[int64] {
	return f.unimplemented()
}
func (f *Filesystem) Readlink(path string, buf []byte) *continuation.Continuation[int64] {
	return f.unimplemented()
}
