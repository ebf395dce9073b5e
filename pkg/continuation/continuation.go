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

package continuation

import "sync/atomic"

// Body is the function a Continuation[T] executor runs. prev is the value
// handed down by the predecessor (or the zero value of T for a head node);
// self is a handle to the currently-executing node, used to call
// self.Finish once the body's work is done. A body must call self.Finish
// exactly once before returning, or the successor (if any) never runs.
type Body[T any] func(prev T, self *Continuation[T])

// Continuation is a deferred, chainable, single-value producer scheduled
// on a Loop. It is the Go analogue of the source's reference-counted
// Executor: instead of a refcount reaching zero, a node is scheduled by
// exactly one of two triggers -- its predecessor calling Finish, or (for
// the node at the head of a chain, which has no predecessor) an explicit
// call to Start. scheduled latches so a node can never be enqueued twice.
// Chains are singly linked and append-only: Then may be called at most
// once per node.
//
// Construction alone never schedules anything. This matters for nodes
// built to be attached as a successor (including Pending's bridge
// targets): if New scheduled eagerly, a successor built via New and then
// handed to predecessor.Then(successor) would run once immediately with
// a zero-value prev and again when the predecessor actually finishes,
// double-running its body. Requiring an explicit Start on the true head
// of a chain avoids that without reintroducing reference counting.
type Continuation[T any] struct {
	loop      *Loop
	body      Body[T]
	next      *Continuation[T]
	prev      T
	done      bool
	scheduled atomic.Bool
}

// New builds a continuation around body. It does not run until Start is
// called on it directly, or until some predecessor it is later attached
// to (via Then) calls Finish.
func New[T any](loop *Loop, body Body[T]) *Continuation[T] {
	return &Continuation[T]{loop: loop, body: body}
}

// Start schedules c to run as the head of a chain -- the explicit
// counterpart to a predecessor's Finish, for the one node in any chain
// that has no predecessor. Calling it again on the same node is a no-op.
// Calling it on a node that is also somebody's Then successor is a misuse (its
// predecessor's Finish will race Start to the one-shot latch, silently
// dropping whichever loses).
func (c *Continuation[T]) Start() {
	c.schedule()
}

// schedule posts c.exec to its loop at most once, no matter how many
// times it is called.
func (c *Continuation[T]) schedule() {
	if c.scheduled.CompareAndSwap(false, true) {
		c.loop.post(c.exec)
	}
}

// FromProducer wraps a zero-argument producer: invoke it, forward its
// return value onward. Intended for use as a chain head; call Start (or
// attach it as a successor elsewhere) to actually run it.
func FromProducer[T any](loop *Loop, fn func() T) *Continuation[T] {
	return New(loop, func(_ T, self *Continuation[T]) {
		self.Finish(fn())
	})
}

// FromConsumer wraps a one-argument consumer: invoke it with prev, then
// forward prev unchanged.
func FromConsumer[T any](loop *Loop, fn func(T)) *Continuation[T] {
	return New(loop, func(prev T, self *Continuation[T]) {
		fn(prev)
		self.Finish(prev)
	})
}

// FromValue wraps a plain value: forward it unchanged, ignoring prev.
func FromValue[T any](loop *Loop, value T) *Continuation[T] {
	return New(loop, func(_ T, self *Continuation[T]) {
		self.Finish(value)
	})
}

// Pending returns a continuation with no body of its own. It never runs
// itself; it exists purely to be handed to a caller (who attaches
// further stages with Then) and resolved later, from unrelated internal
// machinery, with an explicit call to Finish. This is how a chain of one
// type (e.g. a backend operation's Continuation[int64]) is bridged into
// a chain of another type (e.g. VFS.HandleSyscall's
// Continuation[sandbox.SyscallCall]).
func Pending[T any](loop *Loop) *Continuation[T] {
	return &Continuation[T]{loop: loop}
}

// Then appends next as this node's successor and returns next, so chains
// read linearly: a.Then(b).Then(c). Precondition: this node has no
// successor yet. Violating it is a programmer error and panics, matching
// the source's assertion that a chain-link may not overwrite an existing
// successor.
func (c *Continuation[T]) Then(next *Continuation[T]) *Continuation[T] {
	if c.next != nil {
		panic("continuation: Then called on an executor that already has a successor")
	}
	c.next = next
	return next
}

// Finish delivers v to this node's successor (if any) and schedules it.
// Finish must be called at most once per node; a second call is a
// programmer error and panics, mirroring the assertion discipline the
// rest of this package applies to chain construction.
func (c *Continuation[T]) Finish(v T) {
	if c.done {
		panic("continuation: Finish called twice on the same executor")
	}
	c.done = true
	if c.next != nil {
		c.next.prev = v
		c.next.schedule()
	}
}

func (c *Continuation[T]) exec() {
	if c.body == nil {
		return
	}
	c.body(c.prev, c)
}
