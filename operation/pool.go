// Copyright 2024 The Armored Witness OS authors. All Rights Reserved.
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

// Package operation implements a fixed capacity pool of cryptographic
// operation contexts.
//
// Secure services represent each in-progress operation as a type tagged
// context, held in the pool and only addressable by clients through an
// opaque Handle. Released contexts are zeroed before their slot can be
// allocated again.
//
// The pool never logs, errors are reported with a precise Status and
// recovery is left to the caller.
package operation

import (
	"fmt"
	"sync"
)

// ConcurrentOperations is the maximum number of in-flight operations.
const ConcurrentOperations = 8

// Handle represents an opaque reference to an allocated operation.
type Handle uint32

// InvalidHandle denotes the absence of a handle.
const InvalidHandle = ^Handle(0)

// Valid returns whether the handle is within the pool bounds, it does not
// imply that the handle is allocated.
func (h Handle) Valid() bool {
	return h != InvalidHandle && h < ConcurrentOperations
}

func (h Handle) String() string {
	if h == InvalidHandle {
		return "invalid"
	}

	return fmt.Sprintf("%d", uint32(h))
}

type slot struct {
	inUse bool
	typ   Type
	gen   uint64
	ctx   Context
	buf   [ContextSize]byte
}

// state returns the slot storage capped to the backend footprint, so that a
// backend can never write past it.
func (s *slot) state() []byte {
	n := s.typ.size()
	return s.buf[:n:n]
}

// wipe zeroes the backend state and frees the slot.
func (s *slot) wipe() {
	clear(s.state())

	s.ctx = nil
	s.typ = None
	s.inUse = false
}

// Pool represents the operation contexts table.
//
// Context storage is only handed to backends while the pool is locked, a
// release therefore waits for any backend running on the same slot.
type Pool struct {
	sync.Mutex
	slots [ConcurrentOperations]slot
}

// NewPool returns an initialized operation pool.
func NewPool() *Pool {
	p := &Pool{}
	p.Init()

	return p
}

// Init zeroes the whole table, releasing every slot.
func (p *Pool) Init() {
	p.Lock()
	defer p.Unlock()

	for i := range p.slots {
		s := &p.slots[i]
		clear(s.buf[:])
		// stale contexts must never match a later allocation
		*s = slot{gen: s.gen}
	}
}

func (p *Pool) allocate(t Type) (Handle, *slot, error) {
	if t.size() == 0 {
		return InvalidHandle, nil, fmt.Errorf("%w, %s operation", ErrInvalidArgument, t)
	}

	for i := range p.slots {
		s := &p.slots[i]

		if s.inUse {
			continue
		}

		s.inUse = true
		s.typ = t
		s.gen++
		s.ctx = newContext(ref{pool: p, h: Handle(i), typ: t, gen: s.gen})

		return Handle(i), s, nil
	}

	return InvalidHandle, nil, ErrNotPermitted
}

// Allocate claims the first free slot for an operation of type t, returning
// its handle and context.
//
// ErrNotPermitted is returned when all slots are in use, the caller is
// expected to reject the request which triggered the allocation.
func (p *Pool) Allocate(t Type) (Handle, Context, error) {
	p.Lock()
	defer p.Unlock()

	h, s, err := p.allocate(t)

	if err != nil {
		return h, nil, err
	}

	return h, s.ctx, nil
}

// Setup allocates an operation of type t and initializes its state with fn
// before the handle is issued, the slot is released if fn fails.
func (p *Pool) Setup(t Type, fn func(buf []byte) error) (Handle, error) {
	p.Lock()
	defer p.Unlock()

	h, s, err := p.allocate(t)

	if err != nil {
		return h, err
	}

	if err = fn(s.state()); err != nil {
		s.wipe()
		return InvalidHandle, err
	}

	return h, nil
}

// lookup returns the in-use slot for handle h.
func (p *Pool) lookup(h Handle) *slot {
	if !h.Valid() {
		return nil
	}

	if s := &p.slots[h]; s.inUse {
		return s
	}

	return nil
}

// Lookup returns the context of the allocated operation with type t and
// handle h.
//
// ErrBadState is returned for invalid, out of range, released or
// differently typed handles.
func (p *Pool) Lookup(t Type, h Handle) (Context, error) {
	p.Lock()
	defer p.Unlock()

	s := p.lookup(h)

	if s == nil || s.typ != t {
		return nil, ErrBadState
	}

	return s.ctx, nil
}

// Use runs fn on the state of the allocated operation with type t and handle
// h, failing with ErrBadState as Lookup does.
func (p *Pool) Use(t Type, h Handle, fn func(buf []byte) error) error {
	p.Lock()
	defer p.Unlock()

	s := p.lookup(h)

	if s == nil || s.typ != t {
		return ErrBadState
	}

	return fn(s.state())
}

// Finish runs fn, when not nil, on the state of the allocated operation with
// type t and handle h, then releases it regardless of the outcome and sets h
// to InvalidHandle. No other caller can observe the operation in between.
func (p *Pool) Finish(t Type, h *Handle, fn func(buf []byte) error) (err error) {
	if h == nil {
		return ErrInvalidArgument
	}

	p.Lock()
	defer p.Unlock()

	s := p.lookup(*h)

	if s == nil || s.typ != t {
		return ErrBadState
	}

	if fn != nil {
		err = fn(s.state())
	}

	s.wipe()
	*h = InvalidHandle

	return
}

// Release zeroes the context of the operation referenced by h, frees its slot
// and sets h to InvalidHandle.
//
// ErrInvalidArgument is returned for invalid, out of range or already
// released handles.
func (p *Pool) Release(h *Handle) error {
	if h == nil {
		return ErrInvalidArgument
	}

	p.Lock()
	defer p.Unlock()

	s := p.lookup(*h)

	if s == nil {
		return ErrInvalidArgument
	}

	s.wipe()
	*h = InvalidHandle

	return nil
}

// InUse returns the number of allocated operations.
func (p *Pool) InUse() (n int) {
	p.Lock()
	defer p.Unlock()

	for i := range p.slots {
		if p.slots[i].inUse {
			n++
		}
	}

	return
}
