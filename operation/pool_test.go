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

package operation

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func fill(t *testing.T, ctx Context, b byte) {
	t.Helper()

	err := ctx.Use(func(buf []byte) error {
		for i := range buf {
			buf[i] = b
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Use: %v", err)
	}
}

func contents(t *testing.T, ctx Context) (state []byte) {
	t.Helper()

	err := ctx.Use(func(buf []byte) error {
		state = bytes.Clone(buf)
		return nil
	})
	if err != nil {
		t.Fatalf("Use: %v", err)
	}

	return
}

func TestCapacityAndReuse(t *testing.T) {
	p := NewPool()

	var handles []Handle
	for i := 0; i < ConcurrentOperations; i++ {
		h, ctx, err := p.Allocate(Hash)
		if err != nil {
			t.Fatalf("Allocate(%d): %v", i, err)
		}
		fill(t, ctx, 0xa5)
		handles = append(handles, h)
	}

	if diff := cmp.Diff(handles, []Handle{0, 1, 2, 3, 4, 5, 6, 7}); diff != "" {
		t.Fatalf("Got diff: %s", diff)
	}

	h, ctx, err := p.Allocate(Hash)
	if !errors.Is(err, ErrNotPermitted) {
		t.Fatalf("Allocate on full pool: got %v, want %v", err, ErrNotPermitted)
	}
	if h != InvalidHandle || ctx != nil {
		t.Fatalf("Allocate on full pool: got handle %v ctx %v", h, ctx)
	}
	if got := StatusOf(err); got != StatusNotPermitted {
		t.Fatalf("Got status %d, want %d", got, StatusNotPermitted)
	}

	h = 3
	if err := p.Release(&h); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if h != InvalidHandle {
		t.Fatalf("Release left handle %v", h)
	}
	if p.slots[3].inUse || p.slots[3].typ != None {
		t.Fatalf("Slot 3 still in use after release")
	}
	if !bytes.Equal(p.slots[3].buf[:], make([]byte, ContextSize)) {
		t.Fatalf("Slot 3 not zeroed after release")
	}
	if got, want := p.InUse(), ConcurrentOperations-1; got != want {
		t.Fatalf("Got %d in use, want %d", got, want)
	}

	h, ctx, err = p.Allocate(MAC)
	if err != nil {
		t.Fatalf("Allocate after release: %v", err)
	}
	if h != 3 {
		t.Fatalf("Got handle %v, want 3", h)
	}
	if ctx.Type() != MAC || p.slots[3].typ != MAC {
		t.Fatalf("Got type %v, want %v", ctx.Type(), MAC)
	}
	if got := len(contents(t, ctx)); got != MACContextSize {
		t.Fatalf("Got context size %d, want %d", got, MACContextSize)
	}
}

func TestLookup(t *testing.T) {
	p := NewPool()

	hashH, hashCtx, err := p.Allocate(Hash)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	genH, _, err := p.Allocate(Generator)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	released, _, err := p.Allocate(Cipher)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	stale := released
	if err := p.Release(&released); err != nil {
		t.Fatalf("Release: %v", err)
	}

	for _, test := range []struct {
		name    string
		typ     Type
		handle  Handle
		wantErr error
	}{
		{
			name:   "matching type",
			typ:    Hash,
			handle: hashH,
		}, {
			name:    "wrong type",
			typ:     Cipher,
			handle:  hashH,
			wantErr: ErrBadState,
		}, {
			name:    "generator as hash",
			typ:     Hash,
			handle:  genH,
			wantErr: ErrBadState,
		}, {
			name:    "released handle",
			typ:     Cipher,
			handle:  stale,
			wantErr: ErrBadState,
		}, {
			name:    "never allocated",
			typ:     Hash,
			handle:  ConcurrentOperations - 1,
			wantErr: ErrBadState,
		}, {
			name:    "out of range",
			typ:     Hash,
			handle:  ConcurrentOperations,
			wantErr: ErrBadState,
		}, {
			name:    "invalid handle",
			typ:     Hash,
			handle:  InvalidHandle,
			wantErr: ErrBadState,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			ctx, err := p.Lookup(test.typ, test.handle)
			if !errors.Is(err, test.wantErr) {
				t.Fatalf("Got %v, want %v", err, test.wantErr)
			}
			if test.wantErr != nil {
				if ctx != nil {
					t.Fatalf("Got context %v on error", ctx)
				}
				return
			}
			if ctx != hashCtx {
				t.Fatalf("Lookup returned a different context")
			}
		})
	}
}

func TestTypeSafety(t *testing.T) {
	types := []Type{Cipher, MAC, Hash, Generator}

	for _, t1 := range types {
		for _, t2 := range types {
			t.Run(t1.String()+"/"+t2.String(), func(t *testing.T) {
				p := NewPool()

				h, ctx, err := p.Allocate(t1)
				if err != nil {
					t.Fatalf("Allocate: %v", err)
				}

				got, err := p.Lookup(t2, h)
				if t1 != t2 {
					if !errors.Is(err, ErrBadState) {
						t.Fatalf("Lookup(%v) of %v: got %v, want %v", t2, t1, err, ErrBadState)
					}
					return
				}
				if err != nil {
					t.Fatalf("Lookup: %v", err)
				}
				if got != ctx {
					t.Fatalf("Lookup returned a different context")
				}
			})
		}
	}
}

func TestRelease(t *testing.T) {
	p := NewPool()

	h, ctx, err := p.Allocate(Generator)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	fill(t, ctx, 0xff)
	old := h

	if err := p.Release(&h); err != nil {
		t.Fatalf("Release: %v", err)
	}

	if _, err := p.Lookup(Generator, old); !errors.Is(err, ErrBadState) {
		t.Fatalf("Lookup after release: got %v, want %v", err, ErrBadState)
	}

	// stale context references observe no state
	if err := ctx.Use(func([]byte) error { return nil }); !errors.Is(err, ErrBadState) {
		t.Fatalf("Use of released context: got %v, want %v", err, ErrBadState)
	}

	for _, test := range []struct {
		name   string
		handle Handle
	}{
		{name: "double release", handle: old},
		{name: "invalid handle", handle: InvalidHandle},
		{name: "out of range", handle: ConcurrentOperations},
		{name: "never allocated", handle: 5},
	} {
		t.Run(test.name, func(t *testing.T) {
			h := test.handle
			if err := p.Release(&h); !errors.Is(err, ErrInvalidArgument) {
				t.Fatalf("Got %v, want %v", err, ErrInvalidArgument)
			}
			if h != test.handle {
				t.Fatalf("Failed release modified handle to %v", h)
			}
		})
	}

	if err := p.Release(nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("Release(nil): got %v, want %v", err, ErrInvalidArgument)
	}
}

func TestNoLeak(t *testing.T) {
	for _, typ := range []Type{Cipher, MAC, Hash, Generator} {
		t.Run(typ.String(), func(t *testing.T) {
			p := NewPool()

			h, ctx, err := p.Allocate(typ)
			if err != nil {
				t.Fatalf("Allocate: %v", err)
			}
			fill(t, ctx, 0x5a)

			if err := p.Release(&h); err != nil {
				t.Fatalf("Release: %v", err)
			}

			// the largest context must observe no residual state
			_, ctx, err = p.Allocate(Hash)
			if err != nil {
				t.Fatalf("Allocate: %v", err)
			}
			if got := contents(t, ctx); !bytes.Equal(got, make([]byte, HashContextSize)) {
				t.Fatalf("Residual state after release: %x", got)
			}
		})
	}
}

func TestAllocateInvalidType(t *testing.T) {
	p := NewPool()

	for _, typ := range []Type{None, Generator + 1} {
		h, ctx, err := p.Allocate(typ)
		if !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("Allocate(%v): got %v, want %v", typ, err, ErrInvalidArgument)
		}
		if h != InvalidHandle || ctx != nil {
			t.Fatalf("Allocate(%v): got handle %v", typ, h)
		}
	}

	if n := p.InUse(); n != 0 {
		t.Fatalf("Got %d in use, want 0", n)
	}
}

func TestInit(t *testing.T) {
	p := NewPool()

	for i := 0; i < ConcurrentOperations; i++ {
		_, ctx, err := p.Allocate(Hash)
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		fill(t, ctx, 0x11)
	}

	p.Init()

	if n := p.InUse(); n != 0 {
		t.Fatalf("Got %d in use after Init, want 0", n)
	}
	for i := range p.slots {
		if !bytes.Equal(p.slots[i].buf[:], make([]byte, ContextSize)) {
			t.Fatalf("Slot %d not zeroed after Init", i)
		}
	}
}

func TestConcurrentAllocate(t *testing.T) {
	p := NewPool()

	var wg sync.WaitGroup
	results := make(chan Handle, 4*ConcurrentOperations)

	for i := 0; i < 4*ConcurrentOperations; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if h, _, err := p.Allocate(Hash); err == nil {
				results <- h
			}
		}()
	}

	wg.Wait()
	close(results)

	seen := make(map[Handle]bool)
	for h := range results {
		if seen[h] {
			t.Fatalf("Handle %v issued twice", h)
		}
		seen[h] = true
	}

	if len(seen) != ConcurrentOperations {
		t.Fatalf("Got %d allocations, want %d", len(seen), ConcurrentOperations)
	}
}

func TestStaleContext(t *testing.T) {
	p := NewPool()

	h, stale, err := p.Allocate(Hash)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := p.Release(&h); err != nil {
		t.Fatalf("Release: %v", err)
	}

	// the slot is reused by a new operation
	h, ctx, err := p.Allocate(Cipher)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if h != 0 {
		t.Fatalf("Got handle %v, want 0", h)
	}

	err = stale.Use(func(buf []byte) error {
		copy(buf, "SECRET")
		return nil
	})
	if !errors.Is(err, ErrBadState) {
		t.Fatalf("Use of released context: got %v, want %v", err, ErrBadState)
	}

	if got := contents(t, ctx); !bytes.Equal(got, make([]byte, CipherContextSize)) {
		t.Fatalf("New context altered through released one: %q", got)
	}

	// a context obtained before Init is stale as well
	p.Init()

	if _, ctx2, err := p.Allocate(Cipher); err != nil || ctx2 == ctx {
		t.Fatalf("Allocate after Init: %v", err)
	}
	if err := ctx.Use(func([]byte) error { return nil }); !errors.Is(err, ErrBadState) {
		t.Fatalf("Use of context across Init: got %v, want %v", err, ErrBadState)
	}
}

func TestSetupAndFinish(t *testing.T) {
	p := NewPool()

	h, err := p.Setup(MAC, func(buf []byte) error {
		copy(buf, "key")
		return nil
	})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	failure := errors.New("backend failure")

	if _, err := p.Setup(Hash, func(buf []byte) error {
		copy(buf, "partial")
		return failure
	}); !errors.Is(err, failure) {
		t.Fatalf("Setup: got %v, want %v", err, failure)
	}
	if n := p.InUse(); n != 1 {
		t.Fatalf("Got %d in use after failed setup, want 1", n)
	}
	if !bytes.Equal(p.slots[1].buf[:], make([]byte, ContextSize)) {
		t.Fatalf("Failed setup left state behind")
	}

	if err := p.Use(Hash, h, func([]byte) error { return nil }); !errors.Is(err, ErrBadState) {
		t.Fatalf("Use with wrong type: got %v, want %v", err, ErrBadState)
	}

	var got string
	old := h

	err = p.Finish(MAC, &h, func(buf []byte) error {
		got = string(buf[:3])
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("Finish: got %v, want %v", err, failure)
	}
	if got != "key" || h != InvalidHandle || p.InUse() != 0 {
		t.Fatalf("Finish: got state %q, handle %v, in use %d", got, h, p.InUse())
	}
	if err := p.Finish(MAC, &old, nil); !errors.Is(err, ErrBadState) {
		t.Fatalf("Finish of released handle: got %v, want %v", err, ErrBadState)
	}
}

func TestConcurrentUseAndRelease(t *testing.T) {
	p := NewPool()

	for round := 0; round < 100; round++ {
		h, ctx, err := p.Allocate(Hash)
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}

		var wg sync.WaitGroup

		for i := 0; i < 4; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				ctx.Use(func(buf []byte) error {
					for i := range buf {
						buf[i] = 0xff
					}
					return nil
				})
			}()
			go func() {
				defer wg.Done()
				p.Use(Hash, h, func(buf []byte) error {
					copy(buf, "SECRET")
					return nil
				})
			}()
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			h := h
			p.Release(&h)
		}()

		wg.Wait()

		if p.InUse() != 0 {
			t.Fatalf("Round %d: slot still in use", round)
		}
		if !bytes.Equal(p.slots[h].buf[:], make([]byte, ContextSize)) {
			t.Fatalf("Round %d: residual state after release: %q", round, p.slots[h].buf[:])
		}
	}
}
