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
	"fmt"
)

// Type represents the kind of a cryptographic operation.
type Type int

const (
	None Type = iota
	Cipher
	MAC
	Hash
	Generator
)

func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case Cipher:
		return "cipher"
	case MAC:
		return "mac"
	case Hash:
		return "hash"
	case Generator:
		return "generator"
	}

	return fmt.Sprintf("type(%d)", int(t))
}

// Backend context footprints, in bytes.
const (
	CipherContextSize    = 64
	MACContextSize       = 192
	HashContextSize      = 256
	GeneratorContextSize = 192

	// ContextSize is the size of the slot storage shared by all operation
	// types.
	ContextSize = HashContextSize
)

func (t Type) size() int {
	switch t {
	case Cipher:
		return CipherContextSize
	case MAC:
		return MACContextSize
	case Hash:
		return HashContextSize
	case Generator:
		return GeneratorContextSize
	}

	return 0
}

// Context represents the backend state of an in-progress operation, held in
// secure memory and only reachable through its Handle.
//
// The concrete type is one of *CipherContext, *MACContext, *HashContext or
// *GeneratorContext. A Context never exposes its storage outside of Use, once
// the operation is released every Use fails with ErrBadState.
type Context interface {
	// Type returns the operation type.
	Type() Type
	// Use runs fn on the backend state storage, whose length is the
	// backend context footprint, with the pool locked. The storage must
	// not be retained past fn and fn must not call back into the pool.
	Use(fn func(buf []byte) error) error

	// only implemented by the context variants below
	reference() *ref
}

// ref references the slot an operation was allocated in, the generation
// tells apart successive allocations of the same slot.
type ref struct {
	pool *Pool
	h    Handle
	typ  Type
	gen  uint64
}

func (r *ref) reference() *ref {
	return r
}

func (r *ref) Use(fn func(buf []byte) error) error {
	r.pool.Lock()
	defer r.pool.Unlock()

	s := r.pool.lookup(r.h)

	if s == nil || s.gen != r.gen || s.typ != r.typ {
		return ErrBadState
	}

	return fn(s.state())
}

// CipherContext is the backend state of a cipher operation.
type CipherContext struct{ ref }

// MACContext is the backend state of a MAC operation.
type MACContext struct{ ref }

// HashContext is the backend state of a hash operation.
type HashContext struct{ ref }

// GeneratorContext is the backend state of a key derivation operation.
type GeneratorContext struct{ ref }

func (*CipherContext) Type() Type    { return Cipher }
func (*MACContext) Type() Type       { return MAC }
func (*HashContext) Type() Type      { return Hash }
func (*GeneratorContext) Type() Type { return Generator }

// newContext returns the context variant referencing r.
func newContext(r ref) Context {
	switch r.typ {
	case Cipher:
		return &CipherContext{r}
	case MAC:
		return &MACContext{r}
	case Hash:
		return &HashContext{r}
	case Generator:
		return &GeneratorContext{r}
	}

	return nil
}
