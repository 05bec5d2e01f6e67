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

// Package reg provides primitives for 32-bit memory mapped register access
// over a pluggable bus.
package reg

import (
	"sync"

	"github.com/usbarmory/tamago/bits"
)

// Bus represents a 32-bit memory mapped I/O bus.
type Bus interface {
	Read(addr uint32) uint32
	Write(addr uint32, val uint32)
}

// Read returns the value of the register at addr.
func Read(b Bus, addr uint32) uint32 {
	return b.Read(addr)
}

// Write sets the register at addr to val.
func Write(b Bus, addr uint32, val uint32) {
	b.Write(addr, val)
}

// Get returns the register field at a specific bit position and with a
// bitmask applied.
func Get(b Bus, addr uint32, pos int, mask int) uint32 {
	r := b.Read(addr)
	return bits.Get(&r, pos, mask)
}

// IsSet returns whether a specific register bit is set.
func IsSet(b Bus, addr uint32, pos int) bool {
	r := b.Read(addr)
	return bits.Get(&r, pos, 1) == 1
}

// Set sets a specific register bit.
func Set(b Bus, addr uint32, pos int) {
	r := b.Read(addr)
	bits.Set(&r, pos)
	b.Write(addr, r)
}

// Clear clears a specific register bit.
func Clear(b Bus, addr uint32, pos int) {
	r := b.Read(addr)
	bits.Clear(&r, pos)
	b.Write(addr, r)
}

// SetTo modifies a specific register bit to the value of a boolean.
func SetTo(b Bus, addr uint32, pos int, val bool) {
	r := b.Read(addr)
	bits.SetTo(&r, pos, val)
	b.Write(addr, r)
}

// SetN modifies a register field at a specific bit position and with a
// bitmask applied.
func SetN(b Bus, addr uint32, pos int, mask int, val uint32) {
	r := b.Read(addr)
	bits.SetN(&r, pos, mask, val)
	b.Write(addr, r)
}

// Memory is a sparse, zero initialized, register file. Every address is
// implemented and no side effects are modeled.
type Memory struct {
	sync.Mutex
	regs map[uint32]uint32
}

// Read implements Bus.
func (m *Memory) Read(addr uint32) uint32 {
	m.Lock()
	defer m.Unlock()

	return m.regs[addr]
}

// Write implements Bus.
func (m *Memory) Write(addr uint32, val uint32) {
	m.Lock()
	defer m.Unlock()

	if m.regs == nil {
		m.regs = make(map[uint32]uint32)
	}

	m.regs[addr] = val
}
