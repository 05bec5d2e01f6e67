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

package emulator

import (
	"errors"
	"fmt"

	"github.com/transparency-dev/armored-witness-spm/soc/nordic/nrf5340"
	"github.com/transparency-dev/armored-witness-spm/soc/nordic/spu"
)

// World represents the security state of a bus master.
type World int

const (
	Secure World = iota
	NonSecure
)

func (w World) String() string {
	if w == Secure {
		return "Secure"
	}

	return "NonSecure"
}

// Op represents a bus access type.
type Op int

const (
	Read Op = iota
	Write
	Execute
)

func (op Op) String() string {
	switch op {
	case Read:
		return "read"
	case Write:
		return "write"
	case Execute:
		return "execute"
	}

	return fmt.Sprintf("op(%d)", int(op))
}

var (
	// ErrAccessDenied is returned for accesses violating the SPU
	// configuration.
	ErrAccessDenied = errors.New("access denied")
	// ErrUnmapped is returned for accesses outside the modeled memory map.
	ErrUnmapped = errors.New("unmapped address")
)

func permits(perm uint32, op Op) bool {
	switch op {
	case Read:
		return perm&(1<<spu.PERM_READ) != 0
	case Write:
		return perm&(1<<spu.PERM_WRITE) != 0
	case Execute:
		return perm&(1<<spu.PERM_EXECUTE) != 0
	}

	return false
}

// inNSC returns whether a flash address falls within a configured Non-Secure
// Callable area, which occupies the last size bytes of its region.
func (e *Emulator) inNSC(addr uint32) bool {
	n := uint32(addr-nrf5340.FLASH_BASE) / nrf5340.FLASH_REGION_SIZE

	for _, s := range e.nsc {
		sizeVal := s.size & spu.NSC_SIZE_MASK

		if sizeVal == spu.NSC_SIZE_DISABLED || s.region&spu.NSC_REGION_MASK != n {
			continue
		}

		size := uint32(spu.NSCMinSize) << (sizeVal - 1)
		end := nrf5340.FLASH_BASE + (n+1)*nrf5340.FLASH_REGION_SIZE

		if addr >= end-size {
			return true
		}
	}

	return false
}

// violation records an access violation event and pends the SPU interrupt
// when enabled.
func (e *Emulator) violation(event int) {
	e.events[event] = 1

	if e.inten&(1<<event) != 0 {
		i, pos := nrf5340.SPU_IRQ/32, nrf5340.SPU_IRQ%32
		e.pending[i] |= 1 << pos
	}
}

// Access evaluates a bus access issued from the argument security state
// against the current SPU configuration. Denied accesses raise the
// corresponding SPU event.
//
// Non-Secure execution of Secure flash is only allowed within a Non-Secure
// Callable area, modeling entry through secure gateway veneers.
func (e *Emulator) Access(addr uint32, world World, op Op) error {
	e.Lock()
	defer e.Unlock()

	flash := nrf5340.Flash()
	ram := nrf5340.RAM()

	switch {
	case flash.Contains(addr):
		perm := e.flash[flash.Region(addr)]

		switch {
		case world == NonSecure && spu.IsSecure(perm):
			if op == Execute && e.inNSC(addr) {
				return nil
			}
		case permits(perm, op):
			return nil
		}

		e.violation(spu.INT_FLASHACCERR)
	case ram.Contains(addr):
		perm := e.ram[ram.Region(addr)]

		if !(world == NonSecure && spu.IsSecure(perm)) && permits(perm, op) {
			return nil
		}

		e.violation(spu.INT_RAMACCERR)
	default:
		id, ok := nrf5340.PeripheralID(addr)

		if !ok {
			return fmt.Errorf("%w %#x", ErrUnmapped, addr)
		}

		perm := e.periph[id]

		if perm&(1<<spu.PERIPH_PRESENT) == 0 {
			return fmt.Errorf("%w %#x", ErrUnmapped, addr)
		}

		if world == Secure {
			return nil
		}

		if addr < nrf5340.PERIPH_S_BASE && perm&(1<<spu.PERIPH_SECATTR) == 0 {
			return nil
		}

		e.violation(spu.INT_PERIPHACCERR)
	}

	return fmt.Errorf("%w, %s %s at %#x", ErrAccessDenied, world, op, addr)
}
