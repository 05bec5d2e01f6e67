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

// Package spu implements a driver for the Nordic Semiconductor System
// Protection Unit (SPU), the Implementation Defined Attribution Unit (IDAU)
// of nRF53 and nRF91 series devices.
//
// The SPU assigns Secure or Non-Secure attribution to fixed size flash and
// RAM regions as well as to peripherals, and defines the Non-Secure Callable
// (NSC) areas through which Non-Secure code may enter the Secure world.
//
// Every configuration function verifies the outcome of its register writes,
// as writes to locked registers are silently ignored by hardware.
package spu

import (
	"errors"
	"fmt"

	"github.com/transparency-dev/armored-witness-spm/internal/reg"
)

// SPU registers
// (nRF5340 Product Specification v1.3 - 7.32 SPU).
const (
	SPU_EVENTS_RAMACCERR    = 0x100
	SPU_EVENTS_FLASHACCERR  = 0x104
	SPU_EVENTS_PERIPHACCERR = 0x108

	SPU_INTEN    = 0x300
	SPU_INTENSET = 0x304
	SPU_INTENCLR = 0x308

	INT_RAMACCERR    = 0
	INT_FLASHACCERR  = 1
	INT_PERIPHACCERR = 2

	SPU_CAP = 0x400

	SPU_FLASHNSC      = 0x500
	FLASHNSC_STRIDE   = 8
	FLASHNSC_REGION   = 0x0
	FLASHNSC_SIZE     = 0x4
	FLASHNSC_LOCK     = 8
	NSC_REGION_MASK   = 0xff
	NSC_SIZE_MASK     = 0xf
	NSC_SIZE_DISABLED = 0

	SPU_FLASHREGION = 0x600
	SPU_RAMREGION   = 0x700
	SPU_PERIPHID    = 0x800
)

// Region permission (FLASHREGION[n].PERM, RAMREGION[n].PERM) bits.
const (
	PERM_EXECUTE = 0
	PERM_WRITE   = 1
	PERM_READ    = 2
	PERM_SECATTR = 4
	PERM_LOCK    = 8
)

// Peripheral permission (PERIPHID[n].PERM) fields.
const (
	PERIPH_SECUREMAPPING = 0
	PERIPH_DMA           = 2
	PERIPH_SECATTR       = 4
	PERIPH_DMASEC        = 5
	PERIPH_LOCK          = 8
	PERIPH_PRESENT       = 31

	SECUREMAPPING_NONSECURE      = 0
	SECUREMAPPING_SECURE         = 1
	SECUREMAPPING_USERSELECTABLE = 2
	SECUREMAPPING_SPLIT          = 3
)

// Region permission values.
const (
	PermRWX = 1<<PERM_READ | 1<<PERM_WRITE | 1<<PERM_EXECUTE

	// Secure, default access policy, unlocked
	PermSecure = PermRWX | 1<<PERM_SECATTR
	// Non-Secure, default access policy, locked
	PermNonSecureLocked = PermRWX | 1<<PERM_LOCK
)

// Non-Secure Callable area size limits.
const (
	NSCMinSize = 32
	NSCMaxSize = 4096
)

// ErrLocked is returned when a register write was ignored by hardware.
var ErrLocked = errors.New("register write ignored (locked)")

// Memory describes a memory attributed by the SPU in fixed size regions.
type Memory struct {
	// Base is the memory start address
	Base uint32
	// RegionSize is the attribution granularity
	RegionSize uint32
	// Regions is the number of implemented regions
	Regions int
}

// Size returns the memory size.
func (m Memory) Size() uint32 {
	return m.RegionSize * uint32(m.Regions)
}

// Contains returns whether an address belongs to the memory.
func (m Memory) Contains(addr uint32) bool {
	return addr >= m.Base && addr-m.Base < m.Size()
}

// Region returns the index of the region containing the argument address.
func (m Memory) Region(addr uint32) int {
	return int((addr - m.Base) / m.RegionSize)
}

// RegionStart returns the start address of region n.
func (m Memory) RegionStart(n int) uint32 {
	return m.Base + uint32(n)*m.RegionSize
}

// regions returns the range of regions exactly covering [start, limit],
// the range must be aligned to region boundaries.
func (m Memory) regions(start uint32, limit uint32) (first int, last int, err error) {
	switch {
	case start > limit:
		return 0, 0, fmt.Errorf("start %#x > limit %#x", start, limit)
	case !m.Contains(start) || !m.Contains(limit):
		return 0, 0, fmt.Errorf("range [%#x, %#x] outside memory [%#x, %#x]", start, limit, m.Base, m.Base+m.Size()-1)
	case (start-m.Base)%m.RegionSize != 0:
		return 0, 0, fmt.Errorf("start %#x not aligned to %#x region size", start, m.RegionSize)
	case (limit-m.Base+1)%m.RegionSize != 0:
		return 0, 0, fmt.Errorf("limit %#x not aligned to %#x region size", limit, m.RegionSize)
	}

	return m.Region(start), m.Region(limit), nil
}

// SPU represents a System Protection Unit instance.
type SPU struct {
	// Bus is the peripheral register bus
	Bus reg.Bus
	// Base is the SPU base address
	Base uint32
	// IRQ is the SPU interrupt number
	IRQ int

	// Flash is the flash memory attributed by the SPU
	Flash Memory
	// RAM is the RAM memory attributed by the SPU
	RAM Memory
	// NSCSlots is the number of FLASHNSC register pairs
	NSCSlots int
	// Peripherals is the number of PERIPHID registers
	Peripherals int
}

func (hw *SPU) flashPerm(n int) uint32 {
	return hw.Base + SPU_FLASHREGION + uint32(n)*4
}

func (hw *SPU) ramPerm(n int) uint32 {
	return hw.Base + SPU_RAMREGION + uint32(n)*4
}

func (hw *SPU) periphPerm(id int) uint32 {
	return hw.Base + SPU_PERIPHID + uint32(id)*4
}

func (hw *SPU) nsc(slot int) (region uint32, size uint32) {
	base := hw.Base + SPU_FLASHNSC + uint32(slot)*FLASHNSC_STRIDE
	return base + FLASHNSC_REGION, base + FLASHNSC_SIZE
}

// write performs a register write and verifies it took effect.
func (hw *SPU) write(addr uint32, val uint32) error {
	reg.Write(hw.Bus, addr, val)

	if res := reg.Read(hw.Bus, addr); res != val {
		return fmt.Errorf("%w, %#x: wrote %#x, read %#x", ErrLocked, addr, val, res)
	}

	return nil
}

// FlashPerm returns the permissions of flash region n.
func (hw *SPU) FlashPerm(n int) uint32 {
	return reg.Read(hw.Bus, hw.flashPerm(n))
}

// RAMPerm returns the permissions of RAM region n.
func (hw *SPU) RAMPerm(n int) uint32 {
	return reg.Read(hw.Bus, hw.ramPerm(n))
}

// PeripheralPerm returns the permissions of peripheral id.
func (hw *SPU) PeripheralPerm(id int) uint32 {
	return reg.Read(hw.Bus, hw.periphPerm(id))
}

// ResetAllSecure sets all flash and RAM regions as Secure, with default
// access policy (read, write and execute allowed). Region lock is not
// applied, to allow later narrowing within the same reset cycle.
//
// Configurations applied by earlier boot stages are therefore discarded,
// unless locked, in which case an error is returned.
func (hw *SPU) ResetAllSecure() (err error) {
	for n := 0; n < hw.Flash.Regions; n++ {
		if err = hw.write(hw.flashPerm(n), PermSecure); err != nil {
			return fmt.Errorf("flash region %d, %w", n, err)
		}
	}

	for n := 0; n < hw.RAM.Regions; n++ {
		if err = hw.write(hw.ramPerm(n), PermSecure); err != nil {
			return fmt.Errorf("RAM region %d, %w", n, err)
		}
	}

	return
}

func (hw *SPU) configureNonSecure(m Memory, perm func(int) uint32, start uint32, limit uint32) (err error) {
	first, last, err := m.regions(start, limit)

	if err != nil {
		return
	}

	for n := first; n <= last; n++ {
		// attribution and lock are applied with a single store
		if err = hw.write(perm(n), PermNonSecureLocked); err != nil {
			return fmt.Errorf("region %d, %w", n, err)
		}
	}

	return
}

// ConfigureFlashNonSecure sets the flash regions exactly covering
// [start, limit] as Non-Secure and locks them until the next reset.
//
// The range must be aligned to the flash region size.
func (hw *SPU) ConfigureFlashNonSecure(start uint32, limit uint32) error {
	return hw.configureNonSecure(hw.Flash, hw.flashPerm, start, limit)
}

// ConfigureRAMNonSecure sets the RAM regions exactly covering [start, limit]
// as Non-Secure and locks them until the next reset.
//
// The range must be aligned to the RAM region size.
func (hw *SPU) ConfigureRAMNonSecure(start uint32, limit uint32) error {
	return hw.configureNonSecure(hw.RAM, hw.ramPerm, start, limit)
}

// NSCSize returns the FLASHNSC[n].SIZE encoding for an NSC area size, which
// must be a power of 2 between 32 and 4096 bytes.
func NSCSize(size uint32) (uint32, error) {
	if size < NSCMinSize || size > NSCMaxSize || size&(size-1) != 0 {
		return 0, fmt.Errorf("invalid NSC size %d, must be a power of 2 in [%d, %d]", size, NSCMinSize, NSCMaxSize)
	}

	val := uint32(1)

	for s := uint32(NSCMinSize); s < size; s <<= 1 {
		val++
	}

	return val, nil
}

// NSC returns the region, size (in bytes) and lock state of FLASHNSC slot,
// a size of 0 indicates a disabled slot.
func (hw *SPU) NSC(slot int) (region int, size uint32, locked bool) {
	r, s := hw.nsc(slot)

	region = int(reg.Get(hw.Bus, r, 0, NSC_REGION_MASK))
	locked = reg.IsSet(hw.Bus, r, FLASHNSC_LOCK)

	if val := reg.Get(hw.Bus, s, 0, NSC_SIZE_MASK); val != NSC_SIZE_DISABLED {
		size = NSCMinSize << (val - 1)
	}

	return
}

// ConfigureFlashNonSecureCallable sets [start, limit] as the single Non-Secure
// Callable area in Secure flash and locks its configuration.
//
// The area size must be a power of 2 between 32 and 4096 bytes and its end
// must fall on a flash region boundary, the area lies at the end of the
// containing region, which must be Secure.
func (hw *SPU) ConfigureFlashNonSecureCallable(start uint32, limit uint32) (err error) {
	if start > limit {
		return fmt.Errorf("start %#x > limit %#x", start, limit)
	}

	if !hw.Flash.Contains(start) || !hw.Flash.Contains(limit) {
		return fmt.Errorf("NSC area [%#x, %#x] outside flash", start, limit)
	}

	size, err := NSCSize(limit - start + 1)

	if err != nil {
		return
	}

	if (limit-hw.Flash.Base+1)%hw.Flash.RegionSize != 0 {
		return fmt.Errorf("NSC area end %#x not on a region boundary", limit+1)
	}

	if hw.NSCSlots == 0 {
		return errors.New("no NSC slots available")
	}

	for slot := 0; slot < hw.NSCSlots; slot++ {
		if _, s, _ := hw.NSC(slot); s != 0 {
			return fmt.Errorf("NSC area already configured in slot %d", slot)
		}
	}

	n := hw.Flash.Region(limit)

	if !IsSecure(hw.FlashPerm(n)) {
		return fmt.Errorf("NSC area region %d is not Secure", n)
	}

	// the region hosting the veneers stays Secure until the next reset
	if err = hw.write(hw.flashPerm(n), PermSecure|1<<PERM_LOCK); err != nil {
		return fmt.Errorf("region %d, %w", n, err)
	}

	r, s := hw.nsc(0)

	if err = hw.write(r, uint32(n)|1<<FLASHNSC_LOCK); err != nil {
		return
	}

	return hw.write(s, size|1<<FLASHNSC_LOCK)
}

// ConfigurePeripheralNonSecure sets a peripheral as Non-Secure and locks its
// configuration, the peripheral security mapping must allow it.
func (hw *SPU) ConfigurePeripheralNonSecure(id int) (err error) {
	if id < 0 || id >= hw.Peripherals {
		return fmt.Errorf("invalid peripheral id %d", id)
	}

	addr := hw.periphPerm(id)
	perm := reg.Read(hw.Bus, addr)

	if perm&(1<<PERIPH_PRESENT) == 0 {
		return fmt.Errorf("peripheral %d not present", id)
	}

	switch perm & 0b11 {
	case SECUREMAPPING_USERSELECTABLE, SECUREMAPPING_SPLIT:
	default:
		return fmt.Errorf("peripheral %d security attribution is fixed", id)
	}

	// DMA transfers follow the peripheral attribution
	perm &^= 1<<PERIPH_SECATTR | 1<<PERIPH_DMASEC
	perm |= 1 << PERIPH_LOCK

	return hw.write(addr, perm)
}

// EnableInterrupts enables the SPU interrupt on RAM, flash and peripheral
// access violations.
func (hw *SPU) EnableInterrupts() {
	reg.Write(hw.Bus, hw.Base+SPU_INTENSET, 1<<INT_RAMACCERR|1<<INT_FLASHACCERR|1<<INT_PERIPHACCERR)
}

// Interrupts returns the enabled interrupts mask.
func (hw *SPU) Interrupts() uint32 {
	return reg.Read(hw.Bus, hw.Base+SPU_INTEN)
}

// Events represents the SPU access violation events.
type Events struct {
	RAM        bool
	Flash      bool
	Peripheral bool
}

// Events returns the pending access violation events.
func (hw *SPU) Events() Events {
	return Events{
		RAM:        reg.Read(hw.Bus, hw.Base+SPU_EVENTS_RAMACCERR) != 0,
		Flash:      reg.Read(hw.Bus, hw.Base+SPU_EVENTS_FLASHACCERR) != 0,
		Peripheral: reg.Read(hw.Bus, hw.Base+SPU_EVENTS_PERIPHACCERR) != 0,
	}
}

// ClearEvents clears all access violation events.
func (hw *SPU) ClearEvents() {
	reg.Write(hw.Bus, hw.Base+SPU_EVENTS_RAMACCERR, 0)
	reg.Write(hw.Bus, hw.Base+SPU_EVENTS_FLASHACCERR, 0)
	reg.Write(hw.Bus, hw.Base+SPU_EVENTS_PERIPHACCERR, 0)
}

// IsSecure returns whether region permissions denote Secure attribution.
func IsSecure(perm uint32) bool {
	return perm&(1<<PERM_SECATTR) != 0
}

// IsLocked returns whether region permissions are locked.
func IsLocked(perm uint32) bool {
	return perm&(1<<PERM_LOCK) != 0
}
