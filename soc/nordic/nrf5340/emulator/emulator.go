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

// Package emulator implements a register level model of the nRF5340
// application core security peripherals (SPU, CTRL-AP) and of the Cortex-M33
// NVIC, SCB and SAU, suitable as a reg.Bus for the drivers of this module.
//
// Only the behaviour relevant to the Secure/Non-Secure boundary is modeled:
// lock latches, write-ignored registers, set/clear register pairs, the AIRCR
// write key and memory attribution of bus accesses (see Access).
package emulator

import (
	"sync"

	"github.com/transparency-dev/armored-witness-spm/arm/cortexm"
	"github.com/transparency-dev/armored-witness-spm/soc/nordic/ctrlap"
	"github.com/transparency-dev/armored-witness-spm/soc/nordic/nrf5340"
	"github.com/transparency-dev/armored-witness-spm/soc/nordic/spu"
)

const (
	flashRegions = nrf5340.FLASH_SIZE / nrf5340.FLASH_REGION_SIZE
	ramRegions   = nrf5340.RAM_SIZE / nrf5340.RAM_REGION_SIZE

	permMask     = spu.PermSecure | 1<<spu.PERM_LOCK
	prioMask     = 0xff << (8 - nrf5340.NVIC_PRIO_BITS) & 0xff
	shcsrMask    = cortexm.FAULT_ALL
	aircrMask    = 1<<cortexm.AIRCR_PRIS | 1<<cortexm.AIRCR_BFHFNMINS | 1<<cortexm.AIRCR_SYSRESETREQS
	sauCtrlMask  = 1<<cortexm.SAU_CTRL_ENABLE | 1<<cortexm.SAU_CTRL_ALLNS
	nscRegionMsk = spu.NSC_REGION_MASK | 1<<spu.FLASHNSC_LOCK
	nscSizeMsk   = spu.NSC_SIZE_MASK | 1<<spu.FLASHNSC_LOCK
)

type nsc struct {
	region uint32
	size   uint32
}

// Emulator represents an emulated nRF5340 application core.
type Emulator struct {
	sync.Mutex

	// SPU
	flash  [flashRegions]uint32
	ram    [ramRegions]uint32
	nsc    [nrf5340.NSC_SLOTS]nsc
	periph [nrf5340.PERIPHERALS]uint32
	events [3]uint32
	inten  uint32

	// CTRL-AP
	apDisable  uint32
	sapDisable uint32
	apLock     bool
	sapLock    bool

	// NVIC
	enabled [cortexm.NVIC_WORDS]uint32
	pending [cortexm.NVIC_WORDS]uint32
	itns    [cortexm.NVIC_WORDS]uint32
	ipr     map[uint32]uint32

	// SCB
	shcsr uint32
	aircr uint32
	shpr  [3]uint32

	// SAU
	sauCtrl uint32

	resetRequested bool

	// unmodeled registers
	regs map[uint32]uint32
}

// New returns an emulated nRF5340 in its power-on reset state.
func New() *Emulator {
	e := &Emulator{}
	e.Reset()

	return e
}

// peripheral security mapping at reset
func mapping(id int) (present bool, secureMapping uint32) {
	switch id {
	case nrf5340.SPU_ID, nrf5340.CTRLAP_ID, nrf5340.CRYPTOCELL_ID:
		return true, spu.SECUREMAPPING_SECURE
	case nrf5340.SERIAL0_ID, nrf5340.SERIAL1_ID,
		nrf5340.TIMER0_ID, nrf5340.TIMER1_ID, nrf5340.TIMER2_ID,
		nrf5340.RTC0_ID, nrf5340.RTC1_ID,
		nrf5340.WDT0_ID, nrf5340.WDT1_ID,
		nrf5340.EGU0_ID:
		return true, spu.SECUREMAPPING_USERSELECTABLE
	case nrf5340.IPC_ID:
		return true, spu.SECUREMAPPING_SPLIT
	}

	return false, 0
}

// Reset returns the emulated device to its power-on reset state, releasing
// all lock latches.
func (e *Emulator) Reset() {
	e.Lock()
	defer e.Unlock()

	for n := range e.flash {
		e.flash[n] = spu.PermSecure
	}

	for n := range e.ram {
		e.ram[n] = spu.PermSecure
	}

	for id := range e.periph {
		present, m := mapping(id)

		if !present {
			e.periph[id] = 0
			continue
		}

		perm := uint32(1<<spu.PERIPH_PRESENT) | m

		if m != spu.SECUREMAPPING_NONSECURE {
			perm |= 1<<spu.PERIPH_SECATTR | 1<<spu.PERIPH_DMASEC
		}

		e.periph[id] = perm
	}

	e.nsc = [nrf5340.NSC_SLOTS]nsc{}
	e.events = [3]uint32{}
	e.inten = 0

	e.apDisable = 0
	e.sapDisable = 0
	e.apLock = false
	e.sapLock = false

	e.enabled = [cortexm.NVIC_WORDS]uint32{}
	e.pending = [cortexm.NVIC_WORDS]uint32{}
	e.itns = [cortexm.NVIC_WORDS]uint32{}
	e.ipr = make(map[uint32]uint32)

	e.shcsr = 0
	e.aircr = 0
	e.shpr = [3]uint32{}
	e.sauCtrl = 0

	e.resetRequested = false
	e.regs = make(map[uint32]uint32)
}

// ResetRequested returns whether a system reset has been requested through
// AIRCR.SYSRESETREQ.
func (e *Emulator) ResetRequested() bool {
	e.Lock()
	defer e.Unlock()

	return e.resetRequested
}

// implemented returns the mask of implemented interrupts for NVIC word i.
func implemented(i int) uint32 {
	lo := i * 32

	switch {
	case lo+32 <= nrf5340.IRQ_COUNT:
		return 0xffffffff
	case lo >= nrf5340.IRQ_COUNT:
		return 0
	default:
		return 1<<(nrf5340.IRQ_COUNT-lo) - 1
	}
}

func nvicWord(addr uint32, base uint32) (int, bool) {
	if addr < base || addr >= base+cortexm.NVIC_WORDS*4 || addr%4 != 0 {
		return 0, false
	}

	return int(addr-base) / 4, true
}

func iprMask(addr uint32) (mask uint32) {
	irq := int(addr - cortexm.NVIC_IPR)

	for b := 0; b < 4; b++ {
		if irq+b < nrf5340.IRQ_COUNT {
			mask |= prioMask << (b * 8)
		}
	}

	return
}

const prioWordMask = prioMask | prioMask<<8 | prioMask<<16 | prioMask<<24

// Read implements reg.Bus.
func (e *Emulator) Read(addr uint32) uint32 {
	e.Lock()
	defer e.Unlock()

	if i, ok := nvicWord(addr, cortexm.NVIC_ISER); ok {
		return e.enabled[i]
	}

	if i, ok := nvicWord(addr, cortexm.NVIC_ICER); ok {
		return e.enabled[i]
	}

	if i, ok := nvicWord(addr, cortexm.NVIC_ISPR); ok {
		return e.pending[i]
	}

	if i, ok := nvicWord(addr, cortexm.NVIC_ICPR); ok {
		return e.pending[i]
	}

	if i, ok := nvicWord(addr, cortexm.NVIC_ITNS); ok {
		return e.itns[i]
	}

	switch {
	case addr >= cortexm.NVIC_IPR && addr < cortexm.NVIC_IPR+cortexm.NVIC_IRQ_MAX:
		return e.ipr[addr&^3]
	case addr == cortexm.SCB_AIRCR:
		return cortexm.VECTKEYSTAT<<cortexm.AIRCR_VECTKEY | e.aircr
	case addr == cortexm.SCB_SHCSR:
		return e.shcsr
	case addr >= cortexm.SCB_SHPR1 && addr <= cortexm.SCB_SHPR3:
		return e.shpr[(addr-cortexm.SCB_SHPR1)/4]
	case addr == cortexm.SAU_CTRL:
		return e.sauCtrl
	case addr == cortexm.SAU_TYPE:
		// SAU not implemented, attribution is left to the IDAU (SPU)
		return 0
	}

	if val, ok := e.readSPU(addr); ok {
		return val
	}

	if val, ok := e.readCTRLAP(addr); ok {
		return val
	}

	return e.regs[addr]
}

// Write implements reg.Bus.
func (e *Emulator) Write(addr uint32, val uint32) {
	e.Lock()
	defer e.Unlock()

	if i, ok := nvicWord(addr, cortexm.NVIC_ISER); ok {
		e.enabled[i] |= val & implemented(i)
		return
	}

	if i, ok := nvicWord(addr, cortexm.NVIC_ICER); ok {
		e.enabled[i] &^= val
		return
	}

	if i, ok := nvicWord(addr, cortexm.NVIC_ISPR); ok {
		e.pending[i] |= val & implemented(i)
		return
	}

	if i, ok := nvicWord(addr, cortexm.NVIC_ICPR); ok {
		e.pending[i] &^= val
		return
	}

	if i, ok := nvicWord(addr, cortexm.NVIC_ITNS); ok {
		e.itns[i] = val & implemented(i)
		return
	}

	switch {
	case addr >= cortexm.NVIC_IPR && addr < cortexm.NVIC_IPR+cortexm.NVIC_IRQ_MAX:
		word := addr &^ 3
		e.ipr[word] = val & iprMask(word)
		return
	case addr == cortexm.SCB_AIRCR:
		if val>>cortexm.AIRCR_VECTKEY != cortexm.VECTKEY {
			return
		}

		e.aircr = val & aircrMask

		if val&(1<<cortexm.AIRCR_SYSRESETREQ) != 0 {
			e.resetRequested = true
		}

		return
	case addr == cortexm.SCB_SHCSR:
		e.shcsr = val & shcsrMask
		return
	case addr >= cortexm.SCB_SHPR1 && addr <= cortexm.SCB_SHPR3:
		e.shpr[(addr-cortexm.SCB_SHPR1)/4] = val & prioWordMask
		return
	case addr == cortexm.SAU_CTRL:
		e.sauCtrl = val & sauCtrlMask
		return
	case addr == cortexm.SAU_TYPE:
		return
	}

	if e.writeSPU(addr, val) {
		return
	}

	if e.writeCTRLAP(addr, val) {
		return
	}

	e.regs[addr] = val
}

func spuOffset(addr uint32, off uint32, n int, stride uint32) (int, bool) {
	base := nrf5340.SPU_BASE + off

	if addr < base || addr >= base+uint32(n)*stride || (addr-base)%4 != 0 {
		return 0, false
	}

	return int((addr - base) / stride), true
}

func (e *Emulator) readSPU(addr uint32) (uint32, bool) {
	if n, ok := spuOffset(addr, spu.SPU_FLASHREGION, flashRegions, 4); ok {
		return e.flash[n], true
	}

	if n, ok := spuOffset(addr, spu.SPU_RAMREGION, ramRegions, 4); ok {
		return e.ram[n], true
	}

	if id, ok := spuOffset(addr, spu.SPU_PERIPHID, nrf5340.PERIPHERALS, 4); ok {
		return e.periph[id], true
	}

	if slot, ok := spuOffset(addr, spu.SPU_FLASHNSC, nrf5340.NSC_SLOTS, spu.FLASHNSC_STRIDE); ok {
		if (addr-nrf5340.SPU_BASE-spu.SPU_FLASHNSC)%spu.FLASHNSC_STRIDE == spu.FLASHNSC_REGION {
			return e.nsc[slot].region, true
		}

		return e.nsc[slot].size, true
	}

	switch addr - nrf5340.SPU_BASE {
	case spu.SPU_EVENTS_RAMACCERR:
		return e.events[spu.INT_RAMACCERR], true
	case spu.SPU_EVENTS_FLASHACCERR:
		return e.events[spu.INT_FLASHACCERR], true
	case spu.SPU_EVENTS_PERIPHACCERR:
		return e.events[spu.INT_PERIPHACCERR], true
	case spu.SPU_INTEN, spu.SPU_INTENSET, spu.SPU_INTENCLR:
		return e.inten, true
	}

	return 0, false
}

func (e *Emulator) writeSPU(addr uint32, val uint32) bool {
	const lock = 1 << spu.PERM_LOCK

	if n, ok := spuOffset(addr, spu.SPU_FLASHREGION, flashRegions, 4); ok {
		if e.flash[n]&lock == 0 {
			e.flash[n] = val & permMask
		}

		return true
	}

	if n, ok := spuOffset(addr, spu.SPU_RAMREGION, ramRegions, 4); ok {
		if e.ram[n]&lock == 0 {
			e.ram[n] = val & permMask
		}

		return true
	}

	if id, ok := spuOffset(addr, spu.SPU_PERIPHID, nrf5340.PERIPHERALS, 4); ok {
		e.writePeripheral(id, val)
		return true
	}

	if slot, ok := spuOffset(addr, spu.SPU_FLASHNSC, nrf5340.NSC_SLOTS, spu.FLASHNSC_STRIDE); ok {
		const nscLock = 1 << spu.FLASHNSC_LOCK

		if (addr-nrf5340.SPU_BASE-spu.SPU_FLASHNSC)%spu.FLASHNSC_STRIDE == spu.FLASHNSC_REGION {
			if e.nsc[slot].region&nscLock == 0 {
				e.nsc[slot].region = val & nscRegionMsk
			}
		} else if e.nsc[slot].size&nscLock == 0 {
			e.nsc[slot].size = val & nscSizeMsk
		}

		return true
	}

	switch addr - nrf5340.SPU_BASE {
	case spu.SPU_EVENTS_RAMACCERR:
		e.events[spu.INT_RAMACCERR] = val & 1
	case spu.SPU_EVENTS_FLASHACCERR:
		e.events[spu.INT_FLASHACCERR] = val & 1
	case spu.SPU_EVENTS_PERIPHACCERR:
		e.events[spu.INT_PERIPHACCERR] = val & 1
	case spu.SPU_INTEN:
		e.inten = val & 0b111
	case spu.SPU_INTENSET:
		e.inten |= val & 0b111
	case spu.SPU_INTENCLR:
		e.inten &^= val
	default:
		return false
	}

	return true
}

func (e *Emulator) writePeripheral(id int, val uint32) {
	perm := e.periph[id]

	if perm&(1<<spu.PERIPH_PRESENT) == 0 || perm&(1<<spu.PERIPH_LOCK) != 0 {
		return
	}

	writable := uint32(1<<spu.PERIPH_DMASEC | 1<<spu.PERIPH_LOCK)

	switch perm & 0b11 {
	case spu.SECUREMAPPING_USERSELECTABLE, spu.SECUREMAPPING_SPLIT:
		writable |= 1 << spu.PERIPH_SECATTR
	}

	e.periph[id] = perm&^writable | val&writable
}

func (e *Emulator) readCTRLAP(addr uint32) (uint32, bool) {
	switch addr - nrf5340.CTRLAP_BASE {
	case ctrlap.CTRLAP_APPROTECT_DISABLE:
		return e.apDisable, true
	case ctrlap.CTRLAP_SECUREAPPROTECT_DISABLE:
		return e.sapDisable, true
	case ctrlap.CTRLAP_APPROTECT_LOCK:
		return b2u(e.apLock), true
	case ctrlap.CTRLAP_SECUREAPPROTECT_LOCK:
		return b2u(e.sapLock), true
	}

	return 0, false
}

func (e *Emulator) writeCTRLAP(addr uint32, val uint32) bool {
	switch addr - nrf5340.CTRLAP_BASE {
	case ctrlap.CTRLAP_APPROTECT_DISABLE:
		if !e.apLock {
			e.apDisable = val
		}
	case ctrlap.CTRLAP_SECUREAPPROTECT_DISABLE:
		if !e.sapLock {
			e.sapDisable = val
		}
	case ctrlap.CTRLAP_APPROTECT_LOCK:
		// write-once until reset
		e.apLock = e.apLock || val&(1<<ctrlap.LOCK) != 0
	case ctrlap.CTRLAP_SECUREAPPROTECT_LOCK:
		e.sapLock = e.sapLock || val&(1<<ctrlap.LOCK) != 0
	default:
		return false
	}

	return true
}

func b2u(b bool) uint32 {
	if b {
		return 1
	}

	return 0
}
