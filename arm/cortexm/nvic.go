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

// Package cortexm implements drivers for the ARMv8-M Mainline core
// peripherals relevant to TrustZone configuration: the Nested Vectored
// Interrupt Controller (NVIC), the System Control Block (SCB) and the
// Security Attribution Unit (SAU).
//
// This package is only meant to be used with a register bus adopting the
// Secure view of the System Control Space.
package cortexm

import (
	"fmt"

	"github.com/transparency-dev/armored-witness-spm/internal/reg"
)

// NVIC registers
// (ARMv8-M Architecture Reference Manual - D1.2 NVIC).
const (
	NVIC_ISER = 0xe000e100
	NVIC_ICER = 0xe000e180
	NVIC_ISPR = 0xe000e200
	NVIC_ICPR = 0xe000e280
	NVIC_ITNS = 0xe000e380
	NVIC_IPR  = 0xe000e400

	// ITNS, ISER, ICER, ISPR, ICPR words
	NVIC_WORDS = 16
	// maximum number of external interrupts
	NVIC_IRQ_MAX = NVIC_WORDS * 32
)

// NVIC represents the Nested Vectored Interrupt Controller.
type NVIC struct {
	// Bus is the System Control Space register bus
	Bus reg.Bus
	// PriorityBits is the number of implemented priority bits
	PriorityBits int
}

func checkIRQ(irq int) error {
	if irq < 0 || irq >= NVIC_IRQ_MAX {
		return fmt.Errorf("invalid interrupt %d", irq)
	}

	return nil
}

func word(base uint32, irq int) (addr uint32, pos int) {
	return base + uint32(irq/32)*4, irq % 32
}

// TargetAllNonSecure sets the target security state of every interrupt to
// NonSecure. Unimplemented interrupts are Write-Ignored by hardware.
func (hw *NVIC) TargetAllNonSecure() {
	for i := 0; i < NVIC_WORDS; i++ {
		reg.Write(hw.Bus, NVIC_ITNS+uint32(i)*4, 0xffffffff)
	}
}

// SetTargetState sets the target security state of an interrupt.
func (hw *NVIC) SetTargetState(irq int, secure bool) (err error) {
	if err = checkIRQ(irq); err != nil {
		return
	}

	addr, pos := word(NVIC_ITNS, irq)
	reg.SetTo(hw.Bus, addr, pos, !secure)

	return
}

// ClearTargetState targets an interrupt to the Secure state.
func (hw *NVIC) ClearTargetState(irq int) error {
	return hw.SetTargetState(irq, true)
}

// TargetState returns whether an interrupt targets the Secure state.
func (hw *NVIC) TargetState(irq int) (secure bool, err error) {
	if err = checkIRQ(irq); err != nil {
		return
	}

	addr, pos := word(NVIC_ITNS, irq)

	return !reg.IsSet(hw.Bus, addr, pos), nil
}

// EnableIRQ enables an interrupt.
func (hw *NVIC) EnableIRQ(irq int) (err error) {
	if err = checkIRQ(irq); err != nil {
		return
	}

	// set-enable registers ignore zero bits, no read-modify-write required
	addr, pos := word(NVIC_ISER, irq)
	reg.Write(hw.Bus, addr, 1<<pos)

	return
}

// DisableIRQ disables an interrupt.
func (hw *NVIC) DisableIRQ(irq int) (err error) {
	if err = checkIRQ(irq); err != nil {
		return
	}

	addr, pos := word(NVIC_ICER, irq)
	reg.Write(hw.Bus, addr, 1<<pos)

	return
}

// Enabled returns whether an interrupt is enabled.
func (hw *NVIC) Enabled(irq int) (bool, error) {
	if err := checkIRQ(irq); err != nil {
		return false, err
	}

	addr, pos := word(NVIC_ISER, irq)

	return reg.IsSet(hw.Bus, addr, pos), nil
}

// ClearPendingIRQ clears the pending state of an interrupt.
func (hw *NVIC) ClearPendingIRQ(irq int) (err error) {
	if err = checkIRQ(irq); err != nil {
		return
	}

	addr, pos := word(NVIC_ICPR, irq)
	reg.Write(hw.Bus, addr, 1<<pos)

	return
}

// Pending returns whether an interrupt is pending.
func (hw *NVIC) Pending(irq int) (bool, error) {
	if err := checkIRQ(irq); err != nil {
		return false, err
	}

	addr, pos := word(NVIC_ISPR, irq)

	return reg.IsSet(hw.Bus, addr, pos), nil
}

// SetPriority sets the priority of an external interrupt (irq >= 0) or of a
// system exception (irq < 0, numbered as CMSIS IRQn values).
func (hw *NVIC) SetPriority(irq int, prio uint8) (err error) {
	var addr uint32

	if irq >= NVIC_IRQ_MAX {
		return fmt.Errorf("invalid interrupt %d", irq)
	}

	if irq >= 0 {
		addr = NVIC_IPR + uint32(irq)
	} else {
		exception := irq + 16

		if exception < 4 || exception > 15 {
			return fmt.Errorf("exception %d has fixed priority", exception)
		}

		addr = SCB_SHPR1 + uint32(exception-4)
	}

	val := uint32(prio<<(8-hw.PriorityBits)) & 0xff
	reg.SetN(hw.Bus, addr&^3, int(addr&3)*8, 0xff, val)

	return
}

// Priority returns the priority of an external interrupt or system
// exception, see SetPriority.
func (hw *NVIC) Priority(irq int) (prio uint8, err error) {
	var addr uint32

	switch {
	case irq >= NVIC_IRQ_MAX:
		return 0, fmt.Errorf("invalid interrupt %d", irq)
	case irq >= 0:
		addr = NVIC_IPR + uint32(irq)
	case irq+16 >= 4 && irq+16 <= 15:
		addr = SCB_SHPR1 + uint32(irq+16-4)
	default:
		return 0, fmt.Errorf("exception %d has fixed priority", irq+16)
	}

	val := reg.Get(hw.Bus, addr&^3, int(addr&3)*8, 0xff)

	return uint8(val >> (8 - hw.PriorityBits)), nil
}
