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

package cortexm

import (
	"github.com/transparency-dev/armored-witness-spm/internal/reg"
)

// SCB registers
// (ARMv8-M Architecture Reference Manual - D1.2 SCB).
const (
	SCB_AIRCR          = 0xe000ed0c
	AIRCR_VECTKEY      = 16
	AIRCR_PRIS         = 14
	AIRCR_BFHFNMINS    = 13
	AIRCR_SYSRESETREQS = 3
	AIRCR_SYSRESETREQ  = 2

	// write key, writes without it are ignored
	VECTKEY = 0x05fa
	// read value of the key field
	VECTKEYSTAT = 0xfa05

	SCB_SHPR1 = 0xe000ed18
	SCB_SHPR2 = 0xe000ed1c
	SCB_SHPR3 = 0xe000ed20

	SCB_SHCSR            = 0xe000ed24
	SHCSR_SECUREFAULTENA = 19
	SHCSR_USGFAULTENA    = 18
	SHCSR_BUSFAULTENA    = 17
	SHCSR_MEMFAULTENA    = 16
)

// CMSIS exception numbers (IRQn) for configurable system exceptions.
const (
	MemoryManagement_IRQn = -12
	BusFault_IRQn         = -11
	UsageFault_IRQn       = -10
	SecureFault_IRQn      = -9
	SVCall_IRQn           = -5
	PendSV_IRQn           = -2
	SysTick_IRQn          = -1
)

// Fault handler enable masks, see EnableFaults.
const (
	FAULT_MEM    = 1 << SHCSR_MEMFAULTENA
	FAULT_BUS    = 1 << SHCSR_BUSFAULTENA
	FAULT_USG    = 1 << SHCSR_USGFAULTENA
	FAULT_SECURE = 1 << SHCSR_SECUREFAULTENA

	FAULT_ALL = FAULT_MEM | FAULT_BUS | FAULT_USG | FAULT_SECURE
)

// SCB represents the System Control Block.
type SCB struct {
	// Bus is the System Control Space register bus
	Bus reg.Bus
}

// EnableFaults enables the fault handlers selected in the argument mask
// (see FAULT_* constants).
func (hw *SCB) EnableFaults(mask uint32) {
	shcsr := reg.Read(hw.Bus, SCB_SHCSR)
	reg.Write(hw.Bus, SCB_SHCSR, shcsr|(mask&FAULT_ALL))
}

// Faults returns the enabled fault handlers mask.
func (hw *SCB) Faults() uint32 {
	return reg.Read(hw.Bus, SCB_SHCSR) & FAULT_ALL
}

// SetSystemResetSecureOnly restricts the system reset request capability to
// the Secure state.
func (hw *SCB) SetSystemResetSecureOnly() {
	aircr := reg.Read(hw.Bus, SCB_AIRCR)

	// the key field reads as VECTKEYSTAT and must be replaced
	aircr &= 0xffff
	aircr |= VECTKEY << AIRCR_VECTKEY
	aircr |= 1 << AIRCR_SYSRESETREQS

	reg.Write(hw.Bus, SCB_AIRCR, aircr)
}

// SystemResetSecureOnly returns whether the system reset request capability
// is restricted to the Secure state.
func (hw *SCB) SystemResetSecureOnly() bool {
	return reg.IsSet(hw.Bus, SCB_AIRCR, AIRCR_SYSRESETREQS)
}
