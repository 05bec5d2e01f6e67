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

// Package nrf5340 provides support for the nRF5340 application core, an
// ARMv8-M Mainline (Cortex-M33) System-on-Chip with TrustZone, describing
// its memory map and instantiating the drivers relevant to the
// Secure/Non-Secure boundary.
package nrf5340

import (
	"github.com/transparency-dev/armored-witness-spm/arm/cortexm"
	"github.com/transparency-dev/armored-witness-spm/internal/reg"
	"github.com/transparency-dev/armored-witness-spm/soc/nordic/ctrlap"
	"github.com/transparency-dev/armored-witness-spm/soc/nordic/spu"
)

// Memory map
const (
	FLASH_BASE        = 0x00000000
	FLASH_SIZE        = 0x00100000 // 1MB
	FLASH_REGION_SIZE = 0x4000     // 16KB

	RAM_BASE        = 0x20000000
	RAM_SIZE        = 0x00080000 // 512KB
	RAM_REGION_SIZE = 0x2000     // 8KB

	// Peripherals Non-Secure and Secure aliases
	PERIPH_NS_BASE = 0x40000000
	PERIPH_S_BASE  = 0x50000000
	PERIPH_SIZE    = 0x10000000

	SPU_BASE    = 0x50003000
	CTRLAP_BASE = 0x50006000
)

// Peripheral IDs, the ID of a peripheral matches its interrupt number.
const (
	SPU_ID        = 3
	CTRLAP_ID     = 6
	SERIAL0_ID    = 8
	SERIAL1_ID    = 9
	TIMER0_ID     = 15
	TIMER1_ID     = 16
	TIMER2_ID     = 17
	RTC0_ID       = 20
	RTC1_ID       = 21
	WDT0_ID       = 24
	WDT1_ID       = 25
	EGU0_ID       = 27
	IPC_ID        = 42
	CRYPTOCELL_ID = 68
)

// Interrupts
const (
	SPU_IRQ = SPU_ID

	// number of implemented external interrupts
	IRQ_COUNT = 69
)

// Core configuration
const (
	NVIC_PRIO_BITS = 3
	NSC_SLOTS      = 2
	PERIPHERALS    = 256
)

// Flash returns the flash memory attributed by the SPU.
func Flash() spu.Memory {
	return spu.Memory{
		Base:       FLASH_BASE,
		RegionSize: FLASH_REGION_SIZE,
		Regions:    FLASH_SIZE / FLASH_REGION_SIZE,
	}
}

// RAM returns the RAM memory attributed by the SPU.
func RAM() spu.Memory {
	return spu.Memory{
		Base:       RAM_BASE,
		RegionSize: RAM_REGION_SIZE,
		Regions:    RAM_SIZE / RAM_REGION_SIZE,
	}
}

// PeripheralID returns the ID of the peripheral at the argument address,
// either in its Secure or Non-Secure alias.
func PeripheralID(addr uint32) (id int, ok bool) {
	if addr < PERIPH_NS_BASE || addr >= PERIPH_S_BASE+PERIPH_SIZE {
		return 0, false
	}

	return int((addr >> 12) & 0xff), true
}

// SoC represents the nRF5340 application core boundary related peripherals.
type SoC struct {
	// Core peripherals
	NVIC *cortexm.NVIC
	SCB  *cortexm.SCB
	SAU  *cortexm.SAU

	// System Protection Unit
	SPU *spu.SPU
	// Control Access Port
	CTRLAP *ctrlap.CTRLAP
}

// New returns the SoC peripherals instances over the argument register bus.
func New(bus reg.Bus) *SoC {
	return &SoC{
		NVIC: &cortexm.NVIC{
			Bus:          bus,
			PriorityBits: NVIC_PRIO_BITS,
		},
		SCB: &cortexm.SCB{Bus: bus},
		SAU: &cortexm.SAU{Bus: bus},
		SPU: &spu.SPU{
			Bus:         bus,
			Base:        SPU_BASE,
			IRQ:         SPU_IRQ,
			Flash:       Flash(),
			RAM:         RAM(),
			NSCSlots:    NSC_SLOTS,
			Peripherals: PERIPHERALS,
		},
		CTRLAP: &ctrlap.CTRLAP{
			Bus:  bus,
			Base: CTRLAP_BASE,
		},
	}
}
