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

package main

import (
	"github.com/transparency-dev/armored-witness-spm/boundary"
	"github.com/transparency-dev/armored-witness-spm/soc/nordic/nrf5340"
)

// Flash layout
const (
	// Second stage bootloader
	bl2Start = 0x00000000
	bl2Size  = 0x00010000 // 64KB

	// Secure image, secure gateway veneers at its end
	secureStart = bl2Start + bl2Size
	secureSize  = 0x00040000 // 256KB

	veneerSize  = 0x1000 // 4KB
	veneerStart = secureStart + secureSize - veneerSize

	// Non-Secure image partition
	nonSecureStart = secureStart + secureSize
	nonSecureSize  = 0x00030000 // 192KB

	// image header prepended by the bootloader
	imageHeaderSize = 0x400
)

// RAM layout
const (
	secureDataStart = nrf5340.RAM_BASE
	secureDataSize  = 0x00040000 // 256KB

	nonSecureDataStart = secureDataStart + secureDataSize
	nonSecureDataSize  = 0x00040000 // 256KB
)

// nonSecurePeripherals lists the peripherals assigned to the Non-Secure
// image.
var nonSecurePeripherals = []int{
	nrf5340.SERIAL0_ID,
	nrf5340.TIMER0_ID,
	nrf5340.TIMER1_ID,
	nrf5340.RTC0_ID,
	nrf5340.WDT0_ID,
	nrf5340.EGU0_ID,
	nrf5340.IPC_ID,
}

func limits() boundary.Limits {
	return boundary.Limits{
		NonSecureCodeStart: nonSecureStart + imageHeaderSize,
		NonSecurePartition: boundary.Range{
			Base:  nonSecureStart,
			Limit: nonSecureStart + nonSecureSize - 1,
		},
		NonSecureData: boundary.Range{
			Base:  nonSecureDataStart,
			Limit: nonSecureDataStart + nonSecureDataSize - 1,
		},
		Veneer: boundary.Range{
			Base:  veneerStart,
			Limit: veneerStart + veneerSize - 1,
		},
		Secondary: secondaryPartition(),
	}
}
