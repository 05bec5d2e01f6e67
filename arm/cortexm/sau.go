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

// SAU registers
// (ARMv8-M Architecture Reference Manual - D1.2 SAU).
const (
	SAU_CTRL        = 0xe000edd0
	SAU_CTRL_ALLNS  = 1
	SAU_CTRL_ENABLE = 0

	SAU_TYPE = 0xe000edd4
)

// SAU represents the Security Attribution Unit.
type SAU struct {
	// Bus is the System Control Space register bus
	Bus reg.Bus
}

// Regions returns the number of implemented SAU regions.
func (hw *SAU) Regions() int {
	return int(reg.Get(hw.Bus, SAU_TYPE, 0, 0xff))
}

// Disable disables the SAU.
func (hw *SAU) Disable() {
	reg.Clear(hw.Bus, SAU_CTRL, SAU_CTRL_ENABLE)
}

// SetAllNonSecure sets the ALLNS bit, which when the SAU is disabled leaves
// security attribution entirely to the Implementation Defined Attribution
// Unit (IDAU).
func (hw *SAU) SetAllNonSecure() {
	reg.Set(hw.Bus, SAU_CTRL, SAU_CTRL_ALLNS)
}

// Enabled returns whether the SAU is enabled.
func (hw *SAU) Enabled() bool {
	return reg.IsSet(hw.Bus, SAU_CTRL, SAU_CTRL_ENABLE)
}

// AllNonSecure returns whether the ALLNS bit is set.
func (hw *SAU) AllNonSecure() bool {
	return reg.IsSet(hw.Bus, SAU_CTRL, SAU_CTRL_ALLNS)
}
