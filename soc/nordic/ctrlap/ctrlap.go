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

// Package ctrlap implements a driver for the Nordic Semiconductor Control
// Access Port peripheral (CTRL-AP), which gates external debugger access to
// the Non-Secure (APPROTECT) and Secure (SECUREAPPROTECT) domains.
package ctrlap

import (
	"errors"
	"fmt"

	"github.com/transparency-dev/armored-witness-spm/internal/reg"
)

// CTRL-AP registers
// (nRF5340 Product Specification v1.3 - 7.6 CTRL-AP).
const (
	CTRLAP_APPROTECT_LOCK          = 0x540
	CTRLAP_APPROTECT_DISABLE       = 0x544
	CTRLAP_SECUREAPPROTECT_LOCK    = 0x548
	CTRLAP_SECUREAPPROTECT_DISABLE = 0x54c

	LOCK = 0

	// DISABLE_KEY unlocks debug access when matching the UICR key
	DISABLE_KEY = 0xffffffff
)

// CTRLAP represents a Control Access Port instance.
type CTRLAP struct {
	// Bus is the peripheral register bus
	Bus reg.Bus
	// Base is the CTRL-AP base address
	Base uint32
}

func (hw *CTRLAP) set(off uint32, disabled bool) error {
	var val uint32

	if disabled {
		val = DISABLE_KEY
	}

	addr := hw.Base + off
	reg.Write(hw.Bus, addr, val)

	if res := reg.Read(hw.Bus, addr); res != val {
		return fmt.Errorf("debug protection write ignored, %#x: wrote %#x, read %#x", addr, val, res)
	}

	return nil
}

// SetAPProtect enables, or disables, Non-Secure debug access protection.
func (hw *CTRLAP) SetAPProtect(disabled bool) error {
	return hw.set(CTRLAP_APPROTECT_DISABLE, disabled)
}

// SetSecureAPProtect enables, or disables, Secure debug access protection.
func (hw *CTRLAP) SetSecureAPProtect(disabled bool) error {
	return hw.set(CTRLAP_SECUREAPPROTECT_DISABLE, disabled)
}

// APProtectDisabled returns whether Non-Secure debug access is allowed.
func (hw *CTRLAP) APProtectDisabled() bool {
	return reg.Read(hw.Bus, hw.Base+CTRLAP_APPROTECT_DISABLE) == DISABLE_KEY
}

// SecureAPProtectDisabled returns whether Secure debug access is allowed.
func (hw *CTRLAP) SecureAPProtectDisabled() bool {
	return reg.Read(hw.Bus, hw.Base+CTRLAP_SECUREAPPROTECT_DISABLE) == DISABLE_KEY
}

// Lock locks the APPROTECT and SECUREAPPROTECT configuration until the next
// reset.
func (hw *CTRLAP) Lock() error {
	reg.Set(hw.Bus, hw.Base+CTRLAP_APPROTECT_LOCK, LOCK)
	reg.Set(hw.Bus, hw.Base+CTRLAP_SECUREAPPROTECT_LOCK, LOCK)

	if !hw.Locked() {
		return errors.New("debug protection lock ignored")
	}

	return nil
}

// Locked returns whether the debug access configuration is locked.
func (hw *CTRLAP) Locked() bool {
	return reg.IsSet(hw.Bus, hw.Base+CTRLAP_APPROTECT_LOCK, LOCK) &&
		reg.IsSet(hw.Bus, hw.Base+CTRLAP_SECUREAPPROTECT_LOCK, LOCK)
}
