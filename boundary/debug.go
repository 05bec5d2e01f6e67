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

package boundary

import (
	"fmt"
)

// DebugPolicy represents the debug authentication setting, the zero value
// is not a valid policy.
type DebugPolicy int

const (
	// DebugDisabled disables Secure and Non-Secure debug access.
	DebugDisabled DebugPolicy = iota + 1
	// DebugNonSecureOnly allows Non-Secure debug access only.
	DebugNonSecureOnly
	// DebugFull allows Secure and Non-Secure debug access.
	DebugFull
	// DebugChipDefault leaves debug access as configured by the device
	// UICR, it only locks the configuration.
	DebugChipDefault
)

func (p DebugPolicy) String() string {
	switch p {
	case DebugDisabled:
		return "disabled"
	case DebugNonSecureOnly:
		return "non-secure only"
	case DebugFull:
		return "full"
	case DebugChipDefault:
		return "chip default"
	}

	return fmt.Sprintf("invalid(%d)", int(p))
}

// Valid returns whether the policy is one of the defined settings.
func (p DebugPolicy) Valid() bool {
	return p >= DebugDisabled && p <= DebugChipDefault
}

// ParseDebugPolicy returns the policy matching its String representation.
func ParseDebugPolicy(s string) (DebugPolicy, error) {
	for p := DebugDisabled; p <= DebugChipDefault; p++ {
		if p.String() == s {
			return p, nil
		}
	}

	return 0, fmt.Errorf("invalid debug policy %q", s)
}

// ApplyDebugPolicy applies the debug authentication policy and locks the
// debug configuration until the next reset.
func (c *Configurator) ApplyDebugPolicy(p DebugPolicy) error {
	return c.step(StepDebug, 0, func() (err error) {
		switch p {
		case DebugDisabled:
			if err = c.CTRLAP.SetAPProtect(false); err != nil {
				return
			}

			err = c.CTRLAP.SetSecureAPProtect(false)
		case DebugNonSecureOnly:
			if err = c.CTRLAP.SetAPProtect(true); err != nil {
				return
			}

			err = c.CTRLAP.SetSecureAPProtect(false)
		case DebugFull:
			if err = c.CTRLAP.SetAPProtect(true); err != nil {
				return
			}

			err = c.CTRLAP.SetSecureAPProtect(true)
		case DebugChipDefault:
		default:
			return fmt.Errorf("no debug authentication setting provided (%s)", p)
		}

		if err != nil {
			return
		}

		if err = c.CTRLAP.Lock(); err != nil {
			return
		}

		c.debug = p

		return
	})
}
