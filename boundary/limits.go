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

// Range represents an inclusive address range [Base, Limit].
type Range struct {
	Base  uint32
	Limit uint32
}

// Validate checks that the range is well formed.
func (r Range) Validate() error {
	if r.Base > r.Limit {
		return fmt.Errorf("base %#x > limit %#x", r.Base, r.Limit)
	}

	return nil
}

// Contains returns whether an address belongs to the range.
func (r Range) Contains(addr uint32) bool {
	return addr >= r.Base && addr <= r.Limit
}

// Overlaps returns whether two ranges share at least one address.
func (r Range) Overlaps(o Range) bool {
	return r.Base <= o.Limit && o.Base <= r.Limit
}

// Size returns the number of bytes covered by the range.
func (r Range) Size() uint32 {
	return r.Limit - r.Base + 1
}

func (r Range) String() string {
	return fmt.Sprintf("[%#08x, %#08x]", r.Base, r.Limit)
}

// Limits represents the memory region limits fixed at link time by the
// bootloader layout.
type Limits struct {
	// NonSecureCodeStart is the Non-Secure image entry, past the bootloader
	// header within the Non-Secure partition.
	NonSecureCodeStart uint32
	// NonSecurePartition is the Non-Secure image flash partition.
	NonSecurePartition Range
	// NonSecureData is the Non-Secure RAM.
	NonSecureData Range
	// Veneer is the Non-Secure Callable area holding the secure entry
	// veneers.
	Veneer Range
	// Secondary is the optional image update partition, present when a
	// second stage bootloader is used.
	Secondary *Range
}

// Validate checks that the limits are self-consistent: every range is well
// formed, the code start lies within the Non-Secure partition and flash
// ranges do not overlap.
func (l *Limits) Validate() (err error) {
	ranges := map[string]Range{
		"non-secure partition": l.NonSecurePartition,
		"non-secure data":      l.NonSecureData,
		"veneer":               l.Veneer,
	}

	if l.Secondary != nil {
		ranges["secondary partition"] = *l.Secondary
	}

	for name, r := range ranges {
		if err = r.Validate(); err != nil {
			return fmt.Errorf("invalid %s range, %v", name, err)
		}
	}

	if !l.NonSecurePartition.Contains(l.NonSecureCodeStart) {
		return fmt.Errorf("non-secure code start %#x outside partition %s", l.NonSecureCodeStart, l.NonSecurePartition)
	}

	if l.Veneer.Overlaps(l.NonSecurePartition) {
		return fmt.Errorf("veneer %s overlaps non-secure partition %s", l.Veneer, l.NonSecurePartition)
	}

	if l.Veneer.Overlaps(l.NonSecureData) || l.NonSecurePartition.Overlaps(l.NonSecureData) {
		return fmt.Errorf("non-secure data %s overlaps code", l.NonSecureData)
	}

	if s := l.Secondary; s != nil {
		if s.Overlaps(l.NonSecurePartition) || s.Overlaps(l.Veneer) || s.Overlaps(l.NonSecureData) {
			return fmt.Errorf("secondary partition %s overlaps other ranges", s)
		}
	}

	return
}
