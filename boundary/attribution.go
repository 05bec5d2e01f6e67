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

	"github.com/transparency-dev/armored-witness-spm/soc/nordic/spu"
)

// Attribution represents the security classification of an address.
type Attribution int

const (
	Secure Attribution = iota
	NonSecure
	NonSecureCallable
)

func (a Attribution) String() string {
	switch a {
	case Secure:
		return "S"
	case NonSecure:
		return "NS"
	case NonSecureCallable:
		return "NSC"
	}

	return fmt.Sprintf("attribution(%d)", int(a))
}

// Area represents a contiguous address range sharing the same attribution.
type Area struct {
	Range
	Memory      string
	Attribution Attribution
	Locked      bool
}

// nscArea returns the configured Non-Secure Callable area, if any.
func (c *Configurator) nscArea() (r Range, ok bool) {
	for slot := 0; slot < c.SPU.NSCSlots; slot++ {
		region, size, _ := c.SPU.NSC(slot)

		if size == 0 {
			continue
		}

		end := c.SPU.Flash.RegionStart(region) + c.SPU.Flash.RegionSize

		return Range{Base: end - size, Limit: end - 1}, true
	}

	return
}

// Attribution returns the security classification of a flash or RAM
// address, as currently programmed in hardware.
func (c *Configurator) Attribution(addr uint32) (Attribution, error) {
	var perm uint32

	switch {
	case c.SPU.Flash.Contains(addr):
		perm = c.SPU.FlashPerm(c.SPU.Flash.Region(addr))
	case c.SPU.RAM.Contains(addr):
		perm = c.SPU.RAMPerm(c.SPU.RAM.Region(addr))
	default:
		return 0, fmt.Errorf("address %#x outside attributed memory", addr)
	}

	if !spu.IsSecure(perm) {
		return NonSecure, nil
	}

	if r, ok := c.nscArea(); ok && r.Contains(addr) {
		return NonSecureCallable, nil
	}

	return Secure, nil
}

func (c *Configurator) areas(name string, m spu.Memory, perm func(int) uint32) (areas []Area) {
	nsc, hasNSC := c.nscArea()

	add := func(base uint32, limit uint32, a Attribution, locked bool) {
		if n := len(areas); n > 0 {
			last := &areas[n-1]

			if last.Attribution == a && last.Locked == locked && last.Limit+1 == base {
				last.Limit = limit
				return
			}
		}

		areas = append(areas, Area{
			Range:       Range{Base: base, Limit: limit},
			Memory:      name,
			Attribution: a,
			Locked:      locked,
		})
	}

	for n := 0; n < m.Regions; n++ {
		p := perm(n)
		base := m.RegionStart(n)
		limit := base + m.RegionSize - 1
		locked := spu.IsLocked(p)

		switch {
		case !spu.IsSecure(p):
			add(base, limit, NonSecure, locked)
		case name == "flash" && hasNSC && nsc.Limit == limit:
			if nsc.Base > base {
				add(base, nsc.Base-1, Secure, locked)
			}

			add(nsc.Base, nsc.Limit, NonSecureCallable, locked)
		default:
			add(base, limit, Secure, locked)
		}
	}

	return
}

// Map returns the flash and RAM attribution map, as currently programmed in
// hardware, with adjacent regions of equal attribution and lock state
// coalesced.
func (c *Configurator) Map() (areas []Area) {
	areas = append(areas, c.areas("flash", c.SPU.Flash, c.SPU.FlashPerm)...)
	areas = append(areas, c.areas("RAM", c.SPU.RAM, c.SPU.RAMPerm)...)

	return
}
