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
	"sync/atomic"

	"k8s.io/klog/v2"

	"github.com/transparency-dev/armored-witness-spm/soc/nordic/nrf5340"
)

var irqHandler = make(map[int]func())

// violations counts the handled SPU security violations.
var violations atomic.Uint32

// isr services pending interrupts targeting the Secure state, Non-Secure
// ones are left to the Non-Secure image.
func isr(soc *nrf5340.SoC) {
	for irq := 0; irq < nrf5340.IRQ_COUNT; irq++ {
		if pending, _ := soc.NVIC.Pending(irq); !pending {
			continue
		}

		if secure, _ := soc.NVIC.TargetState(irq); !secure {
			continue
		}

		if handle, ok := irqHandler[irq]; ok {
			handle()
		} else {
			klog.Warningf("SM unexpected IRQ %d", irq)
		}

		soc.NVIC.ClearPendingIRQ(irq)
	}
}

func spuHandler(soc *nrf5340.SoC) {
	ev := soc.SPU.Events()

	if ev.RAM || ev.Flash || ev.Peripheral {
		n := violations.Add(1)
		violationsCounter.Inc()
		klog.Warningf("SM security violation #%d (ram:%v flash:%v peripheral:%v)", n, ev.RAM, ev.Flash, ev.Peripheral)
	}

	soc.SPU.ClearEvents()
}
