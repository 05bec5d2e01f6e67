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
	"testing"

	"github.com/transparency-dev/armored-witness-spm/internal/reg"
)

func TestTargetState(t *testing.T) {
	nvic := &NVIC{Bus: &reg.Memory{}, PriorityBits: 3}

	nvic.TargetAllNonSecure()

	if err := nvic.ClearTargetState(70); err != nil {
		t.Fatalf("ClearTargetState: %v", err)
	}

	if got := reg.Read(nvic.Bus, NVIC_ITNS+8); got != 0xffffffbf {
		t.Fatalf("Got ITNS[2] %#x, want 0xffffffbf", got)
	}

	for _, test := range []struct {
		irq        int
		wantSecure bool
		wantErr    bool
	}{
		{irq: 0},
		{irq: 69},
		{irq: 70, wantSecure: true},
		{irq: 71},
		{irq: NVIC_IRQ_MAX, wantErr: true},
		{irq: -1, wantErr: true},
	} {
		secure, err := nvic.TargetState(test.irq)

		if gotErr := err != nil; gotErr != test.wantErr {
			t.Fatalf("TargetState(%d): got %v, wantErr %t", test.irq, err, test.wantErr)
		}

		if secure != test.wantSecure {
			t.Errorf("TargetState(%d): got secure %t, want %t", test.irq, secure, test.wantSecure)
		}
	}
}

func TestEnable(t *testing.T) {
	nvic := &NVIC{Bus: &reg.Memory{}, PriorityBits: 3}

	if err := nvic.EnableIRQ(35); err != nil {
		t.Fatalf("EnableIRQ: %v", err)
	}

	if got := reg.Read(nvic.Bus, NVIC_ISER+4); got != 1<<3 {
		t.Fatalf("Got ISER[1] %#x, want %#x", got, 1<<3)
	}

	if enabled, _ := nvic.Enabled(35); !enabled {
		t.Fatalf("Interrupt 35 not enabled")
	}

	if err := nvic.ClearPendingIRQ(35); err != nil {
		t.Fatalf("ClearPendingIRQ: %v", err)
	}

	if got := reg.Read(nvic.Bus, NVIC_ICPR+4); got != 1<<3 {
		t.Fatalf("Got ICPR[1] %#x, want %#x", got, 1<<3)
	}
}

func TestPriority(t *testing.T) {
	for _, test := range []struct {
		name     string
		irq      int
		prio     uint8
		wantAddr uint32
		wantVal  uint32
		wantErr  bool
	}{
		{
			name:     "external",
			irq:      5,
			prio:     3,
			wantAddr: NVIC_IPR + 4,
			wantVal:  0x60 << 8,
		}, {
			name:     "secure fault",
			irq:      SecureFault_IRQn,
			prio:     1,
			wantAddr: SCB_SHPR1,
			wantVal:  0x20 << 24,
		}, {
			name:     "systick",
			irq:      SysTick_IRQn,
			prio:     7,
			wantAddr: SCB_SHPR3,
			wantVal:  0xe0 << 24,
		}, {
			name:    "fixed priority",
			irq:     -14,
			wantErr: true,
		}, {
			name:    "out of range",
			irq:     NVIC_IRQ_MAX,
			wantErr: true,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			nvic := &NVIC{Bus: &reg.Memory{}, PriorityBits: 3}

			err := nvic.SetPriority(test.irq, test.prio)

			if gotErr := err != nil; gotErr != test.wantErr {
				t.Fatalf("Got %v, wantErr %t", err, test.wantErr)
			}

			if test.wantErr {
				return
			}

			if got := reg.Read(nvic.Bus, test.wantAddr); got != test.wantVal {
				t.Fatalf("Got %#x at %#x, want %#x", got, test.wantAddr, test.wantVal)
			}

			if prio, _ := nvic.Priority(test.irq); prio != test.prio {
				t.Fatalf("Got priority %d, want %d", prio, test.prio)
			}
		})
	}
}

func TestSCB(t *testing.T) {
	scb := &SCB{Bus: &reg.Memory{}}

	reg.Write(scb.Bus, SCB_AIRCR, VECTKEYSTAT<<AIRCR_VECTKEY|1<<AIRCR_PRIS)
	scb.SetSystemResetSecureOnly()

	want := uint32(VECTKEY<<AIRCR_VECTKEY | 1<<AIRCR_PRIS | 1<<AIRCR_SYSRESETREQS)

	if got := reg.Read(scb.Bus, SCB_AIRCR); got != want {
		t.Fatalf("Got AIRCR %#x, want %#x", got, want)
	}

	if !scb.SystemResetSecureOnly() {
		t.Fatalf("System reset not restricted to Secure state")
	}

	scb.EnableFaults(FAULT_SECURE | 1)

	if got := scb.Faults(); got != FAULT_SECURE {
		t.Fatalf("Got faults %#x, want %#x", got, FAULT_SECURE)
	}
}

func TestSAU(t *testing.T) {
	sau := &SAU{Bus: &reg.Memory{}}

	reg.Write(sau.Bus, SAU_CTRL, 1<<SAU_CTRL_ENABLE)

	sau.Disable()
	sau.SetAllNonSecure()

	if sau.Enabled() || !sau.AllNonSecure() {
		t.Fatalf("Got SAU_CTRL %#x", reg.Read(sau.Bus, SAU_CTRL))
	}
}
