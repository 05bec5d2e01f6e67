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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/transparency-dev/armored-witness-spm/arm/cortexm"
	"github.com/transparency-dev/armored-witness-spm/soc/nordic/nrf5340"
	"github.com/transparency-dev/armored-witness-spm/soc/nordic/nrf5340/emulator"
)

func newConfigurator() (*Configurator, *emulator.Emulator) {
	e := emulator.New()
	return New(nrf5340.New(e)), e
}

func testConfig() Config {
	return Config{
		Limits: Limits{
			NonSecureCodeStart: 0x50400,
			NonSecurePartition: Range{0x50000, 0x7ffff},
			NonSecureData:      Range{0x20040000, 0x2007ffff},
			Veneer:             Range{0x4f000, 0x4ffff},
			Secondary:          &Range{0x80000, 0xaffff},
		},
		Peripherals: []int{nrf5340.SERIAL0_ID, nrf5340.TIMER0_ID, nrf5340.IPC_ID},
		Debug:       DebugDisabled,
	}
}

func TestBoot(t *testing.T) {
	c, e := newConfigurator()

	if err := c.Boot(testConfig()); err != nil {
		t.Fatalf("Boot: %v", err)
	}

	if !c.Sealed() || c.Done() != StepAll|StepPeripherals {
		t.Fatalf("Got sealed %t steps %s", c.Sealed(), c.Done())
	}

	want := []Area{
		{Range: Range{0x0, 0x4bfff}, Memory: "flash", Attribution: Secure},
		{Range: Range{0x4c000, 0x4efff}, Memory: "flash", Attribution: Secure, Locked: true},
		{Range: Range{0x4f000, 0x4ffff}, Memory: "flash", Attribution: NonSecureCallable, Locked: true},
		{Range: Range{0x50000, 0xaffff}, Memory: "flash", Attribution: NonSecure, Locked: true},
		{Range: Range{0xb0000, 0xfffff}, Memory: "flash", Attribution: Secure},
		{Range: Range{0x20000000, 0x2003ffff}, Memory: "RAM", Attribution: Secure},
		{Range: Range{0x20040000, 0x2007ffff}, Memory: "RAM", Attribution: NonSecure, Locked: true},
	}

	if diff := cmp.Diff(want, c.Map()); diff != "" {
		t.Fatalf("Got attribution map diff: %s", diff)
	}

	for irq := 0; irq < nrf5340.IRQ_COUNT; irq++ {
		secure, err := c.NVIC.TargetState(irq)

		if err != nil {
			t.Fatalf("TargetState(%d): %v", irq, err)
		}

		if secure != (irq == nrf5340.SPU_IRQ) {
			t.Errorf("Interrupt %d: got secure %t", irq, secure)
		}
	}

	if enabled, _ := c.NVIC.Enabled(nrf5340.SPU_IRQ); !enabled {
		t.Errorf("SPU interrupt not enabled")
	}

	if c.SPU.Interrupts() != 0b111 {
		t.Errorf("Got SPU interrupts %#b", c.SPU.Interrupts())
	}

	if prio, _ := c.NVIC.Priority(cortexm.SecureFault_IRQn); prio != SecureFaultPriority {
		t.Errorf("Got secure fault priority %d", prio)
	}

	if c.SCB.Faults() != cortexm.FAULT_ALL || !c.SCB.SystemResetSecureOnly() {
		t.Errorf("Fault and reset policy not hardened")
	}

	if c.SAU.Enabled() || !c.SAU.AllNonSecure() {
		t.Errorf("SAU not disabled")
	}

	for _, id := range testConfig().Peripherals {
		addr := uint32(nrf5340.PERIPH_NS_BASE + id<<12)

		if err := e.Access(addr, emulator.NonSecure, emulator.Write); err != nil {
			t.Errorf("Non-Secure peripheral %d: %v", id, err)
		}
	}

	if err := e.Access(nrf5340.PERIPH_NS_BASE+nrf5340.TIMER1_ID<<12, emulator.NonSecure, emulator.Write); !errors.Is(err, emulator.ErrAccessDenied) {
		t.Errorf("Secure peripheral: got %v, want %v", err, emulator.ErrAccessDenied)
	}
}

func TestNonSecureProbe(t *testing.T) {
	c, e := newConfigurator()

	cfg := Config{
		Limits: Limits{
			NonSecureCodeStart: 0x8000,
			NonSecurePartition: Range{0x8000, 0xffff},
			NonSecureData:      Range{0x20040000, 0x2007ffff},
			Veneer:             Range{0x7fe0, 0x7fff},
		},
		Debug: DebugChipDefault,
	}

	if err := c.Boot(cfg); err != nil {
		t.Fatalf("Boot: %v", err)
	}

	for _, test := range []struct {
		name    string
		addr    uint32
		op      emulator.Op
		wantErr error
	}{
		{name: "read secure", addr: 0x7000, op: emulator.Read, wantErr: emulator.ErrAccessDenied},
		{name: "write secure", addr: 0x7000, op: emulator.Write, wantErr: emulator.ErrAccessDenied},
		{name: "read non-secure", addr: 0x9000, op: emulator.Read},
		{name: "write non-secure", addr: 0x9000, op: emulator.Write},
		{name: "call veneer", addr: 0x7fe0, op: emulator.Execute},
		{name: "read secure past partition", addr: 0x10000, op: emulator.Read, wantErr: emulator.ErrAccessDenied},
	} {
		t.Run(test.name, func(t *testing.T) {
			if err := e.Access(test.addr, emulator.NonSecure, test.op); !errors.Is(err, test.wantErr) {
				t.Fatalf("Got %v, want %v", err, test.wantErr)
			}
		})
	}

	if !c.SPU.Events().Flash {
		t.Fatalf("Flash access violation event not raised")
	}

	if pending, _ := c.NVIC.Pending(nrf5340.SPU_IRQ); !pending {
		t.Fatalf("SPU interrupt not pending after violation")
	}
}

func TestAttribution(t *testing.T) {
	c, _ := newConfigurator()
	cfg := testConfig()

	if err := c.Boot(cfg); err != nil {
		t.Fatalf("Boot: %v", err)
	}

	l := cfg.Limits
	classified := []struct {
		r Range
		a Attribution
	}{
		{l.NonSecurePartition, NonSecure},
		{*l.Secondary, NonSecure},
		{l.NonSecureData, NonSecure},
		{l.Veneer, NonSecureCallable},
	}

	check := func(m Range, step uint32) {
		for addr := m.Base; addr <= m.Limit && addr >= m.Base; addr += step {
			want := Secure

			for _, r := range classified {
				if r.r.Contains(addr) {
					want = r.a
				}
			}

			got, err := c.Attribution(addr)

			if err != nil {
				t.Fatalf("Attribution(%#x): %v", addr, err)
			}

			if got != want {
				t.Fatalf("Attribution(%#x): got %s, want %s", addr, got, want)
			}
		}
	}

	check(Range{nrf5340.FLASH_BASE, nrf5340.FLASH_BASE + nrf5340.FLASH_SIZE - 1}, 0x20)
	check(Range{nrf5340.RAM_BASE, nrf5340.RAM_BASE + nrf5340.RAM_SIZE - 1}, 0x100)

	if _, err := c.Attribution(0x10000000); err == nil {
		t.Fatalf("Attribution of unmapped address succeeded")
	}
}

func TestReclassification(t *testing.T) {
	c, _ := newConfigurator()

	if err := c.ResetAllRegionsSecure(); err != nil {
		t.Fatalf("ResetAllRegionsSecure: %v", err)
	}

	if err := c.ClassifyFlashNonSecure(0x8000, 0xffff); err != nil {
		t.Fatalf("ClassifyFlashNonSecure: %v", err)
	}

	// identical classification is enforced by the region lock
	if err := c.ClassifyFlashNonSecure(0x8000, 0xffff); err != nil {
		t.Fatalf("ClassifyFlashNonSecure: %v", err)
	}

	// a classified region can never become Non-Secure Callable
	if err := c.ClassifyFlashNonSecureCallable(0xffe0, 0xffff); !errors.Is(err, ErrFatal) {
		t.Fatalf("ClassifyFlashNonSecureCallable: got %v, want %v", err, ErrFatal)
	}

	if a, _ := c.Attribution(0x9000); a != NonSecure {
		t.Fatalf("Got attribution %s after rejected reclassification", a)
	}
}

func TestResetAfterClassification(t *testing.T) {
	c, _ := newConfigurator()

	if err := c.ResetAllRegionsSecure(); err != nil {
		t.Fatalf("ResetAllRegionsSecure: %v", err)
	}

	if err := c.ClassifyRAMNonSecure(0x20040000, 0x2007ffff); err != nil {
		t.Fatalf("ClassifyRAMNonSecure: %v", err)
	}

	err := c.ResetAllRegionsSecure()

	if !errors.Is(err, ErrOrder) || !errors.Is(err, ErrFatal) {
		t.Fatalf("Got %v, want %v", err, ErrOrder)
	}

	var e *Error

	if !errors.As(err, &e) || e.Step != StepReset {
		t.Fatalf("Got %v, want failure in step %s", err, StepReset)
	}
}

func TestOrder(t *testing.T) {
	for _, test := range []struct {
		name string
		op   func(c *Configurator) error
		step Step
	}{
		{
			name: "classify before reset",
			op:   func(c *Configurator) error { return c.ClassifyFlashNonSecure(0x8000, 0xffff) },
			step: StepFlashNonSecure,
		}, {
			name: "peripheral before reset",
			op:   func(c *Configurator) error { return c.ClassifyPeripheralNonSecure(nrf5340.TIMER0_ID) },
			step: StepPeripherals,
		}, {
			name: "routing before boundary",
			op:   (*Configurator).RouteInterruptsToNonSecure,
			step: StepInterruptRouting,
		}, {
			name: "violation interrupt before routing",
			op:   (*Configurator).EnableSecurityViolationInterrupt,
			step: StepViolationInterrupt,
		}, {
			name: "seal before configuration",
			op:   (*Configurator).Seal,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			c, _ := newConfigurator()

			err := test.op(c)

			if !errors.Is(err, ErrOrder) {
				t.Fatalf("Got %v, want %v", err, ErrOrder)
			}

			var e *Error

			if !errors.As(err, &e) || e.Step != test.step {
				t.Fatalf("Got %v, want failure in step %s", err, test.step)
			}

			// failures are latched
			if err := c.Boot(testConfig()); err != c.Err() || !errors.Is(err, ErrOrder) {
				t.Fatalf("Boot after failure: got %v, want %v", err, c.Err())
			}

			if c.Sealed() {
				t.Fatalf("Sealed after failure")
			}
		})
	}
}

func TestSealed(t *testing.T) {
	c, _ := newConfigurator()

	if err := c.Boot(testConfig()); err != nil {
		t.Fatalf("Boot: %v", err)
	}

	if err := c.ApplyDebugPolicy(DebugFull); !errors.Is(err, ErrSealed) || !errors.Is(err, ErrFatal) {
		t.Fatalf("Got %v, want %v", err, ErrSealed)
	}

	if err := c.Seal(); !errors.Is(err, ErrSealed) {
		t.Fatalf("Got %v, want %v", err, ErrSealed)
	}

	if c.CTRLAP.APProtectDisabled() {
		t.Fatalf("Debug policy changed after seal")
	}
}

func TestBootFailure(t *testing.T) {
	for _, test := range []struct {
		name   string
		modify func(cfg *Config)
		step   Step
	}{
		{
			name:   "misaligned partition",
			modify: func(cfg *Config) { cfg.Limits.NonSecurePartition.Base = 0x50400 },
			step:   StepFlashNonSecure,
		}, {
			name:   "invalid veneer size",
			modify: func(cfg *Config) { cfg.Limits.Veneer.Base = 0x4ef00 },
			step:   StepNonSecureCallable,
		}, {
			name:   "overlapping ranges",
			modify: func(cfg *Config) { cfg.Limits.Secondary = &Range{0x70000, 0x8ffff} },
			step:   StepBoundary,
		}, {
			name:   "fixed peripheral",
			modify: func(cfg *Config) { cfg.Peripherals = append(cfg.Peripherals, nrf5340.CRYPTOCELL_ID) },
			step:   StepPeripherals,
		}, {
			name:   "unset debug policy",
			modify: func(cfg *Config) { cfg.Debug = 0 },
			step:   StepDebug,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			c, _ := newConfigurator()
			cfg := testConfig()
			test.modify(&cfg)

			err := c.Boot(cfg)

			var e *Error

			if !errors.As(err, &e) || e.Step != test.step {
				t.Fatalf("Got %v, want failure in step %s", err, test.step)
			}

			if c.Sealed() || c.Done()&StepViolationInterrupt != 0 {
				t.Fatalf("Boot continued after failure (steps %s)", c.Done())
			}
		})
	}
}

func TestDebugPolicy(t *testing.T) {
	for _, test := range []struct {
		policy     DebugPolicy
		wantNS     bool
		wantSecure bool
	}{
		{policy: DebugDisabled},
		{policy: DebugNonSecureOnly, wantNS: true},
		{policy: DebugFull, wantNS: true, wantSecure: true},
		{policy: DebugChipDefault},
	} {
		t.Run(test.policy.String(), func(t *testing.T) {
			c, _ := newConfigurator()
			cfg := testConfig()
			cfg.Debug = test.policy

			if err := c.Boot(cfg); err != nil {
				t.Fatalf("Boot: %v", err)
			}

			if got := c.CTRLAP.APProtectDisabled(); got != test.wantNS {
				t.Errorf("Got Non-Secure debug %t, want %t", got, test.wantNS)
			}

			if got := c.CTRLAP.SecureAPProtectDisabled(); got != test.wantSecure {
				t.Errorf("Got Secure debug %t, want %t", got, test.wantSecure)
			}

			if !c.CTRLAP.Locked() || c.DebugPolicy() != test.policy {
				t.Errorf("Debug policy not locked")
			}

			p, err := ParseDebugPolicy(test.policy.String())

			if err != nil || p != test.policy {
				t.Errorf("ParseDebugPolicy(%q): got %v, %v", test.policy, p, err)
			}
		})
	}
}

func TestLimitsValidate(t *testing.T) {
	valid := testConfig().Limits

	for _, test := range []struct {
		name    string
		modify  func(l *Limits)
		wantErr bool
	}{
		{
			name:   "valid",
			modify: func(l *Limits) {},
		}, {
			name:   "no secondary partition",
			modify: func(l *Limits) { l.Secondary = nil },
		}, {
			name:    "base after limit",
			modify:  func(l *Limits) { l.NonSecureData = Range{0x2007ffff, 0x20040000} },
			wantErr: true,
		}, {
			name:    "code start outside partition",
			modify:  func(l *Limits) { l.NonSecureCodeStart = 0x4f000 },
			wantErr: true,
		}, {
			name:    "veneer inside partition",
			modify:  func(l *Limits) { l.Veneer = Range{0x7f000, 0x7ffff} },
			wantErr: true,
		}, {
			name:    "secondary overlaps veneer",
			modify:  func(l *Limits) { l.Secondary = &Range{0x4c000, 0x4ffff} },
			wantErr: true,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			l := valid
			test.modify(&l)

			if err := l.Validate(); (err != nil) != test.wantErr {
				t.Fatalf("Got %v, wantErr %t", err, test.wantErr)
			}
		})
	}
}
