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

// Package boundary implements the Secure/Non-Secure boundary configuration
// performed by the Secure image before any Non-Secure code runs.
//
// The configuration is a strictly ordered sequence of register level side
// effects (see Boot):
//
//  1. security attribution is left to the SPU alone (SAU disabled)
//  2. all memory is reset to Secure, then Non-Secure code, data, the Non-Secure
//     Callable veneers area, the optional update partition and Non-Secure
//     peripherals are classified, each classification is locked as it is applied
//  3. fault handlers and system reset policy are hardened
//  4. the debug authentication policy is applied and locked
//  5. interrupts are routed to Non-Secure, except for the SPU one
//  6. the SPU security violation interrupt is enabled
//
// Any error is fatal: a partially applied boundary must never be left
// running, therefore a Configurator latches the first error and refuses any
// later operation, the same applies to any operation after Seal.
package boundary

import (
	"errors"
	"fmt"
	"strings"

	"k8s.io/klog/v2"

	"github.com/transparency-dev/armored-witness-spm/arm/cortexm"
	"github.com/transparency-dev/armored-witness-spm/soc/nordic/ctrlap"
	"github.com/transparency-dev/armored-witness-spm/soc/nordic/nrf5340"
	"github.com/transparency-dev/armored-witness-spm/soc/nordic/spu"
)

var (
	// ErrFatal is wrapped by every error returned by a Configurator.
	ErrFatal = errors.New("fatal boundary configuration error")
	// ErrOrder indicates an operation invoked out of sequence.
	ErrOrder = errors.New("out of order")
	// ErrSealed indicates an attempt to re-configure a sealed boundary.
	ErrSealed = errors.New("boundary already sealed")
)

// SecureFaultPriority is the Secure fault handler priority (highest).
const SecureFaultPriority = 0

// Step represents a boundary configuration step, or a set of them.
type Step uint32

const (
	StepPrecedence Step = 1 << iota
	StepReset
	StepFlashNonSecure
	StepRAMNonSecure
	StepNonSecureCallable
	StepPeripherals
	StepBoundary
	StepHarden
	StepDebug
	StepInterruptRouting
	StepViolationInterrupt

	stepMax

	// StepAll is the set of steps required before sealing.
	StepAll = StepPrecedence | StepReset | StepFlashNonSecure | StepRAMNonSecure |
		StepNonSecureCallable | StepBoundary | StepHarden | StepDebug |
		StepInterruptRouting | StepViolationInterrupt

	stepClassification = StepFlashNonSecure | StepRAMNonSecure | StepNonSecureCallable | StepPeripherals
)

var stepNames = map[Step]string{
	StepPrecedence:         "attribution precedence",
	StepReset:              "reset all secure",
	StepFlashNonSecure:     "flash non-secure",
	StepRAMNonSecure:       "RAM non-secure",
	StepNonSecureCallable:  "flash non-secure callable",
	StepPeripherals:        "peripherals non-secure",
	StepBoundary:           "boundary",
	StepHarden:             "fault and reset policy",
	StepDebug:              "debug policy",
	StepInterruptRouting:   "interrupt routing",
	StepViolationInterrupt: "violation interrupt",
}

func (s Step) String() string {
	var names []string

	if s == 0 {
		return "seal"
	}

	for b := Step(1); b < stepMax; b <<= 1 {
		if s&b != 0 {
			names = append(names, stepNames[b])
		}
	}

	return strings.Join(names, "|")
}

// Error represents a fatal boundary configuration error.
type Error struct {
	Step Step
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v: %s, %v", ErrFatal, e.Step, e.Err)
}

// Unwrap allows matching both ErrFatal and the underlying cause.
func (e *Error) Unwrap() []error {
	return []error{ErrFatal, e.Err}
}

// Configurator applies the Secure/Non-Secure boundary configuration.
type Configurator struct {
	NVIC   *cortexm.NVIC
	SCB    *cortexm.SCB
	SAU    *cortexm.SAU
	SPU    *spu.SPU
	CTRLAP *ctrlap.CTRLAP

	// IRQCount is the number of implemented external interrupts
	IRQCount int

	done   Step
	sealed bool
	err    error

	limits Limits
	debug  DebugPolicy
}

// New returns a Configurator for the argument SoC peripherals.
func New(soc *nrf5340.SoC) *Configurator {
	return &Configurator{
		NVIC:     soc.NVIC,
		SCB:      soc.SCB,
		SAU:      soc.SAU,
		SPU:      soc.SPU,
		CTRLAP:   soc.CTRLAP,
		IRQCount: nrf5340.IRQ_COUNT,
	}
}

// Done returns the set of completed steps.
func (c *Configurator) Done() Step {
	return c.done
}

// Sealed returns whether the boundary configuration has been sealed.
func (c *Configurator) Sealed() bool {
	return c.sealed
}

// Err returns the latched fatal error, if any.
func (c *Configurator) Err() error {
	return c.err
}

// DebugPolicy returns the applied debug authentication policy.
func (c *Configurator) DebugPolicy() DebugPolicy {
	return c.debug
}

// Limits returns the applied memory region limits.
func (c *Configurator) Limits() Limits {
	return c.limits
}

func (c *Configurator) fail(s Step, err error) error {
	var e *Error

	if errors.As(err, &e) {
		// failure already latched by a nested step
		c.err = err
		return err
	}

	c.err = &Error{Step: s, Err: err}
	klog.Errorf("SM boundary configuration failure, %v", c.err)

	return c.err
}

// step runs fn as configuration step s once all required steps completed,
// any failure is latched.
func (c *Configurator) step(s Step, requires Step, fn func() error) error {
	if c.err != nil {
		return c.err
	}

	if c.sealed {
		return c.fail(s, ErrSealed)
	}

	if missing := requires &^ c.done; missing != 0 {
		return c.fail(s, fmt.Errorf("%w, %s required", ErrOrder, missing))
	}

	if err := fn(); err != nil {
		return c.fail(s, err)
	}

	c.done |= s
	klog.V(1).Infof("SM boundary step completed: %s", s)

	return nil
}

// ConfigureWorldSwitchPrecedence disables the SAU, not implemented on this
// family, and gives precedence to the SPU for the security attribution of
// all accesses.
func (c *Configurator) ConfigureWorldSwitchPrecedence() error {
	return c.step(StepPrecedence, 0, func() error {
		c.SAU.Disable()
		c.SAU.SetAllNonSecure()

		if c.SAU.Enabled() || !c.SAU.AllNonSecure() {
			return errors.New("SAU configuration write ignored")
		}

		return nil
	})
}

// ResetAllRegionsSecure forces all flash and RAM regions to Secure, without
// locking them, discarding any configuration left by earlier boot stages. It
// must precede any classification.
func (c *Configurator) ResetAllRegionsSecure() error {
	return c.step(StepReset, 0, func() error {
		if c.done&stepClassification != 0 {
			return fmt.Errorf("%w, regions already classified (%s)", ErrOrder, c.done&stepClassification)
		}

		return c.SPU.ResetAllSecure()
	})
}

// ClassifyFlashNonSecure classifies and locks the flash range [start, limit]
// as Non-Secure.
func (c *Configurator) ClassifyFlashNonSecure(start uint32, limit uint32) error {
	return c.step(StepFlashNonSecure, StepReset, func() error {
		return c.SPU.ConfigureFlashNonSecure(start, limit)
	})
}

// ClassifyRAMNonSecure classifies and locks the RAM range [start, limit] as
// Non-Secure.
func (c *Configurator) ClassifyRAMNonSecure(start uint32, limit uint32) error {
	return c.step(StepRAMNonSecure, StepReset, func() error {
		return c.SPU.ConfigureRAMNonSecure(start, limit)
	})
}

// ClassifyFlashNonSecureCallable classifies and locks the flash range
// [start, limit] as the sole Non-Secure Callable area.
func (c *Configurator) ClassifyFlashNonSecureCallable(start uint32, limit uint32) error {
	return c.step(StepNonSecureCallable, StepReset, func() error {
		if c.done&StepNonSecureCallable != 0 {
			return errors.New("non-secure callable area already configured")
		}

		return c.SPU.ConfigureFlashNonSecureCallable(start, limit)
	})
}

// ClassifyPeripheralNonSecure classifies and locks a peripheral as
// Non-Secure.
func (c *Configurator) ClassifyPeripheralNonSecure(id int) error {
	return c.step(StepPeripherals, StepReset, func() error {
		return c.SPU.ConfigurePeripheralNonSecure(id)
	})
}

// ApplyBoundary performs, in order, the reset of all regions to Secure and the
// classification of the Non-Secure code, Non-Secure data, Non-Secure Callable
// veneers and (if present) secondary partition ranges, followed by the
// Non-Secure peripherals.
func (c *Configurator) ApplyBoundary(l Limits, peripherals ...int) error {
	return c.step(StepBoundary, 0, func() (err error) {
		if err = l.Validate(); err != nil {
			return
		}

		klog.Infof("SM resetting all regions to Secure")

		if err = c.ResetAllRegionsSecure(); err != nil {
			return
		}

		klog.Infof("SM classifying non-secure code %s", l.NonSecurePartition)

		if err = c.ClassifyFlashNonSecure(l.NonSecurePartition.Base, l.NonSecurePartition.Limit); err != nil {
			return
		}

		klog.Infof("SM classifying non-secure data %s", l.NonSecureData)

		if err = c.ClassifyRAMNonSecure(l.NonSecureData.Base, l.NonSecureData.Limit); err != nil {
			return
		}

		klog.Infof("SM classifying non-secure callable veneers %s", l.Veneer)

		if err = c.ClassifyFlashNonSecureCallable(l.Veneer.Base, l.Veneer.Limit); err != nil {
			return
		}

		if s := l.Secondary; s != nil {
			klog.Infof("SM classifying secondary partition %s", s)

			if err = c.ClassifyFlashNonSecure(s.Base, s.Limit); err != nil {
				return
			}
		}

		for _, id := range peripherals {
			klog.V(1).Infof("SM classifying peripheral %d as non-secure", id)

			if err = c.ClassifyPeripheralNonSecure(id); err != nil {
				return
			}
		}

		c.limits = l

		return
	})
}

// HardenFaultAndResetPolicy sets the Secure fault handler to the highest
// priority, enables bus, memory management, usage and Secure faults and
// restricts system reset requests to the Secure world.
func (c *Configurator) HardenFaultAndResetPolicy() error {
	return c.step(StepHarden, 0, func() (err error) {
		if err = c.NVIC.SetPriority(cortexm.SecureFault_IRQn, SecureFaultPriority); err != nil {
			return
		}

		if prio, _ := c.NVIC.Priority(cortexm.SecureFault_IRQn); prio != SecureFaultPriority {
			return fmt.Errorf("secure fault priority write ignored (%d)", prio)
		}

		c.SCB.EnableFaults(cortexm.FAULT_ALL)

		if f := c.SCB.Faults(); f != cortexm.FAULT_ALL {
			return fmt.Errorf("fault handlers enable write ignored (%#x)", f)
		}

		c.SCB.SetSystemResetSecureOnly()

		if !c.SCB.SystemResetSecureOnly() {
			return errors.New("system reset policy write ignored")
		}

		return
	})
}

// RouteInterruptsToNonSecure targets every interrupt to the Non-Secure state
// except the SPU one, which remains Secure so that boundary violations are
// handled by the Secure world.
func (c *Configurator) RouteInterruptsToNonSecure() error {
	return c.step(StepInterruptRouting, StepBoundary, func() (err error) {
		c.NVIC.TargetAllNonSecure()

		if err = c.NVIC.ClearTargetState(c.SPU.IRQ); err != nil {
			return
		}

		for irq := 0; irq < c.IRQCount; irq++ {
			var secure bool

			if secure, err = c.NVIC.TargetState(irq); err != nil {
				return
			}

			if secure != (irq == c.SPU.IRQ) {
				return fmt.Errorf("interrupt %d target state write ignored", irq)
			}
		}

		return
	})
}

// EnableSecurityViolationInterrupt enables the SPU interrupt on access
// violations, clearing any pending one.
func (c *Configurator) EnableSecurityViolationInterrupt() error {
	return c.step(StepViolationInterrupt, StepInterruptRouting, func() (err error) {
		c.SPU.EnableInterrupts()

		if c.SPU.Interrupts() == 0 {
			return errors.New("SPU interrupt enable write ignored")
		}

		if err = c.NVIC.ClearPendingIRQ(c.SPU.IRQ); err != nil {
			return
		}

		if err = c.NVIC.EnableIRQ(c.SPU.IRQ); err != nil {
			return
		}

		if enabled, _ := c.NVIC.Enabled(c.SPU.IRQ); !enabled {
			return errors.New("SPU interrupt not enabled")
		}

		return
	})
}

// Seal marks the boundary configuration as complete, any later
// configuration attempt is a fatal error.
func (c *Configurator) Seal() error {
	if c.err != nil {
		return c.err
	}

	if c.sealed {
		return c.fail(0, ErrSealed)
	}

	if missing := StepAll &^ c.done; missing != 0 {
		return c.fail(0, fmt.Errorf("%w, %s required", ErrOrder, missing))
	}

	c.sealed = true
	klog.Infof("SM boundary sealed")

	return nil
}

// Config represents the build time boundary configuration.
type Config struct {
	Limits Limits
	// Peripherals lists the IDs of the Non-Secure peripherals
	Peripherals []int
	// Debug is the debug authentication policy
	Debug DebugPolicy
}

// Boot applies the whole boundary configuration in its mandated order and
// seals it.
func (c *Configurator) Boot(cfg Config) (err error) {
	steps := []struct {
		step Step
		fn   func() error
	}{
		{StepPrecedence, c.ConfigureWorldSwitchPrecedence},
		{StepBoundary, func() error { return c.ApplyBoundary(cfg.Limits, cfg.Peripherals...) }},
		{StepHarden, c.HardenFaultAndResetPolicy},
		{StepDebug, func() error { return c.ApplyDebugPolicy(cfg.Debug) }},
		{StepInterruptRouting, c.RouteInterruptsToNonSecure},
		{StepViolationInterrupt, c.EnableSecurityViolationInterrupt},
	}

	for _, s := range steps {
		if err = s.fn(); err != nil {
			return
		}

		// the step must be recorded as completed
		if c.done&s.step == 0 {
			return c.fail(s.step, fmt.Errorf("%w, step not completed", ErrOrder))
		}
	}

	return c.Seal()
}
