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
	"errors"
	"fmt"

	"github.com/coreos/go-semver/semver"
	"k8s.io/klog/v2"

	"github.com/transparency-dev/armored-witness-spm/api"
	"github.com/transparency-dev/armored-witness-spm/api/rpc"
	"github.com/transparency-dev/armored-witness-spm/boundary"
	"github.com/transparency-dev/armored-witness-spm/operation"
	"github.com/transparency-dev/armored-witness-spm/soc/nordic/nrf5340"
	"github.com/transparency-dev/armored-witness-spm/soc/nordic/nrf5340/emulator"
)

// RPC represents the Secure partition control receiver.
type RPC struct {
	SoC  *nrf5340.SoC
	SM   *boundary.Configurator
	Pool *operation.Pool
	OS   *semver.Version
}

// Version returns the running Secure partition version.
func (r *RPC) Version(_ any, v *rpc.InstalledVersions) error {
	v.OS = *r.OS
	return nil
}

// Status returns the protobuf encoded Secure partition status.
func (r *RPC) Status(_ any, status *[]byte) error {
	s := &api.Status{
		Version:    r.OS.String(),
		Revision:   Revision,
		Build:      Build,
		Debug:      r.SM.DebugPolicy().String(),
		Sealed:     r.SM.Sealed(),
		Operations: uint32(r.Pool.InUse()),
		Violations: violations.Load(),
	}

	for _, a := range r.SM.Map() {
		s.Areas = append(s.Areas, api.Area{
			Memory:      a.Memory,
			Base:        a.Base,
			Limit:       a.Limit,
			Attribution: a.Attribution.String(),
			Locked:      a.Locked,
		})
	}

	for _, id := range nonSecurePeripherals {
		s.Peripherals = append(s.Peripherals, uint32(id))
	}

	*status = s.Bytes()

	return nil
}

func parseAccess(s string) (emulator.Op, error) {
	for op := emulator.Read; op <= emulator.Execute; op++ {
		if op.String() == s {
			return op, nil
		}
	}

	return 0, fmt.Errorf("invalid access type %q", s)
}

// Probe issues a bus access against the emulated device and services any
// raised security violation, it returns the access outcome.
func (r *RPC) Probe(req *rpc.Probe, res *string) error {
	op, err := parseAccess(req.Access)

	if err != nil {
		return err
	}

	world := emulator.Secure

	if req.NonSecure {
		world = emulator.NonSecure
	}

	err = Hardware.Access(req.Addr, world, op)
	isr(r.SoC)

	switch {
	case err == nil:
		*res = "allowed"
	case errors.Is(err, emulator.ErrAccessDenied):
		*res = "denied"
	default:
		return err
	}

	klog.V(1).Infof("SM probe %s %s %#08x: %s", world, op, req.Addr, *res)

	return nil
}
