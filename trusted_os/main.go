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
	"flag"
	"net/rpc"
	"net/rpc/jsonrpc"
	"runtime"

	"github.com/coreos/go-semver/semver"
	"k8s.io/klog/v2"

	"github.com/transparency-dev/armored-witness-spm/boundary"
	"github.com/transparency-dev/armored-witness-spm/operation"
	"github.com/transparency-dev/armored-witness-spm/service"
	"github.com/transparency-dev/armored-witness-spm/soc/nordic/nrf5340"
	"github.com/transparency-dev/armored-witness-spm/soc/nordic/nrf5340/emulator"
)

// initialized at compile time (see Makefile)
var (
	Build    string
	Revision string
	Version  string
)

// Hardware is the application core register bus, the boundary configuration
// is applied to an emulated device when running as a host process.
var Hardware = emulator.New()

var metricsAddr = flag.String("metrics_addr", "", "address to serve Prometheus metrics on, disabled if empty")

func main() {
	klog.InitFlags(nil)
	flag.Set("logtostderr", "true")
	flag.Parse()

	if len(Version) == 0 {
		klog.Exit("SM version is missing")
	}

	klog.Infof("%s/%s (%s) • secure partition manager (Secure World) • %s %s",
		runtime.GOOS, runtime.GOARCH, runtime.Version(),
		Revision, Build)

	version, err := semver.NewVersion(Version)

	if err != nil {
		klog.Exitf("SM invalid version %q, %v", Version, err)
	}

	soc := nrf5340.New(Hardware)
	sm := boundary.New(soc)

	cfg := boundary.Config{
		Limits:      limits(),
		Peripherals: nonSecurePeripherals,
		Debug:       debugPolicy,
	}

	klog.Infof("SM boundary configuration (%s, debug %s)", version, cfg.Debug)

	if err = sm.Boot(cfg); err != nil {
		klog.Exitf("SM halting, %v", err)
	}

	irqHandler[nrf5340.SPU_IRQ] = func() { spuHandler(soc) }

	pool := operation.NewPool()

	if len(*metricsAddr) > 0 {
		serveMetrics(*metricsAddr, initMetrics(pool))
	}

	server := rpc.NewServer()

	if err = server.Register(&service.Crypto{Pool: pool}); err != nil {
		klog.Exitf("SM could not register crypto service, %v", err)
	}

	if err = server.Register(&RPC{SoC: soc, SM: sm, Pool: pool, OS: version}); err != nil {
		klog.Exitf("SM could not register control service, %v", err)
	}

	klog.Infof("SM serving secure services")

	// returns when the Non-Secure side hangs up
	server.ServeCodec(jsonrpc.NewServerCodec(stdio{}))

	if n := pool.InUse(); n > 0 {
		klog.Warningf("SM exiting with %d operations in flight", n)
	}
}
