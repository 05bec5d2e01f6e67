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
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/klog/v2"

	"github.com/transparency-dev/armored-witness-spm/operation"
)

const metricsPrefix = "spm_"

var violationsCounter = prom.NewCounter(prom.CounterOpts{
	Name: metricsPrefix + "security_violations_total",
	Help: "Number of handled SPU security violations",
})

func initMetrics(pool *operation.Pool) *prom.Registry {
	reg := prom.NewRegistry()

	reg.MustRegister(
		collectors.NewGoCollector(),
		violationsCounter,
		prom.NewGaugeFunc(prom.GaugeOpts{
			Name: metricsPrefix + "operations_in_use",
			Help: "Number of in-flight cryptographic operations",
		}, func() float64 {
			return float64(pool.InUse())
		}),
	)

	return reg
}

func serveMetrics(addr string, reg *prom.Registry) {
	srvMux := http.NewServeMux()
	srvMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	go func() {
		klog.Infof("SM serving metrics on %s", addr)

		if err := http.ListenAndServe(addr, srvMux); err != nil {
			klog.Errorf("SM metrics server error, %v", err)
		}
	}()
}
