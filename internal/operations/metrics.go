/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package operations

import (
	"sync"

	"github.com/hyperledger/fabric-lib-go/common/metrics"
	"github.com/hyperledger/fabric-lib-go/common/metrics/prometheus"
)

var (
	harnessVersion = metrics.GaugeOpts{
		Namespace:    "fabrictest",
		Name:         "version",
		Help:         "The active version of the harness.",
		LabelNames:   []string{"version"},
		StatsdFormat: "%{#fqname}.%{version}",
	}

	gaugeLock        sync.Mutex
	promVersionGauge metrics.Gauge
)

// versionGauge registers the prometheus gauge once per process.
func versionGauge(provider metrics.Provider) metrics.Gauge {
	switch provider.(type) {
	case *prometheus.Provider:
		gaugeLock.Lock()
		defer gaugeLock.Unlock()
		if promVersionGauge == nil {
			promVersionGauge = provider.NewGauge(harnessVersion)
		}
		return promVersionGauge

	default:
		return provider.NewGauge(harnessVersion)
	}
}
