/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package fab

import (
	"context"
	"testing"

	"github.com/hyperledger/fabric-lib-go/common/metrics"
	"github.com/hyperledger/fabric-lib-go/common/metrics/metricsfakes"
	"github.com/stretchr/testify/require"
)

type fakeMetrics struct {
	provider *metricsfakes.Provider
	counters map[string]*metricsfakes.Counter
	gauges   map[string]*metricsfakes.Gauge
}

func newFakeMetrics() *fakeMetrics {
	fm := &fakeMetrics{
		provider: &metricsfakes.Provider{},
		counters: map[string]*metricsfakes.Counter{},
		gauges:   map[string]*metricsfakes.Gauge{},
	}
	fm.provider.NewCounterStub = func(o metrics.CounterOpts) metrics.Counter {
		c := &metricsfakes.Counter{}
		c.WithReturns(c)
		fm.counters[o.Name] = c
		return c
	}
	fm.provider.NewGaugeStub = func(o metrics.GaugeOpts) metrics.Gauge {
		g := &metricsfakes.Gauge{}
		g.WithReturns(g)
		fm.gauges[o.Name] = g
		return g
	}
	fm.provider.NewHistogramStub = func(o metrics.HistogramOpts) metrics.Histogram {
		h := &metricsfakes.Histogram{}
		h.WithReturns(h)
		return h
	}
	return fm
}

func TestProposalMetrics(t *testing.T) {
	fm := newFakeMetrics()
	env := newTestEnv(t, WithMetricsProvider(fm.provider))
	ch, _ := env.initializedChannel(t, NoEventSource())

	req := &TransactionProposalRequest{ChaincodeName: "example_cc", Fcn: "query", Args: []string{"a"}}
	_, err := ch.SendTransactionProposal(context.Background(), req, ch.Peers())
	require.NoError(t, err)

	sent := fm.counters["proposals_sent"]
	require.Equal(t, 1, sent.AddCallCount())
	require.Equal(t, 1.0, sent.AddArgsForCall(0))
	require.Equal(t, []string{"channel", testChannel, "peer", "peer0.tebon.com", "status", "SUCCESS"}, sent.WithArgsForCall(0))

	require.NotZero(t, fm.counters["requests_completed"].AddCallCount())
}

func TestEventHubConnectedGauge(t *testing.T) {
	fm := newFakeMetrics()
	env := newTestEnv(t, WithMetricsProvider(fm.provider))
	ch, _ := env.joinedChannel(t, NoEventSource())
	require.NoError(t, ch.AddEventHub(env.eventHub(t, "peer0.tebon.com")))
	require.NoError(t, ch.Initialize(context.Background()))

	connected := fm.gauges["connected"]
	require.NotZero(t, connected.SetCallCount())
	require.Equal(t, 1.0, connected.SetArgsForCall(0))
	require.Equal(t, []string{"channel", testChannel, "source", "peer0.tebon.com"}, connected.WithArgsForCall(0))
}
