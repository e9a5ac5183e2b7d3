/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package fab

import "github.com/hyperledger/fabric-lib-go/common/metrics"

var (
	proposalsSentOpts = metrics.CounterOpts{
		Namespace:    "fabrictest",
		Subsystem:    "channel",
		Name:         "proposals_sent",
		Help:         "The number of transaction proposals sent to peers, by outcome.",
		LabelNames:   []string{"channel", "peer", "status"},
		StatsdFormat: "%{#fqname}.%{channel}.%{peer}.%{status}",
	}
	proposalDurationOpts = metrics.HistogramOpts{
		Namespace:    "fabrictest",
		Subsystem:    "channel",
		Name:         "proposal_duration",
		Help:         "The time for a peer to answer a transaction proposal, in seconds.",
		LabelNames:   []string{"channel", "peer"},
		StatsdFormat: "%{#fqname}.%{channel}.%{peer}",
	}
	blocksReceivedOpts = metrics.CounterOpts{
		Namespace:    "fabrictest",
		Subsystem:    "eventhub",
		Name:         "blocks_received",
		Help:         "The number of blocks received from an event source.",
		LabelNames:   []string{"channel", "source"},
		StatsdFormat: "%{#fqname}.%{channel}.%{source}",
	}
	reconnectsOpts = metrics.CounterOpts{
		Namespace:    "fabrictest",
		Subsystem:    "eventhub",
		Name:         "reconnects",
		Help:         "The number of times an event source stream was re-established.",
		LabelNames:   []string{"channel", "source"},
		StatsdFormat: "%{#fqname}.%{channel}.%{source}",
	}
	connectedOpts = metrics.GaugeOpts{
		Namespace:    "fabrictest",
		Subsystem:    "eventhub",
		Name:         "connected",
		Help:         "Whether an event source stream is connected (1) or not (0).",
		LabelNames:   []string{"channel", "source"},
		StatsdFormat: "%{#fqname}.%{channel}.%{source}",
	}
)

// Metrics are the channel and event hub instruments.
type Metrics struct {
	ProposalsSent    metrics.Counter
	ProposalDuration metrics.Histogram
	BlocksReceived   metrics.Counter
	Reconnects       metrics.Counter
	Connected        metrics.Gauge
}

// NewMetrics registers the instruments with p.
func NewMetrics(p metrics.Provider) *Metrics {
	return &Metrics{
		ProposalsSent:    p.NewCounter(proposalsSentOpts),
		ProposalDuration: p.NewHistogram(proposalDurationOpts),
		BlocksReceived:   p.NewCounter(blocksReceivedOpts),
		Reconnects:       p.NewCounter(reconnectsOpts),
		Connected:        p.NewGauge(connectedOpts),
	}
}
