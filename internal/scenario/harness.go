/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package scenario

import (
	"context"

	"code.cloudfoundry.org/clock"
	"github.com/hyperledger/fabric-lib-go/bccsp"
	"github.com/hyperledger/fabric-lib-go/common/metrics"
	"github.com/hyperledger/fabric-lib-go/common/metrics/disabled"
	"github.com/pkg/errors"
	"github.com/tebon/fabrictest/internal/config"
	"github.com/tebon/fabrictest/internal/pkg/comm"
	"github.com/tebon/fabrictest/pkg/ca"
	"github.com/tebon/fabrictest/pkg/cryptosuite"
	"github.com/tebon/fabrictest/pkg/fab"
	"github.com/tebon/fabrictest/pkg/org"
	"github.com/tebon/fabrictest/pkg/store"
)

// Harness holds the long lived objects of a run.
type Harness struct {
	Config  *config.Config
	CSP     bccsp.BCCSP
	Store   *store.Store
	Client  *fab.Client
	Org     *org.Org
	Channel *fab.Channel

	caOptions []ca.Option
}

// Option configures a Harness.
type Option func(*harnessOptions)

type harnessOptions struct {
	provider  metrics.Provider
	clock     clock.Clock
	caOptions []ca.Option
}

// WithMetricsProvider reports CA and client metrics to provider.
func WithMetricsProvider(provider metrics.Provider) Option {
	return func(o *harnessOptions) { o.provider = provider }
}

// WithClock replaces the clock used by event hubs.
func WithClock(clk clock.Clock) Option {
	return func(o *harnessOptions) { o.clock = clk }
}

// WithCAOptions passes options to the CA client.
func WithCAOptions(opts ...ca.Option) Option {
	return func(o *harnessOptions) { o.caOptions = append(o.caOptions, opts...) }
}

// New opens the member store and creates a client for cfg. The crypto
// suite keeps its keys next to the store unless bccsp.keystore is set.
func New(cfg *config.Config, opts ...Option) (*Harness, error) {
	ho := &harnessOptions{provider: &disabled.Provider{}, clock: clock.NewClock()}
	for _, opt := range opts {
		opt(ho)
	}

	storeDir := cfg.Store.Path
	if storeDir == "" {
		storeDir = store.DefaultPath()
	}
	cspOpts := cfg.BCCSP
	if cspOpts.KeyStorePath == "" {
		cspOpts.KeyStorePath = store.KeyStorePath(storeDir)
	}
	csp, err := cryptosuite.New(cspOpts)
	if err != nil {
		return nil, err
	}
	st, err := store.New(storeDir, csp)
	if err != nil {
		return nil, err
	}

	base := comm.ClientConfig{
		KaOpts:      comm.DefaultKeepaliveOptions,
		DialTimeout: cfg.GRPC.DialTimeout,
	}
	client, err := fab.NewClient(csp,
		fab.WithClientConfig(base),
		fab.WithMetricsProvider(ho.provider),
		fab.WithClock(ho.clock),
	)
	if err != nil {
		st.Close()
		return nil, err
	}

	caOptions := append([]ca.Option{ca.WithMetricsProvider(ho.provider)}, ho.caOptions...)
	return &Harness{
		Config:    cfg,
		CSP:       csp,
		Store:     st,
		Client:    client,
		caOptions: caOptions,
	}, nil
}

// SetupOrg runs SetupOrg with the harness configuration.
func (h *Harness) SetupOrg(ctx context.Context) (*org.Org, error) {
	o, err := SetupOrg(ctx, h.Config, h.CSP, h.Store, h.caOptions...)
	if err != nil {
		return nil, err
	}
	h.Org = o
	return o, nil
}

// ConstructChannel builds the configured channel. SetupOrg must have run.
func (h *Harness) ConstructChannel(ctx context.Context) (*fab.Channel, error) {
	if h.Org == nil {
		return nil, errors.New("organization has not been set up")
	}
	ch, err := ConstructChannel(ctx, h.Client, h.Org, ChannelOptionsFromConfig(h.Config))
	if err != nil {
		return nil, err
	}
	h.Channel = ch
	return ch, nil
}

// Run sets up the organization and constructs the channel.
func (h *Harness) Run(ctx context.Context) (*fab.Channel, error) {
	if _, err := h.SetupOrg(ctx); err != nil {
		return nil, err
	}
	return h.ConstructChannel(ctx)
}

// Invoke sends the configured chaincode invocation to every peer.
func (h *Harness) Invoke(ctx context.Context) (successful, failed []*fab.ProposalResponse, err error) {
	if h.Channel == nil {
		return nil, nil, errors.New("channel has not been constructed")
	}
	req := ProposalRequest(h.Client, h.Config.Chaincode, h.Config.Channel.ProposalWaitTime)
	return Invoke(ctx, h.Channel, req)
}

// Close shuts the channel down and closes the store.
func (h *Harness) Close() {
	if h.Channel != nil {
		h.Channel.Shutdown(false)
	}
	h.Store.Close()
}
