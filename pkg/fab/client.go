/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package fab is a client for a Fabric network: it reaches peers, orderers
// and event hubs over gRPC and groups them into channels.
package fab

import (
	"context"
	"os"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/hyperledger/fabric-lib-go/bccsp"
	"github.com/hyperledger/fabric-lib-go/common/flogging"
	"github.com/hyperledger/fabric-lib-go/common/metrics"
	"github.com/hyperledger/fabric-lib-go/common/metrics/disabled"
	cb "github.com/hyperledger/fabric-protos-go/common"
	"github.com/pkg/errors"
	"github.com/tebon/fabrictest/internal/pkg/comm"
	"github.com/tebon/fabrictest/pkg/properties"
	"github.com/tebon/fabrictest/pkg/user"
	"github.com/tebon/fabrictest/protoutil"
)

var logger = flogging.MustGetLogger("fab")

// DefaultProposalWaitTime bounds how long a peer may take to endorse.
const DefaultProposalWaitTime = 20 * time.Second

// Client creates endpoints and channels on behalf of a user context.
type Client struct {
	csp     bccsp.BCCSP
	base    comm.ClientConfig
	metrics *Metrics
	clock   clock.Clock

	mutex       sync.RWMutex
	userContext *user.User
	channels    map[string]*Channel
}

// Option configures a Client.
type Option func(*Client)

// WithClientConfig sets the gRPC configuration endpoint properties are
// applied to.
func WithClientConfig(cc comm.ClientConfig) Option {
	return func(c *Client) {
		c.base = cc.Clone()
	}
}

// WithMetricsProvider reports client metrics to provider.
func WithMetricsProvider(provider metrics.Provider) Option {
	return func(c *Client) {
		c.metrics = NewMetrics(provider)
		c.base.Interceptors = comm.NewClientInterceptors(flogging.MustGetLogger("fab.grpc"), provider)
	}
}

// WithClock replaces the clock used for event hub reconnects.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) {
		c.clock = clk
	}
}

// NewClient creates a client that uses csp for its cryptographic operations.
func NewClient(csp bccsp.BCCSP, opts ...Option) (*Client, error) {
	if csp == nil {
		return nil, errors.New("crypto suite is required")
	}
	c := &Client{
		csp: csp,
		base: comm.ClientConfig{
			KaOpts:      comm.DefaultKeepaliveOptions,
			DialTimeout: comm.DefaultConnectionTimeout,
		},
		metrics:  NewMetrics(&disabled.Provider{}),
		clock:    clock.NewClock(),
		channels: map[string]*Channel{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CryptoSuite returns the client's crypto suite.
func (c *Client) CryptoSuite() bccsp.BCCSP {
	return c.csp
}

// SetUserContext sets the identity the client signs requests with.
func (c *Client) SetUserContext(u *user.User) error {
	if err := u.Validate(); err != nil {
		return errors.WithMessage(err, "invalid user context")
	}
	c.mutex.Lock()
	c.userContext = u
	c.mutex.Unlock()
	logger.Debugf("User context set to %s (%s)", u.Name, u.MSPID)
	return nil
}

// UserContext returns the identity the client signs requests with.
func (c *Client) UserContext() *user.User {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.userContext
}

func (c *Client) requireUserContext() (*user.User, error) {
	u := c.UserContext()
	if u == nil {
		return nil, errors.New("user context must be set on the client")
	}
	return u, nil
}

func (c *Client) newEndpoint(kind, name, url string, props properties.Properties) (*endpoint, error) {
	if name == "" {
		return nil, errors.Errorf("%s name is required", kind)
	}
	if props == nil {
		props = properties.New()
	}
	address, cc, err := comm.ClientConfigFromProperties(url, props, c.base)
	if err != nil {
		return nil, errors.WithMessagef(err, "invalid %s %s", kind, name)
	}
	gc, err := comm.NewGRPCClient(cc)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create gRPC client for %s %s", kind, name)
	}
	return &endpoint{
		kind:    kind,
		name:    name,
		url:     url,
		address: address,
		props:   props.Clone(),
		client:  gc,
	}, nil
}

// NewPeer describes the peer name reachable at url.
func (c *Client) NewPeer(name, url string, props properties.Properties) (*Peer, error) {
	ep, err := c.newEndpoint("peer", name, url, props)
	if err != nil {
		return nil, err
	}
	return &Peer{endpoint: ep}, nil
}

// NewOrderer describes the orderer name reachable at url.
func (c *Client) NewOrderer(name, url string, props properties.Properties) (*Orderer, error) {
	ep, err := c.newEndpoint("orderer", name, url, props)
	if err != nil {
		return nil, err
	}
	return &Orderer{endpoint: ep}, nil
}

// NewEventHub describes the event hub name reachable at url.
func (c *Client) NewEventHub(name, url string, props properties.Properties) (*EventHub, error) {
	ep, err := c.newEndpoint("event hub", name, url, props)
	if err != nil {
		return nil, err
	}
	return newEventHub(ep, c.clock, c.metrics), nil
}

// NewChannel creates an empty channel. Channel names are unique per client.
func (c *Client) NewChannel(name string) (*Channel, error) {
	if name == "" {
		return nil, errors.New("channel name is required")
	}
	if _, err := c.requireUserContext(); err != nil {
		return nil, err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	if _, exists := c.channels[name]; exists {
		return nil, errors.Errorf("channel %s already exists", name)
	}
	ch := newChannel(name, c)
	c.channels[name] = ch
	logger.Debugf("Created channel %s", name)
	return ch, nil
}

// Channel returns the named channel or nil.
func (c *Client) Channel(name string) *Channel {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.channels[name]
}

func (c *Client) removeChannel(name string) {
	c.mutex.Lock()
	delete(c.channels, name)
	c.mutex.Unlock()
}

// NewTransactionProposalRequest returns a request with default settings.
func (c *Client) NewTransactionProposalRequest() *TransactionProposalRequest {
	return &TransactionProposalRequest{ProposalWaitTime: DefaultProposalWaitTime}
}

// ChannelConfiguration is the config update that creates a channel.
type ChannelConfiguration struct {
	update []byte
}

// NewChannelConfiguration reads a channel creation transaction as written
// by configtxgen.
func NewChannelConfiguration(txBytes []byte) (*ChannelConfiguration, error) {
	update, err := protoutil.ConfigUpdateFromChannelTx(txBytes)
	if err != nil {
		return nil, err
	}
	return &ChannelConfiguration{update: update}, nil
}

// NewChannelConfigurationFromFile reads a channel creation transaction file.
func NewChannelConfigurationFromFile(path string) (*ChannelConfiguration, error) {
	txBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read channel configuration %s", path)
	}
	return NewChannelConfiguration(txBytes)
}

// ConfigUpdate returns the marshaled common.ConfigUpdate.
func (cc *ChannelConfiguration) ConfigUpdate() []byte {
	return cc.update
}

// ChannelConfigurationSignature signs a channel configuration as signer.
func (c *Client) ChannelConfigurationSignature(cfg *ChannelConfiguration, signer *user.User) (*cb.ConfigSignature, error) {
	if cfg == nil {
		return nil, errors.New("channel configuration is required")
	}
	if err := signer.Validate(); err != nil {
		return nil, errors.WithMessage(err, "invalid signer")
	}
	return protoutil.SignConfigUpdate(cfg.update, signer)
}

// CreateChannel submits the channel configuration to orderer and returns
// the new channel with orderer added.
func (c *Client) CreateChannel(ctx context.Context, name string, orderer *Orderer, cfg *ChannelConfiguration, signatures ...*cb.ConfigSignature) (*Channel, error) {
	if cfg == nil {
		return nil, errors.New("channel configuration is required")
	}
	if orderer == nil {
		return nil, errors.New("orderer is required")
	}
	u, err := c.requireUserContext()
	if err != nil {
		return nil, err
	}
	if c.Channel(name) != nil {
		return nil, errors.Errorf("channel %s already exists", name)
	}

	env, err := protoutil.CreateConfigUpdateEnvelope(name, u, cfg.update, signatures...)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create config update for channel %s", name)
	}
	if err := orderer.Broadcast(ctx, env); err != nil {
		return nil, errors.WithMessagef(err, "failed to create channel %s", name)
	}
	logger.Infof("Channel %s created by orderer %s", name, orderer.Name())

	ch, err := c.NewChannel(name)
	if err != nil {
		return nil, err
	}
	if err := ch.AddOrderer(orderer); err != nil {
		return nil, err
	}
	return ch, nil
}
