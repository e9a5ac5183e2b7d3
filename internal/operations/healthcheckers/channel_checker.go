/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package healthcheckers

import (
	"context"
	"time"

	cb "github.com/hyperledger/fabric-protos-go/common"
	"github.com/pkg/errors"
)

// Channel is the part of fab.Channel the checker needs.
type Channel interface {
	Name() string
	IsInitialized() bool
	IsShutdown() bool
	EventSourcesConnected() bool
	QueryBlockchainInfo(ctx context.Context) (*cb.BlockchainInfo, error)
}

// ChannelChecker reports a channel unhealthy when it is not initialized, has
// been shut down or has lost an event stream. With a non-zero query timeout
// it also asks the ledger query peers for the chain height.
type ChannelChecker struct {
	channel      Channel
	queryTimeout time.Duration
}

func NewChannelChecker(channel Channel, queryTimeout time.Duration) *ChannelChecker {
	return &ChannelChecker{
		channel:      channel,
		queryTimeout: queryTimeout,
	}
}

func (c *ChannelChecker) HealthCheck(ctx context.Context) error {
	name := c.channel.Name()
	switch {
	case c.channel.IsShutdown():
		return errors.Errorf("channel %s has been shutdown", name)
	case !c.channel.IsInitialized():
		return errors.Errorf("channel %s is not initialized", name)
	case !c.channel.EventSourcesConnected():
		return errors.Errorf("channel %s has disconnected event sources", name)
	}

	if c.queryTimeout <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()
	if _, err := c.channel.QueryBlockchainInfo(ctx); err != nil {
		return errors.WithMessagef(err, "channel %s ledger query failed", name)
	}
	return nil
}
