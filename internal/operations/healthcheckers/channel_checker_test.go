/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package healthcheckers

import (
	"context"
	"testing"
	"time"

	cb "github.com/hyperledger/fabric-protos-go/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	initialized bool
	shutdown    bool
	connected   bool
	queryErr    error
	queries     int
}

func (f *fakeChannel) Name() string                { return "cwjtestcc" }
func (f *fakeChannel) IsInitialized() bool         { return f.initialized }
func (f *fakeChannel) IsShutdown() bool            { return f.shutdown }
func (f *fakeChannel) EventSourcesConnected() bool { return f.connected }

func (f *fakeChannel) QueryBlockchainInfo(ctx context.Context) (*cb.BlockchainInfo, error) {
	f.queries++
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("no deadline")
	}
	return &cb.BlockchainInfo{Height: 1}, f.queryErr
}

func TestChannelChecker(t *testing.T) {
	tests := []struct {
		name    string
		channel *fakeChannel
		timeout time.Duration
		errMsg  string
		queries int
	}{
		{name: "healthy", channel: &fakeChannel{initialized: true, connected: true}},
		{name: "healthy with query", channel: &fakeChannel{initialized: true, connected: true}, timeout: time.Second, queries: 1},
		{name: "shutdown", channel: &fakeChannel{initialized: true, shutdown: true}, errMsg: "channel cwjtestcc has been shutdown"},
		{name: "not initialized", channel: &fakeChannel{connected: true}, errMsg: "channel cwjtestcc is not initialized"},
		{name: "disconnected", channel: &fakeChannel{initialized: true}, errMsg: "channel cwjtestcc has disconnected event sources"},
		{
			name:    "query failure",
			channel: &fakeChannel{initialized: true, connected: true, queryErr: errors.New("peer down")},
			timeout: time.Second,
			errMsg:  "channel cwjtestcc ledger query failed: peer down",
			queries: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewChannelChecker(tt.channel, tt.timeout).HealthCheck(context.Background())
			if tt.errMsg == "" {
				require.NoError(t, err)
			} else {
				require.EqualError(t, err, tt.errMsg)
			}
			require.Equal(t, tt.queries, tt.channel.queries)
		})
	}
}
