/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package scenario

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/tebon/fabrictest/internal/config"
	"github.com/tebon/fabrictest/pkg/fab"
)

// ProposalRequest returns the configured chaincode invocation.
func ProposalRequest(client *fab.Client, cc config.Chaincode, wait time.Duration) *fab.TransactionProposalRequest {
	req := client.NewTransactionProposalRequest()
	req.ChaincodeName = cc.Name
	req.ChaincodeVersion = cc.Version
	req.ChaincodePath = cc.Path
	req.Fcn = cc.Fcn
	req.Args = append([]string(nil), cc.Args...)
	req.ProposalWaitTime = wait
	return req
}

// Invoke sends req to every peer of the channel and splits the responses
// into successful and failed ones.
func Invoke(ctx context.Context, ch *fab.Channel, req *fab.TransactionProposalRequest) (successful, failed []*fab.ProposalResponse, err error) {
	logger.Infof("Sending transaction proposal to all peers with arguments: %s(%v)", req.Fcn, req.Args)

	responses, err := ch.SendTransactionProposal(ctx, req, ch.Peers())
	if err != nil {
		return nil, nil, err
	}
	for _, resp := range responses {
		if resp.Status == fab.ResponseSuccess {
			logger.Infof("Successful transaction proposal response Txid: %s from peer %s", resp.TxID, resp.Peer.Name())
			successful = append(successful, resp)
			continue
		}
		logger.Warningf("Failed transaction proposal response from peer %s: %s", resp.Peer.Name(), resp.Message)
		failed = append(failed, resp)
	}
	return successful, failed, nil
}

// RequireEndorsed fails unless every response succeeded.
func RequireEndorsed(successful, failed []*fab.ProposalResponse) error {
	if len(failed) == 0 && len(successful) > 0 {
		return nil
	}
	if len(failed) == 0 {
		return errors.New("no proposal responses received")
	}
	first := failed[0]
	return errors.Errorf("received %d failed proposal responses; first from peer %s: %s", len(failed), first.Peer.Name(), first.Message)
}
