/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package fab

import (
	"context"

	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/pkg/errors"
)

// Peer is an endorsing peer.
type Peer struct {
	*endpoint
}

// ProcessProposal sends a signed proposal to the peer for endorsement.
func (p *Peer) ProcessProposal(ctx context.Context, sp *pb.SignedProposal) (*pb.ProposalResponse, error) {
	conn, err := p.connection(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := pb.NewEndorserClient(conn).ProcessProposal(ctx, sp)
	if err != nil {
		return nil, errors.Wrapf(err, "peer %s failed to process proposal", p.name)
	}
	return resp, nil
}

// Close releases the peer connection.
func (p *Peer) Close() error {
	return p.close()
}
