/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package fab

import (
	"context"
	"io"

	cb "github.com/hyperledger/fabric-protos-go/common"
	ab "github.com/hyperledger/fabric-protos-go/orderer"
	"github.com/pkg/errors"
	"github.com/tebon/fabrictest/protoutil"
)

// Orderer is an ordering service node.
type Orderer struct {
	*endpoint
}

// Broadcast submits env to the orderer and waits for its acknowledgement.
func (o *Orderer) Broadcast(ctx context.Context, env *cb.Envelope) error {
	conn, err := o.connection(ctx)
	if err != nil {
		return err
	}
	stream, err := ab.NewAtomicBroadcastClient(conn).Broadcast(ctx)
	if err != nil {
		return errors.Wrapf(err, "failed to open broadcast stream to orderer %s", o.name)
	}
	defer stream.CloseSend()

	if err := stream.Send(env); err != nil {
		return errors.Wrapf(err, "failed to send envelope to orderer %s", o.name)
	}
	resp, err := stream.Recv()
	if err != nil {
		return errors.Wrapf(err, "failed to receive broadcast response from orderer %s", o.name)
	}
	if resp.Status != cb.Status_SUCCESS {
		return errors.Errorf("orderer %s rejected envelope: %s %s", o.name, resp.Status, resp.Info)
	}
	return nil
}

// FetchBlock retrieves a single block of channelID from the orderer.
func (o *Orderer) FetchBlock(ctx context.Context, channelID string, signer protoutil.Signer, position *ab.SeekPosition) (*cb.Block, error) {
	env, err := protoutil.SeekSingleEnvelope(channelID, signer, position, o.tlsCertHash())
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create seek request")
	}
	conn, err := o.connection(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stream, err := ab.NewAtomicBroadcastClient(conn).Deliver(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open deliver stream to orderer %s", o.name)
	}
	if err := stream.Send(env); err != nil {
		return nil, errors.Wrapf(err, "failed to send seek request to orderer %s", o.name)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, errors.Wrap(err, "failed to close send direction")
	}

	var block *cb.Block
	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to receive block from orderer %s", o.name)
		}
		switch t := resp.Type.(type) {
		case *ab.DeliverResponse_Block:
			block = t.Block
		case *ab.DeliverResponse_Status:
			if t.Status != cb.Status_SUCCESS {
				return nil, errors.Errorf("orderer %s returned status %s for channel %s", o.name, t.Status, channelID)
			}
			if block == nil {
				return nil, errors.Errorf("orderer %s returned no block for channel %s", o.name, channelID)
			}
			return block, nil
		default:
			return nil, errors.Errorf("unexpected deliver response type %T", t)
		}
	}
	if block == nil {
		return nil, errors.Errorf("orderer %s closed the stream without a block", o.name)
	}
	return block, nil
}

// Close releases the orderer connection.
func (o *Orderer) Close() error {
	return o.close()
}
