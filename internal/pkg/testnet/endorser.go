/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package testnet

import (
	"context"
	"fmt"

	"github.com/golang/protobuf/proto"
	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/tebon/fabrictest/protoutil"
)

type endorser struct {
	network *Network
}

func (e *endorser) ProcessProposal(ctx context.Context, sp *pb.SignedProposal) (*pb.ProposalResponse, error) {
	prop := &pb.Proposal{}
	if err := proto.Unmarshal(sp.ProposalBytes, prop); err != nil {
		return errorResponse(400, "invalid proposal: %s", err), nil
	}
	chdr, _, cpp, cis, err := protoutil.UnpackProposal(prop)
	if err != nil {
		return errorResponse(400, "invalid proposal: %s", err), nil
	}
	spec := cis.GetChaincodeSpec()
	if spec.GetChaincodeId() == nil {
		return errorResponse(400, "proposal names no chaincode"), nil
	}
	args := spec.GetInput().GetArgs()

	var resp *pb.Response
	switch name := spec.ChaincodeId.Name; name {
	case "cscc":
		resp = e.network.cscc(args)
	case "qscc":
		resp = e.network.qscc(args)
	default:
		n := e.network
		n.mutex.Lock()
		n.invocations = append(n.invocations, Invocation{
			ChannelID: chdr.ChannelId,
			TxID:      chdr.TxId,
			Chaincode: name,
			Args:      args,
			Transient: cpp.TransientMap,
		})
		handler := n.handler
		n.mutex.Unlock()
		if handler != nil {
			resp = handler(chdr.ChannelId, name, args)
		} else {
			resp = n.invokeChaincode(chdr.ChannelId, name, chdr.TxId, args)
		}
	}

	hash, err := protoutil.GetProposalHash(prop)
	if err != nil {
		return errorResponse(500, "failed to hash proposal: %s", err), nil
	}
	payload := protoutil.MarshalOrPanic(&pb.ProposalResponsePayload{
		ProposalHash: hash,
		Extension:    protoutil.MarshalOrPanic(&pb.ChaincodeAction{Response: resp}),
	})

	pr := &pb.ProposalResponse{
		Version:  1,
		Response: resp,
		Payload:  payload,
	}
	if resp.Status < 400 {
		pr.Endorsement = &pb.Endorsement{
			Endorser:  []byte(e.network.Address()),
			Signature: []byte("endorsed"),
		}
	}
	return pr, nil
}

func errorResponse(code int32, format string, args ...interface{}) *pb.ProposalResponse {
	return &pb.ProposalResponse{
		Response: &pb.Response{Status: code, Message: fmt.Sprintf(format, args...)},
	}
}

func (n *Network) cscc(args [][]byte) *pb.Response {
	if len(args) < 2 || string(args[0]) != "JoinChain" {
		return &pb.Response{Status: 400, Message: "unsupported cscc request"}
	}
	block, err := protoutil.UnmarshalBlock(args[1])
	if err != nil {
		return &pb.Response{Status: 400, Message: err.Error()}
	}
	channelID, err := protoutil.GetChannelIDFromBlock(block)
	if err != nil {
		return &pb.Response{Status: 400, Message: err.Error()}
	}

	n.mutex.Lock()
	defer n.mutex.Unlock()
	if n.joined[channelID] {
		return &pb.Response{Status: 500, Message: fmt.Sprintf("cannot create ledger from genesis block: ledger [%s] already exists with state [ACTIVE]", channelID)}
	}
	if _, ok := n.ledgers[channelID]; !ok {
		n.ledgers[channelID] = newLedger(block)
	}
	n.joined[channelID] = true
	logger.Debugf("Joined channel %s", channelID)
	return &pb.Response{Status: 200}
}

func (n *Network) qscc(args [][]byte) *pb.Response {
	if len(args) < 2 || string(args[0]) != "GetChainInfo" {
		return &pb.Response{Status: 400, Message: "unsupported qscc request"}
	}
	channelID := string(args[1])
	l := n.ledger(channelID)
	if l == nil || !n.Joined(channelID) {
		return &pb.Response{Status: 500, Message: fmt.Sprintf("failed to get ledger for channel %s", channelID)}
	}
	return &pb.Response{Status: 200, Payload: protoutil.MarshalOrPanic(l.info())}
}
