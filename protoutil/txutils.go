/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package protoutil

import (
	"github.com/golang/protobuf/proto"
	cb "github.com/hyperledger/fabric-protos-go/common"
	"github.com/hyperledger/fabric-protos-go/peer"
	"github.com/pkg/errors"
)

// CreateSignedEnvelope creates a signed envelope of the desired type, with
// marshaled dataMsg and signs it
func CreateSignedEnvelope(
	txType cb.HeaderType,
	channelID string,
	signer Signer,
	dataMsg proto.Message,
	msgVersion int32,
	epoch uint64,
) (*cb.Envelope, error) {
	return CreateSignedEnvelopeWithTLSBinding(txType, channelID, signer, dataMsg, msgVersion, epoch, nil)
}

// CreateSignedEnvelopeWithTLSBinding creates a signed envelope of the desired
// type, with marshaled dataMsg and signs it. It also includes a TLS cert hash
// into the channel header
func CreateSignedEnvelopeWithTLSBinding(
	txType cb.HeaderType,
	channelID string,
	signer Signer,
	dataMsg proto.Message,
	msgVersion int32,
	epoch uint64,
	tlsCertHash []byte,
) (*cb.Envelope, error) {
	payloadChannelHeader := MakeChannelHeader(txType, msgVersion, channelID, epoch)
	payloadChannelHeader.TlsCertHash = tlsCertHash
	var err error
	payloadSignatureHeader := &cb.SignatureHeader{}

	if signer != nil {
		payloadSignatureHeader, err = NewSignatureHeader(signer)
		if err != nil {
			return nil, err
		}
	}

	data, err := proto.Marshal(dataMsg)
	if err != nil {
		return nil, errors.Wrap(err, "error marshaling")
	}

	paylBytes := MarshalOrPanic(
		&cb.Payload{
			Header: MakePayloadHeader(payloadChannelHeader, payloadSignatureHeader),
			Data:   data,
		},
	)

	var sig []byte
	if signer != nil {
		sig, err = signer.Sign(paylBytes)
		if err != nil {
			return nil, err
		}
	}

	env := &cb.Envelope{
		Payload:   paylBytes,
		Signature: sig,
	}

	return env, nil
}

// GetPayloads gets the underlying payload objects in a TransactionAction
func GetPayloads(txActions *peer.TransactionAction) (*peer.ChaincodeActionPayload, *peer.ChaincodeAction, error) {
	ccPayload := &peer.ChaincodeActionPayload{}
	if err := proto.Unmarshal(txActions.Payload, ccPayload); err != nil {
		return nil, nil, errors.Wrap(err, "error unmarshaling ChaincodeActionPayload")
	}

	if ccPayload.Action == nil || ccPayload.Action.ProposalResponsePayload == nil {
		return nil, nil, errors.New("no payload in ChaincodeActionPayload")
	}
	pRespPayload := &peer.ProposalResponsePayload{}
	if err := proto.Unmarshal(ccPayload.Action.ProposalResponsePayload, pRespPayload); err != nil {
		return nil, nil, errors.Wrap(err, "error unmarshaling ProposalResponsePayload")
	}

	if pRespPayload.Extension == nil {
		return nil, nil, errors.New("response payload is missing extension")
	}

	respPayload := &peer.ChaincodeAction{}
	if err := proto.Unmarshal(pRespPayload.Extension, respPayload); err != nil {
		return ccPayload, nil, errors.Wrap(err, "error unmarshaling ChaincodeAction")
	}
	return ccPayload, respPayload, nil
}

// GetActionFromProposalResponse returns the chaincode action an endorser
// produced for a proposal.
func GetActionFromProposalResponse(resp *peer.ProposalResponse) (*peer.ChaincodeAction, error) {
	if resp == nil || len(resp.Payload) == 0 {
		return nil, errors.New("proposal response carries no payload")
	}
	prp := &peer.ProposalResponsePayload{}
	if err := proto.Unmarshal(resp.Payload, prp); err != nil {
		return nil, errors.Wrap(err, "error unmarshaling ProposalResponsePayload")
	}
	action := &peer.ChaincodeAction{}
	if err := proto.Unmarshal(prp.Extension, action); err != nil {
		return nil, errors.Wrap(err, "error unmarshaling ChaincodeAction")
	}
	return action, nil
}
