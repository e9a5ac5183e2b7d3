/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package protoutil

import (
	"github.com/golang/protobuf/proto"
	cb "github.com/hyperledger/fabric-protos-go/common"
	"github.com/pkg/errors"
)

// SignConfigUpdate produces the signature of signer over a marshaled
// ConfigUpdate.
func SignConfigUpdate(configUpdate []byte, signer Signer) (*cb.ConfigSignature, error) {
	if len(configUpdate) == 0 {
		return nil, errors.New("config update is empty")
	}
	sigHdr, err := NewSignatureHeader(signer)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create signature header")
	}
	sigHdrBytes, err := proto.Marshal(sigHdr)
	if err != nil {
		return nil, errors.Wrap(err, "error marshaling SignatureHeader")
	}

	// signatures cover the signature header followed by the update
	msg := make([]byte, 0, len(sigHdrBytes)+len(configUpdate))
	msg = append(msg, sigHdrBytes...)
	msg = append(msg, configUpdate...)
	sig, err := signer.Sign(msg)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to sign config update")
	}

	return &cb.ConfigSignature{
		SignatureHeader: sigHdrBytes,
		Signature:       sig,
	}, nil
}

// CreateConfigUpdateEnvelope wraps a marshaled ConfigUpdate and its
// signatures into a signed CONFIG_UPDATE envelope.
func CreateConfigUpdateEnvelope(channelID string, signer Signer, configUpdate []byte, signatures ...*cb.ConfigSignature) (*cb.Envelope, error) {
	if len(configUpdate) == 0 {
		return nil, errors.New("config update is empty")
	}
	configUpdateEnv := &cb.ConfigUpdateEnvelope{
		ConfigUpdate: configUpdate,
		Signatures:   signatures,
	}
	return CreateSignedEnvelope(cb.HeaderType_CONFIG_UPDATE, channelID, signer, configUpdateEnv, 0, 0)
}

// EnvelopeToConfigUpdate is used to extract a ConfigUpdateEnvelope from an
// envelope.
func EnvelopeToConfigUpdate(configtx *cb.Envelope) (*cb.ConfigUpdateEnvelope, error) {
	configUpdateEnv := &cb.ConfigUpdateEnvelope{}
	_, err := UnmarshalEnvelopeOfType(configtx, cb.HeaderType_CONFIG_UPDATE, configUpdateEnv)
	if err != nil {
		return nil, err
	}
	return configUpdateEnv, nil
}

// ConfigUpdateFromChannelTx extracts the marshaled ConfigUpdate from a
// channel creation transaction file (as written by configtxgen).
func ConfigUpdateFromChannelTx(txBytes []byte) ([]byte, error) {
	env, err := UnmarshalEnvelope(txBytes)
	if err != nil {
		return nil, err
	}
	configUpdateEnv, err := EnvelopeToConfigUpdate(env)
	if err != nil {
		return nil, errors.WithMessage(err, "channel transaction is not a config update")
	}
	return configUpdateEnv.ConfigUpdate, nil
}
