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

// NewBlock constructs a block with no data and no metadata.
func NewBlock(seqNum uint64, previousHash []byte) *cb.Block {
	block := &cb.Block{}
	block.Header = &cb.BlockHeader{
		Number:       seqNum,
		PreviousHash: previousHash,
		DataHash:     []byte{},
	}
	block.Data = &cb.BlockData{}

	var metadataContents [][]byte
	for i := 0; i < len(cb.BlockMetadataIndex_name); i++ {
		metadataContents = append(metadataContents, []byte{})
	}
	block.Metadata = &cb.BlockMetadata{Metadata: metadataContents}

	return block
}

// GetMetadataFromBlock retrieves metadata at the specified index.
func GetMetadataFromBlock(block *cb.Block, index cb.BlockMetadataIndex) (*cb.Metadata, error) {
	if block.Metadata == nil {
		return nil, errors.New("no metadata in block")
	}

	if len(block.Metadata.Metadata) <= int(index) {
		return nil, errors.Errorf("no metadata at index [%s]", index)
	}

	md := &cb.Metadata{}
	err := proto.Unmarshal(block.Metadata.Metadata[index], md)
	if err != nil {
		return nil, errors.Wrapf(err, "error unmarshaling metadata at index [%s]", index)
	}
	return md, nil
}

// GetLastConfigIndexFromBlock retrieves the index of the last config block as
// encoded in the block metadata. Blocks cut by 2.x orderers carry it in the
// SIGNATURES slot; older blocks use LAST_CONFIG.
func GetLastConfigIndexFromBlock(block *cb.Block) (uint64, error) {
	m, err := GetMetadataFromBlock(block, cb.BlockMetadataIndex_SIGNATURES)
	if err != nil {
		return 0, errors.WithMessage(err, "failed to retrieve metadata")
	}
	if len(m.Value) > 0 {
		obm := &cb.OrdererBlockMetadata{}
		if err := proto.Unmarshal(m.Value, obm); err != nil {
			return 0, errors.Wrap(err, "failed to unmarshal orderer block metadata")
		}
		if obm.LastConfig != nil {
			return obm.LastConfig.Index, nil
		}
	}

	m, err = GetMetadataFromBlock(block, cb.BlockMetadataIndex_LAST_CONFIG)
	if err != nil {
		return 0, errors.WithMessage(err, "failed to retrieve metadata")
	}
	lc := &cb.LastConfig{}
	if err := proto.Unmarshal(m.Value, lc); err != nil {
		return 0, errors.Wrap(err, "error unmarshaling LastConfig")
	}
	return lc.Index, nil
}

// GetChannelIDFromBlock returns channel ID in the block
func GetChannelIDFromBlock(block *cb.Block) (string, error) {
	if block == nil || block.Data == nil || len(block.Data.Data) == 0 {
		return "", errors.New("failed to retrieve channel id - block is empty")
	}
	envelope, err := ExtractEnvelope(block, 0)
	if err != nil {
		return "", err
	}
	chdr, err := ChannelHeader(envelope)
	if err != nil {
		return "", err
	}
	return chdr.ChannelId, nil
}

// IsConfigBlock validates whenever given block contains configuration
// update transaction
func IsConfigBlock(block *cb.Block) bool {
	if block == nil || block.Data == nil || len(block.Data.Data) != 1 {
		return false
	}

	envelope, err := UnmarshalEnvelope(block.Data.Data[0])
	if err != nil {
		return false
	}
	chdr, err := ChannelHeader(envelope)
	if err != nil {
		return false
	}
	return chdr.Type == int32(cb.HeaderType_CONFIG)
}

// ConfigFromBlock extracts the channel configuration carried by a config
// block.
func ConfigFromBlock(block *cb.Block) (*cb.Config, error) {
	if block == nil || block.Data == nil || len(block.Data.Data) == 0 {
		return nil, errors.New("block is empty")
	}
	envelope, err := ExtractEnvelope(block, 0)
	if err != nil {
		return nil, err
	}
	configEnv := &cb.ConfigEnvelope{}
	if _, err := UnmarshalEnvelopeOfType(envelope, cb.HeaderType_CONFIG, configEnv); err != nil {
		return nil, errors.WithMessagef(err, "block %d is not a config block", block.GetHeader().GetNumber())
	}
	if configEnv.Config == nil {
		return nil, errors.New("config envelope carries no config")
	}
	return configEnv.Config, nil
}
