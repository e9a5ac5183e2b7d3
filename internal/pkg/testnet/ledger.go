/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package testnet

import (
	"crypto/sha256"
	"sync"

	"github.com/golang/protobuf/proto"
	cb "github.com/hyperledger/fabric-protos-go/common"
	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/tebon/fabrictest/protoutil"
)

// ledger is the append-only block list of one channel.
type ledger struct {
	mutex      sync.Mutex
	blocks     []*cb.Block
	lastConfig uint64
	appended   chan struct{}
}

func newLedger(genesis *cb.Block) *ledger {
	return &ledger{
		blocks:   []*cb.Block{genesis},
		appended: make(chan struct{}),
	}
}

func (l *ledger) height() uint64 {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return uint64(len(l.blocks))
}

// block returns block n, or nil and a channel closed on the next append.
func (l *ledger) block(n uint64) (*cb.Block, <-chan struct{}) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if n < uint64(len(l.blocks)) {
		return l.blocks[n], nil
	}
	return nil, l.appended
}

func (l *ledger) append(envelopes []*cb.Envelope, config bool) *cb.Block {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	prev := l.blocks[len(l.blocks)-1]
	block := protoutil.NewBlock(uint64(len(l.blocks)), headerHash(prev.Header))
	for _, env := range envelopes {
		block.Data.Data = append(block.Data.Data, protoutil.MarshalOrPanic(env))
	}
	if config {
		l.lastConfig = block.Header.Number
	}
	setLastConfig(block, l.lastConfig)

	l.blocks = append(l.blocks, block)
	close(l.appended)
	l.appended = make(chan struct{})
	return block
}

func (l *ledger) info() *cb.BlockchainInfo {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	last := l.blocks[len(l.blocks)-1]
	return &cb.BlockchainInfo{
		Height:            uint64(len(l.blocks)),
		CurrentBlockHash:  headerHash(last.Header),
		PreviousBlockHash: last.Header.PreviousHash,
	}
}

func headerHash(h *cb.BlockHeader) []byte {
	sum := sha256.Sum256(protoutil.MarshalOrPanic(h))
	return sum[:]
}

func setLastConfig(block *cb.Block, index uint64) {
	block.Metadata.Metadata[cb.BlockMetadataIndex_SIGNATURES] = protoutil.MarshalOrPanic(&cb.Metadata{
		Value: protoutil.MarshalOrPanic(&cb.OrdererBlockMetadata{
			LastConfig: &cb.LastConfig{Index: index},
		}),
	})
}

// filterBlock reduces a block to the transaction IDs and types peers send
// on filtered deliver streams.
func filterBlock(channelID string, block *cb.Block) *pb.FilteredBlock {
	fb := &pb.FilteredBlock{
		ChannelId: channelID,
		Number:    block.Header.Number,
	}
	for _, data := range block.Data.Data {
		env := &cb.Envelope{}
		if err := proto.Unmarshal(data, env); err != nil {
			continue
		}
		chdr, err := protoutil.ChannelHeader(env)
		if err != nil {
			continue
		}
		fb.FilteredTransactions = append(fb.FilteredTransactions, &pb.FilteredTransaction{
			Txid:             chdr.TxId,
			Type:             cb.HeaderType(chdr.Type),
			TxValidationCode: pb.TxValidationCode_VALID,
		})
	}
	return fb
}
