/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package protoutil

import (
	"math"

	cb "github.com/hyperledger/fabric-protos-go/common"
	ab "github.com/hyperledger/fabric-protos-go/orderer"
)

// SeekNewest seeks the most recent block.
func SeekNewest() *ab.SeekPosition {
	return &ab.SeekPosition{Type: &ab.SeekPosition_Newest{Newest: &ab.SeekNewest{}}}
}

// SeekOldest seeks the first block of the channel.
func SeekOldest() *ab.SeekPosition {
	return &ab.SeekPosition{Type: &ab.SeekPosition_Oldest{Oldest: &ab.SeekOldest{}}}
}

// SeekSpecified seeks the block with the given number.
func SeekSpecified(number uint64) *ab.SeekPosition {
	return &ab.SeekPosition{Type: &ab.SeekPosition_Specified{Specified: &ab.SeekSpecified{Number: number}}}
}

// SeekMax seeks without an upper bound.
func SeekMax() *ab.SeekPosition {
	return SeekSpecified(math.MaxUint64)
}

// NewSeekInfoEnvelope creates a signed DELIVER_SEEK_INFO envelope for the
// given range.
func NewSeekInfoEnvelope(channelID string, signer Signer, start, stop *ab.SeekPosition, behavior ab.SeekInfo_SeekBehavior, tlsCertHash []byte) (*cb.Envelope, error) {
	seekInfo := &ab.SeekInfo{
		Start:    start,
		Stop:     stop,
		Behavior: behavior,
	}
	return CreateSignedEnvelopeWithTLSBinding(cb.HeaderType_DELIVER_SEEK_INFO, channelID, signer, seekInfo, 0, 0, tlsCertHash)
}

// SeekSingleEnvelope requests exactly one block.
func SeekSingleEnvelope(channelID string, signer Signer, position *ab.SeekPosition, tlsCertHash []byte) (*cb.Envelope, error) {
	return NewSeekInfoEnvelope(channelID, signer, position, position, ab.SeekInfo_BLOCK_UNTIL_READY, tlsCertHash)
}

// SeekFromEnvelope requests every block from position onwards, waiting for
// new blocks as they are committed.
func SeekFromEnvelope(channelID string, signer Signer, position *ab.SeekPosition, tlsCertHash []byte) (*cb.Envelope, error) {
	return NewSeekInfoEnvelope(channelID, signer, position, SeekMax(), ab.SeekInfo_BLOCK_UNTIL_READY, tlsCertHash)
}
