// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package app

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/luxfi/geth/rlp"

	"github.com/luxfi/mevm/types"
)

// payloadVersion stamps V3 (Cancun) payload ids.
const payloadVersion = 0x03

// PayloadIDSource derives the 8-byte payload id announced by
// forkchoiceUpdated. The id must be a pure function of the head and the
// attributes: the same inputs produce the same id on every implementation.
type PayloadIDSource interface {
	PayloadID(head [32]byte, attrs *types.PayloadAttributes) types.PayloadID
}

// StatePayloadID hashes a canonical byte layout: width-fixed fields first,
// then the variable parts (RLP withdrawals, length-prefixed transactions),
// then the gas limit when it is non-zero.
type StatePayloadID struct{}

func (StatePayloadID) PayloadID(head [32]byte, attrs *types.PayloadAttributes) types.PayloadID {
	hasher := sha256.New()
	hasher.Write(head[:])

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(attrs.Timestamp))
	hasher.Write(buf[:])
	hasher.Write(attrs.PrevRandao[:])
	hasher.Write(attrs.SuggestedFeeRecipient[:])
	hasher.Write(attrs.ParentBeaconBlockRoot[:])

	if len(attrs.Withdrawals) > 0 {
		encoded, err := rlp.EncodeToBytes(attrs.Withdrawals)
		if err != nil {
			panic("withdrawals must RLP-encode")
		}
		hasher.Write(encoded)
	}
	if attrs.NoTxPool || len(attrs.Transactions) > 0 {
		if attrs.NoTxPool {
			hasher.Write([]byte{0x01})
		} else {
			hasher.Write([]byte{0x00})
		}
		binary.BigEndian.PutUint64(buf[:], uint64(len(attrs.Transactions)))
		hasher.Write(buf[:])
		for _, tx := range attrs.Transactions {
			binary.BigEndian.PutUint64(buf[:], uint64(len(tx)))
			hasher.Write(buf[:])
			hasher.Write(tx)
		}
	}
	if attrs.GasLimit != 0 {
		binary.BigEndian.PutUint64(buf[:], uint64(attrs.GasLimit))
		hasher.Write(buf[:])
	}

	var id types.PayloadID
	copy(id[:], hasher.Sum(nil)[:8])
	id[0] = payloadVersion
	return id
}

// FixedPayloadID always yields the same id; tests pin the ids their vectors
// expect with it.
type FixedPayloadID struct {
	ID types.PayloadID
}

func (f FixedPayloadID) PayloadID([32]byte, *types.PayloadAttributes) types.PayloadID {
	return f.ID
}
