// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package types

import (
	"bytes"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	"github.com/luxfi/geth/rlp"
)

// L1BlockInfo is the slice of the L1 attributes observed when the enclosing
// block was built, recorded into every receipt of the block.
type L1BlockInfo struct {
	L1BaseFee         *uint256.Int
	L1BlobBaseFee     *uint256.Int
	BaseFeeScalar     uint32
	BlobBaseFeeScalar uint32
	L1Fee             *uint256.Int
	L1GasUsed         uint64
}

// Receipt is the execution record of one transaction, extended with the
// lookup metadata the RPC layer serves.
type Receipt struct {
	Type              uint8
	Status            uint64
	CumulativeGasUsed uint64
	Bloom             types.Bloom
	Logs              []*types.Log

	TxHash          common.Hash
	From            common.Address
	To              *common.Address
	ContractAddress *common.Address
	GasUsed         uint64
	L2GasPrice      *uint256.Int
	L1BlockInfo     *L1BlockInfo
	TxIndex         uint64
	// LogOffset counts logs emitted by earlier transactions in the same
	// block; a log's global index is LogOffset plus its position in Logs.
	LogOffset uint64

	BlockHash      common.Hash
	BlockNumber    uint64
	BlockTimestamp uint64
}

// receiptRLP is the consensus portion of a receipt.
type receiptRLP struct {
	Status            uint64
	CumulativeGasUsed uint64
	Bloom             types.Bloom
	Logs              []*types.Log
}

// EncodeConsensus writes the EIP-2718 typed consensus encoding used as a
// receipts-trie leaf.
func (r *Receipt) EncodeConsensus(w *bytes.Buffer) {
	if r.Type != types.LegacyTxType {
		w.WriteByte(r.Type)
	}
	data := receiptRLP{
		Status:            r.Status,
		CumulativeGasUsed: r.CumulativeGasUsed,
		Bloom:             r.Bloom,
		Logs:              r.Logs,
	}
	if err := rlp.Encode(w, &data); err != nil {
		panic(fmt.Sprintf("receipt must RLP-encode: %v", err))
	}
}

// Receipts is an ordered receipt list deriving the receipts root.
type Receipts []*Receipt

func (rs Receipts) Len() int { return len(rs) }

// EncodeIndex writes the consensus encoding of the i-th receipt.
func (rs Receipts) EncodeIndex(i int, w *bytes.Buffer) {
	rs[i].EncodeConsensus(w)
}
