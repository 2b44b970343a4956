// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package types

import (
	"math/big"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
)

// ExtendedBlock is a sealed block together with its hash and the accumulated
// block value (total miner tip). Blocks are immutable once created.
type ExtendedBlock struct {
	Header       *types.Header
	Transactions TxEnvelopes
	Withdrawals  []*types.Withdrawal
	Hash         common.Hash
	Value        *uint256.Int
}

// NewExtendedBlock seals a block. The hash is the keccak256 digest of the
// RLP-encoded header.
func NewExtendedBlock(header *types.Header, txs TxEnvelopes, withdrawals []*types.Withdrawal, value *uint256.Int) *ExtendedBlock {
	if value == nil {
		value = uint256.NewInt(0)
	}
	return &ExtendedBlock{
		Header:       header,
		Transactions: txs,
		Withdrawals:  withdrawals,
		Hash:         header.Hash(),
		Value:        value,
	}
}

// WithHash overrides the block hash that NewExtendedBlock derived from the
// header.
func (b *ExtendedBlock) WithHash(hash common.Hash) *ExtendedBlock {
	b.Hash = hash
	return b
}

// Number is the block height.
func (b *ExtendedBlock) Number() uint64 {
	if b.Header.Number == nil {
		return 0
	}
	return b.Header.Number.Uint64()
}

// GenesisHeader builds the minimal header installed at height zero.
func GenesisHeader(stateRoot common.Hash, gasLimit uint64, baseFee *big.Int, timestamp uint64) *types.Header {
	zero := uint64(0)
	return &types.Header{
		Number:           new(big.Int),
		Root:             stateRoot,
		TxHash:           types.EmptyTxsHash,
		ReceiptHash:      types.EmptyReceiptsHash,
		UncleHash:        types.EmptyUncleHash,
		WithdrawalsHash:  &types.EmptyWithdrawalsHash,
		GasLimit:         gasLimit,
		BaseFee:          baseFee,
		Time:             timestamp,
		Difficulty:       new(big.Int),
		BlobGasUsed:      &zero,
		ExcessBlobGas:    &zero,
		ParentBeaconRoot: &common.Hash{},
	}
}
