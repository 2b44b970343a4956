// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package blockchain holds the chain data structures and the block builder:
// append-only block, transaction and receipt repositories with hash and
// height indexes, and the production pipeline driving the executor.
package blockchain

import (
	"errors"
	"fmt"

	"github.com/luxfi/geth/common"

	"github.com/luxfi/mevm/types"
)

var (
	ErrUnknownParent  = errors.New("parent block not found")
	ErrDuplicateBlock = errors.New("block already inserted")
	ErrHeightOccupied = errors.New("height already occupied by another block")
)

// BlockRepository is the append-only block store. A single canonical chain
// is maintained: one block per height, blocks are never replaced.
type BlockRepository struct {
	byHash   map[common.Hash]*types.ExtendedBlock
	byHeight map[uint64]common.Hash
	latest   common.Hash
}

func NewBlockRepository() *BlockRepository {
	return &BlockRepository{
		byHash:   make(map[common.Hash]*types.ExtendedBlock),
		byHeight: make(map[uint64]common.Hash),
	}
}

// Add inserts a sealed block.
func (r *BlockRepository) Add(block *types.ExtendedBlock) error {
	if _, ok := r.byHash[block.Hash]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateBlock, block.Hash)
	}
	height := block.Number()
	if existing, ok := r.byHeight[height]; ok && existing != block.Hash {
		return fmt.Errorf("%w: height %d", ErrHeightOccupied, height)
	}
	r.byHash[block.Hash] = block
	r.byHeight[height] = block.Hash
	if latest, ok := r.byHash[r.latest]; !ok || height >= latest.Number() {
		r.latest = block.Hash
	}
	return nil
}

// ByHash returns the block with the given hash, nil when unknown.
func (r *BlockRepository) ByHash(hash common.Hash) *types.ExtendedBlock {
	return r.byHash[hash]
}

// ByHeight returns the canonical block at the given height, nil when absent.
func (r *BlockRepository) ByHeight(height uint64) *types.ExtendedBlock {
	hash, ok := r.byHeight[height]
	if !ok {
		return nil
	}
	return r.byHash[hash]
}

// Latest returns the highest inserted block, nil when empty.
func (r *BlockRepository) Latest() *types.ExtendedBlock {
	return r.byHash[r.latest]
}

// TxLookup locates a transaction inside a block.
type TxLookup struct {
	BlockHash common.Hash
	Index     uint64
}

// TransactionRepository indexes transactions by (block, index) with a
// secondary index by hash.
type TransactionRepository struct {
	byBlock map[common.Hash][]*types.ExtendedTxEnvelope
	lookup  map[common.Hash]TxLookup
}

func NewTransactionRepository() *TransactionRepository {
	return &TransactionRepository{
		byBlock: make(map[common.Hash][]*types.ExtendedTxEnvelope),
		lookup:  make(map[common.Hash]TxLookup),
	}
}

// AddBlock records the ordered transactions of one block.
func (r *TransactionRepository) AddBlock(blockHash common.Hash, txs types.TxEnvelopes) {
	r.byBlock[blockHash] = txs
	for i, tx := range txs {
		r.lookup[tx.Hash()] = TxLookup{BlockHash: blockHash, Index: uint64(i)}
	}
}

// ByTxHash resolves a transaction and its position.
func (r *TransactionRepository) ByTxHash(hash common.Hash) (*types.ExtendedTxEnvelope, TxLookup, bool) {
	lookup, ok := r.lookup[hash]
	if !ok {
		return nil, TxLookup{}, false
	}
	return r.byBlock[lookup.BlockHash][lookup.Index], lookup, true
}

// ReceiptRepository stores receipts keyed by transaction hash, with the
// per-block list retained in execution order.
type ReceiptRepository struct {
	byTxHash map[common.Hash]*types.Receipt
	byBlock  map[common.Hash]types.Receipts
}

func NewReceiptRepository() *ReceiptRepository {
	return &ReceiptRepository{
		byTxHash: make(map[common.Hash]*types.Receipt),
		byBlock:  make(map[common.Hash]types.Receipts),
	}
}

// AddBlock records the receipts of one block.
func (r *ReceiptRepository) AddBlock(blockHash common.Hash, receipts types.Receipts) {
	r.byBlock[blockHash] = receipts
	for _, receipt := range receipts {
		r.byTxHash[receipt.TxHash] = receipt
	}
}

// ByTxHash returns the receipt of a transaction, nil when unknown.
func (r *ReceiptRepository) ByTxHash(hash common.Hash) *types.Receipt {
	return r.byTxHash[hash]
}

// Has reports whether a receipt exists for the transaction hash. The block
// builder uses it to drop already-processed transactions.
func (r *ReceiptRepository) Has(hash common.Hash) bool {
	_, ok := r.byTxHash[hash]
	return ok
}

// ByBlock returns the ordered receipts of a block.
func (r *ReceiptRepository) ByBlock(blockHash common.Hash) types.Receipts {
	return r.byBlock[blockHash]
}
