// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package app

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/mevm/execution"
	"github.com/luxfi/mevm/fees"
	"github.com/luxfi/mevm/mvmtypes"
	"github.com/luxfi/mevm/state"
	"github.com/luxfi/mevm/types"
)

// BlockTag selects a height symbolically.
type BlockTag int

const (
	TagLatest BlockTag = iota
	TagEarliest
	TagPending
	TagSafe
	TagFinalized
)

// HeightOrTag is a concrete height or a symbolic tag.
type HeightOrTag struct {
	Height *uint64
	Tag    BlockTag
}

func Height(h uint64) HeightOrTag     { return HeightOrTag{Height: &h} }
func Tagged(tag BlockTag) HeightOrTag { return HeightOrTag{Tag: tag} }

var ErrUnknownHeight = errors.New("no state recorded at height")

// Reader is the read-only view of the application. Queries run on the
// caller's task against historical roots; they never enter the command
// queue.
type Reader struct {
	app *Application
}

// ChainID of the chain.
func (r *Reader) ChainID() uint64 { return r.app.config.ChainID }

// Head returns the current fork-choice head.
func (r *Reader) Head() common.Hash {
	r.app.mu.RLock()
	defer r.app.mu.RUnlock()
	return r.app.head
}

// BlockNumber returns the current chain height.
func (r *Reader) BlockNumber() uint64 {
	r.app.mu.RLock()
	defer r.app.mu.RUnlock()
	return r.app.height
}

// ResolveHeight maps a symbolic height to a concrete one.
func (r *Reader) ResolveHeight(h HeightOrTag) uint64 {
	if h.Height != nil {
		return *h.Height
	}
	switch h.Tag {
	case TagEarliest:
		return 0
	default:
		return r.BlockNumber()
	}
}

func (r *Reader) resolverAt(height uint64) (*state.Resolver, error) {
	r.app.mu.RLock()
	if height >= uint64(len(r.app.heightRoots)) {
		r.app.mu.RUnlock()
		return nil, fmt.Errorf("%w: %d", ErrUnknownHeight, height)
	}
	root := r.app.heightRoots[height]
	r.app.mu.RUnlock()
	return r.app.state.ResolverAt(root)
}

// BalanceAt reads the base-token balance of address at a height.
func (r *Reader) BalanceAt(addr common.Address, height HeightOrTag) (*uint256.Int, error) {
	resolver, err := r.resolverAt(r.ResolveHeight(height))
	if err != nil {
		return nil, err
	}
	return execution.BalanceOf(resolver, mvmtypes.AccountKeyFromAddress(addr))
}

// NonceAt reads the account nonce of address at a height.
func (r *Reader) NonceAt(addr common.Address, height HeightOrTag) (uint64, error) {
	resolver, err := r.resolverAt(r.ResolveHeight(height))
	if err != nil {
		return 0, err
	}
	return execution.NonceOf(resolver, mvmtypes.AccountKeyFromAddress(addr))
}

// ProofAt builds an EIP-1186 proof for address at a height. Only the
// L2-reserved contract window is supported; other addresses yield nil.
func (r *Reader) ProofAt(addr common.Address, slots []common.Hash, height HeightOrTag) (*state.ProofResponse, error) {
	if !types.IsL2ContractAddress(addr) {
		return nil, nil
	}
	resolver, err := r.resolverAt(r.ResolveHeight(height))
	if err != nil {
		return nil, err
	}
	return resolver.Prove(addr, slots)
}

// BlockByHash returns a block by hash, nil when unknown.
func (r *Reader) BlockByHash(hash common.Hash) *types.ExtendedBlock {
	r.app.mu.RLock()
	defer r.app.mu.RUnlock()
	return r.app.blocks.ByHash(hash)
}

// BlockByHeight returns the canonical block at a height, nil when absent.
func (r *Reader) BlockByHeight(height HeightOrTag) *types.ExtendedBlock {
	h := r.ResolveHeight(height)
	r.app.mu.RLock()
	defer r.app.mu.RUnlock()
	return r.app.blocks.ByHeight(h)
}

// TransactionReceipt returns the stored receipt of a transaction, nil when
// unknown.
func (r *Reader) TransactionReceipt(txHash common.Hash) *types.Receipt {
	r.app.mu.RLock()
	defer r.app.mu.RUnlock()
	return r.app.receipts.ByTxHash(txHash)
}

// TransactionByHash resolves a transaction and its block position.
func (r *Reader) TransactionByHash(txHash common.Hash) (*types.ExtendedTxEnvelope, blockchainLookup, bool) {
	r.app.mu.RLock()
	defer r.app.mu.RUnlock()
	tx, lookup, ok := r.app.txs.ByTxHash(txHash)
	return tx, blockchainLookup{BlockHash: lookup.BlockHash, Index: lookup.Index}, ok
}

type blockchainLookup struct {
	BlockHash common.Hash
	Index     uint64
}

// PayloadByID returns the pending payload built under id, nil when unknown.
func (r *Reader) PayloadByID(id types.PayloadID) *types.PayloadResponse {
	r.app.mu.RLock()
	defer r.app.mu.RUnlock()
	return r.app.pendingPayloads[id]
}

// PayloadByBlockHash returns the retained payload of a built block.
func (r *Reader) PayloadByBlockHash(blockHash common.Hash) *types.PayloadResponse {
	r.app.mu.RLock()
	defer r.app.mu.RUnlock()
	return r.app.executionPayloads[blockHash]
}

// Call executes a read-only transaction against the current state and
// returns its output. Nothing is committed.
func (r *Reader) Call(tx *types.NormalizedTx) ([]byte, error) {
	outcome, err := r.simulate(tx)
	if err != nil {
		return nil, err
	}
	if outcome.VMError != nil {
		return nil, outcome.VMError
	}
	return outcome.Output, nil
}

// EstimateGas simulates the transaction and returns the metered gas plus a
// 50% margin.
func (r *Reader) EstimateGas(tx *types.NormalizedTx) (uint64, error) {
	outcome, err := r.simulate(tx)
	if err != nil {
		return 0, err
	}
	if outcome.VMError != nil {
		return 0, outcome.VMError
	}
	return outcome.GasUsed + outcome.GasUsed/2, nil
}

type simulationOutcome struct {
	Output  []byte
	GasUsed uint64
	VMError error
}

func (r *Reader) simulate(tx *types.NormalizedTx) (*simulationOutcome, error) {
	r.app.mu.RLock()
	height := r.app.height
	root := r.app.state.StateRoot()
	baseFee := uint256.NewInt(0)
	if latest := r.app.blocks.Latest(); latest != nil && latest.Header.BaseFee != nil {
		baseFee = uint256.MustFromBig(latest.Header.BaseFee)
	}
	r.app.mu.RUnlock()

	resolver, err := r.app.state.ResolverAt(root)
	if err != nil {
		return nil, err
	}
	// Simulations run with the account's live nonce and free gas.
	nonce, err := execution.NonceOf(resolver, mvmtypes.AccountKeyFromAddress(tx.Signer))
	if err != nil {
		return nil, err
	}
	tx.Nonce = nonce
	if tx.GasLimit == 0 {
		tx.GasLimit = r.app.config.GasLimit
	}
	if tx.MaxFeePerGas == nil {
		tx.MaxFeePerGas = uint256.NewInt(0)
	}
	if tx.MaxPriorityFeePerGas == nil {
		tx.MaxPriorityFeePerGas = uint256.NewInt(0)
	}
	if tx.Value == nil {
		tx.Value = uint256.NewInt(0)
	}
	executor := execution.NewExecutor(r.app.config.ChainID, r.app.config.Treasury, fees.NewL2GasFee(1))
	outcome, err := executor.ExecuteCanonical(execution.CanonicalInput{
		Tx:       tx,
		Resolver: resolver,
		L1Cost:   uint256.NewInt(0),
		L2Input:  fees.L2GasFeeInput{Gas: tx.GasLimit, EffectiveGasPrice: uint256.NewInt(0)},
		Block: execution.BlockContext{
			Number:   height + 1,
			GasLimit: r.app.config.GasLimit,
			BaseFee:  baseFee,
		},
	})
	if err != nil {
		return nil, err
	}
	return &simulationOutcome{Output: outcome.Output, GasUsed: outcome.GasUsed, VMError: outcome.VMError}, nil
}

// FeeHistory summarises recent base fees for eth_feeHistory.
type FeeHistory struct {
	OldestBlock   uint64
	BaseFeePerGas []*uint256.Int
	GasUsedRatio  []float64
}

// FeeHistoryAt walks back blockCount blocks from the newest requested block.
func (r *Reader) FeeHistoryAt(blockCount uint64, newest HeightOrTag) *FeeHistory {
	height := r.ResolveHeight(newest)
	if blockCount == 0 {
		return &FeeHistory{OldestBlock: height}
	}
	start := uint64(0)
	if blockCount <= height {
		start = height - blockCount + 1
	}
	history := &FeeHistory{OldestBlock: start}
	r.app.mu.RLock()
	defer r.app.mu.RUnlock()
	for h := start; h <= height; h++ {
		block := r.app.blocks.ByHeight(h)
		if block == nil {
			break
		}
		baseFee := uint256.NewInt(0)
		if block.Header.BaseFee != nil {
			baseFee = uint256.MustFromBig(block.Header.BaseFee)
		}
		history.BaseFeePerGas = append(history.BaseFeePerGas, baseFee)
		ratio := 0.0
		if block.Header.GasLimit > 0 {
			ratio = float64(block.Header.GasUsed) / float64(block.Header.GasLimit)
		}
		history.GasUsedRatio = append(history.GasUsedRatio, ratio)
	}
	return history
}
