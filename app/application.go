// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package app assembles the engine: the application controller owning the
// mutable chain handles, the command queue serializing writes onto one actor
// task, and the read-only query layer serving point-in-time state.
package app

import (
	"sort"
	"sync"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"

	"github.com/luxfi/mevm/blockchain"
	"github.com/luxfi/mevm/execution"
	"github.com/luxfi/mevm/fees"
	"github.com/luxfi/mevm/state"
	"github.com/luxfi/mevm/types"
)

// Hooks let tests observe the pipeline without changing it.
type Hooks struct {
	OnPayload func(id types.PayloadID, blockHash common.Hash)
	OnTx      func(txHash common.Hash, outcome *execution.Outcome)
	OnTxBatch func()
}

// Application owns the mutable handles to state, repositories and the
// mempool. All mutations arrive serialized through the actor; reads go
// through the embedded lock so query snapshots never enter the queue.
type Application struct {
	mu sync.RWMutex

	config   blockchain.GenesisConfig
	state    *state.TrieState
	blocks   *blockchain.BlockRepository
	txs      *blockchain.TransactionRepository
	receipts *blockchain.ReceiptRepository
	builder  *blockchain.Builder

	head    common.Hash
	height  uint64
	mempool map[common.Hash]poolEntry
	poolSeq uint64

	// pendingPayloads is keyed by payload id so an out-of-order getPayload
	// still finds its body; executionPayloads retains every built payload by
	// block hash for newPayload validation.
	pendingPayloads   map[types.PayloadID]*types.PayloadResponse
	executionPayloads map[common.Hash]*types.PayloadResponse

	// heightRoots records the state root after every block, indexed by
	// height, for historical queries.
	heightRoots []common.Hash

	hooks Hooks
}

// NewApplication wires the controller over freshly created handles.
func NewApplication(config blockchain.GenesisConfig, st *state.TrieState, hooks Hooks) *Application {
	app := &Application{
		config:            config,
		state:             st,
		blocks:            blockchain.NewBlockRepository(),
		txs:               blockchain.NewTransactionRepository(),
		receipts:          blockchain.NewReceiptRepository(),
		mempool:           make(map[common.Hash]poolEntry),
		pendingPayloads:   make(map[types.PayloadID]*types.PayloadResponse),
		executionPayloads: make(map[common.Hash]*types.PayloadResponse),
		hooks:             hooks,
	}
	app.builder = &blockchain.Builder{
		State:        st,
		Blocks:       app.blocks,
		Transactions: app.txs,
		Receipts:     app.receipts,
		Executor:     execution.NewExecutor(config.ChainID, config.Treasury, fees.NewL2GasFee(1)),
		GasFee:       fees.Eip1559GasFee{},
		OnTx:         hooks.OnTx,
		OnTxBatch:    hooks.OnTxBatch,
	}
	return app
}

// GenesisUpdate seeds the chain at boot: installs the genesis block and tags
// height zero with the current state root.
func (a *Application) GenesisUpdate(block *types.ExtendedBlock) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.blocks.Add(block); err != nil {
		return err
	}
	a.head = block.Hash
	a.height = block.Number()
	a.heightRoots = []common.Hash{a.state.StateRoot()}
	return nil
}

// UpdateHead moves the fork-choice head.
func (a *Application) UpdateHead(blockHash common.Hash) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.head = blockHash
}

// poolEntry tags a mempool transaction with its arrival order so draining
// preserves it.
type poolEntry struct {
	tx  blockchain.PoolTx
	seq uint64
}

// AddTransaction inserts a canonical transaction into the mempool. The pool
// is keyed by hash; re-submitting replaces the entry.
func (a *Application) AddTransaction(tx *types.ExtendedTxEnvelope) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.poolSeq++
	a.mempool[tx.Hash()] = poolEntry{
		tx:  blockchain.PoolTx{Envelope: tx, Raw: tx.EncodeBytes()},
		seq: a.poolSeq,
	}
}

// StartBlockBuild drains the mempool, builds a block on the current head and
// retains the payload response under both the payload id and the block hash.
func (a *Application) StartBlockBuild(attrs *types.PayloadAttributes, id types.PayloadID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	entries := make([]poolEntry, 0, len(a.mempool))
	for _, entry := range a.mempool {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	pool := make([]blockchain.PoolTx, len(entries))
	for i, entry := range entries {
		pool[i] = entry.tx
	}
	a.mempool = make(map[common.Hash]poolEntry)

	block, err := a.builder.Build(a.head, attrs, pool)
	if err != nil {
		return err
	}
	a.height = block.Number()
	a.heightRoots = append(a.heightRoots, a.state.StateRoot())

	response := types.PayloadResponseFromBlock(block)
	a.pendingPayloads[id] = response
	a.executionPayloads[block.Hash] = response
	log.Info("built block", "height", block.Number(), "hash", block.Hash, "txs", len(block.Transactions), "payload", id)

	if a.hooks.OnPayload != nil {
		a.hooks.OnPayload(id, block.Hash)
	}
	return nil
}

// Reader returns the read-only view of the application.
func (a *Application) Reader() *Reader { return &Reader{app: a} }
