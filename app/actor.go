// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package app

import (
	"sync"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"

	"github.com/luxfi/mevm/execution"
	"github.com/luxfi/mevm/metrics"
	"github.com/luxfi/mevm/types"
)

// Command is one serialized mutation of the application state.
type Command interface{ kind() string }

// StartBlockBuild asks the actor to build a block from the given payload
// attributes under the given payload id.
type StartBlockBuild struct {
	Attrs *types.PayloadAttributes
	ID    types.PayloadID
}

// AddTransaction inserts a transaction into the mempool.
type AddTransaction struct {
	Tx *types.ExtendedTxEnvelope
}

// UpdateHead moves the fork-choice head.
type UpdateHead struct {
	BlockHash common.Hash
}

// GenesisUpdate installs the genesis block at boot.
type GenesisUpdate struct {
	Block *types.ExtendedBlock
}

// barrier is the internal command behind WaitForPendingCommands.
type barrier struct {
	done chan struct{}
}

func (StartBlockBuild) kind() string { return "start_block_build" }
func (AddTransaction) kind() string  { return "add_transaction" }
func (UpdateHead) kind() string      { return "update_head" }
func (GenesisUpdate) kind() string   { return "genesis_update" }
func (barrier) kind() string         { return "barrier" }

// CommandQueue is the single-consumer channel feeding the actor. Clients
// observe the effects of their writes only after the queue drains past them.
type CommandQueue struct {
	ch        chan Command
	closeOnce sync.Once
}

// NewCommandQueue creates a queue with the given buffer depth.
func NewCommandQueue(depth int) *CommandQueue {
	return &CommandQueue{ch: make(chan Command, depth)}
}

// Send enqueues a command; it blocks only when the buffer is full.
func (q *CommandQueue) Send(cmd Command) {
	q.ch <- cmd
}

// Close stops the actor after the queue drains.
func (q *CommandQueue) Close() {
	q.closeOnce.Do(func() { close(q.ch) })
}

// WaitForPendingCommands blocks until every command enqueued before the call
// has been processed.
func (q *CommandQueue) WaitForPendingCommands() {
	b := barrier{done: make(chan struct{})}
	q.ch <- b
	<-b.done
}

// Actor runs the application's write side on a single cooperative task.
type Actor struct {
	app   *Application
	queue *CommandQueue
	wg    sync.WaitGroup
}

// NewActor binds the application to its command queue.
func NewActor(app *Application, queue *CommandQueue) *Actor {
	return &Actor{app: app, queue: queue}
}

// Start spawns the actor loop. The loop exits cleanly once the queue is
// closed and drained.
func (a *Actor) Start() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for cmd := range a.queue.ch {
			a.handle(cmd)
		}
	}()
}

// Wait blocks until the actor loop has exited.
func (a *Actor) Wait() { a.wg.Wait() }

func (a *Actor) handle(cmd Command) {
	metrics.CommandsProcessed.WithLabelValues(cmd.kind()).Inc()
	switch c := cmd.(type) {
	case StartBlockBuild:
		if err := a.app.StartBlockBuild(c.Attrs, c.ID); err != nil {
			if execution.IsInvariantViolation(err) {
				// The chain state can no longer be trusted.
				log.Crit("invariant violation during block build", "err", err)
			}
			log.Error("block build failed", "payload", c.ID, "err", err)
		}
	case AddTransaction:
		a.app.AddTransaction(c.Tx)
	case UpdateHead:
		a.app.UpdateHead(c.BlockHash)
	case GenesisUpdate:
		if err := a.app.GenesisUpdate(c.Block); err != nil {
			log.Crit("genesis update failed", "err", err)
		}
	case barrier:
		close(c.done)
	}
}
