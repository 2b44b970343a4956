// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package blockchain

import (
	"fmt"
	"math"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	gethtypes "github.com/luxfi/geth/core/types"
	"github.com/luxfi/geth/trie"
	"github.com/luxfi/log"

	"github.com/luxfi/mevm/execution"
	"github.com/luxfi/mevm/fees"
	"github.com/luxfi/mevm/metrics"
	"github.com/luxfi/mevm/state"
	"github.com/luxfi/mevm/types"
)

// PoolTx is a mempool entry: the decoded envelope plus the raw bytes whose
// profile prices the L1 data fee.
type PoolTx struct {
	Envelope *types.ExtendedTxEnvelope
	Raw      []byte
}

// Builder drives the executor over an ordered transaction list and seals
// the result into a block.
type Builder struct {
	State        *state.TrieState
	Blocks       *BlockRepository
	Transactions *TransactionRepository
	Receipts     *ReceiptRepository
	Executor     *execution.Executor
	GasFee       fees.Eip1559GasFee

	// OnTx observes each executed transaction; OnTxBatch runs after the
	// whole list. Tests hook these to watch intermediate state.
	OnTx      func(txHash common.Hash, outcome *execution.Outcome)
	OnTxBatch func()
}

// Build executes the payload against the current head and commits the
// resulting block, receipts and state. Invalid transactions are skipped;
// invariant violations are returned and must abort the node.
func (b *Builder) Build(head common.Hash, attrs *types.PayloadAttributes, pool []PoolTx) (*types.ExtendedBlock, error) {
	defer metrics.BlockBuildDuration.Start()()

	parent := b.Blocks.ByHash(head)
	if parent == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownParent, head)
	}
	height := parent.Number() + 1

	list := b.collectTransactions(attrs, pool)
	parentBaseFee := uint256.NewInt(0)
	if parent.Header.BaseFee != nil {
		parentBaseFee = uint256.MustFromBig(parent.Header.BaseFee)
	}
	baseFee := b.GasFee.BaseFeePerGas(parent.Header.GasLimit, parent.Header.GasUsed, parentBaseFee)

	blockCtx := execution.BlockContext{
		Number:     height,
		Timestamp:  uint64(attrs.Timestamp),
		PrevRandao: attrs.PrevRandao,
		BaseFee:    baseFee,
		GasLimit:   uint64(attrs.GasLimit),
		Coinbase:   attrs.SuggestedFeeRecipient,
	}

	// The L1 fee for the whole block derives from the first deposit's
	// calldata window.
	var l1Fee *fees.L1GasFee
	if len(list) > 0 && list[0].Envelope.IsDeposit() {
		l1Fee = fees.NewL1GasFee(list[0].Envelope.Deposit.Data)
	}

	var (
		included      types.TxEnvelopes
		receipts      types.Receipts
		logsBloom     gethtypes.Bloom
		cumulativeGas uint64
		totalTip      = uint256.NewInt(0)
		logOffset     uint64
		txIndex       uint64
	)
	for _, entry := range list {
		txHash := entry.Envelope.Hash()
		normalized, err := types.NormalizeEnvelope(entry.Envelope)
		if err != nil {
			log.Warn("skipping unsupported transaction", "tx", txHash, "err", err)
			continue
		}
		outcome, err := b.executeOne(entry, normalized, txHash, baseFee, l1Fee, blockCtx)
		if err != nil {
			if execution.IsInvalidTransaction(err) {
				log.Debug("skipping invalid transaction", "tx", txHash, "err", err)
				metrics.TxsSkipped.Inc()
				continue
			}
			return nil, err
		}
		if b.OnTx != nil {
			b.OnTx(txHash, outcome)
		}
		if err := b.State.Apply(outcome.Changes); err != nil {
			return nil, fmt.Errorf("state update failed for transaction %s: %w", txHash, err)
		}
		metrics.TxsExecuted.Inc()

		// Cumulative gas saturates rather than overflowing.
		if cumulativeGas > math.MaxUint64-outcome.GasUsed {
			cumulativeGas = math.MaxUint64
		} else {
			cumulativeGas += outcome.GasUsed
		}

		bloom := gethtypes.BytesToBloom(gethtypes.LogsBloom(outcome.Logs))
		orBloom(&logsBloom, bloom)

		status := uint64(1)
		if outcome.VMError != nil {
			status = 0
		}
		receipt := &types.Receipt{
			Type:              entry.Envelope.Type(),
			Status:            status,
			CumulativeGasUsed: cumulativeGas,
			Bloom:             bloom,
			Logs:              outcome.Logs,
			TxHash:            txHash,
			From:              normalized.Sender(),
			GasUsed:           outcome.GasUsed,
			L2GasPrice:        outcome.L2Price,
			TxIndex:           txIndex,
			LogOffset:         logOffset,
		}
		if normalized.Canonical != nil {
			receipt.To = normalized.Canonical.To
		} else {
			to := normalized.Deposit.To
			receipt.To = &to
		}
		if outcome.Deployment != nil {
			addr := outcome.Deployment.Account.EthAddress()
			receipt.ContractAddress = &addr
		}
		if l1Fee != nil && normalized.Canonical != nil {
			attrs := l1Fee.BlockInfo()
			receipt.L1BlockInfo = &types.L1BlockInfo{
				L1BaseFee:         attrs.BaseFee,
				L1BlobBaseFee:     attrs.BlobBaseFee,
				BaseFeeScalar:     attrs.BaseFeeScalar,
				BlobBaseFeeScalar: attrs.BlobBaseFeeScalar,
				L1Fee:             l1Fee.Fee(entry.Raw),
				L1GasUsed:         fees.RollupDataGas(entry.Raw),
			}
		}
		for i, logEntry := range outcome.Logs {
			logEntry.TxIndex = uint(txIndex)
			logEntry.Index = uint(logOffset) + uint(i)
		}
		logOffset += uint64(len(outcome.Logs))

		tip := new(uint256.Int).Mul(uint256.NewInt(outcome.GasUsed), normalized.TipPerGas(baseFee))
		totalTip.Add(totalTip, tip)

		included = append(included, entry.Envelope)
		receipts = append(receipts, receipt)
		txIndex++
	}
	if b.OnTxBatch != nil {
		b.OnTxBatch()
	}

	withdrawals := attrs.Withdrawals
	if withdrawals == nil {
		withdrawals = []*gethtypes.Withdrawal{}
	}
	txRoot := gethtypes.DeriveSha(included, trie.NewStackTrie(nil))
	receiptsRoot := gethtypes.DeriveSha(receipts, trie.NewStackTrie(nil))
	withdrawalsRoot := gethtypes.DeriveSha(gethtypes.Withdrawals(withdrawals), trie.NewStackTrie(nil))

	zero := uint64(0)
	beaconRoot := attrs.ParentBeaconBlockRoot
	header := &gethtypes.Header{
		ParentHash:       head,
		UncleHash:        gethtypes.EmptyUncleHash,
		Coinbase:         attrs.SuggestedFeeRecipient,
		Root:             b.State.StateRoot(),
		TxHash:           txRoot,
		ReceiptHash:      receiptsRoot,
		Bloom:            logsBloom,
		Difficulty:       new(big.Int),
		Number:           new(big.Int).SetUint64(height),
		GasLimit:         uint64(attrs.GasLimit),
		GasUsed:          cumulativeGas,
		Time:             uint64(attrs.Timestamp),
		MixDigest:        attrs.PrevRandao,
		BaseFee:          baseFee.ToBig(),
		WithdrawalsHash:  &withdrawalsRoot,
		BlobGasUsed:      &zero,
		ExcessBlobGas:    &zero,
		ParentBeaconRoot: &beaconRoot,
	}
	block := types.NewExtendedBlock(header, included, withdrawals, totalTip)

	// Stamp and commit: receipts, transactions, then the block itself.
	for _, receipt := range receipts {
		receipt.BlockHash = block.Hash
		receipt.BlockNumber = height
		receipt.BlockTimestamp = uint64(attrs.Timestamp)
	}
	b.Receipts.AddBlock(block.Hash, receipts)
	b.Transactions.AddBlock(block.Hash, included)
	if err := b.Blocks.Add(block); err != nil {
		return nil, err
	}
	metrics.BlocksBuilt.Inc()
	return block, nil
}

// collectTransactions decodes the injected payload transactions and appends
// the pool, dropping anything that already has a receipt.
func (b *Builder) collectTransactions(attrs *types.PayloadAttributes, pool []PoolTx) []PoolTx {
	list := make([]PoolTx, 0, len(attrs.Transactions)+len(pool))
	for _, raw := range attrs.Transactions {
		envelope, err := types.DecodeTxEnvelope(raw)
		if err != nil {
			log.Warn("failed to decode payload transaction", "err", err)
			continue
		}
		list = append(list, PoolTx{Envelope: envelope, Raw: raw})
	}
	list = append(list, pool...)

	filtered := list[:0]
	for _, entry := range list {
		if b.Receipts.Has(entry.Envelope.Hash()) {
			continue
		}
		filtered = append(filtered, entry)
	}
	return filtered
}

func (b *Builder) executeOne(
	entry PoolTx,
	normalized *types.NormalizedExtendedTx,
	txHash common.Hash,
	baseFee *uint256.Int,
	l1Fee *fees.L1GasFee,
	blockCtx execution.BlockContext,
) (*execution.Outcome, error) {
	resolver, err := b.State.Resolver()
	if err != nil {
		return nil, err
	}
	if normalized.Deposit != nil {
		return b.Executor.ExecuteDeposit(execution.DepositInput{
			Tx:       normalized.Deposit,
			TxHash:   txHash,
			Resolver: resolver,
			Block:    blockCtx,
		})
	}
	return b.Executor.ExecuteCanonical(execution.CanonicalInput{
		Tx:       normalized.Canonical,
		TxHash:   txHash,
		Resolver: resolver,
		L1Cost:   l1Fee.Fee(entry.Raw),
		L2Input: fees.L2GasFeeInput{
			Gas:               normalized.GasLimit(),
			EffectiveGasPrice: normalized.EffectiveGasPrice(baseFee),
		},
		Block: blockCtx,
	})
}

func orBloom(dst *gethtypes.Bloom, src gethtypes.Bloom) {
	for i := range dst {
		dst[i] |= src[i]
	}
}
