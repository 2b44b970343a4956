// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package server

import (
	"encoding/json"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/common/hexutil"

	"github.com/luxfi/mevm/app"
	"github.com/luxfi/mevm/engine"
	"github.com/luxfi/mevm/types"
)

// formattedBlockCacheSize bounds the cache of rendered block bodies; blocks
// are immutable so entries never go stale.
const formattedBlockCacheSize = 256

// EthAPI serves the standard public read methods plus raw transaction
// submission.
type EthAPI struct {
	reader *app.Reader
	queue  *app.CommandQueue
	blocks *lru.Cache[string, interface{}]
}

// NewEthAPI binds the public API to the reader and the command queue.
func NewEthAPI(reader *app.Reader, queue *app.CommandQueue) *EthAPI {
	blocks, _ := lru.New[string, interface{}](formattedBlockCacheSize)
	return &EthAPI{reader: reader, queue: queue, blocks: blocks}
}

func badParams(format string, args ...any) *engine.Error {
	return &engine.Error{Code: engine.CodeInvalidParams, Message: fmt.Sprintf(format, args...)}
}

// Dispatch routes one eth_ method.
func (api *EthAPI) Dispatch(method string, params json.RawMessage) (interface{}, error) {
	var list []json.RawMessage
	if len(params) > 0 {
		if err := json.Unmarshal(params, &list); err != nil {
			return nil, badParams("params must be an array")
		}
	}
	switch method {
	case "eth_chainId":
		return hexutil.Uint64(api.reader.ChainID()), nil
	case "eth_blockNumber":
		return hexutil.Uint64(api.reader.BlockNumber()), nil
	case "eth_getBalance":
		return api.getBalance(list)
	case "eth_getTransactionCount":
		return api.getTransactionCount(list)
	case "eth_getBlockByHash":
		return api.getBlockByHash(list)
	case "eth_getBlockByNumber":
		return api.getBlockByNumber(list)
	case "eth_getTransactionReceipt":
		return api.getTransactionReceipt(list)
	case "eth_getTransactionByHash":
		return api.getTransactionByHash(list)
	case "eth_sendRawTransaction":
		return api.sendRawTransaction(list)
	case "eth_call":
		return api.call(list)
	case "eth_estimateGas":
		return api.estimateGas(list)
	case "eth_feeHistory":
		return api.feeHistory(list)
	case "eth_getProof":
		return api.getProof(list)
	default:
		return nil, &engine.Error{Code: engine.CodeUnknownMethod, Message: "unknown method " + method}
	}
}

// parseHeight accepts a hex quantity or one of the symbolic tags.
func parseHeight(raw json.RawMessage) (app.HeightOrTag, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return app.HeightOrTag{}, badParams("malformed block parameter")
	}
	switch strings.ToLower(text) {
	case "latest":
		return app.Tagged(app.TagLatest), nil
	case "earliest":
		return app.Tagged(app.TagEarliest), nil
	case "pending":
		return app.Tagged(app.TagPending), nil
	case "safe":
		return app.Tagged(app.TagSafe), nil
	case "finalized":
		return app.Tagged(app.TagFinalized), nil
	default:
		height, err := hexutil.DecodeUint64(text)
		if err != nil {
			return app.HeightOrTag{}, badParams("malformed block number %q", text)
		}
		return app.Height(height), nil
	}
}

func (api *EthAPI) getBalance(list []json.RawMessage) (interface{}, error) {
	addr, height, err := addressAndHeight(list)
	if err != nil {
		return nil, err
	}
	balance, err := api.reader.BalanceAt(addr, height)
	if err != nil {
		return nil, err
	}
	return (*hexutil.Big)(balance.ToBig()), nil
}

func (api *EthAPI) getTransactionCount(list []json.RawMessage) (interface{}, error) {
	addr, height, err := addressAndHeight(list)
	if err != nil {
		return nil, err
	}
	nonce, err := api.reader.NonceAt(addr, height)
	if err != nil {
		return nil, err
	}
	return hexutil.Uint64(nonce), nil
}

func addressAndHeight(list []json.RawMessage) (common.Address, app.HeightOrTag, error) {
	if len(list) != 2 {
		return common.Address{}, app.HeightOrTag{}, badParams("expected address and block parameter")
	}
	var addr common.Address
	if err := json.Unmarshal(list[0], &addr); err != nil {
		return common.Address{}, app.HeightOrTag{}, badParams("malformed address")
	}
	height, err := parseHeight(list[1])
	return addr, height, err
}

func (api *EthAPI) getBlockByHash(list []json.RawMessage) (interface{}, error) {
	if len(list) != 2 {
		return nil, badParams("expected block hash and full-transactions flag")
	}
	var hash common.Hash
	if err := json.Unmarshal(list[0], &hash); err != nil {
		return nil, badParams("malformed block hash")
	}
	var full bool
	if err := json.Unmarshal(list[1], &full); err != nil {
		return nil, badParams("malformed full-transactions flag")
	}
	return api.formatBlock(api.reader.BlockByHash(hash), full), nil
}

func (api *EthAPI) getBlockByNumber(list []json.RawMessage) (interface{}, error) {
	if len(list) != 2 {
		return nil, badParams("expected block number and full-transactions flag")
	}
	height, err := parseHeight(list[0])
	if err != nil {
		return nil, err
	}
	var full bool
	if err := json.Unmarshal(list[1], &full); err != nil {
		return nil, badParams("malformed full-transactions flag")
	}
	return api.formatBlock(api.reader.BlockByHeight(height), full), nil
}

// formatBlock renders a block in the standard RPC shape.
func (api *EthAPI) formatBlock(block *types.ExtendedBlock, full bool) interface{} {
	if block == nil {
		return nil
	}
	cacheKey := block.Hash.Hex()
	if full {
		cacheKey += "+txs"
	}
	if cached, ok := api.blocks.Get(cacheKey); ok {
		return cached
	}
	header := block.Header
	out := map[string]interface{}{
		"hash":             block.Hash,
		"parentHash":       header.ParentHash,
		"sha3Uncles":       header.UncleHash,
		"miner":            header.Coinbase,
		"stateRoot":        header.Root,
		"transactionsRoot": header.TxHash,
		"receiptsRoot":     header.ReceiptHash,
		"logsBloom":        hexutil.Bytes(header.Bloom.Bytes()),
		"number":           (*hexutil.Big)(header.Number),
		"gasLimit":         hexutil.Uint64(header.GasLimit),
		"gasUsed":          hexutil.Uint64(header.GasUsed),
		"timestamp":        hexutil.Uint64(header.Time),
		"extraData":        hexutil.Bytes(header.Extra),
		"baseFeePerGas":    (*hexutil.Big)(header.BaseFee),
		"mixHash":          header.MixDigest,
		"nonce":            gethBlockNonce,
		"difficulty":       (*hexutil.Big)(header.Difficulty),
		"uncles":           []common.Hash{},
		"withdrawals":      block.Withdrawals,
	}
	if header.WithdrawalsHash != nil {
		out["withdrawalsRoot"] = *header.WithdrawalsHash
	}
	if header.ParentBeaconRoot != nil {
		out["parentBeaconBlockRoot"] = *header.ParentBeaconRoot
	}
	if full {
		txs := make([]interface{}, len(block.Transactions))
		for i, tx := range block.Transactions {
			txs[i] = api.formatTransaction(tx, block.Hash, block.Number(), uint64(i))
		}
		out["transactions"] = txs
	} else {
		hashes := make([]common.Hash, len(block.Transactions))
		for i, tx := range block.Transactions {
			hashes[i] = tx.Hash()
		}
		out["transactions"] = hashes
	}
	api.blocks.Add(cacheKey, out)
	return out
}

var gethBlockNonce = hexutil.Bytes(make([]byte, 8))

func (api *EthAPI) formatTransaction(tx *types.ExtendedTxEnvelope, blockHash common.Hash, blockNumber, index uint64) interface{} {
	out := map[string]interface{}{
		"hash":             tx.Hash(),
		"blockHash":        blockHash,
		"blockNumber":      hexutil.Uint64(blockNumber),
		"transactionIndex": hexutil.Uint64(index),
		"type":             hexutil.Uint64(tx.Type()),
	}
	if tx.Deposit != nil {
		deposit := tx.Deposit
		out["from"] = deposit.From
		out["to"] = deposit.To
		out["value"] = (*hexutil.Big)(deposit.Value.ToBig())
		out["gas"] = hexutil.Uint64(deposit.Gas)
		out["input"] = hexutil.Bytes(deposit.Data)
		out["mint"] = (*hexutil.Big)(deposit.Mint.ToBig())
		out["sourceHash"] = deposit.SourceHash
		return out
	}
	canonical := tx.Canonical
	sender, _ := tx.Sender()
	out["from"] = sender
	out["to"] = canonical.To()
	out["nonce"] = hexutil.Uint64(canonical.Nonce())
	out["value"] = (*hexutil.Big)(canonical.Value())
	out["gas"] = hexutil.Uint64(canonical.Gas())
	out["gasPrice"] = (*hexutil.Big)(canonical.GasFeeCap())
	out["maxFeePerGas"] = (*hexutil.Big)(canonical.GasFeeCap())
	out["maxPriorityFeePerGas"] = (*hexutil.Big)(canonical.GasTipCap())
	out["input"] = hexutil.Bytes(canonical.Data())
	return out
}

func (api *EthAPI) getTransactionReceipt(list []json.RawMessage) (interface{}, error) {
	if len(list) != 1 {
		return nil, badParams("expected transaction hash")
	}
	var hash common.Hash
	if err := json.Unmarshal(list[0], &hash); err != nil {
		return nil, badParams("malformed transaction hash")
	}
	receipt := api.reader.TransactionReceipt(hash)
	if receipt == nil {
		return nil, nil
	}
	return formatReceipt(receipt), nil
}

func formatReceipt(receipt *types.Receipt) map[string]interface{} {
	logs := make([]map[string]interface{}, len(receipt.Logs))
	for i, logEntry := range receipt.Logs {
		logs[i] = map[string]interface{}{
			"address":          logEntry.Address,
			"topics":           logEntry.Topics,
			"data":             hexutil.Bytes(logEntry.Data),
			"blockHash":        receipt.BlockHash,
			"blockNumber":      hexutil.Uint64(receipt.BlockNumber),
			"blockTimestamp":   hexutil.Uint64(receipt.BlockTimestamp),
			"transactionHash":  receipt.TxHash,
			"transactionIndex": hexutil.Uint64(receipt.TxIndex),
			"logIndex":         hexutil.Uint64(receipt.LogOffset + uint64(i)),
			"removed":          false,
		}
	}
	out := map[string]interface{}{
		"type":              hexutil.Uint64(receipt.Type),
		"status":            hexutil.Uint64(receipt.Status),
		"cumulativeGasUsed": hexutil.Uint64(receipt.CumulativeGasUsed),
		"logsBloom":         hexutil.Bytes(receipt.Bloom.Bytes()),
		"logs":              logs,
		"transactionHash":   receipt.TxHash,
		"transactionIndex":  hexutil.Uint64(receipt.TxIndex),
		"blockHash":         receipt.BlockHash,
		"blockNumber":       hexutil.Uint64(receipt.BlockNumber),
		"from":              receipt.From,
		"to":                receipt.To,
		"contractAddress":   receipt.ContractAddress,
		"gasUsed":           hexutil.Uint64(receipt.GasUsed),
		"effectiveGasPrice": (*hexutil.Big)(receipt.L2GasPrice.ToBig()),
	}
	if receipt.L1BlockInfo != nil {
		out["l1Fee"] = (*hexutil.Big)(receipt.L1BlockInfo.L1Fee.ToBig())
		out["l1GasUsed"] = hexutil.Uint64(receipt.L1BlockInfo.L1GasUsed)
		out["l1GasPrice"] = (*hexutil.Big)(receipt.L1BlockInfo.L1BaseFee.ToBig())
	}
	return out
}

func (api *EthAPI) getTransactionByHash(list []json.RawMessage) (interface{}, error) {
	if len(list) != 1 {
		return nil, badParams("expected transaction hash")
	}
	var hash common.Hash
	if err := json.Unmarshal(list[0], &hash); err != nil {
		return nil, badParams("malformed transaction hash")
	}
	tx, lookup, ok := api.reader.TransactionByHash(hash)
	if !ok {
		return nil, nil
	}
	block := api.reader.BlockByHash(lookup.BlockHash)
	number := uint64(0)
	if block != nil {
		number = block.Number()
	}
	return api.formatTransaction(tx, lookup.BlockHash, number, lookup.Index), nil
}

func (api *EthAPI) sendRawTransaction(list []json.RawMessage) (interface{}, error) {
	if len(list) != 1 {
		return nil, badParams("expected raw transaction bytes")
	}
	var raw hexutil.Bytes
	if err := json.Unmarshal(list[0], &raw); err != nil {
		return nil, badParams("malformed transaction bytes")
	}
	envelope, err := types.DecodeTxEnvelope(raw)
	if err != nil {
		return nil, badParams("undecodable transaction: %v", err)
	}
	if envelope.IsDeposit() {
		return nil, badParams("deposits cannot be submitted through the public endpoint")
	}
	api.queue.Send(app.AddTransaction{Tx: envelope})
	return envelope.Hash(), nil
}

// callArgs is the eth_call / eth_estimateGas transaction object.
type callArgs struct {
	From                 *common.Address `json:"from"`
	To                   *common.Address `json:"to"`
	Gas                  *hexutil.Uint64 `json:"gas"`
	GasPrice             *hexutil.Big    `json:"gasPrice"`
	MaxFeePerGas         *hexutil.Big    `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big    `json:"maxPriorityFeePerGas"`
	Value                *hexutil.Big    `json:"value"`
	Data                 *hexutil.Bytes  `json:"data"`
	Input                *hexutil.Bytes  `json:"input"`
}

func (args *callArgs) normalized() *types.NormalizedTx {
	tx := &types.NormalizedTx{
		Value:                uint256.NewInt(0),
		MaxFeePerGas:         uint256.NewInt(0),
		MaxPriorityFeePerGas: uint256.NewInt(0),
	}
	if args.From != nil {
		tx.Signer = *args.From
	}
	tx.To = args.To
	if args.Gas != nil {
		tx.GasLimit = uint64(*args.Gas)
	}
	if args.Value != nil {
		tx.Value, _ = uint256.FromBig(args.Value.ToInt())
	}
	if args.MaxFeePerGas != nil {
		tx.MaxFeePerGas, _ = uint256.FromBig(args.MaxFeePerGas.ToInt())
	} else if args.GasPrice != nil {
		tx.MaxFeePerGas, _ = uint256.FromBig(args.GasPrice.ToInt())
	}
	if args.MaxPriorityFeePerGas != nil {
		tx.MaxPriorityFeePerGas, _ = uint256.FromBig(args.MaxPriorityFeePerGas.ToInt())
	}
	if args.Input != nil {
		tx.Data = *args.Input
	} else if args.Data != nil {
		tx.Data = *args.Data
	}
	return tx
}

func parseCallArgs(list []json.RawMessage) (*types.NormalizedTx, error) {
	if len(list) == 0 {
		return nil, badParams("expected transaction object")
	}
	var args callArgs
	if err := json.Unmarshal(list[0], &args); err != nil {
		return nil, badParams("malformed transaction object: %v", err)
	}
	return args.normalized(), nil
}

func (api *EthAPI) call(list []json.RawMessage) (interface{}, error) {
	tx, err := parseCallArgs(list)
	if err != nil {
		return nil, err
	}
	output, err := api.reader.Call(tx)
	if err != nil {
		return nil, err
	}
	return hexutil.Bytes(output), nil
}

func (api *EthAPI) estimateGas(list []json.RawMessage) (interface{}, error) {
	tx, err := parseCallArgs(list)
	if err != nil {
		return nil, err
	}
	gas, err := api.reader.EstimateGas(tx)
	if err != nil {
		return nil, err
	}
	return hexutil.Uint64(gas), nil
}

func (api *EthAPI) feeHistory(list []json.RawMessage) (interface{}, error) {
	if len(list) < 2 {
		return nil, badParams("expected block count and newest block")
	}
	var countHex hexutil.Uint64
	if err := json.Unmarshal(list[0], &countHex); err != nil {
		return nil, badParams("malformed block count")
	}
	newest, err := parseHeight(list[1])
	if err != nil {
		return nil, err
	}
	history := api.reader.FeeHistoryAt(uint64(countHex), newest)
	baseFees := make([]*hexutil.Big, len(history.BaseFeePerGas))
	for i, fee := range history.BaseFeePerGas {
		baseFees[i] = (*hexutil.Big)(fee.ToBig())
	}
	return map[string]interface{}{
		"oldestBlock":   hexutil.Uint64(history.OldestBlock),
		"baseFeePerGas": baseFees,
		"gasUsedRatio":  history.GasUsedRatio,
	}, nil
}

func (api *EthAPI) getProof(list []json.RawMessage) (interface{}, error) {
	if len(list) != 3 {
		return nil, badParams("expected address, storage keys and block parameter")
	}
	var addr common.Address
	if err := json.Unmarshal(list[0], &addr); err != nil {
		return nil, badParams("malformed address")
	}
	var slots []common.Hash
	if err := json.Unmarshal(list[1], &slots); err != nil {
		return nil, badParams("malformed storage keys")
	}
	height, err := parseHeight(list[2])
	if err != nil {
		return nil, err
	}
	proof, err := api.reader.ProofAt(addr, slots, height)
	if err != nil {
		return nil, err
	}
	if proof == nil {
		return nil, nil
	}
	return proof, nil
}
