// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package app

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/common/hexutil"
	gethtypes "github.com/luxfi/geth/core/types"
	"github.com/luxfi/geth/crypto"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/luxfi/mevm/blockchain"
	"github.com/luxfi/mevm/state"
	"github.com/luxfi/mevm/types"
)

const testChainID = 404

var (
	testKey, _ = crypto.HexToECDSA("b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291")
	testSender = crypto.PubkeyToAddress(testKey.PublicKey)

	genesisHash = common.HexToHash("0xe56ec7ba741931e8c55b7f654a6e56ed61cf8b8279bf5e3ef6ac86a11eb33a9d")
	testPayload = types.PayloadID{0x03, 0x42, 0x1e, 0xe5, 0x0d, 0xf4, 0x5c, 0xac}
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testNode struct {
	app    *Application
	actor  *Actor
	queue  *CommandQueue
	reader *Reader
}

func newTestNode(t *testing.T, balance uint64) *testNode {
	t.Helper()
	config := blockchain.DefaultGenesisConfig()
	config.FundedAccounts = map[common.Address]*uint256.Int{
		testSender: uint256.NewInt(balance),
	}
	st := state.NewInMemoryState()
	image, err := blockchain.DevGenesisImage(config)
	require.NoError(t, err)
	genesis, err := blockchain.ApplyGenesis(st, image, config)
	require.NoError(t, err)
	// Fixed genesis hash so Engine API vectors are reproducible.
	genesis.WithHash(genesisHash)

	application := NewApplication(config, st, Hooks{})
	queue := NewCommandQueue(16)
	actor := NewActor(application, queue)
	actor.Start()
	t.Cleanup(func() {
		queue.Close()
		actor.Wait()
	})

	queue.Send(GenesisUpdate{Block: genesis})
	queue.WaitForPendingCommands()

	return &testNode{app: application, actor: actor, queue: queue, reader: application.Reader()}
}

func signedTransfer(t *testing.T, nonce uint64, to common.Address, value int64) *types.ExtendedTxEnvelope {
	t.Helper()
	tx := gethtypes.NewTx(&gethtypes.DynamicFeeTx{
		ChainID:   big.NewInt(testChainID),
		Nonce:     nonce,
		GasTipCap: big.NewInt(0),
		GasFeeCap: big.NewInt(0),
		Gas:       1_000_000,
		To:        &to,
		Value:     big.NewInt(value),
	})
	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(big.NewInt(testChainID)), testKey)
	require.NoError(t, err)
	return &types.ExtendedTxEnvelope{Canonical: signed}
}

func defaultAttrs() *types.PayloadAttributes {
	return &types.PayloadAttributes{
		Timestamp:             hexutil.Uint64(0x6660737b),
		PrevRandao:            common.HexToHash("0xbde07f5d381bb84700433fe6c0ae077aa40eaad3a5de7abd298f0e3e27e6e4c9"),
		SuggestedFeeRecipient: common.HexToAddress("0x4200000000000000000000000000000000000011"),
		ParentBeaconBlockRoot: common.HexToHash("0x2bd857e239f7e5b5e6415608c76b90600d51fa0f7f0bbbc04e2d6861b3186f1c"),
		GasLimit:              hexutil.Uint64(0x1c9c380),
	}
}

func TestAddTransactionHappensBeforeBlockBuild(t *testing.T) {
	node := newTestNode(t, 5)
	to := common.HexToAddress("0x4422334455667788990011223344556677889911")

	node.queue.Send(AddTransaction{Tx: signedTransfer(t, 0, to, 4)})
	node.queue.Send(StartBlockBuild{Attrs: defaultAttrs(), ID: testPayload})
	node.queue.WaitForPendingCommands()

	balance, err := node.reader.BalanceAt(to, Tagged(TagLatest))
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(4), balance)

	senderBalance, err := node.reader.BalanceAt(testSender, Tagged(TagLatest))
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(1), senderBalance)

	nonce, err := node.reader.NonceAt(testSender, Tagged(TagLatest))
	require.NoError(t, err)
	require.Equal(t, uint64(1), nonce)
}

func TestHistoricalBalancesByHeight(t *testing.T) {
	node := newTestNode(t, 10)
	to := common.HexToAddress("0x4422334455667788990011223344556677889911")

	node.queue.Send(AddTransaction{Tx: signedTransfer(t, 0, to, 3)})
	node.queue.Send(StartBlockBuild{Attrs: defaultAttrs(), ID: testPayload})
	node.queue.WaitForPendingCommands()

	// Height 0 still shows the genesis balances.
	balance, err := node.reader.BalanceAt(testSender, Height(0))
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(10), balance)

	balance, err = node.reader.BalanceAt(testSender, Height(1))
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(7), balance)

	_, err = node.reader.BalanceAt(testSender, Height(9))
	require.ErrorIs(t, err, ErrUnknownHeight)
}

func TestPayloadRetention(t *testing.T) {
	node := newTestNode(t, 0)
	second := types.PayloadID{0x03, 0x42, 0x1e, 0xe5, 0x0d, 0xf4, 0x5c, 0xad}

	node.queue.Send(StartBlockBuild{Attrs: defaultAttrs(), ID: testPayload})
	node.queue.WaitForPendingCommands()
	first := node.reader.PayloadByID(testPayload)
	require.NotNil(t, first)

	node.queue.Send(UpdateHead{BlockHash: first.ExecutionPayload.BlockHash})
	attrs := defaultAttrs()
	attrs.Timestamp++
	node.queue.Send(StartBlockBuild{Attrs: attrs, ID: second})
	node.queue.WaitForPendingCommands()

	// Both payloads stay retrievable by id and by block hash.
	require.NotNil(t, node.reader.PayloadByID(testPayload))
	require.NotNil(t, node.reader.PayloadByID(second))
	require.Equal(t, first, node.reader.PayloadByBlockHash(first.ExecutionPayload.BlockHash))
	require.NotEqual(t,
		node.reader.PayloadByID(testPayload).ExecutionPayload.BlockHash,
		node.reader.PayloadByID(second).ExecutionPayload.BlockHash,
	)
}

func TestPayloadIDIsPureFunctionOfInputs(t *testing.T) {
	source := StatePayloadID{}
	head := [32]byte(genesisHash)

	first := source.PayloadID(head, defaultAttrs())
	second := source.PayloadID(head, defaultAttrs())
	require.Equal(t, first, second)
	require.Equal(t, byte(0x03), first[0])

	changed := defaultAttrs()
	changed.Timestamp++
	require.NotEqual(t, first, source.PayloadID(head, changed))

	changed = defaultAttrs()
	changed.PrevRandao[0] ^= 1
	require.NotEqual(t, first, source.PayloadID(head, changed))

	otherHead := head
	otherHead[0] ^= 1
	require.NotEqual(t, first, source.PayloadID(otherHead, defaultAttrs()))

	withTxs := defaultAttrs()
	withTxs.Transactions = []hexutil.Bytes{{0x01}}
	require.NotEqual(t, first, source.PayloadID(head, withTxs))
}

func TestDuplicateTransactionSecondOccurrenceSkipped(t *testing.T) {
	node := newTestNode(t, 100)
	to := common.HexToAddress("0x4422334455667788990011223344556677889911")
	tx := signedTransfer(t, 0, to, 1)

	node.queue.Send(AddTransaction{Tx: tx})
	node.queue.Send(StartBlockBuild{Attrs: defaultAttrs(), ID: testPayload})
	node.queue.WaitForPendingCommands()
	first := node.reader.PayloadByID(testPayload)
	require.Len(t, first.ExecutionPayload.Transactions, 1)

	node.queue.Send(UpdateHead{BlockHash: first.ExecutionPayload.BlockHash})
	node.queue.Send(AddTransaction{Tx: tx})
	second := types.PayloadID{0x03, 0x42, 0x1e, 0xe5, 0x0d, 0xf4, 0x5c, 0xae}
	attrs := defaultAttrs()
	attrs.Timestamp++
	node.queue.Send(StartBlockBuild{Attrs: attrs, ID: second})
	node.queue.WaitForPendingCommands()

	require.Empty(t, node.reader.PayloadByID(second).ExecutionPayload.Transactions)
}

func TestReceiptLookupAfterBuild(t *testing.T) {
	node := newTestNode(t, 100)
	to := common.HexToAddress("0x4422334455667788990011223344556677889911")
	tx := signedTransfer(t, 0, to, 1)

	node.queue.Send(AddTransaction{Tx: tx})
	node.queue.Send(StartBlockBuild{Attrs: defaultAttrs(), ID: testPayload})
	node.queue.WaitForPendingCommands()

	receipt := node.reader.TransactionReceipt(tx.Hash())
	require.NotNil(t, receipt)
	require.Equal(t, uint64(1), receipt.Status)
	require.Equal(t, testSender, receipt.From)
	require.Equal(t, uint64(1), receipt.BlockNumber)

	stored, lookup, ok := node.reader.TransactionByHash(tx.Hash())
	require.True(t, ok)
	require.Equal(t, tx.Hash(), stored.Hash())
	require.Equal(t, receipt.BlockHash, lookup.BlockHash)
}
