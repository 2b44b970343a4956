// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package execution

import (
	"testing"

	"github.com/aptos-labs/aptos-go-sdk/bcs"
	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/mevm/fees"
	"github.com/luxfi/mevm/mvmtypes"
	"github.com/luxfi/mevm/state"
	"github.com/luxfi/mevm/types"
)

const testChainID = 404

var (
	testSender    = common.HexToAddress("0x65d08a056c17ae13370565b04cf77d2afa1cb9fa")
	testRecipient = common.HexToAddress("0x44223344556677889900ffeeaabbccddee111111")
	testTreasury  = mvmtypes.AccountKey{31: 0x01}
)

func newTestExecutor() *Executor {
	return NewExecutor(testChainID, testTreasury, fees.NewL2GasFee(1))
}

// newTestState seeds a fresh state with the framework modules and the given
// balance for the test sender.
func newTestState(t *testing.T, balance uint64) *state.TrieState {
	t.Helper()
	st := state.NewInMemoryState()
	resolver, err := st.Resolver()
	require.NoError(t, err)
	s := NewSession(resolver, Unmetered(), BlockContext{}, common.Hash{})
	for _, module := range FrameworkModules() {
		code, err := mvmtypes.EncodeModuleDef(module.Def)
		require.NoError(t, err)
		s.PublishModule(module.ID, code)
	}
	if balance > 0 {
		require.NoError(t, MintBaseToken(s, mvmtypes.AccountKeyFromAddress(testSender), uint256.NewInt(balance)))
	}
	changes, _ := s.Finish()
	require.NoError(t, st.Apply(changes))
	return st
}

func resolverOf(t *testing.T, st *state.TrieState) *state.Resolver {
	t.Helper()
	resolver, err := st.Resolver()
	require.NoError(t, err)
	return resolver
}

func balanceOf(t *testing.T, st *state.TrieState, addr common.Address) *uint256.Int {
	t.Helper()
	balance, err := BalanceOf(resolverOf(t, st), mvmtypes.AccountKeyFromAddress(addr))
	require.NoError(t, err)
	return balance
}

func nonceOf(t *testing.T, st *state.TrieState, addr common.Address) uint64 {
	t.Helper()
	nonce, err := NonceOf(resolverOf(t, st), mvmtypes.AccountKeyFromAddress(addr))
	require.NoError(t, err)
	return nonce
}

func canonicalInput(t *testing.T, st *state.TrieState, tx *types.NormalizedTx) CanonicalInput {
	t.Helper()
	return CanonicalInput{
		Tx:       tx,
		TxHash:   common.HexToHash("0x01"),
		Resolver: resolverOf(t, st),
		L1Cost:   uint256.NewInt(0),
		L2Input:  fees.L2GasFeeInput{Gas: tx.GasLimit, EffectiveGasPrice: uint256.NewInt(0)},
		Block:    BlockContext{Number: 1, GasLimit: 30_000_000},
	}
}

func transferTx(value uint64) *types.NormalizedTx {
	chainID := uint256.NewInt(testChainID)
	to := testRecipient
	return &types.NormalizedTx{
		Signer:               testSender,
		To:                   &to,
		Value:                uint256.NewInt(value),
		ChainID:              chainID,
		GasLimit:             1_000_000,
		MaxFeePerGas:         uint256.NewInt(0),
		MaxPriorityFeePerGas: uint256.NewInt(0),
	}
}

func TestDepositMintsBaseToken(t *testing.T) {
	st := newTestState(t, 0)
	to := common.HexToAddress("0x8fd379246834eac74b8419ffda202cf8051f7a03")
	outcome, err := newTestExecutor().ExecuteDeposit(DepositInput{
		Tx: &types.DepositTx{
			To:    to,
			Mint:  uint256.NewInt(0x7b),
			Value: uint256.NewInt(0),
			Gas:   1_000_000,
		},
		TxHash:   common.HexToHash("0x02"),
		Resolver: resolverOf(t, st),
	})
	require.NoError(t, err)
	require.NoError(t, outcome.VMError)
	require.NoError(t, st.Apply(outcome.Changes))
	require.Equal(t, uint256.NewInt(0x7b), balanceOf(t, st, to))
}

func TestDepositMintThenBurnRestoresBalance(t *testing.T) {
	st := newTestState(t, 50)
	key := mvmtypes.AccountKeyFromAddress(testSender)

	resolver := resolverOf(t, st)
	s := NewSession(resolver, Unmetered(), BlockContext{}, common.Hash{})
	require.NoError(t, MintBaseToken(s, key, uint256.NewInt(7)))
	require.NoError(t, BurnBaseToken(s, key, uint256.NewInt(7)))
	changes, _ := s.Finish()
	require.NoError(t, st.Apply(changes))
	require.Equal(t, uint256.NewInt(50), balanceOf(t, st, testSender))
}

func TestEoaBaseTokenTransfer(t *testing.T) {
	st := newTestState(t, 5)
	outcome, err := newTestExecutor().ExecuteCanonical(canonicalInput(t, st, transferTx(4)))
	require.NoError(t, err)
	require.NoError(t, outcome.VMError)
	require.NoError(t, st.Apply(outcome.Changes))

	require.Equal(t, uint256.NewInt(4), balanceOf(t, st, testRecipient))
	require.Equal(t, uint256.NewInt(1), balanceOf(t, st, testSender))
	require.Equal(t, uint64(1), nonceOf(t, st, testSender))
	require.Equal(t, uint64(0), nonceOf(t, st, testRecipient))
}

func TestTransferBeyondBalanceFailsWithReceipt(t *testing.T) {
	st := newTestState(t, 5)
	outcome, err := newTestExecutor().ExecuteCanonical(canonicalInput(t, st, transferTx(6)))
	require.NoError(t, err)
	require.Error(t, outcome.VMError)
	require.True(t, IsUserError(outcome.VMError))
	require.NoError(t, st.Apply(outcome.Changes))

	// Balances are untouched; the nonce still advanced.
	require.Equal(t, uint256.NewInt(5), balanceOf(t, st, testSender))
	require.True(t, balanceOf(t, st, testRecipient).IsZero())
	require.Equal(t, uint64(1), nonceOf(t, st, testSender))
}

func TestIncorrectChainIDIsRejected(t *testing.T) {
	st := newTestState(t, 5)
	tx := transferTx(1)
	tx.ChainID = uint256.NewInt(testChainID + 1)
	_, err := newTestExecutor().ExecuteCanonical(canonicalInput(t, st, tx))
	require.True(t, IsInvalidTransaction(err))
	require.ErrorIs(t, err, ErrIncorrectChainID)
}

func TestIncorrectNonceIsRejected(t *testing.T) {
	st := newTestState(t, 5)
	tx := transferTx(1)
	tx.Nonce = 3
	_, err := newTestExecutor().ExecuteCanonical(canonicalInput(t, st, tx))
	require.True(t, IsInvalidTransaction(err))
	var nonceErr *ErrIncorrectNonce
	require.ErrorAs(t, err, &nonceErr)
	require.Equal(t, uint64(3), nonceErr.Given)
	require.Equal(t, uint64(0), nonceErr.Expected)
}

func TestInsufficientIntrinsicGasSkipsTransaction(t *testing.T) {
	st := newTestState(t, 5)
	tx := transferTx(1)
	tx.GasLimit = 1000
	_, err := newTestExecutor().ExecuteCanonical(canonicalInput(t, st, tx))
	require.True(t, IsInvalidTransaction(err))
	require.ErrorIs(t, err, ErrInsufficientIntrinsicGas)
}

func TestReplayIsForbiddenByNonce(t *testing.T) {
	st := newTestState(t, 5)
	e := newTestExecutor()
	outcome, err := e.ExecuteCanonical(canonicalInput(t, st, transferTx(1)))
	require.NoError(t, err)
	require.NoError(t, st.Apply(outcome.Changes))

	_, err = e.ExecuteCanonical(canonicalInput(t, st, transferTx(1)))
	require.True(t, IsInvalidTransaction(err))
}

func entryFunctionTx(t *testing.T, entry *mvmtypes.EntryFunction, to common.Address, gas uint64) *types.NormalizedTx {
	t.Helper()
	data, err := bcs.Serialize(&mvmtypes.TransactionData{EntryFunction: entry})
	require.NoError(t, err)
	return &types.NormalizedTx{
		Signer:               testSender,
		To:                   &to,
		Value:                uint256.NewInt(0),
		ChainID:              uint256.NewInt(testChainID),
		Data:                 data,
		GasLimit:             5_000_000,
		MaxFeePerGas:         uint256.NewInt(0),
		MaxPriorityFeePerGas: uint256.NewInt(0),
	}
}

func TestEntryFunctionTransferNative(t *testing.T) {
	st := newTestState(t, 100)
	signerKey := mvmtypes.AccountKeyFromAddress(testSender)

	signerArg, err := mvmtypes.SerializeValue(
		&mvmtypes.Value{Kind: mvmtypes.KindSigner, Address: signerKey},
		&mvmtypes.Layout{Kind: mvmtypes.KindSigner},
	)
	require.NoError(t, err)
	toArg, err := mvmtypes.SerializeValue(
		&mvmtypes.Value{Kind: mvmtypes.KindAddress, Address: mvmtypes.AccountKeyFromAddress(testRecipient)},
		&mvmtypes.Layout{Kind: mvmtypes.KindAddress},
	)
	require.NoError(t, err)
	amount := mvmtypes.U256Value(uint256.NewInt(30))
	amountLayout := mvmtypes.PrimitiveLayout(mvmtypes.KindU256)
	amountArg, err := mvmtypes.SerializeValue(&amount, &amountLayout)
	require.NoError(t, err)

	entry := &mvmtypes.EntryFunction{
		Module:   EthTokenModuleID(),
		Function: "transfer",
		Args:     [][]byte{signerArg, toArg, amountArg},
	}
	// Entry calls address the module's account.
	tx := entryFunctionTx(t, entry, EthTokenModuleID().Address.EthAddress(), 5_000_000)

	outcome, err := newTestExecutor().ExecuteCanonical(canonicalInput(t, st, tx))
	require.NoError(t, err)
	require.NoError(t, outcome.VMError)
	require.NoError(t, st.Apply(outcome.Changes))
	require.Equal(t, uint256.NewInt(30), balanceOf(t, st, testRecipient))
	require.Equal(t, uint256.NewInt(70), balanceOf(t, st, testSender))
}

func TestEntryFunctionRejectsWrongSigner(t *testing.T) {
	st := newTestState(t, 100)

	wrongSigner, err := mvmtypes.SerializeValue(
		&mvmtypes.Value{Kind: mvmtypes.KindSigner, Address: mvmtypes.AccountKey{31: 0x99}},
		&mvmtypes.Layout{Kind: mvmtypes.KindSigner},
	)
	require.NoError(t, err)
	toArg, err := mvmtypes.SerializeValue(
		&mvmtypes.Value{Kind: mvmtypes.KindAddress, Address: mvmtypes.AccountKeyFromAddress(testRecipient)},
		&mvmtypes.Layout{Kind: mvmtypes.KindAddress},
	)
	require.NoError(t, err)
	amount := mvmtypes.U256Value(uint256.NewInt(1))
	amountLayout := mvmtypes.PrimitiveLayout(mvmtypes.KindU256)
	amountArg, err := mvmtypes.SerializeValue(&amount, &amountLayout)
	require.NoError(t, err)

	entry := &mvmtypes.EntryFunction{
		Module:   EthTokenModuleID(),
		Function: "transfer",
		Args:     [][]byte{wrongSigner, toArg, amountArg},
	}
	tx := entryFunctionTx(t, entry, EthTokenModuleID().Address.EthAddress(), 5_000_000)

	_, err = newTestExecutor().ExecuteCanonical(canonicalInput(t, st, tx))
	require.True(t, IsInvalidTransaction(err))
	require.ErrorIs(t, err, ErrInvalidSigner)
}

func TestEntryFunctionRejectsWrongDestination(t *testing.T) {
	st := newTestState(t, 100)
	entry := &mvmtypes.EntryFunction{
		Module:   EthTokenModuleID(),
		Function: "transfer",
		Args:     [][]byte{},
	}
	tx := entryFunctionTx(t, entry, testRecipient, 5_000_000)
	_, err := newTestExecutor().ExecuteCanonical(canonicalInput(t, st, tx))
	require.True(t, IsInvalidTransaction(err))
	require.ErrorIs(t, err, ErrInvalidDestination)
}

func moduleDeployTx(t *testing.T, def *mvmtypes.ModuleDef) *types.NormalizedTx {
	t.Helper()
	code, err := mvmtypes.EncodeModuleDef(def)
	require.NoError(t, err)
	data, err := bcs.Serialize(&mvmtypes.TransactionData{
		ScriptOrModule: &mvmtypes.ScriptOrModule{Module: &mvmtypes.Module{Code: code}},
	})
	require.NoError(t, err)
	return &types.NormalizedTx{
		Signer:               testSender,
		Value:                uint256.NewInt(0),
		ChainID:              uint256.NewInt(testChainID),
		Data:                 data,
		GasLimit:             10_000_000,
		MaxFeePerGas:         uint256.NewInt(0),
		MaxPriorityFeePerGas: uint256.NewInt(0),
	}
}

func TestModuleDeployAndRedeploy(t *testing.T) {
	st := newTestState(t, 100)
	e := newTestExecutor()
	def := &mvmtypes.ModuleDef{
		Name: "counter",
		Functions: []mvmtypes.FunctionDef{{
			Name:    "increment",
			IsEntry: true,
			Params:  []mvmtypes.ParamDef{{Type: mvmtypes.AddressTag()}},
		}},
	}

	outcome, err := e.ExecuteCanonical(canonicalInput(t, st, moduleDeployTx(t, def)))
	require.NoError(t, err)
	require.NoError(t, outcome.VMError)
	require.NotNil(t, outcome.Deployment)
	require.Equal(t, mvmtypes.Identifier("counter"), outcome.Deployment.Module.Name)
	require.NoError(t, st.Apply(outcome.Changes))

	resolver := resolverOf(t, st)
	code, err := resolver.Module(outcome.Deployment.Module)
	require.NoError(t, err)
	require.NotNil(t, code)

	// Redeploying the same module name fails with a receipt.
	tx := moduleDeployTx(t, def)
	tx.Nonce = 1
	outcome, err = e.ExecuteCanonical(canonicalInput(t, st, tx))
	require.NoError(t, err)
	require.Error(t, outcome.VMError)
	require.Nil(t, outcome.Deployment)
}

func TestRecursiveStructDeployFailsWithReceipt(t *testing.T) {
	st := newTestState(t, 100)
	owner := mvmtypes.AccountKeyFromAddress(testSender)
	def := &mvmtypes.ModuleDef{
		Name: "looper",
		Structs: []mvmtypes.StructDef{{
			Name: "Node",
			Fields: []mvmtypes.FieldDef{{
				Name: "next",
				Type: mvmtypes.StructTypeTag(mvmtypes.StructTag{Address: owner, Module: "looper", Name: "Node"}),
			}},
		}},
	}
	outcome, err := newTestExecutor().ExecuteCanonical(canonicalInput(t, st, moduleDeployTx(t, def)))
	require.NoError(t, err)
	require.Error(t, outcome.VMError)
	require.ErrorIs(t, outcome.VMError, mvmtypes.ErrRecursiveStruct)
	// Nonce advanced regardless.
	require.NoError(t, st.Apply(outcome.Changes))
	require.Equal(t, uint64(1), nonceOf(t, st, testSender))
}

func TestEVMValueCallThroughWindow(t *testing.T) {
	st := newTestState(t, 1_000_000)
	e := newTestExecutor()

	// Value call to an empty account inside the reserved window behaves as a
	// plain EVM transfer; replication settles the MVM side.
	target := common.HexToAddress("0x4200000000000000000000000000000000000042")
	to := target
	tx := &types.NormalizedTx{
		Signer:               testSender,
		To:                   &to,
		Value:                uint256.NewInt(1000),
		ChainID:              uint256.NewInt(testChainID),
		GasLimit:             1_000_000,
		MaxFeePerGas:         uint256.NewInt(0),
		MaxPriorityFeePerGas: uint256.NewInt(0),
	}
	outcome, err := e.ExecuteCanonical(canonicalInput(t, st, tx))
	require.NoError(t, err)
	require.NoError(t, outcome.VMError)
	require.NoError(t, st.Apply(outcome.Changes))

	require.Equal(t, uint256.NewInt(1000), balanceOf(t, st, target))
	require.Equal(t, uint256.NewInt(999_000), balanceOf(t, st, testSender))

	// The EVM view agrees with the MVM view.
	resolver := resolverOf(t, st)
	record, err := resolver.EVMAccount(target)
	require.NoError(t, err)
	require.NotNil(t, record)
	require.Equal(t, uint256.NewInt(1000), record.Balance)
}

func TestLogsAreDroppedOnUserFailure(t *testing.T) {
	st := newTestState(t, 5)
	outcome, err := newTestExecutor().ExecuteCanonical(canonicalInput(t, st, transferTx(6)))
	require.NoError(t, err)
	require.Error(t, outcome.VMError)
	require.Empty(t, outcome.Logs)
}
