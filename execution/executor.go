// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package execution

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	gethtypes "github.com/luxfi/geth/core/types"
	"github.com/luxfi/log"

	"github.com/luxfi/mevm/fees"
	"github.com/luxfi/mevm/mvmtypes"
	"github.com/luxfi/mevm/state"
	"github.com/luxfi/mevm/types"
)

// Deployment identifies a module published by a transaction.
type Deployment struct {
	Account mvmtypes.AccountKey
	Module  mvmtypes.ModuleID
}

// Outcome is the execution result of one transaction. VMError is nil on
// success and carries the user error otherwise; either way the change set is
// ready to apply and the receipt can be formed.
type Outcome struct {
	VMError    error
	Changes    *state.ChangeSet
	GasUsed    uint64
	L2Price    *uint256.Int
	Logs       []*gethtypes.Log
	Deployment *Deployment
	// Output carries the EVM return data for call-shaped transactions.
	Output []byte
}

// NativeFunc is a built-in function bound into a framework module.
type NativeFunc func(s *Session, e *Executor, signer mvmtypes.AccountKey, typeArgs []mvmtypes.TypeTag, args []*mvmtypes.Value) error

// Interpreter executes deployed non-native function bodies. It is the seam
// for the embedded VM collaborator; the engine runs without one, reporting a
// user error for bodies it cannot execute.
type Interpreter interface {
	ExecuteEntry(s *Session, module *mvmtypes.ModuleDef, fn *mvmtypes.FunctionDef, signer mvmtypes.AccountKey, args []*mvmtypes.Value) error
	ExecuteScript(s *Session, script *mvmtypes.Script, signer mvmtypes.AccountKey) error
}

// Executor runs transactions against the dual-VM state.
type Executor struct {
	ChainID     uint64
	BaseToken   BaseTokenAccounts
	L2Fee       fees.L2GasFee
	Interpreter Interpreter
	natives     map[string]NativeFunc
}

// NewExecutor builds an executor with the framework natives registered.
func NewExecutor(chainID uint64, treasury mvmtypes.AccountKey, l2Fee fees.L2GasFee) *Executor {
	e := &Executor{
		ChainID:   chainID,
		BaseToken: BaseTokenAccounts{Treasury: treasury},
		L2Fee:     l2Fee,
		natives:   make(map[string]NativeFunc),
	}
	registerFrameworkNatives(e)
	return e
}

func nativeKey(module mvmtypes.ModuleID, name mvmtypes.Identifier) string {
	return module.String() + "::" + string(name)
}

// RegisterNative binds a native implementation to a module function.
func (e *Executor) RegisterNative(module mvmtypes.ModuleID, name mvmtypes.Identifier, fn NativeFunc) {
	e.natives[nativeKey(module, name)] = fn
}

// CanonicalInput is a canonical transaction ready for execution.
type CanonicalInput struct {
	Tx       *types.NormalizedTx
	TxHash   common.Hash
	Resolver *state.Resolver
	L1Cost   *uint256.Int
	L2Input  fees.L2GasFeeInput
	Block    BlockContext
}

// DepositInput is a deposit ready for execution.
type DepositInput struct {
	Tx       *types.DepositTx
	TxHash   common.Hash
	Resolver *state.Resolver
	Block    BlockContext
}

// ExecuteCanonical runs the full canonical pipeline: verification, fee
// charges, nonce, dispatch, cross-VM settlement, refund.
func (e *Executor) ExecuteCanonical(input CanonicalInput) (*Outcome, error) {
	tx := input.Tx
	if tx.ChainID != nil && tx.ChainID.Uint64() != e.ChainID {
		return nil, invalidTx(ErrIncorrectChainID)
	}
	signerKey := mvmtypes.AccountKeyFromAddress(tx.Signer)

	meter := NewGasMeter(tx.GasLimit)
	s := NewSession(input.Resolver, meter, input.Block, input.TxHash)

	// Intrinsic and IO gas come first; a transaction that cannot cover them
	// is skipped outright, leaving no trace on chain.
	if err := meter.ChargeIntrinsic(tx.Data); err != nil {
		return nil, invalidTx(ErrInsufficientIntrinsicGas)
	}
	if err := meter.ChargeIO(tx.Data); err != nil {
		return nil, invalidTx(ErrInsufficientIntrinsicGas)
	}

	l2Cost := e.L2Fee.Fee(input.L2Input)
	if err := e.BaseToken.ChargeGasCost(s, signerKey, input.L1Cost); err != nil {
		return nil, invalidTx(ErrFailedToPayL1Fee)
	}
	if err := e.BaseToken.ChargeGasCost(s, signerKey, l2Cost); err != nil {
		return nil, invalidTx(ErrFailedToPayL2Fee)
	}
	if err := CheckNonce(s, signerKey, tx.Nonce); err != nil {
		return nil, err
	}

	outcome := &Outcome{L2Price: input.L2Input.EffectiveGasPrice.Clone()}
	cp := s.checkpoint()
	dispatchErr := e.dispatchCanonical(s, tx, signerKey, outcome)
	if dispatchErr == nil {
		dispatchErr = replicateTransfers(s)
	}
	switch {
	case dispatchErr == nil:
	case IsUserError(dispatchErr):
		// The action is rolled back; fees, nonce and consumed gas stand.
		s.restore(cp)
		outcome.Deployment = nil
		outcome.VMError = dispatchErr
	default:
		return nil, dispatchErr
	}

	gasUsed := meter.Used()
	usedCost := e.L2Fee.Fee(fees.L2GasFeeInput{Gas: gasUsed, EffectiveGasPrice: input.L2Input.EffectiveGasPrice})
	refund := new(uint256.Int)
	if l2Cost.Gt(usedCost) {
		refund.Sub(l2Cost, usedCost)
	}
	if err := e.BaseToken.RefundGasCost(s, signerKey, refund); err != nil {
		return nil, err
	}

	changes, logs := s.Finish()
	outcome.Changes = changes
	outcome.Logs = logs
	outcome.GasUsed = gasUsed
	return outcome, nil
}

// dispatchCanonical routes the transaction intent.
func (e *Executor) dispatchCanonical(s *Session, tx *types.NormalizedTx, signerKey mvmtypes.AccountKey, outcome *Outcome) error {
	if tx.To == nil {
		data, err := decodeScriptOrModule(tx.Data)
		if err != nil {
			return invalidTx(fmt.Errorf("%w: %v", ErrInvalidPayload, err))
		}
		if data.Module != nil {
			return e.deployModule(s, data.Module, signerKey, outcome)
		}
		return e.executeScript(s, data.Script, signerKey)
	}
	to := *tx.To
	if types.IsL2ContractAddress(to) {
		evmOut, err := EVMCall(s, tx.Signer, to, tx.Value, tx.Data, e.ChainID)
		if evmOut != nil {
			outcome.Output = evmOut.Output
		}
		return err
	}
	if len(tx.Data) == 0 {
		// No calldata: a plain base-token transfer between EOAs.
		err := TransferBaseToken(s, signerKey, mvmtypes.AccountKeyFromAddress(to), tx.Value)
		if err != nil && !IsUserError(err) && !IsInvariantViolation(err) {
			return userErr(err)
		}
		return err
	}
	td, err := mvmtypes.DecodeTransactionData(tx.Data)
	if err != nil {
		return invalidTx(fmt.Errorf("%w: %v", ErrInvalidPayload, err))
	}
	if td.EntryFunction == nil {
		return invalidTx(fmt.Errorf("%w: not an entry function", ErrInvalidPayload))
	}
	if td.EntryFunction.Module.Address != mvmtypes.AccountKeyFromAddress(to) {
		return invalidTx(ErrInvalidDestination)
	}
	return e.executeEntryFunction(s, td.EntryFunction, signerKey)
}

func decodeScriptOrModule(data []byte) (*mvmtypes.ScriptOrModule, error) {
	td, err := mvmtypes.DecodeTransactionData(data)
	if err == nil && td.ScriptOrModule != nil {
		return td.ScriptOrModule, nil
	}
	return nil, fmt.Errorf("create payload is not a script or module: %v", err)
}

// deployModule validates and publishes a module under the signer's account.
// Validation failures are user errors: the transaction is included with a
// failed receipt.
func (e *Executor) deployModule(s *Session, module *mvmtypes.Module, signerKey mvmtypes.AccountKey, outcome *Outcome) error {
	if err := s.meter.Charge(uint64(len(module.Code)) * publishPerByteGas); err != nil {
		return userErr(err)
	}
	def, err := mvmtypes.DecodeModuleDef(module.Code)
	if err != nil {
		return userErr(fmt.Errorf("module does not deserialize: %w", err))
	}
	if err := def.Validate(signerKey); err != nil {
		return userErr(err)
	}
	id := mvmtypes.ModuleID{Address: signerKey, Name: def.Name}
	existing, err := s.Module(id)
	if err != nil {
		return err
	}
	if existing != nil {
		return userErr(fmt.Errorf("module %s already published", id))
	}
	s.PublishModule(id, module.Code)
	outcome.Deployment = &Deployment{Account: signerKey, Module: id}
	return nil
}

func (e *Executor) executeScript(s *Session, script *mvmtypes.Script, signerKey mvmtypes.AccountKey) error {
	if script == nil {
		return invalidTx(ErrInvalidPayload)
	}
	if err := s.meter.Charge(uint64(len(script.Code)) * publishPerByteGas); err != nil {
		return userErr(err)
	}
	if e.Interpreter == nil {
		return userErr(ErrNoFunctionBody)
	}
	return e.Interpreter.ExecuteScript(s, script, signerKey)
}

// executeEntryFunction validates the declared parameter types and the
// argument values, then runs the bound native or hands the body to the
// interpreter.
func (e *Executor) executeEntryFunction(s *Session, entry *mvmtypes.EntryFunction, signerKey mvmtypes.AccountKey) error {
	code, err := s.Module(entry.Module)
	if err != nil {
		return err
	}
	if code == nil {
		return invalidTx(fmt.Errorf("%w: %s", ErrUnknownModule, entry.Module))
	}
	def, err := mvmtypes.DecodeModuleDef(code)
	if err != nil {
		return invariantf("published module %s does not deserialize: %v", entry.Module, err)
	}
	fn, ok := def.Function(entry.Function)
	if !ok {
		return invalidTx(fmt.Errorf("%w: %s::%s", ErrUnknownFunction, entry.Module, entry.Function))
	}
	if !fn.IsEntry {
		return invalidTx(fmt.Errorf("%w: %s::%s", ErrNotAnEntryFunction, entry.Module, entry.Function))
	}
	if len(fn.Params) != len(entry.Args) {
		return invalidTx(ErrMismatchedArgumentCount)
	}

	args := make([]*mvmtypes.Value, len(entry.Args))
	for i := range fn.Params {
		param := &fn.Params[i]
		// References are erased in serialized arguments; nesting them is
		// never legal.
		if param.RefDepth > 1 {
			return invalidTx(fmt.Errorf("%w: nested reference parameter", ErrInvalidPayload))
		}
		if err := validateEntryTypeTag(&param.Type); err != nil {
			return err
		}
		layout, err := entryParamLayout(&param.Type)
		if err != nil {
			return err
		}
		value, err := mvmtypes.DeserializeValue(entry.Args[i], layout)
		if err != nil {
			return invalidTx(fmt.Errorf("%w: argument %d does not deserialize: %v", ErrInvalidPayload, i, err))
		}
		if err := validateEntryValue(s, value, layout, signerKey); err != nil {
			return err
		}
		args[i] = value
	}

	if err := s.meter.Charge(nativeCallGas); err != nil {
		return userErr(err)
	}
	if native, ok := e.natives[nativeKey(entry.Module, entry.Function)]; ok {
		return native(s, e, signerKey, entry.TypeArgs, args)
	}
	if e.Interpreter != nil {
		return e.Interpreter.ExecuteEntry(s, def, fn, signerKey, args)
	}
	return userErr(ErrNoFunctionBody)
}

// ExecuteDeposit mints the deposited value and, when calldata is present,
// dispatches it like a canonical transaction without signature or nonce
// checks. Deposits originate on L1 and must land: undecodable calldata is
// logged and dropped rather than failing the deposit.
func (e *Executor) ExecuteDeposit(input DepositInput) (*Outcome, error) {
	tx := input.Tx
	meter := NewGasMeter(tx.Gas)
	s := NewSession(input.Resolver, meter, input.Block, input.TxHash)

	amount := new(uint256.Int).Add(orZero(tx.Mint), orZero(tx.Value))
	toKey := mvmtypes.AccountKeyFromAddress(tx.To)
	if err := MintBaseToken(s, toKey, amount); err != nil {
		return nil, err
	}
	if err := meter.ChargeIntrinsic(tx.Data); err == nil {
		_ = meter.ChargeIO(tx.Data)
	}

	outcome := &Outcome{L2Price: uint256.NewInt(0)}
	if len(tx.Data) > 0 {
		cp := s.checkpoint()
		var dispatchErr error
		if types.IsL2ContractAddress(tx.To) {
			_, dispatchErr = EVMCall(s, tx.From, tx.To, uint256.NewInt(0), tx.Data, e.ChainID)
		} else if td, err := mvmtypes.DecodeTransactionData(tx.Data); err == nil && td.EntryFunction != nil {
			dispatchErr = e.executeEntryFunction(s, td.EntryFunction, mvmtypes.AccountKeyFromAddress(tx.From))
		} else {
			log.Debug("deposit calldata is not dispatchable, minting only", "tx", input.TxHash)
		}
		if dispatchErr == nil {
			dispatchErr = replicateTransfers(s)
		}
		switch {
		case dispatchErr == nil:
		case IsUserError(dispatchErr) || IsInvalidTransaction(dispatchErr):
			// The mint stands even when the payload fails.
			s.restore(cp)
			outcome.VMError = userErr(fmt.Errorf("deposit payload failed: %v", dispatchErr))
		default:
			return nil, dispatchErr
		}
	}

	changes, logs := s.Finish()
	outcome.Changes = changes
	outcome.Logs = logs
	outcome.GasUsed = meter.Used()
	return outcome, nil
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return uint256.NewInt(0)
	}
	return v
}
