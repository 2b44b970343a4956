// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package execution

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/vm"
	"github.com/luxfi/geth/params"

	"github.com/luxfi/mevm/mvmtypes"
)

var _ vm.StateDB = (*sessionStateDB)(nil)

// evmChainConfig enables every fork up to and including Cancun from genesis;
// the engine has no activation schedule of its own.
func evmChainConfig(chainID uint64) *params.ChainConfig {
	zero := uint64(0)
	return &params.ChainConfig{
		ChainID:                 new(big.Int).SetUint64(chainID),
		HomesteadBlock:          common.Big0,
		EIP150Block:             common.Big0,
		EIP155Block:             common.Big0,
		EIP158Block:             common.Big0,
		ByzantiumBlock:          common.Big0,
		ConstantinopleBlock:     common.Big0,
		PetersburgBlock:         common.Big0,
		IstanbulBlock:           common.Big0,
		BerlinBlock:             common.Big0,
		LondonBlock:             common.Big0,
		MergeNetsplitBlock:      common.Big0,
		TerminalTotalDifficulty: common.Big0,
		ShanghaiTime:            &zero,
		CancunTime:              &zero,
	}
}

// EVMOutcome is the result of one EVM native invocation.
type EVMOutcome struct {
	Output          []byte
	GasUsed         uint64
	ContractAddress *common.Address
}

// newEVM builds the interpreter bound to the session. BlockContext.Transfer
// feeds the cross-VM transfer log; all base tokens in flight inside the EVM
// are custodied by the EVM-native account on the MVM side.
func newEVM(s *Session, db *sessionStateDB, origin common.Address, chainID uint64) *vm.EVM {
	random := s.block.PrevRandao
	blockCtx := vm.BlockContext{
		CanTransfer: func(sdb vm.StateDB, addr common.Address, amount *uint256.Int) bool {
			return sdb.GetBalance(addr).Cmp(amount) >= 0
		},
		Transfer: func(sdb vm.StateDB, from, to common.Address, amount *uint256.Int) {
			if !amount.IsZero() {
				s.recordTransfer(from, to, amount)
			}
			sdb.SubBalance(from, amount, 0)
			sdb.AddBalance(to, amount, 0)
		},
		GetHash:     func(uint64) common.Hash { return common.Hash{} },
		Coinbase:    s.block.Coinbase,
		GasLimit:    s.block.GasLimit,
		BlockNumber: new(big.Int).SetUint64(s.block.Number),
		Time:        s.block.Timestamp,
		Difficulty:  new(big.Int),
		BaseFee:     baseFeeBig(s),
		BlobBaseFee: new(big.Int),
		Random:      &random,
	}
	evm := vm.NewEVM(blockCtx, db, evmChainConfig(chainID), vm.Config{})
	evm.SetTxContext(vm.TxContext{Origin: origin, GasPrice: new(big.Int)})
	return evm
}

func baseFeeBig(s *Session) *big.Int {
	if s.block.BaseFee == nil {
		return new(big.Int)
	}
	return s.block.BaseFee.ToBig()
}

// EVMCall runs a call against the EVM side of the state. The caller's value
// is custodied by the EVM-native account on the MVM side for the duration;
// replicateTransfers settles both views afterwards.
func EVMCall(s *Session, caller, to common.Address, value *uint256.Int, input []byte, chainID uint64) (*EVMOutcome, error) {
	db := newSessionStateDB(s)
	// Seed the caller's EVM view before the custody move debits the MVM
	// side, so the in-EVM value transfer is funded.
	db.loadAccount(caller)
	if err := enterEVM(s, caller, value); err != nil {
		return nil, err
	}
	evm := newEVM(s, db, caller, chainID)
	db.Prepare(evm.ChainConfig().Rules(evm.Context.BlockNumber, true, s.block.Timestamp),
		caller, s.block.Coinbase, &to, vm.ActivePrecompiles(evm.ChainConfig().Rules(evm.Context.BlockNumber, true, s.block.Timestamp)), nil)

	gas := s.meter.Remaining()
	preTransfers := len(s.transfers.transfers)
	ret, leftover, vmErr := evm.Call(caller, to, input, gas, value)
	gasUsed := gas - leftover
	if err := s.meter.Charge(gasUsed); err != nil {
		return nil, invariantf("EVM gas exceeds session meter: %v", err)
	}
	s.importEVMLogs(db)
	if vmErr != nil {
		// The EVM reverted its own state, including the value moves; drop
		// the transfers it recorded. Custody is still returned to origins
		// by the caller.
		s.transfers.transfers = s.transfers.transfers[:preTransfers]
		return &EVMOutcome{Output: ret, GasUsed: gasUsed}, mapEVMError(vmErr)
	}
	return &EVMOutcome{Output: ret, GasUsed: gasUsed}, nil
}

// EVMCreate deploys an EVM contract.
func EVMCreate(s *Session, caller common.Address, value *uint256.Int, code []byte, chainID uint64) (*EVMOutcome, error) {
	db := newSessionStateDB(s)
	db.loadAccount(caller)
	if err := enterEVM(s, caller, value); err != nil {
		return nil, err
	}
	evm := newEVM(s, db, caller, chainID)

	gas := s.meter.Remaining()
	preTransfers := len(s.transfers.transfers)
	ret, addr, leftover, vmErr := evm.Create(caller, code, gas, value)
	gasUsed := gas - leftover
	if err := s.meter.Charge(gasUsed); err != nil {
		return nil, invariantf("EVM gas exceeds session meter: %v", err)
	}
	s.importEVMLogs(db)
	outcome := &EVMOutcome{Output: ret, GasUsed: gasUsed, ContractAddress: &addr}
	if vmErr != nil {
		s.transfers.transfers = s.transfers.transfers[:preTransfers]
		return outcome, mapEVMError(vmErr)
	}
	return outcome, nil
}

// enterEVM moves the call value into EVM custody on the MVM side and records
// the origin for settlement.
func enterEVM(s *Session, caller common.Address, value *uint256.Int) error {
	if value == nil || value.IsZero() {
		return nil
	}
	s.mirrorEVM = false
	defer func() { s.mirrorEVM = true }()
	callerKey := mvmtypes.AccountKeyFromAddress(caller)
	if err := TransferBaseToken(s, callerKey, mvmtypes.EVMNativeAddress, value); err != nil {
		return err
	}
	s.recordOrigin(callerKey, value)
	return nil
}

// importEVMLogs moves the logs collected by the adapter into the session's
// ordered log list.
func (s *Session) importEVMLogs(db *sessionStateDB) {
	s.logs = append(s.logs, db.ext.logs...)
	db.ext.logs = nil
}

// mapEVMError classifies EVM failures: reverts and execution faults are user
// errors (the transaction is included, gas consumed); anything else is an
// invariant violation.
func mapEVMError(err error) error {
	switch {
	case errors.Is(err, vm.ErrExecutionReverted),
		errors.Is(err, vm.ErrOutOfGas),
		errors.Is(err, vm.ErrCodeStoreOutOfGas),
		errors.Is(err, vm.ErrDepth),
		errors.Is(err, vm.ErrInsufficientBalance),
		errors.Is(err, vm.ErrContractAddressCollision),
		errors.Is(err, vm.ErrMaxCodeSizeExceeded),
		errors.Is(err, vm.ErrInvalidJump),
		errors.Is(err, vm.ErrWriteProtection),
		errors.Is(err, vm.ErrGasUintOverflow),
		errors.Is(err, vm.ErrInvalidCode):
		return userErr(err)
	default:
		var stackErr *vm.ErrStackOverflow
		var underErr *vm.ErrStackUnderflow
		var opErr *vm.ErrInvalidOpCode
		if errors.As(err, &stackErr) || errors.As(err, &underErr) || errors.As(err, &opErr) {
			return userErr(err)
		}
		return invariant(err)
	}
}
