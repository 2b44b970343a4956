// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package execution

import (
	"fmt"

	"github.com/luxfi/mevm/mvmtypes"
)

// The framework modules published at genesis. Their entry functions are
// bound to Go natives; everything else in them exists so deploy-time and
// entry-time validation can resolve the types they declare.

// EthTokenModuleID is the base-token module.
func EthTokenModuleID() mvmtypes.ModuleID {
	return mvmtypes.ModuleID{Address: mvmtypes.FrameworkAddress, Name: tokenModuleName}
}

// EVMModuleID hosts the EVM natives and the Solidity marker structs.
func EVMModuleID() mvmtypes.ModuleID {
	return mvmtypes.ModuleID{Address: mvmtypes.EVMNativeAddress, Name: evmModuleName}
}

func registerFrameworkNatives(e *Executor) {
	e.RegisterNative(EthTokenModuleID(), "transfer", nativeEthTokenTransfer)
	e.RegisterNative(EVMModuleID(), "call", nativeEVMCall)
	e.RegisterNative(EVMModuleID(), "create", nativeEVMCreate)
}

// nativeEthTokenTransfer implements eth_token::transfer(signer, to, amount).
func nativeEthTokenTransfer(s *Session, e *Executor, signer mvmtypes.AccountKey, _ []mvmtypes.TypeTag, args []*mvmtypes.Value) error {
	if len(args) != 3 {
		return invalidTx(ErrMismatchedArgumentCount)
	}
	to := args[1].Address
	amount := args[2].Uint
	if amount == nil {
		return invalidTx(fmt.Errorf("%w: transfer amount", ErrInvalidPayload))
	}
	return TransferBaseToken(s, signer, to, amount)
}

// nativeEVMCall implements evm::call(signer, to, value, data).
func nativeEVMCall(s *Session, e *Executor, signer mvmtypes.AccountKey, _ []mvmtypes.TypeTag, args []*mvmtypes.Value) error {
	if len(args) != 4 {
		return invalidTx(ErrMismatchedArgumentCount)
	}
	to := args[1].Address.EthAddress()
	value := args[2].Uint
	data, err := args[3].AsBytes()
	if err != nil {
		return invalidTx(fmt.Errorf("%w: call data", ErrInvalidPayload))
	}
	_, err = EVMCall(s, signer.EthAddress(), to, value, data, e.ChainID)
	return err
}

// nativeEVMCreate implements evm::create(signer, value, data).
func nativeEVMCreate(s *Session, e *Executor, signer mvmtypes.AccountKey, _ []mvmtypes.TypeTag, args []*mvmtypes.Value) error {
	if len(args) != 3 {
		return invalidTx(ErrMismatchedArgumentCount)
	}
	value := args[1].Uint
	data, err := args[2].AsBytes()
	if err != nil {
		return invalidTx(fmt.Errorf("%w: init code", ErrInvalidPayload))
	}
	_, err = EVMCreate(s, signer.EthAddress(), value, data, e.ChainID)
	return err
}

// FrameworkModule pairs a module id with its definition.
type FrameworkModule struct {
	ID  mvmtypes.ModuleID
	Def *mvmtypes.ModuleDef
}

// FrameworkModules returns the module definitions seeded at genesis.
func FrameworkModules() []FrameworkModule {
	bytesVec := mvmtypes.VectorTag(mvmtypes.U8Tag())
	return []FrameworkModule{
		{
			ID: EthTokenModuleID(),
			Def: &mvmtypes.ModuleDef{
				Name: tokenModuleName,
				Structs: []mvmtypes.StructDef{
					{Name: balanceStructName, Fields: []mvmtypes.FieldDef{{Name: "value", Type: mvmtypes.U256Tag()}}},
					{Name: nonceStructName, Fields: []mvmtypes.FieldDef{{Name: "value", Type: mvmtypes.U64Tag()}}},
				},
				Functions: []mvmtypes.FunctionDef{
					{
						Name:    "transfer",
						IsEntry: true,
						Params: []mvmtypes.ParamDef{
							{RefDepth: 1, Type: mvmtypes.SignerTag()},
							{Type: mvmtypes.AddressTag()},
							{Type: mvmtypes.U256Tag()},
						},
						NativeName: "transfer",
					},
					{
						Name:       "get_balance",
						Params:     []mvmtypes.ParamDef{{Type: mvmtypes.AddressTag()}},
						NativeName: "get_balance",
					},
				},
			},
		},
		{
			ID: EVMModuleID(),
			Def: &mvmtypes.ModuleDef{
				Name: evmModuleName,
				Structs: []mvmtypes.StructDef{
					{Name: "SolidityFixedBytes", Fields: []mvmtypes.FieldDef{{Name: "bytes", Type: bytesVec}}},
					{Name: "SolidityFixedArray", Fields: []mvmtypes.FieldDef{{Name: "elements", Type: bytesVec}}},
				},
				Functions: []mvmtypes.FunctionDef{
					{
						Name:    "call",
						IsEntry: true,
						Params: []mvmtypes.ParamDef{
							{RefDepth: 1, Type: mvmtypes.SignerTag()},
							{Type: mvmtypes.AddressTag()},
							{Type: mvmtypes.U256Tag()},
							{Type: bytesVec},
						},
						NativeName: "call",
					},
					{
						Name:    "create",
						IsEntry: true,
						Params: []mvmtypes.ParamDef{
							{RefDepth: 1, Type: mvmtypes.SignerTag()},
							{Type: mvmtypes.U256Tag()},
							{Type: bytesVec},
						},
						NativeName: "create",
					},
				},
			},
		},
		{
			ID: mvmtypes.ModuleID{Address: mvmtypes.FrameworkAddress, Name: "string"},
			Def: &mvmtypes.ModuleDef{
				Name: "string",
				Structs: []mvmtypes.StructDef{
					{Name: "String", Fields: []mvmtypes.FieldDef{{Name: "bytes", Type: bytesVec}}},
				},
			},
		},
		{
			ID: mvmtypes.ModuleID{Address: mvmtypes.FrameworkAddress, Name: "option"},
			Def: &mvmtypes.ModuleDef{
				Name: "option",
				Structs: []mvmtypes.StructDef{
					{Name: "Option", Fields: []mvmtypes.FieldDef{{Name: "vec", Type: bytesVec}}},
				},
			},
		},
		{
			ID: mvmtypes.ModuleID{Address: mvmtypes.FrameworkAddress, Name: "object"},
			Def: &mvmtypes.ModuleDef{
				Name: "object",
				Structs: []mvmtypes.StructDef{
					{Name: "ObjectCore", Fields: []mvmtypes.FieldDef{{Name: "owner", Type: mvmtypes.AddressTag()}}},
					{Name: "Object", Fields: []mvmtypes.FieldDef{{Name: "inner", Type: mvmtypes.AddressTag()}}},
				},
			},
		},
		{
			ID: mvmtypes.ModuleID{Address: mvmtypes.FrameworkAddress, Name: "fixed_point32"},
			Def: &mvmtypes.ModuleDef{
				Name: "fixed_point32",
				Structs: []mvmtypes.StructDef{
					{Name: "FixedPoint32", Fields: []mvmtypes.FieldDef{{Name: "value", Type: mvmtypes.U64Tag()}}},
				},
			},
		},
		{
			ID: mvmtypes.ModuleID{Address: mvmtypes.FrameworkAddress, Name: "fixed_point64"},
			Def: &mvmtypes.ModuleDef{
				Name: "fixed_point64",
				Structs: []mvmtypes.StructDef{
					{Name: "FixedPoint64", Fields: []mvmtypes.FieldDef{{Name: "value", Type: mvmtypes.U128Tag()}}},
				},
			},
		},
	}
}
