// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mvmtypes

import (
	"testing"

	"github.com/aptos-labs/aptos-go-sdk/bcs"
	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"
)

func TestTransactionDataRoundTrip(t *testing.T) {
	to := common.HexToAddress("0x65d08a056c17ae13370565b04cf77d2afa1cb9fa")
	entry := &EntryFunction{
		Module:   ModuleID{Address: AccountKeyFromAddress(to), Name: "counter"},
		Function: "increment",
		TypeArgs: []TypeTag{U64Tag(), VectorTag(U8Tag())},
		Args:     [][]byte{{0x01}, {0x02, 0x03}},
	}
	cases := []*TransactionData{
		{EoaTransfer: &to},
		{ScriptOrModule: &ScriptOrModule{Module: &Module{Code: []byte{0xca, 0xfe}}}},
		{ScriptOrModule: &ScriptOrModule{Script: &Script{Code: []byte{0x01}, Args: [][]byte{{0x09}}}}},
		{EntryFunction: entry},
		{L2Contract: &to},
	}
	for _, td := range cases {
		data, err := bcs.Serialize(td)
		require.NoError(t, err)
		decoded, err := DecodeTransactionData(data)
		require.NoError(t, err)
		redone, err := bcs.Serialize(decoded)
		require.NoError(t, err)
		require.Equal(t, data, redone)
	}
}

func TestTransactionDataRejectsTrailingBytes(t *testing.T) {
	to := common.HexToAddress("0x65d08a056c17ae13370565b04cf77d2afa1cb9fa")
	data, err := bcs.Serialize(&TransactionData{EoaTransfer: &to})
	require.NoError(t, err)
	_, err = DecodeTransactionData(append(data, 0x00))
	require.Error(t, err)
}

func TestValueSerializationRoundTrip(t *testing.T) {
	stringLayout := NewStructLayout(
		StructTag{Address: FrameworkAddress, Module: "string", Name: "String"},
		FieldLayout{Name: "bytes", Layout: VectorLayout(PrimitiveLayout(KindU8))},
	)
	cases := []struct {
		value  Value
		layout Layout
	}{
		{BoolValue(true), PrimitiveLayout(KindBool)},
		{U8Value(0x7f), PrimitiveLayout(KindU8)},
		{U64Value(1 << 40), PrimitiveLayout(KindU64)},
		{U256Value(uint256.MustFromHex("0xffffffffffffffffffffffffffffffff1")), PrimitiveLayout(KindU256)},
		{AddressValue(AccountKey{31: 9}), PrimitiveLayout(KindAddress)},
		{BytesValue([]byte("hello")), VectorLayout(PrimitiveLayout(KindU8))},
		{StructValue(BytesValue([]byte("world"))), stringLayout},
	}
	for _, tc := range cases {
		data, err := SerializeValue(&tc.value, &tc.layout)
		require.NoError(t, err)
		decoded, err := DeserializeValue(data, &tc.layout)
		require.NoError(t, err)
		require.True(t, tc.value.Equal(decoded), "round trip changed value for %v", tc.layout.Kind)
	}
}

func TestDeserializeValueRejectsOversizedVector(t *testing.T) {
	layout := VectorLayout(PrimitiveLayout(KindU8))
	// Length prefix claims far more elements than bytes present.
	_, err := DeserializeValue([]byte{0xff, 0xff, 0x03, 0x01}, &layout)
	require.Error(t, err)
}

func TestModuleValidateRejectsRecursiveStruct(t *testing.T) {
	owner := AccountKey{31: 0x42}
	def := &ModuleDef{
		Name: "looper",
		Structs: []StructDef{{
			Name: "Node",
			Fields: []FieldDef{{
				Name: "next",
				Type: StructTypeTag(StructTag{Address: owner, Module: "looper", Name: "Node"}),
			}},
		}},
	}
	require.ErrorIs(t, def.Validate(owner), ErrRecursiveStruct)
}

func TestModuleValidateRejectsMutualRecursion(t *testing.T) {
	owner := AccountKey{31: 0x42}
	ref := func(name Identifier) TypeTag {
		return StructTypeTag(StructTag{Address: owner, Module: "looper", Name: name})
	}
	def := &ModuleDef{
		Name: "looper",
		Structs: []StructDef{
			{Name: "A", Fields: []FieldDef{{Name: "b", Type: ref("B")}}},
			{Name: "B", Fields: []FieldDef{{Name: "a", Type: VectorTag(ref("A"))}}},
		},
	}
	require.ErrorIs(t, def.Validate(owner), ErrRecursiveStruct)
}

func TestModuleValidateRejectsDeepNesting(t *testing.T) {
	owner := AccountKey{31: 0x42}
	// Option<Option<...<u64>...>> nested past the recursion limit.
	tag := U64Tag()
	for i := 0; i < MaxTypeDepth+1; i++ {
		tag = StructTypeTag(StructTag{
			Address:  FrameworkAddress,
			Module:   "option",
			Name:     "Option",
			TypeArgs: []TypeTag{tag},
		})
	}
	def := &ModuleDef{
		Name:      "deep",
		Functions: []FunctionDef{{Name: "main", IsEntry: true, Params: []ParamDef{{Type: tag}}}},
	}
	require.ErrorIs(t, def.Validate(owner), ErrTypeTooDeep)
}

func TestModuleValidateAcceptsStructFromOtherModule(t *testing.T) {
	owner := AccountKey{31: 0x42}
	def := &ModuleDef{
		Name: "holder",
		Structs: []StructDef{{
			Name: "Wrapper",
			Fields: []FieldDef{{
				Name: "inner",
				Type: StructTypeTag(StructTag{Address: FrameworkAddress, Module: "string", Name: "String"}),
			}},
		}},
	}
	require.NoError(t, def.Validate(owner))
}

func TestAccountKeyEmbedding(t *testing.T) {
	addr := common.HexToAddress("0x8fd379246834eac74b8419ffda202cf8051f7a03")
	key := AccountKeyFromAddress(addr)
	require.Equal(t, addr, key.EthAddress())
	require.Equal(t, make([]byte, 12), key[:12])
}
