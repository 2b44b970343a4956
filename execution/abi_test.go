// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package execution

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/mevm/mvmtypes"
)

func fixedBytesLayout(width mvmtypes.Identifier) mvmtypes.Layout {
	tag := FixedBytesTag()
	tag.TypeArgs = []mvmtypes.TypeTag{mvmtypes.StructTypeTag(mvmtypes.StructTag{
		Address: mvmtypes.EVMNativeAddress, Module: evmModuleName, Name: width,
	})}
	return mvmtypes.NewStructLayout(tag,
		mvmtypes.FieldLayout{Name: "bytes", Layout: mvmtypes.VectorLayout(mvmtypes.PrimitiveLayout(mvmtypes.KindU8))})
}

func paddedBytes(data []byte) mvmtypes.Value {
	padded := make([]byte, 32)
	copy(padded, data)
	return mvmtypes.StructValue(mvmtypes.BytesValue(padded))
}

func stringLayout() mvmtypes.Layout {
	return mvmtypes.NewStructLayout(StringTag(),
		mvmtypes.FieldLayout{Name: "bytes", Layout: mvmtypes.VectorLayout(mvmtypes.PrimitiveLayout(mvmtypes.KindU8))})
}

func TestABIRoundTripPrimitives(t *testing.T) {
	cases := []struct {
		name   string
		value  mvmtypes.Value
		layout mvmtypes.Layout
	}{
		{"bool", mvmtypes.BoolValue(true), mvmtypes.PrimitiveLayout(mvmtypes.KindBool)},
		{"u8", mvmtypes.U8Value(0xff), mvmtypes.PrimitiveLayout(mvmtypes.KindU8)},
		{"u16", mvmtypes.U16Value(0xabcd), mvmtypes.PrimitiveLayout(mvmtypes.KindU16)},
		{"u32", mvmtypes.U32Value(1 << 30), mvmtypes.PrimitiveLayout(mvmtypes.KindU32)},
		{"u64", mvmtypes.U64Value(1 << 60), mvmtypes.PrimitiveLayout(mvmtypes.KindU64)},
		{"u128", mvmtypes.U128Value(uint256.MustFromHex("0xffffffffffffffffffffffffffffffff")), mvmtypes.PrimitiveLayout(mvmtypes.KindU128)},
		{"u256", mvmtypes.U256Value(uint256.MustFromHex("0x1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef")), mvmtypes.PrimitiveLayout(mvmtypes.KindU256)},
		{"address", mvmtypes.AddressValue(mvmtypes.AccountKey{31: 0x42}), mvmtypes.PrimitiveLayout(mvmtypes.KindAddress)},
		{"bytes", mvmtypes.BytesValue([]byte{1, 2, 3, 4, 5}), mvmtypes.VectorLayout(mvmtypes.PrimitiveLayout(mvmtypes.KindU8))},
		{"uint64[]", mvmtypes.VectorValue(mvmtypes.U64Value(1), mvmtypes.U64Value(2), mvmtypes.U64Value(3)), mvmtypes.VectorLayout(mvmtypes.PrimitiveLayout(mvmtypes.KindU64))},
		{"string", mvmtypes.StructValue(mvmtypes.BytesValue([]byte("hello world"))), stringLayout()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			encoded, err := ABIEncodeParams(nil, &tc.value, &tc.layout)
			require.NoError(t, err)
			decoded, err := ABIDecodeParams(encoded, &tc.layout)
			require.NoError(t, err)
			require.True(t, tc.value.Equal(decoded), "round trip changed %s", tc.name)
		})
	}
}

func TestABIRoundTripFixedBytes(t *testing.T) {
	layout := fixedBytesLayout("B4")
	value := paddedBytes([]byte{0xde, 0xad, 0xbe, 0xef})
	encoded, err := ABIEncodeParams(nil, &value, &layout)
	require.NoError(t, err)
	// bytes4 head-encodes into a single word.
	require.Len(t, encoded, 32)
	require.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, encoded[:4])

	decoded, err := ABIDecodeParams(encoded, &layout)
	require.NoError(t, err)
	require.True(t, value.Equal(decoded))
}

func TestABIRejectsUnsupportedFixedBytesWidth(t *testing.T) {
	layout := fixedBytesLayout("B7")
	value := paddedBytes([]byte{1, 2, 3, 4, 5, 6, 7})
	_, err := ABIEncodeParams(nil, &value, &layout)
	require.ErrorIs(t, err, ErrUnsupportedFixedBytes)
}

func TestABITupleEncodesAsParams(t *testing.T) {
	tuple := mvmtypes.NewStructLayout(
		mvmtypes.StructTag{Address: mvmtypes.AccountKey{31: 9}, Module: "demo", Name: "Pair"},
		mvmtypes.FieldLayout{Name: "a", Layout: mvmtypes.PrimitiveLayout(mvmtypes.KindU64)},
		mvmtypes.FieldLayout{Name: "b", Layout: mvmtypes.PrimitiveLayout(mvmtypes.KindAddress)},
	)
	value := mvmtypes.StructValue(
		mvmtypes.U64Value(7),
		mvmtypes.AddressValue(mvmtypes.AccountKey{31: 0x11}),
	)
	encoded, err := ABIEncodeParams(nil, &value, &tuple)
	require.NoError(t, err)
	// Two static params, one word each.
	require.Len(t, encoded, 64)

	decoded, err := ABIDecodeParams(encoded, &tuple)
	require.NoError(t, err)
	require.True(t, value.Equal(decoded))
}

func TestABIFixedArrayEncodes(t *testing.T) {
	inner := mvmtypes.VectorLayout(mvmtypes.PrimitiveLayout(mvmtypes.KindU64))
	tag := FixedArrayTag()
	layout := mvmtypes.NewStructLayout(tag, mvmtypes.FieldLayout{Name: "elements", Layout: inner})
	value := mvmtypes.StructValue(mvmtypes.VectorValue(
		mvmtypes.U64Value(5), mvmtypes.U64Value(6), mvmtypes.U64Value(7),
	))
	encoded, err := ABIEncodeParams(nil, &value, &layout)
	require.NoError(t, err)
	// uint64[3] head-encodes as three words.
	require.Len(t, encoded, 96)

	// The length is erased by the type, so decoding is rejected.
	_, err = ABIDecodeParams(encoded, &layout)
	require.Error(t, err)
}

func TestABIPrefixIsPrepended(t *testing.T) {
	value := mvmtypes.U64Value(1)
	layout := mvmtypes.PrimitiveLayout(mvmtypes.KindU64)
	encoded, err := ABIEncodeParams([]byte{0xaa, 0xbb, 0xcc, 0xdd}, &value, &layout)
	require.NoError(t, err)
	require.Equal(t, []byte{0xaa, 0xbb, 0xcc, 0xdd}, encoded[:4])
	require.Len(t, encoded, 36)
}

func TestABIEncodeRejectsInvalidString(t *testing.T) {
	layout := stringLayout()
	value := mvmtypes.StructValue(mvmtypes.BytesValue([]byte{0xff, 0xfe}))
	_, err := ABIEncodeParams(nil, &value, &layout)
	require.ErrorIs(t, err, ErrInvalidString)
}
