// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package types

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/common/hexutil"
	"github.com/stretchr/testify/require"
)

func TestDepositTxHash(t *testing.T) {
	env := &ExtendedTxEnvelope{Deposit: &DepositTx{
		SourceHash: common.HexToHash("0xad2cd5c72f8d6b25e4da049d76790993af597050965f2aee87e12f98f8c2427f"),
		From:       common.HexToAddress("0x4a04a3191b7a44a99bfd3184f0d2c2c82b98b939"),
		To:         common.HexToAddress("0x4200000000000000000000000000000000000007"),
		Mint:       uint256.MustFromHex("0x56bc75e2d63100000"),
		Value:      uint256.MustFromHex("0x56bc75e2d63100000"),
		Gas:        0x77d2e,
		IsSystemTx: false,
		Data:       hexutil.MustDecode("0xd764ad0b0001000000000000000000000000000000000000000000000000000000000000000000000000000000000000c8088d0362bb4ac757ca77e211c30503d39cef4800000000000000000000000042000000000000000000000000000000000000100000000000000000000000000000000000000000000000056bc75e2d631000000000000000000000000000000000000000000000000000000000000000030d4000000000000000000000000000000000000000000000000000000000000000c000000000000000000000000000000000000000000000000000000000000000a41635f5fd00000000000000000000000084a124e4ec6f0f9914b49dcc71669a8cac556ad600000000000000000000000084a124e4ec6f0f9914b49dcc71669a8cac556ad60000000000000000000000000000000000000000000000056bc75e2d631000000000000000000000000000000000000000000000000000000000000000000080000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000"),
	}}
	require.Equal(t,
		common.HexToHash("0xab9985077953a6544cd83c3c2a0ade7de83c19254124a74f5e9644ee8be4fc2f"),
		env.Hash(),
	)
}

func TestTxEnvelopeRoundTrip(t *testing.T) {
	vectors := []string{
		// Deposited transaction.
		"0x7ef8f8a0672dfee56b1754d9fb99b11dae8eab6dfb7246470f6f7354d7acab837eab12b294deaddeaddeaddeaddeaddeaddeaddeaddead00019442000000000000000000000000000000000000158080830f424080b8a4440a5e2000000558000c5fc50000000000000004000000006672f4bd000000000000020e00000000000000000000000000000000000000000000000000000000000000070000000000000000000000000000000000000000000000000000000000000001bc6d63f57e9fd865ae9a204a4db7fe1cff654377442541b06d020ddab88c2eeb000000000000000000000000e25583099ba105d9ec0a67f5ae86d90e50036425",
		// Canonical EIP-1559 transaction.
		"0x02f86f82a45580808346a8928252089465d08a056c17ae13370565b04cf77d2afa1cb9fa8806f05b59d3b2000080c080a0dd50efde9a4d2f01f5248e1a983165c8cfa5f193b07b4b094f4078ad4717c1e4a017db1be1e8751b09e033bcffca982d0fe4919ff6b8594654e06647dee9292750",
	}
	for _, v := range vectors {
		raw := hexutil.MustDecode(v)
		env, err := DecodeTxEnvelope(raw)
		require.NoError(t, err)
		require.Equal(t, raw, env.EncodeBytes())
	}
}

func TestDecodeEmptyTxBytes(t *testing.T) {
	_, err := DecodeTxEnvelope(nil)
	require.ErrorIs(t, err, ErrEmptyTxBytes)
}

func TestL2ContractWindow(t *testing.T) {
	require.True(t, IsL2ContractAddress(L2LowestAddress))
	require.True(t, IsL2ContractAddress(L2HighestAddress))
	require.True(t, IsL2ContractAddress(common.HexToAddress("0x4200000000000000000000000000000000000015")))
	require.False(t, IsL2ContractAddress(common.HexToAddress("0x4200000000000000000000000000000000000100")))
	require.False(t, IsL2ContractAddress(common.HexToAddress("0x41ffffffffffffffffffffffffffffffffffffff")))
}

func TestEffectiveGasPrice(t *testing.T) {
	tx := &NormalizedTx{
		MaxFeePerGas:         uint256.NewInt(100),
		MaxPriorityFeePerGas: uint256.NewInt(10),
	}
	require.Equal(t, uint256.NewInt(60), tx.EffectiveGasPrice(uint256.NewInt(50)))
	require.Equal(t, uint256.NewInt(10), tx.TipPerGas(uint256.NewInt(50)))

	// Fee cap clamps the price and therefore the tip.
	require.Equal(t, uint256.NewInt(100), tx.EffectiveGasPrice(uint256.NewInt(95)))
	require.Equal(t, uint256.NewInt(5), tx.TipPerGas(uint256.NewInt(95)))
}
