// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package types

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
)

var (
	// ErrUnsupportedTxType marks canonical envelopes the engine refuses to
	// execute (blob and set-code transactions).
	ErrUnsupportedTxType = errors.New("unsupported transaction type")
)

// NormalizedTx is a canonical transaction reduced to the fields the executor
// needs, with the signer already recovered. Legacy and EIP-2930 transactions
// surface their gas price as both fee caps.
type NormalizedTx struct {
	Signer               common.Address
	To                   *common.Address // nil means create
	Nonce                uint64
	Value                *uint256.Int
	Data                 []byte
	ChainID              *uint256.Int // nil when the tx is unprotected
	GasLimit             uint64
	MaxPriorityFeePerGas *uint256.Int
	MaxFeePerGas         *uint256.Int
	AccessList           types.AccessList
}

// NormalizeTx validates the envelope type and recovers the signer.
func NormalizeTx(tx *types.Transaction) (*NormalizedTx, error) {
	switch tx.Type() {
	case types.LegacyTxType, types.AccessListTxType, types.DynamicFeeTxType:
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedTxType, tx.Type())
	}
	signer, err := recoverSigner(tx)
	if err != nil {
		return nil, err
	}
	var chainID *uint256.Int
	if tx.Protected() {
		chainID = uint256.MustFromBig(tx.ChainId())
	}
	return &NormalizedTx{
		Signer:               signer,
		To:                   tx.To(),
		Nonce:                tx.Nonce(),
		Value:                uint256.MustFromBig(tx.Value()),
		Data:                 tx.Data(),
		ChainID:              chainID,
		GasLimit:             tx.Gas(),
		MaxPriorityFeePerGas: uint256.MustFromBig(tx.GasTipCap()),
		MaxFeePerGas:         uint256.MustFromBig(tx.GasFeeCap()),
		AccessList:           tx.AccessList(),
	}, nil
}

// EffectiveGasPrice is min(maxFee, baseFee+maxPriorityFee).
func (tx *NormalizedTx) EffectiveGasPrice(baseFee *uint256.Int) *uint256.Int {
	price := new(uint256.Int).Add(baseFee, tx.MaxPriorityFeePerGas)
	if price.Gt(tx.MaxFeePerGas) {
		return new(uint256.Int).Set(tx.MaxFeePerGas)
	}
	return price
}

// TipPerGas is the priority fee actually paid per unit of gas.
func (tx *NormalizedTx) TipPerGas(baseFee *uint256.Int) *uint256.Int {
	price := tx.EffectiveGasPrice(baseFee)
	if price.Lt(baseFee) {
		return uint256.NewInt(0)
	}
	return price.Sub(price, baseFee)
}

// NormalizedExtendedTx pairs the envelope with its normalized form; deposits
// have no normalized canonical part.
type NormalizedExtendedTx struct {
	Canonical *NormalizedTx
	Deposit   *DepositTx
}

// NormalizeEnvelope lifts an extended envelope into its normalized form.
func NormalizeEnvelope(e *ExtendedTxEnvelope) (*NormalizedExtendedTx, error) {
	if e.Deposit != nil {
		return &NormalizedExtendedTx{Deposit: e.Deposit}, nil
	}
	tx, err := NormalizeTx(e.Canonical)
	if err != nil {
		return nil, err
	}
	return &NormalizedExtendedTx{Canonical: tx}, nil
}

// GasLimit of the transaction; deposits do not consume the L2 gas pool.
func (tx *NormalizedExtendedTx) GasLimit() uint64 {
	if tx.Canonical == nil {
		return tx.Deposit.Gas
	}
	return tx.Canonical.GasLimit
}

// EffectiveGasPrice of the transaction; zero for deposits.
func (tx *NormalizedExtendedTx) EffectiveGasPrice(baseFee *uint256.Int) *uint256.Int {
	if tx.Canonical == nil {
		return uint256.NewInt(0)
	}
	return tx.Canonical.EffectiveGasPrice(baseFee)
}

// TipPerGas of the transaction; zero for deposits.
func (tx *NormalizedExtendedTx) TipPerGas(baseFee *uint256.Int) *uint256.Int {
	if tx.Canonical == nil {
		return uint256.NewInt(0)
	}
	return tx.Canonical.TipPerGas(baseFee)
}

// Sender of the transaction.
func (tx *NormalizedExtendedTx) Sender() common.Address {
	if tx.Canonical == nil {
		return tx.Deposit.From
	}
	return tx.Canonical.Signer
}
