// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package fees implements the gas pricing policy: the EIP-1559 base-fee
// curve, the L1 data fee derived from the L1-attributes deposit, and the L2
// execution fee.
package fees

import (
	"encoding/binary"
	"errors"

	"github.com/holiman/uint256"
)

// EIP-1559 parameters of the L2 chain.
const (
	ElasticityMultiplier     = 6
	BaseFeeChangeDenominator = 250
)

// Eip1559GasFee computes the base fee of a child block from its parent.
type Eip1559GasFee struct{}

// BaseFeePerGas applies the EIP-1559 curve to the parent block numbers.
func (Eip1559GasFee) BaseFeePerGas(parentGasLimit, parentGasUsed uint64, parentBaseFee *uint256.Int) *uint256.Int {
	target := parentGasLimit / ElasticityMultiplier
	if target == 0 {
		return new(uint256.Int).Set(parentBaseFee)
	}
	switch {
	case parentGasUsed == target:
		return new(uint256.Int).Set(parentBaseFee)
	case parentGasUsed > target:
		delta := new(uint256.Int).Mul(parentBaseFee, uint256.NewInt(parentGasUsed-target))
		delta.Div(delta, uint256.NewInt(target))
		delta.Div(delta, uint256.NewInt(BaseFeeChangeDenominator))
		if delta.IsZero() {
			delta.SetOne()
		}
		return new(uint256.Int).Add(parentBaseFee, delta)
	default:
		delta := new(uint256.Int).Mul(parentBaseFee, uint256.NewInt(target-parentGasUsed))
		delta.Div(delta, uint256.NewInt(target))
		delta.Div(delta, uint256.NewInt(BaseFeeChangeDenominator))
		out := new(uint256.Int)
		if parentBaseFee.Gt(delta) {
			out.Sub(parentBaseFee, delta)
		}
		return out
	}
}

// l1AttributesSelector is the first four bytes of the L1-attributes deposit
// calldata carrying the L1 fee parameters.
var l1AttributesSelector = [4]byte{0x44, 0x0a, 0x5e, 0x20}

const l1AttributesLen = 4 + 4 + 4 + 8 + 8 + 8 + 32 + 32 + 32 + 32

var ErrNotL1Attributes = errors.New("calldata is not an L1 attributes update")

// L1Attributes is the slice of L1 chain state posted into every block by the
// sequencer's first deposit.
type L1Attributes struct {
	BaseFeeScalar     uint32
	BlobBaseFeeScalar uint32
	SequenceNumber    uint64
	Timestamp         uint64
	Number            uint64
	BaseFee           *uint256.Int
	BlobBaseFee       *uint256.Int
	Hash              [32]byte
	BatcherHash       [32]byte
}

// ParseL1Attributes decodes the calldata window of the L1 attributes deposit.
func ParseL1Attributes(data []byte) (*L1Attributes, error) {
	if len(data) < l1AttributesLen || [4]byte(data[:4]) != l1AttributesSelector {
		return nil, ErrNotL1Attributes
	}
	attrs := &L1Attributes{
		BaseFeeScalar:     binary.BigEndian.Uint32(data[4:8]),
		BlobBaseFeeScalar: binary.BigEndian.Uint32(data[8:12]),
		SequenceNumber:    binary.BigEndian.Uint64(data[12:20]),
		Timestamp:         binary.BigEndian.Uint64(data[20:28]),
		Number:            binary.BigEndian.Uint64(data[28:36]),
		BaseFee:           new(uint256.Int).SetBytes(data[36:68]),
		BlobBaseFee:       new(uint256.Int).SetBytes(data[68:100]),
	}
	copy(attrs.Hash[:], data[100:132])
	copy(attrs.BatcherHash[:], data[132:164])
	return attrs, nil
}

// L1GasFee prices the L1 data cost of canonical transactions for one block.
// It exists only when the block's first deposit carried L1 attributes.
type L1GasFee struct {
	attrs *L1Attributes
}

// NewL1GasFee builds the per-block L1 pricer from the first deposit's
// calldata; returns nil when the calldata is not an attributes update.
func NewL1GasFee(depositData []byte) *L1GasFee {
	attrs, err := ParseL1Attributes(depositData)
	if err != nil {
		return nil
	}
	return &L1GasFee{attrs: attrs}
}

// RollupDataGas is the L1 calldata gas profile of raw transaction bytes:
// 4 gas per zero byte, 16 per non-zero byte.
func RollupDataGas(raw []byte) uint64 {
	var zeros, nonzeros uint64
	for _, b := range raw {
		if b == 0 {
			zeros++
		} else {
			nonzeros++
		}
	}
	return zeros*4 + nonzeros*16
}

// Fee returns the L1 data fee of a transaction given its raw byte profile:
// dataGas × (16·baseFeeScalar·l1BaseFee + blobBaseFeeScalar·l1BlobBaseFee) / 16e6.
func (f *L1GasFee) Fee(raw []byte) *uint256.Int {
	if f == nil {
		return uint256.NewInt(0)
	}
	dataGas := RollupDataGas(raw)
	scaled := new(uint256.Int).Mul(f.attrs.BaseFee, uint256.NewInt(uint64(f.attrs.BaseFeeScalar)))
	scaled.Mul(scaled, uint256.NewInt(16))
	blob := new(uint256.Int).Mul(f.attrs.BlobBaseFee, uint256.NewInt(uint64(f.attrs.BlobBaseFeeScalar)))
	scaled.Add(scaled, blob)
	scaled.Mul(scaled, uint256.NewInt(dataGas))
	return scaled.Div(scaled, uint256.NewInt(16_000_000))
}

// BlockInfo exposes the parsed attributes for receipt stamping; nil when the
// block carried no attributes update.
func (f *L1GasFee) BlockInfo() *L1Attributes {
	if f == nil {
		return nil
	}
	return f.attrs
}

// L2GasFeeInput is the (gas, price) pair the L2 fee is computed over.
type L2GasFeeInput struct {
	Gas               uint64
	EffectiveGasPrice *uint256.Int
}

// L2GasFee prices L2 execution with a configurable multiplier used for
// charges and refunds.
type L2GasFee struct {
	multiplier *uint256.Int
}

// NewL2GasFee builds a pricer with the given multiplier.
func NewL2GasFee(multiplier uint64) L2GasFee {
	return L2GasFee{multiplier: uint256.NewInt(multiplier)}
}

// Fee is gas × effectivePrice × multiplier.
func (f L2GasFee) Fee(input L2GasFeeInput) *uint256.Int {
	out := new(uint256.Int).Mul(uint256.NewInt(input.Gas), input.EffectiveGasPrice)
	return out.Mul(out, f.multiplier)
}
