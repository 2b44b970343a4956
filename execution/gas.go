// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package execution

import "errors"

// Gas schedule of the MVM meter.
const (
	txBaseGas         = 21_000
	txDataNonZeroGas  = 16
	txDataZeroGas     = 4
	ioPerByteGas      = 2
	publishPerByteGas = 8
	nativeCallGas     = 500
	resourceAccessGas = 40
)

var ErrOutOfGas = errors.New("out of gas")

// GasMeter meters MVM execution against the transaction gas limit. The EVM
// native draws its gas budget from the same meter so both VMs share one
// limit.
type GasMeter struct {
	limit uint64
	used  uint64
}

// NewGasMeter creates a meter with the given limit.
func NewGasMeter(limit uint64) *GasMeter {
	return &GasMeter{limit: limit}
}

// Charge consumes amount, failing with ErrOutOfGas when the limit would be
// exceeded. The meter stays saturated at the limit after a failure.
func (m *GasMeter) Charge(amount uint64) error {
	remaining := m.limit - m.used
	if amount > remaining {
		m.used = m.limit
		return ErrOutOfGas
	}
	m.used += amount
	return nil
}

// ChargeIntrinsic charges the flat transaction cost plus the calldata
// profile, like the Ethereum intrinsic gas.
func (m *GasMeter) ChargeIntrinsic(data []byte) error {
	cost := uint64(txBaseGas)
	for _, b := range data {
		if b == 0 {
			cost += txDataZeroGas
		} else {
			cost += txDataNonZeroGas
		}
	}
	return m.Charge(cost)
}

// ChargeIO charges the per-byte IO cost of carrying the transaction.
func (m *GasMeter) ChargeIO(data []byte) error {
	return m.Charge(uint64(len(data)) * ioPerByteGas)
}

// Used returns the gas consumed so far.
func (m *GasMeter) Used() uint64 { return m.used }

// Remaining returns the gas left under the limit.
func (m *GasMeter) Remaining() uint64 { return m.limit - m.used }

// Unmetered returns a fresh meter that never runs out; fee transfers and
// refunds use it because their cost is already covered by the intrinsic
// charge.
func Unmetered() *GasMeter {
	return &GasMeter{limit: ^uint64(0)}
}
