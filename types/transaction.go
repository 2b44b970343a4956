// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package types defines the wire-level data model of the engine: the extended
// transaction envelope (canonical Ethereum transactions plus L1-originated
// deposits), execution payloads exchanged over the Engine API, and the
// receipts recorded per block.
package types

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	"github.com/luxfi/geth/crypto"
	"github.com/luxfi/geth/rlp"
)

// DepositTxType is the EIP-2718 type byte of the L1-originated deposit
// transaction.
const DepositTxType = 0x7e

var (
	// L2LowestAddress and L2HighestAddress bound the reserved window of
	// addresses interpreted as EVM contracts.
	L2LowestAddress  = common.HexToAddress("0x4200000000000000000000000000000000000000")
	L2HighestAddress = common.HexToAddress("0x42000000000000000000000000000000000000ff")
)

// IsL2ContractAddress reports whether addr falls in the reserved window of
// addresses routed to the EVM.
func IsL2ContractAddress(addr common.Address) bool {
	return bytes.Compare(addr.Bytes(), L2LowestAddress.Bytes()) >= 0 &&
		bytes.Compare(addr.Bytes(), L2HighestAddress.Bytes()) <= 0
}

// DepositTx is the deposited transaction type. Deposits are unsigned: the
// sender is taken from the L1 log that created them.
type DepositTx struct {
	SourceHash common.Hash    `json:"sourceHash"`
	From       common.Address `json:"from"`
	To         common.Address `json:"to"`
	Mint       *uint256.Int   `json:"mint"`
	Value      *uint256.Int   `json:"value"`
	Gas        uint64         `json:"gas"`
	IsSystemTx bool           `json:"isSystemTx"`
	Data       []byte         `json:"input"`
}

// ExtendedTxEnvelope is either a canonical Ethereum transaction
// (legacy, EIP-2930 or EIP-1559) or a deposit. Exactly one of the two fields
// is non-nil.
type ExtendedTxEnvelope struct {
	Canonical *types.Transaction
	Deposit   *DepositTx
}

var (
	ErrEmptyTxBytes = errors.New("empty transaction bytes")
)

// DecodeTxEnvelope decodes the EIP-2718 style encoding of an extended
// envelope: a leading 0x7e byte selects the deposit form, anything else is a
// canonical transaction.
func DecodeTxEnvelope(data []byte) (*ExtendedTxEnvelope, error) {
	if len(data) == 0 {
		return nil, ErrEmptyTxBytes
	}
	if data[0] == DepositTxType {
		deposit := new(DepositTx)
		if err := rlp.DecodeBytes(data[1:], deposit); err != nil {
			return nil, fmt.Errorf("decode deposit tx: %w", err)
		}
		return &ExtendedTxEnvelope{Deposit: deposit}, nil
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("decode canonical tx: %w", err)
	}
	return &ExtendedTxEnvelope{Canonical: tx}, nil
}

// EncodeBytes returns the canonical byte encoding of the envelope. The same
// encoder is used for the transactions root and for the payload body so the
// two can never disagree.
func (e *ExtendedTxEnvelope) EncodeBytes() []byte {
	if e.Deposit != nil {
		buf := bytes.NewBuffer([]byte{DepositTxType})
		if err := rlp.Encode(buf, e.Deposit); err != nil {
			panic(fmt.Sprintf("deposit tx must RLP-encode: %v", err))
		}
		return buf.Bytes()
	}
	data, err := e.Canonical.MarshalBinary()
	if err != nil {
		panic(fmt.Sprintf("canonical tx must encode: %v", err))
	}
	return data
}

// Hash is the keccak256 digest of the canonical encoding.
func (e *ExtendedTxEnvelope) Hash() common.Hash {
	if e.Canonical != nil {
		return e.Canonical.Hash()
	}
	return crypto.Keccak256Hash(e.EncodeBytes())
}

// IsDeposit reports whether the envelope carries a deposit.
func (e *ExtendedTxEnvelope) IsDeposit() bool { return e.Deposit != nil }

// Type returns the EIP-2718 type byte of the envelope.
func (e *ExtendedTxEnvelope) Type() uint8 {
	if e.Deposit != nil {
		return DepositTxType
	}
	return e.Canonical.Type()
}

// Sender returns the account responsible for the transaction: the recovered
// signer for canonical transactions, the explicit from for deposits.
func (e *ExtendedTxEnvelope) Sender() (common.Address, error) {
	if e.Deposit != nil {
		return e.Deposit.From, nil
	}
	return recoverSigner(e.Canonical)
}

func recoverSigner(tx *types.Transaction) (common.Address, error) {
	var signer types.Signer
	if tx.Protected() {
		signer = types.LatestSignerForChainID(tx.ChainId())
	} else {
		signer = types.HomesteadSigner{}
	}
	return types.Sender(signer, tx)
}

// TxEnvelopes is an ordered transaction list deriving the transactions root.
type TxEnvelopes []*ExtendedTxEnvelope

func (txs TxEnvelopes) Len() int { return len(txs) }

// EncodeIndex writes the canonical encoding of the i-th transaction, as
// required by the trie hasher.
func (txs TxEnvelopes) EncodeIndex(i int, w *bytes.Buffer) {
	w.Write(txs[i].EncodeBytes())
}
