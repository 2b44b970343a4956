// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package types

import (
	"errors"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/common/hexutil"
	"github.com/luxfi/geth/core/types"
)

// PayloadID is the 8-byte identifier of an in-flight block build.
type PayloadID [8]byte

func (id PayloadID) String() string { return hexutil.Encode(id[:]) }

// MarshalText implements the Engine API hex representation.
func (id PayloadID) MarshalText() ([]byte, error) {
	return hexutil.Bytes(id[:]).MarshalText()
}

// UnmarshalText parses the Engine API hex representation.
func (id *PayloadID) UnmarshalText(input []byte) error {
	var b hexutil.Bytes
	if err := b.UnmarshalText(input); err != nil {
		return err
	}
	if len(b) != len(id) {
		return errors.New("payload id must be 8 bytes")
	}
	copy(id[:], b)
	return nil
}

// PayloadAttributes are the build parameters delivered with
// engine_forkchoiceUpdatedV3. Transactions and NoTxPool are the op-stack
// extensions.
type PayloadAttributes struct {
	Timestamp             hexutil.Uint64      `json:"timestamp"`
	PrevRandao            common.Hash         `json:"prevRandao"`
	SuggestedFeeRecipient common.Address      `json:"suggestedFeeRecipient"`
	Withdrawals           []*types.Withdrawal `json:"withdrawals"`
	ParentBeaconBlockRoot common.Hash         `json:"parentBeaconBlockRoot"`
	Transactions          []hexutil.Bytes     `json:"transactions,omitempty"`
	NoTxPool              bool                `json:"noTxPool,omitempty"`
	GasLimit              hexutil.Uint64      `json:"gasLimit"`
}

// ExecutionPayload is the V3 (Cancun) execution payload shape.
type ExecutionPayload struct {
	ParentHash    common.Hash         `json:"parentHash"`
	FeeRecipient  common.Address      `json:"feeRecipient"`
	StateRoot     common.Hash         `json:"stateRoot"`
	ReceiptsRoot  common.Hash         `json:"receiptsRoot"`
	LogsBloom     hexutil.Bytes       `json:"logsBloom"`
	PrevRandao    common.Hash         `json:"prevRandao"`
	BlockNumber   hexutil.Uint64      `json:"blockNumber"`
	GasLimit      hexutil.Uint64      `json:"gasLimit"`
	GasUsed       hexutil.Uint64      `json:"gasUsed"`
	Timestamp     hexutil.Uint64      `json:"timestamp"`
	ExtraData     hexutil.Bytes       `json:"extraData"`
	BaseFeePerGas *hexutil.Big        `json:"baseFeePerGas"`
	BlockHash     common.Hash         `json:"blockHash"`
	Transactions  []hexutil.Bytes     `json:"transactions"`
	Withdrawals   []*types.Withdrawal `json:"withdrawals"`
	BlobGasUsed   hexutil.Uint64      `json:"blobGasUsed"`
	ExcessBlobGas hexutil.Uint64      `json:"excessBlobGas"`
}

// BlobsBundle is always empty: blob transactions are unsupported.
type BlobsBundle struct {
	Commitments []hexutil.Bytes `json:"commitments"`
	Proofs      []hexutil.Bytes `json:"proofs"`
	Blobs       []hexutil.Bytes `json:"blobs"`
}

// PayloadResponse is the engine_getPayloadV3 response body, retained per
// built block for later validation by engine_newPayloadV3.
type PayloadResponse struct {
	ExecutionPayload      *ExecutionPayload `json:"executionPayload"`
	BlockValue            *hexutil.Big      `json:"blockValue"`
	BlobsBundle           *BlobsBundle      `json:"blobsBundle"`
	ShouldOverrideBuilder bool              `json:"shouldOverrideBuilder"`
	ParentBeaconBlockRoot common.Hash       `json:"parentBeaconBlockRoot"`
}

// PayloadResponseFromBlock serializes a freshly built block into the payload
// shape retained for the Engine API.
func PayloadResponseFromBlock(b *ExtendedBlock) *PayloadResponse {
	header := b.Header
	txs := make([]hexutil.Bytes, len(b.Transactions))
	for i, tx := range b.Transactions {
		txs[i] = tx.EncodeBytes()
	}
	withdrawals := b.Withdrawals
	if withdrawals == nil {
		withdrawals = []*types.Withdrawal{}
	}
	var beaconRoot common.Hash
	if header.ParentBeaconRoot != nil {
		beaconRoot = *header.ParentBeaconRoot
	}
	payload := &ExecutionPayload{
		ParentHash:    header.ParentHash,
		FeeRecipient:  header.Coinbase,
		StateRoot:     header.Root,
		ReceiptsRoot:  header.ReceiptHash,
		LogsBloom:     header.Bloom.Bytes(),
		PrevRandao:    header.MixDigest,
		BlockNumber:   hexutil.Uint64(header.Number.Uint64()),
		GasLimit:      hexutil.Uint64(header.GasLimit),
		GasUsed:       hexutil.Uint64(header.GasUsed),
		Timestamp:     hexutil.Uint64(header.Time),
		ExtraData:     header.Extra,
		BaseFeePerGas: (*hexutil.Big)(header.BaseFee),
		BlockHash:     b.Hash,
		Transactions:  txs,
		Withdrawals:   withdrawals,
	}
	if header.BlobGasUsed != nil {
		payload.BlobGasUsed = hexutil.Uint64(*header.BlobGasUsed)
	}
	if header.ExcessBlobGas != nil {
		payload.ExcessBlobGas = hexutil.Uint64(*header.ExcessBlobGas)
	}
	return &PayloadResponse{
		ExecutionPayload: payload,
		BlockValue:       (*hexutil.Big)(b.Value.ToBig()),
		BlobsBundle: &BlobsBundle{
			Commitments: []hexutil.Bytes{},
			Proofs:      []hexutil.Bytes{},
			Blobs:       []hexutil.Bytes{},
		},
		ParentBeaconBlockRoot: beaconRoot,
	}
}

// ForkchoiceState is the first engine_forkchoiceUpdatedV3 parameter.
type ForkchoiceState struct {
	HeadBlockHash      common.Hash `json:"headBlockHash"`
	SafeBlockHash      common.Hash `json:"safeBlockHash"`
	FinalizedBlockHash common.Hash `json:"finalizedBlockHash"`
}

// PayloadStatus is the Engine API payload validation result.
type PayloadStatus struct {
	Status          string       `json:"status"`
	LatestValidHash *common.Hash `json:"latestValidHash"`
	ValidationError *string      `json:"validationError"`
}

const (
	StatusValid   = "VALID"
	StatusInvalid = "INVALID"
)

// ForkchoiceUpdatedResponse is the engine_forkchoiceUpdatedV3 response.
type ForkchoiceUpdatedResponse struct {
	PayloadStatus PayloadStatus `json:"payloadStatus"`
	PayloadID     *PayloadID    `json:"payloadId"`
}

// ValidStatus builds the VALID payload status pointing at hash.
func ValidStatus(hash common.Hash) PayloadStatus {
	h := hash
	return PayloadStatus{Status: StatusValid, LatestValidHash: &h}
}

// InvalidStatus builds an INVALID payload status carrying reason.
func InvalidStatus(reason string) PayloadStatus {
	r := reason
	return PayloadStatus{Status: StatusInvalid, ValidationError: &r}
}
