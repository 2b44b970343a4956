// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package engine implements the Engine API methods the consensus driver
// calls: engine_forkchoiceUpdatedV3, engine_getPayloadV3 and
// engine_newPayloadV3. Methods take raw JSON params and translate onto the
// command queue and the reader.
package engine

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/common/hexutil"

	"github.com/luxfi/mevm/app"
	"github.com/luxfi/mevm/types"
)

// Error is the JSON-RPC 2.0 error shape with stable codes.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string { return fmt.Sprintf("engine error %d: %s", e.Code, e.Message) }

const (
	CodeInvalidParams    = -32602
	CodeUnknownMethod    = -32601
	CodeUnknownBlockHash = -1
)

func invalidParams(message string) *Error {
	return &Error{Code: CodeInvalidParams, Message: message}
}

// API binds the Engine API methods to the application.
type API struct {
	queue     *app.CommandQueue
	reader    *app.Reader
	payloadID app.PayloadIDSource
}

// NewAPI builds the Engine API surface.
func NewAPI(queue *app.CommandQueue, reader *app.Reader, payloadID app.PayloadIDSource) *API {
	return &API{queue: queue, reader: reader, payloadID: payloadID}
}

// Dispatch routes one engine_ method by name.
func (a *API) Dispatch(method string, params json.RawMessage) (interface{}, error) {
	switch method {
	case "engine_forkchoiceUpdatedV3":
		return a.ForkchoiceUpdatedV3(params)
	case "engine_getPayloadV3":
		return a.GetPayloadV3(params)
	case "engine_newPayloadV3":
		return a.NewPayloadV3(params)
	default:
		return nil, &Error{Code: CodeUnknownMethod, Message: "unknown method " + method}
	}
}

func parseParams(params json.RawMessage) ([]json.RawMessage, *Error) {
	var list []json.RawMessage
	if err := json.Unmarshal(params, &list); err != nil {
		return nil, invalidParams("params must be an array")
	}
	return list, nil
}

// ForkchoiceUpdatedV3 moves the head and, when payload attributes are
// present, kicks off a deterministic block build.
func (a *API) ForkchoiceUpdatedV3(params json.RawMessage) (*types.ForkchoiceUpdatedResponse, error) {
	list, perr := parseParams(params)
	if perr != nil {
		return nil, perr
	}
	if len(list) == 0 {
		return nil, invalidParams("not enough params")
	}
	if len(list) > 2 {
		return nil, invalidParams("too many params")
	}
	var forkchoice types.ForkchoiceState
	if err := json.Unmarshal(list[0], &forkchoice); err != nil {
		return nil, invalidParams("malformed forkchoice state: " + err.Error())
	}
	var attrs *types.PayloadAttributes
	if len(list) == 2 && !bytes.Equal(bytes.TrimSpace(list[1]), []byte("null")) {
		attrs = new(types.PayloadAttributes)
		if err := json.Unmarshal(list[1], attrs); err != nil {
			return nil, invalidParams("malformed payload attributes: " + err.Error())
		}
	}

	a.queue.Send(app.UpdateHead{BlockHash: forkchoice.HeadBlockHash})

	response := &types.ForkchoiceUpdatedResponse{
		PayloadStatus: types.ValidStatus(forkchoice.HeadBlockHash),
	}
	if attrs != nil {
		id := a.payloadID.PayloadID(forkchoice.HeadBlockHash, attrs)
		a.queue.Send(app.StartBlockBuild{Attrs: attrs, ID: id})
		a.queue.WaitForPendingCommands()
		response.PayloadID = &id
	}
	return response, nil
}

// GetPayloadV3 returns the payload previously built for the id, null when
// unknown. Every built payload stays retrievable by its id.
func (a *API) GetPayloadV3(params json.RawMessage) (*types.PayloadResponse, error) {
	list, perr := parseParams(params)
	if perr != nil {
		return nil, perr
	}
	if len(list) != 1 {
		return nil, invalidParams("expected one param")
	}
	var id types.PayloadID
	if err := json.Unmarshal(list[0], &id); err != nil {
		return nil, invalidParams("malformed payload id: " + err.Error())
	}
	return a.reader.PayloadByID(id), nil
}

// NewPayloadV3 validates a delivered payload against the retained body of
// the same block hash, field by field.
func (a *API) NewPayloadV3(params json.RawMessage) (*types.PayloadStatus, error) {
	list, perr := parseParams(params)
	if perr != nil {
		return nil, perr
	}
	if len(list) < 3 {
		return nil, invalidParams("not enough params")
	}
	if len(list) > 3 {
		return nil, invalidParams("too many params")
	}
	var payload types.ExecutionPayload
	if err := json.Unmarshal(list[0], &payload); err != nil {
		return nil, invalidParams("malformed execution payload: " + err.Error())
	}
	var blobHashes []common.Hash
	if err := json.Unmarshal(list[1], &blobHashes); err != nil {
		return nil, invalidParams("malformed blob versioned hashes: " + err.Error())
	}
	var parentBeaconBlockRoot common.Hash
	if err := json.Unmarshal(list[2], &parentBeaconBlockRoot); err != nil {
		return nil, invalidParams("malformed parent beacon block root: " + err.Error())
	}

	known := a.reader.PayloadByBlockHash(payload.BlockHash)
	if known == nil {
		data, _ := json.Marshal(payload.BlockHash)
		return nil, &Error{Code: CodeUnknownBlockHash, Message: "Unknown block hash", Data: data}
	}
	status := validatePayload(&payload, blobHashes, parentBeaconBlockRoot, known)
	return &status, nil
}

// validatePayload compares the delivered payload with the retained one. The
// compare order is part of the external behavior: the first differing field
// names the validation error.
func validatePayload(payload *types.ExecutionPayload, blobHashes []common.Hash, parentBeaconBlockRoot common.Hash, known *types.PayloadResponse) types.PayloadStatus {
	expected := known.ExecutionPayload
	switch {
	case payload.BlockNumber != expected.BlockNumber:
		return types.InvalidStatus("Incorrect block height")
	case !bytes.Equal(payload.ExtraData, expected.ExtraData):
		return types.InvalidStatus("Incorrect extra data")
	case payload.FeeRecipient != expected.FeeRecipient:
		return types.InvalidStatus("Incorrect fee recipient")
	case payload.GasLimit != expected.GasLimit:
		return types.InvalidStatus("Incorrect gas limit")
	case payload.ParentHash != expected.ParentHash:
		return types.InvalidStatus("Incorrect parent hash")
	case payload.PrevRandao != expected.PrevRandao:
		return types.InvalidStatus("Incorrect prev randao")
	case payload.Timestamp != expected.Timestamp:
		return types.InvalidStatus("Incorrect timestamp")
	case payload.StateRoot != expected.StateRoot:
		return types.InvalidStatus("Incorrect state root")
	case payload.ReceiptsRoot != expected.ReceiptsRoot:
		return types.InvalidStatus("Incorrect receipts root")
	case payload.GasUsed != expected.GasUsed:
		return types.InvalidStatus("Incorrect gas used")
	case !bytes.Equal(payload.LogsBloom, expected.LogsBloom):
		return types.InvalidStatus("Incorrect logs bloom")
	case !transactionsEqual(payload.Transactions, expected.Transactions):
		return types.InvalidStatus("Incorrect transactions")
	case !withdrawalsEqual(payload, expected):
		return types.InvalidStatus("Incorrect withdrawals")
	case len(blobHashes) != 0:
		return types.InvalidStatus("Unexpected blob hashes")
	case parentBeaconBlockRoot != known.ParentBeaconBlockRoot:
		return types.InvalidStatus("Incorrect parent beacon block root")
	default:
		return types.ValidStatus(payload.BlockHash)
	}
}

func transactionsEqual(a, b []hexutil.Bytes) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !bytes.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

func withdrawalsEqual(payload, expected *types.ExecutionPayload) bool {
	if len(payload.Withdrawals) != len(expected.Withdrawals) {
		return false
	}
	for i := range payload.Withdrawals {
		if *payload.Withdrawals[i] != *expected.Withdrawals[i] {
			return false
		}
	}
	return true
}
