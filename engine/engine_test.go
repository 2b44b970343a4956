// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package engine

import (
	"encoding/json"
	"testing"

	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/mevm/app"
	"github.com/luxfi/mevm/blockchain"
	"github.com/luxfi/mevm/state"
	"github.com/luxfi/mevm/types"
)

var (
	genesisHash  = common.HexToHash("0xe56ec7ba741931e8c55b7f654a6e56ed61cf8b8279bf5e3ef6ac86a11eb33a9d")
	fixedPayload = types.PayloadID{0x03, 0x42, 0x1e, 0xe5, 0x0d, 0xf4, 0x5c, 0xac}
)

func newTestAPI(t *testing.T) (*API, *app.CommandQueue) {
	t.Helper()
	config := blockchain.DefaultGenesisConfig()
	st := state.NewInMemoryState()
	image, err := blockchain.DevGenesisImage(config)
	require.NoError(t, err)
	genesis, err := blockchain.ApplyGenesis(st, image, config)
	require.NoError(t, err)
	genesis.WithHash(genesisHash)

	application := app.NewApplication(config, st, app.Hooks{})
	queue := app.NewCommandQueue(16)
	actor := app.NewActor(application, queue)
	actor.Start()
	t.Cleanup(func() {
		queue.Close()
		actor.Wait()
	})
	queue.Send(app.GenesisUpdate{Block: genesis})
	queue.WaitForPendingCommands()

	return NewAPI(queue, application.Reader(), app.FixedPayloadID{ID: fixedPayload}), queue
}

// forkchoiceParams is the params array of a real engine_forkchoiceUpdatedV3
// request.
const forkchoiceParams = `[
	{
		"finalizedBlockHash": "0x2c7cb7e2f79c2fa31f2b4280e96c34f7de981c6ccf5d0e998b51f5dc798fa53d",
		"headBlockHash": "0xe56ec7ba741931e8c55b7f654a6e56ed61cf8b8279bf5e3ef6ac86a11eb33a9d",
		"safeBlockHash": "0xc9488c812782fac769416f918718107ca8f44f98fd2fe7dbcc12b9f5afa276dd"
	},
	{
		"gasLimit": "0x1c9c380",
		"parentBeaconBlockRoot": "0x2bd857e239f7e5b5e6415608c76b90600d51fa0f7f0bbbc04e2d6861b3186f1c",
		"prevRandao": "0xbde07f5d381bb84700433fe6c0ae077aa40eaad3a5de7abd298f0e3e27e6e4c9",
		"suggestedFeeRecipient": "0x4200000000000000000000000000000000000011",
		"timestamp": "0x6660737b",
		"transactions": [],
		"withdrawals": []
	}
]`

func TestForkchoiceUpdatedV3BuildsPayload(t *testing.T) {
	api, _ := newTestAPI(t)
	response, err := api.ForkchoiceUpdatedV3(json.RawMessage(forkchoiceParams))
	require.NoError(t, err)

	require.Equal(t, types.StatusValid, response.PayloadStatus.Status)
	require.Equal(t, genesisHash, *response.PayloadStatus.LatestValidHash)
	require.Nil(t, response.PayloadStatus.ValidationError)
	require.NotNil(t, response.PayloadID)
	require.Equal(t, "0x03421ee50df45cac", response.PayloadID.String())

	encoded, err := json.Marshal(response)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"payloadStatus": {
			"status": "VALID",
			"latestValidHash": "0xe56ec7ba741931e8c55b7f654a6e56ed61cf8b8279bf5e3ef6ac86a11eb33a9d",
			"validationError": null
		},
		"payloadId": "0x03421ee50df45cac"
	}`, string(encoded))
}

func TestForkchoiceUpdatedV3WithoutAttributes(t *testing.T) {
	api, _ := newTestAPI(t)
	params := `[
		{
			"finalizedBlockHash": "0x2c7cb7e2f79c2fa31f2b4280e96c34f7de981c6ccf5d0e998b51f5dc798fa53d",
			"headBlockHash": "0xb412d0583c92bd00d1987291ba05a894af7483ff9b6e33891a47cf125f400ce2",
			"safeBlockHash": "0xe56ec7ba741931e8c55b7f654a6e56ed61cf8b8279bf5e3ef6ac86a11eb33a9d"
		},
		null
	]`
	response, err := api.ForkchoiceUpdatedV3(json.RawMessage(params))
	require.NoError(t, err)
	require.Nil(t, response.PayloadID)
	require.Equal(t, types.StatusValid, response.PayloadStatus.Status)
}

func TestForkchoiceUpdatedV3ParamCount(t *testing.T) {
	api, _ := newTestAPI(t)
	_, err := api.ForkchoiceUpdatedV3(json.RawMessage(`[]`))
	var engineErr *Error
	require.ErrorAs(t, err, &engineErr)
	require.Equal(t, CodeInvalidParams, engineErr.Code)

	_, err = api.ForkchoiceUpdatedV3(json.RawMessage(`[{}, null, null]`))
	require.ErrorAs(t, err, &engineErr)
	require.Equal(t, CodeInvalidParams, engineErr.Code)
}

func buildPayload(t *testing.T, api *API) *types.PayloadResponse {
	t.Helper()
	response, err := api.ForkchoiceUpdatedV3(json.RawMessage(forkchoiceParams))
	require.NoError(t, err)
	payload, err := api.GetPayloadV3(json.RawMessage(`["` + response.PayloadID.String() + `"]`))
	require.NoError(t, err)
	require.NotNil(t, payload)
	return payload
}

func TestGetPayloadV3UnknownID(t *testing.T) {
	api, _ := newTestAPI(t)
	payload, err := api.GetPayloadV3(json.RawMessage(`["0x0000000000000001"]`))
	require.NoError(t, err)
	require.Nil(t, payload)
}

func newPayloadParams(t *testing.T, payload *types.ExecutionPayload, beaconRoot common.Hash) json.RawMessage {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	root, err := json.Marshal(beaconRoot)
	require.NoError(t, err)
	return json.RawMessage(`[` + string(body) + `,[],` + string(root) + `]`)
}

func TestNewPayloadV3RoundTripIsValid(t *testing.T) {
	api, _ := newTestAPI(t)
	payload := buildPayload(t, api)

	status, err := api.NewPayloadV3(newPayloadParams(t, payload.ExecutionPayload, payload.ParentBeaconBlockRoot))
	require.NoError(t, err)
	require.Equal(t, types.StatusValid, status.Status)
	require.Equal(t, payload.ExecutionPayload.BlockHash, *status.LatestValidHash)
}

func TestNewPayloadV3FieldMismatch(t *testing.T) {
	api, _ := newTestAPI(t)
	payload := buildPayload(t, api)

	// The block number is the first field in the compare order.
	tampered := *payload.ExecutionPayload
	tampered.BlockNumber++
	status, err := api.NewPayloadV3(newPayloadParams(t, &tampered, payload.ParentBeaconBlockRoot))
	require.NoError(t, err)
	require.Equal(t, types.StatusInvalid, status.Status)
	require.Equal(t, "Incorrect block height", *status.ValidationError)

	tampered = *payload.ExecutionPayload
	tampered.StateRoot = common.HexToHash("0x01")
	status, err = api.NewPayloadV3(newPayloadParams(t, &tampered, payload.ParentBeaconBlockRoot))
	require.NoError(t, err)
	require.Equal(t, types.StatusInvalid, status.Status)
	require.Equal(t, "Incorrect state root", *status.ValidationError)
}

func TestNewPayloadV3RejectsBlobHashes(t *testing.T) {
	api, _ := newTestAPI(t)
	payload := buildPayload(t, api)

	body, err := json.Marshal(payload.ExecutionPayload)
	require.NoError(t, err)
	root, err := json.Marshal(payload.ParentBeaconBlockRoot)
	require.NoError(t, err)
	params := json.RawMessage(`[` + string(body) + `,["0x0100000000000000000000000000000000000000000000000000000000000000"],` + string(root) + `]`)

	status, err := api.NewPayloadV3(params)
	require.NoError(t, err)
	require.Equal(t, types.StatusInvalid, status.Status)
	require.Equal(t, "Unexpected blob hashes", *status.ValidationError)
}

func TestNewPayloadV3UnknownBlockHash(t *testing.T) {
	api, _ := newTestAPI(t)
	payload := buildPayload(t, api)

	tampered := *payload.ExecutionPayload
	tampered.BlockHash = common.HexToHash("0xdead")
	_, err := api.NewPayloadV3(newPayloadParams(t, &tampered, payload.ParentBeaconBlockRoot))
	var engineErr *Error
	require.ErrorAs(t, err, &engineErr)
	require.Equal(t, CodeUnknownBlockHash, engineErr.Code)
	require.Equal(t, "Unknown block hash", engineErr.Message)
}

func TestDispatchUnknownMethod(t *testing.T) {
	api, _ := newTestAPI(t)
	_, err := api.Dispatch("engine_getPayloadV9000", json.RawMessage(`[]`))
	var engineErr *Error
	require.ErrorAs(t, err, &engineErr)
	require.Equal(t, CodeUnknownMethod, engineErr.Code)
}
