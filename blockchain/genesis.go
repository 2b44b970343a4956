// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package blockchain

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/mevm/execution"
	"github.com/luxfi/mevm/mvmtypes"
	"github.com/luxfi/mevm/state"
	"github.com/luxfi/mevm/types"
)

// GenesisImage is what the external genesis loader yields: the initial state
// changes, the table namespace writes, and the precomputed state root the
// applied changes must produce.
type GenesisImage struct {
	Changes      *state.ChangeSet
	TableChanges []state.TableChange
	StateRoot    common.Hash
}

// GenesisConfig parameterizes chain identity and the genesis block.
type GenesisConfig struct {
	ChainID        uint64
	GasLimit       uint64
	InitialBaseFee *big.Int
	Timestamp      uint64
	Treasury       mvmtypes.AccountKey
	// FundedAccounts receive dev-mode balances when no external image is
	// provided.
	FundedAccounts map[common.Address]*uint256.Int
}

// DefaultGenesisConfig is the dev-mode chain setup.
func DefaultGenesisConfig() GenesisConfig {
	return GenesisConfig{
		ChainID:        404,
		GasLimit:       30_000_000,
		InitialBaseFee: big.NewInt(1_000_000_000),
		Treasury:       mvmtypes.FrameworkAddress,
	}
}

// DevGenesisImage builds an in-repo genesis: the framework modules plus any
// dev-funded accounts. The state root field is filled by applying to a
// throwaway state.
func DevGenesisImage(config GenesisConfig) (*GenesisImage, error) {
	scratch := state.NewInMemoryState()
	resolver, err := scratch.Resolver()
	if err != nil {
		return nil, err
	}
	session := execution.NewSession(resolver, execution.Unmetered(), execution.BlockContext{}, common.Hash{})
	for _, module := range execution.FrameworkModules() {
		code, err := mvmtypes.EncodeModuleDef(module.Def)
		if err != nil {
			return nil, fmt.Errorf("encode framework module %s: %w", module.ID, err)
		}
		session.PublishModule(module.ID, code)
	}
	for addr, balance := range config.FundedAccounts {
		if err := execution.MintBaseToken(session, mvmtypes.AccountKeyFromAddress(addr), balance); err != nil {
			return nil, fmt.Errorf("fund %s: %w", addr, err)
		}
	}
	changes, _ := session.Finish()
	if err := scratch.Apply(changes); err != nil {
		return nil, err
	}
	return &GenesisImage{Changes: changes, StateRoot: scratch.StateRoot()}, nil
}

// ApplyGenesis seeds the state from an image and returns the genesis block.
// The resulting state root must match the image's precomputed root.
func ApplyGenesis(st *state.TrieState, image *GenesisImage, config GenesisConfig) (*types.ExtendedBlock, error) {
	if err := st.ApplyWithTables(image.Changes, image.TableChanges); err != nil {
		return nil, err
	}
	if image.StateRoot != (common.Hash{}) && st.StateRoot() != image.StateRoot {
		return nil, fmt.Errorf("genesis state root mismatch: computed %s, image %s", st.StateRoot(), image.StateRoot)
	}
	header := types.GenesisHeader(st.StateRoot(), config.GasLimit, config.InitialBaseFee, config.Timestamp)
	return types.NewExtendedBlock(header, nil, nil, uint256.NewInt(0)), nil
}
