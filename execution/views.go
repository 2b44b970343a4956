// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package execution

import (
	"github.com/holiman/uint256"

	"github.com/luxfi/mevm/mvmtypes"
	"github.com/luxfi/mevm/state"
)

// Deterministic view helpers used by the read path. They resolve the
// base-token resources directly, with no session and no side effects.

// BalanceOf reads the base-token balance of account at the resolver's root.
func BalanceOf(resolver *state.Resolver, account mvmtypes.AccountKey) (*uint256.Int, error) {
	tag := BalanceTag()
	data, err := resolver.Resource(account, &tag)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return uint256.NewInt(0), nil
	}
	value, err := mvmtypes.DeserializeValue(data, &balanceLayout)
	if err != nil {
		return nil, invariantf("stored balance does not deserialize: %v", err)
	}
	return value.Uint, nil
}

// NonceOf reads the account nonce at the resolver's root.
func NonceOf(resolver *state.Resolver, account mvmtypes.AccountKey) (uint64, error) {
	tag := NonceTag()
	data, err := resolver.Resource(account, &tag)
	if err != nil {
		return 0, err
	}
	if data == nil {
		return 0, nil
	}
	value, err := mvmtypes.DeserializeValue(data, &nonceLayout)
	if err != nil {
		return 0, invariantf("stored nonce does not deserialize: %v", err)
	}
	return value.Uint.Uint64(), nil
}
