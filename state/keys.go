// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package state implements the versioned authenticated world state: a single
// Merkle-Patricia trie spanning both MVM resources/modules and the EVM
// account/storage model, plus per-account storage tries and historical
// read-only resolvers addressed by state root.
package state

import (
	"github.com/aptos-labs/aptos-go-sdk/bcs"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/crypto"

	"github.com/luxfi/mevm/mvmtypes"
)

// Domain separators of the four key families sharing the trie. The hashed
// key layout is stable across implementations; changing it is a hard fork.
const (
	domainResource   = 0x00
	domainModule     = 0x01
	domainEVMAccount = 0x02
	domainEVMStorage = 0x03
)

// ResourceKey hashes the trie key of an MVM resource:
// keccak256(0x00 ‖ account ‖ bcs(structTag)).
func ResourceKey(account mvmtypes.AccountKey, tag *mvmtypes.StructTag) common.Hash {
	ser := &bcs.Serializer{}
	tag.MarshalBCS(ser)
	return crypto.Keccak256Hash([]byte{domainResource}, account[:], ser.ToBytes())
}

// ModuleKey hashes the trie key of an MVM module:
// keccak256(0x01 ‖ account ‖ name).
func ModuleKey(id mvmtypes.ModuleID) common.Hash {
	return crypto.Keccak256Hash([]byte{domainModule}, id.Address[:], []byte(id.Name))
}

// EVMAccountKey hashes the trie key of an EVM account record:
// keccak256(0x02 ‖ address).
func EVMAccountKey(addr common.Address) common.Hash {
	return crypto.Keccak256Hash([]byte{domainEVMAccount}, addr.Bytes())
}

// EVMStorageKey hashes the unified-trie mirror key of an EVM storage slot:
// keccak256(0x03 ‖ address ‖ slot).
func EVMStorageKey(addr common.Address, slot common.Hash) common.Hash {
	return crypto.Keccak256Hash([]byte{domainEVMStorage}, addr.Bytes(), slot.Bytes())
}

// storageSlotKey is the key of a slot inside a per-account storage trie,
// Ethereum layout: keccak256(slot).
func storageSlotKey(slot common.Hash) []byte {
	return crypto.Keccak256(slot.Bytes())
}
