// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/mevm/mvmtypes"
)

// ResourceChange creates, replaces or deletes one resource.
type ResourceChange struct {
	Account mvmtypes.AccountKey
	Tag     mvmtypes.StructTag
	Value   []byte
	Deleted bool
}

// ModuleChange publishes or deletes one module.
type ModuleChange struct {
	ID      mvmtypes.ModuleID
	Value   []byte
	Deleted bool
}

// EVMAccount is the account record stored for the EVM side of the state.
type EVMAccount struct {
	Balance     *uint256.Int
	Nonce       uint64
	CodeHash    common.Hash
	StorageRoot common.Hash
}

// EVMAccountChange writes or deletes an EVM account record. Code carries the
// deployed bytecode on contract creation.
type EVMAccountChange struct {
	Address common.Address
	Account EVMAccount
	Code    []byte
	Deleted bool
}

// EVMStorageChange writes one storage slot; the zero value deletes it.
type EVMStorageChange struct {
	Address common.Address
	Slot    common.Hash
	Value   common.Hash
}

// TableChange writes one entry of the table extension namespace. Table
// entries are not authenticated by the trie.
type TableChange struct {
	Handle  [32]byte
	Key     []byte
	Value   []byte
	Deleted bool
}

// ChangeSet is the union of all per-transaction state effects, applied
// atomically. Entries are in write order; a later write to the same key wins.
type ChangeSet struct {
	Resources   []ResourceChange
	Modules     []ModuleChange
	EVMAccounts []EVMAccountChange
	EVMStorage  []EVMStorageChange
}

// Empty reports whether applying the change set would be a no-op.
func (cs *ChangeSet) Empty() bool {
	return len(cs.Resources) == 0 && len(cs.Modules) == 0 &&
		len(cs.EVMAccounts) == 0 && len(cs.EVMStorage) == 0
}

// Merge appends the effects of other after the effects of cs.
func (cs *ChangeSet) Merge(other *ChangeSet) {
	cs.Resources = append(cs.Resources, other.Resources...)
	cs.Modules = append(cs.Modules, other.Modules...)
	cs.EVMAccounts = append(cs.EVMAccounts, other.EVMAccounts...)
	cs.EVMStorage = append(cs.EVMStorage, other.EVMStorage...)
}
