// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"fmt"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/rawdb"
	"github.com/luxfi/geth/core/types"
	"github.com/luxfi/geth/crypto"
	"github.com/luxfi/geth/rlp"
	"github.com/luxfi/geth/trie"

	"github.com/luxfi/mevm/mvmtypes"
)

// Resolver reads the world state at one fixed root. Resolvers are cheap to
// create and not safe for concurrent use; every caller opens its own.
type Resolver struct {
	state *TrieState
	tr    *trie.Trie
	root  common.Hash
}

// Root the resolver reads at.
func (r *Resolver) Root() common.Hash { return r.root }

func (r *Resolver) get(key common.Hash) ([]byte, error) {
	cacheKey := append(r.root.Bytes(), key.Bytes()...)
	if cached, ok := r.state.cache.HasGet(nil, cacheKey); ok {
		if len(cached) == 0 {
			return nil, nil
		}
		// The leading marker byte distinguishes "present but empty" from
		// absent entries.
		return cached[1:], nil
	}
	value, err := r.tr.Get(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: read %x at %x: %v", ErrStateCorruption, key, r.root, err)
	}
	if value == nil {
		r.state.cache.Set(cacheKey, nil)
		return nil, nil
	}
	r.state.cache.Set(cacheKey, append([]byte{1}, value...))
	return value, nil
}

// Resource returns the raw bytes of a resource, nil when absent.
func (r *Resolver) Resource(account mvmtypes.AccountKey, tag *mvmtypes.StructTag) ([]byte, error) {
	return r.get(ResourceKey(account, tag))
}

// Module returns the raw bytes of a published module, nil when absent.
func (r *Resolver) Module(id mvmtypes.ModuleID) ([]byte, error) {
	return r.get(ModuleKey(id))
}

// EVMAccount returns the account record, nil when absent.
func (r *Resolver) EVMAccount(addr common.Address) (*EVMAccount, error) {
	data, err := r.get(EVMAccountKey(addr))
	if err != nil || data == nil {
		return nil, err
	}
	account := new(EVMAccount)
	if err := rlp.DecodeBytes(data, account); err != nil {
		return nil, fmt.Errorf("%w: decode EVM account %s: %v", ErrStateCorruption, addr, err)
	}
	return account, nil
}

// Code returns the bytecode stored under codeHash.
func (r *Resolver) Code(codeHash common.Hash) []byte {
	if codeHash == (common.Hash{}) || codeHash == types.EmptyCodeHash {
		return nil
	}
	return rawdb.ReadCode(r.state.diskdb, codeHash)
}

// StorageAt reads one storage slot of addr through its storage trie.
func (r *Resolver) StorageAt(addr common.Address, slot common.Hash) (common.Hash, error) {
	st, err := r.storageTrie(addr)
	if err != nil || st == nil {
		return common.Hash{}, err
	}
	return st.Get(slot)
}

// storageTrie opens the per-account storage trie recorded for addr, nil when
// the account does not exist.
func (r *Resolver) storageTrie(addr common.Address) (*StorageTrie, error) {
	account, err := r.EVMAccount(addr)
	if err != nil || account == nil {
		return nil, err
	}
	owner := crypto.Keccak256Hash(addr.Bytes())
	st, err := trie.New(trie.StorageTrieID(r.root, owner, rootOrEmpty(account.StorageRoot)), r.state.triedb)
	if err != nil {
		return nil, fmt.Errorf("%w: open storage trie for %s: %v", ErrStateCorruption, addr, err)
	}
	return &StorageTrie{tr: st, root: rootOrEmpty(account.StorageRoot)}, nil
}
