// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/ethdb/memorydb"
	"github.com/luxfi/geth/rlp"
	"github.com/luxfi/geth/trie"
)

// StorageTrieRepository serves per-EVM-account storage tries at a fixed
// state root.
type StorageTrieRepository struct {
	resolver *Resolver
}

// StorageTries opens the repository over the resolver's root.
func StorageTries(resolver *Resolver) *StorageTrieRepository {
	return &StorageTrieRepository{resolver: resolver}
}

// ForAccount returns the storage handle of addr. Accounts without state get
// an empty handle.
func (r *StorageTrieRepository) ForAccount(addr common.Address) (*StorageTrie, error) {
	st, err := r.resolver.storageTrie(addr)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return &StorageTrie{}, nil
	}
	return st, nil
}

// StorageTrie is a read handle over one account's storage. The zero value
// reads as empty.
type StorageTrie struct {
	tr   *trie.Trie
	root common.Hash
}

// Root of the storage trie; the account record's storage root field must
// equal this after every write.
func (s *StorageTrie) Root() common.Hash {
	if s.tr == nil {
		return common.Hash{}
	}
	return s.root
}

// Get reads one slot; absent slots read as zero.
func (s *StorageTrie) Get(slot common.Hash) (common.Hash, error) {
	if s.tr == nil {
		return common.Hash{}, nil
	}
	data, err := s.tr.Get(storageSlotKey(slot))
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: read slot %x: %v", ErrStateCorruption, slot, err)
	}
	if len(data) == 0 {
		return common.Hash{}, nil
	}
	var trimmed []byte
	if err := rlp.DecodeBytes(data, &trimmed); err != nil {
		return common.Hash{}, fmt.Errorf("%w: decode slot %x: %v", ErrStateCorruption, slot, err)
	}
	var value uint256.Int
	value.SetBytes(trimmed)
	return value.Bytes32(), nil
}

// Proof returns the inclusion (or exclusion) proof nodes of slot, root first.
func (s *StorageTrie) Proof(slot common.Hash) ([][]byte, error) {
	if s.tr == nil {
		return nil, nil
	}
	return proveKey(s.tr, storageSlotKey(slot))
}

// proveKey collects the proof nodes along the path of key.
func proveKey(tr *trie.Trie, key []byte) ([][]byte, error) {
	proofDB := memorydb.New()
	if err := tr.Prove(key, proofDB); err != nil {
		return nil, fmt.Errorf("%w: prove %x: %v", ErrStateCorruption, key, err)
	}
	it := proofDB.NewIterator(nil, nil)
	defer it.Release()
	var nodes [][]byte
	for it.Next() {
		nodes = append(nodes, common.CopyBytes(it.Value()))
	}
	return nodes, nil
}
