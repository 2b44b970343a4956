// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"errors"
	"fmt"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/rawdb"
	"github.com/luxfi/geth/core/types"
	"github.com/luxfi/geth/crypto"
	"github.com/luxfi/geth/ethdb"
	"github.com/luxfi/geth/rlp"
	"github.com/luxfi/geth/trie"
	"github.com/luxfi/geth/trie/trienode"
	"github.com/luxfi/geth/triedb"
)

// ErrStateCorruption marks a missing or inconsistent trie node. It is fatal:
// the block build that hits it must abort.
var ErrStateCorruption = errors.New("state corruption")

// readCacheSize bounds the resolved-value cache. Values are immutable per
// (root, key) so the cache never needs invalidation.
const readCacheSize = 32 * 1024 * 1024

var tablePrefix = []byte("mvm-table-")

// TrieState is the authenticated world state. A single account-level trie
// covers MVM resources, MVM modules, EVM account records and a mirror of EVM
// storage slots; per-account storage tries hang off the account records.
// Historical roots stay resolvable: nodes are retained by the backing
// database, never pruned.
type TrieState struct {
	diskdb ethdb.Database
	triedb *triedb.Database
	root   common.Hash
	height uint64
	cache  *fastcache.Cache
}

// NewTrieState creates a state store over db. The state root of the empty
// store is the zero hash.
func NewTrieState(db ethdb.Database) *TrieState {
	return &TrieState{
		diskdb: db,
		triedb: triedb.NewDatabase(db, triedb.HashDefaults),
		cache:  fastcache.New(readCacheSize),
	}
}

// NewInMemoryState is the test and dev-mode constructor.
func NewInMemoryState() *TrieState {
	return NewTrieState(rawdb.NewMemoryDatabase())
}

// StateRoot returns the current root; the zero hash for an empty store.
func (s *TrieState) StateRoot() common.Hash { return s.root }

func (s *TrieState) rootOrEmpty() common.Hash {
	if s.root == (common.Hash{}) {
		return types.EmptyRootHash
	}
	return s.root
}

func rootOrEmpty(root common.Hash) common.Hash {
	if root == (common.Hash{}) {
		return types.EmptyRootHash
	}
	return root
}

// Apply commits the change set and moves the state root.
func (s *TrieState) Apply(changes *ChangeSet) error {
	return s.ApplyWithTables(changes, nil)
}

// ApplyWithTables commits the change set plus writes to the table extension
// namespace. Table entries are keyed outside the trie; only the trie-covered
// families affect the root.
func (s *TrieState) ApplyWithTables(changes *ChangeSet, tables []TableChange) error {
	if changes.Empty() && len(tables) == 0 {
		return nil
	}
	parent := s.rootOrEmpty()
	tr, err := trie.New(trie.TrieID(parent), s.triedb)
	if err != nil {
		return fmt.Errorf("%w: open state trie at %x: %v", ErrStateCorruption, parent, err)
	}

	merged := trienode.NewMergedNodeSet()

	// Per-account storage tries first: their new roots land in the account
	// records written below.
	storageRoots, err := s.applyStorage(tr, changes, merged)
	if err != nil {
		return err
	}

	for _, change := range changes.Resources {
		tag := change.Tag
		if err := s.applyKV(tr, ResourceKey(change.Account, &tag), change.Value, change.Deleted); err != nil {
			return err
		}
	}
	for _, change := range changes.Modules {
		if err := s.applyKV(tr, ModuleKey(change.ID), change.Value, change.Deleted); err != nil {
			return err
		}
	}
	for _, change := range changes.EVMAccounts {
		account := change.Account
		if account.Balance == nil {
			account.Balance = new(uint256.Int)
		}
		if account.CodeHash == (common.Hash{}) {
			account.CodeHash = types.EmptyCodeHash
		}
		if account.StorageRoot == (common.Hash{}) {
			account.StorageRoot = types.EmptyRootHash
		}
		if root, ok := storageRoots[change.Address]; ok {
			account.StorageRoot = root
		}
		if len(change.Code) > 0 {
			rawdb.WriteCode(s.diskdb, account.CodeHash, change.Code)
		}
		var value []byte
		if !change.Deleted {
			value, err = rlp.EncodeToBytes(&account)
			if err != nil {
				return fmt.Errorf("encode EVM account %s: %w", change.Address, err)
			}
		}
		if err := s.applyKV(tr, EVMAccountKey(change.Address), value, change.Deleted); err != nil {
			return err
		}
	}
	// Accounts whose storage changed without an account-record write keep
	// their record otherwise intact but pick up the new storage root.
	for addr, root := range storageRoots {
		if hasAccountChange(changes, addr) {
			continue
		}
		account, err := s.readAccount(tr, addr)
		if err != nil {
			return err
		}
		if account == nil {
			account = &EVMAccount{
				Balance:     new(uint256.Int),
				CodeHash:    types.EmptyCodeHash,
				StorageRoot: types.EmptyRootHash,
			}
		}
		account.StorageRoot = root
		value, err := rlp.EncodeToBytes(account)
		if err != nil {
			return fmt.Errorf("encode EVM account %s: %w", addr, err)
		}
		if err := s.applyKV(tr, EVMAccountKey(addr), value, false); err != nil {
			return err
		}
	}

	newRoot, nodes := tr.Commit(false)
	if nodes != nil {
		if err := merged.Merge(nodes); err != nil {
			return fmt.Errorf("%w: merge state nodes: %v", ErrStateCorruption, err)
		}
	}
	if newRoot != parent {
		if err := s.triedb.Update(newRoot, parent, s.height, merged, nil); err != nil {
			return fmt.Errorf("%w: update trie database: %v", ErrStateCorruption, err)
		}
		if err := s.triedb.Commit(newRoot, false); err != nil {
			return fmt.Errorf("%w: commit trie database: %v", ErrStateCorruption, err)
		}
	}
	for _, t := range tables {
		key := append(append(append([]byte{}, tablePrefix...), t.Handle[:]...), t.Key...)
		if t.Deleted {
			if err := s.diskdb.Delete(key); err != nil {
				return fmt.Errorf("delete table entry: %w", err)
			}
		} else if err := s.diskdb.Put(key, t.Value); err != nil {
			return fmt.Errorf("write table entry: %w", err)
		}
	}
	s.root = newRoot
	s.height++
	return nil
}

func (s *TrieState) applyKV(tr *trie.Trie, key common.Hash, value []byte, deleted bool) error {
	if deleted {
		if err := tr.Delete(key.Bytes()); err != nil {
			return fmt.Errorf("%w: delete %x: %v", ErrStateCorruption, key, err)
		}
		return nil
	}
	if err := tr.Update(key.Bytes(), value); err != nil {
		return fmt.Errorf("%w: update %x: %v", ErrStateCorruption, key, err)
	}
	return nil
}

// applyStorage commits every touched per-account storage trie and mirrors
// the slot writes into the unified trie. Returns the new storage root per
// address.
func (s *TrieState) applyStorage(tr *trie.Trie, changes *ChangeSet, merged *trienode.MergedNodeSet) (map[common.Address]common.Hash, error) {
	byAddress := make(map[common.Address][]EVMStorageChange)
	for _, change := range changes.EVMStorage {
		byAddress[change.Address] = append(byAddress[change.Address], change)
	}
	roots := make(map[common.Address]common.Hash, len(byAddress))
	for addr, slots := range byAddress {
		account, err := s.readAccount(tr, addr)
		if err != nil {
			return nil, err
		}
		storageRoot := types.EmptyRootHash
		if account != nil {
			storageRoot = rootOrEmpty(account.StorageRoot)
		}
		owner := crypto.Keccak256Hash(addr.Bytes())
		st, err := trie.New(trie.StorageTrieID(s.rootOrEmpty(), owner, storageRoot), s.triedb)
		if err != nil {
			return nil, fmt.Errorf("%w: open storage trie for %s: %v", ErrStateCorruption, addr, err)
		}
		for _, slot := range slots {
			if slot.Value == (common.Hash{}) {
				if err := st.Delete(storageSlotKey(slot.Slot)); err != nil {
					return nil, fmt.Errorf("%w: delete slot: %v", ErrStateCorruption, err)
				}
				if err := tr.Delete(EVMStorageKey(addr, slot.Slot).Bytes()); err != nil {
					return nil, fmt.Errorf("%w: delete slot mirror: %v", ErrStateCorruption, err)
				}
				continue
			}
			encoded, err := rlp.EncodeToBytes(common.TrimLeftZeroes(slot.Value.Bytes()))
			if err != nil {
				return nil, fmt.Errorf("encode slot value: %w", err)
			}
			if err := st.Update(storageSlotKey(slot.Slot), encoded); err != nil {
				return nil, fmt.Errorf("%w: update slot: %v", ErrStateCorruption, err)
			}
			if err := tr.Update(EVMStorageKey(addr, slot.Slot).Bytes(), slot.Value.Bytes()); err != nil {
				return nil, fmt.Errorf("%w: update slot mirror: %v", ErrStateCorruption, err)
			}
		}
		newRoot, nodes := st.Commit(false)
		if nodes != nil {
			if err := merged.Merge(nodes); err != nil {
				return nil, fmt.Errorf("%w: merge storage nodes: %v", ErrStateCorruption, err)
			}
		}
		roots[addr] = newRoot
	}
	return roots, nil
}

func (s *TrieState) readAccount(tr *trie.Trie, addr common.Address) (*EVMAccount, error) {
	data, err := tr.Get(EVMAccountKey(addr).Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: read EVM account %s: %v", ErrStateCorruption, addr, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	account := new(EVMAccount)
	if err := rlp.DecodeBytes(data, account); err != nil {
		return nil, fmt.Errorf("%w: decode EVM account %s: %v", ErrStateCorruption, addr, err)
	}
	return account, nil
}

func hasAccountChange(changes *ChangeSet, addr common.Address) bool {
	for i := range changes.EVMAccounts {
		if changes.EVMAccounts[i].Address == addr {
			return true
		}
	}
	return false
}

// TableEntry reads one entry of the table extension namespace.
func (s *TrieState) TableEntry(handle [32]byte, key []byte) ([]byte, error) {
	full := append(append(append([]byte{}, tablePrefix...), handle[:]...), key...)
	ok, err := s.diskdb.Has(full)
	if err != nil || !ok {
		return nil, err
	}
	return s.diskdb.Get(full)
}

// Resolver returns a read-only resolver over the current root.
func (s *TrieState) Resolver() (*Resolver, error) {
	return s.ResolverAt(s.root)
}

// ResolverAt returns a read-only resolver over an arbitrary historical root.
func (s *TrieState) ResolverAt(root common.Hash) (*Resolver, error) {
	tr, err := trie.New(trie.TrieID(rootOrEmpty(root)), s.triedb)
	if err != nil {
		return nil, fmt.Errorf("%w: open state trie at %x: %v", ErrStateCorruption, root, err)
	}
	return &Resolver{state: s, tr: tr, root: rootOrEmpty(root)}, nil
}
