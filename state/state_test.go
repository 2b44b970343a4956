// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/mevm/mvmtypes"
)

func testResourceChange(account byte, value []byte) ResourceChange {
	return ResourceChange{
		Account: mvmtypes.AccountKey{31: account},
		Tag: mvmtypes.StructTag{
			Address: mvmtypes.FrameworkAddress,
			Module:  "eth_token",
			Name:    "Balance",
		},
		Value: value,
	}
}

func TestEmptyStateRootIsZero(t *testing.T) {
	s := NewInMemoryState()
	require.Equal(t, common.Hash{}, s.StateRoot())
}

func TestApplyEmptyChangeSetKeepsRoot(t *testing.T) {
	s := NewInMemoryState()
	require.NoError(t, s.Apply(&ChangeSet{Resources: []ResourceChange{testResourceChange(1, []byte{0xaa})}}))
	before := s.StateRoot()
	require.NoError(t, s.Apply(&ChangeSet{}))
	require.Equal(t, before, s.StateRoot())
}

func TestApplyMovesRootDeterministically(t *testing.T) {
	build := func() common.Hash {
		s := NewInMemoryState()
		require.NoError(t, s.Apply(&ChangeSet{Resources: []ResourceChange{testResourceChange(1, []byte{0xaa})}}))
		require.NoError(t, s.Apply(&ChangeSet{Resources: []ResourceChange{testResourceChange(2, []byte{0xbb})}}))
		return s.StateRoot()
	}
	first, second := build(), build()
	require.NotEqual(t, common.Hash{}, first)
	require.Equal(t, first, second)
}

func TestResolverReadsResourcesAndModules(t *testing.T) {
	s := NewInMemoryState()
	change := testResourceChange(7, []byte{0x01, 0x02})
	module := ModuleChange{
		ID:    mvmtypes.ModuleID{Address: mvmtypes.AccountKey{31: 7}, Name: "counter"},
		Value: []byte{0xca, 0xfe},
	}
	require.NoError(t, s.Apply(&ChangeSet{
		Resources: []ResourceChange{change},
		Modules:   []ModuleChange{module},
	}))

	resolver, err := s.Resolver()
	require.NoError(t, err)
	tag := change.Tag
	value, err := resolver.Resource(change.Account, &tag)
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x02}, value)

	code, err := resolver.Module(module.ID)
	require.NoError(t, err)
	require.Equal(t, []byte{0xca, 0xfe}, code)

	missing, err := resolver.Resource(mvmtypes.AccountKey{31: 9}, &tag)
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestHistoricalResolverSeesOldValues(t *testing.T) {
	s := NewInMemoryState()
	require.NoError(t, s.Apply(&ChangeSet{Resources: []ResourceChange{testResourceChange(7, []byte{0x01})}}))
	oldRoot := s.StateRoot()
	require.NoError(t, s.Apply(&ChangeSet{Resources: []ResourceChange{testResourceChange(7, []byte{0x02})}}))
	require.NotEqual(t, oldRoot, s.StateRoot())

	tag := testResourceChange(7, nil).Tag
	old, err := s.ResolverAt(oldRoot)
	require.NoError(t, err)
	value, err := old.Resource(mvmtypes.AccountKey{31: 7}, &tag)
	require.NoError(t, err)
	require.Equal(t, []byte{0x01}, value)

	current, err := s.Resolver()
	require.NoError(t, err)
	value, err = current.Resource(mvmtypes.AccountKey{31: 7}, &tag)
	require.NoError(t, err)
	require.Equal(t, []byte{0x02}, value)
}

func TestDeleteRestoresPriorRoot(t *testing.T) {
	s := NewInMemoryState()
	base := testResourceChange(1, []byte{0xaa})
	require.NoError(t, s.Apply(&ChangeSet{Resources: []ResourceChange{base}}))
	rootBefore := s.StateRoot()

	extra := testResourceChange(2, []byte{0xbb})
	require.NoError(t, s.Apply(&ChangeSet{Resources: []ResourceChange{extra}}))
	require.NotEqual(t, rootBefore, s.StateRoot())

	extra.Deleted = true
	extra.Value = nil
	require.NoError(t, s.Apply(&ChangeSet{Resources: []ResourceChange{extra}}))
	require.Equal(t, rootBefore, s.StateRoot())
}

func TestEVMAccountAndStorageRoundTrip(t *testing.T) {
	s := NewInMemoryState()
	addr := common.HexToAddress("0x4200000000000000000000000000000000000015")
	slot := common.HexToHash("0x01")
	value := common.HexToHash("0xdeadbeef")

	require.NoError(t, s.Apply(&ChangeSet{
		EVMAccounts: []EVMAccountChange{{
			Address: addr,
			Account: EVMAccount{Balance: uint256.NewInt(1000), Nonce: 3},
		}},
		EVMStorage: []EVMStorageChange{{Address: addr, Slot: slot, Value: value}},
	}))

	resolver, err := s.Resolver()
	require.NoError(t, err)
	account, err := resolver.EVMAccount(addr)
	require.NoError(t, err)
	require.NotNil(t, account)
	require.Equal(t, uint64(3), account.Nonce)
	require.Equal(t, uint256.NewInt(1000), account.Balance)

	tries := StorageTries(resolver)
	handle, err := tries.ForAccount(addr)
	require.NoError(t, err)
	require.Equal(t, account.StorageRoot, handle.Root())

	got, err := handle.Get(slot)
	require.NoError(t, err)
	require.Equal(t, value, got)

	// The unified trie root must also cover the slot write.
	proof, err := resolver.Prove(addr, []common.Hash{slot})
	require.NoError(t, err)
	require.NotEmpty(t, proof.AccountProof)
	require.Len(t, proof.StorageProof, 1)
	require.NotEmpty(t, proof.StorageProof[0].Proof)
}

func TestStorageWriteUpdatesAccountStorageRoot(t *testing.T) {
	s := NewInMemoryState()
	addr := common.HexToAddress("0x4200000000000000000000000000000000000001")
	require.NoError(t, s.Apply(&ChangeSet{
		EVMAccounts: []EVMAccountChange{{Address: addr, Account: EVMAccount{Balance: uint256.NewInt(1)}}},
	}))
	resolver, err := s.Resolver()
	require.NoError(t, err)
	before, err := resolver.EVMAccount(addr)
	require.NoError(t, err)

	require.NoError(t, s.Apply(&ChangeSet{
		EVMStorage: []EVMStorageChange{{Address: addr, Slot: common.HexToHash("0x02"), Value: common.HexToHash("0x09")}},
	}))
	resolver, err = s.Resolver()
	require.NoError(t, err)
	after, err := resolver.EVMAccount(addr)
	require.NoError(t, err)
	require.NotEqual(t, before.StorageRoot, after.StorageRoot)
	// Balance survives a storage-only update.
	require.Equal(t, before.Balance, after.Balance)
}

func TestTableEntriesDoNotTouchRoot(t *testing.T) {
	s := NewInMemoryState()
	require.NoError(t, s.Apply(&ChangeSet{Resources: []ResourceChange{testResourceChange(1, []byte{0x01})}}))
	before := s.StateRoot()

	var handle [32]byte
	handle[0] = 0x11
	require.NoError(t, s.ApplyWithTables(&ChangeSet{}, []TableChange{{Handle: handle, Key: []byte("k"), Value: []byte("v")}}))
	require.Equal(t, before, s.StateRoot())

	value, err := s.TableEntry(handle, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), value)
}

func TestKeyHashingSeparatesKeyFamilies(t *testing.T) {
	// Equal inputs hash to equal keys, and the domain separators keep the
	// key families apart.
	account := mvmtypes.AccountKey{31: 0x01}
	tag := mvmtypes.StructTag{Address: account, Module: "eth_token", Name: "Balance"}
	require.Equal(t,
		ResourceKey(account, &tag),
		ResourceKey(account, &mvmtypes.StructTag{Address: account, Module: "eth_token", Name: "Balance"}),
	)
	require.NotEqual(t, ResourceKey(account, &tag), ModuleKey(mvmtypes.ModuleID{Address: account, Name: "Balance"}))

	addr := common.HexToAddress("0x4200000000000000000000000000000000000015")
	require.NotEqual(t, EVMAccountKey(addr), EVMStorageKey(addr, common.Hash{}))

	// Distinct type arguments hash to distinct keys.
	generic := tag
	generic.TypeArgs = []mvmtypes.TypeTag{mvmtypes.U64Tag()}
	require.NotEqual(t, ResourceKey(account, &tag), ResourceKey(account, &generic))
}
