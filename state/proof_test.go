// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/crypto"
	"github.com/luxfi/geth/ethdb/memorydb"
	"github.com/luxfi/geth/rlp"
	"github.com/luxfi/geth/trie"
	"github.com/stretchr/testify/require"
)

// proofDB loads proof nodes keyed by their hash, the layout VerifyProof
// expects.
func proofDB(t *testing.T, nodes [][]byte) *memorydb.Database {
	t.Helper()
	db := memorydb.New()
	for _, node := range nodes {
		require.NoError(t, db.Put(crypto.Keccak256(node), node))
	}
	return db
}

func TestAccountProofVerifiesAgainstStateRoot(t *testing.T) {
	s := NewInMemoryState()
	addr := common.HexToAddress("0x4200000000000000000000000000000000000015")
	require.NoError(t, s.Apply(&ChangeSet{
		EVMAccounts: []EVMAccountChange{{
			Address: addr,
			Account: EVMAccount{Balance: uint256.NewInt(42), Nonce: 7},
		}},
	}))

	resolver, err := s.Resolver()
	require.NoError(t, err)
	response, err := resolver.Prove(addr, nil)
	require.NoError(t, err)

	nodes := make([][]byte, len(response.AccountProof))
	for i, node := range response.AccountProof {
		nodes[i] = node
	}
	value, err := trie.VerifyProof(s.StateRoot(), EVMAccountKey(addr).Bytes(), proofDB(t, nodes))
	require.NoError(t, err)

	var account EVMAccount
	require.NoError(t, rlp.DecodeBytes(value, &account))
	require.Equal(t, uint256.NewInt(42), account.Balance)
	require.Equal(t, uint64(7), account.Nonce)
}

func TestStorageProofVerifiesAgainstStorageRoot(t *testing.T) {
	s := NewInMemoryState()
	addr := common.HexToAddress("0x4200000000000000000000000000000000000015")
	slot := common.HexToHash("0x05")
	stored := common.HexToHash("0xbeef")
	require.NoError(t, s.Apply(&ChangeSet{
		EVMStorage: []EVMStorageChange{{Address: addr, Slot: slot, Value: stored}},
	}))

	resolver, err := s.Resolver()
	require.NoError(t, err)
	account, err := resolver.EVMAccount(addr)
	require.NoError(t, err)

	response, err := resolver.Prove(addr, []common.Hash{slot})
	require.NoError(t, err)
	require.Len(t, response.StorageProof, 1)

	nodes := make([][]byte, len(response.StorageProof[0].Proof))
	for i, node := range response.StorageProof[0].Proof {
		nodes[i] = node
	}
	value, err := trie.VerifyProof(account.StorageRoot, storageSlotKey(slot), proofDB(t, nodes))
	require.NoError(t, err)

	var trimmed []byte
	require.NoError(t, rlp.DecodeBytes(value, &trimmed))
	require.Equal(t, stored, common.BytesToHash(trimmed))
}
