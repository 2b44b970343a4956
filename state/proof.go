// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/common/hexutil"
	"github.com/luxfi/geth/core/types"
)

// StorageProof is the per-slot part of an EIP-1186 proof response.
type StorageProof struct {
	Key   common.Hash     `json:"key"`
	Value *hexutil.Big    `json:"value"`
	Proof []hexutil.Bytes `json:"proof"`
}

// ProofResponse is the EIP-1186 shaped eth_getProof response.
type ProofResponse struct {
	Address      common.Address  `json:"address"`
	AccountProof []hexutil.Bytes `json:"accountProof"`
	Balance      *hexutil.Big    `json:"balance"`
	CodeHash     common.Hash     `json:"codeHash"`
	Nonce        hexutil.Uint64  `json:"nonce"`
	StorageHash  common.Hash     `json:"storageHash"`
	StorageProof []StorageProof  `json:"storageProof"`
}

// Prove builds the account proof for addr plus inclusion proofs for the
// requested slots from the account's storage trie.
func (r *Resolver) Prove(addr common.Address, slots []common.Hash) (*ProofResponse, error) {
	account, err := r.EVMAccount(addr)
	if err != nil {
		return nil, err
	}
	accountProof, err := proveKey(r.tr, EVMAccountKey(addr).Bytes())
	if err != nil {
		return nil, err
	}
	response := &ProofResponse{
		Address:      addr,
		AccountProof: toHexSlices(accountProof),
		Balance:      (*hexutil.Big)(uint256.NewInt(0).ToBig()),
		CodeHash:     types.EmptyCodeHash,
		StorageProof: make([]StorageProof, 0, len(slots)),
	}
	if account != nil {
		response.Balance = (*hexutil.Big)(account.Balance.ToBig())
		response.Nonce = hexutil.Uint64(account.Nonce)
		response.CodeHash = account.CodeHash
		response.StorageHash = account.StorageRoot
	}
	if len(slots) == 0 {
		return response, nil
	}
	st, err := r.storageTrie(addr)
	if err != nil {
		return nil, err
	}
	for _, slot := range slots {
		proof := StorageProof{Key: slot, Proof: []hexutil.Bytes{}}
		var value common.Hash
		if st != nil {
			if value, err = st.Get(slot); err != nil {
				return nil, err
			}
			nodes, err := st.Proof(slot)
			if err != nil {
				return nil, err
			}
			proof.Proof = toHexSlices(nodes)
		}
		v := new(uint256.Int).SetBytes(value.Bytes())
		proof.Value = (*hexutil.Big)(v.ToBig())
		response.StorageProof = append(response.StorageProof, proof)
	}
	return response, nil
}

func toHexSlices(nodes [][]byte) []hexutil.Bytes {
	out := make([]hexutil.Bytes, len(nodes))
	for i, n := range nodes {
		out[i] = n
	}
	return out
}
