// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package execution

import (
	"maps"
	"sort"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	gethstate "github.com/luxfi/geth/core/state"
	"github.com/luxfi/geth/core/stateless"
	"github.com/luxfi/geth/core/tracing"
	"github.com/luxfi/geth/core/types"
	"github.com/luxfi/geth/params"
	"github.com/luxfi/geth/trie/utils"

	"github.com/luxfi/mevm/mvmtypes"
	"github.com/luxfi/mevm/state"
)

// evmAccount is the in-session view of one EVM account.
type evmAccount struct {
	balance        *uint256.Int
	nonce          uint64
	code           []byte
	codeHash       common.Hash
	exists         bool
	selfDestructed bool
	newContract    bool
	dirty          bool
}

func (a *evmAccount) copy() *evmAccount {
	cp := *a
	cp.balance = a.balance.Clone()
	cp.code = common.CopyBytes(a.code)
	return &cp
}

func (a *evmAccount) empty() bool {
	return a.nonce == 0 && a.balance.IsZero() && (a.codeHash == types.EmptyCodeHash || a.codeHash == common.Hash{})
}

// evmExtension is the native extension capturing EVM side effects inside an
// MVM session. It is exclusively owned by its session.
type evmExtension struct {
	accounts map[common.Address]*evmAccount
	storage  map[common.Address]map[common.Hash]common.Hash
	// origin holds the committed value of every slot read or written, for
	// GetCommittedState.
	origin    map[common.Address]map[common.Hash]common.Hash
	transient map[common.Address]map[common.Hash]common.Hash

	accessAddrs map[common.Address]struct{}
	accessSlots map[common.Address]map[common.Hash]struct{}

	logs   []*types.Log
	refund uint64

	snapshots []*extensionSnapshot
}

type extensionSnapshot struct {
	accounts  map[common.Address]*evmAccount
	storage   map[common.Address]map[common.Hash]common.Hash
	transient map[common.Address]map[common.Hash]common.Hash
	logCount  int
	refund    uint64
}

func newEVMExtension() *evmExtension {
	return &evmExtension{
		accounts:    make(map[common.Address]*evmAccount),
		storage:     make(map[common.Address]map[common.Hash]common.Hash),
		origin:      make(map[common.Address]map[common.Hash]common.Hash),
		transient:   make(map[common.Address]map[common.Hash]common.Hash),
		accessAddrs: make(map[common.Address]struct{}),
		accessSlots: make(map[common.Address]map[common.Hash]struct{}),
	}
}

// changes flattens the extension into state changes. Deterministic order:
// addresses ascending, slots ascending.
func (e *evmExtension) changes() *state.ChangeSet {
	out := &state.ChangeSet{}
	addrs := make([]common.Address, 0, len(e.accounts))
	for addr, account := range e.accounts {
		if account.dirty {
			addrs = append(addrs, addr)
		}
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Cmp(addrs[j]) < 0 })
	for _, addr := range addrs {
		account := e.accounts[addr]
		if account.selfDestructed || !account.exists {
			out.EVMAccounts = append(out.EVMAccounts, state.EVMAccountChange{Address: addr, Deleted: true})
			continue
		}
		change := state.EVMAccountChange{
			Address: addr,
			Account: state.EVMAccount{
				Balance:  account.balance.Clone(),
				Nonce:    account.nonce,
				CodeHash: account.codeHash,
			},
		}
		if account.dirty && len(account.code) > 0 {
			change.Code = account.code
		}
		out.EVMAccounts = append(out.EVMAccounts, change)
	}

	storageAddrs := make([]common.Address, 0, len(e.storage))
	for addr := range e.storage {
		storageAddrs = append(storageAddrs, addr)
	}
	sort.Slice(storageAddrs, func(i, j int) bool { return storageAddrs[i].Cmp(storageAddrs[j]) < 0 })
	for _, addr := range storageAddrs {
		slots := make([]common.Hash, 0, len(e.storage[addr]))
		for slot := range e.storage[addr] {
			slots = append(slots, slot)
		}
		sort.Slice(slots, func(i, j int) bool { return slots[i].Cmp(slots[j]) < 0 })
		for _, slot := range slots {
			value := e.storage[addr][slot]
			if orig, ok := e.origin[addr][slot]; ok && orig == value {
				continue
			}
			out.EVMStorage = append(out.EVMStorage, state.EVMStorageChange{
				Address: addr, Slot: slot, Value: value,
			})
		}
	}
	return out
}

// sessionStateDB adapts the session to the go-ethereum EVM. Balance and
// nonce reads of accounts that never touched the EVM fall back to the MVM
// base-token view, so both VM sides observe one world.
type sessionStateDB struct {
	session *Session
	ext     *evmExtension
}

func newSessionStateDB(session *Session) *sessionStateDB {
	return &sessionStateDB{session: session, ext: session.evm}
}

// loadAccount materializes the in-session view of addr.
func (db *sessionStateDB) loadAccount(addr common.Address) *evmAccount {
	if account, ok := db.ext.accounts[addr]; ok {
		return account
	}
	account := &evmAccount{balance: uint256.NewInt(0), codeHash: types.EmptyCodeHash}
	record, err := db.session.resolver.EVMAccount(addr)
	if err == nil && record != nil {
		account.exists = true
		account.balance = record.Balance.Clone()
		account.nonce = record.Nonce
		account.codeHash = record.CodeHash
	} else {
		// Fall back to the base-token view so EOA funds created on the MVM
		// side are spendable in the EVM.
		key := mvmtypes.AccountKeyFromAddress(addr)
		if balance, berr := baseBalanceOf(db.session, key); berr == nil && !balance.IsZero() {
			account.exists = true
			account.balance = balance
		}
		if nonce, nerr := baseNonceOf(db.session, key); nerr == nil && nonce != 0 {
			account.exists = true
			account.nonce = nonce
		}
	}
	db.ext.accounts[addr] = account
	return account
}

func (db *sessionStateDB) CreateAccount(addr common.Address) {
	account := db.loadAccount(addr)
	account.exists = true
	account.dirty = true
}

func (db *sessionStateDB) CreateContract(addr common.Address) {
	account := db.loadAccount(addr)
	account.exists = true
	account.newContract = true
	account.dirty = true
}

func (db *sessionStateDB) SubBalance(addr common.Address, amount *uint256.Int, _ tracing.BalanceChangeReason) uint256.Int {
	account := db.loadAccount(addr)
	prev := *account.balance
	account.balance = new(uint256.Int).Sub(account.balance, amount)
	account.dirty = true
	if !amount.IsZero() {
		account.exists = true
	}
	return prev
}

func (db *sessionStateDB) AddBalance(addr common.Address, amount *uint256.Int, _ tracing.BalanceChangeReason) uint256.Int {
	account := db.loadAccount(addr)
	prev := *account.balance
	account.balance = new(uint256.Int).Add(account.balance, amount)
	account.dirty = true
	if !amount.IsZero() {
		account.exists = true
	}
	return prev
}

func (db *sessionStateDB) GetBalance(addr common.Address) *uint256.Int {
	return db.loadAccount(addr).balance.Clone()
}

func (db *sessionStateDB) GetNonce(addr common.Address) uint64 {
	return db.loadAccount(addr).nonce
}

func (db *sessionStateDB) SetNonce(addr common.Address, nonce uint64, _ tracing.NonceChangeReason) {
	account := db.loadAccount(addr)
	account.nonce = nonce
	account.exists = true
	account.dirty = true
}

func (db *sessionStateDB) GetCodeHash(addr common.Address) common.Hash {
	account := db.loadAccount(addr)
	if !account.exists {
		return common.Hash{}
	}
	return account.codeHash
}

func (db *sessionStateDB) GetCode(addr common.Address) []byte {
	account := db.loadAccount(addr)
	if account.code == nil && account.codeHash != types.EmptyCodeHash {
		account.code = db.session.resolver.Code(account.codeHash)
	}
	return account.code
}

func (db *sessionStateDB) SetCode(addr common.Address, code []byte) []byte {
	account := db.loadAccount(addr)
	prev := account.code
	account.code = common.CopyBytes(code)
	account.codeHash = codeHash(code)
	account.exists = true
	account.dirty = true
	return prev
}

func (db *sessionStateDB) GetCodeSize(addr common.Address) int {
	return len(db.GetCode(addr))
}

func (db *sessionStateDB) AddRefund(gas uint64) { db.ext.refund += gas }

func (db *sessionStateDB) SubRefund(gas uint64) {
	if gas > db.ext.refund {
		panic(invariantf("refund counter below zero (gas: %d > refund: %d)", gas, db.ext.refund))
	}
	db.ext.refund -= gas
}

func (db *sessionStateDB) GetRefund() uint64 { return db.ext.refund }

func (db *sessionStateDB) committedState(addr common.Address, slot common.Hash) common.Hash {
	if slots, ok := db.ext.origin[addr]; ok {
		if value, ok := slots[slot]; ok {
			return value
		}
	}
	value, err := db.session.resolver.StorageAt(addr, slot)
	if err != nil {
		value = common.Hash{}
	}
	if db.ext.origin[addr] == nil {
		db.ext.origin[addr] = make(map[common.Hash]common.Hash)
	}
	db.ext.origin[addr][slot] = value
	return value
}

func (db *sessionStateDB) GetCommittedState(addr common.Address, slot common.Hash) common.Hash {
	return db.committedState(addr, slot)
}

func (db *sessionStateDB) GetState(addr common.Address, slot common.Hash) common.Hash {
	if account, ok := db.ext.accounts[addr]; ok && account.newContract {
		// Created contracts start with clean storage.
		if slots, ok := db.ext.storage[addr]; ok {
			if value, ok := slots[slot]; ok {
				return value
			}
		}
		return common.Hash{}
	}
	if slots, ok := db.ext.storage[addr]; ok {
		if value, ok := slots[slot]; ok {
			return value
		}
	}
	return db.committedState(addr, slot)
}

func (db *sessionStateDB) SetState(addr common.Address, slot, value common.Hash) common.Hash {
	prev := db.GetState(addr, slot)
	if db.ext.storage[addr] == nil {
		db.ext.storage[addr] = make(map[common.Hash]common.Hash)
	}
	db.ext.storage[addr][slot] = value
	db.committedState(addr, slot) // pin the original value
	return prev
}

func (db *sessionStateDB) GetStorageRoot(addr common.Address) common.Hash {
	record, err := db.session.resolver.EVMAccount(addr)
	if err != nil || record == nil {
		return common.Hash{}
	}
	return record.StorageRoot
}

func (db *sessionStateDB) GetTransientState(addr common.Address, key common.Hash) common.Hash {
	if slots, ok := db.ext.transient[addr]; ok {
		return slots[key]
	}
	return common.Hash{}
}

func (db *sessionStateDB) SetTransientState(addr common.Address, key, value common.Hash) {
	if db.ext.transient[addr] == nil {
		db.ext.transient[addr] = make(map[common.Hash]common.Hash)
	}
	db.ext.transient[addr][key] = value
}

func (db *sessionStateDB) SelfDestruct(addr common.Address) uint256.Int {
	account := db.loadAccount(addr)
	prev := *account.balance
	account.balance = uint256.NewInt(0)
	account.selfDestructed = true
	account.dirty = true
	return prev
}

func (db *sessionStateDB) HasSelfDestructed(addr common.Address) bool {
	return db.loadAccount(addr).selfDestructed
}

func (db *sessionStateDB) SelfDestruct6780(addr common.Address) (uint256.Int, bool) {
	account := db.loadAccount(addr)
	if account.newContract {
		return db.SelfDestruct(addr), true
	}
	return *account.balance, false
}

func (db *sessionStateDB) Exist(addr common.Address) bool {
	return db.loadAccount(addr).exists
}

func (db *sessionStateDB) Empty(addr common.Address) bool {
	account := db.loadAccount(addr)
	return !account.exists || account.empty()
}

func (db *sessionStateDB) AddressInAccessList(addr common.Address) bool {
	_, ok := db.ext.accessAddrs[addr]
	return ok
}

func (db *sessionStateDB) SlotInAccessList(addr common.Address, slot common.Hash) (bool, bool) {
	_, addrOk := db.ext.accessAddrs[addr]
	slots, ok := db.ext.accessSlots[addr]
	if !ok {
		return addrOk, false
	}
	_, slotOk := slots[slot]
	return addrOk, slotOk
}

func (db *sessionStateDB) AddAddressToAccessList(addr common.Address) {
	db.ext.accessAddrs[addr] = struct{}{}
}

func (db *sessionStateDB) AddSlotToAccessList(addr common.Address, slot common.Hash) {
	db.ext.accessAddrs[addr] = struct{}{}
	if db.ext.accessSlots[addr] == nil {
		db.ext.accessSlots[addr] = make(map[common.Hash]struct{})
	}
	db.ext.accessSlots[addr][slot] = struct{}{}
}

func (db *sessionStateDB) PointCache() *utils.PointCache { return nil }

func (db *sessionStateDB) Prepare(rules params.Rules, sender, coinbase common.Address, dest *common.Address, precompiles []common.Address, txAccesses types.AccessList) {
	if !rules.IsBerlin {
		return
	}
	db.AddAddressToAccessList(sender)
	if dest != nil {
		db.AddAddressToAccessList(*dest)
	}
	for _, addr := range precompiles {
		db.AddAddressToAccessList(addr)
	}
	for _, el := range txAccesses {
		db.AddAddressToAccessList(el.Address)
		for _, key := range el.StorageKeys {
			db.AddSlotToAccessList(el.Address, key)
		}
	}
	if rules.IsShanghai {
		db.AddAddressToAccessList(coinbase)
	}
}

func (db *sessionStateDB) Snapshot() int {
	snapshot := &extensionSnapshot{
		accounts:  make(map[common.Address]*evmAccount, len(db.ext.accounts)),
		storage:   make(map[common.Address]map[common.Hash]common.Hash, len(db.ext.storage)),
		transient: make(map[common.Address]map[common.Hash]common.Hash, len(db.ext.transient)),
		logCount:  len(db.ext.logs),
		refund:    db.ext.refund,
	}
	for addr, account := range db.ext.accounts {
		snapshot.accounts[addr] = account.copy()
	}
	for addr, slots := range db.ext.storage {
		snapshot.storage[addr] = maps.Clone(slots)
	}
	for addr, slots := range db.ext.transient {
		snapshot.transient[addr] = maps.Clone(slots)
	}
	db.ext.snapshots = append(db.ext.snapshots, snapshot)
	return len(db.ext.snapshots) - 1
}

func (db *sessionStateDB) RevertToSnapshot(id int) {
	if id < 0 || id >= len(db.ext.snapshots) {
		panic(invariantf("invalid snapshot id %d", id))
	}
	snapshot := db.ext.snapshots[id]
	db.ext.accounts = snapshot.accounts
	db.ext.storage = snapshot.storage
	db.ext.transient = snapshot.transient
	db.ext.logs = db.ext.logs[:snapshot.logCount]
	db.ext.refund = snapshot.refund
	db.ext.snapshots = db.ext.snapshots[:id]
}

func (db *sessionStateDB) AddLog(log *types.Log) {
	log.TxHash = db.session.txHash
	log.BlockNumber = db.session.block.Number
	db.ext.logs = append(db.ext.logs, log)
}

func (db *sessionStateDB) AddPreimage(hash common.Hash, preimage []byte) {}

func (db *sessionStateDB) Witness() *stateless.Witness { return nil }

func (db *sessionStateDB) AccessEvents() *gethstate.AccessEvents { return nil }

func (db *sessionStateDB) Finalise(bool) {}
