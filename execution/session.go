// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package execution

import (
	"maps"
	"sort"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	"github.com/luxfi/geth/crypto"

	"github.com/luxfi/mevm/mvmtypes"
	"github.com/luxfi/mevm/state"
)

// BlockContext is the slice of the enclosing block header visible to
// executing code.
type BlockContext struct {
	Number     uint64
	Timestamp  uint64
	PrevRandao common.Hash
	BaseFee    *uint256.Int
	GasLimit   uint64
	Coinbase   common.Address
}

// Session is the mutable execution context of one transaction: a write
// overlay above a read-only resolver, the EVM extension capturing
// EVM-side effects, the cross-VM transfer log, and the gas meter. A session
// is owned by exactly one transaction execution.
type Session struct {
	resolver *state.Resolver
	meter    *GasMeter
	block    BlockContext
	txHash   common.Hash

	resources map[string]*overlayEntry
	modules   map[string]*overlayEntry
	evm       *evmExtension
	transfers *transferLog
	logs      []*types.Log

	// mirrorEVM controls whether base-token writes propagate into the EVM
	// account view. Bridge-internal moves (custody, replication) switch it
	// off: the EVM already accounted for them on its side.
	mirrorEVM bool
}

type overlayEntry struct {
	value   []byte
	deleted bool
	// ordinal preserves first-write order for deterministic change sets.
	ordinal int
	account mvmtypes.AccountKey
	tag     *mvmtypes.StructTag // resources
	module  *mvmtypes.ModuleID  // modules
}

// transferLog records base-token movement observed during EVM execution so
// it can be replayed on the MVM side afterwards.
type transferLog struct {
	origins   []transferOrigin
	transfers []evmTransfer
}

type transferOrigin struct {
	origin mvmtypes.AccountKey
	value  *uint256.Int
}

type evmTransfer struct {
	from, to common.Address
	amount   *uint256.Int
}

// NewSession opens a session over resolver for one transaction.
func NewSession(resolver *state.Resolver, meter *GasMeter, block BlockContext, txHash common.Hash) *Session {
	return &Session{
		resolver:  resolver,
		meter:     meter,
		block:     block,
		txHash:    txHash,
		resources: make(map[string]*overlayEntry),
		modules:   make(map[string]*overlayEntry),
		evm:       newEVMExtension(),
		transfers: &transferLog{},
		mirrorEVM: true,
	}
}

func resourceMapKey(account mvmtypes.AccountKey, tag *mvmtypes.StructTag) string {
	return string(state.ResourceKey(account, tag).Bytes())
}

func moduleMapKey(id mvmtypes.ModuleID) string {
	return string(state.ModuleKey(id).Bytes())
}

// Resource reads a resource through the overlay; nil when absent.
func (s *Session) Resource(account mvmtypes.AccountKey, tag *mvmtypes.StructTag) ([]byte, error) {
	if entry, ok := s.resources[resourceMapKey(account, tag)]; ok {
		if entry.deleted {
			return nil, nil
		}
		return entry.value, nil
	}
	if err := s.meter.Charge(resourceAccessGas); err != nil {
		return nil, err
	}
	return s.resolver.Resource(account, tag)
}

// SetResource writes a resource into the overlay.
func (s *Session) SetResource(account mvmtypes.AccountKey, tag *mvmtypes.StructTag, value []byte) {
	key := resourceMapKey(account, tag)
	if entry, ok := s.resources[key]; ok {
		entry.value = value
		entry.deleted = false
		return
	}
	tagCopy := *tag
	s.resources[key] = &overlayEntry{
		value:   value,
		ordinal: len(s.resources),
		account: account,
		tag:     &tagCopy,
	}
}

// DeleteResource removes a resource.
func (s *Session) DeleteResource(account mvmtypes.AccountKey, tag *mvmtypes.StructTag) {
	key := resourceMapKey(account, tag)
	if entry, ok := s.resources[key]; ok {
		entry.value = nil
		entry.deleted = true
		return
	}
	tagCopy := *tag
	s.resources[key] = &overlayEntry{
		deleted: true,
		ordinal: len(s.resources),
		account: account,
		tag:     &tagCopy,
	}
}

// Module reads a published module through the overlay; nil when absent.
func (s *Session) Module(id mvmtypes.ModuleID) ([]byte, error) {
	if entry, ok := s.modules[moduleMapKey(id)]; ok {
		if entry.deleted {
			return nil, nil
		}
		return entry.value, nil
	}
	if err := s.meter.Charge(resourceAccessGas); err != nil {
		return nil, err
	}
	return s.resolver.Module(id)
}

// PublishModule writes a module into the overlay.
func (s *Session) PublishModule(id mvmtypes.ModuleID, code []byte) {
	key := moduleMapKey(id)
	if entry, ok := s.modules[key]; ok {
		entry.value = code
		entry.deleted = false
		return
	}
	idCopy := id
	s.modules[key] = &overlayEntry{
		value:   code,
		ordinal: len(s.modules),
		account: id.Address,
		module:  &idCopy,
	}
}

// AddLog appends an execution log.
func (s *Session) AddLog(log *types.Log) { s.logs = append(s.logs, log) }

// Logs returns the logs emitted so far, in order.
func (s *Session) Logs() []*types.Log { return s.logs }

// Meter exposes the session gas meter.
func (s *Session) Meter() *GasMeter { return s.meter }

// Block exposes the execution block context.
func (s *Session) Block() BlockContext { return s.block }

// TxHash of the transaction owning the session.
func (s *Session) TxHash() common.Hash { return s.txHash }

// recordOrigin notes that value base tokens moved from origin into EVM
// custody on entry to the EVM.
func (s *Session) recordOrigin(origin mvmtypes.AccountKey, value *uint256.Int) {
	s.transfers.origins = append(s.transfers.origins, transferOrigin{origin: origin, value: value.Clone()})
}

// recordTransfer notes one value transfer observed inside the EVM.
func (s *Session) recordTransfer(from, to common.Address, amount *uint256.Int) {
	s.transfers.transfers = append(s.transfers.transfers, evmTransfer{from: from, to: to, amount: amount.Clone()})
}

// takeTransfers drains the transfer log for replication.
func (s *Session) takeTransfers() ([]transferOrigin, []evmTransfer) {
	origins, transfers := s.transfers.origins, s.transfers.transfers
	s.transfers.origins, s.transfers.transfers = nil, nil
	return origins, transfers
}

// sessionCheckpoint captures the full overlay so a failed action can be
// rolled back while fee and nonce writes made before it survive.
type sessionCheckpoint struct {
	resources map[string]*overlayEntry
	modules   map[string]*overlayEntry
	accounts  map[common.Address]*evmAccount
	storage   map[common.Address]map[common.Hash]common.Hash
	transient map[common.Address]map[common.Hash]common.Hash
	logCount  int
}

func (s *Session) checkpoint() *sessionCheckpoint {
	cp := &sessionCheckpoint{
		resources: make(map[string]*overlayEntry, len(s.resources)),
		modules:   make(map[string]*overlayEntry, len(s.modules)),
		accounts:  make(map[common.Address]*evmAccount, len(s.evm.accounts)),
		storage:   make(map[common.Address]map[common.Hash]common.Hash, len(s.evm.storage)),
		transient: make(map[common.Address]map[common.Hash]common.Hash, len(s.evm.transient)),
		logCount:  len(s.logs),
	}
	for key, entry := range s.resources {
		entryCopy := *entry
		cp.resources[key] = &entryCopy
	}
	for key, entry := range s.modules {
		entryCopy := *entry
		cp.modules[key] = &entryCopy
	}
	for addr, account := range s.evm.accounts {
		cp.accounts[addr] = account.copy()
	}
	for addr, slots := range s.evm.storage {
		cp.storage[addr] = maps.Clone(slots)
	}
	for addr, slots := range s.evm.transient {
		cp.transient[addr] = maps.Clone(slots)
	}
	return cp
}

// restore rolls the overlay back to a checkpoint and clears the transfer
// log; the gas meter is untouched, consumed gas stays consumed.
func (s *Session) restore(cp *sessionCheckpoint) {
	s.resources = cp.resources
	s.modules = cp.modules
	s.evm.accounts = cp.accounts
	s.evm.storage = cp.storage
	s.evm.transient = cp.transient
	s.logs = s.logs[:cp.logCount]
	s.transfers.origins, s.transfers.transfers = nil, nil
}

// Finish freezes the session into a change set: the MVM overlay, the EVM
// extension's account and storage writes, and the ordered logs.
func (s *Session) Finish() (*state.ChangeSet, []*types.Log) {
	changes := &state.ChangeSet{}

	resources := make([]*overlayEntry, 0, len(s.resources))
	for _, entry := range s.resources {
		resources = append(resources, entry)
	}
	sort.Slice(resources, func(i, j int) bool { return resources[i].ordinal < resources[j].ordinal })
	for _, entry := range resources {
		changes.Resources = append(changes.Resources, state.ResourceChange{
			Account: entry.account,
			Tag:     *entry.tag,
			Value:   entry.value,
			Deleted: entry.deleted,
		})
	}

	modules := make([]*overlayEntry, 0, len(s.modules))
	for _, entry := range s.modules {
		modules = append(modules, entry)
	}
	sort.Slice(modules, func(i, j int) bool { return modules[i].ordinal < modules[j].ordinal })
	for _, entry := range modules {
		changes.Modules = append(changes.Modules, state.ModuleChange{
			ID:      *entry.module,
			Value:   entry.value,
			Deleted: entry.deleted,
		})
	}

	evmChanges := s.evm.changes()
	changes.Merge(evmChanges)
	return changes, s.logs
}

// codeHash of deployed bytecode.
func codeHash(code []byte) common.Hash {
	if len(code) == 0 {
		return types.EmptyCodeHash
	}
	return crypto.Keccak256Hash(code)
}
