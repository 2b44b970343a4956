// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package execution

import (
	"github.com/holiman/uint256"

	"github.com/luxfi/mevm/mvmtypes"
)

// The base-token module. Balances and nonces are resources of the framework's
// eth_token module stored under each holder's account; the EVM account
// records, where they exist, mirror them so both VM sides
// agree on every account at transaction boundaries.

const (
	tokenModuleName   = "eth_token"
	balanceStructName = "Balance"
	nonceStructName   = "Nonce"
)

// BalanceTag is the resource tag of a base-token balance.
func BalanceTag() mvmtypes.StructTag {
	return mvmtypes.StructTag{Address: mvmtypes.FrameworkAddress, Module: tokenModuleName, Name: balanceStructName}
}

// NonceTag is the resource tag of an account nonce.
func NonceTag() mvmtypes.StructTag {
	return mvmtypes.StructTag{Address: mvmtypes.FrameworkAddress, Module: tokenModuleName, Name: nonceStructName}
}

var (
	balanceLayout = mvmtypes.PrimitiveLayout(mvmtypes.KindU256)
	nonceLayout   = mvmtypes.PrimitiveLayout(mvmtypes.KindU64)
)

// BaseTokenAccounts moves base tokens between accounts for fee charging and
// refunds. The treasury collects charged fees.
type BaseTokenAccounts struct {
	Treasury mvmtypes.AccountKey
}

func baseBalanceOf(s *Session, account mvmtypes.AccountKey) (*uint256.Int, error) {
	tag := BalanceTag()
	data, err := s.Resource(account, &tag)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return uint256.NewInt(0), nil
	}
	value, err := mvmtypes.DeserializeValue(data, &balanceLayout)
	if err != nil {
		return nil, invariantf("stored balance does not deserialize: %v", err)
	}
	return value.Uint, nil
}

func setBaseBalance(s *Session, account mvmtypes.AccountKey, amount *uint256.Int) error {
	tag := BalanceTag()
	value := mvmtypes.U256Value(amount)
	data, err := mvmtypes.SerializeValue(&value, &balanceLayout)
	if err != nil {
		return invariantf("balance does not serialize: %v", err)
	}
	s.SetResource(account, &tag, data)
	// Keep the EVM view of the embedded address in lock-step when it has an
	// account record.
	if s.mirrorEVM {
		syncEVMBalance(s, account, amount)
	}
	return nil
}

func baseNonceOf(s *Session, account mvmtypes.AccountKey) (uint64, error) {
	tag := NonceTag()
	data, err := s.Resource(account, &tag)
	if err != nil {
		return 0, err
	}
	if data == nil {
		return 0, nil
	}
	value, err := mvmtypes.DeserializeValue(data, &nonceLayout)
	if err != nil {
		return 0, invariantf("stored nonce does not deserialize: %v", err)
	}
	return value.Uint.Uint64(), nil
}

func setBaseNonce(s *Session, account mvmtypes.AccountKey, nonce uint64) error {
	tag := NonceTag()
	value := mvmtypes.U64Value(nonce)
	data, err := mvmtypes.SerializeValue(&value, &nonceLayout)
	if err != nil {
		return invariantf("nonce does not serialize: %v", err)
	}
	s.SetResource(account, &tag, data)
	if s.mirrorEVM {
		syncEVMNonce(s, account, nonce)
	}
	return nil
}

// syncEVMBalance mirrors a base-token balance into the EVM account record of
// the embedded address, when one exists.
func syncEVMBalance(s *Session, account mvmtypes.AccountKey, amount *uint256.Int) {
	addr := account.EthAddress()
	if entry, ok := s.evm.accounts[addr]; ok {
		if entry.exists {
			entry.balance = amount.Clone()
			entry.dirty = true
		}
		return
	}
	record, err := s.resolver.EVMAccount(addr)
	if err != nil || record == nil {
		return
	}
	s.evm.accounts[addr] = &evmAccount{
		balance:  amount.Clone(),
		nonce:    record.Nonce,
		codeHash: record.CodeHash,
		exists:   true,
		dirty:    true,
	}
}

func syncEVMNonce(s *Session, account mvmtypes.AccountKey, nonce uint64) {
	addr := account.EthAddress()
	if entry, ok := s.evm.accounts[addr]; ok {
		if entry.exists {
			entry.nonce = nonce
			entry.dirty = true
		}
		return
	}
	record, err := s.resolver.EVMAccount(addr)
	if err != nil || record == nil {
		return
	}
	s.evm.accounts[addr] = &evmAccount{
		balance:  record.Balance.Clone(),
		nonce:    nonce,
		codeHash: record.CodeHash,
		exists:   true,
		dirty:    true,
	}
}

// MintBaseToken creates amount new base tokens on account. Zero-amount mints
// are no-ops. Minting must always succeed; a failure is fatal.
func MintBaseToken(s *Session, to mvmtypes.AccountKey, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	balance, err := baseBalanceOf(s, to)
	if err != nil {
		return invariant(err)
	}
	return setBaseBalance(s, to, new(uint256.Int).Add(balance, amount))
}

// BurnBaseToken destroys amount base tokens held by account.
func BurnBaseToken(s *Session, from mvmtypes.AccountKey, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	balance, err := baseBalanceOf(s, from)
	if err != nil {
		return invariant(err)
	}
	if balance.Lt(amount) {
		return userErr(ErrInsufficientBalance)
	}
	return setBaseBalance(s, from, new(uint256.Int).Sub(balance, amount))
}

// TransferBaseToken moves amount from one account to another.
func TransferBaseToken(s *Session, from, to mvmtypes.AccountKey, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	fromBalance, err := baseBalanceOf(s, from)
	if err != nil {
		return invariant(err)
	}
	if fromBalance.Lt(amount) {
		return userErr(ErrInsufficientBalance)
	}
	toBalance, err := baseBalanceOf(s, to)
	if err != nil {
		return invariant(err)
	}
	if err := setBaseBalance(s, from, new(uint256.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return setBaseBalance(s, to, new(uint256.Int).Add(toBalance, amount))
}

// ChargeGasCost moves a fee from the payer to the treasury.
func (b BaseTokenAccounts) ChargeGasCost(s *Session, from mvmtypes.AccountKey, amount *uint256.Int) error {
	return TransferBaseToken(s, from, b.Treasury, amount)
}

// RefundGasCost returns an overcharge from the treasury to the payer.
// Refunds must always succeed; a failure is a broken invariant.
func (b BaseTokenAccounts) RefundGasCost(s *Session, to mvmtypes.AccountKey, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	err := TransferBaseToken(s, b.Treasury, to, amount)
	if err != nil {
		return invariantf("gas refund failed: %v", err)
	}
	return nil
}

// CheckNonce verifies the given nonce equals the stored one and increments
// the stored value.
func CheckNonce(s *Session, account mvmtypes.AccountKey, given uint64) error {
	stored, err := baseNonceOf(s, account)
	if err != nil {
		return invariant(err)
	}
	if stored != given {
		return invalidTx(&ErrIncorrectNonce{Given: given, Expected: stored})
	}
	return setBaseNonce(s, account, stored+1)
}

// replicateTransfers applies the EVM transfer log on the MVM side: custody
// returns to every origin first, then the observed transfers replay in
// order. Balances on both sides agree again afterwards. The EVM mirror is
// off for the duration: the EVM view already holds the post-transfer
// balances.
func replicateTransfers(s *Session) error {
	s.mirrorEVM = false
	defer func() { s.mirrorEVM = true }()
	origins, transfers := s.takeTransfers()
	for _, origin := range origins {
		if origin.value.IsZero() {
			continue
		}
		if err := TransferBaseToken(s, mvmtypes.EVMNativeAddress, origin.origin, origin.value); err != nil {
			return invariantf("EVM custody return failed: %v", err)
		}
	}
	for _, transfer := range transfers {
		from := mvmtypes.AccountKeyFromAddress(transfer.from)
		to := mvmtypes.AccountKeyFromAddress(transfer.to)
		if err := TransferBaseToken(s, from, to, transfer.amount); err != nil {
			return invariantf("EVM transfer replication failed: %v", err)
		}
	}
	return nil
}
