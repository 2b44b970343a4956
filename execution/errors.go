// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package execution implements the dual-VM transaction executor: intent
// dispatch, the MVM session with its base-token module and native functions,
// the EVM bridge over the shared world state, and the Solidity ABI codec.
package execution

import (
	"errors"
	"fmt"
)

// The error taxonomy of the executor. User errors are on-chain program
// failures: the transaction is included with a failed receipt. Invalid
// transaction errors make the transaction unincludable: it is skipped with
// no state change and no receipt. Invariant violations are fatal.

// UserError marks an on-chain program failure (aborted entry function, EVM
// revert).
type UserError struct {
	Err error
}

func (e *UserError) Error() string { return fmt.Sprintf("user error: %v", e.Err) }
func (e *UserError) Unwrap() error { return e.Err }

// InvalidTransactionError marks a transaction that can never be included.
type InvalidTransactionError struct {
	Err error
}

func (e *InvalidTransactionError) Error() string {
	return fmt.Sprintf("invalid transaction: %v", e.Err)
}
func (e *InvalidTransactionError) Unwrap() error { return e.Err }

// InvariantViolationError marks a broken internal invariant. The block build
// that hits one must abort.
type InvariantViolationError struct {
	Err error
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violation: %v", e.Err)
}
func (e *InvariantViolationError) Unwrap() error { return e.Err }

func userErr(err error) error   { return &UserError{Err: err} }
func invalidTx(err error) error { return &InvalidTransactionError{Err: err} }
func invariant(err error) error { return &InvariantViolationError{Err: err} }
func invariantf(format string, args ...any) error {
	return &InvariantViolationError{Err: fmt.Errorf(format, args...)}
}

// IsUserError reports whether err is an on-chain program failure.
func IsUserError(err error) bool {
	var target *UserError
	return errors.As(err, &target)
}

// IsInvalidTransaction reports whether err makes the transaction
// unincludable.
func IsInvalidTransaction(err error) bool {
	var target *InvalidTransactionError
	return errors.As(err, &target)
}

// IsInvariantViolation reports whether err is fatal.
func IsInvariantViolation(err error) bool {
	var target *InvariantViolationError
	return errors.As(err, &target)
}

// Invalid-transaction causes.
var (
	ErrIncorrectChainID         = errors.New("incorrect chain id")
	ErrInsufficientIntrinsicGas = errors.New("insufficient intrinsic gas")
	ErrFailedToPayL1Fee         = errors.New("failed to pay L1 fee")
	ErrFailedToPayL2Fee         = errors.New("failed to pay L2 fee")
	ErrInvalidDestination       = errors.New("invalid destination")
	ErrInvalidPayload           = errors.New("invalid transaction payload")
	ErrMismatchedArgumentCount  = errors.New("mismatched argument count")
	ErrInvalidSigner            = errors.New("signer does not match transaction signature")
	ErrInvalidString            = errors.New("string argument is not valid UTF-8")
	ErrInvalidOption            = errors.New("option argument must hold zero or one value")
	ErrInvalidObject            = errors.New("object argument does not reference a live object")
	ErrDisallowedStruct         = errors.New("struct type not allowed in entry function")
	ErrUnknownModule            = errors.New("module not found")
	ErrUnknownFunction          = errors.New("function not found")
	ErrNotAnEntryFunction       = errors.New("function is not an entry function")
)

// ErrIncorrectNonce carries both sides of a nonce mismatch.
type ErrIncorrectNonce struct {
	Given    uint64
	Expected uint64
}

func (e *ErrIncorrectNonce) Error() string {
	return fmt.Sprintf("incorrect nonce: given=%d expected=%d", e.Given, e.Expected)
}

// User-error causes.
var (
	ErrInsufficientBalance = errors.New("insufficient base token balance")
	ErrNoFunctionBody      = errors.New("function has no native body bound")
)
