// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package mvmtypes models the MVM side of the dual-VM type system: 32-byte
// account keys, type tags, struct tags, runtime values and the BCS-encoded
// transaction payloads carried inside canonical transaction data.
package mvmtypes

import (
	"fmt"
	"regexp"

	"github.com/aptos-labs/aptos-go-sdk/bcs"
	"github.com/luxfi/geth/common"
)

// AccountKey is the 32-byte account address used inside the MVM. An Ethereum
// address embeds in the low 20 bytes.
type AccountKey [32]byte

// FrameworkAddress hosts the built-in framework modules, the base token
// among them.
var FrameworkAddress = AccountKey{31: 0x01}

// EVMNativeAddress is the custodial account holding base tokens while they
// move through the EVM; the evm bridge module is published under it.
var EVMNativeAddress = AccountKey{30: 0x0e, 31: 0x5f}

// AccountKeyFromAddress embeds a 20-byte address in the low bytes of a key.
func AccountKeyFromAddress(addr common.Address) AccountKey {
	var key AccountKey
	copy(key[12:], addr.Bytes())
	return key
}

// EthAddress extracts the embedded 20-byte address.
func (k AccountKey) EthAddress() common.Address {
	return common.BytesToAddress(k[12:])
}

func (k AccountKey) String() string { return fmt.Sprintf("0x%x", k[:]) }

// MarshalBCS writes the raw 32 bytes.
func (k AccountKey) MarshalBCS(ser *bcs.Serializer) { ser.FixedBytes(k[:]) }

// UnmarshalBCS reads the raw 32 bytes.
func (k *AccountKey) UnmarshalBCS(des *bcs.Deserializer) {
	copy(k[:], des.ReadFixedBytes(32))
}

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Identifier is a module, struct or function name.
type Identifier string

// Valid reports whether the identifier is well formed.
func (id Identifier) Valid() bool { return identifierPattern.MatchString(string(id)) }

func (id Identifier) MarshalBCS(ser *bcs.Serializer) { ser.WriteString(string(id)) }

func (id *Identifier) UnmarshalBCS(des *bcs.Deserializer) {
	*id = Identifier(des.ReadString())
}

// ModuleID addresses a deployed module.
type ModuleID struct {
	Address AccountKey
	Name    Identifier
}

func (m ModuleID) String() string { return fmt.Sprintf("%s::%s", m.Address, m.Name) }

func (m ModuleID) MarshalBCS(ser *bcs.Serializer) {
	m.Address.MarshalBCS(ser)
	m.Name.MarshalBCS(ser)
}

func (m *ModuleID) UnmarshalBCS(des *bcs.Deserializer) {
	m.Address.UnmarshalBCS(des)
	m.Name.UnmarshalBCS(des)
}
