// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mvmtypes

import (
	"errors"
	"fmt"

	"github.com/aptos-labs/aptos-go-sdk/bcs"
	"github.com/luxfi/geth/common"
)

// EntryFunction is a call of a declared entry function. Args carry the
// BCS-serialized argument values; they are validated against the declared
// parameter types before dispatch.
type EntryFunction struct {
	Module   ModuleID
	Function Identifier
	TypeArgs []TypeTag
	Args     [][]byte
}

func (e *EntryFunction) MarshalBCS(ser *bcs.Serializer) {
	e.Module.MarshalBCS(ser)
	e.Function.MarshalBCS(ser)
	ser.Uleb128(uint32(len(e.TypeArgs)))
	for i := range e.TypeArgs {
		e.TypeArgs[i].MarshalBCS(ser)
	}
	ser.Uleb128(uint32(len(e.Args)))
	for _, arg := range e.Args {
		ser.WriteBytes(arg)
	}
}

func (e *EntryFunction) UnmarshalBCS(des *bcs.Deserializer) {
	e.Module.UnmarshalBCS(des)
	e.Function.UnmarshalBCS(des)
	nty := des.Uleb128()
	if des.Error() != nil {
		return
	}
	e.TypeArgs = make([]TypeTag, nty)
	for i := range e.TypeArgs {
		e.TypeArgs[i].UnmarshalBCS(des)
		if des.Error() != nil {
			return
		}
	}
	nargs := des.Uleb128()
	if des.Error() != nil {
		return
	}
	e.Args = make([][]byte, nargs)
	for i := range e.Args {
		e.Args[i] = des.ReadBytes()
		if des.Error() != nil {
			return
		}
	}
}

// Script is an ad-hoc program executed without deployment.
type Script struct {
	Code     []byte
	TypeArgs []TypeTag
	Args     [][]byte
}

func (s *Script) MarshalBCS(ser *bcs.Serializer) {
	ser.WriteBytes(s.Code)
	ser.Uleb128(uint32(len(s.TypeArgs)))
	for i := range s.TypeArgs {
		s.TypeArgs[i].MarshalBCS(ser)
	}
	ser.Uleb128(uint32(len(s.Args)))
	for _, arg := range s.Args {
		ser.WriteBytes(arg)
	}
}

func (s *Script) UnmarshalBCS(des *bcs.Deserializer) {
	s.Code = des.ReadBytes()
	nty := des.Uleb128()
	if des.Error() != nil {
		return
	}
	s.TypeArgs = make([]TypeTag, nty)
	for i := range s.TypeArgs {
		s.TypeArgs[i].UnmarshalBCS(des)
		if des.Error() != nil {
			return
		}
	}
	nargs := des.Uleb128()
	if des.Error() != nil {
		return
	}
	s.Args = make([][]byte, nargs)
	for i := range s.Args {
		s.Args[i] = des.ReadBytes()
		if des.Error() != nil {
			return
		}
	}
}

// Module is a deployable module image: its serialized definition.
type Module struct {
	Code []byte
}

func (m *Module) MarshalBCS(ser *bcs.Serializer)     { ser.WriteBytes(m.Code) }
func (m *Module) UnmarshalBCS(des *bcs.Deserializer) { m.Code = des.ReadBytes() }

// ScriptOrModule is the create-transaction payload.
type ScriptOrModule struct {
	Script *Script // variant 0
	Module *Module // variant 1
}

func (sm *ScriptOrModule) MarshalBCS(ser *bcs.Serializer) {
	switch {
	case sm.Script != nil:
		ser.Uleb128(0)
		sm.Script.MarshalBCS(ser)
	case sm.Module != nil:
		ser.Uleb128(1)
		sm.Module.MarshalBCS(ser)
	default:
		ser.SetError(errors.New("empty ScriptOrModule"))
	}
}

func (sm *ScriptOrModule) UnmarshalBCS(des *bcs.Deserializer) {
	switch variant := des.Uleb128(); variant {
	case 0:
		sm.Script = new(Script)
		sm.Script.UnmarshalBCS(des)
	case 1:
		sm.Module = new(Module)
		sm.Module.UnmarshalBCS(des)
	default:
		des.SetError(fmt.Errorf("invalid ScriptOrModule variant %d", variant))
	}
}

// TransactionData is the parsed intent of a non-deposit transaction. The
// variant order matches the SDK payload encoding and must not change.
type TransactionData struct {
	EoaTransfer    *common.Address // variant 0
	ScriptOrModule *ScriptOrModule // variant 1
	EntryFunction  *EntryFunction  // variant 2
	L2Contract     *common.Address // variant 3
}

func (td *TransactionData) MarshalBCS(ser *bcs.Serializer) {
	switch {
	case td.EoaTransfer != nil:
		ser.Uleb128(0)
		ser.FixedBytes(td.EoaTransfer.Bytes())
	case td.ScriptOrModule != nil:
		ser.Uleb128(1)
		td.ScriptOrModule.MarshalBCS(ser)
	case td.EntryFunction != nil:
		ser.Uleb128(2)
		td.EntryFunction.MarshalBCS(ser)
	case td.L2Contract != nil:
		ser.Uleb128(3)
		ser.FixedBytes(td.L2Contract.Bytes())
	default:
		ser.SetError(errors.New("empty TransactionData"))
	}
}

func (td *TransactionData) UnmarshalBCS(des *bcs.Deserializer) {
	switch variant := des.Uleb128(); variant {
	case 0:
		addr := common.BytesToAddress(des.ReadFixedBytes(20))
		td.EoaTransfer = &addr
	case 1:
		td.ScriptOrModule = new(ScriptOrModule)
		td.ScriptOrModule.UnmarshalBCS(des)
	case 2:
		td.EntryFunction = new(EntryFunction)
		td.EntryFunction.UnmarshalBCS(des)
	case 3:
		addr := common.BytesToAddress(des.ReadFixedBytes(20))
		td.L2Contract = &addr
	default:
		des.SetError(fmt.Errorf("invalid TransactionData variant %d", variant))
	}
}

// DecodeTransactionData parses a BCS TransactionData blob and requires the
// whole input to be consumed.
func DecodeTransactionData(data []byte) (*TransactionData, error) {
	td := new(TransactionData)
	des := bcs.NewDeserializer(data)
	td.UnmarshalBCS(des)
	if err := des.Error(); err != nil {
		return nil, err
	}
	if des.Remaining() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after transaction data", des.Remaining())
	}
	return td, nil
}
