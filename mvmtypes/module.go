// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mvmtypes

import (
	"errors"
	"fmt"

	"github.com/aptos-labs/aptos-go-sdk/bcs"
)

// ModuleDef is the deployable module definition carried in Module.Code:
// the declared structs and functions. Function bodies live with the embedded
// VM; the engine needs the declarations for deploy-time validation, entry
// argument checking and native binding.
type ModuleDef struct {
	Name      Identifier
	Structs   []StructDef
	Functions []FunctionDef
}

// StructDef declares a struct and its fields.
type StructDef struct {
	Name   Identifier
	Fields []FieldDef
}

// FieldDef declares one field.
type FieldDef struct {
	Name Identifier
	Type TypeTag
}

// FunctionDef declares a function. Entry functions are callable from
// transactions. NativeName names a built-in implementation; the executor
// finds natives by module and function name, not by NativeName.
type FunctionDef struct {
	Name       Identifier
	IsEntry    bool
	Params     []ParamDef
	NativeName Identifier
}

// ParamDef declares one parameter. RefDepth counts reference wrappers around
// the type: 0 is a value, 1 a (mutable or immutable) reference. References
// are erased when arguments are serialized, but nested references are
// rejected outright.
type ParamDef struct {
	RefDepth uint8
	Type     TypeTag
}

func (p *ParamDef) MarshalBCS(ser *bcs.Serializer) {
	ser.U8(p.RefDepth)
	p.Type.MarshalBCS(ser)
}

func (p *ParamDef) UnmarshalBCS(des *bcs.Deserializer) {
	p.RefDepth = des.U8()
	p.Type.UnmarshalBCS(des)
}

func (f *FunctionDef) MarshalBCS(ser *bcs.Serializer) {
	f.Name.MarshalBCS(ser)
	ser.Bool(f.IsEntry)
	ser.Uleb128(uint32(len(f.Params)))
	for i := range f.Params {
		f.Params[i].MarshalBCS(ser)
	}
	f.NativeName.MarshalBCS(ser)
}

func (f *FunctionDef) UnmarshalBCS(des *bcs.Deserializer) {
	f.Name.UnmarshalBCS(des)
	f.IsEntry = des.Bool()
	n := des.Uleb128()
	if des.Error() != nil {
		return
	}
	f.Params = make([]ParamDef, n)
	for i := range f.Params {
		f.Params[i].UnmarshalBCS(des)
		if des.Error() != nil {
			return
		}
	}
	f.NativeName.UnmarshalBCS(des)
}

func (s *StructDef) MarshalBCS(ser *bcs.Serializer) {
	s.Name.MarshalBCS(ser)
	ser.Uleb128(uint32(len(s.Fields)))
	for i := range s.Fields {
		s.Fields[i].Name.MarshalBCS(ser)
		s.Fields[i].Type.MarshalBCS(ser)
	}
}

func (s *StructDef) UnmarshalBCS(des *bcs.Deserializer) {
	s.Name.UnmarshalBCS(des)
	n := des.Uleb128()
	if des.Error() != nil {
		return
	}
	s.Fields = make([]FieldDef, n)
	for i := range s.Fields {
		s.Fields[i].Name.UnmarshalBCS(des)
		s.Fields[i].Type.UnmarshalBCS(des)
		if des.Error() != nil {
			return
		}
	}
}

func (m *ModuleDef) MarshalBCS(ser *bcs.Serializer) {
	m.Name.MarshalBCS(ser)
	ser.Uleb128(uint32(len(m.Structs)))
	for i := range m.Structs {
		m.Structs[i].MarshalBCS(ser)
	}
	ser.Uleb128(uint32(len(m.Functions)))
	for i := range m.Functions {
		m.Functions[i].MarshalBCS(ser)
	}
}

func (m *ModuleDef) UnmarshalBCS(des *bcs.Deserializer) {
	m.Name.UnmarshalBCS(des)
	ns := des.Uleb128()
	if des.Error() != nil {
		return
	}
	m.Structs = make([]StructDef, ns)
	for i := range m.Structs {
		m.Structs[i].UnmarshalBCS(des)
		if des.Error() != nil {
			return
		}
	}
	nf := des.Uleb128()
	if des.Error() != nil {
		return
	}
	m.Functions = make([]FunctionDef, nf)
	for i := range m.Functions {
		m.Functions[i].UnmarshalBCS(des)
		if des.Error() != nil {
			return
		}
	}
}

// EncodeModuleDef serializes a module definition.
func EncodeModuleDef(def *ModuleDef) ([]byte, error) {
	return bcs.Serialize(def)
}

// DecodeModuleDef parses a module definition.
func DecodeModuleDef(code []byte) (*ModuleDef, error) {
	def := new(ModuleDef)
	if err := bcs.Deserialize(def, code); err != nil {
		return nil, err
	}
	return def, nil
}

// Function returns the declared function by name.
func (m *ModuleDef) Function(name Identifier) (*FunctionDef, bool) {
	for i := range m.Functions {
		if m.Functions[i].Name == name {
			return &m.Functions[i], true
		}
	}
	return nil, false
}

// Struct returns the declared struct by name.
func (m *ModuleDef) Struct(name Identifier) (*StructDef, bool) {
	for i := range m.Structs {
		if m.Structs[i].Name == name {
			return &m.Structs[i], true
		}
	}
	return nil, false
}

var (
	ErrRecursiveStruct = errors.New("recursive struct definition")
	ErrTypeTooDeep     = errors.New("maximum type recursion depth reached")
)

// Validate performs the deploy-time checks: well-formed identifiers, type
// nesting within the recursion limit, and no struct whose field types reach
// back to itself. Modules failing validation are rejected before any state
// is written.
func (m *ModuleDef) Validate(owner AccountKey) error {
	if !m.Name.Valid() {
		return fmt.Errorf("invalid module name %q", m.Name)
	}
	for i := range m.Structs {
		if !m.Structs[i].Name.Valid() {
			return fmt.Errorf("invalid struct name %q", m.Structs[i].Name)
		}
		for j := range m.Structs[i].Fields {
			if m.Structs[i].Fields[j].Type.Depth() > MaxTypeDepth {
				return ErrTypeTooDeep
			}
		}
	}
	for i := range m.Functions {
		if !m.Functions[i].Name.Valid() {
			return fmt.Errorf("invalid function name %q", m.Functions[i].Name)
		}
		for j := range m.Functions[i].Params {
			if m.Functions[i].Params[j].Type.Depth() > MaxTypeDepth {
				return ErrTypeTooDeep
			}
		}
	}
	return m.checkStructCycles(owner)
}

// checkStructCycles walks the reference graph between structs defined in this
// module. References through vectors and type arguments count: Move storage
// layouts cannot contain themselves at any depth.
func (m *ModuleDef) checkStructCycles(owner AccountKey) error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[Identifier]int, len(m.Structs))

	var visit func(name Identifier) error
	visit = func(name Identifier) error {
		switch state[name] {
		case visiting:
			return fmt.Errorf("%w: %s", ErrRecursiveStruct, name)
		case done:
			return nil
		}
		state[name] = visiting
		def, ok := m.Struct(name)
		if !ok {
			state[name] = done
			return nil
		}
		for i := range def.Fields {
			for _, ref := range localStructRefs(&def.Fields[i].Type, owner, m.Name) {
				if err := visit(ref); err != nil {
					return err
				}
			}
		}
		state[name] = done
		return nil
	}

	for i := range m.Structs {
		if err := visit(m.Structs[i].Name); err != nil {
			return err
		}
	}
	return nil
}

// localStructRefs collects names of structs from the same module referenced
// anywhere inside t.
func localStructRefs(t *TypeTag, owner AccountKey, module Identifier) []Identifier {
	var refs []Identifier
	switch t.Kind {
	case KindVector:
		refs = append(refs, localStructRefs(t.Elem, owner, module)...)
	case KindStruct:
		if t.Struct.Address == owner && t.Struct.Module == module {
			refs = append(refs, t.Struct.Name)
		}
		for i := range t.Struct.TypeArgs {
			refs = append(refs, localStructRefs(&t.Struct.TypeArgs[i], owner, module)...)
		}
	}
	return refs
}
