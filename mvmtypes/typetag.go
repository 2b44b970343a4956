// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mvmtypes

import (
	"fmt"
	"strings"

	"github.com/aptos-labs/aptos-go-sdk/bcs"
)

// TypeKind enumerates the runtime type constructors. The numeric values are
// the BCS variant indexes of the canonical type-tag encoding and must never
// change.
type TypeKind uint32

const (
	KindBool TypeKind = iota
	KindU8
	KindU64
	KindU128
	KindAddress
	KindSigner
	KindVector
	KindStruct
	KindU16
	KindU32
	KindU256
)

// MaxTypeDepth bounds type nesting; deeper types are rejected when a module
// is deployed, so runtime recursion over deployed types is always bounded.
const MaxTypeDepth = 255

// TypeTag is a runtime type: a primitive, a vector of a type, or a struct.
type TypeTag struct {
	Kind   TypeKind
	Elem   *TypeTag   // set when Kind == KindVector
	Struct *StructTag // set when Kind == KindStruct
}

// StructTag fully qualifies a struct type including its type arguments.
type StructTag struct {
	Address  AccountKey
	Module   Identifier
	Name     Identifier
	TypeArgs []TypeTag
}

// ModuleID of the struct's defining module.
func (s *StructTag) ModuleID() ModuleID {
	return ModuleID{Address: s.Address, Name: s.Module}
}

// SameDefinition reports whether two tags name the same struct, ignoring
// type arguments (which are only known at runtime).
func (s *StructTag) SameDefinition(other *StructTag) bool {
	return s.Address == other.Address && s.Module == other.Module && s.Name == other.Name
}

func (s *StructTag) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s::%s::%s", s.Address, s.Module, s.Name)
	if len(s.TypeArgs) > 0 {
		parts := make([]string, len(s.TypeArgs))
		for i, arg := range s.TypeArgs {
			parts[i] = arg.String()
		}
		fmt.Fprintf(&b, "<%s>", strings.Join(parts, ", "))
	}
	return b.String()
}

func (t *TypeTag) String() string {
	switch t.Kind {
	case KindBool:
		return "bool"
	case KindU8:
		return "u8"
	case KindU16:
		return "u16"
	case KindU32:
		return "u32"
	case KindU64:
		return "u64"
	case KindU128:
		return "u128"
	case KindU256:
		return "u256"
	case KindAddress:
		return "address"
	case KindSigner:
		return "signer"
	case KindVector:
		return fmt.Sprintf("vector<%s>", t.Elem.String())
	case KindStruct:
		return t.Struct.String()
	}
	return fmt.Sprintf("unknown(%d)", t.Kind)
}

// IsVectorU8 reports whether the tag is vector<u8>.
func (t *TypeTag) IsVectorU8() bool {
	return t.Kind == KindVector && t.Elem != nil && t.Elem.Kind == KindU8
}

// Depth is the nesting depth of the type.
func (t *TypeTag) Depth() int {
	switch t.Kind {
	case KindVector:
		return 1 + t.Elem.Depth()
	case KindStruct:
		max := 0
		for i := range t.Struct.TypeArgs {
			if d := t.Struct.TypeArgs[i].Depth(); d > max {
				max = d
			}
		}
		return 1 + max
	default:
		return 1
	}
}

func (t *TypeTag) MarshalBCS(ser *bcs.Serializer) {
	ser.Uleb128(uint32(t.Kind))
	switch t.Kind {
	case KindVector:
		t.Elem.MarshalBCS(ser)
	case KindStruct:
		t.Struct.MarshalBCS(ser)
	}
}

func (t *TypeTag) UnmarshalBCS(des *bcs.Deserializer) {
	t.Kind = TypeKind(des.Uleb128())
	switch t.Kind {
	case KindBool, KindU8, KindU16, KindU32, KindU64, KindU128, KindU256, KindAddress, KindSigner:
	case KindVector:
		t.Elem = new(TypeTag)
		t.Elem.UnmarshalBCS(des)
	case KindStruct:
		t.Struct = new(StructTag)
		t.Struct.UnmarshalBCS(des)
	default:
		des.SetError(fmt.Errorf("invalid type tag variant %d", t.Kind))
	}
}

func (s *StructTag) MarshalBCS(ser *bcs.Serializer) {
	s.Address.MarshalBCS(ser)
	s.Module.MarshalBCS(ser)
	s.Name.MarshalBCS(ser)
	ser.Uleb128(uint32(len(s.TypeArgs)))
	for i := range s.TypeArgs {
		s.TypeArgs[i].MarshalBCS(ser)
	}
}

func (s *StructTag) UnmarshalBCS(des *bcs.Deserializer) {
	s.Address.UnmarshalBCS(des)
	s.Module.UnmarshalBCS(des)
	s.Name.UnmarshalBCS(des)
	n := des.Uleb128()
	if des.Error() != nil {
		return
	}
	s.TypeArgs = make([]TypeTag, n)
	for i := range s.TypeArgs {
		s.TypeArgs[i].UnmarshalBCS(des)
		if des.Error() != nil {
			return
		}
	}
}

// Convenience constructors used throughout the executor.
func BoolTag() TypeTag    { return TypeTag{Kind: KindBool} }
func U8Tag() TypeTag      { return TypeTag{Kind: KindU8} }
func U16Tag() TypeTag     { return TypeTag{Kind: KindU16} }
func U32Tag() TypeTag     { return TypeTag{Kind: KindU32} }
func U64Tag() TypeTag     { return TypeTag{Kind: KindU64} }
func U128Tag() TypeTag    { return TypeTag{Kind: KindU128} }
func U256Tag() TypeTag    { return TypeTag{Kind: KindU256} }
func AddressTag() TypeTag { return TypeTag{Kind: KindAddress} }
func SignerTag() TypeTag  { return TypeTag{Kind: KindSigner} }

func VectorTag(elem TypeTag) TypeTag {
	return TypeTag{Kind: KindVector, Elem: &elem}
}

func StructTypeTag(tag StructTag) TypeTag {
	return TypeTag{Kind: KindStruct, Struct: &tag}
}
