// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mvmtypes

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/aptos-labs/aptos-go-sdk/bcs"
	"github.com/holiman/uint256"
)

// Value is an MVM runtime value. Integers of every width share the Uint
// field; Kind fixes the width for serialization.
type Value struct {
	Kind    TypeKind
	Bool    bool
	Uint    *uint256.Int
	Address AccountKey // address and signer values
	Vector  []Value
	Fields  []Value // struct fields in declaration order
}

func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }

func U8Value(v uint8) Value   { return Value{Kind: KindU8, Uint: uint256.NewInt(uint64(v))} }
func U16Value(v uint16) Value { return Value{Kind: KindU16, Uint: uint256.NewInt(uint64(v))} }
func U32Value(v uint32) Value { return Value{Kind: KindU32, Uint: uint256.NewInt(uint64(v))} }
func U64Value(v uint64) Value { return Value{Kind: KindU64, Uint: uint256.NewInt(v)} }

func U128Value(v *uint256.Int) Value { return Value{Kind: KindU128, Uint: v} }
func U256Value(v *uint256.Int) Value { return Value{Kind: KindU256, Uint: v} }

func AddressValue(k AccountKey) Value { return Value{Kind: KindAddress, Address: k} }
func SignerValue(k AccountKey) Value  { return Value{Kind: KindSigner, Address: k} }

func VectorValue(elems ...Value) Value { return Value{Kind: KindVector, Vector: elems} }

// BytesValue is a vector<u8> value.
func BytesValue(data []byte) Value {
	elems := make([]Value, len(data))
	for i, b := range data {
		elems[i] = U8Value(b)
	}
	return VectorValue(elems...)
}

func StructValue(fields ...Value) Value { return Value{Kind: KindStruct, Fields: fields} }

// AsBytes converts a vector<u8> value back into a byte slice.
func (v *Value) AsBytes() ([]byte, error) {
	if v.Kind != KindVector {
		return nil, errors.New("value is not a vector")
	}
	out := make([]byte, len(v.Vector))
	for i := range v.Vector {
		if v.Vector[i].Kind != KindU8 {
			return nil, errors.New("vector element is not u8")
		}
		out[i] = uint8(v.Vector[i].Uint.Uint64())
	}
	return out, nil
}

// Equal is deep structural equality.
func (v *Value) Equal(other *Value) bool {
	if v.Kind != other.Kind || v.Bool != other.Bool || v.Address != other.Address {
		return false
	}
	if (v.Uint == nil) != (other.Uint == nil) {
		return false
	}
	if v.Uint != nil && !v.Uint.Eq(other.Uint) {
		return false
	}
	if len(v.Vector) != len(other.Vector) || len(v.Fields) != len(other.Fields) {
		return false
	}
	for i := range v.Vector {
		if !v.Vector[i].Equal(&other.Vector[i]) {
			return false
		}
	}
	for i := range v.Fields {
		if !v.Fields[i].Equal(&other.Fields[i]) {
			return false
		}
	}
	return true
}

// Layout describes how to (de)serialize a value and, for structs, carries the
// fully annotated struct tag and field layouts.
type Layout struct {
	Kind   TypeKind
	Elem   *Layout
	Struct *StructLayout
}

// StructLayout is an annotated struct layout.
type StructLayout struct {
	Tag    StructTag
	Fields []FieldLayout
}

// FieldLayout names one struct field.
type FieldLayout struct {
	Name   Identifier
	Layout Layout
}

func PrimitiveLayout(kind TypeKind) Layout { return Layout{Kind: kind} }

func VectorLayout(elem Layout) Layout { return Layout{Kind: KindVector, Elem: &elem} }

func NewStructLayout(tag StructTag, fields ...FieldLayout) Layout {
	return Layout{Kind: KindStruct, Struct: &StructLayout{Tag: tag, Fields: fields}}
}

// SerializeValue writes the canonical byte encoding of v following layout.
func SerializeValue(v *Value, layout *Layout) ([]byte, error) {
	ser := &bcs.Serializer{}
	serializeInto(ser, v, layout)
	if err := ser.Error(); err != nil {
		return nil, err
	}
	return ser.ToBytes(), nil
}

func serializeInto(ser *bcs.Serializer, v *Value, layout *Layout) {
	if v.Kind != layout.Kind {
		ser.SetError(fmt.Errorf("value kind %d does not match layout kind %d", v.Kind, layout.Kind))
		return
	}
	switch layout.Kind {
	case KindBool:
		ser.Bool(v.Bool)
	case KindU8:
		ser.U8(uint8(v.Uint.Uint64()))
	case KindU16:
		ser.U16(uint16(v.Uint.Uint64()))
	case KindU32:
		ser.U32(uint32(v.Uint.Uint64()))
	case KindU64:
		ser.U64(v.Uint.Uint64())
	case KindU128:
		ser.U128(*v.Uint.ToBig())
	case KindU256:
		ser.U256(*v.Uint.ToBig())
	case KindAddress, KindSigner:
		ser.FixedBytes(v.Address[:])
	case KindVector:
		ser.Uleb128(uint32(len(v.Vector)))
		for i := range v.Vector {
			serializeInto(ser, &v.Vector[i], layout.Elem)
		}
	case KindStruct:
		if len(v.Fields) != len(layout.Struct.Fields) {
			ser.SetError(fmt.Errorf("struct %s has %d fields, value has %d",
				layout.Struct.Tag.Name, len(layout.Struct.Fields), len(v.Fields)))
			return
		}
		for i := range v.Fields {
			serializeInto(ser, &v.Fields[i], &layout.Struct.Fields[i].Layout)
		}
	default:
		ser.SetError(fmt.Errorf("cannot serialize kind %d", layout.Kind))
	}
}

// DeserializeValue parses the canonical byte encoding into a value following
// layout. The whole input must be consumed.
func DeserializeValue(data []byte, layout *Layout) (*Value, error) {
	des := bcs.NewDeserializer(data)
	v := deserializeFrom(des, layout, 0)
	if err := des.Error(); err != nil {
		return nil, err
	}
	if des.Remaining() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after value", des.Remaining())
	}
	return v, nil
}

func deserializeFrom(des *bcs.Deserializer, layout *Layout, depth int) *Value {
	if depth > MaxTypeDepth {
		des.SetError(errors.New("value nesting exceeds maximum depth"))
		return &Value{}
	}
	switch layout.Kind {
	case KindBool:
		return &Value{Kind: KindBool, Bool: des.Bool()}
	case KindU8:
		return &Value{Kind: KindU8, Uint: uint256.NewInt(uint64(des.U8()))}
	case KindU16:
		return &Value{Kind: KindU16, Uint: uint256.NewInt(uint64(des.U16()))}
	case KindU32:
		return &Value{Kind: KindU32, Uint: uint256.NewInt(uint64(des.U32()))}
	case KindU64:
		return &Value{Kind: KindU64, Uint: uint256.NewInt(des.U64())}
	case KindU128:
		v := des.U128()
		return &Value{Kind: KindU128, Uint: bigToUint256(des, &v)}
	case KindU256:
		v := des.U256()
		return &Value{Kind: KindU256, Uint: bigToUint256(des, &v)}
	case KindAddress, KindSigner:
		var key AccountKey
		copy(key[:], des.ReadFixedBytes(32))
		return &Value{Kind: layout.Kind, Address: key}
	case KindVector:
		n := des.Uleb128()
		if des.Error() != nil {
			return &Value{}
		}
		// The element count is bounded by the remaining input: every element
		// occupies at least one byte.
		if int(n) > des.Remaining() {
			des.SetError(fmt.Errorf("vector length %d exceeds input", n))
			return &Value{}
		}
		elems := make([]Value, n)
		for i := range elems {
			elems[i] = *deserializeFrom(des, layout.Elem, depth+1)
			if des.Error() != nil {
				return &Value{}
			}
		}
		return &Value{Kind: KindVector, Vector: elems}
	case KindStruct:
		fields := make([]Value, len(layout.Struct.Fields))
		for i := range fields {
			fields[i] = *deserializeFrom(des, &layout.Struct.Fields[i].Layout, depth+1)
			if des.Error() != nil {
				return &Value{}
			}
		}
		return &Value{Kind: KindStruct, Fields: fields}
	default:
		des.SetError(fmt.Errorf("cannot deserialize kind %d", layout.Kind))
		return &Value{}
	}
}

func bigToUint256(des *bcs.Deserializer, v *big.Int) *uint256.Int {
	out, overflow := uint256.FromBig(v)
	if overflow {
		des.SetError(errors.New("integer exceeds 256 bits"))
		return uint256.NewInt(0)
	}
	return out
}
