// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package execution

import (
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"unicode/utf8"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/accounts/abi"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/mevm/mvmtypes"
)

// The ABI bridge converts MVM values to Solidity ABI parameter encodings and
// back. Marker structs in the framework select special Solidity types:
// SolidityFixedBytes<BN> maps to bytesN, SolidityFixedArray<T> to a
// fixed-size array, the standard String to string. Every other struct is a
// tuple of its fields in declaration order.

const evmModuleName = "evm"

// FixedBytesTag is the marker struct for Solidity bytesN.
func FixedBytesTag() mvmtypes.StructTag {
	return mvmtypes.StructTag{Address: mvmtypes.EVMNativeAddress, Module: evmModuleName, Name: "SolidityFixedBytes"}
}

// FixedArrayTag is the marker struct for Solidity fixed-size arrays.
func FixedArrayTag() mvmtypes.StructTag {
	return mvmtypes.StructTag{Address: mvmtypes.EVMNativeAddress, Module: evmModuleName, Name: "SolidityFixedArray"}
}

// StringTag is the standard string struct.
func StringTag() mvmtypes.StructTag {
	return mvmtypes.StructTag{Address: mvmtypes.FrameworkAddress, Module: "string", Name: "String"}
}

var ErrUnsupportedFixedBytes = errors.New("unsupported fixed-bytes width")

// fixedBytesWidth resolves the bytesN width from the marker's type-parameter
// name table.
func fixedBytesWidth(tag *mvmtypes.StructTag) (int, error) {
	if len(tag.TypeArgs) == 0 || tag.TypeArgs[0].Kind != mvmtypes.KindStruct {
		return 0, fmt.Errorf("%w: missing width parameter", ErrUnsupportedFixedBytes)
	}
	switch tag.TypeArgs[0].Struct.Name {
	case "B1":
		return 1, nil
	case "B2":
		return 2, nil
	case "B4":
		return 4, nil
	case "B8":
		return 8, nil
	case "B16":
		return 16, nil
	case "B20":
		return 20, nil
	case "B32":
		return 32, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedFixedBytes, tag.TypeArgs[0].Struct.Name)
	}
}

// structRole classifies a struct layout for the bridge.
type structRole int

const (
	roleTuple structRole = iota
	roleFixedBytes
	roleFixedArray
	roleString
)

func classifyStruct(tag *mvmtypes.StructTag) structRole {
	fixedBytes, fixedArray, str := FixedBytesTag(), FixedArrayTag(), StringTag()
	switch {
	case tag.SameDefinition(&fixedBytes):
		return roleFixedBytes
	case tag.SameDefinition(&fixedArray):
		return roleFixedArray
	case tag.SameDefinition(&str):
		return roleString
	default:
		return roleTuple
	}
}

// abiMarshaling builds the Solidity type description of a layout. The value
// is consulted only for fixed-array lengths, which exist at runtime alone;
// decode paths pass a nil value and reject fixed arrays.
func abiMarshaling(layout *mvmtypes.Layout, value *mvmtypes.Value, name string) (abi.ArgumentMarshaling, error) {
	out := abi.ArgumentMarshaling{Name: name}
	switch layout.Kind {
	case mvmtypes.KindBool:
		out.Type = "bool"
	case mvmtypes.KindU8:
		out.Type = "uint8"
	case mvmtypes.KindU16:
		out.Type = "uint16"
	case mvmtypes.KindU32:
		out.Type = "uint32"
	case mvmtypes.KindU64:
		out.Type = "uint64"
	case mvmtypes.KindU128:
		out.Type = "uint128"
	case mvmtypes.KindU256:
		out.Type = "uint256"
	case mvmtypes.KindAddress, mvmtypes.KindSigner:
		out.Type = "address"
	case mvmtypes.KindVector:
		if layout.Elem.Kind == mvmtypes.KindU8 {
			out.Type = "bytes"
			break
		}
		var sample *mvmtypes.Value
		if value != nil && len(value.Vector) > 0 {
			sample = &value.Vector[0]
		}
		elem, err := abiMarshaling(layout.Elem, sample, name)
		if err != nil {
			return out, err
		}
		out.Type = elem.Type + "[]"
		out.Components = elem.Components
	case mvmtypes.KindStruct:
		return structMarshaling(layout, value, name)
	default:
		return out, fmt.Errorf("kind %d has no Solidity type", layout.Kind)
	}
	return out, nil
}

func structMarshaling(layout *mvmtypes.Layout, value *mvmtypes.Value, name string) (abi.ArgumentMarshaling, error) {
	out := abi.ArgumentMarshaling{Name: name}
	tag := &layout.Struct.Tag
	switch classifyStruct(tag) {
	case roleFixedBytes:
		width, err := fixedBytesWidth(tag)
		if err != nil {
			return out, err
		}
		out.Type = fmt.Sprintf("bytes%d", width)
	case roleString:
		out.Type = "string"
	case roleFixedArray:
		if value == nil {
			return out, errors.New("fixed-size array length is only known at runtime; decoding is not supported")
		}
		if len(value.Fields) != 1 || value.Fields[0].Kind != mvmtypes.KindVector {
			return out, errors.New("SolidityFixedArray must wrap a vector")
		}
		inner := &value.Fields[0]
		elemLayout := layout.Struct.Fields[0].Layout.Elem
		var sample *mvmtypes.Value
		if len(inner.Vector) > 0 {
			sample = &inner.Vector[0]
		}
		elem, err := abiMarshaling(elemLayout, sample, name)
		if err != nil {
			return out, err
		}
		out.Type = fmt.Sprintf("%s[%d]", elem.Type, len(inner.Vector))
		out.Components = elem.Components
	case roleTuple:
		out.Type = "tuple"
		for i := range layout.Struct.Fields {
			var fieldValue *mvmtypes.Value
			if value != nil && i < len(value.Fields) {
				fieldValue = &value.Fields[i]
			}
			component, err := abiMarshaling(&layout.Struct.Fields[i].Layout, fieldValue, fmt.Sprintf("f%d", i))
			if err != nil {
				return out, err
			}
			out.Components = append(out.Components, component)
		}
	}
	return out, nil
}

func buildABIType(layout *mvmtypes.Layout, value *mvmtypes.Value) (abi.Type, error) {
	m, err := abiMarshaling(layout, value, "v")
	if err != nil {
		return abi.Type{}, err
	}
	return abi.NewType(m.Type, "", m.Components)
}

// valueToGo converts an MVM value to the Go representation the ABI packer
// expects for t.
func valueToGo(value *mvmtypes.Value, layout *mvmtypes.Layout, t *abi.Type) (interface{}, error) {
	switch layout.Kind {
	case mvmtypes.KindBool:
		return value.Bool, nil
	case mvmtypes.KindU8:
		return uint8(value.Uint.Uint64()), nil
	case mvmtypes.KindU16:
		return uint16(value.Uint.Uint64()), nil
	case mvmtypes.KindU32:
		return uint32(value.Uint.Uint64()), nil
	case mvmtypes.KindU64:
		return value.Uint.Uint64(), nil
	case mvmtypes.KindU128, mvmtypes.KindU256:
		return value.Uint.ToBig(), nil
	case mvmtypes.KindAddress, mvmtypes.KindSigner:
		return value.Address.EthAddress(), nil
	case mvmtypes.KindVector:
		if layout.Elem.Kind == mvmtypes.KindU8 {
			return value.AsBytes()
		}
		slice := reflect.MakeSlice(t.GetType(), len(value.Vector), len(value.Vector))
		for i := range value.Vector {
			elem, err := valueToGo(&value.Vector[i], layout.Elem, t.Elem)
			if err != nil {
				return nil, err
			}
			slice.Index(i).Set(reflect.ValueOf(elem))
		}
		return slice.Interface(), nil
	case mvmtypes.KindStruct:
		return structToGo(value, layout, t)
	}
	return nil, fmt.Errorf("kind %d cannot cross the ABI bridge", layout.Kind)
}

func structToGo(value *mvmtypes.Value, layout *mvmtypes.Layout, t *abi.Type) (interface{}, error) {
	tag := &layout.Struct.Tag
	switch classifyStruct(tag) {
	case roleFixedBytes:
		inner, err := value.Fields[0].AsBytes()
		if err != nil {
			return nil, err
		}
		// The constructor pads to a full word; slice the declared width off
		// the front.
		if len(inner) != 32 {
			return nil, fmt.Errorf("SolidityFixedBytes must hold 32 padded bytes, got %d", len(inner))
		}
		array := reflect.New(t.GetType()).Elem()
		reflect.Copy(array, reflect.ValueOf(inner[:t.Size]))
		return array.Interface(), nil
	case roleString:
		inner, err := value.Fields[0].AsBytes()
		if err != nil {
			return nil, err
		}
		if !utf8.Valid(inner) {
			return nil, ErrInvalidString
		}
		return string(inner), nil
	case roleFixedArray:
		inner := &value.Fields[0]
		elemLayout := layout.Struct.Fields[0].Layout.Elem
		array := reflect.New(t.GetType()).Elem()
		for i := range inner.Vector {
			elem, err := valueToGo(&inner.Vector[i], elemLayout, t.Elem)
			if err != nil {
				return nil, err
			}
			array.Index(i).Set(reflect.ValueOf(elem))
		}
		return array.Interface(), nil
	default:
		tuple := reflect.New(t.TupleType).Elem()
		for i := range value.Fields {
			elem, err := valueToGo(&value.Fields[i], &layout.Struct.Fields[i].Layout, t.TupleElems[i])
			if err != nil {
				return nil, err
			}
			tuple.Field(i).Set(reflect.ValueOf(elem))
		}
		return tuple.Interface(), nil
	}
}

// ABIEncodeParams encodes value as Solidity call parameters, prepending
// prefix (typically a function selector). A top-level plain struct encodes
// as the parameter list of its fields.
func ABIEncodeParams(prefix []byte, value *mvmtypes.Value, layout *mvmtypes.Layout) ([]byte, error) {
	var args abi.Arguments
	var goValues []interface{}
	if topLevelTuple(layout) {
		for i := range layout.Struct.Fields {
			fieldLayout := &layout.Struct.Fields[i].Layout
			t, err := buildABIType(fieldLayout, &value.Fields[i])
			if err != nil {
				return nil, err
			}
			goValue, err := valueToGo(&value.Fields[i], fieldLayout, &t)
			if err != nil {
				return nil, err
			}
			args = append(args, abi.Argument{Name: fmt.Sprintf("f%d", i), Type: t})
			goValues = append(goValues, goValue)
		}
	} else {
		t, err := buildABIType(layout, value)
		if err != nil {
			return nil, err
		}
		goValue, err := valueToGo(value, layout, &t)
		if err != nil {
			return nil, err
		}
		args = abi.Arguments{{Name: "v", Type: t}}
		goValues = []interface{}{goValue}
	}
	packed, err := args.Pack(goValues...)
	if err != nil {
		return nil, err
	}
	return append(append([]byte{}, prefix...), packed...), nil
}

// ABIDecodeParams is the inverse of ABIEncodeParams; only encoder output is
// accepted.
func ABIDecodeParams(data []byte, layout *mvmtypes.Layout) (*mvmtypes.Value, error) {
	if topLevelTuple(layout) {
		var args abi.Arguments
		for i := range layout.Struct.Fields {
			t, err := buildABIType(&layout.Struct.Fields[i].Layout, nil)
			if err != nil {
				return nil, err
			}
			args = append(args, abi.Argument{Name: fmt.Sprintf("f%d", i), Type: t})
		}
		unpacked, err := args.Unpack(data)
		if err != nil {
			return nil, err
		}
		fields := make([]mvmtypes.Value, len(unpacked))
		for i, raw := range unpacked {
			value, err := goToValue(raw, &layout.Struct.Fields[i].Layout)
			if err != nil {
				return nil, err
			}
			fields[i] = *value
		}
		return &mvmtypes.Value{Kind: mvmtypes.KindStruct, Fields: fields}, nil
	}
	t, err := buildABIType(layout, nil)
	if err != nil {
		return nil, err
	}
	args := abi.Arguments{{Name: "v", Type: t}}
	unpacked, err := args.Unpack(data)
	if err != nil {
		return nil, err
	}
	if len(unpacked) != 1 {
		return nil, fmt.Errorf("expected one decoded value, got %d", len(unpacked))
	}
	return goToValue(unpacked[0], layout)
}

// topLevelTuple reports whether the layout is a plain struct whose fields
// form the parameter list.
func topLevelTuple(layout *mvmtypes.Layout) bool {
	return layout.Kind == mvmtypes.KindStruct && classifyStruct(&layout.Struct.Tag) == roleTuple
}

// goToValue converts a decoded ABI Go value back into an MVM value.
func goToValue(raw interface{}, layout *mvmtypes.Layout) (*mvmtypes.Value, error) {
	switch layout.Kind {
	case mvmtypes.KindBool:
		v := mvmtypes.BoolValue(raw.(bool))
		return &v, nil
	case mvmtypes.KindU8:
		v := mvmtypes.U8Value(raw.(uint8))
		return &v, nil
	case mvmtypes.KindU16:
		v := mvmtypes.U16Value(raw.(uint16))
		return &v, nil
	case mvmtypes.KindU32:
		v := mvmtypes.U32Value(raw.(uint32))
		return &v, nil
	case mvmtypes.KindU64:
		v := mvmtypes.U64Value(raw.(uint64))
		return &v, nil
	case mvmtypes.KindU128, mvmtypes.KindU256:
		b, ok := raw.(*big.Int)
		if !ok {
			return nil, fmt.Errorf("expected *big.Int, got %T", raw)
		}
		u, overflow := uint256.FromBig(b)
		if overflow {
			return nil, errors.New("decoded integer exceeds 256 bits")
		}
		v := mvmtypes.Value{Kind: layout.Kind, Uint: u}
		return &v, nil
	case mvmtypes.KindAddress, mvmtypes.KindSigner:
		addr, ok := raw.(common.Address)
		if !ok {
			return nil, fmt.Errorf("expected address, got %T", raw)
		}
		v := mvmtypes.Value{Kind: layout.Kind, Address: mvmtypes.AccountKeyFromAddress(addr)}
		return &v, nil
	case mvmtypes.KindVector:
		if layout.Elem.Kind == mvmtypes.KindU8 {
			data, ok := raw.([]byte)
			if !ok {
				return nil, fmt.Errorf("expected bytes, got %T", raw)
			}
			v := mvmtypes.BytesValue(data)
			return &v, nil
		}
		rv := reflect.ValueOf(raw)
		elems := make([]mvmtypes.Value, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			elem, err := goToValue(rv.Index(i).Interface(), layout.Elem)
			if err != nil {
				return nil, err
			}
			elems[i] = *elem
		}
		v := mvmtypes.VectorValue(elems...)
		return &v, nil
	case mvmtypes.KindStruct:
		return goStructToValue(raw, layout)
	}
	return nil, fmt.Errorf("kind %d cannot cross the ABI bridge", layout.Kind)
}

func goStructToValue(raw interface{}, layout *mvmtypes.Layout) (*mvmtypes.Value, error) {
	tag := &layout.Struct.Tag
	switch classifyStruct(tag) {
	case roleFixedBytes:
		rv := reflect.ValueOf(raw)
		padded := make([]byte, 32)
		reflect.Copy(reflect.ValueOf(padded), rv)
		v := mvmtypes.StructValue(mvmtypes.BytesValue(padded))
		return &v, nil
	case roleString:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", raw)
		}
		if !utf8.ValidString(s) {
			return nil, ErrInvalidString
		}
		v := mvmtypes.StructValue(mvmtypes.BytesValue([]byte(s)))
		return &v, nil
	case roleFixedArray:
		return nil, errors.New("fixed-size arrays cannot be decoded: the length is erased by the type system")
	default:
		rv := reflect.ValueOf(raw)
		fields := make([]mvmtypes.Value, len(layout.Struct.Fields))
		for i := range layout.Struct.Fields {
			field, err := goToValue(rv.Field(i).Interface(), &layout.Struct.Fields[i].Layout)
			if err != nil {
				return nil, err
			}
			fields[i] = *field
		}
		v := mvmtypes.Value{Kind: mvmtypes.KindStruct, Fields: fields}
		return &v, nil
	}
}
