// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package execution

import (
	"fmt"
	"unicode/utf8"

	"github.com/luxfi/mevm/mvmtypes"
)

// Entry-function arguments pass through two gates before dispatch: the
// declared parameter type must only use allowed struct tags, and the decoded
// value must satisfy the per-struct rules (UTF-8 strings, options of length
// at most one, live objects, signer equal to the transaction signer).

func frameworkTag(module, name mvmtypes.Identifier) mvmtypes.StructTag {
	return mvmtypes.StructTag{Address: mvmtypes.FrameworkAddress, Module: module, Name: name}
}

// OptionTag is the standard option struct.
func OptionTag() mvmtypes.StructTag { return frameworkTag("option", "Option") }

// ObjectTag is the typed object handle struct.
func ObjectTag() mvmtypes.StructTag { return frameworkTag("object", "Object") }

// ObjectCoreTag is the resource present at every live object address.
func ObjectCoreTag() mvmtypes.StructTag { return frameworkTag("object", "ObjectCore") }

// FixedPoint32Tag and FixedPoint64Tag are the numeric wrapper structs.
func FixedPoint32Tag() mvmtypes.StructTag { return frameworkTag("fixed_point32", "FixedPoint32") }
func FixedPoint64Tag() mvmtypes.StructTag { return frameworkTag("fixed_point64", "FixedPoint64") }

type allowedStruct int

const (
	structNotAllowed allowedStruct = iota
	structString
	structObject
	structOption
	structFixedPoint32
	structFixedPoint64
)

func classifyEntryStruct(tag *mvmtypes.StructTag) allowedStruct {
	str, object, option := StringTag(), ObjectTag(), OptionTag()
	fp32, fp64 := FixedPoint32Tag(), FixedPoint64Tag()
	switch {
	case tag.SameDefinition(&str):
		return structString
	case tag.SameDefinition(&object):
		return structObject
	case tag.SameDefinition(&option):
		return structOption
	case tag.SameDefinition(&fp32):
		return structFixedPoint32
	case tag.SameDefinition(&fp64):
		return structFixedPoint64
	default:
		return structNotAllowed
	}
}

// validateEntryTypeTag enforces the closed set of struct tags allowed in
// entry function signatures.
func validateEntryTypeTag(tag *mvmtypes.TypeTag) error {
	switch tag.Kind {
	case mvmtypes.KindVector:
		return validateEntryTypeTag(tag.Elem)
	case mvmtypes.KindStruct:
		if classifyEntryStruct(tag.Struct) == structNotAllowed {
			return invalidTx(fmt.Errorf("%w: %s", ErrDisallowedStruct, tag.Struct))
		}
		for i := range tag.Struct.TypeArgs {
			if err := validateEntryTypeTag(&tag.Struct.TypeArgs[i]); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}
}

// entryParamLayout constructs the deserialization layout of an allowed entry
// parameter type. Allowed structs have closed-form layouts.
func entryParamLayout(tag *mvmtypes.TypeTag) (*mvmtypes.Layout, error) {
	switch tag.Kind {
	case mvmtypes.KindVector:
		elem, err := entryParamLayout(tag.Elem)
		if err != nil {
			return nil, err
		}
		layout := mvmtypes.VectorLayout(*elem)
		return &layout, nil
	case mvmtypes.KindStruct:
		switch classifyEntryStruct(tag.Struct) {
		case structString:
			layout := mvmtypes.NewStructLayout(*tag.Struct,
				mvmtypes.FieldLayout{Name: "bytes", Layout: mvmtypes.VectorLayout(mvmtypes.PrimitiveLayout(mvmtypes.KindU8))})
			return &layout, nil
		case structObject:
			layout := mvmtypes.NewStructLayout(*tag.Struct,
				mvmtypes.FieldLayout{Name: "inner", Layout: mvmtypes.PrimitiveLayout(mvmtypes.KindAddress)})
			return &layout, nil
		case structOption:
			if len(tag.Struct.TypeArgs) != 1 {
				return nil, invalidTx(fmt.Errorf("%w: Option requires one type argument", ErrInvalidOption))
			}
			elem, err := entryParamLayout(&tag.Struct.TypeArgs[0])
			if err != nil {
				return nil, err
			}
			layout := mvmtypes.NewStructLayout(*tag.Struct,
				mvmtypes.FieldLayout{Name: "vec", Layout: mvmtypes.VectorLayout(*elem)})
			return &layout, nil
		case structFixedPoint32:
			layout := mvmtypes.NewStructLayout(*tag.Struct,
				mvmtypes.FieldLayout{Name: "value", Layout: mvmtypes.PrimitiveLayout(mvmtypes.KindU64)})
			return &layout, nil
		case structFixedPoint64:
			layout := mvmtypes.NewStructLayout(*tag.Struct,
				mvmtypes.FieldLayout{Name: "value", Layout: mvmtypes.PrimitiveLayout(mvmtypes.KindU128)})
			return &layout, nil
		default:
			return nil, invalidTx(fmt.Errorf("%w: %s", ErrDisallowedStruct, tag.Struct))
		}
	default:
		layout := mvmtypes.PrimitiveLayout(tag.Kind)
		return &layout, nil
	}
}

// validateEntryValue walks a decoded argument and enforces the value rules.
func validateEntryValue(s *Session, value *mvmtypes.Value, layout *mvmtypes.Layout, signer mvmtypes.AccountKey) error {
	switch layout.Kind {
	case mvmtypes.KindSigner:
		if value.Address != signer {
			return invalidTx(ErrInvalidSigner)
		}
		return nil
	case mvmtypes.KindVector:
		for i := range value.Vector {
			if err := validateEntryValue(s, &value.Vector[i], layout.Elem, signer); err != nil {
				return err
			}
		}
		return nil
	case mvmtypes.KindStruct:
		return validateEntryStructValue(s, value, layout, signer)
	default:
		return nil
	}
}

func validateEntryStructValue(s *Session, value *mvmtypes.Value, layout *mvmtypes.Layout, signer mvmtypes.AccountKey) error {
	tag := &layout.Struct.Tag
	switch classifyEntryStruct(tag) {
	case structString:
		inner, err := value.Fields[0].AsBytes()
		if err != nil {
			return invalidTx(ErrInvalidString)
		}
		if !utf8.Valid(inner) {
			return invalidTx(ErrInvalidString)
		}
		return nil
	case structOption:
		inner := &value.Fields[0]
		if len(inner.Vector) > 1 {
			return invalidTx(ErrInvalidOption)
		}
		for i := range inner.Vector {
			if err := validateEntryValue(s, &inner.Vector[i], layout.Struct.Fields[0].Layout.Elem, signer); err != nil {
				return err
			}
		}
		return nil
	case structObject:
		address := value.Fields[0].Address
		core := ObjectCoreTag()
		coreBytes, err := s.Resource(address, &core)
		if err != nil {
			return err
		}
		if coreBytes == nil {
			return invalidTx(fmt.Errorf("%w: no ObjectCore at %s", ErrInvalidObject, address))
		}
		if len(tag.TypeArgs) == 1 && tag.TypeArgs[0].Kind == mvmtypes.KindStruct {
			inner, err := s.Resource(address, tag.TypeArgs[0].Struct)
			if err != nil {
				return err
			}
			if inner == nil {
				return invalidTx(fmt.Errorf("%w: no %s at %s", ErrInvalidObject, tag.TypeArgs[0].Struct, address))
			}
		}
		return nil
	case structFixedPoint32, structFixedPoint64:
		return nil
	default:
		return invalidTx(fmt.Errorf("%w: %s", ErrDisallowedStruct, tag))
	}
}
