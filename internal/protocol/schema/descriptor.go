package schema

import (
	"fmt"

	"github.com/danmuck/wmitlv/internal/protocol/tlv"
)

// Kind is the shape of one attribute on the wire.
type Kind uint8

const (
	KindFixedStruct Kind = iota
	KindArrayUint32
	KindArrayByte
	KindArrayStruct
	KindArrayFixedStruct
)

func (k Kind) String() string {
	switch k {
	case KindFixedStruct:
		return "struct"
	case KindArrayUint32:
		return "array_uint32"
	case KindArrayByte:
		return "array_byte"
	case KindArrayStruct:
		return "array_struct"
	case KindArrayFixedStruct:
		return "array_fixed_struct"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// IsArray reports whether the kind is one of the array tags.
func (k Kind) IsArray() bool {
	return k != KindFixedStruct
}

// KindOf classifies a wire tag. Reserved and unknown array tags return false.
func KindOf(tag uint16) (Kind, bool) {
	switch {
	case tag == tlv.TagArrayUint32:
		return KindArrayUint32, true
	case tag == tlv.TagArrayByte:
		return KindArrayByte, true
	case tag == tlv.TagArrayStruct:
		return KindArrayStruct, true
	case tag == tlv.TagArrayFixedStruct:
		return KindArrayFixedStruct, true
	case tlv.IsStructTag(tag):
		return KindFixedStruct, true
	default:
		return 0, false
	}
}

// AttributeDescriptor describes one field of one message.
//
// StructSize is the size of one element. For fixed structures and for
// elements of an array of structures it includes the element's own TLV
// header. Fixed-count arrays carry their element count in ArraySize with
// HasArraySize set; variable arrays never do.
type AttributeDescriptor struct {
	Order        uint32
	Name         string
	TagID        uint16
	StructSize   uint32
	Variable     bool
	ArraySize    uint32
	HasArraySize bool

	// Optional marks a trailing attribute a sender may omit.
	Optional bool
	// SinceMinor is the ABI minor that introduced the attribute. Peers
	// negotiated below it never see it.
	SinceMinor uint32
}

// Kind returns the wire shape implied by the tag.
func (a AttributeDescriptor) Kind() Kind {
	k, _ := KindOf(a.TagID)
	return k
}

// FixedArraySize returns the element count of a fixed-count array.
func (a AttributeDescriptor) FixedArraySize() (uint32, bool) {
	return a.ArraySize, a.HasArraySize
}

// ExpectedLength is the exact outer value length of a fixed attribute as
// it appears after its header. Byte arrays are rounded up to 4 bytes.
func (a AttributeDescriptor) ExpectedLength() (int, bool) {
	if a.Variable {
		return 0, false
	}
	if a.Kind() == KindFixedStruct {
		return int(a.StructSize) - tlv.HeaderSize, true
	}
	n := int(a.StructSize) * int(a.ArraySize)
	if a.Kind() == KindArrayByte {
		n = tlv.AlignUp(n)
	}
	return n, true
}

// Validate checks the descriptor's internal invariants.
func (a AttributeDescriptor) Validate() error {
	kind, ok := KindOf(a.TagID)
	if !ok {
		return fmt.Errorf("%w: tag %d is not a struct or array tag", ErrInvalidDescriptor, a.TagID)
	}
	if a.StructSize == 0 {
		return fmt.Errorf("%w: zero struct size", ErrInvalidDescriptor)
	}
	if !kind.IsArray() {
		if a.Variable || a.HasArraySize {
			return fmt.Errorf("%w: struct tag %d cannot be an array", ErrInvalidDescriptor, a.TagID)
		}
		if a.StructSize < tlv.HeaderSize || a.StructSize%4 != 0 {
			return fmt.Errorf("%w: struct size %d not a whole number of words", ErrInvalidDescriptor, a.StructSize)
		}
		return nil
	}
	if a.Variable && a.HasArraySize {
		return fmt.Errorf("%w: variable array with fixed size", ErrInvalidDescriptor)
	}
	if !a.Variable && !a.HasArraySize {
		return fmt.Errorf("%w: fixed array without size", ErrInvalidDescriptor)
	}
	switch kind {
	case KindArrayUint32:
		if a.StructSize != 4 {
			return fmt.Errorf("%w: uint32 array element size %d", ErrInvalidDescriptor, a.StructSize)
		}
	case KindArrayByte:
		if a.StructSize != 1 {
			return fmt.Errorf("%w: byte array element size %d", ErrInvalidDescriptor, a.StructSize)
		}
	case KindArrayStruct:
		if a.StructSize < tlv.HeaderSize || a.StructSize%4 != 0 {
			return fmt.Errorf("%w: struct element size %d not a whole number of words", ErrInvalidDescriptor, a.StructSize)
		}
	case KindArrayFixedStruct:
		if a.StructSize%4 != 0 {
			return fmt.Errorf("%w: fixed struct element size %d not a whole number of words", ErrInvalidDescriptor, a.StructSize)
		}
	}
	return nil
}

func (a AttributeDescriptor) String() string {
	s := fmt.Sprintf("[%d] %s tag=%d kind=%s size=%d", a.Order, a.Name, a.TagID, a.Kind(), a.StructSize)
	if a.HasArraySize {
		s += fmt.Sprintf(" count=%d", a.ArraySize)
	}
	if a.Variable {
		s += " variable"
	}
	if a.Optional {
		s += " optional"
	}
	if a.SinceMinor > 0 {
		s += fmt.Sprintf(" since=%d", a.SinceMinor)
	}
	return s
}

// AsOptional returns a copy marked as an omissible trailing attribute.
func (a AttributeDescriptor) AsOptional() AttributeDescriptor {
	a.Optional = true
	return a
}

// Since returns a copy introduced at ABI minor.
func (a AttributeDescriptor) Since(minor uint32) AttributeDescriptor {
	a.SinceMinor = minor
	return a
}

// Struct describes a fixed structure. size includes the TLV header.
func Struct(name string, tag uint16, size uint32) AttributeDescriptor {
	return AttributeDescriptor{Name: name, TagID: tag, StructSize: size}
}

func Uint32Array(name string) AttributeDescriptor {
	return AttributeDescriptor{Name: name, TagID: tlv.TagArrayUint32, StructSize: 4, Variable: true}
}

func Uint32ArrayN(name string, n uint32) AttributeDescriptor {
	return AttributeDescriptor{Name: name, TagID: tlv.TagArrayUint32, StructSize: 4, ArraySize: n, HasArraySize: true}
}

func ByteArray(name string) AttributeDescriptor {
	return AttributeDescriptor{Name: name, TagID: tlv.TagArrayByte, StructSize: 1, Variable: true}
}

func ByteArrayN(name string, n uint32) AttributeDescriptor {
	return AttributeDescriptor{Name: name, TagID: tlv.TagArrayByte, StructSize: 1, ArraySize: n, HasArraySize: true}
}

// StructArray describes a variable array of individually framed structures.
// size includes each element's TLV header.
func StructArray(name string, size uint32) AttributeDescriptor {
	return AttributeDescriptor{Name: name, TagID: tlv.TagArrayStruct, StructSize: size, Variable: true}
}

func StructArrayN(name string, size, n uint32) AttributeDescriptor {
	return AttributeDescriptor{Name: name, TagID: tlv.TagArrayStruct, StructSize: size, ArraySize: n, HasArraySize: true}
}

// FixedStructArray describes a variable array of unframed structures.
func FixedStructArray(name string, size uint32) AttributeDescriptor {
	return AttributeDescriptor{Name: name, TagID: tlv.TagArrayFixedStruct, StructSize: size, Variable: true}
}

func FixedStructArrayN(name string, size, n uint32) AttributeDescriptor {
	return AttributeDescriptor{Name: name, TagID: tlv.TagArrayFixedStruct, StructSize: size, ArraySize: n, HasArraySize: true}
}
