package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/danmuck/wmitlv/internal/protocol/schema"
	"github.com/danmuck/wmitlv/internal/protocol/tlv"
)

// Value is one attribute to encode. Build values with Struct, Structs,
// Uint32s, Bytes and FixedStructs.
type Value struct {
	kind  schema.Kind
	tag   uint16
	parts [][]byte
	words []uint32
}

// Struct is a fixed structure body. The encoder writes its header.
func Struct(body []byte) Value {
	return Value{kind: schema.KindFixedStruct, parts: [][]byte{body}}
}

// Structs is an array of framed structures, each written with tag.
func Structs(tag uint16, bodies ...[]byte) Value {
	return Value{kind: schema.KindArrayStruct, tag: tag, parts: bodies}
}

func Uint32s(words ...uint32) Value {
	return Value{kind: schema.KindArrayUint32, words: words}
}

func Bytes(b []byte) Value {
	return Value{kind: schema.KindArrayByte, parts: [][]byte{b}}
}

// FixedStructs is an array of unframed structures laid end to end.
func FixedStructs(elems ...[]byte) Value {
	return Value{kind: schema.KindArrayFixedStruct, parts: elems}
}

func (v Value) Kind() schema.Kind {
	return v.kind
}

func (v Value) valueBytes() ([]byte, error) {
	switch v.kind {
	case schema.KindFixedStruct, schema.KindArrayByte:
		if len(v.parts) == 0 {
			return nil, nil
		}
		return v.parts[0], nil
	case schema.KindArrayUint32:
		out := make([]byte, 4*len(v.words))
		for i, w := range v.words {
			binary.LittleEndian.PutUint32(out[i*4:], w)
		}
		return out, nil
	case schema.KindArrayStruct:
		var out []byte
		for _, body := range v.parts {
			var err error
			if out, err = tlv.AppendField(out, v.tag, body); err != nil {
				return nil, err
			}
		}
		return out, nil
	case schema.KindArrayFixedStruct:
		var out []byte
		for _, e := range v.parts {
			out = append(out, e...)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: kind %s", ErrValueMismatch, v.kind)
	}
}

// Encoder produces TLV buffers in schema order and validates them before
// returning.
type Encoder struct {
	reg       *schema.Registry
	validator *Validator
}

func NewEncoder(reg *schema.Registry, opts Options) *Encoder {
	return &Encoder{reg: reg, validator: NewValidator(reg, opts)}
}

func (e *Encoder) Registry() *schema.Registry {
	return e.reg
}

// Encode writes values as the leading attributes of message id. Fewer
// values than attributes encodes a short message, subject to the
// validator's options. Over a registry restricted with AtMinor, values
// for withheld attributes fail with ErrAttributeTooNew.
func (e *Encoder) Encode(id uint32, values ...Value) ([]byte, error) {
	entry, ok := e.reg.Lookup(id)
	if !ok {
		return nil, &Error{Err: ErrUnknownMessage, MessageID: schema.MessageID(id), Order: -1}
	}
	if len(values) > len(entry.Attributes) {
		sentinel := ErrValueMismatch
		if len(values) <= len(entry.Attributes)+entry.Withheld {
			sentinel = ErrAttributeTooNew
		}
		return nil, &Error{Err: sentinel, MessageID: entry.MessageID, Order: len(entry.Attributes),
			Expected: len(entry.Attributes), Actual: len(values)}
	}

	var out []byte
	for i, v := range values {
		attr := &entry.Attributes[i]
		if v.kind != attr.Kind() {
			return nil, &Error{Err: fmt.Errorf("%w: %s wants %s, got %s", ErrValueMismatch, attr.Name, attr.Kind(), v.kind),
				MessageID: entry.MessageID, Order: i, Tag: attr.TagID}
		}
		body, err := v.valueBytes()
		if err != nil {
			return nil, &Error{Err: err, MessageID: entry.MessageID, Order: i, Tag: attr.TagID}
		}
		if out, err = tlv.AppendField(out, attr.TagID, body); err != nil {
			return nil, &Error{Err: err, MessageID: entry.MessageID, Order: i, Tag: attr.TagID}
		}
	}
	if _, err := e.validator.Validate(id, out); err != nil {
		return nil, err
	}
	return out, nil
}
