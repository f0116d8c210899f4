package codec

import (
	"github.com/danmuck/wmitlv/internal/protocol/schema"
	"github.com/danmuck/wmitlv/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// Validator checks raw buffers against a schema registry. It never
// allocates and never modifies the buffer.
type Validator struct {
	reg  *schema.Registry
	opts Options
}

func NewValidator(reg *schema.Registry, opts Options) *Validator {
	return &Validator{reg: reg, opts: opts}
}

func (v *Validator) Registry() *schema.Registry {
	return v.reg
}

// Validate walks buf and returns the number of attributes it carries.
// Tags must appear in exactly schema order. A message may stop early
// unless the options require more attributes.
func (v *Validator) Validate(id uint32, buf []byte) (int, error) {
	entry, ok := v.reg.Lookup(id)
	if !ok {
		return 0, &Error{Err: ErrUnknownMessage, MessageID: schema.MessageID(id), Order: -1}
	}
	if len(buf) == 0 && len(entry.Attributes) == 0 {
		return 0, nil
	}
	if len(buf) < tlv.HeaderSize {
		return 0, &Error{Err: ErrBufferTooShort, MessageID: entry.MessageID, Expected: tlv.HeaderSize, Actual: len(buf)}
	}

	order := 0
	for off := 0; off < len(buf); order++ {
		h, attr, err := nextField(entry, buf, off, order)
		if err != nil {
			return 0, err
		}
		value := buf[off+tlv.HeaderSize : off+tlv.HeaderSize+int(h.Length)]
		if err := checkLength(entry.MessageID, attr, h, value, off); err != nil {
			return 0, err
		}
		if h.Length%4 != 0 {
			return 0, &Error{Err: ErrUnalignedLength, MessageID: entry.MessageID, Order: order, Offset: off, Tag: h.Tag, Actual: int(h.Length)}
		}
		log.Trace().
			Uint32("message", entry.MessageID).
			Int("order", order).
			Uint16("tag", h.Tag).
			Uint16("len", h.Length).
			Msg("codec.Validate tlv ok")
		off += tlv.HeaderSize + int(h.Length)
	}

	if err := checkComplete(v.opts, entry, order); err != nil {
		return 0, err
	}
	return order, nil
}

// nextField reads the header at off and resolves the attribute expected
// at that position.
func nextField(entry *schema.Entry, buf []byte, off, order int) (tlv.Header, *schema.AttributeDescriptor, error) {
	remaining := len(buf) - off
	if remaining < tlv.HeaderSize {
		return tlv.Header{}, nil, &Error{Err: ErrBufferTooShort, MessageID: entry.MessageID, Order: order, Offset: off,
			Expected: tlv.HeaderSize, Actual: remaining}
	}
	h, _ := tlv.DecodeHeader(buf[off:])
	if int(h.Length) > remaining-tlv.HeaderSize {
		return tlv.Header{}, nil, &Error{Err: ErrLengthOverrun, MessageID: entry.MessageID, Order: order, Offset: off, Tag: h.Tag,
			Expected: remaining - tlv.HeaderSize, Actual: int(h.Length)}
	}
	if order >= len(entry.Attributes) {
		return tlv.Header{}, nil, &Error{Err: ErrTagOutOfOrder, MessageID: entry.MessageID, Order: order, Offset: off, Tag: h.Tag,
			Expected: -1, Actual: int(h.Tag)}
	}
	attr := &entry.Attributes[order]
	if h.Tag != attr.TagID {
		return tlv.Header{}, nil, &Error{Err: ErrTagOutOfOrder, MessageID: entry.MessageID, Order: order, Offset: off, Tag: h.Tag,
			Expected: int(attr.TagID), Actual: int(h.Tag)}
	}
	return h, attr, nil
}

func checkLength(id uint32, attr *schema.AttributeDescriptor, h tlv.Header, value []byte, off int) error {
	fail := func(sentinel error, expected, actual int) error {
		return &Error{Err: sentinel, MessageID: id, Order: int(attr.Order), Offset: off, Tag: h.Tag, Expected: expected, Actual: actual}
	}
	kind, ok := schema.KindOf(attr.TagID)
	if !ok {
		return fail(ErrUnsupportedArrayTag, 0, int(attr.TagID))
	}
	length := int(h.Length)

	if !kind.IsArray() {
		if length+tlv.HeaderSize != int(attr.StructSize) {
			return fail(ErrLengthMismatch, int(attr.StructSize)-tlv.HeaderSize, length)
		}
		return nil
	}

	if !attr.Variable {
		expected, _ := attr.ExpectedLength()
		if length != expected {
			return fail(ErrLengthMismatch, expected, length)
		}
		return nil
	}

	if length == 0 {
		return nil
	}
	size := int(attr.StructSize)
	if length%size != 0 {
		return fail(ErrLengthMismatch, length/size*size, length)
	}
	switch kind {
	case schema.KindArrayStruct:
		for i := 0; i < length/size; i++ {
			inner, _ := tlv.DecodeHeader(value[i*size:])
			if int(inner.Length)+tlv.HeaderSize != size {
				return &Error{Err: ErrLengthMismatch, MessageID: id, Order: int(attr.Order), Offset: off + tlv.HeaderSize + i*size,
					Tag: inner.Tag, Expected: size - tlv.HeaderSize, Actual: int(inner.Length)}
			}
		}
	case schema.KindArrayUint32, schema.KindArrayByte, schema.KindArrayFixedStruct:
	default:
		return fail(ErrUnsupportedArrayTag, 0, int(attr.TagID))
	}
	return nil
}

// checkComplete applies the short-message policy after a walk that
// consumed present attributes.
func checkComplete(opts Options, entry *schema.Entry, present int) error {
	declared := len(entry.Attributes)
	if present >= declared {
		return nil
	}
	if need := opts.required(entry); need > present {
		return &Error{Err: ErrMissingAttribute, MessageID: entry.MessageID, Order: present, Offset: -1,
			Expected: need, Actual: present}
	}
	log.Info().
		Uint32("message", entry.MessageID).
		Int("present", present).
		Int("declared", declared).
		Msg("codec: fewer tlvs than declared")
	return nil
}
