package codec

import (
	"github.com/danmuck/wmitlv/internal/protocol/schema"
	"github.com/danmuck/wmitlv/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// Adapter reshapes incoming messages to the host's compiled struct sizes.
// Fields whose wire size matches the schema alias the input buffer. Fixed
// structures and framed array elements that differ are copied into memory
// owned by the returned ParamBlock, zero-filled when the sender's struct
// is smaller and truncated when it is larger. Primitive arrays are never
// resized.
type Adapter struct {
	reg  *schema.Registry
	opts Options
	pool *Pool
}

// NewAdapter returns an adapter over reg. A nil pool allocates padded
// copies from the heap.
func NewAdapter(reg *schema.Registry, opts Options, pool *Pool) *Adapter {
	return &Adapter{reg: reg, opts: opts, pool: pool}
}

func (a *Adapter) Registry() *schema.Registry {
	return a.reg
}

// Adapt decodes buf into a ParamBlock. On error nothing is retained and
// the returned block is nil. The caller must Release a returned block,
// and buf must stay unchanged until then.
func (a *Adapter) Adapt(id uint32, buf []byte) (*ParamBlock, error) {
	entry, ok := a.reg.Lookup(id)
	if !ok {
		return nil, &Error{Err: ErrUnknownMessage, MessageID: schema.MessageID(id), Order: -1}
	}
	if len(buf) < tlv.HeaderSize && !(len(buf) == 0 && len(entry.Attributes) == 0) {
		return nil, &Error{Err: ErrBufferTooShort, MessageID: entry.MessageID, Expected: tlv.HeaderSize, Actual: len(buf)}
	}

	block, err := acquire(a.pool, entry.MessageID, len(entry.Attributes))
	if err != nil {
		return nil, &Error{Err: err, MessageID: entry.MessageID, Order: -1}
	}
	if err := a.fill(block, entry, buf); err != nil {
		block.Release()
		return nil, err
	}
	return block, nil
}

func (a *Adapter) fill(block *ParamBlock, entry *schema.Entry, buf []byte) error {
	order := 0
	for off := 0; off < len(buf); order++ {
		h, attr, err := nextField(entry, buf, off, order)
		if err != nil {
			return err
		}
		value := buf[off+tlv.HeaderSize : off+tlv.HeaderSize+int(h.Length)]
		view, err := a.adaptField(block, entry.MessageID, attr, h, buf[off:off+tlv.HeaderSize+int(h.Length)], value, off)
		if err != nil {
			return err
		}
		if h.Length%4 != 0 {
			return &Error{Err: ErrUnalignedLength, MessageID: entry.MessageID, Order: order, Offset: off, Tag: h.Tag, Actual: int(h.Length)}
		}
		block.Fields = append(block.Fields, view)
		off += tlv.HeaderSize + int(h.Length)
	}
	if err := checkComplete(a.opts, entry, order); err != nil {
		return err
	}
	block.Present = order
	for _, attr := range entry.Attributes[order:] {
		block.Fields = append(block.Fields, FieldView{Tag: attr.TagID, ElemSize: int(attr.StructSize)})
	}
	return nil
}

func (a *Adapter) adaptField(block *ParamBlock, id uint32, attr *schema.AttributeDescriptor, h tlv.Header, framed, value []byte, off int) (FieldView, error) {
	kind, ok := schema.KindOf(attr.TagID)
	if !ok {
		return FieldView{}, &Error{Err: ErrUnsupportedArrayTag, MessageID: id, Order: int(attr.Order), Offset: off, Tag: h.Tag}
	}
	size := int(attr.StructSize)
	view := FieldView{Tag: attr.TagID, ElemSize: size, Present: true}

	switch {
	case kind == schema.KindFixedStruct:
		view.Framed = true
		view.Count = 1
		data, owned, err := a.resize(block, framed, size)
		if err != nil {
			return FieldView{}, a.allocError(id, attr, off, err)
		}
		view.Data, view.Owned = data, owned

	case kind == schema.KindArrayStruct:
		view.Framed = true
		data, count, owned, err := a.resizeElements(block, id, attr, h, value, off)
		if err != nil {
			return FieldView{}, err
		}
		view.Data, view.Count, view.Owned = data, count, owned

	case !attr.Variable:
		expected, _ := attr.ExpectedLength()
		if len(value) != expected {
			return FieldView{}, &Error{Err: ErrLengthMismatch, MessageID: id, Order: int(attr.Order), Offset: off, Tag: h.Tag,
				Expected: expected, Actual: len(value)}
		}
		view.Data = value
		view.Count = int(attr.ArraySize)

	default:
		if len(value)%size != 0 {
			return FieldView{}, &Error{Err: ErrLengthMismatch, MessageID: id, Order: int(attr.Order), Offset: off, Tag: h.Tag,
				Expected: len(value) / size * size, Actual: len(value)}
		}
		view.Data = value
		view.Count = len(value) / size
	}

	if view.Owned {
		log.Debug().
			Uint32("message", id).
			Uint32("order", attr.Order).
			Str("name", attr.Name).
			Int("wire_len", int(h.Length)).
			Int("host_len", len(view.Data)).
			Msg("codec.Adapt resized field")
	}
	return view, nil
}

// resize returns the framed structure unchanged when it is already want
// bytes long, otherwise a copy of its first want bytes zero-extended as
// needed. A copy carries a header that describes its new length.
func (a *Adapter) resize(block *ParamBlock, framed []byte, want int) ([]byte, bool, error) {
	if len(framed) == want {
		return framed, false, nil
	}
	dst, err := block.alloc(want, a.opts.Limits)
	if err != nil {
		return nil, false, err
	}
	copy(dst, framed)
	reframe(dst)
	return dst, true, nil
}

// reframe rewrites the copied header at the start of elem so its length
// covers the rest of elem.
func reframe(elem []byte) {
	h, _ := tlv.DecodeHeader(elem)
	h.Length = uint16(len(elem) - tlv.HeaderSize)
	tlv.PutHeader(elem, h)
}

// resizeElements handles an array of framed structures. The wire element
// size comes from the first element's header and every element must share
// it.
func (a *Adapter) resizeElements(block *ParamBlock, id uint32, attr *schema.AttributeDescriptor, h tlv.Header, value []byte, off int) ([]byte, int, bool, error) {
	fail := func(sentinel error, expected, actual int) ([]byte, int, bool, error) {
		return nil, 0, false, &Error{Err: sentinel, MessageID: id, Order: int(attr.Order), Offset: off, Tag: h.Tag,
			Expected: expected, Actual: actual}
	}
	size := int(attr.StructSize)
	if len(value) == 0 {
		if attr.HasArraySize && attr.ArraySize != 0 {
			return fail(ErrLengthMismatch, size*int(attr.ArraySize), 0)
		}
		return value, 0, false, nil
	}
	first, err := tlv.DecodeHeader(value)
	if err != nil {
		return fail(ErrBufferTooShort, tlv.HeaderSize, len(value))
	}
	wireSize := int(first.Length) + tlv.HeaderSize
	if wireSize > len(value) {
		return fail(ErrLengthOverrun, len(value), wireSize)
	}
	if wireSize%4 != 0 {
		return fail(ErrUnalignedLength, 0, int(first.Length))
	}
	if len(value)%wireSize != 0 {
		return fail(ErrLengthMismatch, len(value)/wireSize*wireSize, len(value))
	}
	count := len(value) / wireSize
	if attr.HasArraySize && count != int(attr.ArraySize) {
		return fail(ErrLengthMismatch, int(attr.ArraySize), count)
	}
	for i := 1; i < count; i++ {
		inner, _ := tlv.DecodeHeader(value[i*wireSize:])
		if int(inner.Length)+tlv.HeaderSize != wireSize {
			return nil, 0, false, &Error{Err: ErrLengthMismatch, MessageID: id, Order: int(attr.Order),
				Offset: off + tlv.HeaderSize + i*wireSize, Tag: inner.Tag, Expected: int(first.Length), Actual: int(inner.Length)}
		}
	}
	if wireSize == size {
		return value, count, false, nil
	}

	dst, err := block.alloc(count*size, a.opts.Limits)
	if err != nil {
		return nil, 0, false, a.allocError(id, attr, off, err)
	}
	n := min(wireSize, size)
	for i := 0; i < count; i++ {
		slot := dst[i*size : (i+1)*size]
		copy(slot[:n], value[i*wireSize:i*wireSize+n])
		reframe(slot)
	}
	return dst, count, true, nil
}

func (a *Adapter) allocError(id uint32, attr *schema.AttributeDescriptor, off int, err error) error {
	log.Warn().
		Uint32("message", id).
		Uint32("order", attr.Order).
		Err(err).
		Msg("codec.Adapt allocation failed")
	return &Error{Err: err, MessageID: id, Order: int(attr.Order), Offset: off, Tag: attr.TagID}
}
