package codec

import (
	"encoding/binary"

	"github.com/danmuck/wmitlv/internal/protocol/tlv"
)

// FieldView is the host-side view of one attribute.
//
// For a fixed structure Data is the whole structure including its header.
// For arrays Data is the value bytes with no outer header. Framed is set
// when every element starts with its own TLV header (arrays of structures
// and fixed structures). Owned reports whether Data was copied into the
// block's memory rather than aliasing the input buffer.
type FieldView struct {
	Tag      uint16
	Data     []byte
	Count    int
	ElemSize int
	Owned    bool
	Present  bool
	Framed   bool
}

// Element returns element i including its header when framed.
func (f FieldView) Element(i int) []byte {
	if i < 0 || i >= f.Count {
		return nil
	}
	return f.Data[i*f.ElemSize : (i+1)*f.ElemSize]
}

// ElementBody returns element i without its header.
func (f FieldView) ElementBody(i int) []byte {
	e := f.Element(i)
	if e == nil || !f.Framed {
		return e
	}
	return e[tlv.HeaderSize:]
}

// Body returns a fixed structure without its header.
func (f FieldView) Body() []byte {
	return f.ElementBody(0)
}

// Uint32s decodes a uint32 array view.
func (f FieldView) Uint32s() []uint32 {
	if f.Tag != tlv.TagArrayUint32 {
		return nil
	}
	out := make([]uint32, f.Count)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(f.Data[i*4:])
	}
	return out
}

// ParamBlock is the adapted form of one message. Every FieldView that is
// Owned lives in memory the block controls; Release returns it. A block
// must not be used after Release.
type ParamBlock struct {
	MessageID uint32
	Fields    []FieldView
	Present   int

	slot     *slot
	owned    int
	released bool
}

// Field returns the view at order. Absent trailing attributes return a
// zero view with Present false.
func (p *ParamBlock) Field(order int) FieldView {
	if p == nil || order < 0 || order >= len(p.Fields) {
		return FieldView{}
	}
	return p.Fields[order]
}

// OwnedBytes reports how many bytes the block copied.
func (p *ParamBlock) OwnedBytes() int {
	return p.owned
}

// Release drops every owned buffer. Calling it again is a no-op, also
// after the pool has handed the slot to another block.
func (p *ParamBlock) Release() {
	if p == nil || p.released {
		return
	}
	p.released = true
	clear(p.Fields)
	p.owned = 0
	if s := p.slot; s != nil {
		p.slot = nil
		s.fields = p.Fields[:0]
		p.Fields = nil
		s.reset()
		s.pool.put(s)
		return
	}
	p.Fields = p.Fields[:0]
}

// alloc returns a zeroed buffer of n bytes from the block's arena, or
// from the heap when the block is not pooled.
func (p *ParamBlock) alloc(n int, limits Limits) ([]byte, error) {
	if limits.MaxPadBytes > 0 && p.owned+n > limits.MaxPadBytes {
		return nil, ErrAllocation
	}
	var buf []byte
	if p.slot == nil {
		buf = make([]byte, n)
	} else {
		var ok bool
		if buf, ok = p.slot.take(n); !ok {
			return nil, ErrAllocation
		}
	}
	p.owned += n
	return buf, nil
}
