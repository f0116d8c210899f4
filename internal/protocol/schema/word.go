package schema

import (
	"fmt"

	"github.com/danmuck/wmitlv/internal/protocol/tlv"
)

// Word is the packed form of one attribute descriptor:
//
//	bits  0-11  tag
//	bits 12-20  struct size class (saturates at 0x1FF)
//	bits 21-29  fixed array size, or ArraySizeInvalid
//	bit  30     variable length
//	bit  31     reserved
//
// The size class is informational; the authoritative struct size travels
// beside the word in a PackedEntry.
type Word uint32

const (
	wordTagMask     = 0x0FFF
	wordSizeShift   = 12
	wordSizeMask    = 0x1FF
	wordArrayShift  = 21
	wordArrayMask   = 0x1FF
	wordVariableBit = 1 << 30
	wordReservedBit = 1 << 31

	// ArraySizeInvalid marks a word with no fixed array size.
	ArraySizeInvalid = 0x1FF
)

func (w Word) Tag() uint16 {
	return uint16(uint32(w) & wordTagMask)
}

func (w Word) SizeClass() uint32 {
	return uint32(w) >> wordSizeShift & wordSizeMask
}

func (w Word) ArraySize() (uint32, bool) {
	n := uint32(w) >> wordArrayShift & wordArrayMask
	if n == ArraySizeInvalid {
		return 0, false
	}
	return n, true
}

func (w Word) Variable() bool {
	return uint32(w)&wordVariableBit != 0
}

func sizeClass(size uint32) uint32 {
	if size > wordSizeMask {
		return wordSizeMask
	}
	return size
}

// PackWord encodes a descriptor. Tags wider than 12 bits and array sizes
// that collide with the sentinel cannot be packed.
func PackWord(a AttributeDescriptor) (Word, error) {
	if a.TagID > tlv.MaxTag {
		return 0, fmt.Errorf("%w: tag %d exceeds 12 bits", ErrInvalidDescriptor, a.TagID)
	}
	arr := uint32(ArraySizeInvalid)
	if a.HasArraySize {
		if a.ArraySize >= ArraySizeInvalid {
			return 0, fmt.Errorf("%w: array size %d exceeds descriptor range", ErrInvalidDescriptor, a.ArraySize)
		}
		arr = a.ArraySize
	}
	w := uint32(a.TagID) | sizeClass(a.StructSize)<<wordSizeShift | arr<<wordArrayShift
	if a.Variable {
		w |= wordVariableBit
	}
	return Word(w), nil
}

// UnpackWord decodes a word together with its authoritative struct size.
func UnpackWord(w Word, order, structSize uint32) (AttributeDescriptor, error) {
	if uint32(w)&wordReservedBit != 0 {
		return AttributeDescriptor{}, fmt.Errorf("%w: reserved bit set", ErrInvalidDescriptor)
	}
	if w.SizeClass() != sizeClass(structSize) {
		return AttributeDescriptor{}, fmt.Errorf("%w: class=%d size=%d", ErrWordMismatch, w.SizeClass(), structSize)
	}
	n, ok := w.ArraySize()
	return AttributeDescriptor{
		Order:        order,
		TagID:        w.Tag(),
		StructSize:   structSize,
		Variable:     w.Variable(),
		ArraySize:    n,
		HasArraySize: ok,
	}, nil
}

// PackedEntry is the table form of one message schema. Attributes at
// index Required and beyond are optional. Names and Since are parallel to
// Words and may be empty.
type PackedEntry struct {
	MessageID uint32
	Name      string
	Words     []Word
	Sizes     []uint32
	Required  int
	Names     []string
	Since     []uint32
}

// Pack converts an entry to its table form.
func Pack(e Entry) (PackedEntry, error) {
	out := PackedEntry{
		MessageID: e.MessageID,
		Name:      e.Name,
		Words:     make([]Word, len(e.Attributes)),
		Sizes:     make([]uint32, len(e.Attributes)),
		Required:  e.RequiredCount(),
		Names:     make([]string, len(e.Attributes)),
		Since:     make([]uint32, len(e.Attributes)),
	}
	for i, a := range e.Attributes {
		w, err := PackWord(a)
		if err != nil {
			return PackedEntry{}, &LoadError{Registry: "pack", MessageID: e.MessageID, Order: i, Err: err}
		}
		out.Words[i] = w
		out.Sizes[i] = a.StructSize
		out.Names[i] = a.Name
		out.Since[i] = a.SinceMinor
	}
	return out, nil
}

// PackTable packs every entry of a table in order.
func PackTable(entries []Entry) ([]PackedEntry, error) {
	rows := make([]PackedEntry, 0, len(entries))
	for _, e := range entries {
		row, err := Pack(e)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Packed returns the registry's table form in ascending id order.
func (r *Registry) Packed() ([]PackedEntry, error) {
	rows := make([]PackedEntry, 0, len(r.ids))
	for _, id := range r.ids {
		row, err := Pack(*r.entries[id])
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// LoadPacked builds a registry from packed table rows.
func LoadPacked(name string, rows []PackedEntry) (*Registry, error) {
	b := NewBuilder(name)
	for _, row := range rows {
		if len(row.Words) != len(row.Sizes) ||
			(len(row.Names) != 0 && len(row.Names) != len(row.Words)) ||
			(len(row.Since) != 0 && len(row.Since) != len(row.Words)) {
			return nil, &LoadError{Registry: name, MessageID: row.MessageID, Order: -1,
				Err: fmt.Errorf("%w: %d words, %d sizes, %d names, %d since", ErrInvalidDescriptor,
					len(row.Words), len(row.Sizes), len(row.Names), len(row.Since))}
		}
		attrs := make([]AttributeDescriptor, len(row.Words))
		for i, w := range row.Words {
			a, err := UnpackWord(w, uint32(i), row.Sizes[i])
			if err != nil {
				return nil, &LoadError{Registry: name, MessageID: row.MessageID, Order: i, Err: err}
			}
			a.Optional = i >= row.Required
			if len(row.Names) != 0 {
				a.Name = row.Names[i]
			}
			if len(row.Since) != 0 {
				a.SinceMinor = row.Since[i]
			}
			attrs[i] = a
		}
		b.Add(Entry{MessageID: row.MessageID, Name: row.Name, Attributes: attrs})
	}
	return b.Build()
}
