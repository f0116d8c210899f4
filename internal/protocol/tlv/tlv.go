package tlv

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the size of one wire TLV header word.
const HeaderSize = 4

// Tag layout. Tags 0-15 are reserved, 16-31 name array kinds and every
// tag from 32 up names one fixed structure.
const (
	TagReserved         uint16 = 0
	TagLastReserved     uint16 = 15
	TagFirstArray       uint16 = 16
	TagArrayUint32      uint16 = 16
	TagArrayByte        uint16 = 17
	TagArrayStruct      uint16 = 18
	TagArrayFixedStruct uint16 = 19
	TagLastArray        uint16 = 31
	TagFirstStruct      uint16 = 32

	// MaxTag is the largest tag a schema descriptor word can carry (12 bits).
	MaxTag uint16 = 0x0FFF
)

// MaxLength is the largest value length a header can describe.
const MaxLength = 0xFFFF

var (
	ErrShortHeader = errors.New("tlv: short field header")
	ErrShortValue  = errors.New("tlv: short field value")
	ErrTagRange    = errors.New("tlv: tag out of range")
	ErrTooLong     = errors.New("tlv: value too long")
)

// Header is one decoded TLV header.
type Header struct {
	Tag    uint16
	Length uint16
}

func (h Header) String() string {
	return fmt.Sprintf("tag=%d len=%d", h.Tag, h.Length)
}

// Word returns the header in its 32-bit wire form: tag in the high half,
// value length in the low half.
func (h Header) Word() uint32 {
	return uint32(h.Tag)<<16 | uint32(h.Length)
}

// HeaderFromWord splits a wire header word.
func HeaderFromWord(w uint32) Header {
	return Header{Tag: uint16(w >> 16), Length: uint16(w & 0xFFFF)}
}

// IsArrayTag reports whether tag names one of the array kinds.
func IsArrayTag(tag uint16) bool {
	return tag >= TagFirstArray && tag <= TagLastArray
}

// IsStructTag reports whether tag names a fixed structure.
func IsStructTag(tag uint16) bool {
	return tag >= TagFirstStruct && tag <= MaxTag
}

// AlignUp rounds n up to the next 4-byte boundary.
func AlignUp(n int) int {
	return (n + 3) &^ 3
}

func PutHeader(dst []byte, h Header) {
	binary.LittleEndian.PutUint32(dst[0:HeaderSize], h.Word())
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	PutHeader(buf, h)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrShortHeader
	}
	return HeaderFromWord(binary.LittleEndian.Uint32(b[0:HeaderSize])), nil
}

// AppendField appends a header and value to dst. The value is zero-padded
// to a 4-byte boundary and the header length covers the padding.
func AppendField(dst []byte, tag uint16, value []byte) ([]byte, error) {
	if tag > MaxTag {
		return nil, fmt.Errorf("%w: %d", ErrTagRange, tag)
	}
	padded := AlignUp(len(value))
	if padded > MaxLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLong, len(value))
	}
	var hdr [HeaderSize]byte
	PutHeader(hdr[:], Header{Tag: tag, Length: uint16(padded)})
	dst = append(dst, hdr[:]...)
	dst = append(dst, value...)
	for i := len(value); i < padded; i++ {
		dst = append(dst, 0)
	}
	return dst, nil
}

// Field is one TLV as it sits in a buffer. Value aliases the buffer.
type Field struct {
	Header Header
	Offset int
	Value  []byte
}

// Walk calls fn for every TLV in buf in order. It stops at the first
// framing error or when fn returns false.
func Walk(buf []byte, fn func(Field) bool) error {
	for off := 0; off < len(buf); {
		h, err := DecodeHeader(buf[off:])
		if err != nil {
			return err
		}
		start := off + HeaderSize
		end := start + int(h.Length)
		if end > len(buf) {
			return ErrShortValue
		}
		if !fn(Field{Header: h, Offset: off, Value: buf[start:end]}) {
			return nil
		}
		off = end
	}
	return nil
}

func U32FromBytes(b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("tlv: invalid u32 length: %d", len(b))
	}
	return binary.LittleEndian.Uint32(b), nil
}
