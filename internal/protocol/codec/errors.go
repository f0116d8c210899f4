package codec

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownMessage      = errors.New("codec: unknown message id")
	ErrBufferTooShort      = errors.New("codec: buffer too short for tlv header")
	ErrLengthOverrun       = errors.New("codec: tlv length overruns buffer")
	ErrTagOutOfOrder       = errors.New("codec: tlv tag out of schema order")
	ErrLengthMismatch      = errors.New("codec: tlv length mismatch")
	ErrUnsupportedArrayTag = errors.New("codec: unsupported array tag")
	ErrUnalignedLength     = errors.New("codec: tlv length not 4-byte aligned")
	ErrMissingAttribute    = errors.New("codec: required attribute missing")
	ErrAllocation          = errors.New("codec: allocation failed")
	ErrValueMismatch       = errors.New("codec: value does not match attribute kind")
	ErrAttributeTooNew     = errors.New("codec: attribute newer than negotiated abi")
)

// Error carries the position of a codec failure. Err is one of the
// package sentinels; errors.Is matches against it.
type Error struct {
	Err       error
	MessageID uint32
	Order     int
	Offset    int
	Tag       uint16
	Expected  int
	Actual    int
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%v: message=0x%x order=%d offset=%d tag=%d", e.Err, e.MessageID, e.Order, e.Offset, e.Tag)
	if e.Expected != 0 || e.Actual != 0 {
		msg += fmt.Sprintf(" expected=%d actual=%d", e.Expected, e.Actual)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Reason returns a short stable label for err, suitable for metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnknownMessage):
		return "unknown_message"
	case errors.Is(err, ErrBufferTooShort):
		return "buffer_too_short"
	case errors.Is(err, ErrLengthOverrun):
		return "length_overrun"
	case errors.Is(err, ErrTagOutOfOrder):
		return "tag_out_of_order"
	case errors.Is(err, ErrLengthMismatch):
		return "length_mismatch"
	case errors.Is(err, ErrUnsupportedArrayTag):
		return "unsupported_array_tag"
	case errors.Is(err, ErrUnalignedLength):
		return "unaligned_length"
	case errors.Is(err, ErrMissingAttribute):
		return "missing_attribute"
	case errors.Is(err, ErrAllocation):
		return "allocation"
	case errors.Is(err, ErrValueMismatch):
		return "value_mismatch"
	case errors.Is(err, ErrAttributeTooNew):
		return "attribute_too_new"
	default:
		return "other"
	}
}
