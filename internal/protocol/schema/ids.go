package schema

// Message ID words carry the base message id in the low 24 bits and a
// reserved hint byte in the high 8 bits. Registries key on the base id.
const (
	MessageIDMask  uint32 = 0x00FFFFFF
	MessageIDShift        = 24
)

// MessageID extracts the base id from a message ID word.
func MessageID(word uint32) uint32 {
	return word & MessageIDMask
}

// Hint extracts the reserved high byte of a message ID word.
func Hint(word uint32) uint8 {
	return uint8(word >> MessageIDShift)
}

// MakeWord packs a base id and hint byte into a message ID word.
func MakeWord(id uint32, hint uint8) uint32 {
	return uint32(hint)<<MessageIDShift | id&MessageIDMask
}

// GroupFirstID returns the first id of a WMI message group.
func GroupFirstID(group uint32) uint32 {
	return group<<12 | 1
}
