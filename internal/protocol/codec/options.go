package codec

import "github.com/danmuck/wmitlv/internal/protocol/schema"

// Limits constrains adapter memory use per message.
type Limits struct {
	// MaxPadBytes caps the bytes one message may allocate for padded or
	// truncated copies. Zero means no cap.
	MaxPadBytes int
}

func DefaultLimits() Limits {
	return Limits{MaxPadBytes: 64 * 1024}
}

// Options tunes how short messages are treated.
//
// By default a message that stops before the schema's last attribute is
// accepted and logged. Strict rejects a message that omits an attribute
// not marked optional. MinAttributes sets, per base message id, how many
// leading attributes must be present regardless of Strict.
type Options struct {
	Strict        bool
	MinAttributes map[uint32]int
	Limits        Limits
}

func DefaultOptions() Options {
	return Options{Limits: DefaultLimits()}
}

// required returns the number of attributes that must be present, or -1
// when any prefix is accepted.
func (o Options) required(e *schema.Entry) int {
	if n, ok := o.MinAttributes[e.MessageID]; ok {
		if n > len(e.Attributes) {
			return len(e.Attributes)
		}
		return n
	}
	if o.Strict {
		return e.RequiredCount()
	}
	return -1
}
