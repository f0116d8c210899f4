package schema

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateMessage  = errors.New("schema: duplicate message id")
	ErrOrderGap          = errors.New("schema: attribute order not dense")
	ErrInvalidDescriptor = errors.New("schema: invalid attribute descriptor")
	ErrOptionalNotTrail  = errors.New("schema: optional attribute followed by required attribute")
	ErrWordMismatch      = errors.New("schema: descriptor word disagrees with struct size")
	ErrSinceOrder        = errors.New("schema: attribute introduced before an earlier attribute")
)

// LoadError reports a schema table that cannot be loaded. Table errors are
// startup errors; a registry is never partially built.
type LoadError struct {
	Registry  string
	MessageID uint32
	Order     int
	Err       error
}

func (e *LoadError) Error() string {
	if e.Order < 0 {
		return fmt.Sprintf("schema: registry=%s message=0x%x: %v", e.Registry, e.MessageID, e.Err)
	}
	return fmt.Sprintf("schema: registry=%s message=0x%x attribute=%d: %v", e.Registry, e.MessageID, e.Order, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
