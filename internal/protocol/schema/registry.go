package schema

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
)

// Entry is the ordered attribute list of one message. Slice order is wire
// order.
type Entry struct {
	MessageID  uint32
	Name       string
	Attributes []AttributeDescriptor

	// Withheld counts trailing attributes hidden by Registry.AtMinor.
	Withheld int
}

// AvailableAt returns how many leading attributes exist at ABI minor.
func (e *Entry) AvailableAt(minor uint32) int {
	for i, a := range e.Attributes {
		if a.SinceMinor > minor {
			return i
		}
	}
	return len(e.Attributes)
}

// RequiredCount returns the number of leading attributes that are not
// optional.
func (e *Entry) RequiredCount() int {
	for i, a := range e.Attributes {
		if a.Optional {
			return i
		}
	}
	return len(e.Attributes)
}

// Registry maps message ids to schema entries. It is immutable once built
// and safe for concurrent readers.
type Registry struct {
	name    string
	entries map[uint32]*Entry
	ids     []uint32

	minor   uint32
	limited bool
}

func (r *Registry) Name() string {
	return r.name
}

// Minor reports the ABI minor the registry was restricted to by AtMinor.
func (r *Registry) Minor() (uint32, bool) {
	return r.minor, r.limited
}

// AtMinor returns the registry as a peer negotiated at minor sees it.
// Attributes introduced after minor are withheld from every entry. It
// returns r itself when nothing is withheld.
func (r *Registry) AtMinor(minor uint32) *Registry {
	out := &Registry{
		name:    r.name,
		entries: make(map[uint32]*Entry, len(r.entries)),
		ids:     r.ids,
		minor:   minor,
		limited: true,
	}
	cut := false
	for id, e := range r.entries {
		n := e.AvailableAt(minor)
		if n == len(e.Attributes) {
			out.entries[id] = e
			continue
		}
		cut = true
		out.entries[id] = &Entry{
			MessageID:  e.MessageID,
			Name:       e.Name,
			Attributes: e.Attributes[:n:n],
			Withheld:   e.Withheld + len(e.Attributes) - n,
		}
	}
	if !cut {
		return r
	}
	log.Debug().Str("registry", r.name).Uint32("minor", minor).Msg("schema registry restricted")
	return out
}

// Lookup returns the entry for id. Only the low 24 bits of id are used.
func (r *Registry) Lookup(id uint32) (*Entry, bool) {
	if r == nil {
		return nil, false
	}
	e, ok := r.entries[MessageID(id)]
	return e, ok
}

func (r *Registry) AttributeCount(id uint32) (int, bool) {
	e, ok := r.Lookup(id)
	if !ok {
		return 0, false
	}
	return len(e.Attributes), true
}

func (r *Registry) AttributeAt(id uint32, order int) (*AttributeDescriptor, bool) {
	e, ok := r.Lookup(id)
	if !ok || order < 0 || order >= len(e.Attributes) {
		return nil, false
	}
	return &e.Attributes[order], true
}

// IDs returns all registered base ids in ascending order.
func (r *Registry) IDs() []uint32 {
	out := make([]uint32, len(r.ids))
	copy(out, r.ids)
	return out
}

func (r *Registry) Len() int {
	return len(r.ids)
}

// Builder accumulates entries for one registry.
type Builder struct {
	name    string
	entries []Entry
}

func NewBuilder(name string) *Builder {
	return &Builder{name: name}
}

// Add queues an entry. Validation happens in Build.
func (b *Builder) Add(entries ...Entry) *Builder {
	b.entries = append(b.entries, entries...)
	return b
}

// Build validates every queued entry and returns the immutable registry.
func (b *Builder) Build() (*Registry, error) {
	reg := &Registry{
		name:    b.name,
		entries: make(map[uint32]*Entry, len(b.entries)),
		ids:     make([]uint32, 0, len(b.entries)),
	}
	for i := range b.entries {
		in := b.entries[i]
		id := MessageID(in.MessageID)
		if _, ok := reg.entries[id]; ok {
			return nil, &LoadError{Registry: b.name, MessageID: id, Order: -1, Err: ErrDuplicateMessage}
		}
		e := &Entry{
			MessageID:  id,
			Name:       in.Name,
			Attributes: make([]AttributeDescriptor, len(in.Attributes)),
		}
		copy(e.Attributes, in.Attributes)
		if err := validateEntry(b.name, e); err != nil {
			return nil, err
		}
		reg.entries[id] = e
		reg.ids = append(reg.ids, id)
	}
	sort.Slice(reg.ids, func(i, j int) bool { return reg.ids[i] < reg.ids[j] })
	log.Debug().Str("registry", b.name).Int("messages", len(reg.ids)).Msg("schema registry built")
	return reg, nil
}

// MustBuild is Build for compiled-in tables.
func (b *Builder) MustBuild() *Registry {
	reg, err := b.Build()
	if err != nil {
		panic(err)
	}
	return reg
}

func validateEntry(registry string, e *Entry) error {
	optionalSeen := false
	var since uint32
	for i, a := range e.Attributes {
		if a.Order != uint32(i) {
			return &LoadError{Registry: registry, MessageID: e.MessageID, Order: i,
				Err: fmt.Errorf("%w: order=%d index=%d", ErrOrderGap, a.Order, i)}
		}
		if err := a.Validate(); err != nil {
			return &LoadError{Registry: registry, MessageID: e.MessageID, Order: i, Err: err}
		}
		if a.Optional {
			optionalSeen = true
		} else if optionalSeen {
			return &LoadError{Registry: registry, MessageID: e.MessageID, Order: i, Err: ErrOptionalNotTrail}
		}
		if a.SinceMinor < since {
			return &LoadError{Registry: registry, MessageID: e.MessageID, Order: i,
				Err: fmt.Errorf("%w: since=%d after since=%d", ErrSinceOrder, a.SinceMinor, since)}
		}
		since = a.SinceMinor
	}
	return nil
}

// Msg builds an entry and numbers its attributes in the given order.
func Msg(id uint32, name string, attrs ...AttributeDescriptor) Entry {
	out := make([]AttributeDescriptor, len(attrs))
	for i, a := range attrs {
		a.Order = uint32(i)
		out[i] = a
	}
	return Entry{MessageID: id, Name: name, Attributes: out}
}
