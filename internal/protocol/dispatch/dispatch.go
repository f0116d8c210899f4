package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/danmuck/wmitlv/internal/protocol/codec"
	"github.com/danmuck/wmitlv/internal/protocol/schema"
	"github.com/rs/zerolog/log"
)

// DefaultMaxHandlers bounds the handler table when no size is given.
const DefaultMaxHandlers = 256

var (
	ErrHandlerExists = errors.New("dispatch: handler already registered")
	ErrTableFull     = errors.New("dispatch: handler table full")
	ErrNilHandler    = errors.New("dispatch: nil handler")
)

// Handler consumes one adapted message. The block is only valid for the
// duration of the call.
type Handler interface {
	Handle(ctx context.Context, block *codec.ParamBlock) error
}

type HandlerFunc func(ctx context.Context, block *codec.ParamBlock) error

func (f HandlerFunc) Handle(ctx context.Context, block *codec.ParamBlock) error {
	return f(ctx, block)
}

// Outcome is where a message's lifetime ended.
type Outcome uint8

const (
	OutcomeUnhandled Outcome = iota
	OutcomeDispatched
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUnhandled:
		return "unhandled"
	case OutcomeDispatched:
		return "dispatched"
	case OutcomeRejected:
		return "rejected"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

// Observer is told about every message a Dispatcher finishes with. err is
// the adapter error for rejected messages and the handler's error for
// dispatched ones.
type Observer interface {
	Observe(id uint32, outcome Outcome, err error)
}

type ObserverFunc func(id uint32, outcome Outcome, err error)

func (f ObserverFunc) Observe(id uint32, outcome Outcome, err error) {
	f(id, outcome, err)
}

// Dispatcher routes messages by base id to registered handlers. Register
// and Dispatch may be called from different goroutines.
type Dispatcher struct {
	name     string
	adapter  atomic.Pointer[codec.Adapter]
	max      int
	observer Observer

	mu       sync.RWMutex
	handlers map[uint32]Handler
}

type Option func(*Dispatcher)

// WithMaxHandlers bounds the table.
func WithMaxHandlers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.max = n
		}
	}
}

func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

func New(name string, adapter *codec.Adapter, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		name:     name,
		max:      DefaultMaxHandlers,
		handlers: make(map[uint32]Handler),
	}
	d.adapter.Store(adapter)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Name() string {
	return d.name
}

func (d *Dispatcher) Adapter() *codec.Adapter {
	return d.adapter.Load()
}

// SetAdapter replaces the adapter used by later Dispatch calls. A Dispatch
// already in progress keeps the adapter it started with.
func (d *Dispatcher) SetAdapter(a *codec.Adapter) {
	d.adapter.Store(a)
}

// Register installs h for id. Existing handlers are never replaced.
func (d *Dispatcher) Register(id uint32, h Handler) error {
	if h == nil {
		return ErrNilHandler
	}
	id = schema.MessageID(id)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.handlers[id]; ok {
		return fmt.Errorf("%w: %s 0x%x", ErrHandlerExists, d.name, id)
	}
	if len(d.handlers) >= d.max {
		return fmt.Errorf("%w: %s holds %d", ErrTableFull, d.name, d.max)
	}
	d.handlers[id] = h
	log.Debug().Str("dispatcher", d.name).Uint32("message", id).Msg("dispatch.Register")
	return nil
}

// Unregister removes the handler for id and reports whether one existed.
func (d *Dispatcher) Unregister(id uint32) bool {
	id = schema.MessageID(id)
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.handlers[id]
	delete(d.handlers, id)
	return ok
}

func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers)
}

func (d *Dispatcher) lookup(id uint32) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[id]
	return h, ok
}

// Dispatch adapts buf and hands it to the handler for id. Messages with
// no handler are dropped as OutcomeUnhandled without being decoded. The
// adapted block is released before Dispatch returns on every path.
func (d *Dispatcher) Dispatch(ctx context.Context, id uint32, buf []byte) (Outcome, error) {
	id = schema.MessageID(id)
	h, ok := d.lookup(id)
	if !ok {
		log.Debug().Str("dispatcher", d.name).Uint32("message", id).Msg("dispatch: unhandled message dropped")
		d.observe(id, OutcomeUnhandled, nil)
		return OutcomeUnhandled, nil
	}

	block, err := d.adapter.Load().Adapt(id, buf)
	if err != nil {
		log.Warn().
			Str("dispatcher", d.name).
			Uint32("message", id).
			Str("reason", codec.Reason(err)).
			Err(err).
			Msg("dispatch: message rejected")
		d.observe(id, OutcomeRejected, err)
		return OutcomeRejected, err
	}

	err = d.invoke(ctx, h, block)
	if err != nil {
		log.Warn().Str("dispatcher", d.name).Uint32("message", id).Err(err).Msg("dispatch: handler failed")
	}
	d.observe(id, OutcomeDispatched, err)
	return OutcomeDispatched, err
}

func (d *Dispatcher) invoke(ctx context.Context, h Handler, block *codec.ParamBlock) (err error) {
	defer block.Release()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch: handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, block)
}

func (d *Dispatcher) observe(id uint32, outcome Outcome, err error) {
	if d.observer != nil {
		d.observer.Observe(id, outcome, err)
	}
}
