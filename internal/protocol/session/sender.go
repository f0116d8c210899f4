package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/wmitlv/internal/protocol/frame"
	"github.com/danmuck/wmitlv/internal/protocol/schema"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("session: too many commands in flight")
	ErrSendFailed   = errors.New("session: transport send failed")
)

// Ticket tracks one submitted command until its completion callback.
type Ticket struct {
	ID        uuid.UUID
	Word      uint32
	Submitted time.Time

	sender *CommandSender
	once   sync.Once
	done   chan struct{}
	err    error
}

// Complete finishes the command and frees its in-flight slot. Only the
// first call has any effect; it reports whether this call was it.
func (t *Ticket) Complete(err error) bool {
	fired := false
	t.once.Do(func() {
		fired = true
		t.err = err
		t.sender.release(t)
		close(t.done)
	})
	return fired
}

func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Err returns the completion error. It is only meaningful after Done.
func (t *Ticket) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the ticket completes or ctx ends.
func (t *Ticket) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CommandSender submits pre-serialized commands with a hard cap on how
// many may be outstanding.
type CommandSender struct {
	transport Transport
	cfg       Config
	max       int64
	inFlight  atomic.Int64

	// hookMu serializes onChange so the last call sees the latest count.
	hookMu   sync.Mutex
	onChange func(inFlight int)

	rngMu sync.Mutex
	rng   *rand.Rand
}

type SenderOption func(*CommandSender)

// WithInFlightHook calls fn with the new in-flight count after every
// reserve and every completion. fn must not block.
func WithInFlightHook(fn func(inFlight int)) SenderOption {
	return func(s *CommandSender) { s.onChange = fn }
}

func NewCommandSender(transport Transport, cfg Config, opts ...SenderOption) *CommandSender {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultConfig().MaxInFlight
	}
	s := &CommandSender{
		transport: transport,
		cfg:       cfg,
		max:       int64(cfg.MaxInFlight),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InFlight returns the number of submitted commands not yet completed.
func (s *CommandSender) InFlight() int {
	return int(s.inFlight.Load())
}

func (s *CommandSender) Cap() int {
	return int(s.max)
}

func (s *CommandSender) reserve() bool {
	for {
		cur := s.inFlight.Load()
		if cur >= s.max {
			return false
		}
		if s.inFlight.CompareAndSwap(cur, cur+1) {
			s.changed()
			return true
		}
	}
}

func (s *CommandSender) changed() {
	if s.onChange == nil {
		return
	}
	s.hookMu.Lock()
	s.onChange(int(s.inFlight.Load()))
	s.hookMu.Unlock()
}

func (s *CommandSender) release(t *Ticket) {
	n := s.inFlight.Add(-1)
	s.changed()
	log.Trace().
		Str("ticket", t.ID.String()).
		Uint32("message", schema.MessageID(t.Word)).
		Int64("in_flight", n).
		Msg("session.CommandSender complete")
}

// Submit sends one command. It fails with ErrBackpressure, without
// touching the transport, once the cap is reached. A transport failure
// completes the ticket with that error and returns it.
func (s *CommandSender) Submit(ctx context.Context, word uint32, payload []byte) (*Ticket, error) {
	if !s.reserve() {
		return nil, fmt.Errorf("%w: cap %d", ErrBackpressure, s.max)
	}
	t := &Ticket{
		ID:        uuid.New(),
		Word:      word,
		Submitted: time.Now(),
		sender:    s,
		done:      make(chan struct{}),
	}
	if err := s.transport.Send(ctx, frame.New(word, payload)); err != nil {
		err = fmt.Errorf("%w: %w", ErrSendFailed, err)
		t.Complete(err)
		return nil, err
	}
	log.Debug().
		Str("ticket", t.ID.String()).
		Uint32("message", schema.MessageID(word)).
		Int("bytes", len(payload)).
		Msg("session.CommandSender submit")
	if s.cfg.CompleteOnSend {
		t.Complete(nil)
	}
	return t, nil
}

// SubmitWait retries Submit with backoff while the sender is saturated.
func (s *CommandSender) SubmitWait(ctx context.Context, word uint32, payload []byte) (*Ticket, error) {
	for attempt := 1; ; attempt++ {
		t, err := s.Submit(ctx, word, payload)
		if !errors.Is(err, ErrBackpressure) {
			return t, err
		}
		timer := time.NewTimer(s.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %w", ErrBackpressure, ctx.Err())
		case <-timer.C:
		}
	}
}

func (s *CommandSender) delay(attempt int) time.Duration {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return NextBackoffDelay(s.cfg.Backoff, attempt, s.rng)
}
