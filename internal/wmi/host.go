package wmi

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/danmuck/wmitlv/internal/observability"
	"github.com/danmuck/wmitlv/internal/protocol/abi"
	"github.com/danmuck/wmitlv/internal/protocol/codec"
	"github.com/danmuck/wmitlv/internal/protocol/dispatch"
	"github.com/danmuck/wmitlv/internal/protocol/schema"
	"github.com/danmuck/wmitlv/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

// Config collects everything a Host needs.
type Config struct {
	Codec       codec.Options
	PoolSlots   int
	PoolFields  int
	PoolSlab    int
	MaxHandlers int
	Session     session.Config
	Local       abi.Version
	Whitelist   abi.Whitelist
}

func DefaultConfig() Config {
	return Config{
		Codec:       codec.DefaultOptions(),
		PoolSlots:   16,
		PoolFields:  16,
		PoolSlab:    4096,
		MaxHandlers: dispatch.DefaultMaxHandlers,
		Session:     session.DefaultConfig(),
		Local:       abi.Local(),
		Whitelist:   abi.DefaultWhitelist(),
	}
}

// Host is one WMI endpoint. Inbound frames go through Deliver and are
// processed by Run. Commands leave through SendCommand.
//
// Until the handshake completes the host uses the full registries. A
// successful negotiation narrows both to the effective minor.
type Host struct {
	cfg       Config
	commands  *schema.Registry
	events    *schema.Registry
	encoder   atomic.Pointer[codec.Encoder]
	pool      *codec.Pool
	eventDisp *dispatch.Dispatcher
	receiver  *session.Receiver
	sender    *session.CommandSender
	metrics   *observability.Metrics
	handshake *Handshake
}

// NewHost builds a host over the compiled-in registries. metrics may be nil.
func NewHost(cfg Config, transport session.Transport, metrics *observability.Metrics) (*Host, error) {
	return newHost(cfg, schema.Commands(), schema.Events(), transport, metrics)
}

func newHost(cfg Config, commands, events *schema.Registry, transport session.Transport, metrics *observability.Metrics) (*Host, error) {
	if transport == nil {
		return nil, errors.New("wmi: nil transport")
	}
	if err := cfg.Session.Validate(); err != nil {
		return nil, err
	}
	h := &Host{
		cfg:      cfg,
		commands: commands,
		events:   events,
		metrics:  metrics,
	}
	h.encoder.Store(codec.NewEncoder(commands, cfg.Codec))
	if cfg.PoolSlots > 0 {
		h.pool = codec.NewPool(cfg.PoolSlots, cfg.PoolFields, cfg.PoolSlab)
	}
	h.eventDisp = dispatch.New(events.Name(),
		codec.NewAdapter(events, cfg.Codec, h.pool),
		dispatch.WithMaxHandlers(cfg.MaxHandlers),
	)
	h.receiver = session.NewReceiver(cfg.Session.QueueDepth, session.ProcessorFunc(h.process))
	h.sender = session.NewCommandSender(transport, cfg.Session, session.WithInFlightHook(metrics.SetInFlight))
	h.handshake = newHandshake(h, cfg.Local, cfg.Whitelist)
	if err := h.handshake.register(); err != nil {
		return nil, err
	}
	return h, nil
}

// Commands returns the command registry at the current ABI minor.
func (h *Host) Commands() *schema.Registry {
	return h.encoder.Load().Registry()
}

// Events returns the event registry at the current ABI minor.
func (h *Host) Events() *schema.Registry {
	return h.eventDisp.Adapter().Registry()
}

// useMinor narrows encoding and adaptation to the attributes a peer at
// minor understands.
func (h *Host) useMinor(minor uint32) {
	commands := h.commands.AtMinor(minor)
	events := h.events.AtMinor(minor)
	h.encoder.Store(codec.NewEncoder(commands, h.cfg.Codec))
	h.eventDisp.SetAdapter(codec.NewAdapter(events, h.cfg.Codec, h.pool))
	log.Info().Uint32("minor", minor).Msg("wmi.Host schema minor applied")
}

func (h *Host) Receiver() *session.Receiver {
	return h.receiver
}

func (h *Host) Sender() *session.CommandSender {
	return h.sender
}

func (h *Host) Handshake() *Handshake {
	return h.handshake
}

// Subscribe registers a handler for an event id.
func (h *Host) Subscribe(id uint32, handler dispatch.Handler) error {
	if _, ok := h.events.Lookup(id); !ok {
		return fmt.Errorf("wmi: subscribe 0x%x: %w", schema.MessageID(id), codec.ErrUnknownMessage)
	}
	return h.eventDisp.Register(id, handler)
}

func (h *Host) Unsubscribe(id uint32) bool {
	return h.eventDisp.Unregister(id)
}

// Deliver hands one inbound frame to the receive queue. It never blocks.
func (h *Host) Deliver(word uint32, payload []byte) error {
	err := h.receiver.Enqueue(word, payload)
	if errors.Is(err, session.ErrQueueFull) {
		h.metrics.RecordQueueDrop()
		log.Warn().Uint32("message", schema.MessageID(word)).Msg("wmi: receive queue full, event dropped")
	}
	h.metrics.SetQueueDepth(h.receiver.Depth())
	return err
}

// Run processes inbound events until ctx is done.
func (h *Host) Run(ctx context.Context) error {
	return h.receiver.Run(ctx)
}

func (h *Host) process(ctx context.Context, msg session.Message) {
	h.metrics.SetQueueDepth(h.receiver.Depth())
	start := time.Now()
	outcome, err := h.eventDisp.Dispatch(ctx, msg.Word, msg.Payload)
	reason := ""
	if outcome == dispatch.OutcomeRejected {
		reason = codec.Reason(err)
	}
	h.metrics.RecordMessage(h.events.Name(), outcome.String(), reason, time.Since(start))
}

// SendCommand encodes values as command id and submits it, waiting with
// backoff while the send window is full.
func (h *Host) SendCommand(ctx context.Context, id uint32, values ...codec.Value) (*session.Ticket, error) {
	return h.send(ctx, id, true, values...)
}

// TrySendCommand is SendCommand without waiting for a free slot.
func (h *Host) TrySendCommand(ctx context.Context, id uint32, values ...codec.Value) (*session.Ticket, error) {
	return h.send(ctx, id, false, values...)
}

func (h *Host) send(ctx context.Context, id uint32, wait bool, values ...codec.Value) (*session.Ticket, error) {
	start := time.Now()
	payload, err := h.encoder.Load().Encode(id, values...)
	if err != nil {
		h.metrics.RecordCommand("encode_error")
		return nil, err
	}
	var t *session.Ticket
	if wait {
		t, err = h.sender.SubmitWait(ctx, id, payload)
	} else {
		t, err = h.sender.Submit(ctx, id, payload)
	}
	result := "submitted"
	switch {
	case errors.Is(err, session.ErrBackpressure):
		result = "backpressure"
	case err != nil:
		result = "send_error"
	}
	h.metrics.RecordCommand(result)
	log.Debug().
		Uint32("message", schema.MessageID(id)).
		Str("result", result).
		Dur("elapsed", time.Since(start)).
		Msg("wmi.SendCommand")
	return t, err
}
