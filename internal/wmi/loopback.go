package wmi

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/danmuck/wmitlv/internal/protocol/abi"
	"github.com/danmuck/wmitlv/internal/protocol/frame"
	"github.com/danmuck/wmitlv/internal/protocol/schema"
	"github.com/rs/zerolog/log"
)

// Loopback is an in-process firmware peer. It answers INIT with READY,
// which is enough to drive a full handshake without hardware. Attached
// directly it is the host's Transport. Attached to a stream it reads the
// host's frames with Serve and writes its own events as frames.
type Loopback struct {
	version abi.Version
	build   uint32

	mu      sync.Mutex
	deliver func(word uint32, payload []byte) error
	frames  []frame.Frame
	status  uint32
}

func NewLoopback(version abi.Version, build uint32) *Loopback {
	return &Loopback{version: version, build: build}
}

// Attach points the loopback at the host it answers.
func (l *Loopback) Attach(h *Host) {
	l.mu.Lock()
	l.deliver = h.Deliver
	l.mu.Unlock()
}

// AttachStream makes the loopback write its events to w as frames.
func (l *Loopback) AttachStream(w io.Writer, limits frame.Limits) {
	var wmu sync.Mutex
	l.mu.Lock()
	l.deliver = func(word uint32, payload []byte) error {
		wmu.Lock()
		defer wmu.Unlock()
		return frame.WriteFrame(w, frame.New(word, payload), limits)
	}
	l.mu.Unlock()
}

// FailReady makes the next READY report status.
func (l *Loopback) FailReady(status uint32) {
	l.mu.Lock()
	l.status = status
	l.mu.Unlock()
}

// Boot sends SERVICE_READY to the attached host.
func (l *Loopback) Boot() error {
	payload, err := ServiceReadyEvent(l.version, l.build)
	if err != nil {
		return err
	}
	return l.emit(schema.EvtServiceReady, payload)
}

func (l *Loopback) Send(_ context.Context, f frame.Frame) error {
	l.mu.Lock()
	l.frames = append(l.frames, f)
	status := l.status
	l.mu.Unlock()

	if f.Header.MessageID() != schema.CmdInit {
		return nil
	}
	log.Debug().Uint32("payload", f.Header.PayloadLen).Msg("wmi.Loopback init received")
	payload, err := ReadyEvent(l.version, status)
	if err != nil {
		return err
	}
	return l.emit(schema.EvtReady, payload)
}

// Serve reads the host's frames from r and answers them until r ends or
// ctx is done.
func (l *Loopback) Serve(ctx context.Context, r io.Reader, limits frame.Limits) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, err := frame.ReadFrame(r, limits)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := l.Send(ctx, f); err != nil {
			return err
		}
	}
}

// Frames returns every frame the host sent.
func (l *Loopback) Frames() []frame.Frame {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]frame.Frame(nil), l.frames...)
}

func (l *Loopback) emit(word uint32, payload []byte) error {
	l.mu.Lock()
	deliver := l.deliver
	l.mu.Unlock()
	if deliver == nil {
		return errors.New("wmi: loopback not attached")
	}
	return deliver(word, payload)
}
