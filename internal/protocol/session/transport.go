package session

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/danmuck/wmitlv/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

// Transport moves framed commands toward the firmware.
type Transport interface {
	Send(ctx context.Context, f frame.Frame) error
}

type TransportFunc func(ctx context.Context, f frame.Frame) error

func (fn TransportFunc) Send(ctx context.Context, f frame.Frame) error {
	return fn(ctx, f)
}

// StreamTransport writes frames to a byte stream. Concurrent senders are
// serialized.
type StreamTransport struct {
	mu     sync.Mutex
	w      io.Writer
	limits frame.Limits
}

func NewStreamTransport(w io.Writer, limits frame.Limits) *StreamTransport {
	return &StreamTransport{w: w, limits: limits}
}

func (t *StreamTransport) Send(ctx context.Context, f frame.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return frame.WriteFrame(t.w, f, t.limits)
}

// StreamReader feeds frames from a byte stream into a Receiver. It is the
// receiver's single producer.
type StreamReader struct {
	r      io.Reader
	limits frame.Limits
	recv   *Receiver
}

func NewStreamReader(r io.Reader, limits frame.Limits, recv *Receiver) *StreamReader {
	return &StreamReader{r: r, limits: limits, recv: recv}
}

// Run reads until the stream ends cleanly, a framing error makes the
// stream unusable, or ctx is done. A full queue drops the frame and
// keeps reading.
func (s *StreamReader) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, err := frame.ReadFrame(s.r, s.limits)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			log.Error().Err(err).Msg("session.StreamReader read failed")
			return err
		}
		if err := s.recv.Enqueue(f.Header.Word, f.Payload); err != nil {
			log.Warn().
				Uint32("message", f.Header.MessageID()).
				Err(err).
				Msg("session.StreamReader frame dropped")
			if errors.Is(err, ErrReceiverStopped) {
				return err
			}
		}
	}
}
