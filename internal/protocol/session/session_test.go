package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/wmitlv/internal/protocol/frame"
	"github.com/danmuck/wmitlv/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       false,
	}
	assert.Equal(t, 250*time.Millisecond, NextBackoffDelay(cfg, 1, nil))
	assert.Equal(t, 500*time.Millisecond, NextBackoffDelay(cfg, 2, nil))
	assert.Equal(t, time.Second, NextBackoffDelay(cfg, 3, nil))
	assert.Equal(t, 5*time.Second, NextBackoffDelay(cfg, 6, nil))
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	cfg := DefaultConfig()
	cfg.MaxInFlight = 0
	assert.Error(t, cfg.Validate())
	cfg = DefaultConfig()
	cfg.QueueDepth = -1
	assert.Error(t, cfg.Validate())
}

type captureTransport struct {
	mu     sync.Mutex
	frames []frame.Frame
	err    error
}

func (c *captureTransport) Send(_ context.Context, f frame.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.frames = append(c.frames, f)
	return nil
}

func manualConfig(max int) Config {
	cfg := DefaultConfig()
	cfg.MaxInFlight = max
	cfg.CompleteOnSend = false
	cfg.Backoff = BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond}
	return cfg
}

func TestBackpressureBoundary(t *testing.T) {
	testlog.Start(t)
	tr := &captureTransport{}
	s := NewCommandSender(tr, manualConfig(3))
	ctx := context.Background()

	var tickets []*Ticket
	for i := 0; i < 3; i++ {
		tk, err := s.Submit(ctx, uint32(0x1001+i), []byte{1, 2, 3, 4})
		require.NoError(t, err)
		tickets = append(tickets, tk)
	}
	assert.Equal(t, 3, s.InFlight())

	_, err := s.Submit(ctx, 0x2000, nil)
	require.ErrorIs(t, err, ErrBackpressure)
	assert.Len(t, tr.frames, 3)

	require.True(t, tickets[0].Complete(nil))
	assert.False(t, tickets[0].Complete(errors.New("late")))
	assert.Equal(t, 2, s.InFlight())

	_, err = s.Submit(ctx, 0x2001, nil)
	require.NoError(t, err)
	_, err = s.Submit(ctx, 0x2002, nil)
	require.ErrorIs(t, err, ErrBackpressure)
	assert.Equal(t, 3, s.InFlight())
	assert.NoError(t, tickets[0].Err())
}

func TestTicketCompletesOnceUnderRace(t *testing.T) {
	testlog.Start(t)
	s := NewCommandSender(&captureTransport{}, manualConfig(1))
	tk, err := s.Submit(context.Background(), 1, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	fired := make(chan bool, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fired <- tk.Complete(nil)
		}()
	}
	wg.Wait()
	close(fired)
	n := 0
	for f := range fired {
		if f {
			n++
		}
	}
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, s.InFlight())
}

func TestInFlightHookSeesEveryChange(t *testing.T) {
	testlog.Start(t)
	var mu sync.Mutex
	var seen []int
	s := NewCommandSender(&captureTransport{}, manualConfig(2), WithInFlightHook(func(n int) {
		mu.Lock()
		seen = append(seen, n)
		mu.Unlock()
	}))
	a, err := s.Submit(context.Background(), 1, nil)
	require.NoError(t, err)
	b, err := s.Submit(context.Background(), 2, nil)
	require.NoError(t, err)
	a.Complete(nil)
	b.Complete(errors.New("timeout"))
	b.Complete(nil)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 1, 0}, seen)
}

func TestSendFailureReleasesSlot(t *testing.T) {
	testlog.Start(t)
	boom := errors.New("link down")
	s := NewCommandSender(&captureTransport{err: boom}, manualConfig(1))
	_, err := s.Submit(context.Background(), 1, nil)
	assert.ErrorIs(t, err, ErrSendFailed)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, s.InFlight())
}

func TestCompleteOnSend(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.MaxInFlight = 1
	s := NewCommandSender(&captureTransport{}, cfg)
	for i := 0; i < 3; i++ {
		tk, err := s.Submit(context.Background(), 1, nil)
		require.NoError(t, err)
		require.NoError(t, tk.Wait(context.Background()))
	}
	assert.Equal(t, 0, s.InFlight())
}

func TestSubmitWaitRetriesUntilSlotFrees(t *testing.T) {
	testlog.Start(t)
	s := NewCommandSender(&captureTransport{}, manualConfig(1))
	first, err := s.Submit(context.Background(), 1, nil)
	require.NoError(t, err)

	go func() {
		time.Sleep(5 * time.Millisecond)
		first.Complete(nil)
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	second, err := s.SubmitWait(ctx, 2, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestSubmitWaitHonorsContext(t *testing.T) {
	testlog.Start(t)
	s := NewCommandSender(&captureTransport{}, manualConfig(1))
	_, err := s.Submit(context.Background(), 1, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = s.SubmitWait(ctx, 2, nil)
	assert.ErrorIs(t, err, ErrBackpressure)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type orderProcessor struct {
	mu   sync.Mutex
	seen []uint32
}

func (p *orderProcessor) Process(_ context.Context, msg Message) {
	p.mu.Lock()
	p.seen = append(p.seen, msg.Word)
	p.mu.Unlock()
}

func (p *orderProcessor) words() []uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uint32(nil), p.seen...)
}

func TestReceiverFIFOAndDrain(t *testing.T) {
	testlog.Start(t)
	proc := &orderProcessor{}
	r := NewReceiver(8, proc)
	for i := uint32(1); i <= 8; i++ {
		require.NoError(t, r.Enqueue(i, nil))
	}
	assert.ErrorIs(t, r.Enqueue(9, nil), ErrQueueFull)
	assert.Equal(t, 8, r.Depth())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	require.Eventually(t, func() bool { return len(proc.words()) == 8 }, time.Second, time.Millisecond)

	for i := uint32(10); i < 14; i++ {
		require.NoError(t, r.Enqueue(i, nil))
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	got := proc.words()
	require.Len(t, got, 12)
	assert.Equal(t, []uint32{1, 2, 3, 4, 5, 6, 7, 8, 10, 11, 12, 13}, got)
	assert.ErrorIs(t, r.Enqueue(99, nil), ErrReceiverStopped)

	stats := r.Stats()
	assert.Equal(t, uint64(12), stats.Enqueued)
	assert.Equal(t, uint64(1), stats.Dropped)
	assert.Equal(t, uint64(12), stats.Processed)
}

func TestReceiverProcessesEveryAcceptedMessageAcrossStop(t *testing.T) {
	testlog.Start(t)
	for round := 0; round < 50; round++ {
		var processed atomic.Uint64
		r := NewReceiver(4, ProcessorFunc(func(context.Context, Message) { processed.Add(1) }))
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- r.Run(ctx) }()

		accepted := make(chan uint64, 1)
		go func() {
			var n uint64
			for {
				err := r.Enqueue(1, nil)
				if errors.Is(err, ErrReceiverStopped) {
					accepted <- n
					return
				}
				if err == nil {
					n++
				}
			}
		}()
		time.Sleep(time.Millisecond)
		cancel()
		<-done

		n := <-accepted
		stats := r.Stats()
		require.Equal(t, n, stats.Enqueued, "round %d", round)
		require.Equal(t, n, processed.Load(), "round %d", round)
	}
}

func TestReceiverRejectsSecondRun(t *testing.T) {
	testlog.Start(t)
	r := NewReceiver(1, ProcessorFunc(func(context.Context, Message) {}))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	require.Eventually(t, func() bool { return r.running.Load() }, time.Second, time.Millisecond)
	assert.ErrorIs(t, r.Run(ctx), ErrAlreadyRunning)
	cancel()
	<-done
}

func TestStreamRoundTrip(t *testing.T) {
	testlog.Start(t)
	var wire bytes.Buffer
	tr := NewStreamTransport(&wire, frame.DefaultLimits())
	ctx := context.Background()
	require.NoError(t, tr.Send(ctx, frame.New(0x01001001, []byte{1, 2, 3, 4})))
	require.NoError(t, tr.Send(ctx, frame.New(0x1002, nil)))

	proc := &orderProcessor{}
	r := NewReceiver(4, proc)
	require.NoError(t, NewStreamReader(&wire, frame.DefaultLimits(), r).Run(ctx))
	assert.Equal(t, 2, r.Depth())

	runCtx, cancel := context.WithCancel(ctx)
	cancel()
	_ = r.Run(runCtx)
	assert.Equal(t, []uint32{0x01001001, 0x1002}, proc.words())
}

func TestStreamReaderStopsOnBrokenFrame(t *testing.T) {
	testlog.Start(t)
	broken := append(frame.EncodeHeader(frame.Header{PayloadLen: 16, Word: 1}), 1, 2)
	r := NewReceiver(4, ProcessorFunc(func(context.Context, Message) {}))
	err := NewStreamReader(bytes.NewReader(broken), frame.DefaultLimits(), r).Run(context.Background())
	assert.ErrorIs(t, err, frame.ErrShortPayload)

	err = NewStreamReader(io.MultiReader(), frame.DefaultLimits(), r).Run(context.Background())
	assert.NoError(t, err)
}

func TestStreamTransportHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewStreamTransport(io.Discard, frame.DefaultLimits()).Send(ctx, frame.New(1, nil))
	assert.ErrorIs(t, err, context.Canceled)
}
