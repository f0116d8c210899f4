package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	ErrQueueFull       = errors.New("session: receive queue full")
	ErrReceiverStopped = errors.New("session: receiver stopped")
	ErrAlreadyRunning  = errors.New("session: receiver already running")
)

// Message is one raw inbound WMI message.
type Message struct {
	Word     uint32
	Payload  []byte
	Received time.Time
}

// Processor handles one dequeued message. Errors stay with the message.
type Processor interface {
	Process(ctx context.Context, msg Message)
}

type ProcessorFunc func(ctx context.Context, msg Message)

func (f ProcessorFunc) Process(ctx context.Context, msg Message) {
	f(ctx, msg)
}

// Receiver is a bounded queue between a transport callback and one
// worker goroutine.
type Receiver struct {
	queue   chan Message
	proc    Processor
	running atomic.Bool

	// stopMu orders Enqueue against the stop flag: once Run holds it to
	// stop, every accepted message is already in the queue for drain.
	stopMu  sync.RWMutex
	stopped bool

	enqueued  atomic.Uint64
	dropped   atomic.Uint64
	processed atomic.Uint64
}

func NewReceiver(depth int, proc Processor) *Receiver {
	if depth <= 0 {
		depth = DefaultConfig().QueueDepth
	}
	return &Receiver{queue: make(chan Message, depth), proc: proc}
}

// Enqueue queues a message without blocking. The payload must not be
// modified after the call.
func (r *Receiver) Enqueue(word uint32, payload []byte) error {
	r.stopMu.RLock()
	defer r.stopMu.RUnlock()
	if r.stopped {
		return ErrReceiverStopped
	}
	select {
	case r.queue <- Message{Word: word, Payload: payload, Received: time.Now()}:
		r.enqueued.Add(1)
		return nil
	default:
		r.dropped.Add(1)
		return ErrQueueFull
	}
}

// Run processes messages in arrival order until ctx is done, then drains
// whatever was already queued. Messages that were dequeued always run to
// completion.
func (r *Receiver) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer r.running.Store(false)
	log.Debug().Int("depth", cap(r.queue)).Msg("session.Receiver run")
	for {
		select {
		case <-ctx.Done():
			r.stopMu.Lock()
			r.stopped = true
			r.stopMu.Unlock()
			n := r.drain()
			log.Debug().Int("drained", n).Msg("session.Receiver stopped")
			return ctx.Err()
		case msg := <-r.queue:
			r.process(msg)
		}
	}
}

func (r *Receiver) drain() int {
	n := 0
	for {
		select {
		case msg := <-r.queue:
			r.process(msg)
			n++
		default:
			return n
		}
	}
}

// process runs with a fresh context so queued messages are not cut short
// by the worker's own cancellation.
func (r *Receiver) process(msg Message) {
	r.proc.Process(context.Background(), msg)
	r.processed.Add(1)
}

// Depth returns the number of queued messages.
func (r *Receiver) Depth() int {
	return len(r.queue)
}

func (r *Receiver) Capacity() int {
	return cap(r.queue)
}

// ReceiverStats is a snapshot of receiver counters.
type ReceiverStats struct {
	Enqueued  uint64
	Dropped   uint64
	Processed uint64
}

func (r *Receiver) Stats() ReceiverStats {
	return ReceiverStats{
		Enqueued:  r.enqueued.Load(),
		Dropped:   r.dropped.Load(),
		Processed: r.processed.Load(),
	}
}
