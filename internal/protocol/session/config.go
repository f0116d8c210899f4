package session

import (
	"errors"
	"math"
	"math/rand"
	"time"
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config sizes the receive queue and the send window.
type Config struct {
	QueueDepth  int
	MaxInFlight int

	// CompleteOnSend completes a ticket as soon as the transport accepts
	// the frame. Leave it off when the transport reports tx completion on
	// its own.
	CompleteOnSend bool
	Backoff        BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		QueueDepth:     64,
		MaxInFlight:    32,
		CompleteOnSend: true,
		Backoff: BackoffConfig{
			InitialDelay: 10 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     500 * time.Millisecond,
			Jitter:       true,
		},
	}
}

func (c Config) Validate() error {
	if c.QueueDepth <= 0 {
		return errors.New("session: queue depth must be positive")
	}
	if c.MaxInFlight <= 0 {
		return errors.New("session: max in flight must be positive")
	}
	if c.Backoff.InitialDelay < 0 || c.Backoff.MaxDelay < 0 {
		return errors.New("session: negative backoff delay")
	}
	return nil
}

// NextBackoffDelay returns the retry delay for attempt N (1-based).
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 {
		return cfg.InitialDelay
	}
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay = delay * f
	}
	return time.Duration(delay)
}
