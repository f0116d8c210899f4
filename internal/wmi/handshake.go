package wmi

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/wmitlv/internal/protocol/abi"
	"github.com/danmuck/wmitlv/internal/protocol/codec"
	"github.com/danmuck/wmitlv/internal/protocol/dispatch"
	"github.com/danmuck/wmitlv/internal/protocol/schema"
	"github.com/rs/zerolog/log"
)

var (
	ErrIncompatible   = errors.New("wmi: firmware abi incompatible")
	ErrFirmwareStatus = errors.New("wmi: firmware reported failure")
)

type State uint8

const (
	StateIdle State = iota
	StateInitSent
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitSent:
		return "init_sent"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Handshake runs the firmware bring-up exchange. SERVICE_READY carries the
// firmware ABI; the host negotiates against it and answers with INIT
// carrying the effective version; READY completes the exchange.
type Handshake struct {
	host  *Host
	local abi.Version
	wl    abi.Whitelist

	mu       sync.RWMutex
	state    State
	result   abi.Result
	firmware abi.Version
	build    uint32
	err      error

	done chan struct{}
	once sync.Once
}

func newHandshake(h *Host, local abi.Version, wl abi.Whitelist) *Handshake {
	return &Handshake{host: h, local: local, wl: wl, done: make(chan struct{})}
}

func (hs *Handshake) register() error {
	if err := hs.host.eventDisp.Register(schema.EvtServiceReady, dispatch.HandlerFunc(hs.onServiceReady)); err != nil {
		return err
	}
	return hs.host.eventDisp.Register(schema.EvtReady, dispatch.HandlerFunc(hs.onReady))
}

func (hs *Handshake) State() State {
	hs.mu.RLock()
	defer hs.mu.RUnlock()
	return hs.state
}

// Effective returns the negotiated version once the handshake is ready.
func (hs *Handshake) Effective() (abi.Version, bool) {
	hs.mu.RLock()
	defer hs.mu.RUnlock()
	return hs.result.Effective, hs.state == StateReady
}

// Firmware returns the version and build the firmware announced.
func (hs *Handshake) Firmware() (abi.Version, uint32) {
	hs.mu.RLock()
	defer hs.mu.RUnlock()
	return hs.firmware, hs.build
}

// Wait blocks until the handshake reaches ready or failed.
func (hs *Handshake) Wait(ctx context.Context) (abi.Result, error) {
	select {
	case <-hs.done:
		hs.mu.RLock()
		defer hs.mu.RUnlock()
		return hs.result, hs.err
	case <-ctx.Done():
		return abi.Result{}, ctx.Err()
	}
}

func (hs *Handshake) finish(state State, err error) {
	hs.mu.Lock()
	hs.state = state
	hs.err = err
	hs.mu.Unlock()
	hs.once.Do(func() { close(hs.done) })
}

func (hs *Handshake) onServiceReady(ctx context.Context, block *codec.ParamBlock) error {
	if st := hs.State(); st != StateIdle {
		log.Warn().Str("state", st.String()).Msg("wmi.Handshake duplicate service ready ignored")
		return nil
	}
	body := block.Field(0).Body()
	fw, err := decodeVersion(body, serviceReadyABI)
	if err != nil {
		hs.finish(StateFailed, err)
		return err
	}
	build := binary.LittleEndian.Uint32(body[serviceReadyBuild:])

	res := abi.Negotiate(hs.local, fw, hs.wl)
	hs.host.metrics.RecordNegotiation(string(res.Reason), res.Compatible)
	hs.mu.Lock()
	hs.firmware, hs.build, hs.result = fw, build, res
	hs.mu.Unlock()

	if !res.Compatible {
		err := fmt.Errorf("%w: %s (local %s, firmware %s)", ErrIncompatible, res.Reason, hs.local, fw)
		hs.finish(StateFailed, err)
		return err
	}
	hs.host.useMinor(res.Effective.Minor)
	if _, err := hs.host.TrySendCommand(ctx, schema.CmdInit, InitCommand(res.Effective)...); err != nil {
		hs.finish(StateFailed, err)
		return err
	}
	hs.mu.Lock()
	hs.state = StateInitSent
	hs.mu.Unlock()
	log.Info().
		Str("firmware", fw.String()).
		Uint32("build", build).
		Str("effective", res.Effective.String()).
		Msg("wmi.Handshake init sent")
	return nil
}

func (hs *Handshake) onReady(_ context.Context, block *codec.ParamBlock) error {
	if st := hs.State(); st != StateInitSent {
		log.Warn().Str("state", st.String()).Msg("wmi.Handshake unexpected ready ignored")
		return nil
	}
	body := block.Field(0).Body()
	fw, err := decodeVersion(body, readyABIOffset)
	if err != nil {
		hs.finish(StateFailed, err)
		return err
	}
	if status := binary.LittleEndian.Uint32(body[readyStatusOffset:]); status != 0 {
		err := fmt.Errorf("%w: status %d", ErrFirmwareStatus, status)
		hs.finish(StateFailed, err)
		return err
	}
	if !fw.SameNamespace(hs.local) {
		err := fmt.Errorf("%w: ready namespace differs", ErrIncompatible)
		hs.finish(StateFailed, err)
		return err
	}
	hs.finish(StateReady, nil)
	log.Info().Msg("wmi.Handshake ready")
	return nil
}
