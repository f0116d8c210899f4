package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/wmitlv/internal/logging"
	"github.com/danmuck/wmitlv/internal/protocol/abi"
	"github.com/danmuck/wmitlv/internal/protocol/frame"
	"github.com/danmuck/wmitlv/internal/wmi"
)

// Config is the resolved runtime configuration.
type Config struct {
	Log   logging.Config
	Host  wmi.Config
	Frame frame.Limits
}

func DefaultConfig() Config {
	return Config{
		Log:   logging.DefaultConfig(logging.ProfileRuntime),
		Host:  wmi.DefaultConfig(),
		Frame: frame.DefaultLimits(),
	}
}

type fileConfig struct {
	Log struct {
		Level     string `toml:"level"`
		Timestamp bool   `toml:"timestamp"`
		NoColor   bool   `toml:"no_color"`
	} `toml:"log"`
	Codec struct {
		Strict        bool           `toml:"strict"`
		MaxPadBytes   int            `toml:"max_pad_bytes"`
		PoolSlots     int            `toml:"pool_slots"`
		PoolFields    int            `toml:"pool_fields"`
		PoolSlabBytes int            `toml:"pool_slab_bytes"`
		MinAttributes map[string]int `toml:"min_attributes"`
	} `toml:"codec"`
	Session struct {
		QueueDepth        int     `toml:"queue_depth"`
		MaxInFlight       int     `toml:"max_in_flight"`
		CompleteOnSend    bool    `toml:"complete_on_send"`
		BackoffInitial    string  `toml:"backoff_initial"`
		BackoffMax        string  `toml:"backoff_max"`
		BackoffMultiplier float64 `toml:"backoff_multiplier"`
		BackoffJitter     bool    `toml:"backoff_jitter"`
	} `toml:"session"`
	Frame struct {
		MaxPayloadBytes uint32 `toml:"max_payload_bytes"`
	} `toml:"frame"`
	Dispatch struct {
		MaxHandlers int `toml:"max_handlers"`
	} `toml:"dispatch"`
	ABI struct {
		Local     string   `toml:"local"`
		Whitelist []uint32 `toml:"whitelist"`
	} `toml:"abi"`
}

// LoadFile reads a TOML file over DefaultConfig. Keys absent from the
// file keep their defaults.
func LoadFile(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config (%s): %w", path, err)
	}
	return resolve(raw, meta)
}

// Parse is LoadFile for TOML text.
func Parse(data string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return resolve(raw, meta)
}

func resolve(raw fileConfig, meta toml.MetaData) (Config, error) {
	cfg := DefaultConfig()
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("unknown config key: %s", undecoded[0])
	}

	if meta.IsDefined("log", "level") {
		lvl, ok := logging.ParseLevel(raw.Log.Level)
		if !ok {
			return Config{}, fmt.Errorf("parse log.level: unknown level %q", raw.Log.Level)
		}
		cfg.Log.Level = lvl
	}
	if meta.IsDefined("log", "timestamp") {
		cfg.Log.Timestamp = raw.Log.Timestamp
	}
	if meta.IsDefined("log", "no_color") {
		cfg.Log.NoColor = raw.Log.NoColor
	}

	host := &cfg.Host
	if meta.IsDefined("codec", "strict") {
		host.Codec.Strict = raw.Codec.Strict
	}
	if meta.IsDefined("codec", "max_pad_bytes") {
		host.Codec.Limits.MaxPadBytes = raw.Codec.MaxPadBytes
	}
	if meta.IsDefined("codec", "pool_slots") {
		host.PoolSlots = raw.Codec.PoolSlots
	}
	if meta.IsDefined("codec", "pool_fields") {
		host.PoolFields = raw.Codec.PoolFields
	}
	if meta.IsDefined("codec", "pool_slab_bytes") {
		host.PoolSlab = raw.Codec.PoolSlabBytes
	}
	if meta.IsDefined("codec", "min_attributes") {
		host.Codec.MinAttributes = make(map[uint32]int, len(raw.Codec.MinAttributes))
		for key, n := range raw.Codec.MinAttributes {
			id, err := strconv.ParseUint(strings.TrimSpace(key), 0, 24)
			if err != nil {
				return Config{}, fmt.Errorf("parse codec.min_attributes key %q: %w", key, err)
			}
			host.Codec.MinAttributes[uint32(id)] = n
		}
	}

	if meta.IsDefined("session", "queue_depth") {
		host.Session.QueueDepth = raw.Session.QueueDepth
	}
	if meta.IsDefined("session", "max_in_flight") {
		host.Session.MaxInFlight = raw.Session.MaxInFlight
	}
	if meta.IsDefined("session", "complete_on_send") {
		host.Session.CompleteOnSend = raw.Session.CompleteOnSend
	}
	if meta.IsDefined("session", "backoff_initial") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Session.BackoffInitial))
		if err != nil {
			return Config{}, fmt.Errorf("parse session.backoff_initial: %w", err)
		}
		host.Session.Backoff.InitialDelay = d
	}
	if meta.IsDefined("session", "backoff_max") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Session.BackoffMax))
		if err != nil {
			return Config{}, fmt.Errorf("parse session.backoff_max: %w", err)
		}
		host.Session.Backoff.MaxDelay = d
	}
	if meta.IsDefined("session", "backoff_multiplier") {
		host.Session.Backoff.Multiplier = raw.Session.BackoffMultiplier
	}
	if meta.IsDefined("session", "backoff_jitter") {
		host.Session.Backoff.Jitter = raw.Session.BackoffJitter
	}

	if meta.IsDefined("frame", "max_payload_bytes") {
		cfg.Frame.MaxPayloadBytes = raw.Frame.MaxPayloadBytes
	}
	if meta.IsDefined("dispatch", "max_handlers") {
		host.MaxHandlers = raw.Dispatch.MaxHandlers
	}

	if meta.IsDefined("abi", "local") {
		v, err := abi.ParseVersion(raw.ABI.Local)
		if err != nil {
			return Config{}, fmt.Errorf("parse abi.local: %w", err)
		}
		host.Local = v
	}
	if meta.IsDefined("abi", "whitelist") {
		wl := make(abi.Whitelist, 0, len(raw.ABI.Whitelist))
		for _, minor := range raw.ABI.Whitelist {
			wl = append(wl, abi.WhitelistEntry{Major: host.Local.Major, Minor: minor, Namespace: host.Local.Namespace})
		}
		host.Whitelist = wl
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	h := cfg.Host
	if h.PoolSlots < 0 || h.PoolFields < 0 || h.PoolSlab < 0 {
		return errors.New("codec pool sizes must not be negative")
	}
	if h.PoolSlots > 0 && h.PoolFields == 0 {
		return errors.New("codec.pool_fields required when pool_slots is set")
	}
	if h.Codec.Limits.MaxPadBytes < 0 {
		return errors.New("codec.max_pad_bytes must not be negative")
	}
	for id, n := range h.Codec.MinAttributes {
		if n < 0 {
			return fmt.Errorf("codec.min_attributes 0x%x must not be negative", id)
		}
	}
	if h.MaxHandlers <= 0 {
		return errors.New("dispatch.max_handlers must be positive")
	}
	for _, e := range h.Whitelist {
		if e.Minor >= h.Local.Minor {
			return fmt.Errorf("abi.whitelist minor %d is not below local minor %d", e.Minor, h.Local.Minor)
		}
	}
	if err := h.Session.Validate(); err != nil {
		return err
	}
	return nil
}
