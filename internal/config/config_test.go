package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/wmitlv/internal/protocol/abi"
	"github.com/danmuck/wmitlv/internal/testutil/testlog"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateMatchesDefaults(t *testing.T) {
	testlog.Start(t)
	cfg, err := Parse(Template())
	require.NoError(t, err)
	def := DefaultConfig()

	assert.Equal(t, def.Log.Level, cfg.Log.Level)
	assert.Equal(t, def.Host.Session, cfg.Host.Session)
	assert.Equal(t, def.Host.Local, cfg.Host.Local)
	assert.Equal(t, def.Host.Whitelist, cfg.Host.Whitelist)
	assert.Equal(t, def.Host.PoolSlots, cfg.Host.PoolSlots)
	assert.Equal(t, def.Frame, cfg.Frame)
	assert.Equal(t, map[uint32]int{0x0001: 3}, cfg.Host.Codec.MinAttributes)
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	testlog.Start(t)
	cfg, err := Parse(`
[log]
level = "debug"

[codec]
strict = true

[session]
max_in_flight = 4
backoff_initial = "1ms"

[abi]
local = "1.7"
whitelist = [6]
`)
	require.NoError(t, err)
	def := DefaultConfig()

	assert.Equal(t, zerolog.DebugLevel, cfg.Log.Level)
	assert.True(t, cfg.Host.Codec.Strict)
	assert.Equal(t, def.Host.Codec.Limits, cfg.Host.Codec.Limits)
	assert.Equal(t, 4, cfg.Host.Session.MaxInFlight)
	assert.Equal(t, def.Host.Session.QueueDepth, cfg.Host.Session.QueueDepth)
	assert.Equal(t, time.Millisecond, cfg.Host.Session.Backoff.InitialDelay)
	assert.Equal(t, uint32(7), cfg.Host.Local.Minor)
	assert.Equal(t, abi.Whitelist{{Major: 1, Minor: 6, Namespace: abi.HostNamespace}}, cfg.Host.Whitelist)
}

func TestParseRejectsBadInput(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"unknown key":     "[codec]\nstrictly = true\n",
		"bad level":       "[log]\nlevel = \"loud\"\n",
		"bad duration":    "[session]\nbackoff_max = \"soon\"\n",
		"bad id":          "[codec.min_attributes]\n\"zzz\" = 1\n",
		"bad version":     "[abi]\nlocal = \"one\"\n",
		"whitelist above": "[abi]\nwhitelist = [9]\n",
		"zero window":     "[session]\nmax_in_flight = 0\n",
		"zero handlers":   "[dispatch]\nmax_handlers = 0\n",
		"negative pad":    "[codec]\nmax_pad_bytes = -1\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(data)
			assert.Error(t, err)
		})
	}
}

func TestWriteTemplate(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "wmitlv.toml")
	require.NoError(t, WriteTemplate(path, false))
	assert.Error(t, WriteTemplate(path, false))
	require.NoError(t, WriteTemplate(path, true))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, Template(), string(data))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Host.PoolSlots)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
