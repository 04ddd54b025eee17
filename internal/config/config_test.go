package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":1337", cfg.Listen)
	assert.Equal(t, 3, cfg.MaxClients)
	assert.Equal(t, 1, cfg.Backlog)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, 300, cfg.Panel.Pipeline().LineSize())
	assert.False(t, cfg.RequireActiveForDraw)
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
listen: 127.0.0.1:4000
max_clients: 5
poll_interval: 500ms
require_active_for_draw: true
panel:
  height: 600
  row_time: 90
`))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:4000", cfg.Listen)
	assert.Equal(t, 5, cfg.MaxClients)
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval)
	assert.True(t, cfg.RequireActiveForDraw)
	assert.Equal(t, 600, cfg.Panel.Height)
	assert.Equal(t, uint32(90), cfg.Panel.RowTime)

	// untouched keys keep their defaults
	assert.Equal(t, 1200, cfg.Panel.Width)
	assert.Equal(t, time.Second, cfg.WriteTimeout)
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown key", "listne: :1\n"},
		{"zero clients", "max_clients: 0\n"},
		{"bad duration", "poll_interval: soon\n"},
		{"negative timeout", "write_timeout: -1s\n"},
		{"odd width", "panel:\n  width: 1201\n"},
		{"bad log level", "log_level: chatty\n"},
		{"empty listen", "listen: \"\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "epdserve.yaml")
	require.NoError(t, os.WriteFile(path, []byte("quic_listen: :1338\nrecord_path: /tmp/frames\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":1338", cfg.QUICListen)
	assert.Equal(t, "/tmp/frames", cfg.RecordPath)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
