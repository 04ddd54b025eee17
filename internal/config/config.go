// Package config loads the server configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/chronologos/epdserve/internal/pipeline"
)

const (
	DefaultListen       = ":1337"
	DefaultBacklog      = 1
	DefaultMaxClients   = 3
	DefaultPollInterval = 2 * time.Second
	DefaultWriteTimeout = time.Second
	DefaultLogLevel     = "info"
)

// Config is the complete server configuration.
type Config struct {
	Listen     string `yaml:"listen"`
	QUICListen string `yaml:"quic_listen"` // empty disables QUIC
	Backlog    int    `yaml:"backlog"`
	MaxClients int    `yaml:"max_clients"`

	PollInterval time.Duration `yaml:"poll_interval"` // housekeeping tick
	WriteTimeout time.Duration `yaml:"write_timeout"` // per notification

	// RequireActiveForDraw rejects Draw from clients that do not hold the
	// panel.
	RequireActiveForDraw bool `yaml:"require_active_for_draw"`

	Panel PanelConfig `yaml:"panel"`

	MetricsListen string `yaml:"metrics_listen"` // empty disables /metrics
	LogLevel      string `yaml:"log_level"`
	RecordPath    string `yaml:"record_path"` // frame recording file
}

// PanelConfig sizes the display pipeline.
type PanelConfig struct {
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
	QueueLen    int    `yaml:"queue_len"`
	RecvBufSize int    `yaml:"recv_buf_size"`
	RowTime     uint32 `yaml:"row_time"`
}

// Pipeline converts the panel section to pipeline sizing.
func (p PanelConfig) Pipeline() pipeline.Config {
	return pipeline.Config{
		Width:       p.Width,
		Height:      p.Height,
		QueueLen:    p.QueueLen,
		RecvBufSize: p.RecvBufSize,
		RowTime:     p.RowTime,
	}
}

// Default returns the reference configuration.
func Default() *Config {
	pc := pipeline.DefaultConfig()
	return &Config{
		Listen:       DefaultListen,
		Backlog:      DefaultBacklog,
		MaxClients:   DefaultMaxClients,
		PollInterval: DefaultPollInterval,
		WriteTimeout: DefaultWriteTimeout,
		Panel: PanelConfig{
			Width:       pc.Width,
			Height:      pc.Height,
			QueueLen:    pc.QueueLen,
			RecvBufSize: pc.RecvBufSize,
			RowTime:     pc.RowTime,
		},
		LogLevel: DefaultLogLevel,
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if c.Backlog < 1 {
		errs = append(errs, fmt.Errorf("backlog %d must be at least 1", c.Backlog))
	}
	if c.MaxClients < 1 {
		errs = append(errs, fmt.Errorf("max_clients %d must be at least 1", c.MaxClients))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval %v must be positive", c.PollInterval))
	}
	if c.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("write_timeout %v must be positive", c.WriteTimeout))
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if err := c.Panel.Pipeline().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("panel: %w", err))
	}
	return errors.Join(errs...)
}
