// Package pipeline moves decoded scanlines from a Draw transfer to the
// display.
//
// Two goroutines take part. The serving goroutine calls Draw, which reads the
// payload, decodes it and pushes scanlines into a bounded queue. The feeder
// goroutine (Run) pulls exactly one frame's worth of rows per Draw and drives
// the display. They meet twice per frame: Draw hands the feeder a frame token
// before the first row is pushed, and waits for the feeder's result on that
// token after the last one.
package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/chronologos/epdserve/internal/display"
	"github.com/chronologos/epdserve/internal/metrics"
)

var (
	// ErrTransfer wraps receive failures and early close during a payload.
	ErrTransfer = errors.New("frame transfer failed")
	// ErrMalformedFrame is returned when a payload ends inside an escape
	// token.
	ErrMalformedFrame = errors.New("malformed frame payload")
	// ErrShortFrame is returned when a payload decodes to fewer rows than the
	// panel height. The rows that did arrive were still displayed.
	ErrShortFrame = errors.New("short frame")
	// ErrStopped is returned by Draw once the feeder has exited.
	ErrStopped = errors.New("pipeline stopped")
)

// Default panel sizing.
const (
	DefaultWidth       = 1200
	DefaultHeight      = 825
	DefaultQueueLen    = 384
	DefaultRecvBufSize = 4096
	DefaultRowTime     = 120

	// pixelsPerByte at 2 bits per pixel.
	pixelsPerByte = 4
)

// Config sizes the pipeline.
type Config struct {
	Width       int    // panel width in pixels
	Height      int    // rows per frame
	QueueLen    int    // scanline queue capacity
	RecvBufSize int    // payload receive buffer
	RowTime     uint32 // per-row output time when a Draw carries none
}

// DefaultConfig returns the reference panel sizing.
func DefaultConfig() Config {
	return Config{
		Width:       DefaultWidth,
		Height:      DefaultHeight,
		QueueLen:    DefaultQueueLen,
		RecvBufSize: DefaultRecvBufSize,
		RowTime:     DefaultRowTime,
	}
}

// LineSize is the byte length of one scanline.
func (c Config) LineSize() int {
	return c.Width / pixelsPerByte
}

// Validate reports sizing the pipeline cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Width <= 0 || c.Width%pixelsPerByte != 0:
		return fmt.Errorf("panel width %d must be a positive multiple of %d", c.Width, pixelsPerByte)
	case c.Height <= 0:
		return fmt.Errorf("panel height %d must be positive", c.Height)
	case c.QueueLen <= 0:
		return fmt.Errorf("queue length %d must be positive", c.QueueLen)
	case c.RecvBufSize < 3:
		// must hold at least one whole escape token
		return fmt.Errorf("receive buffer %d must be at least 3 bytes", c.RecvBufSize)
	}
	return nil
}

// Pipeline owns the scanline queue and the frame handoff.
type Pipeline struct {
	cfg     Config
	disp    display.Display
	log     *zap.Logger
	metrics *metrics.Metrics

	queue   *queue
	start   chan *frame
	stopped chan struct{} // closed when Run returns

	drawMu sync.Mutex // one transfer at a time
	buf    []byte
}

// New creates a pipeline feeding disp. Start the feeder with Run before
// calling Draw. A nil m registers metrics on a private registry.
func New(cfg Config, disp display.Display, m *metrics.Metrics, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(prometheus.NewRegistry())
	}
	return &Pipeline{
		cfg:     cfg,
		disp:    disp,
		log:     log,
		metrics: m,
		queue:   newQueue(cfg.QueueLen, cfg.LineSize()),
		start:   make(chan *frame),
		stopped: make(chan struct{}),
		buf:     make([]byte, cfg.RecvBufSize),
	}
}

// QueueLen returns the number of scanlines waiting for the feeder.
func (p *Pipeline) QueueLen() int {
	return p.queue.len()
}
