package display

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// FrameRecord is one completed frame as written by Recorder.
type FrameRecord struct {
	Seq      uint64        `msgpack:"seq"`
	Width    int           `msgpack:"width"`
	Started  time.Time     `msgpack:"started"`
	Duration time.Duration `msgpack:"duration"`
	Powered  bool          `msgpack:"powered"`
	Budgets  []uint32      `msgpack:"budgets,omitempty"`
	Rows     [][]byte      `msgpack:"rows"`
}

// Recorder is a headless panel: each finished frame is appended to w as one
// MessagePack-encoded FrameRecord.
//
// Recorder is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	enc     *msgpack.Encoder
	log     *zap.Logger
	width   int
	powered bool
	seq     uint64
	cur     *FrameRecord
}

// NewRecorder creates a Recorder writing to w. With a nil w frames are
// counted and logged but rows are neither kept nor encoded. A nil logger
// disables logging.
func NewRecorder(w io.Writer, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Recorder{log: log}
	if w != nil {
		r.enc = msgpack.NewEncoder(w)
	}
	return r
}

// Frames returns how many frames have been started.
func (r *Recorder) Frames() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

func (r *Recorder) Init(rowWidth int) error {
	if rowWidth <= 0 {
		return fmt.Errorf("invalid row width %d", rowWidth)
	}
	r.mu.Lock()
	r.width = rowWidth
	r.mu.Unlock()
	return nil
}

func (r *Recorder) StartFrame() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.cur = &FrameRecord{
		Seq:     r.seq,
		Width:   r.width,
		Started: time.Now(),
		Powered: r.powered,
	}
}

func (r *Recorder) OutputRow(row []byte, budget uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == nil {
		r.log.Warn("row output outside of a frame")
		return
	}
	if r.enc == nil {
		return
	}
	r.cur.Rows = append(r.cur.Rows, bytes.Clone(row))
	r.cur.Budgets = append(r.cur.Budgets, budget)
}

func (r *Recorder) EndFrame() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == nil {
		return
	}
	f := r.cur
	r.cur = nil
	f.Duration = time.Since(f.Started)

	if r.enc == nil {
		r.log.Debug("frame shown", zap.Uint64("seq", f.Seq), zap.Duration("duration", f.Duration))
		return
	}
	if err := r.enc.Encode(f); err != nil {
		r.log.Error("record frame", zap.Uint64("seq", f.Seq), zap.Error(err))
		return
	}
	r.log.Debug("frame recorded",
		zap.Uint64("seq", f.Seq),
		zap.Int("rows", len(f.Rows)),
		zap.Duration("duration", f.Duration))
}

func (r *Recorder) PowerOn() {
	r.mu.Lock()
	r.powered = true
	r.mu.Unlock()
	r.log.Info("panel power on")
}

func (r *Recorder) PowerOff() {
	r.mu.Lock()
	r.powered = false
	r.mu.Unlock()
	r.log.Info("panel power off")
}

// ReadFrames decodes every FrameRecord from a recording.
func ReadFrames(rd io.Reader) ([]FrameRecord, error) {
	dec := msgpack.NewDecoder(rd)
	var frames []FrameRecord
	for {
		var f FrameRecord
		if err := dec.Decode(&f); err != nil {
			if errors.Is(err, io.EOF) {
				return frames, nil
			}
			return frames, fmt.Errorf("decode frame %d: %w", len(frames)+1, err)
		}
		frames = append(frames, f)
	}
}
