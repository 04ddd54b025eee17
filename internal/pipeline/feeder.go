package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// frame is the token a transfer hands the feeder. The transfer closes input
// after its last push; the feeder sends exactly one result on done.
type frame struct {
	budget uint32
	input  chan struct{}
	done   chan frameResult
}

type frameResult struct {
	rows int
	err  error
}

func newFrame(budget uint32) *frame {
	return &frame{
		budget: budget,
		input:  make(chan struct{}),
		done:   make(chan frameResult, 1),
	}
}

// Run initializes the display and feeds it one frame per Draw until ctx is
// cancelled. Run must be called at most once.
func (p *Pipeline) Run(ctx context.Context) error {
	defer close(p.stopped)
	if err := p.disp.Init(p.cfg.Width); err != nil {
		return fmt.Errorf("init display: %w", err)
	}
	p.log.Info("feeder started",
		zap.Int("width", p.cfg.Width),
		zap.Int("height", p.cfg.Height),
		zap.Int("line_size", p.cfg.LineSize()),
		zap.Int("queue_len", p.cfg.QueueLen))

	for {
		select {
		case f := <-p.start:
			p.feed(ctx, f)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// feed drives one display frame. It stops early only when the transfer has
// closed its input and the queue is empty, or ctx is cancelled.
func (p *Pipeline) feed(ctx context.Context, f *frame) {
	p.disp.StartFrame()
	rows := 0
	for rows < p.cfg.Height {
		buf, ok := p.queue.pop(ctx, f.input)
		if !ok {
			break
		}
		p.disp.OutputRow(*buf, f.budget)
		p.queue.release(buf)
		rows++
	}
	p.disp.EndFrame()
	p.metrics.RowsOutput.Add(float64(rows))

	var err error
	if rows < p.cfg.Height {
		err = fmt.Errorf("%w: %d of %d rows", ErrShortFrame, rows, p.cfg.Height)
	}
	f.done <- frameResult{rows: rows, err: err}
}
