package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/chronologos/epdserve/internal/decoder"
	"github.com/chronologos/epdserve/internal/metrics"
	"github.com/chronologos/epdserve/internal/protocol"
)

// Draw reads exactly cmd.PayloadSize bytes from src, decodes them into
// scanlines for the feeder, and returns once the feeder has ended the display
// frame. Rows decoded beyond the panel height are dropped.
//
// Errors wrap ErrTransfer (src failed or closed early), ErrMalformedFrame
// (payload ended inside an escape token) or ErrShortFrame (too few rows). In
// every case the feeder has finished the frame before Draw returns, so the
// next Draw starts clean. Only ctx cancellation or a stopped feeder
// (ErrStopped) can return earlier.
func (p *Pipeline) Draw(ctx context.Context, cmd *protocol.Draw, src io.Reader) error {
	p.drawMu.Lock()
	defer p.drawMu.Unlock()

	budget := p.cfg.RowTime
	if cmd.TimeBudget != 0 {
		budget = cmd.TimeBudget
	}

	// the feeder is idle here, anything queued belongs to an abandoned frame
	if stale := p.queue.drain(); stale > 0 {
		p.log.Warn("discarded stale scanlines", zap.Int("rows", stale))
	}

	f := newFrame(budget)
	select {
	case p.start <- f:
	case <-p.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	began := time.Now()

	pushed, dropped := 0, 0
	dec := decoder.New(p.cfg.LineSize(), func(line []byte) error {
		if pushed == p.cfg.Height {
			dropped++
			return nil
		}
		if err := p.queue.push(ctx, p.stopped, line); err != nil {
			return err
		}
		pushed++
		return nil
	})

	tail, recvErr := p.receive(int(cmd.PayloadSize), src, dec)
	close(f.input)

	var res frameResult
	select {
	case res = <-f.done:
	case <-p.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	p.metrics.FrameDuration.Observe(time.Since(began).Seconds())

	log := p.log.With(
		zap.Uint32("offset", cmd.Offset),
		zap.Uint32("amount", cmd.Amount),
		zap.Uint32("payload_size", cmd.PayloadSize),
		zap.Uint32("budget", budget),
		zap.Int("rows", res.rows))

	if dropped > 0 {
		p.metrics.RowsDropped.Add(float64(dropped))
		log.Warn("dropped rows beyond panel height", zap.Int("dropped", dropped))
	}
	if pending := dec.Pending(); pending > 0 {
		log.Debug("partial trailing scanline ignored", zap.Int("bytes", pending))
	}

	switch {
	case recvErr != nil:
		if errors.Is(recvErr, ErrStopped) {
			return ErrStopped
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		p.metrics.Frames.WithLabelValues(metrics.FrameFailed).Inc()
		log.Warn("frame transfer failed", zap.Error(recvErr))
		return fmt.Errorf("%w: %w", ErrTransfer, recvErr)
	case tail > 0:
		p.metrics.Frames.WithLabelValues(metrics.FrameInvalid).Inc()
		log.Warn("payload ends inside an escape token", zap.Int("tail", tail))
		return fmt.Errorf("%w: %d undecodable trailing bytes", ErrMalformedFrame, tail)
	case res.err != nil:
		p.metrics.Frames.WithLabelValues(metrics.FrameShort).Inc()
		log.Warn("short frame", zap.Error(res.err))
		return res.err
	}

	p.metrics.Frames.WithLabelValues(metrics.FrameOK).Inc()
	log.Debug("frame drawn", zap.Duration("elapsed", time.Since(began)))
	return nil
}

// receive feeds size bytes from src to dec through the receive buffer. The
// undecoded tail of each read is moved to the front of the buffer and
// presented again with the next one. It returns the length of the tail left
// when the payload is exhausted.
func (p *Pipeline) receive(size int, src io.Reader, dec *decoder.Decoder) (int, error) {
	buf := p.buf
	buffered := 0
	for size > 0 {
		want := min(size, len(buf)-buffered)
		n, err := src.Read(buf[buffered : buffered+want])
		size -= n
		buffered += n
		if n > 0 {
			p.metrics.PayloadBytes.Add(float64(n))
			consumed, derr := dec.Decode(buf[:buffered])
			if derr != nil {
				return buffered - consumed, derr
			}
			buffered = copy(buf, buf[consumed:buffered])
		}
		if err != nil {
			if size == 0 {
				break
			}
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return buffered, err
		}
	}
	return buffered, nil
}
