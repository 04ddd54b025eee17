package pipeline

import (
	"context"
	"sync"
)

// queue is the bounded scanline FIFO between Draw and the feeder. Lines are
// copied into pooled buffers on push; the consumer hands them back with
// release.
type queue struct {
	ch   chan *[]byte
	pool sync.Pool
}

func newQueue(capacity, lineSize int) *queue {
	q := &queue{ch: make(chan *[]byte, capacity)}
	q.pool.New = func() any {
		b := make([]byte, lineSize)
		return &b
	}
	return q
}

// push blocks while the queue is full.
func (q *queue) push(ctx context.Context, stopped <-chan struct{}, line []byte) error {
	buf := q.pool.Get().(*[]byte)
	copy(*buf, line)
	select {
	case q.ch <- buf:
		return nil
	case <-stopped:
		q.pool.Put(buf)
		return ErrStopped
	case <-ctx.Done():
		q.pool.Put(buf)
		return ctx.Err()
	}
}

// pop blocks until a line is available. Once closed is closed, pop returns
// the lines already queued and then reports false instead of blocking.
func (q *queue) pop(ctx context.Context, closed <-chan struct{}) (*[]byte, bool) {
	select {
	case buf := <-q.ch:
		return buf, true
	default:
	}

	select {
	case buf := <-q.ch:
		return buf, true
	case <-closed:
		// pushes made before close are already buffered
		select {
		case buf := <-q.ch:
			return buf, true
		default:
			return nil, false
		}
	case <-ctx.Done():
		return nil, false
	}
}

func (q *queue) release(buf *[]byte) {
	q.pool.Put(buf)
}

// drain discards everything currently queued.
func (q *queue) drain() int {
	n := 0
	for {
		select {
		case buf := <-q.ch:
			q.release(buf)
			n++
		default:
			return n
		}
	}
}

func (q *queue) len() int {
	return len(q.ch)
}
