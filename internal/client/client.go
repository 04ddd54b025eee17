// Package client is a reference client for the display server. It speaks the
// command protocol over either transport and waits for the server's
// notifications.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/chronologos/epdserve/internal/protocol"
	"github.com/chronologos/epdserve/internal/transport"
)

const (
	reconnectDelay = 1 * time.Second
	helloTimeout   = 5 * time.Second
)

var (
	// ErrRejected is returned when the server answers INVALID.
	ErrRejected = errors.New("command rejected by server")
	// ErrGoodbye is returned when the server closes the session.
	ErrGoodbye = errors.New("server said goodbye")
)

// Config holds client configuration.
type Config struct {
	Addr     string
	Mode     transport.Mode
	Priority uint32
	// Attempts bounds how often Connect retries a server that is full. Zero
	// means one attempt.
	Attempts int
}

// Client is one connection to the server.
type Client struct {
	conn   transport.Conn
	log    *zap.Logger
	active bool
}

// Dial opens a connection without saying hello.
func Dial(ctx context.Context, mode transport.Mode, addr string, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	conn, err := transport.Dial(ctx, mode, addr)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, log: log}, nil
}

// Connect dials and says hello, retrying while the server closes the
// connection without answering (all slots taken). It returns once the server
// has told the client whether it is active.
func Connect(ctx context.Context, cfg Config, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	attempts := max(cfg.Attempts, 1)

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-time.After(reconnectDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		c, err := Dial(ctx, cfg.Mode, cfg.Addr, log)
		if err != nil {
			return nil, err
		}
		helloCtx, cancel := context.WithTimeout(ctx, helloTimeout)
		_, err = c.Hello(helloCtx, cfg.Priority)
		cancel()
		if err == nil {
			return c, nil
		}
		c.Close()
		if !refused(err) {
			return nil, err
		}
		lastErr = err
		log.Info("server full, retrying", zap.Int("attempt", i+1), zap.Error(err))
	}
	return nil, fmt.Errorf("server kept refusing after %d attempts: %w", attempts, lastErr)
}

// refused reports whether err looks like the server closing a connection it
// had no slot for.
func refused(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

// Active reports whether the last arbitration notice granted the panel.
func (c *Client) Active() bool {
	return c.active
}

// Hello announces priority and waits for ACTIVATED or ENQUEUED.
func (c *Client) Hello(ctx context.Context, priority uint32) (protocol.Opcode, error) {
	if err := protocol.WriteCommand(c.conn, &protocol.Hello{Priority: priority}); err != nil {
		return 0, fmt.Errorf("write hello: %w", err)
	}
	return c.Await(ctx, protocol.OpActivated, protocol.OpEnqueued)
}

// Power switches the panel. The server sends no answer.
func (c *Client) Power(on bool) error {
	return protocol.WriteCommand(c.conn, &protocol.Power{On: on})
}

// Draw sends a pre-encoded frame and waits until the panel has shown it.
// A zero budget uses the server's row time.
func (c *Client) Draw(ctx context.Context, payload []byte, budget uint32) error {
	cmd := &protocol.Draw{
		TimeBudget:  budget,
		PayloadSize: uint32(len(payload)),
	}
	if err := protocol.WriteCommand(c.conn, cmd); err != nil {
		return fmt.Errorf("write draw: %w", err)
	}
	if _, err := c.conn.Write(payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	op, err := c.Await(ctx, protocol.OpDrawOK, protocol.OpInvalid)
	if err != nil {
		return err
	}
	if op == protocol.OpInvalid {
		return ErrRejected
	}
	return nil
}

// Goodbye leaves. The server closes the connection without answering.
func (c *Client) Goodbye() error {
	return protocol.WriteCommand(c.conn, &protocol.Goodbye{})
}

// Next reads the next notification, honouring ctx's deadline and
// cancellation.
func (c *Client) Next(ctx context.Context) (protocol.Opcode, error) {
	c.conn.SetReadDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	op, err := protocol.ReadOpcode(c.conn)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			// a cancellation hook from an earlier call fired late
			return 0, context.DeadlineExceeded
		}
		return 0, err
	}
	switch op {
	case protocol.OpActivated:
		c.active = true
	case protocol.OpEnqueued:
		c.active = false
	}
	return op, nil
}

// Await reads notifications until one of want arrives. Arbitration changes
// seen on the way are recorded; GOODBYE_ACK ends the wait with ErrGoodbye.
func (c *Client) Await(ctx context.Context, want ...protocol.Opcode) (protocol.Opcode, error) {
	for {
		op, err := c.Next(ctx)
		if err != nil {
			return 0, err
		}
		for _, w := range want {
			if op == w {
				return op, nil
			}
		}
		if op == protocol.OpGoodbyeAck {
			return op, ErrGoodbye
		}
		c.log.Debug("notification", zap.Stringer("op", op))
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
