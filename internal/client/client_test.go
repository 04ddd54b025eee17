package client

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/chronologos/epdserve/internal/protocol"
	"github.com/chronologos/epdserve/internal/transport"
)

// setupFakeServer listens on loopback and runs script on every accepted
// connection, in order.
func setupFakeServer(t *testing.T, scripts ...func(net.Conn)) (addr string, cleanup func()) {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, script := range scripts {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			script(conn)
		}
	}()

	return ln.Addr().String(), func() {
		ln.Close()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("fake server did not finish")
		}
	}
}

func expectCommand(t *testing.T, conn net.Conn) protocol.Command {
	t.Helper()
	cmd, err := protocol.ReadCommand(conn)
	if err != nil {
		t.Errorf("read command: %v", err)
		return nil
	}
	return cmd
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestConnectActivated(t *testing.T) {
	addr, cleanup := setupFakeServer(t, func(conn net.Conn) {
		defer conn.Close()
		cmd := expectCommand(t, conn)
		assert.Equal(t, &protocol.Hello{Priority: 9}, cmd)
		protocol.WriteOpcode(conn, protocol.OpActivated)
		expectCommand(t, conn) // goodbye
	})
	defer cleanup()

	c, err := Connect(testCtx(t), Config{Addr: addr, Priority: 9}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer c.Close()
	assert.True(t, c.Active())
	require.NoError(t, c.Goodbye())
}

func TestDrawWaitsForDrawOK(t *testing.T) {
	payload := []byte{1, 2, 0xFF, 4, 3}
	addr, cleanup := setupFakeServer(t, func(conn net.Conn) {
		defer conn.Close()
		expectCommand(t, conn)
		protocol.WriteOpcode(conn, protocol.OpEnqueued)

		cmd, ok := expectCommand(t, conn).(*protocol.Draw)
		if !assert.True(t, ok) {
			return
		}
		assert.Equal(t, uint32(len(payload)), cmd.PayloadSize)
		assert.Equal(t, uint32(60), cmd.TimeBudget)
		got := make([]byte, cmd.PayloadSize)
		_, err := io.ReadFull(conn, got)
		assert.NoError(t, err)
		assert.Equal(t, payload, got)

		// an arbitration change may arrive before the draw result
		protocol.WriteOpcode(conn, protocol.OpActivated)
		protocol.WriteOpcode(conn, protocol.OpDrawOK)
	})
	defer cleanup()

	ctx := testCtx(t)
	c, err := Connect(ctx, Config{Addr: addr}, nil)
	require.NoError(t, err)
	defer c.Close()
	assert.False(t, c.Active())

	require.NoError(t, c.Draw(ctx, payload, 60))
	assert.True(t, c.Active())
}

func TestDrawRejected(t *testing.T) {
	addr, cleanup := setupFakeServer(t, func(conn net.Conn) {
		defer conn.Close()
		expectCommand(t, conn)
		protocol.WriteOpcode(conn, protocol.OpActivated)
		cmd, ok := expectCommand(t, conn).(*protocol.Draw)
		if !ok {
			return
		}
		io.CopyN(io.Discard, conn, int64(cmd.PayloadSize))
		protocol.WriteOpcode(conn, protocol.OpInvalid)
	})
	defer cleanup()

	ctx := testCtx(t)
	c, err := Connect(ctx, Config{Addr: addr}, nil)
	require.NoError(t, err)
	defer c.Close()

	assert.ErrorIs(t, c.Draw(ctx, []byte{0xFF}, 0), ErrRejected)
}

func TestAwaitStopsOnGoodbye(t *testing.T) {
	addr, cleanup := setupFakeServer(t, func(conn net.Conn) {
		defer conn.Close()
		protocol.WriteOpcode(conn, protocol.OpGoodbyeAck)
	})
	defer cleanup()

	ctx := testCtx(t)
	c, err := Dial(ctx, transport.ModeTCP, addr, nil)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Await(ctx, protocol.OpDrawOK)
	assert.ErrorIs(t, err, ErrGoodbye)
}

func TestConnectRetriesWhileFull(t *testing.T) {
	addr, cleanup := setupFakeServer(t,
		func(conn net.Conn) { conn.Close() }, // no free slot
		func(conn net.Conn) {
			defer conn.Close()
			expectCommand(t, conn)
			protocol.WriteOpcode(conn, protocol.OpActivated)
		},
	)
	defer cleanup()

	c, err := Connect(testCtx(t), Config{Addr: addr, Attempts: 3}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer c.Close()
	assert.True(t, c.Active())
}

func TestConnectGivesUp(t *testing.T) {
	addr, cleanup := setupFakeServer(t, func(conn net.Conn) { conn.Close() })
	defer cleanup()

	_, err := Connect(testCtx(t), Config{Addr: addr, Attempts: 1}, nil)
	assert.Error(t, err)
}

func TestNextHonoursDeadline(t *testing.T) {
	release := make(chan struct{})
	addr, cleanup := setupFakeServer(t, func(conn net.Conn) {
		defer conn.Close()
		<-release
	})
	defer cleanup()
	defer close(release)

	c, err := Dial(testCtx(t), transport.ModeTCP, addr, nil)
	require.NoError(t, err)
	defer c.Close()

	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		_, err = c.Next(ctx)
		cancel()
		assert.True(t, errors.Is(err, context.DeadlineExceeded), "attempt %d: got %v", i, err)
	}
}

func TestNextHonoursCancel(t *testing.T) {
	release := make(chan struct{})
	addr, cleanup := setupFakeServer(t, func(conn net.Conn) {
		defer conn.Close()
		<-release
		protocol.WriteOpcode(conn, protocol.OpDrawOK)
	})
	defer cleanup()

	c, err := Dial(testCtx(t), transport.ModeTCP, addr, nil)
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err = c.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	// a cancelled read leaves the connection usable
	close(release)
	op, err := c.Next(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, protocol.OpDrawOK, op)
}
