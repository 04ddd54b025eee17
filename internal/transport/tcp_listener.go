package transport

import (
	"context"
	"fmt"
	"net"
)

// tcpListener accepts plain TCP connections.
type tcpListener struct {
	ln net.Listener
}

// ListenTCP binds addr with the given accept backlog.
func ListenTCP(addr string, backlog int) (Listener, error) {
	ln, err := listenBacklog(addr, backlog)
	if err != nil {
		return nil, fmt.Errorf("TCP listen %s: %w", addr, err)
	}
	return &tcpListener{ln: ln}, nil
}

// Addr returns the bound address.
func (l *tcpListener) Addr() net.Addr {
	return l.ln.Addr()
}

// Accept waits for the next TCP connection.
func (l *tcpListener) Accept(ctx context.Context) (Conn, error) {
	// Use a channel so we can respect context cancellation
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := l.ln.Accept()
		ch <- result{conn, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("accept TCP connection: %w", res.err)
		}
		if tc, ok := res.conn.(*net.TCPConn); ok {
			tc.SetNoDelay(true)
		}
		return res.conn, nil
	case <-ctx.Done():
		// The goroutine stays blocked in Accept until the caller closes the
		// listener. A connection that slips through before then is closed.
		go func() {
			res := <-ch
			if res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// Close shuts down the TCP listener.
func (l *tcpListener) Close() error {
	return l.ln.Close()
}
