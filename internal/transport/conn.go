// Package transport provides the byte streams clients use to reach the
// server: plain TCP with an explicit accept backlog, and optionally QUIC with
// one bidirectional stream per client.
package transport

import (
	"context"
	"io"
	"net"
	"time"
)

// Mode selects which transport to use when dialing.
type Mode int

const (
	ModeTCP Mode = iota
	ModeQUIC
)

func (m Mode) String() string {
	switch m {
	case ModeTCP:
		return "TCP"
	case ModeQUIC:
		return "QUIC"
	default:
		return "unknown"
	}
}

// Conn is one client's byte stream. A *net.TCPConn satisfies it directly.
type Conn interface {
	io.ReadWriteCloser
	RemoteAddr() net.Addr
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Listener accepts client connections.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Addr() net.Addr
	Close() error
}
