package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/quic-go/quic-go"
)

// Dial connects to a server over the given transport.
func Dial(ctx context.Context, mode Mode, addr string) (Conn, error) {
	switch mode {
	case ModeTCP:
		return dialTCP(ctx, addr)
	case ModeQUIC:
		return dialQUIC(ctx, addr)
	default:
		return nil, fmt.Errorf("unsupported transport %v", mode)
	}
}

func dialTCP(ctx context.Context, addr string) (Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp4", addr)
	if err != nil {
		return nil, fmt.Errorf("TCP dial: %w", err)
	}
	return conn, nil
}

func dialQUIC(ctx context.Context, addr string) (Conn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}

	// Use a fresh UDP socket for the client
	udpConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		return nil, fmt.Errorf("listen UDP: %w", err)
	}

	tr := &quic.Transport{Conn: udpConn}
	qconn, err := tr.Dial(ctx, udpAddr, clientTLS(), quicConfig())
	if err != nil {
		tr.Close()
		udpConn.Close()
		return nil, fmt.Errorf("QUIC dial: %w", err)
	}

	// The server sees the stream with the client's first write.
	stream, err := qconn.OpenStreamSync(ctx)
	if err != nil {
		qconn.CloseWithError(1, "open stream")
		tr.Close()
		udpConn.Close()
		return nil, fmt.Errorf("open stream: %w", err)
	}

	return &quicConn{qconn: qconn, stream: stream, tr: tr, udp: udpConn}, nil
}
