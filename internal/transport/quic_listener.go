package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

// streamAcceptTimeout bounds how long an accepted QUIC connection may take to
// open its stream. QUIC only announces a stream with its first write.
const streamAcceptTimeout = 5 * time.Second

func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:    30 * time.Second,
		KeepAlivePeriod:   10 * time.Second,
		InitialPacketSize: 1200, // fits the IPv6 minimum MTU; panel hosts sit on small wifi links
	}
}

// quicListener accepts QUIC connections carrying one client stream each.
type quicListener struct {
	udp *net.UDPConn
	tr  *quic.Transport
	ln  *quic.Listener
}

// ListenQUIC creates a QUIC listener on addr with an ephemeral self-signed
// certificate.
func ListenQUIC(addr string) (Listener, error) {
	cert, err := ephemeralCert()
	if err != nil {
		return nil, fmt.Errorf("generate TLS cert: %w", err)
	}
	return listenQUIC(addr, cert)
}

func listenQUIC(addr string, cert tls.Certificate) (*quicListener, error) {
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	udpConn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen UDP: %w", err)
	}

	tr := &quic.Transport{Conn: udpConn}
	ln, err := tr.Listen(serverTLS(cert), quicConfig())
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("QUIC listen: %w", err)
	}

	return &quicListener{udp: udpConn, tr: tr, ln: ln}, nil
}

// Addr returns the bound UDP address.
func (l *quicListener) Addr() net.Addr {
	return l.ln.Addr()
}

// Accept waits for a connection and its first stream.
func (l *quicListener) Accept(ctx context.Context) (Conn, error) {
	qconn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, fmt.Errorf("accept QUIC connection: %w", err)
	}

	streamCtx, cancel := context.WithTimeout(ctx, streamAcceptTimeout)
	defer cancel()
	stream, err := qconn.AcceptStream(streamCtx)
	if err != nil {
		qconn.CloseWithError(1, "no stream")
		return nil, fmt.Errorf("accept stream: %w", err)
	}

	return &quicConn{qconn: qconn, stream: stream}, nil
}

// Close shuts down the listener, the transport and its UDP socket.
func (l *quicListener) Close() error {
	l.ln.Close()
	l.tr.Close()
	return l.udp.Close()
}
