package transport

import (
	"context"
	"errors"
	"net"

	"github.com/quic-go/quic-go"
)

// dualListener accepts from a TCP and a QUIC listener at once. Accept returns
// whichever connection arrives first.
type dualListener struct {
	tcp  Listener
	quic Listener

	// connCh receives connections from both accept loops.
	connCh chan acceptRes
	// cancel stops both accept loops on Close.
	cancel context.CancelFunc
}

type acceptRes struct {
	conn Conn
	err  error
}

// ListenDual binds TCP on tcpAddr and QUIC on quicAddr.
func ListenDual(tcpAddr, quicAddr string, backlog int) (Listener, error) {
	tl, err := ListenTCP(tcpAddr, backlog)
	if err != nil {
		return nil, err
	}
	ql, err := ListenQUIC(quicAddr)
	if err != nil {
		tl.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	dl := &dualListener{
		tcp:    tl,
		quic:   ql,
		connCh: make(chan acceptRes, 4),
		cancel: cancel,
	}

	go dl.acceptLoop(ctx, dl.tcp)
	go dl.acceptLoop(ctx, dl.quic)

	return dl, nil
}

// acceptLoop forwards connections until its listener fails. QUIC accept
// errors for a single connection (no stream opened in time) are forwarded
// and the loop continues.
func (dl *dualListener) acceptLoop(ctx context.Context, ln Listener) {
	for {
		conn, err := ln.Accept(ctx)
		select {
		case dl.connCh <- acceptRes{conn: conn, err: err}:
		case <-ctx.Done():
			if conn != nil {
				conn.Close()
			}
			return
		}
		if err != nil && (ctx.Err() != nil || errors.Is(err, net.ErrClosed) || errors.Is(err, quic.ErrServerClosed)) {
			return
		}
	}
}

// Accept returns the next connection from either transport.
func (dl *dualListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case res := <-dl.connCh:
		return res.conn, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Addr returns the TCP address.
func (dl *dualListener) Addr() net.Addr {
	return dl.tcp.Addr()
}

// QUICAddr returns the QUIC address.
func (dl *dualListener) QUICAddr() net.Addr {
	return dl.quic.Addr()
}

// Close shuts down both listeners.
func (dl *dualListener) Close() error {
	dl.cancel()
	return errors.Join(dl.tcp.Close(), dl.quic.Close())
}
