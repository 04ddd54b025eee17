package transport

import (
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

// closeLinger is how long Close leaves the connection open so the peer can
// read what was written last. CONNECTION_CLOSE discards unacknowledged
// stream data.
const closeLinger = 100 * time.Millisecond

// quicConn carries a client's byte stream over a single bidirectional QUIC
// stream.
type quicConn struct {
	qconn     *quic.Conn
	stream    *quic.Stream
	tr        *quic.Transport // dialing side only
	udp       *net.UDPConn    // dialing side only
	closeOnce sync.Once
}

func (c *quicConn) Read(p []byte) (int, error) {
	return c.stream.Read(p)
}

func (c *quicConn) Write(p []byte) (int, error) {
	return c.stream.Write(p)
}

func (c *quicConn) RemoteAddr() net.Addr {
	return c.qconn.RemoteAddr()
}

func (c *quicConn) SetReadDeadline(t time.Time) error {
	return c.stream.SetReadDeadline(t)
}

func (c *quicConn) SetWriteDeadline(t time.Time) error {
	return c.stream.SetWriteDeadline(t)
}

// Close finishes the stream and closes the connection once the peer has had
// closeLinger to drain it.
func (c *quicConn) Close() error {
	c.closeOnce.Do(func() {
		c.stream.CancelRead(0)
		c.stream.Close()
		go func() {
			select {
			case <-c.qconn.Context().Done():
			case <-time.After(closeLinger):
			}
			c.qconn.CloseWithError(0, "closed")
			if c.tr != nil {
				c.tr.Close()
				c.udp.Close()
			}
		}()
	})
	return nil
}
