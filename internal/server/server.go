// Package server is the connection-serving side of the display server: it
// owns the client slots, assembles commands, arbitrates which client holds
// the panel, and runs Draw transfers through the pipeline.
//
// All server state belongs to the goroutine running Run. Per-client reader
// goroutines only assemble command records; after posting one they wait until
// the loop has handled it, which lets the loop read a Draw payload from the
// same connection inline.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chronologos/epdserve/internal/display"
	"github.com/chronologos/epdserve/internal/metrics"
	"github.com/chronologos/epdserve/internal/pipeline"
	"github.com/chronologos/epdserve/internal/protocol"
	"github.com/chronologos/epdserve/internal/transport"
)

// Config holds server settings.
type Config struct {
	MaxClients   int
	PollInterval time.Duration // housekeeping tick
	WriteTimeout time.Duration // per notification write

	// RequireActiveForDraw answers Draw from a client that is not active
	// with INVALID after discarding its payload.
	RequireActiveForDraw bool
}

// slot is one connected client. A slot value lives for exactly one
// connection; s.slots[id] == sl tells whether it is still current.
type slot struct {
	id     int
	conn   transport.Conn
	connID string
	framer Framer
	resume chan struct{} // loop -> reader: command handled, read the next
	done   chan struct{} // closed on removal
}

// commandEvent is a complete record or a read error from a slot's reader.
type commandEvent struct {
	slot *slot
	rec  [protocol.CommandSize]byte
	err  error
}

// Server multiplexes up to MaxClients connections onto one display.
type Server struct {
	cfg     Config
	ln      transport.Listener
	pipe    *pipeline.Pipeline
	disp    display.Display
	log     *zap.Logger
	metrics *metrics.Metrics

	slots   []*slot
	arb     *Arbiter
	closing bool

	// Ready is closed once Run has started the feeder and the accept loop.
	Ready chan struct{}
}

// New creates a server accepting from ln. pipe must feed disp; Run starts
// pipe's feeder.
func New(cfg Config, ln transport.Listener, pipe *pipeline.Pipeline, disp display.Display, m *metrics.Metrics, log *zap.Logger) *Server {
	return &Server{
		cfg:     cfg,
		ln:      ln,
		pipe:    pipe,
		disp:    disp,
		log:     log,
		metrics: m,
		slots:   make([]*slot, cfg.MaxClients),
		arb:     NewArbiter(cfg.MaxClients),
		Ready:   make(chan struct{}),
	}
}

// Addr returns the listener's address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Run serves until ctx is cancelled, then says goodbye to every client and
// closes the listener. It returns an error only if the display feeder fails
// or the listener stops accepting.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	defer func() {
		s.shutdown()
		s.ln.Close()
	}()

	// --- Permanent goroutines ---

	feederDone := make(chan error, 1)
	go func() { feederDone <- s.pipe.Run(ctx) }()

	acceptCh := make(chan acceptResult, 1)
	go s.acceptLoop(ctx, acceptCh)

	s.log.Info("serving",
		zap.Stringer("addr", s.ln.Addr()),
		zap.Int("max_clients", s.cfg.MaxClients))
	close(s.Ready)

	// --- Event loop ---

	events := make(chan commandEvent, s.cfg.MaxClients)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case res := <-acceptCh:
			if res.err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if errors.Is(res.err, net.ErrClosed) {
					return fmt.Errorf("listener closed: %w", res.err)
				}
				// Accept errors are usually transient; keep accepting.
				s.log.Warn("accept error", zap.Error(res.err))
			} else {
				s.handleNewConn(res.conn, events)
			}
			// Re-arm accept loop
			go s.acceptLoop(ctx, acceptCh)

		case ev := <-events:
			s.handleCommand(ctx, ev)

		case <-ticker.C:
			s.housekeeping()

		case err := <-feederDone:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("display feeder: %w", err)

		case <-ctx.Done():
			return nil
		}
	}
}

// acceptResult carries the result of a single Accept call.
type acceptResult struct {
	conn transport.Conn
	err  error
}

// acceptLoop calls Accept once and sends the result. The main loop re-arms
// it after processing the result.
func (s *Server) acceptLoop(ctx context.Context, ch chan<- acceptResult) {
	conn, err := s.ln.Accept(ctx)
	select {
	case ch <- acceptResult{conn: conn, err: err}:
	case <-ctx.Done():
		if conn != nil {
			conn.Close()
		}
	}
}

// handleNewConn assigns conn to a free slot or closes it.
func (s *Server) handleNewConn(conn transport.Conn, events chan<- commandEvent) {
	id := s.freeSlot()
	if id < 0 {
		s.metrics.ConnectionsRejected.Inc()
		s.log.Warn("no free slot, closing connection", zap.Stringer("remote", conn.RemoteAddr()))
		conn.Close()
		return
	}

	sl := &slot{
		id:     id,
		conn:   conn,
		connID: uuid.NewString(),
		resume: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	s.slots[id] = sl
	s.metrics.ConnectionsAccepted.Inc()
	s.metrics.ConnectedClients.Set(float64(s.connected()))
	s.slotLog(sl).Info("client connected", zap.Stringer("remote", conn.RemoteAddr()))

	go readCommands(sl, events)
}

// readCommands assembles records from sl's connection and posts each one,
// then waits for the loop before reading on. Exits on the first read error
// or when the slot is removed.
func readCommands(sl *slot, ch chan<- commandEvent) {
	for {
		var err error
		for complete := false; !complete && err == nil; {
			complete, err = sl.framer.Fill(sl.conn)
		}

		ev := commandEvent{slot: sl, err: err}
		if err == nil {
			ev.rec = sl.framer.Take()
		}
		select {
		case ch <- ev:
		case <-sl.done:
			return
		}
		if err != nil {
			return
		}

		select {
		case <-sl.resume:
		case <-sl.done:
			return
		}
	}
}

func (s *Server) freeSlot() int {
	for i, sl := range s.slots {
		if sl == nil {
			return i
		}
	}
	return -1
}

func (s *Server) connected() int {
	n := 0
	for _, sl := range s.slots {
		if sl != nil {
			n++
		}
	}
	return n
}

func (s *Server) current(sl *slot) bool {
	return s.slots[sl.id] == sl
}

func (s *Server) housekeeping() {
	connected := s.connected()
	s.metrics.ConnectedClients.Set(float64(connected))
	s.metrics.QueueDepth.Set(float64(s.pipe.QueueLen()))
	s.log.Debug("housekeeping",
		zap.Int("connected", connected),
		zap.Int("active", s.arb.Active()),
		zap.Int("queued_rows", s.pipe.QueueLen()))
}

// shutdown removes every client with a goodbye.
func (s *Server) shutdown() {
	s.closing = true
	for _, sl := range s.slots {
		if sl != nil {
			s.remove(sl, true)
		}
	}
	s.metrics.ConnectedClients.Set(0)
	s.log.Info("server stopped")
}

func (s *Server) slotLog(sl *slot) *zap.Logger {
	return s.log.With(zap.Int("slot", sl.id), zap.String("conn_id", sl.connID))
}
