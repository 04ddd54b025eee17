package server

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/chronologos/epdserve/internal/pipeline"
	"github.com/chronologos/epdserve/internal/protocol"
)

// handleCommand processes one event from a slot's reader.
func (s *Server) handleCommand(ctx context.Context, ev commandEvent) {
	sl := ev.slot
	// Discard events from removed connections
	if !s.current(sl) {
		return
	}
	log := s.slotLog(sl)

	if ev.err != nil {
		if errors.Is(ev.err, io.EOF) {
			log.Info("client disconnected")
		} else {
			log.Warn("read error", zap.Error(ev.err))
		}
		s.remove(sl, false)
		return
	}

	cmd, err := protocol.DecodeCommand(ev.rec[:])
	if err != nil {
		s.metrics.Commands.WithLabelValues("unknown").Inc()
		log.Warn("invalid command", zap.Error(err))
		s.notify(sl, protocol.OpInvalid)
		s.resume(sl)
		return
	}
	s.metrics.Commands.WithLabelValues(cmd.Tag().String()).Inc()

	switch c := cmd.(type) {
	case *protocol.Hello:
		log.Info("hello", zap.Uint32("priority", c.Priority))
		prev := s.arb.Active()
		s.apply(prev, s.arb.Hello(sl.id, c.Priority))

	case *protocol.Draw:
		s.handleDraw(ctx, sl, c)

	case *protocol.Power:
		log.Info("power", zap.Bool("on", c.On))
		if c.On {
			s.disp.PowerOn()
		} else {
			s.disp.PowerOff()
		}

	case *protocol.Goodbye:
		log.Info("goodbye")
		s.remove(sl, false)
		return
	}

	s.resume(sl)
}

// resume lets sl's reader assemble the next command.
func (s *Server) resume(sl *slot) {
	if !s.current(sl) {
		return
	}
	select {
	case sl.resume <- struct{}{}:
	default:
	}
}

// handleDraw runs a frame transfer reading the payload from sl's connection.
func (s *Server) handleDraw(ctx context.Context, sl *slot, cmd *protocol.Draw) {
	log := s.slotLog(sl).With(zap.Uint32("payload_size", cmd.PayloadSize))

	// A client that stalls mid-payload must not hold up shutdown.
	stop := context.AfterFunc(ctx, func() { sl.conn.Close() })
	defer stop()

	if s.cfg.RequireActiveForDraw && s.arb.Active() != sl.id {
		log.Warn("draw from inactive client rejected", zap.Int("active", s.arb.Active()))
		if _, err := io.CopyN(io.Discard, sl.conn, int64(cmd.PayloadSize)); err != nil {
			log.Warn("discard payload", zap.Error(err))
			s.remove(sl, false)
			return
		}
		s.notify(sl, protocol.OpInvalid)
		return
	}

	began := time.Now()
	err := s.pipe.Draw(ctx, cmd, sl.conn)
	switch {
	case err == nil:
		log.Info("frame drawn", zap.Duration("elapsed", time.Since(began)))
		s.notify(sl, protocol.OpDrawOK)
	case errors.Is(err, pipeline.ErrMalformedFrame), errors.Is(err, pipeline.ErrShortFrame):
		s.notify(sl, protocol.OpInvalid)
	case errors.Is(err, pipeline.ErrTransfer):
		s.remove(sl, false)
	default:
		// cancelled or feeder gone; Run is about to return
		log.Warn("draw aborted", zap.Error(err))
	}
}

// apply delivers arbitration notices. prev is the active slot before the
// transition that produced them.
func (s *Server) apply(prev int, notices []Notice) {
	if active := s.arb.Active(); active != prev {
		s.metrics.ActiveChanges.Inc()
		s.log.Info("active client changed", zap.Int("from", prev), zap.Int("to", active))
	}
	if s.closing {
		return
	}
	for _, n := range notices {
		if sl := s.slots[n.Slot]; sl != nil {
			s.notify(sl, n.Op)
		}
	}
}

// notify writes op to sl. A failed write removes sl without notification.
func (s *Server) notify(sl *slot, op protocol.Opcode) {
	if !s.current(sl) {
		return
	}
	if err := s.write(sl, op); err != nil {
		s.slotLog(sl).Warn("notify failed", zap.Stringer("op", op), zap.Error(err))
		s.remove(sl, false)
	}
}

func (s *Server) write(sl *slot, op protocol.Opcode) error {
	sl.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := protocol.WriteOpcode(sl.conn, op); err != nil {
		return err
	}
	s.metrics.Notifications.WithLabelValues(op.String()).Inc()
	return nil
}

// remove tears down sl. With notify, a goodbye is attempted first and its
// failure ignored. If sl was active the best remaining client is promoted;
// a failed promotion notice removes that client in turn, which ends because
// every call frees a slot.
func (s *Server) remove(sl *slot, notify bool) {
	if !s.current(sl) {
		return
	}
	log := s.slotLog(sl)
	if notify {
		if err := s.write(sl, protocol.OpGoodbyeAck); err != nil {
			log.Debug("goodbye not delivered", zap.Error(err))
		}
	}

	s.slots[sl.id] = nil
	close(sl.done)
	sl.conn.Close()
	s.metrics.ConnectedClients.Set(float64(s.connected()))
	log.Info("client removed")

	prev := s.arb.Active()
	s.apply(prev, s.arb.Remove(sl.id))
}
