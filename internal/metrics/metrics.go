// Package metrics exposes the server's Prometheus instrumentation.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "epdserve"

// Metrics holds every collector. Create one per registry.
type Metrics struct {
	ConnectionsAccepted prometheus.Counter
	ConnectionsRejected prometheus.Counter
	ConnectedClients    prometheus.Gauge
	Commands            *prometheus.CounterVec // by tag
	Notifications       *prometheus.CounterVec // by opcode
	ActiveChanges       prometheus.Counter

	Frames        *prometheus.CounterVec // by result
	FrameDuration prometheus.Histogram
	PayloadBytes  prometheus.Counter
	RowsOutput    prometheus.Counter
	RowsDropped   prometheus.Counter
	QueueDepth    prometheus.Gauge
}

// Frame results.
const (
	FrameOK      = "ok"
	FrameFailed  = "failed"
	FrameShort   = "short"
	FrameInvalid = "invalid"
)

// New registers all collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ConnectionsAccepted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "server", Name: "connections_accepted_total",
			Help: "Client connections assigned to a slot.",
		}),
		ConnectionsRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "server", Name: "connections_rejected_total",
			Help: "Client connections closed because every slot was taken.",
		}),
		ConnectedClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "server", Name: "connected_clients",
			Help: "Occupied client slots.",
		}),
		Commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "server", Name: "commands_total",
			Help: "Commands received, by tag.",
		}, []string{"tag"}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "server", Name: "notifications_total",
			Help: "Notifications sent to clients, by opcode.",
		}, []string{"opcode"}),
		ActiveChanges: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "server", Name: "active_client_changes_total",
			Help: "Times the active client changed.",
		}),
		Frames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "frames_total",
			Help: "Draw transfers, by result.",
		}, []string{"result"}),
		FrameDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "frame_duration_seconds",
			Help:    "Time from transfer start to the end of the display frame.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 8),
		}),
		PayloadBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "payload_bytes_total",
			Help: "Draw payload bytes received.",
		}),
		RowsOutput: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "rows_output_total",
			Help: "Scanlines handed to the display.",
		}),
		RowsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "rows_dropped_total",
			Help: "Decoded scanlines beyond the panel height.",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "queue_depth",
			Help: "Scanlines waiting for the display feeder.",
		}),
	}
}

// Serve exposes g on addr under /metrics until ctx is cancelled.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, log *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("metrics listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
