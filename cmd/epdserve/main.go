package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/chronologos/epdserve/internal/client"
	"github.com/chronologos/epdserve/internal/config"
	"github.com/chronologos/epdserve/internal/display"
	"github.com/chronologos/epdserve/internal/metrics"
	"github.com/chronologos/epdserve/internal/pipeline"
	"github.com/chronologos/epdserve/internal/server"
	"github.com/chronologos/epdserve/internal/transport"
	"github.com/chronologos/epdserve/internal/version"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: epdserve serve [-config file] [-listen addr] [-quic-listen addr] [-metrics-listen addr] [-record file] [-debug]")
	fmt.Fprintln(os.Stderr, "       epdserve send -addr host:port [-quic] [-priority n] [-power] [-budget n] -file payload")
	fmt.Fprintln(os.Stderr, "       epdserve frames -file recording")
	fmt.Fprintln(os.Stderr, "       epdserve version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	args := os.Args[2:]
	switch os.Args[1] {
	case "serve":
		runServe(args)
	case "send":
		runSend(args)
	case "frames":
		runFrames(args)
	case "version", "--version", "-version":
		fmt.Printf("epdserve %s\n", version.String())
	default:
		usage()
		os.Exit(1)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

// newLogger builds a JSON production logger, or a console logger in debug
// mode.
func newLogger(level string, debug bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	listen := fs.String("listen", "", "TCP listen address (default "+config.DefaultListen+")")
	quicListen := fs.String("quic-listen", "", "also accept QUIC on this UDP address")
	metricsListen := fs.String("metrics-listen", "", "serve Prometheus metrics on this address")
	record := fs.String("record", "", "append every drawn frame to this file")
	debug := fs.Bool("debug", false, "debug logging")
	fs.Parse(args)

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fatalf("%v", err)
		}
	}
	// flags override the file
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *quicListen != "" {
		cfg.QUICListen = *quicListen
	}
	if *metricsListen != "" {
		cfg.MetricsListen = *metricsListen
	}
	if *record != "" {
		cfg.RecordPath = *record
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fatalf("invalid configuration: %v", err)
	}

	log, err := newLogger(cfg.LogLevel, *debug)
	if err != nil {
		fatalf("logger: %v", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var ln transport.Listener
	if cfg.QUICListen != "" {
		ln, err = transport.ListenDual(cfg.Listen, cfg.QUICListen, cfg.Backlog)
	} else {
		ln, err = transport.ListenTCP(cfg.Listen, cfg.Backlog)
	}
	if err != nil {
		log.Error("cannot listen", zap.String("addr", cfg.Listen), zap.Error(err))
		os.Exit(1)
	}

	var out io.Writer
	if cfg.RecordPath != "" {
		f, err := os.OpenFile(cfg.RecordPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Error("open recording", zap.Error(err))
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}
	disp := display.NewRecorder(out, log.Named("display"))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	pipe := pipeline.New(cfg.Panel.Pipeline(), disp, m, log.Named("pipeline"))
	srv := server.New(server.Config{
		MaxClients:           cfg.MaxClients,
		PollInterval:         cfg.PollInterval,
		WriteTimeout:         cfg.WriteTimeout,
		RequireActiveForDraw: cfg.RequireActiveForDraw,
	}, ln, pipe, disp, m, log.Named("server"))

	if cfg.MetricsListen != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsListen, reg, log.Named("metrics")); err != nil {
				log.Error("metrics server", zap.Error(err))
			}
		}()
	}

	if err := srv.Run(ctx); err != nil {
		log.Error("server exited", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
}

func runSend(args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	addr := fs.String("addr", "127.0.0.1"+config.DefaultListen, "server address")
	useQUIC := fs.Bool("quic", false, "connect over QUIC instead of TCP")
	priority := fs.Uint("priority", 0, "arbitration priority")
	power := fs.Bool("power", false, "power the panel on before drawing")
	budget := fs.Uint("budget", 0, "per-row time budget (0 = server default)")
	file := fs.String("file", "", "run-length encoded frame payload (required)")
	attempts := fs.Int("attempts", 5, "connection attempts while the server is full")
	timeout := fs.Duration("timeout", 30*time.Second, "overall timeout")
	debug := fs.Bool("debug", false, "debug logging")
	fs.Parse(args)

	if *file == "" {
		fmt.Fprintln(os.Stderr, "error: -file is required")
		fs.Usage()
		os.Exit(1)
	}
	payload, err := os.ReadFile(*file)
	if err != nil {
		fatalf("%v", err)
	}

	level := "info"
	if *debug {
		level = "debug"
	}
	log, err := newLogger(level, true)
	if err != nil {
		fatalf("logger: %v", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	mode := transport.ModeTCP
	if *useQUIC {
		mode = transport.ModeQUIC
	}
	c, err := client.Connect(ctx, client.Config{
		Addr:     *addr,
		Mode:     mode,
		Priority: uint32(*priority),
		Attempts: *attempts,
	}, log)
	if err != nil {
		fatalf("connect: %v", err)
	}
	defer c.Close()
	log.Info("connected", zap.String("addr", *addr), zap.Stringer("transport", mode), zap.Bool("active", c.Active()))

	if *power {
		if err := c.Power(true); err != nil {
			fatalf("power: %v", err)
		}
	}

	began := time.Now()
	if err := c.Draw(ctx, payload, uint32(*budget)); err != nil {
		if errors.Is(err, client.ErrRejected) {
			fatalf("server rejected the frame")
		}
		fatalf("draw: %v", err)
	}
	log.Info("frame drawn", zap.Int("payload_bytes", len(payload)), zap.Duration("elapsed", time.Since(began)))

	if err := c.Goodbye(); err != nil {
		log.Warn("goodbye", zap.Error(err))
	}
}

func runFrames(args []string) {
	fs := flag.NewFlagSet("frames", flag.ExitOnError)
	file := fs.String("file", "", "recording written by serve -record (required)")
	fs.Parse(args)

	if *file == "" {
		fmt.Fprintln(os.Stderr, "error: -file is required")
		fs.Usage()
		os.Exit(1)
	}
	f, err := os.Open(*file)
	if err != nil {
		fatalf("%v", err)
	}
	defer f.Close()

	frames, err := display.ReadFrames(f)
	if err != nil {
		fatalf("read %s: %v", *file, err)
	}
	for _, fr := range frames {
		fmt.Printf("frame %d: %s width=%d rows=%d duration=%v powered=%v\n",
			fr.Seq, fr.Started.Format(time.RFC3339), fr.Width, len(fr.Rows), fr.Duration, fr.Powered)
	}
	fmt.Printf("%d frames\n", len(frames))
}
