package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/Nuand/bladeRF-sub005/config"
	"github.com/Nuand/bladeRF-sub005/device"
	"github.com/Nuand/bladeRF-sub005/metrics"
	"github.com/Nuand/bladeRF-sub005/pkg"
	"github.com/Nuand/bladeRF-sub005/pkg/prof"
)

// shutdownTimeout bounds the metrics server shutdown.
const shutdownTimeout = time.Second

func run(ctx context.Context, args []string, stdout io.Writer) (err error) {
	opts, err := parseArgs(args, os.Stderr)
	if err != nil {
		return err
	}
	cfg, err := opts.config()
	if err != nil {
		return err
	}
	if err := setupLogging(cfg.Log, opts.tui); err != nil {
		return err
	}

	session, err := prof.Start(opts.prof)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, session.Stop()) }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	col := metrics.New(reg)
	if cfg.Metrics != "" {
		stop, err := serveMetrics(cfg.Metrics, reg)
		if err != nil {
			return err
		}
		defer stop()
	}

	h, closer, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closer.Close()) }()

	dev, err := device.Open(h, device.Options{Metrics: col})
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, dev.Close()) }()

	st := &stats{}
	start := time.Now()
	if err := streams(ctx, dev, cfg, opts, st); err != nil {
		return err
	}

	elapsed := time.Since(start).Round(time.Millisecond)
	fmt.Fprintf(stdout, "rx %d samples, tx %d samples, %d discontinuities in %s\n",
		st.rxSamples.Load(), st.txSamples.Load(), st.discontinuities.Load(), elapsed)
	return nil
}

// streams configures and runs the requested directions until they finish,
// ctx is done or the TUI quits.
func streams(ctx context.Context, dev *device.Device, cfg config.Config, opts options, st *stats) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rx := opts.mode == modeRX || opts.mode == modeLoopback
	tx := opts.mode == modeTX || opts.mode == modeLoopback

	g, gctx := errgroup.WithContext(ctx)
	if rx {
		if err := syncConfig(dev, cfg.RX); err != nil {
			return err
		}
		w := io.Discard
		if opts.output != "" {
			f, err := os.Create(opts.output)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		g.Go(func() error {
			return receive(gctx, dev, cfg.RX, opts.samples, opts.timeout, w, st)
		})
	}
	if tx {
		if err := syncConfig(dev, cfg.TX); err != nil {
			return err
		}
		var r io.Reader
		if opts.input != "" {
			f, err := os.Open(opts.input)
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}
		g.Go(func() error {
			return transmit(gctx, dev, cfg.TX, opts.samples, opts.timeout, r, st)
		})
	}

	if opts.tui {
		p := tea.NewProgram(newTUIModel(cfg, opts.mode, dev.Speed(), st), tea.WithContext(ctx))
		go func() {
			_ = g.Wait()
			p.Quit()
		}()
		if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			pkg.LogWarn(pkg.ComponentCLI, "tui failed", "error", err)
		}
		cancel()
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func syncConfig(dev *device.Device, s config.Stream) error {
	return dev.SyncConfig(s.Layout, s.Format, s.NumBuffers, s.BufferSize, s.NumTransfers, s.Timeout)
}

// setupLogging applies the log configuration. The TUI owns the terminal, so
// logs are limited to errors while it runs.
func setupLogging(l config.Log, tui bool) error {
	level, err := l.SlogLevel()
	if err != nil {
		return err
	}
	if tui {
		level = max(level, slog.LevelError)
	}
	pkg.SetLogLevel(level)
	if l.JSON {
		pkg.SetLogFormat(pkg.LogFormatJSON)
	} else {
		pkg.SetLogFormat(pkg.LogFormatText)
	}
	return nil
}

// serveMetrics serves reg and the profiling endpoints on addr. The returned
// function shuts the server down.
func serveMetrics(addr string, reg *prometheus.Registry) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("/debug/pprof/", prof.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			pkg.LogError(pkg.ComponentCLI, "metrics server failed", "error", err)
		}
	}()
	pkg.LogInfo(pkg.ComponentCLI, "serving metrics", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			pkg.LogWarn(pkg.ComponentCLI, "metrics server shutdown", "error", err)
		}
	}, nil
}
