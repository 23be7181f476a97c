package main

import (
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/Nuand/bladeRF-sub005/config"
	"github.com/Nuand/bladeRF-sub005/hal"
	"github.com/Nuand/bladeRF-sub005/pkg"
	"github.com/Nuand/bladeRF-sub005/pkg/prof"
)

// Modes.
const (
	modeRX       = "rx"
	modeTX       = "tx"
	modeLoopback = "loopback"
)

// options holds the parsed command line.
type options struct {
	mode       string
	configPath string
	backend    string
	device     string
	format     string
	samples    uint64
	output     string
	input      string
	metrics    string
	timeout    time.Duration
	tui        bool
	verbose    bool
	json       bool
	prof       prof.Options
}

func parseArgs(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("bladestream", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: bladestream [flags] rx|tx|loopback")
		fs.PrintDefaults()
	}

	fs.StringVar(&o.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&o.backend, "backend", "", "backend: sim, fifo, usbfs or libusb (overrides config)")
	fs.StringVar(&o.device, "device", "", "FIFO stream directory or usbfs node (overrides config)")
	fs.StringVar(&o.format, "format", "", "sample format, e.g. sc16q11_meta (overrides config)")
	fs.Uint64Var(&o.samples, "n", 0, "samples to stream per direction (0 = until interrupted)")
	fs.StringVar(&o.output, "o", "", "write received samples to this file")
	fs.StringVar(&o.input, "i", "", "transmit samples from this file instead of a ramp")
	fs.StringVar(&o.metrics, "metrics", "", "serve Prometheus metrics on this address (overrides config)")
	fs.DurationVar(&o.timeout, "timeout", 5*time.Second, "timeout of each sync call")
	fs.BoolVar(&o.tui, "tui", false, "show live stream counters")
	fs.BoolVar(&o.verbose, "v", false, "enable debug logging")
	fs.BoolVar(&o.json, "json", false, "log in JSON")
	fs.StringVar(&o.prof.CPU, "cpuprofile", "", "write a CPU profile (needs -tags profile)")
	fs.StringVar(&o.prof.Heap, "memprofile", "", "write a heap profile on exit (needs -tags profile)")
	fs.StringVar(&o.prof.Mutex, "mutexprofile", "", "write a mutex profile on exit (needs -tags profile)")

	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return o, fmt.Errorf("expected one mode, got %d arguments: %w", fs.NArg(), pkg.ErrInval)
	}

	o.mode = fs.Arg(0)
	switch o.mode {
	case modeRX, modeTX, modeLoopback:
	default:
		return o, fmt.Errorf("mode %q: %w", o.mode, pkg.ErrInval)
	}
	return o, nil
}

// config loads the configuration document and applies flag overrides.
func (o options) config() (config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return cfg, err
		}
	}

	if o.backend != "" {
		cfg.Backend = config.Backend(o.backend)
	}
	if o.device != "" {
		cfg.Device.Path = o.device
	}
	if o.format != "" {
		f, err := hal.ParseFormat(o.format)
		if err != nil {
			return cfg, err
		}
		cfg.RX.Format = f
		cfg.TX.Format = f
	}
	if o.metrics != "" {
		cfg.Metrics = o.metrics
	}
	if o.verbose {
		cfg.Log.Level = "debug"
	}
	if o.json {
		cfg.Log.JSON = true
	}
	return cfg, cfg.Validate()
}
