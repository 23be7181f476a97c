// Package config loads stream configuration documents.
//
// A document selects a backend and describes the RX and TX sync streams:
//
//	backend: sim
//	rx:
//	  layout: rx_x1
//	  format: sc16q11_meta
//	  num_buffers: 16
//	  buffer_size: 8192
//	  num_transfers: 8
//	  timeout: 1s
//
// Fields left out keep the values of [Default].
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Nuand/bladeRF-sub005/hal"
	"github.com/Nuand/bladeRF-sub005/pkg"
)

// Backend names a streaming backend.
type Backend string

// Known backends.
const (
	BackendSim    Backend = "sim"
	BackendFIFO   Backend = "fifo"
	BackendUSBFS  Backend = "usbfs"
	BackendLibUSB Backend = "libusb"
)

// bufferAlignment is the byte granularity of stream buffers.
const bufferAlignment = 4096

// Stream describes one sync stream.
type Stream struct {
	Layout       hal.Layout    `yaml:"layout"`
	Format       hal.Format    `yaml:"format"`
	NumBuffers   int           `yaml:"num_buffers"`
	BufferSize   int           `yaml:"buffer_size"` // Samples per buffer
	NumTransfers int           `yaml:"num_transfers"`
	Timeout      time.Duration `yaml:"timeout"` // Per-transfer timeout
}

// Device locates the hardware for the fifo, usbfs and libusb backends.
type Device struct {
	Path      string `yaml:"path"` // FIFO stream directory or usbfs node
	VendorID  uint16 `yaml:"vendor_id"`
	ProductID uint16 `yaml:"product_id"`
}

// Sim configures the simulated device.
type Sim struct {
	Speed          string  `yaml:"speed"` // "super" or "high"
	SampleRate     float64 `yaml:"sample_rate"`
	StartTimestamp uint64  `yaml:"start_timestamp"`
	GapEvery       int     `yaml:"gap_every"`
	GapTicks       uint64  `yaml:"gap_ticks"`
}

// Log configures logging.
type Log struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Config is a complete configuration document.
type Config struct {
	Backend Backend `yaml:"backend"`
	Device  Device  `yaml:"device"`
	RX      Stream  `yaml:"rx"`
	TX      Stream  `yaml:"tx"`
	Sim     Sim     `yaml:"sim"`
	Metrics string  `yaml:"metrics"` // Listen address, empty to disable
	Log     Log     `yaml:"log"`
}

// Default returns a configuration streaming SC16Q11 samples from the
// simulated device.
func Default() Config {
	stream := func(layout hal.Layout) Stream {
		return Stream{
			Layout:       layout,
			Format:       hal.FormatSC16Q11,
			NumBuffers:   16,
			BufferSize:   8192,
			NumTransfers: 8,
			Timeout:      time.Second,
		}
	}
	return Config{
		Backend: BackendSim,
		Device:  Device{VendorID: 0x2cf0, ProductID: 0x5246},
		RX:      stream(hal.LayoutRXX1),
		TX:      stream(hal.LayoutTXX1),
		Sim:     Sim{Speed: "super", SampleRate: 1e6},
		Log:     Log{Level: "info"},
	}
}

// Load reads the document at path over the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data over the defaults and validates the result. Unknown
// fields are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values no stream can use.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendSim, BackendFIFO, BackendUSBFS, BackendLibUSB:
	default:
		return fmt.Errorf("backend %q: %w", c.Backend, pkg.ErrInval)
	}
	if c.Backend == BackendFIFO && c.Device.Path == "" {
		return fmt.Errorf("fifo backend needs device.path: %w", pkg.ErrInval)
	}
	if err := c.RX.validate(hal.DirectionRX); err != nil {
		return fmt.Errorf("rx: %w", err)
	}
	if err := c.TX.validate(hal.DirectionTX); err != nil {
		return fmt.Errorf("tx: %w", err)
	}
	if _, err := c.Sim.LinkSpeed(); err != nil {
		return err
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	return nil
}

func (s Stream) validate(dir hal.Direction) error {
	bps := s.Format.BytesPerSample()
	switch {
	case s.Layout.Direction() != dir:
		return fmt.Errorf("layout %s is not %s: %w", s.Layout, dir, pkg.ErrInval)
	case bps == 0:
		return fmt.Errorf("format %d: %w", s.Format, pkg.ErrInval)
	case s.NumTransfers < 1 || s.NumTransfers >= s.NumBuffers:
		return fmt.Errorf("%d transfers with %d buffers: %w", s.NumTransfers, s.NumBuffers, pkg.ErrInval)
	case s.BufferSize <= 0 || (s.BufferSize*bps)%bufferAlignment != 0:
		return fmt.Errorf("buffer of %d samples is not a multiple of %d bytes: %w",
			s.BufferSize, bufferAlignment, pkg.ErrInval)
	case s.Timeout < 0:
		return fmt.Errorf("timeout %s: %w", s.Timeout, pkg.ErrInval)
	}
	return nil
}

// LinkSpeed returns the simulated link speed.
func (s Sim) LinkSpeed() (hal.Speed, error) {
	switch s.Speed {
	case "", "super":
		return hal.SpeedSuper, nil
	case "high":
		return hal.SpeedHigh, nil
	default:
		return hal.SpeedUnknown, fmt.Errorf("sim speed %q: %w", s.Speed, pkg.ErrInval)
	}
}

// SlogLevel returns the configured log level.
func (l Log) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log level %q: %w", l.Level, pkg.ErrInval)
	}
	return level, nil
}
