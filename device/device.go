package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/Nuand/bladeRF-sub005/hal"
	"github.com/Nuand/bladeRF-sub005/metrics"
	"github.com/Nuand/bladeRF-sub005/pkg"
	"github.com/Nuand/bladeRF-sub005/syncstream"
)

// Metadata message sizes by link speed.
const (
	MessageSizeSuperSpeed = 2048
	MessageSizeHighSpeed  = 1024
)

// Options configures a Device. The zero value opens a device with every
// capability, no metrics and the wall clock.
type Options struct {
	Capabilities hal.Capability     // Device features (0 = hal.CapAll)
	Metrics      *metrics.Collector // Optional stream counters
	Clock        clock.Clock        // Optional clock for timeouts
	StopTimeout  time.Duration      // Worker stop timeout (0 = default)
}

// Device is an open board. It owns at most one sync stream per direction.
type Device struct {
	hal     hal.StreamHAL
	opts    Options
	speed   hal.Speed
	msgSize int

	mu     sync.Mutex
	sync   [2]*syncstream.Handle
	closed bool
}

// Open prepares h for streaming. The link speed selects the metadata message
// size; links slower than high speed cannot stream.
func Open(h hal.StreamHAL, opts Options) (*Device, error) {
	if h == nil {
		return nil, pkg.ErrInval
	}
	if opts.Capabilities == 0 {
		opts.Capabilities = hal.CapAll
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	speed := h.Speed()
	msgSize, err := MessageSize(speed)
	if err != nil {
		return nil, err
	}

	pkg.LogInfo(pkg.ComponentDevice, "device opened", "speed", speed, "msgSize", msgSize)
	return &Device{
		hal:     h,
		opts:    opts,
		speed:   speed,
		msgSize: msgSize,
	}, nil
}

// MessageSize returns the metadata message size used at speed.
func MessageSize(speed hal.Speed) (int, error) {
	switch speed {
	case hal.SpeedSuper, hal.SpeedSuperPlus:
		return MessageSizeSuperSpeed, nil
	case hal.SpeedHigh:
		return MessageSizeHighSpeed, nil
	default:
		return 0, fmt.Errorf("link speed %s: %w", speed, pkg.ErrUnsupported)
	}
}

// Speed returns the link speed.
func (d *Device) Speed() hal.Speed {
	return d.speed
}

// Capabilities returns the device features.
func (d *Device) Capabilities() hal.Capability {
	return d.opts.Capabilities
}

// SyncConfig configures the sync stream of layout's direction. An existing
// stream in that direction is closed first, discarding any samples it holds.
// bufferSize is in samples.
func (d *Device) SyncConfig(layout hal.Layout, format hal.Format, numBuffers, bufferSize, numTransfers int, timeout time.Duration) error {
	if err := d.checkFormat(format); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return pkg.ErrClosed
	}

	dir := layout.Direction()
	if old := d.sync[dir]; old != nil {
		d.sync[dir] = nil
		if err := old.Close(); err != nil {
			pkg.LogWarn(pkg.ComponentDevice, "closing previous stream", "dir", dir, "error", err)
		}
	}

	s, err := syncstream.New(d.hal, syncstream.Config{
		Layout:           layout,
		Format:           format,
		NumBuffers:       numBuffers,
		SamplesPerBuffer: bufferSize,
		NumTransfers:     numTransfers,
		Timeout:          timeout,
		MessageSize:      d.msgSize,
		StopTimeout:      d.opts.StopTimeout,
		Clock:            d.opts.Clock,
		Metrics:          d.opts.Metrics.Stream(dir.String()),
	})
	if err != nil {
		return fmt.Errorf("sync config %s: %w", layout, err)
	}
	d.sync[dir] = s

	pkg.LogDebug(pkg.ComponentDevice, "sync stream configured",
		"layout", layout, "format", format, "buffers", numBuffers,
		"samples", bufferSize, "transfers", numTransfers, "session", s.ID())
	return nil
}

func (d *Device) checkFormat(format hal.Format) error {
	caps := d.opts.Capabilities
	switch {
	case !format.Valid():
		return fmt.Errorf("format %d: %w", format, pkg.ErrInval)
	case format.EightBit() && !caps.Has(hal.CapFPGA8Bit):
		return fmt.Errorf("format %s needs 8-bit sample support: %w", format, pkg.ErrUnsupported)
	case format.Packet() && !caps.Has(hal.CapFWShortPacket|hal.CapFPGAPacketMeta):
		return fmt.Errorf("format %s needs packet support: %w", format, pkg.ErrUnsupported)
	}
	return nil
}

// SyncRX receives n samples into samples. See [syncstream.Handle.RX].
func (d *Device) SyncRX(samples []byte, n int, md *syncstream.Metadata, timeout time.Duration) (int, error) {
	s, err := d.handle(hal.DirectionRX)
	if err != nil {
		return 0, err
	}
	return s.RX(samples, n, md, timeout)
}

// SyncTX transmits n samples from samples. See [syncstream.Handle.TX].
func (d *Device) SyncTX(samples []byte, n int, md *syncstream.Metadata, timeout time.Duration) error {
	s, err := d.handle(hal.DirectionTX)
	if err != nil {
		return err
	}
	return s.TX(samples, n, md, timeout)
}

// Stream returns the configured sync stream of dir, or nil.
func (d *Device) Stream(dir hal.Direction) *syncstream.Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sync[dir]
}

func (d *Device) handle(dir hal.Direction) (*syncstream.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, pkg.ErrClosed
	}
	if d.sync[dir] == nil {
		return nil, fmt.Errorf("%s stream not configured: %w", dir, pkg.ErrInval)
	}
	return d.sync[dir], nil
}

// Close tears down both sync streams. Closing a closed device is a no-op.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	handles := d.sync
	d.sync = [2]*syncstream.Handle{}
	d.mu.Unlock()

	var err error
	for _, s := range handles {
		if s != nil {
			err = multierr.Append(err, s.Close())
		}
	}

	pkg.LogInfo(pkg.ComponentDevice, "device closed")
	return err
}
