//go:build cgo

package libusb

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/gousb"
	"go.uber.org/multierr"

	"github.com/Nuand/bladeRF-sub005/hal"
	"github.com/Nuand/bladeRF-sub005/pkg"
)

// Device is an open libusb device. It implements hal.StreamHAL.
type Device struct {
	ctx   *gousb.Context
	dev   *gousb.Device
	cfg   *gousb.Config
	intf  *gousb.Interface
	in    *gousb.InEndpoint
	out   *gousb.OutEndpoint
	speed hal.Speed

	mu     sync.Mutex
	queues []*hal.TransferQueue
	closed bool
}

var _ hal.StreamHAL = (*Device)(nil)

// Open opens the first device matching cfg and claims its streaming
// interface.
func Open(cfg Config) (_ *Device, err error) {
	cfg.setDefaults()

	d := &Device{ctx: gousb.NewContext()}
	defer func() {
		if err != nil {
			err = multierr.Append(err, d.release())
		}
	}()

	d.dev, err = d.ctx.OpenDeviceWithVIDPID(gousb.ID(cfg.VendorID), gousb.ID(cfg.ProductID))
	if err != nil {
		return nil, fmt.Errorf("open %04x:%04x: %w", cfg.VendorID, cfg.ProductID, transferError(err))
	}
	if d.dev == nil {
		return nil, fmt.Errorf("no device %04x:%04x: %w", cfg.VendorID, cfg.ProductID, pkg.ErrNoDevice)
	}
	if err = d.dev.SetAutoDetach(true); err != nil {
		return nil, fmt.Errorf("auto detach: %w", transferError(err))
	}
	d.speed = speed(d.dev.Desc.Speed)

	if d.cfg, err = d.dev.Config(cfg.Config); err != nil {
		return nil, fmt.Errorf("config %d: %w", cfg.Config, transferError(err))
	}
	if d.intf, err = d.cfg.Interface(cfg.Interface, cfg.AltSetting); err != nil {
		return nil, fmt.Errorf("interface %d alt %d: %w", cfg.Interface, cfg.AltSetting, transferError(err))
	}
	if d.in, err = d.intf.InEndpoint(cfg.RXEndpoint); err != nil {
		return nil, fmt.Errorf("rx endpoint: %w", transferError(err))
	}
	if d.out, err = d.intf.OutEndpoint(cfg.TXEndpoint); err != nil {
		return nil, fmt.Errorf("tx endpoint: %w", transferError(err))
	}

	pkg.LogInfo(pkg.ComponentHAL, "libusb device opened",
		"vid", fmt.Sprintf("%04x", cfg.VendorID), "pid", fmt.Sprintf("%04x", cfg.ProductID), "speed", d.speed)
	return d, nil
}

// Speed returns the negotiated link speed.
func (d *Device) Speed() hal.Speed {
	return d.speed
}

// InitStream creates a transfer queue over the endpoint of cfg.Direction.
func (d *Device) InitStream(cfg hal.StreamConfig) (hal.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, pkg.ErrClosed
	}

	fn := func(ctx context.Context, buf []byte) (int, error) {
		n, err := d.in.ReadContext(ctx, buf)
		return n, transferError(err)
	}
	if cfg.Direction == hal.DirectionTX {
		fn = func(ctx context.Context, buf []byte) (int, error) {
			n, err := d.out.WriteContext(ctx, buf)
			return n, transferError(err)
		}
	}

	q, err := hal.NewTransferQueue(cfg, fn)
	if err != nil {
		return nil, err
	}
	d.queues = append(d.queues, q)
	return q, nil
}

// Close stops every transfer queue and releases the device.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	queues := d.queues
	d.queues = nil
	d.mu.Unlock()

	var err error
	for _, q := range queues {
		err = multierr.Append(err, q.Close())
	}
	err = multierr.Append(err, d.release())

	pkg.LogInfo(pkg.ComponentHAL, "libusb device closed")
	return err
}

// release closes whatever Open acquired, innermost first.
func (d *Device) release() error {
	var err error
	if d.intf != nil {
		d.intf.Close()
	}
	if d.cfg != nil {
		err = multierr.Append(err, d.cfg.Close())
	}
	if d.dev != nil {
		err = multierr.Append(err, d.dev.Close())
	}
	if d.ctx != nil {
		err = multierr.Append(err, d.ctx.Close())
	}
	return err
}

func speed(s gousb.Speed) hal.Speed {
	switch s {
	case gousb.SpeedLow:
		return hal.SpeedLow
	case gousb.SpeedFull:
		return hal.SpeedFull
	case gousb.SpeedHigh:
		return hal.SpeedHigh
	case gousb.SpeedSuper:
		return hal.SpeedSuper
	default:
		return hal.SpeedUnknown
	}
}

// transferError wraps a gousb error with the stream error it maps to.
func transferError(err error) error {
	var kind error
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gousb.ErrorTimeout), errors.Is(err, gousb.TransferTimedOut):
		kind = pkg.ErrTimeout
	case errors.Is(err, gousb.ErrorNoDevice), errors.Is(err, gousb.TransferNoDevice):
		kind = pkg.ErrNoDevice
	case errors.Is(err, gousb.ErrorNotSupported):
		kind = pkg.ErrUnsupported
	case errors.Is(err, gousb.ErrorInvalidParam), errors.Is(err, gousb.ErrorNotFound):
		kind = pkg.ErrInval
	default:
		kind = pkg.ErrIO
	}
	return fmt.Errorf("%w: %w", kind, err)
}
