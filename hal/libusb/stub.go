//go:build !cgo

package libusb

import (
	"fmt"

	"github.com/Nuand/bladeRF-sub005/hal"
	"github.com/Nuand/bladeRF-sub005/pkg"
)

// Device is unavailable without cgo.
type Device struct{}

// Open always fails without cgo.
func Open(Config) (*Device, error) {
	return nil, fmt.Errorf("libusb backend requires cgo: %w", pkg.ErrUnsupported)
}

// Speed returns hal.SpeedUnknown.
func (*Device) Speed() hal.Speed { return hal.SpeedUnknown }

// InitStream always fails without cgo.
func (*Device) InitStream(hal.StreamConfig) (hal.Transport, error) {
	return nil, pkg.ErrUnsupported
}

// Close is a no-op.
func (*Device) Close() error { return nil }
