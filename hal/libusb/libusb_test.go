//go:build cgo

package libusb

import (
	"context"
	"errors"
	"testing"

	"github.com/google/gousb"
	"github.com/stretchr/testify/assert"

	"github.com/Nuand/bladeRF-sub005/hal"
	"github.com/Nuand/bladeRF-sub005/pkg"
)

func TestSpeed(t *testing.T) {
	tests := []struct {
		in   gousb.Speed
		want hal.Speed
	}{
		{gousb.SpeedLow, hal.SpeedLow},
		{gousb.SpeedFull, hal.SpeedFull},
		{gousb.SpeedHigh, hal.SpeedHigh},
		{gousb.SpeedSuper, hal.SpeedSuper},
		{gousb.SpeedUnknown, hal.SpeedUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, speed(tt.in), "speed(%v)", tt.in)
	}
}

func TestTransferError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		want   error
		status pkg.TransferStatus
	}{
		{"timeout", gousb.ErrorTimeout, pkg.ErrTimeout, pkg.TransferStatusTimeout},
		{"transfer timeout", gousb.TransferTimedOut, pkg.ErrTimeout, pkg.TransferStatusTimeout},
		{"no device", gousb.ErrorNoDevice, pkg.ErrNoDevice, pkg.TransferStatusNoDevice},
		{"transfer no device", gousb.TransferNoDevice, pkg.ErrNoDevice, pkg.TransferStatusNoDevice},
		{"stall", gousb.TransferStall, pkg.ErrIO, pkg.TransferStatusError},
		{"pipe", gousb.ErrorPipe, pkg.ErrIO, pkg.TransferStatusError},
		{"not supported", gousb.ErrorNotSupported, pkg.ErrUnsupported, pkg.TransferStatusError},
		{"not found", gousb.ErrorNotFound, pkg.ErrInval, pkg.TransferStatusError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := transferError(tt.err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.status, pkg.StatusOf(err))
		})
	}

	assert.NoError(t, transferError(nil))
	assert.ErrorIs(t, transferError(context.Canceled), context.Canceled)
	assert.ErrorIs(t, transferError(errors.New("boom")), pkg.ErrIO)
}

func TestConfig_Defaults(t *testing.T) {
	var cfg Config
	cfg.setDefaults()
	assert.Equal(t, Config{
		VendorID:   DefaultVendorID,
		ProductID:  DefaultProductID,
		Config:     DefaultConfig,
		Interface:  DefaultInterface,
		AltSetting: DefaultAltSetting,
		RXEndpoint: DefaultRXEndpoint,
		TXEndpoint: DefaultTXEndpoint,
	}, cfg)

	cfg = Config{VendorID: 0x1d50, ProductID: 0x6066, AltSetting: 2}
	cfg.setDefaults()
	assert.Equal(t, uint16(0x1d50), cfg.VendorID)
	assert.Equal(t, 2, cfg.AltSetting)
}
