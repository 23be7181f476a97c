package main

import (
	"fmt"
	"io"

	"github.com/Nuand/bladeRF-sub005/config"
	"github.com/Nuand/bladeRF-sub005/hal"
	"github.com/Nuand/bladeRF-sub005/hal/libusb"
	"github.com/Nuand/bladeRF-sub005/hal/sim"
	"github.com/Nuand/bladeRF-sub005/pkg"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openBackend opens the configured backend. The closer releases it after
// the device layer is closed.
func openBackend(cfg config.Config) (hal.StreamHAL, io.Closer, error) {
	switch cfg.Backend {
	case config.BackendSim:
		speed, err := cfg.Sim.LinkSpeed()
		if err != nil {
			return nil, nil, err
		}
		d := sim.New(sim.Config{
			Speed:          speed,
			Format:         cfg.RX.Format,
			Channels:       cfg.RX.Layout.SamplesPerTimestamp(),
			StartTimestamp: cfg.Sim.StartTimestamp,
			GapEvery:       cfg.Sim.GapEvery,
			GapTicks:       cfg.Sim.GapTicks,
			SampleRate:     cfg.Sim.SampleRate,
		})
		return d, nopCloser{}, nil

	case config.BackendFIFO:
		return openFIFO(cfg.Device)

	case config.BackendUSBFS:
		return openUSBFS(cfg.Device)

	case config.BackendLibUSB:
		d, err := libusb.Open(libusb.Config{
			VendorID:  cfg.Device.VendorID,
			ProductID: cfg.Device.ProductID,
		})
		if err != nil {
			return nil, nil, err
		}
		return d, d, nil

	default:
		return nil, nil, fmt.Errorf("backend %q: %w", cfg.Backend, pkg.ErrInval)
	}
}
