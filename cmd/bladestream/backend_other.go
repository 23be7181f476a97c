//go:build !linux

package main

import (
	"fmt"
	"io"

	"github.com/Nuand/bladeRF-sub005/config"
	"github.com/Nuand/bladeRF-sub005/hal"
	"github.com/Nuand/bladeRF-sub005/pkg"
)

func openUSBFS(config.Device) (hal.StreamHAL, io.Closer, error) {
	return nil, nil, fmt.Errorf("usbfs backend: %w", pkg.ErrUnsupported)
}
