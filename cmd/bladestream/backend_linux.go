//go:build linux

package main

import (
	"io"

	"github.com/Nuand/bladeRF-sub005/config"
	"github.com/Nuand/bladeRF-sub005/hal"
	"github.com/Nuand/bladeRF-sub005/hal/linux"
)

func openUSBFS(dev config.Device) (hal.StreamHAL, io.Closer, error) {
	d, err := linux.Open(linux.Config{
		Path:      dev.Path,
		VendorID:  dev.VendorID,
		ProductID: dev.ProductID,
	})
	if err != nil {
		return nil, nil, err
	}
	return d, d, nil
}
