//go:build unix

package main

import (
	"io"

	"github.com/Nuand/bladeRF-sub005/config"
	"github.com/Nuand/bladeRF-sub005/hal"
	"github.com/Nuand/bladeRF-sub005/hal/fifo"
)

func openFIFO(dev config.Device) (hal.StreamHAL, io.Closer, error) {
	d, err := fifo.Open(dev.Path)
	if err != nil {
		return nil, nil, err
	}
	return d, d, nil
}
