//go:build !unix

package main

import (
	"fmt"
	"io"

	"github.com/Nuand/bladeRF-sub005/config"
	"github.com/Nuand/bladeRF-sub005/hal"
	"github.com/Nuand/bladeRF-sub005/pkg"
)

func openFIFO(config.Device) (hal.StreamHAL, io.Closer, error) {
	return nil, nil, fmt.Errorf("fifo backend: %w", pkg.ErrUnsupported)
}
