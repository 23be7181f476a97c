//go:build linux

package linux

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Nuand/bladeRF-sub005/hal"
	"github.com/Nuand/bladeRF-sub005/pkg"
)

// Filesystem roots. Tests point these at a temporary tree.
var (
	sysfsUSBPath = "/sys/bus/usb/devices"
	devfsUSBPath = "/dev/bus/usb"
)

// usbDevice describes a device found in sysfs.
type usbDevice struct {
	sysfsPath string
	devfsPath string
	busNum    uint8
	devNum    uint8
	vendorID  uint16
	productID uint16
	speed     hal.Speed
}

// findDevice returns the first device matching vid:pid.
func findDevice(vid, pid uint16) (usbDevice, error) {
	entries, err := os.ReadDir(sysfsUSBPath)
	if err != nil {
		return usbDevice{}, fmt.Errorf("scan %s: %w", sysfsUSBPath, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		// Root hubs are usbN and interfaces are N-P:C.I.
		if strings.HasPrefix(name, "usb") || strings.Contains(name, ":") {
			continue
		}

		dev, err := parseDevice(filepath.Join(sysfsUSBPath, name))
		if err != nil {
			pkg.LogDebug(pkg.ComponentHAL, "skipping sysfs entry", "name", name, "error", err)
			continue
		}
		if dev.vendorID == vid && dev.productID == pid {
			return dev, nil
		}
	}
	return usbDevice{}, fmt.Errorf("no device %04x:%04x: %w", vid, pid, pkg.ErrNoDevice)
}

func parseDevice(path string) (usbDevice, error) {
	dev := usbDevice{sysfsPath: path}

	bus, err := readSysfsUint(filepath.Join(path, "busnum"), 10, 8)
	if err != nil {
		return dev, err
	}
	num, err := readSysfsUint(filepath.Join(path, "devnum"), 10, 8)
	if err != nil {
		return dev, err
	}
	vid, err := readSysfsUint(filepath.Join(path, "idVendor"), 16, 16)
	if err != nil {
		return dev, err
	}
	pid, err := readSysfsUint(filepath.Join(path, "idProduct"), 16, 16)
	if err != nil {
		return dev, err
	}

	dev.busNum = uint8(bus)
	dev.devNum = uint8(num)
	dev.vendorID = uint16(vid)
	dev.productID = uint16(pid)
	dev.devfsPath = formatDevfsPath(dev.busNum, dev.devNum)

	if s, err := readSysfsString(filepath.Join(path, "speed")); err == nil {
		dev.speed = parseSpeed(s)
	}
	return dev, nil
}

func readSysfsString(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func readSysfsUint(path string, base, bitSize int) (uint64, error) {
	s, err := readSysfsString(path)
	if err != nil {
		return 0, err
	}
	if base == 16 {
		s = strings.TrimPrefix(s, "0x")
	}
	return strconv.ParseUint(s, base, bitSize)
}

// formatDevfsPath returns the usbfs node of a device.
func formatDevfsPath(busNum, devNum uint8) string {
	return fmt.Sprintf("%s/%03d/%03d", devfsUSBPath, busNum, devNum)
}

// parseSpeed converts the sysfs speed attribute, in Mbit/s, to a link speed.
func parseSpeed(s string) hal.Speed {
	switch s {
	case "1.5":
		return hal.SpeedLow
	case "12":
		return hal.SpeedFull
	case "480":
		return hal.SpeedHigh
	case "5000":
		return hal.SpeedSuper
	case "10000", "20000":
		return hal.SpeedSuperPlus
	default:
		return hal.SpeedUnknown
	}
}
