//go:build linux

package linux

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUSBIDs = `# usb.ids excerpt
1d50  OpenMoko, Inc.
	6066  Nuand bladeRF
2cf0  Nuand LLC
	5246  bladeRF 2.0
	5250  bladeRF (bootloader)
C 00  (Defined at Interface level)
	01  Audio
`

func TestLookupProduct(t *testing.T) {
	tests := []struct {
		name     string
		vid, pid uint16
		want     string
	}{
		{"product", 0x2cf0, 0x5246, "Nuand LLC bladeRF 2.0"},
		{"first vendor", 0x1d50, 0x6066, "OpenMoko, Inc. Nuand bladeRF"},
		{"unknown product", 0x2cf0, 0x1234, "Nuand LLC"},
		{"unknown vendor", 0xdead, 0xbeef, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, lookupProduct(strings.NewReader(testUSBIDs), tt.vid, tt.pid))
		})
	}
}

func TestProductName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usb.ids")
	require.NoError(t, os.WriteFile(path, []byte(testUSBIDs), 0o644))

	old := usbIDPaths
	usbIDPaths = []string{filepath.Join(t.TempDir(), "missing"), path}
	t.Cleanup(func() { usbIDPaths = old })

	assert.Equal(t, "Nuand LLC bladeRF 2.0", productName(DefaultVendorID, DefaultProductID))

	usbIDPaths = nil
	assert.Empty(t, productName(DefaultVendorID, DefaultProductID))
}
