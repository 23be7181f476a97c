//go:build linux

package linux

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"
)

// usbIDPaths lists the usual locations of the usb.ids database.
var usbIDPaths = []string{
	"/usr/share/hwdata/usb.ids",
	"/var/lib/usbutils/usb.ids",
	"/usr/share/misc/usb.ids",
}

// productName returns "Vendor Product" for vid:pid from the first usb.ids
// database found, or "" when none lists it.
func productName(vid, pid uint16) string {
	for _, path := range usbIDPaths {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		name := lookupProduct(f, vid, pid)
		f.Close()
		return name
	}
	return ""
}

// lookupProduct scans a usb.ids listing. Vendor lines are "vvvv  Name";
// their products follow as "\tpppp  Name".
func lookupProduct(r io.Reader, vid, pid uint16) string {
	var vendor string
	inVendor := false

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if line == "" || line[0] == '#' {
			continue
		}

		if line[0] != '\t' {
			if inVendor {
				// Products of the vendor ended without a match.
				break
			}
			id, name, ok := parseIDLine(line)
			if ok && id == vid {
				vendor, inVendor = name, true
			}
			continue
		}

		if inVendor {
			id, name, ok := parseIDLine(line[1:])
			if ok && id == pid {
				return vendor + " " + name
			}
		}
	}
	return vendor
}

func parseIDLine(line string) (uint16, string, bool) {
	if len(line) < 6 || line[4] != ' ' {
		return 0, "", false
	}
	id, err := strconv.ParseUint(line[:4], 16, 16)
	if err != nil {
		return 0, "", false
	}
	return uint16(id), strings.TrimSpace(line[5:]), true
}
