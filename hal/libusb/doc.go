// Package libusb streams samples through libusb using gousb.
//
// It is the portable counterpart of the usbfs backend: transfers are
// blocking bulk reads and writes executed in submission order by a
// [hal.TransferQueue]. Builds without cgo get a stub whose [Open] returns
// [pkg.ErrUnsupported].
package libusb
