// Package linux streams samples over the Linux usbfs interface.
//
// [Open] finds the board in sysfs by vendor and product ID (or opens an
// explicit /dev/bus/usb path), claims its streaming interface and selects
// the alternate setting that exposes the sample endpoints. Each stream
// created with [Device.InitStream] owns a fixed pool of URBs, one per
// transfer slot. URBs are submitted asynchronously and reaped by a single
// epoll goroutine shared by both streams, which turns every reaped URB into
// a [hal.Completion].
//
// Buffers handed to Submit are pinned until their URB is reaped, so the
// kernel may write into Go memory directly.
//
// The ioctl request numbers use the generic encoding shared by x86, arm,
// arm64 and riscv64.
package linux
