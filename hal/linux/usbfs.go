//go:build linux

package linux

import (
	"errors"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/Nuand/bladeRF-sub005/hal"
	"github.com/Nuand/bladeRF-sub005/pkg"
)

// urb matches the kernel's struct usbdevfs_urb without iso descriptors.
type urb struct {
	typ          uint8
	endpoint     uint8
	status       int32
	flags        uint32
	buffer       uintptr
	bufferLength int32
	actualLength int32
	startFrame   int32
	streamID     uint32
	errorCount   int32
	signr        uint32
	userContext  uintptr
}

// urbTypeBulk is USBDEVFS_URB_TYPE_BULK.
const urbTypeBulk = 3

// endpointDirIn marks an IN endpoint address.
const endpointDirIn = 0x80

// usb_device_speed values returned by USBDEVFS_GET_SPEED.
const (
	usbSpeedLow       = 1
	usbSpeedFull      = 2
	usbSpeedHigh      = 3
	usbSpeedWireless  = 4
	usbSpeedSuper     = 5
	usbSpeedSuperPlus = 6
)

func ioctl(fd int, req, arg uintptr) (int, error) {
	r, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, arg)
	if errno != 0 {
		return int(r), errno
	}
	return int(r), nil
}

func ioctlPtr(fd int, req uintptr, arg unsafe.Pointer) (int, error) {
	r, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return int(r), errno
	}
	return int(r), nil
}

func claimInterface(fd int, iface uint32) error {
	_, err := ioctlPtr(fd, ioctlClaimInterface, unsafe.Pointer(&iface))
	return err
}

func releaseInterface(fd int, iface uint32) error {
	_, err := ioctlPtr(fd, ioctlReleaseInterface, unsafe.Pointer(&iface))
	return err
}

func setInterface(fd int, iface, alt uint32) error {
	args := setInterfaceArgs{iface: iface, altSetting: alt}
	_, err := ioctlPtr(fd, ioctlSetInterface, unsafe.Pointer(&args))
	return err
}

func clearHalt(fd int, endpoint uint8) error {
	ep := uint32(endpoint)
	_, err := ioctlPtr(fd, ioctlClearHalt, unsafe.Pointer(&ep))
	return err
}

func submitURB(fd int, u *urb) error {
	_, err := ioctlPtr(fd, ioctlSubmitURB, unsafe.Pointer(u))
	return err
}

func discardURB(fd int, u *urb) error {
	_, err := ioctlPtr(fd, ioctlDiscardURB, unsafe.Pointer(u))
	return err
}

// reapURB returns the next completed URB, or nil with EAGAIN when none is
// ready.
func reapURB(fd int) (*urb, error) {
	var u *urb
	if _, err := ioctlPtr(fd, ioctlReapURBNDelay, unsafe.Pointer(&u)); err != nil {
		return nil, err
	}
	return u, nil
}

// getSpeed queries the link speed. Kernels before 4.19 return ENOTTY.
func getSpeed(fd int) (hal.Speed, error) {
	r, err := ioctl(fd, ioctlGetSpeed, 0)
	if err != nil {
		return hal.SpeedUnknown, err
	}
	return kernelSpeed(r), nil
}

func kernelSpeed(v int) hal.Speed {
	switch v {
	case usbSpeedLow:
		return hal.SpeedLow
	case usbSpeedFull:
		return hal.SpeedFull
	case usbSpeedHigh, usbSpeedWireless:
		return hal.SpeedHigh
	case usbSpeedSuper:
		return hal.SpeedSuper
	case usbSpeedSuperPlus:
		return hal.SpeedSuperPlus
	default:
		return hal.SpeedUnknown
	}
}

// urbStatus maps a reaped URB's negative errno to a transfer status.
func urbStatus(status int32, timedOut bool) pkg.TransferStatus {
	switch unix.Errno(-status) {
	case 0:
		return pkg.TransferStatusSuccess
	case unix.ENOENT, unix.ECONNRESET:
		if timedOut {
			return pkg.TransferStatusTimeout
		}
		return pkg.TransferStatusCancelled
	case unix.EPIPE:
		return pkg.TransferStatusStall
	case unix.ETIMEDOUT:
		return pkg.TransferStatusTimeout
	case unix.ENODEV, unix.ESHUTDOWN:
		return pkg.TransferStatusNoDevice
	case unix.EOVERFLOW:
		return pkg.TransferStatusOverflow
	default:
		return pkg.TransferStatusError
	}
}

// syscallError maps an ioctl failure to a stream error.
func syscallError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.ENODEV), errors.Is(err, unix.ESHUTDOWN):
		return &opError{op: op, err: err, kind: pkg.ErrNoDevice}
	case errors.Is(err, unix.EINVAL):
		return &opError{op: op, err: err, kind: pkg.ErrInval}
	default:
		return &opError{op: op, err: err, kind: pkg.ErrIO}
	}
}

// opError carries the errno of a failed usbfs call alongside the stream
// error it maps to.
type opError struct {
	op   string
	err  error
	kind error
}

func (e *opError) Error() string {
	return "usbfs " + e.op + ": " + e.err.Error()
}

func (e *opError) Unwrap() []error {
	return []error{e.kind, e.err}
}
