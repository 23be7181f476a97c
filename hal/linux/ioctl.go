//go:build linux

package linux

import "unsafe"

// Generic ioctl request encoding.
const (
	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	iocNone  = 0
	iocWrite = 1
	iocRead  = 2
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return dir<<iocDirShift | typ<<iocTypeShift | nr<<iocNRShift | size<<iocSizeShift
}

// usbdevfs request type.
const usbdevfsType = 'U'

// setInterfaceArgs matches struct usbdevfs_setinterface.
type setInterfaceArgs struct {
	iface      uint32
	altSetting uint32
}

// usbdevfs requests used for streaming.
var (
	ioctlSetInterface     = ioc(iocRead, usbdevfsType, 4, unsafe.Sizeof(setInterfaceArgs{}))
	ioctlSubmitURB        = ioc(iocRead, usbdevfsType, 10, unsafe.Sizeof(urb{}))
	ioctlDiscardURB       = ioc(iocNone, usbdevfsType, 11, 0)
	ioctlReapURBNDelay    = ioc(iocWrite, usbdevfsType, 13, unsafe.Sizeof(uintptr(0)))
	ioctlClaimInterface   = ioc(iocRead, usbdevfsType, 15, unsafe.Sizeof(uint32(0)))
	ioctlReleaseInterface = ioc(iocRead, usbdevfsType, 16, unsafe.Sizeof(uint32(0)))
	ioctlClearHalt        = ioc(iocRead, usbdevfsType, 21, unsafe.Sizeof(uint32(0)))
	ioctlGetSpeed         = ioc(iocNone, usbdevfsType, 31, 0)
)
