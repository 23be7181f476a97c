//go:build linux && (amd64 || arm64 || riscv64)

package linux

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestIoctlNumbers(t *testing.T) {
	tests := []struct {
		name string
		got  uintptr
		want uintptr
	}{
		{"SETINTERFACE", ioctlSetInterface, 0x80085504},
		{"SUBMITURB", ioctlSubmitURB, 0x8038550a},
		{"DISCARDURB", ioctlDiscardURB, 0x550b},
		{"REAPURBNDELAY", ioctlReapURBNDelay, 0x4008550d},
		{"CLAIMINTERFACE", ioctlClaimInterface, 0x8004550f},
		{"RELEASEINTERFACE", ioctlReleaseInterface, 0x80045510},
		{"CLEAR_HALT", ioctlClearHalt, 0x80045515},
		{"GET_SPEED", ioctlGetSpeed, 0x551f},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.got, tt.name)
	}
}

func TestURBLayout(t *testing.T) {
	var u urb
	assert.Equal(t, uintptr(56), unsafe.Sizeof(u))
	assert.Equal(t, uintptr(16), unsafe.Offsetof(u.buffer))
	assert.Equal(t, uintptr(48), unsafe.Offsetof(u.userContext))
}
