package pkg

import (
	"errors"
	"fmt"
	"testing"
)

func TestTransferStatus_String(t *testing.T) {
	tests := []struct {
		status TransferStatus
		want   string
	}{
		{TransferStatusSuccess, "success"},
		{TransferStatusError, "error"},
		{TransferStatusStall, "stall"},
		{TransferStatusTimeout, "timeout"},
		{TransferStatusCancelled, "cancelled"},
		{TransferStatusOverflow, "overflow"},
		{TransferStatusNoDevice, "no device"},
		{TransferStatus(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.status.String(); got != tt.want {
				t.Errorf("TransferStatus.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTransferStatus_Error(t *testing.T) {
	tests := []struct {
		status  TransferStatus
		wantErr error
	}{
		{TransferStatusSuccess, nil},
		{TransferStatusCancelled, nil},
		{TransferStatusStall, ErrIO},
		{TransferStatusError, ErrIO},
		{TransferStatusOverflow, ErrIO},
		{TransferStatusTimeout, ErrTimeout},
		{TransferStatusNoDevice, ErrNoDevice},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			err := tt.status.Error()
			if tt.wantErr == nil && err != nil {
				t.Errorf("TransferStatus.Error() = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("TransferStatus.Error() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want TransferStatus
	}{
		{"nil", nil, TransferStatusSuccess},
		{"timeout", fmt.Errorf("bulk read: %w", ErrTimeout), TransferStatusTimeout},
		{"no device", ErrNoDevice, TransferStatusNoDevice},
		{"other", errors.New("boom"), TransferStatusError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusOf(tt.err); got != tt.want {
				t.Errorf("StatusOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSentinelErrors(t *testing.T) {
	// Verify all sentinel errors are distinct
	errs := []error{
		ErrInval,
		ErrTimePast,
		ErrTimeout,
		ErrWouldBlock,
		ErrIO,
		ErrNoDevice,
		ErrUnsupported,
		ErrUnexpected,
		ErrNotRunning,
		ErrClosed,
	}

	for i, e1 := range errs {
		for j, e2 := range errs {
			if i != j && errors.Is(e1, e2) {
				t.Errorf("errors %d and %d are not distinct: %v", i, j, e1)
			}
		}
	}
}
