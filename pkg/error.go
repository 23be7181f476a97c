package pkg

import "errors"

// Streaming errors. Callers compare with errors.Is; wrapped variants carry
// context added with fmt.Errorf("...: %w", err).
var (
	// ErrInval indicates an invalid argument or an invalid request sequence,
	// such as a burst end without a preceding burst start.
	ErrInval = errors.New("invalid argument")

	// ErrTimePast indicates a requested timestamp the stream has already passed.
	ErrTimePast = errors.New("requested timestamp is in the past")

	// ErrTimeout indicates a bounded wait expired.
	ErrTimeout = errors.New("operation timed out")

	// ErrWouldBlock indicates a non-blocking submission found no free transfer.
	ErrWouldBlock = errors.New("operation would block")

	// ErrIO indicates a transfer failed at the transport.
	ErrIO = errors.New("I/O error")

	// ErrNoDevice indicates the device is no longer present.
	ErrNoDevice = errors.New("device not present")

	// ErrUnsupported indicates a format, layout or link speed the device
	// cannot stream.
	ErrUnsupported = errors.New("operation not supported")

	// ErrUnexpected indicates an internal state the engine cannot recover from.
	ErrUnexpected = errors.New("unexpected error")

	// ErrNotRunning indicates the stream is not running.
	ErrNotRunning = errors.New("stream not running")

	// ErrClosed indicates use of a stream after it was closed.
	ErrClosed = errors.New("stream closed")
)

// TransferStatus represents the completion status of a bulk transfer.
type TransferStatus int

// Transfer status values.
const (
	TransferStatusSuccess   TransferStatus = iota // Transfer completed successfully
	TransferStatusError                           // Transfer failed with error
	TransferStatusStall                           // Endpoint stalled
	TransferStatusTimeout                         // Transfer timed out
	TransferStatusCancelled                       // Transfer was cancelled
	TransferStatusOverflow                        // Device sent more data than requested
	TransferStatusNoDevice                        // Device disappeared
)

// String returns a string representation of the transfer status.
func (s TransferStatus) String() string {
	switch s {
	case TransferStatusSuccess:
		return "success"
	case TransferStatusError:
		return "error"
	case TransferStatusStall:
		return "stall"
	case TransferStatusTimeout:
		return "timeout"
	case TransferStatusCancelled:
		return "cancelled"
	case TransferStatusOverflow:
		return "overflow"
	case TransferStatusNoDevice:
		return "no device"
	default:
		return "unknown"
	}
}

// Error returns the stream error a transfer status maps to. Success and
// cancellation are expected outcomes and map to nil.
func (s TransferStatus) Error() error {
	switch s {
	case TransferStatusSuccess, TransferStatusCancelled:
		return nil
	case TransferStatusTimeout:
		return ErrTimeout
	case TransferStatusNoDevice:
		return ErrNoDevice
	default:
		return ErrIO
	}
}

// StatusOf classifies an error returned by a blocking transfer function.
func StatusOf(err error) TransferStatus {
	switch {
	case err == nil:
		return TransferStatusSuccess
	case errors.Is(err, ErrTimeout):
		return TransferStatusTimeout
	case errors.Is(err, ErrNoDevice):
		return TransferStatusNoDevice
	default:
		return TransferStatusError
	}
}
