package hal

import (
	"fmt"
	"time"

	"github.com/Nuand/bladeRF-sub005/pkg"
)

// Speed represents the USB connection speed.
type Speed uint8

// USB speed constants.
const (
	SpeedUnknown   Speed = iota // Not connected or unknown
	SpeedLow                    // Low Speed (1.5 Mbit/s)
	SpeedFull                   // Full Speed (12 Mbit/s)
	SpeedHigh                   // High Speed (480 Mbit/s)
	SpeedSuper                  // SuperSpeed (5 Gbit/s)
	SpeedSuperPlus              // SuperSpeed+ (10 Gbit/s)
)

// String returns a human-readable speed name.
func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "Low Speed"
	case SpeedFull:
		return "Full Speed"
	case SpeedHigh:
		return "High Speed"
	case SpeedSuper:
		return "SuperSpeed"
	case SpeedSuperPlus:
		return "SuperSpeed+"
	default:
		return "Unknown"
	}
}

// Direction is the direction of sample flow.
type Direction uint8

// Stream directions.
const (
	DirectionRX Direction = iota // Device to host
	DirectionTX                  // Host to device
)

// String returns "rx" or "tx".
func (d Direction) String() string {
	if d == DirectionTX {
		return "tx"
	}
	return "rx"
}

// Layout selects the channel arrangement of a stream.
type Layout uint8

// Channel layouts. X2 layouts interleave two channels, so one timestamp tick
// spans two samples.
const (
	LayoutRXX1 Layout = iota // One RX channel
	LayoutTXX1               // One TX channel
	LayoutRXX2               // Two interleaved RX channels
	LayoutTXX2               // Two interleaved TX channels
)

// Direction returns the direction implied by the layout.
func (l Layout) Direction() Direction {
	switch l {
	case LayoutTXX1, LayoutTXX2:
		return DirectionTX
	default:
		return DirectionRX
	}
}

// SamplesPerTimestamp returns how many samples share one timestamp tick.
func (l Layout) SamplesPerTimestamp() int {
	switch l {
	case LayoutRXX2, LayoutTXX2:
		return 2
	default:
		return 1
	}
}

// String returns the layout name.
func (l Layout) String() string {
	switch l {
	case LayoutRXX1:
		return "rx_x1"
	case LayoutTXX1:
		return "tx_x1"
	case LayoutRXX2:
		return "rx_x2"
	case LayoutTXX2:
		return "tx_x2"
	default:
		return "unknown"
	}
}

// ParseLayout returns the layout named s.
func ParseLayout(s string) (Layout, error) {
	for l := LayoutRXX1; l <= LayoutTXX2; l++ {
		if l.String() == s {
			return l, nil
		}
	}
	return 0, fmt.Errorf("layout %q: %w", s, pkg.ErrInval)
}

// MarshalText encodes the layout name.
func (l Layout) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText decodes a layout name.
func (l *Layout) UnmarshalText(text []byte) error {
	v, err := ParseLayout(string(text))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// Format is the sample encoding carried over the transport.
type Format uint8

// Sample formats.
const (
	FormatSC16Q11     Format = iota // Interleaved 16-bit I/Q, 11 fractional bits
	FormatSC16Q11Meta               // SC16Q11 with per-message metadata headers
	FormatPacketMeta                // Whole-buffer packets with a length header
	FormatSC8Q7                     // Interleaved 8-bit I/Q, 7 fractional bits
	FormatSC8Q7Meta                 // SC8Q7 with per-message metadata headers
)

// BytesPerSample returns the size of one complex sample. Unknown formats
// report zero.
func (f Format) BytesPerSample() int {
	switch f {
	case FormatSC16Q11, FormatSC16Q11Meta, FormatPacketMeta:
		return 4
	case FormatSC8Q7, FormatSC8Q7Meta:
		return 2
	default:
		return 0
	}
}

// Timestamped reports whether every message carries a metadata header.
func (f Format) Timestamped() bool {
	return f == FormatSC16Q11Meta || f == FormatSC8Q7Meta
}

// Packet reports whether the format is packet metadata.
func (f Format) Packet() bool {
	return f == FormatPacketMeta
}

// EightBit reports whether the format uses 8-bit samples.
func (f Format) EightBit() bool {
	return f == FormatSC8Q7 || f == FormatSC8Q7Meta
}

// Valid reports whether f is a known format.
func (f Format) Valid() bool {
	return f.BytesPerSample() != 0
}

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatSC16Q11:
		return "sc16q11"
	case FormatSC16Q11Meta:
		return "sc16q11_meta"
	case FormatPacketMeta:
		return "packet_meta"
	case FormatSC8Q7:
		return "sc8q7"
	case FormatSC8Q7Meta:
		return "sc8q7_meta"
	default:
		return "unknown"
	}
}

// ParseFormat returns the format named s.
func ParseFormat(s string) (Format, error) {
	for f := FormatSC16Q11; f <= FormatSC8Q7Meta; f++ {
		if f.String() == s {
			return f, nil
		}
	}
	return 0, fmt.Errorf("format %q: %w", s, pkg.ErrInval)
}

// MarshalText encodes the format name.
func (f Format) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText decodes a format name.
func (f *Format) UnmarshalText(text []byte) error {
	v, err := ParseFormat(string(text))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// Capability is a bitmask of device features a stream format may need.
type Capability uint32

// Device capabilities.
const (
	CapFPGA8Bit       Capability = 1 << iota // FPGA supports 8-bit samples
	CapFPGAPacketMeta                        // FPGA supports packet metadata
	CapFWShortPacket                         // Firmware accepts short bulk packets

	CapAll = CapFPGA8Bit | CapFPGAPacketMeta | CapFWShortPacket
)

// Has reports whether all bits of want are present.
func (c Capability) Has(want Capability) bool {
	return c&want == want
}

// StreamConfig describes the transport resources for one stream.
type StreamConfig struct {
	Direction    Direction     // Endpoint direction
	NumTransfers int           // Maximum transfers in flight
	BufferSize   int           // Size in bytes of the largest transfer
	Timeout      time.Duration // Per-transfer timeout (0 = none)
}

// Completion reports the outcome of one transfer.
type Completion struct {
	Slot   int                // Transfer slot passed to Submit
	Length int                // Bytes actually transferred
	Status pkg.TransferStatus // Outcome
}

// Transport moves buffers over one endpoint. Implementations deliver exactly
// one Completion for every accepted Submit, including cancelled transfers,
// in the order the transfers were submitted.
type Transport interface {
	// Submit starts a transfer on slot using buf. It must not block waiting
	// for the transfer; the caller guarantees slot is not in use.
	Submit(slot int, buf []byte) error

	// Cancel requests cancellation of the transfer on slot. A cancelled
	// transfer still produces a Completion with TransferStatusCancelled.
	Cancel(slot int) error

	// Completions returns the channel completions are delivered on.
	Completions() <-chan Completion

	// Close releases the transport. Outstanding transfers are cancelled.
	Close() error
}

// StreamHAL is implemented once per USB transport. It is the boundary
// between the streaming engine and a concrete backend.
type StreamHAL interface {
	// Speed returns the negotiated link speed.
	Speed() Speed

	// InitStream prepares transfer resources for one stream.
	InitStream(cfg StreamConfig) (Transport, error)
}
