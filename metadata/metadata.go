package metadata

import "encoding/binary"

// HeaderSize is the size of the metadata header at the start of every
// message of a timestamped stream.
const HeaderSize = 16

// Header field offsets.
const (
	offsetReserved  = 0
	offsetTimestamp = 4
	offsetFlags     = 12

	offsetPacketLength = 0
	offsetPacketFlags  = 2
	offsetPacketCore   = 3
)

// Caller-visible metadata flags.
const (
	// FlagTXBurstStart marks the first sample of a burst.
	FlagTXBurstStart uint32 = 1 << 0

	// FlagTXBurstEnd marks the last sample of a burst. The remainder of the
	// current buffer is zero-filled and submitted.
	FlagTXBurstEnd uint32 = 1 << 1

	// FlagTXNow transmits the burst as soon as possible, ignoring the
	// timestamp. Only valid together with FlagTXBurstStart.
	FlagTXNow uint32 = 1 << 2

	// FlagTXUpdateTimestamp lets a caller move the timestamp forward within
	// a burst. The gap is filled with zero samples.
	FlagTXUpdateTimestamp uint32 = 1 << 3

	// FlagRXNow reads samples immediately, reporting the timestamp of the
	// first one.
	FlagRXNow uint32 = 1 << 31
)

// Hardware status bits reported in the flags word of RX message headers.
const (
	FlagRXHWUnderflow uint32 = 1 << 0
	FlagRXHWMiniExp1  uint32 = 1 << 16
	FlagRXHWMiniExp2  uint32 = 1 << 17

	// RXHWStatusMask selects the header bits forwarded to callers.
	RXHWStatusMask = FlagRXHWUnderflow | FlagRXHWMiniExp1 | FlagRXHWMiniExp2
)

// Status bits reported back to callers.
const (
	// StatusOverrun reports a discontinuity: samples were lost between the
	// last returned sample and the next one.
	StatusOverrun uint32 = 1 << 0

	// StatusUnderrun reports the TX path ran out of samples.
	StatusUnderrun uint32 = 1 << 1
)

// Encode writes a header with timestamp and flags into hdr. The reserved
// word is zeroed. hdr must be at least HeaderSize bytes.
func Encode(hdr []byte, timestamp uint64, flags uint32) {
	_ = hdr[HeaderSize-1]
	binary.LittleEndian.PutUint32(hdr[offsetReserved:], 0)
	binary.LittleEndian.PutUint64(hdr[offsetTimestamp:], timestamp)
	binary.LittleEndian.PutUint32(hdr[offsetFlags:], flags)
}

// Header returns an encoded header.
func Header(timestamp uint64, flags uint32) [HeaderSize]byte {
	var hdr [HeaderSize]byte
	Encode(hdr[:], timestamp, flags)
	return hdr
}

// Decode reads the timestamp and flags of the header at the start of hdr.
func Decode(hdr []byte) (timestamp uint64, flags uint32) {
	_ = hdr[HeaderSize-1]
	timestamp = binary.LittleEndian.Uint64(hdr[offsetTimestamp:])
	flags = binary.LittleEndian.Uint32(hdr[offsetFlags:])
	return timestamp, flags
}

// Packet describes the header of a packet-metadata buffer.
type Packet struct {
	Length    uint16 // Payload length in 32-bit words
	Flags     uint8  // Packet flags
	Core      uint8  // Destination or source core
	Timestamp uint64 // Sample timestamp
	MetaFlags uint32 // Metadata flags word
}

// EncodePacket writes a packet header into hdr.
func EncodePacket(hdr []byte, p Packet) {
	Encode(hdr, p.Timestamp, p.MetaFlags)
	binary.LittleEndian.PutUint16(hdr[offsetPacketLength:], p.Length)
	hdr[offsetPacketFlags] = p.Flags
	hdr[offsetPacketCore] = p.Core
}

// DecodePacket reads a packet header from hdr.
func DecodePacket(hdr []byte) Packet {
	ts, flags := Decode(hdr)
	return Packet{
		Length:    binary.LittleEndian.Uint16(hdr[offsetPacketLength:]),
		Flags:     hdr[offsetPacketFlags],
		Core:      hdr[offsetPacketCore],
		Timestamp: ts,
		MetaFlags: flags,
	}
}

// PacketLength returns the payload length, in 32-bit words, of the packet
// header at the start of hdr.
func PacketLength(hdr []byte) uint16 {
	return binary.LittleEndian.Uint16(hdr[offsetPacketLength:])
}

// SamplesPerMessage returns the number of samples following the header in a
// message of msgSize bytes.
func SamplesPerMessage(msgSize, bytesPerSample int) int {
	return (msgSize - HeaderSize) / bytesPerSample
}

// MessagesPerBuffer returns how many messages of msgSize bytes fit in a
// buffer of samplesPerBuffer samples.
func MessagesPerBuffer(msgSize, samplesPerBuffer, bytesPerSample int) int {
	return samplesPerBuffer / (msgSize / bytesPerSample)
}
