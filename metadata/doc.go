// Package metadata encodes and decodes the 16-byte header carried at the
// start of every message of a timestamped sample stream.
//
// # Wire format
//
// All multi-byte fields are little-endian:
//
//	offset  size  field
//	0       4     reserved (packet metadata: length, flags, core)
//	4       8     timestamp, in sample clock ticks
//	12      4     flags
//
// A message is 1024 bytes on a High Speed link and 2048 bytes on a
// SuperSpeed link; the samples of a message follow its header.
//
// In packet-metadata mode a buffer carries a single packet. Bytes 0-1 then
// hold the payload length in 32-bit words, byte 2 the packet flags and
// byte 3 the core identifier.
package metadata
