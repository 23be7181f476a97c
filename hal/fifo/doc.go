// Package fifo streams samples through named pipes, so a device simulator
// can run in a separate process.
//
// A stream directory holds two FIFOs and a speed file:
//
//	<bus>/stream-<uuid>/
//	    rx     device to host frames
//	    tx     host to device frames
//	    speed  link speed name
//
// Every transfer is one frame: a 4-byte little-endian payload length
// followed by the payload. [Create] makes a stream directory, [Open] attaches
// the host end ([Device], a [hal.StreamHAL]) and [OpenPeer] attaches the
// device end.
//
// Both ends open each FIFO read-write and non-blocking, so neither open
// waits for the other process and a departed peer reads as silence rather
// than end of file.
package fifo
