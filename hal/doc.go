// Package hal defines the backend boundary of the streaming engine.
//
// A backend implements [StreamHAL] once per USB transport. The engine asks
// it for a [Transport] per stream and then drives that transport with three
// primitives: submit a buffer on a transfer slot, cancel a slot, and receive
// completions. Everything above that (transfer slot accounting, the run
// loop, shutdown) is implemented once in the async package.
//
// # Backends
//
//   - [github.com/Nuand/bladeRF-sub005/hal/sim]: in-memory simulated radio
//   - [github.com/Nuand/bladeRF-sub005/hal/fifo]: named pipes between processes
//   - [github.com/Nuand/bladeRF-sub005/hal/linux]: Linux usbfs URBs
//   - [github.com/Nuand/bladeRF-sub005/hal/libusb]: libusb via gousb
//
// Backends built on a blocking read or write wrap it with
// [NewTransferQueue], which preserves submission order.
//
// # Shared types
//
// The package also carries the small vocabulary every layer uses: [Speed],
// [Direction], [Layout], [Format] and [Capability].
package hal
