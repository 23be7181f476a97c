// Package sim provides an in-memory simulated radio implementing
// [hal.StreamHAL].
//
// RX transfers are filled with a deterministic ramp (see [Ramp]) or a
// caller-supplied [Source], wrapped in metadata headers for timestamped and
// packet formats. Timestamps advance with every message and can jump at
// configured intervals to simulate dropped samples. TX transfers are
// recorded or handed to a [Sink].
//
// Transfers can be paced to a sample rate, delayed, paused or made to fail,
// which makes the package the scripted backend for engine tests and the
// default backend of the bladestream command.
package sim
