// Package syncstream provides blocking RX and TX calls on top of a worker
// driven async stream.
//
// A [Handle] owns a [worker.Worker] and the [ring.Ring] it fills or drains.
// The first RX or TX call starts the worker; later calls copy samples
// between the caller and ring buffers, waiting on the ring when no buffer
// is ready. A stream error stops the worker and is returned by the next
// call; the call after that restarts the stream.
//
// Timestamped formats split every buffer into messages that each begin with
// a metadata header. RX calls select samples by timestamp and report
// discontinuities in [Metadata].Status. TX calls group samples into bursts:
//
//	md := syncstream.Metadata{Timestamp: t, Flags: metadata.FlagTXBurstStart}
//	err := h.TX(first, n, &md, time.Second)
//	md = syncstream.Metadata{Flags: metadata.FlagTXBurstEnd}
//	err = h.TX(last, m, &md, time.Second)
//
// TX buffers are submitted by the caller while the transport has free
// transfers. Otherwise submission passes to the worker's completion callback
// until it catches up.
package syncstream
