// Package ring manages the buffer ring shared by a stream's caller and its
// worker.
//
// Every buffer of an async stream has a [Status]. The worker's completion
// callbacks move buffers between the transport and the ring
// ([Ring.RXComplete], [Ring.TXComplete]); the sync engine consumes full RX
// buffers and fills empty TX buffers. Both sides hold the ring lock while
// touching ring state and broadcast [Ring.Cond] on changes.
//
// Lock order: a stream's lock may be held when the ring lock is taken, never
// the reverse.
package ring
