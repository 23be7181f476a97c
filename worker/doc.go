// Package worker runs an async stream on a dedicated goroutine.
//
// A [Worker] starts idle. [RequestStart] resets its ring and runs the stream
// until it stops; the stream's error is kept for [Worker.Status] and the
// worker returns to idle, ready to be started again. [RequestStop] ends the
// goroutine. The completion callbacks installed on the stream move buffers
// between the transport and the ring and shut the stream down once a stop
// has been requested.
//
//	Startup -> Idle <-> Running
//	            |
//	            v
//	      ShuttingDown -> Stopped
//
// [Worker.Close] bounds every wait: a worker that does not stop in time has
// its stream cancelled, and one that still does not exit is abandoned.
package worker
