// Package async implements the asynchronous transfer engine.
//
// A [Stream] owns a fixed pool of sample buffers and a [hal.Transport]. At
// most Config.NumTransfers buffers are with the transport at once. [Stream.Run]
// services completions on the calling goroutine and asks a [Callback] what
// to do with each completed buffer: submit another, submit nothing, or shut
// the stream down.
//
// The first transfer error stops the stream: outstanding transfers are
// cancelled, Run waits for the transport to return them and then reports the
// error. Cancellation of Run's context follows the same path, bounded by
// Config.DrainTimeout for transports that never return cancelled transfers.
//
//	s, err := async.New(backend, cb, async.Config{
//	    Direction:        hal.DirectionRX,
//	    Format:           hal.FormatSC16Q11,
//	    NumBuffers:       16,
//	    SamplesPerBuffer: 8192,
//	    NumTransfers:     8,
//	})
//	go s.Run(ctx, hal.LayoutRXX1)
package async
