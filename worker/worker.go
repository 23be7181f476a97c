package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/Nuand/bladeRF-sub005/async"
	"github.com/Nuand/bladeRF-sub005/hal"
	"github.com/Nuand/bladeRF-sub005/metrics"
	"github.com/Nuand/bladeRF-sub005/pkg"
	"github.com/Nuand/bladeRF-sub005/ring"
)

// Worker lifecycle timeouts.
const (
	// InitTimeout bounds the wait for a new worker to become idle.
	InitTimeout = time.Second

	// StopTimeout bounds the wait for a stopping worker to finish.
	StopTimeout = 3 * time.Second

	// ForcedStopTimeout bounds the wait after the worker's stream has been
	// cancelled.
	ForcedStopTimeout = time.Second
)

// State is the lifecycle state of a Worker.
type State uint8

// Worker states.
const (
	StateStartup      State = iota // Goroutine launched
	StateIdle                      // Waiting for a request
	StateRunning                   // Stream running
	StateShuttingDown              // Stop requested
	StateStopped                   // Goroutine finished
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStartup:
		return "startup"
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Request is a bitmask of pending worker requests.
type Request uint32

// Worker requests.
const (
	RequestStart Request = 1 << 0
	RequestStop  Request = 1 << 1
)

// Config describes the stream a worker runs.
type Config struct {
	Layout           hal.Layout
	Format           hal.Format
	NumBuffers       int
	SamplesPerBuffer int
	NumTransfers     int
	Timeout          time.Duration // Per-transfer timeout
	StopTimeout      time.Duration // Defaults to StopTimeout
	Clock            clock.Clock
	Metrics          *metrics.Stream
	Log              pkg.Logger // Defaults to the worker component tagged with Layout
}

// Worker runs one async stream on a dedicated goroutine and connects its
// completions to a ring.
type Worker struct {
	stream *async.Stream
	ring   *ring.Ring
	layout hal.Layout
	clock  clock.Clock
	log    pkg.Logger

	stopTimeout time.Duration

	reqMu    sync.Mutex
	reqCond  *pkg.Cond
	requests Request

	stateMu   sync.Mutex
	stateCond *pkg.Cond
	state     State
	err       error

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// New creates the worker's async stream, launches the worker goroutine and
// waits for it to become idle.
func New(h hal.StreamHAL, r *ring.Ring, cfg Config) (*Worker, error) {
	if r == nil {
		return nil, pkg.ErrInval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = StopTimeout
	}
	if !cfg.Log.Valid() {
		cfg.Log = pkg.NewComponentLogger(pkg.ComponentWorker, "layout", cfg.Layout)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		ring:        r,
		layout:      cfg.Layout,
		clock:       cfg.Clock,
		log:         cfg.Log,
		stopTimeout: cfg.StopTimeout,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	w.reqCond = pkg.NewCond(&w.reqMu, cfg.Clock)
	w.stateCond = pkg.NewCond(&w.stateMu, cfg.Clock)

	cb := w.rxCallback
	if cfg.Layout.Direction() == hal.DirectionTX {
		cb = w.txCallback
	}

	s, err := async.New(h, cb, async.Config{
		Direction:        cfg.Layout.Direction(),
		Format:           cfg.Format,
		NumBuffers:       cfg.NumBuffers,
		SamplesPerBuffer: cfg.SamplesPerBuffer,
		NumTransfers:     cfg.NumTransfers,
		Timeout:          cfg.Timeout,
		Clock:            cfg.Clock,
		Metrics:          cfg.Metrics,
		Log:              cfg.Log.For(pkg.ComponentStream),
	})
	if err != nil {
		cancel()
		return nil, err
	}
	w.stream = s

	go w.run()

	if err := w.WaitForState(StateIdle, InitTimeout); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("worker startup: %w", err)
	}
	return w, nil
}

// Stream returns the worker's async stream.
func (w *Worker) Stream() *async.Stream {
	return w.stream
}

// Request posts req and wakes the worker.
func (w *Worker) Request(req Request) {
	w.reqMu.Lock()
	defer w.reqMu.Unlock()
	w.requests |= req
	w.reqCond.Broadcast()
}

// State returns the current state.
func (w *Worker) State() State {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	return w.state
}

// Status returns the current state and the error of the last stream run,
// clearing the stored error.
func (w *Worker) Status() (State, error) {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	err := w.err
	w.err = nil
	return w.state, err
}

// WaitForState waits up to timeout for the worker to reach state. A zero
// timeout waits forever.
func (w *Worker) WaitForState(state State, timeout time.Duration) error {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()

	if timeout <= 0 {
		for w.state != state {
			_ = w.stateCond.Wait(0)
		}
		return nil
	}

	deadline := w.clock.Now().Add(timeout)
	for w.state != state {
		remaining := deadline.Sub(w.clock.Now())
		if remaining <= 0 {
			return fmt.Errorf("worker in %s, waiting for %s: %w", w.state, state, pkg.ErrTimeout)
		}
		_ = w.stateCond.Wait(remaining)
	}
	return nil
}

// Close stops the worker and releases its stream. If the worker does not
// stop within the stop timeout its stream is cancelled; a worker that still
// does not exit is abandoned.
func (w *Worker) Close() error {
	w.closeOnce.Do(func() {
		w.Request(RequestStop)

		w.ring.Lock()
		w.ring.Signal()
		w.ring.Unlock()

		if err := w.WaitForState(StateStopped, w.stopTimeout); err != nil {
			w.log.Warn("worker did not stop, cancelling stream", "state", w.State())
			w.cancel()
			select {
			case <-w.done:
			case <-w.clock.After(ForcedStopTimeout):
				w.log.Error("abandoning unresponsive worker")
			}
		}
		w.cancel()
		w.closeErr = w.stream.Close()
	})
	return w.closeErr
}

// =============================================================================
// Worker goroutine
// =============================================================================

func (w *Worker) setState(state State) {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	w.state = state
	w.stateCond.Broadcast()
}

func (w *Worker) run() {
	defer close(w.done)

	w.log.Debug("worker started")
	w.setState(StateIdle)

	for {
		switch w.State() {
		case StateIdle:
			w.execIdle()
		case StateRunning:
			w.execRunning()
		default:
			w.setState(StateStopped)
			w.log.Debug("worker stopped")
			return
		}
	}
}

func (w *Worker) execIdle() {
	w.reqMu.Lock()
	for w.requests == 0 && w.ctx.Err() == nil {
		_ = w.reqCond.WaitContext(w.ctx)
	}
	req := w.requests
	if req&RequestStop == 0 && req&RequestStart != 0 {
		w.requests &^= RequestStart
	}
	w.reqMu.Unlock()

	switch {
	case req&RequestStop != 0 || w.ctx.Err() != nil:
		w.log.Debug("stop requested")
		w.setState(StateShuttingDown)

	case req&RequestStart != 0:
		w.log.Debug("start requested")
		w.ring.Lock()
		if w.layout.Direction() == hal.DirectionTX {
			w.ring.ResetTX()
		} else {
			w.ring.ResetRX()
		}
		w.ring.Unlock()
		w.stream.Reset()
		w.setState(StateRunning)
	}
}

func (w *Worker) execRunning() {
	err := w.stream.Run(w.ctx, w.layout)
	if err != nil {
		w.log.Debug("stream stopped with error", "error", err)
	}

	// Idle is published before the ring is signalled so that a woken
	// caller finds the worker stopped.
	w.stateMu.Lock()
	w.err = err
	w.state = StateIdle
	w.stateCond.Broadcast()
	w.stateMu.Unlock()

	w.ring.Lock()
	w.ring.Signal()
	w.ring.Unlock()
}

// =============================================================================
// Completion callbacks (stream lock held)
// =============================================================================

func (w *Worker) stopRequested() bool {
	w.reqMu.Lock()
	defer w.reqMu.Unlock()
	return w.requests&RequestStop != 0
}

func (w *Worker) rxCallback(c async.Completion) async.Next {
	if w.stopRequested() {
		return async.Shutdown
	}
	return async.SubmitBuffer(w.ring.RXComplete(c.Buffer, c.Length))
}

func (w *Worker) txCallback(c async.Completion) async.Next {
	if w.stopRequested() {
		return async.Shutdown
	}
	next, length, ok := w.ring.TXComplete(c.Buffer)
	if !ok {
		return async.NoData
	}
	return async.Next{Action: async.ActionSubmit, Buffer: next, Length: length}
}
