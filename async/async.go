package async

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/Nuand/bladeRF-sub005/hal"
	"github.com/Nuand/bladeRF-sub005/metrics"
	"github.com/Nuand/bladeRF-sub005/pkg"
)

// SamplesPerBufferMultiple is the granularity of stream buffer sizes.
const SamplesPerBufferMultiple = 1024

// DefaultDrainTimeout bounds how long a cancelled stream waits for the
// transport to return its outstanding transfers.
const DefaultDrainTimeout = time.Second

// State is the lifecycle state of a Stream.
type State uint8

// Stream states.
const (
	StateIdle         State = iota // Not yet run
	StateRunning                   // Transfers are being serviced
	StateShuttingDown              // Waiting for outstanding transfers
	StateDone                      // No transfers outstanding; Run returned or is returning
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting down"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Action tells the engine what to do after a callback.
type Action uint8

// Callback actions.
const (
	ActionSubmit   Action = iota // Submit Next.Buffer
	ActionNoData                 // Nothing to submit (TX only)
	ActionShutdown               // Stop the stream
)

// Completion is passed to a Callback. Buffer is -1 when no buffer completed,
// which happens while a TX stream primes its transfers.
type Completion struct {
	Buffer int
	Length int
}

// Next is a Callback's decision.
type Next struct {
	Action Action
	Buffer int // Buffer index to submit
	Length int // Bytes to submit; 0 submits the whole buffer
}

// Convenience results for callbacks.
var (
	NoData   = Next{Action: ActionNoData}
	Shutdown = Next{Action: ActionShutdown}
)

// SubmitBuffer returns a Next that submits the whole buffer idx.
func SubmitBuffer(idx int) Next {
	return Next{Action: ActionSubmit, Buffer: idx}
}

// Callback is invoked on the Run goroutine for every completed transfer
// while the stream is running. It is called with the stream lock held and
// must not call back into the Stream.
type Callback func(c Completion) Next

// Config describes a stream.
type Config struct {
	Direction        hal.Direction
	Format           hal.Format
	NumBuffers       int
	SamplesPerBuffer int
	NumTransfers     int
	Timeout          time.Duration // Per-transfer timeout
	DrainTimeout     time.Duration // Bound on waiting for cancelled transfers
	Clock            clock.Clock
	Metrics          *metrics.Stream
	Log              pkg.Logger // Defaults to the stream component tagged with Direction
}

func (c *Config) validate() error {
	switch {
	case !c.Format.Valid():
		return fmt.Errorf("format %d: %w", c.Format, pkg.ErrInval)
	case c.NumTransfers < 1:
		return fmt.Errorf("%d transfers: %w", c.NumTransfers, pkg.ErrInval)
	case c.NumTransfers > c.NumBuffers:
		return fmt.Errorf("%d transfers exceed %d buffers: %w", c.NumTransfers, c.NumBuffers, pkg.ErrInval)
	case c.SamplesPerBuffer < SamplesPerBufferMultiple || c.SamplesPerBuffer%SamplesPerBufferMultiple != 0:
		return fmt.Errorf("buffer size %d is not a multiple of %d: %w",
			c.SamplesPerBuffer, SamplesPerBufferMultiple, pkg.ErrInval)
	}
	return nil
}

type transferState uint8

const (
	transferAvail transferState = iota
	transferInFlight
	transferCancelling
)

// Stream drives a hal.Transport with a fixed pool of buffers. It owns the
// transfer slots: at most NumTransfers buffers are with the transport at
// any time.
type Stream struct {
	mu   sync.Mutex
	cond *pkg.Cond

	cfg       Config
	transport hal.Transport
	cb        Callback
	buffers   [][]byte

	slots    []transferState
	slotBuf  []int
	numAvail int
	nextSlot int

	state  State
	err    error
	layout hal.Layout
	closed bool

	wake chan struct{}
}

// New allocates the buffer pool and the backend transfer resources. On error
// nothing is retained.
func New(h hal.StreamHAL, cb Callback, cfg Config) (*Stream, error) {
	if h == nil || cb == nil {
		return nil, pkg.ErrInval
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	if !cfg.Log.Valid() {
		cfg.Log = pkg.NewComponentLogger(pkg.ComponentStream, "dir", cfg.Direction)
	}

	size := cfg.SamplesPerBuffer * cfg.Format.BytesPerSample()
	buffers := make([][]byte, cfg.NumBuffers)
	for i := range buffers {
		buffers[i] = make([]byte, size)
	}

	transport, err := h.InitStream(hal.StreamConfig{
		Direction:    cfg.Direction,
		NumTransfers: cfg.NumTransfers,
		BufferSize:   size,
		Timeout:      cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("init %s stream: %w", cfg.Direction, err)
	}

	s := &Stream{
		cfg:       cfg,
		transport: transport,
		cb:        cb,
		buffers:   buffers,
		slots:     make([]transferState, cfg.NumTransfers),
		slotBuf:   make([]int, cfg.NumTransfers),
		numAvail:  cfg.NumTransfers,
		wake:      make(chan struct{}, 1),
	}
	s.cond = pkg.NewCond(&s.mu, cfg.Clock)

	cfg.Log.Debug("stream initialized",
		"format", cfg.Format,
		"buffers", cfg.NumBuffers,
		"samples", cfg.SamplesPerBuffer,
		"transfers", cfg.NumTransfers)
	return s, nil
}

// Buffers returns the buffer pool. The slices stay valid until Close.
func (s *Stream) Buffers() [][]byte {
	return s.buffers
}

// Config returns the stream configuration.
func (s *Stream) Config() Config {
	return s.cfg
}

// State returns the current state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// InFlight returns the number of transfers held by the transport.
func (s *Stream) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.NumTransfers - s.numAvail
}

// Run streams until the stream is shut down, a transfer fails, or ctx is
// done. It blocks and returns the first error encountered.
//
// RX streams start by submitting buffers 0 through NumTransfers-1. TX streams
// ask the callback NumTransfers times for a buffer to send.
func (s *Stream) Run(ctx context.Context, layout hal.Layout) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return pkg.ErrClosed
	}
	if s.state == StateRunning || s.state == StateShuttingDown {
		s.mu.Unlock()
		return fmt.Errorf("stream already %s: %w", s.state, pkg.ErrUnexpected)
	}

	s.state = StateRunning
	s.err = nil
	s.layout = layout
	s.cond.Broadcast()

	s.cfg.Log.Debug("stream running", "layout", layout)

	for i := 0; i < s.cfg.NumTransfers && s.state == StateRunning; i++ {
		if s.cfg.Direction == hal.DirectionTX {
			s.apply(s.cb(Completion{Buffer: -1}))
		} else {
			s.apply(SubmitBuffer(i))
		}
	}
	s.checkDone()

	done := ctx.Done()
	var drain <-chan time.Time
	var drainTimer *clock.Timer

	for s.state != StateDone {
		s.mu.Unlock()
		select {
		case c, ok := <-s.transport.Completions():
			s.mu.Lock()
			if !ok {
				s.fail(fmt.Errorf("completion channel closed: %w", pkg.ErrIO))
				s.abandon()
				continue
			}
			s.complete(c)

		case <-s.wake:
			s.mu.Lock()

		case <-done:
			s.mu.Lock()
			done = nil
			s.cfg.Log.Debug("stream cancelled")
			s.beginShutdown()
			s.checkDone()
			drainTimer = s.cfg.Clock.Timer(s.cfg.DrainTimeout)
			drain = drainTimer.C

		case <-drain:
			s.mu.Lock()
			if s.state != StateDone {
				s.cfg.Log.Error("transport did not return cancelled transfers",
					"outstanding", s.cfg.NumTransfers-s.numAvail)
				if s.err == nil {
					s.err = fmt.Errorf("draining transfers: %w", pkg.ErrTimeout)
				}
				s.abandon()
			}
		}
	}
	if drainTimer != nil {
		drainTimer.Stop()
	}

	err := s.err
	s.cond.Broadcast()
	s.mu.Unlock()

	s.cfg.Log.Debug("stream done", "error", err)
	return err
}

// Submit hands buffer idx to the transport. It waits up to timeout for the
// stream to run and then for a free transfer slot. With nonblock set it
// returns pkg.ErrWouldBlock instead of waiting for a slot. A zero length
// submits the whole buffer.
func (s *Stream) Submit(idx, length int, timeout time.Duration, nonblock bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitWait(idx, length, timeout, nonblock, nil, nil)
}

// SubmitDeferred is a non-blocking Submit. Both hooks run with the stream
// lock held, so no completion is processed between a hook and the outcome it
// reports. onSubmit runs once a transfer slot is reserved for idx and before
// the buffer reaches the transport. When no transfer slot is free,
// onWouldBlock runs instead and pkg.ErrWouldBlock is returned.
func (s *Stream) SubmitDeferred(idx, length int, timeout time.Duration, onSubmit, onWouldBlock func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitWait(idx, length, timeout, true, onSubmit, onWouldBlock)
}

// Shutdown stops the stream. With no transfer outstanding the stream is done
// immediately. Otherwise it shuts down: the next completion cancels the
// remaining transfers and the stream is done once all have returned.
func (s *Stream) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.numAvail == s.cfg.NumTransfers {
		s.state = StateDone
	} else {
		s.state = StateShuttingDown
	}
	s.cond.Broadcast()
	s.notify()
}

// Reset returns a finished stream to idle, discarding its error, so that
// submitters wait for the next Run instead of failing.
func (s *Stream) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDone {
		s.state = StateIdle
		s.err = nil
	}
}

// Close waits for the stream to be done, bounded by the drain timeout, and
// releases the transport and buffers.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	err := s.waitUntil(func() bool {
		return s.state == StateDone || s.state == StateIdle
	}, s.cfg.DrainTimeout)
	if err != nil {
		s.cfg.Log.Warn("closing stream that is still active", "state", s.state)
	}
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()

	err = s.transport.Close()
	s.buffers = nil
	s.cfg.Log.Debug("stream closed")
	return err
}

// =============================================================================
// Internals (s.mu held)
// =============================================================================

func (s *Stream) submitWait(idx, length int, timeout time.Duration, nonblock bool, onSubmit, onWouldBlock func()) error {
	if s.closed {
		return pkg.ErrClosed
	}

	err := s.waitUntil(func() bool {
		return s.state == StateRunning || s.state == StateDone || s.closed
	}, timeout)
	if err != nil {
		return fmt.Errorf("waiting for stream to start: %w", err)
	}

	if s.numAvail == 0 {
		if nonblock {
			if onWouldBlock != nil {
				onWouldBlock()
			}
			return pkg.ErrWouldBlock
		}
		err := s.waitUntil(func() bool {
			return s.numAvail > 0 || s.state != StateRunning || s.closed
		}, timeout)
		if err != nil {
			return fmt.Errorf("waiting for transfer slot: %w", err)
		}
	}

	if s.closed {
		return pkg.ErrClosed
	}
	if s.state != StateRunning {
		if s.err != nil {
			return s.err
		}
		return pkg.ErrNotRunning
	}
	if onSubmit != nil {
		onSubmit()
	}
	return s.submitLocked(idx, length)
}

// waitUntil waits for pred with an overall deadline. A zero timeout waits
// forever.
func (s *Stream) waitUntil(pred func() bool, timeout time.Duration) error {
	if timeout <= 0 {
		for !pred() {
			_ = s.cond.Wait(0)
		}
		return nil
	}

	deadline := s.cfg.Clock.Now().Add(timeout)
	for !pred() {
		remaining := deadline.Sub(s.cfg.Clock.Now())
		if remaining <= 0 {
			return pkg.ErrTimeout
		}
		if err := s.cond.Wait(remaining); err != nil && !pred() {
			return err
		}
	}
	return nil
}

func (s *Stream) submitLocked(idx, length int) error {
	if idx < 0 || idx >= len(s.buffers) {
		return fmt.Errorf("buffer %d: %w", idx, pkg.ErrInval)
	}
	if s.numAvail == 0 {
		return fmt.Errorf("no transfer slot for buffer %d: %w", idx, pkg.ErrUnexpected)
	}

	slot := -1
	for i := 0; i < len(s.slots); i++ {
		j := (s.nextSlot + i) % len(s.slots)
		if s.slots[j] == transferAvail {
			slot = j
			break
		}
	}
	if slot < 0 {
		return fmt.Errorf("transfer accounting: %w", pkg.ErrUnexpected)
	}

	buf := s.buffers[idx]
	if length > 0 && length < len(buf) {
		buf = buf[:length]
	}

	s.slots[slot] = transferInFlight
	s.slotBuf[slot] = idx
	s.numAvail--

	if err := s.transport.Submit(slot, buf); err != nil {
		s.slots[slot] = transferAvail
		s.numAvail++
		return fmt.Errorf("submit buffer %d: %w", idx, err)
	}
	s.nextSlot = (slot + 1) % len(s.slots)
	return nil
}

func (s *Stream) apply(next Next) {
	switch next.Action {
	case ActionShutdown:
		s.beginShutdown()
	case ActionNoData:
	case ActionSubmit:
		if err := s.submitLocked(next.Buffer, next.Length); err != nil {
			s.fail(err)
		}
	}
}

func (s *Stream) complete(c hal.Completion) {
	if c.Slot < 0 || c.Slot >= len(s.slots) || s.slots[c.Slot] == transferAvail {
		s.cfg.Log.Warn("completion for idle transfer slot", "slot", c.Slot)
		return
	}

	idx := s.slotBuf[c.Slot]
	s.slots[c.Slot] = transferAvail
	s.numAvail++
	s.cond.Broadcast()

	if err := c.Status.Error(); err != nil {
		s.cfg.Log.Debug("transfer failed",
			"status", c.Status, "buffer", idx)
		s.cfg.Metrics.TransferError()
		s.fail(err)
	}

	if s.state == StateRunning {
		s.apply(s.cb(Completion{Buffer: idx, Length: c.Length}))
	}

	s.checkDone()
	if s.state == StateShuttingDown {
		s.cancelAll()
	}
}

func (s *Stream) fail(err error) {
	if s.err == nil {
		s.err = err
	}
	s.beginShutdown()
}

func (s *Stream) beginShutdown() {
	if s.state == StateDone {
		return
	}
	s.state = StateShuttingDown
	s.cancelAll()
	s.cond.Broadcast()
}

func (s *Stream) checkDone() {
	if s.state == StateShuttingDown && s.numAvail == s.cfg.NumTransfers {
		s.state = StateDone
		s.cond.Broadcast()
	}
}

// abandon forces the stream done while the transport still holds transfers.
func (s *Stream) abandon() {
	s.state = StateDone
	s.cond.Broadcast()
}

func (s *Stream) cancelAll() {
	for i, st := range s.slots {
		if st != transferInFlight {
			continue
		}
		if err := s.transport.Cancel(i); err != nil {
			s.cfg.Log.Debug("cancel failed", "slot", i, "error", err)
			continue
		}
		s.slots[i] = transferCancelling
	}
}

func (s *Stream) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
