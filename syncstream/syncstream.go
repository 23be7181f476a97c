package syncstream

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/Nuand/bladeRF-sub005/hal"
	"github.com/Nuand/bladeRF-sub005/metadata"
	"github.com/Nuand/bladeRF-sub005/metrics"
	"github.com/Nuand/bladeRF-sub005/pkg"
	"github.com/Nuand/bladeRF-sub005/ring"
	"github.com/Nuand/bladeRF-sub005/worker"
)

const (
	// StartTimeout bounds the wait for a started worker to run its stream.
	StartTimeout = 250 * time.Millisecond

	// BufferAlignment is the byte granularity of stream buffers.
	BufferAlignment = 4096

	// minZeroRun is the number of trailing zero samples the FPGA needs
	// before a TX timestamp discontinuity to hold the DAC at zero.
	minZeroRun = 3
)

// Metadata accompanies samples of timestamped and packet formats.
type Metadata struct {
	Timestamp   uint64 // RX: first requested sample; TX: first sample to send
	Flags       uint32 // metadata.Flag* bits
	Status      uint32 // RX: metadata.Status* and hardware status bits
	ActualCount int    // RX: samples returned
}

// Config describes a sync stream.
type Config struct {
	Layout           hal.Layout
	Format           hal.Format
	NumBuffers       int
	SamplesPerBuffer int
	NumTransfers     int
	Timeout          time.Duration // Per-transfer timeout
	MessageSize      int           // Bytes per metadata message
	StopTimeout      time.Duration // Worker stop timeout (default worker.StopTimeout)
	Clock            clock.Clock
	Metrics          *metrics.Stream
}

func (c *Config) validate() error {
	bps := c.Format.BytesPerSample()
	switch {
	case bps == 0:
		return fmt.Errorf("format %d: %w", c.Format, pkg.ErrInval)
	case c.NumTransfers >= c.NumBuffers:
		return fmt.Errorf("%d transfers need more than %d buffers: %w", c.NumTransfers, c.NumBuffers, pkg.ErrInval)
	case (bps*c.SamplesPerBuffer)%BufferAlignment != 0:
		return fmt.Errorf("buffer of %d samples is not a multiple of %d bytes: %w",
			c.SamplesPerBuffer, BufferAlignment, pkg.ErrInval)
	}
	if c.Format.Timestamped() {
		if c.MessageSize <= metadata.HeaderSize || c.MessageSize%bps != 0 ||
			(bps*c.SamplesPerBuffer)%c.MessageSize != 0 {
			return fmt.Errorf("message size %d: %w", c.MessageSize, pkg.ErrInval)
		}
	}
	return nil
}

// state is the caller-side state of a Handle.
type state uint8

const (
	stateCheckWorker state = iota
	stateResetBufMgmt
	stateStartWorker
	stateWaitForBuffer
	stateBufferReady
	stateUsingBuffer
	stateUsingBufferMeta
	stateUsingPacketMeta
)

func (s state) String() string {
	switch s {
	case stateCheckWorker:
		return "check worker"
	case stateResetBufMgmt:
		return "reset buffer management"
	case stateStartWorker:
		return "start worker"
	case stateWaitForBuffer:
		return "wait for buffer"
	case stateBufferReady:
		return "buffer ready"
	case stateUsingBuffer:
		return "using buffer"
	case stateUsingBufferMeta:
		return "using buffer (metadata)"
	case stateUsingPacketMeta:
		return "using packet (metadata)"
	default:
		return "unknown"
	}
}

// metaState is the message-level state of timestamped formats.
type metaState uint8

const (
	metaHeader metaState = iota
	metaSamples
)

type metaInfo struct {
	state         metaState
	msgSize       int
	msgPerBuf     int
	samplesPerMsg int
	samplesPerTS  int

	msgNum        int
	currMsgOff    int // samples of the current message already used
	currTimestamp uint64

	inBurst bool
	now     bool
}

// Handle is a blocking stream in one direction. RX and TX are safe for
// concurrent use, though calls are serialized.
type Handle struct {
	mu sync.Mutex

	id      uuid.UUID
	cfg     Config
	dir     hal.Direction
	bps     int
	ring    *ring.Ring
	worker  *worker.Worker
	buffers [][]byte
	metrics *metrics.Stream
	log     pkg.Logger

	state  state
	meta   metaInfo
	closed bool
}

// New validates cfg, creates the buffer ring and starts an idle worker.
func New(h hal.StreamHAL, cfg Config) (*Handle, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	dir := cfg.Layout.Direction()
	submitter := ring.SubmitterInvalid
	if dir == hal.DirectionTX {
		submitter = ring.SubmitterFn
	}
	r := ring.New(cfg.NumBuffers, cfg.NumTransfers, submitter, cfg.Clock)

	id := uuid.New()
	log := pkg.NewComponentLogger(pkg.ComponentSync, "session", id, "layout", cfg.Layout)

	w, err := worker.New(h, r, worker.Config{
		Layout:           cfg.Layout,
		Format:           cfg.Format,
		NumBuffers:       cfg.NumBuffers,
		SamplesPerBuffer: cfg.SamplesPerBuffer,
		NumTransfers:     cfg.NumTransfers,
		Timeout:          cfg.Timeout,
		StopTimeout:      cfg.StopTimeout,
		Clock:            cfg.Clock,
		Metrics:          cfg.Metrics,
		Log:              log.For(pkg.ComponentWorker),
	})
	if err != nil {
		return nil, err
	}

	bps := cfg.Format.BytesPerSample()
	s := &Handle{
		id:      id,
		cfg:     cfg,
		dir:     dir,
		bps:     bps,
		ring:    r,
		worker:  w,
		buffers: w.Stream().Buffers(),
		metrics: cfg.Metrics,
		log:     log,
		state:   stateCheckWorker,
	}
	s.meta.samplesPerTS = cfg.Layout.SamplesPerTimestamp()
	if cfg.Format.Timestamped() {
		s.meta.msgSize = cfg.MessageSize
		s.meta.samplesPerMsg = metadata.SamplesPerMessage(cfg.MessageSize, bps)
		s.meta.msgPerBuf = metadata.MessagesPerBuffer(cfg.MessageSize, cfg.SamplesPerBuffer, bps)
	}

	log.Debug("sync stream initialized",
		"format", cfg.Format,
		"buffers", cfg.NumBuffers,
		"samples", cfg.SamplesPerBuffer,
		"transfers", cfg.NumTransfers,
		"msg_size", cfg.MessageSize)
	return s, nil
}

// ID returns the session identifier used in log records.
func (s *Handle) ID() uuid.UUID {
	return s.id
}

// Config returns the stream configuration.
func (s *Handle) Config() Config {
	return s.cfg
}

// Close stops the worker and releases the stream. A TX stream is shut down
// before the worker is stopped so that in-flight buffers drain.
func (s *Handle) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.dir == hal.DirectionTX {
		s.worker.Stream().Shutdown()
	}
	err := s.worker.Close()

	s.ring.Lock()
	s.ring.Drain()
	s.ring.Unlock()

	s.log.Debug("sync stream closed")
	return err
}

// checkArgs validates the common RX/TX arguments.
func (s *Handle) checkArgs(dir hal.Direction, samples []byte, n int, md *Metadata) error {
	if s.closed {
		return pkg.ErrClosed
	}
	if s.dir != dir {
		return fmt.Errorf("%s call on %s stream: %w", dir, s.dir, pkg.ErrInval)
	}
	if n < 0 || len(samples) < n*s.bps {
		return fmt.Errorf("%d samples in %d bytes: %w", n, len(samples), pkg.ErrInval)
	}
	if n%s.meta.samplesPerTS != 0 {
		return fmt.Errorf("%d samples with layout %s: %w", n, s.cfg.Layout, pkg.ErrInval)
	}
	if md == nil && (s.cfg.Format.Timestamped() || s.cfg.Format.Packet()) {
		return fmt.Errorf("%s requires metadata: %w", s.cfg.Format, pkg.ErrInval)
	}
	return nil
}

// checkWorker inspects the worker and picks the next caller state.
func (s *Handle) checkWorker() error {
	ws, err := s.worker.Status()
	switch ws {
	case worker.StateIdle:
		if err != nil {
			s.log.Debug("worker stopped with error", "error", err)
			s.metrics.TransferError()
			return err
		}
		s.state = stateResetBufMgmt
	case worker.StateRunning:
		s.state = stateWaitForBuffer
	default:
		s.log.Error("unexpected worker state", "state", ws)
		return fmt.Errorf("worker %s: %w", ws, pkg.ErrUnexpected)
	}
	return nil
}

// resetBufMgmt clears caller-side buffer state before the worker restarts.
// An RX worker submits the first buffers itself, so consumption restarts at
// slot 0. A TX ring is emptied: buffers left full by a failed stream are
// dropped and the caller submits again.
func (s *Handle) resetBufMgmt() {
	r := s.ring
	r.Lock()
	if s.dir == hal.DirectionTX {
		r.Drain()
		r.ProdI = 0
		r.ConsI = ring.InvalidIndex
		r.Submitter = ring.SubmitterFn
	} else {
		r.ConsI = 0
	}
	r.PartialOff = 0
	r.Unlock()

	s.meta.state = metaHeader
	s.meta.msgNum = 0
	s.meta.currMsgOff = 0
	s.state = stateStartWorker
}

// startWorker requests a worker start and waits for it to run.
func (s *Handle) startWorker() error {
	s.worker.Request(worker.RequestStart)
	if err := s.worker.WaitForState(worker.StateRunning, StartTimeout); err != nil {
		s.log.Debug("worker did not start", "error", err)
		return err
	}
	s.log.Debug("worker running")
	s.state = stateWaitForBuffer
	return nil
}

// waitForBuffer waits until slot idx has status want. On wakeup without the
// status, or when the worker is no longer running, the caller rechecks the
// worker. The ring lock is held.
func (s *Handle) waitForBuffer(idx int, want ring.Status, timeout time.Duration) error {
	if s.ring.Status[idx] == want {
		s.state = stateBufferReady
		return nil
	}
	if s.worker.State() != worker.StateRunning {
		s.state = stateCheckWorker
		return nil
	}
	if err := s.ring.Cond.Wait(timeout); err != nil {
		s.metrics.Timeout()
		s.log.Debug("timed out waiting for buffer",
			"buffer", idx, "timeout", timeout)
		return fmt.Errorf("waiting for buffer %d: %w", idx, err)
	}
	if s.ring.Status[idx] == want {
		s.state = stateBufferReady
	} else {
		s.state = stateCheckWorker
	}
	return nil
}

// bufferReadyState returns the state for a buffer of the stream's format.
func (s *Handle) bufferReadyState() state {
	switch {
	case s.cfg.Format.Timestamped():
		s.meta.msgNum = 0
		s.meta.currMsgOff = 0
		s.meta.state = metaHeader
		return stateUsingBufferMeta
	case s.cfg.Format.Packet():
		return stateUsingPacketMeta
	default:
		return stateUsingBuffer
	}
}

// message returns message num of buffer idx.
func (s *Handle) message(idx, num int) []byte {
	off := num * s.meta.msgSize
	return s.buffers[idx][off : off+s.meta.msgSize]
}
