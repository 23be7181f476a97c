package hal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Nuand/bladeRF-sub005/pkg"
)

// TransferFunc performs one blocking transfer of buf. Implementations must
// return promptly once ctx is done.
type TransferFunc func(ctx context.Context, buf []byte) (int, error)

// job is one queued transfer.
type job struct {
	slot int
	buf  []byte
	ctx  context.Context
}

// TransferQueue adapts a blocking TransferFunc into an ordered Transport.
// Transfers execute one at a time in submission order on a dedicated
// goroutine, so backends whose data must stay in sequence (a pipe, a bulk
// stream, a simulated sample clock) never reorder buffers.
type TransferQueue struct {
	fn      TransferFunc
	timeout time.Duration

	jobs        chan job
	completions chan Completion

	mu      sync.Mutex
	cancels []context.CancelFunc
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTransferQueue creates a queue for cfg.NumTransfers slots and starts its
// transfer goroutine.
func NewTransferQueue(cfg StreamConfig, fn TransferFunc) (*TransferQueue, error) {
	if cfg.NumTransfers < 1 || fn == nil {
		return nil, pkg.ErrInval
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &TransferQueue{
		fn:          fn,
		timeout:     cfg.Timeout,
		jobs:        make(chan job, cfg.NumTransfers),
		completions: make(chan Completion, cfg.NumTransfers),
		cancels:     make([]context.CancelFunc, cfg.NumTransfers),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	go q.run()
	return q, nil
}

// Submit queues a transfer on slot.
func (q *TransferQueue) Submit(slot int, buf []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return pkg.ErrClosed
	}
	if slot < 0 || slot >= len(q.cancels) {
		return fmt.Errorf("transfer slot %d: %w", slot, pkg.ErrInval)
	}
	if q.cancels[slot] != nil {
		return fmt.Errorf("transfer slot %d busy: %w", slot, pkg.ErrUnexpected)
	}

	ctx, cancel := context.WithCancel(q.ctx)
	select {
	case q.jobs <- job{slot: slot, buf: buf, ctx: ctx}:
		q.cancels[slot] = cancel
		return nil
	default:
		cancel()
		return pkg.ErrWouldBlock
	}
}

// Cancel cancels the transfer on slot. Cancelling an idle slot is a no-op.
func (q *TransferQueue) Cancel(slot int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if slot < 0 || slot >= len(q.cancels) {
		return fmt.Errorf("transfer slot %d: %w", slot, pkg.ErrInval)
	}
	if c := q.cancels[slot]; c != nil {
		c()
	}
	return nil
}

// Completions returns the completion channel.
func (q *TransferQueue) Completions() <-chan Completion {
	return q.completions
}

// Close stops the transfer goroutine. Queued transfers are abandoned.
func (q *TransferQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	<-q.done
	return nil
}

// Pending returns the number of transfers submitted but not yet completed.
func (q *TransferQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, c := range q.cancels {
		if c != nil {
			n++
		}
	}
	return n
}

func (q *TransferQueue) run() {
	defer close(q.done)
	pkg.LogDebug(pkg.ComponentHAL, "transfer queue started", "slots", len(q.cancels))

	for {
		select {
		case <-q.ctx.Done():
			pkg.LogDebug(pkg.ComponentHAL, "transfer queue stopped")
			return
		case j := <-q.jobs:
			c := q.execute(j)
			select {
			case q.completions <- c:
			case <-q.ctx.Done():
				return
			}
		}
	}
}

// execute performs a single transfer and classifies its outcome.
func (q *TransferQueue) execute(j job) Completion {
	c := Completion{Slot: j.slot}

	defer func() {
		q.mu.Lock()
		if cancel := q.cancels[j.slot]; cancel != nil {
			cancel()
			q.cancels[j.slot] = nil
		}
		q.mu.Unlock()
	}()

	// Check if already cancelled
	if j.ctx.Err() != nil {
		c.Status = pkg.TransferStatusCancelled
		return c
	}

	ctx := j.ctx
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	n, err := q.fn(ctx, j.buf)
	c.Length = n

	switch {
	case err == nil:
		c.Status = pkg.TransferStatusSuccess
	case j.ctx.Err() != nil:
		c.Status = pkg.TransferStatusCancelled
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		c.Status = pkg.TransferStatusTimeout
	default:
		c.Status = pkg.StatusOf(err)
		pkg.LogDebug(pkg.ComponentHAL, "transfer failed", "slot", j.slot, "error", err)
	}
	return c
}
