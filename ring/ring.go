package ring

import (
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/Nuand/bladeRF-sub005/pkg"
)

// Status is the state of one ring slot.
type Status uint8

// Slot statuses.
const (
	Empty    Status = iota // Free for the producer
	Partial                // Partially consumed or filled by the caller
	Full                   // Ready for the consumer
	InFlight               // Held by the transport
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case Empty:
		return "empty"
	case Partial:
		return "partial"
	case Full:
		return "full"
	case InFlight:
		return "in flight"
	default:
		return "unknown"
	}
}

// Submitter records who submits filled TX buffers.
type Submitter int8

// TX submitters.
const (
	SubmitterInvalid  Submitter = iota - 1 // RX rings
	SubmitterFn                            // The caller submits directly
	SubmitterCallback                      // The completion callback submits
)

// InvalidIndex marks an unset ring index.
const InvalidIndex = -1

// Ring tracks the status of every buffer of a stream. All fields are guarded
// by the embedded mutex; Cond is broadcast whenever a slot changes in a way
// a waiting caller may care about.
type Ring struct {
	sync.Mutex
	Cond *pkg.Cond

	Status  []Status
	Lengths []int // Bytes valid (RX) or to send (TX) per slot; 0 = whole buffer

	ProdI         int
	ConsI         int
	PartialOff    int
	ResubmitCount int
	Submitter     Submitter

	numXfers int
	overruns int
}

// New returns a ring of n empty slots serviced by numXfers transfers.
func New(n, numXfers int, submitter Submitter, clk clock.Clock) *Ring {
	r := &Ring{
		Status:    make([]Status, n),
		Lengths:   make([]int, n),
		Submitter: submitter,
		numXfers:  numXfers,
	}
	r.Cond = pkg.NewCond(&r.Mutex, clk)
	if submitter != SubmitterInvalid {
		r.ConsI = InvalidIndex
	}
	return r
}

// Len returns the number of slots.
func (r *Ring) Len() int {
	return len(r.Status)
}

// NumTransfers returns the number of transfers servicing the ring.
func (r *Ring) NumTransfers() int {
	return r.numXfers
}

// Next returns the slot after i.
func (r *Ring) Next(i int) int {
	return (i + 1) % len(r.Status)
}

// Signal broadcasts a ring change. The caller holds the lock.
func (r *Ring) Signal() {
	r.Cond.Broadcast()
}

// Counts returns the number of slots in each status.
func (r *Ring) Counts() map[Status]int {
	counts := make(map[Status]int, 4)
	for _, s := range r.Status {
		counts[s]++
	}
	return counts
}

// TakeOverruns returns and clears the number of RX buffers dropped because
// no empty slot was available.
func (r *Ring) TakeOverruns() int {
	n := r.overruns
	r.overruns = 0
	return n
}

// ResetRX prepares the ring for a (re)started RX stream: the first
// numXfers slots are about to be submitted and the rest are empty.
func (r *Ring) ResetRX() {
	for i := range r.Status {
		if i < r.numXfers {
			r.Status[i] = InFlight
		} else {
			r.Status[i] = Empty
		}
		r.Lengths[i] = 0
	}
	r.ProdI = r.numXfers % len(r.Status)
	r.ConsI = 0
	r.PartialOff = 0
	r.ResubmitCount = 0
}

// ResetTX returns slots left in flight by a stopped TX stream to the empty
// pool and wakes any waiting caller.
func (r *Ring) ResetTX() {
	for i, s := range r.Status {
		if s == InFlight {
			r.Status[i] = Empty
		}
	}
	r.Signal()
}

// Drain marks every slot empty.
func (r *Ring) Drain() {
	for i := range r.Status {
		r.Status[i] = Empty
		r.Lengths[i] = 0
	}
	r.Signal()
}

// RXComplete records the completion of RX buffer idx holding length bytes
// and returns the buffer to submit next.
//
// When the producer slot is free the completed buffer becomes full and the
// producer slot goes to the transport. Otherwise the caller has fallen
// behind: the completed buffer is resubmitted as is, dropping its samples,
// and the next numXfers-1 completions are resubmitted as well so that the
// buffers already queued ahead of it drain in order.
func (r *Ring) RXComplete(idx, length int) int {
	r.Lock()
	defer r.Unlock()

	if r.ResubmitCount > 0 {
		r.ResubmitCount--
		r.overruns++
		return idx
	}

	if r.Status[r.ProdI] != Empty {
		r.ResubmitCount = r.numXfers - 1
		r.overruns++
		pkg.LogDebug(pkg.ComponentWorker, "rx overrun", "buffer", idx, "producer", r.ProdI)
		return idx
	}

	assertStatus(r.Status[idx], InFlight, idx)
	r.Status[idx] = Full
	r.Lengths[idx] = length
	r.Signal()

	next := r.ProdI
	r.Status[next] = InFlight
	r.ProdI = r.Next(next)
	return next
}

// TXComplete records the completion of TX buffer idx, or of nothing when
// idx is negative, and reports a deferred buffer the callback must submit.
func (r *Ring) TXComplete(idx int) (next, length int, ok bool) {
	r.Lock()
	defer r.Unlock()

	if idx >= 0 {
		assertStatus(r.Status[idx], InFlight, idx)
		r.Status[idx] = Empty
		r.Lengths[idx] = 0
		r.Signal()
	}

	if r.Submitter != SubmitterCallback {
		return 0, 0, false
	}

	if r.ConsI != InvalidIndex && r.Status[r.ConsI] == Full {
		next = r.ConsI
		r.Status[next] = InFlight
		r.ConsI = r.Next(next)
		return next, r.Lengths[next], true
	}

	r.Submitter = SubmitterFn
	r.ConsI = InvalidIndex
	return 0, 0, false
}

// assertStatus panics on a ring accounting violation.
func assertStatus(got, want Status, idx int) {
	if got != want {
		panic(fmt.Sprintf("ring: slot %d is %s, expected %s", idx, got, want))
	}
}
