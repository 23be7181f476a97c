package syncstream

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Nuand/bladeRF-sub005/hal"
	"github.com/Nuand/bladeRF-sub005/metadata"
	"github.com/Nuand/bladeRF-sub005/pkg"
	"github.com/Nuand/bladeRF-sub005/ring"
)

// txCall is the progress of one TX call.
type txCall struct {
	src     []byte
	n       int
	md      *Metadata
	written int
	flush   bool
	zeroPad bool
}

// TX queues n samples for transmission, blocking until they are copied into
// stream buffers or timeout elapses (0 waits forever). Full buffers are
// submitted as they fill.
//
// For timestamped formats md is required and md.Flags controls bursts:
// metadata.FlagTXBurstStart begins a burst at md.Timestamp (or as soon as
// possible with metadata.FlagTXNow), metadata.FlagTXUpdateTimestamp pads
// with zero samples up to a later md.Timestamp, and metadata.FlagTXBurstEnd
// zero-fills and submits the rest of the current buffer. For packet
// metadata the n samples form one packet that is submitted immediately.
func (s *Handle) TX(samples []byte, n int, md *Metadata, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkArgs(hal.DirectionTX, samples, n, md); err != nil {
		return err
	}

	c := txCall{src: samples, n: n, md: md}
	if s.cfg.Format.Packet() {
		limit := min((len(s.buffers[0])-metadata.HeaderSize)/s.bps, math.MaxUint16)
		if n == 0 || n > limit {
			return fmt.Errorf("packet of %d samples, limit %d: %w", n, limit, pkg.ErrInval)
		}
	}
	if s.cfg.Format.Timestamped() {
		if err := s.txParameters(&c); err != nil {
			return err
		}
	}

	var err error
	for err == nil && (c.written < c.n || c.flush) {
		switch s.state {
		case stateCheckWorker:
			err = s.checkWorker()

		case stateResetBufMgmt:
			s.resetBufMgmt()

		case stateStartWorker:
			err = s.startWorker()

		case stateWaitForBuffer:
			s.ring.Lock()
			err = s.waitForBuffer(s.ring.ProdI, ring.Empty, timeout)
			s.ring.Unlock()

		case stateBufferReady:
			s.ring.Lock()
			s.ring.Status[s.ring.ProdI] = ring.Partial
			s.ring.PartialOff = 0
			s.state = s.bufferReadyState()
			s.ring.Unlock()

		case stateUsingBuffer:
			s.ring.Lock()
			err = s.txCopy(&c)
			s.ring.Unlock()

		case stateUsingBufferMeta:
			s.ring.Lock()
			if s.meta.state == metaHeader {
				s.txHeader()
			} else {
				err = s.txSamples(&c)
			}
			s.ring.Unlock()

		case stateUsingPacketMeta:
			s.ring.Lock()
			err = s.txPacket(&c)
			s.ring.Unlock()

		default:
			err = fmt.Errorf("tx in state %s: %w", s.state, pkg.ErrUnexpected)
		}
	}

	s.metrics.Samples(c.written)
	if err == nil && s.cfg.Format.Timestamped() && md.Flags&metadata.FlagTXBurstEnd != 0 {
		s.meta.inBurst = false
		s.meta.now = false
	}
	return err
}

// txParameters applies the burst flags of a timestamped TX call.
func (s *Handle) txParameters(c *txCall) error {
	md := c.md
	m := &s.meta

	switch {
	case md.Flags&metadata.FlagTXBurstStart != 0:
		now := md.Flags&metadata.FlagTXNow != 0
		if m.inBurst {
			return fmt.Errorf("burst start within a burst: %w", pkg.ErrInval)
		}
		if !now && md.Timestamp < m.currTimestamp {
			return s.timePast(md.Timestamp)
		}
		m.inBurst = true
		if now {
			m.now = true
		} else {
			m.currTimestamp = md.Timestamp
		}
		if md.Flags&metadata.FlagTXUpdateTimestamp != 0 {
			s.log.Debug("timestamp update ignored at burst start")
		}

	case md.Flags&metadata.FlagTXNow != 0:
		return fmt.Errorf("tx now without burst start: %w", pkg.ErrInval)

	case md.Flags&metadata.FlagTXUpdateTimestamp != 0:
		if md.Timestamp < m.currTimestamp {
			return s.timePast(md.Timestamp)
		}
		c.zeroPad = true
	}

	if md.Flags&metadata.FlagTXBurstEnd != 0 {
		if !m.inBurst {
			return fmt.Errorf("burst end outside a burst: %w", pkg.ErrInval)
		}
		c.flush = true
	}

	md.Status = 0
	return nil
}

func (s *Handle) timePast(ts uint64) error {
	s.log.Debug("tx timestamp already passed",
		"timestamp", ts, "current", s.meta.currTimestamp)
	return fmt.Errorf("timestamp %d, stream at %d: %w", ts, s.meta.currTimestamp, pkg.ErrTimePast)
}

// advanceTX hands the buffer at the producer index to the transport, or to
// the completion callback when the transport has no free transfer. The ring
// lock is held and released around the submission. The slot only becomes
// InFlight once a transfer is reserved for it, so the InFlight count never
// exceeds the number of transfers.
func (s *Handle) advanceTX() error {
	r := s.ring
	idx := r.ProdI

	if r.Submitter == ring.SubmitterFn {
		length := r.Lengths[idx]
		r.Unlock()
		err := s.worker.Stream().SubmitDeferred(idx, length, s.cfg.Timeout, func() {
			r.Lock()
			r.Status[idx] = ring.InFlight
			r.Unlock()
		}, func() {
			r.Lock()
			r.Status[idx] = ring.Full
			r.Submitter = ring.SubmitterCallback
			r.ConsI = idx
			r.Unlock()
		})
		r.Lock()

		switch {
		case err == nil:
		case errors.Is(err, pkg.ErrWouldBlock):
			s.metrics.Deferred()
			s.log.Debug("deferring submission to callback", "buffer", idx)
		default:
			r.Status[idx] = ring.Full
			s.state = stateCheckWorker
			s.log.Debug("buffer submission failed", "buffer", idx, "error", err)
			return err
		}
	} else {
		r.Status[idx] = ring.Full
	}

	r.ProdI = r.Next(idx)
	s.metrics.Buffer()
	if r.Status[r.ProdI] == ring.Empty {
		s.state = stateBufferReady
	} else {
		s.state = stateCheckWorker
	}
	return nil
}

func (s *Handle) txCopy(c *txCall) error {
	spb := s.cfg.SamplesPerBuffer
	dst := s.buffers[s.ring.ProdI]

	count := min(c.n-c.written, spb-s.ring.PartialOff)
	copy(dst[s.ring.PartialOff*s.bps:], c.src[c.written*s.bps:(c.written+count)*s.bps])
	s.ring.PartialOff += count
	c.written += count

	if s.ring.PartialOff >= spb {
		return s.advanceTX()
	}
	return nil
}

// txHeader writes the header of the current message.
func (s *Handle) txHeader() {
	msg := s.message(s.ring.ProdI, s.meta.msgNum)
	s.meta.currMsgOff = 0
	if s.meta.now {
		metadata.Encode(msg, 0, 0)
	} else {
		metadata.Encode(msg, s.meta.currTimestamp, 0)
	}
	s.meta.state = metaSamples
}

// txSamples pads, copies and flushes the current message and submits the
// buffer once its last message is complete.
func (s *Handle) txSamples(c *txCall) error {
	m := &s.meta
	msg := s.message(s.ring.ProdI, m.msgNum)
	payload := msg[metadata.HeaderSize:]

	if c.zeroPad {
		target := c.md.Timestamp
		toZero := m.samplesPerMsg - m.currMsgOff
		if ticks := target - m.currTimestamp; ticks < uint64(toZero/m.samplesPerTS) {
			toZero = int(ticks) * m.samplesPerTS
		}
		clear(payload[m.currMsgOff*s.bps : (m.currMsgOff+toZero)*s.bps])
		m.currMsgOff += toZero

		// The DAC holds at zero only after minZeroRun zero samples; a shorter
		// run at the end of a message continues into the next one.
		if toZero < minZeroRun && m.currMsgOff == m.samplesPerMsg {
			m.currTimestamp += uint64(toZero / m.samplesPerTS)
		} else {
			m.currTimestamp = target
			c.zeroPad = false
		}
	}

	if count := min(c.n-c.written, m.samplesPerMsg-m.currMsgOff); count > 0 {
		off := m.currMsgOff * s.bps
		copy(payload[off:off+count*s.bps], c.src[c.written*s.bps:(c.written+count)*s.bps])
		m.currMsgOff += count
		m.currTimestamp += uint64(count / m.samplesPerTS)
		c.written += count
	}

	if left := m.samplesPerMsg - m.currMsgOff; left > 0 && c.flush {
		clear(payload[m.currMsgOff*s.bps : m.samplesPerMsg*s.bps])
		m.currMsgOff = m.samplesPerMsg
		m.currTimestamp += uint64(left / m.samplesPerTS)
	}

	if m.currMsgOff == m.samplesPerMsg {
		m.msgNum++
		m.state = metaHeader
	}

	if m.msgNum >= m.msgPerBuf {
		err := s.advanceTX()
		m.msgNum = 0
		if err != nil {
			return err
		}
		s.state = stateWaitForBuffer
		c.flush = c.flush && c.written != c.n
	}
	return nil
}

// txPacket fills the buffer with one packet and submits it.
func (s *Handle) txPacket(c *txCall) error {
	idx := s.ring.ProdI
	buf := s.buffers[idx]

	copy(buf[metadata.HeaderSize:], c.src[:c.n*s.bps])
	metadata.EncodePacket(buf, metadata.Packet{
		Length:    uint16(c.n),
		Timestamp: c.md.Timestamp,
	})
	s.ring.Lengths[idx] = metadata.HeaderSize + c.n*s.bps
	c.written = c.n

	err := s.advanceTX()
	s.meta.msgNum = 0
	if err != nil {
		return err
	}
	s.state = stateWaitForBuffer
	return nil
}
