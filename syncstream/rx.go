package syncstream

import (
	"fmt"
	"math"
	"time"

	"github.com/Nuand/bladeRF-sub005/hal"
	"github.com/Nuand/bladeRF-sub005/metadata"
	"github.com/Nuand/bladeRF-sub005/pkg"
	"github.com/Nuand/bladeRF-sub005/ring"
)

// rxCall is the progress of one RX call.
type rxCall struct {
	dst      []byte
	n        int
	md       *Metadata
	now      bool
	target   uint64
	returned int
	copied   bool
	exit     bool
}

// RX reads n samples into samples, blocking until they are available or
// timeout elapses (0 waits forever). It returns the number of samples
// copied.
//
// For timestamped formats md is required: md.Timestamp selects the first
// sample unless md.Flags has metadata.FlagRXNow, in which case the
// timestamp of the first returned sample is written back. A discontinuity
// after samples have been copied ends the call early with
// metadata.StatusOverrun set in md.Status. For packet metadata n is the
// caller's capacity and md.ActualCount the packet length.
func (s *Handle) RX(samples []byte, n int, md *Metadata, timeout time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkArgs(hal.DirectionRX, samples, n, md); err != nil {
		return 0, err
	}

	c := rxCall{dst: samples, n: n, md: md, target: math.MaxUint64}
	if md != nil {
		md.Status = 0
		c.target = md.Timestamp
		c.now = md.Flags&metadata.FlagRXNow != 0
	}

	s.ring.Lock()
	overruns := s.ring.TakeOverruns()
	s.ring.Unlock()
	if overruns > 0 {
		s.metrics.Overruns(overruns)
		if md != nil {
			md.Status |= metadata.StatusOverrun
		}
	}

	var err error
	for err == nil && !c.exit && c.returned < c.n {
		switch s.state {
		case stateCheckWorker:
			err = s.checkWorker()

		case stateResetBufMgmt:
			s.resetBufMgmt()

		case stateStartWorker:
			err = s.startWorker()

		case stateWaitForBuffer:
			s.ring.Lock()
			err = s.waitForBuffer(s.ring.ConsI, ring.Full, timeout)
			s.ring.Unlock()

		case stateBufferReady:
			s.ring.Lock()
			s.ring.Status[s.ring.ConsI] = ring.Partial
			s.ring.PartialOff = 0
			s.state = s.bufferReadyState()
			s.ring.Unlock()

		case stateUsingBuffer:
			s.ring.Lock()
			s.rxCopy(&c)
			s.ring.Unlock()

		case stateUsingBufferMeta:
			s.ring.Lock()
			if s.meta.state == metaHeader {
				s.rxHeader(&c)
			} else {
				err = s.rxSamples(&c)
			}
			s.ring.Unlock()

		case stateUsingPacketMeta:
			s.ring.Lock()
			s.rxPacket(&c)
			s.ring.Unlock()

		default:
			err = fmt.Errorf("rx in state %s: %w", s.state, pkg.ErrUnexpected)
		}
	}

	if md != nil && !s.cfg.Format.Packet() {
		md.ActualCount = c.returned
	}
	s.metrics.Samples(c.returned)
	return c.returned, err
}

// advanceRX releases the consumed buffer. The ring lock is held.
func (s *Handle) advanceRX() {
	s.ring.Status[s.ring.ConsI] = ring.Empty
	s.ring.Lengths[s.ring.ConsI] = 0
	s.ring.ConsI = s.ring.Next(s.ring.ConsI)
	s.ring.Signal()
	s.metrics.Buffer()
	s.state = stateWaitForBuffer
}

func (s *Handle) rxCopy(c *rxCall) {
	spb := s.cfg.SamplesPerBuffer
	src := s.buffers[s.ring.ConsI]

	count := min(c.n-c.returned, spb-s.ring.PartialOff)
	copy(c.dst[c.returned*s.bps:], src[s.ring.PartialOff*s.bps:(s.ring.PartialOff+count)*s.bps])
	s.ring.PartialOff += count
	c.returned += count

	if s.ring.PartialOff >= spb {
		s.advanceRX()
	}
}

// rxHeader reads the header of the current message.
func (s *Handle) rxHeader(c *rxCall) {
	msg := s.message(s.ring.ConsI, s.meta.msgNum)
	ts, flags := metadata.Decode(msg)

	c.md.Status |= flags & metadata.RXHWStatusMask
	s.meta.currMsgOff = 0

	if c.copied && ts != s.meta.currTimestamp {
		c.md.Status |= metadata.StatusOverrun
		c.exit = true
		s.metrics.Discontinuity()
		s.log.Debug("sample discontinuity",
			"buffer", s.ring.ConsI,
			"message", s.meta.msgNum,
			"expected", s.meta.currTimestamp,
			"got", ts)
	}

	s.meta.currTimestamp = ts
	s.meta.state = metaSamples
}

// rxSamples copies from, seeks within or skips the current message.
func (s *Handle) rxSamples(c *rxCall) error {
	m := &s.meta
	if !c.copied && !c.now && c.target < m.currTimestamp {
		s.log.Debug("requested timestamp already passed",
			"current", m.currTimestamp, "target", c.target)
		return fmt.Errorf("timestamp %d, stream at %d: %w", c.target, m.currTimestamp, pkg.ErrTimePast)
	}

	if c.now || c.target == m.currTimestamp {
		msg := s.message(s.ring.ConsI, m.msgNum)
		count := min(c.n-c.returned, m.samplesPerMsg-m.currMsgOff)
		off := metadata.HeaderSize + m.currMsgOff*s.bps
		copy(c.dst[c.returned*s.bps:], msg[off:off+count*s.bps])

		c.returned += count
		m.currMsgOff += count

		if !c.copied && c.now {
			c.md.Timestamp = m.currTimestamp
		}
		c.copied = true

		m.currTimestamp += uint64(count / m.samplesPerTS)
		c.target = m.currTimestamp

		if m.currMsgOff == m.samplesPerMsg {
			m.state = metaHeader
			m.msgNum++
			if m.msgNum >= m.msgPerBuf {
				m.msgNum = 0
				s.advanceRX()
			}
		}
		return nil
	}

	delta := c.target - m.currTimestamp
	leftInMsg := m.samplesPerMsg - m.currMsgOff
	leftInBuf := m.samplesPerMsg*(m.msgPerBuf-m.msgNum) - m.currMsgOff

	if delta >= uint64(leftInBuf) || int(delta)*m.samplesPerTS >= leftInBuf {
		m.state = metaHeader
		s.advanceRX()
		return nil
	}

	samplesLeft := int(delta) * m.samplesPerTS
	if samplesLeft < leftInMsg {
		m.currMsgOff += samplesLeft
		m.currTimestamp = c.target
	} else {
		m.state = metaHeader
		m.msgNum += 1 + (samplesLeft-leftInMsg)/m.samplesPerMsg
	}
	return nil
}

// rxPacket returns the packet in the current buffer.
func (s *Handle) rxPacket(c *rxCall) {
	buf := s.buffers[s.ring.ConsI]
	pkt := metadata.DecodePacket(buf)

	if words := int(pkt.Length); words > 0 {
		if limit := (len(buf) - metadata.HeaderSize) / s.bps; words > limit {
			words = limit
		}
		count := min(words, c.n)
		copy(c.dst, buf[metadata.HeaderSize:metadata.HeaderSize+count*s.bps])

		c.returned = count
		c.exit = true
		c.md.ActualCount = count
		c.md.Timestamp = pkt.Timestamp
		c.md.Status |= pkt.MetaFlags & metadata.RXHWStatusMask
	}
	s.advanceRX()
}
