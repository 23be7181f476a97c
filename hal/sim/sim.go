package sim

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Nuand/bladeRF-sub005/hal"
	"github.com/Nuand/bladeRF-sub005/metadata"
	"github.com/Nuand/bladeRF-sub005/pkg"
)

// Source fills payload with the samples starting at timestamp ts.
type Source func(ts uint64, payload []byte)

// Sink receives a copy of every transmitted buffer.
type Sink func(buf []byte)

// Config describes a simulated device.
type Config struct {
	Speed       hal.Speed  // Link speed (default SuperSpeed)
	Format      hal.Format // Encoding of generated RX buffers
	MessageSize int        // Bytes per metadata message (default by speed)
	Channels    int        // Interleaved RX channels (default 1)

	StartTimestamp uint64 // Timestamp of the first generated sample
	HWFlags        uint32 // Flags word written into RX headers
	GapEvery       int    // Skip GapTicks after every GapEvery messages
	GapTicks       uint64
	PacketWords    int // Packet payload length in words (default full buffer)

	SampleRate float64       // Samples per second; 0 runs unpaced
	Latency    time.Duration // Added to every transfer

	FailAfter  int                // Fail the transfer after this many (0 = never)
	FailStatus pkg.TransferStatus // Status of the injected failure

	Source Source
	Sink   Sink
}

// Device is an in-memory radio. RX transfers produce timestamped sample
// messages; TX transfers are recorded or handed to a Sink.
type Device struct {
	cfg Config

	mu        sync.Mutex
	rxTS      uint64
	rxMsgs    int
	transfers int
	txBufs    [][]byte
	paused    chan struct{}
}

// New returns a simulated device.
func New(cfg Config) *Device {
	if cfg.Speed == hal.SpeedUnknown {
		cfg.Speed = hal.SpeedSuper
	}
	if cfg.MessageSize == 0 {
		cfg.MessageSize = 2048
		if cfg.Speed < hal.SpeedSuper {
			cfg.MessageSize = 1024
		}
	}
	if cfg.Channels < 1 {
		cfg.Channels = 1
	}
	if !cfg.Format.Valid() {
		cfg.Format = hal.FormatSC16Q11
	}
	return &Device{cfg: cfg, rxTS: cfg.StartTimestamp}
}

// Speed returns the configured link speed.
func (d *Device) Speed() hal.Speed {
	return d.cfg.Speed
}

// InitStream returns an ordered transport for the requested direction.
func (d *Device) InitStream(cfg hal.StreamConfig) (hal.Transport, error) {
	var limiter *rate.Limiter
	if d.cfg.SampleRate > 0 {
		burst := cfg.BufferSize / d.cfg.Format.BytesPerSample()
		limiter = rate.NewLimiter(rate.Limit(d.cfg.SampleRate), burst)
	}

	fn := d.receive
	if cfg.Direction == hal.DirectionTX {
		fn = d.transmit
	}

	return hal.NewTransferQueue(cfg, func(ctx context.Context, buf []byte) (int, error) {
		if err := d.wait(ctx); err != nil {
			return 0, err
		}
		if limiter != nil {
			if err := limiter.WaitN(ctx, len(buf)/d.cfg.Format.BytesPerSample()); err != nil {
				return 0, err
			}
		}
		if d.cfg.Latency > 0 {
			t := time.NewTimer(d.cfg.Latency)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}
		if err := d.inject(); err != nil {
			return 0, err
		}
		return fn(buf), nil
	})
}

// Pause holds every subsequent transfer until Resume.
func (d *Device) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.paused == nil {
		d.paused = make(chan struct{})
	}
}

// Resume releases paused transfers.
func (d *Device) Resume() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.paused != nil {
		close(d.paused)
		d.paused = nil
	}
}

// Transmitted returns copies of the recorded TX buffers.
func (d *Device) Transmitted() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.txBufs))
	copy(out, d.txBufs)
	return out
}

// Transfers returns the number of completed transfers.
func (d *Device) Transfers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transfers
}

// RXTimestamp returns the timestamp of the next generated sample.
func (d *Device) RXTimestamp() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rxTS
}

func (d *Device) wait(ctx context.Context) error {
	d.mu.Lock()
	paused := d.paused
	d.mu.Unlock()
	if paused == nil {
		return nil
	}
	select {
	case <-paused:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Device) inject() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transfers++
	if d.cfg.FailAfter == 0 || d.transfers <= d.cfg.FailAfter {
		return nil
	}
	switch d.cfg.FailStatus {
	case pkg.TransferStatusTimeout:
		return fmt.Errorf("simulated transfer: %w", pkg.ErrTimeout)
	case pkg.TransferStatusNoDevice:
		return fmt.Errorf("simulated transfer: %w", pkg.ErrNoDevice)
	default:
		return fmt.Errorf("simulated transfer: %w", pkg.ErrIO)
	}
}

func (d *Device) receive(buf []byte) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	bps := d.cfg.Format.BytesPerSample()
	switch {
	case d.cfg.Format.Timestamped():
		perMsg := metadata.SamplesPerMessage(d.cfg.MessageSize, bps)
		for off := 0; off+d.cfg.MessageSize <= len(buf); off += d.cfg.MessageSize {
			msg := buf[off : off+d.cfg.MessageSize]
			metadata.Encode(msg, d.rxTS, d.cfg.HWFlags)
			d.fill(d.rxTS, msg[metadata.HeaderSize:])
			d.rxTS += uint64(perMsg / d.cfg.Channels)
			d.rxMsgs++
			if d.cfg.GapEvery > 0 && d.rxMsgs%d.cfg.GapEvery == 0 {
				d.rxTS += d.cfg.GapTicks
			}
		}

	case d.cfg.Format.Packet():
		words := d.cfg.PacketWords
		if words <= 0 || words > (len(buf)-metadata.HeaderSize)/4 {
			words = (len(buf) - metadata.HeaderSize) / 4
		}
		metadata.EncodePacket(buf, metadata.Packet{
			Length:    uint16(words),
			Timestamp: d.rxTS,
			MetaFlags: d.cfg.HWFlags,
		})
		d.fill(d.rxTS, buf[metadata.HeaderSize:metadata.HeaderSize+words*4])
		d.rxTS += uint64(words)
		return metadata.HeaderSize + words*4

	default:
		d.fill(d.rxTS, buf)
		d.rxTS += uint64(len(buf) / bps / d.cfg.Channels)
	}
	return len(buf)
}

func (d *Device) fill(ts uint64, payload []byte) {
	if d.cfg.Source != nil {
		d.cfg.Source(ts, payload)
		return
	}
	Ramp(ts*uint64(d.cfg.Channels), d.cfg.Format.BytesPerSample(), payload)
}

func (d *Device) transmit(buf []byte) int {
	if d.cfg.Sink != nil {
		d.cfg.Sink(buf)
		return len(buf)
	}
	cp := make([]byte, len(buf))
	copy(cp, buf)

	d.mu.Lock()
	d.txBufs = append(d.txBufs, cp)
	d.mu.Unlock()
	return len(buf)
}

// Ramp writes consecutive samples starting at sample index n. The I part of
// each sample holds the low bits of its index and the Q part their
// complement, so a reader can recover where every sample came from.
func Ramp(n uint64, bytesPerSample int, payload []byte) {
	for off := 0; off+bytesPerSample <= len(payload); off += bytesPerSample {
		switch bytesPerSample {
		case 2:
			payload[off] = byte(n)
			payload[off+1] = ^byte(n)
		default:
			binary.LittleEndian.PutUint16(payload[off:], uint16(n))
			binary.LittleEndian.PutUint16(payload[off+2:], ^uint16(n))
		}
		n++
	}
}

// RampIndex returns the low 16 bits of the sample index encoded by Ramp in
// a 4-byte sample.
func RampIndex(sample []byte) uint16 {
	return binary.LittleEndian.Uint16(sample)
}
