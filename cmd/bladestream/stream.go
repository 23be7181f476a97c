package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/Nuand/bladeRF-sub005/config"
	"github.com/Nuand/bladeRF-sub005/device"
	"github.com/Nuand/bladeRF-sub005/hal/sim"
	"github.com/Nuand/bladeRF-sub005/metadata"
	"github.com/Nuand/bladeRF-sub005/pkg"
	"github.com/Nuand/bladeRF-sub005/syncstream"
)

// stats are the live counters shown by the TUI and the final summary.
type stats struct {
	rxSamples       atomic.Uint64
	txSamples       atomic.Uint64
	discontinuities atomic.Uint64
	timestamp       atomic.Uint64
}

// chunkSize returns how many samples one call moves: a buffer's worth,
// trimmed to the remaining count and to whole timestamp ticks.
func chunkSize(s config.Stream, done, total uint64) int {
	n := s.BufferSize
	if total > 0 && total-done < uint64(n) {
		n = int(total - done)
	}
	spts := s.Layout.SamplesPerTimestamp()
	return n - n%spts
}

// receive reads samples until total (0 = until ctx is done) and writes them
// to w.
func receive(ctx context.Context, dev *device.Device, s config.Stream, total uint64, timeout time.Duration, w io.Writer, st *stats) error {
	bps := s.Format.BytesPerSample()
	buf := make([]byte, s.BufferSize*bps)

	var done uint64
	for total == 0 || done < total {
		if ctx.Err() != nil {
			return nil
		}
		n := chunkSize(s, done, total)
		if n == 0 {
			break
		}

		md := syncstream.Metadata{Flags: metadata.FlagRXNow}
		got, err := dev.SyncRX(buf, n, &md, timeout)
		if err != nil {
			return fmt.Errorf("rx after %d samples: %w", done, err)
		}
		if md.Status&metadata.StatusOverrun != 0 {
			st.discontinuities.Add(1)
			pkg.LogWarn(pkg.ComponentCLI, "rx discontinuity", "samples", done, "timestamp", md.Timestamp)
		}
		if s.Format.Timestamped() || s.Format.Packet() {
			st.timestamp.Store(md.Timestamp)
		}
		if _, err := w.Write(buf[:got*bps]); err != nil {
			return fmt.Errorf("rx output: %w", err)
		}

		done += uint64(got)
		st.rxSamples.Add(uint64(got))
	}
	return nil
}

// transmit sends samples from r, or a ramp when r is nil, until total
// (0 = until ctx is done or r is exhausted). Timestamped formats send one
// burst starting as soon as possible.
func transmit(ctx context.Context, dev *device.Device, s config.Stream, total uint64, timeout time.Duration, r io.Reader, st *stats) error {
	bps := s.Format.BytesPerSample()
	buf := make([]byte, s.BufferSize*bps)
	burst := s.Format.Timestamped()
	started := false

	var done uint64
	for total == 0 || done < total {
		if ctx.Err() != nil {
			break
		}
		n := chunkSize(s, done, total)
		if n == 0 {
			break
		}

		if r == nil {
			sim.Ramp(done, bps, buf[:n*bps])
		} else {
			got, err := io.ReadFull(r, buf[:n*bps])
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
				return fmt.Errorf("tx input: %w", err)
			}
			n = got / bps
			n -= n % s.Layout.SamplesPerTimestamp()
			if n == 0 {
				break
			}
		}

		var md syncstream.Metadata
		if burst && !started {
			md.Flags = metadata.FlagTXBurstStart | metadata.FlagTXNow
		}
		if burst && total > 0 && done+uint64(n) >= total {
			md.Flags |= metadata.FlagTXBurstEnd
		}
		if err := dev.SyncTX(buf, n, &md, timeout); err != nil {
			return fmt.Errorf("tx after %d samples: %w", done, err)
		}
		started = true

		done += uint64(n)
		st.txSamples.Add(uint64(n))
		if md.Flags&metadata.FlagTXBurstEnd != 0 {
			return nil
		}
	}

	if burst && started {
		md := syncstream.Metadata{Flags: metadata.FlagTXBurstEnd}
		if err := dev.SyncTX(buf, 0, &md, timeout); err != nil {
			return fmt.Errorf("tx burst end: %w", err)
		}
	}
	return nil
}
