//go:build unix

package fifo

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	"github.com/Nuand/bladeRF-sub005/hal"
	"github.com/Nuand/bladeRF-sub005/pkg"
)

// File names inside a stream directory.
const (
	fifoRX    = "rx"
	fifoTX    = "tx"
	speedFile = "speed"
)

const (
	frameHeaderSize = 4

	// pollInterval bounds each blocking read or write so cancellation is
	// noticed.
	pollInterval = 50 * time.Millisecond

	// frameTimeout bounds the rest of a frame once its header has arrived.
	frameTimeout = 5 * time.Second
)

// Create makes a new stream directory under busDir and returns its path.
func Create(busDir string, speed hal.Speed) (string, error) {
	dir := filepath.Join(busDir, "stream-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	for _, name := range []string{fifoRX, fifoTX} {
		if err := unix.Mkfifo(filepath.Join(dir, name), 0o666); err != nil {
			_ = os.RemoveAll(dir)
			return "", fmt.Errorf("mkfifo %s: %w", name, err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, speedFile), []byte(speed.String()+"\n"), 0o644); err != nil {
		_ = os.RemoveAll(dir)
		return "", err
	}
	pkg.LogDebug(pkg.ComponentHAL, "fifo stream created", "dir", dir, "speed", speed)
	return dir, nil
}

// pipes is an open pair of stream FIFOs.
type pipes struct {
	rx, tx *os.File
}

func openPipes(dir string) (pipes, error) {
	open := func(name string) (*os.File, error) {
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_RDWR|unix.O_NONBLOCK, 0)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		return f, nil
	}
	rx, err := open(fifoRX)
	if err != nil {
		return pipes{}, err
	}
	tx, err := open(fifoTX)
	if err != nil {
		_ = rx.Close()
		return pipes{}, err
	}
	return pipes{rx: rx, tx: tx}, nil
}

func (p pipes) close() error {
	return multierr.Append(p.rx.Close(), p.tx.Close())
}

// Device is the host end of a stream directory.
type Device struct {
	dir   string
	speed hal.Speed
	pipes pipes

	mu     sync.Mutex
	closed bool
}

// Open attaches to the stream directory dir.
func Open(dir string) (*Device, error) {
	speed, err := readSpeed(filepath.Join(dir, speedFile))
	if err != nil {
		return nil, err
	}
	p, err := openPipes(dir)
	if err != nil {
		return nil, err
	}
	pkg.LogInfo(pkg.ComponentHAL, "fifo device opened", "dir", dir, "speed", speed)
	return &Device{dir: dir, speed: speed, pipes: p}, nil
}

func readSpeed(path string) (hal.Speed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return hal.SpeedUnknown, err
	}
	name := strings.TrimSpace(string(data))
	for s := hal.SpeedLow; s <= hal.SpeedSuperPlus; s++ {
		if s.String() == name {
			return s, nil
		}
	}
	return hal.SpeedUnknown, fmt.Errorf("speed %q: %w", name, pkg.ErrInval)
}

// Dir returns the stream directory.
func (d *Device) Dir() string {
	return d.dir
}

// Speed returns the link speed recorded in the stream directory.
func (d *Device) Speed() hal.Speed {
	return d.speed
}

// InitStream returns a transport reading frames from rx or writing them to
// tx.
func (d *Device) InitStream(cfg hal.StreamConfig) (hal.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, pkg.ErrClosed
	}

	if cfg.Direction == hal.DirectionTX {
		f := d.pipes.tx
		return hal.NewTransferQueue(cfg, func(ctx context.Context, buf []byte) (int, error) {
			return writeFrame(ctx, f, buf)
		})
	}
	f := d.pipes.rx
	return hal.NewTransferQueue(cfg, func(ctx context.Context, buf []byte) (int, error) {
		return readFrame(ctx, f, buf)
	})
}

// Close closes the FIFOs. Streams must be closed first.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.pipes.close()
}

// Peer is the device end of a stream directory.
type Peer struct {
	pipes pipes
}

// OpenPeer attaches the device end to dir.
func OpenPeer(dir string) (*Peer, error) {
	p, err := openPipes(dir)
	if err != nil {
		return nil, err
	}
	return &Peer{pipes: p}, nil
}

// Send writes buf as one RX frame.
func (p *Peer) Send(ctx context.Context, buf []byte) error {
	_, err := writeFrame(ctx, p.pipes.rx, buf)
	return err
}

// Receive reads one TX frame into buf and returns its length.
func (p *Peer) Receive(ctx context.Context, buf []byte) (int, error) {
	return readFrame(ctx, p.pipes.tx, buf)
}

// Close closes the peer's FIFOs.
func (p *Peer) Close() error {
	return p.pipes.close()
}

// =============================================================================
// Framing
// =============================================================================

// readFrame reads one frame into buf. A frame longer than buf is consumed
// and reported as an error.
func readFrame(ctx context.Context, f *os.File, buf []byte) (int, error) {
	var hdr [frameHeaderSize]byte
	if err := readFull(ctx, f, hdr[:]); err != nil {
		return 0, err
	}
	n := int(binary.LittleEndian.Uint32(hdr[:]))

	// A started frame is always read to its end to keep the pipe framed.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), frameTimeout)
	defer cancel()

	if n > len(buf) {
		if err := readFull(fctx, f, make([]byte, n)); err != nil {
			return 0, err
		}
		return 0, fmt.Errorf("frame of %d bytes exceeds %d byte buffer: %w", n, len(buf), pkg.ErrIO)
	}
	if err := readFull(fctx, f, buf[:n]); err != nil {
		return 0, err
	}
	return n, nil
}

// writeFrame writes buf as one frame.
func writeFrame(ctx context.Context, f *os.File, buf []byte) (int, error) {
	frame := make([]byte, frameHeaderSize+len(buf))
	binary.LittleEndian.PutUint32(frame, uint32(len(buf)))
	copy(frame[frameHeaderSize:], buf)

	if err := writeFull(ctx, f, frame); err != nil {
		return 0, err
	}
	return len(buf), nil
}

func readFull(ctx context.Context, f *os.File, buf []byte) error {
	for off := 0; off < len(buf); {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := f.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
			return pipeError(err)
		}
		n, err := f.Read(buf[off:])
		off += n
		if err != nil && !errors.Is(err, os.ErrDeadlineExceeded) {
			return pipeError(err)
		}
	}
	return nil
}

// writeFull writes buf. Cancellation is honoured until the first byte is
// written; after that the frame is finished within frameTimeout.
func writeFull(ctx context.Context, f *os.File, buf []byte) error {
	var deadline time.Time
	for off := 0; off < len(buf); {
		switch {
		case off == 0:
			if err := ctx.Err(); err != nil {
				return err
			}
		case deadline.IsZero():
			deadline = time.Now().Add(frameTimeout)
		case time.Now().After(deadline):
			return fmt.Errorf("fifo: partial frame: %w", pkg.ErrTimeout)
		}
		if err := f.SetWriteDeadline(time.Now().Add(pollInterval)); err != nil {
			return pipeError(err)
		}
		n, err := f.Write(buf[off:])
		off += n
		if err != nil && !errors.Is(err, os.ErrDeadlineExceeded) {
			return pipeError(err)
		}
	}
	return nil
}

func pipeError(err error) error {
	if errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("fifo: %w", pkg.ErrNoDevice)
	}
	return fmt.Errorf("fifo: %v: %w", err, pkg.ErrIO)
}
