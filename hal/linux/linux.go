//go:build linux

package linux

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"
	"unsafe"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	"github.com/Nuand/bladeRF-sub005/hal"
	"github.com/Nuand/bladeRF-sub005/pkg"
)

// USB identity and streaming interface of a bladeRF.
const (
	DefaultVendorID   = 0x2cf0
	DefaultProductID  = 0x5246
	DefaultInterface  = 0
	DefaultAltSetting = 1
	DefaultRXEndpoint = 0x81
	DefaultTXEndpoint = 0x01
)

// closeTimeout bounds the wait for discarded URBs to be reaped.
const closeTimeout = time.Second

// Config selects the device and endpoints to stream on. Zero fields take
// the bladeRF defaults.
type Config struct {
	Path       string // usbfs node; empty searches sysfs by VendorID:ProductID
	VendorID   uint16
	ProductID  uint16
	Interface  uint8
	AltSetting uint8
	RXEndpoint uint8
	TXEndpoint uint8
}

func (c *Config) setDefaults() {
	if c.VendorID == 0 && c.ProductID == 0 {
		c.VendorID = DefaultVendorID
		c.ProductID = DefaultProductID
	}
	if c.AltSetting == 0 {
		c.AltSetting = DefaultAltSetting
	}
	if c.RXEndpoint == 0 {
		c.RXEndpoint = DefaultRXEndpoint
	}
	if c.TXEndpoint == 0 {
		c.TXEndpoint = DefaultTXEndpoint
	}
}

// Device is an open usbfs device. It implements hal.StreamHAL.
type Device struct {
	cfg    Config
	path   string
	fd     int
	speed  hal.Speed
	poller *poller
	log    pkg.Logger

	mu      sync.Mutex
	streams [2]*transport
	gone    bool
	closed  bool
}

var _ hal.StreamHAL = (*Device)(nil)

// Open opens the device described by cfg and claims its streaming interface.
func Open(cfg Config) (*Device, error) {
	cfg.setDefaults()

	path := cfg.Path
	speed := hal.SpeedUnknown
	if path == "" {
		dev, err := findDevice(cfg.VendorID, cfg.ProductID)
		if err != nil {
			return nil, err
		}
		path, speed = dev.devfsPath, dev.speed
		pkg.LogDebug(pkg.ComponentHAL, "found device", "sysfs", dev.sysfsPath,
			"name", productName(dev.vendorID, dev.productID))
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		if errors.Is(err, unix.ENOENT) {
			return nil, fmt.Errorf("open %s: %w", path, pkg.ErrNoDevice)
		}
		return nil, fmt.Errorf("open %s: %w", path, syscallError("open", err))
	}

	d := &Device{
		cfg:   cfg,
		path:  path,
		fd:    fd,
		speed: speed,
		log:   pkg.NewComponentLogger(pkg.ComponentHAL, "path", path),
	}
	if err := d.init(); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	d.log.Info("usbfs device opened", "speed", d.speed)
	return d, nil
}

func (d *Device) init() error {
	iface := uint32(d.cfg.Interface)
	if err := claimInterface(d.fd, iface); err != nil {
		return syscallError("claim interface", err)
	}
	if err := setInterface(d.fd, iface, uint32(d.cfg.AltSetting)); err != nil {
		releaseInterface(d.fd, iface)
		return syscallError("set interface", err)
	}

	if s, err := getSpeed(d.fd); err == nil && s != hal.SpeedUnknown {
		d.speed = s
	}

	p, err := newPoller()
	if err != nil {
		releaseInterface(d.fd, iface)
		return fmt.Errorf("poller: %w", err)
	}
	if err := p.add(d.fd, unix.EPOLLOUT, d.onEvent); err != nil {
		p.close()
		releaseInterface(d.fd, iface)
		return fmt.Errorf("poller: %w", err)
	}
	d.poller = p
	return nil
}

// Path returns the usbfs node the device was opened from.
func (d *Device) Path() string {
	return d.path
}

// Speed returns the negotiated link speed.
func (d *Device) Speed() hal.Speed {
	return d.speed
}

// InitStream allocates a URB pool for one direction. Only one transport per
// direction may be open at a time.
func (d *Device) InitStream(cfg hal.StreamConfig) (hal.Transport, error) {
	if cfg.NumTransfers < 1 {
		return nil, pkg.ErrInval
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case d.closed:
		return nil, pkg.ErrClosed
	case d.gone:
		return nil, pkg.ErrNoDevice
	case d.streams[cfg.Direction] != nil:
		return nil, fmt.Errorf("%s transport already open: %w", cfg.Direction, pkg.ErrInval)
	}

	ep := d.cfg.RXEndpoint
	if cfg.Direction == hal.DirectionTX {
		ep = d.cfg.TXEndpoint
	}
	// A stalled endpoint from an earlier session would fail every URB.
	if err := clearHalt(d.fd, ep); err != nil {
		d.log.Debug("clear halt failed", "endpoint", ep, "error", err)
	}

	t := &transport{
		dev:         d,
		dir:         cfg.Direction,
		endpoint:    ep,
		timeout:     cfg.Timeout,
		slots:       make([]urbSlot, cfg.NumTransfers),
		completions: make(chan hal.Completion, cfg.NumTransfers),
		log:         d.log.With("dir", cfg.Direction, "endpoint", ep),
	}
	t.idle = pkg.NewCond(&t.mu, nil)
	d.streams[cfg.Direction] = t

	t.log.Debug("usbfs stream initialized", "urbs", cfg.NumTransfers)
	return t, nil
}

// onEvent reaps every completed URB. It runs on the poller goroutine.
func (d *Device) onEvent(events uint32) {
	for {
		u, err := reapURB(d.fd)
		if err != nil {
			if errors.Is(err, unix.ENODEV) || errors.Is(err, unix.ESHUTDOWN) {
				d.disconnect()
			} else if !errors.Is(err, unix.EAGAIN) {
				d.log.Warn("reap failed", "error", err)
			}
			break
		}
		if u == nil {
			break
		}

		dir := hal.DirectionTX
		if u.endpoint&endpointDirIn != 0 {
			dir = hal.DirectionRX
		}
		d.mu.Lock()
		t := d.streams[dir]
		d.mu.Unlock()
		if t != nil {
			t.complete(int(u.userContext))
		}
	}

	if events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		d.disconnect()
	}
}

// disconnect fails every outstanding transfer after the device went away.
func (d *Device) disconnect() {
	d.mu.Lock()
	if d.gone {
		d.mu.Unlock()
		return
	}
	d.gone = true
	streams := d.streams
	d.mu.Unlock()

	d.log.Warn("usbfs device disconnected")
	if err := d.poller.remove(d.fd); err != nil {
		d.log.Debug("poller remove failed", "error", err)
	}
	for _, t := range streams {
		if t != nil {
			t.abort(pkg.TransferStatusNoDevice)
		}
	}
}

func (d *Device) release(t *transport) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.streams[t.dir] == t {
		d.streams[t.dir] = nil
	}
}

// Close closes both transports, releases the interface and closes the node.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	streams := d.streams
	d.mu.Unlock()

	var err error
	for _, t := range streams {
		if t != nil {
			err = multierr.Append(err, t.Close())
		}
	}
	err = multierr.Append(err, d.poller.close())
	if rerr := releaseInterface(d.fd, uint32(d.cfg.Interface)); rerr != nil && !d.isGone() {
		err = multierr.Append(err, syscallError("release interface", rerr))
	}
	err = multierr.Append(err, unix.Close(d.fd))

	d.log.Info("usbfs device closed")
	return err
}

func (d *Device) isGone() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gone
}

// urbSlot is one transfer slot of a transport.
type urbSlot struct {
	urb      urb
	pinner   runtime.Pinner
	active   bool
	timedOut bool
	gen      uint64
	timer    *time.Timer
}

// transport is a bulk endpoint with a fixed pool of URBs.
type transport struct {
	dev      *Device
	dir      hal.Direction
	endpoint uint8
	timeout  time.Duration
	log      pkg.Logger

	completions chan hal.Completion

	mu       sync.Mutex
	idle     *pkg.Cond
	slots    []urbSlot
	inFlight int
	closed   bool
}

// Submit queues a bulk URB for buf on slot.
func (t *transport) Submit(slot int, buf []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return pkg.ErrClosed
	}
	if slot < 0 || slot >= len(t.slots) || t.slots[slot].active {
		return fmt.Errorf("slot %d: %w", slot, pkg.ErrInval)
	}

	s := &t.slots[slot]
	s.urb = urb{
		typ:          urbTypeBulk,
		endpoint:     t.endpoint,
		buffer:       uintptr(unsafe.Pointer(unsafe.SliceData(buf))),
		bufferLength: int32(len(buf)),
		userContext:  uintptr(slot),
	}
	s.pinner.Pin(&s.urb)
	if len(buf) > 0 {
		s.pinner.Pin(unsafe.SliceData(buf))
	}

	if err := submitURB(t.dev.fd, &s.urb); err != nil {
		s.pinner.Unpin()
		if errors.Is(err, unix.ENODEV) || errors.Is(err, unix.ESHUTDOWN) {
			return fmt.Errorf("submit slot %d: %w", slot, pkg.ErrNoDevice)
		}
		return syscallError("submit", err)
	}

	s.active = true
	s.timedOut = false
	s.gen++
	t.inFlight++
	if t.timeout > 0 {
		gen := s.gen
		s.timer = time.AfterFunc(t.timeout, func() { t.expire(slot, gen) })
	}
	return nil
}

// expire discards a URB that outlived its timeout. Its completion reports
// TransferStatusTimeout.
func (t *transport) expire(slot int, gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := &t.slots[slot]
	if !s.active || s.gen != gen {
		return
	}
	s.timedOut = true
	if err := discardURB(t.dev.fd, &s.urb); err != nil && !errors.Is(err, unix.EINVAL) {
		t.log.Debug("discard on timeout failed", "slot", slot, "error", err)
	}
}

// Cancel discards the URB on slot. A URB that already completed is left
// alone.
func (t *transport) Cancel(slot int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if slot < 0 || slot >= len(t.slots) {
		return pkg.ErrInval
	}
	s := &t.slots[slot]
	if !s.active {
		return nil
	}
	if err := discardURB(t.dev.fd, &s.urb); err != nil && !errors.Is(err, unix.EINVAL) {
		return syscallError("discard", err)
	}
	return nil
}

// Completions returns the completion channel.
func (t *transport) Completions() <-chan hal.Completion {
	return t.completions
}

// complete finishes the reaped URB on slot.
func (t *transport) complete(slot int) {
	t.mu.Lock()
	if slot < 0 || slot >= len(t.slots) || !t.slots[slot].active {
		t.mu.Unlock()
		t.log.Warn("reaped unknown urb", "slot", slot)
		return
	}
	s := &t.slots[slot]
	errno := unix.Errno(-s.urb.status)
	c := hal.Completion{
		Slot:   slot,
		Length: int(s.urb.actualLength),
		Status: urbStatus(s.urb.status, s.timedOut),
	}
	t.finish(s)
	t.mu.Unlock()

	if c.Status != pkg.TransferStatusSuccess {
		t.log.Debug("urb completed", "slot", slot,
			"status", c.Status, "errno", errno)
	}
	t.completions <- c
}

// abort completes every active slot with status.
func (t *transport) abort(status pkg.TransferStatus) {
	t.mu.Lock()
	var done []hal.Completion
	for i := range t.slots {
		s := &t.slots[i]
		if s.active {
			done = append(done, hal.Completion{Slot: i, Status: status})
			t.finish(s)
		}
	}
	t.mu.Unlock()

	for _, c := range done {
		t.completions <- c
	}
}

// finish releases a slot. The caller holds t.mu.
func (t *transport) finish(s *urbSlot) {
	s.active = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.pinner.Unpin()
	t.inFlight--
	if t.inFlight == 0 {
		t.idle.Broadcast()
	}
}

// Close discards outstanding URBs and waits for them to be reaped.
func (t *transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true

	for i := range t.slots {
		if t.slots[i].active {
			_ = discardURB(t.dev.fd, &t.slots[i].urb)
		}
	}

	var err error
	deadline := time.Now().Add(closeTimeout)
	for t.inFlight > 0 && err == nil {
		wait := time.Until(deadline)
		if wait <= 0 {
			err = pkg.ErrTimeout
			break
		}
		err = t.idle.Wait(wait)
	}
	left := t.inFlight
	t.mu.Unlock()

	t.dev.release(t)
	if err != nil {
		// The kernel still owns the buffers, so they stay pinned.
		return fmt.Errorf("%s transport: %d urbs not reaped: %w", t.dir, left, err)
	}
	return nil
}
