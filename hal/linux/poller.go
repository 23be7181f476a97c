//go:build linux

package linux

import (
	"errors"
	"sync"

	"golang.org/x/sys/unix"
	"go.uber.org/multierr"
)

// maxEpollEvents bounds the events handled per wait.
const maxEpollEvents = 8

// poller dispatches epoll events for a set of file descriptors on one
// goroutine.
type poller struct {
	epfd   int
	wakefd int

	mu        sync.Mutex
	callbacks map[int32]func(events uint32)

	done chan struct{}
	exit chan struct{}
	once sync.Once
}

func newPoller() (*poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}

	p := &poller{
		epfd:      epfd,
		wakefd:    wakefd,
		callbacks: make(map[int32]func(uint32)),
		done:      make(chan struct{}),
		exit:      make(chan struct{}),
	}
	if err := p.ctl(unix.EPOLL_CTL_ADD, wakefd, unix.EPOLLIN); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, err
	}
	go p.run()
	return p, nil
}

func (p *poller) ctl(op, fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, op, fd, &ev)
}

// add starts watching fd. cb runs on the poller goroutine.
func (p *poller) add(fd int, events uint32, cb func(events uint32)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ctl(unix.EPOLL_CTL_ADD, fd, events); err != nil {
		return err
	}
	p.callbacks[int32(fd)] = cb
	return nil
}

func (p *poller) remove(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.callbacks, int32(fd))
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *poller) wake() error {
	var buf [8]byte
	buf[0] = 1
	_, err := unix.Write(p.wakefd, buf[:])
	return err
}

func (p *poller) run() {
	defer close(p.exit)

	var events [maxEpollEvents]unix.EpollEvent
	for {
		n, err := unix.EpollWait(p.epfd, events[:], -1)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return
		}

		for i := 0; i < n; i++ {
			fd := events[i].Fd
			if int(fd) == p.wakefd {
				var buf [8]byte
				_, _ = unix.Read(p.wakefd, buf[:])
				select {
				case <-p.done:
					return
				default:
				}
				continue
			}

			p.mu.Lock()
			cb := p.callbacks[fd]
			p.mu.Unlock()
			if cb != nil {
				cb(events[i].Events)
			}
		}
	}
}

// close stops the poll goroutine and releases its descriptors.
func (p *poller) close() error {
	var err error
	p.once.Do(func() {
		close(p.done)
		if err = p.wake(); err == nil {
			<-p.exit
		}
		err = multierr.Combine(err, unix.Close(p.wakefd), unix.Close(p.epfd))
	})
	return err
}
