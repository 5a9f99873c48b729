package asyncsock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleadv/internal/groutine"
	"golang.org/x/sys/unix"
)

const pollInterval = 100 * time.Millisecond

// sysCalls is the slice of the kernel socket API Direct relies on.
type sysCalls interface {
	Socket(family, typ, proto int) (int, error)
	Bind(fd int, sa unix.Sockaddr) error
	SetsockoptString(fd, level, opt int, value string) error
	Write(fd int, p []byte) (int, error)
	Read(fd int, p []byte) (int, error)
	Poll(fds []unix.PollFd, timeout int) (int, error)
	Close(fd int) error
}

type unixSys struct{}

func (unixSys) Socket(family, typ, proto int) (int, error) { return unix.Socket(family, typ, proto) }
func (unixSys) Bind(fd int, sa unix.Sockaddr) error        { return unix.Bind(fd, sa) }
func (unixSys) SetsockoptString(fd, level, opt int, value string) error {
	return unix.SetsockoptString(fd, level, opt, value)
}
func (unixSys) Write(fd int, p []byte) (int, error)              { return unix.Write(fd, p) }
func (unixSys) Read(fd int, p []byte) (int, error)               { return unix.Read(fd, p) }
func (unixSys) Poll(fds []unix.PollFd, timeout int) (int, error) { return unix.Poll(fds, timeout) }
func (unixSys) Close(fd int) error                               { return unix.Close(fd) }

// Direct is a kernel socket. The receive goroutine polls so that Close
// can stop it before the descriptor is released.
type Direct struct {
	callbacks
	sys sysCalls

	mu       sync.Mutex
	fd       int
	name     string
	stop     chan struct{}
	loopDone chan struct{}
}

func NewDirect(logger *logrus.Logger) *Direct {
	if logger == nil {
		logger = logrus.New()
	}
	return &Direct{callbacks: callbacks{logger: logger}, sys: unixSys{}, fd: -1}
}

func (d *Direct) Open(_ context.Context, name string, recv RecvFunc, onClose CloseFunc, family, typ, proto int) (int, error) {
	fd, err := d.sys.Socket(family, typ|unix.SOCK_CLOEXEC, proto)
	if err != nil {
		return -1, fmt.Errorf("socket %s: %w", name, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recv, d.onClose = recv, onClose
	d.fd, d.name = fd, name
	return fd, nil
}

func (d *Direct) descriptor() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd < 0 {
		return -1, ErrNotOpen
	}
	return d.fd, nil
}

func (d *Direct) Bind(ctx context.Context, addr Addr) error {
	fd, err := d.descriptor()
	if err != nil {
		return err
	}
	_, err = d.call(ctx, "bind", func() (any, error) {
		return nil, d.sys.Bind(fd, &unix.SockaddrHCI{Dev: addr.Dev, Channel: addr.Channel})
	})
	return err
}

func (d *Direct) SetSockopt(ctx context.Context, level, opt int, value []byte) error {
	fd, err := d.descriptor()
	if err != nil {
		return err
	}
	_, err = d.call(ctx, "setsockopt", func() (any, error) {
		return nil, d.sys.SetsockoptString(fd, level, opt, string(value))
	})
	return err
}

func (d *Direct) SendAll(ctx context.Context, data []byte) error {
	fd, err := d.descriptor()
	if err != nil {
		return err
	}
	_, err = d.call(ctx, "sendall", func() (any, error) {
		for rem := data; len(rem) > 0; {
			n, err := d.sys.Write(fd, rem)
			if err != nil {
				return nil, err
			}
			rem = rem[n:]
		}
		return nil, nil
	})
	return err
}

// StartRecv launches the receive goroutine and waits until it runs.
func (d *Direct) StartRecv(ctx context.Context) error {
	d.mu.Lock()
	if d.fd < 0 {
		d.mu.Unlock()
		return ErrNotOpen
	}
	if d.loopDone != nil {
		d.mu.Unlock()
		return nil
	}
	fd := d.fd
	d.stop = make(chan struct{})
	d.loopDone = make(chan struct{})
	stop, done := d.stop, d.loopDone
	d.mu.Unlock()

	ready := make(chan struct{})
	groutine.Go(ctx, "asyncsock-recv-"+d.name, func(context.Context) {
		close(ready)
		d.receive(fd, stop, done)
	})
	select {
	case <-ready:
	case <-time.After(readyTimeout):
		return fmt.Errorf("start receive: %w", context.DeadlineExceeded)
	}
	d.recvStarted.Store(true)
	return nil
}

func (d *Direct) receive(fd int, stop, done chan struct{}) {
	defer close(done)
	defer d.loopEnded()

	buf := make([]byte, RecvBufSize)
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		select {
		case <-stop:
			return
		default:
		}
		n, err := d.sys.Poll(fds, int(pollInterval/time.Millisecond))
		if errors.Is(err, unix.EINTR) || (err == nil && n == 0) {
			continue
		}
		if err != nil {
			d.logger.WithError(err).WithField("socket", d.name).Debug("poll failed, stopping receive")
			return
		}
		n, err = d.sys.Read(fd, buf)
		if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
			continue
		}
		if err != nil || n <= 0 {
			d.logger.WithError(err).WithField("socket", d.name).Debug("socket closed by peer")
			return
		}
		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		d.deliver(pkt)
	}
}

// Close stops the receive loop without invoking the close callback and
// releases the descriptor.
func (d *Direct) Close() error {
	d.recvStarted.Store(false)

	d.mu.Lock()
	fd, stop, done := d.fd, d.stop, d.loopDone
	d.fd, d.stop, d.loopDone = -1, nil, nil
	d.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	if fd < 0 {
		return nil
	}
	return d.sys.Close(fd)
}
