// Package asyncsock wraps the raw Bluetooth sockets used by the adapters.
//
// A Socket is either opened directly through the kernel (Direct) or
// through a privileged helper reachable over a Unix socket (Tunnel). Both
// deliver received packets to a callback from a dedicated goroutine and
// serialise control calls, one at a time, each bounded by CallTimeout.
package asyncsock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// TunnelSocketEnv selects the tunnel transport and names its Unix socket.
	TunnelSocketEnv = "TUNNEL_SOCKET_FILE"
	// DefaultTunnelSocket is used when TunnelSocketEnv is set but empty.
	DefaultTunnelSocket = "/tunnel_socket/hci.sock"

	CallTimeout  = time.Second
	RecvBufSize  = 4096
	readyTimeout = time.Second
)

var (
	ErrNotOpen = errors.New("socket not open")
	ErrRemote  = errors.New("remote call failed")
)

// RecvFunc receives one packet; the slice is owned by the callee.
type RecvFunc func(data []byte)

// CloseFunc is invoked when the peer closes a socket whose receive loop
// was started with StartRecv.
type CloseFunc func()

// Addr is a Bluetooth HCI socket address.
type Addr struct {
	Dev     uint16 `json:"dev"`
	Channel uint16 `json:"channel"`
}

type Socket interface {
	Open(ctx context.Context, name string, recv RecvFunc, onClose CloseFunc, family, typ, proto int) (int, error)
	Bind(ctx context.Context, addr Addr) error
	SetSockopt(ctx context.Context, level, opt int, value []byte) error
	SendAll(ctx context.Context, data []byte) error
	StartRecv(ctx context.Context) error
	Close() error
}

// New returns a Tunnel when TUNNEL_SOCKET_FILE is present in the
// environment, a Direct socket otherwise.
func New(logger *logrus.Logger) Socket {
	if path, ok := os.LookupEnv(TunnelSocketEnv); ok {
		if path == "" {
			path = DefaultTunnelSocket
		}
		return NewTunnel(path, logger)
	}
	return NewDirect(logger)
}

// callbacks holds what both transports share: user callbacks, the
// functional receive flag and call serialisation.
type callbacks struct {
	recv    RecvFunc
	onClose CloseFunc
	logger  *logrus.Logger

	callMu      sync.Mutex
	recvStarted atomic.Bool
}

func (c *callbacks) deliver(data []byte) {
	if c.recv != nil {
		c.recv(data)
	}
}

// loopEnded fires the close callback once, and only if a functional
// receive was running.
func (c *callbacks) loopEnded() {
	if c.recvStarted.CompareAndSwap(true, false) && c.onClose != nil {
		go c.onClose()
	}
}

// call runs fn under the call lock and waits at most CallTimeout for it.
func (c *callbacks) call(ctx context.Context, method string, fn func() (any, error)) (any, error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	type result struct {
		v   any
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("%s: %w", method, r.err)
		}
		return r.v, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", method, ctx.Err())
	}
}
