package asyncsock

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleadv/internal/groutine"
)

// Tunnel frame actions.
const (
	ActionResult    = 0
	ActionException = 1
	ActionCall      = 10
)

const (
	methodCreate = "##CREATE"
	methodRecv   = "##RECV"
)

// Frame is one message on the tunnel: a 2-byte big-endian length followed
// by its JSON encoding. Calls and received packets use ActionCall.
type Frame struct {
	Action int             `json:"action"`
	Method string          `json:"method,omitempty"`
	Args   []any           `json:"args,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// WriteFrame encodes f onto w.
func WriteFrame(w io.Writer, f Frame) error {
	body, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if len(body) > 0xFFFF {
		return fmt.Errorf("frame too large: %d bytes", len(body))
	}
	buf := binary.BigEndian.AppendUint16(make([]byte, 0, len(body)+2), uint16(len(body)))
	_, err = w.Write(append(buf, body...))
	return err
}

// ReadFrame decodes the next frame from r. A zero length means the peer
// is closing and is reported as io.EOF.
func ReadFrame(r io.Reader) (Frame, error) {
	var f Frame
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return f, err
	}
	n := binary.BigEndian.Uint16(hdr[:])
	if n == 0 {
		return f, io.EOF
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return f, err
	}
	err := json.Unmarshal(body, &f)
	return f, err
}

// Tunnel forwards socket calls to a privileged helper over a Unix socket.
type Tunnel struct {
	callbacks
	path string

	mu      sync.Mutex
	conn    net.Conn
	pending chan Frame
	done    chan struct{}
}

func NewTunnel(path string, logger *logrus.Logger) *Tunnel {
	if logger == nil {
		logger = logrus.New()
	}
	return &Tunnel{callbacks: callbacks{logger: logger}, path: path}
}

func (t *Tunnel) Path() string { return t.path }

// Open connects to the helper, starts the frame reader and asks the helper
// to create the socket. The returned descriptor is the helper's.
func (t *Tunnel) Open(ctx context.Context, name string, recv RecvFunc, onClose CloseFunc, family, typ, proto int) (int, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", t.path)
	if err != nil {
		return -1, fmt.Errorf("tunnel %s: %w", t.path, err)
	}

	t.mu.Lock()
	t.recv, t.onClose = recv, onClose
	t.conn = conn
	t.pending = make(chan Frame, 1)
	t.done = make(chan struct{})
	done := t.done
	t.mu.Unlock()

	ready := make(chan struct{})
	groutine.Go(ctx, "asyncsock-tunnel-"+name, func(context.Context) {
		close(ready)
		t.receive(conn, done)
	})
	select {
	case <-ready:
	case <-time.After(readyTimeout):
		return -1, fmt.Errorf("tunnel receive: %w", context.DeadlineExceeded)
	}

	res, err := t.invoke(ctx, Frame{Method: methodCreate, Args: []any{name, family, typ, proto}})
	if err != nil {
		return -1, err
	}
	var fd int
	if err := json.Unmarshal(res, &fd); err != nil {
		return -1, fmt.Errorf("%s: bad descriptor %s: %w", methodCreate, res, err)
	}
	return fd, nil
}

func (t *Tunnel) Bind(ctx context.Context, addr Addr) error {
	_, err := t.invoke(ctx, Frame{Method: "bind", Args: []any{addr}})
	return err
}

func (t *Tunnel) SetSockopt(ctx context.Context, level, opt int, value []byte) error {
	_, err := t.invoke(ctx, Frame{Method: "setsockopt", Args: []any{level, opt, value}})
	return err
}

func (t *Tunnel) SendAll(ctx context.Context, data []byte) error {
	_, err := t.invoke(ctx, Frame{Method: "sendall", Args: []any{data}})
	return err
}

func (t *Tunnel) StartRecv(ctx context.Context) error {
	if _, err := t.invoke(ctx, Frame{Method: methodRecv, Args: []any{RecvBufSize}}); err != nil {
		return err
	}
	t.recvStarted.Store(true)
	return nil
}

// invoke sends a call frame and waits for its result or exception.
func (t *Tunnel) invoke(ctx context.Context, f Frame) (json.RawMessage, error) {
	t.callMu.Lock()
	defer t.callMu.Unlock()

	t.mu.Lock()
	conn, pending := t.conn, t.pending
	t.mu.Unlock()
	if conn == nil {
		return nil, ErrNotOpen
	}

	ctx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	// drop a late answer to a call that already timed out
	select {
	case <-pending:
	default:
	}

	f.Action = ActionCall
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	if err := WriteFrame(conn, f); err != nil {
		return nil, fmt.Errorf("%s: %w", f.Method, err)
	}

	select {
	case resp, ok := <-pending:
		if !ok {
			return nil, fmt.Errorf("%s: %w", f.Method, ErrNotOpen)
		}
		if resp.Action == ActionException {
			return nil, fmt.Errorf("%s: %w: %s", f.Method, ErrRemote, resp.Error)
		}
		return resp.Data, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", f.Method, ctx.Err())
	}
}

func (t *Tunnel) receive(conn net.Conn, done chan struct{}) {
	defer close(done)
	defer t.loopEnded()

	t.mu.Lock()
	pending := t.pending
	t.mu.Unlock()
	defer close(pending)

	for {
		f, err := ReadFrame(conn)
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
			t.logger.WithError(err).Warn("invalid tunnel frame")
			continue
		case err != nil:
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				t.logger.WithError(err).Debug("tunnel read failed")
			}
			return
		}

		switch f.Action {
		case ActionResult, ActionException:
			select {
			case pending <- f:
			default:
				t.logger.WithField("action", f.Action).Debug("unsolicited tunnel answer")
			}
		case ActionCall:
			var data []byte
			if err := json.Unmarshal(f.Data, &data); err != nil {
				t.logger.WithError(err).Warn("invalid tunnel data")
				continue
			}
			t.deliver(data)
		default:
			t.logger.WithField("action", f.Action).Debug("ignoring tunnel frame")
		}
	}
}

// Close drops the connection; the helper closes its socket in turn.
func (t *Tunnel) Close() error {
	t.recvStarted.Store(false)

	t.mu.Lock()
	conn, done := t.conn, t.done
	t.conn = nil
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close()
	<-done
	return err
}
