package asyncsock_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleadv/internal/asyncsock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

// helper plays the privileged side of the tunnel.
type helper struct {
	ln   net.Listener
	mu   sync.Mutex
	conn net.Conn

	failing map[string]string
	calls   chan asyncsock.Frame
}

func startHelper(t *testing.T) *helper {
	dir, err := os.MkdirTemp("", "tun")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	ln, err := net.Listen("unix", filepath.Join(dir, "hci.sock"))
	if err != nil {
		t.Fatal(err)
	}
	h := &helper{ln: ln, failing: map[string]string{}, calls: make(chan asyncsock.Frame, 16)}
	go h.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return h
}

func (h *helper) path() string { return h.ln.Addr().String() }

func (h *helper) serve() {
	conn, err := h.ln.Accept()
	if err != nil {
		return
	}
	h.mu.Lock()
	h.conn = conn
	h.mu.Unlock()

	for {
		f, err := asyncsock.ReadFrame(conn)
		if err != nil {
			return
		}
		h.calls <- f
		h.mu.Lock()
		msg, fail := h.failing[f.Method]
		h.mu.Unlock()
		switch {
		case fail:
			h.send(asyncsock.Frame{Action: asyncsock.ActionException, Error: msg})
		case f.Method == "##CREATE":
			h.send(asyncsock.Frame{Action: asyncsock.ActionResult, Data: json.RawMessage("7")})
		default:
			h.send(asyncsock.Frame{Action: asyncsock.ActionResult})
		}
	}
}

func (h *helper) fail(method, msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failing[method] = msg
}

func (h *helper) clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failing = map[string]string{}
}

func (h *helper) send(f asyncsock.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_ = asyncsock.WriteFrame(h.conn, f)
}

func (h *helper) push(data []byte) {
	raw, _ := json.Marshal(data)
	h.send(asyncsock.Frame{Action: asyncsock.ActionCall, Data: raw})
}

type TunnelSocketTestSuite struct {
	suite.Suite

	helper   *helper
	sock     *asyncsock.Tunnel
	received chan []byte
	closed   chan struct{}
}

func (suite *TunnelSocketTestSuite) SetupTest() {
	suite.helper = startHelper(suite.T())
	suite.sock = asyncsock.NewTunnel(suite.helper.path(), logrus.New())
	suite.received = make(chan []byte, 4)
	suite.closed = make(chan struct{}, 1)
}

func (suite *TunnelSocketTestSuite) TearDownTest() {
	_ = suite.sock.Close()
}

func (suite *TunnelSocketTestSuite) open() {
	fd, err := suite.sock.Open(context.Background(), "test",
		func(data []byte) { suite.received <- data },
		func() { suite.closed <- struct{}{} },
		31, 3, 1)
	suite.Require().NoError(err)
	suite.Equal(7, fd)

	create := <-suite.helper.calls
	suite.Equal(asyncsock.ActionCall, create.Action)
	suite.Equal("##CREATE", create.Method)
	suite.Equal([]any{"test", 31.0, 3.0, 1.0}, create.Args)
}

func (suite *TunnelSocketTestSuite) TestCallsBeforeOpen() {
	suite.ErrorIs(suite.sock.Bind(context.Background(), asyncsock.Addr{}), asyncsock.ErrNotOpen)
	suite.NoError(suite.sock.Close())
}

func (suite *TunnelSocketTestSuite) TestFullSession() {
	ctx := context.Background()
	suite.open()

	suite.Run("invalid action is ignored", func() {
		raw, _ := json.Marshal("invalid action")
		suite.helper.send(asyncsock.Frame{Action: 100, Data: raw})
	})

	suite.Run("bind error propagates", func() {
		suite.helper.fail("bind", "connection error")
		err := suite.sock.Bind(ctx, asyncsock.Addr{Dev: 1})
		suite.ErrorIs(err, asyncsock.ErrRemote)
		suite.ErrorContains(err, "connection error")
		<-suite.helper.calls
		suite.helper.clear()
	})

	suite.Run("control calls succeed", func() {
		suite.Require().NoError(suite.sock.Bind(ctx, asyncsock.Addr{Dev: 1}))
		bind := <-suite.helper.calls
		suite.Equal("bind", bind.Method)
		suite.Equal([]any{map[string]any{"dev": 1.0, "channel": 0.0}}, bind.Args)

		suite.Require().NoError(suite.sock.SetSockopt(ctx, 1, 2, []byte{3}))
		suite.Equal("setsockopt", (<-suite.helper.calls).Method)
	})

	suite.Run("received data reaches the callback", func() {
		suite.Require().NoError(suite.sock.StartRecv(ctx))
		suite.Equal("##RECV", (<-suite.helper.calls).Method)

		suite.helper.push([]byte("recv data"))
		select {
		case data := <-suite.received:
			suite.Equal([]byte("recv data"), data)
		case <-time.After(time.Second):
			suite.Fail("nothing received")
		}
	})

	suite.Run("local close does not invoke the callback", func() {
		suite.Require().NoError(suite.sock.Close())
		select {
		case <-suite.closed:
			suite.Fail("close callback invoked")
		case <-time.After(200 * time.Millisecond):
		}
	})
}

func (suite *TunnelSocketTestSuite) TestPeerCloseInvokesCallback() {
	suite.open()
	suite.Require().NoError(suite.sock.StartRecv(context.Background()))
	<-suite.helper.calls

	suite.helper.mu.Lock()
	_ = suite.helper.conn.Close()
	suite.helper.mu.Unlock()

	select {
	case <-suite.closed:
	case <-time.After(time.Second):
		suite.Fail("close callback not invoked")
	}
}

func (suite *TunnelSocketTestSuite) TestCallTimesOut() {
	suite.open()
	// a helper that never answers
	suite.helper.mu.Lock()
	conn := suite.helper.conn
	suite.helper.conn = &silentConn{Conn: conn}
	suite.helper.mu.Unlock()

	start := time.Now()
	err := suite.sock.Bind(context.Background(), asyncsock.Addr{})
	suite.ErrorIs(err, context.DeadlineExceeded)
	suite.InDelta(asyncsock.CallTimeout.Seconds(), time.Since(start).Seconds(), 0.5)
}

type silentConn struct{ net.Conn }

func (silentConn) Write(p []byte) (int, error) { return len(p), nil }

func TestTunnelSocketTestSuite(t *testing.T) {
	suite.Run(t, new(TunnelSocketTestSuite))
}

func TestFrameCodec(t *testing.T) {
	r, w := net.Pipe()
	defer r.Close()

	go func() {
		_ = asyncsock.WriteFrame(w, asyncsock.Frame{Action: asyncsock.ActionCall, Method: "sendall", Args: []any{"AQI="}})
		_, _ = w.Write([]byte{0, 0})
		_ = w.Close()
	}()

	f, err := asyncsock.ReadFrame(r)
	assert.NoError(t, err)
	assert.Equal(t, "sendall", f.Method)
	assert.Equal(t, []any{"AQI="}, f.Args)

	_, err = asyncsock.ReadFrame(r)
	assert.True(t, errors.Is(err, io.EOF))
}

func TestNewChoosesTransport(t *testing.T) {
	t.Setenv(asyncsock.TunnelSocketEnv, "")
	assert.NoError(t, os.Unsetenv(asyncsock.TunnelSocketEnv))
	assert.IsType(t, &asyncsock.Direct{}, asyncsock.New(nil))

	t.Setenv(asyncsock.TunnelSocketEnv, "whatever")
	tun, ok := asyncsock.New(nil).(*asyncsock.Tunnel)
	assert.True(t, ok)
	assert.Equal(t, "whatever", tun.Path())

	t.Setenv(asyncsock.TunnelSocketEnv, "")
	tun, ok = asyncsock.New(nil).(*asyncsock.Tunnel)
	assert.True(t, ok)
	assert.Equal(t, asyncsock.DefaultTunnelSocket, tun.Path())
}
