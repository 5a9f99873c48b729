package asyncsock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
	"golang.org/x/sys/unix"
)

// pairSys hands out one end of a socket pair instead of a Bluetooth
// socket and records the control calls made on it.
type pairSys struct {
	unixSys

	mu      sync.Mutex
	local   int
	bound   []*unix.SockaddrHCI
	opts    [][3]any
	bindErr error
}

func (p *pairSys) Socket(int, int, int) (int, error) { return p.local, nil }

func (p *pairSys) Bind(_ int, sa unix.Sockaddr) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bindErr != nil {
		return p.bindErr
	}
	p.bound = append(p.bound, sa.(*unix.SockaddrHCI))
	return nil
}

func (p *pairSys) SetsockoptString(_, level, opt int, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opts = append(p.opts, [3]any{level, opt, value})
	return nil
}

type DirectSocketTestSuite struct {
	suite.Suite

	sys    *pairSys
	remote int
	sock   *Direct

	received chan []byte
	closed   chan struct{}
}

func (suite *DirectSocketTestSuite) SetupTest() {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	suite.Require().NoError(err)
	suite.sys = &pairSys{local: fds[0]}
	suite.remote = fds[1]

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	suite.sock = NewDirect(logger)
	suite.sock.sys = suite.sys

	suite.received = make(chan []byte, 4)
	suite.closed = make(chan struct{}, 1)
}

func (suite *DirectSocketTestSuite) TearDownTest() {
	_ = suite.sock.Close()
	_ = unix.Close(suite.remote)
}

func (suite *DirectSocketTestSuite) open() {
	fd, err := suite.sock.Open(context.Background(), "test",
		func(data []byte) { suite.received <- data },
		func() { suite.closed <- struct{}{} },
		unix.AF_BLUETOOTH, unix.SOCK_RAW, unix.BTPROTO_HCI)
	suite.Require().NoError(err)
	suite.Equal(suite.sys.local, fd)
}

func (suite *DirectSocketTestSuite) TestCallsBeforeOpen() {
	suite.ErrorIs(suite.sock.Bind(context.Background(), Addr{}), ErrNotOpen)
	suite.ErrorIs(suite.sock.StartRecv(context.Background()), ErrNotOpen)
	suite.NoError(suite.sock.Close())
}

func (suite *DirectSocketTestSuite) TestControlCallsPassThrough() {
	ctx := context.Background()
	suite.open()

	suite.Require().NoError(suite.sock.Bind(ctx, Addr{Dev: 1}))
	suite.Equal([]*unix.SockaddrHCI{{Dev: 1}}, suite.sys.bound)

	suite.sys.bindErr = errors.New("cannot connect")
	suite.ErrorIs(suite.sock.Bind(ctx, Addr{Dev: 1}), suite.sys.bindErr)

	suite.Require().NoError(suite.sock.SetSockopt(ctx, 1, 2, []byte{3}))
	suite.Equal([][3]any{{1, 2, "\x03"}}, suite.sys.opts)
}

func (suite *DirectSocketTestSuite) TestReceiveAndLocalClose() {
	ctx := context.Background()
	suite.open()
	suite.Require().NoError(suite.sock.StartRecv(ctx))

	_, err := unix.Write(suite.remote, []byte("recv data"))
	suite.Require().NoError(err)
	select {
	case data := <-suite.received:
		suite.Equal([]byte("recv data"), data)
	case <-time.After(time.Second):
		suite.Fail("nothing received")
	}

	suite.Require().NoError(suite.sock.SendAll(ctx, []byte("ping")))
	buf := make([]byte, 16)
	n, err := unix.Read(suite.remote, buf)
	suite.Require().NoError(err)
	suite.Equal([]byte("ping"), buf[:n])

	suite.Require().NoError(suite.sock.Close())
	select {
	case <-suite.closed:
		suite.Fail("close callback invoked on local close")
	case <-time.After(200 * time.Millisecond):
	}
}

func (suite *DirectSocketTestSuite) TestPeerCloseInvokesCallback() {
	suite.open()
	suite.Require().NoError(suite.sock.StartRecv(context.Background()))

	suite.Require().NoError(unix.Shutdown(suite.remote, unix.SHUT_RDWR))
	select {
	case <-suite.closed:
	case <-time.After(time.Second):
		suite.Fail("close callback not invoked")
	}
}

func TestDirectSocketTestSuite(t *testing.T) {
	suite.Run(t, new(DirectSocketTestSuite))
}
