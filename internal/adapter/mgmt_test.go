//go:build test

package adapter_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/srg/bleadv/internal/adapter"
	"github.com/srg/bleadv/internal/asyncsock"
	"github.com/srg/bleadv/internal/testutils"
	"github.com/stretchr/testify/suite"
)

const (
	mgmtOpIndexList = 0x0003
	mgmtOpInfo      = 0x0004
	mgmtOpAddAdv    = 0x003E
	mgmtOpRemoveAdv = 0x003F
)

// controllerAddr is hci/11:22:33:44:55:66 in wire order.
var controllerAddr = []byte{0x66, 0x55, 0x44, 0x33, 0x22, 0x11}

// mgmtResponder answers the MGMT commands the manager issues. Opcodes in
// failing get a failing Command Status instead.
func mgmtResponder(failing map[uint16]byte) func(*testutils.FakeSocket, []byte) {
	return func(s *testutils.FakeSocket, pkt []byte) {
		opcode, dev, params, ok := testutils.MgmtCommand(pkt)
		if !ok {
			return
		}
		if status, fail := failing[opcode]; fail {
			s.Inject(testutils.MgmtCommandStatus(dev, opcode, status))
			return
		}
		s.Inject(testutils.MgmtCommandStatus(dev, opcode, 0))
		switch opcode {
		case mgmtOpIndexList:
			s.Inject(testutils.MgmtCommandComplete(dev, opcode, 0, 0x01, 0x00, 0x00, 0x00))
		case mgmtOpInfo:
			info := append([]byte{}, controllerAddr...)
			info = append(info, 0x09, 0x02, 0x00)
			s.Inject(testutils.MgmtCommandComplete(dev, opcode, 0, info...))
		case mgmtOpAddAdv, mgmtOpRemoveAdv:
			s.Inject(testutils.MgmtCommandComplete(dev, opcode, 0, params[0]))
		default:
			s.Inject(testutils.MgmtCommandComplete(dev, opcode, 0))
		}
	}
}

// socketFactory hands out a MGMT socket first, then HCI sockets.
type socketFactory struct {
	mu         sync.Mutex
	created    []*testutils.FakeSocket
	mgmtFail   map[uint16]byte
	hciStatus  map[uint16]byte
	mgmtIsNext bool
}

func (f *socketFactory) New() asyncsock.Socket {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &testutils.FakeSocket{}
	if len(f.created) == 0 || f.mgmtIsNext {
		s.OnSend = mgmtResponder(f.mgmtFail)
		f.mgmtIsNext = false
	} else {
		s.OnSend = testutils.HCIResponder(f.hciStatus, nil)
		f.mgmtIsNext = true
	}
	f.created = append(f.created, s)
	return s
}

func (f *socketFactory) Sockets() []*testutils.FakeSocket {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*testutils.FakeSocket(nil), f.created...)
}

type ManagerTestSuite struct {
	suite.Suite
	factory *socketFactory
	mgr     *adapter.Manager
	ctx     context.Context
	cancel  context.CancelFunc
}

func (suite *ManagerTestSuite) SetupTest() {
	suite.factory = &socketFactory{}
	suite.ctx, suite.cancel = context.WithCancel(context.Background())
	suite.mgr = adapter.NewManager(adapter.ManagerOptions{
		Mode:          adapter.ModeLegacy,
		Logger:        testutils.NewLogger(suite.T()),
		SocketFactory: suite.factory.New,
	})
}

func (suite *ManagerTestSuite) TearDownTest() {
	suite.cancel()
	_ = suite.mgr.WaitRefresh(context.Background())
	suite.mgr.Final()
}

func (suite *ManagerTestSuite) TestInitStartsOneAdapterPerController() {
	suite.Require().NoError(suite.mgr.Init(suite.ctx))

	suite.Equal([]string{"hci/11:22:33:44:55:66"}, suite.mgr.AdapterNames())
	hci := suite.mgr.Adapters()["hci/11:22:33:44:55:66"]
	suite.Require().NotNil(hci)
	suite.True(hci.Available())
	suite.Equal(uint16(0), hci.DevID())

	socks := suite.factory.Sockets()
	suite.Require().Len(socks, 2)
	suite.Equal([]asyncsock.Addr{{Dev: 0xFFFF, Channel: 3}}, socks[0].Bound)
	suite.Equal([]asyncsock.Addr{{Dev: 0, Channel: 0}}, socks[1].Bound)
	suite.True(socks[1].Started)
}

func (suite *ManagerTestSuite) TestFailingCommandStatus() {
	suite.factory.mgmtFail = map[uint16]byte{mgmtOpIndexList: 0x11}

	err := suite.mgr.Init(suite.ctx)

	suite.ErrorIs(err, adapter.ErrCommandFailed)
	suite.Empty(suite.mgr.AdapterNames())
}

func (suite *ManagerTestSuite) TestSendCommandBeforeInit() {
	_, _, err := suite.mgr.SendCommand(context.Background(), 0, mgmtOpInfo, nil)
	suite.ErrorIs(err, adapter.ErrUnavailable)
}

func (suite *ManagerTestSuite) TestRelayedAdvertising() {
	suite.factory.hciStatus = map[uint16]byte{ocfAdvEnable: 0x0C}
	suite.Require().NoError(suite.mgr.Init(suite.ctx))
	hci := suite.mgr.Adapters()["hci/11:22:33:44:55:66"]
	suite.Require().NotNil(hci)

	hci.Enqueue("dev", adapter.QueueItem{Key: 1, Repeat: 1, Interval: 20 * time.Millisecond, Data: testutils.MustHex("03 FF 01 02")})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	suite.Require().NoError(hci.Drain(ctx))

	suite.True(hci.Relayed())
	var opcodes []uint16
	for _, pkt := range suite.factory.Sockets()[0].SentPackets() {
		op, _, params, ok := testutils.MgmtCommand(pkt)
		suite.Require().True(ok)
		opcodes = append(opcodes, op)
		if op == mgmtOpAddAdv {
			suite.Equal(byte(1), params[0], "instance")
			suite.Equal(testutils.MustHex("03 FF 01 02"), params[11:])
		}
	}
	suite.Equal([]uint16{mgmtOpIndexList, mgmtOpInfo, mgmtOpAddAdv, mgmtOpRemoveAdv}, opcodes)
}

func (suite *ManagerTestSuite) TestControllerChangeRefreshes() {
	suite.Require().NoError(suite.mgr.Init(suite.ctx))
	first := suite.factory.Sockets()

	// Index Added
	first[0].Inject(testutils.MgmtEvent(0x0004, 1))
	suite.Require().NoError(suite.mgr.WaitRefresh(context.Background()))

	suite.False(suite.mgr.Refreshing())
	suite.True(first[0].IsClosed())
	suite.True(first[1].IsClosed())
	suite.Len(suite.factory.Sockets(), 4)
	suite.Equal([]string{"hci/11:22:33:44:55:66"}, suite.mgr.AdapterNames())
}

func (suite *ManagerTestSuite) TestAdapterFailureRefreshes() {
	suite.Require().NoError(suite.mgr.Init(suite.ctx))
	socks := suite.factory.Sockets()

	socks[1].PeerClose()
	suite.Require().NoError(suite.mgr.WaitRefresh(context.Background()))

	suite.Len(suite.factory.Sockets(), 4)
	suite.True(suite.mgr.Adapters()["hci/11:22:33:44:55:66"].Available())
}

func (suite *ManagerTestSuite) TestTooLongItemDoesNotRefresh() {
	suite.Require().NoError(suite.mgr.Init(suite.ctx))
	hci := suite.mgr.Adapters()["hci/11:22:33:44:55:66"]
	suite.Require().NotNil(hci)

	hci.Enqueue("q", adapter.QueueItem{Key: 1, Repeat: 1, Interval: 20 * time.Millisecond, Data: make([]byte, 300)})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	suite.Require().NoError(hci.Drain(ctx))

	suite.False(suite.mgr.Refreshing())
	suite.Len(suite.factory.Sockets(), 2)
	suite.True(hci.Available())
}

func (suite *ManagerTestSuite) TestDiscoveryEventsIgnored() {
	suite.Require().NoError(suite.mgr.Init(suite.ctx))
	socks := suite.factory.Sockets()

	socks[0].Inject(testutils.MgmtEvent(0x0012, 0, 0x01))
	socks[0].Inject(testutils.MgmtEvent(0x0013, 0, 0x01))

	suite.False(suite.mgr.Refreshing())
	suite.Len(suite.factory.Sockets(), 2)
}

func (suite *ManagerTestSuite) TestReportsReachCallback() {
	var mu sync.Mutex
	var names []string
	suite.mgr = adapter.NewManager(adapter.ManagerOptions{
		Mode:          adapter.ModeLegacy,
		Logger:        testutils.NewLogger(suite.T()),
		SocketFactory: suite.factory.New,
		OnAdv: func(name string, _ []byte) {
			mu.Lock()
			names = append(names, name)
			mu.Unlock()
		},
	})
	suite.Require().NoError(suite.mgr.Init(suite.ctx))

	suite.factory.Sockets()[1].Inject(testutils.LEAdvReport([]byte{0x02, 0x01, 0x06}))

	mu.Lock()
	defer mu.Unlock()
	suite.Equal([]string{"hci/11:22:33:44:55:66"}, names)
}

func TestControllerAddress(t *testing.T) {
	if got := adapter.ControllerAddress(controllerAddr); got != "11:22:33:44:55:66" {
		t.Fatalf("unexpected address %s", got)
	}
}

func TestManagerTestSuite(t *testing.T) {
	suite.Run(t, new(ManagerTestSuite))
}
