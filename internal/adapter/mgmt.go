package adapter

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/srg/bleadv/internal/asyncsock"
	"github.com/srg/bleadv/internal/groutine"
	"github.com/srg/bleadv/pkg/codec"
	"golang.org/x/sys/unix"
)

const (
	// MgmtCmdRTO bounds the wait for a MGMT command reply.
	MgmtCmdRTO = 3 * time.Second
	// RefreshBackoff separates re-acquisition attempts.
	RefreshBackoff = time.Second

	hciDevNone        = 0xFFFF
	hciChannelControl = 3

	mgmtEvCmdComplete = 0x0001
	mgmtEvCmdStatus   = 0x0002

	mgmtOpReadIndexList = 0x0003
	mgmtOpReadInfo      = 0x0004
	mgmtOpAddAdv        = 0x003E
	mgmtOpRemoveAdv     = 0x003F
)

type mgmtPending struct {
	devID  uint16
	opcode uint16
	ch     chan mgmtReply
}

type mgmtReply struct {
	status byte
	data   []byte
	failed bool
}

type ManagerOptions struct {
	OnAdv   AdvRecvFunc
	Mode    Mode
	Logger  *logrus.Logger
	Metrics *Metrics
	// SocketFactory creates the MGMT and HCI sockets; asyncsock.New when nil.
	SocketFactory func() asyncsock.Socket
}

// Manager discovers the local controllers through the BlueZ management
// interface, runs one HCI adapter per controller and re-acquires all of
// them when the controller set changes or a socket fails.
type Manager struct {
	onAdv     AdvRecvFunc
	mode      Mode
	logger    *logrus.Logger
	metrics   *Metrics
	newSocket func() asyncsock.Socket

	mu       sync.Mutex
	sock     asyncsock.Socket
	adapters map[string]*HCI
	ctx      context.Context

	opened       atomic.Bool
	reconnecting atomic.Bool
	refreshDone  chan struct{}

	cmdMu   sync.Mutex
	pendMu  sync.Mutex
	pending *mgmtPending
}

func NewManager(opts ManagerOptions) *Manager {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.SocketFactory == nil {
		logger := opts.Logger
		opts.SocketFactory = func() asyncsock.Socket { return asyncsock.New(logger) }
	}
	return &Manager{
		onAdv:     opts.OnAdv,
		mode:      opts.Mode,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		newSocket: opts.SocketFactory,
		adapters:  map[string]*HCI{},
		ctx:       context.Background(),
	}
}

// Adapters returns the running HCI adapters keyed by name.
func (m *Manager) Adapters() map[string]*HCI {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*HCI, len(m.adapters))
	for k, v := range m.adapters {
		out[k] = v
	}
	return out
}

// AdapterNames returns the running adapter names, sorted.
func (m *Manager) AdapterNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := lo.Keys(m.adapters)
	slices.Sort(names)
	return names
}

// Init opens the MGMT socket and starts an HCI adapter, scanning, for
// every controller. ctx is kept for later re-acquisitions.
func (m *Manager) Init(ctx context.Context) error {
	m.mu.Lock()
	m.ctx = ctx
	m.sock = m.newSocket()
	sock := m.sock
	m.mu.Unlock()

	fd, err := sock.Open(ctx, "mgmt", m.recv, m.sockClosed, unix.AF_BLUETOOTH, unix.SOCK_RAW, unix.BTPROTO_HCI)
	if err != nil {
		return wrap("mgmt", "open", err)
	}
	if err := sock.Bind(ctx, asyncsock.Addr{Dev: hciDevNone, Channel: hciChannelControl}); err != nil {
		return wrap("mgmt", "bind", err)
	}
	if err := sock.StartRecv(ctx); err != nil {
		return wrap("mgmt", "receive", err)
	}
	m.opened.Store(true)
	m.logger.WithField("fd", fd).Debug("MGMT connected")

	_, index, err := m.SendCommand(ctx, hciDevNone, mgmtOpReadIndexList, nil)
	if err != nil {
		return err
	}
	if len(index) < 2 {
		return wrap("mgmt", "index list", fmt.Errorf("%w: short reply", ErrCommandFailed))
	}
	count := int(binary.LittleEndian.Uint16(index[0:2]))
	m.logger.WithField("count", count).Debug("MGMT controllers")

	for i := range count {
		if len(index) < 2*(i+2) {
			break
		}
		devID := binary.LittleEndian.Uint16(index[2*(i+1) : 2*(i+2)])
		if err := m.startController(ctx, devID); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) startController(ctx context.Context, devID uint16) error {
	_, info, err := m.SendCommand(ctx, devID, mgmtOpReadInfo, nil)
	if err != nil {
		return err
	}
	if len(info) < 6 {
		return wrap("mgmt", "read info", fmt.Errorf("%w: short reply", ErrCommandFailed))
	}
	name := "hci/" + ControllerAddress(info[0:6])
	m.logger.WithFields(logrus.Fields{"adapter": name, "dev": devID}).Debug("MGMT controller found")

	hci := NewHCI(HCIOptions{
		Name:    name,
		DevID:   devID,
		Socket:  m.newSocket(),
		Mode:    m.mode,
		Relay:   m,
		OnError: m.adapterError,
		Logger:  m.logger,
		Metrics: m.metrics,
	})
	m.mu.Lock()
	m.adapters[name] = hci
	m.mu.Unlock()

	if err := hci.Init(ctx); err != nil {
		return err
	}
	return hci.StartScan(ctx, m.onAdv)
}

// ControllerAddress formats a little endian controller address.
func ControllerAddress(le []byte) string {
	parts := make([]string, 0, len(le))
	for _, b := range slices.Backward(le) {
		parts = append(parts, fmt.Sprintf("%02X", b))
	}
	return strings.Join(parts, ":")
}

// Final stops every adapter and closes the MGMT socket.
func (m *Manager) Final() {
	m.opened.Store(false)
	m.mu.Lock()
	adapters := m.adapters
	sock := m.sock
	m.adapters = map[string]*HCI{}
	m.sock = nil
	m.mu.Unlock()

	for _, a := range adapters {
		a.Final()
	}
	if sock != nil {
		_ = sock.Close()
	}
}

func (m *Manager) recv(data []byte) {
	if len(data) < 6 {
		return
	}
	event := binary.LittleEndian.Uint16(data[0:2])
	devID := binary.LittleEndian.Uint16(data[2:4])
	switch event {
	case mgmtEvCmdComplete, mgmtEvCmdStatus:
		if len(data) < 9 {
			return
		}
		opcode := binary.LittleEndian.Uint16(data[6:8])
		m.pendMu.Lock()
		p := m.pending
		m.pendMu.Unlock()
		if p == nil || p.devID != devID || p.opcode != opcode {
			return
		}
		reply := mgmtReply{status: data[8]}
		if event == mgmtEvCmdComplete {
			reply.data = slices.Clone(data[9:])
		} else {
			reply.failed = data[8] != 0
		}
		if event == mgmtEvCmdStatus && !reply.failed {
			return
		}
		select {
		case p.ch <- reply:
		default:
		}
	case 0x0012, 0x0013:
		// discovery events
	case 0x0003, 0x0004, 0x0005, 0x0006:
		m.logger.WithField("event", fmt.Sprintf("0x%04X", event)).Debug("Controller change, refreshing")
		m.launchRefresh()
	default:
		m.logger.WithFields(logrus.Fields{
			"event": fmt.Sprintf("0x%04X", event),
			"data":  codec.Hex(data[6:]),
		}).Debug("Unhandled MGMT event")
	}
}

// SendCommand issues a MGMT command and returns the Command Complete
// status and parameters. A failing Command Status ends the wait early.
func (m *Manager) SendCommand(ctx context.Context, devID, opcode uint16, params []byte) (byte, []byte, error) {
	op := fmt.Sprintf("command 0x%04X", opcode)
	m.mu.Lock()
	sock := m.sock
	m.mu.Unlock()
	if !m.opened.Load() || sock == nil {
		return 0, nil, wrap("mgmt", op, ErrUnavailable)
	}
	pkt := binary.LittleEndian.AppendUint16(nil, opcode)
	pkt = binary.LittleEndian.AppendUint16(pkt, devID)
	pkt = binary.LittleEndian.AppendUint16(pkt, uint16(len(params)))
	pkt = append(pkt, params...)

	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()

	p := &mgmtPending{devID: devID, opcode: opcode, ch: make(chan mgmtReply, 1)}
	m.pendMu.Lock()
	m.pending = p
	m.pendMu.Unlock()
	defer func() {
		m.pendMu.Lock()
		m.pending = nil
		m.pendMu.Unlock()
	}()

	if err := sock.SendAll(ctx, pkt); err != nil {
		return 0, nil, wrap("mgmt", op, err)
	}
	timer := time.NewTimer(MgmtCmdRTO)
	defer timer.Stop()
	select {
	case r := <-p.ch:
		if r.failed {
			return r.status, nil, wrap("mgmt", op, fmt.Errorf("%w: status 0x%02X", ErrCommandFailed, r.status))
		}
		return r.status, r.data, nil
	case <-timer.C:
		return 0, nil, wrap("mgmt", op, ErrAdapterTimeout)
	case <-ctx.Done():
		return 0, nil, wrap("mgmt", op, ctx.Err())
	}
}

// AddAdvertising registers data as advertising instance on devID.
func (m *Manager) AddAdvertising(ctx context.Context, devID uint16, instance uint8, interval time.Duration, data []byte) error {
	params := []byte{instance}
	params = binary.LittleEndian.AppendUint32(params, 0)
	duration := uint16(max(1, advertiseWindow(interval)/time.Second))
	params = binary.LittleEndian.AppendUint16(params, duration)
	params = binary.LittleEndian.AppendUint16(params, 0)
	params = append(params, byte(len(data)), 0)
	params = append(params, data...)
	status, _, err := m.SendCommand(ctx, devID, mgmtOpAddAdv, params)
	if err != nil {
		return err
	}
	if status != 0 {
		return wrap("mgmt", "add advertising", fmt.Errorf("%w: status 0x%02X", ErrCommandFailed, status))
	}
	return nil
}

func (m *Manager) RemoveAdvertising(ctx context.Context, devID uint16, instance uint8) error {
	status, _, err := m.SendCommand(ctx, devID, mgmtOpRemoveAdv, []byte{instance})
	if err != nil {
		return err
	}
	if status != 0 {
		return wrap("mgmt", "remove advertising", fmt.Errorf("%w: status 0x%02X", ErrCommandFailed, status))
	}
	return nil
}

func (m *Manager) adapterError(err error) {
	if errors.Is(err, ErrDataTooLong) {
		m.logger.WithError(err).Warn("Advertisement rejected by adapter")
		return
	}
	m.logger.WithError(err).Debug("HCI adapter error, resetting")
	m.launchRefresh()
}

func (m *Manager) sockClosed() {
	m.logger.Debug("MGMT socket closed, resetting")
	m.launchRefresh()
}

// Refreshing reports whether a re-acquisition is in progress.
func (m *Manager) Refreshing() bool { return m.reconnecting.Load() }

// launchRefresh starts a single re-acquisition: everything is closed,
// then Init is retried every RefreshBackoff until it succeeds or the
// context given to the last Init is done.
func (m *Manager) launchRefresh() {
	if !m.reconnecting.CompareAndSwap(false, true) {
		return
	}
	m.metrics.Refreshes.Inc()
	m.mu.Lock()
	ctx := m.ctx
	done := make(chan struct{})
	m.refreshDone = done
	m.mu.Unlock()

	groutine.Go(ctx, "mgmt-refresh", func(ctx context.Context) {
		defer close(done)
		defer m.reconnecting.Store(false)

		m.Final()
		attempt := 0
		err := backoff.Retry(func() error {
			attempt++
			if err := m.Init(ctx); err != nil {
				m.logger.WithError(err).WithField("attempt", attempt).Debug("Reconnect failed, retrying")
				m.Final()
				return err
			}
			return nil
		}, backoff.WithContext(backoff.NewConstantBackOff(RefreshBackoff), ctx))
		if err != nil {
			m.logger.WithError(err).Warn("Adapter re-acquisition abandoned")
		}
	})
}

// WaitRefresh blocks until the running re-acquisition, if any, ends.
func (m *Manager) WaitRefresh(ctx context.Context) error {
	m.mu.Lock()
	done := m.refreshDone
	m.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
