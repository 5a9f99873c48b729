package adapter

import (
	"context"
	"encoding/binary"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleadv/internal/asyncsock"
	"github.com/srg/bleadv/pkg/codec"
	"golang.org/x/sys/unix"
)

// CmdRTO bounds the wait for a Command Complete event.
const CmdRTO = time.Second

const (
	hciCommandPkt = 0x01
	hciEventPkt   = 0x04

	evtCmdComplete = 0x0E
	evtLEMeta      = 0x3E

	subLEAdvReport    = 0x02
	subLEExtAdvReport = 0x0D

	ogfLECtl = 0x08

	ocfReadLocalFeatures = 0x0003
	ocfSetAdvParams      = 0x0006
	ocfSetAdvData        = 0x0008
	ocfSetAdvEnable      = 0x000A
	ocfSetScanParams     = 0x000B
	ocfSetScanEnable     = 0x000C
	ocfSetExtAdvParams   = 0x0036
	ocfSetExtAdvData     = 0x0037
	ocfSetExtAdvEnable   = 0x0039
	ocfSetExtScanParams  = 0x0041
	ocfSetExtScanEnable  = 0x0042

	statusCmdDisallowed = 0x0C

	solHCI        = 0
	hciFilterOpt  = 2
	hciChannelRaw = 0

	legacyMaxData = 31
	extMaxData    = 251
	scanInterval  = 0x10
	scanWindow    = 0x10
	relayInstance = 1
)

// hciFilter lets event packets through, Command Complete and LE Meta only.
var hciFilter = func() []byte {
	b := binary.LittleEndian.AppendUint32(nil, 1<<hciEventPkt)
	b = binary.LittleEndian.AppendUint32(b, 1<<evtCmdComplete)
	b = binary.LittleEndian.AppendUint32(b, 1<<(evtLEMeta-0x20))
	return append(b, 0, 0, 0, 0)
}()

// inertAdv replaces the advertising data once done, in case the
// controller re-enables advertising on its own.
var inertAdv = []byte{0x03, 0xFF, 0x00, 0x00}

// Relay advertises on behalf of an HCI adapter whose controller refuses
// direct advertising commands.
type Relay interface {
	AddAdvertising(ctx context.Context, devID uint16, instance uint8, interval time.Duration, data []byte) error
	RemoveAdvertising(ctx context.Context, devID uint16, instance uint8) error
}

type hciResult struct {
	status byte
	data   []byte
}

type hciPending struct {
	opcode uint16
	ch     chan hciResult
}

type HCIOptions struct {
	Name    string
	DevID   uint16
	Socket  asyncsock.Socket
	Mode    Mode
	Relay   Relay
	OnError func(error)
	Logger  *logrus.Logger
	Metrics *Metrics
}

// HCI drives one controller through a raw HCI socket.
type HCI struct {
	*Scheduler

	devID   uint16
	sock    asyncsock.Socket
	mode    Mode
	relay   Relay
	onError func(error)
	logger  *logrus.Logger
	metrics *Metrics

	opened   atomic.Bool
	extended atomic.Bool
	relayed  atomic.Bool
	onAdv    atomic.Pointer[AdvRecvFunc]

	cmdMu   sync.Mutex
	pendMu  sync.Mutex
	pending *hciPending
	advMu   sync.Mutex
}

func NewHCI(opts HCIOptions) *HCI {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.Mode == "" {
		opts.Mode = ModeAuto
	}
	if opts.Socket == nil {
		opts.Socket = asyncsock.New(opts.Logger)
	}
	h := &HCI{
		devID:   opts.DevID,
		sock:    opts.Socket,
		mode:    opts.Mode,
		relay:   opts.Relay,
		onError: opts.OnError,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
	h.Scheduler = NewScheduler(opts.Name, h, h.handleError, opts.Logger, opts.Metrics)
	return h
}

func (h *HCI) DevID() uint16 { return h.devID }

// Extended reports whether the extended advertising command set is used.
func (h *HCI) Extended() bool { return h.extended.Load() }

// Relayed reports whether advertising goes through the MGMT relay.
func (h *HCI) Relayed() bool { return h.relayed.Load() }

func (h *HCI) handleError(err error) {
	if h.onError != nil {
		h.onError(err)
	}
}

// Open creates and configures the socket, then probes the controller.
func (h *HCI) Open(ctx context.Context) error {
	if h.opened.Load() {
		return nil
	}
	fd, err := h.sock.Open(ctx, h.name, h.recv, h.sockClosed, unix.AF_BLUETOOTH, unix.SOCK_RAW, unix.BTPROTO_HCI)
	if err != nil {
		return err
	}
	if err := h.configure(ctx); err != nil {
		_ = h.sock.Close()
		return err
	}
	h.opened.Store(true)
	h.probe(ctx)
	h.logger.WithFields(logrus.Fields{"adapter": h.name, "fd": fd, "extended": h.Extended()}).Info("HCI socket ready")
	return nil
}

func (h *HCI) configure(ctx context.Context) error {
	if err := h.sock.Bind(ctx, asyncsock.Addr{Dev: h.devID, Channel: hciChannelRaw}); err != nil {
		return err
	}
	if err := h.sock.SetSockopt(ctx, solHCI, hciFilterOpt, hciFilter); err != nil {
		return err
	}
	return h.sock.StartRecv(ctx)
}

func (h *HCI) probe(ctx context.Context) {
	switch h.mode {
	case ModeLegacy:
		h.extended.Store(false)
	case ModeExtended:
		h.extended.Store(true)
	default:
		status, data, err := h.command(ctx, hciCmd{ocf: ocfReadLocalFeatures})
		if err != nil || status != 0 || len(data) < 2 {
			h.logger.WithField("adapter", h.name).WithError(err).Debug("LE features unavailable, using legacy advertising")
			return
		}
		h.extended.Store(data[1]&0x10 != 0)
	}
}

func (h *HCI) Close() error {
	h.opened.Store(false)
	return h.sock.Close()
}

func (h *HCI) sockClosed() {
	h.logger.WithField("adapter", h.name).Debug("HCI socket closed by peer")
	h.handleError(wrap(h.name, "receive", ErrClosed))
}

func (h *HCI) recv(data []byte) {
	if len(data) < 2 || data[0] != hciEventPkt {
		return
	}
	switch data[1] {
	case evtLEMeta:
		if len(data) < 4 {
			return
		}
		switch data[3] {
		case subLEAdvReport:
			h.report(data, 13)
		case subLEExtAdvReport:
			h.report(data, 28)
		}
	case evtCmdComplete:
		if len(data) < 7 {
			return
		}
		opcode := binary.LittleEndian.Uint16(data[4:6])
		h.pendMu.Lock()
		p := h.pending
		h.pendMu.Unlock()
		if p != nil && p.opcode == opcode {
			select {
			case p.ch <- hciResult{status: data[6], data: slices.Clone(data[7:])}:
			default:
			}
		}
	}
}

// report extracts the payload whose length is at data[lenAt].
func (h *HCI) report(data []byte, lenAt int) {
	if len(data) <= lenAt {
		return
	}
	end := lenAt + 1 + int(data[lenAt])
	if end > len(data) {
		return
	}
	h.metrics.Received.WithLabelValues(h.name).Inc()
	if fn := h.onAdv.Load(); fn != nil {
		(*fn)(h.name, slices.Clone(data[lenAt+1:end]))
	}
}

// hciCmd is an LE controller command.
type hciCmd struct {
	ocf    uint16
	params []byte
}

func (c hciCmd) String() string {
	return fmt.Sprintf("0x%04X [%s]", c.ocf, codec.Hex(c.params))
}

// command sends an LE controller command and waits for its completion.
func (h *HCI) command(ctx context.Context, c hciCmd) (byte, []byte, error) {
	ocf, params := c.ocf, c.params
	op := fmt.Sprintf("command 0x%04X", ocf)
	if !h.opened.Load() {
		return 0, nil, wrap(h.name, op, ErrUnavailable)
	}
	opcode := ocf | ogfLECtl<<10
	pkt := []byte{hciCommandPkt, byte(opcode), byte(opcode >> 8), byte(len(params))}
	pkt = append(pkt, params...)

	h.cmdMu.Lock()
	defer h.cmdMu.Unlock()
	h.logger.WithField("adapter", h.name).Tracef("HCI command %s", c)

	p := &hciPending{opcode: opcode, ch: make(chan hciResult, 1)}
	h.pendMu.Lock()
	h.pending = p
	h.pendMu.Unlock()
	defer func() {
		h.pendMu.Lock()
		h.pending = nil
		h.pendMu.Unlock()
	}()

	if err := h.sock.SendAll(ctx, pkt); err != nil {
		return 0, nil, wrap(h.name, op, err)
	}
	timer := time.NewTimer(CmdRTO)
	defer timer.Stop()
	select {
	case res := <-p.ch:
		return res.status, res.data, nil
	case <-timer.C:
		return 0, nil, wrap(h.name, op, ErrAdapterTimeout)
	case <-ctx.Done():
		return 0, nil, wrap(h.name, op, ctx.Err())
	}
}

func (h *HCI) run(ctx context.Context, c hciCmd) error {
	_, _, err := h.command(ctx, c)
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Advertise transmits data for 2.8 times its interval, then disables
// advertising and writes inert data.
func (h *HCI) Advertise(ctx context.Context, interval time.Duration, data []byte) error {
	h.advMu.Lock()
	defer h.advMu.Unlock()

	if limit := h.maxData(); len(data) > limit {
		return wrap(h.name, "advertise", fmt.Errorf("%w: %d bytes, limit %d", ErrDataTooLong, len(data), limit))
	}

	if h.relayed.Load() {
		return h.relayAdvertise(ctx, interval, data)
	}
	set := legacyAdvCommands
	if h.extended.Load() {
		set = extAdvCommands
	}
	units := intervalUnits(interval)

	if err := h.run(ctx, set.enable(false)); err != nil {
		return err
	}
	if err := h.run(ctx, set.params(units, len(data) <= legacyMaxData)); err != nil {
		return err
	}
	if err := h.run(ctx, set.data(data)); err != nil {
		return err
	}
	status, _, err := h.command(ctx, set.enable(true))
	if err != nil {
		return err
	}
	if status == statusCmdDisallowed {
		if h.relay == nil {
			return wrap(h.name, "advertise", ErrDisallowed)
		}
		h.logger.WithField("adapter", h.name).Warn("Direct advertising disallowed, relaying through MGMT")
		h.relayed.Store(true)
		return h.relayAdvertise(ctx, interval, data)
	}
	if err := sleepCtx(ctx, advertiseWindow(interval)); err != nil {
		return wrap(h.name, "advertise", err)
	}
	if err := h.run(ctx, set.enable(false)); err != nil {
		return err
	}
	return h.run(ctx, set.data(inertAdv))
}

// maxData is the longest advertising payload the active path accepts.
// MGMT relaying is held to the legacy limit.
func (h *HCI) maxData() int {
	if h.extended.Load() && !h.relayed.Load() {
		return extMaxData
	}
	return legacyMaxData
}

func (h *HCI) relayAdvertise(ctx context.Context, interval time.Duration, data []byte) error {
	if len(data) > legacyMaxData {
		return wrap(h.name, "relay advertise", fmt.Errorf("%w: %d bytes, limit %d", ErrDataTooLong, len(data), legacyMaxData))
	}
	if err := h.relay.AddAdvertising(ctx, h.devID, relayInstance, interval, data); err != nil {
		return wrap(h.name, "relay advertise", err)
	}
	if err := sleepCtx(ctx, advertiseWindow(interval)); err != nil {
		return wrap(h.name, "relay advertise", err)
	}
	return wrap(h.name, "relay advertise", h.relay.RemoveAdvertising(ctx, h.devID, relayInstance))
}

// StartScan enables passive scanning; fn receives every report.
func (h *HCI) StartScan(ctx context.Context, fn AdvRecvFunc) error {
	if fn != nil {
		h.onAdv.Store(&fn)
	}
	if h.extended.Load() {
		if err := h.run(ctx, hciCmd{ocfSetExtScanEnable, []byte{0x00, 0x00, 0, 0, 0, 0}}); err != nil {
			return err
		}
		params := []byte{0x00, 0x00, 0x01, 0x00}
		params = binary.LittleEndian.AppendUint16(params, scanInterval)
		params = binary.LittleEndian.AppendUint16(params, scanWindow)
		if err := h.run(ctx, hciCmd{ocfSetExtScanParams, params}); err != nil {
			return err
		}
		return h.run(ctx, hciCmd{ocfSetExtScanEnable, []byte{0x01, 0x00, 0, 0, 0, 0}})
	}
	if err := h.run(ctx, hciCmd{ocfSetScanEnable, []byte{0x00, 0x00}}); err != nil {
		return err
	}
	params := []byte{0x00}
	params = binary.LittleEndian.AppendUint16(params, scanInterval)
	params = binary.LittleEndian.AppendUint16(params, scanWindow)
	if err := h.run(ctx, hciCmd{ocfSetScanParams, append(params, 0x00, 0x00)}); err != nil {
		return err
	}
	return h.run(ctx, hciCmd{ocfSetScanEnable, []byte{0x01, 0x00}})
}

func (h *HCI) StopScan(ctx context.Context) error {
	var err error
	if h.extended.Load() {
		err = h.run(ctx, hciCmd{ocfSetExtScanEnable, []byte{0x00, 0x00, 0, 0, 0, 0}})
	} else {
		err = h.run(ctx, hciCmd{ocfSetScanEnable, []byte{0x00, 0x00}})
	}
	h.onAdv.Store(nil)
	return err
}

// advCommands builds the parameters of one advertising command set.
type advCommands struct {
	enable func(on bool) hciCmd
	params func(units int, legacyPDU bool) hciCmd
	data   func(data []byte) hciCmd
}

func onOff(on bool) byte {
	if on {
		return 0x01
	}
	return 0x00
}

var legacyAdvCommands = advCommands{
	enable: func(on bool) hciCmd {
		return hciCmd{ocfSetAdvEnable, []byte{onOff(on)}}
	},
	params: func(units int, _ bool) hciCmd {
		p := binary.LittleEndian.AppendUint16(nil, uint16(units))
		p = binary.LittleEndian.AppendUint16(p, uint16(units))
		return hciCmd{ocfSetAdvParams, append(p, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x07, 0)}
	},
	data: func(data []byte) hciCmd {
		return hciCmd{ocfSetAdvData, append([]byte{byte(len(data))}, data...)}
	},
}

var extAdvCommands = advCommands{
	enable: func(on bool) hciCmd {
		return hciCmd{ocfSetExtAdvEnable, []byte{onOff(on), 0x01, 0x00, 0x00, 0x00, 0x00}}
	},
	// Payloads beyond 31 bytes need an extended PDU.
	params: func(units int, legacyPDU bool) hciCmd {
		u := uint32(units)
		var props byte
		if legacyPDU {
			props = 0x10
		}
		p := []byte{0x00, props, 0x00}
		p = append(p, byte(u), byte(u>>8), byte(u>>16))
		p = append(p, byte(u), byte(u>>8), byte(u>>16))
		p = append(p, 0x07, 0x00, 0x00, 0, 0, 0, 0, 0, 0, 0x00, 0x7F, 0x01, 0x00, 0x01, 0x00, 0x00)
		return hciCmd{ocfSetExtAdvParams, p}
	},
	data: func(data []byte) hciCmd {
		return hciCmd{ocfSetExtAdvData, append([]byte{0x00, 0x03, 0x01, byte(len(data))}, data...)}
	},
}
