package adapter

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/sirupsen/logrus"
	"github.com/srg/bleadv/internal/groutine"
	"github.com/srg/bleadv/pkg/codec"
)

// DeviceFactory opens the host Bluetooth stack (can be overridden in tests).
var DeviceFactory = func() (ble.Device, error) {
	return linux.NewDevice()
}

// HostScan uses the host stack, through go-ble, for scanning and for
// manufacturer or service data advertising.
type HostScan struct {
	*Scheduler

	onAdv   AdvRecvFunc
	logger  *logrus.Logger
	metrics *Metrics

	mu       sync.Mutex
	dev      ble.Device
	cancel   context.CancelFunc
	scanDone chan struct{}
}

func NewHostScan(name string, onAdv AdvRecvFunc, logger *logrus.Logger, metrics *Metrics) *HostScan {
	if logger == nil {
		logger = logrus.New()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	h := &HostScan{onAdv: onAdv, logger: logger, metrics: metrics}
	h.Scheduler = NewScheduler(name, h, func(err error) {
		logger.WithError(err).WithField("adapter", name).Warn("Host adapter error")
	}, logger, metrics)
	return h
}

// Open acquires the host device and starts scanning in the background.
func (h *HostScan) Open(ctx context.Context) error {
	dev, err := DeviceFactory()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	scanCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	h.mu.Lock()
	h.dev, h.cancel, h.scanDone = dev, cancel, done
	h.mu.Unlock()

	groutine.Go(scanCtx, "hostscan-"+h.name, func(ctx context.Context) {
		defer close(done)
		err := dev.Scan(ctx, true, h.handle)
		if err != nil && !errors.Is(err, context.Canceled) {
			h.logger.WithError(err).WithField("adapter", h.name).Warn("Host scan stopped")
		}
	})
	return nil
}

func (h *HostScan) handle(adv ble.Advertisement) {
	raw := RawFromAdvertisement(adv)
	if len(raw) == 0 || h.onAdv == nil {
		return
	}
	h.metrics.Received.WithLabelValues(h.name).Inc()
	h.onAdv(h.name, raw)
}

func (h *HostScan) Close() error {
	h.mu.Lock()
	dev, cancel, done := h.dev, h.cancel, h.scanDone
	h.dev, h.cancel, h.scanDone = nil, nil, nil
	h.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if dev == nil {
		return nil
	}
	return dev.Stop()
}

// Advertise hands manufacturer or 16-bit service data to the host stack
// for the advertising window.
func (h *HostScan) Advertise(ctx context.Context, interval time.Duration, data []byte) error {
	h.mu.Lock()
	dev := h.dev
	h.mu.Unlock()
	if dev == nil {
		return ErrClosed
	}
	adv, ok := codec.ParseAdvertisement(data)
	if !ok || len(adv.Raw) < 2 {
		return fmt.Errorf("%w: no payload in %s", ErrCommandFailed, codec.Hex(data))
	}
	id := binary.LittleEndian.Uint16(adv.Raw[0:2])

	ctx, cancel := context.WithTimeout(ctx, advertiseWindow(interval))
	defer cancel()
	var err error
	switch adv.Type {
	case codec.TypeManufacturer:
		err = dev.AdvertiseMfgData(ctx, id, adv.Raw[2:])
	case codec.TypeServiceData:
		err = dev.AdvertiseServiceData16(ctx, id, adv.Raw[2:])
	default:
		return fmt.Errorf("%w: host stack cannot advertise AD type 0x%02X", ErrCommandFailed, adv.Type)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// RawFromAdvertisement rebuilds AD structures from a go-ble report:
// 16-bit service lists, 16-bit service data, then manufacturer data.
func RawFromAdvertisement(adv ble.Advertisement) []byte {
	var out []byte
	var uuids []byte
	for _, u := range adv.Services() {
		if len(u) == 2 {
			uuids = append(uuids, u...)
		}
	}
	if len(uuids) > 0 {
		out = append(out, byte(len(uuids)+1), codec.TypeServiceUUIDs)
		out = append(out, uuids...)
	}
	for _, sd := range adv.ServiceData() {
		if len(sd.UUID) != 2 {
			continue
		}
		out = append(out, byte(len(sd.Data)+3), codec.TypeServiceData)
		out = append(out, sd.UUID...)
		out = append(out, sd.Data...)
	}
	if md := adv.ManufacturerData(); len(md) > 0 {
		out = append(out, byte(len(md)+1), codec.TypeManufacturer)
		out = append(out, md...)
	}
	return out
}
