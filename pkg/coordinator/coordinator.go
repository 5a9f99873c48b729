// Package coordinator connects the codecs to the adapters: it decodes what
// the adapters receive, dispatches the decoded commands to the registered
// listeners and routes outgoing advertisements to the right adapter.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/google/uuid"
	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/srg/bleadv/internal/adapter"
	"github.com/srg/bleadv/internal/asyncsock"
	"github.com/srg/bleadv/internal/groutine"
	"github.com/srg/bleadv/internal/ringchan"
	"github.com/srg/bleadv/pkg/codec"
	"github.com/srg/bleadv/pkg/codecs"
)

const (
	DefaultInboundSize = 1024
	DefaultEventSize   = 256
)

var (
	// ErrUnknownAdapter is returned when advertising on an adapter that is
	// not (or no longer) available.
	ErrUnknownAdapter = errors.New("unknown adapter")
	ErrNotStarted     = errors.New("coordinator not started")
)

// Listener receives every decoded advertisement. It returns true when the
// command was meant for it.
type Listener interface {
	Handle(codecID, matchID, adapterID string, conf codec.DeviceConfig, ents []codec.EntityAttrs) bool
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(codecID, matchID, adapterID string, conf codec.DeviceConfig, ents []codec.EntityAttrs) bool

func (f ListenerFunc) Handle(codecID, matchID, adapterID string, conf codec.DeviceConfig, ents []codec.EntityAttrs) bool {
	return f(codecID, matchID, adapterID, conf, ents)
}

// Event is published for every successful decode.
type Event struct {
	At        time.Time            `json:"at"`
	AdapterID string               `json:"adapter"`
	Raw       string               `json:"raw"`
	CodecID   string               `json:"codec"`
	MatchID   string               `json:"match_id"`
	Cmd       codec.EncoderCommand `json:"cmd"`
	Config    codec.DeviceConfig   `json:"config"`
	Entities  []codec.EntityAttrs  `json:"entities"`
	Handled   bool                 `json:"handled"`
}

type Options struct {
	Registry *codecs.Registry
	// UseHCI enables the MGMT manager and its raw HCI adapters.
	UseHCI  bool
	HCIMode adapter.Mode
	// HostScan adds a go-ble adapter named HostScanName.
	HostScan     bool
	HostScanName string
	// Proxy enables MQTT proxies when not nil.
	Proxy       *adapter.ProxyOptions
	DedupWindow time.Duration
	InboundSize uint32
	EventSize   int
	Logger      *logrus.Logger
	Registerer  prometheus.Registerer
	// SocketFactory is passed to the MGMT manager.
	SocketFactory func() asyncsock.Socket
	// Now is the clock of the dedup cache.
	Now func() time.Time
}

type inbound struct {
	adapterID string
	raw       []byte
}

// Coordinator owns the adapters, the codec registry and the listeners.
type Coordinator struct {
	registry *codecs.Registry
	opts     Options
	logger   *logrus.Logger
	metrics  *metrics
	adapterM *adapter.Metrics

	mgr      *adapter.Manager
	proxies  *adapter.ProxyManager
	hostScan *adapter.HostScan

	mu     sync.Mutex
	static map[string]adapter.Adapter

	listeners *hashmap.Map[string, Listener]
	seen      *dedup
	ring      mpmc.RichOverlappedRingBuffer[inbound]
	wake      chan struct{}
	events    *ringchan.RingChannel[Event]

	started atomic.Bool
	stop    chan struct{}
	done    chan struct{}
}

func New(opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Registry == nil {
		opts.Registry = codecs.NewRegistry(opts.Logger)
	}
	if opts.DedupWindow == 0 {
		opts.DedupWindow = DefaultDedupWindow
	}
	if opts.InboundSize == 0 {
		opts.InboundSize = DefaultInboundSize
	}
	if opts.EventSize == 0 {
		opts.EventSize = DefaultEventSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.HostScanName == "" {
		opts.HostScanName = "host"
	}
	c := &Coordinator{
		registry:  opts.Registry,
		opts:      opts,
		logger:    opts.Logger,
		metrics:   newMetrics(opts.Registerer),
		adapterM:  adapter.NewMetrics(opts.Registerer),
		static:    map[string]adapter.Adapter{},
		listeners: hashmap.New[string, Listener](),
		seen:      newDedup(opts.DedupWindow, opts.Now),
		ring:      mpmc.NewOverlappedRingBuffer[inbound](opts.InboundSize),
		wake:      make(chan struct{}, 1),
		events:    ringchan.New[Event](opts.EventSize),
	}
	registerEventMetrics(opts.Registerer, c.events.Stats)
	if opts.UseHCI {
		c.mgr = adapter.NewManager(adapter.ManagerOptions{
			OnAdv:         c.HandleRawAdv,
			Mode:          opts.HCIMode,
			Logger:        opts.Logger,
			Metrics:       c.adapterM,
			SocketFactory: opts.SocketFactory,
		})
	}
	if opts.Proxy != nil {
		p := *opts.Proxy
		p.OnAdv = c.HandleRawAdv
		p.Logger = opts.Logger
		p.Metrics = c.adapterM
		c.proxies = adapter.NewProxyManager(p)
	}
	if opts.HostScan {
		c.hostScan = adapter.NewHostScan(opts.HostScanName, c.HandleRawAdv, opts.Logger, c.adapterM)
	}
	return c
}

func (c *Coordinator) Registry() *codecs.Registry { return c.registry }

// NextEvent blocks for the next decoded advertisement. The oldest events are
// dropped when the reader falls behind; ok is false once the coordinator is
// closed or ctx is done.
func (c *Coordinator) NextEvent(ctx context.Context) (Event, bool) { return c.events.Receive(ctx) }

func (c *Coordinator) EventStats() ringchan.Stats { return c.events.Stats() }

// AddAdapter registers an adapter that is not discovered by a manager.
// It is initialised by the caller and finalised by Final.
func (c *Coordinator) AddAdapter(a adapter.Adapter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.static[a.Name()] = a
}

// Start starts the processing goroutine and every enabled adapter source.
// Failing sources are logged and skipped.
func (c *Coordinator) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return nil
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	stop, done := c.stop, c.done
	groutine.Go(context.WithoutCancel(ctx), "coordinator-inbound", func(context.Context) {
		defer close(done)
		c.processLoop(stop)
	})

	g, _ := groutine.WithContext(ctx)
	if c.mgr != nil {
		g.Go("start-mgmt", func(ctx context.Context) error {
			if err := c.mgr.Init(ctx); err != nil {
				c.logger.WithError(err).Info("Host Bluetooth controllers cannot be used, configure the adapters or use MQTT proxies")
			}
			return nil
		})
	}
	if c.proxies != nil {
		g.Go("start-proxies", func(ctx context.Context) error {
			if err := c.proxies.Start(ctx); err != nil {
				c.logger.WithError(err).Warn("MQTT proxies unavailable")
			}
			return nil
		})
	}
	if c.hostScan != nil {
		g.Go("start-hostscan", func(ctx context.Context) error {
			if err := c.hostScan.Init(ctx); err != nil {
				c.logger.WithError(err).Warn("Host stack scanning unavailable")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.logger.WithField("adapters", c.AdapterIDs()).Info("Coordinator started")
	return nil
}

// Final stops every adapter and the processing goroutine.
func (c *Coordinator) Final() {
	c.logger.Info("Cleaning BT connections")
	if c.proxies != nil {
		c.proxies.Stop()
	}
	if c.mgr != nil {
		c.mgr.Final()
	}
	if c.hostScan != nil {
		c.hostScan.Final()
	}
	c.mu.Lock()
	static := c.static
	c.mu.Unlock()
	for _, a := range static {
		a.Final()
	}
	if c.started.CompareAndSwap(true, false) {
		close(c.stop)
		<-c.done
	}
}

// Close finalises the coordinator and closes the event channel.
func (c *Coordinator) Close() {
	c.Final()
	c.events.Close()
}

func (c *Coordinator) adapters() map[string]adapter.Adapter {
	out := map[string]adapter.Adapter{}
	if c.mgr != nil {
		for name, a := range c.mgr.Adapters() {
			out[name] = a
		}
	}
	if c.proxies != nil {
		for name, p := range c.proxies.Proxies() {
			out[name] = p
		}
	}
	if c.hostScan != nil && c.hostScan.Available() {
		out[c.hostScan.Name()] = c.hostScan
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, a := range c.static {
		out[name] = a
	}
	return out
}

// AdapterIDs returns the names of every known adapter, sorted.
func (c *Coordinator) AdapterIDs() []string {
	ids := lo.Keys(c.adapters())
	slices.Sort(ids)
	return ids
}

// AvailableAdapterIDs returns the names of the adapters that can transmit,
// sorted.
func (c *Coordinator) AvailableAdapterIDs() []string {
	ids := lo.Keys(lo.PickBy(c.adapters(), func(_ string, a adapter.Adapter) bool { return a.Available() }))
	slices.Sort(ids)
	return ids
}

// HasAvailableAdapters reports whether any adapter can transmit.
func (c *Coordinator) HasAvailableAdapters() bool {
	return lo.SomeBy(lo.Values(c.adapters()), func(a adapter.Adapter) bool { return a.Available() })
}

// Advertise enqueues item on adapterID. The payload is first marked as
// seen by every adapter so that its echo is not decoded again.
func (c *Coordinator) Advertise(ctx context.Context, adapterID, queueID string, item adapter.QueueItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.seen.markAll(item.Data)
	a, ok := c.adapters()[adapterID]
	if !ok {
		c.logger.WithField("adapter", adapterID).Error("Cannot advertise: adapter not available")
		return fmt.Errorf("%w: %q", ErrUnknownAdapter, adapterID)
	}
	a.Enqueue(queueID, item)
	return nil
}

// Drain waits until every adapter transmitted its queued items.
func (c *Coordinator) Drain(ctx context.Context) error {
	g, _ := groutine.WithContext(ctx)
	for name, a := range c.adapters() {
		g.Go("drain-"+name, func(ctx context.Context) error {
			return a.Drain(ctx)
		})
	}
	return g.Wait()
}

// RegisterListener adds or replaces the listener registered under id.
func (c *Coordinator) RegisterListener(id string, l Listener) {
	c.listeners.Set(id, l)
	c.logger.WithField("listener", id).Debug("Registered listener")
}

// AddListener registers l under a generated id.
func (c *Coordinator) AddListener(l Listener) string {
	id := uuid.NewString()
	c.RegisterListener(id, l)
	return id
}

// UnregisterListener removes a listener; it reports false when id is unknown.
func (c *Coordinator) UnregisterListener(id string) bool {
	ok := c.listeners.Del(id)
	if ok {
		c.logger.WithField("listener", id).Debug("Unregistered listener")
	}
	return ok
}

// HandleRawAdv queues a raw advertisement received by adapterID for
// processing. It never blocks: the oldest pending advertisement is dropped
// when the ring is full.
func (c *Coordinator) HandleRawAdv(adapterID string, raw []byte) {
	overwrites, err := c.ring.EnqueueM(inbound{adapterID: adapterID, raw: raw})
	if err != nil {
		c.logger.WithError(err).WithField("adapter", adapterID).Warn("Inbound ring rejected advertisement")
		return
	}
	if overwrites > 0 {
		c.metrics.overwritten.Add(float64(overwrites))
	}
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Coordinator) processLoop(stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-c.wake:
		}
		for !c.ring.IsEmpty() {
			in, err := c.ring.Dequeue()
			if err != nil {
				break
			}
			c.process(in.adapterID, in.raw)
		}
	}
}

// process deduplicates, decodes and dispatches one raw advertisement.
func (c *Coordinator) process(adapterID string, raw []byte) {
	log := c.logger.WithField("adapter", adapterID)
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Exception handling raw advertisement")
		}
	}()
	c.metrics.received.WithLabelValues(adapterID).Inc()

	c.seen.prune(adapterID)
	if c.seen.check(adapterID, raw) {
		c.metrics.duplicates.WithLabelValues(adapterID).Inc()
		return
	}
	adv, ok := codec.ParseAdvertisement(raw)
	if !ok {
		log.WithField("data", codec.Hex(raw)).Debug("Not compatible raw data, ignored")
		return
	}
	if c.seen.check(adapterID, adv.Raw) {
		c.metrics.duplicates.WithLabelValues(adapterID).Inc()
		return
	}
	log.WithField("data", adv.String()).Debug("BLE ADV received")

	for _, d := range c.registry.Decode(*adv) {
		ents := d.Codec.EncToEnt(d.Cmd)
		log.WithFields(logrus.Fields{
			"codec":  d.Codec.ID(),
			"config": d.Config.String(),
			"cmd":    d.Cmd.String(),
		}).Debug("Decoded")
		c.metrics.decoded.WithLabelValues(d.Codec.ID()).Inc()

		handled := false
		c.listeners.Range(func(_ string, l Listener) bool {
			if l.Handle(d.Codec.ID(), d.Codec.MatchID(), adapterID, d.Config, ents) {
				handled = true
			}
			return true
		})
		c.events.Send(Event{
			At:        c.opts.Now(),
			AdapterID: adapterID,
			Raw:       codec.Hex(raw),
			CodecID:   d.Codec.ID(),
			MatchID:   d.Codec.MatchID(),
			Cmd:       d.Cmd,
			Config:    d.Config,
			Entities:  ents,
			Handled:   handled,
		})
	}
}
