// Package device models the lights and fans driven through advertising
// codecs: a Device owns entities, translates their state changes into
// queued advertisements and follows the commands other emitters send to it.
package device

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleadv/internal/adapter"
	"github.com/srg/bleadv/pkg/codec"
	"github.com/srg/bleadv/pkg/coordinator"
)

var (
	ErrInvalidDevice   = errors.New("invalid device")
	ErrUnknownEntity   = errors.New("unknown entity")
	ErrDuplicateEntity = errors.New("duplicate entity")
	ErrNoCommand       = errors.New("change not supported by codec")
)

// Coordinator is the part of the coordinator a device talks to.
type Coordinator interface {
	Advertise(ctx context.Context, adapterID, queueID string, item adapter.QueueItem) error
	RegisterListener(id string, l coordinator.Listener)
	UnregisterListener(id string) bool
}

// StateFunc is called after an entity state changed.
type StateFunc func(d *Device, e *Entity)

// Matcher selects the decoded advertisements addressed to one emitter
// identity: codec family, receiving adapter, id and index.
type Matcher struct {
	Codec    codec.Codec
	Adapters []string
	Config   codec.DeviceConfig
}

// Match reports whether a decoded advertisement belongs to m.
func (m *Matcher) Match(matchID, adapterID string, conf codec.DeviceConfig) bool {
	if m.Codec.MatchID() != matchID {
		return false
	}
	if !slices.Contains(m.Adapters, adapterID) {
		return false
	}
	return m.Config.ID == conf.ID && m.Config.Index == conf.Index
}

// Options configure a Device. Zero transmit parameters fall back to the
// codec defaults.
type Options struct {
	Name          string
	Codec         codec.Codec
	Adapters      []string
	Config        codec.DeviceConfig
	Repeat        int
	Interval      time.Duration
	Duration      time.Duration
	Logger        *logrus.Logger
	OnStateChange StateFunc
}

// Device is an emulated phone app or remote paired with a physical device.
type Device struct {
	Matcher

	name     string
	repeat   int
	interval time.Duration
	duration time.Duration
	coord    Coordinator
	logger   *logrus.Entry
	onState  StateFunc

	mu       sync.Mutex
	entities map[codec.EntityID]*Entity
	remotes  []*Remote
	timer    *time.Timer
	started  bool

	afterFunc func(time.Duration, func()) *time.Timer
}

// New builds a device; it does not listen before Start.
func New(coord Coordinator, opts Options) (*Device, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("%w: missing name", ErrInvalidDevice)
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("%w: %s: missing codec", ErrInvalidDevice, opts.Name)
	}
	if len(opts.Adapters) == 0 {
		return nil, fmt.Errorf("%w: %s: no adapter", ErrInvalidDevice, opts.Name)
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	defaults := opts.Codec.Defaults()
	d := &Device{
		Matcher: Matcher{
			Codec:    opts.Codec,
			Adapters: slices.Clone(opts.Adapters),
			Config:   opts.Config,
		},
		name:      opts.Name,
		repeat:    cmp.Or(opts.Repeat, defaults.Repeat),
		interval:  cmp.Or(opts.Interval, defaults.Interval),
		duration:  cmp.Or(opts.Duration, defaults.Duration),
		coord:     coord,
		logger:    opts.Logger.WithFields(logrus.Fields{"device": opts.Name, "codec": opts.Codec.ID()}),
		onState:   opts.OnStateChange,
		entities:  make(map[codec.EntityID]*Entity),
		afterFunc: time.AfterFunc,
	}
	return d, nil
}

func (d *Device) Name() string { return d.name }

// AddEntity declares a light or fan of the device.
func (d *Device) AddEntity(baseType string, index int, subType string) (*Entity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e := newEntity(baseType, index, subType)
	if _, ok := d.entities[e.ID()]; ok {
		return nil, fmt.Errorf("%w: %s_%d", ErrDuplicateEntity, baseType, index)
	}
	d.entities[e.ID()] = e
	return e, nil
}

// Entity returns the entity with the given type and index, nil if absent.
func (d *Device) Entity(baseType string, index int) *Entity {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.entities[codec.EntityID{BaseType: baseType, Index: index}]
}

// Entities returns the entities ordered by type then index.
func (d *Device) Entities() []*Entity {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := slices.Collect(maps.Values(d.entities))
	slices.SortFunc(out, func(a, b *Entity) int {
		return cmp.Or(cmp.Compare(a.BaseType, b.BaseType), cmp.Compare(a.Index, b.Index))
	})
	return out
}

// TxConfig returns the identity and current transmit counter.
func (d *Device) TxConfig() codec.DeviceConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Config
}

// LinkRemote attaches a remote whose commands this device follows.
func (d *Device) LinkRemote(m Matcher) *Remote {
	r := &Remote{Matcher: m, device: d}
	d.mu.Lock()
	d.remotes = append(d.remotes, r)
	started := d.started
	d.mu.Unlock()
	if started {
		d.coord.RegisterListener(r.listenerID(), r)
	}
	return r
}

func (d *Device) Remotes() []*Remote {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.remotes)
}

// Start listens for the commands addressed to the device and its remotes.
func (d *Device) Start() {
	d.mu.Lock()
	d.started = true
	remotes := slices.Clone(d.remotes)
	d.mu.Unlock()
	d.coord.RegisterListener(d.name, d)
	for _, r := range remotes {
		d.coord.RegisterListener(r.listenerID(), r)
	}
	d.logger.Debug("Device started")
}

// Stop removes the listeners and cancels a pending timer.
func (d *Device) Stop() {
	d.mu.Lock()
	d.started = false
	d.cancelTimerLocked()
	remotes := slices.Clone(d.remotes)
	d.mu.Unlock()
	d.coord.UnregisterListener(d.name)
	for _, r := range remotes {
		d.coord.UnregisterListener(r.listenerID())
	}
}

// Handle implements coordinator.Listener for the device's own identity,
// which catches the echo of another app paired with the same id.
func (d *Device) Handle(codecID, matchID, adapterID string, conf codec.DeviceConfig, ents []codec.EntityAttrs) bool {
	if !d.Match(matchID, adapterID, conf) {
		return false
	}
	d.OnCommand(ents)
	return true
}

func (d *Device) cancelTimerLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// ApplyChange encodes a change and enqueues the advertisements on every
// adapter of the device. Commands of one change are queued under distinct
// keys so that they do not replace each other.
func (d *Device) ApplyChange(ctx context.Context, ent codec.EntityAttrs) error {
	cmds := d.Codec.EntToEnc(ent)
	if len(cmds) == 0 {
		return fmt.Errorf("%w: %s", ErrNoCommand, ent)
	}
	d.mu.Lock()
	d.cancelTimerLocked()
	d.mu.Unlock()

	for _, cmd := range cmds {
		d.mu.Lock()
		d.Codec.NextTx(&d.Config)
		conf := d.Config
		d.mu.Unlock()

		advs, err := d.Codec.EncodeAdvs(cmd, conf)
		if err != nil {
			return fmt.Errorf("encode %s: %w", cmd, err)
		}
		for i, adv := range advs {
			item := adapter.QueueItem{
				Key:        int(cmd.Cmd)<<8 | i,
				Repeat:     d.repeat,
				DelayAfter: d.duration,
				Interval:   d.interval,
				Data:       adv.Bytes(),
			}
			for _, a := range d.Adapters {
				if err := d.coord.Advertise(ctx, a, d.name, item); err != nil {
					return err
				}
			}
		}
		d.logger.WithFields(logrus.Fields{"cmd": cmd.String(), "tx": conf.TxCount}).Debug("Queued command")
	}
	return nil
}

// SetState updates an entity and advertises the change when some value
// actually changed.
func (d *Device) SetState(ctx context.Context, baseType string, index int, values map[string]any) error {
	e := d.Entity(baseType, index)
	if e == nil {
		return fmt.Errorf("%w: %s_%d", ErrUnknownEntity, baseType, index)
	}
	changed := e.set(values)
	if len(changed) == 0 {
		return nil
	}
	ent := codec.EntityAttrs{Changed: changed, Attrs: e.Attrs(), BaseType: baseType, Index: index}
	if err := d.ApplyChange(ctx, ent); err != nil {
		return err
	}
	d.notify(e)
	return nil
}

// SendDeviceCmd advertises a device level command such as pair or timer.
func (d *Device) SendDeviceCmd(ctx context.Context, cmd string, attrs map[string]any) error {
	values := maps.Clone(attrs)
	if values == nil {
		values = map[string]any{}
	}
	values[codec.AttrCmd] = cmd
	changed := slices.Sorted(maps.Keys(values))
	ent := codec.EntityAttrs{Changed: changed, Attrs: values, BaseType: codec.DeviceType}
	if err := d.ApplyChange(ctx, ent); err != nil {
		return err
	}
	if cmd == codec.CmdTimer {
		d.startTimer(ent)
	}
	return nil
}

// OnCommand applies entity changes decoded from an advertisement.
func (d *Device) OnCommand(ents []codec.EntityAttrs) {
	d.mu.Lock()
	d.cancelTimerLocked()
	d.mu.Unlock()
	for _, ent := range ents {
		if ent.BaseType == codec.DeviceType {
			d.onDeviceCommand(ent)
			continue
		}
		e := d.Entity(ent.BaseType, ent.Index)
		if e == nil {
			d.logger.WithField("entity", ent.String()).Debug("No such entity, ignored")
			continue
		}
		on, _ := ent.Attrs[codec.AttrOn].(bool)
		if e.On() || on || ent.Get(codec.AttrCmd) == codec.CmdToggle {
			e.ApplyAttrs(ent)
			d.notify(e)
		}
	}
}

func (d *Device) onDeviceCommand(ent codec.EntityAttrs) {
	if !ent.HasChanged(codec.AttrCmd) {
		for _, e := range d.Entities() {
			e.ApplyAttrs(ent)
			d.notify(e)
		}
		return
	}
	switch cmd := ent.Get(codec.AttrCmd); cmd {
	case codec.CmdTimer:
		d.startTimer(ent)
	case codec.CmdPair, codec.CmdUnpair:
	default:
		d.logger.WithField("cmd", cmd).Warn("Unexpected device command")
	}
}

// startTimer switches every entity off after the delay carried by ent.
func (d *Device) startTimer(ent codec.EntityAttrs) {
	delay := time.Duration(ent.Float(codec.AttrTime) * float64(time.Second))
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelTimerLocked()
	d.timer = d.afterFunc(delay, d.timerExpired)
	d.logger.WithField("delay", delay).Debug("Timer started")
}

func (d *Device) timerExpired() {
	d.mu.Lock()
	d.timer = nil
	d.mu.Unlock()
	off := codec.EntityAttrs{Changed: []string{codec.AttrOn}, Attrs: map[string]any{codec.AttrOn: false}}
	for _, e := range d.Entities() {
		e.ApplyAttrs(off)
		d.notify(e)
	}
	d.logger.Debug("Timer expired, all entities off")
}

func (d *Device) notify(e *Entity) {
	if d.onState != nil {
		d.onState(d, e)
	}
}

// Remote is a remote control or another phone app whose commands are
// mirrored on the linked device state.
type Remote struct {
	Matcher

	device *Device
}

func (r *Remote) listenerID() string {
	return fmt.Sprintf("%s/%s/0x%X/%d", r.device.name, r.Codec.ID(), r.Config.ID, r.Config.Index)
}

func (r *Remote) Device() *Device { return r.device }

func (r *Remote) Handle(codecID, matchID, adapterID string, conf codec.DeviceConfig, ents []codec.EntityAttrs) bool {
	if !r.Match(matchID, adapterID, conf) {
		return false
	}
	r.device.OnCommand(ents)
	return true
}
