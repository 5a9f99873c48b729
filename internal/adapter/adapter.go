// Package adapter transmits advertisements through Bluetooth controllers
// and remote proxies and reports the advertisements they receive.
//
// Every adapter owns a Scheduler multiplexing logical queues onto its
// single transmitter. The HCI adapters are discovered and kept alive by
// the MGMT Manager; MQTT proxies by the ProxyManager.
package adapter

import (
	"context"
	"time"
)

// MaxAdvWait bounds a single transmission.
const MaxAdvWait = 3 * time.Second

// QueueItem is one advertisement waiting for transmission. Items of a
// logical queue sharing a Key replace each other.
type QueueItem struct {
	Key        int
	Repeat     int
	DelayAfter time.Duration
	Interval   time.Duration
	Data       []byte
}

// AdvRecvFunc receives the raw advertising payload seen by an adapter.
type AdvRecvFunc func(adapterName string, raw []byte)

// Adapter is what the coordinator drives.
type Adapter interface {
	Name() string
	Available() bool
	Enqueue(queueID string, item QueueItem)
	Drain(ctx context.Context) error
	Final()
}

// Transport is the device side of an adapter, driven by its Scheduler.
type Transport interface {
	Open(ctx context.Context) error
	Close() error
	Advertise(ctx context.Context, interval time.Duration, data []byte) error
}

// Mode selects the HCI advertising command set.
type Mode string

const (
	ModeAuto     Mode = "auto"
	ModeLegacy   Mode = "legacy"
	ModeExtended Mode = "extended"
)

// intervalUnits converts an advertising interval to 0.625 ms units.
func intervalUnits(interval time.Duration) int {
	return int(float64(interval) / float64(time.Millisecond) * 1.6)
}

// advertiseWindow is how long an advertisement stays enabled.
func advertiseWindow(interval time.Duration) time.Duration {
	return time.Duration(float64(interval) * 2.8)
}
