//go:build test

package testutils

import "github.com/go-ble/ble"

// Advertisement is a ble.Advertisement with fixed content. Methods not
// overridden here panic through the nil embedded interface.
type Advertisement struct {
	ble.Advertisement

	name        string
	addr        ble.Addr
	rssi        int
	services    []ble.UUID
	manufData   []byte
	serviceData []ble.ServiceData
}

func (a *Advertisement) LocalName() string              { return a.name }
func (a *Advertisement) Addr() ble.Addr                 { return a.addr }
func (a *Advertisement) RSSI() int                      { return a.rssi }
func (a *Advertisement) Services() []ble.UUID           { return a.services }
func (a *Advertisement) ManufacturerData() []byte       { return a.manufData }
func (a *Advertisement) ServiceData() []ble.ServiceData { return a.serviceData }
func (a *Advertisement) Connectable() bool              { return false }

// AdvertisementBuilder builds go-ble advertisements for tests.
type AdvertisementBuilder struct {
	adv Advertisement
}

func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{adv: Advertisement{addr: ble.NewAddr("00:00:00:00:00:00")}}
}

func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.adv.name = name
	return b
}

func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.adv.addr = ble.NewAddr(addr)
	return b
}

func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.adv.rssi = rssi
	return b
}

// WithServices adds 16-bit service UUIDs.
func (b *AdvertisementBuilder) WithServices(uuids ...uint16) *AdvertisementBuilder {
	for _, u := range uuids {
		b.adv.services = append(b.adv.services, ble.UUID16(u))
	}
	return b
}

func (b *AdvertisementBuilder) WithManufacturerData(data []byte) *AdvertisementBuilder {
	b.adv.manufData = data
	return b
}

// WithServiceData adds data for a 16-bit service UUID.
func (b *AdvertisementBuilder) WithServiceData(uuid uint16, data []byte) *AdvertisementBuilder {
	b.adv.serviceData = append(b.adv.serviceData, ble.ServiceData{UUID: ble.UUID16(uuid), Data: data})
	return b
}

func (b *AdvertisementBuilder) Build() *Advertisement {
	adv := b.adv
	return &adv
}
