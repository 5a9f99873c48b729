package config

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleadv/pkg/codec"
	"github.com/srg/bleadv/pkg/codecs"
	"github.com/srg/bleadv/pkg/device"
)

// BuildDevices creates the configured devices with their entities and
// linked remotes. Devices are not started.
func (c *Config) BuildDevices(coord device.Coordinator, reg *codecs.Registry, logger *logrus.Logger, onState device.StateFunc) ([]*device.Device, error) {
	out := make([]*device.Device, 0, len(c.Devices))
	for _, dc := range c.Devices {
		cd, err := reg.Get(dc.Codec)
		if err != nil {
			return nil, fmt.Errorf("device %q: %w", dc.Name, err)
		}
		dev, err := device.New(coord, device.Options{
			Name:          dc.Name,
			Codec:         cd,
			Adapters:      dc.Adapters,
			Config:        codec.DeviceConfig{ID: dc.ID, Index: dc.Index},
			Repeat:        dc.Repeat,
			Interval:      dc.Interval,
			Duration:      dc.Duration,
			Logger:        logger,
			OnStateChange: onState,
		})
		if err != nil {
			return nil, err
		}
		for _, ec := range dc.Entities {
			if ec.Type != codec.LightType && ec.Type != codec.FanType {
				return nil, fmt.Errorf("%w: device %q: entity type %q", ErrInvalidConfig, dc.Name, ec.Type)
			}
			if _, err := dev.AddEntity(ec.Type, ec.Index, ec.SubType); err != nil {
				return nil, fmt.Errorf("device %q: %w", dc.Name, err)
			}
		}
		for _, rc := range dc.Remotes {
			rcd, err := reg.Get(rc.Codec)
			if err != nil {
				return nil, fmt.Errorf("device %q remote: %w", dc.Name, err)
			}
			adapters := rc.Adapters
			if len(adapters) == 0 {
				adapters = dc.Adapters
			}
			dev.LinkRemote(device.Matcher{
				Codec:    rcd,
				Adapters: adapters,
				Config:   codec.DeviceConfig{ID: rc.ID, Index: rc.Index},
			})
		}
		out = append(out, dev)
	}
	return out, nil
}
