// Package codecs holds the vendor codecs and the registry the coordinator
// decodes with.
package codecs

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/srg/bleadv/pkg/codec"
)

// ErrUnknownCodec is returned when a codec id is not registered.
var ErrUnknownCodec = errors.New("unknown codec")

// PhoneApps groups codec ids by the phone application (or remote family)
// that emits them, most recent first.
var PhoneApps = map[string][]string{
	"Fan Lamp Pro":                   {"fanlamp_pro_v3", "fanlamp_pro_v2", "fanlamp_pro_v1"},
	"Lamp Smart Pro":                 {"lampsmart_pro_v3", "lampsmart_pro_v2", "lampsmart_pro_v1"},
	"Zhi Jia":                        {"zhijia_v2", "zhijia_v1", "zhijia_v0"},
	"Zhi Guang":                      {"zhiguang_v2", "zhiguang_v1", "zhiguang_v0"},
	"Zhi Mei Deng Kong (Fan)":        {"zhimei_fan_v1", "zhimei_fan_v0"},
	"Zhi Mei Deng Kong (Light only)": {"zhimei_v2", "zhimei_v1"},
	"Smart Lights":                   {"agarce_v4", "agarce_v3"},
	"Other (legacy)":                 {"other_v1a", "other_v1b"},
	"Physical Remotes (FanLamp)":     {"remote_v1", "remote_v2", "remote_v21", "remote_v3", "remote_v31"},
	"Physical Remotes (Others)":      {"zhijia_vr1", "remote_v4", "zhimei_fan_vr1"},
}

// PhoneAppNames returns the PhoneApps keys, sorted.
func PhoneAppNames() []string {
	names := lo.Keys(PhoneApps)
	sort.Strings(names)
	return names
}

// Decoded is one successful decode of an advertisement.
type Decoded struct {
	Codec  codec.Codec
	Cmd    codec.EncoderCommand
	Config codec.DeviceConfig
}

// Registry indexes every known codec by id, keeping registration order.
type Registry struct {
	codecs []codec.Codec
	byID   map[string]codec.Codec
}

// NewRegistry builds a registry with all vendor codecs.
func NewRegistry(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return NewRegistryWith(slices.Concat(
		fanLampCodecs(logger),
		zhijiaCodecs(logger),
		zhimeiCodecs(logger),
		agarceCodecs(logger),
		remoteCodecs(logger),
		mantraCodecs(logger),
		leCodecs(logger),
		ruixinCodecs(logger),
		rwCodecs(logger),
	)...)
}

// NewRegistryWith builds a registry from explicit codecs; later duplicates
// of an id are ignored.
func NewRegistryWith(cs ...codec.Codec) *Registry {
	r := &Registry{byID: make(map[string]codec.Codec, len(cs))}
	for _, c := range cs {
		if _, ok := r.byID[c.ID()]; ok {
			continue
		}
		r.byID[c.ID()] = c
		r.codecs = append(r.codecs, c)
	}
	return r
}

// Get returns the codec registered under id.
func (r *Registry) Get(id string) (codec.Codec, error) {
	c, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCodec, id)
	}
	return c, nil
}

// IDs returns codec ids in registration order.
func (r *Registry) IDs() []string {
	return lo.Map(r.codecs, func(c codec.Codec, _ int) string { return c.ID() })
}

func (r *Registry) All() []codec.Codec {
	return slices.Clone(r.codecs)
}

// AppCodecs returns the registered codecs of a phone application.
func (r *Registry) AppCodecs(app string) ([]codec.Codec, error) {
	ids, ok := PhoneApps[app]
	if !ok {
		return nil, fmt.Errorf("%w: phone app %q", ErrUnknownCodec, app)
	}
	out := make([]codec.Codec, 0, len(ids))
	for _, id := range ids {
		c, err := r.Get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Decode tries every codec on adv and returns all matches.
func (r *Registry) Decode(adv codec.Advertisement) []Decoded {
	var out []Decoded
	for _, c := range r.codecs {
		if cmd, conf, ok := c.DecodeAdv(adv); ok {
			out = append(out, Decoded{Codec: c, Cmd: cmd, Config: conf})
		}
	}
	return out
}
