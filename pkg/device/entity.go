package device

import (
	"maps"
	"reflect"
	"slices"
	"sync"

	"github.com/srg/bleadv/pkg/codec"
)

// Entity is the state of one light or fan of a device.
type Entity struct {
	BaseType string
	Index    int
	SubType  string

	mu    sync.Mutex
	attrs map[string]any
}

func newEntity(baseType string, index int, subType string) *Entity {
	return &Entity{
		BaseType: baseType,
		Index:    index,
		SubType:  subType,
		attrs:    map[string]any{codec.AttrOn: false},
	}
}

func (e *Entity) ID() codec.EntityID {
	return codec.EntityID{BaseType: e.BaseType, Index: e.Index}
}

func (e *Entity) On() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	on, _ := e.attrs[codec.AttrOn].(bool)
	return on
}

// Attrs returns a copy of the state, sub type included.
func (e *Entity) Attrs() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := maps.Clone(e.attrs)
	out[codec.AttrSubType] = e.SubType
	return out
}

// set stores the given values and returns the names of those that changed.
func (e *Entity) set(values map[string]any) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var changed []string
	for _, k := range slices.Sorted(maps.Keys(values)) {
		if prev, ok := e.attrs[k]; ok && reflect.DeepEqual(prev, values[k]) {
			continue
		}
		e.attrs[k] = values[k]
		changed = append(changed, k)
	}
	return changed
}

// ApplyAttrs applies a decoded change: on/off and toggle, then every other
// changed state attribute.
func (e *Entity) ApplyAttrs(ent codec.EntityAttrs) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, k := range ent.Changed {
		switch k {
		case codec.AttrOn:
			on, _ := ent.Attrs[codec.AttrOn].(bool)
			e.attrs[codec.AttrOn] = on
		case codec.AttrCmd:
			if ent.Attrs[codec.AttrCmd] == codec.CmdToggle {
				on, _ := e.attrs[codec.AttrOn].(bool)
				e.attrs[codec.AttrOn] = !on
			}
		case codec.AttrSubType:
		default:
			if v, ok := ent.Attrs[k]; ok {
				e.attrs[k] = v
			}
		}
	}
}
