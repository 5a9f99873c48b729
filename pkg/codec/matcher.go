package codec

import (
	"fmt"
	"maps"
	"slices"
)

type bound struct {
	key string
	val float64
}

// attrConstraints is the small interpreter shared by entity and encoder
// matchers: equality, lower and upper bounds evaluated on a getter.
type attrConstraints struct {
	eqKeys []string
	eqs    map[string]any
	mins   []bound
	maxs   []bound
}

func (c *attrConstraints) setEq(key string, v any) {
	if c.eqs == nil {
		c.eqs = make(map[string]any)
	}
	if _, ok := c.eqs[key]; !ok {
		c.eqKeys = append(c.eqKeys, key)
	}
	c.eqs[key] = v
}

func (c *attrConstraints) match(get func(string) any) bool {
	for _, k := range c.eqKeys {
		if !attrEqual(get(k), c.eqs[k]) {
			return false
		}
	}
	for _, b := range c.mins {
		v, ok := toFloat(get(b.key))
		if !ok || v < b.val {
			return false
		}
	}
	for _, b := range c.maxs {
		v, ok := toFloat(get(b.key))
		if !ok || v > b.val {
			return false
		}
	}
	return true
}

// EntityMatcher selects entity changes by base type, index, changed
// attributes and attribute constraints.
type EntityMatcher struct {
	cons     attrConstraints
	baseType string
	index    int
	subType  string
	actions  []string
}

// NewEntityMatcher creates a matcher; an enforced sub type adds an equality on AttrSubType.
func NewEntityMatcher(baseType string, index int, subType string, enforced bool) *EntityMatcher {
	m := &EntityMatcher{baseType: baseType, index: index, subType: subType}
	if subType != "" && enforced {
		m.cons.setEq(AttrSubType, subType)
	}
	return m
}

// Light matches on/off lights of any sub type.
func Light(index int) *EntityMatcher {
	return NewEntityMatcher(LightType, index, LightTypeOnOff, false)
}

// CTLight matches cold/warm lights.
func CTLight(index int) *EntityMatcher {
	return NewEntityMatcher(LightType, index, LightTypeCWW, true)
}

// RGBLight matches RGB lights.
func RGBLight(index int) *EntityMatcher {
	return NewEntityMatcher(LightType, index, LightTypeRGB, true)
}

// Fan matches fans of any sub type.
func Fan(index int) *EntityMatcher {
	return NewEntityMatcher(FanType, index, "", true)
}

func Fan3Speed(index int) *EntityMatcher {
	return NewEntityMatcher(FanType, index, FanType3Speed, true)
}

func Fan6Speed(index int) *EntityMatcher {
	return NewEntityMatcher(FanType, index, FanType6Speed, true)
}

func Fan100Speed(index int) *EntityMatcher {
	return NewEntityMatcher(FanType, index, FanType100Speed, true)
}

// Device matches device level commands.
func Device() *EntityMatcher {
	return NewEntityMatcher(DeviceType, 0, "", true)
}

// Act registers attr as an action: a change must list at least one action.
func (m *EntityMatcher) Act(attr string) *EntityMatcher {
	m.actions = append(m.actions, attr)
	return m
}

// ActEq registers attr as an action constrained to value.
func (m *EntityMatcher) ActEq(attr string, value any) *EntityMatcher {
	m.actions = append(m.actions, attr)
	m.cons.setEq(attr, value)
	return m
}

func (m *EntityMatcher) Eq(attr string, value any) *EntityMatcher {
	m.cons.setEq(attr, value)
	return m
}

func (m *EntityMatcher) Min(attr string, value float64) *EntityMatcher {
	m.cons.mins = append(m.cons.mins, bound{attr, value})
	return m
}

func (m *EntityMatcher) Max(attr string, value float64) *EntityMatcher {
	m.cons.maxs = append(m.cons.maxs, bound{attr, value})
	return m
}

// Matches reports whether the entity change is selected by m.
func (m *EntityMatcher) Matches(ent EntityAttrs) bool {
	if ent.BaseType != m.baseType || ent.Index != m.index {
		return false
	}
	if !slices.ContainsFunc(m.actions, ent.HasChanged) {
		return false
	}
	return m.cons.match(ent.Get)
}

// Create builds the entity change described by m: actions as changed
// attributes, equalities as attribute values.
func (m *EntityMatcher) Create() EntityAttrs {
	return EntityAttrs{
		Changed:  slices.Clone(m.actions),
		Attrs:    maps.Clone(m.cons.eqs),
		BaseType: m.baseType,
		Index:    m.index,
	}
}

// Features returns base type, index and sub type (empty when untyped).
func (m *EntityMatcher) Features() (string, int, string) {
	return m.baseType, m.index, m.subType
}

func (m *EntityMatcher) String() string {
	return fmt.Sprintf("%s_%d/%s %v %v", m.baseType, m.index, m.subType, m.actions, m.cons.eqs)
}

// EncoderMatcher selects encoder commands by opcode and field constraints.
type EncoderMatcher struct {
	cons attrConstraints
	cmd  uint8
}

// Enc creates an encoder matcher for opcode cmd.
func Enc(cmd uint8) *EncoderMatcher {
	return &EncoderMatcher{cmd: cmd}
}

func (m *EncoderMatcher) Eq(f Field, v uint8) *EncoderMatcher {
	m.cons.setEq(f.String(), int(v))
	return m
}

func (m *EncoderMatcher) Min(f Field, v uint8) *EncoderMatcher {
	m.cons.mins = append(m.cons.mins, bound{f.String(), float64(v)})
	return m
}

func (m *EncoderMatcher) Max(f Field, v uint8) *EncoderMatcher {
	m.cons.maxs = append(m.cons.maxs, bound{f.String(), float64(v)})
	return m
}

func (m *EncoderMatcher) Matches(enc EncoderCommand) bool {
	return enc.Cmd == m.cmd && m.cons.match(func(key string) any {
		return int(enc.Get(fieldByName(key)))
	})
}

// Create builds the command with opcode and equality fields set.
func (m *EncoderMatcher) Create() EncoderCommand {
	enc := EncoderCommand{Cmd: m.cmd}
	for _, k := range m.cons.eqKeys {
		enc.Set(fieldByName(k), uint8(m.cons.eqs[k].(int)))
	}
	return enc
}

func (m *EncoderMatcher) String() string {
	return fmt.Sprintf("0x%02X %v", m.cmd, m.cons.eqs)
}

func fieldByName(name string) Field {
	for i, n := range fieldNames {
		if n == name {
			return Field(i)
		}
	}
	return -1
}
