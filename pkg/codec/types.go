package codec

import (
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sort"
	"strings"
	"time"
)

// Entity base types and sub types.
const (
	DeviceType = "device"

	FanType         = "fan"
	FanType3Speed   = "3speed"
	FanType6Speed   = "6speed"
	FanType100Speed = "100speed"

	LightType      = "light"
	LightTypeOnOff = "onoff"
	LightTypeRGB   = "rgb"
	LightTypeCWW   = "cww"
)

// Entity attribute names and well known values.
const (
	AttrOn      = "on"
	AttrCmd     = "cmd"
	AttrTime    = "s"
	AttrStep    = "step"
	AttrSubType = "sub_type"

	CmdBrUp   = "B+"
	CmdBrDown = "B-"
	CmdCTUp   = "K+"
	CmdCTDown = "K-"
	CmdPair   = "pair"
	CmdTimer  = "timer"
	CmdToggle = "toggle"
	CmdUnpair = "unpair"

	AttrBr = "br"
	// AttrCT is 0.0 for cold and 1.0 for warm; AttrCTRev is the opposite.
	AttrCT     = "ct"
	AttrCTRev  = "ctr"
	AttrCold   = "cold"
	AttrWarm   = "warm"
	AttrRed    = "r"
	AttrGreen  = "g"
	AttrBlue   = "b"
	AttrRedF   = "rf"
	AttrGreenF = "gf"
	AttrBlueF  = "bf"

	AttrSpeed  = "speed"
	AttrDir    = "dir"
	AttrOsc    = "osc"
	AttrPreset = "preset"
	AttrEffect = "effect"

	PresetBreeze = "breeze"
	PresetSleep  = "sleep"
	EffectRGB    = "rgb"
)

var (
	// ErrNoMatch is wrapped by every decode rejection.
	ErrNoMatch = errors.New("no match")
	// ErrEncode reports a command that cannot be encoded by a codec.
	ErrEncode = errors.New("cannot encode")
	// ErrInvalidHex reports a malformed hex string.
	ErrInvalidHex = errors.New("invalid hex")
)

// MismatchError describes why a payload was rejected by a codec.
type MismatchError struct {
	What string
	Want string
	Got  string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("'%s' differs - expected: %s, received: %s", e.What, e.Want, e.Got)
}

func (e *MismatchError) Unwrap() error { return ErrNoMatch }

// ExpectEq returns a *MismatchError when want and got differ.
func ExpectEq(what string, want, got int) error {
	if want == got {
		return nil
	}
	return &MismatchError{What: what, Want: fmt.Sprintf("0x%X", want), Got: fmt.Sprintf("0x%X", got)}
}

// ExpectPrefix returns a *MismatchError when got does not start with want.
func ExpectPrefix(what string, want, got []byte) error {
	trunc := got[:min(len(want), len(got))]
	if slices.Equal(want, trunc) {
		return nil
	}
	return &MismatchError{What: what, Want: Hex(want), Got: Hex(trunc)}
}

// Field addresses one of the byte fields of an EncoderCommand.
type Field int

const (
	FieldCmd Field = iota
	FieldParam
	FieldArg0
	FieldArg1
	FieldArg2
	FieldArg3
	FieldArg4
)

var fieldNames = [...]string{"cmd", "param", "arg0", "arg1", "arg2", "arg3", "arg4"}

func (f Field) String() string {
	if f < 0 || int(f) >= len(fieldNames) {
		return fmt.Sprintf("field(%d)", int(f))
	}
	return fieldNames[f]
}

// EncoderCommand is the vendor neutral form of a command carried in an advertisement.
type EncoderCommand struct {
	Cmd   uint8 `json:"cmd"`
	Param uint8 `json:"param"`
	Arg0  uint8 `json:"arg0"`
	Arg1  uint8 `json:"arg1"`
	Arg2  uint8 `json:"arg2"`
	Arg3  uint8 `json:"arg3"`
	Arg4  uint8 `json:"arg4"`
}

// Get returns the value of field f.
func (c *EncoderCommand) Get(f Field) uint8 {
	switch f {
	case FieldCmd:
		return c.Cmd
	case FieldParam:
		return c.Param
	case FieldArg0:
		return c.Arg0
	case FieldArg1:
		return c.Arg1
	case FieldArg2:
		return c.Arg2
	case FieldArg3:
		return c.Arg3
	case FieldArg4:
		return c.Arg4
	}
	return 0
}

// Set assigns field f.
func (c *EncoderCommand) Set(f Field, v uint8) {
	switch f {
	case FieldCmd:
		c.Cmd = v
	case FieldParam:
		c.Param = v
	case FieldArg0:
		c.Arg0 = v
	case FieldArg1:
		c.Arg1 = v
	case FieldArg2:
		c.Arg2 = v
	case FieldArg3:
		c.Arg3 = v
	case FieldArg4:
		c.Arg4 = v
	}
}

func (c EncoderCommand) String() string {
	return fmt.Sprintf("cmd: 0x%02X, param: 0x%02X, args: [%d,%d,%d,%d,%d]", c.Cmd, c.Param, c.Arg0, c.Arg1, c.Arg2, c.Arg3, c.Arg4)
}

// DeviceConfig identifies a device from the codec point of view.
type DeviceConfig struct {
	ID              uint32 `json:"id" yaml:"id"`
	Index           uint8  `json:"index" yaml:"index"`
	TxCount         uint16 `json:"tx_count" yaml:"tx_count"`
	Seed            uint16 `json:"seed" yaml:"seed"`
	AppRestartCount uint8  `json:"app_restart_count" yaml:"app_restart_count"`
}

func (c DeviceConfig) String() string {
	return fmt.Sprintf("id: 0x%08X, index: %d, tx: %d, seed: 0x%04X", c.ID, c.Index, c.TxCount, c.Seed)
}

// EntityAttrs is an entity state change: the attributes that changed and
// the full attribute set of the entity identified by BaseType and Index.
type EntityAttrs struct {
	Changed  []string       `json:"changed"`
	Attrs    map[string]any `json:"attrs"`
	BaseType string         `json:"base_type"`
	Index    int            `json:"index"`
}

// EntityID identifies an entity inside a device.
type EntityID struct {
	BaseType string
	Index    int
}

func (e EntityAttrs) ID() EntityID { return EntityID{BaseType: e.BaseType, Index: e.Index} }

// Get returns the raw attribute value, nil when absent.
func (e EntityAttrs) Get(attr string) any {
	return e.Attrs[attr]
}

// Float returns the attribute as a float, 0 when absent or not numeric.
func (e EntityAttrs) Float(attr string) float64 {
	f, _ := toFloat(e.Attrs[attr])
	return f
}

// HasChanged reports whether attr is listed as changed.
func (e EntityAttrs) HasChanged(attr string) bool {
	return slices.Contains(e.Changed, attr)
}

func (e EntityAttrs) String() string {
	keys := slices.Collect(maps.Keys(e.Attrs))
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", k, e.Attrs[k]))
	}
	return fmt.Sprintf("%s_%d: %v / {%s}", e.BaseType, e.Index, e.Changed, strings.Join(parts, ", "))
}

// TxDefaults are the transmit parameters recommended by a codec.
type TxDefaults struct {
	Repeat   int           `json:"repeat"`
	Interval time.Duration `json:"interval"`
	Duration time.Duration `json:"duration"`
}

// Features lists, per attribute, the values an entity supports.
type Features map[string][]any

// toFloat converts numeric and boolean attribute values.
func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// attrEqual compares attribute values, numbers and booleans by value.
func attrEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		return fa == fb
	}
	if okA != okB {
		return false
	}
	return reflect.DeepEqual(a, b)
}
