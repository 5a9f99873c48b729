package codecs

import (
	"encoding/binary"
	"slices"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleadv/pkg/codec"
)

var agarceMatrix = [8]byte{0xAA, 0xBB, 0xCC, 0xDD, 0x5A, 0xA5, 0xA5, 0x5A}

func agarceCrypt(buf []byte, seed uint16) []byte {
	out := make([]byte, len(buf))
	for i, x := range buf {
		pivot := uint8(seed >> 8)
		if (i+1)%4 < 2 {
			pivot = uint8(seed)
		}
		out[i] = x ^ agarceMatrix[i%8] ^ pivot
	}
	return out
}

// agarceCipher keeps the clear prefix and seed in front of the encrypted
// block. Pairing commands carry part of their arguments in the prefix
// upper nibble.
type agarceCipher struct{}

func (agarceCipher) Len() int { return 18 }

func (agarceCipher) Decrypt(buf []byte) ([]byte, error) {
	n := len(buf)
	if err := codec.ExpectEq("Checksum2", int(codec.Sum8(buf[:n-1])), int(buf[n-1])); err != nil {
		return nil, err
	}
	d := agarceCrypt(buf[3:n-1], binary.LittleEndian.Uint16(buf[1:3]))
	m := len(d)
	if err := codec.ExpectEq("Checksum", int(codec.Sum8(d[:m-1])), int(d[m-1])); err != nil {
		return nil, err
	}
	isPair := d[8]&0xF0 == 0x00
	// group commands
	if isPair && d[12] == 0x00 {
		return nil, &codec.MismatchError{What: "Group command", Want: "pair argument", Got: "0x00"}
	}
	prefix := buf[0]
	if isPair {
		prefix |= (d[10] & 0x0F) << 4
		d[12] = (d[12]&0x0F)<<4 + d[11]
		d[11] = 0
		d[10] = 0
	} else {
		d[12] = (d[12]&0x0F)<<4 + d[8]&0x0F
	}
	return slices.Concat([]byte{prefix, buf[1], buf[2]}, d[:m-1]), nil
}

func (agarceCipher) Encrypt(buf []byte) []byte {
	d := slices.Clone(buf[3:])
	prefix := buf[0]
	if d[8] == 0x00 {
		d[10] = (prefix & 0xF0) >> 4
		d[11] = d[12] & 0x0F
		d[12] = (d[12]>>4)&0x0F + 0xC0
		prefix &= 0x0F
	} else {
		d[8] |= d[12] & 0x0F
		d[12] = (d[12] >> 4) & 0x0F
	}
	d = append(d, codec.Sum8(d))
	out := slices.Concat([]byte{prefix, buf[1], buf[2]}, agarceCrypt(d, binary.LittleEndian.Uint16(buf[1:3])))
	return append(out, codec.Sum8(out))
}

func (agarceCipher) ToEnc(d []byte) (codec.EncoderCommand, codec.DeviceConfig, error) {
	cmd := codec.EncoderCommand{Cmd: d[10] & 0xF0, Arg0: d[11], Arg1: d[12], Arg2: d[13]}
	conf := codec.DeviceConfig{
		TxCount:         uint16(d[2]),
		AppRestartCount: d[3],
		ID:              binary.LittleEndian.Uint32(d[6:10]),
		Index:           d[14],
		Seed:            binary.LittleEndian.Uint16(d[0:2]),
	}
	return cmd, conf, nil
}

func (agarceCipher) FromEnc(cmd codec.EncoderCommand, conf codec.DeviceConfig) []byte {
	seed := conf.Seed
	if seed == 0 {
		seed = uint16(codec.RandomSeed(1, 0xFFF5))
	}
	out := binary.LittleEndian.AppendUint16(nil, seed)
	out = append(out, uint8(conf.TxCount), conf.AppRestartCount, 0x00, 0x10)
	out = binary.LittleEndian.AppendUint32(out, conf.ID)
	return append(out, cmd.Cmd, cmd.Arg0, cmd.Arg1, cmd.Arg2, conf.Index)
}

const agarceFanCmd = 0x80

// agarceFanFlags maps the changed fan attributes to the arg2 mask.
var agarceFanFlags = []struct {
	attr string
	mask uint8
}{
	{codec.AttrSpeed, 0x01},
	{codec.AttrDir, 0x02},
	{codec.AttrPreset, 0x04},
	{codec.AttrOn, 0x08},
	{codec.AttrOsc, 0x10},
}

// agarceCodec sends the whole fan state in a single command, which the
// translator tables cannot express.
type agarceCodec struct {
	*codec.Base
}

func (c *agarceCodec) EntToEnc(ent codec.EntityAttrs) []codec.EncoderCommand {
	if ent.BaseType != codec.FanType || ent.Index != 0 {
		return c.Base.EntToEnc(ent)
	}
	cmd := codec.EncoderCommand{Cmd: agarceFanCmd}
	if ent.Float(codec.AttrOn) != 0 {
		cmd.Arg0 = 0x80
	}
	cmd.Arg0 |= uint8(ent.Float(codec.AttrSpeed))
	if ent.Float(codec.AttrDir) == 0 {
		cmd.Arg0 |= 0x10
	}
	if ent.Get(codec.AttrPreset) == codec.PresetBreeze {
		cmd.Arg0 |= 0x20
	}
	cmd.Arg1 = uint8(ent.Float(codec.AttrOsc))
	for _, f := range agarceFanFlags {
		if ent.HasChanged(f.attr) {
			cmd.Arg2 |= f.mask
		}
	}
	return []codec.EncoderCommand{cmd}
}

func (c *agarceCodec) EncToEnt(cmd codec.EncoderCommand) []codec.EntityAttrs {
	if cmd.Cmd != agarceFanCmd {
		return c.Base.EncToEnt(cmd)
	}
	var changed []string
	for _, f := range agarceFanFlags {
		if cmd.Arg2&f.mask != 0 {
			changed = append(changed, f.attr)
		}
	}
	var preset any
	if cmd.Arg0&0x20 != 0 {
		preset = codec.PresetBreeze
	}
	attrs := map[string]any{
		codec.AttrSubType: codec.FanType6Speed,
		codec.AttrSpeed:   int(cmd.Arg0 & 0x0F),
		codec.AttrOn:      cmd.Arg0&0x80 != 0,
		codec.AttrDir:     cmd.Arg0&0x10 == 0,
		codec.AttrOsc:     cmd.Arg1 != 0,
		codec.AttrPreset:  preset,
	}
	return []codec.EntityAttrs{{Changed: changed, Attrs: attrs, BaseType: codec.FanType, Index: 0}}
}

func (c *agarceCodec) SupportedFeatures(baseType string) []codec.Features {
	if baseType != codec.FanType {
		return c.Base.SupportedFeatures(baseType)
	}
	both := []any{true, false}
	return []codec.Features{{
		codec.AttrSubType: {codec.FanType6Speed},
		codec.AttrPreset:  {codec.PresetBreeze},
		codec.AttrSpeed:   {0, 1, 2, 3, 4, 5},
		codec.AttrOn:      both,
		codec.AttrDir:     both,
		codec.AttrOsc:     both,
	}}
}

func agarceTranslators() []*codec.Translator {
	return []*codec.Translator{
		codec.Trans(codec.Device().ActEq(codec.AttrCmd, codec.CmdPair), codec.Enc(0x00).Eq(codec.FieldArg0, 1)),
		codec.Trans(codec.Device().ActEq(codec.AttrCmd, codec.CmdUnpair), codec.Enc(0x00).Eq(codec.FieldArg0, 0)),
		codec.Trans(codec.Device().ActEq(codec.AttrOn, false), codec.Enc(0x70).Max(codec.FieldArg0, 1)).NoDirect(),
		codec.Trans(codec.Device().ActEq(codec.AttrOn, true), codec.Enc(0x70).Min(codec.FieldArg0, 2)).NoDirect(),
		codec.Trans(codec.Light(0).ActEq(codec.AttrOn, true), codec.Enc(0x10).Eq(codec.FieldArg0, 1)).
			Copy(codec.AttrCTRev, codec.FieldArg1, 100).Copy(codec.AttrBr, codec.FieldArg2, 100),
		codec.Trans(codec.Light(0).ActEq(codec.AttrOn, false), codec.Enc(0x10).Eq(codec.FieldArg0, 0)).
			Copy(codec.AttrCTRev, codec.FieldArg1, 100).Copy(codec.AttrBr, codec.FieldArg2, 100),
		codec.Trans(codec.CTLight(0).Act(codec.AttrCTRev).Act(codec.AttrBr), codec.Enc(0x20)).
			Copy(codec.AttrCTRev, codec.FieldArg0, 100).Copy(codec.AttrBr, codec.FieldArg1, 100),
	}
}

func agarceCodecs(logger *logrus.Logger) []codec.Codec {
	defaults := codec.TxDefaults{Repeat: 60, Interval: 10 * time.Millisecond, Duration: 400 * time.Millisecond}
	build := func(id string, prefix byte) codec.Codec {
		return &agarceCodec{codec.New(agarceCipher{},
			codec.WithID(id, ""),
			codec.WithHeader(0xF9, 0x09),
			codec.WithPrefix(prefix),
			codec.WithBLE(0x19, 0xFF),
			codec.WithDefaults(defaults),
			codec.WithTranslators(agarceTranslators()...),
			codec.WithLogger(logger),
		)}
	}
	return []codec.Codec{
		build("agarce_v3", 0x83),
		build("agarce_v4", 0x84),
	}
}
