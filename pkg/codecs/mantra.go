package codecs

import (
	"encoding/binary"
	"slices"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleadv/pkg/codec"
)

var mantraFamily = []byte{0x12, 0x34, 0x56, 0x78}

// mantraCipher whitens everything after the first five bytes with the
// transmit counter as seed.
type mantraCipher struct{}

func (mantraCipher) Len() int { return 18 }

func (mantraCipher) crypt(buf []byte) []byte {
	return slices.Concat(buf[:5], codec.Whiten16(buf[5:], binary.BigEndian.Uint16(buf[2:4]), 4777, 73))
}

func (c mantraCipher) Decrypt(buf []byte) ([]byte, error) { return c.crypt(buf), nil }

func (c mantraCipher) Encrypt(buf []byte) []byte { return c.crypt(buf) }

func (mantraCipher) ToEnc(d []byte) (codec.EncoderCommand, codec.DeviceConfig, error) {
	err := expect(
		codec.ExpectEq("2 as 0x06", 0x06, int(d[2])),
		codec.ExpectPrefix("Family", mantraFamily, d[4:8]),
	)
	if err != nil {
		return reject(err)
	}
	count := binary.BigEndian.Uint16(d[0:2])
	conf := codec.DeviceConfig{
		Index:   uint8(count >> 12),
		TxCount: count & 0x0FFF,
		ID:      uint32(binary.BigEndian.Uint16(d[8:10])),
	}
	cmd := codec.EncoderCommand{Cmd: d[3], Param: d[10], Arg0: d[11], Arg1: d[12], Arg2: d[13], Arg3: d[14], Arg4: d[15]}
	return cmd, conf, nil
}

func (mantraCipher) FromEnc(cmd codec.EncoderCommand, conf codec.DeviceConfig) []byte {
	out := binary.BigEndian.AppendUint16(nil, conf.TxCount+uint16(conf.Index)<<12)
	out = append(out, 0x06, cmd.Cmd)
	out = append(out, mantraFamily...)
	out = binary.BigEndian.AppendUint16(out, uint16(conf.ID))
	return append(out, cmd.Param, cmd.Arg0, cmd.Arg1, cmd.Arg2, cmd.Arg3, cmd.Arg4)
}

func mantraTranslators() []*codec.Translator {
	param := func(p uint8) *codec.EncoderMatcher { return codec.Enc(0x01).Eq(codec.FieldParam, p) }
	timer := func(seconds int, p uint8) *codec.Translator {
		return codec.Trans(codec.Device().ActEq(codec.AttrCmd, codec.CmdTimer).Eq(codec.AttrTime, seconds), param(p))
	}
	return []*codec.Translator{
		codec.Trans(codec.Device().ActEq(codec.AttrOn, false), param(0x02)).NoDirect(),
		timer(60, 0x09),
		timer(120, 0x0A),
		timer(240, 0x0B),
		timer(480, 0x0C),
		codec.Trans(codec.Light(0).ActEq(codec.AttrOn, true), param(0x05)),
		codec.Trans(codec.Light(0).ActEq(codec.AttrOn, false), param(0x06)),
		codec.Trans(codec.CTLight(0).Act(codec.AttrCold).Act(codec.AttrWarm), codec.Enc(0x02)).
			Copy(codec.AttrWarm, codec.FieldParam, 255).
			Copy(codec.AttrCold, codec.FieldArg0, 255).
			Copy(codec.AttrBr, codec.FieldArg1, 7).
			Copy(codec.AttrCTRev, codec.FieldArg2, 6).
			Copy(codec.AttrBr, codec.FieldArg3, 255).
			Copy(codec.AttrCTRev, codec.FieldArg4, 255),
		codec.Trans(codec.Fan(0).ActEq(codec.AttrOn, true), param(0x07)),
		codec.Trans(codec.Fan(0).ActEq(codec.AttrOn, false), param(0x08)),
		codec.Trans(codec.Fan(0).ActEq(codec.AttrPreset, codec.PresetBreeze), param(0x0D)),
		codec.Trans(codec.Fan(0).ActEq(codec.AttrPreset, codec.PresetSleep), param(0x0E)),
		codec.Trans(codec.Fan(0).ActEq(codec.AttrDir, true), param(0x12)),
		codec.Trans(codec.Fan(0).ActEq(codec.AttrDir, false), param(0x14)),
		codec.Trans(codec.Fan6Speed(0).Act(codec.AttrSpeed).Eq(codec.AttrOn, true), codec.Enc(0x03).Eq(codec.FieldParam, 0x01)).
			Copy(codec.AttrSpeed, codec.FieldArg0, 31.0/6.0),
		// forward at a fixed speed
		codec.Trans(codec.Fan6Speed(0).ActEq(codec.AttrSpeed, 2).ActEq(codec.AttrDir, true), param(0x0F)).NoDirect(),
		codec.Trans(codec.Fan6Speed(0).ActEq(codec.AttrSpeed, 4).ActEq(codec.AttrDir, true), param(0x10)).NoDirect(),
		codec.Trans(codec.Fan6Speed(0).ActEq(codec.AttrSpeed, 6).ActEq(codec.AttrDir, true), param(0x11)).NoDirect(),
	}
}

func mantraCodecs(logger *logrus.Logger) []codec.Codec {
	return []codec.Codec{
		codec.New(mantraCipher{},
			codec.WithID("mantra_v0", ""),
			codec.WithHeader(0x4E, 0x6F),
			codec.WithPrefix(0x72, 0x0E),
			codec.WithBLE(0x1A, 0xFF),
			codec.WithTx(1, 0x0FFF),
			codec.WithTranslators(mantraTranslators()...),
			codec.WithLogger(logger),
		),
	}
}
