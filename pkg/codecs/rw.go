package codecs

import (
	"encoding/binary"
	"slices"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleadv/pkg/codec"
)

func rwCRC(buf []byte) uint16 {
	return codec.CRC16CCITT(buf, 0x696B)
}

// rwCipher spreads the command over 16 bytes chained by XOR, with a few
// constant markers, then bit reverses and whitens the whole.
type rwCipher struct{}

func (rwCipher) Len() int { return 18 }

func (rwCipher) Decrypt(buf []byte) ([]byte, error) {
	d := codec.ReverseAll(codec.Whiten(buf, 0x69))
	n := len(d)
	err := expect(
		codec.ExpectEq("8 is 0x4C", 0x4C, int(d[8])),
		codec.ExpectEq("9 is 0xFF", 0xFF, int(d[9])),
		codec.ExpectEq("10 is 0x00", 0x00, int(d[10])),
		codec.ExpectEq("12 is 0x01", 0x01, int(d[12])),
		codec.ExpectEq("14 is 0x02", 0x02, int(d[14])),
		codec.ExpectEq("CRC", int(binary.BigEndian.Uint16(d[n-2:])), int(rwCRC(d[:n-2]))),
	)
	if err != nil {
		return nil, err
	}
	p := d[11] ^ d[13] ^ d[15]
	return []byte{
		d[0] ^ p,
		d[1] ^ p,
		d[2] ^ p ^ d[1],
		d[3] ^ p ^ d[1],
		d[4] ^ p ^ d[1],
		d[5] ^ p ^ d[2],
		d[6] ^ p ^ d[2],
		d[7] ^ p ^ d[2],
		d[11] ^ p ^ d[5],
		d[13] ^ p ^ d[5],
		p,
	}, nil
}

func (rwCipher) Encrypt(b []byte) []byte {
	b12 := b[1] ^ b[2]
	enc := []byte{
		b[0] ^ b[10],
		b[1] ^ b[10],
		b[2] ^ b[1],
		b[3] ^ b[1],
		b[4] ^ b[1],
		b[5] ^ b12 ^ b[10],
		b[6] ^ b12 ^ b[10],
		b[7] ^ b12 ^ b[10],
		0x4C,
		0xFF,
		0x00,
		b[8] ^ b12,
		0x01,
		b[9] ^ b12,
		0x02,
		b[8] ^ b[9] ^ b[10],
	}
	enc = binary.BigEndian.AppendUint16(enc, rwCRC(enc))
	return codec.Whiten(codec.ReverseAll(enc), 0x69)
}

func (rwCipher) ToEnc(d []byte) (codec.EncoderCommand, codec.DeviceConfig, error) {
	conf := codec.DeviceConfig{
		ID:      binary.LittleEndian.Uint32(d[2:6]),
		Index:   d[6],
		TxCount: uint16(d[1]),
		Seed:    uint16(d[10]),
	}
	return codec.EncoderCommand{Cmd: d[0], Arg0: d[7], Arg1: d[8], Arg2: d[9]}, conf, nil
}

func (rwCipher) FromEnc(cmd codec.EncoderCommand, conf codec.DeviceConfig) []byte {
	seed := uint8(conf.Seed)
	if conf.Seed == 0 {
		seed = uint8(codec.RandomSeed(1, 0xF5))
	}
	out := binary.LittleEndian.AppendUint32([]byte{cmd.Cmd, uint8(conf.TxCount)}, conf.ID)
	return append(out, conf.Index, cmd.Arg0, cmd.Arg1, cmd.Arg2, seed)
}

// rwRGBTranslators pack red and green as nibbles of arg0, blue in arg1.
func rwRGBTranslators(index int) []*codec.Translator {
	effect := func(name string, opcode uint8) *codec.Translator {
		return codec.Trans(codec.RGBLight(index).ActEq(codec.AttrEffect, name), codec.Enc(opcode))
	}
	rgb := codec.Trans(codec.RGBLight(index).Act(codec.AttrBr).Act(codec.AttrRed).Act(codec.AttrGreen).Act(codec.AttrBlue), codec.Enc(0x48)).
		Copy(codec.AttrBr, codec.FieldArg2, 100).
		OnForward(func(ent codec.EntityAttrs, enc *codec.EncoderCommand) {
			enc.Arg0 = uint8(int(15*ent.Float(codec.AttrRed))&0x0F | int(15*ent.Float(codec.AttrGreen))<<4)
			enc.Arg1 = uint8(int(15 * ent.Float(codec.AttrBlue)))
		}).
		OnReverse(func(enc codec.EncoderCommand, ent *codec.EntityAttrs) {
			ent.Attrs[codec.AttrRed] = float64(enc.Arg0&0x0F) / 15
			ent.Attrs[codec.AttrGreen] = float64(enc.Arg0>>4) / 15
			ent.Attrs[codec.AttrBlue] = float64(enc.Arg1&0x0F) / 15
		})
	return []*codec.Translator{
		codec.Trans(codec.RGBLight(index).ActEq(codec.AttrOn, true), codec.Enc(0x31)),
		codec.Trans(codec.RGBLight(index).ActEq(codec.AttrOn, false), codec.Enc(0x32)),
		effect(codec.EffectRGB, 0x3F),
		codec.Trans(codec.RGBLight(index).ActEq(codec.AttrEffect, nil), codec.Enc(0x3C)),
		effect("Strobe", 0x3D),
		effect("Fade", 0x3B),
		effect("Smooth", 0x43),
		rgb,
	}
}

func rwMixTranslators() []*codec.Translator {
	cwwEffect := func(name string, opcode uint8) *codec.Translator {
		return codec.Trans(codec.CTLight(0).ActEq(codec.AttrEffect, name), codec.Enc(opcode))
	}
	device := []*codec.Translator{
		codec.Trans(codec.Device().ActEq(codec.AttrCmd, codec.CmdPair), codec.Enc(0x76)),
		codec.Trans(codec.Device().ActEq(codec.AttrCmd, codec.CmdUnpair), codec.Enc(0x78)),
		codec.Trans(codec.Device().ActEq(codec.AttrCmd, codec.CmdTimer), codec.Enc(0x63)).Copy(codec.AttrTime, codec.FieldArg1, 1),
	}
	cww := []*codec.Translator{
		codec.Trans(codec.Light(0).ActEq(codec.AttrOn, true), codec.Enc(0x01)),
		codec.Trans(codec.Light(0).ActEq(codec.AttrOn, false), codec.Enc(0x02)),
		codec.Trans(codec.CTLight(0).Act(codec.AttrBr), codec.Enc(0x0B)).Copy(codec.AttrBr, codec.FieldArg0, 100),
		codec.Trans(codec.CTLight(0).Act(codec.AttrCTRev), codec.Enc(0x0C)).Copy(codec.AttrCTRev, codec.FieldArg0, 100),
		cwwEffect("Reading", 0x08),
		cwwEffect("Theater", 0x07),
		cwwEffect("Party", 0x09),
		cwwEffect("Night Light", 0x0A),
	}
	secondary := []*codec.Translator{
		codec.Trans(codec.Light(2).ActEq(codec.AttrOn, true), codec.Enc(0x10)),
		codec.Trans(codec.Light(2).ActEq(codec.AttrOn, false), codec.Enc(0x11)),
	}
	fan := []*codec.Translator{
		codec.Trans(codec.Fan(0).ActEq(codec.AttrOn, false), codec.Enc(0x61).Eq(codec.FieldArg1, 0)),
		codec.Trans(codec.Fan(0).ActEq(codec.AttrOn, true), codec.Enc(0x61).Eq(codec.FieldArg1, 1)),
		codec.Trans(codec.Fan100Speed(0).ActEq(codec.AttrSpeed, 1), codec.Enc(0x62).Eq(codec.FieldArg1, 0)),
		codec.Trans(codec.Fan100Speed(0).Act(codec.AttrSpeed), codec.Enc(0x62).Min(codec.FieldArg1, 1)).Copy(codec.AttrSpeed, codec.FieldArg1, 1),
	}
	return slices.Concat(device, cww, rwRGBTranslators(1), secondary, fan)
}

func rwCodecs(logger *logrus.Logger) []codec.Codec {
	build := func(sub string, bleType byte) codec.Codec {
		return codec.New(rwCipher{},
			codec.WithID("rwlight_mix", sub),
			codec.WithHeader(0xDD, 0xB2, 0xDA, 0x6C, 0x9F, 0x01, 0x7A, 0x34),
			codec.WithBLE(0x1A, bleType),
			codec.WithTranslators(rwMixTranslators()...),
			codec.WithLogger(logger),
		)
	}
	return []codec.Codec{
		build("", 0xFF),
		build("ios", 0x03),
	}
}
