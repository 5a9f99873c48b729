package codecs

import (
	"encoding/binary"
	"slices"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleadv/pkg/codec"
)

// ruixinCipher shifts each byte by the seed and its position; the padding
// differs between the app and the remote.
type ruixinCipher struct {
	padding []byte
}

func (c ruixinCipher) Len() int { return 10 + len(c.padding) }

func (c ruixinCipher) Decrypt(buf []byte) ([]byte, error) {
	d := slices.Clone(buf)
	for i, x := range buf[2:16] {
		d[2+i] = x - buf[0] - uint8(i)
	}
	if err := codec.ExpectEq("Checksum", int(codec.Sum8(d[2:15])), int(d[15])); err != nil {
		return nil, err
	}
	return d[:10], nil
}

func (c ruixinCipher) Encrypt(buf []byte) []byte {
	d := slices.Concat(buf, c.padding)
	d[15] = codec.Sum8(d[2:15])
	for i, x := range d[2:16] {
		d[2+i] = x + d[0] + uint8(i)
	}
	return d
}

func (c ruixinCipher) ToEnc(d []byte) (codec.EncoderCommand, codec.DeviceConfig, error) {
	conf := codec.DeviceConfig{
		Seed:    uint16(d[0]),
		TxCount: uint16(d[1]),
		ID:      binary.LittleEndian.Uint32(d[2:6]),
	}
	return codec.EncoderCommand{Cmd: d[6], Arg0: d[7], Arg1: d[8], Arg2: d[9]}, conf, nil
}

func (c ruixinCipher) FromEnc(cmd codec.EncoderCommand, conf codec.DeviceConfig) []byte {
	seed := uint8(conf.Seed)
	if conf.Seed == 0 {
		seed = uint8(codec.RandomSeed(1, 0xF5))
	}
	out := binary.LittleEndian.AppendUint32([]byte{seed, uint8(conf.TxCount)}, conf.ID)
	return append(out, cmd.Cmd, cmd.Arg0, cmd.Arg1, cmd.Arg2)
}

func ruixinTranslators() []*codec.Translator {
	step := func(cmd string, opcode uint8) *codec.Translator {
		return codec.Trans(codec.CTLight(0).ActEq(codec.AttrCmd, cmd).ActEq(codec.AttrStep, 1.0/12), codec.Enc(opcode)).NoDirect()
	}
	preset := func(br, ct float64, opcode uint8) *codec.Translator {
		return codec.Trans(codec.CTLight(0).ActEq(codec.AttrBr, br).ActEq(codec.AttrCT, ct), codec.Enc(opcode)).NoDirect()
	}
	return []*codec.Translator{
		codec.Trans(codec.Device().ActEq(codec.AttrCmd, codec.CmdPair), codec.Enc(0xAA)),
		codec.Trans(codec.Device().ActEq(codec.AttrOn, false), codec.Enc(0x11)).NoDirect(),
		codec.Trans(codec.Light(0).ActEq(codec.AttrOn, true), codec.Enc(0x01)),
		codec.Trans(codec.Light(0).ActEq(codec.AttrOn, false), codec.Enc(0x02)),
		codec.Trans(codec.Light(0).ActEq(codec.AttrCmd, codec.CmdToggle), codec.Enc(0x21)).NoDirect(),
		codec.Trans(codec.CTLight(0).Act(codec.AttrBr), codec.Enc(0x0C)).Copy(codec.AttrBr, codec.FieldArg0, 250),
		codec.Trans(codec.CTLight(0).Act(codec.AttrCT), codec.Enc(0x0D)).Copy(codec.AttrCT, codec.FieldArg0, 250),
		step(codec.CmdBrUp, 0x25),
		step(codec.CmdBrDown, 0x26),
		step(codec.CmdCTUp, 0x27),
		step(codec.CmdCTDown, 0x28),
		preset(1.0, 0.0, 0x07),
		preset(0.5, 0.5, 0x08),
		preset(1.0, 1.0, 0x09),
		codec.Trans(codec.Fan(0).ActEq(codec.AttrOn, true), codec.Enc(0x03)).NoDirect(),
		codec.Trans(codec.Fan(0).ActEq(codec.AttrOn, false), codec.Enc(0x04)),
		codec.Trans(codec.Fan(0).ActEq(codec.AttrDir, false), codec.Enc(0x05)),
		codec.Trans(codec.Fan(0).ActEq(codec.AttrDir, true), codec.Enc(0x06)),
		codec.Trans(codec.Fan100Speed(0).ActEq(codec.AttrOn, true).Act(codec.AttrSpeed), codec.Enc(0x10)).Copy(codec.AttrSpeed, codec.FieldArg0, 1),
	}
}

func ruixinCodecs(logger *logrus.Logger) []codec.Codec {
	return []codec.Codec{
		codec.New(ruixinCipher{padding: zeros(6)},
			codec.WithID("ruixin_v0", ""),
			codec.WithHeader(0xFF, 0xFF, 0x01, 0x02, 0x03, 0x04, 0x69, 0x72, 0x36, 0x0E),
			codec.WithBLE(0x00, 0xFF),
			codec.WithTranslators(ruixinTranslators()...),
			codec.WithLogger(logger),
		),
		codec.New(ruixinCipher{padding: []byte{0x07, 0x08, 0x09, 0x10, 0x11, 0x12, 0x13, 0x14, 0x15}},
			codec.WithID("ruixin_v0", "r1"),
			codec.WithHeader(0x00, 0x00, 0x00, 0x52, 0x58, 0x4B, 0x69, 0x72, 0x36, 0x0E),
			codec.WithBLE(0x00, 0xFF),
			codec.WithTranslators(ruixinTranslators()...),
			codec.WithLogger(logger),
		),
	}
}
