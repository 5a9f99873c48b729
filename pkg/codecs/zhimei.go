package codecs

import (
	"encoding/binary"
	"slices"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleadv/pkg/codec"
)

// zhimeiV0 is a plain layout closed by a checksum that includes the header.
type zhimeiV0 struct {
	header []byte
}

func newZhimeiV0(header ...byte) *zhimeiV0 {
	return &zhimeiV0{header: header}
}

func (c *zhimeiV0) checksum(buf []byte) byte {
	return codec.Sum8(buf) + codec.Sum8(c.header)
}

func (c *zhimeiV0) Len() int { return 9 }

func (c *zhimeiV0) Decrypt(buf []byte) ([]byte, error) {
	n := len(buf)
	if err := codec.ExpectEq("Checksum", int(c.checksum(buf[:n-1])), int(buf[n-1])); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c *zhimeiV0) Encrypt(buf []byte) []byte {
	return append(slices.Clone(buf), c.checksum(buf))
}

func (c *zhimeiV0) ToEnc(d []byte) (codec.EncoderCommand, codec.DeviceConfig, error) {
	conf := codec.DeviceConfig{
		Index:   d[0],
		TxCount: uint16(d[1]),
		ID:      uint32(binary.LittleEndian.Uint16(d[2:4])),
	}
	return codec.EncoderCommand{Cmd: d[4], Arg0: d[5], Arg1: d[6], Arg2: d[7]}, conf, nil
}

func (c *zhimeiV0) FromEnc(cmd codec.EncoderCommand, conf codec.DeviceConfig) []byte {
	return []byte{conf.Index, uint8(conf.TxCount), uint8(conf.ID), uint8(conf.ID >> 8), cmd.Cmd, cmd.Arg0, cmd.Arg1, cmd.Arg2}
}

var zhimeiMatrix = [16]byte{29, 4, 17, 32, 152, 117, 40, 70, 11, 175, 67, 172, 214, 190, 137, 142}

func zhimeiApply(buf []byte, key int) []byte {
	pivot := zhimeiMatrix[((buf[1]>>4)&15)^(buf[1]&15)]
	out := make([]byte, len(buf))
	for i, x := range buf {
		out[i] = (x ^ pivot) + zhimeiMatrix[(key+i)&0xF]
	}
	return out
}

func zhimeiUnapply(buf []byte, key int) []byte {
	pivot := (buf[0] - zhimeiMatrix[key&0xF]) ^ 0xFF
	out := make([]byte, len(buf))
	for i, x := range buf {
		out[i] = (x - zhimeiMatrix[(key+i)&0xF]) ^ pivot
	}
	return out
}

// zhimeiV1 repeats the first bytes of the payload in front of the header
// when the header does not start the advertisement.
type zhimeiV1 struct {
	headerStart int
}

func newZhimeiV1(headerStart int) *zhimeiV1 {
	return &zhimeiV1{headerStart: headerStart}
}

func (c *zhimeiV1) Len() int { return 16 }

func (c *zhimeiV1) Decrypt(buf []byte) ([]byte, error) {
	hsp := c.headerStart
	d := zhimeiUnapply(buf[hsp:], 6)
	n := len(d)
	if err := codec.ExpectEq("CRC", int(codec.CRC16CCITT(d[:n-3], 0)), int(binary.LittleEndian.Uint16(d[n-2:]))); err != nil {
		return nil, err
	}
	d = d[:n-2]
	if d[7] != 0xB4 {
		d = slices.Concat(d[:9], zhimeiUnapply(d[9:], 10))
	}
	err := expect(
		codec.ExpectEq("Dupe 2/10", int(d[2]), int(d[10])),
		codec.ExpectEq("0 not FF", 0xFF, int(d[0])),
		codec.ExpectEq("9 not FF", 0xFF, int(d[9])),
		codec.ExpectPrefix("Dupe Pre header", buf[:hsp], d[2:2+hsp]),
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (c *zhimeiV1) Encrypt(buf []byte) []byte {
	b := slices.Clone(buf)
	if b[7] != 0xB4 {
		b = slices.Concat(b[:9], zhimeiApply(b[9:], 10))
	}
	b = binary.LittleEndian.AppendUint16(b, codec.CRC16CCITT(b[:len(b)-1], 0))
	return slices.Concat(b[2:2+c.headerStart], zhimeiApply(b, 6))
}

func (c *zhimeiV1) ToEnc(d []byte) (codec.EncoderCommand, codec.DeviceConfig, error) {
	conf := codec.DeviceConfig{
		Index:   d[8],
		TxCount: uint16(d[2]),
		Seed:    uint16(d[1]),
		ID:      binary.LittleEndian.Uint32(d[3:7]),
	}
	return codec.EncoderCommand{Cmd: d[7], Arg0: d[11], Arg1: d[12], Arg2: d[13]}, conf, nil
}

func (c *zhimeiV1) FromEnc(cmd codec.EncoderCommand, conf codec.DeviceConfig) []byte {
	tx := uint8(conf.TxCount)
	return []byte{
		0xFF, uint8(conf.Seed), tx, uint8(conf.ID), uint8(conf.ID >> 8), 0x00, 0x00,
		cmd.Cmd, conf.Index, 0xFF, tx, cmd.Arg0, cmd.Arg1, cmd.Arg2,
	}
}

type zhimeiV2 struct{}

func zhimeiV2CRC(buf []byte) uint16 {
	c := codec.CRC16CCITT(codec.ReverseAll(buf), 0xFFFF)
	return 0xFFFF ^ (uint16(codec.ReverseByte(uint8(c)))<<8 | uint16(codec.ReverseByte(uint8(c>>8))))
}

func (zhimeiV2) Len() int { return 13 }

func (zhimeiV2) Decrypt(buf []byte) ([]byte, error) {
	d := codec.Whiten(buf, 0x48)
	n := len(d)
	if err := codec.ExpectEq("CRC", int(zhimeiV2CRC(d[:n-2])), int(binary.LittleEndian.Uint16(d[n-2:]))); err != nil {
		return nil, err
	}
	return d[:n-2], nil
}

func (zhimeiV2) Encrypt(buf []byte) []byte {
	return codec.Whiten(binary.LittleEndian.AppendUint16(slices.Clone(buf), zhimeiV2CRC(buf)), 0x48)
}

func (zhimeiV2) ToEnc(d []byte) (codec.EncoderCommand, codec.DeviceConfig, error) {
	d = xorAll(d, d[0]^d[1]^d[6]^d[7])
	conf := codec.DeviceConfig{
		Index:   d[2],
		TxCount: uint16(d[6] ^ d[0]),
		ID:      uint32(d[5]) | uint32(d[0])<<8,
	}
	return codec.EncoderCommand{Cmd: d[4], Arg0: d[1], Arg1: d[3], Arg2: d[7] ^ d[1]}, conf, nil
}

func (zhimeiV2) FromEnc(cmd codec.EncoderCommand, conf codec.DeviceConfig) []byte {
	u0, u1 := uint8(conf.ID), uint8(conf.ID>>8)
	d := []byte{u1, cmd.Arg0, conf.Index, cmd.Arg1, cmd.Cmd, u0, uint8(conf.TxCount) ^ u1, cmd.Arg0 ^ cmd.Arg2}
	return xorAll(d, d[0]^d[1]^d[6]^d[7])
}

func zhimeiNightAndLevels() []*codec.Translator {
	return []*codec.Translator{
		codec.Trans(zhijiaColdWarm(0.1, 0.1), codec.Enc(0xA1).Eq(codec.FieldArg0, 25).Eq(codec.FieldArg1, 25)).NoDirect(),
		codec.Trans(zhijiaColdWarm(1, 0), codec.Enc(0xA7).Eq(codec.FieldArg0, 1)).NoDirect(),
		codec.Trans(zhijiaColdWarm(0, 1), codec.Enc(0xA7).Eq(codec.FieldArg0, 2)).NoDirect(),
		codec.Trans(zhijiaColdWarm(1, 1), codec.Enc(0xA7).Eq(codec.FieldArg0, 3)).NoDirect(),
	}
}

func zhimeiSecondaryRGB() *codec.Translator {
	return codec.Trans(codec.RGBLight(1).Act(codec.AttrRedF).Act(codec.AttrGreenF).Act(codec.AttrBlueF), codec.Enc(0xCA)).
		Copy(codec.AttrRedF, codec.FieldArg0, 255).
		Copy(codec.AttrGreenF, codec.FieldArg1, 255).
		Copy(codec.AttrBlueF, codec.FieldArg2, 255)
}

func zhimeiCommonTranslators() []*codec.Translator {
	brFields := []codec.Field{codec.FieldArg2, codec.FieldArg1}
	return slices.Concat([]*codec.Translator{
		codec.Trans(codec.Device().ActEq(codec.AttrCmd, codec.CmdUnpair), codec.Enc(0xB0)),
		codec.Trans(codec.Device().ActEq(codec.AttrCmd, codec.CmdTimer), codec.Enc(0xA5)).
			SplitCopy(codec.AttrTime, []codec.Field{codec.FieldArg0, codec.FieldArg1}, 1.0/60.0, 60),
		codec.Trans(codec.Light(0).ActEq(codec.AttrOn, true), codec.Enc(0xB3)),
		codec.Trans(codec.Light(0).ActEq(codec.AttrOn, false), codec.Enc(0xB2)),
		codec.Trans(codec.Light(1).ActEq(codec.AttrOn, true), codec.Enc(0xA6).Eq(codec.FieldArg0, 2)),
		codec.Trans(codec.Light(1).ActEq(codec.AttrOn, false), codec.Enc(0xA6).Eq(codec.FieldArg0, 1)),
		codec.Trans(codec.CTLight(0).Act(codec.AttrBr), codec.Enc(0xB5)).SplitCopy(codec.AttrBr, brFields, 1000, 256),
		codec.Trans(codec.CTLight(0).Act(codec.AttrCTRev), codec.Enc(0xB7)).SplitCopy(codec.AttrCTRev, brFields, 1000, 256),
	}, zhimeiNightAndLevels(), []*codec.Translator{zhimeiSecondaryRGB()})
}

func zhimeiV1Translators() []*codec.Translator {
	return append(zhimeiCommonTranslators(),
		codec.Trans(codec.Device().ActEq(codec.AttrCmd, codec.CmdPair),
			codec.Enc(0xB4).Eq(codec.FieldArg0, 0xAA).Eq(codec.FieldArg1, 0x66).Eq(codec.FieldArg2, 0x55)))
}

func zhimeiV2Translators() []*codec.Translator {
	return append(zhimeiCommonTranslators(),
		codec.Trans(codec.Device().ActEq(codec.AttrCmd, codec.CmdPair), codec.Enc(0xB4)))
}

func zhimeiStep(cmd string) *codec.EntityMatcher {
	return codec.CTLight(0).ActEq(codec.AttrCmd, cmd).Eq(codec.AttrStep, 0.166)
}

func zhimeiFanCommonTranslators() []*codec.Translator {
	brFields := []codec.Field{codec.FieldArg2, codec.FieldArg1}
	return slices.Concat([]*codec.Translator{
		codec.Trans(codec.Device().ActEq(codec.AttrCmd, codec.CmdPair),
			codec.Enc(0xB4).Eq(codec.FieldArg0, 0xAA).Eq(codec.FieldArg1, 0x66).Eq(codec.FieldArg2, 0x55)),
		codec.Trans(codec.Device().ActEq(codec.AttrCmd, codec.CmdUnpair), codec.Enc(0xB0)),
		codec.Trans(codec.Device().ActEq(codec.AttrCmd, codec.CmdTimer), codec.Enc(0xD4)).Copy(codec.AttrTime, codec.FieldArg0, 1.0/3600.0),
		codec.Trans(codec.Device().ActEq(codec.AttrOn, true), codec.Enc(0xB3)),
		codec.Trans(codec.Device().ActEq(codec.AttrOn, false), codec.Enc(0xB2)),
		codec.Trans(codec.Light(0).ActEq(codec.AttrOn, true), codec.Enc(0xA6).Eq(codec.FieldArg0, 2)),
		codec.Trans(codec.Light(0).ActEq(codec.AttrOn, false), codec.Enc(0xA6).Eq(codec.FieldArg0, 1)),
		codec.Trans(codec.CTLight(0).Act(codec.AttrBr), codec.Enc(0xB5).Eq(codec.FieldArg0, 0)).SplitCopy(codec.AttrBr, brFields, 1000, 256),
		codec.Trans(codec.CTLight(0).Act(codec.AttrCTRev), codec.Enc(0xB7).Eq(codec.FieldArg0, 0)).SplitCopy(codec.AttrCTRev, brFields, 1000, 256),
		codec.Trans(codec.Fan(0).ActEq(codec.AttrDir, true), codec.Enc(0xD9)),
		codec.Trans(codec.Fan(0).ActEq(codec.AttrDir, false), codec.Enc(0xDA)),
		codec.Trans(codec.Fan(0).ActEq(codec.AttrOsc, true), codec.Enc(0xDE).Eq(codec.FieldArg0, 1)),
		codec.Trans(codec.Fan(0).ActEq(codec.AttrOsc, false), codec.Enc(0xDE).Eq(codec.FieldArg0, 2)),
		codec.Trans(codec.Fan(0).ActEq(codec.AttrOn, false), codec.Enc(0xD1)),
		codec.Trans(codec.Fan(0).ActEq(codec.AttrPreset, codec.PresetBreeze), codec.Enc(0xDB)),
		codec.Trans(codec.Fan6Speed(0).ActEq(codec.AttrOn, true).Act(codec.AttrSpeed), codec.Enc(0xD3)).Copy(codec.AttrSpeed, codec.FieldArg0, 1),
		codec.Trans(codec.Fan3Speed(0).ActEq(codec.AttrOn, true).Act(codec.AttrSpeed), codec.Enc(0xD3)).Copy(codec.AttrSpeed, codec.FieldArg0, 2).NoReverse(),
	}, zhimeiNightAndLevels(), []*codec.Translator{
		// remote buttons
		codec.Trans(zhimeiStep(codec.CmdBrUp), codec.Enc(0xB5).Eq(codec.FieldArg0, 1)).NoDirect(),
		codec.Trans(zhimeiStep(codec.CmdBrDown), codec.Enc(0xB5).Eq(codec.FieldArg0, 2)).NoDirect(),
		codec.Trans(zhimeiStep(codec.CmdCTUp), codec.Enc(0xB7).Eq(codec.FieldArg0, 2)).NoDirect(),
		codec.Trans(zhimeiStep(codec.CmdCTDown), codec.Enc(0xB7).Eq(codec.FieldArg0, 1)).NoDirect(),
	})
}

func zhimeiFanV1Translators() []*codec.Translator {
	return append(zhimeiFanCommonTranslators(), zhimeiSecondaryRGB())
}

// zhimeiRemoteTranslators are toggle style buttons: decoded as toggles,
// encoded from explicit on/off changes.
func zhimeiRemoteTranslators() []*codec.Translator {
	speed := func(speed int, opcode uint8) *codec.Translator {
		return codec.Trans(codec.Fan6Speed(0).ActEq(codec.AttrOn, true).ActEq(codec.AttrSpeed, speed), codec.Enc(opcode))
	}
	return []*codec.Translator{
		codec.Trans(codec.Device().ActEq(codec.AttrOn, false), codec.Enc(0x10)).NoDirect(),
		codec.Trans(codec.Device().ActEq(codec.AttrCmd, codec.CmdTimer).Eq(codec.AttrTime, 60*60), codec.Enc(0x12)).NoDirect(),
		codec.Trans(codec.Device().ActEq(codec.AttrCmd, codec.CmdTimer).Eq(codec.AttrTime, 2*60*60), codec.Enc(0x14)).NoDirect(),
		codec.Trans(codec.Light(0).ActEq(codec.AttrOn, codec.CmdToggle), codec.Enc(0x04)).NoDirect(),
		codec.Trans(codec.Light(0).ActEq(codec.AttrOn, true), codec.Enc(0x04)).NoReverse(),
		codec.Trans(codec.Light(0).ActEq(codec.AttrOn, false), codec.Enc(0x04)).NoReverse(),
		codec.Trans(zhimeiStep(codec.CmdCTUp), codec.Enc(0x0B)).NoDirect(),
		codec.Trans(zhimeiStep(codec.CmdCTDown), codec.Enc(0x09)).NoDirect(),
		codec.Trans(zhimeiStep(codec.CmdBrUp), codec.Enc(0x13)).NoDirect(),
		codec.Trans(zhimeiStep(codec.CmdBrDown), codec.Enc(0x0C)).NoDirect(),
		codec.Trans(zhijiaColdWarm(0.1, 0.1), codec.Enc(0x07)).NoDirect(),
		codec.Trans(codec.Fan(0).ActEq(codec.AttrDir, codec.CmdToggle), codec.Enc(0x02)).NoDirect(),
		codec.Trans(codec.Fan(0).ActEq(codec.AttrDir, true), codec.Enc(0x02)).NoReverse(),
		codec.Trans(codec.Fan(0).ActEq(codec.AttrDir, false), codec.Enc(0x02)).NoReverse(),
		codec.Trans(codec.Fan(0).ActEq(codec.AttrPreset, codec.PresetBreeze), codec.Enc(0x11)),
		codec.Trans(codec.Fan6Speed(0).ActEq(codec.AttrOn, false), codec.Enc(0x0E)),
		speed(1, 0x03),
		speed(2, 0x05),
		speed(3, 0x08),
		speed(4, 0x0A),
		speed(5, 0x0D),
		speed(6, 0x0F),
	}
}

func zhimeiCodecs(logger *logrus.Logger) []codec.Codec {
	v1Header := []byte{0x48, 0x46, 0x4B, 0x4A}
	v1Footer := codec.WithFooter(0x10, 0x11, 0x12, 0x13, 0x14, 0x15)
	v2Footer := codec.WithFooter(0x10, 0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, 0x18, 0x19)
	build := func(cipher codec.Cipher, opts ...codec.Option) codec.Codec {
		if _, ok := cipher.(*zhimeiV1); ok {
			opts = append(opts, v1Footer)
		}
		return codec.New(cipher, append(opts, codec.WithLogger(logger))...)
	}
	fanV0 := newZhimeiV0(0x55)

	// zhimei_fan_vr0 is not listed: its advertisements carry no usable BLE
	// type and flag.
	return []codec.Codec{
		// Zhi Mei app
		build(fanV0, codec.WithID("zhimei_fan_v0", ""), codec.WithHeader(fanV0.header...), codec.WithBLE(0x19, 0x03),
			codec.WithTranslators(zhimeiFanCommonTranslators()...), codec.WithReverseOnly(zhimeiRemoteTranslators()...)),
		build(newZhimeiV1(0), codec.WithID("zhimei_fan_v1", ""), codec.WithHeader(v1Header...), codec.WithBLE(0x1A, 0x03),
			codec.WithTranslators(zhimeiFanV1Translators()...), codec.WithReverseOnly(zhimeiRemoteTranslators()...)),
		build(newZhimeiV1(0), codec.WithID("zhimei_v1", ""), codec.WithHeader(v1Header...), codec.WithBLE(0x1A, 0x03),
			codec.WithTranslators(zhimeiV1Translators()...)),
		build(zhimeiV2{}, codec.WithID("zhimei_v2", ""), v2Footer, codec.WithHeader(0xF9, 0x08, 0x49), codec.WithPrefix(0x33, 0xAA, 0x55),
			codec.WithBLE(0x1A, 0x03), codec.WithTranslators(zhimeiV2Translators()...)),
		// remotes
		build(newZhimeiV1(3), codec.WithFID("zhimei_fan_vr1", "zhimei_fan_v1"), codec.WithHeaderAt(3, v1Header...),
			codec.WithBLE(0x1A, 0xFF), codec.WithTranslators(zhimeiRemoteTranslators()...)),
		build(newZhimeiV1(0), codec.WithFID("zhimei_fan_v1b", "zhimei_fan_v1"), codec.WithHeader(0x00, 0x00, 0x00, 0x48, 0x46, 0x4B, 0x4A),
			codec.WithBLE(0x1A, 0xFF), codec.WithTranslators(zhimeiFanV1Translators()...)),
		build(newZhimeiV1(0), codec.WithFID("zhimei_v1b", "zhimei_v1"), codec.WithHeader(0x58, 0x55, 0x18, 0x48, 0x46, 0x4B, 0x4A),
			codec.WithBLE(0x1A, 0xFF), codec.WithTranslators(zhimeiV1Translators()...)),
	}
}
