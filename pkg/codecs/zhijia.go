package codecs

import (
	"slices"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleadv/pkg/codec"
)

func zhijiaCRC(buf []byte) uint16 {
	return codec.CRC16LE(buf, 0, 0x8408, true, true)
}

func withZhijiaCRC(buf []byte) []byte {
	crc := zhijiaCRC(buf)
	return append(slices.Clone(buf), uint8(crc), uint8(crc>>8))
}

func checkZhijiaCRC(buf []byte) ([]byte, error) {
	n := len(buf)
	if err := codec.ExpectEq("CRC", int(buf[n-2])|int(buf[n-1])<<8, int(zhijiaCRC(buf[:n-2]))); err != nil {
		return nil, err
	}
	return buf[:n-2], nil
}

// zhijiaPivot XORs the whole buffer with the XOR of a few positions, which
// makes the operation its own inverse as long as the positions hold their
// value.
type zhijiaPivot struct {
	index []int
	xor   bool
}

func (p zhijiaPivot) apply(buf []byte) []byte {
	var pivot byte
	for _, i := range p.index {
		pivot ^= buf[i]
	}
	if p.xor {
		pivot ^= (pivot & 1) - 1
	}
	return xorAll(buf, pivot)
}

type zhijiaV0 struct {
	zhijiaPivot
}

func newZhijiaV0() *zhijiaV0 {
	return &zhijiaV0{zhijiaPivot{index: []int{0, 1, 6, 7}}}
}

func (c *zhijiaV0) Len() int { return 13 }

func (c *zhijiaV0) Decrypt(buf []byte) ([]byte, error) {
	return checkZhijiaCRC(codec.Whiten(codec.Whiten(buf, 0x37), 0x7F))
}

func (c *zhijiaV0) Encrypt(buf []byte) []byte {
	return codec.Whiten(codec.Whiten(withZhijiaCRC(buf), 0x7F), 0x37)
}

func (c *zhijiaV0) ToEnc(d []byte) (codec.EncoderCommand, codec.DeviceConfig, error) {
	d = c.apply(d)
	cmd := codec.EncoderCommand{Cmd: d[4], Arg0: d[1], Arg1: d[3], Arg2: d[1] ^ d[7]}
	conf := codec.DeviceConfig{
		ID:      uint32(d[0]) | uint32(d[5])<<8,
		Index:   d[2],
		TxCount: uint16(d[0] ^ d[6]),
	}
	return cmd, conf, nil
}

func (c *zhijiaV0) FromEnc(cmd codec.EncoderCommand, conf codec.DeviceConfig) []byte {
	u0, u1 := uint8(conf.ID), uint8(conf.ID>>8)
	return c.apply([]byte{u0, cmd.Arg0, conf.Index, cmd.Arg1, cmd.Cmd, u1, u0 ^ uint8(conf.TxCount), cmd.Arg0 ^ cmd.Arg2})
}

// zhijiaV1 carries a 3 bytes "mac" identifying the app flavour.
type zhijiaV1 struct {
	zhijiaPivot
	mac []byte
}

func newZhijiaV1(mac ...byte) *zhijiaV1 {
	return &zhijiaV1{zhijiaPivot: zhijiaPivot{index: []int{2, 4, 9, 12, 13, 15}, xor: true}, mac: mac}
}

func (c *zhijiaV1) Len() int { return 23 }

func (c *zhijiaV1) Decrypt(buf []byte) ([]byte, error) {
	return checkZhijiaCRC(codec.Whiten(buf, 0x37))
}

func (c *zhijiaV1) Encrypt(buf []byte) []byte {
	return codec.Whiten(withZhijiaCRC(buf), 0x37)
}

func (c *zhijiaV1) commonToEnc(d []byte) (codec.EncoderCommand, codec.DeviceConfig, error) {
	if err := codec.ExpectPrefix("Mac", c.mac, []byte{d[7], d[10], d[13] ^ d[4]}); err != nil {
		return reject(err)
	}
	conf := codec.DeviceConfig{
		ID:      uint32(d[2]) | uint32(d[12]^d[2])<<8 | uint32(d[15]^d[9])<<16,
		Index:   d[6],
		TxCount: uint16(d[4]),
	}
	cmd := codec.EncoderCommand{Cmd: d[9], Arg0: d[0], Arg1: d[3], Arg2: d[5]}
	return cmd, conf, nil
}

func (c *zhijiaV1) commonFromEnc(cmd codec.EncoderCommand, conf codec.DeviceConfig) []byte {
	u0, u1, u2 := uint8(conf.ID), uint8(conf.ID>>8), uint8(conf.ID>>16)
	tx := uint8(conf.TxCount)
	key := cmd.Cmd ^ cmd.Arg0 ^ cmd.Arg1 ^ cmd.Arg2 ^ u0 ^ u1 ^ u2 ^ tx ^ conf.Index ^ c.mac[0] ^ c.mac[1] ^ c.mac[2]
	return []byte{
		cmd.Arg0, key, u0, cmd.Arg1, tx, cmd.Arg2, conf.Index, c.mac[0], 0x00,
		cmd.Cmd, c.mac[1], 0x00, u1 ^ u0, c.mac[2] ^ tx, 0x00, u2 ^ cmd.Cmd, 0x00,
	}
}

func (c *zhijiaV1) ToEnc(d []byte) (codec.EncoderCommand, codec.DeviceConfig, error) {
	d = c.apply(d)
	cmd, conf, err := c.commonToEnc(d)
	if err == nil {
		err = expect(
			codec.ExpectEq("8 as 0x00", 0, int(d[8])),
			codec.ExpectEq("11 as 0x00", 0, int(d[11])),
			codec.ExpectEq("Dupe 7/14", int(d[7]), int(d[14])),
		)
	}
	if err != nil {
		return reject(err)
	}
	return cmd, conf, nil
}

func (c *zhijiaV1) FromEnc(cmd codec.EncoderCommand, conf codec.DeviceConfig) []byte {
	o := c.commonFromEnc(cmd, conf)
	o[14] = o[7]
	return c.apply(o)
}

// zhijiaV2 is v1 without prefix, double whitened and zero padded.
type zhijiaV2 struct {
	zhijiaV1
}

func newZhijiaV2(mac ...byte) *zhijiaV2 {
	return &zhijiaV2{zhijiaV1{zhijiaPivot: zhijiaPivot{index: []int{3, 7, 11, 12, 13, 15}, xor: true}, mac: mac}}
}

func (c *zhijiaV2) Len() int { return 24 }

func (c *zhijiaV2) Decrypt(buf []byte) ([]byte, error) {
	b1 := codec.Whiten(buf, 0x6F)
	n := len(b1)
	b2 := slices.Concat(codec.Whiten(b1[:n-2], 0xD3), b1[n-2:])
	if err := codec.ExpectPrefix("Zero padding", zeros(7), b2[n-7:]); err != nil {
		return nil, err
	}
	return b2[:n-7], nil
}

func (c *zhijiaV2) Encrypt(buf []byte) []byte {
	b1 := slices.Concat(buf, zeros(7))
	n := len(b1)
	return codec.Whiten(slices.Concat(codec.Whiten(b1[:n-2], 0xD3), b1[n-2:]), 0x6F)
}

func (c *zhijiaV2) ToEnc(d []byte) (codec.EncoderCommand, codec.DeviceConfig, error) {
	d = c.apply(d)
	cmd, conf, err := c.commonToEnc(d)
	if err == nil {
		err = expect(
			codec.ExpectEq("decoded 8", int(d[2]^d[3]^d[4]^d[7]), int(d[8])),
			codec.ExpectEq("11 as 0x00", 0, int(d[11])),
			codec.ExpectEq("decoded 14", int(d[2]^d[3]^d[4]^d[9]), int(d[14])),
		)
	}
	if err != nil {
		return reject(err)
	}
	return cmd, conf, nil
}

func (c *zhijiaV2) FromEnc(cmd codec.EncoderCommand, conf codec.DeviceConfig) []byte {
	o := c.commonFromEnc(cmd, conf)
	o[1] ^= o[9]
	o[8] = o[2] ^ o[3] ^ o[4] ^ o[7]
	o[14] = o[2] ^ o[3] ^ o[4] ^ o[9]
	return c.apply(o)
}

// zhijiaRemote sends the v1 layout in clear, masked by a constant.
type zhijiaRemote struct {
	zhijiaV1
}

func newZhijiaRemote(mac ...byte) *zhijiaRemote {
	return &zhijiaRemote{*newZhijiaV1(mac...)}
}

func (c *zhijiaRemote) Len() int { return 17 }

func (c *zhijiaRemote) Decrypt(buf []byte) ([]byte, error) { return buf, nil }

func (c *zhijiaRemote) Encrypt(buf []byte) []byte { return buf }

func (c *zhijiaRemote) ToEnc(d []byte) (codec.EncoderCommand, codec.DeviceConfig, error) {
	d = xorAll(d, d[5])
	cmd, conf, err := c.commonToEnc(d)
	if err == nil {
		err = expect(
			codec.ExpectEq("8 as 0x01", 0x01, int(d[8])),
			codec.ExpectEq("11 as 0x02", 0x02, int(d[11])),
			codec.ExpectEq("decoded 14", int(d[2]), int(d[14])),
		)
	}
	if err != nil {
		return reject(err)
	}
	return cmd, conf, nil
}

func (c *zhijiaRemote) FromEnc(cmd codec.EncoderCommand, conf codec.DeviceConfig) []byte {
	o := c.commonFromEnc(cmd, conf)
	o[1] ^= 0x04
	o[8] = 0x01
	o[11] = 0x02
	o[14] = o[2]
	o[16] = 0x06
	return xorAll(o, 0xC9^0x06)
}

func zhijiaTimer(seconds int, opcode uint8) *codec.Translator {
	return codec.Trans(codec.Device().ActEq(codec.AttrCmd, codec.CmdTimer).Eq(codec.AttrTime, seconds), codec.Enc(opcode))
}

func zhijiaV0Translators() []*codec.Translator {
	return []*codec.Translator{
		codec.Trans(codec.Device().ActEq(codec.AttrCmd, codec.CmdPair), codec.Enc(0xB4)),
		codec.Trans(codec.Device().ActEq(codec.AttrCmd, codec.CmdUnpair), codec.Enc(0xB0)),
		zhijiaTimer(60, 0xD4),
		zhijiaTimer(120, 0xD5),
		zhijiaTimer(240, 0xD6),
		zhijiaTimer(480, 0xD7),
		codec.Trans(codec.Light(0).ActEq(codec.AttrOn, true), codec.Enc(0xB3)),
		codec.Trans(codec.Light(0).ActEq(codec.AttrOn, false), codec.Enc(0xB2)),
		codec.Trans(codec.CTLight(0).Act(codec.AttrBr), codec.Enc(0xB5)).
			SplitCopy(codec.AttrBr, []codec.Field{codec.FieldArg2, codec.FieldArg1}, 1000, 256),
		codec.Trans(codec.CTLight(0).Act(codec.AttrCT), codec.Enc(0xB7)).
			SplitCopy(codec.AttrCT, []codec.Field{codec.FieldArg2, codec.FieldArg1}, 1000, 256),
		codec.Trans(codec.Light(1).ActEq(codec.AttrOn, true), codec.Enc(0xA6).Eq(codec.FieldArg0, 1)),
		codec.Trans(codec.Light(1).ActEq(codec.AttrOn, false), codec.Enc(0xA6).Eq(codec.FieldArg0, 2)),
		codec.Trans(codec.Fan(0).ActEq(codec.AttrDir, true), codec.Enc(0xD9)),
		codec.Trans(codec.Fan(0).ActEq(codec.AttrDir, false), codec.Enc(0xDA)),
		codec.Trans(codec.Fan(0).ActEq(codec.AttrOn, false), codec.Enc(0xD8)),
		codec.Trans(codec.Fan3Speed(0).ActEq(codec.AttrOn, true).Eq(codec.AttrSpeed, 1), codec.Enc(0xD2)),
		codec.Trans(codec.Fan3Speed(0).ActEq(codec.AttrOn, true).Eq(codec.AttrSpeed, 2), codec.Enc(0xD1)),
		codec.Trans(codec.Fan3Speed(0).ActEq(codec.AttrOn, true).Eq(codec.AttrSpeed, 3), codec.Enc(0xD0)),
		codec.Trans(codec.Fan6Speed(0).ActEq(codec.AttrOn, true).Act(codec.AttrSpeed).Min(codec.AttrSpeed, 1).Max(codec.AttrSpeed, 2), codec.Enc(0xD2)).NoReverse(),
		codec.Trans(codec.Fan6Speed(0).ActEq(codec.AttrOn, true).Act(codec.AttrSpeed).Min(codec.AttrSpeed, 3).Max(codec.AttrSpeed, 4), codec.Enc(0xD1)).NoReverse(),
		codec.Trans(codec.Fan6Speed(0).ActEq(codec.AttrOn, true).Act(codec.AttrSpeed).Min(codec.AttrSpeed, 5).Max(codec.AttrSpeed, 6), codec.Enc(0xD0)).NoReverse(),
		// shortcut buttons
		codec.Trans(zhijiaColdWarm(0.1, 0.1), codec.Enc(0xA1).Eq(codec.FieldArg0, 25).Eq(codec.FieldArg1, 25)).NoDirect(),
		codec.Trans(zhijiaColdWarm(1, 0), codec.Enc(0xA2).Eq(codec.FieldArg0, 255).Eq(codec.FieldArg1, 0)).NoDirect(),
		codec.Trans(zhijiaColdWarm(0, 1), codec.Enc(0xA3).Eq(codec.FieldArg0, 0).Eq(codec.FieldArg1, 255)).NoDirect(),
		codec.Trans(zhijiaColdWarm(1, 1), codec.Enc(0xA4).Eq(codec.FieldArg0, 255).Eq(codec.FieldArg1, 255)).NoDirect(),
		codec.Trans(zhijiaColdWarm(1, 0), codec.Enc(0xA7).Eq(codec.FieldArg0, 1)).NoDirect(),
		codec.Trans(zhijiaColdWarm(0, 1), codec.Enc(0xA7).Eq(codec.FieldArg0, 2)).NoDirect(),
		codec.Trans(zhijiaColdWarm(1, 1), codec.Enc(0xA7).Eq(codec.FieldArg0, 3)).NoDirect(),
	}
}

func zhijiaColdWarm(cold, warm float64) *codec.EntityMatcher {
	return codec.CTLight(0).Eq(codec.AttrCold, cold).Eq(codec.AttrWarm, warm)
}

func zhijiaCommonTranslators() []*codec.Translator {
	return []*codec.Translator{
		codec.Trans(codec.Device().ActEq(codec.AttrCmd, codec.CmdPair), codec.Enc(0xA2)),
		codec.Trans(codec.Device().ActEq(codec.AttrCmd, codec.CmdUnpair), codec.Enc(0xA3)),
		codec.Trans(codec.Device().ActEq(codec.AttrCmd, codec.CmdTimer), codec.Enc(0xD9)).Copy(codec.AttrTime, codec.FieldArg0, 1.0/60.0),
		codec.Trans(codec.Light(0).ActEq(codec.AttrOn, true), codec.Enc(0xA5)),
		codec.Trans(codec.Light(0).ActEq(codec.AttrOn, false), codec.Enc(0xA6)),
		codec.Trans(codec.Light(1).ActEq(codec.AttrOn, true), codec.Enc(0xAF)),
		codec.Trans(codec.Light(1).ActEq(codec.AttrOn, false), codec.Enc(0xB0)),
		codec.Trans(codec.Fan(0).ActEq(codec.AttrDir, true), codec.Enc(0xDB)),
		codec.Trans(codec.Fan(0).ActEq(codec.AttrDir, false), codec.Enc(0xDA)),
		codec.Trans(codec.Fan(0).ActEq(codec.AttrOn, false), codec.Enc(0xD7)),
		codec.Trans(codec.Fan3Speed(0).ActEq(codec.AttrOn, true).Eq(codec.AttrSpeed, 1), codec.Enc(0xD6)),
		codec.Trans(codec.Fan3Speed(0).ActEq(codec.AttrOn, true).Eq(codec.AttrSpeed, 2), codec.Enc(0xD5)),
		codec.Trans(codec.Fan3Speed(0).ActEq(codec.AttrOn, true).Eq(codec.AttrSpeed, 3), codec.Enc(0xD4)),
		codec.Trans(codec.Fan6Speed(0).ActEq(codec.AttrOn, true).Act(codec.AttrSpeed).Min(codec.AttrSpeed, 1).Max(codec.AttrSpeed, 2), codec.Enc(0xD6)).NoReverse(),
		codec.Trans(codec.Fan6Speed(0).ActEq(codec.AttrOn, true).Act(codec.AttrSpeed).Min(codec.AttrSpeed, 3).Max(codec.AttrSpeed, 4), codec.Enc(0xD5)).NoReverse(),
		codec.Trans(codec.Fan6Speed(0).ActEq(codec.AttrOn, true).Act(codec.AttrSpeed).Min(codec.AttrSpeed, 5).Max(codec.AttrSpeed, 6), codec.Enc(0xD4)).NoReverse(),
		codec.Trans(zhijiaColdWarm(0.1, 0.1), codec.Enc(0xA7).Eq(codec.FieldArg0, 25).Eq(codec.FieldArg1, 25)).NoDirect(),
		codec.Trans(zhijiaColdWarm(1, 0), codec.Enc(0xA8).Eq(codec.FieldArg0, 250).Eq(codec.FieldArg1, 0)).NoDirect(),
		codec.Trans(zhijiaColdWarm(0, 1), codec.Enc(0xA8).Eq(codec.FieldArg0, 0).Eq(codec.FieldArg1, 250)).NoDirect(),
		codec.Trans(zhijiaColdWarm(1, 1), codec.Enc(0xA8).Eq(codec.FieldArg0, 250).Eq(codec.FieldArg1, 250)).NoDirect(),
	}
}

func zhijiaBrCT() []*codec.Translator {
	return []*codec.Translator{
		codec.Trans(codec.CTLight(0).Act(codec.AttrBr), codec.Enc(0xAD)).Copy(codec.AttrBr, codec.FieldArg0, 250),
		codec.Trans(codec.CTLight(0).Act(codec.AttrCT), codec.Enc(0xAE)).Copy(codec.AttrCT, codec.FieldArg0, 250),
	}
}

func zhijiaRGB() []*codec.Translator {
	return []*codec.Translator{
		codec.Trans(codec.RGBLight(0).Act(codec.AttrBr), codec.Enc(0xC8)).Copy(codec.AttrBr, codec.FieldArg0, 250),
		codec.Trans(codec.RGBLight(0).Act(codec.AttrRed).Act(codec.AttrGreen).Act(codec.AttrBlue), codec.Enc(0xCA)).
			Copy(codec.AttrRed, codec.FieldArg0, 250).
			Copy(codec.AttrGreen, codec.FieldArg1, 250).
			Copy(codec.AttrBlue, codec.FieldArg2, 250),
	}
}

func zhijiaColdWarmLevels() *codec.Translator {
	return codec.Trans(codec.CTLight(0).Act(codec.AttrCold).Act(codec.AttrWarm), codec.Enc(0xA8)).
		Copy(codec.AttrCold, codec.FieldArg0, 250).
		Copy(codec.AttrWarm, codec.FieldArg1, 250)
}

func zhijiaV1Translators() []*codec.Translator {
	return slices.Concat(zhijiaCommonTranslators(), zhijiaBrCT())
}

func zhijiaV2Translators() []*codec.Translator {
	return slices.Concat(zhijiaCommonTranslators(), zhijiaBrCT(), zhijiaRGB())
}

// zhijiaV2FLTranslators drive cold/warm levels directly to avoid flickering;
// brightness and temperature commands are still decoded.
func zhijiaV2FLTranslators() []*codec.Translator {
	brct := zhijiaBrCT()
	for _, t := range brct {
		t.NoDirect()
	}
	return slices.Concat(zhijiaCommonTranslators(), []*codec.Translator{zhijiaColdWarmLevels()}, zhijiaRGB(), brct)
}

func zhijiaVR1Translators() []*codec.Translator {
	return []*codec.Translator{
		codec.Trans(codec.Device().ActEq(codec.AttrCmd, codec.CmdPair), codec.Enc(0xA2)),
		codec.Trans(codec.Device().ActEq(codec.AttrCmd, codec.CmdUnpair), codec.Enc(0xA3)),
		codec.Trans(codec.Light(0).ActEq(codec.AttrOn, true), codec.Enc(0xA5)),
		codec.Trans(codec.Light(0).ActEq(codec.AttrOn, false), codec.Enc(0xA6)),
		zhijiaColdWarmLevels(),
	}
}

func zhijiaCodecs(logger *logrus.Logger) []codec.Codec {
	build := func(cipher codec.Cipher, id string, trans []*codec.Translator, opts ...codec.Option) codec.Codec {
		return codec.New(cipher, append([]codec.Option{
			codec.WithID(id, ""),
			codec.WithBLE(0x1A, 0xFF),
			codec.WithTranslators(trans...),
			codec.WithLogger(logger),
		}, opts...)...)
	}
	legacyHeader := codec.WithHeader(0xF9, 0x08, 0x49)
	v2Header := codec.WithHeader(0x22, 0x9D)

	return []codec.Codec{
		// Zhi Jia app
		build(newZhijiaV0(), "zhijia_v0", zhijiaV0Translators(), legacyHeader, codec.WithPrefix(0x08, 0x80, 0x98)),
		build(newZhijiaV1(0x19, 0x01, 0x10), "zhijia_v1", zhijiaV1Translators(), legacyHeader, codec.WithPrefix(0x55, 0x08, 0x80, 0x98)),
		build(newZhijiaV2(0x19, 0x01, 0x10), "zhijia_v2", zhijiaV2Translators(), v2Header),
		build(newZhijiaV2(0x19, 0x01, 0x10), "zhijia_v2_fl", zhijiaV2FLTranslators(), v2Header),
		// Zhi Guang app
		build(newZhijiaV0(), "zhiguang_v0", zhijiaV0Translators(), legacyHeader, codec.WithPrefix(0x33, 0xAA, 0x55)),
		build(newZhijiaV1(0x20, 0x03, 0x05), "zhiguang_v1", zhijiaV1Translators(), legacyHeader, codec.WithPrefix(0xA0, 0xC0, 0x04, 0x04)),
		build(newZhijiaV2(0x20, 0x03, 0x05), "zhiguang_v2", zhijiaV2Translators(), v2Header),
		// remote
		build(newZhijiaRemote(0x20, 0x03, 0x05), "zhijia_vr1", zhijiaVR1Translators(), codec.WithHeader(0xF0, 0xFF)),
	}
}
