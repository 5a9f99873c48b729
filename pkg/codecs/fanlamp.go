package codecs

import (
	"encoding/binary"
	"slices"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleadv/pkg/codec"
)

const (
	fanLampCmdPair = 0x28
	fanLampCmdRGB  = 0x22
)

// fanLampV1 is the whitened and bit reversed FanLamp / LampSmart legacy format.
type fanLampV1 struct {
	arg2           uint8
	arg2OnlyOnPair bool
	xor1           bool
	forcedCRC2     uint16
	withCRC2       bool
	crc2Seed       uint16
	prefix         []byte
}

func newFanLampV1(arg2 uint8, arg2OnlyOnPair, xor1 bool, suppPrefix byte, forcedCRC2 uint16) *fanLampV1 {
	prefix := []byte{0xAA, 0x98, 0x43, 0xAF, 0x0B, 0x46, 0x46, 0x46}
	if suppPrefix != 0 {
		prefix = slices.Insert(prefix, 0, suppPrefix)
	}
	return &fanLampV1{
		arg2:           arg2,
		arg2OnlyOnPair: arg2OnlyOnPair,
		xor1:           xor1,
		forcedCRC2:     forcedCRC2,
		withCRC2:       forcedCRC2 != 0 || suppPrefix == 0,
		crc2Seed:       codec.CRC16CCITT(prefix[1:6], 0xFFFF),
		prefix:         prefix,
	}
}

func (c *fanLampV1) Len() int { return 24 }

func (c *fanLampV1) crc2(buf []byte) uint16 {
	if c.forcedCRC2 != 0 {
		return c.forcedCRC2
	}
	return codec.CRC16CCITT(buf, c.crc2Seed)
}

func (c *fanLampV1) arg2For(cmd, arg2 uint8) uint8 {
	switch {
	case cmd == fanLampCmdRGB:
		return arg2
	case cmd == fanLampCmdPair:
		return c.arg2
	case !c.arg2OnlyOnPair && !slices.Contains([]uint8{0x12, 0x13, 0x1E, 0x1F}, cmd):
		return c.arg2
	}
	return 0
}

func (c *fanLampV1) Decrypt(buf []byte) ([]byte, error) {
	return codec.ReverseAll(codec.Whiten(buf, 0x6F)), nil
}

func (c *fanLampV1) Encrypt(buf []byte) []byte {
	return codec.Whiten(codec.ReverseAll(buf), 0x6F)
}

func (c *fanLampV1) r2(seed8 uint8) uint8 {
	if c.xor1 {
		return seed8 ^ 1
	}
	return seed8
}

func (c *fanLampV1) ToEnc(d []byte) (codec.EncoderCommand, codec.DeviceConfig, error) {
	seed := binary.BigEndian.Uint16(d[10:12])
	seed8 := uint8(seed)
	err := expect(
		codec.ExpectEq("CRC", int(codec.CRC16CCITT(d[:12], seed^0xFFFF)), int(binary.BigEndian.Uint16(d[12:14]))),
		codec.ExpectEq("Arg2", int(c.arg2For(d[0], d[5])), int(d[5])),
		codec.ExpectEq("r2", int(c.r2(seed8)), int(d[9])),
	)
	if err == nil && c.withCRC2 {
		err = codec.ExpectEq("CRC2", int(c.crc2(d[:len(d)-2])), int(binary.BigEndian.Uint16(d[14:16])))
	}
	if err != nil {
		return reject(err)
	}

	gi := uint32(binary.LittleEndian.Uint16(d[1:3]))
	conf := codec.DeviceConfig{
		Index:   uint8((gi & 0x0F00) >> 8),
		ID:      (gi & 0xF0FF) | uint32(seed8^d[8])<<16,
		TxCount: uint16(d[6]),
		Seed:    seed,
	}
	cmd := codec.EncoderCommand{Cmd: d[0], Param: d[7]}
	if cmd.Cmd != fanLampCmdPair {
		cmd.Arg0, cmd.Arg1 = d[3], d[4]
		if cmd.Cmd == fanLampCmdRGB {
			cmd.Arg2 = d[5]
		}
	} else if err := expect(
		codec.ExpectEq("Pair Arg0", int(conf.ID&0xFF), int(d[3])),
		codec.ExpectEq("Pair Arg1", int((conf.ID>>8)&0xF0), int(d[4])),
	); err != nil {
		return reject(err)
	}
	return cmd, conf, nil
}

func (c *fanLampV1) FromEnc(cmd codec.EncoderCommand, conf codec.DeviceConfig) []byte {
	arg0, arg1 := cmd.Arg0, cmd.Arg1
	if cmd.Cmd == fanLampCmdPair {
		arg0, arg1 = uint8(conf.ID), uint8(conf.ID>>8)&0xF0
	}
	seed := conf.Seed
	if seed == 0 {
		seed = uint16(codec.RandomSeed(0, 0xFFF5))
	}
	seed8 := uint8(seed)
	r1 := seed8 ^ uint8(conf.ID>>16)
	if c.xor1 {
		r1 = seed8 ^ 1
	}

	buf := []byte{cmd.Cmd}
	buf = binary.LittleEndian.AppendUint16(buf, uint16(conf.ID&0xF0FF)|uint16(conf.Index&0x0F)<<8)
	buf = append(buf, arg0, arg1, c.arg2For(cmd.Cmd, cmd.Arg2), uint8(conf.TxCount), cmd.Param, r1, c.r2(seed8))
	buf = binary.BigEndian.AppendUint16(buf, seed)
	buf = binary.BigEndian.AppendUint16(buf, codec.CRC16CCITT(buf, seed^0xFFFF))
	if c.withCRC2 {
		return binary.BigEndian.AppendUint16(buf, c.crc2(buf))
	}
	return append(buf, 0xAA)
}

var fanLampXBoxes = [128]byte{
	0xB7, 0xFD, 0x93, 0x26, 0x36, 0x3F, 0xF7, 0xCC, 0x34, 0xA5, 0xE5, 0xF1, 0x71, 0xD8, 0x31, 0x15,
	0x04, 0xC7, 0x23, 0xC3, 0x18, 0x96, 0x05, 0x9A, 0x07, 0x12, 0x80, 0xE2, 0xEB, 0x27, 0xB2, 0x75,
	0xD0, 0xEF, 0xAA, 0xFB, 0x43, 0x4D, 0x33, 0x85, 0x45, 0xF9, 0x02, 0x7F, 0x50, 0x3C, 0x9F, 0xA8,
	0x51, 0xA3, 0x40, 0x8F, 0x92, 0x9D, 0x38, 0xF5, 0xBC, 0xB6, 0xDA, 0x21, 0x10, 0xFF, 0xF3, 0xD2,
	0xE0, 0x32, 0x3A, 0x0A, 0x49, 0x06, 0x24, 0x5C, 0xC2, 0xD3, 0xAC, 0x62, 0x91, 0x95, 0xE4, 0x79,
	0xE7, 0xC8, 0x37, 0x6D, 0x8D, 0xD5, 0x4E, 0xA9, 0x6C, 0x56, 0xF4, 0xEA, 0x65, 0x7A, 0xAE, 0x08,
	0xE1, 0xF8, 0x98, 0x11, 0x69, 0xD9, 0x8E, 0x94, 0x9B, 0x1E, 0x87, 0xE9, 0xCE, 0x55, 0x28, 0xDF,
	0x8C, 0xA1, 0x89, 0x0D, 0xBF, 0xE6, 0x42, 0x68, 0x41, 0x99, 0x2D, 0x0F, 0xB0, 0x54, 0xBB, 0x16,
}

// fanLampV2 is the table whitened format, optionally signed with AES (v3).
// The seed travels at the end of the decrypted buffer.
type fanLampV2 struct {
	deviceType uint16
	withSign   bool
	salt       int
}

func newFanLampV2(deviceType uint16, withSign bool, prefix []byte) *fanLampV2 {
	return &fanLampV2{deviceType: deviceType, withSign: withSign, salt: int(prefix[1]&0x3) << 5}
}

func (c *fanLampV2) Len() int { return 24 }

func (c *fanLampV2) whiten(buf []byte, seed uint8) []byte {
	out := make([]byte, len(buf))
	for i, v := range buf {
		out[i] = fanLampXBoxes[((int(seed)+i+9)&0x1F)+c.salt] ^ seed ^ v
	}
	return out
}

func (c *fanLampV2) sign(block []byte, tx uint8, seed uint16) uint16 {
	key := []byte{uint8(seed), uint8(seed >> 8), tx, 0x0D, 0xBF, 0xE6, 0x42, 0x68, 0x41, 0x99, 0x2D, 0x0F, 0xB0, 0x54, 0xBB, 0x16}
	if s := codec.AESSign16(key, block); s != 0 {
		return s
	}
	return 0xFFFF
}

func (c *fanLampV2) Decrypt(buf []byte) ([]byte, error) {
	n := len(buf)
	seed := binary.LittleEndian.Uint16(buf[n-4 : n-2])
	if err := codec.ExpectEq("CRC", int(codec.CRC16CCITT(buf[:n-2], seed^0xFFFF)), int(binary.LittleEndian.Uint16(buf[n-2:]))); err != nil {
		return nil, err
	}
	base := slices.Concat(buf[0:2], c.whiten(buf[2:n-5], uint8(seed)))
	sign := binary.LittleEndian.Uint16(base[len(base)-2:])
	if c.withSign {
		if err := codec.ExpectEq("Sign", int(c.sign(base[1:17], base[3], seed)), int(sign)); err != nil {
			return nil, err
		}
	} else if err := codec.ExpectEq("NO Sign", 0, int(sign)); err != nil {
		return nil, err
	}
	return slices.Concat(base[:len(base)-2], buf[n-4:n-2]), nil
}

func (c *fanLampV2) Encrypt(dec []byte) []byte {
	n := len(dec)
	seed := binary.LittleEndian.Uint16(dec[n-2:])
	obuf := slices.Clone(dec[:n-2])
	var sign uint16
	if c.withSign {
		sign = c.sign(obuf[1:17], obuf[3], seed)
	}
	obuf = binary.LittleEndian.AppendUint16(obuf, sign)
	obuf = append(obuf, 0)
	out := slices.Concat(obuf[0:2], c.whiten(obuf[2:], uint8(seed)))
	out = binary.LittleEndian.AppendUint16(out, seed)
	return binary.LittleEndian.AppendUint16(out, codec.CRC16CCITT(out, seed^0xFFFF))
}

func (c *fanLampV2) ToEnc(d []byte) (codec.EncoderCommand, codec.DeviceConfig, error) {
	if err := codec.ExpectEq("Device Type", int(c.deviceType), int(binary.LittleEndian.Uint16(d[1:3]))); err != nil {
		return reject(err)
	}
	conf := codec.DeviceConfig{
		Seed:    binary.LittleEndian.Uint16(d[len(d)-2:]),
		TxCount: uint16(d[0]),
		ID:      binary.LittleEndian.Uint32(d[3:7]),
		Index:   d[7],
	}
	cmd := codec.EncoderCommand{Cmd: d[8], Param: d[10], Arg0: d[11], Arg1: d[12], Arg2: d[13]}
	return cmd, conf, nil
}

func (c *fanLampV2) FromEnc(cmd codec.EncoderCommand, conf codec.DeviceConfig) []byte {
	seed := conf.Seed
	if seed == 0 {
		seed = uint16(codec.RandomSeed(1, 0xFFF5))
	}
	buf := []byte{uint8(conf.TxCount)}
	buf = binary.LittleEndian.AppendUint16(buf, c.deviceType)
	buf = binary.LittleEndian.AppendUint32(buf, conf.ID)
	buf = append(buf, conf.Index, cmd.Cmd, 0, cmd.Param, cmd.Arg0, cmd.Arg1, cmd.Arg2)
	return binary.LittleEndian.AppendUint16(buf, seed)
}

func fanLampFanTranslators() []*codec.Translator {
	return []*codec.Translator{
		codec.Trans(codec.Fan(0).ActEq(codec.AttrDir, true), codec.Enc(0x15).Eq(codec.FieldArg0, 0)),
		codec.Trans(codec.Fan(0).ActEq(codec.AttrDir, false), codec.Enc(0x15).Eq(codec.FieldArg0, 1)),
		codec.Trans(codec.Fan(0).ActEq(codec.AttrOsc, true), codec.Enc(0x16).Eq(codec.FieldArg0, 1)),
		codec.Trans(codec.Fan(0).ActEq(codec.AttrOsc, false), codec.Enc(0x16).Eq(codec.FieldArg0, 0)),
		codec.Trans(codec.Fan(0).ActEq(codec.AttrPreset, codec.PresetSleep), codec.Enc(0x33).Eq(codec.FieldArg0, 1)),
		codec.Trans(codec.Fan(0).ActEq(codec.AttrPreset, codec.PresetBreeze), codec.Enc(0x33).Eq(codec.FieldArg0, 2)),
	}
}

func fanLampDeviceTranslators() []*codec.Translator {
	return []*codec.Translator{
		codec.Trans(codec.Device().ActEq(codec.AttrCmd, codec.CmdPair), codec.Enc(0x28)),
		codec.Trans(codec.Device().ActEq(codec.AttrCmd, codec.CmdUnpair), codec.Enc(0x45)),
		codec.Trans(codec.Device().ActEq(codec.AttrOn, false), codec.Enc(0x6F)).NoDirect(),
	}
}

// fanLampLightTranslators differ between v1 and v2 only by the fields
// carrying the cold/warm levels and the sub command.
func fanLampLightTranslators(param, cold, warm codec.Field) []*codec.Translator {
	step := func(cmd string, sub uint8) *codec.Translator {
		return codec.Trans(
			codec.CTLight(0).ActEq(codec.AttrCmd, cmd).Eq(codec.AttrStep, 0.1),
			codec.Enc(0x21).Eq(param, sub),
		).NoDirect()
	}
	return []*codec.Translator{
		codec.Trans(codec.Light(0).ActEq(codec.AttrOn, true), codec.Enc(0x10)),
		codec.Trans(codec.Light(0).ActEq(codec.AttrOn, false), codec.Enc(0x11)),
		codec.Trans(codec.Light(1).ActEq(codec.AttrOn, true), codec.Enc(0x12)),
		codec.Trans(codec.Light(1).ActEq(codec.AttrOn, false), codec.Enc(0x13)),
		codec.Trans(codec.CTLight(0).Act(codec.AttrCold).Act(codec.AttrWarm), codec.Enc(0x21).Eq(param, 0)).
			Copy(codec.AttrCold, cold, 255).
			Copy(codec.AttrWarm, warm, 255),
		codec.Trans(codec.Light(0).ActEq(codec.AttrCmd, codec.CmdToggle), codec.Enc(0x09)).NoDirect(),
		// night mode
		codec.Trans(codec.CTLight(0).ActEq(codec.AttrCold, 0.1).ActEq(codec.AttrWarm, 0.1), codec.Enc(0x23)).NoDirect(),
		codec.Trans(codec.CTLight(0).Act(codec.AttrCold).Act(codec.AttrWarm), codec.Enc(0x21).Eq(param, 0x40)).
			Copy(codec.AttrCold, cold, 255).
			Copy(codec.AttrWarm, warm, 255).
			NoDirect(),
		step(codec.CmdCTUp, 0x18),
		step(codec.CmdCTDown, 0x24),
		step(codec.CmdBrUp, 0x14),
		step(codec.CmdBrDown, 0x28),
	}
}

func fanLampRGBTranslators() []*codec.Translator {
	return []*codec.Translator{
		codec.Trans(codec.RGBLight(1).Act(codec.AttrRedF).Act(codec.AttrGreenF).Act(codec.AttrBlueF), codec.Enc(0x22)).
			Copy(codec.AttrRedF, codec.FieldArg0, 255).
			Copy(codec.AttrGreenF, codec.FieldArg1, 255).
			Copy(codec.AttrBlueF, codec.FieldArg2, 255),
		codec.Trans(codec.RGBLight(1).ActEq(codec.AttrCmd, codec.CmdBrUp).Eq(codec.AttrStep, 0.1), codec.Enc(0x22).Eq(codec.FieldArg0, 0x14)).NoDirect(),
		codec.Trans(codec.RGBLight(1).ActEq(codec.AttrCmd, codec.CmdBrDown).Eq(codec.AttrStep, 0.1), codec.Enc(0x22).Eq(codec.FieldArg0, 0x28)).NoDirect(),
		codec.Trans(codec.RGBLight(1).ActEq(codec.AttrEffect, codec.EffectRGB), codec.Enc(0x1E)),
		codec.Trans(codec.RGBLight(1).Act(codec.AttrEffect).Eq(codec.AttrEffect, nil), codec.Enc(0x1F)),
	}
}

func fanLampV1Translators() []*codec.Translator {
	return slices.Concat(
		fanLampLightTranslators(codec.FieldParam, codec.FieldArg0, codec.FieldArg1),
		fanLampRGBTranslators(),
		[]*codec.Translator{
			codec.Trans(codec.Fan(0).ActEq(codec.AttrOn, false), codec.Enc(0x31).Eq(codec.FieldArg1, 0).Eq(codec.FieldArg0, 0)),
			codec.Trans(codec.Fan6Speed(0).ActEq(codec.AttrOn, true).Act(codec.AttrSpeed), codec.Enc(0x32).Eq(codec.FieldArg1, 6).Min(codec.FieldArg0, 1)).
				Copy(codec.AttrSpeed, codec.FieldArg0, 1),
			codec.Trans(codec.Fan3Speed(0).ActEq(codec.AttrOn, true).Act(codec.AttrSpeed), codec.Enc(0x31).Eq(codec.FieldArg1, 0).Min(codec.FieldArg0, 1)).
				Copy(codec.AttrSpeed, codec.FieldArg0, 1),
		},
		fanLampFanTranslators(),
		fanLampDeviceTranslators(),
		[]*codec.Translator{
			codec.Trans(codec.Device().ActEq(codec.AttrCmd, codec.CmdTimer), codec.Enc(0x51)).
				Copy(codec.AttrTime, codec.FieldArg0, 1.0/60.0),
		},
	)
}

func fanLampV2Translators() []*codec.Translator {
	return slices.Concat(
		fanLampLightTranslators(codec.FieldArg0, codec.FieldArg1, codec.FieldArg2),
		fanLampRGBTranslators(),
		[]*codec.Translator{
			codec.Trans(codec.Fan6Speed(0).ActEq(codec.AttrOn, false), codec.Enc(0x31).Eq(codec.FieldArg0, 0x20).Eq(codec.FieldArg1, 0)),
			codec.Trans(codec.Fan6Speed(0).ActEq(codec.AttrOn, true).Act(codec.AttrSpeed), codec.Enc(0x31).Eq(codec.FieldArg0, 0x20).Min(codec.FieldArg1, 1)).
				Copy(codec.AttrSpeed, codec.FieldArg1, 1),
			codec.Trans(codec.Fan3Speed(0).ActEq(codec.AttrOn, false), codec.Enc(0x31).Eq(codec.FieldArg0, 0).Eq(codec.FieldArg1, 0)),
			codec.Trans(codec.Fan3Speed(0).ActEq(codec.AttrOn, true).Act(codec.AttrSpeed), codec.Enc(0x31).Eq(codec.FieldArg0, 0).Min(codec.FieldArg1, 1)).
				Copy(codec.AttrSpeed, codec.FieldArg1, 1),
		},
		fanLampFanTranslators(),
		fanLampDeviceTranslators(),
		[]*codec.Translator{
			codec.Trans(codec.Device().ActEq(codec.AttrCmd, codec.CmdTimer), codec.Enc(0x41)).
				SplitCopy(codec.AttrTime, []codec.Field{codec.FieldArg0, codec.FieldArg1}, 1.0/60.0, 256),
		},
	)
}

func fanLampV1Codec(logger *logrus.Logger, id string, header []byte, adFlag, bleType byte, cipher *fanLampV1) codec.Codec {
	return codec.New(cipher,
		codec.WithID(id, ""),
		codec.WithHeader(header...),
		codec.WithPrefix(cipher.prefix...),
		codec.WithBLE(adFlag, bleType),
		codec.WithTranslators(fanLampV1Translators()...),
		codec.WithLogger(logger),
	)
}

func fanLampV2Codec(logger *logrus.Logger, id, sub string, deviceType uint16, withSign bool, prefix []byte, adFlag, bleType byte) codec.Codec {
	return codec.New(newFanLampV2(deviceType, withSign, prefix),
		codec.WithID(id, sub),
		codec.WithHeader(0xF0, 0x08),
		codec.WithPrefix(prefix...),
		codec.WithBLE(adFlag, bleType),
		codec.WithTranslators(fanLampV2Translators()...),
		codec.WithLogger(logger),
	)
}

// fanLampV3Variants builds the four sub variants selected by the second prefix byte.
func fanLampV3Variants(logger *logrus.Logger, id string, deviceType uint16, first byte) []codec.Codec {
	out := make([]codec.Codec, 0, 4)
	for i, sub := range []string{"", "s1", "s2", "s3"} {
		out = append(out, fanLampV2Codec(logger, id, sub, deviceType, true, []byte{first, 0x80 + byte(i), 0x00}, 0x19, 0x03))
	}
	return out
}

func fanLampCodecs(logger *logrus.Logger) []codec.Codec {
	headerV1 := []byte{0x77, 0xF8}
	headerVi1 := []byte{0xF9, 0x08}
	remotePrefix := []byte{0x10, 0x00, 0x56}
	appPrefix := []byte{0x10, 0x80, 0x00}

	return slices.Concat(
		// FanLamp Pro
		[]codec.Codec{
			fanLampV1Codec(logger, "fanlamp_pro_v1", headerV1, 0x19, 0x03, newFanLampV1(0x83, false, false, 0, 0)),
			fanLampV2Codec(logger, "fanlamp_pro_v2", "", 0x0400, false, appPrefix, 0x19, 0x03),
		},
		fanLampV3Variants(logger, "fanlamp_pro_v3", 0x0400, 0x20),
		fanLampV3Variants(logger, "fanlamp_pro_vi3", 0x0400, 0x30),
		// LampSmart Pro
		[]codec.Codec{
			fanLampV1Codec(logger, "lampsmart_pro_v1", headerV1, 0x19, 0x03, newFanLampV1(0x81, true, false, 0, 0)),
			fanLampV2Codec(logger, "lampsmart_pro_v2", "", 0x0100, false, appPrefix, 0x19, 0x03),
		},
		fanLampV3Variants(logger, "lampsmart_pro_v3", 0x0100, 0x30),
		[]codec.Codec{
			fanLampV1Codec(logger, "lampsmart_pro_vi1", headerVi1, 0x19, 0x03, newFanLampV1(0x81, true, false, 0x55, 0)),
		},
		fanLampV3Variants(logger, "lampsmart_pro_vi3", 0x0100, 0x21),
		// physical remotes
		[]codec.Codec{
			fanLampV1Codec(logger, "remote_v1", []byte{0x56, 0x55, 0x18, 0x87, 0x52}, 0x00, 0xFF, newFanLampV1(0x83, false, true, 0, 0x9372)),
			fanLampV2Codec(logger, "remote_v2", "", 0x0400, false, remotePrefix, 0x02, 0x16),
			fanLampV2Codec(logger, "remote_v21", "", 0x0100, false, remotePrefix, 0x02, 0x16),
			fanLampV2Codec(logger, "remote_v3", "", 0x0400, true, remotePrefix, 0x02, 0x16),
			fanLampV2Codec(logger, "remote_v31", "", 0x0100, true, remotePrefix, 0x02, 0x16),
		},
		// legacy variants still used by some remotes
		[]codec.Codec{
			fanLampV1Codec(logger, "other_v1b", headerVi1, 0x02, 0x16, newFanLampV1(0x81, true, true, 0x55, 0)),
			fanLampV1Codec(logger, "other_v1a", headerV1, 0x02, 0x03, newFanLampV1(0x81, true, true, 0, 0)),
			fanLampV2Codec(logger, "other_v2", "", 0x0100, false, appPrefix, 0x19, 0x16),
			fanLampV2Codec(logger, "other_v3", "", 0x0100, true, appPrefix, 0x19, 0x16),
		},
	)
}
