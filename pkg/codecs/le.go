package codecs

import (
	"encoding/binary"
	"slices"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleadv/pkg/codec"
)

var leXBoxes = [16]byte{0xCB, 0x6A, 0x95, 0x8D, 0xB6, 0x7B, 0x35, 0x5A, 0x6E, 0x49, 0x5C, 0x85, 0x37, 0x3C, 0xA6, 0x88}

// leCipher frames a variable length command: data length, 0x01, data,
// checksum, zero padding up to the fixed payload length.
type leCipher struct{}

const leLen = 21

func leChecksum(buf []byte) byte {
	return (codec.Sum8(buf) + 1) ^ 0xFF
}

func (leCipher) Len() int { return leLen }

func (leCipher) Decrypt(buf []byte) ([]byte, error) {
	dataLen := int(buf[0])
	zeroLen := leLen - dataLen - 1
	if zeroLen < 0 || dataLen < 6 {
		return nil, &codec.MismatchError{What: "Data length", Want: "6 to 20", Got: codec.Hex(buf[:1])}
	}
	err := expect(
		codec.ExpectEq("1 is 1", 0x01, int(buf[1])),
		codec.ExpectPrefix("Zero at end", zeros(zeroLen), buf[len(buf)-zeroLen:]),
	)
	if err != nil {
		return nil, err
	}
	base := slices.Concat(buf[2:6], xorAll(buf[6:dataLen+1], leXBoxes[buf[2]&15]))
	n := len(base)
	err = expect(
		codec.ExpectEq("4 is FE", 0xFE, int(base[4])),
		codec.ExpectEq("Checksum", int(leChecksum(base[:n-1])), int(base[n-1])),
	)
	if err != nil {
		return nil, err
	}
	return base[:n-1], nil
}

func (leCipher) Encrypt(buf []byte) []byte {
	data := slices.Concat([]byte{uint8(len(buf) + 2), 0x01}, buf, []byte{leChecksum(buf)})
	return slices.Concat(data[:6], xorAll(data[6:], leXBoxes[data[2]&15]), zeros(leLen-len(data)))
}

func (leCipher) ToEnc(d []byte) (codec.EncoderCommand, codec.DeviceConfig, error) {
	if len(d) < 9 {
		return reject(&codec.MismatchError{What: "Decoded length", Want: "9", Got: codec.Hex(d)})
	}
	conf := codec.DeviceConfig{
		ID:      binary.LittleEndian.Uint32(d[:4]),
		Index:   d[5],
		TxCount: uint16(d[6]),
	}
	// param holds the number of arguments
	cmd := codec.EncoderCommand{Cmd: d[7], Param: d[8]}
	args := []*uint8{&cmd.Arg0, &cmd.Arg1, &cmd.Arg2}
	for i := 0; i < int(cmd.Param) && i < len(args); i++ {
		if 9+i >= len(d) {
			return reject(&codec.MismatchError{What: "Argument count", Want: codec.Hex(d[8:9]), Got: codec.Hex(d[9:])})
		}
		*args[i] = d[9+i]
	}
	return cmd, conf, nil
}

func (leCipher) FromEnc(cmd codec.EncoderCommand, conf codec.DeviceConfig) []byte {
	out := binary.LittleEndian.AppendUint32(nil, conf.ID)
	out = append(out, 0xFE, conf.Index, uint8(conf.TxCount), cmd.Cmd)
	args := []byte{cmd.Param, cmd.Arg0, cmd.Arg1, cmd.Arg2}
	return append(out, args[:min(int(cmd.Param)+1, len(args))]...)
}

func leTranslators() []*codec.Translator {
	fan := func(arg0 uint8) *codec.EncoderMatcher {
		return codec.Enc(0x21).Eq(codec.FieldParam, 1).Eq(codec.FieldArg0, arg0)
	}
	return []*codec.Translator{
		codec.Trans(codec.Fan(0).ActEq(codec.AttrOn, false), fan(0)),
		codec.Trans(codec.Fan3Speed(0).ActEq(codec.AttrOn, true).ActEq(codec.AttrSpeed, 1), fan(1)),
		codec.Trans(codec.Fan3Speed(0).ActEq(codec.AttrOn, true).ActEq(codec.AttrSpeed, 2), fan(2)),
		codec.Trans(codec.Fan3Speed(0).ActEq(codec.AttrOn, true).ActEq(codec.AttrSpeed, 3), fan(3)),
		codec.Trans(codec.Fan3Speed(0).ActEq(codec.AttrDir, true), fan(128)),
		codec.Trans(codec.Fan3Speed(0).ActEq(codec.AttrDir, false), fan(129)),
		codec.Trans(codec.Device().ActEq(codec.AttrCmd, codec.CmdTimer), codec.Enc(0x22).Eq(codec.FieldParam, 3).Eq(codec.FieldArg0, 0)).
			NoDirect().
			Copy(codec.AttrTime, codec.FieldArg1, 7.0/1800.0).
			Copy(codec.AttrTime, codec.FieldArg2, 8.0/1800.0),
		codec.Trans(codec.Light(0).ActEq(codec.AttrOn, true), codec.Enc(0x00).Eq(codec.FieldParam, 1).Eq(codec.FieldArg0, 1)),
		codec.Trans(codec.Light(0).ActEq(codec.AttrOn, false), codec.Enc(0x01).Eq(codec.FieldParam, 1).Eq(codec.FieldArg0, 1)),
		codec.Trans(codec.CTLight(0).Act(codec.AttrBr), codec.Enc(0x08).Eq(codec.FieldParam, 2)).
			SplitCopy(codec.AttrBr, []codec.Field{codec.FieldArg1, codec.FieldArg0}, 1000, 256),
		codec.Trans(codec.CTLight(0).Act(codec.AttrCT).Max(codec.AttrCT, 0.5), codec.Enc(0x0D).Eq(codec.FieldParam, 2).Eq(codec.FieldArg0, 128)).
			Copy(codec.AttrCT, codec.FieldArg1, 256),
		codec.Trans(codec.CTLight(0).Act(codec.AttrCTRev).Max(codec.AttrCTRev, 0.4999999999),
			codec.Enc(0x0D).Eq(codec.FieldParam, 2).Eq(codec.FieldArg1, 128).Max(codec.FieldArg0, 127)).
			Copy(codec.AttrCTRev, codec.FieldArg0, 256),
		codec.Trans(codec.CTLight(0).ActEq(codec.AttrBr, 0.1).ActEq(codec.AttrCT, 0.1),
			codec.Enc(0x12).Eq(codec.FieldParam, 2).Eq(codec.FieldArg0, 0).Eq(codec.FieldArg1, 5)).NoDirect(),
		codec.Trans(codec.RGBLight(1).Act(codec.AttrRedF).Act(codec.AttrGreenF).Act(codec.AttrBlueF), codec.Enc(0x16).Eq(codec.FieldParam, 3)).
			Copy(codec.AttrRedF, codec.FieldArg0, 255).
			Copy(codec.AttrGreenF, codec.FieldArg1, 255).
			Copy(codec.AttrBlueF, codec.FieldArg2, 255),
	}
}

func leCodecs(logger *logrus.Logger) []codec.Codec {
	return []codec.Codec{
		codec.New(leCipher{},
			codec.WithID("lelight", ""),
			codec.WithHeader(0xFF, 0xFF, 0xFF, 0xFF),
			codec.WithBLE(0x1A, 0xFF),
			codec.WithTranslators(leTranslators()...),
			codec.WithLogger(logger),
		),
	}
}
