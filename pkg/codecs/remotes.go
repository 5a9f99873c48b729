package codecs

import (
	"encoding/binary"
	"slices"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleadv/pkg/codec"
)

// remoteCipher is the clear layout of generic physical remotes.
type remoteCipher struct{}

func (remoteCipher) Len() int { return 8 }

func (remoteCipher) Decrypt(buf []byte) ([]byte, error) {
	n := len(buf)
	if err := codec.ExpectEq("Checksum", int(codec.Sum8(buf[:n-1])), int(buf[n-1])); err != nil {
		return nil, err
	}
	return buf, nil
}

func (remoteCipher) Encrypt(buf []byte) []byte {
	return append(slices.Clone(buf), codec.Sum8(buf))
}

func (remoteCipher) ToEnc(d []byte) (codec.EncoderCommand, codec.DeviceConfig, error) {
	conf := codec.DeviceConfig{
		TxCount: uint16(d[6]),
		ID:      binary.LittleEndian.Uint32(d[1:5]),
	}
	return codec.EncoderCommand{Cmd: d[5] & 0x3F, Arg0: d[0], Arg1: d[5] & 0xC0}, conf, nil
}

func (remoteCipher) FromEnc(cmd codec.EncoderCommand, conf codec.DeviceConfig) []byte {
	out := binary.LittleEndian.AppendUint32([]byte{cmd.Arg0}, conf.ID)
	return append(out, cmd.Cmd|cmd.Arg1, uint8(conf.TxCount))
}

func remoteTranslators() []*codec.Translator {
	step := func(cmd string, opcode uint8) *codec.Translator {
		return codec.Trans(codec.CTLight(0).ActEq(codec.AttrCmd, cmd), codec.Enc(opcode)).Copy(codec.AttrStep, codec.FieldArg0, 10).NoDirect()
	}
	return []*codec.Translator{
		codec.Trans(codec.Light(0).ActEq(codec.AttrOn, true), codec.Enc(0x08)),
		codec.Trans(codec.Light(0).ActEq(codec.AttrOn, false), codec.Enc(0x06)),
		codec.Trans(codec.Light(1).ActEq(codec.AttrCmd, codec.CmdToggle), codec.Enc(0x13)).NoDirect(),
		codec.Trans(codec.CTLight(0).ActEq(codec.AttrCold, 0.1).ActEq(codec.AttrWarm, 0.1), codec.Enc(0x10)).NoDirect(),
		step(codec.CmdCTUp, 0x02),
		step(codec.CmdCTDown, 0x03),
		step(codec.CmdBrUp, 0x0A),
		step(codec.CmdBrDown, 0x0B),
	}
}

func remoteCodecs(logger *logrus.Logger) []codec.Codec {
	return []codec.Codec{
		codec.New(remoteCipher{},
			codec.WithID("remote_v4", ""),
			codec.WithHeader(0xF0, 0xFF),
			codec.WithBLE(0x1A, 0xFF),
			codec.WithTranslators(remoteTranslators()...),
			codec.WithLogger(logger),
		),
	}
}
