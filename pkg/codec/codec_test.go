package codec_test

import (
	"fmt"
	"testing"

	"github.com/srg/bleadv/pkg/codec"
	"github.com/stretchr/testify/suite"
)

// plainCipher carries id, index, tx and the command bytes without obfuscation.
type plainCipher struct{}

func (plainCipher) Len() int { return 7 }

func (plainCipher) Decrypt(buf []byte) ([]byte, error) {
	if err := codec.ExpectEq("Checksum", int(codec.Sum8(buf[:len(buf)-1])), int(buf[len(buf)-1])); err != nil {
		return nil, err
	}
	return buf[:len(buf)-1], nil
}

func (plainCipher) Encrypt(buf []byte) []byte {
	return append(buf, codec.Sum8(buf))
}

func (plainCipher) ToEnc(decoded []byte) (codec.EncoderCommand, codec.DeviceConfig, error) {
	return codec.EncoderCommand{Cmd: decoded[2], Arg0: decoded[3], Arg1: decoded[4]},
		codec.DeviceConfig{ID: uint32(decoded[0]), Index: decoded[1]}, nil
}

func (plainCipher) FromEnc(cmd codec.EncoderCommand, conf codec.DeviceConfig) []byte {
	return []byte{byte(conf.ID), conf.Index, cmd.Cmd, cmd.Arg0, cmd.Arg1}
}

// shiftedCipher is plainCipher with the payload length reduced by the
// bytes placed before the header.
type shiftedCipher struct {
	plainCipher
	shift int
}

func (c shiftedCipher) Len() int { return 6 - c.shift }

type CodecTestSuite struct {
	suite.Suite
	codec *codec.Base
}

func (suite *CodecTestSuite) SetupTest() {
	suite.codec = codec.New(plainCipher{},
		codec.WithID("plain", "s1"),
		codec.WithHeader(0xF0, 0x08),
		codec.WithPrefix(0xAA),
		codec.WithBLE(0x1A, 0xFF),
		codec.WithTranslators(
			codec.Trans(codec.Light(0).ActEq(codec.AttrOn, true), codec.Enc(0x10)),
			codec.Trans(codec.Light(0).ActEq(codec.AttrOn, false), codec.Enc(0x11)),
			codec.Trans(codec.CTLight(0).Act(codec.AttrBr), codec.Enc(0x20)).
				SplitCopy(codec.AttrBr, []codec.Field{codec.FieldArg1, codec.FieldArg0}, 1000, 256),
			codec.Trans(codec.Fan3Speed(0).ActEq(codec.AttrOn, true).Act(codec.AttrSpeed), codec.Enc(0x31).Min(codec.FieldArg0, 1)).
				Copy(codec.AttrSpeed, codec.FieldArg0, 1),
		),
		codec.WithReverseOnly(
			codec.Trans(codec.Light(0).ActEq(codec.AttrCmd, codec.CmdToggle), codec.Enc(0x09)),
		),
	)
}

func (suite *CodecTestSuite) TestIDs() {
	suite.Equal("plain/s1", suite.codec.ID())
	suite.Equal("plain", suite.codec.MatchID())

	fid := codec.New(plainCipher{}, codec.WithFID("remote_vr1", "remote_v1"))
	suite.Equal("remote_vr1", fid.ID())
	suite.Equal("remote_v1", fid.MatchID())
}

func (suite *CodecTestSuite) TestEncodeDecodeRoundTrip() {
	cmd := codec.EncoderCommand{Cmd: 0x10, Arg0: 3, Arg1: 4}
	conf := codec.DeviceConfig{ID: 0x42, Index: 1}

	advs, err := suite.codec.EncodeAdvs(cmd, conf)
	suite.Require().NoError(err)
	suite.Require().Len(advs, 1)
	suite.Equal([]byte{0xF0, 0x08, 0xAA, 0x42, 0x01, 0x10, 0x03, 0x04, 0x04}, advs[0].Raw)
	suite.Equal(byte(0x1A), advs[0].Flag)

	gotCmd, gotConf, ok := suite.codec.DecodeAdv(advs[0])
	suite.Require().True(ok)
	suite.Equal(cmd, gotCmd)
	suite.Equal(conf, gotConf)
}

func (suite *CodecTestSuite) TestDecodeRejections() {
	good, err := suite.codec.EncodeAdv(codec.EncoderCommand{Cmd: 0x11}, codec.DeviceConfig{ID: 1})
	suite.Require().NoError(err)

	mutate := func(fn func(adv *codec.Advertisement)) codec.Advertisement {
		adv := codec.Advertisement{Type: good.Type, Raw: append([]byte(nil), good.Raw...)}
		fn(&adv)
		return adv
	}

	cases := map[string]codec.Advertisement{
		"wrong type":     mutate(func(a *codec.Advertisement) { a.Type = 0x16 }),
		"wrong length":   mutate(func(a *codec.Advertisement) { a.Raw = a.Raw[:len(a.Raw)-1] }),
		"wrong header":   mutate(func(a *codec.Advertisement) { a.Raw[1] = 0x09 }),
		"wrong checksum": mutate(func(a *codec.Advertisement) { a.Raw[len(a.Raw)-1]++ }),
		"wrong prefix": mutate(func(a *codec.Advertisement) {
			a.Raw[2] = 0xAB
			a.Raw[len(a.Raw)-1]++
		}),
	}
	for name, adv := range cases {
		suite.Run(name, func() {
			_, _, ok := suite.codec.DecodeAdv(adv)
			suite.False(ok)
		})
	}
}

func (suite *CodecTestSuite) TestHeaderAtAndFooter() {
	c := codec.New(shiftedCipher{shift: 2},
		codec.WithID("shifted", ""),
		codec.WithHeaderAt(2, 0x48, 0x46),
		codec.WithFooter(0x10, 0x11),
		codec.WithBLE(0, 0x03),
	)
	adv, err := c.EncodeAdv(codec.EncoderCommand{Cmd: 0x20, Arg0: 1}, codec.DeviceConfig{ID: 9, Index: 2})
	suite.Require().NoError(err)
	suite.Equal([]byte{0x09, 0x02, 0x48, 0x46, 0x20, 0x01, 0x00, 0x2C, 0x10, 0x11}, adv.Raw)

	cmd, conf, ok := c.DecodeAdv(adv)
	suite.Require().True(ok)
	suite.Equal(uint8(0x20), cmd.Cmd)
	suite.Equal(uint32(9), conf.ID)
	suite.Equal(uint8(2), conf.Index)
}

func (suite *CodecTestSuite) TestEntToEnc() {
	suite.Run("on/off", func() {
		cmds := suite.codec.EntToEnc(codec.EntityAttrs{
			Changed:  []string{codec.AttrOn},
			Attrs:    map[string]any{codec.AttrOn: true, codec.AttrSubType: codec.LightTypeCWW},
			BaseType: codec.LightType,
		})
		suite.Equal([]codec.EncoderCommand{{Cmd: 0x10}}, cmds)
	})

	suite.Run("split copy least significant first", func() {
		cmds := suite.codec.EntToEnc(codec.EntityAttrs{
			Changed:  []string{codec.AttrBr},
			Attrs:    map[string]any{codec.AttrBr: 0.5, codec.AttrSubType: codec.LightTypeCWW},
			BaseType: codec.LightType,
		})
		suite.Equal([]codec.EncoderCommand{{Cmd: 0x20, Arg1: 500 % 256, Arg0: 500 / 256}}, cmds)
	})

	suite.Run("enforced sub type", func() {
		cmds := suite.codec.EntToEnc(codec.EntityAttrs{
			Changed:  []string{codec.AttrBr},
			Attrs:    map[string]any{codec.AttrBr: 0.5, codec.AttrSubType: codec.LightTypeRGB},
			BaseType: codec.LightType,
		})
		suite.Empty(cmds)
	})

	suite.Run("wrong index", func() {
		cmds := suite.codec.EntToEnc(codec.EntityAttrs{
			Changed:  []string{codec.AttrOn},
			Attrs:    map[string]any{codec.AttrOn: true},
			BaseType: codec.LightType,
			Index:    1,
		})
		suite.Empty(cmds)
	})

	suite.Run("no action changed", func() {
		cmds := suite.codec.EntToEnc(codec.EntityAttrs{
			Changed:  []string{codec.AttrBr},
			Attrs:    map[string]any{codec.AttrOn: true},
			BaseType: codec.LightType,
		})
		suite.Empty(cmds)
	})

	suite.Run("reverse only translator is skipped", func() {
		cmds := suite.codec.EntToEnc(codec.EntityAttrs{
			Changed:  []string{codec.AttrCmd},
			Attrs:    map[string]any{codec.AttrCmd: codec.CmdToggle},
			BaseType: codec.LightType,
		})
		suite.Empty(cmds)
	})
}

func (suite *CodecTestSuite) TestEncToEnt() {
	suite.Run("split copy sums in reverse order", func() {
		ents := suite.codec.EncToEnt(codec.EncoderCommand{Cmd: 0x20, Arg1: 244, Arg0: 1})
		suite.Require().Len(ents, 1)
		suite.Equal([]string{codec.AttrBr}, ents[0].Changed)
		suite.InDelta(0.5, ents[0].Float(codec.AttrBr), 1e-9)
		suite.Equal(codec.LightTypeCWW, ents[0].Get(codec.AttrSubType))
	})

	suite.Run("min constraint", func() {
		suite.Empty(suite.codec.EncToEnt(codec.EncoderCommand{Cmd: 0x31, Arg0: 0}))
		ents := suite.codec.EncToEnt(codec.EncoderCommand{Cmd: 0x31, Arg0: 2})
		suite.Require().Len(ents, 1)
		suite.Equal(2.0, ents[0].Float(codec.AttrSpeed))
		suite.Equal(true, ents[0].Get(codec.AttrOn))
	})

	suite.Run("reverse only translator", func() {
		ents := suite.codec.EncToEnt(codec.EncoderCommand{Cmd: 0x09})
		suite.Require().Len(ents, 1)
		suite.Equal(codec.CmdToggle, ents[0].Get(codec.AttrCmd))
	})

	suite.Run("unknown opcode", func() {
		suite.Empty(suite.codec.EncToEnt(codec.EncoderCommand{Cmd: 0x77}))
	})
}

func (suite *CodecTestSuite) TestTranslatorBijection() {
	for _, tr := range suite.codec.Translators() {
		suite.Run(tr.String(), func() {
			if !tr.MatchesEnc(tr.Enc.Create()) {
				return
			}
			ent := tr.EncToEnt(tr.Enc.Create())
			if !tr.MatchesEnt(ent) {
				return
			}
			suite.Equal(tr.Enc.Create(), tr.EntToEnc(ent))
		})
	}
}

func (suite *CodecTestSuite) TestSupportedFeatures() {
	lights := suite.codec.SupportedFeatures(codec.LightType)
	suite.Require().Len(lights, 3)
	suite.ElementsMatch([]any{codec.LightTypeOnOff, codec.LightTypeCWW}, lights[0][codec.AttrSubType])
	suite.Nil(lights[1])

	fans := suite.codec.SupportedFeatures(codec.FanType)
	suite.Equal([]any{codec.FanType3Speed}, fans[0][codec.AttrSubType])
}

func (suite *CodecTestSuite) TestNextTxWraps() {
	conf := codec.DeviceConfig{TxCount: 0xFE}
	suite.codec.NextTx(&conf)
	suite.Equal(uint16(0xFF), conf.TxCount)
	suite.codec.NextTx(&conf)
	suite.Equal(uint16(0), conf.TxCount)

	wide := codec.New(plainCipher{}, codec.WithTx(2, 0x0FFF))
	conf = codec.DeviceConfig{TxCount: 0x0FFF}
	wide.NextTx(&conf)
	suite.Equal(uint16(1), conf.TxCount)
}

func (suite *CodecTestSuite) TestDefaults() {
	suite.Equal(codec.DefaultTx, suite.codec.Defaults())
	suite.Equal(9, codec.DefaultTx.Repeat)
}

func (suite *CodecTestSuite) TestMismatchError() {
	err := codec.ExpectEq("CRC", 0x1234, 0x1235)
	suite.ErrorIs(err, codec.ErrNoMatch)
	suite.Equal("'CRC' differs - expected: 0x1234, received: 0x1235", err.Error())
	suite.NoError(codec.ExpectPrefix("Header", []byte{1, 2}, []byte{1, 2, 3}))
	suite.Error(codec.ExpectPrefix("Header", []byte{1, 2}, []byte{1}))
	suite.Equal("cmd: 0x10, param: 0x00, args: [1,2,3,0,0]", fmt.Sprint(codec.EncoderCommand{Cmd: 0x10, Arg0: 1, Arg1: 2, Arg2: 3}))
}

func TestCodecTestSuite(t *testing.T) {
	suite.Run(t, new(CodecTestSuite))
}
