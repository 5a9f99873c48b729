package codecs_test

import (
	"fmt"
	"slices"
	"sort"
	"testing"

	"github.com/srg/bleadv/pkg/codec"
	"github.com/srg/bleadv/pkg/codecs"
	"github.com/stretchr/testify/suite"
)

type vector struct {
	codec   string
	bleType byte
	raw     string
	// other codecs allowed to decode the same advertisement
	aliases []string
}

var vectors = []vector{
	{"fanlamp_pro_v1", 0x03, "77F8B65F2B5E00FC315150FED208240A73FC0866F49014AFB4E5", nil},
	{"fanlamp_pro_v1", 0x03, "77F8B65F2B5E00FC3151CCFED24C2E0A33FC7E10F4E6C01C7B74", nil},
	{"fanlamp_pro_v1", 0x03, "77F8B65F2B5E00FC315150FED208240A3BFCD6B84A4E3120A93E", nil},
	{"fanlamp_pro_v2", 0x03, "F0081080B852E122C6F2D3A7677CA49F67F6B6A2228B532B016B", nil},
	{"fanlamp_pro_v3", 0x03, "F0082080B852E122C6F2D3A7677CA49F67F6B6B7418B532BE959", nil},
	{"fanlamp_pro_v3", 0x03, "F00820808A3F2F22B9F2DB03FCF868C1280C1DC36EDA19488861", nil},
	{"remote_v1", 0xFF, "5655188752B65F2B5E00FC315150509A08240AECFCA97B8E0D4A676057", nil},
	{"remote_v1", 0xFF, "5655188752B65F2B5E00FC315154509A08240A96FCF527DB51D3436057", nil},
	{"remote_v3", 0x16, "F00810005BB5CCF37BEBFCC84AF20A2E3FFC1805F7AD3BBD17A6", nil},
	{"other_v1b", 0x16, "F9084913F069254E3151BA32080A24CB3B7C71DC8BB89708D04C", nil},
	{"other_v1a", 0x03, "77F8B65F2B5E00FC315150CB920824CBBBFC14C69EB0E9EA73A4", nil},
	{"other_v2", 0x16, "F00810800B9BDACFBEB3DD563BE91CFC27A93AA5382D3FD46A50", nil},
	{"other_v3", 0x16, "F008108033BC2EB049EA5876C01D995E9CD6B80E6E142BA530A9", nil},
	{"zhijia_v0", 0xFF, "F9084989E4E1A23E6C950B58C9382807", nil},
	{"zhijia_v1", 0xFF, "F9084913E12B48C3334A85E5C5566096C4A02C89BB11769299AA", nil},
	{"zhijia_v2", 0xFF, "229DABCB5FCF2FFCF35F52EC4D85006E8799F24A5F85F69CA919", []string{"zhijia_v2_fl"}},
	{"zhijia_vr1", 0xFF, "F0FFCF5EECCFCCCF30EFCE6ACCCD67C9EC28C9", nil},
	{"zhiguang_v0", 0xFF, "F90849B2CE2C913F6D940AF2FB392567", nil},
	{"zhiguang_v1", 0xFF, "F90849E629AFD41738AC513311828D421076F8C478FCC846238E", nil},
	{"zhiguang_v2", 0xFF, "229D8D364BE90FDAD54079CA69A3BF5B95D5D44A5F85F69CA919", nil},
	{"remote_v4", 0xFF, "F0FF00558F2404086579", nil},
	{"zhimei_fan_v0", 0x03, "55020102C0B4AA665533", nil},
	{"zhimei_v2", 0x03, "F90849B2CE2C813B6B9008CEEF3D6FC810111213141516171819", nil},
	{"zhimei_v1b", 0xFF, "58551848464B4A1CAB1FB80EB7E17D988231A57E7EDB68101112131415", []string{"zhimei_fan_v1b", "zhimei_fan_vr1"}},
	{"zhimei_fan_v1", 0x03, "48464B4A8FD3A4499B446EEA23F5B6360FED8FDE101112131415", []string{"zhimei_v1"}},
	{"zhimei_v1", 0x03, "48464B4A1CAB1FB80EB7E17D988231A57E7EDB68101112131415", []string{"zhimei_fan_v1"}},
	{"agarce_v4", 0xFF, "F90904DD1045A5DC104FD4B59777AAD40146E153", nil},
	{"agarce_v4", 0xFF, "F90984D1044FB1C81C43C0A19B6ABEAC688AC709", nil},
	{"mantra_v0", 0xFF, "4E6F720E03930648F46EBE4EBB530B70BBAD6C67", nil},
	{"lelight", 0xFF, "FFFFFFFF0C015F74E38C76A9C4898989C60000000000000000", nil},
	{"ruixin_v0", 0xFF, "FFFF010203046972360E2434E97E2837D2292A2B2C2D2E2F300B", nil},
	{"ruixin_v0/r1", 0xFF, "00000052584B6972360EABAB1DBEADADC0B0B1B2BABCBEC6C885131415", nil},
	{"rwlight_mix", 0xFF, "DDB2DA6C9F017A34965ADCD5A6DBF7E8090371A774AE28E73764", nil},
	{"rwlight_mix/ios", 0x03, "DDB2DA6C9F017A34D668F12686E4C8270903718A747C280A8AD7", nil},
}

type CodecsTestSuite struct {
	suite.Suite
	registry *codecs.Registry
}

func (suite *CodecsTestSuite) SetupSuite() {
	suite.registry = codecs.NewRegistry(nil)
}

func (suite *CodecsTestSuite) adv(bleType byte, raw string) codec.Advertisement {
	data, err := codec.ParseHex(raw)
	suite.Require().NoError(err)
	return codec.Advertisement{Type: bleType, Raw: data}
}

func (suite *CodecsTestSuite) TestVectors() {
	for _, v := range vectors {
		suite.Run(v.codec+"/"+v.raw[:12], func() {
			c, err := suite.registry.Get(v.codec)
			suite.Require().NoError(err)
			adv := suite.adv(v.bleType, v.raw)

			cmd, conf, ok := c.DecodeAdv(adv)
			suite.Require().True(ok, "decode")

			advs, err := c.EncodeAdvs(cmd, conf)
			suite.Require().NoError(err)
			suite.Require().NotEmpty(advs)
			suite.True(adv.Equal(advs[0]), "re-encoded: %s", advs[0])

			// new identity, fresh seed
			conf.Seed = 0
			conf.ID++
			conf.Index++
			conf.TxCount = (conf.TxCount + 10) % 125
			advs, err = c.EncodeAdvs(cmd, conf)
			suite.Require().NoError(err)
			cmd2, conf2, ok := c.DecodeAdv(advs[0])
			suite.Require().True(ok, "decode of %s", advs[0])
			suite.Equal(cmd, cmd2)
			suite.Equal(conf.ID, conf2.ID)
			suite.Contains([]uint8{conf.Index, 0}, conf2.Index)
			suite.Contains([]uint16{conf.TxCount, 0}, conf2.TxCount)

			var others []string
			for _, d := range suite.registry.Decode(adv) {
				if id := d.Codec.ID(); id != v.codec && !slices.Contains(v.aliases, id) {
					others = append(others, id)
				}
			}
			suite.Empty(others, "ambiguous decode")
		})
	}
}

func (suite *CodecsTestSuite) TestFanLampProV1Example() {
	c, err := suite.registry.Get("fanlamp_pro_v1")
	suite.Require().NoError(err)

	cmd, conf, ok := c.DecodeAdv(suite.adv(0x03, "77F8B65F2B5E00FC315150FED208240A73FC0866F49014AFB4E5"))
	suite.Require().True(ok)
	suite.Equal(uint8(0x11), cmd.Cmd)
	suite.Equal(uint32(0x003D5022), conf.ID)
	suite.Equal(uint8(2), conf.Index)
	suite.Equal(uint16(18), conf.TxCount)
	suite.Equal(uint16(0x00A3), conf.Seed)
}

func (suite *CodecsTestSuite) TestFanLampProV2Example() {
	c, err := suite.registry.Get("fanlamp_pro_v2")
	suite.Require().NoError(err)

	cmd, conf, ok := c.DecodeAdv(suite.adv(0x03, "F0081080B852E122C6F2D3A7677CA49F67F6B6A2228B532B016B"))
	suite.Require().True(ok)
	suite.Equal(uint8(0x10), cmd.Cmd)
	suite.Equal(uint32(0xD2135C22), conf.ID)
	suite.Equal(uint8(2), conf.Index)
	suite.Equal(uint16(38), conf.TxCount)
	suite.Equal(uint16(0x2B53), conf.Seed)
}

func (suite *CodecsTestSuite) TestRejectsForeignPayloads() {
	cases := []struct {
		name string
		adv  codec.Advertisement
	}{
		{"empty", codec.Advertisement{Type: 0xFF}},
		{"zeros", codec.Advertisement{Type: 0xFF, Raw: make([]byte, 26)}},
		{"wrong type", suite.adv(0x16, "F9084989E4E1A23E6C950B58C9382807")},
		{"corrupted crc", suite.adv(0xFF, "F9084989E4E1A23E6C950B58C9382808")},
	}
	for _, tc := range cases {
		suite.Run(tc.name, func() {
			suite.Empty(suite.registry.Decode(tc.adv))
		})
	}
}

// Every translator usable in both directions maps its own entity back to
// an entity it matches.
func (suite *CodecsTestSuite) TestTranslatorsAreBijective() {
	type withTranslators interface {
		Translators() []*codec.Translator
	}
	for _, c := range suite.registry.All() {
		wt, ok := c.(withTranslators)
		suite.Require().True(ok, c.ID())
		for _, t := range wt.Translators() {
			ent := t.Ent.Create()
			if !t.MatchesEnt(ent) {
				continue
			}
			enc := t.EntToEnc(ent)
			if !t.MatchesEnc(enc) {
				continue
			}
			back := t.EncToEnt(enc)
			suite.True(t.Ent.Matches(back), "%s: %s", c.ID(), t)
			suite.NotEmpty(c.EncToEnt(enc), "%s: %s", c.ID(), t)
		}
	}
}

func (suite *CodecsTestSuite) TestRegistry() {
	ids := suite.registry.IDs()
	suite.Len(suite.registry.All(), len(ids))
	suite.Contains(ids, "fanlamp_pro_v3/s2")
	suite.Contains(ids, "ruixin_v0/r1")
	suite.NotContains(ids, "zhimei_fan_vr0")

	seen := map[string]bool{}
	for _, id := range ids {
		suite.False(seen[id], "duplicate %s", id)
		seen[id] = true
	}

	_, err := suite.registry.Get("nope")
	suite.ErrorIs(err, codecs.ErrUnknownCodec)

	c, err := suite.registry.Get("zhimei_fan_vr1")
	suite.Require().NoError(err)
	suite.Equal("zhimei_fan_v1", c.MatchID())

	c, err = suite.registry.Get("rwlight_mix/ios")
	suite.Require().NoError(err)
	suite.Equal("rwlight_mix", c.MatchID())
}

func (suite *CodecsTestSuite) TestPhoneApps() {
	names := codecs.PhoneAppNames()
	suite.True(sort.StringsAreSorted(names))
	suite.Len(names, len(codecs.PhoneApps))

	for _, app := range names {
		cs, err := suite.registry.AppCodecs(app)
		suite.Require().NoError(err, app)
		suite.Len(cs, len(codecs.PhoneApps[app]))
	}

	_, err := suite.registry.AppCodecs("Unknown App")
	suite.ErrorIs(err, codecs.ErrUnknownCodec)
}

func (suite *CodecsTestSuite) TestAgarceFanState() {
	c, err := suite.registry.Get("agarce_v4")
	suite.Require().NoError(err)

	ent := codec.EntityAttrs{
		BaseType: codec.FanType,
		Index:    0,
		Changed:  []string{codec.AttrSpeed, codec.AttrOn},
		Attrs: map[string]any{
			codec.AttrOn:     true,
			codec.AttrSpeed:  3,
			codec.AttrDir:    true,
			codec.AttrOsc:    true,
			codec.AttrPreset: codec.PresetBreeze,
		},
	}
	cmds := c.EntToEnc(ent)
	suite.Require().Len(cmds, 1)
	suite.Equal(codec.EncoderCommand{Cmd: 0x80, Arg0: 0x80 | 0x20 | 3, Arg1: 1, Arg2: 0x01 | 0x08}, cmds[0])

	ents := c.EncToEnt(cmds[0])
	suite.Require().Len(ents, 1)
	suite.Equal([]string{codec.AttrSpeed, codec.AttrOn}, ents[0].Changed)
	suite.Equal(codec.FanType6Speed, ents[0].Attrs[codec.AttrSubType])
	suite.Equal(3, ents[0].Attrs[codec.AttrSpeed])
	suite.Equal(true, ents[0].Attrs[codec.AttrDir])
	suite.Equal(codec.PresetBreeze, ents[0].Attrs[codec.AttrPreset])

	feats := c.SupportedFeatures(codec.FanType)
	suite.Require().Len(feats, 1)
	suite.Equal([]any{codec.FanType6Speed}, feats[0][codec.AttrSubType])
}

func (suite *CodecsTestSuite) TestZhijiaLightOn() {
	c, err := suite.registry.Get("zhijia_v2")
	suite.Require().NoError(err)

	ent := codec.EntityAttrs{
		BaseType: codec.LightType,
		Changed:  []string{codec.AttrOn},
		Attrs:    map[string]any{codec.AttrOn: true},
	}
	suite.Equal([]codec.EncoderCommand{{Cmd: 0xA5}}, c.EntToEnc(ent))
}

func (suite *CodecsTestSuite) TestAgarceDefaults() {
	c, err := suite.registry.Get("agarce_v3")
	suite.Require().NoError(err)
	suite.Equal(60, c.Defaults().Repeat)

	c, err = suite.registry.Get("zhijia_v0")
	suite.Require().NoError(err)
	suite.Equal(codec.DefaultTx, c.Defaults())
}

// opcodeVector pins one captured advertisement to the command, device
// config and entity state it carries. reverse marks rows whose entity
// translates back to the same command.
type opcodeVector struct {
	codec   string
	raw     string
	cmd     codec.EncoderCommand
	conf    codec.DeviceConfig
	ent     codec.EntityAttrs
	reverse bool
}

type attrs = map[string]any

func cmdOf(cmd, param uint8, args ...uint8) codec.EncoderCommand {
	a := make([]uint8, 5)
	copy(a, args)
	return codec.EncoderCommand{Cmd: cmd, Param: param, Arg0: a[0], Arg1: a[1], Arg2: a[2], Arg3: a[3], Arg4: a[4]}
}

func confOf(id uint32, index uint8, tx, seed uint16) codec.DeviceConfig {
	return codec.DeviceConfig{ID: id, Index: index, TxCount: tx, Seed: seed}
}

func entOf(base string, index int, changed []string, a attrs) codec.EntityAttrs {
	return codec.EntityAttrs{BaseType: base, Index: index, Changed: changed, Attrs: a}
}

var (
	onlyCmd   = []string{codec.AttrCmd}
	onlyOn    = []string{codec.AttrOn}
	noChanges []string
)

var opcodeVectors = []opcodeVector{
	// agarce
	{"agarce_v4", "02011A15FFF9090467025FB7CEAAF5C6A72DCDB8C6BBFC139F", cmdOf(0x00, 0, 1),
		confOf(0x100061C8, 17, 146, 0x0267), entOf("device", 0, onlyCmd, attrs{"cmd": "pair"}), true},
	{"agarce_v4", "02011A15FFF909048F0EB6BBC2421DCAABC525B5CA53141F97", cmdOf(0x00, 0),
		confOf(0x100061C8, 17, 147, 0x0E8F), entOf("device", 0, onlyCmd, attrs{"cmd": "unpair"}), true},
	{"agarce_v4", "02011A15FFF90984AE089EBDC4633CCCADE415B2A017F56129", cmdOf(0x10, 0, 1, 100, 100),
		confOf(0x100061C8, 17, 154, 0x08AE), entOf("light", 0, onlyOn, attrs{"on": true, "ctr": 1.0, "br": 1.0}), true},
	{"agarce_v4", "02011915FFF9098475CE7E7B02B8E70A6B3FFE1103A82E1411", cmdOf(0x20, 0, 100, 1),
		confOf(0x100061C8, 17, 161, 0xCE75), entOf("light", 0, []string{"ctr", "br"}, attrs{"sub_type": "cww", "ctr": 1.0, "br": 0.01}), true},
	{"agarce_v4", "02011A15FFF909847A0660B3CAB7E8C2A330512CCAAE2180AB", cmdOf(0x80, 0, 145, 0, 9),
		confOf(0x100061C8, 17, 176, 0x067A), entOf("fan", 0, []string{"speed", "on"},
			attrs{"sub_type": "6speed", "speed": 1, "on": true, "dir": false, "osc": false, "preset": nil}), true},
	{"agarce_v4", "02011A15FFF90984F21691A3DA3F60D2B3B8D90CDB2BA9FB05", cmdOf(0x80, 0, 161, 1, 4),
		confOf(0x100061C8, 17, 201, 0x16F2), entOf("fan", 0, []string{"preset"},
			attrs{"sub_type": "6speed", "speed": 1, "on": true, "dir": true, "osc": true, "preset": "breeze"}), true},
	{"agarce_v4", "02011A15FFF909846A5E76EB92A7F89AFB20B1E492D3311FDD", cmdOf(0x70, 0, 1, 0, 100),
		confOf(0x100061C8, 17, 182, 0x5E6A), entOf("device", 0, onlyOn, attrs{"on": false}), false},
	{"agarce_v4", "02011A15FFF90984D9F8C44D34144B3C5D930283346082F9B9", cmdOf(0x70, 0, 192, 0, 100),
		confOf(0x100061C8, 17, 183, 0xF8D9), entOf("device", 0, onlyOn, attrs{"on": true}), false},

	// zhimei
	{"zhimei_fan_v1", "02011A1B0348464B4A9E18A63A8C355FFB1404B82700FC5CF7101112131415", cmdOf(0xB4, 0, 170, 102, 85),
		confOf(0xC002, 2, 18, 0x5B), entOf("device", 0, onlyCmd, attrs{"cmd": "pair"}), true},
	{"zhimei_fan_v0", "0201190B0355021202C0B4AA665544", cmdOf(0xB4, 0, 170, 102, 85),
		confOf(0xC002, 2, 18, 0), entOf("device", 0, onlyCmd, attrs{"cmd": "pair"}), true},
	{"zhimei_fan_v0", "0201190B0355021502C0A6010000D5", cmdOf(0xA6, 0, 1),
		confOf(0xC002, 2, 21, 0), entOf("light", 0, onlyOn, attrs{"on": false}), true},
	{"zhimei_fan_v0", "0201190B0355021802C0B50003E8D1", cmdOf(0xB5, 0, 0, 3, 232),
		confOf(0xC002, 2, 24, 0), entOf("light", 0, []string{"br"}, attrs{"sub_type": "cww", "br": 1.0}), true},
	{"zhimei_fan_v0", "0201190B0355022202C0D302000010", cmdOf(0xD3, 0, 2),
		confOf(0xC002, 2, 34, 0), entOf("fan", 0, []string{"on", "speed"}, attrs{"sub_type": "6speed", "on": true, "speed": 2.0}), true},
	{"zhimei_fan_v1", "0201191B0348464B4A9E82B63A8C355F18143A7F80634F29AB101112131415", cmdOf(0xD3, 0, 2),
		confOf(0xC002, 2, 34, 0xB5), entOf("fan", 0, []string{"on", "speed"}, attrs{"sub_type": "6speed", "on": true, "speed": 2.0}), true},
	{"zhimei_fan_v0", "0201190B0355023802C0DE01000030", cmdOf(0xDE, 0, 1),
		confOf(0xC002, 2, 56, 0), entOf("fan", 0, []string{"osc"}, attrs{"osc": true}), true},
	{"zhimei_fan_v0", "0201190B0355023902C0A119190025", cmdOf(0xA1, 0, 25, 25),
		confOf(0xC002, 2, 57, 0), entOf("light", 0, noChanges, attrs{"sub_type": "cww", "cold": 0.1, "warm": 0.1}), false},
	{"zhimei_fan_v1", "0201191B0348464B4A78C19E5CB25B85C636A90ECEF4D86120101112131415", cmdOf(0xA7, 0, 1),
		confOf(0xC002, 2, 60, 0xD4), entOf("light", 0, noChanges, attrs{"sub_type": "cww", "cold": 1, "warm": 0}), false},
	{"zhimei_v2", "0201191B03F90849B2CE2C9A20758B15D5EF26C13510111213141516171819", cmdOf(0xB4, 0),
		confOf(0x02C0, 4, 31, 0), entOf("device", 0, onlyCmd, attrs{"cmd": "pair"}), true},
	{"zhimei_v1", "0201191B0348464B4A1C4936B80EB7E16C98C8F3E6D5B190BA101112131415", cmdOf(0xA5, 0, 2),
		confOf(0xC002, 4, 32, 0x08), entOf("device", 0, onlyCmd, attrs{"cmd": "timer", "s": 120.0}), true},
	{"zhimei_v2", "0201191B03F90849B2CE2CA51D4AB43BEAEF1B94D210111213141516171819", cmdOf(0xA5, 0, 2),
		confOf(0x02C0, 4, 32, 0), entOf("device", 0, onlyCmd, attrs{"cmd": "timer", "s": 120.0}), true},
	{"zhimei_v1", "0201191B0348464B4A9EA0B33A8C355FF81639418368409614101112131415", cmdOf(0xB3, 0),
		confOf(0xC002, 4, 33, 0xD3), entOf("light", 0, onlyOn, attrs{"on": true}), true},
	{"zhimei_v2", "0201191B03F90849B2CE2C49F3A65BC706071D23A910111213141516171819", cmdOf(0xB5, 0, 0, 3, 232),
		confOf(0x02C0, 4, 36, 0), entOf("light", 0, []string{"br"}, attrs{"sub_type": "cww", "br": 1.0}), true},
	{"zhimei_v2", "0201191B03F90849B2CE2C9BDE74996AD4EFD87CAF10111213141516171819", cmdOf(0xCA, 0, 255, 19),
		confOf(0x02C0, 4, 30, 0), entOf("light", 1, []string{"rf", "gf", "bf"}, attrs{"sub_type": "rgb", "rf": 1.0, "gf": 19.0 / 255, "bf": 0.0}), true},
	{"zhimei_v1", "0201191B0348464B4A5120D3835982ACDA5BF007959EE17F1D101112131415", cmdOf(0xCA, 0, 255, 19),
		confOf(0xC002, 4, 30, 0x0C), entOf("light", 1, []string{"rf", "gf", "bf"}, attrs{"sub_type": "rgb", "rf": 1.0, "gf": 19.0 / 255, "bf": 0.0}), true},
	{"zhimei_v2", "0201191B03F90849B2CE2CB6155CBE2CF9EF130BB910111213141516171819", cmdOf(0xA1, 0, 25, 25),
		confOf(0x02C0, 1, 51, 0), entOf("light", 0, noChanges, attrs{"sub_type": "cww", "cold": 0.1, "warm": 0.1}), false},

	// ruixin: the 16-bit counter splits into seed (low byte) and tx count (high byte)
	{"ruixin_v0", "1BFFFFFF010203046972360E2434E97E2837D2292A2B2C2D2E2F300B", cmdOf(0xAA, 0),
		confOf(0x100259C5, 0, 0x34, 0x24), entOf("device", 0, onlyCmd, attrs{"cmd": "pair"}), true},
	{"ruixin_v0", "1BFFFFFF010203046972360E89674EE38E9C8E8E8F909192939495C8", cmdOf(0x01, 0),
		confOf(0x100359C5, 0, 0x67, 0x89), entOf("light", 0, onlyOn, attrs{"on": true}), true},
	{"ruixin_v0", "1BFFFFFF010203046972360E2150E67B253431BC2728292A2B2C2D00", cmdOf(0x0C, 0, 150),
		confOf(0x100259C5, 0, 0x50, 0x21), entOf("light", 0, []string{"br"}, attrs{"sub_type": "cww", "br": 0.6}), true},
	{"ruixin_v0", "1BFFFFFF010203046972360EAD3C7207B1C0BE31B3B4B5B6B7B8B976", cmdOf(0x0D, 0, 127),
		confOf(0x100259C5, 0, 0x3C, 0xAD), entOf("light", 0, []string{"ct"}, attrs{"sub_type": "cww", "ct": 0.508}), true},
	{"ruixin_v0", "1BFFFFFF010203046972360E9D3262F7A1B0B1ACA3A4A5A6A7A8A9F4", cmdOf(0x10, 0, 10),
		confOf(0x100259C5, 0, 0x32, 0x9D), entOf("fan", 0, []string{"on", "speed"}, attrs{"sub_type": "100speed", "on": true, "speed": 10.0}), true},
	{"ruixin_v0", "1BFFFFFF010203046972360E7E3543D8829186838485868788898ABF", cmdOf(0x04, 0),
		confOf(0x100259C5, 0, 0x35, 0x7E), entOf("fan", 0, onlyOn, attrs{"on": false}), true},
	{"ruixin_v0", "1BFFFFFF010203046972360ECC769126D1DFD6D1D2D3D4D5D6D7D810", cmdOf(0x06, 0),
		confOf(0x100359C5, 0, 0x76, 0xCC), entOf("fan", 0, []string{"dir"}, attrs{"dir": true}), true},
	{"ruixin_v0/r1", "1EFF00000052584B6972360EABAB1DBEADADC0B0B1B2BABCBEC6C885131415", cmdOf(0x11, 0),
		confOf(0xFF001272, 0, 0xAB, 0xAB), entOf("device", 0, onlyOn, attrs{"on": false}), false},
	{"ruixin_v0", "1BFFFFFF010203046972360E3A4DFF943E4D453F404142434445467E", cmdOf(0x07, 0),
		confOf(0x100259C5, 0, 0x4D, 0x3A), entOf("light", 0, []string{"br", "ct"}, attrs{"sub_type": "cww", "br": 1.0, "ct": 0.0}), false},
	{"ruixin_v0/r1", "1EFF00000052584B6972360E7474E6877676A0797A7B8385878F9165131415", cmdOf(0x28, 0),
		confOf(0xFF001272, 0, 0x74, 0x74), entOf("light", 0, []string{"cmd", "step"}, attrs{"sub_type": "cww", "cmd": "K-", "step": 1.0 / 12}), false},

	// rw
	{"rwlight_mix", "02011A1BFFDDB2DA6C9F017A342E0CA0A9DA8DA14E090371DB742D28323033", cmdOf(0x01, 0),
		confOf(0x00018B5D, 0, 67, 0xBF), entOf("light", 0, onlyOn, attrs{"on": true}), true},
	{"rwlight_mix", "02011A1BFFDDB2DA6C9F017A3405794E4734F8D4970903713574C328A9ACA8", cmdOf(0x0C, 0, 53),
		confOf(0x00018B5D, 0, 52, 0x66), entOf("light", 0, []string{"ctr"}, attrs{"sub_type": "cww", "ctr": 0.53}), true},
	{"rwlight_mix", "02011A1BFFDDB2DA6C9F017A34D7C7020B78466A8509037179748F285BC079", cmdOf(0x08, 0),
		confOf(0x00018B5D, 0, 6, 0x29), entOf("light", 0, []string{"effect"}, attrs{"sub_type": "cww", "effect": "Reading"}), true},
	{"rwlight_mix", "02011A1BFFDDB2DA6C9F017A34605A2A2350DBF7E80903715174EB28A27AA1", cmdOf(0x48, 0, 15, 0, 50),
		confOf(0x00018B5D, 0, 18, 0x84), entOf("light", 1, []string{"br", "r", "g", "b"},
			attrs{"sub_type": "rgb", "br": 0.5, "r": 1.0, "g": 0.0, "b": 0.0}), true},
	{"rwlight_mix", "02011A1BFFDDB2DA6C9F017A34D58F4A43300E22C209037131748B2817FF2E", cmdOf(0x48, 0, 240, 0, 50),
		confOf(0x00018B5D, 0, 20, 0x29), entOf("light", 1, []string{"br", "r", "g", "b"},
			attrs{"sub_type": "rgb", "br": 0.5, "r": 0.0, "g": 1.0, "b": 0.0}), true},
	{"rwlight_mix", "02011A1BFFDDB2DA6C9F017A34BE52121B68D3FF1009037169749F28DE64B1", cmdOf(0x3F, 0),
		confOf(0x00018B5D, 0, 14, 0x88), entOf("light", 1, []string{"effect"}, attrs{"sub_type": "rgb", "effect": "rgb"}), true},
	{"rwlight_mix", "02011A1BFFDDB2DA6C9F017A34DA2D737A09AC806F0903718874FE28403899", cmdOf(0x61, 0, 0, 1),
		confOf(0x00018B5D, 0, 136, 0xF0), entOf("fan", 0, onlyOn, attrs{"on": true}), true},
	{"rwlight_mix", "02011A1BFFDDB2DA6C9F017A34CB9C131A691D31DE0903714E749E28375D35", cmdOf(0x62, 0, 0, 100),
		confOf(0x00018B5D, 0, 142, 0x7B), entOf("fan", 0, []string{"speed"}, attrs{"sub_type": "100speed", "speed": 100.0}), true},

	// le
	{"lelight", "02011A1AFFFFFFFFFF0E015F74E38C769977AA8B8894A8C5000000000000", cmdOf(0x22, 3, 0, 28, 32),
		confOf(0x8CE3745F, 17, 255, 0), entOf("device", 0, onlyCmd, attrs{"cmd": "timer", "s": 7200.0}), false},
	{"lelight", "02011A1AFFFFFFFFFF0C015F74E38C76997A888989310000000000000000", cmdOf(0x00, 1, 1),
		confOf(0x8CE3745F, 17, 242, 0), entOf("light", 0, onlyOn, attrs{"on": true}), true},
	{"lelight", "02011A1AFFFFFFFFFF0D015F74E38C76997C808A88ECC300000000000000", cmdOf(0x08, 2, 0, 100),
		confOf(0x8CE3745F, 17, 244, 0), entOf("light", 0, []string{"br"}, attrs{"sub_type": "cww", "br": 0.1}), true},
	{"lelight", "0201191AFFFFFFFFFF0D015F74E38C76997D808A8B604B00000000000000", cmdOf(0x08, 2, 3, 232),
		confOf(0x8CE3745F, 17, 245, 0), entOf("light", 0, []string{"br"}, attrs{"sub_type": "cww", "br": 1.0}), true},
	{"lelight", "02011A1AFFFFFFFFFF0D015F74E38C76997E858A0888A000000000000000", cmdOf(0x0D, 2, 128),
		confOf(0x8CE3745F, 17, 246, 0), entOf("light", 0, []string{"ct"}, attrs{"sub_type": "cww", "ct": 0.0}), true},
	{"lelight", "02011A1AFFFFFFFFFF0D015F74E38C76997F858A8808AF00000000000000", cmdOf(0x0D, 2, 0, 128),
		confOf(0x8CE3745F, 17, 247, 0), entOf("light", 0, []string{"ctr"}, attrs{"sub_type": "cww", "ctr": 0.0}), true},
	{"lelight", "0201191AFFFFFFFFFF0E015F74E38C769A709E8B77888814000000000000", cmdOf(0x16, 3, 255),
		confOf(0x8CE3745F, 18, 248, 0), entOf("light", 1, []string{"rf", "gf", "bf"}, attrs{"sub_type": "rgb", "rf": 1.0, "gf": 0.0, "bf": 0.0}), true},
	{"lelight", "0201191AFFFFFFFFFF0C015F74E38C769971A98989190000000000000000", cmdOf(0x21, 1, 1),
		confOf(0x8CE3745F, 17, 249, 0), entOf("fan", 0, []string{"on", "speed"}, attrs{"sub_type": "3speed", "on": true, "speed": 1}), true},
	{"lelight", "0201191AFFFFFFFFFF0C015F74E38C769973A98988180000000000000000", cmdOf(0x21, 1),
		confOf(0x8CE3745F, 17, 251, 0), entOf("fan", 0, onlyOn, attrs{"on": false}), true},
	{"lelight", "0201191AFFFFFFFFFF0C015F74E38C769974A98908870000000000000000", cmdOf(0x21, 1, 128),
		confOf(0x8CE3745F, 17, 252, 0), entOf("fan", 0, []string{"dir"}, attrs{"sub_type": "3speed", "dir": true}), true},

	// mantra
	{"mantra_v0", "02011A15FF4E6F720E0436064C20A26736448EC0CC3914FE87", cmdOf(0x01, 0x0A),
		confOf(0xC5F0, 0, 1078, 0), entOf("device", 0, onlyCmd, attrs{"cmd": "timer", "s": 120}), true},
	{"mantra_v0", "02011A15FF4E6F720E0438064C2E561510D42DEB8C15D3B518", cmdOf(0x01, 0x05),
		confOf(0xC5F0, 0, 1080, 0), entOf("light", 0, onlyOn, attrs{"on": true}), true},
	{"mantra_v0", "02011A15FF4E6F720E0447064F561248B26F516EECEF536F77", cmdOf(0x02, 0, 44, 1, 6, 44, 255),
		confOf(0xC5F0, 0, 1095, 0), entOf("light", 0, []string{"cold", "warm"},
			attrs{"sub_type": "cww", "warm": 0.0, "cold": 44.0 / 255, "br": 44.0 / 255, "ctr": 1.0}), true},
	{"mantra_v0", "02011A15FF4E6F720E045A064F4AE9124FE0D15F4D01A0CA42", cmdOf(0x02, 0xFF, 0, 7, 0, 255, 0),
		confOf(0xC5F0, 0, 1114, 0), entOf("light", 0, []string{"cold", "warm"},
			attrs{"sub_type": "cww", "warm": 1.0, "cold": 0.0, "br": 1.0, "ctr": 0.0}), true},
	{"mantra_v0", "02011A15FF4E6F720E045B064C4BFAACFF4E172140B7DBD4B6", cmdOf(0x01, 0x07),
		confOf(0xC5F0, 0, 1115, 0), entOf("fan", 0, onlyOn, attrs{"on": true}), true},
	{"mantra_v0", "02011A15FF4E6F720E0461064C720C19045116AF5B66313922", cmdOf(0x01, 0x14),
		confOf(0xC5F0, 0, 1121, 0), entOf("fan", 0, []string{"dir"}, attrs{"dir": false}), true},
	{"mantra_v0", "02011A15FF4E6F720E0462064C7138DAD5A25D3F4DB5BD1B3F", cmdOf(0x01, 0x0E),
		confOf(0xC5F0, 0, 1122, 0), entOf("fan", 0, []string{"preset"}, attrs{"preset": "sleep"}), true},
}

// number widens the numeric attribute kinds translators produce.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case float64:
		return n, true
	case uint8:
		return float64(n), true
	}
	return 0, false
}

func (suite *CodecsTestSuite) assertAttrs(want, got map[string]any) {
	suite.Len(got, len(want), "attrs %v", got)
	for k, w := range want {
		g, ok := got[k]
		if !suite.True(ok, "missing %s in %v", k, got) {
			continue
		}
		if wf, isNum := number(w); isNum {
			gf, ok := number(g)
			suite.True(ok, "%s: %T", k, g)
			suite.InDelta(wf, gf, 1e-9, k)
			continue
		}
		suite.Equal(w, g, k)
	}
}

func (suite *CodecsTestSuite) TestOpcodeVectors() {
	for i, v := range opcodeVectors {
		suite.Run(fmt.Sprintf("%s/%02d_%02X", v.codec, i, v.cmd.Cmd), func() {
			c, err := suite.registry.Get(v.codec)
			suite.Require().NoError(err)
			raw, err := codec.ParseHex(v.raw)
			suite.Require().NoError(err)
			adv, ok := codec.ParseAdvertisement(raw)
			suite.Require().True(ok)

			cmd, conf, ok := c.DecodeAdv(*adv)
			suite.Require().True(ok, "decode")
			suite.Equal(v.cmd, cmd)
			suite.Equal(v.conf.ID, conf.ID)
			suite.Equal(v.conf.Index, conf.Index)
			suite.Equal(v.conf.TxCount, conf.TxCount)
			suite.Equal(v.conf.Seed, conf.Seed)

			ents := c.EncToEnt(cmd)
			suite.Require().Len(ents, 1, "%v", ents)
			suite.Equal(v.ent.BaseType, ents[0].BaseType)
			suite.Equal(v.ent.Index, ents[0].Index)
			if len(v.ent.Changed) == 0 {
				suite.Empty(ents[0].Changed)
			} else {
				suite.Equal(v.ent.Changed, ents[0].Changed)
			}
			suite.assertAttrs(v.ent.Attrs, ents[0].Attrs)

			if !v.reverse {
				return
			}
			suite.Equal([]codec.EncoderCommand{v.cmd}, c.EntToEnc(ents[0]))
			advs, err := c.EncodeAdvs(v.cmd, conf)
			suite.Require().NoError(err)
			suite.True(slices.ContainsFunc(advs, adv.Equal), "re-encoded: %v", advs)
		})
	}
}

func TestCodecsTestSuite(t *testing.T) {
	suite.Run(t, new(CodecsTestSuite))
}
