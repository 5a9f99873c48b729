package main

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/srg/bleadv/pkg/codec"
	"github.com/srg/bleadv/pkg/codecs"
)

func newEncodeCmd() *cobra.Command {
	var opts encodeFlags
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Encode a command into advertisements",
		Long: `Encode either a raw encoder command (--cmd and its arguments) or an
entity change (--entity and --attr) with one codec, and print the
advertising data ready for transmission.`,
		Example: `  bleadv encode --codec zhijia_v2 --id 0xC630B8 --cmd 0xB4
  bleadv encode --codec fanlamp_pro_v3 --id 0x11223344 --entity light:0 --attr on=true --attr br=0.5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEncode(cmd, &opts)
		},
	}
	opts.register(cmd)
	return cmd
}

// encodeFlags are shared by encode and send.
type encodeFlags struct {
	codecID string
	id      string
	index   uint8
	tx      uint16
	seed    uint16
	cmd     uint8
	param   uint8
	args    []uint
	entity  string
	attrs   map[string]string
	json    bool
}

func (f *encodeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.codecID, "codec", "", "Codec id (see 'bleadv codecs')")
	cmd.Flags().StringVar(&f.id, "id", "0", "Emitter id, decimal or 0x hex")
	cmd.Flags().Uint8Var(&f.index, "index", 0, "Emitter index (group)")
	cmd.Flags().Uint16Var(&f.tx, "tx", 0, "Transmit counter")
	cmd.Flags().Uint16Var(&f.seed, "seed", 0, "Seed, random when 0 for codecs using one")
	cmd.Flags().Uint8Var(&f.cmd, "cmd", 0, "Encoder command")
	cmd.Flags().Uint8Var(&f.param, "param", 0, "Encoder command parameter")
	cmd.Flags().UintSliceVar(&f.args, "args", nil, "Encoder command arguments arg0..arg4")
	cmd.Flags().StringVar(&f.entity, "entity", "", "Entity as TYPE[:INDEX] (device, light, fan)")
	cmd.Flags().StringToStringVar(&f.attrs, "attr", nil, "Entity attribute NAME=VALUE")
	cmd.Flags().BoolVar(&f.json, "json", false, "JSON output")
	_ = cmd.MarkFlagRequired("codec")
	cmd.MarkFlagsMutuallyExclusive("cmd", "entity")
	cmd.MarkFlagsOneRequired("cmd", "entity")
}

func (f *encodeFlags) deviceConfig() (codec.DeviceConfig, error) {
	id, err := strconv.ParseUint(f.id, 0, 32)
	if err != nil {
		return codec.DeviceConfig{}, fmt.Errorf("%w: id %q", ErrInvalidInput, f.id)
	}
	return codec.DeviceConfig{ID: uint32(id), Index: f.index, TxCount: f.tx, Seed: f.seed}, nil
}

func parseEntity(s string) (string, int, error) {
	baseType, idx, found := strings.Cut(s, ":")
	index := 0
	if found {
		var err error
		if index, err = strconv.Atoi(idx); err != nil {
			return "", 0, fmt.Errorf("%w: entity index %q", ErrInvalidInput, idx)
		}
	}
	switch baseType {
	case codec.DeviceType, codec.LightType, codec.FanType:
		return baseType, index, nil
	}
	return "", 0, fmt.Errorf("%w: entity type %q", ErrInvalidInput, baseType)
}

// commands returns the encoder commands described by the flags.
func (f *encodeFlags) commands(c codec.Codec) ([]codec.EncoderCommand, error) {
	if f.entity == "" {
		if len(f.args) > 5 {
			return nil, fmt.Errorf("%w: at most 5 arguments", ErrInvalidInput)
		}
		var args [5]uint8
		for i, a := range f.args {
			if a > 0xFF {
				return nil, fmt.Errorf("%w: argument %d out of range", ErrInvalidInput, a)
			}
			args[i] = uint8(a)
		}
		return []codec.EncoderCommand{{
			Cmd: f.cmd, Param: f.param,
			Arg0: args[0], Arg1: args[1], Arg2: args[2], Arg3: args[3], Arg4: args[4],
		}}, nil
	}
	baseType, index, err := parseEntity(f.entity)
	if err != nil {
		return nil, err
	}
	ent := codec.EntityAttrs{
		Changed:  slices.Sorted(maps.Keys(f.attrs)),
		Attrs:    make(map[string]any, len(f.attrs)),
		BaseType: baseType,
		Index:    index,
	}
	for k, v := range f.attrs {
		ent.Attrs[k] = parseAttrValue(v)
	}
	cmds := c.EntToEnc(ent)
	if len(cmds) == 0 {
		return nil, fmt.Errorf("%w: %s cannot encode %s", ErrInvalidInput, c.ID(), ent)
	}
	return cmds, nil
}

// encoded is one command with its advertisements.
type encoded struct {
	Cmd    codec.EncoderCommand `json:"cmd"`
	Config codec.DeviceConfig   `json:"config"`
	Advs   []string             `json:"advs"`

	data [][]byte
}

// encode runs the codec over the flags; each command after the first uses
// the next transmit counter.
func (f *encodeFlags) encode(reg *codecs.Registry) (codec.Codec, []encoded, error) {
	c, err := reg.Get(f.codecID)
	if err != nil {
		return nil, nil, err
	}
	conf, err := f.deviceConfig()
	if err != nil {
		return nil, nil, err
	}
	cmds, err := f.commands(c)
	if err != nil {
		return nil, nil, err
	}
	out := make([]encoded, 0, len(cmds))
	for i, cmd := range cmds {
		if i > 0 {
			c.NextTx(&conf)
		}
		advs, err := c.EncodeAdvs(cmd, conf)
		if err != nil {
			return nil, nil, fmt.Errorf("encode %s: %w", cmd, err)
		}
		e := encoded{Cmd: cmd, Config: conf}
		for _, adv := range advs {
			e.data = append(e.data, adv.Bytes())
			e.Advs = append(e.Advs, codec.Hex(adv.Bytes()))
		}
		out = append(out, e)
	}
	return c, out, nil
}

func runEncode(cmd *cobra.Command, opts *encodeFlags) error {
	_, results, err := opts.encode(codecs.NewRegistry(nil))
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true
	p := newPrinter(cmd.OutOrStdout())
	if opts.json {
		return p.json(results)
	}
	for _, r := range results {
		p.printf("%s %s\n", p.label.Sprint(r.Cmd), p.dim.Sprint(r.Config))
		for _, adv := range r.Advs {
			p.printf("  %s\n", p.value.Sprint(adv))
		}
	}
	return nil
}
