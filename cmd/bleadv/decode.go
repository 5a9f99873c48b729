package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/srg/bleadv/pkg/codec"
	"github.com/srg/bleadv/pkg/codecs"
)

type decodeOptions struct {
	adType string
	json   bool
}

func newDecodeCmd() *cobra.Command {
	var opts decodeOptions
	cmd := &cobra.Command{
		Use:   "decode HEX",
		Short: "Decode a captured advertisement",
		Long: `Decode raw advertising data with every codec and print each match:
the encoder command, the emitter configuration and the entity changes.

The input is the raw AD structure list (as captured from a controller),
or a bare payload when --type gives its AD type.`,
		Example: `  bleadv decode 02.01.1A.11.FF.F9.08.49.89.E4.E1.A2.3E.6C.95.0B.58.C9.38.28.07
  bleadv decode --type 0xFF F9084989E4E1A23E6C950B58C9382807`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecode(cmd, args[0], &opts)
		},
	}
	cmd.Flags().StringVar(&opts.adType, "type", "", "AD type of a bare payload (0x03, 0x16 or 0xFF)")
	cmd.Flags().BoolVar(&opts.json, "json", false, "JSON output")
	return cmd
}

type decodeResult struct {
	Codec    string               `json:"codec"`
	MatchID  string               `json:"match_id"`
	Cmd      codec.EncoderCommand `json:"cmd"`
	Config   codec.DeviceConfig   `json:"config"`
	Entities []codec.EntityAttrs  `json:"entities"`
}

// parseAdvertisement builds the advertisement from the decode arguments.
func parseAdvertisement(input, adType string) (*codec.Advertisement, error) {
	raw, err := codec.ParseHex(input)
	if err != nil {
		return nil, err
	}
	if adType != "" {
		t, err := strconv.ParseUint(adType, 0, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: type %q", ErrInvalidInput, adType)
		}
		return &codec.Advertisement{Type: byte(t), Raw: raw}, nil
	}
	adv, ok := codec.ParseAdvertisement(raw)
	if !ok {
		return nil, fmt.Errorf("%w: no manufacturer or service data structure", ErrInvalidInput)
	}
	return adv, nil
}

func runDecode(cmd *cobra.Command, input string, opts *decodeOptions) error {
	adv, err := parseAdvertisement(input, opts.adType)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	reg := codecs.NewRegistry(nil)
	matches := reg.Decode(*adv)
	results := make([]decodeResult, 0, len(matches))
	for _, m := range matches {
		results = append(results, decodeResult{
			Codec:    m.Codec.ID(),
			MatchID:  m.Codec.MatchID(),
			Cmd:      m.Cmd,
			Config:   m.Config,
			Entities: m.Codec.EncToEnt(m.Cmd),
		})
	}

	p := newPrinter(cmd.OutOrStdout())
	if opts.json {
		if err := p.json(results); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			p.printf("%s\n", p.label.Sprint(r.Codec))
			p.field("cmd", r.Cmd)
			p.field("config", r.Config)
			p.entities(r.Entities)
		}
	}
	if len(results) == 0 {
		return fmt.Errorf("%w: %s", ErrNoMatch, adv)
	}
	return nil
}
