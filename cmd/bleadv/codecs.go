package main

import (
	"github.com/spf13/cobra"
	"github.com/srg/bleadv/pkg/codec"
	"github.com/srg/bleadv/pkg/codecs"
)

type codecsOptions struct {
	app      string
	listApps bool
	json     bool
}

func newCodecsCmd() *cobra.Command {
	var opts codecsOptions
	cmd := &cobra.Command{
		Use:   "codecs",
		Short: "List the supported codecs",
		Long: `List the codec ids, optionally restricted to one phone application
(--app), or list the phone applications themselves (--apps).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCodecs(cmd, &opts)
		},
	}
	cmd.Flags().StringVar(&opts.app, "app", "", "Only list the codecs of this phone application")
	cmd.Flags().BoolVar(&opts.listApps, "apps", false, "List phone applications")
	cmd.Flags().BoolVar(&opts.json, "json", false, "JSON output")
	return cmd
}

type codecInfo struct {
	ID       string           `json:"id"`
	MatchID  string           `json:"match_id"`
	Defaults codec.TxDefaults `json:"defaults"`
}

func runCodecs(cmd *cobra.Command, opts *codecsOptions) error {
	cmd.SilenceUsage = true
	p := newPrinter(cmd.OutOrStdout())
	reg := codecs.NewRegistry(nil)

	if opts.listApps {
		if opts.json {
			return p.json(codecs.PhoneApps)
		}
		for _, name := range codecs.PhoneAppNames() {
			p.printf("%s\n", p.label.Sprint(name))
			for _, id := range codecs.PhoneApps[name] {
				p.printf("  %s\n", id)
			}
		}
		return nil
	}

	list := reg.All()
	if opts.app != "" {
		var err error
		if list, err = reg.AppCodecs(opts.app); err != nil {
			return err
		}
	}
	infos := make([]codecInfo, 0, len(list))
	for _, c := range list {
		infos = append(infos, codecInfo{ID: c.ID(), MatchID: c.MatchID(), Defaults: c.Defaults()})
	}
	if opts.json {
		return p.json(infos)
	}
	for _, info := range infos {
		if info.MatchID != info.ID {
			p.printf("%s %s\n", info.ID, p.dim.Sprintf("(matches as %s)", info.MatchID))
			continue
		}
		p.printf("%s\n", info.ID)
	}
	return nil
}
