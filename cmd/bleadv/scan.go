package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/bleadv/pkg/coordinator"
)

type scanOptions struct {
	duration time.Duration
	json     bool
	codecs   []string
}

func newScanCmd() *cobra.Command {
	var opts scanOptions
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Print the remote-control advertisements received",
		Long: `Start every configured adapter and print the advertisements that a
codec recognises, with their command, emitter configuration and entity
changes. Duplicates seen again within the deduplication window are not
printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScan(cmd, &opts)
		},
	}
	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", 0, "Scan duration (default from configuration, negative for indefinite)")
	cmd.Flags().BoolVar(&opts.json, "json", false, "JSON output, one event per line")
	cmd.Flags().StringSliceVar(&opts.codecs, "codec", nil, "Only print these codec ids")
	return cmd
}

func runScan(cmd *cobra.Command, opts *scanOptions) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	duration := cfg.ScanTimeout
	if opts.duration != 0 {
		duration = opts.duration
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	c, err := startCoordinator(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer c.Close()
	logger.WithField("adapters", c.AdapterIDs()).Info("Scanning")

	p := newPrinter(cmd.OutOrStdout())
	if isTerminal(cmd.ErrOrStderr()) && !opts.json {
		progress := newCountdown(cmd.ErrOrStderr(), "Scanning for remote-control advertisements", max(duration, 0))
		progress.Start()
		defer progress.Stop()
	}

	for {
		ev, ok := c.NextEvent(ctx)
		if !ok {
			stats := c.EventStats()
			logger.WithFields(logrus.Fields{
				"received": stats.Written,
				"dropped":  stats.Overwritten,
			}).Debug("Scan finished")
			if err := ctx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return nil
		}
		if len(opts.codecs) > 0 && !slices.Contains(opts.codecs, ev.CodecID) {
			continue
		}
		if err := printEvent(p, ev, opts.json); err != nil {
			return err
		}
	}
}

func printEvent(p *printer, ev coordinator.Event, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(p.w).Encode(ev)
	}
	p.printf("%s %s %s\n", p.dim.Sprint(ev.At.Format(time.TimeOnly)), ev.AdapterID, p.label.Sprint(ev.CodecID))
	p.field("cmd", ev.Cmd)
	p.field("config", ev.Config)
	p.entities(ev.Entities)
	return nil
}
