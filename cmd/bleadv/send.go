package main

import (
	"cmp"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/bleadv/internal/adapter"
	"github.com/srg/bleadv/pkg/codecs"
)

// sendQueue is the logical queue of the commands sent from the CLI.
const sendQueue = "cli"

type sendOptions struct {
	encodeFlags
	adapters []string
	repeat   int
	interval time.Duration
	duration time.Duration
	wait     time.Duration
}

func newSendCmd() *cobra.Command {
	var opts sendOptions
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Encode a command and transmit it",
		Long: `Encode a command like 'encode' does, transmit it on the given adapters
(every adapter by default) and wait until the transmission completed.
Transmit parameters default to the codec recommendation.`,
		Example: `  bleadv send --codec zhijia_v2 --id 0xC630B8 --cmd 0xB4 --adapter hci0
  bleadv send --codec fanlamp_pro_v3 --id 0x11223344 --entity light:0 --attr on=false`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSend(cmd, &opts)
		},
	}
	opts.register(cmd)
	cmd.Flags().StringSliceVarP(&opts.adapters, "adapter", "a", nil, "Adapters to transmit on")
	cmd.Flags().IntVar(&opts.repeat, "repeat", 0, "Number of transmissions")
	cmd.Flags().DurationVar(&opts.interval, "interval", 0, "Advertising interval")
	cmd.Flags().DurationVar(&opts.duration, "duration", 0, "Pause after the transmission")
	cmd.Flags().DurationVar(&opts.wait, "wait", 5*time.Second, "How long to wait for the adapters")
	return cmd
}

func runSend(cmd *cobra.Command, opts *sendOptions) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}
	c, results, err := opts.encode(codecs.NewRegistry(logger))
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	coord, err := startCoordinator(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer coord.Close()

	adapters, err := waitForAdapters(ctx, coord, opts.adapters, opts.wait)
	if err != nil {
		return err
	}

	defaults := c.Defaults()
	p := newPrinter(cmd.OutOrStdout())
	for _, r := range results {
		for i, data := range r.data {
			item := adapter.QueueItem{
				Key:        int(r.Cmd.Cmd)<<8 | i,
				Repeat:     cmp.Or(opts.repeat, defaults.Repeat),
				DelayAfter: cmp.Or(opts.duration, defaults.Duration),
				Interval:   cmp.Or(opts.interval, defaults.Interval),
				Data:       data,
			}
			for _, a := range adapters {
				if err := coord.Advertise(ctx, a, sendQueue, item); err != nil {
					return err
				}
				logger.WithFields(logrus.Fields{"adapter": a, "data": r.Advs[i]}).Debug("Queued")
			}
		}
	}
	if err := coord.Drain(ctx); err != nil {
		return err
	}
	for _, r := range results {
		p.printf("sent %s on %v\n", p.label.Sprint(r.Cmd), adapters)
	}
	return nil
}
