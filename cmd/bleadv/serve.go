package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/bleadv/internal/groutine"
	"github.com/srg/bleadv/pkg/device"
)

const shutdownTimeout = 5 * time.Second

// ServeReady, when set, is called once serve is up with its devices and
// the HTTP listen address (nil without HTTP endpoint).
var ServeReady func(devs []*device.Device, addr net.Addr)

type serveOptions struct {
	httpAddr string
}

func newServeCmd() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the configured devices until interrupted",
		Long: `Start the adapters and the devices of the configuration file. Devices
follow the commands their phone apps and remotes send, and can be driven
through the HTTP API, served with the Prometheus metrics:

  GET  /metrics
  GET  /devices
  POST /devices/{name}/{type}/{index}   JSON attributes, e.g. {"on": true}
  POST /devices/{name}/cmd/{cmd}        device command, e.g. pair or timer`,
		Example: `  bleadv serve --config /etc/bleadv.yaml --http-addr :9100`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, &opts)
		},
	}
	cmd.Flags().StringVar(&opts.httpAddr, "http-addr", "", "HTTP API and metrics listen address (default from configuration)")
	return cmd
}

func runServe(cmd *cobra.Command, opts *serveOptions) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("log-level") && !cmd.Flags().Changed("config") {
		// serve is long running, keep the lifecycle messages
		logger.SetLevel(logrus.InfoLevel)
	}
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	coord, err := startCoordinator(ctx, cfg, logger, reg)
	if err != nil {
		return err
	}
	defer coord.Close()

	devs, err := cfg.BuildDevices(coord, coord.Registry(), logger, func(d *device.Device, e *device.Entity) {
		logger.WithFields(logrus.Fields{
			"device": d.Name(),
			"entity": e.ID(),
			"attrs":  e.Attrs(),
		}).Info("State changed")
	})
	if err != nil {
		return err
	}
	if len(devs) == 0 {
		logger.Warn("No device configured, only decoding")
	}
	for _, d := range devs {
		d.Start()
		defer d.Stop()
	}

	g, gctx := groutine.WithContext(ctx)
	g.Go("events", func(ctx context.Context) error {
		for {
			ev, ok := coord.NextEvent(ctx)
			if !ok {
				return nil
			}
			logger.WithFields(logrus.Fields{
				"adapter": ev.AdapterID,
				"codec":   ev.CodecID,
				"config":  ev.Config.String(),
				"handled": ev.Handled,
			}).Debug("Advertisement decoded")
		}
	})

	var addr net.Addr
	httpAddr := cfg.MetricsAddr
	if opts.httpAddr != "" {
		httpAddr = opts.httpAddr
	}
	if httpAddr != "" {
		ln, err := net.Listen("tcp", httpAddr)
		if err != nil {
			return err
		}
		addr = ln.Addr()
		srv := &http.Server{Handler: newServeMux(reg, newDeviceAPI(devs, logger)), ReadHeaderTimeout: 5 * time.Second}
		g.Go("http", func(context.Context) error {
			if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go("http-shutdown", func(ctx context.Context) error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
		logger.WithField("addr", addr.String()).Info("HTTP API listening")
	}

	logger.WithFields(logrus.Fields{"devices": len(devs), "adapters": coord.AdapterIDs()}).Info("Serving")
	if ServeReady != nil {
		ServeReady(devs, addr)
	}

	<-gctx.Done()
	err = g.Wait()

	dctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if derr := coord.Drain(dctx); derr != nil {
		logger.WithError(derr).Warn("Pending advertisements dropped")
	}
	logger.Info("Stopped")
	return err
}
