package main

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/srg/bleadv/pkg/codecs"
	"github.com/srg/bleadv/pkg/config"
	"github.com/srg/bleadv/pkg/coordinator"
)

const adapterPollInterval = 100 * time.Millisecond

// CoordinatorFactory builds the coordinator of scan, send and serve.
// Tests replace it to inject adapters.
var CoordinatorFactory = coordinator.New

// startCoordinator builds the coordinator from the configuration and
// starts its adapters.
func startCoordinator(ctx context.Context, cfg *config.Config, logger *logrus.Logger, reg prometheus.Registerer) (*coordinator.Coordinator, error) {
	opts := cfg.CoordinatorOptions()
	opts.Registry = codecs.NewRegistry(logger)
	opts.Logger = logger
	opts.Registerer = reg
	c := CoordinatorFactory(opts)
	if err := c.Start(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// waitForAdapters polls until every wanted adapter is known, or any
// adapter is available when none is named.
func waitForAdapters(ctx context.Context, c *coordinator.Coordinator, wanted []string, timeout time.Duration) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(adapterPollInterval)
	defer ticker.Stop()
	for {
		ids := c.AdapterIDs()
		if available := c.AvailableAdapterIDs(); len(wanted) == 0 && len(available) > 0 {
			return available, nil
		}
		if len(wanted) > 0 && !slices.ContainsFunc(wanted, func(w string) bool { return !slices.Contains(ids, w) }) {
			return wanted, nil
		}
		select {
		case <-ctx.Done():
			if len(wanted) > 0 {
				return nil, fmt.Errorf("%w: waiting for %v, known %v", ErrNoAdapter, wanted, ids)
			}
			return nil, ErrNoAdapter
		case <-ticker.C:
		}
	}
}
