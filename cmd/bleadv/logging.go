package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/bleadv/pkg/config"
)

// loadConfig reads --config and applies --log-level over it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	return cfg, nil
}

// configureLogger creates the logger of a command. Without --log-level and
// without a configuration file only errors are logged, so that command
// output stays readable.
func configureLogger(cmd *cobra.Command, cfg *config.Config) (*logrus.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", cfg.LogLevel)
	}
	explicit := cmd.Flags().Changed("log-level") || cmd.Flags().Changed("config")
	logger := cfg.NewLogger()
	if !explicit {
		level = logrus.ErrorLevel
	}
	logger.SetLevel(level)
	logger.SetOutput(cmd.ErrOrStderr())
	return logger, nil
}
