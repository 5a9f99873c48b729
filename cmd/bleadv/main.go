package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// newRootCmd builds the command tree; every call returns fresh flag state.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bleadv",
		Short: "BLE advertising remote-control tool",
		Long: `Decode and generate the BLE advertisements used by fan and light
remote-control protocols, and transmit them through local controllers or
MQTT-connected radio proxies:

- List the supported codecs and phone applications
- Decode captured advertisements, encode commands
- Scan for remote-control traffic
- Send commands, or serve configured devices until interrupted`,
		Version: formatVersion(version),
	}

	// main() prints the errors
	rootCmd.SilenceErrors = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("bleadv {{.Version}} (commit %s, built %s)\n", commit, date))

	rootCmd.AddCommand(newCodecsCmd())
	rootCmd.AddCommand(newDecodeCmd())
	rootCmd.AddCommand(newEncodeCmd())
	rootCmd.AddCommand(newScanCmd())
	rootCmd.AddCommand(newSendCmd())
	rootCmd.AddCommand(newServeCmd())

	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringP("config", "c", "", "YAML configuration file")

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Ctrl+C is a normal exit
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}
