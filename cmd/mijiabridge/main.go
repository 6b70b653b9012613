package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
	"github.com/srg/mijiabridge/pkg/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// cfg is populated from flags, the environment and the .env file by loadConfig.
var cfg = config.Default()

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mijiabridge",
	Short: "Bridge Mijia Bluetooth thermometers to MQTT",
	Long: `Bridge Xiaomi Mijia LYWSD03MMC thermometers to an MQTT broker using the
Homie convention.

The bridge scans for sensors listed in the sensor names file, keeps them
connected and publishes temperature, humidity and battery level of every
connected sensor as a Homie node. Running without a subcommand is the same
as "mijiabridge run".

Configuration is read from flags, the environment and a .env file, in that
order of precedence.`,
	Version: formatVersion(version),
	Args:    cobra.NoArgs,
	RunE:    runBridge,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C and SIGTERM are normal exits, not errors
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("mijiabridge %s (commit %s, built %s)\n", formatVersion(version), commit, date))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sensorsCmd)

	// Global flags
	flags := rootCmd.PersistentFlags()
	cfg.AddFlags(flags)
	flags.String("env-file", ".env", "Optional file of KEY=value settings")
	flags.Bool("verbose", false, "Enable debug logging (ignored when --log-level is set)")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
