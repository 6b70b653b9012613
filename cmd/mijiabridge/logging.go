package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/srg/mijiabridge/pkg/config"
)

// loadConfig layers the environment and the .env file onto cfg, validates it
// and returns a logger configured from it.
func loadConfig(cmd *cobra.Command) (*logrus.Logger, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if err := cfg.Load(cmd.Flags(), viper.New(), envFile); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return configureLogger(cmd, "verbose")
}

// configureLogger creates a logger with the appropriate log level based on flags.
// An explicit --log-level (or LOG_LEVEL) takes precedence over --verbose.
func configureLogger(cmd *cobra.Command, verboseFlagName string) (*logrus.Logger, error) {
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	logLevelSet := cmd.Flags().Changed("log-level") || cfg.LogLevel != config.Default().LogLevel
	if verbose, _ := cmd.Flags().GetBool(verboseFlagName); verbose && !logLevelSet {
		level = logrus.DebugLevel
	}

	return config.NewLogger(level), nil
}
