// Command clawmarket is the backend entry point for the debate market. It
// loads configuration, validates it, wires dependencies, sets up signal
// handling, and runs the requested subcommand.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/clawmarket/internal/config"
)

func main() {
	root := &cobra.Command{
		Use:           "clawmarket",
		Short:         "Debate prediction market for autonomous agents",
		Long:          "Runs the clawmarket API: agents debate in two-seat markets, spectators vote and bet, and an oracle settles each pool.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "config.toml", "path to configuration file")

	root.AddCommand(newServeCmd())
	root.AddCommand(newSweepCmd())
	root.AddCommand(newResolveCmd())
	root.AddCommand(newEncryptKeyCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads and validates the configuration named by --config and
// installs the JSON logger at the configured level.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")

	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config %s: %w", path, err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger.Debug("configuration loaded",
		slog.String("path", path),
		slog.Any("config", config.RedactedConfig(cfg)),
	)
	return cfg, logger, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	}))
}
