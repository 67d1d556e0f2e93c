package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/afroash/baeder-monitor/internal/client"
	"github.com/afroash/baeder-monitor/internal/config"
	"github.com/afroash/baeder-monitor/internal/metrics"
)

const version = "v0.3.0"

// rootEnv holds the flags shared by every command.
type rootEnv struct {
	flagConfig   string
	flagLogLevel string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	env := &rootEnv{}
	cmd := &cobra.Command{
		Use:           "baeder",
		Short:         "Pool temperature dashboard backed by ThingSpeak",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVarP(&env.flagConfig, "config", "c", "configs/baeder.yaml", "path to config file")
	cmd.PersistentFlags().StringVar(&env.flagLogLevel, "log-level", "", "override logging.level")

	cmd.AddCommand(
		getServeCmd(env),
		getSnapshotCmd(env),
		getCurrentCmd(env),
		getHistoryCmd(env),
		getWatchCmd(env),
	)
	return cmd
}

// load reads the config file and builds the logger it describes.
func (e *rootEnv) load() (*config.AppConfig, zerolog.Logger, error) {
	cfg, err := config.LoadAppConfig(e.flagConfig)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if e.flagLogLevel != "" {
		cfg.Logging.Level = e.flagLogLevel
	}
	logger, err := newLogger(cfg.Logging, os.Stderr)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, logger, nil
}

func newLogger(cfg config.LoggingConfig, out io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("logging level: %w", err)
	}

	w := out
	if strings.EqualFold(cfg.Format, "console") {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}

func newThingSpeak(cfg *config.AppConfig, m *metrics.Metrics, logger zerolog.Logger) *client.ThingSpeak {
	return client.NewThingSpeak(client.Config{
		BaseURL:    cfg.Telemetry.BaseURL,
		Timeout:    cfg.Telemetry.Timeout,
		MaxRetries: cfg.Telemetry.MaxRetries,
	}, m, logger.With().Str("component", "thingspeak").Logger())
}
