package main

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/afroash/baeder-monitor/internal/models"
	"github.com/afroash/baeder-monitor/internal/sensor"
	"github.com/afroash/baeder-monitor/internal/storage"
)

type currentEnv struct {
	root        *rootEnv
	flagNoStore bool
	flagJSON    bool
}

func getCurrentCmd(root *rootEnv) *cobra.Command {
	env := &currentEnv{root: root}
	cmd := &cobra.Command{
		Use:   "current",
		Short: "Run one refresh and print what every tile would show",
		Args:  cobra.NoArgs,
		RunE:  env.runCurrentCmd,
	}
	cmd.Flags().BoolVar(&env.flagNoStore, "no-store", false, "keep last known values in memory instead of the database")
	cmd.Flags().BoolVar(&env.flagJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func (e *currentEnv) runCurrentCmd(cmd *cobra.Command, args []string) error {
	cfg, logger, err := e.root.load()
	if err != nil {
		return err
	}
	ts := newThingSpeak(cfg, nil, logger)

	var backend storage.Backend = storage.NewMemoryBackend()
	if !e.flagNoStore {
		db, err := openDB(cfg, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		backend = db
	}
	store := storage.NewReadingStore(backend, cfg.Store.Namespace, logger)

	catalog := cfg.Catalog()
	poller := sensor.NewPoller(catalog, ts, sensor.NewResolver(store, nil, logger), nil, sensor.PollerConfig{
		LatestResults:  cfg.Telemetry.LatestResults,
		MaxConcurrency: cfg.Telemetry.MaxConcurrency,
	}, logger)
	readings := poller.RefreshOnce(cmd.Context())

	if e.flagJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(models.NewReadingsMessage(readings))
	}
	renderReadings(cmd.OutOrStdout(), readings, units(models.GroupByPool(catalog)), time.Now())
	return nil
}
