package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/afroash/baeder-monitor/internal/models"
	"github.com/afroash/baeder-monitor/internal/sensor"
)

type historyEnv struct {
	root        *rootEnv
	flagDays    int
	flagMode    string
	flagTZ      string
	flagArchive bool
	flagJSON    bool
}

func getHistoryCmd(root *rootEnv) *cobra.Command {
	env := &historyEnv{root: root}
	cmd := &cobra.Command{
		Use:     "history <pool> <tile>",
		Short:   "Print the daily average or maximum of a tile",
		Example: "  baeder history filple swim --days 14 --mode max",
		Args:    cobra.ExactArgs(2),
		RunE:    env.runHistoryCmd,
	}
	cmd.Flags().IntVarP(&env.flagDays, "days", "d", 0, "window in days (default history.default_days)")
	cmd.Flags().StringVarP(&env.flagMode, "mode", "m", string(sensor.ModeAvg), "avg or max")
	cmd.Flags().StringVar(&env.flagTZ, "tz", "", "IANA timezone for day boundaries (default history.timezone)")
	cmd.Flags().BoolVar(&env.flagArchive, "archive", false, "fall back to the local sample archive when ThingSpeak fails")
	cmd.Flags().BoolVar(&env.flagJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func (e *historyEnv) runHistoryCmd(cmd *cobra.Command, args []string) error {
	cfg, logger, err := e.root.load()
	if err != nil {
		return err
	}

	binding, err := cfg.Lookup(models.SensorID{Pool: args[0], Tile: args[1]})
	if err != nil {
		return err
	}
	mode, err := sensor.ParseMode(e.flagMode)
	if err != nil {
		return err
	}
	loc, err := cfg.History.Location()
	if err != nil {
		return err
	}
	if e.flagTZ != "" {
		if loc, err = time.LoadLocation(e.flagTZ); err != nil {
			return fmt.Errorf("timezone %q: %w", e.flagTZ, err)
		}
	}

	history := sensor.NewHistoryService(newThingSpeak(cfg, nil, logger), 0, logger)
	if e.flagArchive {
		if _, err := os.Stat(cfg.Store.DBPath); err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		db, err := openDB(cfg, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		history.SetArchive(db)
	}

	res := history.Daily(cmd.Context(), sensor.HistoryRequest{
		Binding:  binding,
		Days:     cfg.History.ClampDays(e.flagDays),
		Mode:     mode,
		Location: loc,
	})

	if e.flagJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	renderHistory(cmd.OutOrStdout(), res, binding.Unit)
	return nil
}
