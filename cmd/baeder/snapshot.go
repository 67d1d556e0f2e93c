package main

import (
	"github.com/spf13/cobra"

	"github.com/afroash/baeder-monitor/internal/sensor"
)

type snapshotEnv struct {
	root       *rootEnv
	flagOutput string
}

func getSnapshotCmd(root *rootEnv) *cobra.Command {
	env := &snapshotEnv{root: root}
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Fetch the latest value of every tile and write the snapshot document",
		Long: `Fetches the most recent entry of every configured field and writes the
pool -> tile -> {v, at} document that "serve" loads at startup.
Nothing is written when any request fails.`,
		Args: cobra.NoArgs,
		RunE: env.runSnapshotCmd,
	}
	cmd.Flags().StringVarP(&env.flagOutput, "output", "o", "-", "output file, - for stdout")
	return cmd
}

func (e *snapshotEnv) runSnapshotCmd(cmd *cobra.Command, args []string) error {
	cfg, logger, err := e.root.load()
	if err != nil {
		return err
	}
	ts := newThingSpeak(cfg, nil, logger)

	blob, err := sensor.BuildSnapshot(cmd.Context(), cfg.Catalog(), ts)
	if err != nil {
		return err
	}
	if err := writeSnapshot(e.flagOutput, blob, cmd.OutOrStdout()); err != nil {
		return err
	}
	logger.Info().Int("tiles", blob.Len()).Str("output", e.flagOutput).Msg("Snapshot written")
	return nil
}
