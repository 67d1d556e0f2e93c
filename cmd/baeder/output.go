package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/afroash/baeder-monitor/internal/models"
	"github.com/afroash/baeder-monitor/internal/sensor"
)

// units maps every tile to the unit printed after its value.
func units(pools []models.PoolInfo) map[models.SensorID]string {
	out := make(map[models.SensorID]string)
	for _, p := range pools {
		for _, t := range p.Tiles {
			out[models.SensorID{Pool: p.Key, Tile: t.Key}] = t.Unit
		}
	}
	return out
}

func withUnit(text, unit string) string {
	if text == models.Dash || unit == "" {
		return text
	}
	return text + " " + unit
}

func renderReadings(w io.Writer, readings []models.DisplayReading, unitOf map[models.SensorID]string, now time.Time) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Pool", "Tile", "Value", "Source", "Observed"})
	for _, r := range readings {
		observed := "unknown"
		if !r.ObservedAt.IsZero() {
			observed = humanize.RelTime(r.ObservedAt, now, "ago", "from now")
		}
		table.Append([]string{
			r.Sensor.Pool,
			r.Sensor.Tile,
			withUnit(r.Text(), unitOf[r.Sensor]),
			string(r.Source),
			observed,
		})
	}
	table.Render()
}

func renderHistory(w io.Writer, res sensor.HistoryResult, unit string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Date", string(res.Mode)})
	for _, p := range res.Points {
		table.Append([]string{p.DateKey(), withUnit(p.Text(), unit)})
	}
	table.SetFooter([]string{res.Zone, string(res.Origin)})
	table.Render()
}

// writeSnapshot writes blob as indented JSON to path, or to stdout for "" and "-".
// Files are replaced atomically so a reader never sees a half-written snapshot.
func writeSnapshot(path string, blob models.Blob, stdout io.Writer) error {
	data, err := json.MarshalIndent(blob, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	data = append(data, '\n')

	if path == "" || path == "-" {
		_, err := stdout.Write(data)
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*.json")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod snapshot: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
