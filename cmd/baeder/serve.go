package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/afroash/baeder-monitor/internal/config"
	"github.com/afroash/baeder-monitor/internal/metrics"
	"github.com/afroash/baeder-monitor/internal/models"
	"github.com/afroash/baeder-monitor/internal/sensor"
	"github.com/afroash/baeder-monitor/internal/server"
	"github.com/afroash/baeder-monitor/internal/storage"
)

func getServeCmd(root *rootEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard server and the refresh loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}

			ln, err := net.Listen("tcp", cfg.Server.Addr())
			if err != nil {
				return fmt.Errorf("listen on %s: %w", cfg.Server.Addr(), err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, ln, logger)
		},
	}
}

// serve runs until ctx is cancelled, then shuts everything down in order.
func serve(ctx context.Context, cfg *config.AppConfig, ln net.Listener, logger zerolog.Logger) error {
	logger.Info().
		Str("version", version).
		Str("addr", ln.Addr().String()).
		Int("tiles", len(cfg.Catalog())).
		Msg("Starting baeder dashboard")

	loc, err := cfg.History.Location()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)
	ts := newThingSpeak(cfg, m, logger)

	db, err := openDB(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		db.Close()
		logger.Info().Msg("SQLiteStore closed")
	}()

	store := storage.NewReadingStore(db, cfg.Store.Namespace, logger.With().Str("component", "store").Logger())
	catalog := cfg.Catalog()
	board := server.NewBoard(catalog)

	if cfg.Snapshot.Source != "" {
		blob := sensor.LoadSnapshot(ctx, cfg.Snapshot.Source, ts.HTTPClient(), logger)
		applied := sensor.Bootstrap(blob, store)
		board.Publish(applied)
		logger.Info().Int("applied", len(applied)).Str("source", cfg.Snapshot.Source).Msg("Snapshot bootstrapped")
	}

	resolver := sensor.NewResolver(store, m, logger)
	poller := sensor.NewPoller(catalog, ts, resolver, board, sensor.PollerConfig{
		Interval:       cfg.Refresh.Interval,
		LatestResults:  cfg.Telemetry.LatestResults,
		MaxConcurrency: cfg.Telemetry.MaxConcurrency,
	}, logger.With().Str("component", "poller").Logger())
	poller.SetRecorder(m)

	history := sensor.NewHistoryService(ts, cfg.Telemetry.SeriesCacheTTL, logger.With().Str("component", "history").Logger())
	history.SetRecorder(m)

	hub := server.NewHub(board, version, logger.With().Str("component", "ws").Logger(), cfg.Server.AllowedOrigins...)
	hub.SetGauge(m)
	board.OnUpdate(hub.Broadcast)

	api := server.NewAPIHandler(board, history, cfg.History, loc, version, logger)
	api.AddStats("store", func() (any, error) {
		return map[string]any{"namespace": cfg.Store.Namespace, "entries": store.Len()}, nil
	})
	api.AddStats("refresh", func() (any, error) { return poller.LastCycle(), nil })
	api.AddStats("database", func() (any, error) { return db.GetStorageStats() })
	api.AddStats("websocket", func() (any, error) { return hub.Clients(), nil })

	var writer *storage.ArchiveWriter
	var cleaner *storage.RetentionCleaner
	if cfg.Archive.IsEnabled() {
		writer = storage.NewArchiveWriter(db, storage.ArchiveWriterConfig{
			BatchSize:   cfg.Archive.BatchSize,
			FlushPeriod: cfg.Archive.FlushPeriod,
			QueueSize:   cfg.Archive.QueueSize,
		}, logger.With().Str("component", "archive").Logger())
		cleaner = storage.NewRetentionCleaner(db, storage.RetentionConfig{
			RetentionDays: cfg.Archive.RetentionDays,
			Period:        cfg.Archive.CleanupPeriod,
			Keep:          sensorIDs(catalog),
		}, logger.With().Str("component", "retention").Logger())
		cleaner.SetRecorder(m)

		poller.SetArchive(writer)
		history.SetArchive(db)
		api.AddStats("archive_writer", func() (any, error) { return writer.Stats(), nil })
		api.AddStats("retention", func() (any, error) { return cleaner.Stats(), nil })
	}

	httpServer := &http.Server{
		Handler: server.NewRouter(server.RouterConfig{
			API:            api,
			Hub:            hub,
			Metrics:        m,
			MetricsHandler: metrics.Handler(reg),
			AllowedOrigins: cfg.Server.AllowedOrigins,
			StaticDir:      cfg.Server.StaticDir,
			Logger:         logger,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := poller.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if cleaner != nil {
		g.Go(func() error {
			cleaner.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		logger.Info().Str("addr", ln.Addr().String()).Msg("Server listening")
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down server...")

		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Server shutdown error")
		}
		return nil
	})

	err = g.Wait()

	// the poller has stopped, so nothing writes to the archive any more
	if writer != nil {
		writer.Close()
	}
	logger.Info().Msg("Server stopped")
	return err
}

func sensorIDs(bindings []models.Binding) []models.SensorID {
	ids := make([]models.SensorID, len(bindings))
	for i, b := range bindings {
		ids[i] = b.Sensor
	}
	return ids
}

// openDB opens the SQLite file, creating its directory first.
func openDB(cfg *config.AppConfig, logger zerolog.Logger) (*storage.SQLiteStore, error) {
	if dir := filepath.Dir(cfg.Store.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	db, err := storage.NewSQLiteStore(cfg.Store.DBPath, logger.With().Str("component", "sqlite").Logger())
	if err != nil {
		return nil, err
	}
	return db, nil
}
