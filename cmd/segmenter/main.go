package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mini-rodalies-3d/segmenter/internal/config"
	"github.com/mini-rodalies-3d/segmenter/internal/db"
	"github.com/mini-rodalies-3d/segmenter/internal/logging"
	"github.com/mini-rodalies-3d/segmenter/internal/metrics"
	"github.com/mini-rodalies-3d/segmenter/internal/osm"
	"github.com/mini-rodalies-3d/segmenter/internal/output"
	"github.com/mini-rodalies-3d/segmenter/internal/publisher"
	"github.com/mini-rodalies-3d/segmenter/internal/segment"
	"github.com/mini-rodalies-3d/segmenter/internal/street"
	"github.com/mini-rodalies-3d/segmenter/internal/telemetry"
	"github.com/mini-rodalies-3d/segmenter/internal/trip"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (default $SEGMENTER_CONFIG)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [-config file] <input.csv|feed.pb|feed-dir>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	inputPath := flag.Arg(0)

	if err := run(*configPath, inputPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the collaborators and processes one input. It returns instead of
// exiting so that every deferred close runs first.
func run(configPath, inputPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Starting segmenter...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ═══════════════════════════════════════════════════════
	// PHASE 1: Open Input
	// ═══════════════════════════════════════════════════════
	src, err := telemetry.Open(inputPath, cfg.Input.Format, cfg.Input.VehicleID)
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	logger.WithField("input", inputPath).Info("Input opened")

	// ═══════════════════════════════════════════════════════
	// PHASE 2: Metrics
	// ═══════════════════════════════════════════════════════
	collector := metrics.NewCollector()
	if cfg.Metrics.Addr != "" {
		srv := collector.Serve(cfg.Metrics.Addr, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// ═══════════════════════════════════════════════════════
	// PHASE 3: Geocoding Collaborators
	// ═══════════════════════════════════════════════════════
	geocoder := osm.NewNominatim(osm.Options{
		BaseURL:        cfg.Nominatim.URL,
		UserAgent:      cfg.Nominatim.UserAgent,
		Timeout:        cfg.HTTP.Timeout,
		RatePerSecond:  cfg.Nominatim.Rate,
		MaxAttempts:    cfg.HTTP.RetryMaxAttempts,
		InitialBackoff: cfg.HTTP.RetryInitialInterval,
		Logger:         logger,
		Metrics:        collector,
	})
	nodes := osm.NewOverpass(osm.Options{
		BaseURL:        cfg.Overpass.URL,
		UserAgent:      cfg.Nominatim.UserAgent,
		Timeout:        cfg.HTTP.Timeout,
		RatePerSecond:  cfg.Overpass.Rate,
		MaxAttempts:    cfg.HTTP.RetryMaxAttempts,
		InitialBackoff: cfg.HTTP.RetryInitialInterval,
		Logger:         logger,
		Metrics:        collector,
	})
	locator := street.NewLocator(geocoder, nodes)

	// ═══════════════════════════════════════════════════════
	// PHASE 4: Output Sinks
	// ═══════════════════════════════════════════════════════
	runID := uuid.New().String()
	startedAt := time.Now()
	var sinks []trip.Sink
	var onFirstSeen func(segment.Match)

	if cfg.Output.Console {
		console := output.NewConsoleSink(os.Stdout)
		sinks = append(sinks, console)
		onFirstSeen = console.SegmentFound
	}

	if cfg.Output.File != "" {
		fileSink, err := output.NewFileSink(cfg.Output.File)
		if err != nil {
			logger.WithError(err).Error("Output file disabled")
		} else {
			defer fileSink.Close()
			sinks = append(sinks, fileSink)
		}
	}

	var stores []db.Store
	if cfg.SQLite.Path != "" {
		if store, err := openSQLite(ctx, cfg.SQLite.Path, logger); err != nil {
			logger.WithError(err).Error("SQLite output disabled")
		} else {
			stores = append(stores, store)
		}
	}
	if cfg.Postgres.URL != "" {
		if store, err := openPostgres(ctx, cfg.Postgres.URL, logger); err != nil {
			logger.WithError(err).Error("PostgreSQL output disabled")
		} else {
			stores = append(stores, store)
		}
	}
	for _, store := range stores {
		defer store.Close()
		if err := store.BeginRun(ctx, runID, inputPath, startedAt); err != nil {
			logger.WithError(err).Error("Failed to record run, SQL output disabled for this store")
			continue
		}
		sinks = append(sinks, store)
	}

	if cfg.NATS.URL != "" {
		pub, err := publisher.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.Subject, logger, collector)
		if err != nil {
			logger.WithError(err).Error("NATS output disabled")
		} else {
			defer pub.Close()
			sinks = append(sinks, pub)
		}
	}

	// ═══════════════════════════════════════════════════════
	// PHASE 5: Run
	// ═══════════════════════════════════════════════════════
	seg := trip.New(locator, trip.Options{
		RunID:         runID,
		FlushTrailing: cfg.Output.FlushTrailing,
		ProgressEvery: cfg.Output.ProgressEvery,
		Logger:        logger,
		Metrics:       collector,
		OnFirstSeen:   onFirstSeen,
	}, sinks...)

	summary, err := seg.Run(ctx, src)
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	// ═══════════════════════════════════════════════════════
	// PHASE 6: Housekeeping
	// ═══════════════════════════════════════════════════════
	if cfg.Metrics.Textfile != "" {
		if err := collector.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			logger.WithError(err).Error("Failed to write metrics textfile")
		}
	}

	cleanupCtx := context.WithoutCancel(ctx)
	for _, store := range stores {
		if err := store.Cleanup(cleanupCtx, cfg.Retention()); err != nil {
			logger.WithError(err).Error("Cleanup error")
		}
	}

	logger.WithFields(logrus.Fields{
		"run_id":      summary.RunID,
		"interrupted": summary.Interrupted,
		"elapsed":     time.Since(startedAt).Round(time.Millisecond),
	}).Info("Goodbye!")
	return nil
}

func openSQLite(ctx context.Context, path string, logger logrus.FieldLogger) (*db.DB, error) {
	database, err := db.Connect(path, logger)
	if err != nil {
		return nil, err
	}
	if err := database.EnsureSchema(ctx); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

func openPostgres(ctx context.Context, url string, logger logrus.FieldLogger) (*db.PostgresStore, error) {
	store, err := db.NewPostgresStore(ctx, url, logger)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}
