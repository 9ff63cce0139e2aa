package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"credit-engine/internal/cfg"
	"credit-engine/internal/dashboard"
	"credit-engine/internal/metrics"
	"credit-engine/internal/scoring"
	"credit-engine/internal/server"
	"credit-engine/internal/storage"
	"credit-engine/internal/training"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	var (
		envFile        = flag.String("env", ".env", "Optional .env file to load before reading configuration")
		trainIfMissing = flag.Bool("train-if-missing", false, "Train on a synthetic dataset when no stored model is found")
	)
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Str("file", *envFile).Msg("failed to load env file")
	}

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	setupLogging(c.LogLevel)

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	tally := dashboard.NewTally()
	model := scoring.New(
		scoring.WithConfig(c.Training),
		scoring.WithLogger(log.Logger),
		scoring.WithObserver(scoring.Observers{m, tally}),
		scoring.WithTrainingObserver(m),
		scoring.WithAuditObserver(m),
		scoring.WithDriftConfig(c.Drift),
		scoring.WithDriftObserver(m),
	)

	store := initializeStorage(c)
	if store != nil {
		defer store.Close()
	}

	if err := loadModel(model, store, c); err != nil {
		log.Warn().Err(err).Msg("no stored model available")
		if *trainIfMissing {
			trainModel(ctx, model, c)
		}
	}

	var wg sync.WaitGroup
	startMetricsServer(ctx, &wg, c)
	if c.DashboardPort != 0 {
		startDashboard(ctx, &wg, model, tally, c.DashboardPort)
	}

	api := server.New(model, c.ServerPort,
		server.WithLogger(log.Logger),
		server.WithObserver(m),
		server.WithRequestTimeout(c.RequestTimeout),
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := api.Start(); err != nil {
			log.Error().Err(err).Msg("credit api failed")
			cancel()
		}
	}()

	waitForShutdown(ctx, cancel, model, store, c)

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := api.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to shutdown credit api")
	}
	wg.Wait()
	log.Info().Msg("credit engine stopped")
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// initializeStorage opens the model registry, continuing without it on failure.
func initializeStorage(c cfg.Settings) *storage.Store {
	store, err := storage.New(c.DataPath)
	if err != nil {
		log.Warn().Err(err).Msg("storage initialization failed, continuing without registry")
		return nil
	}
	return store
}

// loadModel installs the active registry version, falling back to the model
// file.
func loadModel(model *scoring.Model, store *storage.Store, c cfg.Settings) error {
	if store != nil {
		err := loadActive(model, store)
		if err == nil {
			return nil
		}
		log.Warn().Err(err).Msg("active model unavailable, trying model file")
	}

	if err := model.Load(c.ModelPath); err != nil {
		return err
	}
	log.Info().Str("path", c.ModelPath).Str("version", model.Info().Version).Msg("model loaded from file")
	return nil
}

func loadActive(model *scoring.Model, store *storage.Store) error {
	run, err := store.Active()
	if err != nil {
		return err
	}
	blob, err := store.LoadModel(run.Version)
	if err != nil {
		return err
	}
	if err := model.UnmarshalBinary(blob); err != nil {
		return fmt.Errorf("decode model %s: %w", run.Version, err)
	}
	log.Info().Str("version", run.Version).Msg("active model loaded from registry")
	return nil
}

func trainModel(ctx context.Context, model *scoring.Model, c cfg.Settings) {
	records, err := training.GenerateDataset(c.DatasetSize, c.Training.Seed)
	if err != nil {
		log.Error().Err(err).Msg("failed to generate training data")
		return
	}
	if err := model.Train(ctx, records); err != nil {
		log.Error().Err(err).Msg("startup training failed, serving without a model")
	}
}

// startMetricsServer starts the Prometheus metrics HTTP server
func startMetricsServer(ctx context.Context, wg *sync.WaitGroup, c cfg.Settings) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", c.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error().Err(err).Msg("failed to shutdown metrics server")
		}
	}()
	go func() {
		defer wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

func startDashboard(ctx context.Context, wg *sync.WaitGroup, model *scoring.Model, tally *dashboard.Tally, port int) {
	d := dashboard.New(model, tally, port, dashboard.WithLogger(log.Logger))
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := d.Run(ctx); err != nil {
			log.Error().Err(err).Msg("dashboard failed")
		}
	}()
}

// waitForShutdown blocks until a termination signal. SIGHUP reloads the
// active model without restarting.
func waitForShutdown(ctx context.Context, cancel context.CancelFunc, model *scoring.Model, store *storage.Store, c cfg.Settings) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				if err := loadModel(model, store, c); err != nil {
					log.Error().Err(err).Msg("model reload failed, keeping current model")
				}
				continue
			}
			log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		case <-ctx.Done():
			log.Info().Msg("context canceled")
		}

		log.Info().Msg("shutting down gracefully...")
		cancel()
		return
	}
}
