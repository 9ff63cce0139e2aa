package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"credit-engine/internal/cfg"
	"credit-engine/internal/features"
	"credit-engine/internal/metrics"
	"credit-engine/internal/scoring"
	"credit-engine/internal/storage"
	"credit-engine/internal/training"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type options struct {
	envFile     string
	records     int
	seed        uint64
	fromDataset string
	saveDataset string
	activate    bool
	metricsFile string
	list        bool
	rollback    bool
}

func main() {
	var o options
	flag.StringVar(&o.envFile, "env", ".env", "Optional .env file to load before reading configuration")
	flag.IntVar(&o.records, "records", 0, "Number of synthetic applicants to generate (overrides DATASET_SIZE)")
	flag.Uint64Var(&o.seed, "seed", 0, "Seed for data generation and training (overrides SEED)")
	flag.StringVar(&o.fromDataset, "from-dataset", "", "Train on a dataset stored in the registry instead of generating one")
	flag.StringVar(&o.saveDataset, "save-dataset", "", "Store the generated dataset in the registry under this name")
	flag.BoolVar(&o.activate, "activate", true, "Activate the new model version after registering it")
	flag.StringVar(&o.metricsFile, "metrics-file", "", "Write training metrics to this file in Prometheus text format")
	flag.BoolVar(&o.list, "list", false, "List registered model versions and exit")
	flag.BoolVar(&o.rollback, "rollback", false, "Activate the previous model version and exit")
	flag.Parse()

	if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Str("file", o.envFile).Msg("failed to load env file")
	}

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	setupLogging(c.LogLevel)

	if o.records > 0 {
		c.DatasetSize = o.records
	}
	if o.seed > 0 {
		c.Training.Seed = o.seed
		c.Training.Forest.Seed = o.seed
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, c, o); err != nil {
		log.Fatal().Err(err).Msg("training failed")
	}
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

func run(ctx context.Context, c cfg.Settings, o options) error {
	store, err := storage.New(c.DataPath)
	if err != nil {
		return err
	}
	defer store.Close()

	switch {
	case o.list:
		return listRuns(store)
	case o.rollback:
		previous, err := store.Rollback()
		if err != nil {
			return err
		}
		log.Info().Str("version", previous.Version).Msg("rolled back active model")
		return nil
	}

	records, err := loadRecords(store, c, o)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(registry)

	model := scoring.New(
		scoring.WithConfig(c.Training),
		scoring.WithLogger(log.Logger),
		scoring.WithObserver(m),
		scoring.WithTrainingObserver(m),
		scoring.WithAuditObserver(m),
		scoring.WithDriftConfig(c.Drift),
	)
	if err := model.Train(ctx, records); err != nil {
		return err
	}

	blob, err := model.MarshalBinary()
	if err != nil {
		return err
	}
	info := model.Info()
	registered, err := store.SaveModel(storage.RunRecord{
		Version:     info.Version,
		Performance: info.Performance,
		Bias:        info.Bias,
	}, blob)
	if err != nil {
		return fmt.Errorf("register model: %w", err)
	}
	if o.activate {
		if err := store.Activate(registered.Version); err != nil {
			return fmt.Errorf("activate model: %w", err)
		}
	}

	if err := model.Save(c.ModelPath); err != nil {
		return err
	}

	log.Info().
		Str("version", registered.Version).
		Uint64("sequence", registered.Sequence).
		Bool("active", o.activate).
		Str("model_path", c.ModelPath).
		Int("bytes", len(blob)).
		Msg("model registered")

	if o.metricsFile != "" {
		if err := prometheus.WriteToTextfile(o.metricsFile, registry); err != nil {
			return fmt.Errorf("write metrics file: %w", err)
		}
	}

	printSummary(info, model.FeatureImportance())
	return nil
}

func loadRecords(store *storage.Store, c cfg.Settings, o options) ([]features.Record, error) {
	if o.fromDataset != "" {
		records, err := store.LoadDataset(o.fromDataset)
		if err != nil {
			return nil, fmt.Errorf("load dataset %s: %w", o.fromDataset, err)
		}
		log.Info().Str("dataset", o.fromDataset).Int("records", len(records)).Msg("loaded stored dataset")
		return records, nil
	}

	records, err := training.GenerateDataset(c.DatasetSize, c.Training.Seed)
	if err != nil {
		return nil, err
	}
	log.Info().
		Int("records", len(records)).
		Float64("approval_rate", training.ApprovalRate(records)).
		Msg("generated synthetic dataset")

	if o.saveDataset != "" {
		if err := store.StoreDataset(o.saveDataset, records); err != nil {
			return nil, fmt.Errorf("store dataset %s: %w", o.saveDataset, err)
		}
	}
	return records, nil
}

func listRuns(store *storage.Store) error {
	runs, err := store.ListRuns()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no registered models")
		return nil
	}

	fmt.Printf("%-4s %-38s %-20s %-8s %-8s %-6s\n", "SEQ", "VERSION", "CREATED", "AUC", "DI", "ACTIVE")
	for _, r := range runs {
		active := ""
		if r.Active {
			active = "*"
		}
		fmt.Printf("%-4d %-38s %-20s %-8.4f %-8.4f %-6s\n",
			r.Sequence, r.Version, r.CreatedAt.Format("2006-01-02 15:04:05"),
			r.Performance.ROCAUC, r.Bias.DisparateImpact, active)
	}
	return nil
}

func printSummary(info scoring.Info, importance training.ImportanceTable) {
	p := info.Performance
	fmt.Println("=== Training Summary ===")
	fmt.Printf("Version: %s\n", info.Version)
	fmt.Printf("Samples: %d train / %d test\n", p.TrainingSamples, p.TestSamples)
	fmt.Printf("Accuracy: %.4f  Precision: %.4f  Recall: %.4f  F1: %.4f\n", p.Accuracy, p.Precision, p.Recall, p.F1Score)
	fmt.Printf("ROC-AUC: %.4f\n", p.ROCAUC)
	fmt.Printf("Disparate impact: %.4f  Parity difference: %.4f  Groups: %d\n",
		info.Bias.DisparateImpact, info.Bias.StatisticalParityDifference, info.Bias.DemographicGroupsAnalyzed)
	fmt.Println("Top features:")
	for i, w := range importance {
		if i == 5 {
			break
		}
		fmt.Printf("  %-28s %.4f\n", features.Label(w.Feature), w.Importance)
	}
	fmt.Println("========================")
}
