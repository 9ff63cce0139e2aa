package cfg

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"credit-engine/internal/common"
	"credit-engine/internal/drift"
	"credit-engine/internal/ml"
	"credit-engine/internal/training"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	DataPath       string
	ModelPath      string
	ServerPort     int
	MetricsPort    int
	DashboardPort  int // 0 disables the dashboard
	LogLevel       string
	RequestTimeout time.Duration
	DatasetSize    int
	Training       training.Config
	Drift          drift.Config
}

type ConfigFile struct {
	System struct {
		DataPath       string `yaml:"dataPath"`
		ModelPath      string `yaml:"modelPath"`
		ServerPort     int    `yaml:"serverPort"`
		MetricsPort    int    `yaml:"metricsPort"`
		DashboardPort  int    `yaml:"dashboardPort"`
		LogLevel       string `yaml:"logLevel"`
		RequestTimeout string `yaml:"requestTimeout"`
	} `yaml:"system"`

	Training struct {
		DatasetSize  int               `yaml:"datasetSize"`
		TestSize     float64           `yaml:"testSize"`
		Seed         uint64            `yaml:"seed"`
		Threshold    float64           `yaml:"threshold"`
		MinGroupSize int               `yaml:"minGroupSize"`
		Forest       ml.ForestConfig   `yaml:"forest"`
		Boosting     ml.BoostingConfig `yaml:"boosting"`
	} `yaml:"training"`

	Drift struct {
		WindowSize    int     `yaml:"windowSize"`
		Threshold     float64 `yaml:"threshold"`
		AlertCooldown string  `yaml:"alertCooldown"`
	} `yaml:"drift"`
}

func Load() (Settings, error) {
	// Try to load from YAML file first
	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}

	// Fallback to environment variables
	return loadFromEnv()
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	requestTimeout, err := time.ParseDuration(config.System.RequestTimeout)
	if err != nil {
		requestTimeout = 5 * time.Second
	}

	alertCooldown, err := time.ParseDuration(config.Drift.AlertCooldown)
	if err != nil {
		alertCooldown = time.Hour
	}

	t := config.Training
	settings := Settings{
		DataPath:       getEnvOrDefault(common.EnvDataPath, orString(config.System.DataPath, common.DefaultDataPath)),
		ModelPath:      getEnvOrDefault(common.EnvModelPath, orString(config.System.ModelPath, common.DefaultModelPath)),
		ServerPort:     getIntFromEnvOrConfig(common.EnvServerPort, config.System.ServerPort, common.DefaultServerPort),
		MetricsPort:    getIntFromEnvOrConfig(common.EnvMetricsPort, config.System.MetricsPort, common.DefaultMetricsPort),
		DashboardPort:  getIntFromEnvOrConfig(common.EnvDashboardPort, config.System.DashboardPort, 0),
		LogLevel:       getEnvOrDefault(common.EnvLogLevel, orString(config.System.LogLevel, common.DefaultLogLevel)),
		RequestTimeout: getDurationOrDefault(common.EnvRequestTimeout, requestTimeout),
		DatasetSize:    getIntFromEnvOrConfig(common.EnvDatasetSize, t.DatasetSize, common.DefaultDatasetSize),
		Training: training.Config{
			TestSize:     getFloatFromEnvOrConfig(common.EnvTestSize, t.TestSize, common.DefaultTestSize),
			Seed:         getUintFromEnvOrConfig(common.EnvSeed, t.Seed, common.DefaultSeed),
			Threshold:    getFloatFromEnvOrConfig(common.EnvApprovalThreshold, t.Threshold, common.DefaultApprovalThreshold),
			MinGroupSize: getIntFromEnvOrConfig(common.EnvMinGroupSize, t.MinGroupSize, common.DefaultMinGroupSize),
			Forest: ml.ForestConfig{
				Trees:          getIntFromEnvOrConfig(common.EnvForestTrees, t.Forest.Trees, common.DefaultForestTrees),
				MaxDepth:       getIntFromEnvOrConfig(common.EnvForestMaxDepth, t.Forest.MaxDepth, common.DefaultForestMaxDepth),
				MinSamplesLeaf: max(t.Forest.MinSamplesLeaf, 1),
				MaxFeatures:    t.Forest.MaxFeatures,
				Seed:           getUintFromEnvOrConfig(common.EnvSeed, t.Forest.Seed, common.DefaultSeed),
			},
			Boosting: ml.BoostingConfig{
				Rounds:         getIntFromEnvOrConfig(common.EnvBoostingRounds, t.Boosting.Rounds, common.DefaultBoostingRounds),
				MaxDepth:       getIntFromEnvOrConfig(common.EnvBoostingMaxDepth, t.Boosting.MaxDepth, common.DefaultBoostingMaxDepth),
				MinSamplesLeaf: max(t.Boosting.MinSamplesLeaf, 1),
				LearningRate:   getFloatFromEnvOrConfig(common.EnvLearningRate, t.Boosting.LearningRate, common.DefaultLearningRate),
			},
		},
		Drift: drift.Config{
			WindowSize:    getIntFromEnvOrConfig(common.EnvDriftWindowSize, config.Drift.WindowSize, common.DefaultDriftWindowSize),
			Threshold:     getFloatFromEnvOrConfig(common.EnvDriftThreshold, config.Drift.Threshold, common.DefaultDriftThreshold),
			AlertCooldown: getDurationOrDefault(common.EnvDriftCooldown, alertCooldown),
		},
	}

	// Validate configuration
	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func loadFromEnv() (Settings, error) {
	seed := getUintOrDefault(common.EnvSeed, common.DefaultSeed)

	settings := Settings{
		DataPath:       getEnvOrDefault(common.EnvDataPath, common.DefaultDataPath),
		ModelPath:      getEnvOrDefault(common.EnvModelPath, common.DefaultModelPath),
		ServerPort:     getIntOrDefault(common.EnvServerPort, common.DefaultServerPort),
		MetricsPort:    getIntOrDefault(common.EnvMetricsPort, common.DefaultMetricsPort),
		DashboardPort:  getIntOrDefault(common.EnvDashboardPort, 0),
		LogLevel:       getEnvOrDefault(common.EnvLogLevel, common.DefaultLogLevel),
		RequestTimeout: getDurationOrDefault(common.EnvRequestTimeout, 5*time.Second),
		DatasetSize:    getIntOrDefault(common.EnvDatasetSize, common.DefaultDatasetSize),
		Training: training.Config{
			TestSize:     getFloatOrDefault(common.EnvTestSize, common.DefaultTestSize),
			Seed:         seed,
			Threshold:    getFloatOrDefault(common.EnvApprovalThreshold, common.DefaultApprovalThreshold),
			MinGroupSize: getIntOrDefault(common.EnvMinGroupSize, common.DefaultMinGroupSize),
			Forest: ml.ForestConfig{
				Trees:          getIntOrDefault(common.EnvForestTrees, common.DefaultForestTrees),
				MaxDepth:       getIntOrDefault(common.EnvForestMaxDepth, common.DefaultForestMaxDepth),
				MinSamplesLeaf: 1,
				Seed:           seed,
			},
			Boosting: ml.BoostingConfig{
				Rounds:         getIntOrDefault(common.EnvBoostingRounds, common.DefaultBoostingRounds),
				MaxDepth:       getIntOrDefault(common.EnvBoostingMaxDepth, common.DefaultBoostingMaxDepth),
				MinSamplesLeaf: 1,
				LearningRate:   getFloatOrDefault(common.EnvLearningRate, common.DefaultLearningRate),
			},
		},
		Drift: drift.Config{
			WindowSize:    getIntOrDefault(common.EnvDriftWindowSize, common.DefaultDriftWindowSize),
			Threshold:     getFloatOrDefault(common.EnvDriftThreshold, common.DefaultDriftThreshold),
			AlertCooldown: getDurationOrDefault(common.EnvDriftCooldown, time.Hour),
		},
	}

	// Validate configuration
	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func orString(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getUintOrDefault(key string, defaultValue uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if u, err := strconv.ParseUint(v, 10, 64); err == nil {
			return u
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if configValue != 0 {
		defaultValue = configValue
	}
	return getIntOrDefault(key, defaultValue)
}

func getUintFromEnvOrConfig(key string, configValue, defaultValue uint64) uint64 {
	if configValue != 0 {
		defaultValue = configValue
	}
	return getUintOrDefault(key, defaultValue)
}

func getFloatFromEnvOrConfig(key string, configValue, defaultValue float64) float64 {
	if configValue != 0 {
		defaultValue = configValue
	}
	return getFloatOrDefault(key, defaultValue)
}

// validateSettings performs range validation of configuration values
func validateSettings(settings *Settings) error {
	if settings.DataPath == "" {
		return fmt.Errorf("data path cannot be empty")
	}
	if settings.ModelPath == "" {
		return fmt.Errorf("model path cannot be empty")
	}

	if _, err := zerolog.ParseLevel(settings.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", settings.LogLevel, err)
	}

	if settings.ServerPort < common.MinPort || settings.ServerPort > common.MaxPort {
		return fmt.Errorf("server port must be between %d and %d, got %d", common.MinPort, common.MaxPort, settings.ServerPort)
	}
	if settings.MetricsPort < common.MinPort || settings.MetricsPort > common.MaxPort {
		return fmt.Errorf("metrics port must be between %d and %d, got %d", common.MinPort, common.MaxPort, settings.MetricsPort)
	}
	if settings.ServerPort == settings.MetricsPort {
		return fmt.Errorf("server and metrics ports must differ, both are %d", settings.ServerPort)
	}
	if p := settings.DashboardPort; p != 0 {
		if p < common.MinPort || p > common.MaxPort {
			return fmt.Errorf("dashboard port must be 0 or between %d and %d, got %d", common.MinPort, common.MaxPort, p)
		}
		if p == settings.ServerPort || p == settings.MetricsPort {
			return fmt.Errorf("dashboard port %d collides with the server or metrics port", p)
		}
	}
	if settings.RequestTimeout < common.MinRequestTimeout*time.Millisecond || settings.RequestTimeout > time.Minute {
		return fmt.Errorf("request timeout must be between 100ms and 1m, got %v", settings.RequestTimeout)
	}

	if settings.DatasetSize < common.MinDatasetSize || settings.DatasetSize > common.MaxDatasetSize {
		return fmt.Errorf("dataset size must be between %d and %d, got %d", common.MinDatasetSize, common.MaxDatasetSize, settings.DatasetSize)
	}

	t := settings.Training
	if t.TestSize < common.MinTestSize || t.TestSize > common.MaxTestSize {
		return fmt.Errorf("test size must be between %.2f and %.2f, got %f", common.MinTestSize, common.MaxTestSize, t.TestSize)
	}
	if t.Threshold <= 0 || t.Threshold >= 1 {
		return fmt.Errorf("approval threshold must be between 0 and 1, got %f", t.Threshold)
	}
	if t.MinGroupSize < 0 || t.MinGroupSize > common.MaxMinGroupSize {
		return fmt.Errorf("minimum group size must be between 0 and %d, got %d", common.MaxMinGroupSize, t.MinGroupSize)
	}

	if t.Forest.Trees <= 0 || t.Forest.Trees > common.MaxTrees {
		return fmt.Errorf("forest trees must be between 1 and %d, got %d", common.MaxTrees, t.Forest.Trees)
	}
	if t.Forest.MaxDepth <= 0 || t.Forest.MaxDepth > common.MaxTreeDepth {
		return fmt.Errorf("forest max depth must be between 1 and %d, got %d", common.MaxTreeDepth, t.Forest.MaxDepth)
	}
	if t.Boosting.Rounds <= 0 || t.Boosting.Rounds > common.MaxTrees {
		return fmt.Errorf("boosting rounds must be between 1 and %d, got %d", common.MaxTrees, t.Boosting.Rounds)
	}
	if t.Boosting.MaxDepth <= 0 || t.Boosting.MaxDepth > common.MaxTreeDepth {
		return fmt.Errorf("boosting max depth must be between 1 and %d, got %d", common.MaxTreeDepth, t.Boosting.MaxDepth)
	}
	if t.Boosting.LearningRate <= 0 || t.Boosting.LearningRate > 1 {
		return fmt.Errorf("learning rate must be between 0 and 1, got %f", t.Boosting.LearningRate)
	}

	d := settings.Drift
	if d.WindowSize < common.MinDriftWindow || d.WindowSize > common.MaxDriftWindow {
		return fmt.Errorf("drift window size must be between %d and %d, got %d", common.MinDriftWindow, common.MaxDriftWindow, d.WindowSize)
	}
	if d.Threshold <= 0 {
		return fmt.Errorf("drift threshold must be positive, got %f", d.Threshold)
	}
	if d.AlertCooldown < 0 {
		return fmt.Errorf("drift alert cooldown cannot be negative, got %v", d.AlertCooldown)
	}

	return nil
}
