package common

// Environment variable keys
const (
	EnvConfigFile        = "CONFIG_FILE"
	EnvDataPath          = "DATA_PATH"
	EnvModelPath         = "MODEL_PATH"
	EnvServerPort        = "SERVER_PORT"
	EnvMetricsPort       = "METRICS_PORT"
	EnvDashboardPort     = "DASHBOARD_PORT"
	EnvLogLevel          = "LOG_LEVEL"
	EnvRequestTimeout    = "REQUEST_TIMEOUT"
	EnvDatasetSize       = "DATASET_SIZE"
	EnvTestSize          = "TEST_SIZE"
	EnvSeed              = "SEED"
	EnvApprovalThreshold = "APPROVAL_THRESHOLD"
	EnvMinGroupSize      = "MIN_GROUP_SIZE"
	EnvForestTrees       = "FOREST_TREES"
	EnvForestMaxDepth    = "FOREST_MAX_DEPTH"
	EnvBoostingRounds    = "BOOSTING_ROUNDS"
	EnvBoostingMaxDepth  = "BOOSTING_MAX_DEPTH"
	EnvLearningRate      = "LEARNING_RATE"
	EnvDriftWindowSize   = "DRIFT_WINDOW_SIZE"
	EnvDriftThreshold    = "DRIFT_THRESHOLD"
	EnvDriftCooldown     = "DRIFT_ALERT_COOLDOWN"
)

// Configuration defaults
const (
	DefaultDataPath          = "data"
	DefaultModelPath         = "models/credit.model"
	DefaultServerPort        = 8000
	DefaultMetricsPort       = 8080
	DefaultLogLevel          = "info"
	DefaultDatasetSize       = 5000
	DefaultTestSize          = 0.2
	DefaultSeed              = 42
	DefaultApprovalThreshold = 0.5
	DefaultMinGroupSize      = 10
	DefaultForestTrees       = 100
	DefaultForestMaxDepth    = 10
	DefaultBoostingRounds    = 100
	DefaultBoostingMaxDepth  = 6
	DefaultLearningRate      = 0.1
	DefaultDriftWindowSize   = 1000
	DefaultDriftThreshold    = 0.2
)

// Validation constants
const (
	MinPort           = 1024
	MaxPort           = 65535
	MinDatasetSize    = 50
	MaxDatasetSize    = 1_000_000
	MinTestSize       = 0.05
	MaxTestSize       = 0.5
	MaxTrees          = 1000
	MaxTreeDepth      = 32
	MaxMinGroupSize   = 10_000
	MinRequestTimeout = 100 // milliseconds
	MinDriftWindow    = 30
	MaxDriftWindow    = 100_000
)
