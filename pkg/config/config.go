package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
// ⭐ SSOT: every environment variable is read here, once, at startup.
// The value is immutable after Load and passed into each component.
type Config struct {
	// Server
	Env string // development, staging, production

	// Database
	Database DatabaseConfig

	// Redis
	Redis RedisConfig

	// Universe
	Tickers       []string
	SectorMapPath string // optional YAML ticker→sector table

	// Feature pipeline
	Features FeatureConfig

	// Model training / inference
	Model ModelConfig

	// Backtest
	Backtest BacktestConfig

	// Artifacts
	ArtifactDir string

	// Logging
	LogLevel  string
	LogFormat string
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	URL             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// FeatureConfig holds feature-engineering knobs.
type FeatureConfig struct {
	LookbackDays     int     // days of price history fetched for indicators
	FundFfillDays    int     // forward-fill cap for fundamentals (calendar days)
	NaNDropThreshold float64 // drop columns with null fraction above this
	WeightQuality    float64
	WeightValuation  float64
	WeightMomentum   float64
	WeightSentiment  float64
}

// ModelConfig holds CV and gradient-boosting hyperparameters.
type ModelConfig struct {
	CVSplits      int
	EmbargoDays   int
	TestSize      float64
	Seed          int64
	HorizonDays   int
	MinFeatures   int // minimum non-null features per row for train/infer
	Trees         int
	LearningRate  float64
	MaxDepth      int
	MinLeaf       int
	Subsample     float64
	ColSample     float64
	Lambda        float64
	EarlyStopping int
}

// BacktestConfig holds long/short simulation parameters.
type BacktestConfig struct {
	LongThreshold  float64
	ShortThreshold float64
	MaxLong        int
	MaxShort       int
	MaxGross       int
	CostBps        float64
	RebalanceDays  int
	PeriodsPerYear float64
	RiskFreeRate   float64
}

// Load reads configuration from environment variables.
// ⭐ SSOT: this is the only function that calls os.Getenv().
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		Env: getEnv("ENV", "development"),

		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 25),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 5),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},

		Tickers:       splitList(getEnv("TICKERS", "")),
		SectorMapPath: getEnv("SECTOR_MAP_PATH", ""),

		Features: FeatureConfig{
			LookbackDays:     getEnvAsInt("FEATURE_LOOKBACK_DAYS", 400),
			FundFfillDays:    getEnvAsInt("FUND_FFILL_DAYS", 120),
			NaNDropThreshold: getEnvAsFloat("NAN_DROP_THRESHOLD", 0.8),
			WeightQuality:    getEnvAsFloat("SCORE_W_QUALITY", 0.30),
			WeightValuation:  getEnvAsFloat("SCORE_W_VALUATION", 0.30),
			WeightMomentum:   getEnvAsFloat("SCORE_W_MOMENTUM", 0.25),
			WeightSentiment:  getEnvAsFloat("SCORE_W_SENTIMENT", 0.15),
		},

		Model: ModelConfig{
			CVSplits:      getEnvAsInt("CV_SPLITS", 5),
			EmbargoDays:   getEnvAsInt("CV_EMBARGO_DAYS", 2),
			TestSize:      getEnvAsFloat("CV_TEST_SIZE", 0.2),
			Seed:          int64(getEnvAsInt("SEED", 42)),
			HorizonDays:   getEnvAsInt("LABEL_HORIZON_DAYS", 1),
			MinFeatures:   getEnvAsInt("MIN_FEATURE_COUNT", 10),
			Trees:         getEnvAsInt("GBM_TREES", 100),
			LearningRate:  getEnvAsFloat("GBM_LEARNING_RATE", 0.05),
			MaxDepth:      getEnvAsInt("GBM_MAX_DEPTH", 6),
			MinLeaf:       getEnvAsInt("GBM_MIN_LEAF", 20),
			Subsample:     getEnvAsFloat("GBM_SUBSAMPLE", 0.8),
			ColSample:     getEnvAsFloat("GBM_COLSAMPLE", 0.8),
			Lambda:        getEnvAsFloat("GBM_LAMBDA", 0.1),
			EarlyStopping: getEnvAsInt("GBM_EARLY_STOP", 10),
		},

		Backtest: BacktestConfig{
			LongThreshold:  getEnvAsFloat("BT_LONG_THRESHOLD", 0.6),
			ShortThreshold: getEnvAsFloat("BT_SHORT_THRESHOLD", 0.4),
			MaxLong:        getEnvAsInt("BT_MAX_LONG", 20),
			MaxShort:       getEnvAsInt("BT_MAX_SHORT", 10),
			MaxGross:       getEnvAsInt("BT_MAX_GROSS", 30),
			CostBps:        getEnvAsFloat("BT_COST_BPS", 10),
			RebalanceDays:  getEnvAsInt("BT_REBALANCE_DAYS", 1),
			PeriodsPerYear: getEnvAsFloat("BT_PERIODS_PER_YEAR", 252),
			RiskFreeRate:   getEnvAsFloat("BT_RISK_FREE_RATE", 0),
		},

		ArtifactDir: getEnv("ARTIFACT_DIR", "artifacts/models"),

		LogLevel:  getEnv("LOG_LEVEL", "debug"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks required and internally consistent configuration values.
func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	f := c.Features
	weightSum := f.WeightQuality + f.WeightValuation + f.WeightMomentum + f.WeightSentiment
	if weightSum <= 0 {
		return fmt.Errorf("composite score weights must sum to a positive number, got %f", weightSum)
	}
	if f.NaNDropThreshold < 0 || f.NaNDropThreshold > 1 {
		return fmt.Errorf("NAN_DROP_THRESHOLD must be in [0,1], got %f", f.NaNDropThreshold)
	}

	if c.Model.CVSplits < 1 {
		return fmt.Errorf("CV_SPLITS must be >= 1, got %d", c.Model.CVSplits)
	}
	if c.Model.EmbargoDays < 0 {
		return fmt.Errorf("CV_EMBARGO_DAYS must be >= 0, got %d", c.Model.EmbargoDays)
	}
	if c.Model.HorizonDays < 1 {
		return fmt.Errorf("LABEL_HORIZON_DAYS must be >= 1, got %d", c.Model.HorizonDays)
	}

	if c.Backtest.PeriodsPerYear <= 0 {
		return fmt.Errorf("BT_PERIODS_PER_YEAR must be positive, got %f", c.Backtest.PeriodsPerYear)
	}

	return nil
}

// IsDevelopment reports whether the app runs in debug/development mode.
// The leakage self-check only halts the pipeline in this mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations.
func loadEnvFile() {
	paths := []string{
		".env",
		"backend/.env",
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
			filepath.Join(exeDir, "..", "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}
