// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/aristath/greenfolio/internal/database"
	"github.com/aristath/greenfolio/internal/modules/optimization"
	"github.com/aristath/greenfolio/internal/modules/universe"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for databases (defaults to "./data", always absolute)
	LogLevel string
	Port     int
	DevMode  bool

	// Optimizer defaults
	RiskFreeRate        float64
	DefaultMaxWeight    float64
	DefaultReturnWeight float64
	DefaultESGWeight    float64
	ESGScale            universe.ESGScale
	FrontierWorkers     int
	FrontierMaxSamples  int
	SyntheticMaxAssets  int

	// Run history
	RunsDBProfile     database.DatabaseProfile
	RunRetentionDays  int
	RetentionSchedule string // cron spec

	Backup *BackupConfig
}

// BackupConfig holds S3-compatible backup settings. Backups are disabled
// when Bucket is empty.
type BackupConfig struct {
	Bucket          string
	Endpoint        string // custom endpoint for R2, MinIO, ...
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
	Schedule        string // cron spec
	Keep            int    // backups kept by rotation
}

// Enabled reports whether backups are configured.
func (b *BackupConfig) Enabled() bool {
	return b != nil && b.Bucket != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("GREENFOLIO_DATA_DIR", "./data")

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	scale, err := universe.ParseESGScale(getEnv("ESG_SCALE", string(universe.ScaleUnit)))
	if err != nil {
		return nil, fmt.Errorf("invalid ESG_SCALE: %w", err)
	}

	profile, err := database.ParseProfile(getEnv("RUNS_DB_PROFILE", string(database.ProfileStandard)))
	if err != nil {
		return nil, fmt.Errorf("invalid RUNS_DB_PROFILE: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("GO_PORT", 8001),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		RiskFreeRate:        getEnvAsFloat("RISK_FREE_RATE", optimization.DefaultRiskFreeRate),
		DefaultMaxWeight:    getEnvAsFloat("DEFAULT_MAX_WEIGHT", optimization.DefaultMaxWeight),
		DefaultReturnWeight: getEnvAsFloat("DEFAULT_RETURN_WEIGHT", optimization.DefaultReturnWeight),
		DefaultESGWeight:    getEnvAsFloat("DEFAULT_ESG_WEIGHT", optimization.DefaultESGWeight),
		ESGScale:            scale,
		FrontierWorkers:     getEnvAsInt("FRONTIER_WORKERS", 4),
		FrontierMaxSamples:  getEnvAsInt("FRONTIER_MAX_SAMPLES", 100000),
		SyntheticMaxAssets:  getEnvAsInt("SYNTHETIC_MAX_ASSETS", optimization.DefaultMaxSyntheticAssets),

		RunsDBProfile:     profile,
		RunRetentionDays:  getEnvAsInt("RUN_RETENTION_DAYS", 90),
		RetentionSchedule: getEnv("RUN_RETENTION_SCHEDULE", "0 3 * * *"),

		Backup: &BackupConfig{
			Bucket:          getEnv("BACKUP_S3_BUCKET", ""),
			Endpoint:        getEnv("BACKUP_S3_ENDPOINT", ""),
			Region:          getEnv("BACKUP_S3_REGION", "auto"),
			AccessKeyID:     getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
			Prefix:          getEnv("BACKUP_S3_PREFIX", "greenfolio"),
			Schedule:        getEnv("BACKUP_SCHEDULE", "30 3 * * *"),
			Keep:            getEnvAsInt("BACKUP_KEEP", 14),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ServiceConfig returns the optimizer settings derived from the configuration.
func (c *Config) ServiceConfig() optimization.ServiceConfig {
	constraints := optimization.DefaultConstraints()
	constraints.MaxWeight = c.DefaultMaxWeight
	return optimization.ServiceConfig{
		RiskFreeRate: c.RiskFreeRate,
		Constraints:  constraints,
		Blend: optimization.Blend{
			ReturnWeight: c.DefaultReturnWeight,
			ESGWeight:    c.DefaultESGWeight,
		},
		Workers:            c.FrontierWorkers,
		MaxSamples:         c.FrontierMaxSamples,
		MaxSyntheticAssets: c.SyntheticMaxAssets,
	}
}

// Validate rejects out-of-range values
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("GO_PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.DefaultMaxWeight <= 0 || c.DefaultMaxWeight > 1 {
		return fmt.Errorf("DEFAULT_MAX_WEIGHT must be in (0, 1], got %g", c.DefaultMaxWeight)
	}
	blend := optimization.Blend{ReturnWeight: c.DefaultReturnWeight, ESGWeight: c.DefaultESGWeight}
	if err := blend.Validate(); err != nil {
		return fmt.Errorf("DEFAULT_RETURN_WEIGHT/DEFAULT_ESG_WEIGHT: %w", err)
	}
	if c.FrontierWorkers <= 0 {
		return fmt.Errorf("FRONTIER_WORKERS must be positive, got %d", c.FrontierWorkers)
	}
	if c.FrontierMaxSamples <= 0 {
		return fmt.Errorf("FRONTIER_MAX_SAMPLES must be positive, got %d", c.FrontierMaxSamples)
	}
	if c.SyntheticMaxAssets <= 0 {
		return fmt.Errorf("SYNTHETIC_MAX_ASSETS must be positive, got %d", c.SyntheticMaxAssets)
	}
	if c.RunRetentionDays <= 0 {
		return fmt.Errorf("RUN_RETENTION_DAYS must be positive, got %d", c.RunRetentionDays)
	}
	if _, err := cron.ParseStandard(c.RetentionSchedule); err != nil {
		return fmt.Errorf("invalid RUN_RETENTION_SCHEDULE %q: %w", c.RetentionSchedule, err)
	}

	if c.Backup.Enabled() {
		if c.Backup.AccessKeyID == "" || c.Backup.SecretAccessKey == "" {
			return fmt.Errorf("BACKUP_S3_ACCESS_KEY_ID and BACKUP_S3_SECRET_ACCESS_KEY are required when BACKUP_S3_BUCKET is set")
		}
		if c.Backup.Keep <= 0 {
			return fmt.Errorf("BACKUP_KEEP must be positive, got %d", c.Backup.Keep)
		}
		if _, err := cron.ParseStandard(c.Backup.Schedule); err != nil {
			return fmt.Errorf("invalid BACKUP_SCHEDULE %q: %w", c.Backup.Schedule, err)
		}
	}

	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
