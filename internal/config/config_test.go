package config

import (
	"path/filepath"
	"testing"

	"github.com/aristath/greenfolio/internal/database"
	"github.com/aristath/greenfolio/internal/modules/optimization"
	"github.com/aristath/greenfolio/internal/modules/universe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	t.Setenv("GREENFOLIO_DATA_DIR", dir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.DataDir)
	assert.DirExists(t, dir)
	assert.Equal(t, 8001, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 0.02, cfg.RiskFreeRate)
	assert.Equal(t, 0.4, cfg.DefaultMaxWeight)
	assert.Equal(t, 0.5, cfg.DefaultReturnWeight)
	assert.Equal(t, 0.5, cfg.DefaultESGWeight)
	assert.Equal(t, universe.ScaleUnit, cfg.ESGScale)
	assert.Equal(t, 90, cfg.RunRetentionDays)
	assert.Equal(t, database.ProfileStandard, cfg.RunsDBProfile)
	assert.Equal(t, optimization.DefaultMaxSyntheticAssets, cfg.SyntheticMaxAssets)
	assert.False(t, cfg.Backup.Enabled())

	svc := cfg.ServiceConfig()
	assert.Equal(t, 0.4, svc.Constraints.MaxWeight)
	assert.Equal(t, 0.0, svc.Constraints.MinWeight)
	assert.Equal(t, 0.5, svc.Blend.ESGWeight)
	assert.Equal(t, 4, svc.Workers)
	assert.Equal(t, optimization.DefaultMaxSyntheticAssets, svc.MaxSyntheticAssets)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("GREENFOLIO_DATA_DIR", t.TempDir())
	t.Setenv("GO_PORT", "9100")
	t.Setenv("RISK_FREE_RATE", "0.03")
	t.Setenv("DEFAULT_MAX_WEIGHT", "0.25")
	t.Setenv("DEFAULT_RETURN_WEIGHT", "0.7")
	t.Setenv("DEFAULT_ESG_WEIGHT", "0.3")
	t.Setenv("ESG_SCALE", "percent")
	t.Setenv("FRONTIER_WORKERS", "8")
	t.Setenv("SYNTHETIC_MAX_ASSETS", "50")
	t.Setenv("RUNS_DB_PROFILE", "durable")
	t.Setenv("BACKUP_S3_BUCKET", "greenfolio-backups")
	t.Setenv("BACKUP_S3_ACCESS_KEY_ID", "key")
	t.Setenv("BACKUP_S3_SECRET_ACCESS_KEY", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, 0.03, cfg.RiskFreeRate)
	assert.Equal(t, universe.ScalePercent, cfg.ESGScale)
	assert.True(t, cfg.Backup.Enabled())
	assert.Equal(t, 14, cfg.Backup.Keep)

	svc := cfg.ServiceConfig()
	assert.Equal(t, 0.25, svc.Constraints.MaxWeight)
	assert.Equal(t, 0.7, svc.Blend.ReturnWeight)
	assert.Equal(t, 8, svc.Workers)
	assert.Equal(t, 50, svc.MaxSyntheticAssets)
	assert.Equal(t, database.ProfileDurable, cfg.RunsDBProfile)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"port out of range", map[string]string{"GO_PORT": "70000"}},
		{"max weight above one", map[string]string{"DEFAULT_MAX_WEIGHT": "1.5"}},
		{"zero blend", map[string]string{"DEFAULT_RETURN_WEIGHT": "0", "DEFAULT_ESG_WEIGHT": "0"}},
		{"negative blend", map[string]string{"DEFAULT_ESG_WEIGHT": "-1"}},
		{"unknown scale", map[string]string{"ESG_SCALE": "stars"}},
		{"zero workers", map[string]string{"FRONTIER_WORKERS": "0"}},
		{"zero synthetic limit", map[string]string{"SYNTHETIC_MAX_ASSETS": "0"}},
		{"unknown db profile", map[string]string{"RUNS_DB_PROFILE": "turbo"}},
		{"bad retention schedule", map[string]string{"RUN_RETENTION_SCHEDULE": "whenever"}},
		{"backup without keys", map[string]string{"BACKUP_S3_BUCKET": "b"}},
		{"bad backup schedule", map[string]string{
			"BACKUP_S3_BUCKET":            "b",
			"BACKUP_S3_ACCESS_KEY_ID":     "k",
			"BACKUP_S3_SECRET_ACCESS_KEY": "s",
			"BACKUP_SCHEDULE":             "* *",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GREENFOLIO_DATA_DIR", t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("GF_INT", "not-a-number")
	t.Setenv("GF_FLOAT", "0.125")
	t.Setenv("GF_BOOL", "true")

	assert.Equal(t, 7, getEnvAsInt("GF_INT", 7))
	assert.Equal(t, 0.125, getEnvAsFloat("GF_FLOAT", 1))
	assert.True(t, getEnvAsBool("GF_BOOL", false))
	assert.Equal(t, "fallback", getEnv("GF_UNSET", "fallback"))
}
