package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Database.URL = "postgres://localhost/jobmatch"
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8085, cfg.Server.Port, "default port matches matchctl's BATCHD_ADDR default")
	assert.Equal(t, "Asia/Tokyo", cfg.Scheduler.Timezone)
	assert.Equal(t, "0 3 * * *", cfg.Scheduler.NightlyCron)
	assert.Equal(t, StrategyAdaptive, cfg.Matching.Strategy)
	assert.Equal(t, 0.10, cfg.Matching.UserFailureRateThreshold)
	assert.Equal(t, 200, cfg.Matching.CandidatePoolSize)
	assert.Equal(t, WeightConfig{Base: 0.40, SEO: 0.30, Personal: 0.30}, cfg.Scoring.Weights)
	assert.Equal(t, 14, cfg.Scoring.DedupWindowDays)
	assert.Equal(t, 40, cfg.Sections.Total)
	assert.Equal(t, 3, cfg.Sections.MinPerSection)
	assert.Equal(t, 15, cfg.Sections.MaxJobsPerCategory)
	assert.Equal(t, 60, cfg.Email.SendDelayMinutes)
	assert.Equal(t, "data/jobs.csv", cfg.Import.File)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  url: postgres://db/batch
scheduler:
  nightly_cron: "30 2 * * *"
matching:
  strategy: SEQUENTIAL
sections:
  total: 30
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://db/batch", cfg.Database.URL)
	assert.Equal(t, "30 2 * * *", cfg.Scheduler.NightlyCron)
	assert.Equal(t, StrategySequential, cfg.Matching.Strategy)
	assert.Equal(t, 30, cfg.Sections.Total)
	// Untouched knobs still default.
	assert.Equal(t, 0.40, cfg.Scoring.Weights.Base)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0o644))

	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("REDIS_ADDR", "127.0.0.1:6379")
	t.Setenv("IMPORT_FILE", "/tmp/jobs.csv")

	cfg, err := LoadFromEnv(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://env/db", cfg.Database.URL)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "127.0.0.1:6379", cfg.Redis.Addr)
	assert.Equal(t, "/tmp/jobs.csv", cfg.Import.File)
	assert.Equal(t, 9000, cfg.Server.Port)
}

func TestDedupWindowClamped(t *testing.T) {
	cfg := &Config{}
	cfg.Scoring.DedupWindowDays = 365
	cfg.applyDefaults()
	assert.Equal(t, 90, cfg.Scoring.DedupWindowDays)

	cfg = &Config{}
	cfg.Scoring.DedupWindowDays = -3
	cfg.applyDefaults()
	assert.Equal(t, 1, cfg.Scoring.DedupWindowDays)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, validConfig().Validate())

	cfg := validConfig()
	cfg.Scoring.Weights = WeightConfig{Base: 0.5, SEO: 0.5, Personal: 0.5}
	assert.Error(t, cfg.Validate(), "weights must sum to one")

	cfg = validConfig()
	cfg.Scoring.Weights = WeightConfig{Base: 1.5, SEO: -0.3, Personal: -0.2}
	assert.Error(t, cfg.Validate(), "negative weights")

	cfg = validConfig()
	cfg.Database.URL = ""
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Sections.MinPerSection = 10
	assert.Error(t, cfg.Validate(), "six sections of ten cannot fit in forty")

	cfg = validConfig()
	cfg.Matching.UserFailureRateThreshold = 1.5
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Scheduler.Timezone = "Mars/OlympusMons"
	assert.Error(t, cfg.Validate())
}

func TestDurationAccessors(t *testing.T) {
	cfg := Default()
	assert.Equal(t, cfg.Scheduler.MisfireGrace().Seconds(), float64(cfg.Scheduler.MisfireGraceSeconds))
	assert.Equal(t, cfg.Email.SendDelay().Minutes(), float64(cfg.Email.SendDelayMinutes))
	assert.Equal(t, cfg.Performance.TotalRuntime().Seconds(), float64(cfg.Performance.TotalRuntimeSeconds))
	assert.Equal(t, cfg.Bedrock.Timeout().Seconds(), float64(cfg.Bedrock.TimeoutSeconds))
}
