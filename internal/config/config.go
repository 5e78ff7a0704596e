package config

import (
	"math"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ignite/jobmatch-batch/internal/domain"
)

// Config holds all configuration for the batch engine.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Matching    MatchingConfig    `yaml:"matching"`
	Scoring     ScoringConfig     `yaml:"scoring"`
	Sections    SectionConfig     `yaml:"sections"`
	Email       EmailConfig       `yaml:"email"`
	Bedrock     BedrockConfig     `yaml:"bedrock"`
	Performance PerformanceConfig `yaml:"performance"`
	Import      ImportConfig      `yaml:"import"`
}

// ImportConfig locates the external importer's drop file.
type ImportConfig struct {
	File string `yaml:"file"`
}

// ServerConfig holds the admin HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with container detection.
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	BatchInsertSize int    `yaml:"batch_insert_size"`
}

// RedisConfig holds the optional Redis connection for distributed locks.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

// SchedulerConfig holds scheduler-wide knobs.
type SchedulerConfig struct {
	Timezone                string  `yaml:"timezone"`
	MaxConcurrentJobs       int     `yaml:"max_concurrent_jobs"`
	Coalesce                bool    `yaml:"coalesce"`
	MaxInstances            int     `yaml:"max_instances"`
	MisfireGraceSeconds     int     `yaml:"misfire_grace_seconds"`
	RetryEnabled            bool    `yaml:"retry_enabled"`
	MaxRetries              int     `yaml:"max_retries"`
	RetryBackoffFactor      float64 `yaml:"retry_backoff_factor"`
	RetryMaxDelaySeconds    int     `yaml:"retry_max_delay_seconds"`
	HealthCheckSeconds      int     `yaml:"health_check_seconds"`
	MetricsIntervalSeconds  int     `yaml:"metrics_interval_seconds"`
	ResourceMonitoring      bool    `yaml:"resource_monitoring_enabled"`
	NotificationEnabled     bool    `yaml:"notification_enabled"`
	JobHistoryRetentionDays int     `yaml:"job_history_retention_days"`
	ShutdownGraceSeconds    int     `yaml:"shutdown_grace_seconds"`
	NightlyCron             string  `yaml:"nightly_cron"`
}

// MisfireGrace returns the misfire grace window as a duration.
func (c SchedulerConfig) MisfireGrace() time.Duration {
	return time.Duration(c.MisfireGraceSeconds) * time.Second
}

// ShutdownGrace returns the graceful shutdown window as a duration.
func (c SchedulerConfig) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSeconds) * time.Second
}

// RetryMaxDelay returns the retry delay cap as a duration.
func (c SchedulerConfig) RetryMaxDelay() time.Duration {
	return time.Duration(c.RetryMaxDelaySeconds) * time.Second
}

// Strategy selects how the matching orchestrator parallelizes users.
type Strategy string

const (
	StrategySequential Strategy = "SEQUENTIAL"
	StrategyParallel   Strategy = "PARALLEL"
	StrategyAdaptive   Strategy = "ADAPTIVE"
)

// MatchingConfig holds per-user pipeline knobs.
type MatchingConfig struct {
	BatchSize                int      `yaml:"batch_size"`
	MaxParallelWorkers       int      `yaml:"max_parallel_workers"`
	QueueSizeLimit           int      `yaml:"queue_size_limit"`
	Strategy                 Strategy `yaml:"strategy"`
	UserFailureRateThreshold float64  `yaml:"user_failure_rate_threshold"`
	CheckpointInterval       int      `yaml:"checkpoint_interval"`
	CandidatePoolSize        int      `yaml:"candidate_pool_size"`
}

// ScoringConfig holds weights, thresholds and the dedup window.
type ScoringConfig struct {
	Weights         WeightConfig `yaml:"weights"`
	HighIncome      float64      `yaml:"high_income_hourly"`
	MinDistanceKm   int          `yaml:"min_distance_km"`
	DedupWindowDays int          `yaml:"dedup_window_days"`
}

// WeightConfig holds the component weights; they must sum to 1.0±1e-2.
type WeightConfig struct {
	Base     float64 `yaml:"base"`
	SEO      float64 `yaml:"seo"`
	Personal float64 `yaml:"personal"`
}

// SectionConfig holds slate shape knobs.
type SectionConfig struct {
	Total                int `yaml:"total"`
	MinPerSection        int `yaml:"min_per_section"`
	MaxPerSection        int `yaml:"max_per_section"`
	MinCategoryDiversity int `yaml:"min_category_diversity"`
	MaxJobsPerCategory   int `yaml:"max_jobs_per_category"`
}

// EmailConfig holds email queueing knobs.
type EmailConfig struct {
	FromName         string `yaml:"from_name"`
	FromEmail        string `yaml:"from_email"`
	SendDelayMinutes int    `yaml:"send_delay_minutes"`
	TemplateDir      string `yaml:"template_dir"`
}

// SendDelay returns how far ahead of now emails are scheduled.
func (c EmailConfig) SendDelay() time.Duration {
	return time.Duration(c.SendDelayMinutes) * time.Minute
}

// BedrockConfig holds the optional LLM subject generator settings.
type BedrockConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Region         string `yaml:"region"`
	ModelID        string `yaml:"model_id"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the per-call budget as a duration.
func (c BedrockConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// PerformanceConfig holds SLO targets used by alerting.
type PerformanceConfig struct {
	TotalRuntimeSeconds int `yaml:"total_runtime_seconds"`
	ImportSeconds       int `yaml:"import_seconds"`
	MatchingSeconds     int `yaml:"matching_seconds"`
	EmailSeconds        int `yaml:"email_seconds"`
	PerUserBudgetMs     int `yaml:"per_user_budget_ms"`
}

// TotalRuntime returns the whole-run budget as a duration.
func (c PerformanceConfig) TotalRuntime() time.Duration {
	return time.Duration(c.TotalRuntimeSeconds) * time.Second
}

// Load reads and parses the configuration file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a config with every knob at its default value.
// Used by tests and by matchctl when no config file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8085
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.BatchInsertSize == 0 {
		cfg.Database.BatchInsertSize = 1000
	}
	if cfg.Scheduler.Timezone == "" {
		cfg.Scheduler.Timezone = "Asia/Tokyo"
	}
	if cfg.Scheduler.MaxConcurrentJobs == 0 {
		cfg.Scheduler.MaxConcurrentJobs = 10
	}
	if cfg.Scheduler.MaxInstances == 0 {
		cfg.Scheduler.MaxInstances = 1
	}
	if cfg.Scheduler.MisfireGraceSeconds == 0 {
		cfg.Scheduler.MisfireGraceSeconds = 300
	}
	if cfg.Scheduler.MaxRetries == 0 {
		cfg.Scheduler.MaxRetries = 5
	}
	if cfg.Scheduler.RetryBackoffFactor == 0 {
		cfg.Scheduler.RetryBackoffFactor = 2.0
	}
	if cfg.Scheduler.RetryMaxDelaySeconds == 0 {
		cfg.Scheduler.RetryMaxDelaySeconds = 3600
	}
	if cfg.Scheduler.HealthCheckSeconds == 0 {
		cfg.Scheduler.HealthCheckSeconds = 30
	}
	if cfg.Scheduler.MetricsIntervalSeconds == 0 {
		cfg.Scheduler.MetricsIntervalSeconds = 15
	}
	if cfg.Scheduler.JobHistoryRetentionDays == 0 {
		cfg.Scheduler.JobHistoryRetentionDays = 30
	}
	if cfg.Scheduler.ShutdownGraceSeconds == 0 {
		cfg.Scheduler.ShutdownGraceSeconds = 30
	}
	if cfg.Scheduler.NightlyCron == "" {
		cfg.Scheduler.NightlyCron = "0 3 * * *"
	}
	if cfg.Import.File == "" {
		cfg.Import.File = "data/jobs.csv"
	}
	if cfg.Matching.BatchSize == 0 {
		cfg.Matching.BatchSize = 100
	}
	if cfg.Matching.MaxParallelWorkers == 0 {
		cfg.Matching.MaxParallelWorkers = 10
	}
	if cfg.Matching.QueueSizeLimit == 0 {
		cfg.Matching.QueueSizeLimit = 1000
	}
	if cfg.Matching.Strategy == "" {
		cfg.Matching.Strategy = StrategyAdaptive
	}
	if cfg.Matching.UserFailureRateThreshold == 0 {
		cfg.Matching.UserFailureRateThreshold = 0.10
	}
	if cfg.Matching.CheckpointInterval == 0 {
		cfg.Matching.CheckpointInterval = 1000
	}
	if cfg.Matching.CandidatePoolSize == 0 {
		cfg.Matching.CandidatePoolSize = 200
	}
	if cfg.Scoring.Weights == (WeightConfig{}) {
		cfg.Scoring.Weights = WeightConfig{Base: 0.40, SEO: 0.30, Personal: 0.30}
	}
	if cfg.Scoring.HighIncome == 0 {
		cfg.Scoring.HighIncome = 1500
	}
	if cfg.Scoring.MinDistanceKm == 0 {
		cfg.Scoring.MinDistanceKm = 50
	}
	if cfg.Scoring.DedupWindowDays == 0 {
		cfg.Scoring.DedupWindowDays = 14
	}
	// Clamp rather than reject: operators fat-finger this one.
	if cfg.Scoring.DedupWindowDays < 1 {
		cfg.Scoring.DedupWindowDays = 1
	}
	if cfg.Scoring.DedupWindowDays > 90 {
		cfg.Scoring.DedupWindowDays = 90
	}
	if cfg.Sections.Total == 0 {
		cfg.Sections.Total = 40
	}
	if cfg.Sections.MinPerSection == 0 {
		cfg.Sections.MinPerSection = 3
	}
	if cfg.Sections.MaxPerSection == 0 {
		cfg.Sections.MaxPerSection = 10
	}
	if cfg.Sections.MinCategoryDiversity == 0 {
		cfg.Sections.MinCategoryDiversity = 3
	}
	if cfg.Sections.MaxJobsPerCategory == 0 {
		cfg.Sections.MaxJobsPerCategory = 15
	}
	if cfg.Email.SendDelayMinutes == 0 {
		cfg.Email.SendDelayMinutes = 60
	}
	if cfg.Email.FromName == "" {
		cfg.Email.FromName = "Job Digest"
	}
	if cfg.Email.TemplateDir == "" {
		cfg.Email.TemplateDir = "templates"
	}
	if cfg.Bedrock.Region == "" {
		cfg.Bedrock.Region = "us-west-2"
	}
	if cfg.Bedrock.ModelID == "" {
		cfg.Bedrock.ModelID = "anthropic.claude-3-haiku-20240307-v1:0"
	}
	if cfg.Bedrock.TimeoutSeconds == 0 {
		cfg.Bedrock.TimeoutSeconds = 2
	}
	if cfg.Performance.TotalRuntimeSeconds == 0 {
		cfg.Performance.TotalRuntimeSeconds = 1800
	}
	if cfg.Performance.ImportSeconds == 0 {
		cfg.Performance.ImportSeconds = 300
	}
	if cfg.Performance.MatchingSeconds == 0 {
		cfg.Performance.MatchingSeconds = 1200
	}
	if cfg.Performance.EmailSeconds == 0 {
		cfg.Performance.EmailSeconds = 300
	}
	if cfg.Performance.PerUserBudgetMs == 0 {
		cfg.Performance.PerUserBudgetMs = 180
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// A .env file (if present) is loaded first, so secrets can live in .env
// locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
		cfg.Redis.Enabled = true
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Redis.Password = pw
	}
	if tz := os.Getenv("SCHEDULER_TIMEZONE"); tz != "" {
		cfg.Scheduler.Timezone = tz
	}
	if region := os.Getenv("AWS_BEDROCK_REGION"); region != "" {
		cfg.Bedrock.Region = region
	}
	if file := os.Getenv("IMPORT_FILE"); file != "" {
		cfg.Import.File = file
	}

	return cfg, nil
}

// Validate checks invariants that are fatal at startup.
func (cfg *Config) Validate() error {
	w := cfg.Scoring.Weights
	sum := w.Base + w.SEO + w.Personal
	if math.Abs(sum-1.0) > 1e-2 {
		return &domain.ConfigError{
			Field:  "scoring.weights",
			Detail: "base+seo+personal must sum to 1.0 (±0.01)",
		}
	}
	if w.Base < 0 || w.SEO < 0 || w.Personal < 0 {
		return &domain.ConfigError{Field: "scoring.weights", Detail: "weights must be non-negative"}
	}
	if cfg.Database.URL == "" {
		return &domain.ConfigError{Field: "database.url", Detail: "required"}
	}
	if cfg.Sections.MinPerSection*len(domain.SectionOrder) > cfg.Sections.Total {
		return &domain.ConfigError{
			Field:  "sections.min_per_section",
			Detail: "min_per_section × 6 exceeds the slate total",
		}
	}
	if cfg.Matching.UserFailureRateThreshold <= 0 || cfg.Matching.UserFailureRateThreshold > 1 {
		return &domain.ConfigError{Field: "matching.user_failure_rate_threshold", Detail: "must be in (0,1]"}
	}
	if _, err := time.LoadLocation(cfg.Scheduler.Timezone); err != nil {
		return &domain.ConfigError{Field: "scheduler.timezone", Detail: "unknown IANA zone"}
	}
	return nil
}
