// Package config loads engine configuration from an optional YAML file with
// environment-variable overrides. Secrets (the jitter salt, database password)
// come from the environment only.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for cohort-engine. Environment variables
// always override YAML values.
type Config struct {
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8090"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"`

	// BaseDir holds logs and the persisted snapshot (unless SnapshotPath
	// points elsewhere).
	BaseDir      string `yaml:"base_dir" env:"BASE_DIR" env-default:"."`
	SnapshotPath string `yaml:"snapshot_path" env:"SNAPSHOT_PATH" env-default:""`

	// Cohort labeling for response headers ("<title> participants as of <date>").
	CohortTitle string `yaml:"cohort_title" env:"COHORT_TITLE" env-default:"Cohort"`
	UpdateDate  string `yaml:"update_date" env:"UPDATE_DATE" env-default:""`

	Privacy  PrivacyConfig  `yaml:"privacy"`
	Age      AgeConfig      `yaml:"age"`
	Database DatabaseConfig `yaml:"database"`

	// MemoCapacity bounds the per-process filter-response memo.
	MemoCapacity int `yaml:"memo_capacity" env:"MEMO_CAPACITY" env-default:"256"`

	// IdealBucketCount caps slider stops when materializing numeric ranges.
	IdealBucketCount int `yaml:"ideal_bucket_count" env:"IDEAL_BUCKET_COUNT" env-default:"20"`

	// EnrollmentStatusesStr allow-lists which enrollment labels are surfaced,
	// comma separated. Empty means all.
	EnrollmentStatusesStr string   `yaml:"enrollment_statuses" env:"ENROLLMENT_STATUSES" env-default:""`
	EnrollmentStatuses    []string `yaml:"-"`

	// CORSOriginsStr allow-lists browser origins, comma separated ("*" for
	// any). Empty disables CORS headers entirely.
	CORSOriginsStr string   `yaml:"cors_origins" env:"ORIGINS" env-default:""`
	CORSOrigins    []string `yaml:"-"`

	// LogRetentionDays controls the weekly cleanup of rotated logs in BaseDir.
	LogRetentionDays int `yaml:"log_retention_days" env:"LOG_RETENTION_DAYS" env-default:"90"`
}

// PrivacyConfig controls small-cell suppression and jitter.
type PrivacyConfig struct {
	// MaskThreshold suppresses any count at or below this value. 0 disables.
	MaskThreshold int `yaml:"mask_threshold" env:"MASK_THRESHOLD" env-default:"5"`

	JitterEnabled bool `yaml:"jitter_enabled" env:"JITTER_ENABLED" env-default:"true"`
	JitterMin     int  `yaml:"jitter_min" env:"JITTER_MIN" env-default:"-2"`
	JitterMax     int  `yaml:"jitter_max" env:"JITTER_MAX" env-default:"2"`

	// JitterSalt feeds the weekly offset hash. Secret - environment only.
	JitterSalt string `yaml:"-" env:"JITTER_SALT"`
}

// AgeConfig pins the age bucketing. Zero values mean "derive from the data"
// via the range materializer.
type AgeConfig struct {
	Min  int `yaml:"min" env:"AGE_MIN" env-default:"0"`
	Max  int `yaml:"max" env:"AGE_MAX" env-default:"0"`
	Step int `yaml:"step" env:"AGE_STEP" env-default:"0"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"cohort"`
	Password       string `yaml:"-" env:"PGPASSWORD"`
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"cohort"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MaxConnections int32  `yaml:"max_connections" env:"PG_MAX_CONNECTIONS" env-default:"25"`
	MinConnections int32  `yaml:"min_connections" env:"PG_MIN_CONNECTIONS" env-default:"2"`
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`
}

// URL renders the pgx connection string.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

// Load reads config.yaml when present (path overridable via CONFIG_PATH),
// then applies environment overrides and derived fields.
func Load(version string) (*Config, error) {
	cfg := &Config{}

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment config: %w", err)
		}
	}

	cfg.Version = version
	if cfg.SnapshotPath == "" {
		cfg.SnapshotPath = cfg.BaseDir + "/snapshot.gob"
	}
	cfg.EnrollmentStatuses = splitList(cfg.EnrollmentStatusesStr)
	cfg.CORSOrigins = splitList(cfg.CORSOriginsStr)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) validate() error {
	if c.Privacy.MaskThreshold < 0 {
		return fmt.Errorf("mask_threshold must not be negative")
	}
	if c.Privacy.JitterMin > c.Privacy.JitterMax {
		return fmt.Errorf("jitter_min %d exceeds jitter_max %d", c.Privacy.JitterMin, c.Privacy.JitterMax)
	}
	if c.Privacy.JitterEnabled && c.Privacy.JitterSalt == "" {
		return fmt.Errorf("JITTER_SALT must be set when jitter is enabled")
	}
	if c.Age.Step < 0 || c.Age.Max < 0 || c.Age.Min < 0 {
		return fmt.Errorf("age bounds must not be negative")
	}
	if c.Age.Max > 0 && c.Age.Min >= c.Age.Max {
		return fmt.Errorf("age_min %d must be below age_max %d", c.Age.Min, c.Age.Max)
	}
	return nil
}
