package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	ClassifierURL        string `mapstructure:"CLASSIFIER_URL"`
	ReportServiceURL     string `mapstructure:"REPORT_SERVICE_URL"`
	ClassifierTimeoutSec int    `mapstructure:"CLASSIFIER_TIMEOUT_SECONDS"`
	ReportTimeoutSec     int    `mapstructure:"REPORT_TIMEOUT_SECONDS"`

	// Workflow routing cutoffs. PrimaryConfidenceThreshold is the minimum
	// top-prediction probability to skip mandatory radiologist review;
	// SecondaryFindingThreshold filters what the report prompt mentions.
	PrimaryConfidenceThreshold float64 `mapstructure:"PRIMARY_CONFIDENCE_THRESHOLD"`
	SecondaryFindingThreshold  float64 `mapstructure:"SECONDARY_FINDING_THRESHOLD"`

	AuthSecret  string   `mapstructure:"AUTH_SECRET"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`
	BlobBaseURL string   `mapstructure:"BLOB_BASE_URL"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CLASSIFIER_URL", "http://localhost:5001")
	v.SetDefault("REPORT_SERVICE_URL", "http://localhost:5002")
	v.SetDefault("CLASSIFIER_TIMEOUT_SECONDS", 60)
	v.SetDefault("REPORT_TIMEOUT_SECONDS", 120)
	v.SetDefault("PRIMARY_CONFIDENCE_THRESHOLD", 0.35)
	v.SetDefault("SECONDARY_FINDING_THRESHOLD", 0.10)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("BLOB_BASE_URL", "http://localhost:8000")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("CLASSIFIER_URL")
	v.BindEnv("REPORT_SERVICE_URL")
	v.BindEnv("CLASSIFIER_TIMEOUT_SECONDS")
	v.BindEnv("REPORT_TIMEOUT_SECONDS")
	v.BindEnv("PRIMARY_CONFIDENCE_THRESHOLD")
	v.BindEnv("SECONDARY_FINDING_THRESHOLD")
	v.BindEnv("AUTH_SECRET")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("BLOB_BASE_URL")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func (c *Config) ClassifierTimeout() time.Duration {
	return time.Duration(c.ClassifierTimeoutSec) * time.Second
}

func (c *Config) ReportTimeout() time.Duration {
	return time.Duration(c.ReportTimeoutSec) * time.Second
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.ClassifierURL == "" {
		return fmt.Errorf("CLASSIFIER_URL is required")
	}
	if c.ReportServiceURL == "" {
		return fmt.Errorf("REPORT_SERVICE_URL is required")
	}
	if c.PrimaryConfidenceThreshold < 0 || c.PrimaryConfidenceThreshold > 1 {
		return fmt.Errorf("PRIMARY_CONFIDENCE_THRESHOLD must be in [0,1], got %v", c.PrimaryConfidenceThreshold)
	}
	if c.SecondaryFindingThreshold < 0 || c.SecondaryFindingThreshold > 1 {
		return fmt.Errorf("SECONDARY_FINDING_THRESHOLD must be in [0,1], got %v", c.SecondaryFindingThreshold)
	}
	if c.IsProduction() && c.AuthSecret == "" {
		return fmt.Errorf("AUTH_SECRET is required in production")
	}
	if c.AuthSecret != "" && len(c.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be at least 32 bytes, got %d", len(c.AuthSecret))
	}
	return nil
}
