// Package config loads service configuration from an optional YAML file and
// the process environment. Environment variables always win over file values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime configuration for the booking scheduler.
type Config struct {
	SQLiteDSN        string
	EncryptionSecret string

	GoogleClientID        string
	GoogleClientSecret    string
	MicrosoftClientID     string
	MicrosoftClientSecret string

	SweepSchedule        string
	SweepBatchSize       int
	ClaimTTL             time.Duration
	MaxWritebackAttempts int

	ProviderRateLimit float64
	ProviderRateBurst int
}

// fileConfig mirrors Config for YAML decoding.
type fileConfig struct {
	SQLiteDSN        string `yaml:"sqlite_dsn"`
	EncryptionSecret string `yaml:"encryption_secret"`

	GoogleClientID        string `yaml:"google_client_id"`
	GoogleClientSecret    string `yaml:"google_client_secret"`
	MicrosoftClientID     string `yaml:"microsoft_client_id"`
	MicrosoftClientSecret string `yaml:"microsoft_client_secret"`

	SweepSchedule        string `yaml:"sweep_schedule"`
	SweepBatchSize       int    `yaml:"sweep_batch_size"`
	ClaimTTL             string `yaml:"claim_ttl"`
	MaxWritebackAttempts int    `yaml:"max_writeback_attempts"`

	ProviderRateLimit float64 `yaml:"provider_rate_limit"`
	ProviderRateBurst int     `yaml:"provider_rate_burst"`
}

// Load reads the optional YAML file named by BOOKING_CONFIG_FILE, then applies
// environment overrides. Defaults cover every optional field; the encryption
// secret is the only required value.
func Load() (Config, error) {
	cfg := Config{
		SQLiteDSN:            "file:booking.db?_foreign_keys=on",
		SweepSchedule:        "@every 1m",
		SweepBatchSize:       20,
		ClaimTTL:             5 * time.Minute,
		MaxWritebackAttempts: 5,
		ProviderRateLimit:    5,
		ProviderRateBurst:    10,
	}

	missing := make([]string, 0, 1)
	invalid := make([]string, 0, 2)

	if path := strings.TrimSpace(os.Getenv("BOOKING_CONFIG_FILE")); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	if dsn := strings.TrimSpace(os.Getenv("BOOKING_SQLITE_DSN")); dsn != "" {
		cfg.SQLiteDSN = dsn
	}
	if secret := strings.TrimSpace(os.Getenv("BOOKING_ENCRYPTION_SECRET")); secret != "" {
		cfg.EncryptionSecret = secret
	}
	if cfg.EncryptionSecret == "" {
		missing = append(missing, "BOOKING_ENCRYPTION_SECRET")
	}

	if v := strings.TrimSpace(os.Getenv("BOOKING_GOOGLE_CLIENT_ID")); v != "" {
		cfg.GoogleClientID = v
	}
	if v := strings.TrimSpace(os.Getenv("BOOKING_GOOGLE_CLIENT_SECRET")); v != "" {
		cfg.GoogleClientSecret = v
	}
	if v := strings.TrimSpace(os.Getenv("BOOKING_MICROSOFT_CLIENT_ID")); v != "" {
		cfg.MicrosoftClientID = v
	}
	if v := strings.TrimSpace(os.Getenv("BOOKING_MICROSOFT_CLIENT_SECRET")); v != "" {
		cfg.MicrosoftClientSecret = v
	}

	if v := strings.TrimSpace(os.Getenv("BOOKING_SWEEP_SCHEDULE")); v != "" {
		cfg.SweepSchedule = v
	}
	if v := strings.TrimSpace(os.Getenv("BOOKING_SWEEP_BATCH_SIZE")); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil || size <= 0 {
			invalid = append(invalid, "BOOKING_SWEEP_BATCH_SIZE")
		} else {
			cfg.SweepBatchSize = size
		}
	}
	if v := strings.TrimSpace(os.Getenv("BOOKING_CLAIM_TTL")); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil || ttl <= 0 {
			invalid = append(invalid, "BOOKING_CLAIM_TTL")
		} else {
			cfg.ClaimTTL = ttl
		}
	}
	if v := strings.TrimSpace(os.Getenv("BOOKING_MAX_WRITEBACK_ATTEMPTS")); v != "" {
		attempts, err := strconv.Atoi(v)
		if err != nil || attempts <= 0 {
			invalid = append(invalid, "BOOKING_MAX_WRITEBACK_ATTEMPTS")
		} else {
			cfg.MaxWritebackAttempts = attempts
		}
	}

	if v := strings.TrimSpace(os.Getenv("BOOKING_PROVIDER_RATE_LIMIT")); v != "" {
		limit, err := strconv.ParseFloat(v, 64)
		if err != nil || limit <= 0 {
			invalid = append(invalid, "BOOKING_PROVIDER_RATE_LIMIT")
		} else {
			cfg.ProviderRateLimit = limit
		}
	}
	if v := strings.TrimSpace(os.Getenv("BOOKING_PROVIDER_RATE_BURST")); v != "" {
		burst, err := strconv.Atoi(v)
		if err != nil || burst <= 0 {
			invalid = append(invalid, "BOOKING_PROVIDER_RATE_BURST")
		} else {
			cfg.ProviderRateBurst = burst
		}
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("invalid configuration values: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if file.SQLiteDSN != "" {
		cfg.SQLiteDSN = file.SQLiteDSN
	}
	if file.EncryptionSecret != "" {
		cfg.EncryptionSecret = file.EncryptionSecret
	}
	if file.GoogleClientID != "" {
		cfg.GoogleClientID = file.GoogleClientID
	}
	if file.GoogleClientSecret != "" {
		cfg.GoogleClientSecret = file.GoogleClientSecret
	}
	if file.MicrosoftClientID != "" {
		cfg.MicrosoftClientID = file.MicrosoftClientID
	}
	if file.MicrosoftClientSecret != "" {
		cfg.MicrosoftClientSecret = file.MicrosoftClientSecret
	}
	if file.SweepSchedule != "" {
		cfg.SweepSchedule = file.SweepSchedule
	}
	if file.SweepBatchSize > 0 {
		cfg.SweepBatchSize = file.SweepBatchSize
	}
	if file.ClaimTTL != "" {
		ttl, err := time.ParseDuration(file.ClaimTTL)
		if err != nil || ttl <= 0 {
			return fmt.Errorf("invalid claim_ttl in config file %s: %q", path, file.ClaimTTL)
		}
		cfg.ClaimTTL = ttl
	}
	if file.MaxWritebackAttempts > 0 {
		cfg.MaxWritebackAttempts = file.MaxWritebackAttempts
	}
	if file.ProviderRateLimit > 0 {
		cfg.ProviderRateLimit = file.ProviderRateLimit
	}
	if file.ProviderRateBurst > 0 {
		cfg.ProviderRateBurst = file.ProviderRateBurst
	}
	return nil
}
