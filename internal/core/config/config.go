package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/signaldesk-lab/signal-metrics/internal/core/tracking"
)

// Config represents the top-level application config plus the resolved
// tracked-action registry.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Tracking TrackingConfig `koanf:"tracking"`
	Backfill BackfillConfig `koanf:"backfill"`

	// Actions is populated by Load after parsing action definition files.
	Actions tracking.Registry `koanf:"-"`
}

type ServerConfig struct {
	Port          int    `koanf:"port"`
	Host          string `koanf:"host"`
	MaxBodySizeMB int    `koanf:"max_body_size_mb"`
	Mode          string `koanf:"mode"` // debug | release
}

type DatabaseConfig struct {
	Type         string `koanf:"type"`
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

type TrackingConfig struct {
	ConfigDir      string `koanf:"config_dir"`
	RequireActions bool   `koanf:"require_actions"`
}

type BackfillConfig struct {
	BatchSize        int    `koanf:"batch_size"`
	ProgressInterval int    `koanf:"progress_interval"`
	WorkerCount      int    `koanf:"worker_count"`
	BackupDir        string `koanf:"backup_dir"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.MaxBodySizeMB <= 0 {
		return fmt.Errorf("server.max_body_size_mb must be > 0")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}

	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be > 0")
	}
	if c.Database.MaxIdleConns <= 0 {
		return fmt.Errorf("database.max_idle_conns must be > 0")
	}
	if c.Database.Type != "" && c.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database.type %q", c.Database.Type)
	}

	if strings.TrimSpace(c.Tracking.ConfigDir) == "" {
		return fmt.Errorf("tracking.config_dir is required")
	}

	if c.Backfill.BatchSize <= 0 {
		return fmt.Errorf("backfill.batch_size must be > 0")
	}
	if c.Backfill.ProgressInterval <= 0 {
		return fmt.Errorf("backfill.progress_interval must be > 0")
	}
	if c.Backfill.WorkerCount <= 0 {
		return fmt.Errorf("backfill.worker_count must be > 0")
	}
	if strings.TrimSpace(c.Backfill.BackupDir) == "" {
		return fmt.Errorf("backfill.backup_dir is required")
	}

	return nil
}

// Load parses config from file + env, validates it, then loads tracked
// action definitions.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":                8080,
		"server.host":                "0.0.0.0",
		"server.max_body_size_mb":    1,
		"server.mode":                "release",
		"database.type":              "postgres",
		"database.max_open_conns":    25,
		"database.max_idle_conns":    25,
		"database.auto_migrate":      true,
		"tracking.config_dir":        "./config/actions",
		"tracking.require_actions":   false,
		"backfill.batch_size":        1000,
		"backfill.progress_interval": 5000,
		"backfill.worker_count":      4,
		"backfill.backup_dir":        "./backups",
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("METRICS_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "METRICS_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	registry, err := tracking.NewFileSystemActionRepository(cfg.Tracking.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load tracked actions: %w", err)
	}
	if cfg.Tracking.RequireActions && registry.Open() {
		return nil, fmt.Errorf("no tracked action definitions found in %q", cfg.Tracking.ConfigDir)
	}
	cfg.Actions = registry

	return &cfg, nil
}
