package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Telegram struct {
		BotToken      string `yaml:"bot_token"`
		AdminID       int64  `yaml:"admin_id"`
		MasterContact string `yaml:"master_contact"`
		Debug         bool   `yaml:"debug"`
	} `yaml:"telegram"`

	Database struct {
		Path   string       `yaml:"path"`
		Backup BackupConfig `yaml:"backup"`
	} `yaml:"database"`

	Service struct {
		Timezone   string `yaml:"timezone"`
		PriceCount int    `yaml:"price_count"`
	} `yaml:"service"`

	Reminders struct {
		CheckIntervalMinutes int     `yaml:"check_interval_minutes"`
		SendRatePerSecond    float64 `yaml:"send_rate_per_second"`
		SendBurst            int     `yaml:"send_burst"`
	} `yaml:"reminders"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	RateLimit struct {
		Commands      int `yaml:"commands"`
		WindowSeconds int `yaml:"window_seconds"`
	} `yaml:"rate_limit"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/appointbot.db"
	}
	if cfg.Service.Timezone == "" {
		cfg.Service.Timezone = "Europe/Warsaw"
	}
	if cfg.Service.PriceCount <= 0 {
		cfg.Service.PriceCount = 3
	}
	if cfg.Telegram.AdminID == 0 {
		return nil, fmt.Errorf("set telegram.admin_id in config")
	}
	if cfg.Database.Backup.Dir == "" {
		cfg.Database.Backup.Dir = "data/backups"
	}
	if cfg.Database.Backup.RetentionDays <= 0 {
		cfg.Database.Backup.RetentionDays = 7
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ReminderInterval returns the scheduler tick interval, capped at one hour so
// neither reminder window can be skipped between ticks.
func (c *Config) ReminderInterval() time.Duration {
	minutes := c.Reminders.CheckIntervalMinutes
	if minutes <= 0 {
		minutes = 30
	}
	if minutes > 60 {
		minutes = 60
	}
	return time.Duration(minutes) * time.Minute
}

// SendRate returns the outbound notification rate limit.
func (c *Config) SendRate() (perSecond float64, burst int) {
	perSecond = c.Reminders.SendRatePerSecond
	if perSecond <= 0 {
		perSecond = 20
	}
	burst = c.Reminders.SendBurst
	if burst <= 0 {
		burst = 30
	}
	return perSecond, burst
}

// CommandLimit returns the per-user command allowance and its window.
func (c *Config) CommandLimit() (limit int, window time.Duration) {
	limit = c.RateLimit.Commands
	if limit <= 0 {
		limit = 20
	}
	seconds := c.RateLimit.WindowSeconds
	if seconds <= 0 {
		seconds = 60
	}
	return limit, time.Duration(seconds) * time.Second
}
