// Package config loads server settings from an optional YAML file and
// STARCHART_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/gookit/validate"
	"github.com/spf13/viper"

	"github.com/dukerupert/starchart/internal/model"
)

type BackupConfig struct {
	Endpoint      string        `mapstructure:"endpoint"`
	Bucket        string        `mapstructure:"bucket"`
	Region        string        `mapstructure:"region"`
	AccessKey     string        `mapstructure:"access_key"`
	SecretKey     string        `mapstructure:"secret_key"`
	Passphrase    string        `mapstructure:"passphrase"`
	Interval      time.Duration `mapstructure:"interval" validate:"required|min:1"`
	RetentionDays int           `mapstructure:"retention_days" validate:"required|int|min:1"`
}

// Enabled reports whether enough is configured to upload encrypted backups.
func (b BackupConfig) Enabled() bool {
	return b.Bucket != "" && b.AccessKey != "" && b.SecretKey != "" && b.Passphrase != ""
}

type Config struct {
	Port           string       `mapstructure:"port" validate:"required|numeric"`
	DBPath         string       `mapstructure:"db_path" validate:"required"`
	LogLevel       string       `mapstructure:"log_level" validate:"required|in:debug,info,warn,error"`
	LogFormat      string       `mapstructure:"log_format" validate:"required|in:text,json"`
	StaticDir      string       `mapstructure:"static_dir"`
	TotalStars     int          `mapstructure:"total_stars" validate:"required|int|min:1|max:100"`
	MetricsEnabled bool         `mapstructure:"metrics_enabled"`
	SaveRateLimit  int          `mapstructure:"save_rate_limit" validate:"required|int|min:1"`
	Backup         BackupConfig `mapstructure:"backup"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("db_path", "data/star-chart.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("static_dir", "")
	v.SetDefault("total_stars", model.DefaultTotalStars)
	v.SetDefault("metrics_enabled", true)
	v.SetDefault("save_rate_limit", 120)
	v.SetDefault("backup.endpoint", "")
	v.SetDefault("backup.bucket", "")
	v.SetDefault("backup.region", "us-east-1")
	v.SetDefault("backup.access_key", "")
	v.SetDefault("backup.secret_key", "")
	v.SetDefault("backup.passphrase", "")
	v.SetDefault("backup.interval", 24*time.Hour)
	v.SetDefault("backup.retention_days", 30)
}

// Load reads configuration. path may be empty, in which case only defaults
// and the environment are used. Environment variables take the form
// STARCHART_DB_PATH or STARCHART_BACKUP_BUCKET; a bare PORT is honored for
// hosting platforms that inject it.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("STARCHART")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("port", "STARCHART_PORT", "PORT"); err != nil {
		return nil, fmt.Errorf("bind port env: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into config struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	v := validate.Struct(c)
	if !v.Validate() {
		return fmt.Errorf("invalid config: %s", v.Errors.One())
	}
	return nil
}
