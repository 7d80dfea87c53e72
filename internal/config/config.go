// Package config loads runtime settings from flags, environment, an optional
// YAML file and a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix is stripped from environment variables; "__" separates nested keys.
const EnvPrefix = "FUSHIGI_"

// Config is the full runtime configuration.
type Config struct {
	HTTP HTTPConfig `koanf:"http"`
	DB   DBConfig   `koanf:"db"`
	SRS  SRSConfig  `koanf:"srs"`
	Sync SyncConfig `koanf:"sync"`
	Log  LogConfig  `koanf:"log"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr string `koanf:"addr" validate:"required"`
}

// DBConfig selects the database driver and connection string.
type DBConfig struct {
	Driver string `koanf:"driver" validate:"oneof=sqlite postgres"`
	DSN    string `koanf:"dsn" validate:"required"`
}

// SRSConfig tunes daily batches and review retries.
type SRSConfig struct {
	DailyCapacity int `koanf:"daily_capacity" validate:"min=1,max=100"`
	ReviewRetries int `koanf:"review_retries" validate:"min=1"`
}

// SyncConfig controls grammar source checkouts and periodic sync.
type SyncConfig struct {
	ReposDir string `koanf:"repos_dir" validate:"required"`
	// Schedule is a cron expression; empty disables periodic sync.
	Schedule string `koanf:"schedule"`
}

// LogConfig sets the slog level and output format.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// flagKeys maps command-line flag names to configuration keys.
// Flags not listed here are left to the caller.
var flagKeys = map[string]string{
	"addr":           "http.addr",
	"db-driver":      "db.driver",
	"db-dsn":         "db.dsn",
	"daily-capacity": "srs.daily_capacity",
	"review-retries": "srs.review_retries",
	"repos-dir":      "sync.repos_dir",
	"sync-schedule":  "sync.schedule",
	"log-level":      "log.level",
	"log-format":     "log.format",
}

// RegisterFlags adds the configuration flags, with their defaults, to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to a YAML configuration file")
	fs.String("addr", ":8080", "HTTP listen address")
	fs.String("db-driver", "sqlite", "Database driver (sqlite or postgres)")
	fs.String("db-dsn", "fushigi.db", "Database connection string")
	fs.Int("daily-capacity", 5, "Default number of grammar points in a daily batch")
	fs.Int("review-retries", 3, "Retries for a review that lost a concurrent update")
	fs.String("repos-dir", "repos", "Directory for git source checkouts")
	fs.String("sync-schedule", "", "Cron expression for periodic source sync")
	fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	fs.String("log-format", "text", "Log format (text or json)")
}

// Load builds the configuration from fs, which must already be parsed and
// carry the flags from RegisterFlags.
//
// Precedence, lowest first: flag defaults, YAML file, environment, changed flags.
func Load(fs *pflag.FlagSet) (Config, error) {
	var cfg Config

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("loading .env: %w", err)
	}

	k := koanf.New(".")

	if path, _ := fs.GetString("config"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return cfg, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKey), nil); err != nil {
		return cfg, fmt.Errorf("loading environment: %w", err)
	}

	flagKey := func(f *pflag.Flag) (string, interface{}) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return "", nil
		}
		return key, posflag.FlagVal(fs, f)
	}
	if err := k.Load(posflag.ProviderWithFlag(fs, ".", k, flagKey), nil); err != nil {
		return cfg, fmt.Errorf("loading flags: %w", err)
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, fmt.Errorf("decoding config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// envKey turns FUSHIGI_DB__DSN into db.dsn.
func envKey(key, value string) (string, interface{}) {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return strings.ReplaceAll(key, "__", "."), value
}
