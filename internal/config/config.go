// Package config loads settings from flags, environment and an optional
// YAML file.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/conorfennell/recall/internal/queue"
)

// EnvPrefix prefixes environment overrides. Nested keys use a double
// underscore: RECALL_QUEUE__DAILY_NEW_CARD_LIMIT=10.
const EnvPrefix = "RECALL_"

// Server configures the HTTP adapter.
type Server struct {
	Addr       string        `koanf:"addr" validate:"required"`
	SessionTTL time.Duration `koanf:"session_ttl" validate:"gt=0"`
	// Admins may manage sources over HTTP.
	Admins []string `koanf:"admins"`
}

// Config is the full application configuration.
type Config struct {
	DB       string       `koanf:"db" validate:"required"`
	ReposDir string       `koanf:"repos_dir" validate:"required"`
	LogLevel string       `koanf:"log_level" validate:"oneof=debug info warn error"`
	Server   Server       `koanf:"server"`
	Queue    queue.Config `koanf:"queue"`
}

// flagKeys maps flag names to config keys. Flags not listed are actions,
// not settings.
var flagKeys = map[string]string{
	"db":           "db",
	"repos-dir":    "repos_dir",
	"log-level":    "log_level",
	"addr":         "server.addr",
	"session-ttl":  "server.session_ttl",
	"admins":       "server.admins",
	"new-limit":    "queue.daily_new_card_limit",
	"due-capacity": "queue.due_capacity",
}

// Flags returns the command-line flags. Their defaults are the defaults of
// the configuration.
func Flags(name string) *pflag.FlagSet {
	defaults := queue.DefaultConfig()

	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "", "Path to a YAML config file")
	fs.String("db", "recall.db", "Path to the SQLite database file")
	fs.String("repos-dir", "repos", "Directory git sources are checked out into")
	fs.String("log-level", "info", "Log level: debug, info, warn or error")
	fs.String("addr", ":8080", "HTTP listen address")
	fs.Duration("session-ttl", 2*time.Hour, "Idle time after which an unfinished session is dropped")
	fs.StringSlice("admins", nil, "Learner ids allowed to manage sources over HTTP")
	fs.Int("new-limit", defaults.DailyNewCardLimit, "Maximum new cards introduced per day")
	fs.Int("due-capacity", defaults.DueCapacity, "Maximum due cards per session, 0 for no limit")
	fs.String("add-source", "", "Register a local directory or git URL as a card source")
	fs.Bool("sync", false, "Sync all sources into the catalog")
	fs.Bool("serve", false, "Start the HTTP server")
	return fs
}

var validate = validator.New()

// Load parses args into fs and builds the configuration. Precedence, lowest
// first: flag defaults, config file, environment, flags set on the command
// line.
func Load(fs *pflag.FlagSet, args []string) (*Config, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	k := koanf.New(".")

	path, err := fs.GetString("config")
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	err = k.Load(env.ProviderWithValue(EnvPrefix, ".", func(key, value string) (string, interface{}) {
		key = strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), "__", ".")
		if key == "server.admins" {
			return key, strings.Split(value, ",")
		}
		return key, value
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	err = k.Load(posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, interface{}) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return "", nil
		}
		return key, posflag.FlagVal(fs, f)
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load flags: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// NewLogger returns a text logger writing to w at the configured level.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch c.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
