// Package config loads process configuration for the dupeguard server.
//
// Precedence is defaults, then an optional YAML file, then DUPEGUARD_* env vars.
// Engine behaviour (patches, punishment rules, restricted content) is not
// configured here; it lives in the persisted GlobalConfig record.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	EnvPrefix  = "DUPEGUARD_"
	PathEnvVar = "DUPEGUARD_CONFIG"
)

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Engine   EngineConfig   `koanf:"engine"`
	Storage  StorageConfig  `koanf:"storage"`
	Archive  ArchiveConfig  `koanf:"archive"`
	Logging  LoggingConfig  `koanf:"logging"`
	Scenario ScenarioConfig `koanf:"scenario"`
}

type ServerConfig struct {
	// Admin API listen address. Must be loopback unless AllowRemote is set.
	Addr            string        `koanf:"addr" validate:"required,hostname_port"`
	AllowRemote     bool          `koanf:"allow_remote"`
	RequestsPerMin  int           `koanf:"requests_per_min" validate:"min=1"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"min=0"`
}

type EngineConfig struct {
	TickRate int `koanf:"tick_rate" validate:"min=1,max=100"`
	// Path to a signature catalog YAML; empty uses built-in defaults.
	CatalogPath string `koanf:"catalog_path"`
}

type StorageConfig struct {
	// memory | sqlite | badger
	Backend      string        `koanf:"backend" validate:"oneof=memory sqlite badger"`
	Path         string        `koanf:"path" validate:"required_unless=Backend memory"`
	MaxValueSize int           `koanf:"max_value_size" validate:"min=1024"`
	Breaker      BreakerConfig `koanf:"breaker"`
}

type BreakerConfig struct {
	Enabled          bool          `koanf:"enabled"`
	FailureThreshold uint32        `koanf:"failure_threshold" validate:"min=1"`
	OpenTimeout      time.Duration `koanf:"open_timeout" validate:"min=0"`
}

type ArchiveConfig struct {
	// Directory for hourly incident archives; empty disables archiving.
	Dir string `koanf:"dir"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

type ScenarioConfig struct {
	// Optional sim world scenario to host (demo mode).
	Path string `koanf:"path"`
}

func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            "127.0.0.1:8080",
			RequestsPerMin:  120,
			ShutdownTimeout: 5 * time.Second,
		},
		Engine: EngineConfig{TickRate: 20},
		Storage: StorageConfig{
			Backend:      "sqlite",
			Path:         "./data/dupeguard.sqlite",
			MaxValueSize: 32 * 1024,
			Breaker: BreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				OpenTimeout:      30 * time.Second,
			},
		},
		Archive: ArchiveConfig{Dir: "./data/incidents"},
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}
}

// Load layers defaults, the YAML file at path (or $DUPEGUARD_CONFIG) and env.
// A missing explicit path is an error; a missing env-named file is ignored.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		if p := os.Getenv(PathEnvVar); p != "" {
			if _, err := os.Stat(p); err == nil {
				path = p
			}
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// envKey maps DUPEGUARD_STORAGE__MAX_VALUE_SIZE to storage.max_value_size.
// A double underscore separates sections so single underscores survive in
// field names. DUPEGUARD_CONFIG is not a setting.
func envKey(key string) string {
	if key == PathEnvVar {
		return ""
	}
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if !c.Server.AllowRemote && !isLoopback(c.Server.Addr) {
		return fmt.Errorf("server.addr %q is not loopback (set server.allow_remote)", c.Server.Addr)
	}
	return nil
}

// TickInterval is the engine loop period.
func (c *Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.Engine.TickRate)
}

func isLoopback(addr string) bool {
	host := addr
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		host = addr[:i]
	}
	host = strings.Trim(host, "[]")
	switch host {
	case "127.0.0.1", "localhost", "::1":
		return true
	}
	return strings.HasPrefix(host, "127.")
}
