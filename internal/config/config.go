// Package config loads server settings from YAML with environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lyinggame/server/internal/gamelog"
	"github.com/lyinggame/server/internal/logging"
	"github.com/lyinggame/server/internal/persistence"
)

const defaultAgentTimeoutMS = uint64(2000)

type Config struct {
	Addr           string        `yaml:"addr"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	Storage        StorageConfig `yaml:"storage"`
	Log            LogConfig     `yaml:"log"`
	Game           GameConfig    `yaml:"game"`
	Agents         AgentConfig   `yaml:"agents"`
}

type StorageConfig struct {
	Driver             string `yaml:"driver"`
	DSN                string `yaml:"dsn"`
	MaxOpenConns       int    `yaml:"max_open_conns"`
	MaxIdleConns       int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeSec int    `yaml:"conn_max_lifetime_sec"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type GameConfig struct {
	LogLanguage string `yaml:"log_language"`
	// Seed makes shuffles reproducible. Zero uses crypto randomness.
	Seed int64 `yaml:"seed"`
}

type AgentConfig struct {
	AllowedHosts []string `yaml:"allowed_hosts"`
	TimeoutMS    uint64   `yaml:"timeout_ms"`
}

func Default() Config {
	return Config{
		Addr: ":8080",
		Storage: StorageConfig{
			Driver:             persistence.DriverMemory,
			MaxOpenConns:       10,
			MaxIdleConns:       5,
			ConnMaxLifetimeSec: 300,
		},
		Log:    LogConfig{Level: "info"},
		Game:   GameConfig{LogLanguage: string(gamelog.LanguageEnglish)},
		Agents: AgentConfig{TimeoutMS: defaultAgentTimeoutMS},
	}
}

// Load reads path over the defaults, applies environment overrides and validates.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config YAML: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from environment variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if raw, ok := lookup(key); ok && strings.TrimSpace(raw) != "" {
			*dst = strings.TrimSpace(raw)
		}
	}
	str("LYINGGAME_ADDR", &c.Addr)
	str("DATABASE_URL", &c.Storage.DSN)
	str("LYINGGAME_STORAGE_DRIVER", &c.Storage.Driver)
	str("LYINGGAME_LOG_LEVEL", &c.Log.Level)
	str("LYINGGAME_LOG_LANGUAGE", &c.Game.LogLanguage)

	if raw, ok := lookup("AGENT_ENDPOINT_ALLOWLIST"); ok && strings.TrimSpace(raw) != "" {
		c.Agents.AllowedHosts = splitList(raw)
	}
	if raw, ok := lookup("LYINGGAME_ALLOWED_ORIGINS"); ok && strings.TrimSpace(raw) != "" {
		c.AllowedOrigins = splitList(raw)
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"DATABASE_MAX_OPEN_CONNS", &c.Storage.MaxOpenConns},
		{"DATABASE_MAX_IDLE_CONNS", &c.Storage.MaxIdleConns},
		{"DATABASE_CONN_MAX_LIFETIME_SEC", &c.Storage.ConnMaxLifetimeSec},
	}
	for _, item := range ints {
		raw, ok := lookup(item.key)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		value, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || value <= 0 {
			return fmt.Errorf("invalid %s value %q", item.key, raw)
		}
		*item.dst = value
	}

	if raw, ok := lookup("AGENT_HTTP_TIMEOUT_MS"); ok && strings.TrimSpace(raw) != "" {
		value, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
		if err != nil || value == 0 {
			return fmt.Errorf("invalid AGENT_HTTP_TIMEOUT_MS value %q", raw)
		}
		c.Agents.TimeoutMS = value
	}

	if raw, ok := lookup("LYINGGAME_SEED"); ok && strings.TrimSpace(raw) != "" {
		value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid LYINGGAME_SEED value %q", raw)
		}
		c.Game.Seed = value
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Addr) == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	switch c.Storage.Driver {
	case persistence.DriverMemory:
	case persistence.DriverSQLite, persistence.DriverPostgres:
		if strings.TrimSpace(c.Storage.DSN) == "" {
			errs = append(errs, fmt.Errorf("storage.dsn is required for driver %q", c.Storage.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}
	if c.Storage.MaxOpenConns < 0 || c.Storage.MaxIdleConns < 0 || c.Storage.ConnMaxLifetimeSec < 0 {
		errs = append(errs, errors.New("storage pool settings must not be negative"))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if _, err := gamelog.ParseLanguage(c.Game.LogLanguage); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c Config) StorageOptions() persistence.Options {
	return persistence.Options{
		Driver:          c.Storage.Driver,
		DSN:             c.Storage.DSN,
		MaxOpenConns:    c.Storage.MaxOpenConns,
		MaxIdleConns:    c.Storage.MaxIdleConns,
		ConnMaxLifetime: time.Duration(c.Storage.ConnMaxLifetimeSec) * time.Second,
	}
}

func (c Config) LoggingConfig() logging.Config {
	return logging.Config{Level: c.Log.Level, Development: c.Log.Development}
}

// AllowedAgentHosts returns the host[:port] set remote agents must match.
func (c Config) AllowedAgentHosts() map[string]struct{} {
	hosts := make(map[string]struct{}, len(c.Agents.AllowedHosts))
	for _, host := range c.Agents.AllowedHosts {
		if host = strings.TrimSpace(host); host != "" {
			hosts[host] = struct{}{}
		}
	}
	return hosts
}

func splitList(raw string) []string {
	out := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
