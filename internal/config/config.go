// Package config loads briefly's configuration from a JSON file at
// $XDG_CONFIG_HOME/briefly/config.json with BRIEFLY_* environment
// variables overriding file values.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	Server  ServerConfig
	Gateway GatewayConfig
	Poll    PollConfig
	Watcher WatcherConfig
	Storage StorageConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port  int
	Token string // optional bearer token; empty disables auth
}

type GatewayConfig struct {
	BaseURL    string
	APIKey     string
	RunTimeout time.Duration
	Cleanup    string
}

type PollConfig struct {
	Budget   time.Duration
	Interval time.Duration
}

type WatcherConfig struct {
	Interval time.Duration
	Budget   time.Duration
	Slots    int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Gateway: GatewayConfig{
			BaseURL:    "http://127.0.0.1:8700",
			RunTimeout: 8 * time.Minute,
			Cleanup:    "on-success",
		},
		Poll: PollConfig{
			Budget:   55 * time.Second,
			Interval: 2500 * time.Millisecond,
		},
		Watcher: WatcherConfig{
			Interval: 10 * time.Second,
			Budget:   10 * time.Minute,
			Slots:    8,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "briefly")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "briefly-data"
	}
	return filepath.Join(home, ".local", "share", "briefly")
}

func configFilePath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "briefly", "config.json")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "briefly", "config.json")
}

// fileConfig mirrors Config with JSON tags and string durations.
type fileConfig struct {
	Port            *int   `json:"port"`
	Token           string `json:"token"`
	GatewayBaseURL  string `json:"gateway_base_url"`
	GatewayAPIKey   string `json:"gateway_api_key"`
	RunTimeout      string `json:"run_timeout"`
	Cleanup         string `json:"cleanup"`
	PollBudget      string `json:"poll_budget"`
	PollInterval    string `json:"poll_interval"`
	WatcherInterval string `json:"watcher_interval"`
	WatcherBudget   string `json:"watcher_budget"`
	WatcherSlots    *int   `json:"watcher_slots"`
	DataDir         string `json:"data_dir"`
	LogLevel        string `json:"log_level"`
}

// Load reads configuration from the config file and environment.
// BRIEFLY_* environment variables override file values. The gateway API
// key is required.
func Load() (Config, error) {
	return loadFrom(configFilePath())
}

func loadFrom(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}

	if cfg.Gateway.APIKey == "" {
		return Config{}, errors.New(
			"missing required config: gateway API key. " +
				"Set it via environment variable BRIEFLY_GATEWAY_API_KEY " +
				"or the gateway_api_key field in " + path)
	}

	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	if fc.Port != nil {
		cfg.Server.Port = *fc.Port
	}
	if fc.Token != "" {
		cfg.Server.Token = fc.Token
	}
	if fc.GatewayBaseURL != "" {
		cfg.Gateway.BaseURL = fc.GatewayBaseURL
	}
	if fc.GatewayAPIKey != "" {
		cfg.Gateway.APIKey = fc.GatewayAPIKey
	}
	if fc.Cleanup != "" {
		cfg.Gateway.Cleanup = fc.Cleanup
	}
	if fc.WatcherSlots != nil {
		cfg.Watcher.Slots = *fc.WatcherSlots
	}
	if fc.DataDir != "" {
		cfg.Storage.DataDir = fc.DataDir
	}
	if fc.LogLevel != "" {
		cfg.Log.Level = fc.LogLevel
	}

	durations := []struct {
		raw string
		dst *time.Duration
		key string
	}{
		{fc.RunTimeout, &cfg.Gateway.RunTimeout, "run_timeout"},
		{fc.PollBudget, &cfg.Poll.Budget, "poll_budget"},
		{fc.PollInterval, &cfg.Poll.Interval, "poll_interval"},
		{fc.WatcherInterval, &cfg.Watcher.Interval, "watcher_interval"},
		{fc.WatcherBudget, &cfg.Watcher.Budget, "watcher_budget"},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", d.key, d.raw, err)
		}
		*d.dst = v
	}

	return nil
}

func applyEnvOverrides(cfg *Config) error {
	if raw := os.Getenv("BRIEFLY_PORT"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("parsing BRIEFLY_PORT %q: %w", raw, err)
		}
		cfg.Server.Port = v
	}
	if v := os.Getenv("BRIEFLY_API_TOKEN"); v != "" {
		cfg.Server.Token = v
	}
	if v := os.Getenv("BRIEFLY_GATEWAY_URL"); v != "" {
		cfg.Gateway.BaseURL = v
	}
	if v := os.Getenv("BRIEFLY_GATEWAY_API_KEY"); v != "" {
		cfg.Gateway.APIKey = v
	}
	if v := os.Getenv("BRIEFLY_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("BRIEFLY_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	durations := []struct {
		env string
		dst *time.Duration
	}{
		{"BRIEFLY_RUN_TIMEOUT", &cfg.Gateway.RunTimeout},
		{"BRIEFLY_POLL_BUDGET", &cfg.Poll.Budget},
		{"BRIEFLY_POLL_INTERVAL", &cfg.Poll.Interval},
		{"BRIEFLY_WATCHER_INTERVAL", &cfg.Watcher.Interval},
		{"BRIEFLY_WATCHER_BUDGET", &cfg.Watcher.Budget},
	}
	for _, d := range durations {
		raw := os.Getenv(d.env)
		if raw == "" {
			continue
		}
		v, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", d.env, raw, err)
		}
		*d.dst = v
	}

	return nil
}
