package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all pinnacle configuration.
// Priority: flags > env vars > settings.toml > defaults.
type Config struct {
	ListenAddr string `toml:"listen_addr"`
	BaseURL    string `toml:"base_url"`
	DBPath     string `toml:"db_path"`
	LogLevel   string `toml:"log_level"`
	NATSURL    string `toml:"nats_url,omitempty"`

	Flowdir FlowdirConfig `toml:"flowdir"`
	Editor  EditorConfig  `toml:"editor"`
}

// FlowdirConfig configures the directory tool run by the API server.
type FlowdirConfig struct {
	Command          string   `toml:"command"`
	Args             []string `toml:"args"`
	WorkingDirectory string   `toml:"working_directory,omitempty"`
	CentralScripts   string   `toml:"central_scripts,omitempty"`
	Timeout          string   `toml:"timeout"`
}

// EditorConfig configures headless editor sessions.
type EditorConfig struct {
	ExecutionTimeout   string   `toml:"execution_timeout"`
	AutosaveSchedule   string   `toml:"autosave_schedule"`
	ApprovalPolicy     string   `toml:"approval_policy,omitempty"`
	SpawnRules         []string `toml:"spawn_rules,omitempty"`
	ReplaceOnRetrigger bool     `toml:"replace_on_retrigger"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr: ":4200",
		DBPath:     filepath.Join(pinnacleDir(), "pinnacle.db"),
		LogLevel:   "info",
		Flowdir: FlowdirConfig{
			Command: "python3",
			Args:    []string{"flowdir_parameterized.py"},
			Timeout: "10m",
		},
		Editor: EditorConfig{
			ExecutionTimeout: "120s",
			AutosaveSchedule: "@every 30s",
		},
	}
}

func pinnacleDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pinnacle"
	}
	return filepath.Join(home, ".pinnacle")
}

func settingsPath() string {
	return filepath.Join(pinnacleDir(), "settings.toml")
}

// loadConfig layers defaults, the settings file at path and the environment.
// A missing settings file is not an error.
func loadConfig(path string, getenv func(string) string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("reading %s: %w", path, err)
		}
	}

	envString := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	envString("PINNACLE_LISTEN_ADDR", &cfg.ListenAddr)
	envString("PINNACLE_BASE_URL", &cfg.BaseURL)
	envString("PINNACLE_DB_PATH", &cfg.DBPath)
	envString("PINNACLE_LOG_LEVEL", &cfg.LogLevel)
	envString("PINNACLE_NATS_URL", &cfg.NATSURL)
	envString("PINNACLE_FLOWDIR_COMMAND", &cfg.Flowdir.Command)
	envString("PINNACLE_WORKING_DIRECTORY", &cfg.Flowdir.WorkingDirectory)
	envString("PINNACLE_CENTRAL_SCRIPTS", &cfg.Flowdir.CentralScripts)
	envString("PINNACLE_FLOWDIR_TIMEOUT", &cfg.Flowdir.Timeout)
	envString("PINNACLE_EXECUTION_TIMEOUT", &cfg.Editor.ExecutionTimeout)
	envString("PINNACLE_AUTOSAVE_SCHEDULE", &cfg.Editor.AutosaveSchedule)
	envString("PINNACLE_APPROVAL_POLICY", &cfg.Editor.ApprovalPolicy)
	if v := getenv("PINNACLE_FLOWDIR_ARGS"); v != "" {
		cfg.Flowdir.Args = strings.Fields(v)
	}
	if v := getenv("PINNACLE_REPLACE_ON_RETRIGGER"); v != "" {
		cfg.Editor.ReplaceOnRetrigger = v == "true" || v == "1"
	}

	return cfg, nil
}

// finalize derives base_url from listen_addr and checks durations.
func (c *Config) finalize() error {
	if c.BaseURL == "" {
		addr := c.ListenAddr
		if strings.HasPrefix(addr, ":") {
			addr = "localhost" + addr
		}
		c.BaseURL = "http://" + addr
	}
	if _, err := c.Flowdir.timeout(); err != nil {
		return err
	}
	if _, err := c.Editor.executionTimeout(); err != nil {
		return err
	}
	return nil
}

func (f FlowdirConfig) timeout() (time.Duration, error) {
	return parseDuration("flowdir.timeout", f.Timeout)
}

func (e EditorConfig) executionTimeout() (time.Duration, error) {
	return parseDuration("editor.execution_timeout", e.ExecutionTimeout)
}

func parseDuration(field, v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, v, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: must not be negative", field, v)
	}
	return d, nil
}

// writeConfig stores cfg as TOML at path.
func writeConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
