package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the kforge configuration file (~/.config/kforge/config.yaml).
// Pointer fields distinguish "not set" from zero values.
type Config struct {
	Backend          string         `yaml:"backend"`
	Workers          *int           `yaml:"workers"`
	WorkspaceLimit   *int           `yaml:"workspace_limit"`
	EnableDeprecated *bool          `yaml:"enable_deprecated"`
	Tuning           *bool          `yaml:"tuning"`
	SearchBudget     *time.Duration `yaml:"search_budget"`
	PerfDB           string         `yaml:"perfdb"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "kforge", "config.yaml")
}

func defaultPerfDBPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "kforge", "perfdb.json")
}

// applyGlobalConfig applies config file defaults to the global flag variables
// when the corresponding flag was not explicitly set.
func applyGlobalConfig(c *cli.Command, cfg Config) {
	if cfg.Backend != "" && !c.IsSet("backend") {
		backendName = cfg.Backend
	}
	if cfg.Workers != nil && !c.IsSet("workers") {
		workers = *cfg.Workers
	}
	if cfg.WorkspaceLimit != nil && !c.IsSet("workspace-limit") {
		workspaceLimit = *cfg.WorkspaceLimit
	}
	if cfg.EnableDeprecated != nil && !c.IsSet("enable-deprecated") {
		enableDeprecated = *cfg.EnableDeprecated
	}
	if cfg.Tuning != nil && !c.IsSet("no-tuning") {
		noTuning = !*cfg.Tuning
	}
	if cfg.SearchBudget != nil && !c.IsSet("search-budget") {
		searchBudget = *cfg.SearchBudget
	}
	if cfg.PerfDB != "" && !c.IsSet("perfdb") {
		perfDBPath = cfg.PerfDB
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

// LoadConfig reads the config file at path. A missing file is a zero Config.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}
