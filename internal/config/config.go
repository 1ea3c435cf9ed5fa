// Copyright 2026 The Flowmason Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the daemon configuration file. Everything has a
// working default so a bare `flowmasond serve` runs without any file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration.
type Config struct {
	Listen ListenConfig `yaml:"listen"`
	DB     DBConfig     `yaml:"db"`
	Log    LogConfig    `yaml:"log"`
	Hooks  HooksConfig  `yaml:"hooks"`
}

// ListenConfig configures the daemon's HTTP listener.
type ListenConfig struct {
	// Addr is the host:port the API and hook endpoints bind to.
	Addr string `yaml:"addr"`
}

// DBConfig configures persistence.
type DBConfig struct {
	// Path is the sqlite database file. ":memory:" keeps everything
	// in-process, which loses trigger registrations on restart.
	Path string `yaml:"path"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// HooksConfig configures webhook callback handling.
type HooksConfig struct {
	// BaseURL is the externally reachable prefix for callback URLs,
	// e.g. "https://flows.example.com". Trigger nodes append
	// "/hooks/{workflowID}" to it.
	BaseURL string `yaml:"base_url"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Addr: "127.0.0.1:7430"},
		DB:     DBConfig{Path: defaultDBPath()},
		Log:    LogConfig{Level: "info", Format: "json"},
		Hooks:  HooksConfig{BaseURL: "http://127.0.0.1:7430"},
	}
}

// Load reads the config file at path, or the default location when path
// is empty. A missing file is not an error; it yields Default().
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = defaultConfigPath()
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Listen.Addr == "" {
		return fmt.Errorf("listen.addr must not be empty")
	}
	if c.DB.Path == "" {
		return fmt.Errorf("db.path must not be empty")
	}
	switch c.Log.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text, got %q", c.Log.Format)
	}
	return nil
}

func defaultConfigPath() string {
	if dir := os.Getenv("FLOWMASON_CONFIG_DIR"); dir != "" {
		return filepath.Join(dir, "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "flowmason", "config.yaml")
}

func defaultDBPath() string {
	if dir := os.Getenv("FLOWMASON_DATA_DIR"); dir != "" {
		return filepath.Join(dir, "flowmason.db")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "flowmason.db"
	}
	return filepath.Join(home, ".local", "share", "flowmason", "flowmason.db")
}
