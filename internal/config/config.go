// Fluxmesh - Realtime IoT Telemetry Dispatch and Rule Engine
// Copyright 2026 Fluxmesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxmesh/fluxmesh

// Package config loads and validates the application configuration with
// koanf, layering defaults, an optional YAML file and FLUXMESH_* environment
// variables (in increasing priority).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order. The
// first existing file wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/fluxmesh/config.yaml",
	"/etc/fluxmesh/config.yml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "FLUXMESH_CONFIG"

// envPrefix is the prefix for environment variable overrides, e.g.
// FLUXMESH_SERVER_PORT=8080 sets server.port.
const envPrefix = "FLUXMESH_"

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimit       int           `koanf:"rate_limit"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// SecurityConfig configures token verification.
type SecurityConfig struct {
	// TokenSecret is the shared HMAC secret for bearer-token verification.
	// Minimum 32 characters.
	TokenSecret string `koanf:"token_secret"`
}

// DatabaseConfig configures the embedded document store.
type DatabaseConfig struct {
	// Path is the badger directory. Ignored when InMemory is true.
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`
	// GCInterval is how often the value-log garbage collector runs.
	GCInterval time.Duration `koanf:"gc_interval"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// RulesConfig bounds rule evaluation.
type RulesConfig struct {
	// EvalTimeout is the wall-clock budget for a single evaluation.
	EvalTimeout time.Duration `koanf:"eval_timeout"`
	// MaxSteps is the instruction budget for a single evaluation.
	MaxSteps int `koanf:"max_steps"`
	// MaxScriptLen caps rule body length in bytes.
	MaxScriptLen int `koanf:"max_script_len"`
}

// RealtimeConfig tunes the websocket surface.
type RealtimeConfig struct {
	WriteWait      time.Duration `koanf:"write_wait"`
	PongWait       time.Duration `koanf:"pong_wait"`
	MaxMessageSize int64         `koanf:"max_message_size"`
	SendBuffer     int           `koanf:"send_buffer"`
	// FrameRate and FrameBurst bound inbound frames per connection.
	FrameRate  float64 `koanf:"frame_rate"`
	FrameBurst int     `koanf:"frame_burst"`
}

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Security SecurityConfig `koanf:"security"`
	Database DatabaseConfig `koanf:"database"`
	Logging  LoggingConfig  `koanf:"logging"`
	Rules    RulesConfig    `koanf:"rules"`
	Realtime RealtimeConfig `koanf:"realtime"`
}

// defaultConfig returns the defaults applied before file and env overrides.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimit:       300,
			RateLimitWindow: time.Minute,
		},
		Database: DatabaseConfig{
			Path:       "/data/fluxmesh",
			GCInterval: 10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Rules: RulesConfig{
			EvalTimeout:  250 * time.Millisecond,
			MaxSteps:     10000,
			MaxScriptLen: 16 * 1024,
		},
		Realtime: RealtimeConfig{
			WriteWait:      10 * time.Second,
			PongWait:       60 * time.Second,
			MaxMessageSize: 64 * 1024,
			SendBuffer:     256,
			FrameRate:      50,
			FrameBurst:     100,
		},
	}
}

// Load builds the configuration from defaults, the first config file found
// (or ConfigPathEnvVar) and FLUXMESH_* environment variables.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path := configFilePath(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// FLUXMESH_SERVER_PORT → server.port. Section names contain no
	// underscores, so splitting on the first underscore is unambiguous.
	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
		return strings.Replace(s, "_", ".", 1)
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func configFilePath() string {
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		return path
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Validate checks the configuration for values that would make the process
// unusable at runtime.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if len(c.Security.TokenSecret) < 32 {
		return fmt.Errorf("security.token_secret must be at least 32 characters")
	}
	if !c.Database.InMemory && c.Database.Path == "" {
		return fmt.Errorf("database.path is required unless database.in_memory is set")
	}
	if c.Rules.EvalTimeout <= 0 {
		return fmt.Errorf("rules.eval_timeout must be positive")
	}
	if c.Rules.MaxSteps <= 0 {
		return fmt.Errorf("rules.max_steps must be positive")
	}
	if c.Realtime.PongWait <= 0 || c.Realtime.WriteWait <= 0 {
		return fmt.Errorf("realtime timeouts must be positive")
	}
	return nil
}
