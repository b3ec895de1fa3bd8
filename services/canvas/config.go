// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package canvas

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianCanvas/pkg/validation"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/clock"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/ratelimit"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Defaults
// =============================================================================

const (
	DefaultBindAddr        = "[::1]:8080"
	DefaultBoardPath       = "board.txt"
	DefaultDiffPath        = "diffs.bin"
	DefaultShutdownTimeout = 10 * time.Second

	// HistoryInMemory as HistoryPath keeps the history index in memory.
	HistoryInMemory = ":memory:"

	// OTelStdout as OTelEndpoint prints spans to stdout.
	OTelStdout = "stdout"
)

// Config holds the service configuration.
//
// # Fields
//
//   - BindAddr: Listen address. Default "[::1]:8080".
//   - BoardPath, DiffPath: The two artifacts. Defaults "board.txt", "diffs.bin".
//   - Cooldown: Minimum spacing between placements per identity. Default 5m.
//   - RedisAddr: When set, cooldowns live in Redis instead of process memory.
//   - RedisKeyPrefix: Namespace for cooldown keys.
//   - HistoryPath: Badger directory for the history index, HistoryInMemory,
//     or "" to disable /v1/diffs.
//   - OTelEndpoint: OTLP gRPC collector, OTelStdout, or "" for no tracing.
//   - EnableMetrics: Serve /metrics.
//   - GinMode: gin.DebugMode, gin.ReleaseMode or gin.TestMode.
//   - TrustedProxies: CIDRs whose X-Forwarded-For is honoured. Empty means
//     the TCP peer address is always the caller.
//   - WatchBoard: Publish resize events when the board file grows.
//   - StreamBuffer: Per-subscriber queue length on /v1/stream.
//   - ShutdownTimeout: Grace period for in-flight requests.
//   - LogLevel, LogDir, LogFormat: Consumed by the binary's logger setup.
//   - Clock: Timestamp source. Nil uses the system clock.
type Config struct {
	BindAddr        string        `yaml:"bind_addr"`
	BoardPath       string        `yaml:"board_path"`
	DiffPath        string        `yaml:"diff_path"`
	Cooldown        time.Duration `yaml:"cooldown"`
	RedisAddr       string        `yaml:"redis_addr,omitempty"`
	RedisKeyPrefix  string        `yaml:"redis_key_prefix,omitempty"`
	HistoryPath     string        `yaml:"history_path,omitempty"`
	OTelEndpoint    string        `yaml:"otel_endpoint,omitempty"`
	EnableMetrics   bool          `yaml:"enable_metrics"`
	GinMode         string        `yaml:"gin_mode,omitempty"`
	TrustedProxies  []string      `yaml:"trusted_proxies,omitempty"`
	WatchBoard      bool          `yaml:"watch_board"`
	StreamBuffer    int           `yaml:"stream_buffer"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level,omitempty"`
	LogDir          string        `yaml:"log_dir,omitempty"`
	LogFormat       string        `yaml:"log_format,omitempty"`

	Clock clock.Clock `yaml:"-"`
}

// applyConfigDefaults fills zero fields. Booleans are left as given.
func applyConfigDefaults(cfg Config) Config {
	if cfg.BindAddr == "" {
		cfg.BindAddr = DefaultBindAddr
	}
	if cfg.BoardPath == "" {
		cfg.BoardPath = DefaultBoardPath
	}
	if cfg.DiffPath == "" {
		cfg.DiffPath = DefaultDiffPath
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = ratelimit.DefaultCooldown
	}
	if cfg.RedisKeyPrefix == "" {
		cfg.RedisKeyPrefix = ratelimit.DefaultKeyPrefix
	}
	cfg.GinMode = strings.ToLower(strings.TrimSpace(cfg.GinMode))
	if cfg.StreamBuffer <= 0 {
		cfg.StreamBuffer = 256
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	return cfg
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	cfg := applyConfigDefaults(Config{})
	cfg.EnableMetrics = true
	cfg.WatchBoard = true
	return cfg
}

// Validate checks operator-supplied values. It is run on the config with
// defaults applied.
func (c Config) Validate() error {
	if err := validation.ValidateBindAddr(c.BindAddr); err != nil {
		return err
	}
	if err := validation.ValidateDataPath(c.BoardPath); err != nil {
		return fmt.Errorf("board path: %w", err)
	}
	if err := validation.ValidateDataPath(c.DiffPath); err != nil {
		return fmt.Errorf("diff path: %w", err)
	}
	if c.HistoryPath != "" && c.HistoryPath != HistoryInMemory {
		if err := validation.ValidateDataPath(c.HistoryPath); err != nil {
			return fmt.Errorf("history path: %w", err)
		}
	}
	if err := validation.ValidateCIDRs(c.TrustedProxies); err != nil {
		return err
	}
	if _, err := validation.SanitizeChoice(c.LogFormat, "", "text", "json"); err != nil {
		return fmt.Errorf("log format: %w", err)
	}
	if _, err := validation.SanitizeChoice(c.GinMode, "", "debug", "release", "test"); err != nil {
		return fmt.Errorf("gin mode: %w", err)
	}
	return nil
}

// =============================================================================
// Environment
// =============================================================================

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ConfigFromEnv overlays environment variables onto DefaultConfig.
//
// # Variables
//
//	BIND_ADDR, CANVAS_BOARD_PATH, CANVAS_DIFF_PATH, CANVAS_COOLDOWN,
//	CANVAS_REDIS_ADDR, CANVAS_HISTORY_PATH, OTEL_EXPORTER_OTLP_ENDPOINT,
//	CANVAS_METRICS, GIN_MODE, CANVAS_TRUSTED_PROXIES (comma separated),
//	CANVAS_WATCH_BOARD, CANVAS_LOG_LEVEL, CANVAS_LOG_DIR, CANVAS_LOG_FORMAT
//
// # Outputs
//
//   - error: Names the first variable that failed to parse.
func ConfigFromEnv(lookup LookupFunc) (Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	cfg := DefaultConfig()
	env := envReader{lookup: lookup}

	cfg.BindAddr = env.str("BIND_ADDR", cfg.BindAddr)
	cfg.BoardPath = env.str("CANVAS_BOARD_PATH", cfg.BoardPath)
	cfg.DiffPath = env.str("CANVAS_DIFF_PATH", cfg.DiffPath)
	cfg.Cooldown = env.duration("CANVAS_COOLDOWN", cfg.Cooldown)
	cfg.RedisAddr = env.str("CANVAS_REDIS_ADDR", cfg.RedisAddr)
	cfg.HistoryPath = env.str("CANVAS_HISTORY_PATH", cfg.HistoryPath)
	cfg.OTelEndpoint = env.str("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTelEndpoint)
	cfg.EnableMetrics = env.boolean("CANVAS_METRICS", cfg.EnableMetrics)
	cfg.GinMode = env.str("GIN_MODE", cfg.GinMode)
	cfg.WatchBoard = env.boolean("CANVAS_WATCH_BOARD", cfg.WatchBoard)
	cfg.LogLevel = env.str("CANVAS_LOG_LEVEL", cfg.LogLevel)
	cfg.LogDir = env.str("CANVAS_LOG_DIR", cfg.LogDir)
	cfg.LogFormat = env.str("CANVAS_LOG_FORMAT", cfg.LogFormat)
	if proxies := env.str("CANVAS_TRUSTED_PROXIES", ""); proxies != "" {
		for _, p := range strings.Split(proxies, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.TrustedProxies = append(cfg.TrustedProxies, p)
			}
		}
	}

	if env.err != nil {
		return Config{}, env.err
	}
	return cfg, nil
}

// envReader remembers the first parse failure so call sites stay flat.
type envReader struct {
	lookup LookupFunc
	err    error
}

func (e *envReader) str(key, def string) string {
	if v, ok := e.lookup(key); ok && v != "" {
		return v
	}
	return def
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// Bare integers are seconds.
		secs, intErr := strconv.Atoi(v)
		if intErr != nil {
			e.fail(key, err)
			return def
		}
		d = time.Duration(secs) * time.Second
	}
	return d
}

func (e *envReader) boolean(key string, def bool) bool {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return b
}

func (e *envReader) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}

// =============================================================================
// YAML
// =============================================================================

// LoadConfigFile overlays the YAML document at path onto base. Keys absent
// from the file keep base's values.
func LoadConfigFile(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// MarshalYAMLConfig renders cfg as YAML with defaults applied.
func MarshalYAMLConfig(cfg Config) ([]byte, error) {
	return yaml.Marshal(applyConfigDefaults(cfg))
}
