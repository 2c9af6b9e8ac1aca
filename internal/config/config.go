// Package config loads and normalizes the orchestrator's settings:
// concurrency ceiling, timeouts, the gateway URL, the employee registry
// location, and the HTTP surface's auth/CORS knobs. It follows the
// load-then-normalize-then-env-override shape used throughout this
// codebase's configuration, trimmed to exactly what this engine reads.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AuthConfig is the HTTP surface's single-shared-key auth setting.
type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Key     string `yaml:"key"`
}

// CORSConfig is the HTTP surface's CORS setting.
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// GatewayConfig points at the local LLM gateway the runner's gateway path
// talks to.
type GatewayConfig struct {
	BaseURL string `yaml:"base_url"`
}

// ObservabilityConfig controls internal/obs's OpenTelemetry wiring. When
// Enabled is false, obs.Init returns no-op tracer/meter providers at zero
// cost and OTLPEndpoint is ignored.
type ObservabilityConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Config is the full set of settings this orchestrator reads at startup.
// Zero-value fields are filled by Normalize with the documented defaults.
type Config struct {
	// HomeDir is where tasks.json, employees.json, agent_failures.json,
	// chat_history/ and discussions/ all live (spec §6's persisted state
	// layout, rooted at <project>/.tayfa/common in a real deployment).
	HomeDir string `yaml:"-"`

	BindAddr string `yaml:"bind_addr"`
	LogLevel string `yaml:"log_level"`

	// MaxConcurrentRuns bounds how many tasks the scheduler may have
	// in flight at once (§5 concurrency ceiling).
	MaxConcurrentRuns int `yaml:"max_concurrent_runs"`

	// AgentTimeoutSeconds is agent_timeout (§5); the HTTP deadline the
	// gateway path uses is always this plus a fixed grace period.
	AgentTimeoutSeconds int `yaml:"agent_timeout_seconds"`

	MaxAttempts    int `yaml:"max_attempts"`
	RetryBaseDelaySeconds int `yaml:"retry_base_delay_seconds"`
	RetryMaxDelaySeconds  int `yaml:"retry_max_delay_seconds"`

	Gateway       GatewayConfig       `yaml:"gateway"`
	Auth          AuthConfig          `yaml:"auth"`
	CORS          CORSConfig          `yaml:"cors"`
	Observability ObservabilityConfig `yaml:"observability"`

	// SweepIntervalSeconds controls how often the sweeper checks for
	// expired leases and recomputes finalize-task dependencies.
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
}

func defaultConfig() Config {
	return Config{
		BindAddr:              "127.0.0.1:8780",
		LogLevel:              "info",
		MaxConcurrentRuns:     4,
		AgentTimeoutSeconds:   int((10 * time.Minute).Seconds()),
		MaxAttempts:           3,
		RetryBaseDelaySeconds: 3,
		RetryMaxDelaySeconds:  30,
		Gateway:               GatewayConfig{BaseURL: "http://127.0.0.1:8781"},
		SweepIntervalSeconds:  60,
	}
}

// HomeDir resolves the orchestrator's state directory: ORCHESTRATORD_HOME
// if set, otherwise ~/.sprintd.
func HomeDir() string {
	if override := os.Getenv("ORCHESTRATORD_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".sprintd")
}

// Load reads config.yaml from HomeDir (creating the directory if absent),
// applies environment overrides, and normalizes zero-value fields to their
// defaults.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create home dir: %w", err)
	}

	configPath := filepath.Join(cfg.HomeDir, "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ORCHESTRATORD_BIND_ADDR"); v != "" {
		cfg.BindAddr = v
	}
	if v := os.Getenv("ORCHESTRATORD_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("ORCHESTRATORD_GATEWAY_URL"); v != "" {
		cfg.Gateway.BaseURL = v
	}
	if v := os.Getenv("ORCHESTRATORD_API_KEY"); v != "" {
		cfg.Auth.Enabled = true
		cfg.Auth.Key = v
	}
	if raw := os.Getenv("ORCHESTRATORD_MAX_CONCURRENT_RUNS"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			cfg.MaxConcurrentRuns = n
		}
	}
	if raw := os.Getenv("ORCHESTRATORD_AGENT_TIMEOUT_SECONDS"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			cfg.AgentTimeoutSeconds = n
		}
	}
}

func normalize(cfg *Config) {
	defaults := defaultConfig()
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = defaults.MaxConcurrentRuns
	}
	if cfg.AgentTimeoutSeconds <= 0 {
		cfg.AgentTimeoutSeconds = defaults.AgentTimeoutSeconds
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.RetryBaseDelaySeconds <= 0 {
		cfg.RetryBaseDelaySeconds = defaults.RetryBaseDelaySeconds
	}
	if cfg.RetryMaxDelaySeconds <= 0 {
		cfg.RetryMaxDelaySeconds = defaults.RetryMaxDelaySeconds
	}
	if cfg.BindAddr == "" {
		cfg.BindAddr = defaults.BindAddr
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}
	if strings.TrimSpace(cfg.Gateway.BaseURL) == "" {
		cfg.Gateway.BaseURL = defaults.Gateway.BaseURL
	}
	if cfg.SweepIntervalSeconds <= 0 {
		cfg.SweepIntervalSeconds = defaults.SweepIntervalSeconds
	}
}

// AgentTimeout returns AgentTimeoutSeconds as a time.Duration.
func (c Config) AgentTimeout() time.Duration {
	return time.Duration(c.AgentTimeoutSeconds) * time.Second
}

// RetryBaseDelay returns RetryBaseDelaySeconds as a time.Duration.
func (c Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelaySeconds) * time.Second
}

// RetryMaxDelay returns RetryMaxDelaySeconds as a time.Duration.
func (c Config) RetryMaxDelay() time.Duration {
	return time.Duration(c.RetryMaxDelaySeconds) * time.Second
}

// SweepInterval returns SweepIntervalSeconds as a time.Duration.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}
