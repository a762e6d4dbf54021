// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the governance service configuration from a YAML
// file with GOVERNANCE_* environment overrides.
//
// # File Format
//
//	server:
//	  port: 12230
//	drift:
//	  thresholds: {aligned: 0.8, minor: 0.6, moderate: 0.3}
//	  activity_window: 24h
//	approval:
//	  challenge_ttl: 15m
//	monitor:
//	  interval: 5m
//
// Every field is optional; Default() supplies the rest.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
)

// configValidate is shared; validator.Validate caches struct metadata.
var configValidate = validator.New()

// =============================================================================
// Types
// =============================================================================

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Storage   StorageConfig   `yaml:"storage"`
	Weaviate  WeaviateConfig  `yaml:"weaviate"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Drift     DriftConfig     `yaml:"drift"`
	Approval  ApprovalConfig  `yaml:"approval"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Timeouts  TimeoutConfig   `yaml:"timeouts"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Influx    InfluxConfig    `yaml:"influx"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port    int    `yaml:"port" validate:"gt=0,lte=65535"`
	GinMode string `yaml:"gin_mode" validate:"omitempty,oneof=debug release test"`
	// APITokenEnv names the env var holding the bearer token. Empty disables auth.
	APITokenEnv string `yaml:"api_token_env"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// StorageConfig configures the badger plan store.
type StorageConfig struct {
	Path       string        `yaml:"path" validate:"required_without=InMemory"`
	InMemory   bool          `yaml:"in_memory"`
	SyncWrites bool          `yaml:"sync_writes"`
	GCInterval time.Duration `yaml:"gc_interval" validate:"gte=0"`
}

// WeaviateConfig configures the vector index. An empty URL selects the
// in-process index.
type WeaviateConfig struct {
	URL       string `yaml:"url" validate:"omitempty,url"`
	ClassName string `yaml:"class_name" validate:"required"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Backend   string `yaml:"backend" validate:"oneof=http openai hashing"`
	URL       string `yaml:"url" validate:"omitempty,url"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// DriftConfig configures the drift engine.
type DriftConfig struct {
	Thresholds     datatypes.Thresholds `yaml:"thresholds"`
	ActivityWindow time.Duration        `yaml:"activity_window" validate:"gt=0"`
	HistorySize    int                  `yaml:"history_size" validate:"gte=1,lte=10000"`
}

// ApprovalConfig configures the two-layer approval workflow.
type ApprovalConfig struct {
	ChallengeTTL time.Duration `yaml:"challenge_ttl" validate:"gt=0"`
	// SecretName is the secret store key of the secondary approval secret.
	SecretName   string `yaml:"secret_name" validate:"required"`
	AuditLogPath string `yaml:"audit_log_path" validate:"required"`
	// AttemptsPerMinute bounds approve calls per plan.
	AttemptsPerMinute int `yaml:"attempts_per_minute" validate:"gte=1"`
	// Archive optionally copies the audit log to GCS.
	Archive ArchiveConfig `yaml:"archive"`
}

// ArchiveConfig configures audit log archival. An empty Bucket disables it.
type ArchiveConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	// CredentialsFile is a service account key; empty uses ADC.
	CredentialsFile string `yaml:"credentials_file"`
}

// MonitorConfig configures the continuous drift monitor.
type MonitorConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval" validate:"gt=0"`
	// MaxConcurrent bounds parallel project analyses per cycle.
	MaxConcurrent int `yaml:"max_concurrent" validate:"gte=1"`
}

// TimeoutConfig bounds every external call.
type TimeoutConfig struct {
	Embedding time.Duration `yaml:"embedding" validate:"gt=0"`
	Index     time.Duration `yaml:"index" validate:"gt=0"`
	Activity  time.Duration `yaml:"activity" validate:"gt=0"`
}

// AlertsConfig configures alert delivery. An empty NATSURL disables NATS.
type AlertsConfig struct {
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix" validate:"required"`
}

// InfluxConfig configures drift history export. An empty URL disables it.
type InfluxConfig struct {
	URL      string `yaml:"url" validate:"omitempty,url"`
	TokenEnv string `yaml:"token_env"`
	Org      string `yaml:"org"`
	Bucket   string `yaml:"bucket"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Stdout       bool   `yaml:"stdout"`
}

// =============================================================================
// Defaults
// =============================================================================

// Default returns a configuration that runs fully in-process.
func Default() Config {
	return Config{
		Server:  ServerConfig{Port: 12230, APITokenEnv: "GOVERNANCE_API_TOKEN"},
		Logging: LoggingConfig{Level: "info"},
		Storage: StorageConfig{
			Path:       "./data/governance",
			GCInterval: 10 * time.Minute,
		},
		Weaviate: WeaviateConfig{ClassName: "GovernanceChunk"},
		Embedding: EmbeddingConfig{
			Backend:   "http",
			URL:       "http://localhost:12126/embed",
			Model:     "text-embedding-3-small",
			APIKeyEnv: "OPENAI_API_KEY",
		},
		Drift: DriftConfig{
			Thresholds:     datatypes.DefaultThresholds(),
			ActivityWindow: 24 * time.Hour,
			HistorySize:    50,
		},
		Approval: ApprovalConfig{
			ChallengeTTL:      15 * time.Minute,
			SecretName:        "GOVERNANCE_APPROVAL_SECRET",
			AuditLogPath:      "./logs/approval_audit.log",
			AttemptsPerMinute: 5,
			Archive:           ArchiveConfig{Prefix: "governance/audit"},
		},
		Monitor: MonitorConfig{
			Enabled:       true,
			Interval:      5 * time.Minute,
			MaxConcurrent: 8,
		},
		Timeouts: TimeoutConfig{
			Embedding: 30 * time.Second,
			Index:     10 * time.Second,
			Activity:  10 * time.Second,
		},
		Alerts: AlertsConfig{SubjectPrefix: "governance.drift.alert"},
		Influx: InfluxConfig{TokenEnv: "INFLUXDB_TOKEN", Org: "aleutian", Bucket: "governance"},
	}
}

// =============================================================================
// Loading
// =============================================================================

// Load reads path over Default(), applies environment overrides and
// validates the result. A missing file is not an error when path is empty.
//
// # Inputs
//
//   - path: YAML file path; "" skips the file
//
// # Outputs
//
//   - Config: merged configuration
//   - error: read, parse or validation failure
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg, os.Getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks struct tags and cross-field rules.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config: %s failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Drift.Thresholds.Validate(); err != nil {
		return fmt.Errorf("invalid config: drift: %w", err)
	}
	return nil
}

// applyEnv overlays GOVERNANCE_* variables. getenv is injected for tests.
func applyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv("GOVERNANCE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := getenv("GOVERNANCE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := getenv("GOVERNANCE_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := getenv("GOVERNANCE_WEAVIATE_URL"); v != "" {
		cfg.Weaviate.URL = strings.Trim(v, "\"' ")
	}
	if v := getenv("GOVERNANCE_EMBEDDING_URL"); v != "" {
		cfg.Embedding.URL = v
	}
	if v := getenv("GOVERNANCE_EMBEDDING_BACKEND"); v != "" {
		cfg.Embedding.Backend = v
	}
	if v := getenv("GOVERNANCE_NATS_URL"); v != "" {
		cfg.Alerts.NATSURL = v
	}
	if v := getenv("GOVERNANCE_AUDIT_BUCKET"); v != "" {
		cfg.Approval.Archive.Bucket = v
	}
	if v := getenv("GOVERNANCE_INFLUX_URL"); v != "" {
		cfg.Influx.URL = v
	}
	if v := getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.Tracing.OTLPEndpoint = v
	}
	if v := getenv("GOVERNANCE_MONITOR_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Monitor.Interval = d
		}
	}
}
