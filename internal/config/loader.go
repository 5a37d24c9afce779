package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [Load] for zero-valued fields.
const (
	DefaultWorkflowID     = "triage"
	DefaultKeepaliveIdle  = 90
	DefaultKeepaliveGrace = 30
	DefaultDrainTimeout   = 2
	DefaultMemoryTTL      = 3600
	DefaultToolTimeout    = 10
	DefaultModelRate      = 24000
)

// Load reads the YAML configuration file at path, applies environment
// overrides, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment
// overrides and defaults, and validates the result. Useful in tests where
// configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg)
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg fields from the conventional environment
// variables. Unset variables leave the file values untouched.
func ApplyEnv(cfg *Config) {
	setString(&cfg.Model.Region, "REGION")
	setString(&cfg.Model.Endpoint, "MODEL_ENDPOINT")
	setString(&cfg.Model.APIKey, "MODEL_API_KEY")
	setString(&cfg.Model.Model, "MODEL_ID")
	setString(&cfg.Model.RuntimeARN, "RUNTIME_ARN")
	setString(&cfg.Agent.GatewayURL, "GATEWAY_URL")
	setString(&cfg.Memory.RedisURL, "REDIS_URL")
	setString(&cfg.Agent.ID, "AGENT_ID")
	setString(&cfg.Agent.WorkflowFile, "WORKFLOW_FILE")
	setString(&cfg.Tools.LocalToolsURL, "LOCAL_TOOLS_URL")
	setString(&cfg.Archive.PostgresDSN, "POSTGRES_DSN")

	if v := os.Getenv("AGENT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Agent.Port = port
		}
	}
	if v := os.Getenv("MODE"); v != "" {
		cfg.Agent.Mode = Mode(v)
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// applyDefaults fills zero-valued fields with package defaults.
func applyDefaults(cfg *Config) {
	if cfg.Gateway.DefaultWorkflowID == "" {
		cfg.Gateway.DefaultWorkflowID = DefaultWorkflowID
	}
	if cfg.Gateway.KeepaliveIdleSeconds <= 0 {
		cfg.Gateway.KeepaliveIdleSeconds = DefaultKeepaliveIdle
	}
	if cfg.Gateway.KeepaliveGraceSeconds <= 0 {
		cfg.Gateway.KeepaliveGraceSeconds = DefaultKeepaliveGrace
	}
	if cfg.Gateway.DrainTimeoutSeconds <= 0 {
		cfg.Gateway.DrainTimeoutSeconds = DefaultDrainTimeout
	}
	if cfg.Memory.TTLSeconds <= 0 {
		cfg.Memory.TTLSeconds = DefaultMemoryTTL
	}
	if cfg.Tools.TimeoutSeconds <= 0 {
		cfg.Tools.TimeoutSeconds = DefaultToolTimeout
	}
	if cfg.Model.SampleRate <= 0 {
		cfg.Model.SampleRate = DefaultModelRate
	}
	if cfg.Agent.Mode == "" {
		cfg.Agent.Mode = ModeVoice
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found. Required-field
// enforcement (agent id, workflow file) happens per-binary at startup.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if !cfg.Agent.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("agent.mode %q is invalid; valid values: voice, text, hybrid", cfg.Agent.Mode))
	}
	if cfg.Agent.Port < 0 || cfg.Agent.Port > 65535 {
		errs = append(errs, fmt.Errorf("agent.port %d is out of range", cfg.Agent.Port))
	}

	return errors.Join(errs...)
}
