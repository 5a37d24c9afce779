// Package config provides the configuration schema and loader for the
// VoiceMesh gateway, agent, and local-tools processes.
package config

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Mode selects how an agent converses with the client.
type Mode string

const (
	// ModeVoice streams PCM16 both ways.
	ModeVoice Mode = "voice"

	// ModeText exchanges text turns only.
	ModeText Mode = "text"

	// ModeHybrid streams voice but also accepts text interjections.
	ModeHybrid Mode = "hybrid"
)

// IsValid reports whether m is a recognised mode.
func (m Mode) IsValid() bool {
	switch m {
	case ModeVoice, ModeText, ModeHybrid:
		return true
	}
	return false
}

// Config is the root configuration structure, loaded from a YAML file via
// [Load] or [LoadFromReader] and then overridden from the environment via
// [ApplyEnv].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Gateway GatewayConfig `yaml:"gateway"`
	Agent   AgentConfig   `yaml:"agent"`
	Memory  MemoryConfig  `yaml:"memory"`
	Model   ModelConfig   `yaml:"model"`
	Tools   ToolsConfig   `yaml:"tools"`
	Archive ArchiveConfig `yaml:"archive"`
}

// ServerConfig holds network and logging settings shared by all binaries.
type ServerConfig struct {
	// ListenAddr is the TCP address the process listens on (e.g. ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// GatewayConfig holds gateway-router settings.
type GatewayConfig struct {
	// DefaultWorkflowID is the workflow bound when the client never sends
	// select_workflow. Default: "triage".
	DefaultWorkflowID string `yaml:"default_workflow_id"`

	// KeepaliveIdleSeconds is how long a session may be silent before the
	// gateway pings it. Default: 90.
	KeepaliveIdleSeconds int `yaml:"keepalive_idle_seconds"`

	// KeepaliveGraceSeconds is how long after a ping the gateway waits for
	// any traffic before ending the session. Default: 30.
	KeepaliveGraceSeconds int `yaml:"keepalive_grace_seconds"`

	// DrainTimeoutSeconds caps the handoff drain phase. Default: 2.
	DrainTimeoutSeconds int `yaml:"drain_timeout_seconds"`
}

// AgentConfig holds per-agent-process settings.
type AgentConfig struct {
	// ID is the agent's registry identifier (e.g. "persona-SimpleBanking").
	ID string `yaml:"id"`

	// Port is the agent's WebSocket listen port.
	Port int `yaml:"port"`

	// Mode selects voice, text, or hybrid conversation.
	Mode Mode `yaml:"mode"`

	// GatewayURL is the gateway's base URL, used for registration.
	GatewayURL string `yaml:"gateway_url"`

	// WorkflowFile is the path to the agent's workflow definition JSON.
	WorkflowFile string `yaml:"workflow_file"`

	// ToolsDir is the directory of tool definition JSON files.
	ToolsDir string `yaml:"tools_dir"`

	// PhantomPatternsFile optionally overrides the built-in phantom-action
	// pattern table.
	PhantomPatternsFile string `yaml:"phantom_patterns_file"`

	// HandoffAliases are additional names other agents may use to hand off
	// to this agent (e.g. "banking" for persona-SimpleBanking).
	HandoffAliases []string `yaml:"handoff_aliases"`
}

// MemoryConfig holds session-memory store settings.
type MemoryConfig struct {
	// RedisURL is the memory store connection URL
	// (e.g. "redis://localhost:6379/0").
	RedisURL string `yaml:"redis_url"`

	// TTLSeconds is the idle expiry for session memory. Default: 3600.
	TTLSeconds int `yaml:"ttl_seconds"`
}

// ModelConfig holds voice-model connection settings.
type ModelConfig struct {
	// Endpoint is the model's WebSocket URL.
	Endpoint string `yaml:"endpoint"`

	// APIKey authenticates against the model endpoint.
	APIKey string `yaml:"api_key"`

	// Model optionally selects a specific model id.
	Model string `yaml:"model"`

	// Region is the provider region, when applicable.
	Region string `yaml:"region"`

	// RuntimeARN optionally identifies a remote agent runtime the model may
	// delegate tool execution to.
	RuntimeARN string `yaml:"runtime_arn"`

	// SampleRate is the model's native PCM16 rate. Default: 24000.
	SampleRate int `yaml:"sample_rate"`
}

// ToolsConfig holds local tool service settings.
type ToolsConfig struct {
	// LocalToolsURL is the base URL of the tool HTTP service.
	LocalToolsURL string `yaml:"local_tools_url"`

	// TimeoutSeconds bounds one tool dispatch. Default: 10.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// ArchiveConfig holds transcript archive settings.
type ArchiveConfig struct {
	// PostgresDSN is the archive database connection string. Empty disables
	// archiving.
	PostgresDSN string `yaml:"postgres_dsn"`
}
