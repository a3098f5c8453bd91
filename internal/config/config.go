// Package config provides the configuration schema, loader, and file watcher
// for the Voxgate speech gateway.
package config

// LogLevel controls log verbosity for the Voxgate server.
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

// Sensitivity tunes the model's turn-detection endpointing.
type Sensitivity string

const (
	SensitivityHigh   Sensitivity = "HIGH"
	SensitivityMedium Sensitivity = "MEDIUM"
	SensitivityLow    Sensitivity = "LOW"
)

// IsValid reports whether s is a recognised endpointing sensitivity.
func (s Sensitivity) IsValid() bool {
	switch s {
	case SensitivityHigh, SensitivityMedium, SensitivityLow:
		return true
	}
	return false
}

// MCPTransport specifies how an MCP tool server is reached.
type MCPTransport string

const (
	MCPTransportStdio          MCPTransport = "stdio"
	MCPTransportStreamableHTTP MCPTransport = "streamable-http"
)

// IsValid reports whether t is a recognised MCP transport.
func (t MCPTransport) IsValid() bool {
	return t == MCPTransportStdio || t == MCPTransportStreamableHTTP
}

// Config is the root configuration structure for Voxgate.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	AWS      AWSConfig      `yaml:"aws"`
	Defaults DefaultsConfig `yaml:"defaults"`
	Tools    ToolsConfig    `yaml:"tools"`
}

// ServerConfig holds network and logging settings for the Voxgate server.
type ServerConfig struct {
	// Host is the interface the server binds (e.g. "0.0.0.0").
	Host string `yaml:"host"`

	// Port is the TCP port the server listens on.
	Port int `yaml:"port"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// AWSConfig holds the model service connection settings.
type AWSConfig struct {
	// DefaultRegion is used for sessions that do not request a region
	// explicitly (e.g. "us-east-1").
	DefaultRegion string `yaml:"default_region"`

	// ModelID is the speech-to-speech model identifier invoked for every
	// session (e.g. "amazon.nova-sonic-v1:0").
	ModelID string `yaml:"model_id"`

	// KnowledgeBaseID, when set, enables the knowledge-base search tool
	// against the given Bedrock knowledge base.
	KnowledgeBaseID string `yaml:"knowledge_base_id"`

	// KBModelArn selects the text model that composes answers from retrieved
	// knowledge-base passages. Only used when KnowledgeBaseID is set.
	KBModelArn string `yaml:"kb_model_arn"`

	// AccessKeyID and SecretAccessKey optionally pin static credentials.
	// When empty, the default AWS credential chain applies.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// DefaultsConfig holds per-session defaults applied when a client omits them.
type DefaultsConfig struct {
	// MaxTokens bounds generated output per response.
	MaxTokens int `yaml:"max_tokens"`

	// TopP is the nucleus sampling parameter.
	TopP float64 `yaml:"top_p"`

	// Temperature is the sampling temperature.
	Temperature float64 `yaml:"temperature"`

	// VoiceID selects the synthesised voice (e.g. "matthew").
	VoiceID string `yaml:"voice_id"`

	// OutputSampleRate is the synthesised audio rate in hertz.
	OutputSampleRate int `yaml:"output_sample_rate"`

	// InputSampleRate is the expected microphone rate in hertz. Telephony
	// clients typically send 8000; browser clients 16000.
	InputSampleRate int `yaml:"input_sample_rate"`

	// Endpointing tunes turn detection. Empty leaves the model default.
	Endpointing Sensitivity `yaml:"endpointing"`

	// SystemPrompt is used when a client starts audio without supplying its
	// own system prompt first.
	SystemPrompt string `yaml:"system_prompt"`
}

// ToolsConfig controls which tools are offered to the model.
type ToolsConfig struct {
	// Enabled lists tool names exposed to sessions. Empty means all
	// registered tools.
	Enabled []string `yaml:"enabled"`

	// MCPServers lists external MCP tool servers whose tools are imported
	// into the catalogue at startup.
	MCPServers []MCPServerConfig `yaml:"mcp_servers"`

	// ReasonerProvider and ReasonerModel, when both set, enable the
	// deep-reasoning tool backed by the named text LLM (e.g. "anthropic" /
	// "claude-sonnet-4-5"). API keys come from the provider's usual
	// environment variable.
	ReasonerProvider string `yaml:"reasoner_provider"`
	ReasonerModel    string `yaml:"reasoner_model"`
}

// MCPServerConfig describes how to connect to a single MCP tool server.
type MCPServerConfig struct {
	// Name is a unique human-readable identifier for this server (used in logs).
	Name string `yaml:"name"`

	// Transport specifies the connection mechanism.
	Transport MCPTransport `yaml:"transport"`

	// Command is the executable (with optional arguments) launched when
	// Transport is "stdio". Ignored for streamable-http transport.
	Command string `yaml:"command"`

	// URL is the MCP endpoint address used when Transport is "streamable-http"
	// (e.g., "https://mcp.example.com/mcp"). Ignored for stdio transport.
	URL string `yaml:"url"`

	// Token is a static Bearer token sent in the Authorization header of
	// every request to a streamable-http server. Ignored for stdio.
	Token string `yaml:"token"`

	// Env holds additional environment variables injected into the subprocess
	// when Transport is "stdio". May be nil.
	Env map[string]string `yaml:"env"`
}
