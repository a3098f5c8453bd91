package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Built-in defaults applied by [Default] and for fields left empty in the
// loaded file.
const (
	DefaultHost             = "0.0.0.0"
	DefaultPort             = 8000
	DefaultMaxTokens        = 1024
	DefaultTopP             = 0.9
	DefaultTemperature      = 0.7
	DefaultVoiceID          = "matthew"
	DefaultOutputSampleRate = 24000
	DefaultInputSampleRate  = 16000
)

// Default returns a Config populated with built-in defaults. Serves as the
// base when no config file is supplied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     DefaultHost,
			Port:     DefaultPort,
			LogLevel: LogInfo,
		},
		Defaults: DefaultsConfig{
			MaxTokens:        DefaultMaxTokens,
			TopP:             DefaultTopP,
			Temperature:      DefaultTemperature,
			VoiceID:          DefaultVoiceID,
			OutputSampleRate: DefaultOutputSampleRate,
			InputSampleRate:  DefaultInputSampleRate,
		},
	}
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults filled in and environment overrides applied.
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

// LoadFromReader decodes a YAML config from r, fills defaults, applies
// environment overrides, and validates the result. Useful in tests where
// configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	fillDefaults(cfg)
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fillDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = DefaultHost
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Defaults.MaxTokens == 0 {
		cfg.Defaults.MaxTokens = DefaultMaxTokens
	}
	if cfg.Defaults.TopP == 0 {
		cfg.Defaults.TopP = DefaultTopP
	}
	if cfg.Defaults.Temperature == 0 {
		cfg.Defaults.Temperature = DefaultTemperature
	}
	if cfg.Defaults.VoiceID == "" {
		cfg.Defaults.VoiceID = DefaultVoiceID
	}
	if cfg.Defaults.OutputSampleRate == 0 {
		cfg.Defaults.OutputSampleRate = DefaultOutputSampleRate
	}
	if cfg.Defaults.InputSampleRate == 0 {
		cfg.Defaults.InputSampleRate = DefaultInputSampleRate
	}
}

// ApplyEnv overrides cfg from process environment variables. Environment
// wins over file values so containerised deployments need no config file
// edits.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = LogLevel(v)
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.AWS.DefaultRegion = v
	}
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		cfg.AWS.AccessKeyID = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		cfg.AWS.SecretAccessKey = v
	}
	if v := os.Getenv("VOXGATE_MODEL_ID"); v != "" {
		cfg.AWS.ModelID = v
	}
	if v := os.Getenv("KB_ID"); v != "" {
		cfg.AWS.KnowledgeBaseID = v
	}
	if v := os.Getenv("KB_MODEL_ARN"); v != "" {
		cfg.AWS.KBModelArn = v
	}
	if v := os.Getenv("VOICE_ID"); v != "" {
		cfg.Defaults.VoiceID = v
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range [1, 65535]", cfg.Server.Port))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Model service
	if cfg.AWS.DefaultRegion == "" {
		errs = append(errs, errors.New("aws.default_region is required"))
	}
	if cfg.AWS.ModelID == "" {
		errs = append(errs, errors.New("aws.model_id is required"))
	}
	if (cfg.AWS.AccessKeyID == "") != (cfg.AWS.SecretAccessKey == "") {
		errs = append(errs, errors.New("aws.access_key_id and aws.secret_access_key must be set together"))
	}

	// Session defaults
	if cfg.Defaults.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("defaults.max_tokens %d must not be negative", cfg.Defaults.MaxTokens))
	}
	if cfg.Defaults.TopP < 0 || cfg.Defaults.TopP > 1 {
		errs = append(errs, fmt.Errorf("defaults.top_p %.2f is out of range [0, 1]", cfg.Defaults.TopP))
	}
	if cfg.Defaults.Temperature < 0 || cfg.Defaults.Temperature > 2 {
		errs = append(errs, fmt.Errorf("defaults.temperature %.2f is out of range [0, 2]", cfg.Defaults.Temperature))
	}
	if cfg.Defaults.Endpointing != "" && !cfg.Defaults.Endpointing.IsValid() {
		errs = append(errs, fmt.Errorf("defaults.endpointing %q is invalid; valid values: HIGH, MEDIUM, LOW", cfg.Defaults.Endpointing))
	}
	switch cfg.Defaults.InputSampleRate {
	case 8000, 16000:
	default:
		errs = append(errs, fmt.Errorf("defaults.input_sample_rate %d is unsupported; valid values: 8000, 16000", cfg.Defaults.InputSampleRate))
	}

	// Tools
	if (cfg.Tools.ReasonerProvider == "") != (cfg.Tools.ReasonerModel == "") {
		errs = append(errs, errors.New("tools.reasoner_provider and tools.reasoner_model must be set together"))
	}

	// MCP servers
	seen := make(map[string]int, len(cfg.Tools.MCPServers))
	for i, srv := range cfg.Tools.MCPServers {
		prefix := fmt.Sprintf("tools.mcp_servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := seen[srv.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of tools.mcp_servers[%d]", prefix, srv.Name, prev))
			}
			seen[srv.Name] = i
		}
		if srv.Transport != "" && !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
		if srv.Transport == MCPTransportStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == MCPTransportStreamableHTTP && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
		}
	}

	return errors.Join(errs...)
}
