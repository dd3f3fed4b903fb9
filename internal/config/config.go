package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main Legate configuration
type Config struct {
	// Gateway server
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Agent identity and invocation defaults
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// AI provider credentials
	AI AIConfig `json:"ai" mapstructure:"ai"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds gateway server configuration
type ServerConfig struct {
	Host              string `json:"host" mapstructure:"host"`
	Port              int    `json:"port" mapstructure:"port"`
	SharedSecret      string `json:"shared_secret" mapstructure:"shared_secret"`
	HeartbeatSchedule string `json:"heartbeat_schedule" mapstructure:"heartbeat_schedule"`
	RequestsPerMinute int    `json:"requests_per_minute" mapstructure:"requests_per_minute"`
	MaxConcurrent     int    `json:"max_concurrent" mapstructure:"max_concurrent"`
}

// AgentConfig holds the agent identity and invocation defaults
type AgentConfig struct {
	Name        string  `json:"name" mapstructure:"name"`
	Description string  `json:"description" mapstructure:"description"`
	Model       string  `json:"model" mapstructure:"model"` // empty defers to LEGATE_MODEL, then the built-in default
	PromptDir   string  `json:"prompt_dir" mapstructure:"prompt_dir"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
	MaxRetries  int     `json:"max_retries" mapstructure:"max_retries"`
}

// AIConfig holds AI provider configuration
type AIConfig struct {
	Profiles []AIProfile `json:"profiles" mapstructure:"profiles"`
}

// AIProfile represents an AI provider profile
type AIProfile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	Priority int    `json:"priority" mapstructure:"priority"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// TracingConfig holds tracing configuration
type TracingConfig struct {
	Backend string `json:"backend" mapstructure:"backend"` // none, stdout
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              10030,
			SharedSecret:      "",
			HeartbeatSchedule: "@every 30s",
			RequestsPerMinute: 60,
			MaxConcurrent:     10,
		},
		Agent: AgentConfig{
			Name:        "Legate",
			Description: "General-purpose conversational agent",
			Model:       "",
			PromptDir:   "",
			Temperature: 0.7,
			MaxTokens:   4096,
			MaxRetries:  3,
		},
		AI: AIConfig{
			Profiles: []AIProfile{},
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Tracing: TracingConfig{
			Backend: "none",
		},
		DataDir: "",
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid.
// An empty profile list is valid: the daemon then serves through the
// fallback model path using ambient API key environment variables.
func (c *Config) Validate() error {
	for i, profile := range c.AI.Profiles {
		if profile.ID == "" {
			return fmt.Errorf("AI profile %d: ID is required", i)
		}
		if profile.Provider == "" {
			return fmt.Errorf("AI profile %s: provider is required", profile.ID)
		}
		if profile.APIKey == "" {
			return fmt.Errorf("AI profile %s: api_key is required", profile.ID)
		}
		validProviders := []string{"anthropic", "openai"}
		valid := false
		for _, vp := range validProviders {
			if profile.Provider == vp {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("AI profile %s: invalid provider %s (must be: anthropic, openai)", profile.ID, profile.Provider)
		}
	}

	if c.Agent.Name == "" {
		return fmt.Errorf("agent name is required")
	}
	if c.Agent.Temperature < 0 || c.Agent.Temperature > 1 {
		return fmt.Errorf("agent temperature must be between 0 and 1, got %f", c.Agent.Temperature)
	}
	if c.Agent.MaxTokens < 0 {
		return fmt.Errorf("agent max_tokens must be >= 0")
	}
	if c.Agent.MaxRetries < 0 {
		return fmt.Errorf("agent max_retries must be >= 0")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RequestsPerMinute < 1 {
		return fmt.Errorf("server requests_per_minute must be >= 1")
	}
	if c.Server.MaxConcurrent < 1 {
		return fmt.Errorf("server max_concurrent must be >= 1")
	}
	if c.Server.HeartbeatSchedule == "" {
		return fmt.Errorf("server heartbeat_schedule is required")
	}

	if c.Tracing.Backend != "" && c.Tracing.Backend != "none" && c.Tracing.Backend != "stdout" {
		return fmt.Errorf("invalid tracing backend: %s (must be: none, stdout)", c.Tracing.Backend)
	}

	return nil
}
