package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main chassis configuration.
type Config struct {
	// Server holds the HTTP gateway settings.
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Provider holds model provider settings.
	Provider ProviderConfig `json:"provider" mapstructure:"provider"`

	// Agent holds run defaults.
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// MCP holds protocol server settings.
	MCP MCPConfig `json:"mcp" mapstructure:"mcp"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// ServerConfig holds gateway server configuration.
type ServerConfig struct {
	Host   string `json:"host" mapstructure:"host"`
	Port   int    `json:"port" mapstructure:"port"`
	APIKey string `json:"api_key" mapstructure:"api_key"`
}

// ProviderConfig selects and configures the model provider.
type ProviderConfig struct {
	// Name is "openai" or "anthropic".
	Name string `json:"name" mapstructure:"name"`

	APIKey string `json:"api_key" mapstructure:"api_key"`

	// BaseURL points the openai provider at a compatible endpoint.
	BaseURL string `json:"base_url" mapstructure:"base_url"`

	Model string `json:"model" mapstructure:"model"`
}

// AgentConfig holds run defaults.
type AgentConfig struct {
	MaxIterations int     `json:"max_iterations" mapstructure:"max_iterations"`
	MaxRetries    int     `json:"max_retries" mapstructure:"max_retries"`
	Temperature   float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens     int     `json:"max_tokens" mapstructure:"max_tokens"`
	SystemPrompt  string  `json:"system_prompt" mapstructure:"system_prompt"`

	// ToolTimeout bounds one tool call, in seconds.
	ToolTimeout int `json:"tool_timeout" mapstructure:"tool_timeout"`
}

// MCPConfig holds protocol server configuration.
type MCPConfig struct {
	// ConfigPath locates the server definition file. A missing file means
	// no remote servers.
	ConfigPath string `json:"config_path" mapstructure:"config_path"`

	// CallTimeout bounds one remote tool call, in seconds.
	CallTimeout int `json:"call_timeout" mapstructure:"call_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		Provider: ProviderConfig{
			Name:  "openai",
			Model: "gpt-4o",
		},
		Agent: AgentConfig{
			MaxIterations: 5,
			MaxRetries:    3,
			Temperature:   0.7,
			MaxTokens:     4096,
			ToolTimeout:   30,
		},
		MCP: MCPConfig{
			ConfigPath:  "mcp_config.json",
			CallTimeout: 30,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Pretty:    true,
			Redaction: true,
		},
	}
}

// String returns a JSON representation of the config.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}

	switch c.Provider.Name {
	case "openai", "anthropic":
	case "":
		return fmt.Errorf("provider name is required")
	default:
		return fmt.Errorf("invalid provider %s (must be: openai, anthropic)", c.Provider.Name)
	}

	if c.Provider.APIKey == "" {
		return fmt.Errorf("provider api_key is required")
	}
	if c.Provider.Model == "" {
		return fmt.Errorf("provider model is required")
	}

	if c.Agent.MaxIterations < 0 {
		return fmt.Errorf("agent max_iterations cannot be negative")
	}
	if c.Agent.Temperature < 0 || c.Agent.Temperature > 1 {
		return fmt.Errorf("agent temperature must be between 0 and 1")
	}
	if c.Agent.MaxTokens < 0 {
		return fmt.Errorf("agent max_tokens cannot be negative")
	}
	if c.Agent.ToolTimeout < 0 {
		return fmt.Errorf("agent tool_timeout cannot be negative")
	}
	if c.MCP.CallTimeout < 0 {
		return fmt.Errorf("mcp call_timeout cannot be negative")
	}

	return nil
}
