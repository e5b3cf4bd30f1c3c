// Package config loads and validates the mcpchat TOML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/toolbridge/mcpchat/internal/mcp"
)

// Config is the full mcpchat configuration.
type Config struct {
	LLM LLMConfig `toml:"llm"`
	MCP MCPConfig `toml:"mcp"`
}

// LLMConfig configures the chat completion endpoint.
type LLMConfig struct {
	BaseURL     string  `toml:"base_url"`
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	MaxTokens   int     `toml:"max_tokens"`
	Temperature float64 `toml:"temperature"`
	Stream      bool    `toml:"stream"`
}

// MCPConfig lists the MCP servers to start.
type MCPConfig struct {
	Servers []mcp.ServerSpec `toml:"servers"`
}

// Path returns the default config file location.
func Path() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "mcpchat", "config.toml")
}

// Load reads the config from path, applies defaults, and lets the
// MCPCHAT_API_KEY environment variable override the file key.
func Load(path string) (*Config, error) {
	cfg := &Config{
		LLM: LLMConfig{
			MaxTokens:   1000,
			Temperature: 0.7,
			Stream:      true,
		},
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if key := os.Getenv("MCPCHAT_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
	}
	return cfg, nil
}
