package config

import "fmt"

// Validate checks that the config has all required fields.
func (c *Config) Validate() error {
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("llm.base_url is required")
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required (or set MCPCHAT_API_KEY)")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}

	seen := make(map[string]bool, len(c.MCP.Servers))
	for i, s := range c.MCP.Servers {
		if s.Name == "" {
			return fmt.Errorf("mcp.servers[%d]: name is required", i)
		}
		if s.Command == "" {
			return fmt.Errorf("mcp.servers[%d] (%s): command is required", i, s.Name)
		}
		if seen[s.Name] {
			return fmt.Errorf("mcp.servers: duplicate name %q", s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

// Redact returns a copy of the config with the API key masked for display.
func (c *Config) Redact() *Config {
	copy := *c
	copy.LLM.APIKey = redactKey(c.LLM.APIKey)
	return &copy
}

func redactKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
