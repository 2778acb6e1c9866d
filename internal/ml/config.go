package ml

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// BaseConfig provides common configuration functionality
type BaseConfig struct {
	ConfigPath string
}

// LoadConfig loads configuration from a file, falling back to environment variables.
// It returns an error only when an explicitly given file exists but cannot be parsed.
func (c *BaseConfig) LoadConfig(configPath string, envPrefix string, config interface{}) (string, error) {
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err == nil {
			if err := json.Unmarshal(data, config); err != nil {
				return "", fmt.Errorf("failed to parse %s: %w", configPath, err)
			}
			return configPath, nil
		}
	}

	defaultPath := filepath.Join("config", fmt.Sprintf("%s.json", envPrefix))
	if data, err := os.ReadFile(defaultPath); err == nil {
		if err := json.Unmarshal(data, config); err == nil {
			return defaultPath, nil
		}
	}

	return "env", nil
}
