package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

// Load reads and merges configuration from global and project paths.
// Precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed JSON is.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: $XDG_CONFIG_HOME/agentmux/config.json
// Project: .agentmux/config.json (relative to cwd)
func LoadDefault() (*Config, error) {
	return Load(GlobalPath(), ProjectPath())
}

// GlobalPath returns the XDG location of the user-level config file.
func GlobalPath() string {
	return filepath.Join(xdg.ConfigHome, "agentmux", "config.json")
}

// ProjectPath returns the per-project config file path.
func ProjectPath() string {
	return filepath.Join(".agentmux", "config.json")
}

// mergeConfigFile reads a JSON config file and merges it into base.
// Missing files are silently skipped.
func mergeConfigFile(base *Config, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	mergeEngine(&base.Engine, loaded.Engine)
	for key, provider := range loaded.Providers {
		base.Providers[key] = provider
	}
	for key, capability := range loaded.Capabilities {
		base.Capabilities[key] = capability
	}
	for key, g := range loaded.Gates {
		base.Gates[key] = g
	}
	for key, workflow := range loaded.Workflows {
		base.Workflows[key] = workflow
	}

	return nil
}

// mergeEngine overrides only the fields the loaded file actually set.
func mergeEngine(base *EngineConfig, loaded EngineConfig) {
	if loaded.MaxParallelism > 0 {
		base.MaxParallelism = loaded.MaxParallelism
	}
	if loaded.MaxTaskRetries > 0 {
		base.MaxTaskRetries = loaded.MaxTaskRetries
	}
	if loaded.InvokeTimeoutSeconds > 0 {
		base.InvokeTimeoutSeconds = loaded.InvokeTimeoutSeconds
	}
	if loaded.MaxRetainedEvents > 0 {
		base.MaxRetainedEvents = loaded.MaxRetainedEvents
	}
}
