package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a YAML file.
// ${VAR} references are expanded from the environment before parsing,
// so secrets never have to live in the file itself.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	expanded := envVarPattern.ReplaceAllStringFunc(string(data), func(ref string) string {
		name := envVarPattern.FindStringSubmatch(ref)[1]
		return os.Getenv(name)
	})

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", absPath, err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Discover finds the config file by checking standard locations.
// Priority order: $IG_RELAY_CONFIG, ./config.yaml.
func Discover() (string, error) {
	if path := os.Getenv("IG_RELAY_CONFIG"); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		return "", fmt.Errorf("IG_RELAY_CONFIG points to a missing file: %s", path)
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml", nil
	}

	return "", fmt.Errorf("no config file found\n" +
		"Hint: create config.yaml or set IG_RELAY_CONFIG")
}

func validate(cfg *Config) error {
	if cfg.Service.Listen == "" {
		return fmt.Errorf("service.listen is required")
	}
	if cfg.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if cfg.Relay.Timeout <= 0 {
		return fmt.Errorf("relay.timeout must be positive")
	}
	if cfg.App.Timeout <= 0 {
		return fmt.Errorf("app.timeout must be positive")
	}
	if cfg.Limits.MaxBodySize <= 0 {
		return fmt.Errorf("limits.max_body_size must be positive")
	}
	switch cfg.Service.LogFormat {
	case "", "json", "text":
	default:
		return fmt.Errorf("service.log_format must be json or text, got %q", cfg.Service.LogFormat)
	}
	return nil
}
