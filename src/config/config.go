package config

import (
	"fmt"
	"os"
	"strings"

	"finance-relay/src/models"

	"gopkg.in/yaml.v3"
)

// -----------------------------------------------------------------------------

// Config wraps models.MConfig and provides business logic methods
type Config struct {
	*models.MConfig
}

// -----------------------------------------------------------------------------

// NewConfig creates a new MConfig instance from YAML file
func NewConfig(configPath string) (*Config, error) {
	// 1. Read the YAML file content
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
	}

	// 2. Unmarshal data into the models struct
	var modelConfig models.MConfig
	if err := yaml.Unmarshal(data, &modelConfig); err != nil {
		return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
	}

	config := &Config{MConfig: &modelConfig}
	config.applyDefaults()

	// 3. Validate the loaded configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// -----------------------------------------------------------------------------

// applyDefaults fills optional fields before validation.
func (c *Config) applyDefaults() {
	if c.Agent.DisplayName == "" {
		c.Agent.DisplayName = "FinanceGPT"
	}
	if c.Agent.MaxHistory == 0 {
		c.Agent.MaxHistory = 20
	}
	if c.MarketData.DefaultTimeframe == "" {
		c.MarketData.DefaultTimeframe = "1M"
	}
	if c.MarketData.RequestTimeoutSeconds == 0 {
		c.MarketData.RequestTimeoutSeconds = 10
	}

	// Tickers are matched uppercased everywhere
	for i, t := range c.MarketData.AllowedTickers {
		c.MarketData.AllowedTickers[i] = strings.ToUpper(t)
	}
}

// -----------------------------------------------------------------------------

// Validate performs basic configuration validation
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("application name cannot be empty")
	}

	// Validate Server configuration
	if c.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Port <= 1024 || c.Port > 65535 {
		return fmt.Errorf("invalid server port number: %d (must be between 1025 and 65535)", c.Port)
	}

	// Validate Agent configuration
	if c.Agent.Provider == "" {
		return fmt.Errorf("agent provider cannot be empty")
	}
	if c.Agent.Model == "" {
		return fmt.Errorf("agent model cannot be empty")
	}
	if c.Agent.MaxHistory < 2 {
		return fmt.Errorf("agent max_history must be at least 2 (one exchange)")
	}

	// Validate MarketData configuration
	if c.MarketData.Provider == "" {
		return fmt.Errorf("market data provider cannot be empty")
	}
	if c.MarketData.RateLimitSeconds < 0 {
		return fmt.Errorf("rate limit seconds cannot be negative")
	}
	if len(c.MarketData.AllowedTickers) == 0 {
		return fmt.Errorf("at least one allowed ticker must be configured")
	}
	for i, t := range c.MarketData.AllowedTickers {
		if t == "" {
			return fmt.Errorf("allowed ticker %d cannot be empty", i)
		}
	}

	return nil
}

// -----------------------------------------------------------------------------

// Save persists the current configuration to the specified YAML file path
func (c *Config) Save(configPath string) error {
	// 1. Marshal the struct to YAML
	data, err := yaml.Marshal(c.MConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	// 2. Write to file (0644 permissions)
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config to file '%s': %w", configPath, err)
	}

	return nil
}
