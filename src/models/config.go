package models

// MConfig Structure
type MConfig struct {
	Name       string            `yaml:"name"`
	Host       string            `yaml:"host"`
	Port       int               `yaml:"port"`
	LogLevel   string            `yaml:"log_level"`
	Agent      MAgentConfig      `yaml:"agent"`
	MarketData MMarketDataConfig `yaml:"market_data"`
}

type MAgentConfig struct {
	Provider    string `yaml:"provider"`
	Model       string `yaml:"model"`
	APIKeyEnv   string `yaml:"api_key_env"`
	DisplayName string `yaml:"display_name"`
	MaxHistory  int    `yaml:"max_history"`
}

type MMarketDataConfig struct {
	Provider               string   `yaml:"provider"`
	APIKeyEnv              string   `yaml:"api_key_env"`
	RequestTimeoutSeconds  int      `yaml:"request_timeout_seconds"`
	RateLimitSeconds       int      `yaml:"rate_limit_seconds"`
	CacheSyntheticFallback bool     `yaml:"cache_synthetic_fallback"`
	DefaultTimeframe       string   `yaml:"default_timeframe"`
	AllowedTickers         []string `yaml:"allowed_tickers"`
	SyntheticSeed          int64    `yaml:"synthetic_seed"`
}
