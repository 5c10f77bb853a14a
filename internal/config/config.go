package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config represents the main swarmtap configuration
type Config struct {
	// Orchestrator endpoints
	Orchestrator OrchestratorConfig `json:"orchestrator" mapstructure:"orchestrator"`

	// Gateway server
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// OrchestratorConfig holds the upstream orchestrator endpoints
type OrchestratorConfig struct {
	// StreamURL is the SSE streaming endpoint (POST {"query": ...})
	StreamURL string `json:"stream_url" mapstructure:"stream_url"`
	// FallbackURL is the synchronous A2A endpoint (JSON-RPC tasks/send)
	FallbackURL string `json:"fallback_url" mapstructure:"fallback_url"`
	// RequestTimeout bounds the single fallback exchange
	RequestTimeout time.Duration `json:"request_timeout" mapstructure:"request_timeout"`
	// StreamIdleTimeout aborts a stream with no activity; 0 disables it
	StreamIdleTimeout time.Duration `json:"stream_idle_timeout" mapstructure:"stream_idle_timeout"`
}

// GatewayConfig holds the bridge server configuration
type GatewayConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Host    string `json:"host" mapstructure:"host"`
	Port    int    `json:"port" mapstructure:"port"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Orchestrator: OrchestratorConfig{
			StreamURL:         "http://localhost:8000/stream",
			FallbackURL:       "http://localhost:8000/a2a",
			RequestTimeout:    60 * time.Second,
			StreamIdleTimeout: 2 * time.Minute,
		},
		Gateway: GatewayConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    7432,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
	}
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if err := validateURL(c.Orchestrator.StreamURL, "orchestrator.stream_url"); err != nil {
		return err
	}
	if err := validateURL(c.Orchestrator.FallbackURL, "orchestrator.fallback_url"); err != nil {
		return err
	}
	if c.Orchestrator.RequestTimeout <= 0 {
		return fmt.Errorf("orchestrator.request_timeout must be positive")
	}
	if c.Orchestrator.StreamIdleTimeout < 0 {
		return fmt.Errorf("orchestrator.stream_idle_timeout cannot be negative")
	}
	if c.Gateway.Enabled {
		if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
			return fmt.Errorf("gateway.port must be between 1 and 65535")
		}
	}
	return nil
}

func validateURL(raw, field string) error {
	if raw == "" {
		return fmt.Errorf("%s cannot be empty", field)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s is not a valid URL", field)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https", field)
	}
	return nil
}
