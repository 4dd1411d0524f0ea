// Package config provides configuration structures and loading logic for the
// policy service.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the global configuration for the policy service.
type Config struct {
	Server ServerConfig `yaml:"server"`

	Policy     PolicyConfig     `yaml:"policy"`
	Governance GovernanceConfig `yaml:"governance"`
	Ranger     RangerConfig     `yaml:"ranger"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	TLS             *TLSConfig    `yaml:"tls,omitempty"`
}

// PolicyConfig holds configuration for the authorization policy list.
type PolicyConfig struct {
	File  string `yaml:"file"`
	Watch bool   `yaml:"watch"`
}

// GovernanceConfig holds configuration for the classification engine. An
// empty AuditLog disables the audit sink.
type GovernanceConfig struct {
	File     string `yaml:"file"`
	AuditLog string `yaml:"audit_log"`
}

// RangerConfig holds configuration for the policy authority client.
type RangerConfig struct {
	Enabled            bool          `yaml:"enabled"`
	BaseURL            string        `yaml:"base_url"`
	PoliciesPath       string        `yaml:"policies_path"`
	ServiceName        string        `yaml:"service_name"`
	BearerToken        string        `yaml:"bearer_token"`
	Timeout            time.Duration `yaml:"timeout"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
	SyncInterval       time.Duration `yaml:"sync_interval"`
	MaxRetries         int           `yaml:"max_retries"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	CAFile             string        `yaml:"ca_file"`
	CertFile           string        `yaml:"cert_file"`
	KeyFile            string        `yaml:"key_file"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	Environment  string `yaml:"environment"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Load reads configuration from a file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		// Defaults
		Server: ServerConfig{
			Address:         ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Ranger: RangerConfig{
			Timeout:        30 * time.Second,
			ConnectTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}

	if path != "" {
		//nolint:gosec // Config file path is controlled by admin/operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("THEMIS_ADDR"); val != "" {
		cfg.Server.Address = val
	}

	if val := os.Getenv("THEMIS_POLICY_FILE"); val != "" {
		cfg.Policy.File = val
	}
	if val := os.Getenv("THEMIS_POLICY_WATCH"); val == "true" {
		cfg.Policy.Watch = true
	}

	if val := os.Getenv("THEMIS_GOVERNANCE_FILE"); val != "" {
		cfg.Governance.File = val
	}
	if val := os.Getenv("THEMIS_AUDIT_LOG"); val != "" {
		cfg.Governance.AuditLog = val
	}

	if val := os.Getenv("THEMIS_RANGER_ENABLED"); val == "true" {
		cfg.Ranger.Enabled = true
	}
	if val := os.Getenv("THEMIS_RANGER_URL"); val != "" {
		cfg.Ranger.BaseURL = val
	}
	if val := os.Getenv("THEMIS_RANGER_SERVICE"); val != "" {
		cfg.Ranger.ServiceName = val
	}
	if val := os.Getenv("THEMIS_RANGER_TOKEN"); val != "" {
		cfg.Ranger.BearerToken = val
	}
	if val := os.Getenv("THEMIS_RANGER_SYNC_INTERVAL"); val != "" {
		if interval, err := time.ParseDuration(val); err == nil {
			cfg.Ranger.SyncInterval = interval
		}
	}

	if val := os.Getenv("THEMIS_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("THEMIS_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}

	if val := os.Getenv("THEMIS_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}

	// TLS environment overrides
	if val := os.Getenv("THEMIS_TLS_ENABLED"); val == "true" {
		if cfg.Server.TLS == nil {
			cfg.Server.TLS = &TLSConfig{}
		}
		cfg.Server.TLS.Enabled = true
	}
	if val := os.Getenv("THEMIS_TLS_CERT_FILE"); val != "" {
		if cfg.Server.TLS == nil {
			cfg.Server.TLS = &TLSConfig{}
		}
		cfg.Server.TLS.CertFile = val
	}
	if val := os.Getenv("THEMIS_TLS_KEY_FILE"); val != "" {
		if cfg.Server.TLS == nil {
			cfg.Server.TLS = &TLSConfig{}
		}
		cfg.Server.TLS.KeyFile = val
	}
	if val := os.Getenv("THEMIS_TLS_MIN_VERSION"); val != "" {
		if cfg.Server.TLS == nil {
			cfg.Server.TLS = &TLSConfig{}
		}
		cfg.Server.TLS.MinVersion = val
	}
}

// Validate performs comprehensive validation of the entire configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration: %w", err)
	}

	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("policy configuration: %w", err)
	}

	if err := c.Governance.Validate(); err != nil {
		return fmt.Errorf("governance configuration: %w", err)
	}

	if err := c.Ranger.Validate(); err != nil {
		return fmt.Errorf("ranger configuration: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}

	return nil
}

// Validate performs validation of server configuration
func (c *ServerConfig) Validate() error {
	// Set defaults if not provided
	if strings.TrimSpace(c.Address) == "" {
		c.Address = ":8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}

	if c.TLS != nil {
		if err := c.TLS.Validate(); err != nil {
			return fmt.Errorf("TLS configuration: %w", err)
		}
	}

	return nil
}

// Validate performs validation of policy list configuration
func (c *PolicyConfig) Validate() error {
	if c.Watch && strings.TrimSpace(c.File) == "" {
		return fmt.Errorf("policy.watch requires policy.file to be set")
	}
	return nil
}

// Validate performs validation of governance configuration
func (c *GovernanceConfig) Validate() error {
	// Both the catalog file and the audit log are optional; the engine
	// carries built-in defaults.
	return nil
}

// Validate performs validation of policy authority configuration
func (c *RangerConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("ranger.base_url is required when sync is enabled")
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}

	if c.CertFile != "" && c.KeyFile == "" {
		return fmt.Errorf("ranger.key_file is required when ranger.cert_file is specified")
	}
	if c.KeyFile != "" && c.CertFile == "" {
		return fmt.Errorf("ranger.cert_file is required when ranger.key_file is specified")
	}

	return nil
}

// Validate performs validation of logging configuration
func (c *LoggingConfig) Validate() error {
	// Set default log level if not provided
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}

	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level // Normalize to lowercase
		return nil
	default:
		return fmt.Errorf("invalid log level %q, supported levels: debug, info, warn, error", c.Level)
	}
}
