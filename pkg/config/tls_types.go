package config

import (
	"fmt"
	"strings"
)

// ConfigError is a validation failure with enough context to act on: the
// offending field, the rejected value, and remediation suggestions.
type ConfigError struct {
	Field       string
	Value       any
	Reason      string
	Suggestions []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error in field '%s': %s", e.Field, e.Reason)
}

// WithSuggestion appends a remediation hint and returns the error for chaining.
func (e *ConfigError) WithSuggestion(suggestion string) *ConfigError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// NewConfigMissingError reports a required field that was left empty.
func NewConfigMissingError(field string) *ConfigError {
	return &ConfigError{
		Field:  field,
		Reason: fmt.Sprintf("required field '%s' is missing", field),
	}
}

// NewConfigValidationError reports a field whose value was rejected.
func NewConfigValidationError(field string, value any, reason string) *ConfigError {
	return &ConfigError{
		Field:  field,
		Value:  value,
		Reason: reason,
	}
}

// TLSVersion is a TLS protocol version in its configuration spelling.
type TLSVersion string

const (
	TLSVersion10 TLSVersion = "1.0"
	TLSVersion11 TLSVersion = "1.1"
	TLSVersion12 TLSVersion = "1.2"
	TLSVersion13 TLSVersion = "1.3"
)

// tlsVersionOrder ranks versions for range checks. Parseable is not the same
// as acceptable: 1.0 and 1.1 parse so the floor check below can reject them
// with a specific message.
var tlsVersionOrder = map[TLSVersion]int{
	TLSVersion10: 0,
	TLSVersion11: 1,
	TLSVersion12: 2,
	TLSVersion13: 3,
}

// ParseTLSVersion normalizes a configured version string. An empty value
// selects TLS 1.2.
func ParseTLSVersion(version string) (TLSVersion, error) {
	if version == "" {
		return TLSVersion12, nil
	}

	v := TLSVersion(strings.TrimSpace(version))
	if _, ok := tlsVersionOrder[v]; !ok {
		return "", fmt.Errorf("unsupported TLS version %q", version)
	}
	return v, nil
}

// olderThan reports whether v predates other. Both must be parseable.
func (v TLSVersion) olderThan(other TLSVersion) bool {
	return tlsVersionOrder[v] < tlsVersionOrder[other]
}

// TLSConfig is the admin listener's TLS termination settings.
type TLSConfig struct {
	Enabled    bool                `yaml:"enabled" json:"enabled"`
	CertFile   string              `yaml:"cert_file" json:"cert_file"`
	KeyFile    string              `yaml:"key_file" json:"key_file"`
	MinVersion string              `yaml:"min_version,omitempty" json:"min_version,omitempty"`
	MaxVersion string              `yaml:"max_version,omitempty" json:"max_version,omitempty"`
	ClientAuth TLSClientAuthConfig `yaml:"client_auth,omitempty" json:"client_auth,omitempty"`
}

// TLSClientAuthConfig switches the listener to mutual TLS.
type TLSClientAuthConfig struct {
	Required bool   `yaml:"required" json:"required"`
	CAFile   string `yaml:"ca_file,omitempty" json:"ca_file,omitempty"`
}

// Validate checks the termination settings. Disabled configs pass untouched.
// An unset min_version is validated at its effective value, TLS 1.2.
func (c *TLSConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if strings.TrimSpace(c.CertFile) == "" {
		return NewConfigMissingError("cert_file").
			WithSuggestion("Provide a PEM certificate path")
	}
	if strings.TrimSpace(c.KeyFile) == "" {
		return NewConfigMissingError("key_file").
			WithSuggestion("Provide the PEM private key matching cert_file")
	}

	minVer, err := ParseTLSVersion(c.MinVersion)
	if err != nil {
		return NewConfigValidationError("min_version", c.MinVersion, err.Error()).
			WithSuggestion("Valid versions are 1.0, 1.1, 1.2, and 1.3")
	}
	var maxVer TLSVersion
	if c.MaxVersion != "" {
		if maxVer, err = ParseTLSVersion(c.MaxVersion); err != nil {
			return NewConfigValidationError("max_version", c.MaxVersion, err.Error()).
				WithSuggestion("Valid versions are 1.0, 1.1, 1.2, and 1.3")
		}
	}

	if maxVer != "" && maxVer.olderThan(minVer) {
		return NewConfigValidationError("version_range",
			fmt.Sprintf("min_version=%s, max_version=%s", c.MinVersion, c.MaxVersion),
			"min_version cannot be greater than max_version").
			WithSuggestion("Raise max_version or lower min_version")
	}

	if minVer.olderThan(TLSVersion12) {
		return NewConfigValidationError("min_version", c.MinVersion,
			"TLS versions below 1.2 are deprecated and insecure").
			WithSuggestion("Use TLS 1.2 or 1.3")
	}

	if err := c.ClientAuth.Validate(); err != nil {
		return fmt.Errorf("client authentication configuration error: %w", err)
	}

	return nil
}

// Validate requires a trust bundle whenever client certificates are required.
func (c *TLSClientAuthConfig) Validate() error {
	if c.Required && strings.TrimSpace(c.CAFile) == "" {
		return fmt.Errorf("ca_file is required when client authentication is required")
	}
	return nil
}
