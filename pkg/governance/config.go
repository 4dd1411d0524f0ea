package governance

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/makr-code/themis-policy/pkg/domain"
)

// Config is the parsed governance configuration: the classification catalog
// plus enforcement wiring. Profile map keys are normalized level names.
type Config struct {
	Profiles        map[string]domain.ClassificationProfile `json:"profiles" yaml:"profiles"`
	ResourceMapping map[string]string                       `json:"resource_mapping" yaml:"resource_mapping"`
	DefaultMode     domain.Mode                             `json:"default_mode" yaml:"default_mode"`
}

// fileSchema mirrors the on-disk layout. Profile fields are pointers so a
// sparse profile keeps baseline values for the keys it leaves out instead of
// zeroing them.
type fileSchema struct {
	VSClassification map[string]profileSpec `yaml:"vs_classification" json:"vs_classification"`
	Enforcement      enforcementSpec        `yaml:"enforcement" json:"enforcement"`
}

type enforcementSpec struct {
	DefaultMode     string            `yaml:"default_mode" json:"default_mode"`
	ResourceMapping map[string]string `yaml:"resource_mapping" json:"resource_mapping"`
}

type profileSpec struct {
	EncryptionRequired *bool   `yaml:"encryption_required" json:"encryption_required"`
	AnnAllowed         *bool   `yaml:"ann_allowed" json:"ann_allowed"`
	ExportAllowed      *bool   `yaml:"export_allowed" json:"export_allowed"`
	CacheAllowed       *bool   `yaml:"cache_allowed" json:"cache_allowed"`
	RedactionLevel     *string `yaml:"redaction_level" json:"redaction_level"`
	RetentionDays      *int    `yaml:"retention_days" json:"retention_days"`
	LogEncryption      *bool   `yaml:"log_encryption" json:"log_encryption"`
}

func (s profileSpec) apply(p domain.ClassificationProfile) domain.ClassificationProfile {
	if s.EncryptionRequired != nil {
		p.EncryptionRequired = *s.EncryptionRequired
	}
	if s.AnnAllowed != nil {
		p.AnnAllowed = *s.AnnAllowed
	}
	if s.ExportAllowed != nil {
		p.ExportAllowed = *s.ExportAllowed
	}
	if s.CacheAllowed != nil {
		p.CacheAllowed = *s.CacheAllowed
	}
	if s.RedactionLevel != nil {
		p.RedactionLevel = domain.RedactionLevel(normalize(*s.RedactionLevel))
	}
	if s.RetentionDays != nil {
		p.RetentionDays = *s.RetentionDays
	}
	if s.LogEncryption != nil {
		p.LogEncryption = *s.LogEncryption
	}
	return p
}

// baselineProfile is the starting point for a configured level before its
// explicit keys are applied: moderate handling, nothing disabled.
func baselineProfile(level string) domain.ClassificationProfile {
	return domain.ClassificationProfile{
		Level:              level,
		EncryptionRequired: false,
		AnnAllowed:         true,
		ExportAllowed:      true,
		CacheAllowed:       true,
		RedactionLevel:     domain.RedactionStandard,
		RetentionDays:      365,
		LogEncryption:      false,
	}
}

// DefaultConfig carries the standard German classification ladder used when
// no governance file is configured. Enforcement defaults to enforce; header
// overrides can only ever downgrade a single request to observe.
func DefaultConfig() Config {
	return Config{
		Profiles: map[string]domain.ClassificationProfile{
			"offen": {
				Level:              "offen",
				EncryptionRequired: false,
				AnnAllowed:         true,
				ExportAllowed:      true,
				CacheAllowed:       true,
				RedactionLevel:     domain.RedactionNone,
				RetentionDays:      365,
				LogEncryption:      false,
			},
			"vs-nfd": {
				Level:              "vs-nfd",
				EncryptionRequired: true,
				AnnAllowed:         true,
				ExportAllowed:      true,
				CacheAllowed:       true,
				RedactionLevel:     domain.RedactionStandard,
				RetentionDays:      730,
				LogEncryption:      false,
			},
			"geheim": {
				Level:              "geheim",
				EncryptionRequired: true,
				AnnAllowed:         false,
				ExportAllowed:      false,
				CacheAllowed:       false,
				RedactionLevel:     domain.RedactionStrict,
				RetentionDays:      1825,
				LogEncryption:      true,
			},
			"streng-geheim": {
				Level:              "streng-geheim",
				EncryptionRequired: true,
				AnnAllowed:         false,
				ExportAllowed:      false,
				CacheAllowed:       false,
				RedactionLevel:     domain.RedactionStrict,
				RetentionDays:      3650,
				LogEncryption:      true,
			},
		},
		ResourceMapping: map[string]string{},
		DefaultMode:     domain.ModeEnforce,
	}
}

// ParseConfig decodes a governance document. YAML is tried first, then JSON,
// matching how policy documents are handled elsewhere. A file that parses but
// defines no profiles is legal; the engine then falls back to its built-in
// restricted profile for every classification.
func ParseConfig(data []byte) (Config, error) {
	var schema fileSchema
	if yamlErr := yaml.Unmarshal(data, &schema); yamlErr != nil {
		if jsonErr := json.Unmarshal(data, &schema); jsonErr != nil {
			return Config{}, fmt.Errorf("parse governance config: %w", yamlErr)
		}
	}

	mode, err := domain.ParseMode(schema.Enforcement.DefaultMode)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Profiles:        make(map[string]domain.ClassificationProfile, len(schema.VSClassification)),
		ResourceMapping: make(map[string]string, len(schema.Enforcement.ResourceMapping)),
		DefaultMode:     mode,
	}
	for level, spec := range schema.VSClassification {
		cfg.Profiles[normalize(level)] = spec.apply(baselineProfile(level))
	}
	for route, level := range schema.Enforcement.ResourceMapping {
		cfg.ResourceMapping[route] = normalize(level)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads and parses a governance document from disk.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from operator configuration
	if err != nil {
		return Config{}, fmt.Errorf("read governance config: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects profiles that could not be acted on. Resource mappings may
// point at unconfigured levels; such routes simply hit the restricted
// fallback at evaluation time.
func (c Config) Validate() error {
	if !c.DefaultMode.Valid() {
		return fmt.Errorf("%w: unknown governance mode %q", domain.ErrConfigInvalid, c.DefaultMode)
	}
	for level, profile := range c.Profiles {
		if profile.RetentionDays < 0 {
			return fmt.Errorf("%w: profile %q has negative retention_days", domain.ErrConfigInvalid, level)
		}
		if !profile.RedactionLevel.Valid() {
			return fmt.Errorf("%w: profile %q has unknown redaction_level %q", domain.ErrConfigInvalid, level, profile.RedactionLevel)
		}
	}
	return nil
}
