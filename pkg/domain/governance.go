package domain

import (
	"fmt"
	"strings"
)

// Mode selects how governance decisions are applied. Enforce audits and lets
// the transport layer block on violated obligations; observe computes
// identical obligations but downgrades enforcement to reporting.
type Mode string

const (
	// ModeEnforce applies obligations and emits audit records.
	ModeEnforce Mode = "enforce"
	// ModeObserve computes obligations without the audit side effect;
	// surrounding layers report violations instead of failing requests.
	ModeObserve Mode = "observe"
)

// ParseMode maps configuration input onto a Mode, tolerating case and
// surrounding whitespace. Unrecognized values are rejected rather than
// silently carried into decisions.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeEnforce, "":
		return ModeEnforce, nil
	case ModeObserve:
		return ModeObserve, nil
	default:
		return "", fmt.Errorf("%w: unknown governance mode %q", ErrConfigInvalid, s)
	}
}

// Valid reports whether the mode is one of the two recognized values.
func (m Mode) Valid() bool {
	return m == ModeEnforce || m == ModeObserve
}

// RedactionLevel grades how aggressively fields are obfuscated in outputs.
// The engine only decides the level; applying it is out of scope here.
type RedactionLevel string

const (
	RedactionNone     RedactionLevel = "none"
	RedactionStandard RedactionLevel = "standard"
	RedactionStrict   RedactionLevel = "strict"
)

// Valid reports whether the level is one of the recognized grades. Header
// overrides may still inject free-form values at evaluation time; validity is
// only enforced for configured profiles.
func (r RedactionLevel) Valid() bool {
	return r == RedactionNone || r == RedactionStandard || r == RedactionStrict
}

// ClassificationProfile describes the data-handling obligations attached to
// one named sensitivity level.
type ClassificationProfile struct {
	Level              string         `json:"level" yaml:"level"`
	EncryptionRequired bool           `json:"encryption_required" yaml:"encryption_required"`
	AnnAllowed         bool           `json:"ann_allowed" yaml:"ann_allowed"`
	ExportAllowed      bool           `json:"export_allowed" yaml:"export_allowed"`
	CacheAllowed       bool           `json:"cache_allowed" yaml:"cache_allowed"`
	RedactionLevel     RedactionLevel `json:"redaction_level" yaml:"redaction_level"`
	RetentionDays      int            `json:"retention_days" yaml:"retention_days"`
	LogEncryption      bool           `json:"log_encryption" yaml:"log_encryption"`
}

// PolicyDecision carries the obligations resolved for one request. It is
// always a complete value; classification lookups never fail, they fall
// closed.
type PolicyDecision struct {
	Classification           string         `json:"classification"`
	Mode                     Mode           `json:"mode"`
	EncryptLogs              bool           `json:"encrypt_logs"`
	Redaction                RedactionLevel `json:"redaction"`
	AnnAllowed               bool           `json:"ann_allowed"`
	RequireContentEncryption bool           `json:"require_content_encryption"`
	ExportAllowed            bool           `json:"export_allowed"`
	CacheAllowed             bool           `json:"cache_allowed"`
	RetentionDays            int            `json:"retention_days"`
}
