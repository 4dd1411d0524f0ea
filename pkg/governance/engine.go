package governance

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/makr-code/themis-policy/pkg/audit"
	"github.com/makr-code/themis-policy/pkg/domain"
	"github.com/makr-code/themis-policy/pkg/telemetry"
)

// defaultClassification is assumed when neither the request nor the resource
// mapping declares a level.
const defaultClassification = "vs-nfd"

// Request headers the engine reads.
const (
	headerClassification = "X-Classification"
	headerMode           = "X-Governance-Mode"
	headerEncryptLogs    = "X-Encrypt-Logs"
	headerRedaction      = "X-Redaction-Level"
	headerUserID         = "X-User-Id"
)

// normalize lowercases and strips the ASCII whitespace accepted in header and
// config values.
func normalize(s string) string {
	return strings.Trim(strings.ToLower(s), " \t\r\n")
}

// IsStrictClass reports whether the level names one of the two strict tiers.
func IsStrictClass(level string) bool {
	switch normalize(level) {
	case "geheim", "streng-geheim":
		return true
	default:
		return false
	}
}

// Engine resolves classification levels to data-handling obligations. All
// state is fixed at construction; Evaluate is safe for concurrent use.
type Engine struct {
	profiles        map[string]domain.ClassificationProfile
	resourceMapping map[string]string
	defaultMode     domain.Mode
	fallback        domain.ClassificationProfile
	sink            audit.Sink
	logger          *slog.Logger

	now func() time.Time
}

// New builds an engine from cfg. sink may be nil to disable auditing.
func New(cfg Config, sink audit.Sink, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	profiles := make(map[string]domain.ClassificationProfile, len(cfg.Profiles))
	for level, profile := range cfg.Profiles {
		profiles[normalize(level)] = profile
	}
	mapping := make(map[string]string, len(cfg.ResourceMapping))
	for route, level := range cfg.ResourceMapping {
		mapping[route] = normalize(level)
	}
	mode := cfg.DefaultMode
	if !mode.Valid() {
		mode = domain.ModeEnforce
	}
	return &Engine{
		profiles:        profiles,
		resourceMapping: mapping,
		defaultMode:     mode,
		fallback:        mostRestrictiveProfile(profiles),
		sink:            sink,
		logger:          logger,
		now:             time.Now,
	}
}

// Evaluate resolves the obligations for one request. It never fails: unknown
// classifications receive the most restrictive configured profile, and audit
// errors are logged without touching the decision.
func (e *Engine) Evaluate(ctx context.Context, headers http.Header, route string) domain.PolicyDecision {
	cls := normalize(headers.Get(headerClassification))
	if cls == "" {
		if mapped, ok := e.resourceMapping[route]; ok {
			cls = mapped
		} else {
			cls = defaultClassification
		}
	}

	// The header can only ever downgrade a request to observe; enforce
	// cannot be requested by callers.
	mode := domain.Mode(normalize(headers.Get(headerMode)))
	if mode != domain.ModeObserve {
		mode = e.defaultMode
	}

	profile, ok := e.profiles[cls]
	if !ok {
		profile = e.fallback
	}

	d := domain.PolicyDecision{
		Classification:           cls,
		Mode:                     mode,
		EncryptLogs:              profile.LogEncryption,
		Redaction:                profile.RedactionLevel,
		AnnAllowed:               profile.AnnAllowed,
		RequireContentEncryption: profile.EncryptionRequired,
		ExportAllowed:            profile.ExportAllowed,
		CacheAllowed:             profile.CacheAllowed,
		RetentionDays:            profile.RetentionDays,
	}

	switch normalize(headers.Get(headerEncryptLogs)) {
	case "true", "1", "yes":
		d.EncryptLogs = true
	case "false", "0", "no":
		d.EncryptLogs = false
	}
	if redact := normalize(headers.Get(headerRedaction)); redact != "" {
		d.Redaction = domain.RedactionLevel(redact)
	}

	if d.Mode == domain.ModeEnforce && e.sink != nil {
		e.writeAudit(ctx, headers, route, d)
	}
	telemetry.RecordGovernanceDecision(ctx, d.Classification, string(d.Mode))
	return d
}

func (e *Engine) writeAudit(ctx context.Context, headers http.Header, route string, d domain.PolicyDecision) {
	ev := audit.Event{
		EventType:                audit.EventTypePolicyEvaluation,
		Route:                    route,
		Classification:           d.Classification,
		Mode:                     string(d.Mode),
		RequireContentEncryption: d.RequireContentEncryption,
		EncryptLogs:              d.EncryptLogs,
		Redaction:                string(d.Redaction),
		RetentionDays:            d.RetentionDays,
		Timestamp:                e.now().UnixMilli(),
		UserID:                   headers.Get(headerUserID),
	}
	if err := e.sink.Write(ctx, ev); err != nil {
		e.logger.WarnContext(ctx, "Audit write failed, decision unaffected",
			"error", err,
			"route", route,
			"classification", d.Classification)
	}
}

// redactionRank orders redaction grades for restrictiveness comparison.
func redactionRank(r domain.RedactionLevel) int {
	switch r {
	case domain.RedactionStrict:
		return 2
	case domain.RedactionStandard:
		return 1
	default:
		return 0
	}
}

// restrictivenessScore counts denied capabilities and required protections.
func restrictivenessScore(p domain.ClassificationProfile) int {
	score := 0
	if !p.AnnAllowed {
		score++
	}
	if !p.ExportAllowed {
		score++
	}
	if !p.CacheAllowed {
		score++
	}
	if p.EncryptionRequired {
		score++
	}
	if p.LogEncryption {
		score++
	}
	return score + redactionRank(p.RedactionLevel)
}

// mostRestrictiveProfile picks the fallback applied to unknown classification
// levels: the configured profile with the highest restrictiveness score, ties
// broken by longer retention, then by level name. With no profiles configured
// at all, a built-in everything-restricted profile is used.
func mostRestrictiveProfile(profiles map[string]domain.ClassificationProfile) domain.ClassificationProfile {
	if len(profiles) == 0 {
		return domain.ClassificationProfile{
			Level:              "restricted",
			EncryptionRequired: true,
			AnnAllowed:         false,
			ExportAllowed:      false,
			CacheAllowed:       false,
			RedactionLevel:     domain.RedactionStrict,
			RetentionDays:      3650,
			LogEncryption:      true,
		}
	}

	var bestLevel string
	var best domain.ClassificationProfile
	bestScore := -1
	for level, profile := range profiles {
		score := restrictivenessScore(profile)
		switch {
		case score < bestScore:
			continue
		case score == bestScore && profile.RetentionDays < best.RetentionDays:
			continue
		case score == bestScore && profile.RetentionDays == best.RetentionDays && level <= bestLevel:
			continue
		}
		bestLevel, best, bestScore = level, profile, score
	}
	return best
}
