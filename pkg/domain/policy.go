package domain

import "strings"

// Wildcard matches any subject or action when listed in the corresponding
// policy field.
const Wildcard = "*"

// Effect states whether a matching policy grants or refuses access.
type Effect string

const (
	// EffectAllow grants the request when the policy matches.
	EffectAllow Effect = "allow"
	// EffectDeny refuses the request when the policy matches.
	EffectDeny Effect = "deny"
)

// ParseEffect maps the persisted representation onto an Effect. The literal
// "allow" (and an absent value) grants; every other spelling refuses.
func ParseEffect(s string) Effect {
	if s == "" || s == string(EffectAllow) {
		return EffectAllow
	}
	return EffectDeny
}

// Allows reports whether the effect grants access.
func (e Effect) Allows() bool { return e == EffectAllow }

// Policy binds subjects and actions to resource path prefixes with an allow
// or deny effect. Policies are evaluated in insertion order and the first
// match wins, so the position of a policy inside a list is part of its
// meaning.
type Policy struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`

	// Subjects lists the identities the policy applies to, Wildcard
	// matching any identity. Membership, not order, carries meaning.
	Subjects []string `json:"subjects" yaml:"subjects"`

	// Actions lists the operations the policy applies to, Wildcard
	// matching any action.
	Actions []string `json:"actions" yaml:"actions"`

	// Resources holds ordered path prefixes. An empty list leaves the
	// policy unrestricted by resource.
	Resources []string `json:"resources" yaml:"resources"`

	Effect Effect `json:"effect" yaml:"effect"`

	// AllowedIPPrefixes, when non-empty, additionally requires the caller
	// address to start with one of the prefixes. A request without a
	// client address can never satisfy the condition.
	AllowedIPPrefixes []string `json:"allowed_ip_prefixes,omitempty" yaml:"allowed_ip_prefixes,omitempty"`
}

// Normalize resolves the effect to its canonical value and de-duplicates
// subjects and actions while preserving first-seen order. Decoders call this
// after unmarshaling so that every Policy in circulation is well-formed.
func (p *Policy) Normalize() {
	p.Effect = ParseEffect(string(p.Effect))
	p.Subjects = dedupeStrings(p.Subjects)
	p.Actions = dedupeStrings(p.Actions)
}

// Clone returns a deep copy so callers can hand out policies without sharing
// backing slices.
func (p Policy) Clone() Policy {
	clone := p
	clone.Subjects = cloneStrings(p.Subjects)
	clone.Actions = cloneStrings(p.Actions)
	clone.Resources = cloneStrings(p.Resources)
	clone.AllowedIPPrefixes = cloneStrings(p.AllowedIPPrefixes)
	return clone
}

// HasSubject reports whether the policy covers the identity, honouring the
// wildcard.
func (p Policy) HasSubject(identity string) bool {
	for _, s := range p.Subjects {
		if s == Wildcard || s == identity {
			return true
		}
	}
	return false
}

// HasAction reports whether the policy covers the action, honouring the
// wildcard.
func (p Policy) HasAction(action string) bool {
	for _, a := range p.Actions {
		if a == Wildcard || a == action {
			return true
		}
	}
	return false
}

// MatchesResource reports whether the path falls under one of the policy's
// resource prefixes. A policy without resources matches every path.
func (p Policy) MatchesResource(path string) bool {
	if len(p.Resources) == 0 {
		return true
	}
	for _, prefix := range p.Resources {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// MatchesClientIP evaluates the policy's IP condition. Policies without
// prefixes impose no condition; policies with prefixes require a non-empty
// clientIP starting with one of them, so an address-less request never
// matches.
func (p Policy) MatchesClientIP(clientIP string) bool {
	if len(p.AllowedIPPrefixes) == 0 {
		return true
	}
	if clientIP == "" {
		return false
	}
	for _, prefix := range p.AllowedIPPrefixes {
		if strings.HasPrefix(clientIP, prefix) {
			return true
		}
	}
	return false
}

// Decision is the outcome of an authorization evaluation. PolicyID is empty
// when no policy matched. Reason carries a diagnostic tag; it is never an
// error, and callers cannot distinguish "denied by policy" from
// "misconfigured" through it.
type Decision struct {
	Allowed  bool   `json:"allowed"`
	PolicyID string `json:"policy_id"`
	Reason   string `json:"reason"`
}

// Diagnostic reasons attached to authorization decisions.
const (
	// ReasonNoPoliciesDefaultAllow marks the explicit default-allow taken
	// when the policy list is empty. Deliberately asymmetric with
	// ReasonNoMatchingPolicy.
	ReasonNoPoliciesDefaultAllow = "no_policies_default_allow"
	ReasonMatchedAllowPolicy     = "matched_allow_policy"
	ReasonMatchedDenyPolicy      = "matched_deny_policy"
	// ReasonNoMatchingPolicy marks the default-deny taken when policies
	// exist but none matched.
	ReasonNoMatchingPolicy = "no_matching_policy"
)

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

func dedupeStrings(in []string) []string {
	if len(in) < 2 {
		return in
	}
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
