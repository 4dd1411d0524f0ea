package policy

import (
	"sync"

	"github.com/makr-code/themis-policy/pkg/domain"
)

// Store holds the ordered policy list and evaluates authorization decisions
// against it. A single exclusive mutex serializes the administrative CRUD
// surface and the evaluation hot path; SetPolicies is the sole whole-list
// replacement primitive, so a concurrent Authorize observes either the old
// or the new list in full, never a mix. No I/O happens under the mutex —
// file persistence parses and serializes outside it.
type Store struct {
	mu       sync.Mutex
	policies []domain.Policy
	metrics  *Metrics
}

// NewStore creates an empty store counting into metrics. Passing nil gives
// the store a private counter set.
func NewStore(metrics *Metrics) *Store {
	if metrics == nil {
		metrics = &Metrics{}
	}
	return &Store{metrics: metrics}
}

// Metrics returns the counter set this store increments.
func (s *Store) Metrics() *Metrics { return s.metrics }

// SetPolicies replaces the entire policy list atomically. The input is
// deep-copied, so callers keep ownership of their slice.
func (s *Store) SetPolicies(policies []domain.Policy) {
	next := make([]domain.Policy, len(policies))
	for i, p := range policies {
		next[i] = p.Clone()
	}

	s.mu.Lock()
	s.policies = next
	s.mu.Unlock()
}

// AddPolicy appends one policy to the end of the list.
func (s *Store) AddPolicy(p domain.Policy) {
	clone := p.Clone()

	s.mu.Lock()
	s.policies = append(s.policies, clone)
	s.mu.Unlock()
}

// RemovePolicy deletes every policy carrying the id and reports whether any
// was found.
func (s *Store) RemovePolicy(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.policies[:0]
	for _, p := range s.policies {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	found := len(kept) != len(s.policies)
	s.policies = kept
	return found
}

// ListPolicies returns a deep snapshot of the current list.
func (s *Store) ListPolicies() []domain.Policy {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Policy, len(s.policies))
	for i, p := range s.policies {
		out[i] = p.Clone()
	}
	return out
}

// Count returns the number of stored policies.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.policies)
}

// Authorize decides whether identity may perform action on resourcePath.
// clientIP may be empty when the caller has no transport address; policies
// carrying an IP condition never match such requests.
//
// An empty policy list grants by explicit default
// (ReasonNoPoliciesDefaultAllow). Otherwise policies are evaluated in stored
// order and the first one whose subject, action, resource, and IP condition
// all match decides directly. Exhausting the list denies
// (ReasonNoMatchingPolicy). Every call increments the evaluation counter and
// exactly one of the allow/deny counters; Authorize never returns an error.
func (s *Store) Authorize(identity, action, resourcePath, clientIP string) domain.Decision {
	s.metrics.evaluations.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.policies) == 0 {
		s.metrics.allows.Add(1)
		return domain.Decision{Allowed: true, Reason: domain.ReasonNoPoliciesDefaultAllow}
	}

	for i := range s.policies {
		p := &s.policies[i]
		if !p.HasSubject(identity) {
			continue
		}
		if !p.HasAction(action) {
			continue
		}
		if !p.MatchesResource(resourcePath) {
			continue
		}
		if !p.MatchesClientIP(clientIP) {
			continue
		}

		if p.Effect.Allows() {
			s.metrics.allows.Add(1)
			return domain.Decision{Allowed: true, PolicyID: p.ID, Reason: domain.ReasonMatchedAllowPolicy}
		}
		s.metrics.denies.Add(1)
		return domain.Decision{Allowed: false, PolicyID: p.ID, Reason: domain.ReasonMatchedDenyPolicy}
	}

	// Policies exist but none matched: deny by default.
	s.metrics.denies.Add(1)
	return domain.Decision{Allowed: false, Reason: domain.ReasonNoMatchingPolicy}
}

// LoadFromFile parses the file and replaces the list atomically on success.
// The previous list stays in place on any error.
func (s *Store) LoadFromFile(path string) error {
	policies, err := LoadFile(path)
	if err != nil {
		return err
	}
	s.SetPolicies(policies)
	return nil
}

// SaveToFile persists a snapshot of the current list. The output is always
// the JSON shape regardless of the format originally loaded; round-trip is
// save→load equivalent, not byte-identical.
func (s *Store) SaveToFile(path string) error {
	return SaveFile(path, s.ListPolicies())
}
