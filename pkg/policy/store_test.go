package policy

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/makr-code/themis-policy/pkg/domain"
)

func allowPolicy(id string, subjects, actions, resources []string) domain.Policy {
	return domain.Policy{
		ID:        id,
		Name:      id,
		Subjects:  subjects,
		Actions:   actions,
		Resources: resources,
		Effect:    domain.EffectAllow,
	}
}

func denyPolicy(id string, subjects, actions, resources []string) domain.Policy {
	p := allowPolicy(id, subjects, actions, resources)
	p.Effect = domain.EffectDeny
	return p
}

func TestAuthorizeEmptyListDefaultAllow(t *testing.T) {
	s := NewStore(nil)

	d := s.Authorize("anyone", "anything", "/anywhere", "")

	assert.True(t, d.Allowed)
	assert.Empty(t, d.PolicyID)
	assert.Equal(t, domain.ReasonNoPoliciesDefaultAllow, d.Reason)
	assert.Equal(t, int64(1), s.Metrics().Evaluations())
	assert.Equal(t, int64(1), s.Metrics().Allows())
	assert.Equal(t, int64(0), s.Metrics().Denies())
}

func TestAuthorizeMatchedAndUnmatched(t *testing.T) {
	s := NewStore(nil)
	s.SetPolicies([]domain.Policy{
		allowPolicy("p1", []string{"alice"}, []string{"read"}, []string{"/data"}),
	})

	granted := s.Authorize("alice", "read", "/data/1", "")
	assert.True(t, granted.Allowed)
	assert.Equal(t, "p1", granted.PolicyID)
	assert.Equal(t, domain.ReasonMatchedAllowPolicy, granted.Reason)

	refused := s.Authorize("bob", "read", "/data/1", "")
	assert.False(t, refused.Allowed)
	assert.Empty(t, refused.PolicyID)
	assert.Equal(t, domain.ReasonNoMatchingPolicy, refused.Reason)
}

func TestAuthorizeFirstMatchWins(t *testing.T) {
	everyone := []string{"*"}
	anything := []string{"*"}

	s := NewStore(nil)
	s.SetPolicies([]domain.Policy{
		allowPolicy("first-allow", everyone, anything, nil),
		denyPolicy("late-deny", everyone, anything, nil),
	})
	d := s.Authorize("carol", "write", "/x", "")
	assert.True(t, d.Allowed)
	assert.Equal(t, "first-allow", d.PolicyID)

	// Reversing the order flips the outcome: position is semantics.
	s.SetPolicies([]domain.Policy{
		denyPolicy("first-deny", everyone, anything, nil),
		allowPolicy("late-allow", everyone, anything, nil),
	})
	d = s.Authorize("carol", "write", "/x", "")
	assert.False(t, d.Allowed)
	assert.Equal(t, "first-deny", d.PolicyID)
	assert.Equal(t, domain.ReasonMatchedDenyPolicy, d.Reason)
}

func TestAuthorizeWildcards(t *testing.T) {
	s := NewStore(nil)
	s.SetPolicies([]domain.Policy{
		allowPolicy("any-subject", []string{"*"}, []string{"read"}, nil),
	})
	assert.True(t, s.Authorize("whoever", "read", "/", "").Allowed)
	assert.False(t, s.Authorize("whoever", "write", "/", "").Allowed)

	s.SetPolicies([]domain.Policy{
		allowPolicy("any-action", []string{"alice"}, []string{"*"}, nil),
	})
	assert.True(t, s.Authorize("alice", "drop-tables", "/", "").Allowed)
	assert.False(t, s.Authorize("bob", "read", "/", "").Allowed)
}

func TestAuthorizeResourcePrefixes(t *testing.T) {
	s := NewStore(nil)
	s.SetPolicies([]domain.Policy{
		allowPolicy("scoped", []string{"alice"}, []string{"read"}, []string{"/data", "/reports"}),
	})

	assert.True(t, s.Authorize("alice", "read", "/data/1", "").Allowed)
	assert.True(t, s.Authorize("alice", "read", "/reports", "").Allowed)
	assert.False(t, s.Authorize("alice", "read", "/other", "").Allowed)

	// An empty resource list leaves the policy unrestricted.
	s.SetPolicies([]domain.Policy{
		allowPolicy("unscoped", []string{"alice"}, []string{"read"}, nil),
	})
	assert.True(t, s.Authorize("alice", "read", "/anything/at/all", "").Allowed)
}

func TestAuthorizeIPGating(t *testing.T) {
	gated := allowPolicy("gated", []string{"alice"}, []string{"read"}, nil)
	gated.AllowedIPPrefixes = []string{"10.0.", "192.168."}

	s := NewStore(nil)
	s.SetPolicies([]domain.Policy{gated})

	// A policy with an IP condition never matches an address-less
	// request, even when everything else lines up.
	d := s.Authorize("alice", "read", "/data", "")
	assert.False(t, d.Allowed)
	assert.Equal(t, domain.ReasonNoMatchingPolicy, d.Reason)

	assert.True(t, s.Authorize("alice", "read", "/data", "10.0.3.7").Allowed)
	assert.True(t, s.Authorize("alice", "read", "/data", "192.168.1.1").Allowed)
	assert.False(t, s.Authorize("alice", "read", "/data", "172.16.0.1").Allowed)
}

func TestRemovePolicy(t *testing.T) {
	s := NewStore(nil)
	s.SetPolicies([]domain.Policy{
		allowPolicy("keep", []string{"*"}, []string{"*"}, nil),
		allowPolicy("drop", []string{"*"}, []string{"*"}, nil),
		allowPolicy("drop", []string{"*"}, []string{"*"}, nil),
	})

	assert.True(t, s.RemovePolicy("drop"))
	assert.Equal(t, 1, s.Count())
	assert.False(t, s.RemovePolicy("drop"))
	assert.False(t, s.RemovePolicy("never-existed"))
}

func TestListPoliciesSnapshotIsolation(t *testing.T) {
	original := allowPolicy("p1", []string{"alice"}, []string{"read"}, []string{"/data"})

	s := NewStore(nil)
	s.SetPolicies([]domain.Policy{original})

	// Mutating the caller's input after SetPolicies must not leak in.
	original.Subjects[0] = "mallory"
	assert.False(t, s.Authorize("mallory", "read", "/data", "").Allowed)
	assert.True(t, s.Authorize("alice", "read", "/data", "").Allowed)

	// Mutating a returned snapshot must not leak back.
	snap := s.ListPolicies()
	require.Len(t, snap, 1)
	snap[0].Subjects[0] = "mallory"
	assert.True(t, s.Authorize("alice", "read", "/data", "").Allowed)
}

func TestMetricsCountEveryEvaluationOnce(t *testing.T) {
	m := &Metrics{}
	s := NewStore(m)
	s.SetPolicies([]domain.Policy{
		allowPolicy("a", []string{"alice"}, []string{"read"}, nil),
		denyPolicy("d", []string{"bob"}, []string{"read"}, nil),
	})

	// One matched allow, one matched deny, two unmatched (counted as denies).
	s.Authorize("alice", "read", "/", "")
	s.Authorize("bob", "read", "/", "")
	s.Authorize("nobody", "read", "/", "")
	s.Authorize("alice", "write", "/", "")

	assert.Equal(t, int64(4), m.Evaluations())
	assert.Equal(t, int64(1), m.Allows())
	assert.Equal(t, int64(3), m.Denies())
	assert.Equal(t, m.Evaluations(), m.Allows()+m.Denies())

	// Replacing the list must not reset the counters.
	s.SetPolicies(nil)
	assert.Equal(t, int64(4), m.Evaluations())
}

// Concurrent authorize calls racing a whole-list replacement must observe
// one complete list or the other, never a mix: with both lists matching
// every request, no decision may fall through to no_matching_policy.
func TestSetPoliciesAtomicUnderConcurrentAuthorize(t *testing.T) {
	everyone := []string{"*"}
	anything := []string{"*"}

	listA := []domain.Policy{allowPolicy("always-allow", everyone, anything, nil)}
	listB := []domain.Policy{denyPolicy("always-deny", everyone, anything, nil)}

	s := NewStore(nil)
	s.SetPolicies(listA)

	const iterations = 500
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			if i%2 == 0 {
				s.SetPolicies(listB)
			} else {
				s.SetPolicies(listA)
			}
		}
	}()

	decisions := make([][]domain.Decision, 4)
	for g := range decisions {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			out := make([]domain.Decision, 0, iterations)
			for i := 0; i < iterations; i++ {
				out = append(out, s.Authorize("alice", "read", "/data", ""))
			}
			decisions[g] = out
		}(g)
	}
	wg.Wait()

	for _, out := range decisions {
		for _, d := range out {
			switch d.Reason {
			case domain.ReasonMatchedAllowPolicy:
				assert.Equal(t, "always-allow", d.PolicyID)
			case domain.ReasonMatchedDenyPolicy:
				assert.Equal(t, "always-deny", d.PolicyID)
			default:
				t.Fatalf("observed a torn policy list: %+v", d)
			}
		}
	}

	m := s.Metrics()
	assert.Equal(t, m.Evaluations(), m.Allows()+m.Denies())
}

// Determinism: identical inputs against an unchanged list always produce an
// identical decision.
func TestAuthorizeDeterminismProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		subjects := rapid.SliceOfN(rapid.SampledFrom([]string{"alice", "bob", "carol", "*"}), 0, 3)
		actions := rapid.SliceOfN(rapid.SampledFrom([]string{"read", "write", "delete", "*"}), 0, 3)
		resources := rapid.SliceOfN(rapid.SampledFrom([]string{"/data", "/reports", "/admin"}), 0, 2)
		effects := rapid.SampledFrom([]domain.Effect{domain.EffectAllow, domain.EffectDeny})

		count := rapid.IntRange(0, 6).Draw(t, "count")
		policies := make([]domain.Policy, 0, count)
		for i := 0; i < count; i++ {
			policies = append(policies, domain.Policy{
				ID:        fmt.Sprintf("p%d", i),
				Subjects:  subjects.Draw(t, fmt.Sprintf("subjects%d", i)),
				Actions:   actions.Draw(t, fmt.Sprintf("actions%d", i)),
				Resources: resources.Draw(t, fmt.Sprintf("resources%d", i)),
				Effect:    effects.Draw(t, fmt.Sprintf("effect%d", i)),
			})
		}

		s := NewStore(nil)
		s.SetPolicies(policies)

		identity := rapid.SampledFrom([]string{"alice", "bob", "carol", "dave"}).Draw(t, "identity")
		action := rapid.SampledFrom([]string{"read", "write", "delete"}).Draw(t, "action")
		resource := rapid.SampledFrom([]string{"/data/1", "/reports/q3", "/admin/users", "/"}).Draw(t, "resource")

		first := s.Authorize(identity, action, resource, "")
		second := s.Authorize(identity, action, resource, "")
		if first != second {
			t.Fatalf("same input diverged: %+v vs %+v", first, second)
		}

		if count == 0 && !first.Allowed {
			t.Fatalf("empty list must default-allow, got %+v", first)
		}
		if !first.Allowed && first.PolicyID == "" && first.Reason != domain.ReasonNoMatchingPolicy {
			t.Fatalf("unmatched denial carries wrong reason: %+v", first)
		}
	})
}

// Every evaluation lands in exactly one of the allow/deny counters.
func TestMetricsBalanceProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := NewStore(nil)
		if rapid.Bool().Draw(t, "withPolicy") {
			s.SetPolicies([]domain.Policy{
				denyPolicy("d", []string{"*"}, []string{"read"}, nil),
			})
		}

		calls := rapid.IntRange(1, 50).Draw(t, "calls")
		for i := 0; i < calls; i++ {
			s.Authorize("alice", rapid.SampledFrom([]string{"read", "write"}).Draw(t, fmt.Sprintf("a%d", i)), "/", "")
		}

		m := s.Metrics()
		if m.Evaluations() != int64(calls) {
			t.Fatalf("expected %d evaluations, got %d", calls, m.Evaluations())
		}
		if m.Allows()+m.Denies() != m.Evaluations() {
			t.Fatalf("counters out of balance: %d allows + %d denies != %d evals",
				m.Allows(), m.Denies(), m.Evaluations())
		}
	})
}
