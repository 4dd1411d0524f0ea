// Package testhelpers provides shared policy fixtures for integration and
// performance tests.
package testhelpers

import (
	"testing"

	"github.com/makr-code/themis-policy/pkg/domain"
	"github.com/makr-code/themis-policy/pkg/policy"
)

// SamplePolicies returns a small multi-tenant warehouse policy list. Order
// matters: the contractor lockout must precede the warehouse reader grant or
// first-match evaluation would let contractors into HR data.
func SamplePolicies() []domain.Policy {
	return []domain.Policy{
		{
			ID:                "ops-maintenance",
			Name:              "Operations from the management network",
			Subjects:          []string{"ops"},
			Actions:           []string{"*"},
			Resources:         []string{"/"},
			Effect:            domain.EffectAllow,
			AllowedIPPrefixes: []string{"10.0."},
		},
		{
			ID:        "hr-deny-contractors",
			Name:      "Contractors never see HR data",
			Subjects:  []string{"contractor"},
			Actions:   []string{"*"},
			Resources: []string{"/warehouse/hr"},
			Effect:    domain.EffectDeny,
		},
		{
			ID:        "warehouse-readers",
			Name:      "Analysts and contractors read the warehouse",
			Subjects:  []string{"analyst", "contractor"},
			Actions:   []string{"read"},
			Resources: []string{"/warehouse"},
			Effect:    domain.EffectAllow,
		},
		{
			ID:       "admins",
			Name:     "Administrators have full access",
			Subjects: []string{"admin"},
			Actions:  []string{"*"},
			Effect:   domain.EffectAllow,
		},
	}
}

// WritePolicyFile persists policies at path in the JSON on-disk shape.
func WritePolicyFile(t testing.TB, path string, policies []domain.Policy) {
	t.Helper()

	if err := policy.SaveFile(path, policies); err != nil {
		t.Fatalf("failed to write policy file: %v", err)
	}
}
