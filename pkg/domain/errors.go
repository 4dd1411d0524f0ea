package domain

import "errors"

// Common domain errors
var (
	// ErrPolicyNotFound is returned by administrative removal when no
	// policy carries the requested id.
	ErrPolicyNotFound = errors.New("policy not found")

	// ErrUnsupportedDocument is returned when a policy document is
	// structurally unrecognizable (neither a sequence of policies nor a
	// {policies: [...]} wrapper). Malformed individual entries inside a
	// recognized structure are skipped instead.
	ErrUnsupportedDocument = errors.New("unsupported policy document structure")

	// ErrConfigInvalid is returned when configuration fails validation.
	ErrConfigInvalid = errors.New("invalid configuration")
)
