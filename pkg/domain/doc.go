// Package domain defines the core types shared across the policy subsystem.
//
// Everything in here is plain data and pure functions over it: no I/O, no
// imports beyond the standard library, nothing that needs a mock to test.
// Policies, decisions, classification profiles and governance documents are
// declared once in this package and consumed by the packages that move them
// around (policy, ranger, governance, server). The dependency arrow always
// points inward; domain never imports a sibling.
//
// Note that the subsystem deliberately carries two decision models with
// opposite default biases: authorization (Policy/Decision) defaults to allow
// when no policies exist at all, while classification
// (ClassificationProfile/PolicyDecision) fails closed onto the most
// restrictive configured profile when a level is unknown. They share this
// package but nothing else; do not unify them.
package domain
