// Package telemetry wires OpenTelemetry exporters and meters for the policy
// service.
//
// It centralises trace provider setup, applies service resource attributes,
// and offers enrichment helpers that attach authorization and governance
// metadata to spans and metrics so operators can correlate enforcement
// decisions with request behaviour.
package telemetry
