// Package governance implements the classification engine: it maps a
// request's declared or route-implied sensitivity classification to a
// concrete set of data-handling obligations (encryption, redaction,
// retention, cacheability, approximate-search eligibility).
//
// Its default bias is the opposite of the authorization evaluator's: where
// an empty policy list allows, an unknown classification falls back to the
// most restrictive configured profile. The two engines are deliberately
// separate types; do not unify them.
package governance
