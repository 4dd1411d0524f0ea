// Package policy holds the ordered access-control policy list and evaluates
// authorization decisions against it.
//
// The package owns the policy lifecycle: administrative CRUD, atomic
// whole-list replacement, file persistence in JSON and YAML, and an optional
// fsnotify-driven reload watcher. Evaluation is deterministic first-match in
// stored order with an explicit default-allow on an empty list and a
// default-deny when nothing matches. It is intentionally decoupled from HTTP
// concerns so policy sets can be loaded, synced, and tested independently of
// the serving plane.
package policy
