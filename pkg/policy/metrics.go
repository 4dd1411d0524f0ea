package policy

import "sync/atomic"

// Metrics counts evaluator activity. Counters are monotonic and updated
// without coordination; they are independent of the policy list's guard and
// lifecycle, so swapping or clearing the list never resets them.
//
// A Metrics instance is owned by the Store it is injected into rather than
// being process-global, which keeps tests isolated. The zero value is ready
// to use.
type Metrics struct {
	evaluations atomic.Int64
	allows      atomic.Int64
	denies      atomic.Int64
}

// Evaluations returns the total number of Authorize calls observed.
func (m *Metrics) Evaluations() int64 { return m.evaluations.Load() }

// Allows returns the number of evaluations that granted access.
func (m *Metrics) Allows() int64 { return m.allows.Load() }

// Denies returns the number of evaluations that refused access.
func (m *Metrics) Denies() int64 { return m.denies.Load() }
