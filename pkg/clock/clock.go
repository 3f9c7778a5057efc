// Package clock provides the injected time source used by every
// deterministic core component. Nothing under pkg/snapshot, pkg/validate,
// pkg/restriction, or pkg/gate's decision logic may call time.Now directly;
// they take a Clock so tests can fix the instant a snapshot was built or a
// log line was stamped.
package clock

import "time"

// Clock returns the current instant. ISO8601 renders it for snapshot and
// log serialization.
type Clock interface {
	Now() time.Time
}

// System is the production Clock backed by time.Now.
type System struct{}

// Now implements Clock.
func (System) Now() time.Time { return time.Now().UTC() }

// Fixed is a deterministic Clock for tests, optionally advancing on each call.
type Fixed struct {
	t    time.Time
	step time.Duration
}

// NewFixed returns a Clock that always reports t.
func NewFixed(t time.Time) *Fixed {
	return &Fixed{t: t}
}

// NewFixedStepping returns a Clock that advances by step after every Now call.
func NewFixedStepping(t time.Time, step time.Duration) *Fixed {
	return &Fixed{t: t, step: step}
}

// Now implements Clock.
func (f *Fixed) Now() time.Time {
	current := f.t
	f.t = f.t.Add(f.step)
	return current
}

// ISO8601 formats t per spec.md §4.5: an ISO-8601 string from the clock.
func ISO8601(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
