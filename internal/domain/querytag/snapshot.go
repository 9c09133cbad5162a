package querytag

import "time"

// Snapshot is the registry state as read at RefreshedAt.
type Snapshot struct {
	Entries     []Entry
	Version     int64
	RefreshedAt time.Time
}

// Eligible returns the entries new writes must index.
func (s Snapshot) Eligible() []Entry {
	out := make([]Entry, 0, len(s.Entries))
	for _, e := range s.Entries {
		if e.IsEligible() {
			out = append(out, e)
		}
	}
	return out
}

// Age returns how long ago the snapshot was taken.
func (s Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.RefreshedAt)
}

// IsStale reports whether the snapshot is older than maxAge. A zero snapshot is always stale.
func (s Snapshot) IsStale(now time.Time, maxAge time.Duration) bool {
	if s.RefreshedAt.IsZero() {
		return true
	}
	return s.Age(now) >= maxAge
}
