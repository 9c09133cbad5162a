package memory

import (
	"context"
	"sync"
	"time"

	"github.com/kailas-cloud/dicomtags/internal/db"
)

var _ db.LeaseStore = (*LeaseStore)(nil)

type lease struct {
	owner   string
	expires time.Time
}

// LeaseStore grants leases within one process.
type LeaseStore struct {
	mu     sync.Mutex
	now    func() time.Time
	leases map[string]lease
}

// NewLeaseStore creates an empty lease table.
func NewLeaseStore() *LeaseStore {
	return &LeaseStore{now: time.Now, leases: make(map[string]lease)}
}

// SetClock overrides the time source.
func (l *LeaseStore) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Ping always succeeds.
func (l *LeaseStore) Ping(_ context.Context) error { return nil }

// Close is a no-op.
func (l *LeaseStore) Close() {}

// Acquire grants key to owner if it is free or expired.
func (l *LeaseStore) Acquire(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if cur, ok := l.leases[key]; ok && now.Before(cur.expires) {
		return false, nil
	}
	l.leases[key] = lease{owner: owner, expires: now.Add(ttl)}
	return true, nil
}

// Renew extends the lease if owner still holds it.
func (l *LeaseStore) Renew(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cur, ok := l.leases[key]
	if !ok || cur.owner != owner || !now.Before(cur.expires) {
		return false, nil
	}
	l.leases[key] = lease{owner: owner, expires: now.Add(ttl)}
	return true, nil
}

// Release drops the lease if owner still holds it.
func (l *LeaseStore) Release(_ context.Context, key, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cur, ok := l.leases[key]; ok && cur.owner == owner {
		delete(l.leases, key)
	}
	return nil
}
