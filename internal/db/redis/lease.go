package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/dicomtags/internal/db"
)

// Owner-checked scripts: a lease is only extended or released by the owner that holds it.
const (
	renewScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`

	releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`
)

// Acquire takes the lease on key for owner if nobody holds it (SET NX PX).
func (s *Store) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	cmd := s.b().Set().Key(s.key(key)).Value(owner).Nx().PxMilliseconds(ttl.Milliseconds()).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return false, nil
		}
		return false, &db.Error{Op: db.OpLeaseAcquire, Err: err}
	}
	return true, nil
}

// Renew extends the lease if owner still holds it.
func (s *Store) Renew(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	cmd := s.b().Eval().Script(renewScript).Numkeys(1).Key(s.key(key)).
		Arg(owner, strconv.FormatInt(ttl.Milliseconds(), 10)).Build()
	n, err := s.do(ctx, cmd).AsInt64()
	if err != nil {
		return false, &db.Error{Op: db.OpLeaseRenew, Err: err}
	}
	return n == 1, nil
}

// Release drops the lease if owner still holds it.
func (s *Store) Release(ctx context.Context, key, owner string) error {
	cmd := s.b().Eval().Script(releaseScript).Numkeys(1).Key(s.key(key)).Arg(owner).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		return &db.Error{Op: db.OpLeaseRelease, Err: err}
	}
	return nil
}
