// Package lease enforces at-most-one-active-advisor-per-lead through
// TTL-bounded session leases held in Redis.
package lease

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrConflict means a live lease for the lead is held by another advisor.
	ErrConflict = errors.New("lease held by another advisor")
	// ErrNotFound means no live lease exists for the lead (never created,
	// released, or expired).
	ErrNotFound = errors.New("no live lease for lead")
	// ErrUnavailable means the backing store cannot currently guarantee
	// exclusivity. Acquire and renew fail closed on this.
	ErrUnavailable = errors.New("lease store unavailable")
)

// Lease is one advisor's time-bounded exclusive claim on one lead.
type Lease struct {
	LeadID    uuid.UUID
	AdvisorID uuid.UUID
	StartedAt time.Time
	ExpiresAt time.Time
}

// Store is the advisor-session lease contract consumed by the assignment
// engine.
type Store interface {
	// Acquire claims the lead for the advisor. It is idempotent for the
	// current holder (the TTL is extended); any other live holder causes
	// ErrConflict.
	Acquire(ctx context.Context, leadID, advisorID uuid.UUID, ttl time.Duration) (Lease, error)
	// Renew extends the advisor's lease. ErrNotFound when no live lease
	// exists or it belongs to someone else.
	Renew(ctx context.Context, leadID, advisorID uuid.UUID, ttl time.Duration) (Lease, error)
	// Release drops the lease only if owned by the advisor. Returns false
	// (without error) when there was nothing to release.
	Release(ctx context.Context, leadID, advisorID uuid.UUID) (bool, error)
	// ForceRelease drops any lease on the lead unconditionally.
	ForceRelease(ctx context.Context, leadID uuid.UUID) error
	// Get returns the live lease for the lead, or nil when none exists.
	// Expired leases are indistinguishable from released ones.
	Get(ctx context.Context, leadID uuid.UUID) (*Lease, error)
	// ListActive returns all live leases, for operational dashboards.
	ListActive(ctx context.Context) ([]Lease, error)
}

const (
	leaseKeyPrefix = "lease:lead:"
	indexKey       = "lease:index"
)

// Lease values are stored as "<advisorID>|<startedAtUnixMs>" under a key with
// a PX expiry, so Redis itself implements lazy expiry. The index set tracks
// which leads may hold a lease; the sweeper reconciles it against expired keys.
var acquireScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
  local owner = string.sub(cur, 1, string.find(cur, '|') - 1)
  if owner ~= ARGV[1] then
    return {0, cur}
  end
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
  return {1, cur}
end
local val = ARGV[1] .. '|' .. ARGV[2]
redis.call('SET', KEYS[1], val, 'PX', ARGV[3])
redis.call('SADD', KEYS[2], ARGV[4])
return {1, val}
`)

var renewScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
  return {0, ''}
end
local owner = string.sub(cur, 1, string.find(cur, '|') - 1)
if owner ~= ARGV[1] then
  return {0, ''}
end
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return {1, cur}
`)

// The expired-check and the index removal must be one atomic step: a takeover
// acquire landing between a separate EXISTS and SREM would have its live lease
// silently dropped from the index.
var sweepEvictScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
return redis.call('SREM', KEYS[2], ARGV[1])
`)

var releaseScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
  return 0
end
local owner = string.sub(cur, 1, string.find(cur, '|') - 1)
if owner ~= ARGV[1] then
  return 0
end
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[2], ARGV[2])
return 1
`)

// RedisStore implements Store on a Redis client. All mutations run as Lua
// scripts so the check-and-set is atomic under concurrent callers.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a lease store on the given client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func leaseKey(leadID uuid.UUID) string {
	return leaseKeyPrefix + leadID.String()
}

func (s *RedisStore) Acquire(ctx context.Context, leadID, advisorID uuid.UUID, ttl time.Duration) (Lease, error) {
	now := time.Now()
	res, err := acquireScript.Run(ctx, s.client,
		[]string{leaseKey(leadID), indexKey},
		advisorID.String(),
		strconv.FormatInt(now.UnixMilli(), 10),
		strconv.FormatInt(ttl.Milliseconds(), 10),
		leadID.String(),
	).Slice()
	if err != nil {
		return Lease{}, fmt.Errorf("%w: acquire: %v", ErrUnavailable, err)
	}

	ok, value, err := scriptReply(res)
	if err != nil {
		return Lease{}, fmt.Errorf("%w: acquire: %v", ErrUnavailable, err)
	}
	if !ok {
		return Lease{}, ErrConflict
	}

	lease, err := parseLease(leadID, value)
	if err != nil {
		return Lease{}, fmt.Errorf("%w: acquire: %v", ErrUnavailable, err)
	}
	lease.ExpiresAt = now.Add(ttl)
	return lease, nil
}

func (s *RedisStore) Renew(ctx context.Context, leadID, advisorID uuid.UUID, ttl time.Duration) (Lease, error) {
	now := time.Now()
	res, err := renewScript.Run(ctx, s.client,
		[]string{leaseKey(leadID)},
		advisorID.String(),
		strconv.FormatInt(ttl.Milliseconds(), 10),
	).Slice()
	if err != nil {
		return Lease{}, fmt.Errorf("%w: renew: %v", ErrUnavailable, err)
	}

	ok, value, err := scriptReply(res)
	if err != nil {
		return Lease{}, fmt.Errorf("%w: renew: %v", ErrUnavailable, err)
	}
	if !ok {
		return Lease{}, ErrNotFound
	}

	lease, err := parseLease(leadID, value)
	if err != nil {
		return Lease{}, fmt.Errorf("%w: renew: %v", ErrUnavailable, err)
	}
	lease.ExpiresAt = now.Add(ttl)
	return lease, nil
}

func (s *RedisStore) Release(ctx context.Context, leadID, advisorID uuid.UUID) (bool, error) {
	res, err := releaseScript.Run(ctx, s.client,
		[]string{leaseKey(leadID), indexKey},
		advisorID.String(),
		leadID.String(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: release: %v", ErrUnavailable, err)
	}
	return res == 1, nil
}

func (s *RedisStore) ForceRelease(ctx context.Context, leadID uuid.UUID) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, leaseKey(leadID))
	pipe.SRem(ctx, indexKey, leadID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: force release: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, leadID uuid.UUID) (*Lease, error) {
	key := leaseKey(leadID)
	value, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get: %v", ErrUnavailable, err)
	}

	pttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: get: %v", ErrUnavailable, err)
	}
	if pttl <= 0 {
		// Key vanished between GET and PTTL, or carries no expiry; treat as absent.
		return nil, nil
	}

	lease, err := parseLease(leadID, value)
	if err != nil {
		return nil, fmt.Errorf("%w: get: %v", ErrUnavailable, err)
	}
	lease.ExpiresAt = time.Now().Add(pttl)
	return &lease, nil
}

func (s *RedisStore) ListActive(ctx context.Context) ([]Lease, error) {
	ids, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: list: %v", ErrUnavailable, err)
	}

	leases := make([]Lease, 0, len(ids))
	for _, raw := range ids {
		leadID, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		lease, err := s.Get(ctx, leadID)
		if err != nil {
			return nil, err
		}
		if lease != nil {
			leases = append(leases, *lease)
		}
	}
	return leases, nil
}

// sweep removes index entries whose lease key has expired and returns the
// affected lead ids so the caller can run session recovery.
func (s *RedisStore) sweep(ctx context.Context) ([]uuid.UUID, error) {
	ids, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: sweep: %v", ErrUnavailable, err)
	}

	var expired []uuid.UUID
	for _, raw := range ids {
		leadID, err := uuid.Parse(raw)
		if err != nil {
			s.client.SRem(ctx, indexKey, raw)
			continue
		}
		evicted, err := sweepEvictScript.Run(ctx, s.client,
			[]string{leaseKey(leadID), indexKey},
			raw,
		).Int64()
		if err != nil {
			return expired, fmt.Errorf("%w: sweep: %v", ErrUnavailable, err)
		}
		// SREM returning 0 means another sweeper already evicted the entry;
		// reporting it again would double-run recovery.
		if evicted == 1 {
			expired = append(expired, leadID)
		}
	}
	return expired, nil
}

func scriptReply(res []interface{}) (bool, string, error) {
	if len(res) != 2 {
		return false, "", fmt.Errorf("unexpected script reply %v", res)
	}
	flag, ok := res[0].(int64)
	if !ok {
		return false, "", fmt.Errorf("unexpected script flag %T", res[0])
	}
	value, _ := res[1].(string)
	return flag == 1, value, nil
}

func parseLease(leadID uuid.UUID, value string) (Lease, error) {
	owner, started, found := strings.Cut(value, "|")
	if !found {
		return Lease{}, fmt.Errorf("malformed lease value %q", value)
	}
	advisorID, err := uuid.Parse(owner)
	if err != nil {
		return Lease{}, fmt.Errorf("malformed lease owner %q", owner)
	}
	startedMs, err := strconv.ParseInt(started, 10, 64)
	if err != nil {
		return Lease{}, fmt.Errorf("malformed lease timestamp %q", started)
	}
	return Lease{
		LeadID:    leadID,
		AdvisorID: advisorID,
		StartedAt: time.UnixMilli(startedMs),
	}, nil
}

// Compile-time check that RedisStore implements Store.
var _ Store = (*RedisStore)(nil)
