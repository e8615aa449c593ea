package lease

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func newStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	srv, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	t.Cleanup(srv.Close)

	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisStore(client), srv
}

func TestAcquireAndGet(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	leadID, advisorID := uuid.New(), uuid.New()

	acquired, err := store.Acquire(ctx, leadID, advisorID, time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if acquired.AdvisorID != advisorID {
		t.Fatalf("acquired advisor = %s, want %s", acquired.AdvisorID, advisorID)
	}

	got, err := store.Get(ctx, leadID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected a live lease")
	}
	if got.AdvisorID != advisorID {
		t.Fatalf("lease advisor = %s, want %s", got.AdvisorID, advisorID)
	}
	if got.ExpiresAt.Before(time.Now()) {
		t.Fatal("lease should not already be expired")
	}
}

func TestAcquireConflictsWithOtherAdvisor(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	leadID := uuid.New()

	if _, err := store.Acquire(ctx, leadID, uuid.New(), time.Minute); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	_, err := store.Acquire(ctx, leadID, uuid.New(), time.Minute)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("second acquire err = %v, want ErrConflict", err)
	}
}

func TestAcquireIdempotentForHolder(t *testing.T) {
	store, srv := newStore(t)
	ctx := context.Background()
	leadID, advisorID := uuid.New(), uuid.New()

	first, err := store.Acquire(ctx, leadID, advisorID, time.Minute)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	srv.FastForward(30 * time.Second)

	second, err := store.Acquire(ctx, leadID, advisorID, time.Minute)
	if err != nil {
		t.Fatalf("re-acquire by holder: %v", err)
	}
	if !second.StartedAt.Equal(first.StartedAt) {
		t.Fatalf("re-acquire changed StartedAt: %v -> %v", first.StartedAt, second.StartedAt)
	}

	// The TTL was extended past the original deadline.
	srv.FastForward(45 * time.Second)
	got, err := store.Get(ctx, leadID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("lease should still be live after re-acquire extended the TTL")
	}
}

func TestRenew(t *testing.T) {
	store, srv := newStore(t)
	ctx := context.Background()
	leadID, advisorID := uuid.New(), uuid.New()

	if _, err := store.Renew(ctx, leadID, advisorID, time.Minute); !errors.Is(err, ErrNotFound) {
		t.Fatalf("renew without lease err = %v, want ErrNotFound", err)
	}

	if _, err := store.Acquire(ctx, leadID, advisorID, time.Minute); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if _, err := store.Renew(ctx, leadID, uuid.New(), time.Minute); !errors.Is(err, ErrNotFound) {
		t.Fatalf("renew by stranger err = %v, want ErrNotFound", err)
	}

	srv.FastForward(30 * time.Second)
	if _, err := store.Renew(ctx, leadID, advisorID, time.Minute); err != nil {
		t.Fatalf("renew by holder: %v", err)
	}

	srv.FastForward(45 * time.Second)
	got, err := store.Get(ctx, leadID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("renewed lease should still be live")
	}
}

func TestReleaseIdempotent(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	leadID, advisorID := uuid.New(), uuid.New()

	if _, err := store.Acquire(ctx, leadID, advisorID, time.Minute); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	released, err := store.Release(ctx, leadID, advisorID)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if !released {
		t.Fatal("first release should report true")
	}

	released, err = store.Release(ctx, leadID, advisorID)
	if err != nil {
		t.Fatalf("second release: %v", err)
	}
	if released {
		t.Fatal("second release should be a no-op")
	}

	got, err := store.Get(ctx, leadID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatal("lease should be gone after release")
	}
}

func TestReleaseByNonOwnerIsNoop(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	leadID, advisorID := uuid.New(), uuid.New()

	if _, err := store.Acquire(ctx, leadID, advisorID, time.Minute); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	released, err := store.Release(ctx, leadID, uuid.New())
	if err != nil {
		t.Fatalf("release by stranger: %v", err)
	}
	if released {
		t.Fatal("stranger must not release the lease")
	}

	got, err := store.Get(ctx, leadID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("owner's lease should survive a stranger's release")
	}
}

func TestForceRelease(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	leadID := uuid.New()

	if _, err := store.Acquire(ctx, leadID, uuid.New(), time.Minute); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := store.ForceRelease(ctx, leadID); err != nil {
		t.Fatalf("force release: %v", err)
	}

	// A new advisor can claim immediately.
	if _, err := store.Acquire(ctx, leadID, uuid.New(), time.Minute); err != nil {
		t.Fatalf("acquire after force release: %v", err)
	}
}

func TestExpiryAllowsTakeover(t *testing.T) {
	store, srv := newStore(t)
	ctx := context.Background()
	leadID, first, second := uuid.New(), uuid.New(), uuid.New()

	if _, err := store.Acquire(ctx, leadID, first, time.Second); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	srv.FastForward(2 * time.Second)

	if got, err := store.Get(ctx, leadID); err != nil || got != nil {
		t.Fatalf("expired lease should read as absent, got %v err %v", got, err)
	}

	if _, err := store.Acquire(ctx, leadID, second, time.Minute); err != nil {
		t.Fatalf("takeover acquire after expiry: %v", err)
	}

	if _, err := store.Renew(ctx, leadID, first, time.Minute); !errors.Is(err, ErrNotFound) {
		t.Fatalf("stale holder renew err = %v, want ErrNotFound", err)
	}
}

func TestListActiveSkipsExpired(t *testing.T) {
	store, srv := newStore(t)
	ctx := context.Background()

	live, short := uuid.New(), uuid.New()
	if _, err := store.Acquire(ctx, live, uuid.New(), time.Minute); err != nil {
		t.Fatalf("acquire live: %v", err)
	}
	if _, err := store.Acquire(ctx, short, uuid.New(), time.Second); err != nil {
		t.Fatalf("acquire short: %v", err)
	}

	srv.FastForward(2 * time.Second)

	leases, err := store.ListActive(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(leases) != 1 {
		t.Fatalf("active leases = %d, want 1", len(leases))
	}
	if leases[0].LeadID != live {
		t.Fatalf("active lease lead = %s, want %s", leases[0].LeadID, live)
	}
}

func TestSweepReportsExpiredLeads(t *testing.T) {
	store, srv := newStore(t)
	ctx := context.Background()

	expired, live := uuid.New(), uuid.New()
	if _, err := store.Acquire(ctx, expired, uuid.New(), time.Second); err != nil {
		t.Fatalf("acquire expired: %v", err)
	}
	if _, err := store.Acquire(ctx, live, uuid.New(), time.Minute); err != nil {
		t.Fatalf("acquire live: %v", err)
	}

	srv.FastForward(2 * time.Second)

	swept, err := store.sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(swept) != 1 || swept[0] != expired {
		t.Fatalf("swept = %v, want [%s]", swept, expired)
	}

	// Second sweep finds nothing; the index entry is gone.
	swept, err = store.sweep(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if len(swept) != 0 {
		t.Fatalf("second sweep = %v, want empty", swept)
	}
}

func TestSweepKeepsTakeoverSessionTracked(t *testing.T) {
	store, srv := newStore(t)
	ctx := context.Background()
	leadID, first, second := uuid.New(), uuid.New(), uuid.New()

	if _, err := store.Acquire(ctx, leadID, first, time.Second); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	srv.FastForward(2 * time.Second)

	// A takeover lands on the expired lead before the sweep runs. The new
	// session must survive the sweep: not reported as expired, not dropped
	// from the index.
	if _, err := store.Acquire(ctx, leadID, second, time.Minute); err != nil {
		t.Fatalf("takeover acquire: %v", err)
	}

	swept, err := store.sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(swept) != 0 {
		t.Fatalf("swept = %v, want empty while takeover lease is live", swept)
	}

	leases, err := store.ListActive(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(leases) != 1 || leases[0].AdvisorID != second {
		t.Fatalf("active leases = %v, want the takeover session", leases)
	}

	// When the takeover session itself lapses, the sweep still finds it.
	srv.FastForward(2 * time.Minute)
	swept, err = store.sweep(ctx)
	if err != nil {
		t.Fatalf("sweep after takeover expiry: %v", err)
	}
	if len(swept) != 1 || swept[0] != leadID {
		t.Fatalf("swept = %v, want [%s]", swept, leadID)
	}
}

func TestSweepEvictionSparesLiveLease(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	leadID := uuid.New()

	if _, err := store.Acquire(ctx, leadID, uuid.New(), time.Minute); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// The eviction step checks the key and removes the index entry in one
	// atomic script, so a lease written at any point before it runs is seen.
	evicted, err := sweepEvictScript.Run(ctx, store.client,
		[]string{leaseKey(leadID), indexKey},
		leadID.String(),
	).Int64()
	if err != nil {
		t.Fatalf("evict script: %v", err)
	}
	if evicted != 0 {
		t.Fatal("eviction must refuse while the lease key is live")
	}

	leases, err := store.ListActive(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(leases) != 1 {
		t.Fatalf("active leases = %d, want 1", len(leases))
	}
}

func TestConcurrentAcquireSingleWinner(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	leadID := uuid.New()

	var (
		mu        sync.Mutex
		wins      int
		conflicts int
	)

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		advisorID := uuid.New()
		g.Go(func() error {
			_, err := store.Acquire(ctx, leadID, advisorID, time.Minute)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrConflict):
				conflicts++
			default:
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent acquire: %v", err)
	}

	if wins != 1 {
		t.Fatalf("winners = %d, want exactly 1", wins)
	}
	if conflicts != 7 {
		t.Fatalf("conflicts = %d, want 7", conflicts)
	}
}

func TestSweeperInvokesCallback(t *testing.T) {
	store, srv := newStore(t)
	ctx := context.Background()
	leadID := uuid.New()

	if _, err := store.Acquire(ctx, leadID, uuid.New(), time.Second); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	srv.FastForward(2 * time.Second)

	var got []uuid.UUID
	s := NewSweeper(store, time.Minute, func(_ context.Context, id uuid.UUID) {
		got = append(got, id)
	}, testLogger())
	s.sweepOnce(ctx)

	if len(got) != 1 || got[0] != leadID {
		t.Fatalf("callback ids = %v, want [%s]", got, leadID)
	}
}
