package otp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestStore(t *testing.T) (*Store, *testClock, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	clock := newTestClock()
	return New(rdb, "otp", clock.Now), clock, func() { mr.Close() }
}

func TestRedeemExactlyOnce(t *testing.T) {
	store, _, done := newTestStore(t)
	defer done()

	ctx := context.Background()
	const code = "042917"

	if err := store.Issue(ctx, "alice@example.com", PurposeEmailVerification, code, 10*time.Minute); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	ok, err := store.Redeem(ctx, "alice@example.com", PurposeEmailVerification, code)
	if err != nil {
		t.Fatalf("Redeem failed: %v", err)
	}
	if !ok {
		t.Fatal("expected first redemption to succeed")
	}

	// Replay with the identical code fails: the record is gone.
	ok, err = store.Redeem(ctx, "alice@example.com", PurposeEmailVerification, code)
	if err != nil {
		t.Fatalf("Redeem failed: %v", err)
	}
	if ok {
		t.Fatal("expected replay to fail")
	}
}

func TestRedeemWrongCode(t *testing.T) {
	store, _, done := newTestStore(t)
	defer done()

	ctx := context.Background()

	if err := store.Issue(ctx, "alice@example.com", PurposeEmailVerification, "042917", 10*time.Minute); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	ok, err := store.Redeem(ctx, "alice@example.com", PurposeEmailVerification, "042918")
	if err != nil {
		t.Fatalf("Redeem failed: %v", err)
	}
	if ok {
		t.Fatal("expected wrong code to fail")
	}

	// A mismatch does not consume the record.
	ok, err = store.Redeem(ctx, "alice@example.com", PurposeEmailVerification, "042917")
	if err != nil {
		t.Fatalf("Redeem failed: %v", err)
	}
	if !ok {
		t.Fatal("expected correct code to still redeem after a mismatch")
	}
}

func TestIssueSupersedes(t *testing.T) {
	store, _, done := newTestStore(t)
	defer done()

	ctx := context.Background()

	if err := store.Issue(ctx, "alice@example.com", PurposeEmailVerification, "111111", 10*time.Minute); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if err := store.Issue(ctx, "alice@example.com", PurposeEmailVerification, "222222", 10*time.Minute); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	ok, err := store.Redeem(ctx, "alice@example.com", PurposeEmailVerification, "111111")
	if err != nil {
		t.Fatalf("Redeem failed: %v", err)
	}
	if ok {
		t.Fatal("expected superseded code to be dead")
	}

	ok, err = store.Redeem(ctx, "alice@example.com", PurposeEmailVerification, "222222")
	if err != nil {
		t.Fatalf("Redeem failed: %v", err)
	}
	if !ok {
		t.Fatal("expected the superseding code to redeem")
	}
}

func TestPurposeIsolation(t *testing.T) {
	store, _, done := newTestStore(t)
	defer done()

	ctx := context.Background()

	if err := store.Issue(ctx, "alice@example.com", PurposeEmailVerification, "333333", 10*time.Minute); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	ok, err := store.Redeem(ctx, "alice@example.com", PurposePasswordReset, "333333")
	if err != nil {
		t.Fatalf("Redeem failed: %v", err)
	}
	if ok {
		t.Fatal("expected a verification code to be useless for a reset")
	}
}

func TestExpiry(t *testing.T) {
	store, clock, done := newTestStore(t)
	defer done()

	ctx := context.Background()

	if err := store.Issue(ctx, "alice@example.com", PurposePasswordReset, "654321", 10*time.Minute); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	// Exactly at the boundary the code is already dead.
	clock.Advance(10 * time.Minute)

	ok, err := store.Redeem(ctx, "alice@example.com", PurposePasswordReset, "654321")
	if err != nil {
		t.Fatalf("Redeem failed: %v", err)
	}
	if ok {
		t.Fatal("expected expired code to fail")
	}
}

func TestEmailNormalization(t *testing.T) {
	store, _, done := newTestStore(t)
	defer done()

	ctx := context.Background()

	if err := store.Issue(ctx, "Alice@Example.COM", PurposeEmailVerification, "987654", 10*time.Minute); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	ok, err := store.Redeem(ctx, "alice@example.com", PurposeEmailVerification, "987654")
	if err != nil {
		t.Fatalf("Redeem failed: %v", err)
	}
	if !ok {
		t.Fatal("expected case variants of the email to share one record")
	}
}

func TestDrop(t *testing.T) {
	store, _, done := newTestStore(t)
	defer done()

	ctx := context.Background()

	if err := store.Issue(ctx, "alice@example.com", PurposeEmailVerification, "135791", 10*time.Minute); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if err := store.Drop(ctx, "alice@example.com", PurposeEmailVerification); err != nil {
		t.Fatalf("Drop failed: %v", err)
	}

	ok, err := store.Redeem(ctx, "alice@example.com", PurposeEmailVerification, "135791")
	if err != nil {
		t.Fatalf("Redeem failed: %v", err)
	}
	if ok {
		t.Fatal("expected dropped code to fail")
	}
}

func TestUnavailableBackend(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := New(rdb, "otp", nil)
	mr.Close()

	if err := store.Issue(context.Background(), "a@example.com", PurposeEmailVerification, "123456", time.Minute); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if _, err := store.Redeem(context.Background(), "a@example.com", PurposeEmailVerification, "123456"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
