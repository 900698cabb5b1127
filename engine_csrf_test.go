package kestrel

import (
	"context"
	"testing"
	"time"
)

func TestCSRFIssueAndValidate(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	clock := newTestClock()
	e := newTestEngine(t, rdb, newMockUserProvider(), &mockNotifier{}, clock)

	ctx := context.Background()
	token, err := e.IssueCSRFToken(ctx)
	if err != nil {
		t.Fatalf("IssueCSRFToken failed: %v", err)
	}

	ok, err := e.ValidateCSRFToken(ctx, token)
	if err != nil {
		t.Fatalf("ValidateCSRFToken failed: %v", err)
	}
	if !ok {
		t.Fatal("expected fresh token to validate")
	}

	if got := e.metrics.Value(MetricCSRFIssued); got != 1 {
		t.Fatalf("expected 1 issued metric, got %d", got)
	}
}

func TestCSRFExpiry(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	clock := newTestClock()
	e := newTestEngine(t, rdb, newMockUserProvider(), &mockNotifier{}, clock)

	ctx := context.Background()
	token, err := e.IssueCSRFToken(ctx)
	if err != nil {
		t.Fatalf("IssueCSRFToken failed: %v", err)
	}

	clock.Advance(24 * time.Hour)

	ok, err := e.ValidateCSRFToken(ctx, token)
	if err != nil {
		t.Fatalf("ValidateCSRFToken failed: %v", err)
	}
	if ok {
		t.Fatal("expected token to expire after 24h")
	}

	if got := e.metrics.Value(MetricCSRFRejected); got != 1 {
		t.Fatalf("expected 1 rejected metric, got %d", got)
	}
}

func TestCSRFUnknownToken(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	clock := newTestClock()
	e := newTestEngine(t, rdb, newMockUserProvider(), &mockNotifier{}, clock)

	ok, err := e.ValidateCSRFToken(context.Background(), "deadbeef")
	if err != nil {
		t.Fatalf("ValidateCSRFToken failed: %v", err)
	}
	if ok {
		t.Fatal("expected unknown token to fail")
	}
}

func TestCSRFExemptPathsAreCopied(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	clock := newTestClock()
	e := newTestEngine(t, rdb, newMockUserProvider(), &mockNotifier{}, clock)

	paths := e.CSRFExemptPaths()
	if len(paths) == 0 {
		t.Fatal("expected default exempt paths")
	}

	paths[0] = "/mutated"
	if e.CSRFExemptPaths()[0] == "/mutated" {
		t.Fatal("expected the engine's copy to be unaffected")
	}
}
