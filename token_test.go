package kestrel

import (
	"testing"
	"time"
)

func TestSessionTokenRoundTrip(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	clock := newTestClock()
	e := newTestEngine(t, rdb, newMockUserProvider(), &mockNotifier{}, clock)

	user := UserRecord{UserID: "u1", Email: "alice@example.com", Username: "alice"}

	token, err := e.issueSessionToken(user)
	if err != nil {
		t.Fatalf("issueSessionToken failed: %v", err)
	}

	claims, err := e.ValidateSessionToken(token)
	if err != nil {
		t.Fatalf("ValidateSessionToken failed: %v", err)
	}
	if claims.UserID != "u1" || claims.Email != "alice@example.com" || claims.Username != "alice" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestSessionTokenExpiry(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	clock := newTestClock()
	e := newTestEngine(t, rdb, newMockUserProvider(), &mockNotifier{}, clock)

	token, err := e.issueSessionToken(UserRecord{UserID: "u1"})
	if err != nil {
		t.Fatalf("issueSessionToken failed: %v", err)
	}

	clock.Advance(7*24*time.Hour + time.Minute)

	if _, err := e.ValidateSessionToken(token); err != ErrTokenInvalid {
		t.Fatalf("expected ErrTokenInvalid after expiry, got %v", err)
	}
}

func TestSessionTokenTampering(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	clock := newTestClock()
	e := newTestEngine(t, rdb, newMockUserProvider(), &mockNotifier{}, clock)

	token, err := e.issueSessionToken(UserRecord{UserID: "u1"})
	if err != nil {
		t.Fatalf("issueSessionToken failed: %v", err)
	}

	if _, err := e.ValidateSessionToken(token + "x"); err != ErrTokenInvalid {
		t.Fatalf("expected ErrTokenInvalid for tampered token, got %v", err)
	}
	if _, err := e.ValidateSessionToken("not-a-jwt"); err != ErrTokenInvalid {
		t.Fatalf("expected ErrTokenInvalid for garbage, got %v", err)
	}

	// A token signed with a different secret is rejected.
	other := newTestEngine(t, rdb, newMockUserProvider(), &mockNotifier{}, clock)
	other.config.Session.Secret = []byte("other-secret-other-secret-other!")
	foreign, err := other.issueSessionToken(UserRecord{UserID: "u1"})
	if err != nil {
		t.Fatalf("issueSessionToken failed: %v", err)
	}
	if _, err := e.ValidateSessionToken(foreign); err != ErrTokenInvalid {
		t.Fatalf("expected ErrTokenInvalid for foreign signature, got %v", err)
	}
}
