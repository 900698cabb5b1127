package kestrel

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/kestrelauth/kestrel/internal/csrf"
	"github.com/kestrelauth/kestrel/internal/otp"
	"github.com/kestrelauth/kestrel/internal/throttle"
	"github.com/kestrelauth/kestrel/password"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

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

// mockUserProvider is an in-memory system of record for tests.
type mockUserProvider struct {
	mu         sync.Mutex
	users      map[string]UserRecord
	byEmail    map[string]string
	byUsername map[string]string
}

func newMockUserProvider() *mockUserProvider {
	return &mockUserProvider{
		users:      map[string]UserRecord{},
		byEmail:    map[string]string{},
		byUsername: map[string]string{},
	}
}

func (p *mockUserProvider) put(u UserRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[u.UserID] = u
	p.byEmail[u.Email] = u.UserID
	p.byUsername[u.Username] = u.UserID
}

func (p *mockUserProvider) GetUserByIdentifier(_ context.Context, identifier string) (UserRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.byEmail[identifier]; ok {
		return p.users[id], nil
	}
	if id, ok := p.byUsername[identifier]; ok {
		return p.users[id], nil
	}
	return UserRecord{}, fmt.Errorf("%w: %s", ErrUserNotFound, identifier)
}

func (p *mockUserProvider) GetUserByEmail(_ context.Context, email string) (UserRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.byEmail[email]
	if !ok {
		return UserRecord{}, fmt.Errorf("%w: %s", ErrUserNotFound, email)
	}
	return p.users[id], nil
}

func (p *mockUserProvider) GetUserByID(_ context.Context, userID string) (UserRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.users[userID]
	if !ok {
		return UserRecord{}, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	return u, nil
}

func (p *mockUserProvider) CreateUser(_ context.Context, input CreateUserInput) (UserRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u := UserRecord{
		UserID:    input.UserID,
		FirstName: input.FirstName,
		LastName:  input.LastName,
		Email:     input.Email,
		Username:  input.Username,
		Password:  input.Password,
	}
	p.users[u.UserID] = u
	p.byEmail[u.Email] = u.UserID
	p.byUsername[u.Username] = u.UserID
	return u, nil
}

func (p *mockUserProvider) UpdatePassword(_ context.Context, userID string, rec password.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.users[userID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	u.Password = rec
	p.users[userID] = u
	return nil
}

func (p *mockUserProvider) MarkEmailVerified(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.users[userID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	u.EmailVerified = true
	p.users[userID] = u
	return nil
}

// mockNotifier records every delivery so tests can read the issued codes.
type mockNotifier struct {
	mu    sync.Mutex
	sends []notifierSend
	fail  error
}

type notifierSend struct {
	address string
	purpose OTPPurpose
	code    string
}

func (n *mockNotifier) Send(_ context.Context, address string, purpose OTPPurpose, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return n.fail
	}
	n.sends = append(n.sends, notifierSend{address: address, purpose: purpose, code: code})
	return nil
}

func (n *mockNotifier) lastCode(t *testing.T, address string, purpose OTPPurpose) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sends) - 1; i >= 0; i-- {
		if n.sends[i].address == address && n.sends[i].purpose == purpose {
			return n.sends[i].code
		}
	}
	t.Fatalf("no %s code delivered to %s", purpose, address)
	return ""
}

func (n *mockNotifier) sendCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sends)
}

// newTestEngine wires an engine directly, skipping Build so tests can use a
// fast bcrypt cost and a pinned clock.
func newTestEngine(t *testing.T, rdb *redis.Client, up UserProvider, notifier Notifier, clock *testClock) *Engine {
	t.Helper()

	cfg := defaultConfig()
	cfg.Session.Secret = []byte("test-secret-test-secret-test-sec")

	hasher, err := password.NewHasher(4)
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}

	steps := make([]throttle.Step, 0, len(cfg.Throttle.Steps))
	for _, s := range cfg.Throttle.Steps {
		steps = append(steps, throttle.Step{Attempts: s.Attempts, Block: s.Block})
	}

	return &Engine{
		config: cfg,
		throttle: throttle.New(rdb, throttle.Config{
			KeyPrefix:   cfg.Throttle.KeyPrefix,
			Steps:       steps,
			PermanentAt: cfg.Throttle.PermanentAt,
			IdleReset:   cfg.Throttle.IdleReset,
		}, clock.Now),
		otpStore:  otp.New(rdb, cfg.OTP.KeyPrefix, clock.Now),
		csrfStore: csrf.New(rdb, cfg.CSRF.KeyPrefix, cfg.CSRF.TokenBytes, clock.Now),
		ledger: password.NewLedger(hasher, password.DefaultPolicy(), password.LedgerConfig{
			HistoryDepth:  cfg.Password.HistoryDepth,
			MaxAge:        cfg.Password.MaxAge,
			WarningWindow: cfg.Password.WarningWindow,
		}),
		metrics:      NewMetrics(cfg.Metrics),
		userProvider: up,
		notifier:     notifier,
		now:          clock.Now,
	}
}

// seedUser creates a verified user with the given password directly through
// the ledger.
func seedUser(t *testing.T, e *Engine, up *mockUserProvider, email, username, plaintext string) UserRecord {
	t.Helper()

	rec, err := e.ledger.Set(password.Record{}, plaintext, e.now())
	if err != nil {
		t.Fatalf("seed password failed: %v", err)
	}

	u := UserRecord{
		UserID:        "user-" + username,
		FirstName:     "Test",
		LastName:      "User",
		Email:         email,
		Username:      username,
		EmailVerified: true,
		Password:      rec,
	}
	up.put(u)
	return u
}
