package password

import (
	"time"
)

// HistoryDepth is the default number of hashes retained for reuse checks,
// the new hash included.
const HistoryDepth = 5

// Record is the password state of one identity: the active hash, the
// bounded most-recent-first reuse history, and the expiry window. The zero
// Record means "no password set yet" and is the starting point at
// registration.
type Record struct {
	CurrentHash   string
	History       []string
	LastChangedAt time.Time
	ExpiresAt     time.Time
}

// LedgerConfig holds the lifecycle windows.
type LedgerConfig struct {
	HistoryDepth  int
	MaxAge        time.Duration
	WarningWindow time.Duration
}

// Ledger applies the password lifecycle policy. It never talks to storage:
// Set returns the next record state and the caller persists it.
type Ledger struct {
	hasher *Hasher
	policy Policy
	config LedgerConfig
}

// NewLedger creates a ledger. Zero config fields fall back to the
// production constants (history 5, expiry 180 days, warning 7 days).
func NewLedger(hasher *Hasher, policy Policy, cfg LedgerConfig) *Ledger {
	if cfg.HistoryDepth <= 0 {
		cfg.HistoryDepth = HistoryDepth
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 180 * 24 * time.Hour
	}
	if cfg.WarningWindow <= 0 {
		cfg.WarningWindow = 7 * 24 * time.Hour
	}
	return &Ledger{
		hasher: hasher,
		policy: policy,
		config: cfg,
	}
}

// Set is the only path that produces new password state. Registration,
// change and reset all funnel through it. It rejects with ErrTooWeak or
// ErrReused before any hash is derived, then returns the record with the
// new hash prepended to the history, the history truncated, and the expiry
// recomputed from now.
func (l *Ledger) Set(rec Record, plaintext string, now time.Time) (Record, error) {
	if err := l.policy.Validate(plaintext); err != nil {
		return Record{}, err
	}
	if l.WasUsedBefore(rec, plaintext) {
		return Record{}, ErrReused
	}

	hash, err := l.hasher.Hash(plaintext)
	if err != nil {
		return Record{}, err
	}

	history := make([]string, 0, l.config.HistoryDepth)
	history = append(history, hash)
	history = append(history, rec.History...)
	if len(history) > l.config.HistoryDepth {
		history = history[:l.config.HistoryDepth]
	}

	return Record{
		CurrentHash:   hash,
		History:       history,
		LastChangedAt: now,
		ExpiresAt:     now.Add(l.config.MaxAge),
	}, nil
}

// Verify reports whether plaintext matches the record's current hash.
func (l *Ledger) Verify(rec Record, plaintext string) bool {
	if rec.CurrentHash == "" {
		return false
	}
	return l.hasher.Compare(rec.CurrentHash, plaintext)
}

// WasUsedBefore reports whether plaintext matches the current hash or any
// retained history entry. Comparison is sequential; each step goes through
// the hasher's constant-time comparator.
func (l *Ledger) WasUsedBefore(rec Record, plaintext string) bool {
	if rec.CurrentHash != "" && l.hasher.Compare(rec.CurrentHash, plaintext) {
		return true
	}
	for _, old := range rec.History {
		if l.hasher.Compare(old, plaintext) {
			return true
		}
	}
	return false
}

// IsExpired reports whether the password is past its expiry instant.
func (l *Ledger) IsExpired(rec Record, now time.Time) bool {
	if rec.ExpiresAt.IsZero() {
		return false
	}
	return now.After(rec.ExpiresAt)
}

// NeedsRenewalWarning reports whether the password expires within the
// warning window. The boundary is inclusive: exactly the window away
// already warns.
func (l *Ledger) NeedsRenewalWarning(rec Record, now time.Time) bool {
	if rec.ExpiresAt.IsZero() {
		return false
	}
	return !rec.ExpiresAt.After(now.Add(l.config.WarningWindow))
}
