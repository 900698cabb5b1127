package password

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt cost factor used when none is configured.
// Production deployments must not go below 12.
const DefaultCost = 12

// Hasher wraps bcrypt hashing and verification. Comparison goes through
// bcrypt's own comparator, which is constant-time by construction; stored
// hashes are never re-derived and compared with ==.
type Hasher struct {
	cost int
}

// NewHasher creates a hasher with the given bcrypt cost. Costs outside
// bcrypt's supported range are rejected; relaxing below DefaultCost is
// allowed here so tests can run fast, and is re-checked at engine build.
func NewHasher(cost int) (*Hasher, error) {
	if cost == 0 {
		cost = DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, errors.New("bcrypt cost out of range")
	}
	return &Hasher{cost: cost}, nil
}

// Hash derives a bcrypt hash of the plaintext.
func (h *Hasher) Hash(plaintext string) (string, error) {
	out, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Compare reports whether plaintext matches the stored hash.
func (h *Hasher) Compare(hash, plaintext string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}
