package otp

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const recordVersionV1 = 1

// Purposes an OTP can be issued for. A code is bound to exactly one
// (email, purpose) pair and never redeemable for the other purpose.
const (
	PurposeEmailVerification = "EMAIL_VERIFICATION"
	PurposePasswordReset     = "PASSWORD_RESET"
)

// ErrUnavailable indicates the OTP backend is unreachable.
var ErrUnavailable = errors.New("otp backend unavailable")

// redeemLua atomically performs GET, expiry check, hash compare and DEL on
// an OTP record. Deleting on match is what makes redemption exactly-once.
// KEYS[1] = record key
// ARGV[1] = now (unix ms), ARGV[2] = provided code hash (32 bytes)
var redeemLua = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return {err='not_found'}
end

local version = string.byte(data, 1)
if version ~= 1 then
  redis.call('DEL', KEYS[1])
  return {err='not_found'}
end

local e0,e1,e2,e3,e4,e5,e6,e7 = string.byte(data, 2, 9)
local expiresAt = e0
for _, b in ipairs({e1,e2,e3,e4,e5,e6,e7}) do
  expiresAt = expiresAt * 256 + b
end

local now = tonumber(ARGV[1])
if now >= expiresAt then
  redis.call('DEL', KEYS[1])
  return {err='expired'}
end

local stored = string.sub(data, 10, 41)
if stored ~= ARGV[2] then
  return {err='mismatch'}
end

redis.call('DEL', KEYS[1])
return data
`)

// Store keeps at most one live OTP record per (email, purpose) pair.
// Issuing writes over any prior record for the pair, which is how a new
// code invalidates every previously issued one. Codes are stored as
// SHA-256 hashes; plaintext never reaches the backend.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// New creates an OTP store.
func New(redisClient redis.UniversalClient, prefix string, now func() time.Time) *Store {
	if prefix == "" {
		prefix = "otp"
	}
	if now == nil {
		now = time.Now
	}
	return &Store{
		redis:  redisClient,
		prefix: prefix,
		now:    now,
	}
}

func (s *Store) key(email, purpose string) string {
	return s.prefix + ":" + purpose + ":" + strings.ToLower(strings.TrimSpace(email))
}

// Issue stores a new record for (email, purpose), superseding any existing
// one. The Redis TTL doubles as the passive expiry sweep; redemption also
// checks the embedded expiry inline so the sweep is never load-bearing.
func (s *Store) Issue(ctx context.Context, email, purpose, code string, ttl time.Duration) error {
	record := encodeRecord(s.now().Add(ttl).UnixMilli(), hashCode(code))

	if err := s.redis.Set(ctx, s.key(email, purpose), record, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Redeem consumes the record for (email, purpose) if the code matches and
// the record is unexpired. A matching redemption deletes the record, so a
// second call with the same code always fails, even inside the TTL window.
func (s *Store) Redeem(ctx context.Context, email, purpose, code string) (bool, error) {
	provided := hashCode(code)

	result, err := redeemLua.Run(ctx, s.redis,
		[]string{s.key(email, purpose)},
		s.now().UnixMilli(),
		string(provided[:]),
	).Result()
	if err != nil {
		switch err.Error() {
		case "not_found", "expired", "mismatch":
			return false, nil
		default:
			return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	data, ok := result.(string)
	if !ok {
		return false, fmt.Errorf("%w: unexpected lua result type", ErrUnavailable)
	}
	stored, err := decodeRecordHash([]byte(data))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// Final constant-time comparison in Go as defense-in-depth
	// (Lua already checked, but Lua string comparison is not constant-time).
	if subtle.ConstantTimeCompare(stored[:], provided[:]) != 1 {
		return false, nil
	}

	return true, nil
}

// Drop removes any live record for (email, purpose) without redeeming it.
func (s *Store) Drop(ctx context.Context, email, purpose string) error {
	if err := s.redis.Del(ctx, s.key(email, purpose)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func hashCode(code string) [32]byte {
	return sha256.Sum256([]byte(code))
}

func encodeRecord(expiresAtMs int64, hash [32]byte) []byte {
	buf := make([]byte, 0, 1+8+32)
	buf = append(buf, recordVersionV1)
	buf = binary.BigEndian.AppendUint64(buf, uint64(expiresAtMs))
	buf = append(buf, hash[:]...)
	return buf
}

func decodeRecordHash(data []byte) ([32]byte, error) {
	var hash [32]byte
	if len(data) != 1+8+32 || data[0] != recordVersionV1 {
		return hash, errors.New("invalid otp record")
	}
	copy(hash[:], data[9:])
	return hash, nil
}
