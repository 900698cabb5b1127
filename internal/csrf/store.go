package csrf

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kestrelauth/kestrel/internal"
)

// ErrUnavailable indicates the token backend is unreachable.
var ErrUnavailable = errors.New("csrf backend unavailable")

// Store issues and validates short-lived opaque anti-forgery tokens.
// It is an explicitly constructed instance with a defined lifecycle: empty
// at creation, swept on demand, dropped with its Redis keyspace. Nothing in
// it is ambient global state.
type Store struct {
	redis      redis.UniversalClient
	prefix     string
	tokenBytes int
	now        func() time.Time
}

// New creates a token store. tokenBytes is the entropy per token; 32 bytes
// (256 bits) is the floor.
func New(redisClient redis.UniversalClient, prefix string, tokenBytes int, now func() time.Time) *Store {
	if prefix == "" {
		prefix = "csrf"
	}
	if tokenBytes < 32 {
		tokenBytes = 32
	}
	if now == nil {
		now = time.Now
	}
	return &Store{
		redis:      redisClient,
		prefix:     prefix,
		tokenBytes: tokenBytes,
		now:        now,
	}
}

func (s *Store) key(token string) string {
	return s.prefix + ":" + token
}

// Issue generates a fresh token, records its expiry and returns it. The
// Redis TTL acts as a backstop; validation and the sweep both consult the
// embedded expiry.
func (s *Store) Issue(ctx context.Context, ttl time.Duration) (string, error) {
	token, err := internal.NewOpaqueToken(s.tokenBytes)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	expiresAt := s.now().Add(ttl).UnixMilli()
	if err := s.redis.Set(ctx, s.key(token), strconv.FormatInt(expiresAt, 10), ttl).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return token, nil
}

// Validate reports whether the token is present and unexpired. A token
// found expired is deleted on the spot (lazy cleanup) and reported invalid.
func (s *Store) Validate(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}

	raw, err := s.redis.Get(ctx, s.key(token)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	expiresAt, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false, fmt.Errorf("%w: corrupt token record", ErrUnavailable)
	}

	if s.now().UnixMilli() >= expiresAt {
		if err := s.redis.Del(ctx, s.key(token)).Err(); err != nil {
			return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return false, nil
	}

	return true, nil
}

// Sweep removes every expired entry and returns how many it deleted.
// Amortized cleanup only: validation checks expiry inline, so correctness
// never depends on the sweep schedule.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	nowMs := s.now().UnixMilli()
	removed := 0

	iter := s.redis.Scan(ctx, 0, s.prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		raw, err := s.redis.Get(ctx, key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return removed, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		expiresAt, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || nowMs >= expiresAt {
			if err := s.redis.Del(ctx, key).Err(); err != nil {
				return removed, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			removed++
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return removed, nil
}
