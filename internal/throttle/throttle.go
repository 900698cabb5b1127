package throttle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// State classifies a throttle decision.
type State uint8

const (
	// StateAllowed means the attempt may proceed to credential verification.
	StateAllowed State = iota
	// StateBlocked means the identity is locked until the block window passes.
	StateBlocked
	// StateBlockedPermanently means the identity is locked with no expiry.
	// Only an out-of-band administrative action can clear it.
	StateBlockedPermanently
)

// Decision is the only output of the throttle for well-formed calls.
// Infrastructure failures are reported separately and callers must fail closed.
type Decision struct {
	State      State
	RetryAfter time.Duration
	Attempts   int
}

// Step maps an exact post-increment failure count to a block window.
type Step struct {
	Attempts int
	Block    time.Duration
}

// Config holds the escalation policy. Steps are matched by exact attempt
// count, not "at least"; PermanentAt is the cumulative failure count that
// locks the identity forever. IdleReset clears the counter after a quiet gap.
type Config struct {
	KeyPrefix   string
	Steps       []Step
	PermanentAt int
	IdleReset   time.Duration
}

// ErrUnavailable indicates the throttle backend is unreachable. Callers
// must deny the attempt rather than allow on ambiguous state.
var ErrUnavailable = errors.New("throttle backend unavailable")

// Throttle tracks per-identity failed login counters and escalating lock
// windows. All mutations run as single Redis scripts so concurrent attempts
// against the same identity never lose updates.
type Throttle struct {
	redis  redis.UniversalClient
	config Config
	steps  string
	now    func() time.Time
}

// checkLua applies the idle reset and evaluates the block state without
// touching the attempt counter.
// KEYS[1] = record key
// ARGV[1] = now (unix ms), ARGV[2] = idle reset window (ms)
var checkLua = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local idle = tonumber(ARGV[2])

local rec = redis.call('HMGET', key, 'a', 'la', 'bu', 'pb')
local attempts = tonumber(rec[1]) or 0
local last = tonumber(rec[2]) or 0
local blocked = tonumber(rec[3]) or 0
local perm = tonumber(rec[4]) or 0

if perm == 1 then
  return {'permanent', 0, attempts}
end

if last > 0 and now - last >= idle then
  attempts = 0
  blocked = 0
  redis.call('HSET', key, 'a', 0)
  redis.call('HDEL', key, 'bu')
end

if blocked > 0 and now < blocked then
  return {'blocked', blocked - now, attempts}
end

return {'allowed', 0, attempts}
`)

// failLua records one failed attempt. Increments happen only while the
// record is in the allowed state; a failure reported during an active block
// returns the block unchanged.
// KEYS[1] = record key
// ARGV[1] = now (unix ms), ARGV[2] = idle reset window (ms),
// ARGV[3] = permanent threshold, ARGV[4] = "attempts=blockMs;..." table
var failLua = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local idle = tonumber(ARGV[2])
local permAt = tonumber(ARGV[3])

local rec = redis.call('HMGET', key, 'a', 'la', 'bu', 'pb')
local attempts = tonumber(rec[1]) or 0
local last = tonumber(rec[2]) or 0
local blocked = tonumber(rec[3]) or 0
local perm = tonumber(rec[4]) or 0

if perm == 1 then
  return {'permanent', 0, attempts}
end

if last > 0 and now - last >= idle then
  attempts = 0
  blocked = 0
  redis.call('HSET', key, 'a', 0)
  redis.call('HDEL', key, 'bu')
end

if blocked > 0 and now < blocked then
  return {'blocked', blocked - now, attempts}
end

attempts = attempts + 1
redis.call('HSET', key, 'a', attempts, 'la', now)

if attempts >= permAt then
  redis.call('HSET', key, 'pb', 1)
  redis.call('HDEL', key, 'bu')
  return {'permanent', 0, attempts}
end

for pair in string.gmatch(ARGV[4], '([^;]+)') do
  local at, dur = string.match(pair, '(%d+)=(%d+)')
  if tonumber(at) == attempts then
    redis.call('HSET', key, 'bu', now + tonumber(dur))
    return {'blocked', tonumber(dur), attempts}
  end
end

return {'allowed', 0, attempts}
`)

// successLua resets the counter and any timed block after a successful
// authentication. The permanent flag is never cleared here: a permanently
// blocked identity cannot self-heal through a success path that skipped the
// check.
// KEYS[1] = record key, ARGV[1] = now (unix ms)
var successLua = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])

local rec = redis.call('HMGET', key, 'a', 'pb')
local attempts = tonumber(rec[1]) or 0
local perm = tonumber(rec[2]) or 0

if perm == 1 then
  return {'permanent', 0, attempts}
end

redis.call('HSET', key, 'a', 0, 'la', now)
redis.call('HDEL', key, 'bu')
return {'allowed', 0, 0}
`)

// New creates a throttle. The now function drives every window computation
// so tests can pin time.
func New(redisClient redis.UniversalClient, cfg Config, now func() time.Time) *Throttle {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "lat"
	}
	if now == nil {
		now = time.Now
	}

	steps := append([]Step(nil), cfg.Steps...)
	sort.Slice(steps, func(i, j int) bool { return steps[i].Attempts < steps[j].Attempts })
	cfg.Steps = steps

	var b strings.Builder
	for i, s := range steps {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(strconv.Itoa(s.Attempts))
		b.WriteByte('=')
		b.WriteString(strconv.FormatInt(s.Block.Milliseconds(), 10))
	}

	return &Throttle{
		redis:  redisClient,
		config: cfg,
		steps:  b.String(),
		now:    now,
	}
}

func (t *Throttle) key(identifier string) string {
	return t.config.KeyPrefix + ":" + Normalize(identifier)
}

// Normalize lower-cases and trims a login identifier so throttle records
// are shared across case variants of the same email.
func Normalize(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// Check evaluates the current block state for an identifier. The idle reset
// is applied persistently before evaluation.
func (t *Throttle) Check(ctx context.Context, identifier string) (Decision, error) {
	res, err := checkLua.Run(ctx, t.redis,
		[]string{t.key(identifier)},
		t.now().UnixMilli(),
		t.config.IdleReset.Milliseconds(),
	).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return decodeDecision(res)
}

// RegisterFailure records one failed credential check and returns the
// post-increment decision, including any block the failure just triggered.
func (t *Throttle) RegisterFailure(ctx context.Context, identifier string) (Decision, error) {
	res, err := failLua.Run(ctx, t.redis,
		[]string{t.key(identifier)},
		t.now().UnixMilli(),
		t.config.IdleReset.Milliseconds(),
		t.config.PermanentAt,
		t.steps,
	).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return decodeDecision(res)
}

// RegisterSuccess resets the attempt counter and timed block after a
// successful authentication. Permanent blocks survive.
func (t *Throttle) RegisterSuccess(ctx context.Context, identifier string) (Decision, error) {
	res, err := successLua.Run(ctx, t.redis,
		[]string{t.key(identifier)},
		t.now().UnixMilli(),
	).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return decodeDecision(res)
}

// Attempts returns the current failure counter for an identifier. Missing
// records report zero.
func (t *Throttle) Attempts(ctx context.Context, identifier string) (int, error) {
	count, err := t.redis.HGet(ctx, t.key(identifier), "a").Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return int(count), nil
}

func decodeDecision(res interface{}) (Decision, error) {
	parts, ok := res.([]interface{})
	if !ok || len(parts) != 3 {
		return Decision{}, fmt.Errorf("%w: unexpected script result", ErrUnavailable)
	}

	state, ok := parts[0].(string)
	if !ok {
		return Decision{}, fmt.Errorf("%w: unexpected script result", ErrUnavailable)
	}
	retryMs, ok := parts[1].(int64)
	if !ok {
		return Decision{}, fmt.Errorf("%w: unexpected script result", ErrUnavailable)
	}
	attempts, ok := parts[2].(int64)
	if !ok {
		return Decision{}, fmt.Errorf("%w: unexpected script result", ErrUnavailable)
	}

	d := Decision{
		RetryAfter: time.Duration(retryMs) * time.Millisecond,
		Attempts:   int(attempts),
	}

	switch state {
	case "allowed":
		d.State = StateAllowed
	case "blocked":
		d.State = StateBlocked
	case "permanent":
		d.State = StateBlockedPermanently
		d.RetryAfter = 0
	default:
		return Decision{}, fmt.Errorf("%w: unknown decision state %q", ErrUnavailable, state)
	}

	return d, nil
}
