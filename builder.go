package kestrel

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kestrelauth/kestrel/internal/audit"
	"github.com/kestrelauth/kestrel/internal/csrf"
	"github.com/kestrelauth/kestrel/internal/otp"
	"github.com/kestrelauth/kestrel/internal/throttle"
	"github.com/kestrelauth/kestrel/password"
)

// Builder assembles an [Engine]. Construction is allocation-only; nothing
// touches Redis until the first engine call after Build.
type Builder struct {
	config       Config
	redis        redis.UniversalClient
	userProvider UserProvider
	notifier     Notifier
	auditSink    AuditSink
	now          func() time.Time
	built        bool
}

// New returns a builder preloaded with the production policy defaults.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the entire config. Call it before the other With
// methods if both are used.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the persistence backend for throttle records, OTP records
// and CSRF tokens.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserProvider sets the system-of-record collaborator. Required.
func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.userProvider = up
	return b
}

// WithNotifier sets the out-of-band code delivery collaborator. Required.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithAuditSink sets the destination for audit events. Optional; without a
// sink, enabled auditing discards into a [NoOpSink].
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithSessionSecret sets the HS256 signing secret for session tokens.
func (b *Builder) WithSessionSecret(secret []byte) *Builder {
	b.config.Session.Secret = append([]byte(nil), secret...)
	return b
}

// WithClock overrides the engine's time source. Every expiry and window
// computation flows through it; tests pin it to a fixed instant.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration, wires every component and starts the
// CSRF sweep loop. A builder builds at most once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.userProvider == nil {
		return nil, errors.New("user provider required")
	}
	if b.notifier == nil {
		return nil, errors.New("notifier required")
	}
	if err := validateConfig(b.config); err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	}

	hasher, err := password.NewHasher(b.config.Password.BcryptCost)
	if err != nil {
		return nil, err
	}

	steps := make([]throttle.Step, 0, len(b.config.Throttle.Steps))
	for _, s := range b.config.Throttle.Steps {
		steps = append(steps, throttle.Step{Attempts: s.Attempts, Block: s.Block})
	}

	e := &Engine{
		config: b.config,
		throttle: throttle.New(b.redis, throttle.Config{
			KeyPrefix:   b.config.Throttle.KeyPrefix,
			Steps:       steps,
			PermanentAt: b.config.Throttle.PermanentAt,
			IdleReset:   b.config.Throttle.IdleReset,
		}, now),
		otpStore:  otp.New(b.redis, b.config.OTP.KeyPrefix, now),
		csrfStore: csrf.New(b.redis, b.config.CSRF.KeyPrefix, b.config.CSRF.TokenBytes, now),
		ledger: password.NewLedger(hasher,
			password.Policy{
				MinLength: b.config.Password.MinLength,
				MinScore:  b.config.Password.MinScore,
			},
			password.LedgerConfig{
				HistoryDepth:  b.config.Password.HistoryDepth,
				MaxAge:        b.config.Password.MaxAge,
				WarningWindow: b.config.Password.WarningWindow,
			}),
		audit: audit.NewDispatcher(audit.Config{
			Enabled:    b.config.Audit.Enabled,
			BufferSize: b.config.Audit.BufferSize,
			DropIfFull: b.config.Audit.DropIfFull,
		}, b.auditSink),
		metrics:      NewMetrics(b.config.Metrics),
		userProvider: b.userProvider,
		notifier:     b.notifier,
		now:          now,
	}

	e.sweepStop = make(chan struct{})
	e.sweepWG.Add(1)
	go e.runCSRFSweeper()

	b.built = true
	return e, nil
}

// runCSRFSweeper deletes expired anti-forgery tokens on a fixed interval.
// It never holds anything a foreground request waits on.
func (e *Engine) runCSRFSweeper() {
	defer e.sweepWG.Done()

	ticker := time.NewTicker(e.config.CSRF.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed, err := e.csrfStore.Sweep(context.Background())
			if err != nil {
				e.emitAudit(context.Background(), auditEventCSRF, false, "", "", err, func() map[string]string {
					return map[string]string{
						"phase": "sweep",
					}
				})
				continue
			}
			if removed > 0 {
				e.metrics.Add(MetricCSRFSwept, uint64(removed))
			}
		case <-e.sweepStop:
			return
		}
	}
}
