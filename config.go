package kestrel

import (
	"errors"
	"time"
)

// Config is the full policy surface of the engine. Every security constant
// (lock windows, TTLs, history depth) lives here so tests and deployments
// can tune them without touching code. Configs are set once before
// [Builder.Build] and treated as immutable afterwards.
type Config struct {
	Throttle ThrottleConfig
	Password PasswordConfig
	OTP      OTPConfig
	CSRF     CSRFConfig
	Session  SessionConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

// ThrottleStep maps an exact post-increment failure count to a block window.
type ThrottleStep struct {
	Attempts int
	Block    time.Duration
}

// ThrottleConfig holds the escalating lockout policy.
type ThrottleConfig struct {
	KeyPrefix string
	// Steps are matched by exact attempt count. Later steps are mutually
	// exclusive with earlier ones, never "at least".
	Steps []ThrottleStep
	// PermanentAt is the cumulative failure count that locks the identity
	// with no expiry. There is no self-service unblock; clearing the flag is
	// an out-of-band administrative operation.
	PermanentAt int
	// IdleReset clears the counter after a quiet gap of this length.
	IdleReset time.Duration
}

// PasswordConfig holds hashing cost and lifecycle windows.
type PasswordConfig struct {
	// BcryptCost must be at least 12 in production builds.
	BcryptCost    int
	MinLength     int
	MinScore      int
	HistoryDepth  int
	MaxAge        time.Duration
	WarningWindow time.Duration
}

// OTPConfig holds one-time-code shape and lifetime.
type OTPConfig struct {
	KeyPrefix string
	Digits    int
	TTL       time.Duration
}

// CSRFConfig holds anti-forgery token policy.
type CSRFConfig struct {
	KeyPrefix  string
	TokenBytes int
	TTL        time.Duration
	// SweepInterval schedules the background cleanup of expired tokens.
	// Any schedule up to an hour is fine for correctness; validation checks
	// expiry inline regardless.
	SweepInterval time.Duration
	// ExemptPaths are mutating endpoints reachable by a browser that has no
	// token yet (registration, login, verification, reset). Exempting them
	// is an intentional policy decision: no token context exists before
	// first contact.
	ExemptPaths []string
}

// SessionConfig holds the session credential issued on successful login.
type SessionConfig struct {
	// Secret signs session tokens (HS256). Required, at least 32 bytes.
	Secret []byte
	TTL    time.Duration
	Issuer string
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process metrics counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

func defaultConfig() Config {
	return Config{
		Throttle: ThrottleConfig{
			KeyPrefix: "lat",
			Steps: []ThrottleStep{
				{Attempts: 5, Block: 30 * time.Second},
				{Attempts: 6, Block: 60 * time.Second},
				{Attempts: 7, Block: 30 * time.Minute},
				{Attempts: 8, Block: time.Hour},
				{Attempts: 9, Block: 24 * time.Hour},
			},
			PermanentAt: 10,
			IdleReset:   24 * time.Hour,
		},
		Password: PasswordConfig{
			BcryptCost:    12,
			MinLength:     8,
			MinScore:      3,
			HistoryDepth:  5,
			MaxAge:        180 * 24 * time.Hour,
			WarningWindow: 7 * 24 * time.Hour,
		},
		OTP: OTPConfig{
			KeyPrefix: "otp",
			Digits:    6,
			TTL:       10 * time.Minute,
		},
		CSRF: CSRFConfig{
			KeyPrefix:     "csrf",
			TokenBytes:    32,
			TTL:           24 * time.Hour,
			SweepInterval: time.Hour,
			ExemptPaths: []string{
				"/api/auth/login",
				"/api/auth/register",
				"/api/auth/verify-email",
				"/api/auth/reset-password",
				"/api/auth/resend-verification",
				"/api/auth/forgot-password",
			},
		},
		Session: SessionConfig{
			TTL:    7 * 24 * time.Hour,
			Issuer: "kestrel",
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func validateConfig(cfg Config) error {
	if len(cfg.Throttle.Steps) == 0 {
		return errors.New("throttle steps required")
	}
	seen := map[int]bool{}
	maxStep := 0
	for _, s := range cfg.Throttle.Steps {
		if s.Attempts <= 0 || s.Block <= 0 {
			return errors.New("throttle step attempts and block must be positive")
		}
		if seen[s.Attempts] {
			return errors.New("duplicate throttle step attempt count")
		}
		seen[s.Attempts] = true
		if s.Attempts > maxStep {
			maxStep = s.Attempts
		}
	}
	if cfg.Throttle.PermanentAt <= maxStep {
		return errors.New("permanent threshold must exceed every timed step")
	}
	if cfg.Throttle.IdleReset <= 0 {
		return errors.New("throttle idle reset must be positive")
	}

	if cfg.Password.BcryptCost < 12 {
		return errors.New("bcrypt cost must be >= 12")
	}
	if cfg.Password.MinLength < 8 {
		return errors.New("password min length must be >= 8")
	}
	if cfg.Password.MinScore < 0 || cfg.Password.MinScore > 4 {
		return errors.New("password min score must be within 0-4")
	}
	if cfg.Password.HistoryDepth <= 0 {
		return errors.New("password history depth must be positive")
	}
	if cfg.Password.MaxAge <= 0 || cfg.Password.WarningWindow <= 0 {
		return errors.New("password lifecycle windows must be positive")
	}
	if cfg.Password.WarningWindow >= cfg.Password.MaxAge {
		return errors.New("warning window must be shorter than password max age")
	}

	if cfg.OTP.Digits < 6 || cfg.OTP.Digits > 10 {
		return errors.New("otp digits must be within 6-10")
	}
	if cfg.OTP.TTL <= 0 {
		return errors.New("otp ttl must be positive")
	}

	if cfg.CSRF.TokenBytes < 32 {
		return errors.New("csrf token must carry at least 32 bytes of entropy")
	}
	if cfg.CSRF.TTL <= 0 {
		return errors.New("csrf ttl must be positive")
	}
	if cfg.CSRF.SweepInterval <= 0 {
		return errors.New("csrf sweep interval must be positive")
	}

	if len(cfg.Session.Secret) < 32 {
		return errors.New("session secret must be at least 32 bytes")
	}
	if cfg.Session.TTL <= 0 {
		return errors.New("session ttl must be positive")
	}

	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg

	out.Throttle.Steps = append([]ThrottleStep(nil), cfg.Throttle.Steps...)
	out.CSRF.ExemptPaths = append([]string(nil), cfg.CSRF.ExemptPaths...)
	out.Session.Secret = append([]byte(nil), cfg.Session.Secret...)

	return out
}
