package kestrel

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/kestrelauth/kestrel/internal/audit"
	"github.com/kestrelauth/kestrel/internal/otp"
	"github.com/kestrelauth/kestrel/password"
)

// OTPPurpose scopes a one-time code to a single use case. A code issued for
// one purpose never redeems for the other.
type OTPPurpose string

const (
	// PurposeEmailVerification is an OTP proving control of a mailbox at
	// registration or first login.
	PurposeEmailVerification OTPPurpose = otp.PurposeEmailVerification
	// PurposePasswordReset is an OTP authorizing a password reset.
	PurposePasswordReset OTPPurpose = otp.PurposePasswordReset
)

// UserRecord is the identity snapshot exchanged with the [UserProvider].
// kestrel never mutates it in place; password state changes flow back
// through [UserProvider.UpdatePassword] as a fresh [password.Record].
type UserRecord struct {
	UserID        string
	FirstName     string
	LastName      string
	Email         string
	Username      string
	EmailVerified bool
	Password      password.Record
}

// CreateUserInput is the input for [UserProvider.CreateUser]. The password
// record is already hashed; plaintext never crosses this boundary.
type CreateUserInput struct {
	UserID    string
	FirstName string
	LastName  string
	Email     string
	Username  string
	Password  password.Record
}

// UserProvider is the system-of-record collaborator the host application
// must implement. Lookups for unknown identities must return an error
// wrapping [ErrUserNotFound]. Implementations are expected to bound their
// own I/O with the supplied context; a timeout here denies the attempt.
type UserProvider interface {
	GetUserByIdentifier(ctx context.Context, identifier string) (UserRecord, error)
	GetUserByEmail(ctx context.Context, email string) (UserRecord, error)
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
	CreateUser(ctx context.Context, input CreateUserInput) (UserRecord, error)
	UpdatePassword(ctx context.Context, userID string, rec password.Record) error
	MarkEmailVerified(ctx context.Context, userID string) error
}

// Notifier delivers one-time codes out-of-band. Delivery is best-effort:
// a Send failure is audited and counted but never rolls back the issuance
// it was meant to announce.
type Notifier interface {
	Send(ctx context.Context, address string, purpose OTPPurpose, code string) error
}

// LoginOutcome is the terminal state of one login attempt.
type LoginOutcome uint8

const (
	// OutcomeSuccess: credential correct, email verified, password current.
	// A session token was issued.
	OutcomeSuccess LoginOutcome = iota
	// OutcomeBlocked: the throttle denied the attempt; credentials were not
	// examined. RetryAfter carries the remaining block window.
	OutcomeBlocked
	// OutcomeBlockedPermanently: the identity is locked with no expiry.
	OutcomeBlockedPermanently
	// OutcomeInvalid: the credential check failed and the failure was
	// recorded against the throttle.
	OutcomeInvalid
	// OutcomeEmailUnverified: the credential was correct but the mailbox is
	// unproven. A fresh verification code was issued; no throttle failure is
	// recorded for this branch.
	OutcomeEmailUnverified
	// OutcomePasswordExpired: the credential was correct but past its expiry;
	// no session token is issued until the password is changed.
	OutcomePasswordExpired
	// OutcomeRenewalWarning: success, with the password inside its renewal
	// warning window. A session token was issued.
	OutcomeRenewalWarning
)

// String returns the outcome's wire-friendly name.
func (o LoginOutcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeBlocked:
		return "blocked"
	case OutcomeBlockedPermanently:
		return "blocked_permanently"
	case OutcomeInvalid:
		return "invalid_credentials"
	case OutcomeEmailUnverified:
		return "email_unverified"
	case OutcomePasswordExpired:
		return "password_expired"
	case OutcomeRenewalWarning:
		return "renewal_warning"
	default:
		return "unknown"
	}
}

// LoginResult is returned by [Engine.Login] for every well-formed attempt.
// Infrastructure failures surface as errors instead and always mean denial.
type LoginResult struct {
	Outcome    LoginOutcome
	UserID     string
	Token      string
	RetryAfter time.Duration
	// Email is populated on OutcomeEmailUnverified so the caller can tell
	// the user where the fresh code went.
	Email string
}

// RegisterRequest is the input for [Engine.Register].
type RegisterRequest struct {
	FirstName string
	LastName  string
	Email     string
	Username  string
	Password  string
}

// RegisterResult is returned by [Engine.Register].
type RegisterResult struct {
	UserID string
}

// SessionClaims is the decoded payload of a kestrel session token.
type SessionClaims struct {
	UserID   string
	Email    string
	Username string
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes JSON-encoded events to an
// [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}
