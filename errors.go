package kestrel

import (
	"errors"

	"github.com/kestrelauth/kestrel/internal/csrf"
	"github.com/kestrelauth/kestrel/internal/otp"
	"github.com/kestrelauth/kestrel/internal/throttle"
	"github.com/kestrelauth/kestrel/password"
)

var (
	// ErrEngineNotReady is returned when a method is called on an engine that
	// was not built through [Builder.Build].
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrInvalidRequest reports malformed caller input (missing or malformed
	// fields). The caller's fault, never the identity's state.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidCredentials reports a failed credential check.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserNotFound reports an unknown identity. Deliberately
	// distinguishable from ErrInvalidCredentials on the flows that historically
	// expose it (password reset, verification resend).
	ErrUserNotFound = errors.New("user not found")
	// ErrAccountExists reports a registration against a taken email or
	// username.
	ErrAccountExists = errors.New("email or username already exists")
	// ErrEmailAlreadyVerified reports a verification resend for an identity
	// that no longer needs one.
	ErrEmailAlreadyVerified = errors.New("email already verified")
	// ErrOTPInvalid reports a one-time code that is absent, expired, already
	// redeemed, or simply wrong. The cases are indistinguishable on purpose.
	ErrOTPInvalid = errors.New("invalid or expired code")
)

// Password policy violations are defined next to the ledger so the policy
// and its error identities stay in one place; re-exported here because they
// are part of the engine's public error surface.
var (
	// ErrPasswordTooWeak reports a plaintext failing the strength policy.
	ErrPasswordTooWeak error = password.ErrTooWeak
	// ErrPasswordReused reports a plaintext matching a retained history entry.
	ErrPasswordReused error = password.ErrReused
)

// Backend sentinels. Any error wrapping one of these means the decision
// could not be made; the engine has already failed closed by the time the
// caller sees it.
var (
	// ErrThrottleUnavailable indicates the throttle backend is unreachable.
	ErrThrottleUnavailable = throttle.ErrUnavailable
	// ErrOTPUnavailable indicates the OTP backend is unreachable.
	ErrOTPUnavailable = otp.ErrUnavailable
	// ErrCSRFUnavailable indicates the token backend is unreachable.
	ErrCSRFUnavailable = csrf.ErrUnavailable
)
