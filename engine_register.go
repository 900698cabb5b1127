package kestrel

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/kestrelauth/kestrel/password"
)

var (
	emailPattern    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,20}$`)
)

// Register creates a new identity. The password goes through the full
// lifecycle policy (strength, then hashing at production cost), the email
// and username through format checks, and duplicates are rejected before
// anything is written. On success a verification code is issued and handed
// to the notifier; a later delivery failure does not undo the identity.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Username = strings.TrimSpace(req.Username)
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)

	if err := validateRegisterRequest(req); err != nil {
		return nil, err
	}

	if _, err := e.userProvider.GetUserByEmail(ctx, req.Email); err == nil {
		e.metricInc(MetricRegisterDuplicate)
		return nil, ErrAccountExists
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}
	if _, err := e.userProvider.GetUserByIdentifier(ctx, req.Username); err == nil {
		e.metricInc(MetricRegisterDuplicate)
		return nil, ErrAccountExists
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	rec, err := e.ledger.Set(password.Record{}, req.Password, e.now())
	if err != nil {
		e.recordPolicyRejection(err)
		return nil, err
	}

	user, err := e.userProvider.CreateUser(ctx, CreateUserInput{
		UserID:    uuid.NewString(),
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Username:  req.Username,
		Password:  rec,
	})
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegister, true, user.UserID, user.Email, nil, nil)

	// The identity exists from here on. A verification-code issuance failure
	// is surfaced through audit and metrics, not by failing the registration;
	// the user can request a resend.
	if err := e.issueOTP(ctx, user.Email, PurposeEmailVerification); err != nil {
		e.emitAudit(ctx, auditEventVerificationSend, false, user.UserID, user.Email, err, nil)
	}

	return &RegisterResult{UserID: user.UserID}, nil
}

func validateRegisterRequest(req RegisterRequest) error {
	if req.FirstName == "" || req.LastName == "" {
		return fmt.Errorf("%w: first and last name required", ErrInvalidRequest)
	}
	if req.Email == "" || !emailPattern.MatchString(req.Email) {
		return fmt.Errorf("%w: malformed email address", ErrInvalidRequest)
	}
	if !usernamePattern.MatchString(req.Username) {
		return fmt.Errorf("%w: username must be 3-20 characters, letters, digits and underscore only", ErrInvalidRequest)
	}
	if req.Password == "" {
		return fmt.Errorf("%w: password required", ErrInvalidRequest)
	}
	return nil
}

func (e *Engine) recordPolicyRejection(err error) {
	switch {
	case errors.Is(err, ErrPasswordTooWeak):
		e.metricInc(MetricPasswordTooWeak)
	case errors.Is(err, ErrPasswordReused):
		e.metricInc(MetricPasswordReuseRejected)
	}
}
