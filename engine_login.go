package kestrel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/kestrelauth/kestrel/internal/throttle"
)

// Login runs one authentication attempt through the full decision chain:
// throttle, credential check, mailbox verification, password lifecycle.
// The order is load-bearing. The throttle is consulted before credentials
// so a blocked identity costs no hash comparison, and a correct credential
// on an unverified mailbox records no throttle failure.
//
// A nil error means the attempt was decided; inspect [LoginResult.Outcome].
// A non-nil error means the decision could not be made and the attempt is
// denied (fail closed).
func (e *Engine) Login(ctx context.Context, identifier, plaintext string) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	start := e.now()
	result, err := e.login(ctx, identifier, plaintext)
	e.metrics.Observe(MetricLoginLatency, e.now().Sub(start))
	return result, err
}

func (e *Engine) login(ctx context.Context, identifier, plaintext string) (*LoginResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || plaintext == "" {
		return nil, fmt.Errorf("%w: identifier and password required", ErrInvalidRequest)
	}

	decision, err := e.throttle.Check(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if blocked := e.blockedResult(ctx, identifier, decision); blocked != nil {
		return blocked, nil
	}

	user, err := e.userProvider.GetUserByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return e.failedLogin(ctx, identifier, "unknown_identifier")
		}
		return nil, err
	}

	if !e.ledger.Verify(user.Password, plaintext) {
		return e.failedLogin(ctx, identifier, "password_mismatch")
	}

	if !user.EmailVerified {
		// Correct credential, unproven mailbox. Not a throttle failure;
		// the attacker-knowledge model here is "owner who hasn't clicked
		// the link yet", so a fresh code supersedes the old one.
		if err := e.issueOTP(ctx, user.Email, PurposeEmailVerification); err != nil {
			return nil, err
		}
		e.metricInc(MetricLoginEmailUnverified)
		e.emitAudit(ctx, auditEventLogin, false, user.UserID, user.Email, nil, func() map[string]string {
			return map[string]string{"outcome": OutcomeEmailUnverified.String()}
		})
		return &LoginResult{
			Outcome: OutcomeEmailUnverified,
			UserID:  user.UserID,
			Email:   user.Email,
		}, nil
	}

	if _, err := e.throttle.RegisterSuccess(ctx, identifier); err != nil {
		return nil, err
	}

	now := e.now()

	if e.ledger.IsExpired(user.Password, now) {
		e.metricInc(MetricLoginPasswordExpired)
		e.emitAudit(ctx, auditEventLogin, false, user.UserID, user.Email, nil, func() map[string]string {
			return map[string]string{"outcome": OutcomePasswordExpired.String()}
		})
		return &LoginResult{
			Outcome: OutcomePasswordExpired,
			UserID:  user.UserID,
		}, nil
	}

	token, err := e.issueSessionToken(user)
	if err != nil {
		return nil, err
	}

	outcome := OutcomeSuccess
	if e.ledger.NeedsRenewalWarning(user.Password, now) {
		outcome = OutcomeRenewalWarning
		e.metricInc(MetricLoginRenewalWarning)
	}
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLogin, true, user.UserID, user.Email, nil, func() map[string]string {
		return map[string]string{"outcome": outcome.String()}
	})

	return &LoginResult{
		Outcome: outcome,
		UserID:  user.UserID,
		Token:   token,
	}, nil
}

// failedLogin records the throttle failure and reports the attempt invalid.
// The failure itself may trip a block; that new block is reported to the
// caller immediately instead of on the next attempt.
func (e *Engine) failedLogin(ctx context.Context, identifier, cause string) (*LoginResult, error) {
	decision, err := e.throttle.RegisterFailure(ctx, identifier)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLogin, false, "", identifier, ErrInvalidCredentials, func() map[string]string {
		return map[string]string{
			"cause":    cause,
			"attempts": strconv.Itoa(decision.Attempts),
		}
	})

	if blocked := e.blockedResult(ctx, identifier, decision); blocked != nil {
		return blocked, nil
	}

	return &LoginResult{Outcome: OutcomeInvalid}, nil
}

func (e *Engine) blockedResult(ctx context.Context, identifier string, decision throttle.Decision) *LoginResult {
	switch decision.State {
	case throttle.StateBlocked:
		e.metricInc(MetricLoginBlocked)
		e.emitAudit(ctx, auditEventLogin, false, "", identifier, nil, func() map[string]string {
			return map[string]string{
				"outcome":     OutcomeBlocked.String(),
				"retry_after": decision.RetryAfter.String(),
			}
		})
		return &LoginResult{
			Outcome:    OutcomeBlocked,
			RetryAfter: decision.RetryAfter,
		}
	case throttle.StateBlockedPermanently:
		e.metricInc(MetricLoginPermanentBlock)
		e.emitAudit(ctx, auditEventLogin, false, "", identifier, nil, func() map[string]string {
			return map[string]string{"outcome": OutcomeBlockedPermanently.String()}
		})
		return &LoginResult{Outcome: OutcomeBlockedPermanently}
	default:
		return nil
	}
}
