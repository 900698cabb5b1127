package kestrel

import (
	"context"
	"fmt"
	"strings"
)

// VerifyEmail redeems an EMAIL_VERIFICATION code and marks the identity's
// mailbox proven. Redemption is exactly-once: a code that validated here is
// consumed and a replay with the same code fails, whatever its TTL.
func (e *Engine) VerifyEmail(ctx context.Context, email, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || code == "" {
		return fmt.Errorf("%w: email and code required", ErrInvalidRequest)
	}

	ok, err := e.otpStore.Redeem(ctx, email, string(PurposeEmailVerification), code)
	if err != nil {
		return err
	}
	if !ok {
		e.metricInc(MetricOTPRejected)
		e.emitAudit(ctx, auditEventEmailVerification, false, "", email, ErrOTPInvalid, nil)
		return ErrOTPInvalid
	}
	e.metricInc(MetricOTPRedeemed)

	user, err := e.userProvider.GetUserByEmail(ctx, email)
	if err != nil {
		return err
	}

	if err := e.userProvider.MarkEmailVerified(ctx, user.UserID); err != nil {
		return err
	}

	e.metricInc(MetricEmailVerified)
	e.emitAudit(ctx, auditEventEmailVerification, true, user.UserID, email, nil, nil)
	return nil
}

// ResendVerification issues a fresh EMAIL_VERIFICATION code, superseding
// any live one, and hands it to the notifier. An already verified identity
// gets ErrEmailAlreadyVerified instead of a useless code.
func (e *Engine) ResendVerification(ctx context.Context, email string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return fmt.Errorf("%w: email required", ErrInvalidRequest)
	}

	user, err := e.userProvider.GetUserByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user.EmailVerified {
		return ErrEmailAlreadyVerified
	}

	if err := e.issueOTP(ctx, email, PurposeEmailVerification); err != nil {
		return err
	}

	e.emitAudit(ctx, auditEventVerificationSend, true, user.UserID, email, nil, nil)
	return nil
}
