package kestrel

import (
	"context"
	"fmt"
	"strings"
)

// RequestPasswordReset issues a PASSWORD_RESET code for the identity and
// hands it to the notifier. An unknown email returns [ErrUserNotFound];
// the distinction from a delivered code is deliberate and documented, not
// an enumeration accident.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
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

	if err := e.issueOTP(ctx, email, PurposePasswordReset); err != nil {
		return err
	}

	e.emitAudit(ctx, auditEventPasswordReset, true, user.UserID, email, nil, func() map[string]string {
		return map[string]string{"phase": "requested"}
	})
	return nil
}

// ResetPassword sets a new password authorized by a PASSWORD_RESET code.
// The strength and reuse policy runs before the code is consumed: a policy
// rejection must leave the single-use code live so the user can retry with
// a better password.
func (e *Engine) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || code == "" || newPassword == "" {
		return fmt.Errorf("%w: email, code and new password required", ErrInvalidRequest)
	}

	user, err := e.userProvider.GetUserByEmail(ctx, email)
	if err != nil {
		return err
	}

	rec, err := e.ledger.Set(user.Password, newPassword, e.now())
	if err != nil {
		e.recordPolicyRejection(err)
		return err
	}

	ok, err := e.otpStore.Redeem(ctx, email, string(PurposePasswordReset), code)
	if err != nil {
		return err
	}
	if !ok {
		e.metricInc(MetricOTPRejected)
		e.emitAudit(ctx, auditEventPasswordReset, false, user.UserID, email, ErrOTPInvalid, nil)
		return ErrOTPInvalid
	}
	e.metricInc(MetricOTPRedeemed)

	if err := e.userProvider.UpdatePassword(ctx, user.UserID, rec); err != nil {
		return err
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordReset, true, user.UserID, email, nil, func() map[string]string {
		return map[string]string{"phase": "completed"}
	})
	return nil
}
