package kestrel

import (
	"context"
	"fmt"
)

// ChangePassword sets a new password for an authenticated identity. The
// current password is re-verified first; the new one goes through the same
// strength and reuse policy as every other mutation of password state.
func (e *Engine) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	if userID == "" || currentPassword == "" || newPassword == "" {
		return fmt.Errorf("%w: user id, current and new password required", ErrInvalidRequest)
	}

	user, err := e.userProvider.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	if !e.ledger.Verify(user.Password, currentPassword) {
		e.metricInc(MetricPasswordChangeInvalidOld)
		e.emitAudit(ctx, auditEventPasswordChange, false, userID, user.Email, ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	rec, err := e.ledger.Set(user.Password, newPassword, e.now())
	if err != nil {
		e.recordPolicyRejection(err)
		e.emitAudit(ctx, auditEventPasswordChange, false, userID, user.Email, err, nil)
		return err
	}

	if err := e.userProvider.UpdatePassword(ctx, userID, rec); err != nil {
		return err
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChange, true, userID, user.Email, nil, nil)
	return nil
}
