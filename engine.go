package kestrel

import (
	"context"
	"sync"
	"time"

	"github.com/kestrelauth/kestrel/internal/audit"
	"github.com/kestrelauth/kestrel/internal/csrf"
	"github.com/kestrelauth/kestrel/internal/otp"
	"github.com/kestrelauth/kestrel/internal/throttle"
	"github.com/kestrelauth/kestrel/password"
)

const (
	auditEventLogin             = "login"
	auditEventRegister          = "register"
	auditEventEmailVerification = "email_verification"
	auditEventVerificationSend  = "verification_send"
	auditEventPasswordReset     = "password_reset"
	auditEventPasswordChange    = "password_change"
	auditEventCSRF              = "csrf"
	auditEventNotify            = "notify"
)

// Engine is the authentication orchestrator. It composes the login
// throttle, password ledger, OTP ledger and CSRF token store to answer
// "may this attempt proceed, and what is the next state". It is the only
// component the host's HTTP layer calls directly.
//
// Engine instances are configured through [Builder] and treated as
// immutable afterwards; all methods are safe for concurrent use.
type Engine struct {
	config       Config
	throttle     *throttle.Throttle
	otpStore     *otp.Store
	csrfStore    *csrf.Store
	ledger       *password.Ledger
	audit        *audit.Dispatcher
	metrics      *Metrics
	userProvider UserProvider
	notifier     Notifier
	now          func() time.Time

	sweepStop chan struct{}
	sweepWG   sync.WaitGroup
	closeOnce sync.Once
}

// Close stops the background CSRF sweeper and drains the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		if e.sweepStop != nil {
			close(e.sweepStop)
			e.sweepWG.Wait()
		}
		if e.audit != nil {
			e.audit.Close()
		}
	})
}

// AuditDropped returns how many audit events were discarded because the
// dispatch buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of all engine metrics.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// CSRFExemptPaths returns the configured pre-authentication allow-list.
func (e *Engine) CSRFExemptPaths() []string {
	if e == nil {
		return nil
	}
	return append([]string(nil), e.config.CSRF.ExemptPaths...)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID, email string,
	cause error,
	metadata func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	event := audit.Event{
		Timestamp: e.now(),
		EventType: eventType,
		UserID:    userID,
		Email:     email,
		Success:   success,
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	if metadata != nil {
		event.Metadata = metadata()
	}

	e.audit.Emit(ctx, event)
}

// notify hands a plaintext code to the notifier. Best-effort by contract:
// a delivery failure is audited and counted but the issuance stands.
func (e *Engine) notify(ctx context.Context, address string, purpose OTPPurpose, code string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Send(ctx, address, purpose, code); err != nil {
		e.metricInc(MetricNotifyFailure)
		e.emitAudit(ctx, auditEventNotify, false, "", address, err, func() map[string]string {
			return map[string]string{
				"purpose": string(purpose),
			}
		})
	}
}

// issueOTP generates a fresh code for (email, purpose), superseding any
// prior one, and hands it to the notifier. The code is returned only to
// engine-internal callers and never logged or audited.
func (e *Engine) issueOTP(ctx context.Context, email string, purpose OTPPurpose) error {
	code, err := e.newOTPCode()
	if err != nil {
		return err
	}
	if err := e.otpStore.Issue(ctx, email, string(purpose), code, e.config.OTP.TTL); err != nil {
		return err
	}
	e.metricInc(MetricOTPIssued)
	e.notify(ctx, email, purpose, code)
	return nil
}
