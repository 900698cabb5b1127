package kestrel

import (
	"context"
)

// IssueCSRFToken mints a fresh anti-forgery token with the configured TTL.
func (e *Engine) IssueCSRFToken(ctx context.Context) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}

	token, err := e.csrfStore.Issue(ctx, e.config.CSRF.TTL)
	if err != nil {
		return "", err
	}

	e.metricInc(MetricCSRFIssued)
	return token, nil
}

// ValidateCSRFToken reports whether a token is live. Absent, expired and
// unknown tokens all report false with a nil error; a non-nil error means
// the backend could not answer and the caller must deny the request.
func (e *Engine) ValidateCSRFToken(ctx context.Context, token string) (bool, error) {
	if e == nil {
		return false, ErrEngineNotReady
	}

	ok, err := e.csrfStore.Validate(ctx, token)
	if err != nil {
		return false, err
	}
	if !ok {
		e.metricInc(MetricCSRFRejected)
	}
	return ok, nil
}
