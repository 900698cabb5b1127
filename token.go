package kestrel

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kestrelauth/kestrel/internal"
)

// ErrTokenInvalid reports a session token that failed signature or claim
// verification.
var ErrTokenInvalid = errors.New("invalid session token")

type sessionClaims struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func (e *Engine) newOTPCode() (string, error) {
	return internal.NewOTP(e.config.OTP.Digits)
}

// issueSessionToken signs the session credential handed out on a
// successful, fully verified login.
func (e *Engine) issueSessionToken(user UserRecord) (string, error) {
	now := e.now()

	claims := sessionClaims{
		Email:    user.Email,
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.UserID,
			Issuer:    e.config.Session.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(e.config.Session.TTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(e.config.Session.Secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// ValidateSessionToken verifies a session token and returns its claims.
func (e *Engine) ValidateSessionToken(token string) (SessionClaims, error) {
	if e == nil {
		return SessionClaims{}, ErrEngineNotReady
	}

	var claims sessionClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return e.config.Session.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(e.config.Session.Issuer),
		jwt.WithTimeFunc(func() time.Time { return e.now() }),
	)
	if err != nil || !parsed.Valid {
		return SessionClaims{}, ErrTokenInvalid
	}

	return SessionClaims{
		UserID:   claims.Subject,
		Email:    claims.Email,
		Username: claims.Username,
	}, nil
}
