package password

import (
	"strings"
	"unicode"

	zxcvbn "github.com/nbutton23/zxcvbn-go"
)

// Symbols is the fixed punctuation set a password must draw at least one
// character from.
const Symbols = `!@#$%^&*(),.?":{}|<>`

// ErrTooWeak reports a plaintext that fails the strength policy. Callers
// surface it separately from [ErrReused] so the user gets the right message.
var ErrTooWeak = &PolicyError{reason: "password does not meet strength requirements"}

// ErrReused reports a plaintext matching the current password or one of the
// retained history entries.
var ErrReused = &PolicyError{reason: "password was used recently"}

// PolicyError is a user-correctable password policy violation.
type PolicyError struct {
	reason string
}

func (e *PolicyError) Error() string {
	return e.reason
}

// Policy holds the strength rules applied before any hashing happens.
// MinScore is the zxcvbn estimator floor on its 0-4 scale; the character
// class checks apply independently of the estimator.
type Policy struct {
	MinLength int
	MinScore  int
}

// DefaultPolicy returns the production strength rules.
func DefaultPolicy() Policy {
	return Policy{
		MinLength: 8,
		MinScore:  3,
	}
}

// Validate checks the plaintext against every strength rule. It returns
// ErrTooWeak on the first violation; which rule failed is deliberately not
// exposed beyond the error identity.
func (p Policy) Validate(plaintext string) error {
	if len(plaintext) < p.MinLength {
		return ErrTooWeak
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range plaintext {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case strings.ContainsRune(Symbols, r):
			hasSymbol = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit || !hasSymbol {
		return ErrTooWeak
	}

	if zxcvbn.PasswordStrength(plaintext, nil).Score < p.MinScore {
		return ErrTooWeak
	}

	return nil
}
