package password

import (
	"errors"
	"testing"
)

func TestPolicyAcceptsStrongPassword(t *testing.T) {
	policy := DefaultPolicy()

	for _, plaintext := range []string{
		"Vermilion$Quartz82-lake",
		"Juniper!Marble-Crate44",
		"Tundra@Mosaic-Harbor57",
	} {
		if err := policy.Validate(plaintext); err != nil {
			t.Fatalf("expected %q to pass, got %v", plaintext, err)
		}
	}
}

func TestPolicyCharacterClasses(t *testing.T) {
	policy := DefaultPolicy()

	cases := []struct {
		name      string
		plaintext string
	}{
		{"too short", "Ab1!xyz"},
		{"no uppercase", "vermilion$quartz82-lake"},
		{"no lowercase", "VERMILION$QUARTZ82-LAKE"},
		{"no digit", "Vermilion$Quartz-lake"},
		{"no symbol", "Vermilion9Quartz82lake"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := policy.Validate(tc.plaintext); !errors.Is(err, ErrTooWeak) {
				t.Fatalf("expected ErrTooWeak, got %v", err)
			}
		})
	}
}

func TestPolicyEstimatorRejectsGuessable(t *testing.T) {
	policy := DefaultPolicy()

	// Every character class is present, but the estimator sees through it.
	for _, plaintext := range []string{
		"Password1!",
		"Qwerty123!",
	} {
		if err := policy.Validate(plaintext); !errors.Is(err, ErrTooWeak) {
			t.Fatalf("expected %q to be rejected, got %v", plaintext, err)
		}
	}
}

func TestHasherRoundTrip(t *testing.T) {
	hasher, err := NewHasher(4)
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}

	hash, err := hasher.Hash("Vermilion$Quartz82-lake")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if hash == "Vermilion$Quartz82-lake" {
		t.Fatal("hash must not equal plaintext")
	}

	if !hasher.Compare(hash, "Vermilion$Quartz82-lake") {
		t.Fatal("expected matching plaintext to verify")
	}
	if hasher.Compare(hash, "Vermilion$Quartz82-lakX") {
		t.Fatal("expected mismatched plaintext to fail")
	}
}

func TestHasherCostBounds(t *testing.T) {
	if _, err := NewHasher(32); err == nil {
		t.Fatal("expected out-of-range cost to be rejected")
	}

	hasher, err := NewHasher(0)
	if err != nil {
		t.Fatalf("NewHasher(0) failed: %v", err)
	}
	if hasher.cost != DefaultCost {
		t.Fatalf("expected zero cost to fall back to %d, got %d", DefaultCost, hasher.cost)
	}
}
