// password_test.go

// unit tests for HashPassword, VerifyPassword, and ValidatePassword.
package user

import (
	"errors"
	"strings"
	"testing"
)

// --- HashPassword ---

func TestHashPassword(t *testing.T) {
	t.Run("output matches PHC format", func(t *testing.T) {
		hash, err := HashPassword("secret1")
		if err != nil {
			t.Fatalf("HashPassword returned error: %v", err)
		}

		parts := strings.Split(hash, "$")
		if len(parts) != 6 {
			t.Fatalf("expected 6 parts, got %d: %q", len(parts), hash)
		}
		if parts[1] != "argon2id" {
			t.Errorf("algorithm: expected argon2id, got %q", parts[1])
		}
		if parts[2] != "v=19" {
			t.Errorf("version: expected v=19, got %q", parts[2])
		}
		if parts[3] != "m=65536,t=3,p=2" {
			t.Errorf("params: expected m=65536,t=3,p=2, got %q", parts[3])
		}
	})

	t.Run("unique salts per call", func(t *testing.T) {
		h1, err := HashPassword("same-password")
		if err != nil {
			t.Fatalf("first hash: %v", err)
		}
		h2, err := HashPassword("same-password")
		if err != nil {
			t.Fatalf("second hash: %v", err)
		}
		if h1 == h2 {
			t.Error("two hashes of the same password should differ")
		}
	})
}

// --- VerifyPassword ---

func TestVerifyPassword(t *testing.T) {
	hash, err := HashPassword("secret1")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}

	t.Run("correct password verifies", func(t *testing.T) {
		match, err := VerifyPassword("secret1", hash)
		if err != nil {
			t.Fatalf("VerifyPassword: %v", err)
		}
		if !match {
			t.Error("correct password should verify")
		}
	})

	t.Run("wrong password rejected", func(t *testing.T) {
		match, err := VerifyPassword("secret2", hash)
		if err != nil {
			t.Fatalf("VerifyPassword: %v", err)
		}
		if match {
			t.Error("wrong password should not verify")
		}
	})

	malformed := []struct {
		name string
		hash string
	}{
		{"not a hash", "not-a-valid-hash"},
		{"other algorithm", "$bcrypt$v=19$m=65536,t=3,p=2$c29tZXNhbHQ$c29tZWhhc2g"},
		{"bad version", "$argon2id$v=18$m=65536,t=3,p=2$c29tZXNhbHQ$c29tZWhhc2g"},
		{"bad params", "$argon2id$v=19$garbage$c29tZXNhbHQ$c29tZWhhc2g"},
		{"invalid base64 salt", "$argon2id$v=19$m=65536,t=3,p=2$!!!invalid!!!$c29tZWhhc2g"},
		{"invalid base64 hash", "$argon2id$v=19$m=65536,t=3,p=2$c29tZXNhbHQ$!!!invalid!!!"},
	}
	for _, tc := range malformed {
		t.Run(tc.name, func(t *testing.T) {
			_, err := VerifyPassword("password", tc.hash)
			if !errors.Is(err, ErrMalformedHash) {
				t.Errorf("expected ErrMalformedHash, got %v", err)
			}
		})
	}
}

// --- ValidatePassword ---

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantMsg string
	}{
		{"empty string", "", "Password is required"},
		{"one under minimum", "five5", "Password must be at least 6 characters"},
		{"exactly minimum", "sixsix", ""},
		{"multibyte counts runes", "ééééé", "Password must be at least 6 characters"},
		{"exactly maximum", strings.Repeat("a", 128), ""},
		{"one over maximum", strings.Repeat("a", 129), "Password is too long"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ValidatePassword(tc.input)
			if got != tc.wantMsg {
				t.Errorf("ValidatePassword(%q): expected %q, got %q", tc.input, tc.wantMsg, got)
			}
		})
	}
}
