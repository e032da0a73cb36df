// Package auth implements the shared-password check, the login rate limiter,
// and session issuance. All limiter state is carried in a signed cookie, so
// nothing here holds cross-request memory.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrPasswordNotConfigured signals that no password mode is configured at
// all. It is distinct from a wrong password and must fail closed.
var ErrPasswordNotConfigured = errors.New("auth: no password configured")

// PasswordConfig selects one of three verification modes by presence,
// checked in order: bcrypt hash, SHA-256 hex digest, plaintext.
type PasswordConfig struct {
	BcryptHash string
	SHA256Hex  string
	Plaintext  string
}

// CheckPassword verifies input against the configured mode using
// constant-time comparison. The returned error is non-nil only for
// misconfiguration, never for a merely wrong password.
func CheckPassword(cfg PasswordConfig, input string) (bool, error) {
	switch {
	case cfg.BcryptHash != "":
		err := bcrypt.CompareHashAndPassword([]byte(cfg.BcryptHash), []byte(input))
		return err == nil, nil
	case cfg.SHA256Hex != "":
		inHash := sha256Hex(input)
		want := strings.TrimSpace(cfg.SHA256Hex)
		return constantTimeEqual(inHash, want), nil
	case cfg.Plaintext != "":
		return constantTimeEqual(input, cfg.Plaintext), nil
	default:
		return false, ErrPasswordNotConfigured
	}
}

func sha256Hex(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
