// Package token signs and verifies the compact cookie tokens that carry all
// mutable state between requests. A token is
// base64url(json payload) + "." + base64url(HMAC-SHA256 over the encoded
// payload); the payload is authenticated but not encrypted, so it must never
// hold secrets.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoSecret is returned when a codec is constructed without a signing
// secret. Every dependent operation must fail closed in that case.
var ErrNoSecret = errors.New("token: no signing secret configured")

// ErrInvalidToken covers every verification failure: wrong shape, bad
// signature, or a payload that does not decode. Callers treat it as
// "token absent".
var ErrInvalidToken = errors.New("token: invalid")

// Codec signs opaque JSON payloads with a single HMAC secret.
type Codec struct {
	secret []byte
}

// NewCodec creates a codec for the given secret.
func NewCodec(secret string) (*Codec, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	return &Codec{secret: []byte(secret)}, nil
}

// Sign serializes v to JSON and returns the signed compact token.
func (c *Codec) Sign(v any) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + c.mac(encoded), nil
}

// Verify checks the token signature and decodes the payload into v.
// Any failure returns ErrInvalidToken; v is untouched on error.
func (c *Codec) Verify(tok string, v any) error {
	parts := strings.Split(tok, ".")
	if len(parts) != 2 {
		return ErrInvalidToken
	}
	encoded, sig := parts[0], parts[1]

	expected := c.mac(encoded)
	// Constant-time compare of the encoded MACs; length mismatch is
	// rejected without leaking position information.
	if len(sig) != len(expected) || subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) != 1 {
		return ErrInvalidToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return ErrInvalidToken
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return ErrInvalidToken
	}
	return nil
}

func (c *Codec) mac(encodedPayload string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(encodedPayload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
