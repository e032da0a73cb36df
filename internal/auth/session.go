package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/pewstudio/accessgate/internal/model"
)

// NewSession issues a fresh authenticated session. The sid is an unguessable
// value derived from the current time and random bytes; it scopes all gate
// state presented by this caller.
func NewSession(now time.Time) (*model.Session, error) {
	sid, err := newSessionID(now)
	if err != nil {
		return nil, err
	}
	return &model.Session{
		Auth:     true,
		IssuedAt: now.UnixMilli(),
		SID:      sid,
	}, nil
}

func newSessionID(now time.Time) (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	h := sha256.Sum256([]byte(fmt.Sprintf("%d:%s", now.UnixMilli(), hex.EncodeToString(buf[:]))))
	return hex.EncodeToString(h[:]), nil
}
