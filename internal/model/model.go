package model

import (
	"context"
)

// GateStatus represents the overall state of a gate session.
type GateStatus string

const (
	// StatusIncomplete means the caller has not yet cleared every part.
	StatusIncomplete GateStatus = "INCOMPLETE"
	// StatusComplete is terminal; the gate never re-opens.
	StatusComplete GateStatus = "COMPLETE"
)

// Session is the payload of the signed auth cookie. It is issued once on a
// successful password check and never mutated afterwards.
type Session struct {
	Auth     bool   `json:"auth"`
	IssuedAt int64  `json:"iat"`
	SID      string `json:"sid"`
}

// LoginRateLimit is the payload of the signed rate-limit cookie. It exists
// independently of the session so failures can accumulate before any login
// succeeds. Timestamps are epoch milliseconds.
type LoginRateLimit struct {
	FailCount   int   `json:"failCount"`
	LockedUntil int64 `json:"lockedUntil"`
	LastFailAt  int64 `json:"lastFailAt"`
}

// AttemptRecord tracks attempts against a single entry inside a sliding
// fixed window. Timestamps are epoch milliseconds.
type AttemptRecord struct {
	Count       int   `json:"count"`
	WindowStart int64 `json:"windowStart"`
	LockedUntil int64 `json:"lockedUntil"`
	LastFailAt  int64 `json:"lastFailAt"`
}

// PartProgress holds the entry ids answered correctly within one part.
// The list only grows, except on a part reset which empties it entirely.
type PartProgress struct {
	CorrectEntries []string `json:"correct_entries"`
}

// GateState is the payload of the signed gate-progress cookie, bound to a
// session id. A state presented with a different sid is discarded.
type GateState struct {
	SID          string                    `json:"sid"`
	Status       GateStatus                `json:"access_gate_status"`
	Score        int                       `json:"access_gate_score"`
	CompletedAt  *string                   `json:"access_gate_completed_at"`
	PartProgress map[string]*PartProgress  `json:"part_progress"`
	Attempts     map[string]*AttemptRecord `json:"attempts"`
}

// NewGateState returns the zero state for a session.
func NewGateState(sid string) *GateState {
	return &GateState{
		SID:          sid,
		Status:       StatusIncomplete,
		PartProgress: map[string]*PartProgress{},
		Attempts:     map[string]*AttemptRecord{},
	}
}

// Normalize repairs nil maps after a token round-trip so callers can index
// freely.
func (s *GateState) Normalize() {
	if s.PartProgress == nil {
		s.PartProgress = map[string]*PartProgress{}
	}
	if s.Attempts == nil {
		s.Attempts = map[string]*AttemptRecord{}
	}
}

// CompletionRecord is the body pushed to the external persistence endpoint
// when a session completes the gate.
type CompletionRecord struct {
	Status      GateStatus `json:"access_gate_status"`
	Score       int        `json:"access_gate_score"`
	CompletedAt string     `json:"access_gate_completed_at"`
	SessionID   string     `json:"session_id"`
}

// GateConfig holds runtime parameters set via CLI flags and environment.
type GateConfig struct {
	Secret         string // HMAC signing secret; empty means total lockout
	PasswordBcrypt string // bcrypt hash of the shared password
	PasswordHash   string // SHA-256 hex digest of the shared password
	Password       string // plaintext shared password (last resort)

	SchemaPath string
	KeyPath    string // separate answer-key artifact ("file" key mode)
	KeyMode    string // "file" or "embedded"

	PersistEndpoint string
	PersistUser     string
	PersistPass     string
	PersistRequired bool // failed push blocks the COMPLETE transition

	BasePath      string // URL prefix for sub-path deployments
	SecureCookies bool   // Set Secure flag on cookies (disable for local dev)
}

type sessionCtxKey struct{}

// ContextWithSession stores the verified session in the request context.
func ContextWithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, s)
}

// SessionFromContext retrieves the verified session from context, or nil.
func SessionFromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionCtxKey{}).(*Session)
	return s
}
