package auth

import (
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/pewstudio/accessgate/internal/model"
)

func TestCheckPasswordModes(t *testing.T) {
	bhash, err := bcrypt.GenerateFromPassword([]byte("open sesame"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	tests := []struct {
		name  string
		cfg   PasswordConfig
		input string
		want  bool
	}{
		{"bcrypt ok", PasswordConfig{BcryptHash: string(bhash)}, "open sesame", true},
		{"bcrypt wrong", PasswordConfig{BcryptHash: string(bhash)}, "close sesame", false},
		{"sha256 ok", PasswordConfig{SHA256Hex: sha256Hex("open sesame")}, "open sesame", true},
		{"sha256 trims digest", PasswordConfig{SHA256Hex: "  " + sha256Hex("open sesame") + "\n"}, "open sesame", true},
		{"sha256 wrong", PasswordConfig{SHA256Hex: sha256Hex("open sesame")}, "nope", false},
		{"plain ok", PasswordConfig{Plaintext: "open sesame"}, "open sesame", true},
		{"plain wrong", PasswordConfig{Plaintext: "open sesame"}, "nope", false},
		{"bcrypt shadows plain", PasswordConfig{BcryptHash: string(bhash), Plaintext: "nope"}, "open sesame", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CheckPassword(tt.cfg, tt.input)
			if err != nil {
				t.Fatalf("CheckPassword: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheckPasswordUnconfigured(t *testing.T) {
	ok, err := CheckPassword(PasswordConfig{}, "anything")
	if err != ErrPasswordNotConfigured {
		t.Fatalf("expected ErrPasswordNotConfigured, got %v", err)
	}
	if ok {
		t.Fatal("unconfigured check must not succeed")
	}
}

func TestLimiterLocksAtThreshold(t *testing.T) {
	l := NewLimiter()
	now := time.Unix(1_700_000_000, 0)

	rl := model.LoginRateLimit{}
	for i := 0; i < 4; i++ {
		rl = l.Fail(&rl, now)
		if rl.LockedUntil != 0 {
			t.Fatalf("locked after %d failures", i+1)
		}
	}
	if rl.FailCount != 4 {
		t.Fatalf("expected failCount 4, got %d", rl.FailCount)
	}

	rl = l.Fail(&rl, now)
	if rl.FailCount != 5 {
		t.Fatalf("expected failCount 5, got %d", rl.FailCount)
	}
	wantDeadline := now.Add(15 * time.Minute).UnixMilli()
	if rl.LockedUntil != wantDeadline {
		t.Fatalf("expected lockout until %d, got %d", wantDeadline, rl.LockedUntil)
	}
	if !l.Locked(&rl, now) {
		t.Fatal("record should be locked")
	}
	if l.Locked(&rl, now.Add(15*time.Minute)) {
		t.Fatal("lockout should expire after the configured duration")
	}
}

func TestLimiterResetClearsHistory(t *testing.T) {
	l := NewLimiter()
	now := time.Unix(1_700_000_000, 0)

	rl := model.LoginRateLimit{}
	for i := 0; i < 5; i++ {
		rl = l.Fail(&rl, now)
	}
	rl = l.Reset()
	if rl.FailCount != 0 || rl.LockedUntil != 0 || rl.LastFailAt != 0 {
		t.Fatalf("reset record not zeroed: %+v", rl)
	}
}

func TestRetryAfterSecondsRoundsUp(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name        string
		lockedUntil int64
		want        int
	}{
		{"in the past", now.UnixMilli() - 1000, 0},
		{"exactly now", now.UnixMilli(), 0},
		{"partial second", now.UnixMilli() + 1, 1},
		{"whole seconds", now.UnixMilli() + 5000, 5},
		{"rounds up", now.UnixMilli() + 5001, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RetryAfterSeconds(tt.lockedUntil, now); got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestNewSession(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	s1, err := NewSession(now)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if !s1.Auth {
		t.Error("session must carry the auth flag")
	}
	if s1.IssuedAt != now.UnixMilli() {
		t.Errorf("expected iat %d, got %d", now.UnixMilli(), s1.IssuedAt)
	}
	if len(s1.SID) != 64 {
		t.Errorf("expected 64-char hex sid, got %q", s1.SID)
	}

	s2, err := NewSession(now)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if s1.SID == s2.SID {
		t.Error("two sessions issued at the same instant must not share a sid")
	}
}
