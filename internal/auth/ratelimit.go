package auth

import (
	"time"

	"github.com/pewstudio/accessgate/internal/model"
)

// Limiter holds the login lockout policy. Zero values fall back to the
// defaults via New so injected test limiters stay explicit.
type Limiter struct {
	Threshold    int           // consecutive failures before lockout
	LockDuration time.Duration // how long the lockout lasts
}

const (
	defaultThreshold    = 5
	defaultLockDuration = 15 * time.Minute
)

// NewLimiter returns a limiter with the default policy.
func NewLimiter() Limiter {
	return Limiter{Threshold: defaultThreshold, LockDuration: defaultLockDuration}
}

// Locked reports whether the record is inside its lockout window at now.
func (l Limiter) Locked(rl *model.LoginRateLimit, now time.Time) bool {
	return rl.LockedUntil > 0 && now.UnixMilli() < rl.LockedUntil
}

// RetryAfterSeconds returns the caller-usable wait computed from the stored
// deadline, rounded up.
func RetryAfterSeconds(lockedUntil int64, now time.Time) int {
	ms := lockedUntil - now.UnixMilli()
	if ms <= 0 {
		return 0
	}
	return int((ms + 999) / 1000)
}

// Fail records one more wrong password and returns the updated record.
// Crossing the threshold arms the lockout deadline.
func (l Limiter) Fail(rl *model.LoginRateLimit, now time.Time) model.LoginRateLimit {
	next := model.LoginRateLimit{
		FailCount:  rl.FailCount + 1,
		LastFailAt: now.UnixMilli(),
	}
	if next.FailCount >= l.Threshold {
		next.LockedUntil = now.Add(l.LockDuration).UnixMilli()
	}
	return next
}

// Reset returns the zeroed record. A correct login always clears prior
// failure history.
func (l Limiter) Reset() model.LoginRateLimit {
	return model.LoginRateLimit{}
}
