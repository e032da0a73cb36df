package gate

import (
	"context"
	"time"

	"github.com/pewstudio/accessgate/internal/model"
)

// AttemptWindow bounds how many attempts an entry accepts before it locks
// for the remainder of the window.
const AttemptWindow = time.Hour

// Verdict classifies the outcome of an attempt.
type Verdict string

const (
	VerdictKeysNotReady    Verdict = "KEYS_NOT_READY"
	VerdictEntryInvalid    Verdict = "ENTRY_INVALID"
	VerdictChoiceInvalid   Verdict = "CHOICE_INVALID"
	VerdictAlreadyComplete Verdict = "ALREADY_COMPLETE"
	VerdictPartLocked      Verdict = "PART_LOCKED"
	VerdictCooldown        Verdict = "COOLDOWN"
	VerdictRateLimited     Verdict = "RATE_LIMIT"
	VerdictKeyInvalid      Verdict = "KEY_INVALID"
	VerdictIncorrect       Verdict = "INCORRECT"
	VerdictPersistFailed   Verdict = "PERSIST_FAILED"
	VerdictCorrect         Verdict = "CORRECT"
	VerdictComplete        Verdict = "COMPLETE"
)

// Result reports an attempt's outcome. Mutated tells the caller whether the
// state must be re-signed into the response.
type Result struct {
	Verdict           Verdict
	ActivePart        string // current active part label, "" if none
	RetryAfterSeconds int
	PartReset         bool
	Mutated           bool
}

// CompletionPersister pushes a completion record to an external collaborator.
// A failure blocks the COMPLETE transition.
type CompletionPersister interface {
	PersistCompletion(ctx context.Context, rec model.CompletionRecord) error
}

// Engine drives the gate state machine over one request's view of the
// artifacts. It holds no mutable state of its own.
type Engine struct {
	data    *Data
	persist CompletionPersister
	now     func() time.Time
}

// NewEngine creates an engine. persist may be nil when no completion
// collaborator is configured; now may be nil to use wall-clock time.
func NewEngine(data *Data, persist CompletionPersister, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{data: data, persist: persist, now: now}
}

// ActivePart returns the first part in schema order whose correct-entry
// count is below its total. ok is false when every part is satisfied.
func (e *Engine) ActivePart(st *model.GateState) (string, bool) {
	for _, part := range e.data.Parts {
		entries := e.data.EntriesByPart[part.Label]
		correct := 0
		if pp := st.PartProgress[part.Label]; pp != nil {
			correct = len(pp.CorrectEntries)
		}
		if correct < len(entries) {
			return part.Label, true
		}
	}
	return "", false
}

// Score recomputes the total count of correct entries across all parts.
// It is never incremented independently, so it stays consistent with
// part_progress after a part reset.
func (e *Engine) Score(st *model.GateState) int {
	score := 0
	for _, part := range e.data.Parts {
		if pp := st.PartProgress[part.Label]; pp != nil {
			score += len(pp.CorrectEntries)
		}
	}
	return score
}

// PartCounts is the per-part progress summary served by the state endpoint.
type PartCounts struct {
	Total   int `json:"total"`
	Correct int `json:"correct"`
}

// Progress summarizes per-part progress for every part in the schema.
func (e *Engine) Progress(st *model.GateState) map[string]PartCounts {
	out := map[string]PartCounts{}
	for _, part := range e.data.Parts {
		counts := PartCounts{Total: len(e.data.EntriesByPart[part.Label])}
		if pp := st.PartProgress[part.Label]; pp != nil {
			counts.Correct = len(pp.CorrectEntries)
		}
		out[part.Label] = counts
	}
	return out
}

// Attempt applies one answer submission to the state. Rejections before the
// attempt-record step leave the state untouched; later outcomes mutate it
// and set Mutated so the caller persists the new snapshot.
func (e *Engine) Attempt(ctx context.Context, st *model.GateState, entryID, choiceID string) Result {
	st.Normalize()

	if !e.data.KeyStatus.Ready() {
		return Result{Verdict: VerdictKeysNotReady}
	}

	entry, ok := e.data.Entry(entryID)
	if !ok {
		return Result{Verdict: VerdictEntryInvalid}
	}
	if !IsCanonicalChoice(choiceID) {
		return Result{Verdict: VerdictChoiceInvalid}
	}

	if st.Status == model.StatusComplete {
		return Result{Verdict: VerdictAlreadyComplete}
	}

	entryPart := entry.Part.Label
	active, hasActive := e.ActivePart(st)
	if !hasActive || entryPart != active {
		return Result{Verdict: VerdictPartLocked, ActivePart: active}
	}

	now := e.now()
	nowMs := now.UnixMilli()

	rec := st.Attempts[entryID]
	if rec == nil {
		rec = &model.AttemptRecord{WindowStart: nowMs}
	}
	if nowMs-rec.WindowStart >= AttemptWindow.Milliseconds() {
		*rec = model.AttemptRecord{WindowStart: nowMs}
	}

	if rec.LockedUntil > 0 && nowMs < rec.LockedUntil {
		return Result{
			Verdict:           VerdictCooldown,
			RetryAfterSeconds: retryAfter(rec.LockedUntil, nowMs),
		}
	}

	anti := e.data.AntiBruteforce(entryID)

	rec.Count++
	if rec.Count > anti.MaxAttemptsBeforeLock {
		// Lock for the remainder of the rolling window.
		if deadline := rec.WindowStart + AttemptWindow.Milliseconds(); deadline > rec.LockedUntil {
			rec.LockedUntil = deadline
		}
		st.Attempts[entryID] = rec
		return Result{
			Verdict:           VerdictRateLimited,
			RetryAfterSeconds: retryAfter(rec.LockedUntil, nowMs),
			Mutated:           true,
		}
	}

	correctChoice, ok := e.data.Keys.CorrectChoice(entryID)
	if !ok {
		// Overall readiness said yes but this entry has no usable key.
		return Result{Verdict: VerdictKeyInvalid}
	}

	if choiceID != correctChoice {
		if deadline := nowMs + int64(anti.CooldownSeconds)*1000; deadline > rec.LockedUntil {
			rec.LockedUntil = deadline
		}
		rec.LastFailAt = nowMs
		st.Attempts[entryID] = rec
		// One wrong answer forfeits the whole active part.
		st.PartProgress[entryPart] = &model.PartProgress{CorrectEntries: []string{}}
		st.Score = e.Score(st)
		return Result{
			Verdict:           VerdictIncorrect,
			ActivePart:        entryPart,
			RetryAfterSeconds: retryAfter(rec.LockedUntil, nowMs),
			PartReset:         true,
			Mutated:           true,
		}
	}

	st.Attempts[entryID] = rec
	pp := st.PartProgress[entryPart]
	if pp == nil {
		pp = &model.PartProgress{}
		st.PartProgress[entryPart] = pp
	}
	prevCorrect := pp.CorrectEntries
	if !contains(pp.CorrectEntries, entryID) {
		pp.CorrectEntries = append(append([]string(nil), pp.CorrectEntries...), entryID)
	}
	st.Score = e.Score(st)

	nextActive, stillOpen := e.ActivePart(st)
	if stillOpen {
		return Result{Verdict: VerdictCorrect, ActivePart: nextActive, Mutated: true}
	}

	completedAt := now.UTC().Format(time.RFC3339)
	if e.persist != nil {
		err := e.persist.PersistCompletion(ctx, model.CompletionRecord{
			Status:      model.StatusComplete,
			Score:       st.Score,
			CompletedAt: completedAt,
			SessionID:   st.SID,
		})
		if err != nil {
			// The terminal transition is only reached once external
			// durability succeeds. Roll back the final entry so the client
			// can resubmit it; the attempt slot stays consumed.
			pp.CorrectEntries = prevCorrect
			st.Score = e.Score(st)
			return Result{Verdict: VerdictPersistFailed, ActivePart: entryPart, Mutated: true}
		}
	}

	st.Status = model.StatusComplete
	st.CompletedAt = &completedAt
	return Result{Verdict: VerdictComplete, Mutated: true}
}

func retryAfter(lockedUntil, nowMs int64) int {
	ms := lockedUntil - nowMs
	if ms <= 0 {
		return 0
	}
	return int((ms + 999) / 1000)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
