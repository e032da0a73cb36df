package gate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pewstudio/accessgate/internal/model"
)

type fakePersister struct {
	err   error
	calls []model.CompletionRecord
}

func (f *fakePersister) PersistCompletion(_ context.Context, rec model.CompletionRecord) error {
	f.calls = append(f.calls, rec)
	return f.err
}

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestEngine(t *testing.T, persist CompletionPersister) (*Engine, *clock) {
	t.Helper()
	d := loadTestData(t, testSchemaJSON, testKeyJSON)
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	return NewEngine(d, persist, c.Now), c
}

func TestAttemptKeysNotReady(t *testing.T) {
	d := loadTestData(t, testSchemaJSON, `{"keys": {
		"e1": {"correct_choice_id": "A", "choices": {"A": "a", "B": "b", "C": "c", "D": "d"}}
	}}`)
	e := NewEngine(d, nil, nil)
	st := model.NewGateState("sid")

	// Even a structurally valid submission is refused while the key set is
	// incomplete.
	res := e.Attempt(context.Background(), st, "e1", "A")
	if res.Verdict != VerdictKeysNotReady {
		t.Fatalf("expected KEYS_NOT_READY, got %s", res.Verdict)
	}
	if res.Mutated {
		t.Error("readiness rejection must not touch state")
	}
}

func TestAttemptValidation(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	st := model.NewGateState("sid")

	if res := e.Attempt(context.Background(), st, "nope", "A"); res.Verdict != VerdictEntryInvalid {
		t.Errorf("unknown entry: got %s", res.Verdict)
	}
	if res := e.Attempt(context.Background(), st, "e1", "E"); res.Verdict != VerdictChoiceInvalid {
		t.Errorf("bad choice: got %s", res.Verdict)
	}
	if len(st.Attempts) != 0 {
		t.Error("validation errors must not create attempt records")
	}
}

func TestAttemptAlreadyComplete(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	st := model.NewGateState("sid")
	st.Status = model.StatusComplete

	if res := e.Attempt(context.Background(), st, "e1", "A"); res.Verdict != VerdictAlreadyComplete {
		t.Fatalf("expected ALREADY_COMPLETE, got %s", res.Verdict)
	}
}

func TestAttemptPartLocked(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	st := model.NewGateState("sid")

	// e3 belongs to P2 while P1 is still open.
	res := e.Attempt(context.Background(), st, "e3", "C")
	if res.Verdict != VerdictPartLocked {
		t.Fatalf("expected PART_LOCKED, got %s", res.Verdict)
	}
	if res.ActivePart != "P1" {
		t.Errorf("expected echo of active part P1, got %q", res.ActivePart)
	}
	if res.Mutated {
		t.Error("part-locked rejection must not touch state")
	}
}

func TestAttemptRejectsPreviousCompletedPart(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	st := model.NewGateState("sid")

	mustAttempt(t, e, st, "e1", "A", VerdictCorrect)
	mustAttempt(t, e, st, "e2", "B", VerdictCorrect)

	// P1 is done, P2 active; an answer targeting P1 is rejected, not
	// processed.
	res := e.Attempt(context.Background(), st, "e1", "A")
	if res.Verdict != VerdictPartLocked {
		t.Fatalf("expected PART_LOCKED, got %s", res.Verdict)
	}
	if res.ActivePart != "P2" {
		t.Errorf("expected active part P2, got %q", res.ActivePart)
	}
	if st.Score != 2 {
		t.Errorf("score changed by a rejected attempt: %d", st.Score)
	}
}

func TestAttemptPartReset(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	st := model.NewGateState("sid")

	mustAttempt(t, e, st, "e1", "A", VerdictCorrect)
	if st.Score != 1 {
		t.Fatalf("expected score 1, got %d", st.Score)
	}

	// Wrong answer to e2 wipes all of P1's progress, not just e2.
	res := e.Attempt(context.Background(), st, "e2", "D")
	if res.Verdict != VerdictIncorrect {
		t.Fatalf("expected INCORRECT, got %s", res.Verdict)
	}
	if !res.PartReset {
		t.Error("expected part reset to be reported")
	}
	if res.ActivePart != "P1" {
		t.Errorf("expected active part P1, got %q", res.ActivePart)
	}
	if res.RetryAfterSeconds != 60 {
		t.Errorf("expected default 60s cooldown, got %d", res.RetryAfterSeconds)
	}
	if got := st.PartProgress["P1"].CorrectEntries; len(got) != 0 {
		t.Errorf("P1 progress not cleared: %v", got)
	}
	if st.Score != 0 {
		t.Errorf("score not recomputed after reset: %d", st.Score)
	}
}

func TestAttemptPartResetLeavesOtherParts(t *testing.T) {
	e, c := newTestEngine(t, nil)
	st := model.NewGateState("sid")

	mustAttempt(t, e, st, "e1", "A", VerdictCorrect)
	mustAttempt(t, e, st, "e2", "B", VerdictCorrect)
	if st.Score != 2 {
		t.Fatalf("expected score 2, got %d", st.Score)
	}

	c.Advance(time.Minute)
	res := e.Attempt(context.Background(), st, "e3", "A")
	if res.Verdict != VerdictIncorrect {
		t.Fatalf("expected INCORRECT, got %s", res.Verdict)
	}
	if got := st.PartProgress["P1"].CorrectEntries; len(got) != 2 {
		t.Errorf("P1 progress must be untouched, got %v", got)
	}
	if st.Score != 2 {
		t.Errorf("expected score 2 after P2 reset, got %d", st.Score)
	}
}

func TestAttemptCooldownAfterWrongAnswer(t *testing.T) {
	e, c := newTestEngine(t, nil)
	st := model.NewGateState("sid")

	// e1 has a 30s schema-driven cooldown.
	res := e.Attempt(context.Background(), st, "e1", "B")
	if res.Verdict != VerdictIncorrect || res.RetryAfterSeconds != 30 {
		t.Fatalf("expected INCORRECT with 30s cooldown, got %s/%d", res.Verdict, res.RetryAfterSeconds)
	}

	c.Advance(10 * time.Second)
	res = e.Attempt(context.Background(), st, "e1", "A")
	if res.Verdict != VerdictCooldown {
		t.Fatalf("expected COOLDOWN, got %s", res.Verdict)
	}
	if res.RetryAfterSeconds != 20 {
		t.Errorf("expected 20s remaining, got %d", res.RetryAfterSeconds)
	}
	if res.Mutated {
		t.Error("cooldown rejection must not mutate state")
	}

	c.Advance(20 * time.Second)
	mustAttempt(t, e, st, "e1", "A", VerdictCorrect)
}

func TestAttemptRateLimitLocksForWindowRemainder(t *testing.T) {
	e, c := newTestEngine(t, nil)
	st := model.NewGateState("sid")
	windowStart := c.now

	// e1 allows 3 attempts per window. Consume them with correct answers:
	// idempotent resubmits still burn attempt slots.
	for i := 0; i < 3; i++ {
		mustAttempt(t, e, st, "e1", "A", VerdictCorrect)
	}
	if st.Score != 1 {
		t.Fatalf("idempotent resubmits changed score: %d", st.Score)
	}

	c.Advance(10 * time.Minute)
	res := e.Attempt(context.Background(), st, "e1", "A")
	if res.Verdict != VerdictRateLimited {
		t.Fatalf("expected RATE_LIMIT, got %s", res.Verdict)
	}
	wantWait := int(windowStart.Add(AttemptWindow).Sub(c.now).Seconds())
	if res.RetryAfterSeconds != wantWait {
		t.Errorf("expected %ds until window end, got %d", wantWait, res.RetryAfterSeconds)
	}

	// A fresh window clears the lock.
	c.Advance(AttemptWindow)
	mustAttempt(t, e, st, "e1", "A", VerdictCorrect)
}

func TestAttemptWindowReset(t *testing.T) {
	e, c := newTestEngine(t, nil)
	st := model.NewGateState("sid")

	res := e.Attempt(context.Background(), st, "e1", "B")
	if res.Verdict != VerdictIncorrect {
		t.Fatalf("expected INCORRECT, got %s", res.Verdict)
	}
	if st.Attempts["e1"].Count != 1 {
		t.Fatalf("expected count 1, got %d", st.Attempts["e1"].Count)
	}

	c.Advance(AttemptWindow)
	mustAttempt(t, e, st, "e1", "A", VerdictCorrect)
	if st.Attempts["e1"].Count != 1 {
		t.Errorf("expected fresh window count 1, got %d", st.Attempts["e1"].Count)
	}
	if st.Attempts["e1"].LastFailAt != 0 {
		t.Errorf("window reset should clear lastFailAt, got %d", st.Attempts["e1"].LastFailAt)
	}
}

func TestAttemptCompletion(t *testing.T) {
	p := &fakePersister{}
	e, _ := newTestEngine(t, p)
	st := model.NewGateState("sid-42")

	mustAttempt(t, e, st, "e1", "A", VerdictCorrect)
	res := e.Attempt(context.Background(), st, "e2", "B")
	if res.Verdict != VerdictCorrect || res.ActivePart != "P2" {
		t.Fatalf("expected CORRECT with P2 active, got %s/%q", res.Verdict, res.ActivePart)
	}

	res = e.Attempt(context.Background(), st, "e3", "C")
	if res.Verdict != VerdictComplete {
		t.Fatalf("expected COMPLETE, got %s", res.Verdict)
	}
	if st.Status != model.StatusComplete {
		t.Errorf("status = %s", st.Status)
	}
	if st.Score != 3 {
		t.Errorf("score = %d, want 3", st.Score)
	}
	if st.CompletedAt == nil {
		t.Fatal("completion timestamp missing")
	}
	if _, err := time.Parse(time.RFC3339, *st.CompletedAt); err != nil {
		t.Errorf("completed_at not RFC3339: %v", err)
	}

	if len(p.calls) != 1 {
		t.Fatalf("expected one persistence call, got %d", len(p.calls))
	}
	rec := p.calls[0]
	if rec.SessionID != "sid-42" || rec.Score != 3 || rec.Status != model.StatusComplete {
		t.Errorf("unexpected completion record: %+v", rec)
	}
}

func TestAttemptCompletionBlockedByPersistFailure(t *testing.T) {
	p := &fakePersister{err: errors.New("endpoint down")}
	e, _ := newTestEngine(t, p)
	st := model.NewGateState("sid")

	mustAttempt(t, e, st, "e1", "A", VerdictCorrect)
	mustAttempt(t, e, st, "e2", "B", VerdictCorrect)

	res := e.Attempt(context.Background(), st, "e3", "C")
	if res.Verdict != VerdictPersistFailed {
		t.Fatalf("expected PERSIST_FAILED, got %s", res.Verdict)
	}
	if st.Status != model.StatusIncomplete {
		t.Error("terminal transition must not commit when the push fails")
	}
	if got := st.PartProgress["P2"].CorrectEntries; len(got) != 0 {
		t.Errorf("final entry must be rolled back, got %v", got)
	}
	if st.Score != 2 {
		t.Errorf("expected last-good score 2, got %d", st.Score)
	}
	if st.Attempts["e3"].Count != 1 {
		t.Errorf("attempt slot must stay consumed, got %d", st.Attempts["e3"].Count)
	}

	// Resubmitting the final correct answer completes once the
	// collaborator recovers.
	p.err = nil
	res = e.Attempt(context.Background(), st, "e3", "C")
	if res.Verdict != VerdictComplete {
		t.Fatalf("expected COMPLETE on resubmit, got %s", res.Verdict)
	}
	if st.Score != 3 {
		t.Errorf("score = %d, want 3", st.Score)
	}
}

func TestProgressSummary(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	st := model.NewGateState("sid")

	mustAttempt(t, e, st, "e1", "A", VerdictCorrect)

	prog := e.Progress(st)
	if got := prog["P1"]; got.Total != 2 || got.Correct != 1 {
		t.Errorf("P1 = %+v", got)
	}
	if got := prog["P2"]; got.Total != 1 || got.Correct != 0 {
		t.Errorf("P2 = %+v", got)
	}
}

func mustAttempt(t *testing.T, e *Engine, st *model.GateState, entryID, choiceID string, want Verdict) {
	t.Helper()
	res := e.Attempt(context.Background(), st, entryID, choiceID)
	if res.Verdict != want {
		t.Fatalf("Attempt(%s, %s) = %s, want %s", entryID, choiceID, res.Verdict, want)
	}
}
