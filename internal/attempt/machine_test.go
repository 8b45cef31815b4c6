package attempt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lms-attempt-service/internal/domain"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type countingSubmitter struct {
	mu       sync.Mutex
	calls    int
	failures int
	last     domain.SubmissionPayload
}

func (s *countingSubmitter) SubmitAttempt(_ context.Context, _ string, payload domain.SubmissionPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.last = payload
	if s.failures > 0 {
		s.failures--
		return errors.New("upstream unavailable")
	}
	return nil
}

func testQuiz() domain.Quiz {
	return domain.Quiz{
		ID:              "quiz-1",
		DurationMinutes: 30,
		Questions: []domain.Question{
			{ID: "q1", Options: []domain.Option{{ID: "o1"}, {ID: "o2", Correct: true}}},
			{ID: "q2", Options: []domain.Option{{ID: "o1", Correct: true}, {ID: "o2"}}},
			{ID: "q3", Multi: true, Options: []domain.Option{{ID: "o1", Correct: true}, {ID: "o2", Correct: true}, {ID: "o3"}}},
		},
	}
}

func newTestMachine(clock *fakeClock, submitter Submitter) *Machine {
	return New(Config{
		Quiz:      testQuiz(),
		State:     domain.AttemptState{AttemptID: "a1", StartTime: clock.Now()},
		Submitter: submitter,
		Now:       clock.Now,
	})
}

func TestTickCountdown(t *testing.T) {
	clock := newFakeClock()
	m := newTestMachine(clock, &countingSubmitter{})

	if got := m.Remaining(); got != 1800 {
		t.Fatalf("expected 1800s initially, got %d", got)
	}
	for i := 1; i <= 5; i++ {
		clock.Advance(time.Second)
		res := m.Tick(context.Background())
		if res.Remaining != 1800-i {
			t.Fatalf("tick %d: expected %d remaining, got %d", i, 1800-i, res.Remaining)
		}
	}
}

func TestRemainingRecomputedAfterGap(t *testing.T) {
	clock := newFakeClock()
	m := newTestMachine(clock, &countingSubmitter{})

	// A suspended ticker misses 120 ticks; one tick after the gap must
	// land on the same value 120 sequential ticks would have produced.
	clock.Advance(120 * time.Second)
	res := m.Tick(context.Background())
	if res.Remaining != 1800-120 {
		t.Fatalf("expected %d remaining after gap, got %d", 1800-120, res.Remaining)
	}
}

func TestAutoSubmitAtDeadline(t *testing.T) {
	clock := newFakeClock()
	submitter := &countingSubmitter{}
	m := newTestMachine(clock, submitter)

	if err := m.SelectAnswer("q1", "o2"); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := m.SelectAnswer("q2", "o1"); err != nil {
		t.Fatalf("select: %v", err)
	}

	clock.Advance(31 * time.Minute)
	res := m.Tick(context.Background())
	if !res.AutoSubmitted || res.Err != nil {
		t.Fatalf("expected auto submit, got %+v", res)
	}
	if submitter.calls != 1 {
		t.Fatalf("expected 1 upstream call, got %d", submitter.calls)
	}
	if !submitter.last.IsAutoSubmit {
		t.Fatalf("expected isAutoSubmit true")
	}
	if len(submitter.last.Answers) != 2 {
		t.Fatalf("expected 2 answered questions, got %d", len(submitter.last.Answers))
	}
	if submitter.last.TimeSpentSeconds != 1800 {
		t.Fatalf("expected timeSpent capped at 1800, got %d", submitter.last.TimeSpentSeconds)
	}

	// The unanswered question scores zero under exact-set grading.
	score := m.Score()
	if score.Total != 2 || score.Max != 3 {
		t.Fatalf("expected 2/3, got %d/%d", score.Total, score.Max)
	}

	// Countdown is frozen at zero; further ticks are no-ops.
	res = m.Tick(context.Background())
	if res.Remaining != 0 || res.AutoSubmitted {
		t.Fatalf("expected frozen zero remaining, got %+v", res)
	}
	if submitter.calls != 1 {
		t.Fatalf("expected no further upstream calls, got %d", submitter.calls)
	}
}

func TestDoubleSubmitSingleUpstreamCall(t *testing.T) {
	clock := newFakeClock()
	submitter := &countingSubmitter{}
	m := newTestMachine(clock, submitter)

	did, err := m.Submit(context.Background(), true)
	if err != nil || !did {
		t.Fatalf("first submit: did=%v err=%v", did, err)
	}
	did, err = m.Submit(context.Background(), true)
	if err != nil || did {
		t.Fatalf("second submit should be a silent no-op, got did=%v err=%v", did, err)
	}
	if submitter.calls != 1 {
		t.Fatalf("expected exactly 1 upstream call, got %d", submitter.calls)
	}
	if submitter.last.IsAutoSubmit {
		t.Fatalf("manual submit must not be flagged auto")
	}
}

func TestSubmitFailureRevertsToInProgress(t *testing.T) {
	clock := newFakeClock()
	submitter := &countingSubmitter{failures: 1}
	m := newTestMachine(clock, submitter)

	if did, err := m.Submit(context.Background(), true); err == nil || did {
		t.Fatalf("expected failed submit, got did=%v err=%v", did, err)
	}
	if m.State().Status != domain.AttemptInProgress {
		t.Fatalf("expected revert to in_progress, got %s", m.State().Status)
	}
	if did, err := m.Submit(context.Background(), true); err != nil || !did {
		t.Fatalf("retry should succeed, got did=%v err=%v", did, err)
	}
	if submitter.calls != 2 {
		t.Fatalf("expected 2 upstream calls, got %d", submitter.calls)
	}
}

func TestWarningFiresOnce(t *testing.T) {
	clock := newFakeClock()
	m := newTestMachine(clock, &countingSubmitter{})

	clock.Advance(24 * time.Minute)
	if res := m.Tick(context.Background()); res.Warning {
		t.Fatalf("warning fired above threshold at %ds", res.Remaining)
	}

	clock.Advance(90 * time.Second) // 4m30s remaining
	res := m.Tick(context.Background())
	if !res.Warning {
		t.Fatalf("expected warning at %ds remaining", res.Remaining)
	}

	clock.Advance(time.Second)
	if res := m.Tick(context.Background()); res.Warning {
		t.Fatalf("warning must be edge-triggered, re-fired at %ds", res.Remaining)
	}
}

func TestSelectAnswerSemantics(t *testing.T) {
	clock := newFakeClock()
	m := newTestMachine(clock, &countingSubmitter{})

	// Single-answer: replacement.
	_ = m.SelectAnswer("q1", "o1")
	_ = m.SelectAnswer("q1", "o2")
	if got := m.State().Answers["q1"]; len(got) != 1 || got[0] != "o2" {
		t.Fatalf("expected single answer replaced, got %v", got)
	}

	// Multi-answer: toggle membership.
	_ = m.SelectAnswer("q3", "o1")
	_ = m.SelectAnswer("q3", "o2")
	_ = m.SelectAnswer("q3", "o1")
	if got := m.State().Answers["q3"]; len(got) != 1 || got[0] != "o2" {
		t.Fatalf("expected toggled set {o2}, got %v", got)
	}

	if err := m.SelectAnswer("q9", "o1"); err != domain.ErrQuestionNotFound {
		t.Fatalf("expected question-not-found, got %v", err)
	}
}

func TestAnswersFrozenAfterSubmit(t *testing.T) {
	clock := newFakeClock()
	m := newTestMachine(clock, &countingSubmitter{})

	_ = m.SelectAnswer("q1", "o2")
	if _, err := m.Submit(context.Background(), true); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := m.SelectAnswer("q1", "o1"); err != nil {
		t.Fatalf("post-submit select must be a silent no-op, got %v", err)
	}
	if got := m.State().Answers["q1"]; len(got) != 1 || got[0] != "o2" {
		t.Fatalf("answers mutated after submit: %v", got)
	}
	if err := m.ToggleFlag("q1"); err != nil {
		t.Fatalf("post-submit flag must be a silent no-op, got %v", err)
	}
	if len(m.State().Flagged) != 0 {
		t.Fatalf("flags mutated after submit: %v", m.State().Flagged)
	}
}

func TestToggleFlag(t *testing.T) {
	clock := newFakeClock()
	m := newTestMachine(clock, &countingSubmitter{})

	_ = m.ToggleFlag("q2")
	if got := m.State().Flagged; len(got) != 1 || got[0] != "q2" {
		t.Fatalf("expected q2 flagged, got %v", got)
	}
	_ = m.ToggleFlag("q2")
	if got := m.State().Flagged; len(got) != 0 {
		t.Fatalf("expected flag cleared, got %v", got)
	}
}

func TestOnChangeReceivesSnapshots(t *testing.T) {
	clock := newFakeClock()
	var snaps []domain.AttemptState
	m := New(Config{
		Quiz:      testQuiz(),
		State:     domain.AttemptState{AttemptID: "a1", StartTime: clock.Now()},
		Submitter: &countingSubmitter{},
		Now:       clock.Now,
		OnChange:  func(s domain.AttemptState) { snaps = append(snaps, s) },
	})

	_ = m.SelectAnswer("q1", "o2")
	_ = m.ToggleFlag("q1")
	if _, err := m.Submit(context.Background(), true); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if len(snaps) != 3 {
		t.Fatalf("expected 3 change notifications, got %d", len(snaps))
	}
	if snaps[len(snaps)-1].Status != domain.AttemptSubmitted {
		t.Fatalf("expected final snapshot submitted, got %s", snaps[len(snaps)-1].Status)
	}
}
