// Package attempt implements the timed quiz-attempt state machine:
// not_started -> in_progress -> submitted, with a drift-free countdown
// and a single-submission guarantee.
package attempt

import (
	"context"
	"sort"
	"sync"
	"time"

	"lms-attempt-service/internal/domain"
)

// DefaultWarnThreshold is the remaining time at which the one-time
// low-time advisory fires.
const DefaultWarnThreshold = 5 * time.Minute

// Submitter finalizes an attempt upstream.
type Submitter interface {
	SubmitAttempt(ctx context.Context, quizID string, payload domain.SubmissionPayload) error
}

// Config wires a Machine. Quiz and Submitter are required; State may
// carry a resumed attempt. Now defaults to time.Now.
type Config struct {
	Quiz          domain.Quiz
	State         domain.AttemptState
	Submitter     Submitter
	WarnThreshold time.Duration
	Now           func() time.Time
	// OnChange receives a state snapshot after every mutation; the
	// autosave layer hangs off this hook. Called without locks held.
	OnChange func(domain.AttemptState)
}

// Machine governs one attempt. All mutation goes through the mutex;
// ticks, answer events, and submit calls may interleave freely.
type Machine struct {
	quiz          domain.Quiz
	attemptID     string
	startTime     time.Time
	duration      time.Duration
	warnThreshold time.Duration
	now           func() time.Time
	submitter     Submitter
	onChange      func(domain.AttemptState)

	mu        sync.Mutex
	answers   map[string][]string
	flagged   map[string]struct{}
	status    domain.AttemptStatus
	warned    bool
	frozenRem int // remaining seconds captured at submit time
}

// TickResult reports what a single tick observed and triggered.
type TickResult struct {
	Remaining     int
	Warning       bool
	AutoSubmitted bool
	Err           error
}

func New(cfg Config) *Machine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.WarnThreshold == 0 {
		cfg.WarnThreshold = DefaultWarnThreshold
	}
	m := &Machine{
		quiz:          cfg.Quiz,
		attemptID:     cfg.State.AttemptID,
		startTime:     cfg.State.StartTime,
		duration:      cfg.Quiz.Duration(),
		warnThreshold: cfg.WarnThreshold,
		now:           cfg.Now,
		submitter:     cfg.Submitter,
		onChange:      cfg.OnChange,
		answers:       make(map[string][]string),
		flagged:       make(map[string]struct{}),
		status:        domain.AttemptInProgress,
	}
	for id, opts := range cfg.State.Answers {
		m.answers[id] = append([]string(nil), opts...)
	}
	for _, id := range cfg.State.Flagged {
		m.flagged[id] = struct{}{}
	}
	if cfg.State.Status == domain.AttemptSubmitted {
		m.status = domain.AttemptSubmitted
	}
	return m
}

// Quiz returns the quiz content this attempt runs against.
func (m *Machine) Quiz() domain.Quiz { return m.quiz }

// Remaining reports the current countdown value in seconds. It is
// always derived from startTime + duration against the clock, never
// from accumulated tick counts, so a stalled ticker cannot cause drift.
func (m *Machine) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remainingLocked()
}

func (m *Machine) remainingLocked() int {
	if m.status == domain.AttemptSubmitted {
		return m.frozenRem
	}
	rem := m.duration - m.now().Sub(m.startTime)
	if rem < 0 {
		rem = 0
	}
	return int(rem / time.Second)
}

// Tick advances the countdown once. Crossing the warning threshold
// fires the advisory exactly once; reaching zero auto-submits. The
// decrement-and-check is atomic: a manual submit racing a deadline tick
// still produces exactly one upstream submission.
func (m *Machine) Tick(ctx context.Context) TickResult {
	m.mu.Lock()
	if m.status != domain.AttemptInProgress {
		res := TickResult{Remaining: m.frozenRem}
		m.mu.Unlock()
		return res
	}
	res := TickResult{Remaining: m.remainingLocked()}
	if !m.warned && res.Remaining > 0 && time.Duration(res.Remaining)*time.Second <= m.warnThreshold {
		m.warned = true
		res.Warning = true
	}
	m.mu.Unlock()

	if res.Remaining == 0 {
		submitted, err := m.Submit(ctx, false)
		res.AutoSubmitted = submitted
		res.Err = err
	}
	return res
}

// SelectAnswer records an option choice. Single-answer questions
// replace the whole set; multi-answer questions toggle membership.
// Outside in_progress the call is a silent no-op.
func (m *Machine) SelectAnswer(questionID, optionID string) error {
	question, err := m.findQuestion(questionID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.status != domain.AttemptInProgress {
		m.mu.Unlock()
		return nil
	}
	if question.Multi {
		m.answers[questionID] = toggle(m.answers[questionID], optionID)
		if len(m.answers[questionID]) == 0 {
			delete(m.answers, questionID)
		}
	} else {
		m.answers[questionID] = []string{optionID}
	}
	snap := m.stateLocked()
	m.mu.Unlock()

	m.notify(snap)
	return nil
}

// ToggleFlag toggles the advisory review marker on a question. Flags
// never affect scoring.
func (m *Machine) ToggleFlag(questionID string) error {
	if _, err := m.findQuestion(questionID); err != nil {
		return err
	}

	m.mu.Lock()
	if m.status != domain.AttemptInProgress {
		m.mu.Unlock()
		return nil
	}
	if _, ok := m.flagged[questionID]; ok {
		delete(m.flagged, questionID)
	} else {
		m.flagged[questionID] = struct{}{}
	}
	snap := m.stateLocked()
	m.mu.Unlock()

	m.notify(snap)
	return nil
}

// Submit finalizes the attempt. The status flip happens under the lock
// before the network call, so re-entrant calls (double-clicked button,
// auto-submit racing a manual one) see submitted and return without a
// second POST. On upstream failure the machine reverts to in_progress
// so the next tick or manual call retries. Returns whether this call
// performed the submission.
func (m *Machine) Submit(ctx context.Context, manual bool) (bool, error) {
	m.mu.Lock()
	if m.status != domain.AttemptInProgress {
		m.mu.Unlock()
		return false, nil
	}
	m.frozenRem = m.remainingLocked()
	m.status = domain.AttemptSubmitted
	payload := domain.SubmissionPayload{
		Answers:          copyAnswers(m.answers),
		TimeSpentSeconds: m.timeSpentLocked(),
		IsAutoSubmit:     !manual,
	}
	m.mu.Unlock()

	if err := m.submitter.SubmitAttempt(ctx, m.quiz.ID, payload); err != nil {
		m.mu.Lock()
		m.status = domain.AttemptInProgress
		m.frozenRem = 0
		m.mu.Unlock()
		return false, err
	}

	m.mu.Lock()
	snap := m.stateLocked()
	m.mu.Unlock()
	m.notify(snap)
	return true, nil
}

func (m *Machine) timeSpentLocked() int {
	spent := m.now().Sub(m.startTime)
	if spent > m.duration {
		spent = m.duration
	}
	if spent < 0 {
		spent = 0
	}
	return int(spent / time.Second)
}

// State returns a snapshot safe to serialize or cache.
func (m *Machine) State() domain.AttemptState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *Machine) stateLocked() domain.AttemptState {
	flagged := make([]string, 0, len(m.flagged))
	for id := range m.flagged {
		flagged = append(flagged, id)
	}
	sort.Strings(flagged)
	return domain.AttemptState{
		AttemptID: m.attemptID,
		StartTime: m.startTime,
		Answers:   copyAnswers(m.answers),
		Flagged:   flagged,
		Status:    m.status,
	}
}

// Score grades the current answers against the quiz content.
func (m *Machine) Score() domain.Score {
	m.mu.Lock()
	answers := copyAnswers(m.answers)
	m.mu.Unlock()
	return domain.ScoreAttempt(m.quiz, answers)
}

func (m *Machine) findQuestion(questionID string) (domain.Question, error) {
	for _, q := range m.quiz.Questions {
		if q.ID == questionID {
			return q, nil
		}
	}
	return domain.Question{}, domain.ErrQuestionNotFound
}

func (m *Machine) notify(snap domain.AttemptState) {
	if m.onChange != nil {
		m.onChange(snap)
	}
}

func toggle(set []string, id string) []string {
	for i, existing := range set {
		if existing == id {
			return append(set[:i], set[i+1:]...)
		}
	}
	return append(set, id)
}

func copyAnswers(answers map[string][]string) map[string][]string {
	out := make(map[string][]string, len(answers))
	for id, opts := range answers {
		out[id] = append([]string(nil), opts...)
	}
	return out
}
