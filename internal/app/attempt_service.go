package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"lms-attempt-service/internal/attempt"
	"lms-attempt-service/internal/autosave"
	"lms-attempt-service/internal/domain"
	"lms-attempt-service/internal/lms"
	"lms-attempt-service/internal/reconcile"
)

// AttemptAPI is the upstream surface the attempt flow consumes.
type AttemptAPI interface {
	GetQuiz(ctx context.Context, quizID, userID string) (lms.QuizDetail, error)
	StartAttempt(ctx context.Context, quizID, userID string) (lms.StartedAttempt, error)
	SubmitAttempt(ctx context.Context, quizID, userID string, payload domain.SubmissionPayload) error
}

// Options tune session timing. Zero values take the package defaults;
// tests shrink them.
type Options struct {
	WarnThreshold time.Duration
	TickInterval  time.Duration
	Debounce      time.Duration
	FlushInterval time.Duration
	Now           func() time.Time
}

func (o Options) withDefaults() Options {
	if o.TickInterval <= 0 {
		o.TickInterval = time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// AttemptService opens and tracks live attempt sessions. Opening a
// session reconciles the server's active attempt against the cached
// snapshot, starting a fresh attempt upstream only when neither exists.
type AttemptService struct {
	api     AttemptAPI
	quizzes QuizRepository
	store   SnapshotStore
	opts    Options

	mu       sync.Mutex
	sessions map[string]*AttemptSession
}

func NewAttemptService(api AttemptAPI, quizzes QuizRepository, store SnapshotStore, opts Options) *AttemptService {
	return &AttemptService{
		api:      api,
		quizzes:  quizzes,
		store:    store,
		opts:     opts.withDefaults(),
		sessions: make(map[string]*AttemptSession),
	}
}

// Open returns the live session for (user, quiz), creating one if
// needed. A second Open for the same pair reattaches to the running
// countdown rather than starting another.
func (s *AttemptService) Open(ctx context.Context, quizID, userID string) (*AttemptSession, error) {
	key := AttemptKey(userID, quizID)

	s.mu.Lock()
	if session, ok := s.sessions[key]; ok {
		s.mu.Unlock()
		return session, nil
	}
	s.mu.Unlock()

	session, err := s.open(ctx, quizID, userID, key)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if existing, ok := s.sessions[key]; ok {
		// Lost the race; keep the session that got there first.
		s.mu.Unlock()
		session.shutdown()
		return existing, nil
	}
	s.sessions[key] = session
	s.mu.Unlock()

	// Session timers outlive the opening request; they stop on Close.
	session.start()
	return session, nil
}

// Close detaches and stops the live session, if any. The snapshot
// store and the upstream copy carry the state for the next Open.
func (s *AttemptService) Close(quizID, userID string) {
	key := AttemptKey(userID, quizID)
	s.mu.Lock()
	session, ok := s.sessions[key]
	delete(s.sessions, key)
	s.mu.Unlock()
	if ok {
		session.shutdown()
	}
}

func (s *AttemptService) open(ctx context.Context, quizID, userID, key string) (*AttemptSession, error) {
	var (
		quiz   domain.Quiz
		server *lms.ActiveAttempt
	)
	detail, err := s.api.GetQuiz(ctx, quizID, userID)
	if err == nil {
		quiz = detail.Quiz
		server = detail.ActiveAttempt
	} else {
		// Upstream unreachable or quiz gone: the cached copy may still
		// carry the view. With no content at all the open fails
		// non-fatally for the caller.
		cached, cerr := s.quizzes.GetQuiz(ctx, quizID)
		if cerr != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrQuizNotFound, err)
		}
		quiz = cached
	}

	local, localSaved, hasLocal := s.cachedState(ctx, key)

	choice := reconcile.Pick(
		reconcile.Candidate{
			Present:   server != nil,
			LastSaved: serverSavedAt(server),
			Submitted: server != nil && server.Status == domain.AttemptSubmitted,
		},
		reconcile.Candidate{
			Present:   hasLocal,
			LastSaved: localSaved,
			Submitted: local.Status == domain.AttemptSubmitted,
		},
	)

	var state domain.AttemptState
	switch choice {
	case reconcile.Server:
		state = domain.AttemptState{
			AttemptID: server.AttemptID,
			StartTime: server.StartTime,
			Answers:   server.Answers,
			Flagged:   server.Flagged,
			Status:    server.Status,
		}
		if state.StartTime.IsZero() && server.TimeRemaining > 0 {
			// Some deployments report only the remaining budget; anchor
			// the countdown so ticks stay drift-free.
			elapsed := quiz.Duration() - time.Duration(server.TimeRemaining)*time.Second
			state.StartTime = s.opts.Now().Add(-elapsed)
		}
	case reconcile.Local:
		state = local
	default:
		started, err := s.api.StartAttempt(ctx, quizID, userID)
		if err != nil {
			return nil, fmt.Errorf("start attempt: %w", err)
		}
		state = domain.AttemptState{
			AttemptID: started.AttemptID,
			StartTime: started.StartTime,
			Status:    domain.AttemptInProgress,
		}
		if state.StartTime.IsZero() {
			state.StartTime = s.opts.Now()
		}
	}

	session := &AttemptSession{
		QuizID: quizID,
		UserID: userID,
		store:  s.store,
		key:    key,
		now:    s.opts.Now,
		tick:   s.opts.TickInterval,
	}
	machine := attempt.New(attempt.Config{
		Quiz:          quiz,
		State:         state,
		Submitter:     attemptSubmitter{api: s.api, userID: userID},
		WarnThreshold: s.opts.WarnThreshold,
		Now:           s.opts.Now,
		OnChange:      session.onChange,
	})
	session.machine = machine
	session.latest = machine.State()
	session.sched = autosave.New(autosave.Config{
		Debounce:     s.opts.Debounce,
		Interval:     s.opts.FlushInterval,
		PersistLocal: session.persistLocal,
		// Attempt progress has no upstream draft endpoint; the interval
		// cadence only re-persists the cache after a failed write.
		FlushRemote: func(context.Context) error { return nil },
	})
	return session, nil
}

func (s *AttemptService) cachedState(ctx context.Context, key string) (domain.AttemptState, time.Time, bool) {
	snap, ok, err := s.store.Get(ctx, key)
	if err != nil || !ok {
		if err != nil {
			log.Printf("snapshot read failed for %s: %v", key, err)
		}
		return domain.AttemptState{}, time.Time{}, false
	}
	var state domain.AttemptState
	if err := json.Unmarshal(snap.Payload, &state); err != nil {
		// Malformed cache counts as no cache.
		return domain.AttemptState{}, time.Time{}, false
	}
	return state, snap.LastSaved, true
}

func serverSavedAt(att *lms.ActiveAttempt) time.Time {
	if att == nil {
		return time.Time{}
	}
	return att.UpdatedAt
}

// attemptSubmitter binds the upstream submit call to one user.
type attemptSubmitter struct {
	api    AttemptAPI
	userID string
}

func (s attemptSubmitter) SubmitAttempt(ctx context.Context, quizID string, payload domain.SubmissionPayload) error {
	return s.api.SubmitAttempt(ctx, quizID, s.userID, payload)
}

// AttemptSession is one live attempt: the state machine, its countdown
// runner, and the autosave plumbing that mirrors progress into the
// snapshot store.
type AttemptSession struct {
	QuizID string
	UserID string

	machine *attempt.Machine
	runner  *attempt.Runner
	sched   *autosave.Scheduler
	store   SnapshotStore
	key     string
	now     func() time.Time
	tick    time.Duration

	mu     sync.Mutex
	latest domain.AttemptState
}

func (s *AttemptSession) start() {
	s.runner = attempt.NewRunner(s.machine, s.tick)
	s.runner.Start(context.Background())
	s.sched.Start(context.Background())
}

func (s *AttemptSession) shutdown() {
	if s.runner != nil {
		s.runner.Stop()
	}
	s.sched.Stop()
}

// Quiz returns the quiz content for this session.
func (s *AttemptSession) Quiz() domain.Quiz { return s.machine.Quiz() }

// State returns the current attempt snapshot.
func (s *AttemptSession) State() domain.AttemptState { return s.machine.State() }

// Remaining reports the countdown in seconds.
func (s *AttemptSession) Remaining() int { return s.machine.Remaining() }

// Events exposes the countdown event stream (nil before start).
func (s *AttemptSession) Events() <-chan attempt.Event {
	if s.runner == nil {
		return nil
	}
	return s.runner.Events()
}

// SelectAnswer forwards to the state machine.
func (s *AttemptSession) SelectAnswer(questionID, optionID string) error {
	return s.machine.SelectAnswer(questionID, optionID)
}

// ToggleFlag forwards to the state machine.
func (s *AttemptSession) ToggleFlag(questionID string) error {
	return s.machine.ToggleFlag(questionID)
}

// Submit finalizes the attempt manually.
func (s *AttemptSession) Submit(ctx context.Context) (bool, error) {
	return s.machine.Submit(ctx, true)
}

// Score grades the current answers.
func (s *AttemptSession) Score() domain.Score { return s.machine.Score() }

func (s *AttemptSession) onChange(state domain.AttemptState) {
	s.mu.Lock()
	s.latest = state
	s.mu.Unlock()

	if state.Status == domain.AttemptSubmitted {
		// Terminal snapshot is written immediately; a debounced write
		// could be suppressed below and resurrect nothing.
		s.persistLocal()
		s.sched.MarkSubmitted()
		return
	}
	s.sched.Touch()
}

func (s *AttemptSession) persistLocal() {
	s.mu.Lock()
	state := s.latest
	s.mu.Unlock()

	raw, err := json.Marshal(state)
	if err != nil {
		log.Printf("marshal attempt snapshot %s: %v", s.key, err)
		return
	}
	if err := s.store.Put(context.Background(), s.key, raw, s.now()); err != nil {
		log.Printf("persist attempt snapshot %s: %v", s.key, err)
	}
}
