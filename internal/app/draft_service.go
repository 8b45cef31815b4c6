package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"lms-attempt-service/internal/autosave"
	"lms-attempt-service/internal/domain"
	"lms-attempt-service/internal/reconcile"
)

// DraftAPI is the upstream surface the assignment-draft flow consumes.
type DraftAPI interface {
	GetAssignment(ctx context.Context, assignmentID, userID string) (domain.Assignment, error)
	Upload(ctx context.Context, files []domain.FileRef) ([]domain.FileRef, error)
	SaveSubmission(ctx context.Context, userID, assignmentID, content string, attachments []domain.FileRef, isDraft bool) error
}

// DraftService opens and tracks live assignment-draft sessions.
type DraftService struct {
	api   DraftAPI
	store SnapshotStore
	opts  Options

	mu       sync.Mutex
	sessions map[string]*DraftSession
}

func NewDraftService(api DraftAPI, store SnapshotStore, opts Options) *DraftService {
	return &DraftService{
		api:      api,
		store:    store,
		opts:     opts.withDefaults(),
		sessions: make(map[string]*DraftSession),
	}
}

// Open returns the live draft session for (user, assignment), creating
// it from reconciled server/cache state if needed.
func (s *DraftService) Open(ctx context.Context, assignmentID, userID string) (*DraftSession, error) {
	key := DraftKey(userID, assignmentID)

	s.mu.Lock()
	if session, ok := s.sessions[key]; ok {
		s.mu.Unlock()
		return session, nil
	}
	s.mu.Unlock()

	session, err := s.open(ctx, assignmentID, userID, key)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if existing, ok := s.sessions[key]; ok {
		s.mu.Unlock()
		session.sched.Stop()
		return existing, nil
	}
	s.sessions[key] = session
	s.mu.Unlock()

	// Autosave outlives the opening request; it stops on Close.
	session.sched.Start(context.Background())
	return session, nil
}

// Get returns a live session without creating one.
func (s *DraftService) Get(assignmentID, userID string) (*DraftSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[DraftKey(userID, assignmentID)]
	return session, ok
}

// Close detaches and stops the live session, if any.
func (s *DraftService) Close(assignmentID, userID string) {
	key := DraftKey(userID, assignmentID)
	s.mu.Lock()
	session, ok := s.sessions[key]
	delete(s.sessions, key)
	s.mu.Unlock()
	if ok {
		session.sched.Stop()
	}
}

func (s *DraftService) open(ctx context.Context, assignmentID, userID, key string) (*DraftSession, error) {
	var submission *domain.Submission
	assignment, err := s.api.GetAssignment(ctx, assignmentID, userID)
	if err == nil {
		submission = assignment.Submission
	}

	local, localSaved, hasLocal := s.cachedDraft(ctx, key)
	if err != nil && !hasLocal {
		// Upstream unreachable and nothing cached: nothing to show.
		return nil, fmt.Errorf("%w: %v", domain.ErrAssignmentNotFound, err)
	}

	choice := reconcile.Pick(
		reconcile.Candidate{
			Present:   submission != nil,
			LastSaved: submissionSavedAt(submission),
			Submitted: submission != nil && submission.Status == domain.DraftSubmitted,
		},
		reconcile.Candidate{
			Present:   hasLocal,
			LastSaved: localSaved,
			Submitted: local.Status == domain.DraftSubmitted,
		},
	)

	var state domain.DraftState
	switch choice {
	case reconcile.Server:
		state = domain.DraftState{
			Text:   submission.Content,
			Files:  persistedOnly(submission.Attachments),
			Status: submission.Status,
		}
	case reconcile.Local:
		state = domain.DraftState{
			Text:   local.Text,
			Files:  persistedOnly(local.Files),
			Status: local.Status,
		}
	default:
		state = domain.DraftState{Status: domain.DraftEditable}
	}
	if state.Status == "" {
		state.Status = domain.DraftEditable
	}

	session := &DraftSession{
		AssignmentID: assignmentID,
		UserID:       userID,
		api:          s.api,
		store:        s.store,
		key:          key,
		now:          s.opts.Now,
		text:         state.Text,
		files:        state.Files,
		status:       state.Status,
	}
	session.sched = autosave.New(autosave.Config{
		Debounce:     s.opts.Debounce,
		Interval:     s.opts.FlushInterval,
		PersistLocal: session.persistLocal,
		FlushRemote:  session.flushUpstream,
		Notify: func(err error) {
			log.Printf("draft autosave for %s: %v", key, err)
		},
	})
	if state.Status == domain.DraftSubmitted {
		session.sched.MarkSubmitted()
	}
	return session, nil
}

func (s *DraftService) cachedDraft(ctx context.Context, key string) (domain.DraftState, time.Time, bool) {
	snap, ok, err := s.store.Get(ctx, key)
	if err != nil || !ok {
		if err != nil {
			log.Printf("snapshot read failed for %s: %v", key, err)
		}
		return domain.DraftState{}, time.Time{}, false
	}
	var state domain.DraftState
	if err := json.Unmarshal(snap.Payload, &state); err != nil {
		return domain.DraftState{}, time.Time{}, false
	}
	return state, snap.LastSaved, true
}

func submissionSavedAt(sub *domain.Submission) time.Time {
	if sub == nil {
		return time.Time{}
	}
	return sub.UpdatedAt
}

func persistedOnly(files []domain.FileRef) []domain.FileRef {
	out := make([]domain.FileRef, 0, len(files))
	for _, f := range files {
		if f.Persisted() {
			out = append(out, f)
		}
	}
	return out
}

// DraftSession is one live assignment draft: editable text and
// attachments, debounce-cached locally and flushed upstream on the
// autosave interval or an explicit save.
type DraftSession struct {
	AssignmentID string
	UserID       string

	api   DraftAPI
	store SnapshotStore
	sched *autosave.Scheduler
	key   string
	now   func() time.Time

	// postMu serializes upstream posts; a draft flush must never land
	// after the final submission.
	postMu sync.Mutex

	mu     sync.Mutex
	text   string
	files  []domain.FileRef
	status domain.DraftStatus
}

// State returns the current draft snapshot; pending attachments appear
// without URLs.
func (d *DraftSession) State() domain.DraftState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return domain.DraftState{
		Text:   d.text,
		Files:  append([]domain.FileRef(nil), d.files...),
		Status: d.status,
	}
}

// SetText replaces the draft text. Edits after submission fail.
func (d *DraftSession) SetText(text string) error {
	d.mu.Lock()
	if d.status == domain.DraftSubmitted {
		d.mu.Unlock()
		return domain.ErrDraftSubmitted
	}
	d.text = text
	d.mu.Unlock()

	d.sched.Touch()
	return nil
}

// AddAttachment stages a pending attachment; it uploads on the next
// flush or submit.
func (d *DraftSession) AddAttachment(name string, data []byte) error {
	d.mu.Lock()
	if d.status == domain.DraftSubmitted {
		d.mu.Unlock()
		return domain.ErrDraftSubmitted
	}
	d.files = append(d.files, domain.FileRef{
		Name: name,
		Size: int64(len(data)),
		Data: append([]byte(nil), data...),
	})
	d.mu.Unlock()

	d.sched.Touch()
	return nil
}

// RemoveAttachment drops an attachment by name.
func (d *DraftSession) RemoveAttachment(name string) error {
	d.mu.Lock()
	if d.status == domain.DraftSubmitted {
		d.mu.Unlock()
		return domain.ErrDraftSubmitted
	}
	idx := -1
	for i, f := range d.files {
		if f.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		d.mu.Unlock()
		return domain.ErrAttachmentNotFound
	}
	d.files = append(d.files[:idx], d.files[idx+1:]...)
	d.mu.Unlock()

	d.sched.Touch()
	return nil
}

// SaveDraft performs an explicit draft save now: cache write, upload
// of pending attachments, then the upstream post. Upstream failure is
// non-fatal; the cache write has already preserved the work.
func (d *DraftSession) SaveDraft(ctx context.Context) error {
	return d.sched.Flush(ctx)
}

// Submit finalizes the submission: pending uploads first, then the
// final post. Re-entrant calls after success are silent no-ops. Any
// failure leaves the draft editable for retry.
func (d *DraftSession) Submit(ctx context.Context) error {
	d.mu.Lock()
	if d.status == domain.DraftSubmitted {
		d.mu.Unlock()
		return nil
	}
	// The flip happens under the lock before any network call, so a
	// racing Submit or flush sees submitted and backs off. Reverted on
	// failure so the draft stays editable for retry.
	d.status = domain.DraftSubmitted
	d.mu.Unlock()

	d.postMu.Lock()
	defer d.postMu.Unlock()

	if err := d.uploadPending(ctx); err != nil {
		d.revertSubmit()
		d.persistLocal()
		return fmt.Errorf("upload attachments: %w", err)
	}

	d.mu.Lock()
	text := d.text
	attachments := persistedOnly(d.files)
	d.mu.Unlock()

	if err := d.api.SaveSubmission(ctx, d.UserID, d.AssignmentID, text, attachments, false); err != nil {
		d.revertSubmit()
		d.persistLocal()
		return fmt.Errorf("submit assignment: %w", err)
	}

	// Submission preempts any pending autosave; later ticks are no-ops.
	d.persistLocal()
	d.sched.MarkSubmitted()
	return nil
}

func (d *DraftSession) revertSubmit() {
	d.mu.Lock()
	d.status = domain.DraftEditable
	d.mu.Unlock()
}

func (d *DraftSession) flushUpstream(ctx context.Context) error {
	// One upstream post at a time. A flush that queued behind a
	// finalizing Submit re-checks after acquiring the slot and backs
	// off instead of posting a draft over the submission.
	d.postMu.Lock()
	defer d.postMu.Unlock()

	d.mu.Lock()
	if d.status == domain.DraftSubmitted {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	if err := d.uploadPending(ctx); err != nil {
		return err
	}

	d.mu.Lock()
	text := d.text
	attachments := persistedOnly(d.files)
	d.mu.Unlock()

	return d.api.SaveSubmission(ctx, d.UserID, d.AssignmentID, text, attachments, true)
}

// uploadPending uploads attachments that have no URL yet and merges
// the returned refs back by name. Files removed mid-upload are simply
// dropped.
func (d *DraftSession) uploadPending(ctx context.Context) error {
	d.mu.Lock()
	var pending []domain.FileRef
	for _, f := range d.files {
		if !f.Persisted() {
			pending = append(pending, f)
		}
	}
	d.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	uploaded, err := d.api.Upload(ctx, pending)
	if err != nil {
		return err
	}

	byName := make(map[string]domain.FileRef, len(uploaded))
	for _, f := range uploaded {
		byName[f.Name] = f
	}

	d.mu.Lock()
	for i, f := range d.files {
		if f.Persisted() {
			continue
		}
		if ref, ok := byName[f.Name]; ok {
			d.files[i] = ref
		}
	}
	d.mu.Unlock()
	return nil
}

func (d *DraftSession) persistLocal() {
	d.mu.Lock()
	state := domain.DraftState{
		Text: d.text,
		// Pending refs are process-local handles; only persisted refs
		// are meaningful after recovery.
		Files:  persistedOnly(d.files),
		Status: d.status,
	}
	d.mu.Unlock()

	raw, err := json.Marshal(state)
	if err != nil {
		log.Printf("marshal draft snapshot %s: %v", d.key, err)
		return
	}
	if err := d.store.Put(context.Background(), d.key, raw, d.now()); err != nil {
		log.Printf("persist draft snapshot %s: %v", d.key, err)
	}
}
