package domain

import "time"

// AttemptStatus enumerates the lifecycle of a quiz attempt.
type AttemptStatus string

const (
	AttemptNotStarted AttemptStatus = "not_started"
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptSubmitted  AttemptStatus = "submitted"
)

// DraftStatus enumerates the lifecycle of an assignment submission.
type DraftStatus string

const (
	DraftEditable  DraftStatus = "draft"
	DraftSubmitted DraftStatus = "submitted"
)

// Option represents a possible answer for a question.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question models an MCQ question. Multi-answer questions may mark
// several options correct; single-answer questions exactly one.
type Question struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Options []Option `json:"options"`
	Multi   bool     `json:"multi"`
	Points  int      `json:"points"` // defaults to 1 if zero
}

// CorrectSet returns the IDs of the correct options.
func (q Question) CorrectSet() []string {
	var ids []string
	for _, opt := range q.Options {
		if opt.Correct {
			ids = append(ids, opt.ID)
		}
	}
	return ids
}

// Quiz is a collection of questions plus the attempt time limit.
type Quiz struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	DurationMinutes int        `json:"durationMinutes"`
	Questions       []Question `json:"questions"`
}

// Duration returns the attempt time limit.
func (q Quiz) Duration() time.Duration {
	return time.Duration(q.DurationMinutes) * time.Minute
}

// AttemptState is the mutable, cacheable part of an attempt: what the
// student has answered and flagged so far.
type AttemptState struct {
	AttemptID string              `json:"attemptId,omitempty"`
	StartTime time.Time           `json:"startTime"`
	Answers   map[string][]string `json:"answers"`
	Flagged   []string            `json:"flaggedQuestions"`
	Status    AttemptStatus       `json:"status"`
}

// SubmissionPayload is the finalize request sent upstream.
type SubmissionPayload struct {
	Answers          map[string][]string `json:"answers"`
	TimeSpentSeconds int                 `json:"timeSpent"`
	IsAutoSubmit     bool                `json:"isAutoSubmit"`
}

// QuestionScore is the grading outcome for a single question.
type QuestionScore struct {
	QuestionID string `json:"questionId"`
	Correct    bool   `json:"correct"`
	Awarded    int    `json:"awarded"`
}

// Score is the grading outcome for a whole attempt.
type Score struct {
	Total     int             `json:"total"`
	Max       int             `json:"max"`
	Questions []QuestionScore `json:"questions"`
}

// FileRef is one assignment attachment. A ref is either pending (Data
// held in memory, URL empty) or persisted upstream (URL non-empty).
// Only persisted refs survive caching and reconciliation.
type FileRef struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
	Size int64  `json:"size,omitempty"`
	Data []byte `json:"-"`
}

// Persisted reports whether the attachment has been uploaded upstream.
func (f FileRef) Persisted() bool { return f.URL != "" }

// DraftState is the mutable, cacheable part of an assignment draft.
type DraftState struct {
	Text   string      `json:"textContent"`
	Files  []FileRef   `json:"uploadedFiles"`
	Status DraftStatus `json:"status"`
}

// Assignment is the upstream assignment record, with the student's
// existing submission if one exists.
type Assignment struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Submission *Submission `json:"submission,omitempty"`
}

// Submission is the server-side copy of an assignment submission.
type Submission struct {
	Content     string      `json:"content"`
	Attachments []FileRef   `json:"attachments"`
	Status      DraftStatus `json:"status"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// Snapshot is one cache entry: an opaque payload plus the instant it
// was written. The cache is a recovery aid, never the source of truth
// once the server holds a newer copy.
type Snapshot struct {
	Payload   []byte    `json:"payload"`
	LastSaved time.Time `json:"lastSaved"`
}
