// Package lms is the HTTP client for the upstream LMS REST API, the
// authoritative store for quizzes, attempts, and assignment
// submissions.
package lms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"lms-attempt-service/internal/domain"
)

// Client talks to the LMS API. The zero Timeout means no client-side
// deadline; a hung save simply stays dirty until the next retry.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Config wires a Client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

func NewClient(cfg Config) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.Timeout},
	}
}

// ActiveAttempt is the server's copy of a user's in-flight attempt.
type ActiveAttempt struct {
	AttemptID     string               `json:"attemptId"`
	StartTime     time.Time            `json:"startTime"`
	TimeRemaining int                  `json:"timeRemaining"`
	Answers       map[string][]string  `json:"answers"`
	Flagged       []string             `json:"flaggedQuestions"`
	Status        domain.AttemptStatus `json:"status"`
	UpdatedAt     time.Time            `json:"updatedAt"`
}

// QuizDetail is the GET /quizzes/{id} response: quiz content plus the
// user's active attempt, if any.
type QuizDetail struct {
	domain.Quiz
	ActiveAttempt *ActiveAttempt `json:"activeAttempt,omitempty"`
}

// StartedAttempt is the POST /quizzes/{id} response.
type StartedAttempt struct {
	AttemptID     string    `json:"attemptId"`
	StartTime     time.Time `json:"startTime"`
	TimeRemaining int       `json:"timeRemaining"`
}

// GetQuiz fetches quiz content and the user's active attempt.
func (c *Client) GetQuiz(ctx context.Context, quizID, userID string) (QuizDetail, error) {
	var detail QuizDetail
	err := c.getJSON(ctx, "/quizzes/"+url.PathEscape(quizID), userID, &detail, domain.ErrQuizNotFound)
	return detail, err
}

// LoadQuiz satisfies the quiz cache's loader interface.
func (c *Client) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	detail, err := c.GetQuiz(ctx, quizID, "")
	return detail.Quiz, err
}

// StartAttempt begins a new attempt for the user.
func (c *Client) StartAttempt(ctx context.Context, quizID, userID string) (StartedAttempt, error) {
	var started StartedAttempt
	err := c.postJSON(ctx, "/quizzes/"+url.PathEscape(quizID), userID, struct{}{}, &started, domain.ErrQuizNotFound)
	return started, err
}

// SubmitAttempt finalizes an attempt upstream.
func (c *Client) SubmitAttempt(ctx context.Context, quizID, userID string, payload domain.SubmissionPayload) error {
	return c.postJSON(ctx, "/quizzes/"+url.PathEscape(quizID)+"/submit", userID, payload, nil, domain.ErrQuizNotFound)
}

// GetAssignment fetches assignment metadata and the user's existing
// submission, if any.
func (c *Client) GetAssignment(ctx context.Context, assignmentID, userID string) (domain.Assignment, error) {
	var assignment domain.Assignment
	err := c.getJSON(ctx, "/assignments/"+url.PathEscape(assignmentID), userID, &assignment, domain.ErrAssignmentNotFound)
	return assignment, err
}

type submissionRequest struct {
	AssignmentID string           `json:"assignmentId"`
	Content      string           `json:"content"`
	Attachments  []domain.FileRef `json:"attachments"`
	IsDraft      bool             `json:"isDraft"`
}

// SaveSubmission posts a draft (isDraft true) or final submission.
func (c *Client) SaveSubmission(ctx context.Context, userID, assignmentID, content string, attachments []domain.FileRef, isDraft bool) error {
	req := submissionRequest{
		AssignmentID: assignmentID,
		Content:      content,
		Attachments:  attachments,
		IsDraft:      isDraft,
	}
	return c.postJSON(ctx, "/assignments", userID, req, nil, domain.ErrAssignmentNotFound)
}

type uploadResponse struct {
	Files []struct {
		URL          string `json:"url"`
		OriginalName string `json:"originalName"`
		Size         int64  `json:"size"`
	} `json:"files"`
}

// Upload persists pending attachments and returns their refs with URLs
// filled in, in input order.
func (c *Client) Upload(ctx context.Context, files []domain.FileRef) ([]domain.FileRef, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for _, f := range files {
		part, err := writer.CreateFormFile("files", f.Name)
		if err != nil {
			return nil, fmt.Errorf("upload form: %w", err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, fmt.Errorf("upload form: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("upload: unexpected status %d", resp.StatusCode)
	}

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("upload: decode response: %w", err)
	}
	refs := make([]domain.FileRef, 0, len(out.Files))
	for _, f := range out.Files {
		refs = append(refs, domain.FileRef{Name: f.OriginalName, URL: f.URL, Size: f.Size})
	}
	return refs, nil
}

func (c *Client) getJSON(ctx context.Context, path, userID string, out interface{}, notFound error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path, userID), nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	return c.do(req, out, notFound)
}

func (c *Client) postJSON(ctx context.Context, path, userID string, in, out interface{}, notFound error) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path, userID), bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)
	return c.do(req, out, notFound)
}

func (c *Client) do(req *http.Request, out interface{}, notFound error) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("lms request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return notFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("lms request: unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("lms request: decode response: %w", err)
	}
	return nil
}

func (c *Client) endpoint(path, userID string) string {
	endpoint := c.baseURL + path
	if userID != "" {
		endpoint += "?userId=" + url.QueryEscape(userID)
	}
	return endpoint
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
