package domain

import "errors"

var (
	// ErrQuizNotFound indicates the quiz could not be loaded upstream or from cache.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrAssignmentNotFound indicates the assignment could not be loaded upstream or from cache.
	ErrAssignmentNotFound = errors.New("assignment not found")
	// ErrQuestionNotFound indicates a referenced question ID is invalid.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrDraftSubmitted is returned for edits after an assignment was finalized.
	ErrDraftSubmitted = errors.New("submission already finalized")
	// ErrAttachmentNotFound indicates a remove targeted an unknown attachment.
	ErrAttachmentNotFound = errors.New("attachment not found")
)
