//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

const maxFeedbackContentLen = 10000

// DuplicateKind classifies the outcome of a duplicate check.
type DuplicateKind string

const (
	// DuplicateNone means no match was found.
	DuplicateNone DuplicateKind = "not_duplicate"
	// DuplicateInBatch means the item repeats an earlier item of the same request.
	DuplicateInBatch DuplicateKind = "duplicate_batch"
	// DuplicateInHistory means a completed record already exists.
	DuplicateInHistory DuplicateKind = "duplicate_history"
	// DuplicateExact means the normalized content hash matched.
	DuplicateExact DuplicateKind = "exact"
	// DuplicateSemantic means similarity exceeded the configured threshold.
	DuplicateSemantic DuplicateKind = "semantic_duplicate"
)

// IsDuplicate reports whether the kind represents any duplicate.
func (k DuplicateKind) IsDuplicate() bool {
	return k != "" && k != DuplicateNone
}

// DuplicateResult is a duplicate classification and the record it matched.
type DuplicateResult struct {
	Kind    DuplicateKind `json:"matchType"`
	MatchID string        `json:"matchId,omitempty"`
	Score   float64       `json:"score,omitempty"`
	Hash    string        `json:"contentHash,omitempty"`
}

// Feedback is an insight or feedback submission about a system.
type Feedback struct {
	ID          string    `json:"id"          db:"id"`
	SystemID    string    `json:"systemId"    db:"system_id"`
	Category    string    `json:"category"    db:"category"`
	Content     string    `json:"content"     db:"content"`
	ContentHash string    `json:"contentHash" db:"content_hash"`
	CreatedAt   time.Time `json:"createdAt"   db:"created_at"`
}

// CreateFeedbackRequest is the body of a feedback submission.
type CreateFeedbackRequest struct {
	SystemID string `json:"systemId"`
	Category string `json:"category,omitempty"`
	Content  string `json:"content"`
	Force    bool   `json:"force,omitempty"`
}

// Normalize trims request fields in place.
func (r *CreateFeedbackRequest) Normalize() {
	r.SystemID = strings.TrimSpace(r.SystemID)
	r.Category = strings.ToLower(strings.TrimSpace(r.Category))
	r.Content = strings.TrimSpace(r.Content)
	if r.Category == "" {
		r.Category = "general"
	}
}

// Validate validates the CreateFeedbackRequest fields.
func (r *CreateFeedbackRequest) Validate() error {
	if r.SystemID == "" {
		return errors.New("systemId is required")
	}
	if r.Content == "" {
		return errors.New("content is required and cannot be empty")
	}
	if utf8.RuneCountInString(r.Content) > maxFeedbackContentLen {
		return errors.New("content cannot exceed 10000 characters")
	}
	return nil
}
