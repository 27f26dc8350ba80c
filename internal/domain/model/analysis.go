//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrRecordNotFound is returned when an analysis record id does not exist.
var ErrRecordNotFound = errors.New("analysis record not found")

// AnalysisRequest is the input handed to an analysis provider.
type AnalysisRequest struct {
	JobID    string          `json:"jobId"`
	FileName string          `json:"fileName"`
	MimeType string          `json:"mimeType"`
	Data     string          `json:"data"`
	Context  json.RawMessage `json:"context,omitempty"`
}

// AnalysisResult is the structured extraction returned by a provider.
type AnalysisResult struct {
	Provider string          `json:"provider"`
	Data     json.RawMessage `json:"data"`
}

// AnalysisRecord is a persisted analysis result; the history consulted for duplicate detection.
type AnalysisRecord struct {
	ID        string          `json:"id"        db:"id"`
	JobID     *string         `json:"jobId"     db:"job_id"`
	FileName  string          `json:"fileName"  db:"file_name"`
	Basename  string          `json:"basename"  db:"basename"`
	Provider  string          `json:"provider"  db:"provider"`
	Result    json.RawMessage `json:"result"    db:"result"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
}

// HistoryMatch pairs a normalized basename with the record that already covers it.
type HistoryMatch struct {
	Basename string `json:"basename" db:"basename"`
	RecordID string `json:"recordId" db:"id"`
}
