//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// maxImagesPerRequest bounds a single dispatch request.
const maxImagesPerRequest = 500

// DispatchStatus is the per-item outcome returned by the dispatcher.
type DispatchStatus string

const (
	// DispatchSubmitted indicates a job was created for the item.
	DispatchSubmitted DispatchStatus = "Submitted"
	// DispatchDuplicateBatch indicates the basename already appeared earlier in the request.
	DispatchDuplicateBatch DispatchStatus = "duplicate_batch"
	// DispatchDuplicateHistory indicates a completed analysis already exists for the basename.
	DispatchDuplicateHistory DispatchStatus = "duplicate_history"
)

// AnalyzeImage is one item of a dispatch request.
type AnalyzeImage struct {
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
	Force    bool   `json:"force,omitempty"`
}

// AnalyzeRequest is the body accepted by the dispatch endpoint.
type AnalyzeRequest struct {
	Images  []AnalyzeImage    `json:"images"`
	Systems []json.RawMessage `json:"systems,omitempty"`
}

// Normalize trims item fields in place.
func (r *AnalyzeRequest) Normalize() {
	for i := range r.Images {
		r.Images[i].FileName = strings.TrimSpace(r.Images[i].FileName)
		r.Images[i].MimeType = strings.TrimSpace(r.Images[i].MimeType)
	}
}

// Validate validates the AnalyzeRequest fields.
func (r *AnalyzeRequest) Validate() error {
	if len(r.Images) == 0 {
		return errors.New("images is required and cannot be empty")
	}
	if len(r.Images) > maxImagesPerRequest {
		return fmt.Errorf("images cannot exceed %d items", maxImagesPerRequest)
	}
	for i, img := range r.Images {
		if img.FileName == "" {
			return fmt.Errorf("images[%d].fileName is required", i)
		}
		if img.Data == "" {
			return fmt.Errorf("images[%d].data is required", i)
		}
	}
	return nil
}

// DispatchContext is the shared context stored on every job of a request.
type DispatchContext struct {
	Systems []json.RawMessage `json:"systems,omitempty"`
}

// DispatchResult is the outcome for one submitted item, in request order.
type DispatchResult struct {
	Index    int            `json:"index"`
	FileName string         `json:"fileName"`
	Status   DispatchStatus `json:"status"`
	JobID    string         `json:"jobId,omitempty"`
	RecordID string         `json:"recordId,omitempty"`
}

// DispatchResponse summarizes a dispatch call.
type DispatchResponse struct {
	BatchID   string           `json:"batchId,omitempty"`
	Submitted int              `json:"submitted"`
	Results   []DispatchResult `json:"results"`
}

// ProcessRequest is the worker kickoff body.
type ProcessRequest struct {
	JobID string `json:"jobId"`
}

// Validate validates the ProcessRequest fields.
func (r *ProcessRequest) Validate() error {
	if strings.TrimSpace(r.JobID) == "" {
		return errors.New("jobId is required")
	}
	return nil
}
