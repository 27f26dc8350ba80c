package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/target/bms-ingest/internal/core"
	"github.com/target/bms-ingest/internal/domain/model"
)

// Echo is a local provider that returns the request metadata as the result.
// It lets the pipeline run end to end without an external analysis service.
type Echo struct{}

var _ core.AnalysisProvider = Echo{}

// Name implements core.AnalysisProvider.
func (Echo) Name() string { return "echo" }

// Analyze implements core.AnalysisProvider.
func (Echo) Analyze(ctx context.Context, req *model.AnalysisRequest) (*model.AnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(map[string]any{
		"fileName": req.FileName,
		"mimeType": req.MimeType,
		"bytes":    len(req.Data),
	})
	if err != nil {
		return nil, fmt.Errorf("encode echo result: %w", err)
	}
	return &model.AnalysisResult{Provider: "echo", Data: data}, nil
}
