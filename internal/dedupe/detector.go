// Package dedupe classifies incoming items as duplicates of earlier work.
package dedupe

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/target/bms-ingest/internal/core"
	"github.com/target/bms-ingest/internal/domain/model"
	"github.com/target/bms-ingest/internal/retry"
)

const (
	defaultSimilarityThreshold = 0.7
	defaultCandidateLimit      = 50
)

// Options configures a Detector.
type Options struct {
	History  core.AnalysisRecordRepository
	Feedback core.FeedbackRepository
	// SimilarityThreshold flags semantic duplicates at or above this score.
	SimilarityThreshold float64
	SemanticEnabled     bool
	// CandidateLimit bounds how many recent entries are scored for similarity.
	CandidateLimit int
	Retry          retry.Policy
	Logger         *slog.Logger
}

// Detector classifies dispatch items against history and feedback content against earlier submissions.
type Detector struct {
	history        core.AnalysisRecordRepository
	feedback       core.FeedbackRepository
	threshold      float64
	semantic       bool
	candidateLimit int
	retry          retry.Policy
	logger         *slog.Logger
}

// NewDetector constructs a Detector.
func NewDetector(opts Options) *Detector {
	d := &Detector{
		history:        opts.History,
		feedback:       opts.Feedback,
		threshold:      opts.SimilarityThreshold,
		semantic:       opts.SemanticEnabled,
		candidateLimit: opts.CandidateLimit,
		retry:          opts.Retry,
		logger:         opts.Logger,
	}
	if d.threshold <= 0 || d.threshold > 1 {
		d.threshold = defaultSimilarityThreshold
	}
	if d.candidateLimit <= 0 {
		d.candidateLimit = defaultCandidateLimit
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	d.logger = d.logger.With("component", "duplicate_detector")
	return d
}

// Item is one dispatch input as seen by the detector.
type Item struct {
	FileName string
	Force    bool
}

// Classification is the detector's verdict for one Item, in input order.
type Classification struct {
	Basename string
	Result   model.DuplicateResult
}

// ClassifyBatch normalizes every basename, issues a single history query and
// then walks the items in order. A basename repeated within the batch is a
// batch duplicate regardless of force; a history match is a duplicate unless
// the item is forced.
func (d *Detector) ClassifyBatch(ctx context.Context, items []Item) ([]Classification, error) {
	out := make([]Classification, len(items))
	lookup := make([]string, 0, len(items))
	unique := make(map[string]struct{}, len(items))
	for i, it := range items {
		base := NormalizeBasename(it.FileName)
		out[i].Basename = base
		if _, ok := unique[base]; ok || base == "" {
			continue
		}
		unique[base] = struct{}{}
		lookup = append(lookup, base)
	}

	history := map[string]string{}
	if d.history != nil && len(lookup) > 0 {
		p := d.retry
		p.Op = "history.find_by_basenames"
		found, err := retry.DoValue(ctx, p, func(ctx context.Context) (map[string]string, error) {
			return d.history.FindByBasenames(ctx, lookup)
		})
		if err != nil {
			return nil, fmt.Errorf("query history: %w", err)
		}
		if found != nil {
			history = found
		}
	}

	seen := make(map[string]struct{}, len(items))
	for i, it := range items {
		base := out[i].Basename
		if _, dup := seen[base]; dup {
			out[i].Result = model.DuplicateResult{Kind: model.DuplicateInBatch}
			continue
		}
		seen[base] = struct{}{}

		if recordID, ok := history[base]; ok && !it.Force {
			out[i].Result = model.DuplicateResult{Kind: model.DuplicateInHistory, MatchID: recordID}
			continue
		}
		out[i].Result = model.DuplicateResult{Kind: model.DuplicateNone}
	}
	return out, nil
}

// CheckContent classifies feedback content for systemID: an exact hash match
// first, then (when enabled) the best similarity score among recent entries.
func (d *Detector) CheckContent(ctx context.Context, systemID, content string) (model.DuplicateResult, error) {
	hash := ContentHash(content)
	res := model.DuplicateResult{Kind: model.DuplicateNone, Hash: hash}
	if d.feedback == nil {
		return res, nil
	}

	p := d.retry
	p.Op = "feedback.find_by_hash"
	existing, err := retry.DoValue(ctx, p, func(ctx context.Context) (*model.Feedback, error) {
		return d.feedback.FindByHash(ctx, systemID, hash)
	})
	if err != nil {
		return res, fmt.Errorf("lookup content hash: %w", err)
	}
	if existing != nil {
		res.Kind = model.DuplicateExact
		res.MatchID = existing.ID
		res.Score = 1
		return res, nil
	}

	if !d.semantic {
		return res, nil
	}

	p.Op = "feedback.list_recent"
	recent, err := retry.DoValue(ctx, p, func(ctx context.Context) ([]*model.Feedback, error) {
		return d.feedback.ListRecent(ctx, systemID, d.candidateLimit)
	})
	if err != nil {
		return res, fmt.Errorf("list recent feedback: %w", err)
	}

	target := Shingles(content)
	bestScore, bestID := 0.0, ""
	for _, fb := range recent {
		score := Jaccard(target, Shingles(fb.Content))
		if score > bestScore {
			bestScore, bestID = score, fb.ID
		}
	}
	if bestScore >= d.threshold {
		res.Kind = model.DuplicateSemantic
		res.MatchID = bestID
		res.Score = bestScore
		d.logger.DebugContext(ctx, "semantic duplicate detected", "system_id", systemID, "match_id", bestID, "score", bestScore)
	}
	return res, nil
}
