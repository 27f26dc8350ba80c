package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/target/bms-ingest/internal/core"
	"github.com/target/bms-ingest/internal/domain/model"
	apperrors "github.com/target/bms-ingest/internal/errors"
	"github.com/target/bms-ingest/internal/retry"
)

const (
	defaultFeedbackListLimit = 50
	maxFeedbackListLimit     = 500
)

// contentChecker is the slice of dedupe.Detector the feedback service needs.
type contentChecker interface {
	CheckContent(ctx context.Context, systemID, content string) (model.DuplicateResult, error)
}

// DuplicateError rejects a feedback submission that repeats earlier content.
type DuplicateError struct {
	Result model.DuplicateResult
}

func (e *DuplicateError) Error() string {
	if e.Result.Kind == model.DuplicateSemantic {
		return fmt.Sprintf("feedback is a near duplicate of %s (score %.2f)", e.Result.MatchID, e.Result.Score)
	}
	return "feedback duplicates " + e.Result.MatchID
}

// AsDuplicate extracts a *DuplicateError from err.
func AsDuplicate(err error) (*DuplicateError, bool) {
	var dup *DuplicateError
	if errors.As(err, &dup) {
		return dup, true
	}
	return nil, false
}

// FeedbackServiceOptions groups dependencies for FeedbackService.
type FeedbackServiceOptions struct {
	Repo       core.FeedbackRepository // Required
	Detector   contentChecker          // Required
	StoreRetry retry.Policy
	Logger     *slog.Logger
	Now        func() time.Time
	NewID      func() string
}

// FeedbackService accepts duplicate-checked feedback submissions.
type FeedbackService struct {
	repo       core.FeedbackRepository
	detector   contentChecker
	storeRetry retry.Policy
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string
}

// NewFeedbackService constructs a FeedbackService.
func NewFeedbackService(opts FeedbackServiceOptions) (*FeedbackService, error) {
	if opts.Repo == nil {
		return nil, errors.New("FeedbackRepository is required")
	}
	if opts.Detector == nil {
		return nil, errors.New("duplicate detector is required")
	}
	s := &FeedbackService{
		repo:       opts.Repo,
		detector:   opts.Detector,
		storeRetry: opts.StoreRetry,
		logger:     opts.Logger,
		now:        opts.Now,
		newID:      opts.NewID,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "feedback_service")
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s, nil
}

// Submit stores a feedback entry. Exact repeats are always rejected; Force
// only bypasses the semantic similarity check.
func (s *FeedbackService) Submit(ctx context.Context, req model.CreateFeedbackRequest) (*model.Feedback, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	res, err := s.detector.CheckContent(ctx, req.SystemID, req.Content)
	if err != nil {
		return nil, fmt.Errorf("check duplicate feedback: %w", err)
	}
	if res.Kind == model.DuplicateExact || (res.Kind == model.DuplicateSemantic && !req.Force) {
		s.logger.InfoContext(ctx, "duplicate feedback rejected",
			"system_id", req.SystemID,
			"match_type", res.Kind,
			"match_id", res.MatchID,
		)
		return nil, &DuplicateError{Result: res}
	}

	fb := &model.Feedback{
		ID:          s.newID(),
		SystemID:    req.SystemID,
		Category:    req.Category,
		Content:     req.Content,
		ContentHash: res.Hash,
		CreatedAt:   s.now().UTC(),
	}
	err = retry.Do(ctx, storeOp(s.storeRetry, "feedback.create"), func(ctx context.Context) error {
		return s.repo.Create(ctx, fb)
	})
	if err != nil {
		// A concurrent submission of the same content won the unique hash.
		if apperrors.IsConflict(err) {
			return nil, &DuplicateError{Result: model.DuplicateResult{Kind: model.DuplicateExact, Hash: res.Hash, Score: 1}}
		}
		return nil, fmt.Errorf("create feedback: %w", err)
	}
	s.logger.InfoContext(ctx, "feedback created", "id", fb.ID, "system_id", fb.SystemID, "category", fb.Category)
	return fb, nil
}

// List returns the most recent feedback for a system, newest first.
func (s *FeedbackService) List(ctx context.Context, systemID string, limit int) ([]*model.Feedback, error) {
	if systemID == "" {
		return nil, apperrors.ValidationField("systemId", "systemId is required")
	}
	switch {
	case limit <= 0:
		limit = defaultFeedbackListLimit
	case limit > maxFeedbackListLimit:
		limit = maxFeedbackListLimit
	}
	out, err := retry.DoValue(ctx, storeOp(s.storeRetry, "feedback.list_recent"), func(ctx context.Context) ([]*model.Feedback, error) {
		return s.repo.ListRecent(ctx, systemID, limit)
	})
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	return out, nil
}
