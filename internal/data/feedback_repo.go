package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/target/bms-ingest/internal/domain/model"
	apperrors "github.com/target/bms-ingest/internal/errors"
)

const feedbackColumns = `id, system_id, category, content, content_hash, created_at`

// FeedbackRepo stores feedback submissions keyed by normalized content hash.
type FeedbackRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewFeedbackRepo creates a new FeedbackRepo.
func NewFeedbackRepo(db *sql.DB, tp TimeProvider) *FeedbackRepo {
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &FeedbackRepo{DB: db, timeProvider: tp}
}

// Create inserts fb. A second submission with the same content hash maps to a conflict.
func (r *FeedbackRepo) Create(ctx context.Context, fb *model.Feedback) error {
	if fb == nil {
		return errors.New("feedback is required")
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = r.timeProvider.Now().UTC()
	}
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO feedback (`+feedbackColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, fb.ID, fb.SystemID, fb.Category, fb.Content, fb.ContentHash, fb.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("create feedback: %w", apperrors.MapDBError(err))
	}
	return nil
}

// FindByHash returns nil, nil when systemID has no feedback carrying hash.
func (r *FeedbackRepo) FindByHash(ctx context.Context, systemID, hash string) (*model.Feedback, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+feedbackColumns+`
		FROM feedback
		WHERE system_id = $1 AND content_hash = $2
	`, systemID, hash)
	fb, err := scanFeedback(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find feedback by hash: %w", apperrors.MapDBError(err))
	}
	return fb, nil
}

// ListRecent returns the newest feedback for systemID; an empty systemID spans all systems.
func (r *FeedbackRepo) ListRecent(ctx context.Context, systemID string, limit int) ([]*model.Feedback, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+feedbackColumns+`
		FROM feedback
		WHERE ($1 = '' OR system_id = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, systemID, limit)
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", apperrors.MapDBError(err))
	}
	defer func() { _ = rows.Close() }()

	var out []*model.Feedback
	for rows.Next() {
		fb, scanErr := scanFeedback(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan feedback: %w", scanErr)
		}
		out = append(out, fb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feedback: %w", err)
	}
	return out, nil
}

func scanFeedback(scanner rowScanner) (*model.Feedback, error) {
	var fb model.Feedback
	if err := scanner.Scan(&fb.ID, &fb.SystemID, &fb.Category, &fb.Content, &fb.ContentHash, &fb.CreatedAt); err != nil {
		return nil, err
	}
	fb.CreatedAt = fb.CreatedAt.UTC()
	return &fb, nil
}
