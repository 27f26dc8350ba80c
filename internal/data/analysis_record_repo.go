package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/target/bms-ingest/internal/data/pgxutil"
	"github.com/target/bms-ingest/internal/domain/model"
	apperrors "github.com/target/bms-ingest/internal/errors"
)

// AnalysisRecordRepo reads persisted analysis results. Records are written by
// JobRepo.Complete in the same transaction as the job transition.
type AnalysisRecordRepo struct {
	DB *sql.DB
}

// NewAnalysisRecordRepo creates a new AnalysisRecordRepo.
func NewAnalysisRecordRepo(db *sql.DB) *AnalysisRecordRepo {
	return &AnalysisRecordRepo{DB: db}
}

// GetByID returns a record or model.ErrRecordNotFound.
func (r *AnalysisRecordRepo) GetByID(ctx context.Context, id string) (*model.AnalysisRecord, error) {
	if !validID(id) {
		return nil, model.ErrRecordNotFound
	}

	var rec model.AnalysisRecord
	var jobID sql.NullString
	var result []byte
	err := r.DB.QueryRowContext(ctx, `
		SELECT id, job_id, file_name, basename, provider, result, created_at
		FROM analysis_records
		WHERE id = $1
	`, id).Scan(&rec.ID, &jobID, &rec.FileName, &rec.Basename, &rec.Provider, &result, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis record: %w", apperrors.MapDBError(err))
	}
	rec.JobID = cloneNullableString(jobID)
	rec.Result = cloneJSON(result)
	rec.CreatedAt = rec.CreatedAt.UTC()
	return &rec, nil
}

// FindByBasenames returns basename → id of the newest record for each basename
// that has history. Basenames without history are absent from the map.
func (r *AnalysisRecordRepo) FindByBasenames(ctx context.Context, basenames []string) (map[string]string, error) {
	out := make(map[string]string, len(basenames))
	if len(basenames) == 0 {
		return out, nil
	}

	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT DISTINCT ON (basename) basename, id
			FROM analysis_records
			WHERE basename = ANY($1)
			ORDER BY basename, created_at DESC
		`, basenames)
		if err != nil {
			return err
		}
		matches, err := pgx.CollectRows(rows, pgx.RowToStructByName[model.HistoryMatch])
		if err != nil {
			return err
		}
		for _, m := range matches {
			out[m.Basename] = m.RecordID
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("find history by basename: %w", apperrors.MapDBError(err))
	}
	return out, nil
}
