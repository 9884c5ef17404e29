package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kdimtricp/deepcheck/internal/ai"
)

const defaultListLimit = 20

// AnalysisRecord is a completed analysis as stored. Only finished results are
// ever written; failed or cancelled runs leave no row.
type AnalysisRecord struct {
	ID        string             `json:"id"`
	Filename  string             `json:"filename"`
	Result    *ai.AnalysisResult `json:"result"`
	CreatedAt time.Time          `json:"created_at"`
}

type AnalysisRepo struct {
	db *DB
}

func NewAnalysisRepo(db *DB) *AnalysisRepo {
	return &AnalysisRepo{db: db}
}

func (r *AnalysisRepo) Create(ctx context.Context, rec *AnalysisRecord) error {
	if rec.Result == nil {
		return errors.New("analysis record has no result")
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	details, err := json.Marshal(rec.Result.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal details: %w", err)
	}
	verdicts := rec.Result.FrameVerdicts
	if verdicts == nil {
		verdicts = []ai.FrameVerdict{}
	}
	frameVerdicts, err := json.Marshal(verdicts)
	if err != nil {
		return fmt.Errorf("failed to marshal frame verdicts: %w", err)
	}

	query := `
		INSERT INTO analyses (
			id, filename, verdict, confidence, frames_analyzed,
			processing_time_seconds, details, frame_verdicts, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = r.db.conn.ExecContext(ctx, query,
		rec.ID,
		rec.Filename,
		string(rec.Result.Verdict),
		rec.Result.Confidence,
		rec.Result.FramesAnalyzed,
		rec.Result.ProcessingTime,
		string(details),
		string(frameVerdicts),
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert analysis: %w", err)
	}
	return nil
}

const selectAnalysis = `
	SELECT id, filename, verdict, confidence, frames_analyzed,
		   processing_time_seconds, details, frame_verdicts, created_at
	FROM analyses`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row rowScanner) (*AnalysisRecord, error) {
	rec := &AnalysisRecord{Result: &ai.AnalysisResult{}}
	var (
		verdict                string
		details, frameVerdicts []byte
	)

	err := row.Scan(
		&rec.ID,
		&rec.Filename,
		&verdict,
		&rec.Result.Confidence,
		&rec.Result.FramesAnalyzed,
		&rec.Result.ProcessingTime,
		&details,
		&frameVerdicts,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Result.Verdict = ai.Verdict(verdict)
	if err := json.Unmarshal(details, &rec.Result.Details); err != nil {
		return nil, fmt.Errorf("failed to decode details for %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal(frameVerdicts, &rec.Result.FrameVerdicts); err != nil {
		return nil, fmt.Errorf("failed to decode frame verdicts for %s: %w", rec.ID, err)
	}
	return rec, nil
}

func (r *AnalysisRepo) GetByID(ctx context.Context, id string) (*AnalysisRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	rec, err := scanAnalysis(r.db.conn.QueryRowContext(ctx, selectAnalysis+` WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}
	return rec, nil
}

// List returns the most recent analyses first. A non-positive limit uses the default.
func (r *AnalysisRepo) List(ctx context.Context, limit int) ([]*AnalysisRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := r.db.conn.QueryContext(ctx, selectAnalysis+` ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}
	defer rows.Close()

	records := []*AnalysisRecord{}
	for rows.Next() {
		rec, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan analysis: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *AnalysisRepo) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}

	res, err := r.db.conn.ExecContext(ctx, `DELETE FROM analyses WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete analysis: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
