package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/animus-labs/pipestack/internal/pipeline"
)

type RunFilter struct {
	Pipeline string
	Stack    string
	Limit    int
}

type RunStore struct {
	db DB
}

func NewRunStore(db DB) *RunStore {
	if db == nil {
		return nil
	}
	return &RunStore{db: db}
}

func (s *RunStore) CreateRun(ctx context.Context, rec pipeline.RunRecord) error {
	if s == nil || s.db == nil {
		return errors.New("run store not initialized")
	}
	if rec.ID == uuid.Nil {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(rec.Pipeline) == "" {
		return errors.New("pipeline is required")
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO pipeline_runs (
			run_id,
			pipeline,
			run_name,
			stack,
			orchestrator,
			submission_kind,
			backend_run_id,
			experiment,
			image,
			status,
			submitted_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		rec.ID,
		strings.TrimSpace(rec.Pipeline),
		strings.TrimSpace(rec.RunName),
		strings.TrimSpace(rec.Stack),
		strings.TrimSpace(rec.Orchestrator),
		string(rec.Submission.Kind),
		nullIfEmpty(rec.Submission.RunID),
		nullIfEmpty(rec.Submission.Experiment),
		nullIfEmpty(rec.Submission.Image),
		nullIfEmpty(rec.Submission.Status),
		normalizeTime(rec.SubmittedAt),
	)
	if err != nil {
		return fmt.Errorf("insert pipeline run: %w", err)
	}
	return nil
}

const runColumns = `run_id, pipeline, run_name, stack, orchestrator, submission_kind, backend_run_id, experiment, image, status, submitted_at`

func (s *RunStore) GetRun(ctx context.Context, id uuid.UUID) (pipeline.RunRecord, error) {
	if s == nil || s.db == nil {
		return pipeline.RunRecord{}, errors.New("run store not initialized")
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM pipeline_runs WHERE run_id = $1`, id)
	rec, err := scanRun(row)
	if err != nil {
		return pipeline.RunRecord{}, handleNotFound(err)
	}
	return rec, nil
}

func (s *RunStore) ListRuns(ctx context.Context, filter RunFilter) ([]pipeline.RunRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("run store not initialized")
	}
	query, args := buildRunListQuery(filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pipeline runs: %w", err)
	}
	defer rows.Close()

	var out []pipeline.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pipeline run: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func buildRunListQuery(filter RunFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if v := strings.TrimSpace(filter.Pipeline); v != "" {
		args = append(args, v)
		where = append(where, fmt.Sprintf("pipeline = $%d", len(args)))
	}
	if v := strings.TrimSpace(filter.Stack); v != "" {
		args = append(args, v)
		where = append(where, fmt.Sprintf("stack = $%d", len(args)))
	}
	query := `SELECT ` + runColumns + ` FROM pipeline_runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY submitted_at DESC"
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	return query, args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (pipeline.RunRecord, error) {
	var (
		rec                                   pipeline.RunRecord
		kind                                  string
		backendID, experiment, image, status sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.Pipeline, &rec.RunName, &rec.Stack, &rec.Orchestrator, &kind,
		&backendID, &experiment, &image, &status, &rec.SubmittedAt); err != nil {
		return pipeline.RunRecord{}, err
	}
	rec.Submission = pipeline.Submission{
		RunID:      backendID.String,
		Kind:       pipeline.SubmissionKind(kind),
		Experiment: experiment.String,
		Image:      image.String,
		Status:     status.String,
	}
	rec.SubmittedAt = rec.SubmittedAt.UTC()
	return rec, nil
}
