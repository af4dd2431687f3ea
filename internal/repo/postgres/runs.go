package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/animus-labs/basic-cleaning/internal/domain"
	"github.com/animus-labs/basic-cleaning/internal/repo"
)

type RunStore struct {
	db DB
}

func NewRunStore(db DB) *RunStore {
	if db == nil {
		return nil
	}
	return &RunStore{db: db}
}

func (s *RunStore) CreateRun(ctx context.Context, run domain.Run) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	if err := run.Validate(); err != nil {
		return err
	}
	configJSON, err := encodeMetadata(run.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO tracking_runs (
			run_id,
			project,
			job_type,
			config,
			status,
			started_at,
			created_by
		) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		strings.TrimSpace(run.ID),
		strings.TrimSpace(run.Project),
		strings.TrimSpace(run.JobType),
		configJSON,
		string(run.Status),
		normalizeTime(run.StartedAt),
		strings.TrimSpace(run.CreatedBy),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert run: %w", repo.ErrConflict)
		}
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *RunStore) FinishRun(ctx context.Context, run domain.Run) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE tracking_runs
		 SET status = $2, error = $3, finished_at = $4
		 WHERE run_id = $1 AND finished_at IS NULL`,
		strings.TrimSpace(run.ID),
		string(run.Status),
		nullIfEmpty(run.Error),
		nullTime(normalizeTime(run.FinishedAt)),
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish run %s: %w", run.ID, repo.ErrNotFound)
	}
	return nil
}
