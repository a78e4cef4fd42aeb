package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/arxlab/litagent/internal/core/domain"
)

type RunRepository struct {
	db *sql.DB
}

func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) Create(ctx context.Context, run *domain.AgentRun) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.UpdatedAt.IsZero() {
		run.UpdatedAt = run.StartedAt
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO agent_runs (run_id, user_id, conversation_id, mode, status, iterations, last_completed_step, partial_results, termination, started_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`, run.RunID, run.UserID, run.ConversationID, string(run.Mode), string(run.Status),
		run.Iterations, run.LastCompletedStep, run.PartialResults, string(run.Termination),
		run.StartedAt, run.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert agent run: %w", err)
	}
	return nil
}

// UpdateProgress checkpoints the run after each completed loop step so a
// crashed process can be detected and the run recovered or failed. The
// first checkpoint also moves a pending run to running.
func (r *RunRepository) UpdateProgress(ctx context.Context, runID string, lastCompletedStep int, partialResults string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE agent_runs
SET status = $5, iterations = GREATEST(iterations, $2), last_completed_step = $2, partial_results = $3, updated_at = $4
WHERE run_id = $1
`, runID, lastCompletedStep, partialResults, time.Now().UTC(), string(domain.RunRunning))
	if err != nil {
		return fmt.Errorf("update run progress: %w", err)
	}
	return nil
}

func (r *RunRepository) Finish(ctx context.Context, runID string, status domain.RunStatus, termination domain.TerminationReason) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE agent_runs
SET status = $2, termination = $3, updated_at = $4
WHERE run_id = $1
`, runID, string(status), string(termination), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

func (r *RunRepository) GetByID(ctx context.Context, runID string) (*domain.AgentRun, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT run_id, user_id, conversation_id, mode, status, iterations, last_completed_step, partial_results, termination, started_at, updated_at
FROM agent_runs
WHERE run_id = $1
`, runID)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get run", fmt.Errorf("run %s not found", runID))
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	return run, nil
}

// RecoverStale lists runs still marked pending or running whose last
// checkpoint is older than the staleness window. Callers decide whether
// to resume or fail them.
func (r *RunRepository) RecoverStale(ctx context.Context, olderThan time.Duration) ([]domain.AgentRun, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	rows, err := r.db.QueryContext(ctx, `
SELECT run_id, user_id, conversation_id, mode, status, iterations, last_completed_step, partial_results, termination, started_at, updated_at
FROM agent_runs
WHERE status IN ($1, $2) AND updated_at < $3
ORDER BY updated_at ASC
`, string(domain.RunPending), string(domain.RunRunning), cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale runs: %w", err)
	}
	defer rows.Close()

	out := make([]domain.AgentRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale run: %w", err)
		}
		out = append(out, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale runs: %w", err)
	}
	return out, nil
}

func (r *RunRepository) MarkFailed(ctx context.Context, runID string) error {
	return r.Finish(ctx, runID, domain.RunFailed, domain.TerminationAborted)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.AgentRun, error) {
	var run domain.AgentRun
	var mode, status, termination string
	if err := row.Scan(
		&run.RunID,
		&run.UserID,
		&run.ConversationID,
		&mode,
		&status,
		&run.Iterations,
		&run.LastCompletedStep,
		&run.PartialResults,
		&termination,
		&run.StartedAt,
		&run.UpdatedAt,
	); err != nil {
		return nil, err
	}
	run.Mode = domain.AgentMode(mode)
	run.Status = domain.RunStatus(status)
	run.Termination = domain.TerminationReason(termination)
	return &run, nil
}
