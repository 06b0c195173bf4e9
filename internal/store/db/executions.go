package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nextlevelbuilder/cronmaster/internal/store"
)

// RecordExecutionStart inserts a running execution row before the HTTP
// request goes out, so a crash mid-flight leaves a reclaimable trace.
func (s *Store) RecordExecutionStart(ctx context.Context, jobID int64, triggeredBy string, workerID uuid.UUID) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, s.rebind(
		`INSERT INTO executions (job_id, executed_at, status, triggered_by, worker_id)
		 VALUES (?, ?, ?, ?, ?) RETURNING id`),
		jobID, s.utcNow(), store.ExecRunning, triggeredBy, workerID.String(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("record execution start: %w", err)
	}
	return id, nil
}

// RecordExecutionEnd finalizes a running execution and folds the
// outcome into the parent job in one transaction: counters, last
// execution and the re-armed next_execution move together or not at
// all. Finalizing an already-finalized row is a no-op.
func (s *Store) RecordExecutionEnd(ctx context.Context, execID int64, outcome store.Outcome) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		var jobID int64
		var status string
		err := tx.QueryRowContext(ctx, s.rebind(
			`SELECT job_id, status FROM executions WHERE id = ?`), execID).Scan(&jobID, &status)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		if status != store.ExecRunning {
			return nil
		}

		body := outcome.ResponseBody
		if body != nil && len(*body) > s.bodyLimit {
			truncated := (*body)[:s.bodyLimit]
			body = &truncated
		}
		headersJSON, err := marshalHeaders(outcome.RespHeaders)
		if err != nil {
			headersJSON = nil
		}

		_, err = tx.ExecContext(ctx, s.rebind(
			`UPDATE executions SET status = ?, duration_ms = ?, response_code = ?,
			 response_body = ?, response_headers = ?, error_message = ? WHERE id = ?`),
			outcome.Status, outcome.DurationMS, outcome.ResponseCode,
			body, headersJSON, outcome.ErrorMessage, execID)
		if err != nil {
			return fmt.Errorf("finalize execution: %w", err)
		}

		row := tx.QueryRowContext(ctx, s.rebind(
			`SELECT `+jobColumns+` FROM jobs WHERE id = ?`), jobID)
		job, err := scanJobRow(row)
		if err != nil {
			return fmt.Errorf("load job for finalize: %w", err)
		}

		succCol := "failure_count"
		if outcome.Status == store.ExecSuccess {
			succCol = "success_count"
		}

		now := s.utcNow()
		var next *time.Time
		if job.Status == store.JobActive {
			if n := nextFire(job.CronExpr, job.Timezone, now); !n.IsZero() {
				next = &n
			}
		}

		_, err = tx.ExecContext(ctx, s.rebind(fmt.Sprintf(
			`UPDATE jobs SET %s = %s + 1, last_execution = ?, next_execution = ?, updated_at = ?
			 WHERE id = ?`, succCol, succCol)),
			now, next, now, jobID)
		if err != nil {
			return fmt.Errorf("update job counters: %w", err)
		}
		return nil
	})
}

// ListExecutions pages a job's execution log newest-first. Ownership is
// enforced through the parent job, so someone else's job reads as
// missing.
func (s *Store) ListExecutions(ctx context.Context, userID, jobID int64, opts store.ExecListOpts) ([]store.Execution, int, error) {
	if _, err := s.GetJob(ctx, userID, jobID); err != nil {
		return nil, 0, err
	}

	var total int
	if err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT COUNT(*) FROM executions WHERE job_id = ?`), jobID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count executions: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 || limit > store.MaxPageSize {
		limit = store.MaxPageSize
	}
	page := opts.Page
	if page < 1 {
		page = 1
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT `+execColumns+` FROM executions WHERE job_id = ?
		 ORDER BY executed_at DESC, id DESC LIMIT ? OFFSET ?`),
		jobID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var execs []store.Execution
	for rows.Next() {
		e, err := scanExecRow(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan execution: %w", err)
		}
		execs = append(execs, *e)
	}
	return execs, total, rows.Err()
}

// ListOrphanedRunning finds executions still marked running that were
// started before the given instant by a different worker. These belong
// to a crashed or replaced process and will never be finalized by their
// originator.
func (s *Store) ListOrphanedRunning(ctx context.Context, workerID uuid.UUID, startedBefore time.Time) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id FROM executions
		 WHERE status = ? AND executed_at < ? AND (worker_id IS NULL OR worker_id != ?)
		 ORDER BY id`),
		store.ExecRunning, startedBefore, workerID.String())
	if err != nil {
		return nil, fmt.Errorf("list orphaned executions: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FinalizeOrphan marks an abandoned running execution as failed with
// the worker_crashed reason, counting it against the job like any other
// failure.
func (s *Store) FinalizeOrphan(ctx context.Context, execID int64) error {
	msg := store.ReasonWorkerCrashed
	err := s.RecordExecutionEnd(ctx, execID, store.Outcome{
		Status:       store.ExecFailed,
		ErrorMessage: &msg,
	})
	if err != nil {
		return err
	}
	slog.Warn("orphaned execution reclaimed", "execution", execID)
	return nil
}

// PruneExecutions deletes execution rows older than the cutoff and
// returns the count removed.
func (s *Store) PruneExecutions(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM executions WHERE executed_at < ? AND status != ?`),
		olderThan, store.ExecRunning)
	if err != nil {
		return 0, fmt.Errorf("prune executions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("pruned executions", "count", n, "older_than", olderThan)
	}
	return n, nil
}
