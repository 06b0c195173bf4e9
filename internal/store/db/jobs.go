package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nextlevelbuilder/cronmaster/internal/store"
)

// CreateJob validates the spec, computes the first firing instant and
// persists the row. The write is all-or-nothing: a validation failure
// leaves no partial state behind.
func (s *Store) CreateJob(ctx context.Context, userID int64, spec store.JobSpec) (*store.Job, error) {
	normalizeSpec(&spec)
	if err := validateSpec(&spec); err != nil {
		return nil, err
	}

	now := s.utcNow()
	next := nextFire(spec.CronExpr, spec.Timezone, now)
	if next.IsZero() {
		return nil, store.Invalid("cron_expression", "expression never fires")
	}

	headersJSON, err := marshalHeaders(spec.Headers)
	if err != nil {
		return nil, store.Invalid("headers", "%v", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, s.rebind(
		`INSERT INTO jobs (user_id, name, url, method, cron_expression, timezone, headers,
		 body, description, status, next_execution, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		userID, spec.Name, spec.URL, spec.Method, spec.CronExpr, spec.Timezone, headersJSON,
		spec.Body, spec.Description, store.JobActive, next, now, now,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	slog.Info("job created", "id", id, "user", userID, "name", spec.Name, "cron", spec.CronExpr)
	return s.GetJobAny(ctx, id)
}

// GetJob returns the job iff it belongs to userID and is not deleted.
func (s *Store) GetJob(ctx context.Context, userID, jobID int64) (*store.Job, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+jobColumns+` FROM jobs WHERE id = ? AND user_id = ? AND status != ?`),
		jobID, userID, store.JobDeleted)
	job, err := scanJobRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// GetJobAny loads a job by id regardless of owner or status. Dispatcher
// use only; the API layer always goes through GetJob.
func (s *Store) GetJobAny(ctx context.Context, jobID int64) (*store.Job, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`), jobID)
	job, err := scanJobRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs pages through a user's non-deleted jobs with optional status
// filter and case-insensitive substring search over name and URL.
// Ordering is restricted to the SortFields whitelist with an id ASC
// tie-break so pagination stays stable.
func (s *Store) ListJobs(ctx context.Context, userID int64, opts store.ListOpts) ([]store.Job, int, error) {
	where := "WHERE user_id = ? AND status != ?"
	args := []interface{}{userID, store.JobDeleted}

	if opts.Status != "" {
		where += " AND status = ?"
		args = append(args, opts.Status)
	}
	if opts.Search != "" {
		where += " AND (LOWER(name) LIKE ? OR LOWER(url) LIKE ?)"
		pattern := "%" + strings.ToLower(opts.Search) + "%"
		args = append(args, pattern, pattern)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, s.rebind("SELECT COUNT(*) FROM jobs "+where), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	sortBy := opts.SortBy
	if !slices.Contains(store.SortFields, sortBy) {
		sortBy = "created_at"
	}
	dir := "ASC"
	if opts.Desc {
		dir = "DESC"
	}

	limit := opts.Limit
	if limit <= 0 || limit > store.MaxPageSize {
		limit = store.MaxPageSize
	}
	page := opts.Page
	if page < 1 {
		page = 1
	}

	query := fmt.Sprintf("SELECT %s FROM jobs %s ORDER BY %s %s, id ASC LIMIT ? OFFSET ?",
		jobColumns, where, sortBy, dir)
	args = append(args, limit, (page-1)*limit)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []store.Job
	for rows.Next() {
		job, err := scanJobRow(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, total, rows.Err()
}

// UpdateJob applies a partial patch. A changed cron expression or
// timezone recomputes next_execution from now; a status change follows
// the pause/resume rules.
func (s *Store) UpdateJob(ctx context.Context, userID, jobID int64, patch store.JobPatch) (*store.Job, error) {
	var updated *store.Job
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		row := tx.QueryRowContext(ctx, s.rebind(
			`SELECT `+jobColumns+` FROM jobs WHERE id = ? AND user_id = ? AND status != ?`),
			jobID, userID, store.JobDeleted)
		cur, err := scanJobRow(row)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}

		spec := store.JobSpec{
			Name:        cur.Name,
			URL:         cur.URL,
			Method:      cur.Method,
			CronExpr:    cur.CronExpr,
			Timezone:    cur.Timezone,
			Headers:     cur.Headers,
			Body:        cur.Body,
			Description: cur.Description,
		}
		scheduleChanged := false
		if patch.Name != nil {
			spec.Name = *patch.Name
		}
		if patch.URL != nil {
			spec.URL = *patch.URL
		}
		if patch.Method != nil {
			spec.Method = *patch.Method
		}
		if patch.CronExpr != nil && *patch.CronExpr != cur.CronExpr {
			spec.CronExpr = *patch.CronExpr
			scheduleChanged = true
		}
		// A patch that names a timezone uses it; otherwise the existing
		// one is retained. The new cron is never evaluated against a
		// timezone the patch did not establish.
		if patch.Timezone != nil && *patch.Timezone != cur.Timezone {
			spec.Timezone = *patch.Timezone
			scheduleChanged = true
		}
		if patch.Headers != nil {
			spec.Headers = patch.Headers
		}
		if patch.Body != nil {
			spec.Body = patch.Body
		}
		if patch.Description != nil {
			spec.Description = patch.Description
		}

		normalizeSpec(&spec)
		if err := validateSpec(&spec); err != nil {
			return err
		}

		status := cur.Status
		if patch.Status != nil {
			if *patch.Status != store.JobActive && *patch.Status != store.JobPaused {
				return store.Invalid("status", "must be active or paused")
			}
			status = *patch.Status
		}

		now := s.utcNow()
		var next *time.Time
		switch {
		case status != store.JobActive:
			next = nil
		case scheduleChanged || cur.Status != store.JobActive || cur.NextExecution == nil:
			n := nextFire(spec.CronExpr, spec.Timezone, now)
			if n.IsZero() {
				return store.Invalid("cron_expression", "expression never fires")
			}
			next = &n
		default:
			next = cur.NextExecution
		}

		headersJSON, err := marshalHeaders(spec.Headers)
		if err != nil {
			return store.Invalid("headers", "%v", err)
		}

		_, err = tx.ExecContext(ctx, s.rebind(
			`UPDATE jobs SET name = ?, url = ?, method = ?, cron_expression = ?, timezone = ?,
			 headers = ?, body = ?, description = ?, status = ?, next_execution = ?, updated_at = ?
			 WHERE id = ?`),
			spec.Name, spec.URL, spec.Method, spec.CronExpr, spec.Timezone,
			headersJSON, spec.Body, spec.Description, status, next, now, jobID)
		if err != nil {
			return fmt.Errorf("update job: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	updated, err = s.GetJobAny(ctx, jobID)
	if err != nil {
		return nil, err
	}
	slog.Info("job updated", "id", jobID, "user", userID, "status", updated.Status)
	return updated, nil
}

// DeleteJob soft-deletes: status becomes deleted and next_execution is
// cleared. Execution history stays for audit. Deleting an already
// deleted job is a no-op.
func (s *Store) DeleteJob(ctx context.Context, userID, jobID int64) error {
	now := s.utcNow()
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE jobs SET status = ?, next_execution = NULL, updated_at = ?
		 WHERE id = ? AND user_id = ? AND status != ?`),
		store.JobDeleted, now, jobID, userID, store.JobDeleted)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Idempotent if the row is already soft-deleted; NotFound if it
		// never belonged to this user.
		var exists int
		err := s.db.QueryRowContext(ctx, s.rebind(
			`SELECT 1 FROM jobs WHERE id = ? AND user_id = ?`), jobID, userID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}
	slog.Info("job deleted", "id", jobID, "user", userID)
	return nil
}

// ToggleJob flips active <-> paused. Resuming recomputes the next
// firing from now; pausing clears it.
func (s *Store) ToggleJob(ctx context.Context, userID, jobID int64) (*store.Job, error) {
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var status, cron, tz string
		err := tx.QueryRowContext(ctx, s.rebind(
			`SELECT status, cron_expression, timezone FROM jobs
			 WHERE id = ? AND user_id = ? AND status != ?`),
			jobID, userID, store.JobDeleted).Scan(&status, &cron, &tz)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}

		now := s.utcNow()
		if status == store.JobActive {
			_, err = tx.ExecContext(ctx, s.rebind(
				`UPDATE jobs SET status = ?, next_execution = NULL, updated_at = ? WHERE id = ?`),
				store.JobPaused, now, jobID)
			return err
		}

		next := nextFire(cron, tz, now)
		if next.IsZero() {
			return store.Invalid("cron_expression", "expression never fires")
		}
		_, err = tx.ExecContext(ctx, s.rebind(
			`UPDATE jobs SET status = ?, next_execution = ?, updated_at = ? WHERE id = ?`),
			store.JobActive, next, now, jobID)
		return err
	})
	if err != nil {
		return nil, err
	}

	job, err := s.GetJobAny(ctx, jobID)
	if err != nil {
		return nil, err
	}
	slog.Info("job toggled", "id", jobID, "user", userID, "status", job.Status)
	return job, nil
}

// ListActiveJobs returns every active job across all users. Reconciler
// use only.
func (s *Store) ListActiveJobs(ctx context.Context) ([]store.Job, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY id`), store.JobActive)
	if err != nil {
		return nil, fmt.Errorf("list active jobs: %w", err)
	}
	defer rows.Close()

	var jobs []store.Job
	for rows.Next() {
		job, err := scanJobRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}
