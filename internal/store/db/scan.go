package db

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/cronmaster/internal/store"
)

const jobColumns = `id, user_id, name, url, method, cron_expression, timezone, headers,
 body, description, status, success_count, failure_count, last_execution, next_execution,
 created_at, updated_at`

const execColumns = `id, job_id, executed_at, status, duration_ms, response_code,
 response_body, response_headers, error_message, triggered_by, worker_id`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJobRow(row rowScanner) (*store.Job, error) {
	var j store.Job
	var headersJSON []byte

	err := row.Scan(&j.ID, &j.UserID, &j.Name, &j.URL, &j.Method, &j.CronExpr, &j.Timezone,
		&headersJSON, &j.Body, &j.Description, &j.Status, &j.SuccessCount, &j.FailureCount,
		&j.LastExecution, &j.NextExecution, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if len(headersJSON) > 0 {
		if err := json.Unmarshal(headersJSON, &j.Headers); err != nil {
			slog.Warn("job headers decode failed", "job", j.ID, "error", err)
		}
	}
	return &j, nil
}

func scanExecRow(row rowScanner) (*store.Execution, error) {
	var e store.Execution
	var headersJSON []byte
	var workerID *string

	err := row.Scan(&e.ID, &e.JobID, &e.ExecutedAt, &e.Status, &e.DurationMS, &e.ResponseCode,
		&e.ResponseBody, &headersJSON, &e.ErrorMessage, &e.TriggeredBy, &workerID)
	if err != nil {
		return nil, err
	}

	if len(headersJSON) > 0 {
		if err := json.Unmarshal(headersJSON, &e.RespHeaders); err != nil {
			slog.Warn("execution headers decode failed", "execution", e.ID, "error", err)
		}
	}
	if workerID != nil {
		if id, perr := uuid.Parse(*workerID); perr == nil {
			e.WorkerID = &id
		}
	}
	return &e, nil
}

// marshalHeaders serializes a header map for storage; nil maps persist
// as SQL NULL rather than "null".
func marshalHeaders(h map[string]string) ([]byte, error) {
	if len(h) == 0 {
		return nil, nil
	}
	return json.Marshal(h)
}

// utcNow returns the store clock truncated to milliseconds, keeping
// round-trips identical across Postgres and SQLite.
func (s *Store) utcNow() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}
