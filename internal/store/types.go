// Package store defines the durable job and execution model and the
// repository interface the dispatcher and API layer consume.
package store

import (
	"time"

	"github.com/google/uuid"
)

// Job lifecycle states.
const (
	JobActive  = "active"
	JobPaused  = "paused"
	JobDeleted = "deleted"
)

// Execution states.
const (
	ExecRunning   = "running"
	ExecSuccess   = "success"
	ExecFailed    = "failed"
	ExecTimeout   = "timeout"
	ExecCancelled = "cancelled"
)

// Trigger origins.
const (
	TriggerCron   = "cron"
	TriggerManual = "manual"
)

// User account states. Jobs belong to exactly one user.
const (
	AccountActive    = "active"
	AccountSuspended = "suspended"
	AccountDeleted   = "deleted"
)

// Categorized invocation failure reasons recorded on execution rows.
const (
	ReasonDNSFailure    = "dns_failure"
	ReasonConnRefused   = "connect_refused"
	ReasonTLSFailure    = "tls_failure"
	ReasonTimeout       = "timeout"
	ReasonTruncatedRead = "response_truncated_read_error"
	ReasonNon2xx        = "http_non_2xx"
	ReasonWorkerCrashed = "worker_crashed"
)

// AllowedMethods is the request method whitelist for job templates.
var AllowedMethods = []string{"GET", "POST", "PUT", "DELETE", "PATCH"}

// User is referenced for ownership scoping; auth lives in a separate
// collaborator that shares this table.
type User struct {
	ID            int64     `db:"id" json:"id"`
	Name          string    `db:"name" json:"name"`
	Email         string    `db:"email" json:"email"`
	PasswordHash  string    `db:"password_hash" json:"-"`
	AccountStatus string    `db:"account_status" json:"account_status"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// Job is a registered URL-invocation job with its cron schedule and
// bookkeeping counters.
type Job struct {
	ID            int64             `json:"id"`
	UserID        int64             `json:"user_id"`
	Name          string            `json:"name"`
	URL           string            `json:"url"`
	Method        string            `json:"method"`
	CronExpr      string            `json:"cron_expression"`
	Timezone      string            `json:"timezone"`
	Headers       map[string]string `json:"headers,omitempty"`
	Body          *string           `json:"body,omitempty"`
	Description   *string           `json:"description,omitempty"`
	Status        string            `json:"status"`
	SuccessCount  int64             `json:"success_count"`
	FailureCount  int64             `json:"failure_count"`
	LastExecution *time.Time        `json:"last_execution,omitempty"`
	NextExecution *time.Time        `json:"next_execution,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Execution is one invocation attempt of a job.
type Execution struct {
	ID           int64             `json:"id"`
	JobID        int64             `json:"job_id"`
	ExecutedAt   time.Time         `json:"executed_at"`
	Status       string            `json:"status"`
	DurationMS   int64             `json:"duration_ms"`
	ResponseCode *int              `json:"response_code,omitempty"`
	ResponseBody *string           `json:"response_body,omitempty"`
	RespHeaders  map[string]string `json:"response_headers,omitempty"`
	ErrorMessage *string           `json:"error_message,omitempty"`
	TriggeredBy  string            `json:"triggered_by"`
	WorkerID     *uuid.UUID        `json:"-"`
}

// JobSpec is the validated input for creating a job.
type JobSpec struct {
	Name        string
	URL         string
	Method      string
	CronExpr    string
	Timezone    string // empty defaults to UTC
	Headers     map[string]string
	Body        *string
	Description *string
}

// JobPatch holds optional fields for a partial job update. Only non-nil
// fields are applied.
type JobPatch struct {
	Name        *string
	URL         *string
	Method      *string
	CronExpr    *string
	Timezone    *string
	Headers     map[string]string
	Body        *string
	Description *string
	Status      *string // "active" or "paused"; deletion goes through DeleteJob
}

// ListOpts configures job listing: status filter, case-insensitive
// substring search over name and URL, pagination and ordering.
type ListOpts struct {
	Status string
	Search string
	Page   int    // 1-based; values < 1 mean page 1
	Limit  int    // capped at MaxPageSize
	SortBy string // one of SortFields; defaults to created_at
	Desc   bool
}

// MaxPageSize caps the page size of list operations.
const MaxPageSize = 100

// SortFields is the sortBy whitelist; ties always break on id ASC so
// pagination stays stable.
var SortFields = []string{"created_at", "updated_at", "name", "status", "next_execution", "last_execution"}

// ExecListOpts paginates an execution log listing.
type ExecListOpts struct {
	Page  int
	Limit int
}

// Outcome is the structured result of one HTTP invocation, produced by
// the invoker and persisted by RecordExecutionEnd.
type Outcome struct {
	Status       string // success, failed, timeout, cancelled
	DurationMS   int64
	ResponseCode *int
	ResponseBody *string
	RespHeaders  map[string]string
	ErrorMessage *string
}
