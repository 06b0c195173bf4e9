package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// JobStore is the durable repository for jobs and their executions.
// Read and mutate operations taking a userID enforce ownership: a job
// owned by someone else behaves exactly like a missing one.
type JobStore interface {
	CreateJob(ctx context.Context, userID int64, spec JobSpec) (*Job, error)
	GetJob(ctx context.Context, userID, jobID int64) (*Job, error)
	ListJobs(ctx context.Context, userID int64, opts ListOpts) ([]Job, int, error)
	UpdateJob(ctx context.Context, userID, jobID int64, patch JobPatch) (*Job, error)
	DeleteJob(ctx context.Context, userID, jobID int64) error
	ToggleJob(ctx context.Context, userID, jobID int64) (*Job, error)

	// Execution lifecycle, called by the dispatcher.
	RecordExecutionStart(ctx context.Context, jobID int64, triggeredBy string, workerID uuid.UUID) (int64, error)
	RecordExecutionEnd(ctx context.Context, execID int64, outcome Outcome) error

	// Log browsing for the API layer. Ownership derives through the
	// parent job.
	ListExecutions(ctx context.Context, userID, jobID int64, opts ExecListOpts) ([]Execution, int, error)

	// Global operations used by the reconciler; no user scope.
	ListActiveJobs(ctx context.Context) ([]Job, error)
	ListOrphanedRunning(ctx context.Context, workerID uuid.UUID, startedBefore time.Time) ([]int64, error)
	FinalizeOrphan(ctx context.Context, execID int64) error
	PruneExecutions(ctx context.Context, olderThan time.Time) (int64, error)

	// GetJobAny loads a job regardless of owner or deletion. Used only
	// by the dispatcher to snapshot templates and re-arm.
	GetJobAny(ctx context.Context, jobID int64) (*Job, error)
}

// UserStore carries the minimal user operations the core needs for
// ownership scoping. Registration and auth live in a collaborator that
// shares the same tables.
type UserStore interface {
	CreateUser(ctx context.Context, name, email, passwordHash string) (*User, error)
	GetUser(ctx context.Context, userID int64) (*User, error)
}
