package maintain

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/cronmaster/internal/dispatcher"
	"github.com/nextlevelbuilder/cronmaster/internal/store"
	"github.com/nextlevelbuilder/cronmaster/internal/store/db"
)

type noopInvoker struct{}

func (noopInvoker) Invoke(ctx context.Context, job *store.Job) store.Outcome {
	return store.Outcome{Status: store.ExecSuccess}
}

func newFixture(t *testing.T) (*db.Store, *dispatcher.Dispatcher, int64) {
	t.Helper()
	s, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	u, err := s.CreateUser(context.Background(), "User", "u@example.com", "hash")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	d := dispatcher.New(s, noopInvoker{}, uuid.Must(uuid.NewV7()))
	return s, d, u.ID
}

func createJob(t *testing.T, s *db.Store, userID int64, name string) *store.Job {
	t.Helper()
	job, err := s.CreateJob(context.Background(), userID, store.JobSpec{
		Name: name, URL: "https://example.com/hook", Method: "GET", CronExpr: "*/5 * * * *",
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job
}

func TestReconcileConverges(t *testing.T) {
	s, d, userID := newFixture(t)
	ctx := context.Background()
	m := New(s, d)

	a := createJob(t, s, userID, "a")
	b := createJob(t, s, userID, "b")

	if err := m.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if got := len(d.ArmedIDs()); got != 2 {
		t.Fatalf("armed = %d, want 2", got)
	}

	// Pause one and delete the other behind the dispatcher's back; the
	// next pass must converge on the database state.
	if _, err := s.ToggleJob(ctx, userID, a.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := s.DeleteJob(ctx, userID, b.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := m.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if got := len(d.ArmedIDs()); got != 0 {
		t.Fatalf("armed = %d, want 0 after convergence", got)
	}

	if d.Stats().LastReconcile == nil {
		t.Fatal("last reconcile not marked")
	}
}

func TestReclaimOrphans(t *testing.T) {
	s, d, userID := newFixture(t)
	ctx := context.Background()
	m := New(s, d)

	job := createJob(t, s, userID, "orphaned")

	// A running row stamped by a dead worker, started before this
	// process.
	deadWorker := uuid.Must(uuid.NewV7())
	execID, err := s.RecordExecutionStart(ctx, job.ID, store.TriggerCron, deadWorker)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	m.startedAt = time.Now().Add(time.Minute)

	n, err := m.ReclaimOrphans(ctx)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if n != 1 {
		t.Fatalf("reclaimed = %d, want 1", n)
	}

	execs, _, err := s.ListExecutions(ctx, userID, job.ID, store.ExecListOpts{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if execs[0].ID != execID || execs[0].Status != store.ExecFailed {
		t.Fatalf("execution = %+v", execs[0])
	}
	if execs[0].ErrorMessage == nil || *execs[0].ErrorMessage != store.ReasonWorkerCrashed {
		t.Fatalf("error = %v", execs[0].ErrorMessage)
	}

	got, _ := s.GetJob(ctx, userID, job.ID)
	if got.FailureCount != 1 {
		t.Fatalf("failure_count = %d, want 1", got.FailureCount)
	}
}

func TestHealthSnapshot(t *testing.T) {
	s, d, userID := newFixture(t)
	m := New(s, d)

	createJob(t, s, userID, "h")
	if err := m.Reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	snap := m.Health()
	if snap.Armed != 1 {
		t.Fatalf("armed = %d, want 1", snap.Armed)
	}
	if snap.LastReconcile == nil {
		t.Fatal("last reconcile missing")
	}
	if snap.RSSBytes == 0 {
		t.Fatal("rss not populated")
	}
}
