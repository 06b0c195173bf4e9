// Package dispatcher keeps the in-memory live set of armed jobs, fires
// them when due and drives each firing through the repository and the
// HTTP invoker. It also carries the control surface used by the API
// layer and the reconciler.
package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/nextlevelbuilder/cronmaster/internal/cronexpr"
	"github.com/nextlevelbuilder/cronmaster/internal/store"
)

// Invoker is the outbound HTTP executor for one firing.
type Invoker interface {
	Invoke(ctx context.Context, job *store.Job) store.Outcome
}

// finalize retry backoff on concurrency conflicts.
var finalizeBackoff = []time.Duration{50 * time.Millisecond, 200 * time.Millisecond, 500 * time.Millisecond}

// queueFactor bounds how many firings may wait on the concurrency
// semaphore before new ones are dropped.
const queueFactor = 4

// entry is one armed job in the live set.
type entry struct {
	job      *store.Job
	next     time.Time
	expr     *cronexpr.Expr
	loc      *time.Location
	inflight bool
}

// Stats is the dispatcher's self-report for the ops surface.
type Stats struct {
	Armed         int        `json:"armed"`
	Running       bool       `json:"running"`
	StartedAt     time.Time  `json:"started_at"`
	LastReconcile *time.Time `json:"last_reconcile,omitempty"`
	Missed        int64      `json:"missed"`
	Dropped       int64      `json:"dropped"`
}

// Dispatcher owns the live set and the tick loop. All exported methods
// are safe for concurrent use.
type Dispatcher struct {
	store    store.JobStore
	invoker  Invoker
	workerID uuid.UUID
	tracer   trace.Tracer

	mu      sync.Mutex
	entries map[int64]*entry
	running bool

	sem       *semaphore.Weighted
	maxQueued int64
	queued    atomic.Int64

	missed  atomic.Int64
	dropped atomic.Int64

	startedAt     time.Time
	lastReconcile atomic.Pointer[time.Time]

	stop     chan struct{}
	loopDone chan struct{}
	inflight sync.WaitGroup

	// fireCtx bounds every invocation; cancelled after the shutdown
	// drain deadline so stragglers record as cancelled.
	fireCtx    context.Context
	fireCancel context.CancelFunc

	now func() time.Time
}

// Option tweaks Dispatcher construction.
type Option func(*Dispatcher)

// WithMaxConcurrent caps simultaneous firings; 0 means unbounded.
func WithMaxConcurrent(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.sem = semaphore.NewWeighted(int64(n))
			d.maxQueued = int64(n) * queueFactor
		}
	}
}

// WithClock overrides the dispatcher clock in tests.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// New builds a stopped dispatcher; Start arms the tick loop.
func New(js store.JobStore, inv Invoker, workerID uuid.UUID, opts ...Option) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		store:      js,
		invoker:    inv,
		workerID:   workerID,
		tracer:     otel.Tracer("cronmaster/dispatcher"),
		entries:    make(map[int64]*entry),
		stop:       make(chan struct{}),
		loopDone:   make(chan struct{}),
		fireCtx:    ctx,
		fireCancel: cancel,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// WorkerID identifies this dispatcher instance on execution rows.
func (d *Dispatcher) WorkerID() uuid.UUID { return d.workerID }

// Start launches the 1 s tick loop. Calling Start twice is an error.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return errors.New("dispatcher already running")
	}
	d.running = true
	d.startedAt = d.now()
	d.mu.Unlock()

	go d.runLoop()
	slog.Info("dispatcher started", "worker", d.workerID)
	return nil
}

// Running reports whether the tick loop is live.
func (d *Dispatcher) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *Dispatcher) runLoop() {
	defer close(d.loopDone)
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			d.tick()
		}
	}
}

// tick fires every due entry that is not already in flight. Missed
// instants collapse to the single most recent one; the skipped count
// is logged and tallied.
func (d *Dispatcher) tick() {
	now := d.now()

	d.mu.Lock()
	var due []*entry
	for _, e := range d.entries {
		if e.inflight || e.next.IsZero() || e.next.After(now) {
			continue
		}
		skipped := d.advancePastMisses(e, now)
		if skipped > 0 {
			d.missed.Add(int64(skipped))
			slog.Warn("missed firings skipped", "job", e.job.ID, "skipped", skipped)
		}
		e.inflight = true
		due = append(due, e)
	}
	d.mu.Unlock()

	for _, e := range due {
		d.launch(e, store.TriggerCron)
	}
}

// advancePastMisses walks e.next forward past every instant that is
// already in the past except the last one, which is the instant about
// to fire. Returns the number of skipped instants. Caller holds d.mu.
func (d *Dispatcher) advancePastMisses(e *entry, now time.Time) int {
	skipped := 0
	for {
		n := e.expr.Next(e.next, e.loc)
		if n.IsZero() || n.After(now) {
			return skipped
		}
		e.next = n
		skipped++
	}
}

// launch runs one firing, honoring the concurrency cap. Beyond the
// queue bound the firing is dropped and recorded as missed.
func (d *Dispatcher) launch(e *entry, triggeredBy string) {
	if d.sem != nil {
		if d.queued.Load() >= d.maxQueued {
			d.dropped.Add(1)
			d.missed.Add(1)
			slog.Warn("firing dropped, queue full", "job", e.job.ID)
			d.clearInflight(e.job.ID)
			return
		}
		d.queued.Add(1)
	}

	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		if d.sem != nil {
			if err := d.sem.Acquire(d.fireCtx, 1); err != nil {
				d.queued.Add(-1)
				d.clearInflight(e.job.ID)
				return
			}
			d.queued.Add(-1)
			defer d.sem.Release(1)
		}
		d.fire(e.job, triggeredBy)
		d.rearm(e.job.ID)
	}()
}

// fire runs the full firing sequence for a job snapshot: record start,
// invoke, record end. Repository failures surface in the log but never
// crash the loop.
func (d *Dispatcher) fire(job *store.Job, triggeredBy string) {
	ctx, span := d.tracer.Start(d.fireCtx, "job.fire",
		trace.WithAttributes(
			attribute.Int64("job.id", job.ID),
			attribute.String("job.trigger", triggeredBy),
			attribute.String("http.method", job.Method),
			attribute.String("http.url", job.URL),
		))
	defer span.End()

	execID, err := d.store.RecordExecutionStart(ctx, job.ID, triggeredBy, d.workerID)
	if err != nil {
		slog.Error("record execution start failed", "job", job.ID, "error", err)
		span.SetStatus(codes.Error, "record start failed")
		return
	}

	outcome := d.invoker.Invoke(ctx, job)

	span.SetAttributes(attribute.String("job.outcome", outcome.Status))
	if outcome.ResponseCode != nil {
		span.SetAttributes(attribute.Int("http.status_code", *outcome.ResponseCode))
	}
	if outcome.Status != store.ExecSuccess {
		span.SetStatus(codes.Error, outcome.Status)
	}

	if err := d.finalize(execID, outcome); err != nil {
		slog.Error("record execution end failed", "job", job.ID, "execution", execID, "error", err)
		return
	}

	slog.Info("job fired", "job", job.ID, "execution", execID,
		"status", outcome.Status, "duration_ms", outcome.DurationMS, "trigger", triggeredBy)
}

// finalize persists the outcome, retrying concurrency conflicts so the
// response data is not lost to a transient serialization failure.
func (d *Dispatcher) finalize(execID int64, outcome store.Outcome) error {
	var err error
	for attempt := 0; ; attempt++ {
		// Finalize must survive shutdown cancellation or the row stays
		// running forever.
		err = d.store.RecordExecutionEnd(context.Background(), execID, outcome)
		if err == nil || !errors.Is(err, store.ErrConcurrency) || attempt >= len(finalizeBackoff) {
			return err
		}
		time.Sleep(finalizeBackoff[attempt])
	}
}

// rearm refreshes the live set entry from the database after a firing
// completes. The firing is over, so the in-flight flag clears before
// the entry is rebuilt; the next due tick may fire again. A job that
// was paused or deleted mid-flight leaves the set here.
func (d *Dispatcher) rearm(jobID int64) {
	d.clearInflight(jobID)

	job, err := d.store.GetJobAny(context.Background(), jobID)
	if err != nil {
		slog.Error("rearm load failed, disarming", "job", jobID, "error", err)
		d.RemoveJob(jobID)
		return
	}
	if job.Status != store.JobActive {
		d.RemoveJob(jobID)
		return
	}
	d.arm(job)
}

func (d *Dispatcher) clearInflight(jobID int64) {
	d.mu.Lock()
	if e, ok := d.entries[jobID]; ok {
		e.inflight = false
	}
	d.mu.Unlock()
}

// AddJob arms a job, replacing any existing entry with a fresh
// snapshot. Non-active jobs are ignored. Idempotent.
func (d *Dispatcher) AddJob(job *store.Job) {
	if job == nil || job.Status != store.JobActive {
		return
	}
	d.arm(job)
}

// arm installs a fresh entry for an active job. An in-flight flag on an
// existing entry carries over so a reconcile re-snapshot cannot start a
// second scheduled firing of a job mid-flight.
func (d *Dispatcher) arm(job *store.Job) {
	expr, err := cronexpr.Parse(job.CronExpr)
	if err != nil {
		slog.Error("unschedulable job skipped", "job", job.ID, "error", err)
		return
	}
	loc, err := time.LoadLocation(job.Timezone)
	if err != nil {
		loc = time.UTC
	}

	next := time.Time{}
	if job.NextExecution != nil {
		next = *job.NextExecution
	}
	if next.IsZero() {
		next = expr.Next(d.now(), loc)
	}
	if next.IsZero() {
		slog.Error("job never fires, disarming", "job", job.ID, "cron", job.CronExpr)
		d.RemoveJob(job.ID)
		return
	}

	snapshot := *job
	d.mu.Lock()
	prev := d.entries[job.ID]
	e := &entry{job: &snapshot, next: next, expr: expr, loc: loc}
	if prev != nil {
		e.inflight = prev.inflight
	}
	d.entries[job.ID] = e
	d.mu.Unlock()
	slog.Debug("job armed", "job", job.ID, "next", next)
}

// RemoveJob disarms a job. Removing an unknown id is a no-op; an
// in-flight firing finishes and records normally.
func (d *Dispatcher) RemoveJob(jobID int64) {
	d.mu.Lock()
	delete(d.entries, jobID)
	d.mu.Unlock()
}

// ArmedIDs returns the ids currently in the live set.
func (d *Dispatcher) ArmedIDs() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]int64, 0, len(d.entries))
	for id := range d.entries {
		ids = append(ids, id)
	}
	return ids
}

// Trigger fires a job once on demand with triggered_by=manual.
// Ownership is checked through the repository. A manual firing is not
// serialized against a scheduled one and may overlap it.
func (d *Dispatcher) Trigger(ctx context.Context, userID, jobID int64) (int64, error) {
	job, err := d.store.GetJob(ctx, userID, jobID)
	if err != nil {
		return 0, err
	}

	execID, err := d.store.RecordExecutionStart(ctx, jobID, store.TriggerManual, d.workerID)
	if err != nil {
		return 0, err
	}

	snapshot := *job
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		fctx, span := d.tracer.Start(d.fireCtx, "job.fire",
			trace.WithAttributes(
				attribute.Int64("job.id", jobID),
				attribute.String("job.trigger", store.TriggerManual)))
		defer span.End()

		outcome := d.invoker.Invoke(fctx, &snapshot)
		span.SetAttributes(attribute.String("job.outcome", outcome.Status))
		if err := d.finalize(execID, outcome); err != nil {
			slog.Error("record execution end failed", "job", jobID, "execution", execID, "error", err)
		}
		slog.Info("job fired", "job", jobID, "execution", execID,
			"status", outcome.Status, "duration_ms", outcome.DurationMS, "trigger", store.TriggerManual)
	}()
	return execID, nil
}

// Shutdown stops the tick loop, waits for in-flight firings up to the
// drain deadline, then cancels the rest so they record as cancelled.
func (d *Dispatcher) Shutdown(drain time.Duration) {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.mu.Unlock()

	close(d.stop)
	<-d.loopDone

	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("dispatcher drained")
	case <-time.After(drain):
		slog.Warn("drain deadline hit, cancelling in-flight firings")
		d.fireCancel()
		<-done
	}
	d.fireCancel()
	slog.Info("dispatcher stopped", "missed", d.missed.Load(), "dropped", d.dropped.Load())
}

// MarkReconciled records a completed reconcile pass for Stats.
func (d *Dispatcher) MarkReconciled(t time.Time) {
	d.lastReconcile.Store(&t)
}

// Stats snapshots the dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	armed := len(d.entries)
	running := d.running
	started := d.startedAt
	d.mu.Unlock()

	return Stats{
		Armed:         armed,
		Running:       running,
		StartedAt:     started,
		LastReconcile: d.lastReconcile.Load(),
		Missed:        d.missed.Load(),
		Dropped:       d.dropped.Load(),
	}
}
