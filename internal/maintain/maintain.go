// Package maintain runs the background upkeep passes: reconciling the
// dispatcher's live set against the database, pruning old execution
// rows, reclaiming executions orphaned by a crashed worker, and
// periodic health snapshots.
package maintain

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/nextlevelbuilder/cronmaster/internal/dispatcher"
	"github.com/nextlevelbuilder/cronmaster/internal/store"
)

const healthInterval = time.Minute

// Maintainer drives the upkeep loops for one dispatcher instance.
type Maintainer struct {
	store store.JobStore
	disp  *dispatcher.Dispatcher

	reconcileEvery time.Duration
	pruneEvery     time.Duration
	retention      time.Duration

	startedAt time.Time
	proc      *process.Process
}

// Option tweaks Maintainer construction.
type Option func(*Maintainer)

// WithReconcileInterval overrides how often the live set is reconciled.
func WithReconcileInterval(d time.Duration) Option {
	return func(m *Maintainer) {
		if d > 0 {
			m.reconcileEvery = d
		}
	}
}

// WithPruneInterval overrides how often old executions are pruned.
func WithPruneInterval(d time.Duration) Option {
	return func(m *Maintainer) {
		if d > 0 {
			m.pruneEvery = d
		}
	}
}

// WithRetention overrides how long finalized executions are kept.
func WithRetention(d time.Duration) Option {
	return func(m *Maintainer) {
		if d > 0 {
			m.retention = d
		}
	}
}

// New builds a Maintainer with production defaults: reconcile every
// 5 minutes, prune hourly, keep 30 days of executions.
func New(js store.JobStore, d *dispatcher.Dispatcher, opts ...Option) *Maintainer {
	m := &Maintainer{
		store:          js,
		disp:           d,
		reconcileEvery: 5 * time.Minute,
		pruneEvery:     time.Hour,
		retention:      30 * 24 * time.Hour,
		startedAt:      time.Now(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		m.proc = p
	}
	return m
}

// Run executes the startup passes and then loops until ctx ends. The
// orphan reclaim runs exactly once, before the first reconcile arms
// anything.
func (m *Maintainer) Run(ctx context.Context) {
	if n, err := m.ReclaimOrphans(ctx); err != nil {
		slog.Error("orphan reclaim failed", "error", err)
	} else if n > 0 {
		slog.Info("orphan reclaim complete", "reclaimed", n)
	}

	if err := m.Reconcile(ctx); err != nil {
		slog.Error("initial reconcile failed", "error", err)
	}

	reconcile := time.NewTicker(m.reconcileEvery)
	prune := time.NewTicker(m.pruneEvery)
	health := time.NewTicker(healthInterval)
	defer reconcile.Stop()
	defer prune.Stop()
	defer health.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-reconcile.C:
			if err := m.Reconcile(ctx); err != nil {
				slog.Error("reconcile failed", "error", err)
			}
		case <-prune.C:
			if _, err := m.Prune(ctx); err != nil {
				slog.Error("prune failed", "error", err)
			}
		case <-health.C:
			m.logHealth()
		}
	}
}

// Reconcile makes the live set match the database: every active job is
// re-armed with a fresh template snapshot, and armed ids with no active
// row left are disarmed. The database always wins.
func (m *Maintainer) Reconcile(ctx context.Context) error {
	jobs, err := m.store.ListActiveJobs(ctx)
	if err != nil {
		return err
	}

	active := make(map[int64]bool, len(jobs))
	for i := range jobs {
		active[jobs[i].ID] = true
		m.disp.AddJob(&jobs[i])
	}

	removed := 0
	for _, id := range m.disp.ArmedIDs() {
		if !active[id] {
			m.disp.RemoveJob(id)
			removed++
		}
	}

	now := time.Now()
	m.disp.MarkReconciled(now)
	slog.Info("reconciled", "active", len(jobs), "removed", removed)
	return nil
}

// ReclaimOrphans finalizes running execution rows left behind by other
// workers before this process started. Each becomes a failed execution
// with the worker_crashed reason.
func (m *Maintainer) ReclaimOrphans(ctx context.Context) (int, error) {
	ids, err := m.store.ListOrphanedRunning(ctx, m.disp.WorkerID(), m.startedAt.UTC())
	if err != nil {
		return 0, err
	}
	reclaimed := 0
	for _, id := range ids {
		if err := m.store.FinalizeOrphan(ctx, id); err != nil {
			slog.Error("finalize orphan failed", "execution", id, "error", err)
			continue
		}
		reclaimed++
	}
	return reclaimed, nil
}

// Prune deletes finalized executions older than the retention window.
func (m *Maintainer) Prune(ctx context.Context) (int64, error) {
	return m.store.PruneExecutions(ctx, time.Now().UTC().Add(-m.retention))
}

// Snapshot is one health report, also served by the ops endpoint.
type Snapshot struct {
	UptimeMS      int64      `json:"uptime_ms"`
	Armed         int        `json:"armed"`
	Running       bool       `json:"running"`
	Missed        int64      `json:"missed"`
	Dropped       int64      `json:"dropped"`
	LastReconcile *time.Time `json:"last_reconcile,omitempty"`
	RSSBytes      uint64     `json:"rss_bytes,omitempty"`
}

// Health assembles the current snapshot.
func (m *Maintainer) Health() Snapshot {
	st := m.disp.Stats()
	snap := Snapshot{
		UptimeMS:      time.Since(m.startedAt).Milliseconds(),
		Armed:         st.Armed,
		Running:       st.Running,
		Missed:        st.Missed,
		Dropped:       st.Dropped,
		LastReconcile: st.LastReconcile,
	}
	if m.proc != nil {
		if mem, err := m.proc.MemoryInfo(); err == nil {
			snap.RSSBytes = mem.RSS
		}
	}
	return snap
}

func (m *Maintainer) logHealth() {
	snap := m.Health()
	slog.Info("health",
		"uptime_ms", snap.UptimeMS,
		"armed", snap.Armed,
		"missed", snap.Missed,
		"dropped", snap.Dropped,
		"rss_bytes", snap.RSSBytes)
}
