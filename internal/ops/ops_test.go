package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/cronmaster/internal/dispatcher"
	"github.com/nextlevelbuilder/cronmaster/internal/maintain"
	"github.com/nextlevelbuilder/cronmaster/internal/store"
	"github.com/nextlevelbuilder/cronmaster/internal/store/db"
)

type noopInvoker struct{}

func (noopInvoker) Invoke(ctx context.Context, job *store.Job) store.Outcome {
	return store.Outcome{Status: store.ExecSuccess}
}

func newMux(t *testing.T) (*http.ServeMux, *dispatcher.Dispatcher) {
	t.Helper()
	s, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	d := dispatcher.New(s, noopInvoker{}, uuid.Must(uuid.NewV7()))
	m := maintain.New(s, d)

	mux := http.NewServeMux()
	New(s, m).RegisterRoutes(mux)
	return mux, d
}

func TestHealthzReflectsDispatcher(t *testing.T) {
	mux, d := newMux(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("stopped dispatcher: code = %d, want 503", rec.Code)
	}

	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Shutdown(time.Second)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("running dispatcher: code = %d, want 200", rec.Code)
	}
}

func TestStats(t *testing.T) {
	mux, d := newMux(t)
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Shutdown(time.Second)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}

	var snap maintain.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !snap.Running {
		t.Fatal("running = false")
	}
}
