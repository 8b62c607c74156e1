package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"

	"github.com/jnoonan94/ccd-intro/internal/pipeline"
	"github.com/jnoonan94/ccd-intro/internal/solve"
	"github.com/jnoonan94/ccd-intro/internal/storage"
)

type noopSolver struct{}

func (noopSolver) AssignWCS(ctx context.Context, imagePath string, ra, dec float64) (*solve.Result, error) {
	return &solve.Result{InputPath: imagePath, OutputPath: solve.OutputPath(imagePath)}, nil
}

func testServer(t *testing.T) (*httptest.Server, *storage.Store, *pipeline.Pipeline) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := storage.New(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	pipe := pipeline.New(context.Background(), 1, noopSolver{}, log, store)
	t.Cleanup(pipe.Stop)

	s := New(":0", store, pipe, log)
	r := mux.NewRouter()
	s.setupRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, store, pipe
}

func TestHealthz(t *testing.T) {
	srv, _, _ := testServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok" {
		t.Errorf("unexpected body %q", body)
	}
}

func TestJobsEndpoint(t *testing.T) {
	srv, store, _ := testServer(t)

	err := store.RecordJobQueued(storage.JobRecord{
		ID:        "solve-1",
		JobType:   "solve",
		Status:    "queued",
		InputPath: "/data/m13.fits",
	})
	if err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(srv.URL + "/jobs")
	if err != nil {
		t.Fatalf("GET /jobs: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var recs []storage.JobRecord
	if err := json.NewDecoder(resp.Body).Decode(&recs); err != nil {
		t.Fatalf("decoding jobs: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "solve-1" {
		t.Errorf("unexpected jobs payload: %+v", recs)
	}
}

func TestJobMetaEndpoint(t *testing.T) {
	srv, store, _ := testServer(t)

	_ = store.RecordJobQueued(storage.JobRecord{ID: "solve-2", JobType: "solve", Status: "queued"})
	_ = store.RecordJobResult("solve-2", "completed", "/out.fits", storage.SolveStats{Pairs: 9}, map[string]any{"pairs": 9}, "")

	resp, err := http.Get(srv.URL + "/jobs/solve-2/meta")
	if err != nil {
		t.Fatalf("GET meta: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var meta map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		t.Fatalf("decoding meta: %v", err)
	}
	if meta["pairs"] != float64(9) {
		t.Errorf("unexpected meta: %v", meta)
	}

	missing, err := http.Get(srv.URL + "/jobs/ghost/meta")
	if err != nil {
		t.Fatal(err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("unknown job should 404, got %d", missing.StatusCode)
	}
}

func TestEventFor(t *testing.T) {
	res := pipeline.Result{
		Job:   pipeline.Job{ID: "j1", File: "a.fits"},
		Solve: &solve.Result{OutputPath: "a_wcs.fits"},
	}
	ev := eventFor(res)
	if ev.Status != "completed" || ev.JobID != "j1" {
		t.Errorf("unexpected event %+v", ev)
	}

	res.Error = context.DeadlineExceeded
	ev = eventFor(res)
	if ev.Status != "failed" || ev.Error == "" {
		t.Errorf("failed result should render as failed event, got %+v", ev)
	}
}
