package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/snapetech/showsyncr/internal/cache"
	"github.com/snapetech/showsyncr/internal/catalog"
	"github.com/snapetech/showsyncr/internal/processor"
	"github.com/snapetech/showsyncr/internal/state"
)

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type fakeTrigger struct {
	running   bool
	next      time.Time
	triggered int
}

func (f *fakeTrigger) TriggerNow()        { f.triggered++ }
func (f *fakeTrigger) NextRun() time.Time { return f.next }
func (f *fakeTrigger) IsRunning() bool    { return f.running }

type fakeSonarr struct{ ok bool }

func (f fakeSonarr) Healthy(context.Context) bool { return f.ok }

func newServer(t *testing.T, sched *fakeTrigger, sonarr fakeSonarr) (*Server, *cache.Store, *state.Manager) {
	t.Helper()
	dir := t.TempDir()
	store, err := cache.Open(filepath.Join(dir, "shows.db"), discard())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	st := state.Load(filepath.Join(dir, "state.json"), discard())
	proc := processor.New(processor.Config{
		Rules: processor.Rules{Selections: []processor.Selection{{Name: "all"}}},
	}, discard())
	srv := New(Config{}, Deps{Store: store, State: st, Sched: sched, Sonarr: sonarr, Proc: proc}, discard())
	return srv, store, st
}

func seedShow(t *testing.T, store *cache.Store, id int, status string) {
	t.Helper()
	tvdb := 1000 + id
	show := &catalog.Show{
		TVMazeID:         id,
		Title:            fmt.Sprintf("Show %d", id),
		TVDBID:           &tvdb,
		Language:         "English",
		Type:             "Scripted",
		Status:           "Running",
		Genres:           []string{"Drama"},
		ProcessingStatus: status,
		LastChecked:      time.Now().UTC(),
	}
	if err := store.Upsert(show); err != nil {
		t.Fatalf("upsert show %d: %v", id, err)
	}
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return body
}

func TestHealth(t *testing.T) {
	srv, _, _ := newServer(t, &fakeTrigger{}, fakeSonarr{ok: true})
	w := do(t, srv.routes(), http.MethodGet, "/health")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if body := decode(t, w); body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestReady(t *testing.T) {
	srv, _, _ := newServer(t, &fakeTrigger{}, fakeSonarr{ok: true})
	w := do(t, srv.routes(), http.MethodGet, "/ready")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decode(t, w)
	if body["status"] != "ready" {
		t.Errorf("status = %v", body["status"])
	}
	checks := body["checks"].(map[string]any)
	if checks["database"] != true || checks["sonarr"] != true {
		t.Errorf("checks = %v", checks)
	}
}

func TestReadySonarrDown(t *testing.T) {
	srv, _, _ := newServer(t, &fakeTrigger{}, fakeSonarr{ok: false})
	w := do(t, srv.routes(), http.MethodGet, "/ready")

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	body := decode(t, w)
	if body["status"] != "not_ready" {
		t.Errorf("status = %v", body["status"])
	}
	checks := body["checks"].(map[string]any)
	if checks["database"] != true || checks["sonarr"] != false {
		t.Errorf("checks = %v", checks)
	}
}

func TestReadyDatabaseDown(t *testing.T) {
	srv, store, _ := newServer(t, &fakeTrigger{}, fakeSonarr{ok: true})
	store.Close()
	w := do(t, srv.routes(), http.MethodGet, "/ready")

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	checks := decode(t, w)["checks"].(map[string]any)
	if checks["database"] != false {
		t.Errorf("checks = %v", checks)
	}
}

func TestTrigger(t *testing.T) {
	sched := &fakeTrigger{}
	srv, _, _ := newServer(t, sched, fakeSonarr{ok: true})
	w := do(t, srv.routes(), http.MethodPost, "/trigger")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if body := decode(t, w); body["status"] != "triggered" {
		t.Errorf("body = %v", body)
	}
	if sched.triggered != 1 {
		t.Errorf("triggered %d times, want 1", sched.triggered)
	}
}

func TestTriggerAlreadyRunning(t *testing.T) {
	sched := &fakeTrigger{running: true}
	srv, _, _ := newServer(t, sched, fakeSonarr{ok: true})
	w := do(t, srv.routes(), http.MethodPost, "/trigger")

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	body := decode(t, w)
	if body["status"] != "already_running" {
		t.Errorf("status = %v", body["status"])
	}
	if body["message"] != "Sync cycle already in progress" {
		t.Errorf("message = %v", body["message"])
	}
	if sched.triggered != 0 {
		t.Errorf("triggered %d times, want 0", sched.triggered)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _, _ := newServer(t, &fakeTrigger{}, fakeSonarr{ok: true})
	h := srv.routes()

	cases := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/trigger"},
		{http.MethodGet, "/refilter"},
		{http.MethodPost, "/health"},
		{http.MethodPost, "/state"},
	}
	for _, tc := range cases {
		if w := do(t, h, tc.method, tc.path); w.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: status = %d, want 405", tc.method, tc.path, w.Code)
		}
	}
}

func TestUnknownPath(t *testing.T) {
	srv, _, _ := newServer(t, &fakeTrigger{}, fakeSonarr{ok: true})
	if w := do(t, srv.routes(), http.MethodGet, "/nope"); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestState(t *testing.T) {
	sched := &fakeTrigger{
		running: true,
		next:    time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC),
	}
	srv, store, st := newServer(t, sched, fakeSonarr{ok: true})
	seedShow(t, store, 1, catalog.StatusPending)
	seedShow(t, store, 2, catalog.StatusPending)
	seedShow(t, store, 3, catalog.StatusAdded)
	st.Update(func(s *state.State) {
		s.LastFullSync = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		s.HighestTVMazeID = 4200
	})

	w := do(t, srv.routes(), http.MethodGet, "/state")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decode(t, w)

	if body["last_full_sync"] != "2026-03-01T12:00:00Z" {
		t.Errorf("last_full_sync = %v", body["last_full_sync"])
	}
	if v, ok := body["last_incremental_sync"]; !ok || v != nil {
		t.Errorf("last_incremental_sync = %v (present %t), want null", v, ok)
	}
	if body["highest_tvmaze_id"] != float64(4200) {
		t.Errorf("highest_tvmaze_id = %v", body["highest_tvmaze_id"])
	}
	if body["next_scheduled_run"] != "2026-03-01T18:00:00Z" {
		t.Errorf("next_scheduled_run = %v", body["next_scheduled_run"])
	}
	if body["sync_running"] != true {
		t.Errorf("sync_running = %v", body["sync_running"])
	}
	if body["total_shows"] != float64(3) {
		t.Errorf("total_shows = %v", body["total_shows"])
	}
	counts := body["status_counts"].(map[string]any)
	if counts["pending"] != float64(2) || counts["added"] != float64(1) {
		t.Errorf("status_counts = %v", counts)
	}
}

func TestShowsWithoutStatus(t *testing.T) {
	srv, store, _ := newServer(t, &fakeTrigger{}, fakeSonarr{ok: true})
	seedShow(t, store, 1, catalog.StatusPending)

	w := do(t, srv.routes(), http.MethodGet, "/shows")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decode(t, w)
	if body["count"] != float64(0) {
		t.Errorf("count = %v", body["count"])
	}
	if body["limit"] != float64(100) || body["offset"] != float64(0) {
		t.Errorf("limit = %v offset = %v", body["limit"], body["offset"])
	}
	// Empty list, not null.
	if !strings.Contains(w.Body.String(), `"shows":[]`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestShowsByStatus(t *testing.T) {
	srv, store, _ := newServer(t, &fakeTrigger{}, fakeSonarr{ok: true})
	for id := 1; id <= 3; id++ {
		seedShow(t, store, id, catalog.StatusPending)
	}
	seedShow(t, store, 4, catalog.StatusAdded)
	h := srv.routes()

	w := do(t, h, http.MethodGet, "/shows?status=pending&limit=2")
	body := decode(t, w)
	if body["count"] != float64(2) || body["limit"] != float64(2) {
		t.Errorf("count = %v limit = %v", body["count"], body["limit"])
	}
	shows := body["shows"].([]any)
	for _, raw := range shows {
		show := raw.(map[string]any)
		if show["processing_status"] != "pending" {
			t.Errorf("show = %v", show)
		}
	}

	w = do(t, h, http.MethodGet, "/shows?status=pending&limit=2&offset=2")
	if body := decode(t, w); body["count"] != float64(1) {
		t.Errorf("count = %v, want 1", body["count"])
	}
}

func TestShowsEchoesRequestedLimit(t *testing.T) {
	srv, store, _ := newServer(t, &fakeTrigger{}, fakeSonarr{ok: true})
	seedShow(t, store, 1, catalog.StatusPending)

	w := do(t, srv.routes(), http.MethodGet, "/shows?status=pending&limit=5000")
	body := decode(t, w)
	if body["limit"] != float64(5000) {
		t.Errorf("limit = %v, want 5000", body["limit"])
	}
}

func TestShowsBadParamsFallBack(t *testing.T) {
	srv, store, _ := newServer(t, &fakeTrigger{}, fakeSonarr{ok: true})
	seedShow(t, store, 1, catalog.StatusPending)

	w := do(t, srv.routes(), http.MethodGet, "/shows?status=pending&limit=abc&offset=xyz")
	body := decode(t, w)
	if body["limit"] != float64(100) || body["offset"] != float64(0) {
		t.Errorf("limit = %v offset = %v", body["limit"], body["offset"])
	}
	if body["count"] != float64(1) {
		t.Errorf("count = %v", body["count"])
	}
}

func TestShowsViewShape(t *testing.T) {
	srv, store, _ := newServer(t, &fakeTrigger{}, fakeSonarr{ok: true})
	seedShow(t, store, 9, catalog.StatusPending)

	w := do(t, srv.routes(), http.MethodGet, "/shows?status=pending")
	shows := decode(t, w)["shows"].([]any)
	if len(shows) != 1 {
		t.Fatalf("got %d shows", len(shows))
	}
	show := shows[0].(map[string]any)
	if show["tvmaze_id"] != float64(9) || show["tvdb_id"] != float64(1009) {
		t.Errorf("ids = %v / %v", show["tvmaze_id"], show["tvdb_id"])
	}
	if show["title"] != "Show 9" {
		t.Errorf("title = %v", show["title"])
	}
	// Absent fields render as null, not as empty strings.
	if v, ok := show["imdb_id"]; !ok || v != nil {
		t.Errorf("imdb_id = %v (present %t)", v, ok)
	}
}

func TestRefilter(t *testing.T) {
	srv, store, _ := newServer(t, &fakeTrigger{}, fakeSonarr{ok: true})
	seedShow(t, store, 7, catalog.StatusFiltered)

	w := do(t, srv.routes(), http.MethodPost, "/refilter")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decode(t, w)
	if body["status"] != "complete" || body["shows_re_evaluated"] != float64(1) {
		t.Errorf("body = %v", body)
	}

	show, err := store.Get(7)
	if err != nil || show == nil {
		t.Fatalf("get show: %v", err)
	}
	if show.ProcessingStatus != catalog.StatusPending {
		t.Errorf("status = %q, want pending", show.ProcessingStatus)
	}
}

func TestRefilterError(t *testing.T) {
	srv, store, _ := newServer(t, &fakeTrigger{}, fakeSonarr{ok: true})
	store.Close()

	w := do(t, srv.routes(), http.MethodPost, "/refilter")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	body := decode(t, w)
	if body["status"] != "error" {
		t.Errorf("status = %v", body["status"])
	}
	if msg, _ := body["error"].(string); msg == "" {
		t.Errorf("error message missing: %v", body)
	}
}

func TestMetricsExposition(t *testing.T) {
	sched := &fakeTrigger{next: time.Now().Add(time.Hour)}
	srv, store, _ := newServer(t, sched, fakeSonarr{ok: true})
	seedShow(t, store, 1, catalog.StatusPending)

	w := do(t, srv.routes(), http.MethodGet, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `tvmaze_shows_total{status="pending"} 1`) {
		t.Errorf("shows gauge missing from exposition")
	}
	if !strings.Contains(body, "tvmaze_sync_next_run_timestamp") {
		t.Errorf("next run gauge missing from exposition")
	}
}
