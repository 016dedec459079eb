package metrics

import (
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/snapetech/showsyncr/internal/cache"
	"github.com/snapetech/showsyncr/internal/catalog"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	return rec.Body.String()
}

func wantLines(t *testing.T, body string, lines ...string) {
	t.Helper()
	for _, line := range lines {
		if !strings.Contains(body, line) {
			t.Errorf("exposition missing %q", line)
		}
	}
}

func TestRecordSyncCompleteSuccess(t *testing.T) {
	stats := &catalog.SyncStats{
		StartedAt:     time.Unix(998, 0),
		CompletedAt:   time.Unix(1000, 0),
		ShowsAdded:    3,
		ShowsFiltered: 2,
		ShowsSkipped:  1,
		ShowsExists:   1,
	}
	RecordSyncComplete(stats, true)

	body := scrape(t)
	wantLines(t, body,
		`tvmaze_sync_healthy 1`,
		`tvmaze_sync_last_run_timestamp 1000`,
		`tvmaze_sync_last_run_duration_seconds 2`,
		`tvmaze_sync_shows_processed{result="added"} 3`,
		`tvmaze_sync_shows_processed{result="filtered"} 2`,
		`tvmaze_sync_shows_processed{result="skipped"} 1`,
		`tvmaze_sync_shows_processed{result="failed"} 0`,
		`tvmaze_shows_processed_total{result="added"} 3`,
		`tvmaze_shows_processed_total{result="exists"} 1`,
	)
}

func TestRecordSyncCompleteFailure(t *testing.T) {
	stats := &catalog.SyncStats{
		StartedAt:   time.Unix(2000, 0),
		CompletedAt: time.Unix(2005, 0),
	}
	RecordSyncComplete(stats, false)

	body := scrape(t)
	wantLines(t, body,
		`tvmaze_sync_healthy 0`,
		`tvmaze_sync_last_run_duration_seconds 5`,
		`tvmaze_sync_shows_processed{result="added"} 0`,
	)
}

func TestUpdateFromStore(t *testing.T) {
	store, err := cache.Open(filepath.Join(t.TempDir(), "shows.db"), slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	defer store.Close()

	seed := func(id int, status, reason string) {
		show := catalog.Show{
			TVMazeID:         id,
			Title:            "Show",
			ProcessingStatus: status,
			FilterReason:     reason,
			LastChecked:      time.Now().UTC(),
		}
		if err := store.Upsert(&show); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	seed(1, catalog.StatusFiltered, "exclude: excluded genre: Reality")
	seed(2, catalog.StatusFiltered, "selection: no selection matched")
	seed(3, catalog.StatusAdded, "")
	seed(44, catalog.StatusPendingTVDB, "")

	UpdateFromStore(store, slog.New(slog.DiscardHandler))

	body := scrape(t)
	wantLines(t, body,
		`tvmaze_shows_total{status="filtered"} 2`,
		`tvmaze_shows_total{status="added"} 1`,
		`tvmaze_shows_total{status="pending_tvdb"} 1`,
		`tvmaze_shows_filtered_by_reason{reason="exclude"} 1`,
		`tvmaze_shows_filtered_by_reason{reason="selection"} 1`,
		`tvmaze_shows_highest_id 44`,
		`tvmaze_shows_pending_retry{reason="0"} 4`,
	)
}

func TestCountAPIRequest(t *testing.T) {
	CountAPIRequest("tvmaze", "show", 200)
	CountAPIRequest("tvmaze", "show", 200)
	CountAPIRequest("sonarr", "series", 201)

	body := scrape(t)
	wantLines(t, body,
		`tvmaze_api_requests_total{endpoint="show",service="tvmaze",status="200"} 2`,
		`tvmaze_api_requests_total{endpoint="series",service="sonarr",status="201"} 1`,
	)
}

func TestSetters(t *testing.T) {
	SetInitialComplete()
	SetSonarrHealthy(true)
	SetNextRun(time.Unix(5000, 0))

	body := scrape(t)
	wantLines(t, body,
		`tvmaze_sync_initial_complete 1`,
		`tvmaze_sonarr_healthy 1`,
		`tvmaze_sync_next_run_timestamp 5000`,
	)

	SetSonarrHealthy(false)
	SetNextRun(time.Time{})

	body = scrape(t)
	wantLines(t, body,
		`tvmaze_sonarr_healthy 0`,
		`tvmaze_sync_next_run_timestamp 5000`,
	)
}
