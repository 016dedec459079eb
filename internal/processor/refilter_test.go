package processor

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/snapetech/showsyncr/internal/cache"
	"github.com/snapetech/showsyncr/internal/catalog"
)

func newStore(t *testing.T) *cache.Store {
	t.Helper()
	s, err := cache.Open(filepath.Join(t.TempDir(), "shows.db"), slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedFiltered(t *testing.T, s *cache.Store, id int, language, reason, category string) {
	t.Helper()
	show := catalog.Show{
		TVMazeID:         id,
		Title:            "Show " + language,
		TVDBID:           intp(id * 10),
		Language:         language,
		ProcessingStatus: catalog.StatusPending,
		LastChecked:      time.Now().UTC(),
	}
	if err := s.Upsert(&show); err != nil {
		t.Fatalf("seed upsert: %v", err)
	}
	if err := s.MarkFiltered(id, reason, category); err != nil {
		t.Fatalf("seed mark: %v", err)
	}
}

func TestCheckFilterChangeFirstRunOnlyRecords(t *testing.T) {
	s := newStore(t)
	seedFiltered(t, s, 1, "English", "no selection matched", "selection")

	p := newProcessor(Config{Rules: Rules{Selections: []Selection{
		{Name: "english", Languages: []string{"English"}},
	}}})

	hash, n, err := p.CheckFilterChange(s, "")
	if err != nil {
		t.Fatalf("CheckFilterChange: %v", err)
	}
	if n != 0 {
		t.Errorf("re-evaluated %d shows on first run", n)
	}
	if hash == "" || len(hash) != 16 {
		t.Errorf("hash = %q", hash)
	}

	got, _ := s.Get(1)
	if got.ProcessingStatus != catalog.StatusFiltered {
		t.Errorf("status = %q, want untouched filtered row", got.ProcessingStatus)
	}
}

func TestCheckFilterChangeSameHashIsNoop(t *testing.T) {
	s := newStore(t)
	seedFiltered(t, s, 1, "English", "no selection matched", "selection")

	rules := Rules{Selections: []Selection{{Name: "english", Languages: []string{"English"}}}}
	p := newProcessor(Config{Rules: rules})

	hash, n, err := p.CheckFilterChange(s, FilterHash(rules))
	if err != nil {
		t.Fatalf("CheckFilterChange: %v", err)
	}
	if n != 0 {
		t.Errorf("re-evaluated %d shows with unchanged rules", n)
	}
	if hash != FilterHash(rules) {
		t.Errorf("hash = %q", hash)
	}
	got, _ := s.Get(1)
	if got.ProcessingStatus != catalog.StatusFiltered {
		t.Errorf("status = %q", got.ProcessingStatus)
	}
}

func TestCheckFilterChangeReEvaluates(t *testing.T) {
	s := newStore(t)
	seedFiltered(t, s, 1, "English", "no selection matched", "selection")
	seedFiltered(t, s, 2, "French", "no selection matched", "selection")

	p := newProcessor(Config{Rules: Rules{Selections: []Selection{
		{Name: "english", Languages: []string{"English"}},
	}}})

	_, n, err := p.CheckFilterChange(s, "0123456789abcdef")
	if err != nil {
		t.Fatalf("CheckFilterChange: %v", err)
	}
	if n != 1 {
		t.Errorf("n = %d, want 1", n)
	}

	english, _ := s.Get(1)
	if english.ProcessingStatus != catalog.StatusPending {
		t.Errorf("english status = %q, want pending", english.ProcessingStatus)
	}
	french, _ := s.Get(2)
	if french.ProcessingStatus != catalog.StatusFiltered {
		t.Errorf("french status = %q, want filtered", french.ProcessingStatus)
	}
}

func TestReEvaluateUpdatesChangedReason(t *testing.T) {
	s := newStore(t)
	seedFiltered(t, s, 1, "French", "no selection matched", "selection")

	p := newProcessor(Config{Rules: Rules{
		Exclude:    Exclude{Languages: []string{"French"}},
		Selections: []Selection{{Name: "all"}},
	}})

	n, err := p.ReEvaluateFiltered(s)
	if err != nil {
		t.Fatalf("ReEvaluateFiltered: %v", err)
	}
	if n != 0 {
		t.Errorf("n = %d, want 0", n)
	}
	got, _ := s.Get(1)
	if got.FilterReason != "exclude: excluded language: French" {
		t.Errorf("FilterReason = %q", got.FilterReason)
	}
}

func TestReEvaluateKeepsUnchangedReason(t *testing.T) {
	s := newStore(t)
	seedFiltered(t, s, 1, "French", "no selection matched", "selection")

	p := newProcessor(Config{Rules: Rules{Selections: []Selection{
		{Name: "english", Languages: []string{"English"}},
	}}})

	if _, err := p.ReEvaluateFiltered(s); err != nil {
		t.Fatalf("ReEvaluateFiltered: %v", err)
	}
	got, _ := s.Get(1)
	if got.ProcessingStatus != catalog.StatusFiltered {
		t.Errorf("status = %q", got.ProcessingStatus)
	}
	if got.FilterReason != "selection: no selection matched" {
		t.Errorf("FilterReason = %q", got.FilterReason)
	}
}

func TestReEvaluateLeavesRetryDecisionsFiltered(t *testing.T) {
	s := newStore(t)
	show := catalog.Show{
		TVMazeID:         1,
		Title:            "No ID",
		ProcessingStatus: catalog.StatusPending,
		LastChecked:      time.Now().UTC(),
	}
	if err := s.Upsert(&show); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkFiltered(1, "excluded language: French", "exclude"); err != nil {
		t.Fatal(err)
	}

	p := newProcessor(Config{Rules: Rules{Selections: []Selection{{Name: "all"}}}})
	if _, err := p.ReEvaluateFiltered(s); err != nil {
		t.Fatalf("ReEvaluateFiltered: %v", err)
	}

	// Process says retry (no TVDB ID) but re-evaluation only moves shows
	// between filtered states; the retry pipeline owns pending transitions.
	got, _ := s.Get(1)
	if got.ProcessingStatus != catalog.StatusFiltered {
		t.Errorf("status = %q, want filtered", got.ProcessingStatus)
	}
}
