package processor

import (
	"log/slog"
	"testing"
	"time"

	"github.com/snapetech/showsyncr/internal/catalog"
	"github.com/snapetech/showsyncr/internal/sonarr"
)

func intp(v int) *int          { return &v }
func floatp(v float64) *float64 { return &v }

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sampleShow() *catalog.Show {
	return &catalog.Show{
		TVMazeID:  1,
		Title:     "Kirby Buckets",
		TVDBID:    intp(278449),
		Language:  "English",
		Country:   "US",
		Type:      "Scripted",
		Status:    "Running",
		Premiered: date(2014, 10, 20),
		Network:   "Disney XD",
		Genres:    []string{"Comedy"},
		Runtime:   intp(30),
	}
}

func newProcessor(cfg Config) *Processor {
	return New(cfg, slog.New(slog.DiscardHandler))
}

func TestProcessNoTVDBID(t *testing.T) {
	p := newProcessor(Config{Rules: Rules{Selections: []Selection{{Name: "all"}}}})
	show := sampleShow()
	show.TVDBID = nil

	res := p.Process(show)
	if res.Decision != DecisionRetry {
		t.Fatalf("Decision = %q, want retry", res.Decision)
	}
	if res.Reason != "no downstream id" || res.Category != "downstream-id" {
		t.Errorf("reason/category = %q/%q", res.Reason, res.Category)
	}
}

func TestProcessGlobalExcludes(t *testing.T) {
	cases := []struct {
		name    string
		exclude Exclude
		mutate  func(*catalog.Show)
		reason  string
	}{
		{
			name:    "genre overlap sorted",
			exclude: Exclude{Genres: []string{"Reality", "Drama"}},
			mutate:  func(s *catalog.Show) { s.Genres = []string{"Drama", "Comedy", "Reality"} },
			reason:  "excluded genre: Drama, Reality",
		},
		{
			name:    "type",
			exclude: Exclude{Types: []string{"Sports"}},
			mutate:  func(s *catalog.Show) { s.Type = "Sports" },
			reason:  "excluded type: Sports",
		},
		{
			name:    "language",
			exclude: Exclude{Languages: []string{"Klingon"}},
			mutate:  func(s *catalog.Show) { s.Language = "Klingon" },
			reason:  "excluded language: Klingon",
		},
		{
			name:    "country",
			exclude: Exclude{Countries: []string{"XX"}},
			mutate:  func(s *catalog.Show) { s.Country = "XX" },
			reason:  "excluded country: XX",
		},
		{
			name:    "network",
			exclude: Exclude{Networks: []string{"Shopping TV"}},
			mutate:  func(s *catalog.Show) { s.Network = "Shopping TV" },
			reason:  "excluded network: Shopping TV",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newProcessor(Config{Rules: Rules{
				Exclude:    tc.exclude,
				Selections: []Selection{{Name: "all"}},
			}})
			show := sampleShow()
			tc.mutate(show)

			res := p.Process(show)
			if res.Decision != DecisionFilter {
				t.Fatalf("Decision = %q, want filter", res.Decision)
			}
			if res.Reason != tc.reason || res.Category != "exclude" {
				t.Errorf("reason/category = %q/%q, want %q/exclude", res.Reason, res.Category, tc.reason)
			}
		})
	}
}

func TestProcessExcludeBeatsSelection(t *testing.T) {
	p := newProcessor(Config{Rules: Rules{
		Exclude:    Exclude{Languages: []string{"English"}},
		Selections: []Selection{{Name: "all", Languages: []string{"English"}}},
	}})

	res := p.Process(sampleShow())
	if res.Decision != DecisionFilter || res.Category != "exclude" {
		t.Errorf("decision/category = %q/%q, want filter/exclude", res.Decision, res.Category)
	}
}

func TestProcessNoSelectionsConfigured(t *testing.T) {
	p := newProcessor(Config{})

	res := p.Process(sampleShow())
	if res.Decision != DecisionFilter {
		t.Fatalf("Decision = %q, want filter", res.Decision)
	}
	if res.Reason != "no selections configured" || res.Category != "selection" {
		t.Errorf("reason/category = %q/%q", res.Reason, res.Category)
	}
}

func TestProcessSelectionMatch(t *testing.T) {
	p := newProcessor(Config{Rules: Rules{Selections: []Selection{
		{Name: "anime", Languages: []string{"Japanese"}},
		{Name: "english", Languages: []string{"English"}},
	}}})

	res := p.Process(sampleShow())
	if res.Decision != DecisionAdd {
		t.Fatalf("Decision = %q, want add", res.Decision)
	}
	if res.Reason != "matched: english" {
		t.Errorf("Reason = %q", res.Reason)
	}
	if res.Params == nil || res.Params.TVDBID != 278449 || res.Params.Title != "Kirby Buckets" {
		t.Errorf("Params = %+v", res.Params)
	}
}

func TestProcessFirstMatchingSelectionWins(t *testing.T) {
	p := newProcessor(Config{Rules: Rules{Selections: []Selection{
		{Name: "broad"},
		{Name: "english", Languages: []string{"English"}},
	}}})

	res := p.Process(sampleShow())
	if res.Reason != "matched: broad" {
		t.Errorf("Reason = %q", res.Reason)
	}
}

func TestProcessUnnamedSelection(t *testing.T) {
	p := newProcessor(Config{Rules: Rules{Selections: []Selection{
		{Languages: []string{"English"}},
	}}})

	res := p.Process(sampleShow())
	if res.Reason != "matched: unnamed selection" {
		t.Errorf("Reason = %q", res.Reason)
	}
}

func TestProcessNoSelectionMatched(t *testing.T) {
	p := newProcessor(Config{Rules: Rules{Selections: []Selection{
		{Name: "anime", Languages: []string{"Japanese"}},
	}}})

	res := p.Process(sampleShow())
	if res.Decision != DecisionFilter {
		t.Fatalf("Decision = %q, want filter", res.Decision)
	}
	if res.Reason != "no selection matched" || res.Category != "selection" {
		t.Errorf("reason/category = %q/%q", res.Reason, res.Category)
	}
}

func TestSelectionCriteria(t *testing.T) {
	cases := []struct {
		name   string
		sel    Selection
		mutate func(*catalog.Show)
		want   bool
	}{
		{"empty selection matches anything", Selection{}, nil, true},
		{"language member", Selection{Languages: []string{"English", "Welsh"}}, nil, true},
		{"language non-member", Selection{Languages: []string{"Welsh"}}, nil, false},
		{"country member", Selection{Countries: []string{"US"}}, nil, true},
		{"country non-member", Selection{Countries: []string{"GB"}}, nil, false},
		{"genre overlap", Selection{Genres: []string{"Comedy", "Drama"}}, nil, true},
		{"genre no overlap", Selection{Genres: []string{"Drama"}}, nil, false},
		{
			"genre constraint with no genres",
			Selection{Genres: []string{"Comedy"}},
			func(s *catalog.Show) { s.Genres = nil },
			false,
		},
		{"type member", Selection{Types: []string{"Scripted"}}, nil, true},
		{"type non-member", Selection{Types: []string{"Animation"}}, nil, false},
		{"network member", Selection{Networks: []string{"Disney XD"}}, nil, true},
		{
			"network constraint with no network",
			Selection{Networks: []string{"Disney XD"}},
			func(s *catalog.Show) { s.Network = "" },
			false,
		},
		{"status member", Selection{Status: []string{"Running", "Ended"}}, nil, true},
		{"status non-member", Selection{Status: []string{"Ended"}}, nil, false},
		{"premiered after boundary inclusive", Selection{Premiered: &DateRange{After: date(2014, 10, 20)}}, nil, true},
		{"premiered after fails earlier", Selection{Premiered: &DateRange{After: date(2015, 1, 1)}}, nil, false},
		{"premiered before boundary inclusive", Selection{Premiered: &DateRange{Before: date(2014, 10, 20)}}, nil, true},
		{"premiered before fails later", Selection{Premiered: &DateRange{Before: date(2014, 1, 1)}}, nil, false},
		{
			"premiered bound fails missing date",
			Selection{Premiered: &DateRange{After: date(2000, 1, 1)}},
			func(s *catalog.Show) { s.Premiered = time.Time{} },
			false,
		},
		{
			"ended range",
			Selection{Ended: &DateRange{After: date(2017, 1, 1)}},
			func(s *catalog.Show) { s.Ended = date(2017, 2, 2) },
			true,
		},
		{"ended bound fails missing date", Selection{Ended: &DateRange{Before: date(2020, 1, 1)}}, nil, false},
		{"runtime in range", Selection{Runtime: &IntRange{Min: intp(20), Max: intp(40)}}, nil, true},
		{"runtime min boundary inclusive", Selection{Runtime: &IntRange{Min: intp(30)}}, nil, true},
		{"runtime above max", Selection{Runtime: &IntRange{Max: intp(25)}}, nil, false},
		{
			"runtime bound fails missing runtime",
			Selection{Runtime: &IntRange{Min: intp(1)}},
			func(s *catalog.Show) { s.Runtime = nil },
			false,
		},
		{"rating bound never matches", Selection{Rating: &FloatRange{Min: floatp(7.0)}}, nil, false},
		{"empty rating range passes", Selection{Rating: &FloatRange{}}, nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			show := sampleShow()
			if tc.mutate != nil {
				tc.mutate(show)
			}
			if got := tc.sel.matches(show); got != tc.want {
				t.Errorf("matches = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestBuildParamsUsesValidated(t *testing.T) {
	p := newProcessor(Config{
		Rules:       Rules{Selections: []Selection{{Name: "all"}}},
		Monitor:     "future",
		SearchOnAdd: true,
		Params: &sonarr.Params{
			RootFolderPath:    "/tv",
			QualityProfileID:  4,
			LanguageProfileID: 1,
			TagIDs:            []int{2, 7},
		},
	})

	res := p.Process(sampleShow())
	if res.Decision != DecisionAdd {
		t.Fatalf("Decision = %q", res.Decision)
	}
	params := res.Params
	if params.RootFolderPath != "/tv" || params.QualityProfileID != 4 || params.LanguageProfileID != 1 {
		t.Errorf("params = %+v", params)
	}
	if len(params.TagIDs) != 2 || params.TagIDs[0] != 2 {
		t.Errorf("TagIDs = %v", params.TagIDs)
	}
	if params.Monitor != "future" || !params.SearchOnAdd {
		t.Errorf("monitor/search = %q/%v", params.Monitor, params.SearchOnAdd)
	}
}

func TestMonitorDefaultsToAll(t *testing.T) {
	p := newProcessor(Config{Rules: Rules{Selections: []Selection{{Name: "all"}}}})
	res := p.Process(sampleShow())
	if res.Params.Monitor != "all" {
		t.Errorf("Monitor = %q, want all", res.Params.Monitor)
	}
}

func TestFilterHashStable(t *testing.T) {
	rules := Rules{
		Exclude: Exclude{Genres: []string{"Reality", "Sports"}},
		Selections: []Selection{
			{Name: "all", Languages: []string{"English", "Japanese"}},
		},
	}
	h1 := FilterHash(rules)
	h2 := FilterHash(rules)
	if h1 != h2 {
		t.Errorf("hash not deterministic: %s vs %s", h1, h2)
	}
	if len(h1) != 16 {
		t.Errorf("hash length = %d, want 16", len(h1))
	}
}

func TestFilterHashIgnoresListOrder(t *testing.T) {
	a := Rules{
		Exclude: Exclude{Genres: []string{"Sports", "Reality"}},
		Selections: []Selection{
			{Name: "all", Languages: []string{"Japanese", "English"}, Genres: []string{"Drama", "Comedy"}},
		},
	}
	b := Rules{
		Exclude: Exclude{Genres: []string{"Reality", "Sports"}},
		Selections: []Selection{
			{Name: "all", Languages: []string{"English", "Japanese"}, Genres: []string{"Comedy", "Drama"}},
		},
	}
	if FilterHash(a) != FilterHash(b) {
		t.Error("hash differs for rules equal up to list ordering")
	}
}

func TestFilterHashDetectsChanges(t *testing.T) {
	base := Rules{Selections: []Selection{{Name: "all", Languages: []string{"English"}}}}
	cases := []struct {
		name  string
		rules Rules
	}{
		{"added exclude", Rules{
			Exclude:    Exclude{Genres: []string{"Reality"}},
			Selections: base.Selections,
		}},
		{"changed selection name", Rules{Selections: []Selection{{Name: "english", Languages: []string{"English"}}}}},
		{"added language", Rules{Selections: []Selection{{Name: "all", Languages: []string{"English", "Welsh"}}}}},
		{"added runtime bound", Rules{Selections: []Selection{
			{Name: "all", Languages: []string{"English"}, Runtime: &IntRange{Min: intp(20)}},
		}}},
	}
	baseHash := FilterHash(base)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if FilterHash(tc.rules) == baseHash {
				t.Error("hash unchanged")
			}
		})
	}
}

func TestFilterHashEmptyRangeEqualsNil(t *testing.T) {
	withNil := Rules{Selections: []Selection{{Name: "all"}}}
	withEmpty := Rules{Selections: []Selection{{
		Name:      "all",
		Premiered: &DateRange{},
		Ended:     &DateRange{},
		Rating:    &FloatRange{},
		Runtime:   &IntRange{},
	}}}
	if FilterHash(withNil) != FilterHash(withEmpty) {
		t.Error("empty ranges should hash like absent ranges")
	}
}
