// Package processor decides what happens to each show: add it downstream,
// filter it out, or park it until a TVDB ID appears. A decision is a pure
// function of the show and the configured rules, so re-processing an
// unchanged show always yields the same outcome.
package processor

import (
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/snapetech/showsyncr/internal/catalog"
	"github.com/snapetech/showsyncr/internal/sonarr"
)

// Decision is the outcome class for a processed show.
type Decision string

const (
	DecisionAdd    Decision = "add"    // matches a selection, send to Sonarr
	DecisionFilter Decision = "filter" // rejected by rules
	DecisionRetry  Decision = "retry"  // no TVDB ID yet, park and retry later
	DecisionSkip   Decision = "skip"   // leave untouched
)

// Result is a decision plus the detail needed to act on it. Params is set
// only for DecisionAdd; Category only for DecisionFilter and DecisionRetry.
type Result struct {
	Decision Decision
	Reason   string
	Category string
	Params   *sonarr.AddParams
}

// Exclude is the global reject list. A show matching any entry is filtered
// before selections are consulted.
type Exclude struct {
	Genres    []string
	Types     []string
	Languages []string
	Countries []string
	Networks  []string
}

// DateRange bounds a date field. Zero time means the bound is absent.
// Bounds are inclusive; a present bound fails shows missing the field.
type DateRange struct {
	After  time.Time
	Before time.Time
}

// FloatRange bounds a numeric field. Nil means the bound is absent.
type FloatRange struct {
	Min *float64
	Max *float64
}

// IntRange bounds an integer field. Nil means the bound is absent.
type IntRange struct {
	Min *int
	Max *int
}

// Selection is one accept rule. All present criteria must hold (AND); an
// empty list or nil range is no constraint. A show is accepted when any
// selection matches (OR across selections).
type Selection struct {
	Name      string
	Languages []string
	Countries []string
	Genres    []string
	Types     []string
	Networks  []string
	Status    []string
	Premiered *DateRange
	Ended     *DateRange
	Rating    *FloatRange
	Runtime   *IntRange
}

// Rules is the full filter configuration: global excludes plus selections.
type Rules struct {
	Exclude    Exclude
	Selections []Selection
}

// Config wires a Processor.
type Config struct {
	Rules       Rules
	Monitor     string // Sonarr monitor option for added series
	SearchOnAdd bool
	Params      *sonarr.Params // validated Sonarr parameters, nil in tests
}

func (c *Config) setDefaults() {
	if c.Monitor == "" {
		c.Monitor = "all"
	}
}

// Processor evaluates shows against the rules. Safe for concurrent use; all
// fields are set at construction and never mutated.
type Processor struct {
	rules       Rules
	monitor     string
	searchOnAdd bool
	validated   *sonarr.Params
	log         *slog.Logger
}

func New(cfg Config, log *slog.Logger) *Processor {
	cfg.setDefaults()
	return &Processor{
		rules:       cfg.Rules,
		monitor:     cfg.Monitor,
		searchOnAdd: cfg.SearchOnAdd,
		validated:   cfg.Params,
		log:         log.With("component", "processor"),
	}
}

// Process classifies one show:
//
//  1. no TVDB ID → retry
//  2. matches a global exclude → filter
//  3. no selections configured → filter everything
//  4. matches any selection → add
//  5. otherwise → filter
func (p *Processor) Process(show *catalog.Show) Result {
	if show.TVDBID == nil {
		return Result{Decision: DecisionRetry, Reason: "no downstream id", Category: "downstream-id"}
	}

	if reason := p.rules.Exclude.match(show); reason != "" {
		return Result{Decision: DecisionFilter, Reason: reason, Category: "exclude"}
	}

	if len(p.rules.Selections) == 0 {
		return Result{Decision: DecisionFilter, Reason: "no selections configured", Category: "selection"}
	}

	for i := range p.rules.Selections {
		sel := &p.rules.Selections[i]
		if sel.matches(show) {
			name := sel.Name
			if name == "" {
				name = "unnamed selection"
			}
			return Result{
				Decision: DecisionAdd,
				Reason:   "matched: " + name,
				Params:   p.buildParams(show),
			}
		}
	}

	return Result{Decision: DecisionFilter, Reason: "no selection matched", Category: "selection"}
}

func (p *Processor) buildParams(show *catalog.Show) *sonarr.AddParams {
	params := &sonarr.AddParams{
		Title:       show.Title,
		Monitor:     p.monitor,
		SearchOnAdd: p.searchOnAdd,
	}
	if show.TVDBID != nil {
		params.TVDBID = *show.TVDBID
	}
	if p.validated != nil {
		params.RootFolderPath = p.validated.RootFolderPath
		params.QualityProfileID = p.validated.QualityProfileID
		params.LanguageProfileID = p.validated.LanguageProfileID
		params.TagIDs = p.validated.TagIDs
	}
	return params
}

func (e *Exclude) match(show *catalog.Show) string {
	if len(e.Genres) > 0 && len(show.Genres) > 0 {
		if overlap := intersect(e.Genres, show.Genres); len(overlap) > 0 {
			return "excluded genre: " + strings.Join(overlap, ", ")
		}
	}
	if len(e.Types) > 0 && slices.Contains(e.Types, show.Type) {
		return "excluded type: " + show.Type
	}
	if len(e.Languages) > 0 && slices.Contains(e.Languages, show.Language) {
		return "excluded language: " + show.Language
	}
	if len(e.Countries) > 0 && slices.Contains(e.Countries, show.Country) {
		return "excluded country: " + show.Country
	}
	if len(e.Networks) > 0 && slices.Contains(e.Networks, show.Network) {
		return "excluded network: " + show.Network
	}
	return ""
}

func (s *Selection) matches(show *catalog.Show) bool {
	if len(s.Languages) > 0 && !slices.Contains(s.Languages, show.Language) {
		return false
	}
	if len(s.Countries) > 0 && !slices.Contains(s.Countries, show.Country) {
		return false
	}
	if len(s.Genres) > 0 && len(intersect(s.Genres, show.Genres)) == 0 {
		return false
	}
	if len(s.Types) > 0 && !slices.Contains(s.Types, show.Type) {
		return false
	}
	if len(s.Networks) > 0 && !slices.Contains(s.Networks, show.Network) {
		return false
	}
	if len(s.Status) > 0 && !slices.Contains(s.Status, show.Status) {
		return false
	}
	if s.Premiered != nil && !s.Premiered.contains(show.Premiered) {
		return false
	}
	if s.Ended != nil && !s.Ended.contains(show.Ended) {
		return false
	}
	if s.Rating != nil && (s.Rating.Min != nil || s.Rating.Max != nil) {
		// Shows carry no rating, so a present rating bound never matches.
		return false
	}
	if s.Runtime != nil && !s.Runtime.contains(show.Runtime) {
		return false
	}
	return true
}

func (r *DateRange) contains(v time.Time) bool {
	if !r.After.IsZero() {
		if v.IsZero() || v.Before(r.After) {
			return false
		}
	}
	if !r.Before.IsZero() {
		if v.IsZero() || v.After(r.Before) {
			return false
		}
	}
	return true
}

func (r *IntRange) contains(v *int) bool {
	if r.Min != nil {
		if v == nil || *v < *r.Min {
			return false
		}
	}
	if r.Max != nil {
		if v == nil || *v > *r.Max {
			return false
		}
	}
	return true
}

// intersect returns the sorted, deduplicated values present in both lists.
func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	var out []string
	seen := make(map[string]struct{})
	for _, v := range b {
		if _, ok := set[v]; !ok {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
