// Package catalog defines the show entity cached between sync cycles and the
// per-cycle statistics record. It is pure data: parsing from the TVMaze wire
// shape lives with the client, persistence lives with the cache.
package catalog

import "time"

// Processing status values. A show moves through these as the sync pipeline
// classifies it; transitions are driven by the processor's decision plus the
// outcome of the Sonarr call.
const (
	StatusPending     = "pending"      // new, not yet processed
	StatusFiltered    = "filtered"     // excluded by filters
	StatusPendingTVDB = "pending_tvdb" // no TVDB ID yet, queued for retry
	StatusAdded       = "added"        // accepted by Sonarr
	StatusExists      = "exists"       // already in Sonarr
	StatusFailed      = "failed"       // Sonarr rejected, permanent
	StatusSkipped     = "skipped"      // manually excluded
)

// Show is one TVMaze catalog entry plus its processing state. Zero values
// mean "absent" for strings and times; TVDBID and Runtime are pointers
// because absence drives decisions (missing TVDB ID queues a retry, a
// missing runtime fails any runtime bound).
type Show struct {
	TVMazeID int
	Title    string

	// External IDs.
	TVDBID *int
	IMDBID string

	// Filterable metadata.
	Language   string
	Country    string
	Type       string // Scripted, Reality, Animation, ...
	Status     string // Running, Ended, In Development, ...
	Premiered  time.Time
	Ended      time.Time
	Network    string
	WebChannel string
	Genres     []string
	Runtime    *int

	// Processing state.
	ProcessingStatus string
	FilterReason     string
	SonarrSeriesID   int
	AddedToSonarrAt  time.Time

	// Sync metadata.
	LastChecked     time.Time
	TVMazeUpdatedAt int64
	RetryAfter      time.Time
	RetryCount      int
	PendingSince    time.Time
	ErrorMessage    string
}

// View is the JSON shape served by GET /shows. Internal retry bookkeeping is
// not exposed.
type View struct {
	TVMazeID         int      `json:"tvmaze_id"`
	TVDBID           *int     `json:"tvdb_id"`
	IMDBID           *string  `json:"imdb_id"`
	Title            string   `json:"title"`
	Language         *string  `json:"language"`
	Country          *string  `json:"country"`
	Type             *string  `json:"type"`
	Status           *string  `json:"status"`
	Premiered        *string  `json:"premiered"`
	Ended            *string  `json:"ended"`
	Network          *string  `json:"network"`
	WebChannel       *string  `json:"web_channel"`
	Genres           []string `json:"genres"`
	Runtime          *int     `json:"runtime"`
	ProcessingStatus string   `json:"processing_status"`
	FilterReason     *string  `json:"filter_reason"`
	SonarrSeriesID   *int     `json:"sonarr_series_id"`
	AddedToSonarrAt  *string  `json:"added_to_sonarr_at"`
}

// View returns the API representation, with absent fields as JSON null.
func (s *Show) View() View {
	v := View{
		TVMazeID:         s.TVMazeID,
		TVDBID:           s.TVDBID,
		IMDBID:           strOrNil(s.IMDBID),
		Title:            s.Title,
		Language:         strOrNil(s.Language),
		Country:          strOrNil(s.Country),
		Type:             strOrNil(s.Type),
		Status:           strOrNil(s.Status),
		Premiered:        dateOrNil(s.Premiered),
		Ended:            dateOrNil(s.Ended),
		Network:          strOrNil(s.Network),
		WebChannel:       strOrNil(s.WebChannel),
		Genres:           s.Genres,
		Runtime:          s.Runtime,
		ProcessingStatus: s.ProcessingStatus,
		FilterReason:     strOrNil(s.FilterReason),
	}
	if v.Genres == nil {
		v.Genres = []string{}
	}
	if s.SonarrSeriesID != 0 {
		id := s.SonarrSeriesID
		v.SonarrSeriesID = &id
	}
	if !s.AddedToSonarrAt.IsZero() {
		ts := s.AddedToSonarrAt.UTC().Format(time.RFC3339)
		v.AddedToSonarrAt = &ts
	}
	return v
}

func strOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func dateOrNil(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	d := t.Format("2006-01-02")
	return &d
}

// SyncStats accumulates the outcome of one sync cycle.
type SyncStats struct {
	StartedAt   time.Time
	CompletedAt time.Time

	ShowsProcessed int
	ShowsAdded     int
	ShowsFiltered  int
	ShowsSkipped   int
	ShowsFailed    int
	ShowsExists    int

	APICallsTVMaze int
	APICallsSonarr int
}

// Duration reports the cycle's wall-clock time, zero until completed.
func (s *SyncStats) Duration() time.Duration {
	if s.CompletedAt.IsZero() {
		return 0
	}
	return s.CompletedAt.Sub(s.StartedAt)
}
