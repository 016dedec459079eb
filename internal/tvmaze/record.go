package tvmaze

import (
	"time"

	"github.com/snapetech/showsyncr/internal/catalog"
)

// ShowRecord is the TVMaze wire shape for one show. Only the fields the sync
// pipeline consumes are mapped; everything is optional except id.
type ShowRecord struct {
	ID         int        `json:"id"`
	Name       string     `json:"name"`
	Type       string     `json:"type"`
	Language   string     `json:"language"`
	Status     string     `json:"status"`
	Premiered  string     `json:"premiered"`
	Ended      string     `json:"ended"`
	Runtime    *int       `json:"runtime"`
	Genres     []string   `json:"genres"`
	Network    *Channel   `json:"network"`
	WebChannel *Channel   `json:"webChannel"`
	Externals  *Externals `json:"externals"`
	Updated    int64      `json:"updated"`
}

// Channel is a broadcast network or streaming channel.
type Channel struct {
	Name    string   `json:"name"`
	Country *Country `json:"country"`
}

type Country struct {
	Code string `json:"code"`
}

// Externals carries third-party identifiers. TheTVDB is the one Sonarr keys
// on; it is frequently absent for new or obscure shows.
type Externals struct {
	TheTVDB *int    `json:"thetvdb"`
	IMDB    *string `json:"imdb"`
}

// Show converts the wire record into a catalog entity. Absent or malformed
// fields become zero values rather than errors; the index's long tail is
// full of partial records.
func (r *ShowRecord) Show() catalog.Show {
	s := catalog.Show{
		TVMazeID:         r.ID,
		Title:            r.Name,
		Language:         r.Language,
		Type:             r.Type,
		Status:           r.Status,
		Genres:           r.Genres,
		Runtime:          r.Runtime,
		TVMazeUpdatedAt:  r.Updated,
		ProcessingStatus: catalog.StatusPending,
	}
	if s.Title == "" {
		s.Title = "Unknown"
	}

	if r.Externals != nil {
		s.TVDBID = r.Externals.TheTVDB
		if r.Externals.IMDB != nil {
			s.IMDBID = *r.Externals.IMDB
		}
	}

	// Country comes from the network when present, else the web channel.
	if r.Network != nil {
		s.Network = r.Network.Name
		if r.Network.Country != nil {
			s.Country = r.Network.Country.Code
		}
	}
	if r.WebChannel != nil {
		s.WebChannel = r.WebChannel.Name
		if s.Country == "" && r.WebChannel.Country != nil {
			s.Country = r.WebChannel.Country.Code
		}
	}

	s.Premiered = parseDate(r.Premiered)
	s.Ended = parseDate(r.Ended)
	return s
}

func parseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}
	}
	return t
}
