// Package cache persists the local mirror of the upstream show catalog in a
// single SQLite file. The sync worker is the only writer; HTTP handlers read
// concurrently, which is why the database runs in WAL mode.
package cache

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schemaVersion = 2

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS shows (
		tvmaze_id INTEGER PRIMARY KEY,
		tvdb_id INTEGER,
		imdb_id TEXT,
		title TEXT NOT NULL,
		language TEXT,
		country TEXT,
		type TEXT,
		status TEXT,
		premiered DATE,
		ended DATE,
		network TEXT,
		web_channel TEXT,
		genres TEXT,
		runtime INTEGER,
		processing_status TEXT NOT NULL DEFAULT 'pending',
		filter_reason TEXT,
		sonarr_series_id INTEGER,
		added_to_sonarr_at DATETIME,
		last_checked DATETIME NOT NULL,
		tvmaze_updated_at INTEGER,
		retry_after DATETIME,
		retry_count INTEGER DEFAULT 0,
		pending_since DATETIME,
		error_message TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_processing_status ON shows(processing_status)`,
	`CREATE INDEX IF NOT EXISTS idx_tvdb_id ON shows(tvdb_id)`,
	`CREATE INDEX IF NOT EXISTS idx_language ON shows(language)`,
	`CREATE INDEX IF NOT EXISTS idx_country ON shows(country)`,
	`CREATE INDEX IF NOT EXISTS idx_type ON shows(type)`,
	`CREATE INDEX IF NOT EXISTS idx_premiered ON shows(premiered)`,
	`CREATE INDEX IF NOT EXISTS idx_retry_after ON shows(retry_after)`,
	`CREATE INDEX IF NOT EXISTS idx_pending_since ON shows(pending_since)`,
	`CREATE INDEX IF NOT EXISTS idx_tvmaze_updated_at ON shows(tvmaze_updated_at)`,
	`CREATE TRIGGER IF NOT EXISTS update_timestamp
		AFTER UPDATE ON shows
		BEGIN
			UPDATE shows SET updated_at = CURRENT_TIMESTAMP
			WHERE tvmaze_id = NEW.tvmaze_id;
		END`,
	`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	)`,
}

// Store owns the cache database handle.
type Store struct {
	db   *sql.DB
	log  *slog.Logger
	path string
}

// Open opens (creating if needed) the cache at path and brings the schema up
// to date.
func Open(path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}

	// Pragmas go in the DSN so every pooled connection gets them, not just
	// the first. busy_timeout covers reader/writer overlap under WAL.
	dsn := "file:" + path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	s := &Store{db: db, log: log.With("component", "cache"), path: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	s.log.Info("cache opened", "path", path)
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Healthy reports whether the database answers a trivial query.
func (s *Store) Healthy() bool {
	var one int
	if err := s.db.QueryRow("SELECT 1").Scan(&one); err != nil {
		s.log.Error("cache health check failed", "err", err)
		return false
	}
	return true
}

func (s *Store) initSchema() error {
	version, err := s.currentSchemaVersion()
	if err != nil {
		return err
	}
	switch {
	case version == 0:
		for _, stmt := range schemaStatements {
			if _, err := s.db.Exec(stmt); err != nil {
				return fmt.Errorf("init schema: %w", err)
			}
		}
		if _, err := s.db.Exec(
			"INSERT OR REPLACE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		s.log.Info("cache schema initialized", "version", schemaVersion)
	case version < schemaVersion:
		if err := s.migrate(version); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) currentSchemaVersion() (int, error) {
	var v int
	err := s.db.QueryRow("SELECT version FROM schema_version").Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return 0, nil
		}
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

func (s *Store) migrate(from int) error {
	if from < 2 {
		s.log.Info("migrating cache schema", "from", from, "to", 2)
		stmts := []string{
			`ALTER TABLE shows ADD COLUMN pending_since DATETIME`,
			`CREATE INDEX IF NOT EXISTS idx_pending_since ON shows(pending_since)`,
			// Approximate the missing value with the retry deadline so
			// existing pending rows still hit the abandonment horizon.
			`UPDATE shows SET pending_since = retry_after
				WHERE processing_status = 'pending_tvdb' AND pending_since IS NULL`,
			`UPDATE schema_version SET version = 2`,
		}
		for _, stmt := range stmts {
			if _, err := s.db.Exec(stmt); err != nil {
				return fmt.Errorf("migrate to v2: %w", err)
			}
		}
	}
	return nil
}

// Timestamps are stored as fixed-width UTC strings so SQL string comparison
// orders chronologically. RFC3339Nano trims trailing zeros and would not.
const (
	dbTime = "2006-01-02T15:04:05.000000000Z"
	dbDate = "2006-01-02"
)

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(dbTime)
}

func formatDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(dbDate)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{dbTime, time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", dbDate} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIntPtr(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

func nullInt64(n int64) any {
	if n == 0 {
		return nil
	}
	return n
}
