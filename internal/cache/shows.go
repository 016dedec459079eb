package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/snapetech/showsyncr/internal/catalog"
)

const showColumns = `tvmaze_id, tvdb_id, imdb_id, title, language, country, type, status,
	premiered, ended, network, web_channel, genres, runtime, processing_status,
	filter_reason, sonarr_series_id, added_to_sonarr_at, last_checked,
	tvmaze_updated_at, retry_after, retry_count, pending_since, error_message`

const upsertSQL = `INSERT OR REPLACE INTO shows (` + showColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func upsertArgs(show *catalog.Show) ([]any, error) {
	var genres any
	if len(show.Genres) > 0 {
		raw, err := json.Marshal(show.Genres)
		if err != nil {
			return nil, fmt.Errorf("encode genres: %w", err)
		}
		genres = string(raw)
	}
	return []any{
		show.TVMazeID,
		nullIntPtr(show.TVDBID),
		nullStr(show.IMDBID),
		show.Title,
		nullStr(show.Language),
		nullStr(show.Country),
		nullStr(show.Type),
		nullStr(show.Status),
		formatDate(show.Premiered),
		formatDate(show.Ended),
		nullStr(show.Network),
		nullStr(show.WebChannel),
		genres,
		nullIntPtr(show.Runtime),
		show.ProcessingStatus,
		nullStr(show.FilterReason),
		nullInt(show.SonarrSeriesID),
		formatTime(show.AddedToSonarrAt),
		formatTime(show.LastChecked),
		nullInt64(show.TVMazeUpdatedAt),
		formatTime(show.RetryAfter),
		show.RetryCount,
		formatTime(show.PendingSince),
		nullStr(show.ErrorMessage),
	}, nil
}

// Upsert inserts or replaces one show. LastChecked must be set; the column
// is NOT NULL.
func (s *Store) Upsert(show *catalog.Show) error {
	args, err := upsertArgs(show)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(upsertSQL, args...); err != nil {
		return fmt.Errorf("upsert show %d: %w", show.TVMazeID, err)
	}
	return nil
}

// UpsertMany replaces a batch of shows in one transaction. Returns the
// number written.
func (s *Store) UpsertMany(shows []catalog.Show) (int, error) {
	if len(shows) == 0 {
		return 0, nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin upsert batch: %w", err)
	}
	stmt, err := tx.Prepare(upsertSQL)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for i := range shows {
		args, err := upsertArgs(&shows[i])
		if err != nil {
			tx.Rollback()
			return 0, err
		}
		if _, err := stmt.Exec(args...); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("upsert show %d: %w", shows[i].TVMazeID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit upsert batch: %w", err)
	}
	return len(shows), nil
}

// Get returns the show with the given upstream ID, nil when absent.
func (s *Store) Get(tvmazeID int) (*catalog.Show, error) {
	row := s.db.QueryRow("SELECT "+showColumns+" FROM shows WHERE tvmaze_id = ?", tvmazeID)
	show, err := scanShow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get show %d: %w", tvmazeID, err)
	}
	return show, nil
}

// GetByTVDBID returns the show with the given downstream catalog ID, nil
// when absent.
func (s *Store) GetByTVDBID(tvdbID int) (*catalog.Show, error) {
	row := s.db.QueryRow("SELECT "+showColumns+" FROM shows WHERE tvdb_id = ?", tvdbID)
	show, err := scanShow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get show by tvdb %d: %w", tvdbID, err)
	}
	return show, nil
}

// Delete removes a show. The sync engine never calls this; it exists for
// manual cleanup.
func (s *Store) Delete(tvmazeID int) (bool, error) {
	res, err := s.db.Exec("DELETE FROM shows WHERE tvmaze_id = ?", tvmazeID)
	if err != nil {
		return false, fmt.Errorf("delete show %d: %w", tvmazeID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListByStatus returns shows in one processing status. limit <= 0 means no
// limit.
func (s *Store) ListByStatus(status string, limit, offset int) ([]catalog.Show, error) {
	query := "SELECT " + showColumns + " FROM shows WHERE processing_status = ?"
	args := []any{status}
	if limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	}
	return s.queryShows(query, args...)
}

// ReadyForRetry returns pending shows whose retry deadline has passed and
// that have not yet crossed the abandonment horizon.
func (s *Store) ReadyForRetry(now time.Time, abandonAfter time.Duration) ([]catalog.Show, error) {
	cutoff := formatTime(now.Add(-abandonAfter))
	return s.queryShows(`SELECT `+showColumns+` FROM shows
		WHERE processing_status = ?
		AND retry_after <= ?
		AND (pending_since IS NULL OR pending_since > ?)`,
		catalog.StatusPendingTVDB, formatTime(now), cutoff)
}

// DueForAbandonment returns pending shows that have waited longer than the
// abandonment horizon.
func (s *Store) DueForAbandonment(now time.Time, abandonAfter time.Duration) ([]catalog.Show, error) {
	cutoff := formatTime(now.Add(-abandonAfter))
	return s.queryShows(`SELECT `+showColumns+` FROM shows
		WHERE processing_status = ?
		AND pending_since IS NOT NULL
		AND pending_since <= ?`,
		catalog.StatusPendingTVDB, cutoff)
}

// ForEachFiltered streams every filtered show through fn. A non-nil error
// from fn stops the iteration and is returned.
func (s *Store) ForEachFiltered(fn func(*catalog.Show) error) error {
	return s.forEach("SELECT "+showColumns+" FROM shows WHERE processing_status = ?",
		fn, catalog.StatusFiltered)
}

// ForEachWithTVDB streams every show that has a downstream catalog ID.
func (s *Store) ForEachWithTVDB(fn func(*catalog.Show) error) error {
	return s.forEach("SELECT "+showColumns+" FROM shows WHERE tvdb_id IS NOT NULL", fn)
}

func (s *Store) forEach(query string, fn func(*catalog.Show) error, args ...any) error {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return fmt.Errorf("query shows: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		show, err := scanShow(rows)
		if err != nil {
			return fmt.Errorf("scan show: %w", err)
		}
		if err := fn(show); err != nil {
			return err
		}
	}
	return rows.Err()
}

// IDsUpdatedSince returns the upstream IDs whose feed timestamp is at or
// after ts.
func (s *Store) IDsUpdatedSince(ts int64) (map[int]struct{}, error) {
	rows, err := s.db.Query("SELECT tvmaze_id FROM shows WHERE tvmaze_updated_at >= ?", ts)
	if err != nil {
		return nil, fmt.Errorf("query updated ids: %w", err)
	}
	defer rows.Close()
	ids := make(map[int]struct{})
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// MarkAdded records a successful downstream add. Leaving PENDING_DOWNSTREAM
// clears the retry clock, so a later re-entry starts a fresh pending_since.
func (s *Store) MarkAdded(tvmazeID, seriesID int, now time.Time) error {
	_, err := s.db.Exec(`UPDATE shows SET
		processing_status = ?,
		sonarr_series_id = ?,
		added_to_sonarr_at = ?,
		filter_reason = NULL,
		error_message = NULL,
		retry_after = NULL,
		pending_since = NULL
		WHERE tvmaze_id = ?`,
		catalog.StatusAdded, seriesID, formatTime(now), tvmazeID)
	if err != nil {
		return fmt.Errorf("mark show %d added: %w", tvmazeID, err)
	}
	return nil
}

// MarkFiltered records a filter decision. The stored reason is prefixed
// with its category so statistics can aggregate on the part before the
// first colon.
func (s *Store) MarkFiltered(tvmazeID int, reason, category string) error {
	_, err := s.db.Exec(`UPDATE shows SET
		processing_status = ?,
		filter_reason = ?,
		sonarr_series_id = NULL,
		error_message = NULL,
		retry_after = NULL,
		pending_since = NULL
		WHERE tvmaze_id = ?`,
		catalog.StatusFiltered, category+": "+reason, tvmazeID)
	if err != nil {
		return fmt.Errorf("mark show %d filtered: %w", tvmazeID, err)
	}
	return nil
}

// MarkPendingTVDB parks a show until retryAfter. pending_since is set only
// on first entry; successive retries keep the original value, which is the
// clock the abandonment horizon measures against.
func (s *Store) MarkPendingTVDB(tvmazeID int, retryAfter, now time.Time) error {
	_, err := s.db.Exec(`UPDATE shows SET
		processing_status = ?,
		retry_after = ?,
		pending_since = COALESCE(pending_since, ?),
		error_message = ?
		WHERE tvmaze_id = ?`,
		catalog.StatusPendingTVDB, formatTime(retryAfter), formatTime(now),
		"no downstream id available", tvmazeID)
	if err != nil {
		return fmt.Errorf("mark show %d pending: %w", tvmazeID, err)
	}
	return nil
}

// MarkFailed records a terminal failure.
func (s *Store) MarkFailed(tvmazeID int, errorMessage string) error {
	_, err := s.db.Exec(`UPDATE shows SET
		processing_status = ?,
		error_message = ?
		WHERE tvmaze_id = ?`,
		catalog.StatusFailed, errorMessage, tvmazeID)
	if err != nil {
		return fmt.Errorf("mark show %d failed: %w", tvmazeID, err)
	}
	return nil
}

// UpdateStatus sets the processing status without touching anything else.
func (s *Store) UpdateStatus(tvmazeID int, status string) error {
	_, err := s.db.Exec("UPDATE shows SET processing_status = ? WHERE tvmaze_id = ?",
		status, tvmazeID)
	if err != nil {
		return fmt.Errorf("update show %d status: %w", tvmazeID, err)
	}
	return nil
}

// IncrementRetryCount bumps and returns the retry counter.
func (s *Store) IncrementRetryCount(tvmazeID int) (int, error) {
	var count int
	err := s.db.QueryRow(`UPDATE shows SET retry_count = COALESCE(retry_count, 0) + 1
		WHERE tvmaze_id = ? RETURNING retry_count`, tvmazeID).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("increment retry count for %d: %w", tvmazeID, err)
	}
	return count, nil
}

// StatusCounts returns show counts grouped by processing status.
func (s *Store) StatusCounts() (map[string]int, error) {
	rows, err := s.db.Query(
		"SELECT processing_status, COUNT(*) FROM shows GROUP BY processing_status")
	if err != nil {
		return nil, fmt.Errorf("query status counts: %w", err)
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// FilterCategoryCounts aggregates filtered shows by the category prefix of
// their stored reason (the part before the first colon).
func (s *Store) FilterCategoryCounts() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT filter_reason, COUNT(*) FROM shows
		WHERE processing_status = ? AND filter_reason IS NOT NULL
		GROUP BY filter_reason`, catalog.StatusFiltered)
	if err != nil {
		return nil, fmt.Errorf("query filter counts: %w", err)
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var reason string
		var n int
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, err
		}
		category := reason
		if i := strings.IndexByte(reason, ':'); i >= 0 {
			category = strings.TrimSpace(reason[:i])
		}
		counts[category] += n
	}
	return counts, rows.Err()
}

// RetryCounts returns show counts keyed by stringified retry count.
func (s *Store) RetryCounts() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT COALESCE(retry_count, 0), COUNT(*)
		FROM shows GROUP BY retry_count`)
	if err != nil {
		return nil, fmt.Errorf("query retry counts: %w", err)
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var rc, n int
		if err := rows.Scan(&rc, &n); err != nil {
			return nil, err
		}
		counts[strconv.Itoa(rc)] = n
	}
	return counts, rows.Err()
}

// HighestTVMazeID returns the largest upstream ID in the cache, 0 when
// empty.
func (s *Store) HighestTVMazeID() (int, error) {
	var maxID sql.NullInt64
	if err := s.db.QueryRow("SELECT MAX(tvmaze_id) FROM shows").Scan(&maxID); err != nil {
		return 0, fmt.Errorf("query highest id: %w", err)
	}
	return int(maxID.Int64), nil
}

// TotalCount returns the number of cached shows.
func (s *Store) TotalCount() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM shows").Scan(&n); err != nil {
		return 0, fmt.Errorf("query total count: %w", err)
	}
	return n, nil
}

func (s *Store) queryShows(query string, args ...any) ([]catalog.Show, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query shows: %w", err)
	}
	defer rows.Close()
	var shows []catalog.Show
	for rows.Next() {
		show, err := scanShow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan show: %w", err)
		}
		shows = append(shows, *show)
	}
	return shows, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanShow(row scanner) (*catalog.Show, error) {
	var (
		s            catalog.Show
		tvdbID       sql.NullInt64
		imdbID       sql.NullString
		language     sql.NullString
		country      sql.NullString
		typ          sql.NullString
		status       sql.NullString
		premiered    sql.NullString
		ended        sql.NullString
		network      sql.NullString
		webChannel   sql.NullString
		genres       sql.NullString
		runtime      sql.NullInt64
		filterReason sql.NullString
		seriesID     sql.NullInt64
		addedAt      sql.NullString
		lastChecked  sql.NullString
		updatedAt    sql.NullInt64
		retryAfter   sql.NullString
		retryCount   sql.NullInt64
		pendingSince sql.NullString
		errMsg       sql.NullString
	)

	err := row.Scan(
		&s.TVMazeID, &tvdbID, &imdbID, &s.Title, &language, &country, &typ, &status,
		&premiered, &ended, &network, &webChannel, &genres, &runtime, &s.ProcessingStatus,
		&filterReason, &seriesID, &addedAt, &lastChecked,
		&updatedAt, &retryAfter, &retryCount, &pendingSince, &errMsg,
	)
	if err != nil {
		return nil, err
	}

	if tvdbID.Valid {
		v := int(tvdbID.Int64)
		s.TVDBID = &v
	}
	if runtime.Valid {
		v := int(runtime.Int64)
		s.Runtime = &v
	}
	s.IMDBID = imdbID.String
	s.Language = language.String
	s.Country = country.String
	s.Type = typ.String
	s.Status = status.String
	s.Network = network.String
	s.WebChannel = webChannel.String
	s.FilterReason = filterReason.String
	s.SonarrSeriesID = int(seriesID.Int64)
	s.TVMazeUpdatedAt = updatedAt.Int64
	s.RetryCount = int(retryCount.Int64)
	s.ErrorMessage = errMsg.String

	s.Premiered = parseTime(premiered.String)
	s.Ended = parseTime(ended.String)
	s.AddedToSonarrAt = parseTime(addedAt.String)
	s.LastChecked = parseTime(lastChecked.String)
	s.RetryAfter = parseTime(retryAfter.String)
	s.PendingSince = parseTime(pendingSince.String)

	if genres.Valid && genres.String != "" {
		if err := json.Unmarshal([]byte(genres.String), &s.Genres); err != nil {
			return nil, fmt.Errorf("decode genres for show %d: %w", s.TVMazeID, err)
		}
	}
	return &s, nil
}
