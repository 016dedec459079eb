package server

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/snapetech/showsyncr/internal/catalog"
	"github.com/snapetech/showsyncr/internal/metrics"
)

// showsQueryCap bounds how many rows one /shows call may pull regardless of
// the requested limit.
const showsQueryCap = 1000

// serveHealth is the liveness probe. Answering at all is the signal.
func (s *Server) serveHealth() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
}

// serveReady is the readiness probe: the cache must answer a query and
// Sonarr must answer its status endpoint. The Sonarr outcome also feeds the
// health gauge.
func (s *Server) serveReady() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dbOK := s.store.Healthy()
		sonarrOK := s.sonarr.Healthy(r.Context())
		metrics.SetSonarrHealthy(sonarrOK)

		status := http.StatusOK
		label := "ready"
		if !dbOK || !sonarrOK {
			status = http.StatusServiceUnavailable
			label = "not_ready"
		}
		writeJSON(w, status, map[string]any{
			"status": label,
			"checks": map[string]bool{
				"database": dbOK,
				"sonarr":   sonarrOK,
			},
		})
	})
}

// serveMetrics refreshes the cache-derived gauges and the next-run
// timestamp, then hands off to the Prometheus exposition handler.
func (s *Server) serveMetrics() http.Handler {
	inner := metrics.Handler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics.UpdateFromStore(s.store, s.log)
		metrics.SetNextRun(s.sched.NextRun())
		inner.ServeHTTP(w, r)
	})
}

// serveTrigger queues an immediate sync cycle, or answers 409 when one is
// already executing.
func (s *Server) serveTrigger() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.sched.IsRunning() {
			writeJSON(w, http.StatusConflict, map[string]any{
				"status":  "already_running",
				"message": "Sync cycle already in progress",
			})
			return
		}
		s.sched.TriggerNow()
		writeJSON(w, http.StatusOK, map[string]any{"status": "triggered"})
	})
}

// serveState summarises the checkpoint plus live scheduler and cache
// counters.
func (s *Server) serveState() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		counts, err := s.store.StatusCounts()
		if err != nil {
			s.log.Error("status counts query failed", "error", err)
			writeError(w, err)
			return
		}
		total, err := s.store.TotalCount()
		if err != nil {
			s.log.Error("total count query failed", "error", err)
			writeError(w, err)
			return
		}

		st := s.state.Snapshot()
		writeJSON(w, http.StatusOK, map[string]any{
			"last_full_sync":        isoOrNil(st.LastFullSync),
			"last_incremental_sync": isoOrNil(st.LastIncrementalSync),
			"highest_tvmaze_id":     st.HighestTVMazeID,
			"next_scheduled_run":    isoOrNil(s.sched.NextRun()),
			"sync_running":          s.sched.IsRunning(),
			"status_counts":         counts,
			"total_shows":           total,
		})
	})
}

// serveShows lists cached shows by processing status. Without a status
// filter the list is empty; the response echoes the requested limit even
// when the query was capped.
func (s *Server) serveShows() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		status := q.Get("status")
		limit := intParam(q, "limit", 100)
		offset := intParam(q, "offset", 0)

		views := []catalog.View{}
		if status != "" {
			shows, err := s.store.ListByStatus(status, min(limit, showsQueryCap), offset)
			if err != nil {
				s.log.Error("shows query failed", "status", status, "error", err)
				writeError(w, err)
				return
			}
			views = make([]catalog.View, 0, len(shows))
			for i := range shows {
				views = append(views, shows[i].View())
			}
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"shows":  views,
			"count":  len(views),
			"limit":  limit,
			"offset": offset,
		})
	})
}

// serveRefilter re-evaluates every filtered show against the current rules.
func (s *Server) serveRefilter() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, err := s.proc.ReEvaluateFiltered(s.store)
		if err != nil {
			s.log.Error("refilter failed", "error", err)
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":             "complete",
			"shows_re_evaluated": n,
		})
	})
}

// intParam reads an integer query parameter, falling back to def when the
// parameter is absent or not a number.
func intParam(q url.Values, name string, def int) int {
	v := q.Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
