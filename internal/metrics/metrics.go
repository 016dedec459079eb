// Package metrics defines the Prometheus surface. Gauges describing cache
// contents are refreshed on scrape via UpdateFromStore; cycle outcomes are
// recorded once per sync by RecordSyncComplete.
package metrics

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/snapetech/showsyncr/internal/cache"
	"github.com/snapetech/showsyncr/internal/catalog"
)

var (
	syncLastRunTimestamp = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tvmaze_sync_last_run_timestamp",
		Help: "Unix timestamp of last completed sync",
	})
	syncLastRunDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tvmaze_sync_last_run_duration_seconds",
		Help: "Duration of last sync cycle",
	})
	syncNextRunTimestamp = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tvmaze_sync_next_run_timestamp",
		Help: "Unix timestamp of next scheduled sync",
	})
	syncInitialComplete = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tvmaze_sync_initial_complete",
		Help: "Whether initial full sync has completed (0/1)",
	})
	syncHealthy = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tvmaze_sync_healthy",
		Help: "Whether last sync completed successfully (0/1)",
	})

	showsTotal = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tvmaze_shows_total",
		Help: "Total shows in database",
	}, []string{"status"})
	showsFilteredByReason = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tvmaze_shows_filtered_by_reason",
		Help: "Shows filtered by reason",
	}, []string{"reason"})
	showsHighestID = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tvmaze_shows_highest_id",
		Help: "Highest TVMaze ID seen",
	})

	showsProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tvmaze_shows_processed_total",
		Help: "Total shows processed (lifetime)",
	}, []string{"result"})
	syncShowsProcessed = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tvmaze_sync_shows_processed",
		Help: "Shows processed in last sync cycle",
	}, []string{"result"})

	apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tvmaze_api_requests_total",
		Help: "External API requests",
	}, []string{"service", "endpoint", "status"})
	sonarrHealthy = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tvmaze_sonarr_healthy",
		Help: "Sonarr API reachable (0/1)",
	})

	showsPendingRetry = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tvmaze_shows_pending_retry",
		Help: "Shows awaiting retry",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(
		syncLastRunTimestamp,
		syncLastRunDuration,
		syncNextRunTimestamp,
		syncInitialComplete,
		syncHealthy,
		showsTotal,
		showsFilteredByReason,
		showsHighestID,
		showsProcessedTotal,
		syncShowsProcessed,
		apiRequestsTotal,
		sonarrHealthy,
		showsPendingRetry,
	)
}

// Handler serves the exposition endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// UpdateFromStore refreshes the cache-derived gauges. Query failures are
// logged and leave the previous values in place; a scrape never fails.
func UpdateFromStore(store *cache.Store, log *slog.Logger) {
	if counts, err := store.StatusCounts(); err == nil {
		for status, count := range counts {
			showsTotal.WithLabelValues(status).Set(float64(count))
		}
	} else {
		log.Error("failed to update status metrics", "error", err)
	}

	if counts, err := store.FilterCategoryCounts(); err == nil {
		for reason, count := range counts {
			showsFilteredByReason.WithLabelValues(reason).Set(float64(count))
		}
	} else {
		log.Error("failed to update filter metrics", "error", err)
	}

	if highest, err := store.HighestTVMazeID(); err == nil {
		showsHighestID.Set(float64(highest))
	} else {
		log.Error("failed to update highest id metric", "error", err)
	}

	if counts, err := store.RetryCounts(); err == nil {
		for reason, count := range counts {
			showsPendingRetry.WithLabelValues(reason).Set(float64(count))
		}
	} else {
		log.Error("failed to update retry metrics", "error", err)
	}
}

// RecordSyncComplete publishes the outcome of a finished cycle: last-run
// gauges, per-cycle result gauges, and the lifetime counters.
func RecordSyncComplete(stats *catalog.SyncStats, success bool) {
	if !stats.CompletedAt.IsZero() {
		syncLastRunTimestamp.Set(float64(stats.CompletedAt.Unix()))
		syncLastRunDuration.Set(stats.Duration().Seconds())
	}

	if success {
		syncHealthy.Set(1)
	} else {
		syncHealthy.Set(0)
	}

	results := map[string]int{
		"added":    stats.ShowsAdded,
		"filtered": stats.ShowsFiltered,
		"skipped":  stats.ShowsSkipped,
		"failed":   stats.ShowsFailed,
		"exists":   stats.ShowsExists,
	}
	for result, count := range results {
		syncShowsProcessed.WithLabelValues(result).Set(float64(count))
		if count > 0 {
			showsProcessedTotal.WithLabelValues(result).Add(float64(count))
		}
	}
}

// SetInitialComplete marks the initial full sync as done.
func SetInitialComplete() {
	syncInitialComplete.Set(1)
}

// SetNextRun records the next scheduled cycle time. A zero time is ignored.
func SetNextRun(t time.Time) {
	if t.IsZero() {
		return
	}
	syncNextRunTimestamp.Set(float64(t.Unix()))
}

// SetSonarrHealthy records downstream reachability.
func SetSonarrHealthy(up bool) {
	if up {
		sonarrHealthy.Set(1)
	} else {
		sonarrHealthy.Set(0)
	}
}

// CountAPIRequest counts one request to an external service. Wired to the
// client OnRequest hooks.
func CountAPIRequest(service, endpoint string, status int) {
	apiRequestsTotal.WithLabelValues(service, endpoint, strconv.Itoa(status)).Inc()
}
