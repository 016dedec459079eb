package syncer

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/snapetech/showsyncr/internal/catalog"
	"github.com/snapetech/showsyncr/internal/state"
	"github.com/snapetech/showsyncr/internal/tvmaze"
)

// probeMissLimit is how many consecutive unknown IDs the new-show probe
// tolerates before concluding it has passed the end of the catalog.
const probeMissLimit = 10

// initialSync walks the paged show index from the checkpointed page. The
// cursor stores the last completed page, so a resumed sync re-fetches that
// page; upserts make the overlap harmless.
func (e *Engine) initialSync(ctx context.Context, stats *catalog.SyncStats) error {
	page := e.state.Snapshot().LastTVMazePage
	e.log.Info("starting initial sync", "page", page)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.APICallsTVMaze++
		records, err := e.tvmaze.ShowsPage(ctx, page)
		if err != nil {
			if errors.Is(err, tvmaze.ErrNotFound) {
				break
			}
			if errors.Is(err, tvmaze.ErrRateLimited) {
				e.log.Warn("rate limited, backing off", "page", page)
				if err := sleepCtx(ctx, e.pause); err != nil {
					return err
				}
				continue
			}
			return fmt.Errorf("fetch page %d: %w", page, err)
		}

		for i := range records {
			show := records[i].Show()
			if err := e.processShow(ctx, &show, stats); err != nil {
				if aerr := abortOn(ctx, err); aerr != nil {
					return aerr
				}
				e.log.Error("error processing show", "tvmaze_id", show.TVMazeID, "error", err)
				continue
			}
			e.recordHighest(show.TVMazeID)
		}

		e.state.Update(func(s *state.State) { s.LastTVMazePage = page })
		if err := e.state.Save(); err != nil {
			return err
		}
		e.log.Info("page complete", "page", page, "shows", len(records))
		page++
	}

	e.log.Info("initial sync complete", "highest_id", e.state.Snapshot().HighestTVMazeID)
	return nil
}

// incrementalSync applies the updates feed for the configured window, then
// probes for IDs above the highest one seen.
func (e *Engine) incrementalSync(ctx context.Context, stats *catalog.SyncStats) error {
	stats.APICallsTVMaze++
	updates, err := e.tvmaze.Updates(ctx, e.cfg.UpdateWindow)
	if err != nil {
		return fmt.Errorf("fetch updates: %w", err)
	}
	e.state.Update(func(s *state.State) { s.LastUpdatesCheck = e.now() })
	e.log.Info("starting incremental sync", "window", e.cfg.UpdateWindow, "updated", len(updates))

	for _, id := range slices.Sorted(maps.Keys(updates)) {
		if err := ctx.Err(); err != nil {
			return err
		}
		cached, err := e.store.Get(id)
		if err != nil {
			return err
		}
		if cached != nil && cached.TVMazeUpdatedAt >= updates[id] {
			continue
		}

		stats.APICallsTVMaze++
		record, err := e.tvmaze.Show(ctx, id)
		if err != nil {
			switch {
			case errors.Is(err, tvmaze.ErrNotFound):
				e.log.Warn("updated show not found, skipping", "tvmaze_id", id)
			case errors.Is(err, tvmaze.ErrRateLimited):
				e.log.Warn("rate limited, backing off")
				if err := sleepCtx(ctx, e.pause); err != nil {
					return err
				}
			default:
				if aerr := abortOn(ctx, err); aerr != nil {
					return aerr
				}
				e.log.Error("error fetching updated show", "tvmaze_id", id, "error", err)
			}
			continue
		}

		show := record.Show()
		if err := e.processShow(ctx, &show, stats); err != nil {
			if aerr := abortOn(ctx, err); aerr != nil {
				return aerr
			}
			e.log.Error("error processing show", "tvmaze_id", id, "error", err)
			continue
		}
		e.recordHighest(id)
	}

	return e.probeNewShows(ctx, stats)
}

// probeNewShows walks IDs above the known highest until probeMissLimit
// consecutive IDs come back unknown. TVMaze IDs are mostly dense, so a run
// of misses marks the end of the catalog rather than a gap.
func (e *Engine) probeNewShows(ctx context.Context, stats *catalog.SyncStats) error {
	start := e.state.Snapshot().HighestTVMazeID
	e.log.Info("checking for new shows", "above_id", start)

	id := start + 1
	misses := 0
	for misses < probeMissLimit {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.APICallsTVMaze++
		record, err := e.tvmaze.Show(ctx, id)
		if err != nil {
			switch {
			case errors.Is(err, tvmaze.ErrNotFound):
				misses++
				id++
			case errors.Is(err, tvmaze.ErrRateLimited):
				e.log.Warn("rate limited, backing off")
				if err := sleepCtx(ctx, e.pause); err != nil {
					return err
				}
			default:
				if aerr := abortOn(ctx, err); aerr != nil {
					return aerr
				}
				e.log.Error("error probing show", "tvmaze_id", id, "error", err)
				misses++
				id++
			}
			continue
		}

		show := record.Show()
		if err := e.processShow(ctx, &show, stats); err != nil {
			if aerr := abortOn(ctx, err); aerr != nil {
				return aerr
			}
			e.log.Error("error processing show", "tvmaze_id", id, "error", err)
			misses++
			id++
			continue
		}
		e.recordHighest(id)
		misses = 0
		id++
	}

	e.log.Info("new show check complete", "highest_id", e.state.Snapshot().HighestTVMazeID)
	return nil
}

// retryPending abandons shows that have waited past the horizon, then
// re-fetches the rest to see whether TVMaze has learned their TVDB IDs.
func (e *Engine) retryPending(ctx context.Context, stats *catalog.SyncStats) error {
	now := e.now()
	abandoned, err := e.store.DueForAbandonment(now, e.cfg.AbandonAfter)
	if err != nil {
		return err
	}
	for i := range abandoned {
		show := &abandoned[i]
		e.log.Warn("abandoning show, no TVDB id", "title", show.Title, "waited", e.cfg.AbandonAfterRaw)
		if err := e.store.MarkFailed(show.TVMazeID, "no downstream id after "+e.cfg.AbandonAfterRaw); err != nil {
			return err
		}
	}

	ready, err := e.store.ReadyForRetry(now, e.cfg.AbandonAfter)
	if err != nil {
		return err
	}
	if len(ready) == 0 {
		return nil
	}
	e.log.Info("retrying shows without TVDB id", "count", len(ready))

	for i := range ready {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.retryOne(ctx, &ready[i], stats); err != nil {
			if errors.Is(err, tvmaze.ErrRateLimited) {
				e.log.Warn("rate limited, backing off")
				if serr := sleepCtx(ctx, e.pause); serr != nil {
					return serr
				}
				continue
			}
			if aerr := abortOn(ctx, err); aerr != nil {
				return aerr
			}
			e.log.Error("error retrying show", "tvmaze_id", ready[i].TVMazeID, "error", err)
		}
	}
	return nil
}

func (e *Engine) retryOne(ctx context.Context, cached *catalog.Show, stats *catalog.SyncStats) error {
	stats.APICallsTVMaze++
	record, err := e.tvmaze.Show(ctx, cached.TVMazeID)
	if err != nil {
		if errors.Is(err, tvmaze.ErrNotFound) {
			e.log.Warn("show gone from TVMaze, marking failed", "tvmaze_id", cached.TVMazeID)
			return e.store.MarkFailed(cached.TVMazeID, "removed from TVMaze")
		}
		return err
	}

	refreshed := record.Show()
	refreshed.PendingSince = cached.PendingSince
	refreshed.RetryCount = cached.RetryCount
	refreshed.LastChecked = e.now()
	if err := e.store.Upsert(&refreshed); err != nil {
		return err
	}

	n, err := e.store.IncrementRetryCount(cached.TVMazeID)
	if err != nil {
		return err
	}
	// Carry the bumped count so the upsert inside processShow does not
	// write the stale one back.
	refreshed.RetryCount = n

	if refreshed.TVDBID != nil {
		e.log.Info("show gained TVDB id", "title", refreshed.Title, "retries", n)
		return e.processShow(ctx, &refreshed, stats)
	}

	now := e.now()
	return e.store.MarkPendingTVDB(cached.TVMazeID, now.Add(e.cfg.RetryDelay), now)
}
