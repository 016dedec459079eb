package syncer

import (
	"context"

	"github.com/snapetech/showsyncr/internal/catalog"
	"github.com/snapetech/showsyncr/internal/processor"
)

// SyncSelections reconciles the cache against the Sonarr library once at
// startup: any cached show that matches the current selections but is not
// in Sonarr gets added. This catches shows accepted by a selection edit
// that no sync cycle has revisited yet.
func (e *Engine) SyncSelections(ctx context.Context) error {
	series, err := e.sonarr.AllSeries(ctx)
	if err != nil {
		return err
	}
	existing := make(map[int]struct{}, len(series))
	for _, s := range series {
		if id := s.TVDBID(); id != 0 {
			existing[id] = struct{}{}
		}
	}
	e.log.Info("loaded Sonarr library", "series", len(existing))

	type candidate struct {
		show catalog.Show
		res  processor.Result
	}
	var candidates []candidate
	checked := 0
	err = e.store.ForEachWithTVDB(func(show *catalog.Show) error {
		checked++
		if _, ok := existing[*show.TVDBID]; ok {
			return nil
		}
		if res := e.proc.Process(show); res.Decision == processor.DecisionAdd {
			candidates = append(candidates, candidate{show: *show, res: res})
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.log.Info("checked cache against selections", "checked", checked, "missing", len(candidates))
	if len(candidates) == 0 {
		return nil
	}

	added, failed := 0, 0
	for i := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		c := &candidates[i]
		if e.cfg.DryRun {
			e.log.Info("dry run: would add", "title", c.show.Title, "reason", c.res.Reason)
			added++
			continue
		}

		details, err := e.sonarr.Lookup(ctx, c.res.Params.TVDBID)
		if err != nil {
			if aerr := abortOn(ctx, err); aerr != nil {
				return aerr
			}
			e.log.Warn("lookup failed", "title", c.show.Title, "error", err)
			failed++
			continue
		}
		if details == nil {
			e.log.Warn("show not found in Sonarr lookup", "title", c.show.Title)
			failed++
			continue
		}

		result := e.sonarr.Add(ctx, *c.res.Params, details)
		switch {
		case result.Success:
			if err := e.store.MarkAdded(c.show.TVMazeID, result.SeriesID, e.now()); err != nil {
				return err
			}
			e.log.Info("added show", "title", c.show.Title)
			added++
		case result.Exists:
			if err := e.store.UpdateStatus(c.show.TVMazeID, catalog.StatusExists); err != nil {
				return err
			}
			added++
		default:
			if err := e.store.MarkFailed(c.show.TVMazeID, result.Error); err != nil {
				return err
			}
			e.log.Warn("failed to add show", "title", c.show.Title, "error", result.Error)
			failed++
		}
	}

	e.log.Info("selections sync complete", "added", added, "failed", failed)
	return nil
}
