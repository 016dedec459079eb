package processor

import (
	"github.com/snapetech/showsyncr/internal/cache"
	"github.com/snapetech/showsyncr/internal/catalog"
)

// CheckFilterChange compares the current rule hash against the hash recorded
// after the previous run and re-evaluates filtered shows when they differ.
// On a first run (no previous hash) it only records. Returns the current
// hash, which the caller persists into state, and the number of shows that
// now pass.
func (p *Processor) CheckFilterChange(store *cache.Store, prevHash string) (string, int, error) {
	current := FilterHash(p.rules)
	if prevHash == "" || prevHash == current {
		return current, 0, nil
	}
	p.log.Info("filter configuration changed, re-evaluating filtered shows")
	n, err := p.ReEvaluateFiltered(store)
	return current, n, err
}

// ReEvaluateFiltered runs every filtered show through the rules again. Shows
// that now pass move back to pending so the next cycle adds them; shows
// still filtered for a different reason get the stored reason updated.
func (p *Processor) ReEvaluateFiltered(store *cache.Store) (int, error) {
	changed := 0
	err := store.ForEachFiltered(func(show *catalog.Show) error {
		res := p.Process(show)
		switch res.Decision {
		case DecisionAdd:
			if err := store.UpdateStatus(show.TVMazeID, catalog.StatusPending); err != nil {
				return err
			}
			changed++
			p.log.Info("show now passes filters", "title", show.Title, "tvmaze_id", show.TVMazeID)
		case DecisionFilter:
			// The cache stores "category: reason"; compare against the
			// composite so unchanged reasons are not rewritten.
			if stored := res.Category + ": " + res.Reason; stored != show.FilterReason {
				if err := store.MarkFiltered(show.TVMazeID, res.Reason, res.Category); err != nil {
					return err
				}
				p.log.Debug("updated filter reason", "title", show.Title, "reason", res.Reason)
			}
		}
		return nil
	})
	if err != nil {
		return changed, err
	}
	p.log.Info("re-evaluated filtered shows", "now_passing", changed)
	return changed, nil
}
