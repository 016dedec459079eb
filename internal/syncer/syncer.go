// Package syncer drives sync cycles: paging the TVMaze index on first run,
// applying incremental updates afterwards, probing for new IDs, and retrying
// shows parked without a TVDB ID. Every show funnels through the same
// process step, so a show reaches Sonarr the same way no matter which pass
// found it.
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/snapetech/showsyncr/internal/cache"
	"github.com/snapetech/showsyncr/internal/catalog"
	"github.com/snapetech/showsyncr/internal/metrics"
	"github.com/snapetech/showsyncr/internal/processor"
	"github.com/snapetech/showsyncr/internal/sonarr"
	"github.com/snapetech/showsyncr/internal/state"
	"github.com/snapetech/showsyncr/internal/tvmaze"
)

// rateLimitPause is how long a pass sleeps after the TVMaze client reports
// an exhausted rate budget before continuing where it left off.
const rateLimitPause = 10 * time.Second

// Upstream is the slice of the TVMaze client the engine uses.
type Upstream interface {
	ShowsPage(ctx context.Context, page int) ([]tvmaze.ShowRecord, error)
	Show(ctx context.Context, id int) (*tvmaze.ShowRecord, error)
	Updates(ctx context.Context, since string) (map[int]int64, error)
}

// Downstream is the slice of the Sonarr client the engine uses.
type Downstream interface {
	Lookup(ctx context.Context, tvdbID int) (sonarr.Series, error)
	Add(ctx context.Context, p sonarr.AddParams, details sonarr.Series) sonarr.AddResult
	AllSeries(ctx context.Context) ([]sonarr.Series, error)
}

// Config wires an Engine.
type Config struct {
	// UpdateWindow is the TVMaze updates feed window: day, week or month.
	UpdateWindow string
	// RetryDelay is how long a show without a TVDB ID waits between
	// retries.
	RetryDelay time.Duration
	// AbandonAfter bounds how long a show may stay pending before it is
	// marked failed. AbandonAfterRaw is the config literal, quoted in the
	// failure message.
	AbandonAfter    time.Duration
	AbandonAfterRaw string
	// DryRun logs adds instead of calling Sonarr.
	DryRun bool
}

func (c *Config) setDefaults() {
	if c.UpdateWindow == "" {
		c.UpdateWindow = "week"
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 7 * 24 * time.Hour
	}
	if c.AbandonAfter <= 0 {
		c.AbandonAfter = 365 * 24 * time.Hour
	}
	if c.AbandonAfterRaw == "" {
		c.AbandonAfterRaw = "1y"
	}
}

// Deps are the engine's collaborators.
type Deps struct {
	Store     *cache.Store
	State     *state.Manager
	TVMaze    Upstream
	Sonarr    Downstream
	Processor *processor.Processor
}

// Engine runs sync cycles. One cycle at a time; the scheduler guarantees
// serialization.
type Engine struct {
	cfg    Config
	store  *cache.Store
	state  *state.Manager
	tvmaze Upstream
	sonarr Downstream
	proc   *processor.Processor
	log    *slog.Logger

	now   func() time.Time
	pause time.Duration
}

func New(cfg Config, deps Deps, log *slog.Logger) *Engine {
	cfg.setDefaults()
	return &Engine{
		cfg:    cfg,
		store:  deps.Store,
		state:  deps.State,
		tvmaze: deps.TVMaze,
		sonarr: deps.Sonarr,
		proc:   deps.Processor,
		log:    log.With("component", "sync"),
		now:    func() time.Time { return time.Now().UTC() },
		pause:  rateLimitPause,
	}
}

// RunCycle executes one full cycle: initial or incremental sync, then the
// retry pass, then state finalization. Partial progress survives a failed
// cycle through the per-page checkpoints.
func (e *Engine) RunCycle(ctx context.Context) error {
	stats := &catalog.SyncStats{StartedAt: e.now()}

	err := e.runCycle(ctx, stats)
	stats.CompletedAt = e.now()
	metrics.RecordSyncComplete(stats, err == nil)
	if err != nil {
		return err
	}

	e.log.Info("sync complete",
		"added", stats.ShowsAdded,
		"filtered", stats.ShowsFiltered,
		"exists", stats.ShowsExists,
		"skipped", stats.ShowsSkipped,
		"failed", stats.ShowsFailed,
		"tvmaze_calls", stats.APICallsTVMaze,
		"sonarr_calls", stats.APICallsSonarr)
	return nil
}

func (e *Engine) runCycle(ctx context.Context, stats *catalog.SyncStats) error {
	if e.state.Snapshot().LastFullSync.IsZero() {
		if err := e.initialSync(ctx, stats); err != nil {
			return err
		}
		e.state.Update(func(s *state.State) { s.LastFullSync = e.now() })
		metrics.SetInitialComplete()
	} else {
		if err := e.incrementalSync(ctx, stats); err != nil {
			return err
		}
	}

	if err := e.retryPending(ctx, stats); err != nil {
		return err
	}

	e.state.Update(func(s *state.State) { s.LastIncrementalSync = e.now() })
	if err := e.state.Save(); err != nil {
		return err
	}
	if err := e.state.Backup(); err != nil {
		e.log.Warn("state backup failed", "error", err)
	}
	return nil
}

// processShow stores the show and acts on the processor's decision. Called
// for every show any pass touches.
func (e *Engine) processShow(ctx context.Context, show *catalog.Show, stats *catalog.SyncStats) error {
	stats.ShowsProcessed++
	show.LastChecked = e.now()
	if err := e.store.Upsert(show); err != nil {
		return err
	}

	res := e.proc.Process(show)
	switch res.Decision {
	case processor.DecisionFilter:
		if err := e.store.MarkFiltered(show.TVMazeID, res.Reason, res.Category); err != nil {
			return err
		}
		stats.ShowsFiltered++
		if e.cfg.DryRun {
			e.log.Info("dry run: filtered", "title", show.Title, "reason", res.Reason)
		}
	case processor.DecisionRetry:
		now := e.now()
		if err := e.store.MarkPendingTVDB(show.TVMazeID, now.Add(e.cfg.RetryDelay), now); err != nil {
			return err
		}
		stats.ShowsSkipped++
		if e.cfg.DryRun {
			e.log.Info("dry run: pending tvdb", "title", show.Title)
		}
	case processor.DecisionAdd:
		return e.addShow(ctx, show, &res, stats)
	}
	return nil
}

// addShow sends an accepted show to Sonarr, or logs the intent in dry-run
// mode. A lookup miss means Sonarr's metadata source does not know the TVDB
// ID yet, so the show is parked for retry rather than failed.
func (e *Engine) addShow(ctx context.Context, show *catalog.Show, res *processor.Result, stats *catalog.SyncStats) error {
	if e.cfg.DryRun {
		e.log.Info("dry run: would add", "title", show.Title, "reason", res.Reason)
		stats.ShowsAdded++
		return nil
	}

	stats.APICallsSonarr++
	details, err := e.sonarr.Lookup(ctx, res.Params.TVDBID)
	if err != nil {
		return err
	}
	if details == nil {
		e.log.Warn("show not found in Sonarr lookup, parking for retry", "title", show.Title)
		now := e.now()
		if err := e.store.MarkPendingTVDB(show.TVMazeID, now.Add(e.cfg.RetryDelay), now); err != nil {
			return err
		}
		stats.ShowsSkipped++
		return nil
	}

	stats.APICallsSonarr++
	result := e.sonarr.Add(ctx, *res.Params, details)
	switch {
	case result.Success:
		if err := e.store.MarkAdded(show.TVMazeID, result.SeriesID, e.now()); err != nil {
			return err
		}
		stats.ShowsAdded++
		e.log.Info("added show", "title", show.Title)
	case result.Exists:
		if err := e.store.UpdateStatus(show.TVMazeID, catalog.StatusExists); err != nil {
			return err
		}
		stats.ShowsExists++
	default:
		if err := e.store.MarkFailed(show.TVMazeID, result.Error); err != nil {
			return err
		}
		stats.ShowsFailed++
		e.log.Warn("failed to add show", "title", show.Title, "error", result.Error)
	}
	return nil
}

// recordHighest lifts state.highest_tvmaze_id to at least id.
func (e *Engine) recordHighest(id int) {
	e.state.Update(func(s *state.State) {
		if id > s.HighestTVMazeID {
			s.HighestTVMazeID = id
		}
	})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// abortOn reports whether err means the pass should stop rather than move
// on to the next show.
func abortOn(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
