// Command show-syncr mirrors the TVMaze show catalog into a Sonarr library:
// one initial walk of the full index, incremental update cycles on a
// schedule, and an HTTP surface for probes, metrics and manual triggers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/snapetech/showsyncr/internal/cache"
	"github.com/snapetech/showsyncr/internal/config"
	"github.com/snapetech/showsyncr/internal/metrics"
	"github.com/snapetech/showsyncr/internal/processor"
	"github.com/snapetech/showsyncr/internal/scheduler"
	"github.com/snapetech/showsyncr/internal/server"
	"github.com/snapetech/showsyncr/internal/sonarr"
	"github.com/snapetech/showsyncr/internal/state"
	"github.com/snapetech/showsyncr/internal/syncer"
	"github.com/snapetech/showsyncr/internal/tvmaze"
)

func main() {
	_ = config.LoadEnvFile(".env")

	configPath := flag.String("config", "", "Config file path (default: CONFIG_PATH or "+config.DefaultPath+")")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)
	logger.Info("starting show-syncr")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Sonarr must be reachable and the configured library parameters must
	// resolve before anything else runs, dry run included.
	sonarrClient := sonarr.New(sonarr.Config{
		URL:             cfg.Sonarr.URL,
		APIKey:          cfg.Sonarr.APIKey,
		RootFolder:      cfg.Sonarr.RootFolder,
		QualityProfile:  string(cfg.Sonarr.QualityProfile),
		LanguageProfile: string(cfg.Sonarr.LanguageProfile),
		Tags:            cfg.Sonarr.TagStrings(),
	}, logger)
	sonarrClient.OnRequest = func(endpoint string, status int) {
		metrics.CountAPIRequest("sonarr", endpoint, status)
	}
	if err := sonarrClient.ValidateConfig(ctx); err != nil {
		logger.Error("sonarr configuration invalid", "error", err)
		os.Exit(1)
	}

	tvmazeClient := tvmaze.New(tvmaze.Config{
		APIKey:    cfg.TVMaze.APIKey,
		RateLimit: cfg.TVMaze.RateLimit,
	}, logger)
	tvmazeClient.OnRequest = func(endpoint string, status int) {
		metrics.CountAPIRequest("tvmaze", endpoint, status)
	}

	if err := os.MkdirAll(cfg.Storage.Path, 0o755); err != nil {
		logger.Error("create storage directory failed", "path", cfg.Storage.Path, "error", err)
		os.Exit(1)
	}
	store, err := cache.Open(cache.DBPath(cfg.Storage.Path), logger)
	if err != nil {
		logger.Error("open show cache failed", "error", err)
		os.Exit(1)
	}
	st := state.Load(filepath.Join(cfg.Storage.Path, "state.json"), logger)

	proc := processor.New(processor.Config{
		Rules:       buildRules(cfg),
		Monitor:     cfg.Sonarr.Monitor,
		SearchOnAdd: cfg.Sonarr.SearchOnAdd,
		Params:      sonarrClient.ValidatedParams(),
	}, logger)

	// A changed filter configuration re-evaluates previously filtered shows
	// before the first cycle. The new hash persists with the next state save.
	hash, _, err := proc.CheckFilterChange(store, st.Snapshot().LastFilterHash)
	if err != nil {
		logger.Error("filter re-evaluation failed", "error", err)
		store.Close()
		os.Exit(1)
	}
	st.Update(func(s *state.State) { s.LastFilterHash = hash })

	poll, retry, abandon := cfg.Sync.Intervals()
	engine := syncer.New(syncer.Config{
		UpdateWindow:    cfg.TVMaze.UpdateWindow,
		RetryDelay:      retry,
		AbandonAfter:    abandon,
		AbandonAfterRaw: cfg.Sync.AbandonAfter,
		DryRun:          cfg.DryRun,
	}, syncer.Deps{
		Store:     store,
		State:     st,
		TVMaze:    tvmazeClient,
		Sonarr:    sonarrClient,
		Processor: proc,
	}, logger)

	// Reconcile cached shows against the live Sonarr library once per start:
	// shows matching the selections but missing downstream get added now
	// rather than waiting for their next catalog update.
	if err := engine.SyncSelections(ctx); err != nil {
		logger.Error("selections sync failed", "error", err)
		store.Close()
		os.Exit(1)
	}

	sched := scheduler.New(scheduler.Config{
		Interval: poll,
		SyncFunc: engine.RunCycle,
	}, logger)

	var srvDone chan error
	if cfg.Server.Enabled {
		srv := server.New(server.Config{Port: cfg.Server.Port}, server.Deps{
			Store:  store,
			State:  st,
			Sched:  sched,
			Sonarr: sonarrClient,
			Proc:   proc,
		}, logger)
		srvDone = make(chan error, 1)
		go func() { srvDone <- srv.Run(ctx) }()
	}

	logBanner(logger, cfg, st, store)

	sched.Start()
	if st.Snapshot().LastFullSync.IsZero() {
		logger.Info("no previous sync detected, starting initial sync")
		sched.TriggerNow()
	}

	exit := 0
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-srvDone:
		srvDone = nil
		if err != nil {
			logger.Error("http server failed", "error", err)
			exit = 1
		}
	}

	sched.Stop(300 * time.Second)
	if srvDone != nil {
		<-srvDone
	}
	if err := store.Close(); err != nil {
		logger.Warn("closing show cache", "error", err)
	}
	if err := st.Save(); err != nil {
		logger.Error("final state save failed", "error", err)
	}
	logger.Info("shutdown complete")
	os.Exit(exit)
}

func newLogger(cfg config.Logging) *slog.Logger {
	var level slog.Level
	switch strings.ToUpper(cfg.Level) {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARNING":
		level = slog.LevelWarn
	case "ERROR", "CRITICAL":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func logBanner(logger *slog.Logger, cfg *config.Config, st *state.Manager, store *cache.Store) {
	lastSync := "never"
	if t := st.Snapshot().LastFullSync; !t.IsZero() {
		lastSync = t.UTC().Format(time.RFC3339)
	}
	total, err := store.TotalCount()
	if err != nil {
		logger.Warn("total count query failed", "error", err)
	}
	logger.Info("show-syncr ready",
		"sonarr_url", cfg.Sonarr.URL,
		"tvmaze_rate_limit", cfg.TVMaze.RateLimit,
		"sync_interval", cfg.Sync.PollInterval,
		"dry_run", cfg.DryRun,
		"last_full_sync", lastSync,
		"total_shows", total,
	)
}

// buildRules maps the configured filters into the processor's form, parsing
// the date bounds Load already validated.
func buildRules(cfg *config.Config) processor.Rules {
	rules := processor.Rules{
		Exclude: processor.Exclude{
			Genres:    cfg.Exclude.Genres,
			Types:     cfg.Exclude.Types,
			Languages: cfg.Exclude.Languages,
			Countries: cfg.Exclude.Countries,
			Networks:  cfg.Exclude.Networks,
		},
		Selections: make([]processor.Selection, 0, len(cfg.Selections)),
	}
	for i := range cfg.Selections {
		sel := &cfg.Selections[i]
		rules.Selections = append(rules.Selections, processor.Selection{
			Name:      sel.Name,
			Languages: sel.Languages,
			Countries: sel.Countries,
			Genres:    sel.Genres,
			Types:     sel.Types,
			Networks:  sel.Networks,
			Status:    sel.Status,
			Premiered: dateRange(sel.Premiered),
			Ended:     dateRange(sel.Ended),
			Rating:    floatRange(sel.Rating),
			Runtime:   intRange(sel.Runtime),
		})
	}
	return rules
}

func dateRange(r *config.DateRange) *processor.DateRange {
	if r == nil {
		return nil
	}
	out := &processor.DateRange{}
	if r.After != "" {
		out.After, _ = time.Parse(time.DateOnly, r.After)
	}
	if r.Before != "" {
		out.Before, _ = time.Parse(time.DateOnly, r.Before)
	}
	return out
}

func floatRange(r *config.FloatRange) *processor.FloatRange {
	if r == nil {
		return nil
	}
	return &processor.FloatRange{Min: r.Min, Max: r.Max}
}

func intRange(r *config.IntRange) *processor.IntRange {
	if r == nil {
		return nil
	}
	return &processor.IntRange{Min: r.Min, Max: r.Max}
}
