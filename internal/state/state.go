// Package state persists the sync engine's operational checkpoint between
// runs: pagination cursor, highest seen show ID, sync timestamps, and the
// filter configuration hash. The checkpoint is a small flat JSON file written
// atomically and backed up after each successful cycle, so a crash mid-cycle
// loses at most one page of progress.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// State is the checkpoint data. Zero times and empty strings mean "never" /
// "unset" and serialize as JSON null.
type State struct {
	LastFullSync        time.Time
	LastIncrementalSync time.Time
	LastTVMazePage      int
	HighestTVMazeID     int
	LastFilterHash      string
	LastUpdatesCheck    time.Time
}

// stateFile is the wire shape. Pointers distinguish null/missing from zero:
// the two cursor ints are required, everything else is optional.
type stateFile struct {
	LastFullSync        *time.Time `json:"last_full_sync"`
	LastIncrementalSync *time.Time `json:"last_incremental_sync"`
	LastTVMazePage      *int       `json:"last_tvmaze_page"`
	HighestTVMazeID     *int       `json:"highest_tvmaze_id"`
	LastFilterHash      *string    `json:"last_filter_hash"`
	LastUpdatesCheck    *time.Time `json:"last_updates_check"`
}

// Manager owns the checkpoint file and serialises access to it. The sync
// worker mutates through Update and the HTTP surface reads through Snapshot.
type Manager struct {
	mu   sync.Mutex
	st   State
	path string
	log  *slog.Logger
}

// Path returns where the checkpoint file lives.
func (m *Manager) Path() string { return m.path }

// Load reads the checkpoint from path. Recovery order: the primary file,
// then path.bak, then a fresh zero state. A corrupt or invalid primary falls
// through to the backup with a warning; Load itself never fails.
func Load(path string, log *slog.Logger) *Manager {
	m := &Manager{path: path, log: log.With("component", "state")}

	if st, err := readFile(path); err == nil {
		m.st = st
		m.log.Info("loaded state", "path", path, "last_page", st.LastTVMazePage, "highest_id", st.HighestTVMazeID)
		return m
	} else if !os.IsNotExist(err) {
		m.log.Warn("state file invalid, trying backup", "path", path, "error", err)
	}

	backup := path + ".bak"
	if st, err := readFile(backup); err == nil {
		m.st = st
		m.log.Warn("restored state from backup", "path", backup)
		return m
	} else if !os.IsNotExist(err) {
		m.log.Error("backup state invalid", "path", backup, "error", err)
	}

	m.log.Warn("starting with fresh state, no valid state file found")
	return m
}

func readFile(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return State{}, err
	}
	return decode(data)
}

func decode(data []byte) (State, error) {
	var f stateFile
	if err := json.Unmarshal(data, &f); err != nil {
		return State{}, err
	}
	if f.LastTVMazePage == nil {
		return State{}, errors.New("missing required key last_tvmaze_page")
	}
	if f.HighestTVMazeID == nil {
		return State{}, errors.New("missing required key highest_tvmaze_id")
	}
	st := State{
		LastTVMazePage:  *f.LastTVMazePage,
		HighestTVMazeID: *f.HighestTVMazeID,
	}
	if f.LastFullSync != nil {
		st.LastFullSync = *f.LastFullSync
	}
	if f.LastIncrementalSync != nil {
		st.LastIncrementalSync = *f.LastIncrementalSync
	}
	if f.LastFilterHash != nil {
		st.LastFilterHash = *f.LastFilterHash
	}
	if f.LastUpdatesCheck != nil {
		st.LastUpdatesCheck = *f.LastUpdatesCheck
	}
	return st, nil
}

func encode(st State) ([]byte, error) {
	f := stateFile{
		LastTVMazePage:  &st.LastTVMazePage,
		HighestTVMazeID: &st.HighestTVMazeID,
	}
	if !st.LastFullSync.IsZero() {
		t := st.LastFullSync
		f.LastFullSync = &t
	}
	if !st.LastIncrementalSync.IsZero() {
		t := st.LastIncrementalSync
		f.LastIncrementalSync = &t
	}
	if st.LastFilterHash != "" {
		f.LastFilterHash = &st.LastFilterHash
	}
	if !st.LastUpdatesCheck.IsZero() {
		t := st.LastUpdatesCheck
		f.LastUpdatesCheck = &t
	}
	return json.MarshalIndent(f, "", "  ")
}

// Snapshot returns a copy of the current state.
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st
}

// Update applies fn to the state under the lock. The caller decides when the
// result is worth a Save.
func (m *Manager) Update(fn func(*State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.st)
}

// Save writes the state to disk atomically: marshal, write path.tmp, rename
// over path. The temp file is removed on any failure.
func (m *Manager) Save() error {
	m.mu.Lock()
	st := m.st
	m.mu.Unlock()

	data, err := encode(st)
	if err != nil {
		return fmt.Errorf("state save: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("state save: %w", err)
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("state save: write: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("state save: rename: %w", err)
	}
	m.log.Debug("saved state", "path", m.path)
	return nil
}

// Backup copies the state file to path.bak. Called after a successful sync
// cycle so the backup always holds a known-good checkpoint.
func (m *Manager) Backup() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("state backup: %w", err)
	}
	backup := m.path + ".bak"
	if err := os.WriteFile(backup, data, 0o644); err != nil {
		return fmt.Errorf("state backup: %w", err)
	}
	m.log.Debug("created state backup", "path", backup)
	return nil
}
