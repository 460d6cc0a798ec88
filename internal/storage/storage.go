// Package storage persists the small amount of process state that must
// survive a restart: the global trading switch, exit rules, cooldowns and
// the last cycle summary.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"alpha_autotrader/internal/models"

	"go.uber.org/zap"
)

// CurrentVersion is the state schema version written by Save.
const CurrentVersion = "2.1"

// CycleSummary is the operator-facing tally of the last orchestrator run.
type CycleSummary struct {
	CycleID   string    `json:"cycle_id"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
	Screened  int       `json:"screened"`
	Validated int       `json:"validated"`
	Analyzed  int       `json:"analyzed"`
	Decided   int       `json:"decided"`
	Executed  int       `json:"executed"`
	Skipped   int       `json:"skipped"`
	Errors    int       `json:"errors"`
	Rotation  string    `json:"rotation,omitempty"`
	Fatal     string    `json:"fatal,omitempty"`
}

// State is the on-disk document.
type State struct {
	Version        string                         `json:"version"`
	TradingEnabled bool                           `json:"trading_enabled"`
	PositionRules  map[string]models.PositionRule `json:"position_rules"`
	Cooldowns      map[string]time.Time           `json:"cooldowns"`
	LastCycle      *CycleSummary                  `json:"last_cycle,omitempty"`
	UpdatedAt      time.Time                      `json:"updated_at"`
}

// Store reads and writes State at a fixed path.
type Store struct {
	path   string
	mu     sync.Mutex
	logger *zap.Logger
}

// NewStore creates a store for path.
func NewStore(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, logger: logger}
}

// Load reads the state file. A missing file yields a fresh state with the
// given trading switch, written immediately so the next start finds it.
func (s *Store) Load(defaultEnabled bool) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Info("state file missing, generating template", zap.String("path", s.path))
		st := State{
			Version:        CurrentVersion,
			TradingEnabled: defaultEnabled,
			PositionRules:  map[string]models.PositionRule{},
			Cooldowns:      map[string]time.Time{},
		}
		return st, s.write(st)
	}
	if err != nil {
		return State{}, err
	}

	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		return State{}, fmt.Errorf("decode %s: %w", s.path, err)
	}

	if migrateState(&st, s.logger) {
		s.logger.Info("state migrated, saving", zap.String("version", st.Version))
		if err := s.write(st); err != nil {
			return st, err
		}
	}
	return st, nil
}

// Save writes st atomically.
func (s *Store) Save(st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st.Version = CurrentVersion
	return s.write(st)
}

// migrateState handles schema evolution.
// Returns true if changes were made and the state needs to be saved.
func migrateState(s *State, logger *zap.Logger) bool {
	updated := false

	if s.PositionRules == nil {
		s.PositionRules = map[string]models.PositionRule{}
	}
	if s.Cooldowns == nil {
		s.Cooldowns = map[string]time.Time{}
	}

	// 1.x files came from the manual watcher and carry nothing reusable.
	if s.Version < "2.0" {
		logger.Info("migrating state schema", zap.String("from", s.Version), zap.String("to", "2.0"))
		s.Version = "2.0"
		updated = true
	}

	// 2.0 stored thresholds as fractions (0.05); 2.1 stores percent (5).
	if s.Version < "2.1" {
		logger.Info("migrating state schema", zap.String("from", s.Version), zap.String("to", "2.1"))
		for t, r := range s.PositionRules {
			if r.StopLossPct > 0 && r.StopLossPct < 1 {
				r.StopLossPct *= 100
			}
			if r.TakeProfitPct > 0 && r.TakeProfitPct < 1 {
				r.TakeProfitPct *= 100
			}
			if r.Ticker == "" {
				r.Ticker = t
			}
			s.PositionRules[t] = r
		}
		s.Version = "2.1"
		updated = true
	}

	return updated
}

// write uses an atomic write pattern.
// 1. Write to a temporary file.
// 2. Sync to ensure data is on disk.
// 3. Rename temporary file to destination (atomic operation).
func (s *Store) write(st State) error {
	st.UpdatedAt = time.Now().UTC()
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	// Same directory so the rename stays on one filesystem.
	tmpFile := s.path + ".tmp"
	f, err := os.Create(tmpFile)
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(b); err != nil {
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync temp state file: %w", err)
	}
	// Close explicitly before renaming (essential on Windows)
	f.Close()

	if err := os.Rename(tmpFile, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
