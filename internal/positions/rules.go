// Package positions keeps the per-ticker exit rules shared by the
// orchestrator (writer on open) and the position monitor (reader).
package positions

import (
	"sync"

	"alpha_autotrader/internal/models"
)

// RuleStore is a mutex-protected ticker -> PositionRule map.
type RuleStore struct {
	mu    sync.RWMutex
	rules map[string]models.PositionRule
}

// NewRuleStore creates an empty store.
func NewRuleStore() *RuleStore {
	return &RuleStore{rules: make(map[string]models.PositionRule)}
}

// Set stores or replaces the rule for rule.Ticker.
func (s *RuleStore) Set(rule models.PositionRule) {
	s.mu.Lock()
	s.rules[rule.Ticker] = rule
	s.mu.Unlock()
}

// Get returns the rule for ticker.
func (s *RuleStore) Get(ticker string) (models.PositionRule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[ticker]
	return r, ok
}

// Delete removes the rule for ticker.
func (s *RuleStore) Delete(ticker string) {
	s.mu.Lock()
	delete(s.rules, ticker)
	s.mu.Unlock()
}

// Snapshot copies every rule.
func (s *RuleStore) Snapshot() map[string]models.PositionRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.PositionRule, len(s.rules))
	for k, v := range s.rules {
		out[k] = v
	}
	return out
}

// Restore replaces the store contents.
func (s *RuleStore) Restore(rules map[string]models.PositionRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = make(map[string]models.PositionRule, len(rules))
	for k, v := range rules {
		if v.Ticker == "" {
			v.Ticker = k
		}
		s.rules[k] = v
	}
}

// Prune drops rules for tickers no longer held.
func (s *RuleStore) Prune(held map[string]bool) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []string
	for t := range s.rules {
		if !held[t] {
			delete(s.rules, t)
			removed = append(removed, t)
		}
	}
	return removed
}
