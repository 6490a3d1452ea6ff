// Package report persists scan reports to disk and aggregates statistics
// across scans. The JSON store keeps a bounded history so repeated scans do
// not grow the file without limit.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/mwhitfield/spreadscan/internal/relax"
	"github.com/mwhitfield/spreadscan/internal/scan"
)

// maxHistory bounds the number of retained reports; older ones roll off.
const maxHistory = 50

// Store defines the contract for report persistence.
//
// Implementations must be safe for concurrent use - the dashboard reads
// while the scanner writes.
type Store interface {
	// SaveReport appends a report to the history and persists the store.
	SaveReport(r *scan.Report) error

	// Latest returns the most recent report, or nil when none exist.
	Latest() *scan.Report

	// Get returns the report with the given ID.
	Get(id string) (*scan.Report, bool)

	// Summaries lists the retained reports, newest first.
	Summaries() []Summary

	// Statistics returns the running cross-scan aggregates.
	Statistics() Statistics

	// Load re-reads the store from disk.
	Load() error
}

// Summary is one history entry's headline numbers.
type Summary struct {
	ID          string    `json:"id"`
	GeneratedAt time.Time `json:"generated_at"`
	Symbols     []string  `json:"symbols"`
	Accepted    int       `json:"accepted"`
	Candidates  int       `json:"candidates"`
	Warnings    int       `json:"warnings"`
}

// StrategyStats aggregates one strategy's outcomes across scans.
type StrategyStats struct {
	Scans      int `json:"scans"`
	Candidates int `json:"candidates"`
	Accepted   int `json:"accepted"`
	// Exhausted counts scans where relaxation ran out of steps with the
	// result count still short: a "filters too strict" signal over time.
	Exhausted int `json:"exhausted"`
}

// Statistics aggregates every scan the store has seen, including reports
// that have already rolled off the bounded history.
type Statistics struct {
	TotalScans    int                      `json:"total_scans"`
	TotalAccepted int                      `json:"total_accepted"`
	AvgAccepted   float64                  `json:"avg_accepted"`
	ByStrategy    map[string]StrategyStats `json:"by_strategy"`
	LastScanAt    time.Time                `json:"last_scan_at"`
}

type storeData struct {
	Reports     []*scan.Report `json:"reports"`
	Statistics  Statistics     `json:"statistics"`
	LastUpdated time.Time      `json:"last_updated"`
}

// JSONStore persists reports to a single JSON file with atomic writes.
type JSONStore struct {
	mu       sync.RWMutex
	filepath string
	data     *storeData
}

// Ensure JSONStore implements Store.
var _ Store = (*JSONStore)(nil)

// NewJSONStore opens the store at filepath, loading existing data when the
// file is present.
func NewJSONStore(filepath string) (*JSONStore, error) {
	s := &JSONStore{
		filepath: filepath,
		data: &storeData{
			Statistics: Statistics{ByStrategy: make(map[string]StrategyStats)},
		},
	}
	if _, err := os.Stat(filepath); err == nil {
		if err := s.Load(); err != nil {
			return nil, fmt.Errorf("loading report store: %w", err)
		}
	}
	return s, nil
}

// Load re-reads the store file.
func (s *JSONStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.filepath)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, s.data); err != nil {
		return err
	}
	if s.data.Statistics.ByStrategy == nil {
		s.data.Statistics.ByStrategy = make(map[string]StrategyStats)
	}
	return nil
}

// SaveReport appends the report, updates the aggregates, trims the history,
// and persists.
func (s *JSONStore) SaveReport(r *scan.Report) error {
	if r == nil {
		return fmt.Errorf("nil report")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.Reports = append(s.data.Reports, r)
	if len(s.data.Reports) > maxHistory {
		s.data.Reports = s.data.Reports[len(s.data.Reports)-maxHistory:]
	}
	s.updateStatistics(r)
	return s.save()
}

func (s *JSONStore) updateStatistics(r *scan.Report) {
	stats := &s.data.Statistics
	stats.TotalScans++
	stats.TotalAccepted += len(r.Trades)
	stats.AvgAccepted = float64(stats.TotalAccepted) / float64(stats.TotalScans)
	stats.LastScanAt = r.GeneratedAt

	for _, f := range r.Funnels {
		ss := stats.ByStrategy[f.StrategyID]
		ss.Scans++
		ss.Candidates += f.Candidates
		ss.Accepted += f.Accepted
		if f.RelaxationState == relax.StateExhausted {
			ss.Exhausted++
		}
		stats.ByStrategy[f.StrategyID] = ss
	}
}

// save writes the store under the write lock: temp file then atomic rename,
// so a crash mid-write never corrupts the previous state.
func (s *JSONStore) save() error {
	s.data.LastUpdated = time.Now().UTC()

	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.filepath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.filepath)
}

// Latest returns the most recent report, or nil when none exist.
func (s *JSONStore) Latest() *scan.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.data.Reports) == 0 {
		return nil
	}
	return s.data.Reports[len(s.data.Reports)-1]
}

// Get returns the report with the given ID.
func (s *JSONStore) Get(id string) (*scan.Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.data.Reports {
		if r.ID == id {
			return r, true
		}
	}
	return nil, false
}

// Summaries lists the retained reports, newest first.
func (s *JSONStore) Summaries() []Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Summary, 0, len(s.data.Reports))
	for i := len(s.data.Reports) - 1; i >= 0; i-- {
		r := s.data.Reports[i]
		out = append(out, Summary{
			ID:          r.ID,
			GeneratedAt: r.GeneratedAt,
			Symbols:     r.Symbols,
			Accepted:    len(r.Trades),
			Candidates:  r.Stats.Candidates,
			Warnings:    len(r.Warnings),
		})
	}
	return out
}

// Statistics returns a copy of the running aggregates.
func (s *JSONStore) Statistics() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.data.Statistics
	out.ByStrategy = make(map[string]StrategyStats, len(s.data.Statistics.ByStrategy))
	for k, v := range s.data.Statistics.ByStrategy {
		out.ByStrategy[k] = v
	}
	return out
}
